package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/kquant/internal/execution"
)

// cycleCmd represents the cycle command
var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "트레이딩 사이클 1회 실행",
	Long: `전체 트레이딩 사이클을 1회 실행합니다.

순서 (고정): 청산 신호 실행 → 리스크 점검 (비상 청산 포함) → 진입 신호 실행.
거래 정지(halt) 상태면 진입은 건너뜁니다.

Example:
  go run ./cmd/kquant cycle
  go run ./cmd/kquant cycle --user wonny`,
	RunE: runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}

func runCycle(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx := context.Background()
	userID := app.userID()

	fmt.Printf("Running trading cycle for %s...\n\n", userID)
	report, err := app.engine.RunCycle(ctx, userID)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	printBatch("Exits", report.Exits)
	printBatch("Emergency", report.Emergency)
	printBatch("Entries", report.Entries)

	if report.Risk != nil {
		for _, warning := range report.Risk.Warnings {
			fmt.Printf("⚠️  %s\n", warning)
		}
	}
	if report.Halted {
		fmt.Println("🚨 Trading halted: new entries suppressed")
	}

	fmt.Printf("\nSummary: %d buy / %d sell, net cash flow %s KRW (fees %s)\n",
		report.Summary.Buys, report.Summary.Sells,
		report.Summary.NetCashFlow.StringFixed(0),
		report.Summary.Commission.Add(report.Summary.Tax).StringFixed(0))
	fmt.Printf("Completed in %s\n", report.FinishedAt.Sub(report.StartedAt))
	return nil
}

func printBatch(label string, batch *execution.BatchSummary) {
	if batch == nil {
		return
	}
	fmt.Printf("%s: %d signal(s), %d executed, %d rejected, %d failed\n",
		label, batch.Total, batch.Executed, batch.Rejected, batch.Failed)
	for _, trade := range batch.Trades {
		fmt.Printf("  %s %s %d주 @ %s\n",
			trade.Side, trade.Ticker, trade.ExecutedQty, trade.ExecutedPrice.StringFixed(0))
	}
	for signalID, reason := range batch.Rejections {
		fmt.Printf("  rejected %s: %s\n", signalID, reason)
	}
}

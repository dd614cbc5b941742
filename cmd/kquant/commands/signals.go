package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// signalsCmd represents the signals command
var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "트레이딩 신호 생성 (dry-run)",
	Long: `청산/진입 신호를 생성해 출력합니다. 주문은 실행하지 않습니다.

Example:
  go run ./cmd/kquant signals
  go run ./cmd/kquant signals --user wonny`,
	RunE: runSignals,
}

func init() {
	rootCmd.AddCommand(signalsCmd)
}

func runSignals(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx := context.Background()
	userID := app.userID()

	signals, err := app.engine.GenerateSignals(ctx, userID)
	if err != nil {
		return fmt.Errorf("generate signals: %w", err)
	}

	if len(signals) == 0 {
		fmt.Println("No signals generated")
		return nil
	}

	fmt.Printf("Generated %d signal(s) for %s:\n\n", len(signals), userID)
	for _, sig := range signals {
		fmt.Printf("%-4s %s  %d주 @ %s  conviction=%.1f\n",
			sig.Kind, sig.Ticker, sig.RecommendedShares, sig.CurrentPrice.StringFixed(0), sig.ConvictionScore)
		if sig.ExitReason != "" {
			fmt.Printf("     exit_reason: %s\n", sig.ExitReason)
		}
		for _, reason := range sig.Reasons {
			fmt.Printf("     - %s\n", reason)
		}
	}
	return nil
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// riskCmd represents the risk command
var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "리스크 점검 / 거래 재개",
	Long: `포트폴리오 리스크 지표를 재계산하고 서킷 브레이커를 평가합니다.

check:  지표 갱신 + 한도 평가. 총손실 한도 도달 시 거래 정지 + 전량 청산.
resume: 운영자 조치로 거래 정지를 해제합니다.

Example:
  go run ./cmd/kquant risk check
  go run ./cmd/kquant risk resume --user wonny`,
}

var (
	riskCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "리스크 지표 갱신 + 한도 평가",
		RunE:  runRiskCheckCmd,
	}

	riskResumeCmd = &cobra.Command{
		Use:   "resume",
		Short: "거래 정지 해제 (운영자)",
		RunE:  runRiskResume,
	}
)

func init() {
	rootCmd.AddCommand(riskCmd)
	riskCmd.AddCommand(riskCheckCmd)
	riskCmd.AddCommand(riskResumeCmd)
}

func runRiskCheckCmd(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx := context.Background()
	userID := app.userID()

	result, emergency, err := app.engine.RunRiskCheck(ctx, userID)
	if err != nil {
		return fmt.Errorf("risk check: %w", err)
	}

	m := result.Metrics
	fmt.Printf("Risk metrics for %s:\n", userID)
	fmt.Printf("  Total Value:     %s KRW\n", m.TotalValue.StringFixed(0))
	fmt.Printf("  Cash Balance:    %s KRW\n", m.CashBalance.StringFixed(0))
	fmt.Printf("  Invested:        %s KRW (%d position(s))\n", m.InvestedAmount.StringFixed(0), m.PositionCount)
	fmt.Printf("  Unrealized PnL:  %s KRW\n", m.UnrealizedPnL.StringFixed(0))
	fmt.Printf("  Realized PnL:    %s KRW\n", m.RealizedPnL.StringFixed(0))
	fmt.Printf("  Loss from Init:  %s%%\n", m.TotalLossFromInitialPct.StringFixed(2))
	fmt.Printf("  Drawdown:        %s%% (max %s%%)\n",
		m.CurrentDrawdownPct.StringFixed(2), m.MaxDrawdownPct.StringFixed(2))

	for _, warning := range result.Warnings {
		fmt.Printf("⚠️  %s\n", warning)
	}

	if result.HaltTriggered {
		fmt.Printf("🚨 Circuit breaker tripped: %s\n", m.HaltReason)
		printBatch("Emergency liquidation", emergency)
	} else if m.TradingHalted {
		fmt.Printf("🚨 Trading halted since %s: %s\n",
			m.HaltStartedAt.Format("2006-01-02 15:04:05"), m.HaltReason)
	} else {
		fmt.Println("✅ Trading allowed")
	}
	return nil
}

func runRiskResume(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx := context.Background()
	userID := app.userID()

	if err := app.riskEngine.ResumeTrading(ctx, userID); err != nil {
		return fmt.Errorf("resume trading: %w", err)
	}
	fmt.Printf("✅ Trading resumed for %s\n", userID)
	fmt.Println("포지션 한도와 점수 조건은 다음 사이클부터 다시 평가됩니다")
	return nil
}

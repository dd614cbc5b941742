package commands

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/wonny/kquant/internal/signal"
	"github.com/wonny/kquant/pkg/config"
)

var (
	sizePortfolioValue float64
	sizeAvailableCash  float64
	sizeEntryPrice     float64
	sizeStopLossPrice  float64
	sizeMethod         string
	sizeConviction     float64
	sizeVolatility     float64
	sizeWinRate        float64
	sizeAvgWin         float64
	sizeAvgLoss        float64
)

// positionSizeCmd represents the position-size command
var positionSizeCmd = &cobra.Command{
	Use:   "position-size",
	Short: "포지션 사이징 계산",
	Long: `사이징 방법(fixed_risk, kelly, volatility_adjusted)으로 주문 수량을 계산합니다.

모든 결과는 종목당 최대 비중과 가용 현금으로 캡핑되고,
conviction < 60이면 0주를 반환합니다.

Example:
  go run ./cmd/kquant position-size --portfolio-value 10000000 --cash 5000000 \
    --entry 70000 --stop 63000 --conviction 85
  go run ./cmd/kquant position-size --method kelly --portfolio-value 10000000 \
    --cash 5000000 --entry 70000 --stop 63000 --conviction 85 \
    --win-rate 0.55 --avg-win 0.12 --avg-loss 0.06`,
	RunE: runPositionSize,
}

func init() {
	rootCmd.AddCommand(positionSizeCmd)

	positionSizeCmd.Flags().Float64Var(&sizePortfolioValue, "portfolio-value", 0, "포트폴리오 총 가치 (KRW)")
	positionSizeCmd.Flags().Float64Var(&sizeAvailableCash, "cash", 0, "가용 현금 (KRW)")
	positionSizeCmd.Flags().Float64Var(&sizeEntryPrice, "entry", 0, "진입가 (KRW)")
	positionSizeCmd.Flags().Float64Var(&sizeStopLossPrice, "stop", 0, "손절가 (KRW)")
	positionSizeCmd.Flags().StringVar(&sizeMethod, "method", "fixed_risk", "사이징 방법 (fixed_risk|kelly|volatility_adjusted)")
	positionSizeCmd.Flags().Float64Var(&sizeConviction, "conviction", 0, "확신 점수 (0-100)")
	positionSizeCmd.Flags().Float64Var(&sizeVolatility, "volatility", 0, "30일 연환산 변동성 %, volatility_adjusted용")
	positionSizeCmd.Flags().Float64Var(&sizeWinRate, "win-rate", 0, "승률 (0-1), kelly용")
	positionSizeCmd.Flags().Float64Var(&sizeAvgWin, "avg-win", 0, "평균 수익률 (양수), kelly용")
	positionSizeCmd.Flags().Float64Var(&sizeAvgLoss, "avg-loss", 0, "평균 손실률 (양수), kelly용")

	_ = positionSizeCmd.MarkFlagRequired("portfolio-value")
	_ = positionSizeCmd.MarkFlagRequired("cash")
	_ = positionSizeCmd.MarkFlagRequired("entry")
	_ = positionSizeCmd.MarkFlagRequired("conviction")
}

// runPositionSize is a pure calculation: config only, no backends
func runPositionSize(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return configError(fmt.Errorf("load config: %w", err))
	}
	sizer := signal.NewSizer(cfg.Signals)

	in := signal.SizingInput{
		PortfolioValue: decimal.NewFromFloat(sizePortfolioValue),
		AvailableCash:  decimal.NewFromFloat(sizeAvailableCash),
		EntryPrice:     decimal.NewFromFloat(sizeEntryPrice),
		StopLossPrice:  decimal.NewFromFloat(sizeStopLossPrice),
		Method:         sizeMethod,
		Conviction:     sizeConviction,
	}
	if cmd.Flags().Changed("volatility") {
		in.Volatility30D = &sizeVolatility
	}
	if cmd.Flags().Changed("win-rate") {
		in.Stats = &signal.KellyStats{
			WinRate: sizeWinRate,
			AvgWin:  sizeAvgWin,
			AvgLoss: sizeAvgLoss,
		}
	}

	result, err := sizer.Calculate(in)
	if err != nil {
		return configError(fmt.Errorf("sizing input: %w", err))
	}

	fmt.Printf("Method:             %s\n", sizeMethod)
	fmt.Printf("Recommended Shares: %d주\n", result.RecommendedShares)
	fmt.Printf("Position Value:     %s KRW\n", result.PositionValue.StringFixed(0))
	fmt.Printf("Position Weight:    %s%%\n", result.PositionPct.StringFixed(4))
	for _, note := range result.Notes {
		fmt.Printf("  - %s\n", note)
	}
	return nil
}

package signal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/internal/marketdata"
	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

// DataReader is the read-only market data surface the generator consumes
// (의존성 역전: 구현은 marketdata.Reader)
type DataReader interface {
	LatestScore(ctx context.Context, ticker string) (*contracts.CompositeScore, error)
	LatestSnapshot(ctx context.Context, ticker string) (*contracts.TechnicalSnapshot, error)
	LatestQuote(ctx context.Context, ticker string) (*contracts.Quote, error)
	StockInfo(ctx context.Context, ticker string) (*contracts.Stock, error)
}

// TriggerSource produces trigger-based exit signals for open positions
// (구현은 monitor.Monitor)
type TriggerSource interface {
	EvaluatePositions(ctx context.Context, userID string) ([]*contracts.TradingSignal, error)
}

// EntryFilters narrow the candidate universe before conviction scoring
type EntryFilters struct {
	MinCompositeScore float64
	MinMomentumScore  float64
}

// Kelly 프로파일은 최근 청산 이력에서 산출. 표본이 minKellySample 미만이면
// 전략의 사전 프로파일(승률 55%, 평균 +12%/−8%)로 대체.
const (
	kellyLookback  = 100
	minKellySample = 10
)

var defaultKellyStats = KellyStats{WinRate: 0.55, AvgWin: 12, AvgLoss: 8}

// Generator produces entry and exit trading signals.
// 진입 신호는 후보 티커 입력 순서대로, 청산 신호는 (user, ticker) 순서로 생성.
type Generator struct {
	cfg      config.SignalConfig
	reader   DataReader
	scorer   *ConvictionScorer
	sizer    *Sizer
	store    portfolio.Store
	triggers TriggerSource
	log      *logger.Logger
	now      func() time.Time
}

// NewGenerator wires the signal generator
func NewGenerator(cfg config.SignalConfig, reader DataReader, scorer *ConvictionScorer, sizer *Sizer, store portfolio.Store, triggers TriggerSource, log *logger.Logger) *Generator {
	return &Generator{
		cfg:      cfg,
		reader:   reader,
		scorer:   scorer,
		sizer:    sizer,
		store:    store,
		triggers: triggers,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source (tests)
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// GenerateEntrySignals scores the candidate tickers and produces sized BUY
// signals. 데이터 열화/저신뢰 티커는 스킵하고 경고만 남김 (크래시 금지).
func (g *Generator) GenerateEntrySignals(ctx context.Context, userID string, candidates []string, filters EntryFilters) ([]*contracts.TradingSignal, error) {
	metrics, err := g.store.GetRiskMetrics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load risk metrics: %w", err)
	}

	var stats *KellyStats
	switch g.cfg.SizingMethod {
	case MethodKellyFull, MethodKellyHalf, MethodKellyQuarter:
		stats = g.kellyStats(ctx, userID)
	}

	var signals []*contracts.TradingSignal
	for _, ticker := range candidates {
		// 취소 토큰은 티커 단위 safepoint에서 확인
		if err := ctx.Err(); err != nil {
			return signals, err
		}

		sig, err := g.entrySignal(ctx, ticker, filters, metrics, stats)
		if err != nil {
			if errors.Is(err, marketdata.ErrStaleData) || errors.Is(err, marketdata.ErrNotFound) {
				g.log.WithTicker(ticker).WithError(err).Warn("skipping ticker: data unavailable")
				continue
			}
			return signals, err
		}
		if sig != nil {
			signals = append(signals, sig)
		}
	}
	return signals, nil
}

// kellyStats derives the win/loss profile from recent closed positions.
// 손익비는 실현손익 금액의 비로 계산 (비율의 단위는 약분됨).
func (g *Generator) kellyStats(ctx context.Context, userID string) *KellyStats {
	closed, err := g.store.ClosedPositions(ctx, userID, kellyLookback)
	if err != nil {
		g.log.WithError(err).Warn("closed position history unavailable, using default kelly profile")
		return &defaultKellyStats
	}

	var wins, losses int
	winSum := decimal.Zero
	lossSum := decimal.Zero
	for _, pos := range closed {
		switch pos.RealizedPnL.Sign() {
		case 1:
			wins++
			winSum = winSum.Add(pos.RealizedPnL)
		case -1:
			losses++
			lossSum = lossSum.Add(pos.RealizedPnL.Neg())
		}
	}

	total := wins + losses
	if total < minKellySample || wins == 0 || losses == 0 {
		return &defaultKellyStats
	}

	avgWin, _ := winSum.Div(decimal.NewFromInt(int64(wins))).Float64()
	avgLoss, _ := lossSum.Div(decimal.NewFromInt(int64(losses))).Float64()
	return &KellyStats{
		WinRate: float64(wins) / float64(total),
		AvgWin:  avgWin,
		AvgLoss: avgLoss,
	}
}

func (g *Generator) entrySignal(ctx context.Context, ticker string, filters EntryFilters, metrics *contracts.RiskMetrics, stats *KellyStats) (*contracts.TradingSignal, error) {
	score, err := g.reader.LatestScore(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if score.Composite < filters.MinCompositeScore {
		return nil, nil
	}
	if score.MomentumScore < filters.MinMomentumScore {
		return nil, nil
	}

	snap, err := g.reader.LatestSnapshot(ctx, ticker)
	if err != nil && !errors.Is(err, marketdata.ErrNotFound) {
		return nil, err
	}

	conviction, reasons := g.scorer.Score(score, snap)
	if conviction < g.cfg.MinConvictionScore {
		return nil, nil
	}

	quote, err := g.reader.LatestQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}
	entry := quote.Price

	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	stopLoss := entry.Mul(one.Sub(decimal.NewFromFloat(g.cfg.StopLossPct).Div(hundred)))
	takeProfit := entry.Mul(one.Add(decimal.NewFromFloat(g.cfg.TakeProfitPct).Div(hundred)))

	var vol *float64
	if snap != nil {
		vol = snap.Volatility30D
	}
	sized, err := g.sizer.Calculate(SizingInput{
		PortfolioValue: metrics.TotalValue,
		AvailableCash:  metrics.CashBalance,
		EntryPrice:     entry,
		StopLossPrice:  stopLoss,
		Method:         g.cfg.SizingMethod,
		Conviction:     conviction,
		Volatility30D:  vol,
		Stats:          stats,
	})
	if err != nil {
		return nil, fmt.Errorf("size %s: %w", ticker, err)
	}
	if sized.RecommendedShares == 0 {
		return nil, nil
	}

	orderType := contracts.OrderTypeLimit
	limitPrice := entry.Mul(one.Sub(decimal.NewFromFloat(g.cfg.LimitOrderDiscountPct).Div(hundred)))
	if g.cfg.UseMarketOrders {
		orderType = contracts.OrderTypeMarket
		limitPrice = decimal.Zero
	}

	expectedReturn := takeProfit.Sub(entry).Div(entry).Mul(hundred).Round(4)
	riskReward := 0.0
	if risk, _ := entry.Sub(stopLoss).Float64(); risk > 0 {
		reward, _ := takeProfit.Sub(entry).Float64()
		riskReward = reward / risk
	}

	return &contracts.TradingSignal{
		SignalID:          uuid.NewString(),
		Kind:              contracts.SignalKindEntryBuy,
		Ticker:            ticker,
		GeneratedAt:       g.now().UTC(),
		CurrentPrice:      entry,
		TargetPrice:       takeProfit,
		StopLossPrice:     stopLoss,
		TakeProfitPrice:   takeProfit,
		RecommendedShares: sized.RecommendedShares,
		PositionPct:       sized.PositionPct,
		OrderType:         orderType,
		LimitPrice:        limitPrice,
		ConvictionScore:   conviction,
		Strength:          StrengthOf(conviction),
		Urgency:           contracts.UrgencyNormal,
		Reasons:           append(reasons, sized.Notes...),
		ExpectedReturnPct: expectedReturn,
		RiskRewardRatio:   riskReward,
		IsValid:           true,
	}, nil
}

// GenerateExitSignals combines trigger-based exits from the position monitor
// with fundamental-deterioration exits. (user, ticker) 순서 보장.
func (g *Generator) GenerateExitSignals(ctx context.Context, userID string) ([]*contracts.TradingSignal, error) {
	var signals []*contracts.TradingSignal

	if g.triggers != nil {
		triggered, err := g.triggers.EvaluatePositions(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("evaluate position triggers: %w", err)
		}
		signals = append(signals, triggered...)
	}

	deteriorated, err := g.deteriorationExits(ctx, userID, signals)
	if err != nil {
		return nil, err
	}
	signals = append(signals, deteriorated...)

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Ticker < signals[j].Ticker
	})
	return signals, nil
}

// deteriorationExits emits an exit when the composite score has dropped more
// than the threshold below its value at entry. 이미 청산 신호가 있는 포지션은
// 모니터 트리거가 우선하므로 스킵.
func (g *Generator) deteriorationExits(ctx context.Context, userID string, existing []*contracts.TradingSignal) ([]*contracts.TradingSignal, error) {
	positions, err := g.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	flagged := make(map[string]bool, len(existing))
	for _, s := range existing {
		flagged[s.Ticker] = true
	}

	var out []*contracts.TradingSignal
	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if flagged[pos.Ticker] || pos.CompositeScoreAtEntry == 0 {
			continue
		}

		score, err := g.reader.LatestScore(ctx, pos.Ticker)
		if err != nil {
			if errors.Is(err, marketdata.ErrStaleData) || errors.Is(err, marketdata.ErrNotFound) {
				g.log.WithTicker(pos.Ticker).WithError(err).Warn("skipping deterioration check")
				continue
			}
			return out, err
		}

		drop := pos.CompositeScoreAtEntry - score.Composite
		if drop < g.cfg.ScoreDeteriorationThreshold {
			continue
		}

		out = append(out, &contracts.TradingSignal{
			SignalID:          uuid.NewString(),
			Kind:              contracts.SignalKindExitSell,
			Ticker:            pos.Ticker,
			GeneratedAt:       g.now().UTC(),
			CurrentPrice:      pos.CurrentPrice,
			RecommendedShares: pos.Quantity,
			OrderType:         contracts.OrderTypeMarket,
			Urgency:           contracts.UrgencyNormal,
			ExitReason:        "score_deterioration",
			Reasons: []string{fmt.Sprintf(
				"composite score deteriorated %.1f points since entry (%.1f → %.1f)",
				drop, pos.CompositeScoreAtEntry, score.Composite)},
			IsValid: true,
		})
	}
	return out, nil
}

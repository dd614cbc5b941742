package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/internal/marketdata"
	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

// Exit trigger slugs, order = evaluation priority
const (
	ReasonStopLoss     = "stop_loss"
	ReasonTrailingStop = "trailing_stop"
	ReasonTakeProfit   = "take_profit"
)

// PriceSource is the market data surface the monitor reads
// (구현은 marketdata.Reader)
type PriceSource interface {
	LatestQuote(ctx context.Context, ticker string) (*contracts.Quote, error)
	LatestSnapshot(ctx context.Context, ticker string) (*contracts.TechnicalSnapshot, error)
}

// EventSink receives price events for downstream consumers
// (구현은 redis.Publisher)
type EventSink interface {
	PublishPriceUpdate(ctx context.Context, ticker string, price, changePct float64) error
	PublishSignificantChange(ctx context.Context, ticker string, price, changePct float64) error
	PublishAlert(ctx context.Context, ticker, alertType, message string) error
}

// tick is one position with the price observed for this evaluation pass.
// 틱 시점 스냅샷: 평가 중 가격이 바뀌어도 판정은 이 값으로만.
type tick struct {
	pos   *contracts.Position
	quote *contracts.Quote
	snap  *contracts.TechnicalSnapshot
}

// Monitor walks open positions on each tick, ratchets trailing stops, and
// emits exit signals when a limit trigger fires.
// 트리거 우선순위: stop_loss → trailing_stop → take_profit(가격) → take_profit(기술적).
// 포지션당 최대 1개의 청산 신호만 생성.
type Monitor struct {
	cfg     config.RiskConfig
	signals config.SignalConfig
	store   portfolio.Store
	prices  PriceSource
	events  EventSink
	log     *logger.Logger
	now     func() time.Time
}

// New wires the position monitor. events는 nil 허용 (Redis 비활성 시).
func New(cfg config.RiskConfig, signals config.SignalConfig, store portfolio.Store, prices PriceSource, events EventSink, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		signals: signals,
		store:   store,
		prices:  prices,
		events:  events,
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the time source (tests)
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// EvaluatePositions fetches a price snapshot for every open position,
// updates trailing stops, and returns exit signals for fired triggers.
// signal.TriggerSource 구현. 반환 순서는 티커 오름차순.
func (m *Monitor) EvaluatePositions(ctx context.Context, userID string) ([]*contracts.TradingSignal, error) {
	positions, err := m.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	if len(positions) == 0 {
		return nil, nil
	}

	ticks, err := m.collectTicks(ctx, positions)
	if err != nil {
		return nil, err
	}

	var signals []*contracts.TradingSignal
	for _, tk := range ticks {
		sig, err := m.evaluate(ctx, userID, tk)
		if err != nil {
			return signals, err
		}
		if sig != nil {
			signals = append(signals, sig)
		}
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Ticker < signals[j].Ticker
	})
	return signals, nil
}

// collectTicks fetches quotes and snapshots with bounded parallelism.
// 시세 없는 티커는 경고 후 스킵 (한 종목 장애가 전체 모니터링을 막지 않음).
func (m *Monitor) collectTicks(ctx context.Context, positions []*contracts.Position) ([]*tick, error) {
	parallelism := m.cfg.MonitorParallelism
	if parallelism <= 0 {
		parallelism = 10
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	var mu sync.Mutex
	ticks := make([]*tick, 0, len(positions))

	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			quote, err := m.prices.LatestQuote(gctx, pos.Ticker)
			if err != nil {
				if errors.Is(err, marketdata.ErrNotFound) || errors.Is(err, marketdata.ErrStaleData) {
					m.log.WithTicker(pos.Ticker).WithError(err).Warn("no quote for position, skipping tick")
					return nil
				}
				return fmt.Errorf("quote %s: %w", pos.Ticker, err)
			}

			snap, err := m.prices.LatestSnapshot(gctx, pos.Ticker)
			if err != nil {
				snap = nil // 기술적 익절만 비활성화
			}

			mu.Lock()
			ticks = append(ticks, &tick{pos: pos, quote: quote, snap: snap})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(ticks, func(i, j int) bool { return ticks[i].pos.Ticker < ticks[j].pos.Ticker })
	return ticks, nil
}

// evaluate processes one position tick: publish events, ratchet trailing,
// then check triggers against the updated limits.
func (m *Monitor) evaluate(ctx context.Context, userID string, tk *tick) (*contracts.TradingSignal, error) {
	price := tk.quote.Price
	prev := tk.pos.CurrentPrice

	m.publishTick(ctx, tk.pos.Ticker, price, prev)

	// 고점/트레일링 스탑 래칫 (절대 하향 조정 없음)
	pos, err := m.store.UpdateTrailing(ctx, userID, tk.pos.Ticker, price)
	if err != nil {
		return nil, fmt.Errorf("update trailing %s: %w", tk.pos.Ticker, err)
	}

	reason, detail := m.firedTrigger(pos, price, tk.snap)
	if reason == "" {
		return nil, nil
	}

	m.log.WithFields(map[string]interface{}{
		"ticker":  pos.Ticker,
		"trigger": reason,
		"price":   price.String(),
		"detail":  detail,
	}).Info("exit trigger fired")

	if m.events != nil {
		if err := m.events.PublishAlert(ctx, pos.Ticker, reason, detail); err != nil {
			m.log.WithTicker(pos.Ticker).WithError(err).Warn("alert publish failed")
		}
	}

	// 손절/트레일링은 즉시 시장가 청산. 가격 기반 익절은 급하지 않으므로
	// 목표가 지정가로 청산 (기술적 익절은 현재가가 목표가 미만일 수 있어 시장가 유지).
	urgency := contracts.UrgencyHigh
	orderType := contracts.OrderTypeMarket
	limitPrice := decimal.Zero
	if reason == ReasonTakeProfit {
		urgency = contracts.UrgencyNormal
		if pos.TakeProfitPrice.Sign() > 0 && price.GreaterThanOrEqual(pos.TakeProfitPrice) {
			orderType = contracts.OrderTypeLimit
			limitPrice = pos.TakeProfitPrice
		}
	}

	return &contracts.TradingSignal{
		SignalID:          uuid.NewString(),
		Kind:              contracts.SignalKindExitSell,
		Ticker:            pos.Ticker,
		GeneratedAt:       m.now().UTC(),
		CurrentPrice:      price,
		RecommendedShares: pos.Quantity,
		OrderType:         orderType,
		LimitPrice:        limitPrice,
		Urgency:           urgency,
		Reasons:           []string{detail},
		ExitReason:        reason,
		IsValid:           true,
	}, nil
}

// firedTrigger returns the highest-priority trigger hit by the tick price
func (m *Monitor) firedTrigger(pos *contracts.Position, price decimal.Decimal, snap *contracts.TechnicalSnapshot) (string, string) {
	if pos.StopLossPrice.Sign() > 0 && price.LessThanOrEqual(pos.StopLossPrice) {
		return ReasonStopLoss, fmt.Sprintf("price %s at or below stop loss %s", price, pos.StopLossPrice)
	}
	if pos.TrailingStopEnabled && pos.TrailingStopPrice.Sign() > 0 && price.LessThanOrEqual(pos.TrailingStopPrice) {
		return ReasonTrailingStop, fmt.Sprintf("price %s at or below trailing stop %s (high %s)",
			price, pos.TrailingStopPrice, pos.HighestPriceSincePurchase)
	}
	if pos.TakeProfitPrice.Sign() > 0 && price.GreaterThanOrEqual(pos.TakeProfitPrice) {
		return ReasonTakeProfit, fmt.Sprintf("price %s at or above take profit %s", price, pos.TakeProfitPrice)
	}
	if m.signals.TakeProfitUseTechnical && snap != nil {
		if hit, conditions := technicalTakeProfit(price, snap); hit {
			return ReasonTakeProfit, "technical take profit: " + conditions
		}
	}
	return "", ""
}

// technicalTakeProfit fires when at least 2 of 4 overbought conditions hold:
// RSI > 70, MACD 데드크로스, 볼린저 상단 돌파, SMA20 대비 +10%.
func technicalTakeProfit(price decimal.Decimal, snap *contracts.TechnicalSnapshot) (bool, string) {
	p, _ := price.Float64()
	var hits []string

	if snap.RSI14 != nil && *snap.RSI14 > 70 {
		hits = append(hits, fmt.Sprintf("RSI %.1f > 70", *snap.RSI14))
	}
	if snap.MACD != nil && snap.MACDSignal != nil && *snap.MACD < *snap.MACDSignal {
		hits = append(hits, "MACD below signal line")
	}
	if snap.BollingerUpper != nil && p > *snap.BollingerUpper {
		hits = append(hits, fmt.Sprintf("price above bollinger upper %.0f", *snap.BollingerUpper))
	}
	if snap.SMA20 != nil && *snap.SMA20 > 0 && p >= *snap.SMA20*1.1 {
		hits = append(hits, fmt.Sprintf("price ≥ 110%% of SMA20 %.0f", *snap.SMA20))
	}

	if len(hits) < 2 {
		return false, ""
	}
	joined := hits[0]
	for _, h := range hits[1:] {
		joined += ", " + h
	}
	return true, joined
}

// publishTick emits routine and significant-change price events.
// 발행 실패는 모니터링을 중단시키지 않음 (Redis는 알림 버스일 뿐).
func (m *Monitor) publishTick(ctx context.Context, ticker string, price, prev decimal.Decimal) {
	if m.events == nil {
		return
	}

	p, _ := price.Float64()
	changePct := 0.0
	if prev.Sign() > 0 {
		changePct, _ = price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Float64()
	}

	if err := m.events.PublishPriceUpdate(ctx, ticker, p, changePct); err != nil {
		m.log.WithTicker(ticker).WithError(err).Warn("price event publish failed")
	}

	threshold := m.cfg.SignificantChangePct
	if threshold > 0 && (changePct >= threshold || changePct <= -threshold) {
		if err := m.events.PublishSignificantChange(ctx, ticker, p, changePct); err != nil {
			m.log.WithTicker(ticker).WithError(err).Warn("significant change publish failed")
		}
	}
}

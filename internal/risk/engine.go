package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

// warnFraction: 손실 한도의 80%에서 경고 발령
const warnFraction = 0.8

// 일 단위 지표(일중 손익, 드로다운 지속일)의 날짜 경계는 KST
var seoul = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	return loc
}()

// PriceSource marks positions to market before the rollup
// (구현은 marketdata.Reader)
type PriceSource interface {
	LatestQuote(ctx context.Context, ticker string) (*contracts.Quote, error)
}

// AlertSink receives risk alerts (구현은 redis.Publisher)
type AlertSink interface {
	PublishAlert(ctx context.Context, ticker, alertType, message string) error
}

// CheckResult is the outcome of one risk evaluation pass
type CheckResult struct {
	Metrics          *contracts.RiskMetrics     `json:"metrics"`
	Warnings         []string                   `json:"warnings,omitempty"`
	HaltTriggered    bool                       `json:"halt_triggered"`
	EmergencySignals []*contracts.TradingSignal `json:"emergency_signals,omitempty"`
}

// Engine is the portfolio circuit breaker.
// ⭐ SSOT: halt 플래그의 유일한 작성자. 해제는 명시적 운영자 조치로만.
type Engine struct {
	cfg    config.RiskConfig
	store  portfolio.Store
	prices PriceSource
	alerts AlertSink
	log    *logger.Logger
	now    func() time.Time
}

// New wires the risk engine. prices/alerts는 nil 허용.
func New(cfg config.RiskConfig, store portfolio.Store, prices PriceSource, alerts AlertSink, log *logger.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		prices: prices,
		alerts: alerts,
		log:    log,
		now:    time.Now,
	}
}

// WithClock overrides the time source (tests)
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CheckRisk recomputes the portfolio rollup, persists it, and trips the
// circuit breaker when total loss reaches the ceiling.
// 한도 도달 시: halt 설정 + 전 포지션 emergency_liquidation 신호 생성.
// 매도 경로는 halt 면제이므로 청산 신호는 항상 실행 가능.
func (e *Engine) CheckRisk(ctx context.Context, userID string) (*CheckResult, error) {
	prev, err := e.store.GetRiskMetrics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load risk metrics: %w", err)
	}

	positions, err := e.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	metrics := e.rollup(ctx, prev, positions)
	if err := e.store.SaveRiskMetrics(ctx, metrics); err != nil {
		return nil, fmt.Errorf("save risk metrics: %w", err)
	}

	result := &CheckResult{Metrics: metrics}
	ceiling := decimal.NewFromFloat(e.cfg.MaxTotalLossPct)
	loss := metrics.TotalLossFromInitialPct

	// 경고 구간: 한도의 80% 이상, 한도 미만
	warnAt := ceiling.Mul(decimal.NewFromFloat(warnFraction))
	if loss.GreaterThanOrEqual(warnAt) && loss.LessThan(ceiling) {
		msg := fmt.Sprintf("total loss %s%% approaching ceiling %s%%", loss.StringFixed(2), ceiling.StringFixed(1))
		result.Warnings = append(result.Warnings, msg)
		e.log.WithFields(map[string]interface{}{
			"user_id":  userID,
			"loss_pct": loss.StringFixed(2),
		}).Warn(msg)
		e.publishAlert(ctx, "", "loss_warning", msg)
	}

	maxDD := decimal.NewFromFloat(e.cfg.MaxDrawdownPct)
	if maxDD.Sign() > 0 && metrics.CurrentDrawdownPct.GreaterThanOrEqual(maxDD) {
		msg := fmt.Sprintf("drawdown %s%% at or above limit %s%%",
			metrics.CurrentDrawdownPct.StringFixed(2), maxDD.StringFixed(1))
		result.Warnings = append(result.Warnings, msg)
		e.log.WithUser(userID).Warn(msg)
		e.publishAlert(ctx, "", "drawdown_warning", msg)
	}

	if loss.GreaterThanOrEqual(ceiling) && !prev.TradingHalted {
		if err := e.tripBreaker(ctx, userID, metrics, positions, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// ResumeTrading clears the halt flag. 운영자의 명시적 조치 전용.
func (e *Engine) ResumeTrading(ctx context.Context, userID string) error {
	if err := e.store.ClearHalt(ctx, userID); err != nil {
		return err
	}
	e.log.WithUser(userID).Info("trading halt cleared by operator")
	e.publishAlert(ctx, "", "halt_cleared", "trading resumed by operator")
	return nil
}

// rollup recomputes the portfolio metrics from open positions.
// peak_value와 max_drawdown_pct의 단조성은 Store 저장 계층이 보장.
func (e *Engine) rollup(ctx context.Context, prev *contracts.RiskMetrics, positions []*contracts.Position) *contracts.RiskMetrics {
	invested := decimal.Zero
	unrealized := decimal.Zero
	realized := decimal.Zero
	largest := decimal.Zero

	for _, pos := range positions {
		e.markToMarket(ctx, pos)
		invested = invested.Add(pos.CurrentValue())
		unrealized = unrealized.Add(pos.UnrealizedPnL())
		realized = realized.Add(pos.RealizedPnL)
		if v := pos.CurrentValue(); v.GreaterThan(largest) {
			largest = v
		}
	}

	total := prev.CashBalance.Add(invested)
	peak := prev.PeakValue
	if total.GreaterThan(peak) {
		peak = total
	}

	hundred := decimal.NewFromInt(100)
	drawdown := decimal.Zero
	if peak.Sign() > 0 {
		drawdown = peak.Sub(total).Div(peak).Mul(hundred)
	}
	totalLoss := decimal.Zero
	if prev.InitialCapital.Sign() > 0 {
		totalLoss = prev.InitialCapital.Sub(total).Div(prev.InitialCapital).Mul(hundred)
	}
	largestPct := decimal.Zero
	if total.Sign() > 0 {
		largestPct = largest.Div(total).Mul(hundred)
	}

	now := e.now().UTC()

	// 일중 손익: 같은 날이면 이전 스냅샷의 당일 기준가를 이어받고,
	// 날이 바뀌면 이전 총자산이 새 기준이 된다.
	baseline := prev.TotalValue
	if sameKSTDay(prev.UpdatedAt, now) {
		baseline = prev.TotalValue.Sub(prev.DailyPnL)
	}
	daily := decimal.Zero
	if baseline.Sign() > 0 {
		daily = total.Sub(baseline)
	}

	// 드로다운 지속일: 고점 회복 시 0으로 리셋
	ddDays := 0
	if drawdown.Sign() > 0 && prev.CurrentDrawdownPct.Sign() > 0 {
		ddDays = prev.DrawdownDurationDays + kstDaysBetween(prev.UpdatedAt, now)
	}

	return &contracts.RiskMetrics{
		UserID:                  prev.UserID,
		TotalValue:              total,
		CashBalance:             prev.CashBalance,
		InvestedAmount:          invested,
		PeakValue:               peak,
		InitialCapital:          prev.InitialCapital,
		RealizedPnL:             realized,
		UnrealizedPnL:           unrealized,
		DailyPnL:                daily,
		CurrentDrawdownPct:      drawdown.Round(4),
		MaxDrawdownPct:          drawdown.Round(4),
		DrawdownDurationDays:    ddDays,
		PositionCount:           len(positions),
		LargestPositionPct:      largestPct.Round(4),
		TotalLossFromInitialPct: totalLoss.Round(4),
		UpdatedAt:               now,
	}
}

func sameKSTDay(a, b time.Time) bool {
	ay, am, ad := a.In(seoul).Date()
	by, bm, bd := b.In(seoul).Date()
	return ay == by && am == bm && ad == bd
}

// kstDaysBetween counts KST calendar-day boundaries crossed from a to b
func kstDaysBetween(a, b time.Time) int {
	al := a.In(seoul)
	bl := b.In(seoul)
	ad := time.Date(al.Year(), al.Month(), al.Day(), 0, 0, 0, 0, seoul)
	bd := time.Date(bl.Year(), bl.Month(), bl.Day(), 0, 0, 0, 0, seoul)
	return int(bd.Sub(ad).Hours() / 24)
}

// markToMarket refreshes the position's current price from the latest quote.
// 시세 장애 시 저장된 가격으로 평가 (크래시 금지).
func (e *Engine) markToMarket(ctx context.Context, pos *contracts.Position) {
	if e.prices == nil {
		return
	}
	quote, err := e.prices.LatestQuote(ctx, pos.Ticker)
	if err != nil {
		e.log.WithTicker(pos.Ticker).WithError(err).Warn("mark-to-market using stored price")
		return
	}
	pos.CurrentPrice = quote.Price
}

// tripBreaker halts trading and emits emergency liquidation signals for all
// open positions.
func (e *Engine) tripBreaker(ctx context.Context, userID string, metrics *contracts.RiskMetrics, positions []*contracts.Position, result *CheckResult) error {
	reason := fmt.Sprintf("total loss %s%% reached ceiling %.1f%%",
		metrics.TotalLossFromInitialPct.StringFixed(2), e.cfg.MaxTotalLossPct)

	if err := e.store.SetHalt(ctx, userID, reason); err != nil {
		return fmt.Errorf("set halt: %w", err)
	}
	result.HaltTriggered = true

	e.log.WithFields(map[string]interface{}{
		"user_id":   userID,
		"loss_pct":  metrics.TotalLossFromInitialPct.StringFixed(2),
		"positions": len(positions),
	}).Error("circuit breaker tripped, liquidating all positions")
	e.publishAlert(ctx, "", "trading_halted", reason)

	for _, pos := range positions {
		result.EmergencySignals = append(result.EmergencySignals, &contracts.TradingSignal{
			SignalID:          uuid.NewString(),
			Kind:              contracts.SignalKindEmergencyLiquidation,
			Ticker:            pos.Ticker,
			GeneratedAt:       e.now().UTC(),
			CurrentPrice:      pos.CurrentPrice,
			RecommendedShares: pos.Quantity,
			OrderType:         contracts.OrderTypeMarket,
			Urgency:           contracts.UrgencyCritical,
			Reasons:           []string{reason},
			ExitReason:        "emergency",
			IsValid:           true,
		})
	}
	return nil
}

func (e *Engine) publishAlert(ctx context.Context, ticker, alertType, message string) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.PublishAlert(ctx, ticker, alertType, message); err != nil {
		e.log.WithError(err).Warn("risk alert publish failed")
	}
}

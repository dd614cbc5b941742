package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

// SignalValidator gates signals before execution (구현은 signal.Validator)
type SignalValidator interface {
	Validate(ctx context.Context, userID string, sig *contracts.TradingSignal) (*contracts.ValidationResult, error)
}

// Executor drives a signal through the trade lifecycle:
// PENDING → SUBMITTED → ACCEPTED → FILLED.
// ⭐ SSOT: order-id가 멱등성 키 — 같은 신호의 재실행은 기존 트레이드를 반환.
type Executor struct {
	signals config.SignalConfig
	risk    config.RiskConfig
	broker  Broker
	trades  TradeRepository
	store   portfolio.Store
	log     *logger.Logger
	now     func() time.Time
}

// NewExecutor wires the order executor
func NewExecutor(signals config.SignalConfig, risk config.RiskConfig, broker Broker, trades TradeRepository, store portfolio.Store, log *logger.Logger) *Executor {
	return &Executor{
		signals: signals,
		risk:    risk,
		broker:  broker,
		trades:  trades,
		store:   store,
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the time source (tests)
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// OrderIDFor builds the deterministic order id for a signal.
// ENTRY_{ticker}_{ts} / EXIT_{reason}_{ticker}_{ts}
func (e *Executor) OrderIDFor(sig *contracts.TradingSignal) string {
	at := sig.GeneratedAt
	if at.IsZero() {
		at = e.now().UTC()
	}
	if sig.IsExit() {
		reason := sig.ExitReason
		if reason == "" {
			reason = "exit"
		}
		if sig.Kind == contracts.SignalKindEmergencyLiquidation {
			reason = "emergency"
		}
		return contracts.ExitOrderID(reason, sig.Ticker, at)
	}
	return contracts.EntryOrderID(sig.Ticker, at)
}

// ExecuteSignal submits one signal and applies the resulting fill.
// 같은 order-id의 재실행은 저장된 트레이드를 그대로 반환 (부작용 없음).
func (e *Executor) ExecuteSignal(ctx context.Context, userID string, sig *contracts.TradingSignal) (*contracts.Trade, error) {
	orderID := e.OrderIDFor(sig)

	if existing, err := e.trades.Get(ctx, orderID); err == nil {
		e.log.WithOrder(orderID).WithField("status", existing.Status).
			Info("order already executed, returning recorded trade")
		return existing, nil
	} else if !errors.Is(err, ErrTradeNotFound) {
		return nil, err
	}

	trade := &contracts.Trade{
		OrderID:        orderID,
		Ticker:         sig.Ticker,
		Side:           sig.Side(),
		OrderType:      sig.OrderType,
		RequestedQty:   sig.RecommendedShares,
		RequestedPrice: e.requestedPrice(sig),
		Status:         contracts.TradeStatusPending,
		Reason:         strings.Join(sig.Reasons, "; "),
		Strategy:       string(sig.Kind),
		CreatedAt:      e.now().UTC(),
	}
	if err := e.trades.Create(ctx, trade); err != nil {
		return nil, err
	}

	if err := e.transition(ctx, trade, contracts.TradeStatusSubmitted); err != nil {
		return nil, err
	}

	result, err := e.broker.SubmitOrder(ctx, &OrderRequest{
		ClientOrderID: orderID,
		Ticker:        sig.Ticker,
		Side:          sig.Side(),
		OrderType:     sig.OrderType,
		Quantity:      sig.RecommendedShares,
		LimitPrice:    sig.LimitPrice,
		StopPrice:     sig.StopLossPrice,
	})
	if err != nil {
		// 브로커가 주문을 접수한 뒤 거부/실패한 것으로 기록
		terminal := contracts.TradeStatusFailed
		if errors.Is(err, ErrOrderRejected) {
			terminal = contracts.TradeStatusRejected
		}
		trade.Reason = err.Error()
		if terr := e.transition(ctx, trade, contracts.TradeStatusAccepted); terr != nil {
			return nil, terr
		}
		if terr := e.transition(ctx, trade, terminal); terr != nil {
			return nil, terr
		}
		return trade, err
	}

	if err := e.transition(ctx, trade, contracts.TradeStatusAccepted); err != nil {
		return nil, err
	}

	return e.settle(ctx, userID, sig, trade, result)
}

// settle folds the broker executions into one fill, applies it to the
// portfolio exactly once, and records the final trade state.
func (e *Executor) settle(ctx context.Context, userID string, sig *contracts.TradingSignal, trade *contracts.Trade, result *OrderResult) (*contracts.Trade, error) {
	switch result.Status {
	case contracts.TradeStatusFilled, contracts.TradeStatusPartiallyFilled:
	case contracts.TradeStatusRejected:
		trade.Reason = result.RejectReason
		if err := e.transition(ctx, trade, contracts.TradeStatusRejected); err != nil {
			return nil, err
		}
		return trade, fmt.Errorf("%w: %s", ErrOrderRejected, result.RejectReason)
	default:
		if err := e.transition(ctx, trade, result.Status); err != nil {
			return nil, err
		}
		return trade, nil
	}

	fill := aggregateFill(trade.OrderID, sig.Ticker, sig.Side(), result)
	if fill.Quantity == 0 {
		return nil, fmt.Errorf("order %s reported %s with no executions", trade.OrderID, result.Status)
	}

	// 부분 체결이 선행된 경우에도 포지션 적용은 집계된 단일 체결로 한 번만
	if result.FilledQty < trade.RequestedQty {
		if err := e.transition(ctx, trade, contracts.TradeStatusPartiallyFilled); err != nil {
			return nil, err
		}
	}

	pos, err := e.store.ApplyFill(ctx, userID, fill)
	if err != nil {
		trade.Reason = err.Error()
		if terr := e.failTrade(ctx, trade); terr != nil {
			return nil, terr
		}
		return trade, fmt.Errorf("apply fill %s: %w", trade.OrderID, err)
	}

	// 매수 체결 후 손절/익절/트레일링을 새 평균단가 기준으로 재설정
	if sig.Side() == contracts.OrderSideBuy && pos != nil {
		_, err := e.store.InitializeLimits(ctx, userID, sig.Ticker, portfolio.LimitParams{
			StopLossPct:         decimal.NewFromFloat(e.signals.StopLossPct),
			TakeProfitPct:       decimal.NewFromFloat(e.signals.TakeProfitPct),
			TrailingEnabled:     e.risk.TrailingDistancePct > 0,
			TrailingDistancePct: decimal.NewFromFloat(e.risk.TrailingDistancePct),
			CompositeScore:      sig.ConvictionScore,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize limits %s: %w", sig.Ticker, err)
		}
	}

	trade.ExecutedQty = result.FilledQty
	trade.ExecutedPrice = result.AvgFillPrice
	trade.TotalAmount = fill.GrossAmount()
	trade.Commission = fill.Commission
	trade.Tax = fill.Tax
	at := fill.FilledAt
	trade.ExecutedAt = &at

	if trade.Status != contracts.TradeStatusFilled {
		if err := e.transition(ctx, trade, contracts.TradeStatusFilled); err != nil {
			return nil, err
		}
	}

	e.log.WithOrder(trade.OrderID).WithTicker(trade.Ticker).WithFields(map[string]interface{}{
		"side":  trade.Side,
		"qty":   trade.ExecutedQty,
		"price": trade.ExecutedPrice.String(),
		"fees":  trade.Commission.Add(trade.Tax).String(),
	}).Info("trade settled")

	return trade, nil
}

// BatchSummary reports the outcome of one execution batch
type BatchSummary struct {
	Total      int                `json:"total"`
	Executed   int                `json:"executed"`
	Rejected   int                `json:"rejected"`
	Failed     int                `json:"failed"`
	Trades     []*contracts.Trade `json:"trades"`
	Rejections map[string]string  `json:"rejections,omitempty"` // signal_id → reason
}

// ExecuteBatch validates and executes a batch of signals, exits before
// entries. 개별 실패는 배치를 중단시키지 않음.
func (e *Executor) ExecuteBatch(ctx context.Context, userID string, validator SignalValidator, signals []*contracts.TradingSignal) (*BatchSummary, error) {
	summary := &BatchSummary{
		Total:      len(signals),
		Rejections: make(map[string]string),
	}

	ordered := make([]*contracts.TradingSignal, 0, len(signals))
	for _, s := range signals {
		if s.IsExit() {
			ordered = append(ordered, s)
		}
	}
	for _, s := range signals {
		if !s.IsExit() {
			ordered = append(ordered, s)
		}
	}

	for _, sig := range ordered {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if validator != nil {
			res, err := validator.Validate(ctx, userID, sig)
			if err != nil {
				return summary, fmt.Errorf("validate %s: %w", sig.Ticker, err)
			}
			if !res.IsValid {
				summary.Rejected++
				summary.Rejections[sig.SignalID] = res.Reason
				e.log.WithFields(map[string]interface{}{
					"ticker": sig.Ticker,
					"kind":   sig.Kind,
					"reason": res.Reason,
				}).Warn("signal rejected by validator")
				continue
			}
		}

		trade, err := e.ExecuteSignal(ctx, userID, sig)
		if err != nil {
			summary.Failed++
			e.log.WithFields(map[string]interface{}{
				"ticker": sig.Ticker,
				"kind":   sig.Kind,
			}).WithError(err).Error("signal execution failed")
			if trade != nil {
				summary.Trades = append(summary.Trades, trade)
			}
			continue
		}
		summary.Executed++
		summary.Trades = append(summary.Trades, trade)
	}

	return summary, nil
}

// --- internal helpers ---

func (e *Executor) requestedPrice(sig *contracts.TradingSignal) decimal.Decimal {
	if sig.OrderType == contracts.OrderTypeLimit {
		return sig.LimitPrice
	}
	return sig.CurrentPrice
}

// transition enforces the lifecycle graph and persists the new status
func (e *Executor) transition(ctx context.Context, trade *contracts.Trade, to contracts.TradeStatus) error {
	if err := trade.Transition(to); err != nil {
		return err
	}
	switch to {
	case contracts.TradeStatusCancelled, contracts.TradeStatusExpired:
		at := e.now().UTC()
		trade.CancelledAt = &at
	}
	return e.trades.Update(ctx, trade)
}

// failTrade drives a trade to FAILED from wherever it legally can
func (e *Executor) failTrade(ctx context.Context, trade *contracts.Trade) error {
	if trade.Status == contracts.TradeStatusSubmitted {
		if err := e.transition(ctx, trade, contracts.TradeStatusAccepted); err != nil {
			return err
		}
	}
	if trade.Status.IsTerminal() {
		return nil
	}
	return e.transition(ctx, trade, contracts.TradeStatusFailed)
}

// aggregateFill collapses all broker executions into a single fill so the
// portfolio store sees exactly one application per order-id.
func aggregateFill(orderID, ticker string, side contracts.OrderSide, result *OrderResult) *contracts.Fill {
	var (
		qty        int64
		gross      decimal.Decimal
		commission decimal.Decimal
		tax        decimal.Decimal
		last       time.Time
		execID     string
	)
	for _, ex := range result.Executions {
		qty += ex.Quantity
		gross = gross.Add(ex.Price.Mul(decimal.NewFromInt(ex.Quantity)))
		commission = commission.Add(ex.Commission)
		tax = tax.Add(ex.Tax)
		if ex.FilledAt.After(last) {
			last = ex.FilledAt
		}
		if execID == "" {
			execID = ex.ExecutionID
		}
	}

	avg := result.AvgFillPrice
	if qty > 0 && avg.Sign() == 0 {
		avg = gross.Div(decimal.NewFromInt(qty)).Round(2)
	}

	return &contracts.Fill{
		ExecutionID: execID,
		OrderID:     orderID,
		Ticker:      ticker,
		Side:        side,
		Quantity:    qty,
		Price:       avg,
		Commission:  commission,
		Tax:         tax,
		FilledAt:    last,
	}
}

package contracts

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the order pricing mode
type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "STOP_LOSS"
)

// TradeStatus represents the lifecycle state of a trade
type TradeStatus string

const (
	TradeStatusPending         TradeStatus = "PENDING"
	TradeStatusSubmitted       TradeStatus = "SUBMITTED"
	TradeStatusAccepted        TradeStatus = "ACCEPTED"
	TradeStatusPartiallyFilled TradeStatus = "PARTIALLY_FILLED"
	TradeStatusFilled          TradeStatus = "FILLED"
	TradeStatusCancelled       TradeStatus = "CANCELLED"
	TradeStatusRejected        TradeStatus = "REJECTED"
	TradeStatusExpired         TradeStatus = "EXPIRED"
	TradeStatusFailed          TradeStatus = "FAILED"
)

// ErrInvalidTransition is returned when a trade status change is not in the
// lifecycle graph. 터미널 상태에서의 전이 시도는 모두 여기에 해당.
var ErrInvalidTransition = errors.New("invalid trade status transition")

// 허용되는 상태 전이만 나열. 여기 없으면 전부 거부.
var allowedTransitions = map[TradeStatus][]TradeStatus{
	TradeStatusPending:   {TradeStatusSubmitted},
	TradeStatusSubmitted: {TradeStatusAccepted},
	TradeStatusAccepted: {
		TradeStatusFilled,
		TradeStatusPartiallyFilled,
		TradeStatusCancelled,
		TradeStatusRejected,
		TradeStatusExpired,
		TradeStatusFailed,
	},
	TradeStatusPartiallyFilled: {TradeStatusPartiallyFilled, TradeStatusFilled},
}

// CanTransition reports whether from → to is a permitted lifecycle edge
func CanTransition(from, to TradeStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status permits no further transitions
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeStatusFilled, TradeStatusCancelled, TradeStatusRejected,
		TradeStatusExpired, TradeStatusFailed:
		return true
	}
	return false
}

// Trade is the persisted order record. OrderID doubles as the idempotency key.
type Trade struct {
	OrderID        string          `json:"order_id"`
	Ticker         string          `json:"ticker"`
	Side           OrderSide       `json:"side"`
	OrderType      OrderType       `json:"order_type"`
	RequestedQty   int64           `json:"requested_qty"`
	RequestedPrice decimal.Decimal `json:"requested_price"`
	ExecutedQty    int64           `json:"executed_qty"` // 단조 증가
	ExecutedPrice  decimal.Decimal `json:"executed_price"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Commission     decimal.Decimal `json:"commission"`
	Tax            decimal.Decimal `json:"tax"`
	Status         TradeStatus     `json:"status"`
	Reason         string          `json:"reason"`
	Strategy       string          `json:"strategy"`
	CreatedAt      time.Time       `json:"created_at"`
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

// Transition moves the trade to the next status, enforcing the lifecycle graph
func (t *Trade) Transition(to TradeStatus) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s → %s (order %s)", ErrInvalidTransition, t.Status, to, t.OrderID)
	}
	t.Status = to
	return nil
}

// RemainingQty returns the unfilled quantity
func (t *Trade) RemainingQty() int64 {
	return t.RequestedQty - t.ExecutedQty
}

// Fill is one execution applied to a position
type Fill struct {
	ExecutionID string          `json:"execution_id"`
	OrderID     string          `json:"order_id"` // 멱등성 키
	Ticker      string          `json:"ticker"`
	Side        OrderSide       `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	Tax         decimal.Decimal `json:"tax"`
	FilledAt    time.Time       `json:"filled_at"`
}

// GrossAmount returns quantity × price
func (f *Fill) GrossAmount() decimal.Decimal {
	return f.Price.Mul(decimal.NewFromInt(f.Quantity))
}

// NetAmount returns the cash impact of the fill.
// BUY: 원금 + 수수료, SELL: 원금 − 수수료 − 세금
func (f *Fill) NetAmount() decimal.Decimal {
	gross := f.GrossAmount()
	if f.Side == OrderSideBuy {
		return gross.Add(f.Commission).Add(f.Tax)
	}
	return gross.Sub(f.Commission).Sub(f.Tax)
}

const orderIDTimeLayout = "20060102_150405"

// EntryOrderID builds the idempotency key for an entry order:
// ENTRY_{ticker}_{yyyyMMdd}_{HHmmss}
func EntryOrderID(ticker string, t time.Time) string {
	return fmt.Sprintf("ENTRY_%s_%s", ticker, t.Format(orderIDTimeLayout))
}

// ExitOrderID builds the idempotency key for an exit order:
// EXIT_{reason}_{ticker}_{yyyyMMdd}_{HHmmss}
func ExitOrderID(reason, ticker string, t time.Time) string {
	return fmt.Sprintf("EXIT_%s_%s_%s", reason, ticker, t.Format(orderIDTimeLayout))
}

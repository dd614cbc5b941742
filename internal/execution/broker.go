package execution

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
)

var (
	// ErrOrderNotFound means the broker has no order with that id
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderRejected carries the broker's rejection
	ErrOrderRejected = errors.New("order rejected")
)

// OrderRequest is what the executor hands to a broker
type OrderRequest struct {
	ClientOrderID string // 멱등성 키 (ENTRY_.../EXIT_...)
	Ticker        string
	Side          contracts.OrderSide
	OrderType     contracts.OrderType
	Quantity      int64
	LimitPrice    decimal.Decimal // LIMIT일 때만
	StopPrice     decimal.Decimal // STOP_LOSS일 때만
}

// Validate rejects structurally impossible requests at the boundary
func (r *OrderRequest) Validate() error {
	if err := contracts.ValidateTicker(r.Ticker); err != nil {
		return err
	}
	if r.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if r.OrderType == contracts.OrderTypeLimit && r.LimitPrice.Sign() <= 0 {
		return errors.New("limit order requires a positive limit price")
	}
	if r.OrderType == contracts.OrderTypeStopLoss && r.StopPrice.Sign() <= 0 {
		return errors.New("stop order requires a positive stop price")
	}
	return nil
}

// OrderResult is the broker's view of an order after submission
type OrderResult struct {
	OrderID      string
	Status       contracts.TradeStatus
	FilledQty    int64
	AvgFillPrice decimal.Decimal
	Executions   []contracts.Fill
	RejectReason string
}

// Broker is the narrow capability interface the executor depends on.
// Paper와 실계좌 브로커가 태그된 변형으로 구현 (의존성 역전).
type Broker interface {
	SubmitOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	QueryOrder(ctx context.Context, orderID string) (*OrderResult, error)
	GetPosition(ctx context.Context, ticker string) (int64, error)
	GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

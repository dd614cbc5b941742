package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the persistent (user, ticker) holding including its exit limits
// ⭐ SSOT: 포지션 상태 변경은 Portfolio Store 트랜잭션을 통해서만
type Position struct {
	UserID string `json:"user_id"`
	Ticker string `json:"ticker"`

	Quantity       int64           `json:"quantity"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	InvestedAmount decimal.Decimal `json:"invested_amount"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`

	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	StopLossPct     decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	TakeProfitPct   decimal.Decimal `json:"take_profit_pct"`

	TrailingStopEnabled       bool            `json:"trailing_stop_enabled"`
	TrailingStopDistancePct   decimal.Decimal `json:"trailing_stop_distance_pct"`
	TrailingStopPrice         decimal.Decimal `json:"trailing_stop_price"` // 단조 비감소
	HighestPriceSincePurchase decimal.Decimal `json:"highest_price_since_purchase"`

	CompositeScoreAtEntry float64 `json:"composite_score_at_entry"`

	FirstPurchaseAt   time.Time  `json:"first_purchase_at"`
	LastTransactionAt time.Time  `json:"last_transaction_at"`
	ArchivedAt        *time.Time `json:"archived_at,omitempty"` // 전량 청산 시각, 삭제 대신 보존
}

// CurrentValue returns quantity × current price
func (p *Position) CurrentValue() decimal.Decimal {
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// CostBasis returns quantity × average price
func (p *Position) CostBasis() decimal.Decimal {
	return p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL returns current value minus cost basis
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentValue().Sub(p.CostBasis())
}

// UnrealizedPnLPct returns the unrealized P&L as a percentage of cost basis
func (p *Position) UnrealizedPnLPct() decimal.Decimal {
	basis := p.CostBasis()
	if basis.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL().Div(basis).Mul(decimal.NewFromInt(100))
}

// IsOpen reports whether the position still holds shares
func (p *Position) IsOpen() bool {
	return p.Quantity > 0 && p.ArchivedAt == nil
}

// RiskMetrics is the per-user portfolio rollup maintained by the risk engine
type RiskMetrics struct {
	UserID string `json:"user_id"`

	TotalValue     decimal.Decimal `json:"total_value"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	InvestedAmount decimal.Decimal `json:"invested_amount"`
	PeakValue      decimal.Decimal `json:"peak_value"` // 실행 중 단조 비감소
	InitialCapital decimal.Decimal `json:"initial_capital"`

	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`

	CurrentDrawdownPct   decimal.Decimal `json:"current_drawdown_pct"`
	MaxDrawdownPct       decimal.Decimal `json:"max_drawdown_pct"`
	DrawdownDurationDays int             `json:"drawdown_duration_days"`

	PositionCount           int             `json:"position_count"`
	LargestPositionPct      decimal.Decimal `json:"largest_position_pct"`
	TotalLossFromInitialPct decimal.Decimal `json:"total_loss_from_initial_pct"`

	TradingHalted bool       `json:"trading_halted"`
	HaltReason    string     `json:"halt_reason,omitempty"`
	HaltStartedAt *time.Time `json:"halt_started_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalKind distinguishes entries, ordinary exits, and circuit-breaker exits
type SignalKind string

const (
	SignalKindEntryBuy             SignalKind = "entry_buy"
	SignalKindExitSell             SignalKind = "exit_sell"
	SignalKindEmergencyLiquidation SignalKind = "emergency_liquidation"
)

// Urgency represents how quickly a signal should be acted on
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// SignalStrength buckets conviction into coarse grades
type SignalStrength string

const (
	StrengthWeak     SignalStrength = "weak"
	StrengthModerate SignalStrength = "moderate"
	StrengthStrong   SignalStrength = "strong"
)

// TradingSignal is an ephemeral, in-memory instruction to enter or exit a
// position. 검증을 통과하기 전에는 절대 영속화하지 않음.
type TradingSignal struct {
	SignalID    string     `json:"signal_id"`
	Kind        SignalKind `json:"kind"`
	Ticker      string     `json:"ticker"`
	GeneratedAt time.Time  `json:"generated_at"`

	CurrentPrice    decimal.Decimal `json:"current_price"`
	TargetPrice     decimal.Decimal `json:"target_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`

	RecommendedShares int64           `json:"recommended_shares"`
	PositionPct       decimal.Decimal `json:"position_pct"`

	OrderType  OrderType       `json:"order_type"`
	LimitPrice decimal.Decimal `json:"limit_price"`

	ConvictionScore float64        `json:"conviction_score"`
	Strength        SignalStrength `json:"signal_strength"`
	Urgency         Urgency        `json:"urgency"`
	Reasons         []string       `json:"reasons"`
	ExitReason      string         `json:"exit_reason,omitempty"` // stop_loss, trailing_stop, take_profit, score_deterioration, emergency

	ExpectedReturnPct decimal.Decimal `json:"expected_return_pct"`
	RiskRewardRatio   float64         `json:"risk_reward_ratio"`

	IsValid bool `json:"is_valid"`
}

// IsExit reports whether the signal reduces exposure
func (s *TradingSignal) IsExit() bool {
	return s.Kind == SignalKindExitSell || s.Kind == SignalKindEmergencyLiquidation
}

// Side maps the signal kind to an order side
func (s *TradingSignal) Side() OrderSide {
	if s.IsExit() {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ValidationResult is the structured outcome of signal validation.
// 거부 시 reason과 함께 통과 가능한 최대 수량(suggested_quantity)을 제안.
type ValidationResult struct {
	IsValid           bool     `json:"is_valid"`
	Reason            string   `json:"reason,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	SuggestedQuantity *int64   `json:"suggested_quantity,omitempty"`
}

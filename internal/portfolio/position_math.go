package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
)

var (
	// ErrPositionNotFound means no open position exists for (user, ticker)
	ErrPositionNotFound = errors.New("position not found")

	// ErrOversell means a SELL fill exceeds the held quantity
	ErrOversell = errors.New("sell quantity exceeds position")
)

var hundred = decimal.NewFromInt(100)

// LimitParams sets stop/take/trailing relative to a position's average price
type LimitParams struct {
	StopLossPct         decimal.Decimal
	TakeProfitPct       decimal.Decimal
	TrailingEnabled     bool
	TrailingDistancePct decimal.Decimal
	CompositeScore      float64 // 진입 시점 종합 점수 (악화 감지 기준선)
}

// applyBuy folds a BUY fill into pos (pos == nil opens a new position).
// 평균단가 = (old_qty·old_avg + fill_qty·fill_price) / (old_qty + fill_qty)
func applyBuy(pos *contracts.Position, userID string, fill *contracts.Fill) *contracts.Position {
	if pos == nil {
		return &contracts.Position{
			UserID:                    userID,
			Ticker:                    fill.Ticker,
			Quantity:                  fill.Quantity,
			AvgPrice:                  fill.Price,
			CurrentPrice:              fill.Price,
			InvestedAmount:            fill.GrossAmount(),
			HighestPriceSincePurchase: fill.Price,
			FirstPurchaseAt:           fill.FilledAt,
			LastTransactionAt:         fill.FilledAt,
		}
	}

	oldQty := decimal.NewFromInt(pos.Quantity)
	fillQty := decimal.NewFromInt(fill.Quantity)
	newQty := oldQty.Add(fillQty)

	pos.AvgPrice = oldQty.Mul(pos.AvgPrice).Add(fillQty.Mul(fill.Price)).Div(newQty)
	pos.Quantity += fill.Quantity
	pos.CurrentPrice = fill.Price
	pos.InvestedAmount = pos.InvestedAmount.Add(fill.GrossAmount())
	pos.LastTransactionAt = fill.FilledAt
	if fill.Price.GreaterThan(pos.HighestPriceSincePurchase) {
		pos.HighestPriceSincePurchase = fill.Price
	}
	return pos
}

// applySell folds a SELL fill into pos, banking realized P&L net of fees.
// 실현손익 = (체결가 − 평균단가)·수량 − 수수료 − 세금. 평균단가는 유지.
// 수량이 0이 되면 아카이브 (삭제하지 않음).
func applySell(pos *contracts.Position, fill *contracts.Fill) error {
	if pos == nil || pos.Quantity == 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, fill.Ticker)
	}
	if fill.Quantity > pos.Quantity {
		return fmt.Errorf("%w: %s sell %d > held %d", ErrOversell, fill.Ticker, fill.Quantity, pos.Quantity)
	}

	fillQty := decimal.NewFromInt(fill.Quantity)
	realized := fill.Price.Sub(pos.AvgPrice).Mul(fillQty).Sub(fill.Commission).Sub(fill.Tax)

	pos.Quantity -= fill.Quantity
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.CurrentPrice = fill.Price
	pos.InvestedAmount = pos.InvestedAmount.Sub(pos.AvgPrice.Mul(fillQty))
	pos.LastTransactionAt = fill.FilledAt

	if pos.Quantity == 0 {
		at := fill.FilledAt
		pos.ArchivedAt = &at
	}
	return nil
}

// applyLimits recomputes stop/take from the average price and seeds the
// trailing baseline. 추가 매수 후 재호출돼도 highest/trailing은 래칫:
// 보유 중(quantity > 0)에는 절대 내려가지 않는다.
func applyLimits(pos *contracts.Position, p LimitParams) {
	pos.StopLossPct = p.StopLossPct
	pos.StopLossPrice = pos.AvgPrice.Mul(decimal.NewFromInt(1).Sub(p.StopLossPct.Div(hundred)))
	pos.TakeProfitPct = p.TakeProfitPct
	pos.TakeProfitPrice = pos.AvgPrice.Mul(decimal.NewFromInt(1).Add(p.TakeProfitPct.Div(hundred)))
	pos.TrailingStopEnabled = p.TrailingEnabled
	pos.TrailingStopDistancePct = p.TrailingDistancePct
	if pos.AvgPrice.GreaterThan(pos.HighestPriceSincePurchase) {
		pos.HighestPriceSincePurchase = pos.AvgPrice
	}
	if p.CompositeScore > 0 {
		pos.CompositeScoreAtEntry = p.CompositeScore
	}
	if p.TrailingEnabled {
		trail := pos.HighestPriceSincePurchase.Mul(decimal.NewFromInt(1).Sub(p.TrailingDistancePct.Div(hundred)))
		if trail.GreaterThan(pos.TrailingStopPrice) {
			pos.TrailingStopPrice = trail
		}
	}
}

// applyTrailing ratchets the high-water mark and trailing stop upward.
// trailing_stop_price는 절대 내려가지 않음. 변경 여부를 반환.
func applyTrailing(pos *contracts.Position, lastPrice decimal.Decimal) bool {
	pos.CurrentPrice = lastPrice

	if !pos.TrailingStopEnabled {
		return false
	}
	if !lastPrice.GreaterThan(pos.HighestPriceSincePurchase) {
		return false
	}

	pos.HighestPriceSincePurchase = lastPrice
	candidate := lastPrice.Mul(decimal.NewFromInt(1).Sub(pos.TrailingStopDistancePct.Div(hundred)))
	if candidate.GreaterThan(pos.TrailingStopPrice) {
		pos.TrailingStopPrice = candidate
	}
	return true
}

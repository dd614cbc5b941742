package execution

import (
	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/config"
)

// FeeSchedule holds the KRX fee rates for one market. 카탈로그는 데이터.
type FeeSchedule struct {
	CommissionRate decimal.Decimal // 매수/매도 공통
	SellTaxRate    decimal.Decimal // 증권거래세 (매도)
	SurtaxRate     decimal.Decimal // 농어촌특별세 (거래세의 %)
}

var (
	defaultCommissionRate = decimal.NewFromFloat(0.00015) // 0.015%
	kospiSellTaxRate      = decimal.NewFromFloat(0.0023)  // 0.23%
	konexSellTaxRate      = decimal.NewFromFloat(0.0010)  // 0.10%
	surtaxOfTaxRate       = decimal.NewFromFloat(0.15)    // 거래세의 15%
)

// Calculator computes commissions, taxes, and derived prices.
// ⭐ SSOT: 모든 수수료/세금 계산은 여기서만. 원 단위 반올림은 컴포넌트별
// round-half-away-from-zero.
type Calculator struct {
	commissionRate decimal.Decimal
}

// NewCalculator builds a calculator with the configured commission rate
func NewCalculator(cfg config.ExecutionConfig) *Calculator {
	rate := decimal.NewFromFloat(cfg.CommissionRatePct).Div(decimal.NewFromInt(100))
	if rate.Sign() <= 0 {
		rate = defaultCommissionRate
	}
	return &Calculator{commissionRate: rate}
}

// ScheduleFor returns the fee schedule for a market
func (c *Calculator) ScheduleFor(market contracts.Market) FeeSchedule {
	taxRate := kospiSellTaxRate
	if market == contracts.MarketKONEX {
		taxRate = konexSellTaxRate
	}
	return FeeSchedule{
		CommissionRate: c.commissionRate,
		SellTaxRate:    taxRate,
		SurtaxRate:     surtaxOfTaxRate,
	}
}

// Commission returns the commission for one side of a trade, in whole KRW
func (c *Calculator) Commission(qty int64, price decimal.Decimal) decimal.Decimal {
	gross := price.Mul(decimal.NewFromInt(qty))
	return gross.Mul(c.commissionRate).Round(0)
}

// SellTaxes returns (transaction tax, surtax) for a sell, in whole KRW.
// 농특세는 반올림된 거래세의 15%.
func (c *Calculator) SellTaxes(market contracts.Market, qty int64, price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	sched := c.ScheduleFor(market)
	gross := price.Mul(decimal.NewFromInt(qty))
	tax := gross.Mul(sched.SellTaxRate).Round(0)
	surtax := tax.Mul(sched.SurtaxRate).Round(0)
	return tax, surtax
}

// EstimateFees returns total fees for one side of an order.
// signal.FeeEstimator 구현.
func (c *Calculator) EstimateFees(market contracts.Market, side contracts.OrderSide, qty int64, price decimal.Decimal) decimal.Decimal {
	total := c.Commission(qty, price)
	if side == contracts.OrderSideSell {
		tax, surtax := c.SellTaxes(market, qty, price)
		total = total.Add(tax).Add(surtax)
	}
	return total
}

// RoundTripCost returns buy commission + sell commission + tax + surtax
func (c *Calculator) RoundTripCost(market contracts.Market, qty int64, buyPrice, sellPrice decimal.Decimal) decimal.Decimal {
	buyFees := c.EstimateFees(market, contracts.OrderSideBuy, qty, buyPrice)
	sellFees := c.EstimateFees(market, contracts.OrderSideSell, qty, sellPrice)
	return buyFees.Add(sellFees)
}

// NetPnL returns (sell − buy)·qty − round_trip_cost
func (c *Calculator) NetPnL(market contracts.Market, qty int64, buyPrice, sellPrice decimal.Decimal) decimal.Decimal {
	gross := sellPrice.Sub(buyPrice).Mul(decimal.NewFromInt(qty))
	return gross.Sub(c.RoundTripCost(market, qty, buyPrice, sellPrice))
}

// BreakevenPrice returns the sell price at which a position bought at
// buyPrice nets zero after all fees.
// S·(1 − c − t·(1+s)) = P·(1 + c)
func (c *Calculator) BreakevenPrice(market contracts.Market, buyPrice decimal.Decimal) decimal.Decimal {
	sched := c.ScheduleFor(market)
	one := decimal.NewFromInt(1)

	sellDrag := one.Sub(sched.CommissionRate).Sub(sched.SellTaxRate.Mul(one.Add(sched.SurtaxRate)))
	return buyPrice.Mul(one.Add(sched.CommissionRate)).Div(sellDrag).Round(2)
}

// MaxSharesForCash returns the largest quantity affordable within cash,
// 매수 수수료 포함
func (c *Calculator) MaxSharesForCash(cash, price decimal.Decimal) int64 {
	if cash.Sign() <= 0 || price.Sign() <= 0 {
		return 0
	}
	perShare := price.Mul(decimal.NewFromInt(1).Add(c.commissionRate))
	return cash.Div(perShare).IntPart()
}

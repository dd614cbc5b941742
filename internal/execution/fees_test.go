package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/config"
)

func testCalculator() *Calculator {
	return NewCalculator(config.ExecutionConfig{CommissionRatePct: 0.015})
}

func TestKospiRoundTripFees(t *testing.T) {
	// 10주 매수 @70,000 → 매도 @75,000 (KOSPI)
	c := testCalculator()
	buy := decimal.NewFromInt(70_000)
	sell := decimal.NewFromInt(75_000)

	buyComm := c.Commission(10, buy)
	assert.True(t, buyComm.Equal(decimal.NewFromInt(105)), "buy commission = %s", buyComm)

	// 750,000 × 0.015% = 112.5 → 113
	sellComm := c.Commission(10, sell)
	assert.True(t, sellComm.Equal(decimal.NewFromInt(113)), "sell commission = %s", sellComm)

	tax, surtax := c.SellTaxes(contracts.MarketKOSPI, 10, sell)
	assert.True(t, tax.Equal(decimal.NewFromInt(1725)), "tax = %s", tax)
	// 1,725 × 15% = 258.75 → 259
	assert.True(t, surtax.Equal(decimal.NewFromInt(259)), "surtax = %s", surtax)

	total := c.RoundTripCost(contracts.MarketKOSPI, 10, buy, sell)
	assert.True(t, total.Equal(decimal.NewFromInt(2202)), "round trip = %s", total)

	net := c.NetPnL(contracts.MarketKOSPI, 10, buy, sell)
	assert.True(t, net.Equal(decimal.NewFromInt(47_798)), "net pnl = %s", net)

	// net_pnl_pct ≈ 6.83% (원금 700,000 기준)
	pct, _ := net.Div(decimal.NewFromInt(700_000)).Mul(decimal.NewFromInt(100)).Float64()
	assert.InDelta(t, 6.83, pct, 0.005)
}

func TestKonexSellTaxRate(t *testing.T) {
	c := testCalculator()
	sell := decimal.NewFromInt(100_000)

	tax, _ := c.SellTaxes(contracts.MarketKONEX, 10, sell)
	// 1,000,000 × 0.10% = 1,000
	assert.True(t, tax.Equal(decimal.NewFromInt(1000)), "konex tax = %s", tax)

	kospiTax, _ := c.SellTaxes(contracts.MarketKOSPI, 10, sell)
	assert.True(t, kospiTax.Equal(decimal.NewFromInt(2300)), "kospi tax = %s", kospiTax)
}

func TestRoundTripLaw(t *testing.T) {
	// 같은 가격으로 매수/매도 → net_pnl = −round_trip_cost
	c := testCalculator()
	p := decimal.NewFromInt(70_000)

	cost := c.RoundTripCost(contracts.MarketKOSPI, 10, p, p)
	net := c.NetPnL(contracts.MarketKOSPI, 10, p, p)
	assert.True(t, net.Equal(cost.Neg()), "net %s != -cost %s", net, cost)
}

func TestBreakevenPrice(t *testing.T) {
	c := testCalculator()
	buy := decimal.NewFromInt(70_000)

	be := c.BreakevenPrice(contracts.MarketKOSPI, buy)
	require.True(t, be.GreaterThan(buy), "breakeven must exceed buy price")

	// 손익분기가에서 매도하면 주당 손익 ≈ 0 (반올림 오차 ±수 원)
	qty := int64(100)
	net := c.NetPnL(contracts.MarketKOSPI, qty, buy, be)
	absNet := net.Abs()
	assert.True(t, absNet.LessThanOrEqual(decimal.NewFromInt(qty)), "net at breakeven = %s", net)
}

func TestMaxSharesForCash(t *testing.T) {
	c := testCalculator()

	// 1,000,000 / (70,000 × 1.00015) = 14.28 → 14주
	got := c.MaxSharesForCash(decimal.NewFromInt(1_000_000), decimal.NewFromInt(70_000))
	assert.Equal(t, int64(14), got)

	assert.Equal(t, int64(0), c.MaxSharesForCash(decimal.Zero, decimal.NewFromInt(70_000)))
}

package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kquant/internal/contracts"
)

const testUser = "wonny"

func seededStore() *MemoryStore {
	s := NewMemoryStore()
	s.Seed(testUser, decimal.NewFromInt(100_000_000))
	return s
}

func buyFill(orderID, ticker string, qty int64, price int64) *contracts.Fill {
	return &contracts.Fill{
		ExecutionID: "x-" + orderID,
		OrderID:     orderID,
		Ticker:      ticker,
		Side:        contracts.OrderSideBuy,
		Quantity:    qty,
		Price:       decimal.NewFromInt(price),
		FilledAt:    time.Now().UTC(),
	}
}

func sellFill(orderID, ticker string, qty int64, price int64) *contracts.Fill {
	f := buyFill(orderID, ticker, qty, price)
	f.Side = contracts.OrderSideSell
	return f
}

func TestApplyFillAveragePrice(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	_, err := s.ApplyFill(ctx, testUser, buyFill("ENTRY_005930_20240701_090100", "005930", 10, 70000))
	require.NoError(t, err)

	pos, err := s.ApplyFill(ctx, testUser, buyFill("ENTRY_005930_20240702_090100", "005930", 10, 80000))
	require.NoError(t, err)

	// (10·70000 + 10·80000) / 20 = 75000
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(75000)), "avg price = %s", pos.AvgPrice)
	assert.Equal(t, int64(20), pos.Quantity)
}

func TestApplyFillIdempotentOnOrderID(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	fill := buyFill("ENTRY_005930_20240701_090100", "005930", 10, 70000)

	_, err := s.ApplyFill(ctx, testUser, fill)
	require.NoError(t, err)
	_, err = s.ApplyFill(ctx, testUser, fill)
	require.NoError(t, err)

	pos, err := s.GetPosition(ctx, testUser, "005930")
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Quantity, "duplicate fill must not double-apply")

	m, err := s.GetRiskMetrics(ctx, testUser)
	require.NoError(t, err)
	// 현금은 정확히 한 번만 차감
	want := decimal.NewFromInt(100_000_000 - 700_000)
	assert.True(t, m.CashBalance.Equal(want), "cash = %s, want %s", m.CashBalance, want)
}

func TestSellBanksRealizedPnLAndLeavesAvgPrice(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	_, err := s.ApplyFill(ctx, testUser, buyFill("ENTRY_000660_20240701_090100", "000660", 20, 100000))
	require.NoError(t, err)

	sell := sellFill("EXIT_take_profit_000660_20240710_100000", "000660", 10, 120000)
	sell.Commission = decimal.NewFromInt(180)
	sell.Tax = decimal.NewFromInt(2760)

	pos, err := s.ApplyFill(ctx, testUser, sell)
	require.NoError(t, err)

	// (120000 − 100000)·10 − 180 − 2760 = 197060
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(197060)), "realized = %s", pos.RealizedPnL)
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(100000)), "avg price must not change on SELL")
	assert.Equal(t, int64(10), pos.Quantity)
}

func TestFullExitArchivesPosition(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	_, err := s.ApplyFill(ctx, testUser, buyFill("ENTRY_035720_20240701_090100", "035720", 5, 50000))
	require.NoError(t, err)

	pos, err := s.ApplyFill(ctx, testUser, sellFill("EXIT_stop_loss_035720_20240703_110000", "035720", 5, 45000))
	require.NoError(t, err)
	require.NotNil(t, pos.ArchivedAt, "full exit must archive")

	_, err = s.GetPosition(ctx, testUser, "035720")
	assert.ErrorIs(t, err, ErrPositionNotFound)

	archived := s.Archived(testUser)
	require.Len(t, archived, 1)
	assert.True(t, archived[0].RealizedPnL.Equal(decimal.NewFromInt(-25000)), "realized preserved: %s", archived[0].RealizedPnL)

	// 이후 재매수는 새 포지션 (새 평균단가, 새 트레일링 기준)
	fresh, err := s.ApplyFill(ctx, testUser, buyFill("ENTRY_035720_20240705_090100", "035720", 3, 52000))
	require.NoError(t, err)
	assert.True(t, fresh.AvgPrice.Equal(decimal.NewFromInt(52000)))
	assert.True(t, fresh.RealizedPnL.IsZero())
}

func TestOversellRejected(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	_, err := s.ApplyFill(ctx, testUser, buyFill("ENTRY_005930_20240701_090100", "005930", 10, 70000))
	require.NoError(t, err)

	_, err = s.ApplyFill(ctx, testUser, sellFill("EXIT_manual_005930_20240702_100000", "005930", 11, 70000))
	assert.ErrorIs(t, err, ErrOversell)
}

func TestTrailingStopRatchet(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	// 매수 70,000 / trailing 10% → trail 63,000
	_, err := s.ApplyFill(ctx, testUser, buyFill("ENTRY_005930_20240701_090100", "005930", 10, 70000))
	require.NoError(t, err)

	pos, err := s.InitializeLimits(ctx, testUser, "005930", LimitParams{
		StopLossPct:         decimal.NewFromInt(10),
		TakeProfitPct:       decimal.NewFromInt(20),
		TrailingEnabled:     true,
		TrailingDistancePct: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.True(t, pos.TrailingStopPrice.Equal(decimal.NewFromInt(63000)), "initial trail = %s", pos.TrailingStopPrice)
	assert.True(t, pos.StopLossPrice.Equal(decimal.NewFromInt(63000)))
	assert.True(t, pos.TakeProfitPrice.Equal(decimal.NewFromInt(84000)))

	// 90,000으로 상승 → high 90,000, trail 81,000
	pos, err = s.UpdateTrailing(ctx, testUser, "005930", decimal.NewFromInt(90000))
	require.NoError(t, err)
	assert.True(t, pos.HighestPriceSincePurchase.Equal(decimal.NewFromInt(90000)))
	assert.True(t, pos.TrailingStopPrice.Equal(decimal.NewFromInt(81000)), "trail = %s", pos.TrailingStopPrice)

	// 80,000으로 하락 → trail 불변 (단조 비감소)
	pos, err = s.UpdateTrailing(ctx, testUser, "005930", decimal.NewFromInt(80000))
	require.NoError(t, err)
	assert.True(t, pos.TrailingStopPrice.Equal(decimal.NewFromInt(81000)), "trail must never decrease")
	assert.True(t, pos.HighestPriceSincePurchase.Equal(decimal.NewFromInt(90000)))
}

func TestPyramidBuyKeepsTrailingRatchet(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	// 매수 70,000 / trailing 10% → high 70,000, trail 63,000
	_, err := s.ApplyFill(ctx, testUser, buyFill("ENTRY_005930_20240701_090100", "005930", 10, 70000))
	require.NoError(t, err)

	limits := LimitParams{
		StopLossPct:         decimal.NewFromInt(10),
		TakeProfitPct:       decimal.NewFromInt(20),
		TrailingEnabled:     true,
		TrailingDistancePct: decimal.NewFromInt(10),
	}
	_, err = s.InitializeLimits(ctx, testUser, "005930", limits)
	require.NoError(t, err)

	// 90,000으로 상승 → high 90,000, trail 81,000
	_, err = s.UpdateTrailing(ctx, testUser, "005930", decimal.NewFromInt(90000))
	require.NoError(t, err)

	// 추가 매수 후 한도 재설정: 손절/익절은 새 평균단가 기준으로 갱신되지만
	// high/trail은 후퇴하지 않는다
	_, err = s.ApplyFill(ctx, testUser, buyFill("ENTRY_005930_20240715_090100", "005930", 10, 70000))
	require.NoError(t, err)

	pos, err := s.InitializeLimits(ctx, testUser, "005930", limits)
	require.NoError(t, err)

	assert.True(t, pos.HighestPriceSincePurchase.Equal(decimal.NewFromInt(90000)),
		"high must survive pyramid buy: %s", pos.HighestPriceSincePurchase)
	assert.True(t, pos.TrailingStopPrice.Equal(decimal.NewFromInt(81000)),
		"trail must never decrease while holding: %s", pos.TrailingStopPrice)
	assert.True(t, pos.StopLossPrice.Equal(decimal.NewFromInt(63000)), "stop tracks new avg price")
	assert.True(t, pos.TakeProfitPrice.Equal(decimal.NewFromInt(84000)), "take profit tracks new avg price")
}

func TestHaltFlag(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	require.NoError(t, s.SetHalt(ctx, testUser, "total loss 28.0% >= ceiling"))

	m, err := s.GetRiskMetrics(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, m.TradingHalted)
	assert.NotNil(t, m.HaltStartedAt)

	// SaveRiskMetrics는 halt 컬럼을 건드리지 못함 (단일 작성자)
	m.TradingHalted = false
	require.NoError(t, s.SaveRiskMetrics(ctx, m))
	m2, err := s.GetRiskMetrics(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, m2.TradingHalted, "halt survives metrics rollup")

	require.NoError(t, s.ClearHalt(ctx, testUser))
	m3, err := s.GetRiskMetrics(ctx, testUser)
	require.NoError(t, err)
	assert.False(t, m3.TradingHalted)
}

func TestPeakValueMonotonic(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	m, err := s.GetRiskMetrics(ctx, testUser)
	require.NoError(t, err)

	m.TotalValue = decimal.NewFromInt(110_000_000)
	m.PeakValue = decimal.NewFromInt(110_000_000)
	require.NoError(t, s.SaveRiskMetrics(ctx, m))

	m.TotalValue = decimal.NewFromInt(95_000_000)
	m.PeakValue = decimal.NewFromInt(95_000_000)
	require.NoError(t, s.SaveRiskMetrics(ctx, m))

	got, err := s.GetRiskMetrics(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, got.PeakValue.Equal(decimal.NewFromInt(110_000_000)), "peak = %s", got.PeakValue)
}

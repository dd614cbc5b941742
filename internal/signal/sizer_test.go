package signal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sizerInput(method string) SizingInput {
	return SizingInput{
		PortfolioValue: decimal.NewFromInt(100_000_000),
		EntryPrice:     decimal.NewFromInt(70_000),
		StopLossPrice:  decimal.NewFromInt(63_000),
		Method:         method,
		Conviction:     100,
	}
}

func TestFixedRiskSizingWithCap(t *testing.T) {
	// 포트폴리오 1억, 진입 70,000, 손절 63,000, 리스크 2%
	// per-share risk 7,000 → 285주 → 10% 캡 후 142주 (비중 ≈ 9.94%)
	s := NewSizer(defaultSignalConfig())

	res, err := s.Calculate(sizerInput(MethodFixedRisk))
	require.NoError(t, err)

	assert.Equal(t, int64(142), res.RecommendedShares)
	assert.True(t, res.PositionValue.Equal(decimal.NewFromInt(9_940_000)), "value = %s", res.PositionValue)

	pct, _ := res.PositionPct.Float64()
	assert.InDelta(t, 9.94, pct, 0.001)
}

func TestFixedPercentSizing(t *testing.T) {
	s := NewSizer(defaultSignalConfig())

	res, err := s.Calculate(sizerInput(MethodFixedPercent))
	require.NoError(t, err)

	// 10% of 1억 = 10,000,000 → 142주
	assert.Equal(t, int64(142), res.RecommendedShares)
}

func TestConvictionBelowSixtyYieldsZeroShares(t *testing.T) {
	s := NewSizer(defaultSignalConfig())

	for _, method := range []string{MethodFixedPercent, MethodFixedRisk, MethodKellyHalf} {
		in := sizerInput(method)
		in.Conviction = 59.9
		in.Stats = &KellyStats{WinRate: 0.6, AvgWin: 10, AvgLoss: 5}

		res, err := s.Calculate(in)
		require.NoError(t, err, method)
		assert.Equal(t, int64(0), res.RecommendedShares, "method %s", method)
	}
}

func TestConvictionScalesLinearly(t *testing.T) {
	s := NewSizer(defaultSignalConfig())

	// conviction 80 → scale (80−60)/40 = 0.5 → 5% 목표 → 71주
	in := sizerInput(MethodFixedPercent)
	in.Conviction = 80

	res, err := s.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, int64(71), res.RecommendedShares)
}

func TestKellyNeverExceedsFixedPercentCap(t *testing.T) {
	s := NewSizer(defaultSignalConfig())

	// 매우 유리한 통계 → kelly가 캡을 넘어야 함
	in := sizerInput(MethodKellyFull)
	in.Stats = &KellyStats{WinRate: 0.9, AvgWin: 20, AvgLoss: 5}

	kellyRes, err := s.Calculate(in)
	require.NoError(t, err)

	fixed, err := s.Calculate(sizerInput(MethodFixedPercent))
	require.NoError(t, err)

	assert.LessOrEqual(t, kellyRes.RecommendedShares, fixed.RecommendedShares)
}

func TestKellyHalfIsHalfOfFull(t *testing.T) {
	cfg := defaultSignalConfig()
	cfg.MaxPositionSizePct = 50 // 캡이 간섭하지 않도록
	s := NewSizer(cfg)

	stats := &KellyStats{WinRate: 0.6, AvgWin: 10, AvgLoss: 10}
	// kelly = 0.6 − 0.4/1 = 0.2

	full := sizerInput(MethodKellyFull)
	full.StopLossPrice = decimal.NewFromInt(63_000)
	full.Stats = stats
	fullRes, err := s.Calculate(full)
	require.NoError(t, err)
	// 0.2 · 1억 / 70,000 = 285주
	assert.Equal(t, int64(285), fullRes.RecommendedShares)

	half := full
	half.Method = MethodKellyHalf
	halfRes, err := s.Calculate(half)
	require.NoError(t, err)
	// 0.1 · 1억 / 70,000 = 142주
	assert.Equal(t, int64(142), halfRes.RecommendedShares)
}

func TestVolatilityAdjustedInverse(t *testing.T) {
	s := NewSizer(defaultSignalConfig())

	lowVol := sizerInput(MethodVolatilityAdjusted)
	lowVol.Volatility30D = fptr(30.0) // 기준 변동성 → 풀 사이즈
	lowRes, err := s.Calculate(lowVol)
	require.NoError(t, err)
	assert.Equal(t, int64(142), lowRes.RecommendedShares)

	highVol := sizerInput(MethodVolatilityAdjusted)
	highVol.Volatility30D = fptr(60.0) // 2배 변동성 → 절반
	highRes, err := s.Calculate(highVol)
	require.NoError(t, err)
	assert.Equal(t, int64(71), highRes.RecommendedShares)
}

func TestCashCap(t *testing.T) {
	s := NewSizer(defaultSignalConfig())

	in := sizerInput(MethodFixedPercent)
	in.AvailableCash = decimal.NewFromInt(1_000_000)

	res, err := s.Calculate(in)
	require.NoError(t, err)
	// 현금 100만원 / 70,000 = 14주
	assert.Equal(t, int64(14), res.RecommendedShares)
}

func TestSizingCapLaw(t *testing.T) {
	// 모든 방식: shares·entry ≤ portfolio·max_pct/100 (+ 절사 오차)
	s := NewSizer(defaultSignalConfig())
	cap := decimal.NewFromInt(10_000_000)

	methods := []string{MethodFixedPercent, MethodFixedRisk, MethodVolatilityAdjusted, MethodKellyFull, MethodKellyHalf, MethodKellyQuarter}
	for _, m := range methods {
		in := sizerInput(m)
		in.Volatility30D = fptr(20.0)
		in.Stats = &KellyStats{WinRate: 0.9, AvgWin: 30, AvgLoss: 5}

		res, err := s.Calculate(in)
		require.NoError(t, err, m)
		assert.True(t, res.PositionValue.LessThanOrEqual(cap), "method %s: %s > cap", m, res.PositionValue)
	}
}

func TestInvalidInputsRejected(t *testing.T) {
	s := NewSizer(defaultSignalConfig())

	bad := sizerInput(MethodFixedRisk)
	bad.StopLossPrice = decimal.NewFromInt(80_000) // stop ≥ entry
	_, err := s.Calculate(bad)
	assert.ErrorIs(t, err, ErrInvalidSizingInput)

	bad2 := sizerInput(MethodFixedPercent)
	bad2.EntryPrice = decimal.Zero
	_, err = s.Calculate(bad2)
	assert.ErrorIs(t, err, ErrInvalidSizingInput)
}

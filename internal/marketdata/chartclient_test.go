package marketdata

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChartResponseJSON(t *testing.T) {
	// 차트 API는 작은따옴표 JSON을 반환함
	body := `[['날짜', '시가', '고가', '저가', '종가', '거래량'],
	["20260313", 69500, 70500, 69000, 70000, 12345678],
	["20260316", 70000, 71000, 69800, 70800, 9876543]]`

	bars, err := parseChartResponse("005930", body)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	first := bars[0]
	assert.Equal(t, "005930", first.Ticker)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), first.TradeDate)
	assert.True(t, first.Open.Equal(decimal.NewFromInt(69_500)))
	assert.True(t, first.Close.Equal(decimal.NewFromInt(70_000)))
	assert.Equal(t, int64(12_345_678), first.Volume)
	assert.True(t, first.TradingValue.Equal(decimal.NewFromInt(70_000).Mul(decimal.NewFromInt(12_345_678))))
}

func TestParseChartResponseRegexFallback(t *testing.T) {
	// JSON 파싱이 불가능한 응답도 행 단위 정규식으로 복구
	body := `garbage prefix ["20260316", 70000, 71000, 69800, 70800, 1000] trailing`

	bars, err := parseChartResponse("005930", body)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Close.Equal(decimal.NewFromInt(70_800)))
	assert.True(t, bars[0].Low.Equal(decimal.NewFromInt(69_800)))
}

func TestParseChartResponseEmpty(t *testing.T) {
	bars, err := parseChartResponse("005930", "[]")
	require.NoError(t, err)
	assert.Empty(t, bars)
}

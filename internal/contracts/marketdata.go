package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one (ticker, trading day) OHLCV row.
// 불변식: low ≤ open,close ≤ high; volume ≥ 0; (ticker, day)당 1개
type PriceBar struct {
	Ticker       string          `json:"ticker"`
	TradeDate    time.Time       `json:"trade_date"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	Volume       int64           `json:"volume"`
	TradingValue decimal.Decimal `json:"trading_value"`
	AdjClose     decimal.Decimal `json:"adj_close"`
	ChangePct    decimal.Decimal `json:"change_pct"`
}

// Quote is the latest observed price for a ticker
type Quote struct {
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Volume    int64           `json:"volume"`
	At        time.Time       `json:"at"`
}

// CompositeScore is the per-(ticker, date) scoring row.
// composite는 4개 서브스코어의 convex combination (가중치 합 1.0 ± 1e-6)
type CompositeScore struct {
	Ticker        string    `json:"ticker"`
	ScoreDate     time.Time `json:"score_date"`
	ValueScore    float64   `json:"value_score"`
	GrowthScore   float64   `json:"growth_score"`
	QualityScore  float64   `json:"quality_score"`
	MomentumScore float64   `json:"momentum_score"`
	Composite     float64   `json:"composite_score"`
	Percentile    float64   `json:"percentile"`
	DataQuality   float64   `json:"data_quality"` // 0~100, non-null 입력 비율
}

// TechnicalSnapshot is the latest derived indicator row for a ticker.
// 수집 파이프라인에 따라 일부 지표는 비어 있을 수 있어 포인터로 표현.
type TechnicalSnapshot struct {
	Ticker   string    `json:"ticker"`
	SnapDate time.Time `json:"snap_date"`

	RSI14          *float64 `json:"rsi_14,omitempty"`
	MACD           *float64 `json:"macd,omitempty"`
	MACDSignal     *float64 `json:"macd_signal,omitempty"`
	MACDHistogram  *float64 `json:"macd_histogram,omitempty"`
	SMA20          *float64 `json:"sma_20,omitempty"`
	SMA50          *float64 `json:"sma_50,omitempty"`
	BollingerUpper *float64 `json:"bollinger_upper,omitempty"`
	BollingerLower *float64 `json:"bollinger_lower,omitempty"`
	ATR14          *float64 `json:"atr_14,omitempty"`
	Volatility30D  *float64 `json:"volatility_30d,omitempty"` // 연환산 %
	VolumeMA20     *float64 `json:"volume_ma_20,omitempty"`
	CurrentVolume  *float64 `json:"current_volume,omitempty"`
	AvgDailyVolume *float64 `json:"avg_daily_volume,omitempty"`
}

// VolumeRatio returns current volume over its 20-day moving average
func (t *TechnicalSnapshot) VolumeRatio() (float64, bool) {
	if t.CurrentVolume == nil || t.VolumeMA20 == nil || *t.VolumeMA20 <= 0 {
		return 0, false
	}
	return *t.CurrentVolume / *t.VolumeMA20, true
}

// DataQuality returns the fraction of non-null indicator fields, scaled 0~100
func (t *TechnicalSnapshot) DataQuality() float64 {
	fields := []*float64{
		t.RSI14, t.MACD, t.MACDSignal, t.MACDHistogram,
		t.SMA20, t.SMA50, t.BollingerUpper, t.BollingerLower,
		t.ATR14, t.Volatility30D, t.VolumeMA20, t.CurrentVolume,
	}
	present := 0
	for _, f := range fields {
		if f != nil {
			present++
		}
	}
	return float64(present) / float64(len(fields)) * 100
}

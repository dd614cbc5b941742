package signal

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/pkg/config"
)

// Sizing methods
const (
	MethodFixedPercent       = "fixed_percent"
	MethodFixedRisk          = "fixed_risk"
	MethodVolatilityAdjusted = "volatility_adjusted"
	MethodKellyFull          = "kelly_full"
	MethodKellyHalf          = "kelly_half"
	MethodKellyQuarter       = "kelly_quarter"
)

// referenceVolatility is the annualised volatility (%) at which a
// volatility-adjusted position gets the full max_position_size_pct.
// KOSPI 중위 종목 기준.
const referenceVolatility = 30.0

var (
	// ErrInvalidSizingInput is returned for non-positive prices or stop ≥ entry
	ErrInvalidSizingInput = errors.New("invalid sizing input")
)

// KellyStats is the historical win/loss profile feeding Kelly sizing
type KellyStats struct {
	WinRate float64 // p ∈ (0, 1)
	AvgWin  float64 // 평균 수익 (양수)
	AvgLoss float64 // 평균 손실 (양수)
}

// SizingInput carries everything a sizing method may need
type SizingInput struct {
	PortfolioValue decimal.Decimal
	AvailableCash  decimal.Decimal
	EntryPrice     decimal.Decimal
	StopLossPrice  decimal.Decimal
	Method         string
	Conviction     float64
	Volatility30D  *float64 // 연환산 %, volatility_adjusted용
	Stats          *KellyStats
}

// SizingResult is the sized position recommendation
type SizingResult struct {
	RecommendedShares int64
	PositionValue     decimal.Decimal
	PositionPct       decimal.Decimal // scale 4
	Notes             []string
}

// Sizer converts a portfolio fraction into an integer share count.
// 모든 결과는 max_position_size_pct와 가용 현금으로 캡핑되고,
// conviction 스케일링 f ← f·clamp((conviction−60)/40, 0, 1)이 적용됨.
type Sizer struct {
	maxPositionPct float64
	riskTolerance  float64
}

// NewSizer builds a sizer from config
func NewSizer(cfg config.SignalConfig) *Sizer {
	return &Sizer{
		maxPositionPct: cfg.MaxPositionSizePct,
		riskTolerance:  cfg.RiskTolerance,
	}
}

// Calculate returns the recommended share count for the given input
func (s *Sizer) Calculate(in SizingInput) (*SizingResult, error) {
	if in.EntryPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: entry price must be positive", ErrInvalidSizingInput)
	}
	if in.PortfolioValue.Sign() <= 0 {
		return nil, fmt.Errorf("%w: portfolio value must be positive", ErrInvalidSizingInput)
	}

	res := &SizingResult{PositionValue: decimal.Zero, PositionPct: decimal.Zero}

	fraction, err := s.baseFraction(in, res)
	if err != nil {
		return nil, err
	}

	// Conviction 스케일링: 60 미만이면 0주
	scale := clamp((in.Conviction-60)/40, 0, 1)
	if scale == 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("conviction %.1f below entry threshold", in.Conviction))
		return res, nil
	}
	fraction *= scale

	// 종목당 최대 비중 캡
	maxFraction := s.maxPositionPct / 100
	if fraction > maxFraction {
		fraction = maxFraction
		res.Notes = append(res.Notes, fmt.Sprintf("capped at max position size %.1f%%", s.maxPositionPct))
	}

	targetValue := in.PortfolioValue.Mul(decimal.NewFromFloat(fraction))

	// 가용 현금 캡
	if in.AvailableCash.Sign() > 0 && targetValue.GreaterThan(in.AvailableCash) {
		targetValue = in.AvailableCash
		res.Notes = append(res.Notes, "capped by available cash")
	}

	// KRX는 소수점 주식 없음: 정수 절사
	shares := targetValue.Div(in.EntryPrice).IntPart()
	if shares <= 0 {
		return res, nil
	}

	res.RecommendedShares = shares
	res.PositionValue = in.EntryPrice.Mul(decimal.NewFromInt(shares))
	res.PositionPct = res.PositionValue.
		Div(in.PortfolioValue).
		Mul(decimal.NewFromInt(100)).
		Round(4)
	return res, nil
}

// baseFraction computes the pre-scaling portfolio fraction for the method
func (s *Sizer) baseFraction(in SizingInput, res *SizingResult) (float64, error) {
	maxFraction := s.maxPositionPct / 100

	switch in.Method {
	case MethodFixedPercent:
		return maxFraction, nil

	case MethodFixedRisk:
		// shares = ⌊portfolio·risk / (entry − stop)⌋ 에 해당하는 비율
		if in.StopLossPrice.Sign() <= 0 || !in.StopLossPrice.LessThan(in.EntryPrice) {
			return 0, fmt.Errorf("%w: stop loss must be positive and below entry", ErrInvalidSizingInput)
		}
		perShareRisk, _ := in.EntryPrice.Sub(in.StopLossPrice).Float64()
		portfolio, _ := in.PortfolioValue.Float64()
		entry, _ := in.EntryPrice.Float64()

		riskAmount := portfolio * s.riskTolerance / 100
		shares := riskAmount / perShareRisk
		return shares * entry / portfolio, nil

	case MethodVolatilityAdjusted:
		if in.Volatility30D == nil || *in.Volatility30D <= 0 {
			res.Notes = append(res.Notes, "volatility unavailable, falling back to fixed percent")
			return maxFraction, nil
		}
		// 변동성에 반비례, 중위 변동성 종목이 max_position_size_pct를 받도록 정규화
		f := maxFraction * referenceVolatility / *in.Volatility30D
		if f > maxFraction {
			f = maxFraction
		}
		return f, nil

	case MethodKellyFull, MethodKellyHalf, MethodKellyQuarter:
		if in.Stats == nil || in.Stats.AvgLoss <= 0 || in.Stats.WinRate <= 0 || in.Stats.WinRate >= 1 {
			res.Notes = append(res.Notes, "kelly stats unavailable, falling back to fixed percent")
			return maxFraction, nil
		}
		b := in.Stats.AvgWin / in.Stats.AvgLoss
		if b <= 0 {
			res.Notes = append(res.Notes, "non-positive win/loss ratio, falling back to fixed percent")
			return maxFraction, nil
		}
		kelly := in.Stats.WinRate - (1-in.Stats.WinRate)/b

		mult := 1.0
		switch in.Method {
		case MethodKellyHalf:
			mult = 0.5
		case MethodKellyQuarter:
			mult = 0.25
		}
		return clamp(kelly*mult, 0, maxFraction), nil

	default:
		return 0, fmt.Errorf("%w: unknown method %q", ErrInvalidSizingInput, in.Method)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

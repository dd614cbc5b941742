package signal

import (
	"fmt"
	"math"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/config"
)

// Weights is the conviction component weight vector.
// 합은 1.0 ± 1e-6이어야 하며 기동 시 검증됨.
type Weights struct {
	Value    float64
	Momentum float64
	Volume   float64
	Quality  float64
}

// Validate checks the convex-combination invariant
func (w Weights) Validate() error {
	sum := w.Value + w.Momentum + w.Volume + w.Quality
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("conviction weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// ConvictionScorer combines value/momentum/volume/quality into a 0~100 score
// ⭐ SSOT: 진입 게이트와 사이징이 모두 이 점수를 사용
type ConvictionScorer struct {
	weights Weights
}

// NewConvictionScorer builds a scorer from config
func NewConvictionScorer(cfg config.SignalConfig) (*ConvictionScorer, error) {
	w := Weights{
		Value:    cfg.WeightValue,
		Momentum: cfg.WeightMomentum,
		Volume:   cfg.WeightVolume,
		Quality:  cfg.WeightQuality,
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &ConvictionScorer{weights: w}, nil
}

// Score computes the conviction score and its textual reasons.
// volume 컴포넌트는 현재 거래량 / 20일 평균 비율에서 매핑.
func (s *ConvictionScorer) Score(score *contracts.CompositeScore, snap *contracts.TechnicalSnapshot) (float64, []string) {
	valueComp := score.ValueScore
	momentumComp := score.MomentumScore
	qualityComp := score.QualityScore

	volumeComp := 0.0
	if snap != nil {
		if ratio, ok := snap.VolumeRatio(); ok {
			volumeComp = volumeComponent(ratio)
		}
	}

	conviction := s.weights.Value*valueComp +
		s.weights.Momentum*momentumComp +
		s.weights.Volume*volumeComp +
		s.weights.Quality*qualityComp

	var reasons []string
	if valueComp >= 70 {
		reasons = append(reasons, "Strong value opportunity")
	}
	if momentumComp >= 70 {
		reasons = append(reasons, "Strong price momentum")
	}
	if volumeComp >= 70 {
		reasons = append(reasons, "Volume surge above average")
	}
	if qualityComp >= 75 {
		reasons = append(reasons, "High quality fundamentals")
	}

	return conviction, reasons
}

// volumeComponent maps the volume/MA20 ratio to a 0~100 component:
// ≥1.5× → 100; 1.0~1.5× → 50→100 선형; 0.5~1.0× → 0→50 선형; <0.5× → 0
func volumeComponent(ratio float64) float64 {
	switch {
	case ratio >= 1.5:
		return 100
	case ratio >= 1.0:
		return 50 + (ratio-1.0)/0.5*50
	case ratio >= 0.5:
		return (ratio - 0.5) / 0.5 * 50
	default:
		return 0
	}
}

// StrengthOf buckets a conviction score into coarse grades.
// 60 미만은 진입 게이트에서 이미 걸러지므로 weak은 60~70 구간.
func StrengthOf(conviction float64) contracts.SignalStrength {
	switch {
	case conviction >= 85:
		return contracts.StrengthStrong
	case conviction >= 70:
		return contracts.StrengthModerate
	default:
		return contracts.StrengthWeak
	}
}

package signal

import (
	"math"
	"testing"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/config"
)

func defaultSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		RiskTolerance:      2.0,
		MaxPositionSizePct: 10.0,
		MinConvictionScore: 60.0,
		StopLossPct:        10.0,
		TakeProfitPct:      20.0,
		WeightValue:        0.30,
		WeightMomentum:     0.30,
		WeightVolume:       0.20,
		WeightQuality:      0.20,
	}
}

func fptr(v float64) *float64 { return &v }

func TestWeightsMustSumToOne(t *testing.T) {
	cfg := defaultSignalConfig()
	cfg.WeightValue = 0.50 // 합 1.2

	if _, err := NewConvictionScorer(cfg); err == nil {
		t.Fatal("expected weight validation error")
	}
}

func TestVolumeComponentMapping(t *testing.T) {
	tests := []struct {
		ratio float64
		want  float64
	}{
		{2.0, 100},
		{1.5, 100},
		{1.25, 75},
		{1.0, 50},
		{0.75, 25},
		{0.5, 0},
		{0.3, 0},
	}

	for _, tt := range tests {
		if got := volumeComponent(tt.ratio); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("volumeComponent(%.2f) = %.2f, want %.2f", tt.ratio, got, tt.want)
		}
	}
}

func TestConvictionIsWeightedSum(t *testing.T) {
	scorer, err := NewConvictionScorer(defaultSignalConfig())
	if err != nil {
		t.Fatal(err)
	}

	score := &contracts.CompositeScore{
		ValueScore:    80,
		MomentumScore: 70,
		QualityScore:  60,
	}
	snap := &contracts.TechnicalSnapshot{
		CurrentVolume: fptr(1_500_000),
		VolumeMA20:    fptr(1_000_000), // ratio 1.5 → volume 100
	}

	got, reasons := scorer.Score(score, snap)
	want := 0.30*80 + 0.30*70 + 0.20*100 + 0.20*60
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("conviction = %.4f, want %.4f", got, want)
	}

	// value ≥ 70, momentum ≥ 70, volume ≥ 70 → 사유 3건
	if len(reasons) != 3 {
		t.Errorf("reasons = %v", reasons)
	}
}

func TestConvictionWithoutSnapshot(t *testing.T) {
	scorer, err := NewConvictionScorer(defaultSignalConfig())
	if err != nil {
		t.Fatal(err)
	}

	score := &contracts.CompositeScore{ValueScore: 80, MomentumScore: 80, QualityScore: 80}
	got, _ := scorer.Score(score, nil)

	// volume 컴포넌트 0으로 처리
	want := 0.30*80 + 0.30*80 + 0.20*0 + 0.20*80
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("conviction = %.4f, want %.4f", got, want)
	}
}

func TestStrengthBuckets(t *testing.T) {
	if StrengthOf(90) != contracts.StrengthStrong {
		t.Error("90 should be strong")
	}
	if StrengthOf(75) != contracts.StrengthModerate {
		t.Error("75 should be moderate")
	}
	if StrengthOf(62) != contracts.StrengthWeak {
		t.Error("62 should be weak")
	}
}

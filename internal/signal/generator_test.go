package signal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/internal/portfolio"
)

// kellyGenerator wires a generator with kelly_half sizing and one strong
// candidate (conviction 92 → scale 0.8)
func kellyGenerator(store *portfolio.MemoryStore) *Generator {
	cfg := defaultSignalConfig()
	cfg.SizingMethod = MethodKellyHalf
	cfg.UseMarketOrders = true

	r := newFakeReader()
	r.scores["005930"] = &contracts.CompositeScore{
		Ticker: "005930", Composite: 90, ValueScore: 90, MomentumScore: 90, QualityScore: 90, DataQuality: 95,
	}
	r.snaps["005930"] = &contracts.TechnicalSnapshot{
		Ticker:        "005930",
		CurrentVolume: fptr(1_500_000),
		VolumeMA20:    fptr(1_000_000),
	}
	r.quotes["005930"] = &contracts.Quote{Ticker: "005930", Price: decimal.NewFromInt(70_000), At: time.Now()}

	scorer, err := NewConvictionScorer(cfg)
	if err != nil {
		panic(err)
	}
	return NewGenerator(cfg, r, scorer, NewSizer(cfg), store, nil, testLogger())
}

// closePosition books one round trip so the position lands in the archive
func closePosition(t *testing.T, store *portfolio.MemoryStore, user, ticker string, exitPrice int64) {
	t.Helper()
	ctx := context.Background()

	_, err := store.ApplyFill(ctx, user, &contracts.Fill{
		ExecutionID: "x-in-" + ticker,
		OrderID:     "ENTRY_" + ticker,
		Ticker:      ticker,
		Side:        contracts.OrderSideBuy,
		Quantity:    10,
		Price:       decimal.NewFromInt(100_000),
		FilledAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = store.ApplyFill(ctx, user, &contracts.Fill{
		ExecutionID: "x-out-" + ticker,
		OrderID:     "EXIT_" + ticker,
		Ticker:      ticker,
		Side:        contracts.OrderSideSell,
		Quantity:    10,
		Price:       decimal.NewFromInt(exitPrice),
		FilledAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestKellySizingEngagesWithDefaultProfile(t *testing.T) {
	// 청산 이력이 없으면 사전 프로파일(0.55/12/8)로 kelly가 작동해야 함.
	// kelly = 0.55 − 0.45/1.5 = 0.25, half → 0.125 → 캡 10% → scale 0.8 → 8%
	// 8,000,000 / 70,000 = 114주
	store := portfolio.NewMemoryStore()
	store.Seed(testUserV(), decimal.NewFromInt(100_000_000))
	g := kellyGenerator(store)

	sigs, err := g.GenerateEntrySignals(context.Background(), testUserV(), []string{"005930"}, EntryFilters{
		MinCompositeScore: 70,
		MinMomentumScore:  60,
	})
	require.NoError(t, err)
	require.Len(t, sigs, 1)

	assert.Equal(t, int64(114), sigs[0].RecommendedShares)
	for _, reason := range sigs[0].Reasons {
		assert.NotContains(t, reason, "kelly stats unavailable", "kelly must not fall back to fixed percent")
	}
}

func TestKellySizingUsesRealizedHistory(t *testing.T) {
	// 12건 청산 (7승/5패, 평균 ±600,000) → 승률 7/12, 손익비 1
	// kelly = 7/12 − 5/12 = 1/6, half → 1/12 → scale 0.8 → 6.67% → 95주
	store := portfolio.NewMemoryStore()
	store.Seed(testUserV(), decimal.NewFromInt(100_000_000))

	for i := 0; i < 7; i++ {
		closePosition(t, store, testUserV(), fmt.Sprintf("%06d", 100_000+i), 160_000)
	}
	for i := 0; i < 5; i++ {
		closePosition(t, store, testUserV(), fmt.Sprintf("%06d", 200_000+i), 40_000)
	}

	g := kellyGenerator(store)
	sigs, err := g.GenerateEntrySignals(context.Background(), testUserV(), []string{"005930"}, EntryFilters{
		MinCompositeScore: 70,
		MinMomentumScore:  60,
	})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, int64(95), sigs[0].RecommendedShares)
}

func TestKellyStatsFallsBackOnThinHistory(t *testing.T) {
	// 표본 10건 미만이면 사전 프로파일 유지
	store := portfolio.NewMemoryStore()
	store.Seed(testUserV(), decimal.NewFromInt(100_000_000))
	closePosition(t, store, testUserV(), "100001", 160_000)
	closePosition(t, store, testUserV(), "100002", 40_000)

	g := kellyGenerator(store)
	stats := g.kellyStats(context.Background(), testUserV())
	assert.Equal(t, defaultKellyStats, *stats)
}

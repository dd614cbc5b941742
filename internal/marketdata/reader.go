package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/kquant/internal/calendar"
	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/database"
	"github.com/wonny/kquant/pkg/logger"
	"github.com/wonny/kquant/pkg/redis"
)

var (
	// ErrNotFound means no row exists for the ticker
	ErrNotFound = errors.New("market data not found")

	// ErrStaleData means the latest reading is older than the freshness bound.
	// 신선도 초과 데이터는 부재와 동일하게 취급.
	ErrStaleData = errors.New("market data is stale")
)

// Reader is the read-only view over precomputed scores, indicators, and
// prices. 쓰기는 수집 파이프라인(외부)의 몫.
type Reader struct {
	db     *database.DB
	cache  *redis.Cache
	cal    *calendar.Calendar
	maxAge time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// NewReader creates a market data reader with the given freshness bound
func NewReader(db *database.DB, cache *redis.Cache, cal *calendar.Calendar, maxAge time.Duration, log *logger.Logger) *Reader {
	return &Reader{
		db:     db,
		cache:  cache,
		cal:    cal,
		maxAge: maxAge,
		log:    log,
		now:    time.Now,
	}
}

// WithClock overrides the time source (tests)
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

// LatestScore returns the most recent composite score for a ticker.
// 주말/휴일을 제외한 경과 시간이 maxAge를 넘으면 ErrStaleData.
func (r *Reader) LatestScore(ctx context.Context, ticker string) (*contracts.CompositeScore, error) {
	if err := contracts.ValidateTicker(ticker); err != nil {
		return nil, err
	}

	var s contracts.CompositeScore
	err := r.db.Pool.QueryRow(ctx, `
		SELECT ticker, score_date, value_score, growth_score, quality_score,
		       momentum_score, composite_score, percentile, data_quality
		FROM composite_scores
		WHERE ticker = $1
		ORDER BY score_date DESC
		LIMIT 1
	`, ticker).Scan(
		&s.Ticker, &s.ScoreDate, &s.ValueScore, &s.GrowthScore, &s.QualityScore,
		&s.MomentumScore, &s.Composite, &s.Percentile, &s.DataQuality,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: score for %s", ErrNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest score: %w", err)
	}

	if err := r.checkFreshness(s.ScoreDate, "score", ticker); err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestSnapshot returns the most recent technical indicator row for a ticker
func (r *Reader) LatestSnapshot(ctx context.Context, ticker string) (*contracts.TechnicalSnapshot, error) {
	if err := contracts.ValidateTicker(ticker); err != nil {
		return nil, err
	}

	var t contracts.TechnicalSnapshot
	err := r.db.Pool.QueryRow(ctx, `
		SELECT ticker, snap_date, rsi_14, macd, macd_signal, macd_histogram,
		       sma_20, sma_50, bollinger_upper, bollinger_lower, atr_14,
		       volatility_30d, volume_ma_20, current_volume, avg_daily_volume
		FROM technical_snapshots
		WHERE ticker = $1
		ORDER BY snap_date DESC
		LIMIT 1
	`, ticker).Scan(
		&t.Ticker, &t.SnapDate, &t.RSI14, &t.MACD, &t.MACDSignal, &t.MACDHistogram,
		&t.SMA20, &t.SMA50, &t.BollingerUpper, &t.BollingerLower, &t.ATR14,
		&t.Volatility30D, &t.VolumeMA20, &t.CurrentVolume, &t.AvgDailyVolume,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: snapshot for %s", ErrNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}

	if err := r.checkFreshness(t.SnapDate, "snapshot", ticker); err != nil {
		return nil, err
	}
	return &t, nil
}

// LatestQuote returns the latest price for a ticker, Redis cache first.
// 캐시 키: price:latest:{ticker}, TTL 1시간. Redis는 캐시일 뿐.
func (r *Reader) LatestQuote(ctx context.Context, ticker string) (*contracts.Quote, error) {
	if err := contracts.ValidateTicker(ticker); err != nil {
		return nil, err
	}

	var q contracts.Quote
	if r.cache != nil {
		found, err := r.cache.Get(ctx, redis.LatestPriceKey(ticker), &q)
		if err == nil && found {
			return &q, nil
		}
	}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT ticker, close, change_pct, volume, trade_date
		FROM stock_prices
		WHERE ticker = $1
		ORDER BY trade_date DESC
		LIMIT 1
	`, ticker).Scan(&q.Ticker, &q.Price, &q.ChangePct, &q.Volume, &q.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: price for %s", ErrNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest price: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, redis.LatestPriceKey(ticker), &q, redis.TTLLong); err != nil {
			r.log.WithError(err).WithTicker(ticker).Warn("price cache write failed")
		}
	}
	return &q, nil
}

// StockInfo returns the master record for a ticker
func (r *Reader) StockInfo(ctx context.Context, ticker string) (*contracts.Stock, error) {
	if err := contracts.ValidateTicker(ticker); err != nil {
		return nil, err
	}

	var s contracts.Stock
	fetch := func() error {
		err := r.db.Pool.QueryRow(ctx, `
			SELECT ticker, name, name_en, market, sector, industry, listed_shares, is_active
			FROM stocks
			WHERE ticker = $1
		`, ticker).Scan(
			&s.Ticker, &s.Name, &s.NameEn, &s.Market, &s.Sector,
			&s.Industry, &s.ListedShares, &s.IsActive,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: stock %s", ErrNotFound, ticker)
		}
		return err
	}

	if r.cache != nil {
		found, err := r.cache.Get(ctx, redis.StockInfoKey(ticker), &s)
		if err == nil && found {
			return &s, nil
		}
		if err := fetch(); err != nil {
			return nil, err
		}
		_ = r.cache.Set(ctx, redis.StockInfoKey(ticker), &s, redis.TTLMedium)
		return &s, nil
	}

	if err := fetch(); err != nil {
		return nil, err
	}
	return &s, nil
}

// TopTickers returns the highest-composite tickers from the latest score
// date. 워치리스트: 진입 신호 생성의 후보 유니버스.
func (r *Reader) TopTickers(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("top tickers limit must be positive, got %d", limit)
	}

	var tickers []string
	if r.cache != nil {
		found, err := r.cache.Get(ctx, redis.WatchlistKey(limit), &tickers)
		if err == nil && found {
			return tickers, nil
		}
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT cs.ticker
		FROM composite_scores cs
		JOIN stocks s ON s.ticker = cs.ticker AND s.is_active
		WHERE cs.score_date = (SELECT MAX(score_date) FROM composite_scores)
		ORDER BY cs.composite_score DESC, cs.ticker
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top tickers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if r.cache != nil && len(tickers) > 0 {
		_ = r.cache.Set(ctx, redis.WatchlistKey(limit), tickers, redis.TTLMedium)
	}
	return tickers, nil
}

// ActiveTickers returns all active tickers in the stock master, sorted
func (r *Reader) ActiveTickers(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT ticker FROM stocks WHERE is_active ORDER BY ticker
	`)
	if err != nil {
		return nil, fmt.Errorf("query active tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// checkFreshness enforces the max_data_age bound on a reading date
func (r *Reader) checkFreshness(readingDate time.Time, kind, ticker string) error {
	age := r.cal.TradingAge(readingDate, r.now())
	if age > r.maxAge {
		return fmt.Errorf("%w: %s for %s is %s old (bound %s)",
			ErrStaleData, kind, ticker, age.Round(time.Hour), r.maxAge)
	}
	return nil
}

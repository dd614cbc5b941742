package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/database"
	"github.com/wonny/kquant/pkg/logger"
	"github.com/wonny/kquant/pkg/redis"
)

// PriceFeed fetches daily bars from an external provider
// (구현은 ChartClient)
type PriceFeed interface {
	DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]contracts.PriceBar, error)
}

// CollectReport summarises one collection pass
type CollectReport struct {
	Tickers  int      `json:"tickers"`
	Rows     int      `json:"rows"`
	Failures []string `json:"failures,omitempty"`
}

// Collector pulls daily prices from the external feed into stock_prices.
// 외부 수집은 레이트 리밋 하에 순차 실행; 한 종목 실패가 수집을 멈추지 않음.
type Collector struct {
	db      *database.DB
	feed    PriceFeed
	limiter *redis.RateLimiter
	cache   *redis.Cache
	events  *redis.Publisher
	log     *logger.Logger
	now     func() time.Time
}

// NewCollector wires the price collector. limiter/cache/events는 nil 허용.
func NewCollector(db *database.DB, feed PriceFeed, limiter *redis.RateLimiter, cache *redis.Cache, events *redis.Publisher, log *logger.Logger) *Collector {
	return &Collector{
		db:      db,
		feed:    feed,
		limiter: limiter,
		cache:   cache,
		events:  events,
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the time source (tests)
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// CollectDaily fetches and upserts the last lookbackDays of daily bars for
// every ticker. 재수집은 (ticker, trade_date) upsert로 멱등.
func (c *Collector) CollectDaily(ctx context.Context, tickers []string, lookbackDays int) (*CollectReport, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	to := c.now()
	from := to.AddDate(0, 0, -lookbackDays)

	report := &CollectReport{Tickers: len(tickers)}
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, redis.CollectionRateLimit); err != nil {
				return report, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		bars, err := c.feed.DailyBars(ctx, ticker, from, to)
		if err != nil {
			c.log.WithTicker(ticker).WithError(err).Warn("price fetch failed, skipping")
			report.Failures = append(report.Failures, ticker)
			continue
		}
		if len(bars) == 0 {
			continue
		}

		n, err := c.upsertBars(ctx, ticker, bars)
		if err != nil {
			return report, err
		}
		report.Rows += n

		c.refreshLatest(ctx, ticker, bars)
	}

	c.log.WithFields(map[string]interface{}{
		"tickers":  report.Tickers,
		"rows":     report.Rows,
		"failures": len(report.Failures),
	}).Info("daily price collection finished")
	return report, nil
}

// upsertBars writes the bars with change_pct derived from the prior close
func (c *Collector) upsertBars(ctx context.Context, ticker string, bars []contracts.PriceBar) (int, error) {
	prevClose, err := c.closeBefore(ctx, ticker, bars[0].TradeDate)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range bars {
		bar := &bars[i]
		if prevClose.Sign() > 0 {
			bar.ChangePct = bar.Close.Sub(prevClose).Div(prevClose).Mul(decimal.NewFromInt(100)).Round(4)
		}

		_, err := c.db.Pool.Exec(ctx, `
			INSERT INTO stock_prices (
				ticker, trade_date, open, high, low, close,
				volume, trading_value, adj_close, change_pct
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (ticker, trade_date) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume,
				trading_value = EXCLUDED.trading_value,
				adj_close = EXCLUDED.adj_close,
				change_pct = EXCLUDED.change_pct
		`,
			bar.Ticker, bar.TradeDate, bar.Open, bar.High, bar.Low, bar.Close,
			bar.Volume, bar.TradingValue, bar.AdjClose, bar.ChangePct,
		)
		if err != nil {
			return count, fmt.Errorf("upsert price %s/%s: %w", ticker, bar.TradeDate.Format("2006-01-02"), err)
		}

		prevClose = bar.Close
		count++
	}
	return count, nil
}

// closeBefore returns the last stored close strictly before day (없으면 0)
func (c *Collector) closeBefore(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	var lastClose decimal.Decimal
	err := c.db.Pool.QueryRow(ctx, `
		SELECT close FROM stock_prices
		WHERE ticker = $1 AND trade_date < $2
		ORDER BY trade_date DESC
		LIMIT 1
	`, ticker, day).Scan(&lastClose)
	if err != nil {
		return decimal.Zero, nil // 첫 수집
	}
	return lastClose, nil
}

// refreshLatest updates the quote cache and publishes a price event for the
// newest bar
func (c *Collector) refreshLatest(ctx context.Context, ticker string, bars []contracts.PriceBar) {
	latest := bars[len(bars)-1]
	quote := contracts.Quote{
		Ticker:    ticker,
		Price:     latest.Close,
		ChangePct: latest.ChangePct,
		Volume:    latest.Volume,
		At:        latest.TradeDate,
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, redis.LatestPriceKey(ticker), &quote, redis.TTLLong); err != nil {
			c.log.WithTicker(ticker).WithError(err).Warn("quote cache refresh failed")
		}
	}
	if c.events != nil {
		price, _ := latest.Close.Float64()
		change, _ := latest.ChangePct.Float64()
		if err := c.events.PublishPriceUpdate(ctx, ticker, price, change); err != nil {
			c.log.WithTicker(ticker).WithError(err).Warn("price event publish failed")
		}
	}
}

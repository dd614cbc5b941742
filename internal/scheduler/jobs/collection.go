package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/kquant/internal/calendar"
	"github.com/wonny/kquant/internal/marketdata"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

// CollectionJob collects daily price bars after the close
// ⭐ SSOT: 데이터 수집 스케줄은 이 Job에서만
type CollectionJob struct {
	cal       *calendar.Calendar
	reader    *marketdata.Reader
	collector *marketdata.Collector
	logger    *logger.Logger
}

// NewCollectionJob creates the daily collection job
func NewCollectionJob(cal *calendar.Calendar, reader *marketdata.Reader, col *marketdata.Collector, log *logger.Logger) *CollectionJob {
	return &CollectionJob{
		cal:       cal,
		reader:    reader,
		collector: col,
		logger:    log,
	}
}

// Name returns the job name
func (j *CollectionJob) Name() string {
	return "data_collection"
}

// Schedule returns the cron schedule (4 PM KST on weekdays, after close)
func (j *CollectionJob) Schedule() string {
	return "0 0 16 * * MON-FRI"
}

// Run collects recent daily bars for every active ticker
func (j *CollectionJob) Run(ctx context.Context) error {
	now := time.Now().In(j.cal.Location())
	if !j.cal.IsTradingDay(now) {
		j.logger.Info("Market closed today, skipping data collection")
		return nil
	}

	tickers, err := j.reader.ActiveTickers(ctx)
	if err != nil {
		return fmt.Errorf("load active tickers: %w", err)
	}

	report, err := j.collector.CollectDaily(ctx, tickers, 7)
	if err != nil {
		return fmt.Errorf("collect daily bars: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"tickers":  report.Tickers,
		"rows":     report.Rows,
		"failures": len(report.Failures),
	}).Info("Scheduled data collection completed")

	// 전 종목 실패는 수집기 자체 장애로 본다
	if report.Tickers > 0 && len(report.Failures) == report.Tickers {
		return fmt.Errorf("collection failed for all %d tickers", report.Tickers)
	}
	return nil
}

// WatchlistJob refreshes the entry candidate watchlist cache
// (스코어 갱신이 끝난 저녁에 실행)
type WatchlistJob struct {
	reader *marketdata.Reader
	cfg    config.SignalConfig
	logger *logger.Logger
}

// NewWatchlistJob creates the watchlist refresh job
func NewWatchlistJob(reader *marketdata.Reader, cfg config.SignalConfig, log *logger.Logger) *WatchlistJob {
	return &WatchlistJob{
		reader: reader,
		cfg:    cfg,
		logger: log,
	}
}

// Name returns the job name
func (j *WatchlistJob) Name() string {
	return "watchlist_update"
}

// Schedule returns the cron schedule (6 PM KST on weekdays)
func (j *WatchlistJob) Schedule() string {
	return "0 0 18 * * MON-FRI"
}

// Run re-reads the top composite scores, warming the Redis cache
func (j *WatchlistJob) Run(ctx context.Context) error {
	tickers, err := j.reader.TopTickers(ctx, j.cfg.WatchlistSize)
	if err != nil {
		return fmt.Errorf("refresh watchlist: %w", err)
	}

	j.logger.WithField("candidates", len(tickers)).Info("Watchlist refreshed")
	return nil
}

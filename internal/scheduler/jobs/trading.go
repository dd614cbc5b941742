package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/kquant/internal/calendar"
	"github.com/wonny/kquant/internal/trading"
	"github.com/wonny/kquant/pkg/logger"
)

// TradingCycleJob runs the full pre-market trading cycle
// (청산 → 리스크 점검 → 진입)
type TradingCycleJob struct {
	cal    *calendar.Calendar
	engine *trading.Engine
	userID string
	logger *logger.Logger
}

// NewTradingCycleJob creates the pre-market cycle job
func NewTradingCycleJob(cal *calendar.Calendar, engine *trading.Engine, userID string, log *logger.Logger) *TradingCycleJob {
	return &TradingCycleJob{
		cal:    cal,
		engine: engine,
		userID: userID,
		logger: log,
	}
}

// Name returns the job name
func (j *TradingCycleJob) Name() string {
	return "trading_cycle"
}

// Schedule returns the cron schedule (8:45 AM KST on weekdays, pre-market)
func (j *TradingCycleJob) Schedule() string {
	return "0 45 8 * * MON-FRI"
}

// Run executes one trading cycle for the configured account
func (j *TradingCycleJob) Run(ctx context.Context) error {
	now := time.Now().In(j.cal.Location())
	if !j.cal.IsTradingDay(now) {
		j.logger.Info("Market closed today, skipping trading cycle")
		return nil
	}

	report, err := j.engine.RunCycle(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("trading cycle: %w", err)
	}

	fields := map[string]interface{}{
		"user_id":    j.userID,
		"candidates": report.Candidates,
		"halted":     report.Halted,
	}
	if report.Exits != nil {
		fields["exits"] = report.Exits.Executed
	}
	if report.Entries != nil {
		fields["entries"] = report.Entries.Executed
	}
	j.logger.WithFields(fields).Info("Scheduled trading cycle completed")
	return nil
}

// MonitorJob sweeps open positions for exit triggers during market hours
type MonitorJob struct {
	cal    *calendar.Calendar
	engine *trading.Engine
	userID string
	logger *logger.Logger
}

// NewMonitorJob creates the intraday position monitor job
func NewMonitorJob(cal *calendar.Calendar, engine *trading.Engine, userID string, log *logger.Logger) *MonitorJob {
	return &MonitorJob{
		cal:    cal,
		engine: engine,
		userID: userID,
		logger: log,
	}
}

// Name returns the job name
func (j *MonitorJob) Name() string {
	return "position_monitor"
}

// Schedule returns the cron schedule (every 15 min, 9 AM - 3 PM KST weekdays).
// 장중 여부는 Run에서 캘린더로 한 번 더 걸러냄.
func (j *MonitorJob) Schedule() string {
	return "0 0/15 9-15 * * MON-FRI"
}

// Run evaluates triggers and executes any resulting exits
func (j *MonitorJob) Run(ctx context.Context) error {
	now := time.Now().In(j.cal.Location())
	if !j.cal.IsOpen(now) {
		return nil
	}

	summary, err := j.engine.RunExits(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("position monitor: %w", err)
	}

	if summary.Total > 0 {
		j.logger.WithFields(map[string]interface{}{
			"user_id":  j.userID,
			"signals":  summary.Total,
			"executed": summary.Executed,
		}).Info("Monitor sweep executed exits")
	}
	return nil
}

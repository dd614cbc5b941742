package commands

import (
	"fmt"
	"time"

	"github.com/wonny/kquant/internal/calendar"
	"github.com/wonny/kquant/internal/execution"
	"github.com/wonny/kquant/internal/marketdata"
	"github.com/wonny/kquant/internal/metrics"
	"github.com/wonny/kquant/internal/monitor"
	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/internal/risk"
	"github.com/wonny/kquant/internal/scheduler"
	"github.com/wonny/kquant/internal/scheduler/jobs"
	"github.com/wonny/kquant/internal/signal"
	"github.com/wonny/kquant/internal/trading"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/database"
	"github.com/wonny/kquant/pkg/httputil"
	"github.com/wonny/kquant/pkg/logger"
	"github.com/wonny/kquant/pkg/redis"
)

// app is the composition root shared by every subcommand
// ⭐ SSOT: 의존성 조립은 이 파일에서만
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	redis   *redis.Client
	metrics *metrics.Metrics

	calendar   *calendar.Calendar
	reader     *marketdata.Reader
	collector  *marketdata.Collector
	store      portfolio.Store
	sizer      *signal.Sizer
	validator  *signal.Validator
	monitor    *monitor.Monitor
	riskEngine *risk.Engine
	engine     *trading.Engine
}

// buildApp wires the full trading stack from configuration
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, configError(fmt.Errorf("load config: %w", err))
	}
	log := logger.New(cfg)

	if cfg.Execution.Mode != "paper" {
		return nil, configError(fmt.Errorf("execution mode %q is not supported: only paper trading is wired to a broker", cfg.Execution.Mode))
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, runtimeError(fmt.Errorf("connect to database: %w", err))
	}

	rc, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, runtimeError(fmt.Errorf("connect to redis: %w", err))
	}

	cache := redis.NewCache(rc, "kquant")
	limiter := redis.NewRateLimiter(rc, "kquant")
	events := redis.NewPublisher(rc)

	cal := calendar.New()
	maxAge := time.Duration(cfg.Validation.RequireRecentDataHours) * time.Hour
	reader := marketdata.NewReader(db, cache, cal, maxAge, log)

	httpClient := httputil.New(cfg, log)
	chart := marketdata.NewChartClient(httpClient, log)
	collector := marketdata.NewCollector(db, chart, limiter, cache, events, log)

	store := portfolio.NewPgStore(db, log)
	calc := execution.NewCalculator(cfg.Execution)
	broker := execution.NewPaperBroker(cfg.Execution, reader, calc, log)
	trades := execution.NewPgTradeRepository(db)
	executor := execution.NewExecutor(cfg.Signals, cfg.Risk, broker, trades, store, log)

	mon := monitor.New(cfg.Risk, cfg.Signals, store, reader, events, log)
	riskEngine := risk.New(cfg.Risk, store, reader, events, log)

	scorer, err := signal.NewConvictionScorer(cfg.Signals)
	if err != nil {
		db.Close()
		return nil, configError(fmt.Errorf("conviction weights: %w", err))
	}
	sizer := signal.NewSizer(cfg.Signals)
	generator := signal.NewGenerator(cfg.Signals, reader, scorer, sizer, store, mon, log)
	validator := signal.NewValidator(cfg.Validation, cfg.Risk.MaxTotalLossPct, store, reader, calc, log)

	engine := trading.NewEngine(cfg.Signals, generator, validator, executor, riskEngine, store, reader, log)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
		engine.WithObserver(m)
	}

	a := &app{
		cfg:        cfg,
		log:        log,
		db:         db,
		redis:      rc,
		metrics:    m,
		calendar:   cal,
		reader:     reader,
		collector:  collector,
		store:      store,
		sizer:      sizer,
		validator:  validator,
		monitor:    mon,
		riskEngine: riskEngine,
		engine:     engine,
	}
	return a, nil
}

// userID resolves the account the command operates on
func (a *app) userID() string {
	if userFlag != "" {
		return userFlag
	}
	return a.cfg.DefaultUserID
}

// buildScheduler registers every production job
func (a *app) buildScheduler() (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.cfg.Scheduler, a.calendar.Location(), a.log)
	if a.metrics != nil {
		sched.WithObserver(a.metrics)
	}

	userID := a.userID()
	jobList := []scheduler.Job{
		jobs.NewCollectionJob(a.calendar, a.reader, a.collector, a.log),
		jobs.NewWatchlistJob(a.reader, a.cfg.Signals, a.log),
		jobs.NewTradingCycleJob(a.calendar, a.engine, userID, a.log),
		jobs.NewMonitorJob(a.calendar, a.engine, userID, a.log),
		jobs.NewRiskCheckJob(a.engine, userID, a.metrics, a.log),
	}
	for _, job := range jobList {
		if err := sched.AddJob(job); err != nil {
			return nil, runtimeError(fmt.Errorf("register job: %w", err))
		}
	}
	return sched, nil
}

// close releases the backends
func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/internal/execution"
	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/internal/risk"
	"github.com/wonny/kquant/internal/signal"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

// CandidateSource supplies the entry candidate universe
// (구현은 marketdata.Reader.TopTickers)
type CandidateSource interface {
	TopTickers(ctx context.Context, limit int) ([]string, error)
}

// Observer receives signal/trade outcomes (구현은 metrics.Metrics)
type Observer interface {
	ObserveSignal(kind contracts.SignalKind)
	ObserveTrade(t *contracts.Trade)
	ObserveRejections(n int)
}

// CycleReport is the outcome of one full trading cycle
type CycleReport struct {
	UserID     string    `json:"user_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Candidates int  `json:"candidates"`
	Halted     bool `json:"halted"`

	Exits     *execution.BatchSummary `json:"exits,omitempty"`
	Emergency *execution.BatchSummary `json:"emergency,omitempty"`
	Entries   *execution.BatchSummary `json:"entries,omitempty"`
	Risk      *risk.CheckResult       `json:"risk,omitempty"`

	Summary execution.TradeSummary `json:"summary"`
}

// Engine drives the full signal pipeline as one operation.
// 사이클 순서는 고정: 청산 → 리스크 점검 → (halt 아니면) 진입.
// 리스크 축소가 신규 노출보다 항상 먼저다.
type Engine struct {
	cfg        config.SignalConfig
	generator  *signal.Generator
	validator  *signal.Validator
	executor   *execution.Executor
	riskEngine *risk.Engine
	store      portfolio.Store
	candidates CandidateSource
	observer   Observer
	log        *logger.Logger
	now        func() time.Time
}

// NewEngine wires the trading cycle engine
func NewEngine(cfg config.SignalConfig, gen *signal.Generator, val *signal.Validator, exec *execution.Executor, riskEngine *risk.Engine, store portfolio.Store, candidates CandidateSource, log *logger.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		generator:  gen,
		validator:  val,
		executor:   exec,
		riskEngine: riskEngine,
		store:      store,
		candidates: candidates,
		log:        log,
		now:        time.Now,
	}
}

// WithClock overrides the time source (tests)
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithObserver attaches the metrics observer
func (e *Engine) WithObserver(obs Observer) *Engine {
	e.observer = obs
	return e
}

// RunCycle executes exits, re-checks risk, then entries.
// halt 상태(또는 이번 사이클에서 발동)면 진입은 생략된다.
func (e *Engine) RunCycle(ctx context.Context, userID string) (*CycleReport, error) {
	report := &CycleReport{UserID: userID, StartedAt: e.now().UTC()}
	defer func() { report.FinishedAt = e.now().UTC() }()

	exits, err := e.RunExits(ctx, userID)
	if err != nil {
		return report, err
	}
	report.Exits = exits

	riskResult, emergency, err := e.RunRiskCheck(ctx, userID)
	if err != nil {
		return report, err
	}
	report.Risk = riskResult
	report.Emergency = emergency

	metrics, err := e.store.GetRiskMetrics(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("load risk metrics: %w", err)
	}
	if metrics.TradingHalted {
		report.Halted = true
		e.log.WithFields(map[string]interface{}{
			"user_id": userID,
			"reason":  metrics.HaltReason,
		}).Warn("trading halted, skipping entries")
		report.Summary = e.cycleSummary(report)
		return report, nil
	}

	entries, candidates, err := e.RunEntries(ctx, userID)
	if err != nil {
		return report, err
	}
	report.Entries = entries
	report.Candidates = candidates

	report.Summary = e.cycleSummary(report)
	e.log.WithFields(map[string]interface{}{
		"user_id":  userID,
		"exits":    exits.Executed,
		"entries":  entries.Executed,
		"rejected": exits.Rejected + entries.Rejected,
	}).Info("trading cycle finished")
	return report, nil
}

// RunExits generates and executes exit signals (monitor triggers + score
// deterioration)
func (e *Engine) RunExits(ctx context.Context, userID string) (*execution.BatchSummary, error) {
	signals, err := e.generator.GenerateExitSignals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("generate exit signals: %w", err)
	}
	summary, err := e.executeBatch(ctx, userID, signals)
	if err != nil {
		return nil, fmt.Errorf("execute exits: %w", err)
	}
	return summary, nil
}

// RunEntries generates and executes entry signals for the current watchlist.
// 후보 수를 함께 반환.
func (e *Engine) RunEntries(ctx context.Context, userID string) (*execution.BatchSummary, int, error) {
	candidates, err := e.candidates.TopTickers(ctx, e.cfg.WatchlistSize)
	if err != nil {
		return nil, 0, fmt.Errorf("load watchlist: %w", err)
	}

	signals, err := e.generator.GenerateEntrySignals(ctx, userID, candidates, signal.EntryFilters{
		MinCompositeScore: e.cfg.MinCompositeScore,
		MinMomentumScore:  e.cfg.MinMomentumScore,
	})
	if err != nil {
		return nil, len(candidates), fmt.Errorf("generate entry signals: %w", err)
	}

	summary, err := e.executeBatch(ctx, userID, signals)
	if err != nil {
		return nil, len(candidates), fmt.Errorf("execute entries: %w", err)
	}
	return summary, len(candidates), nil
}

// RunRiskCheck evaluates the circuit breaker and, if it trips, executes the
// emergency liquidation batch immediately.
func (e *Engine) RunRiskCheck(ctx context.Context, userID string) (*risk.CheckResult, *execution.BatchSummary, error) {
	result, err := e.riskEngine.CheckRisk(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("risk check: %w", err)
	}

	var emergency *execution.BatchSummary
	if len(result.EmergencySignals) > 0 {
		emergency, err = e.executeBatch(ctx, userID, result.EmergencySignals)
		if err != nil {
			return result, nil, fmt.Errorf("execute emergency liquidation: %w", err)
		}
	}
	return result, emergency, nil
}

// executeBatch runs the batch and feeds the observer, if any
func (e *Engine) executeBatch(ctx context.Context, userID string, signals []*contracts.TradingSignal) (*execution.BatchSummary, error) {
	summary, err := e.executor.ExecuteBatch(ctx, userID, e.validator, signals)
	if err != nil {
		return nil, err
	}
	if e.observer != nil {
		for _, sig := range signals {
			e.observer.ObserveSignal(sig.Kind)
		}
		for _, trade := range summary.Trades {
			e.observer.ObserveTrade(trade)
		}
		e.observer.ObserveRejections(summary.Rejected)
	}
	return summary, nil
}

// GenerateSignals produces (but does not execute) the current signal set.
// API/CLI의 dry-run 경로.
func (e *Engine) GenerateSignals(ctx context.Context, userID string) ([]*contracts.TradingSignal, error) {
	exits, err := e.generator.GenerateExitSignals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("generate exit signals: %w", err)
	}

	candidates, err := e.candidates.TopTickers(ctx, e.cfg.WatchlistSize)
	if err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}
	entries, err := e.generator.GenerateEntrySignals(ctx, userID, candidates, signal.EntryFilters{
		MinCompositeScore: e.cfg.MinCompositeScore,
		MinMomentumScore:  e.cfg.MinMomentumScore,
	})
	if err != nil {
		return nil, fmt.Errorf("generate entry signals: %w", err)
	}

	return append(exits, entries...), nil
}

func (e *Engine) cycleSummary(report *CycleReport) execution.TradeSummary {
	var trades []*contracts.Trade
	for _, b := range []*execution.BatchSummary{report.Exits, report.Emergency, report.Entries} {
		if b != nil {
			trades = append(trades, b.Trades...)
		}
	}
	return execution.SummarizeTrades(trades)
}

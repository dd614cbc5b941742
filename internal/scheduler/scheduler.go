package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

// Observer receives job run outcomes (구현은 metrics.Metrics)
type Observer interface {
	ObserveJob(job string, duration time.Duration, err error)
}

// Scheduler manages scheduled jobs against the KST wall clock.
// ⭐ SSOT: 스케줄 관리는 이 스케줄러에서만
//
// Firing rules: coalesce(중복 발화는 1회로), max_instances=1(실행 중이면
// 스킵), grace period 초과한 지연 발화는 드롭.
type Scheduler struct {
	cron     *cron.Cron
	parser   cron.Parser
	loc      *time.Location
	cfg      config.SchedulerConfig
	logger   *logger.Logger
	observer Observer

	jobs    map[string]*jobEntry
	history map[string]*JobHistory
	mu      sync.RWMutex

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Retry configuration
	maxRetries int
	retryDelay time.Duration

	now func() time.Time
}

type jobEntry struct {
	job      Job
	schedule cron.Schedule
	running  atomic.Bool // max_instances=1
}

// New creates a scheduler evaluating triggers in loc (KST in production)
func New(cfg config.SchedulerConfig, loc *time.Location, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		parser:     cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		loc:        loc,
		cfg:        cfg,
		logger:     log,
		jobs:       make(map[string]*jobEntry),
		history:    make(map[string]*JobHistory),
		baseCtx:    ctx,
		cancel:     cancel,
		maxRetries: 3,
		retryDelay: 1 * time.Minute,
		now:        time.Now,
	}
}

// WithObserver attaches the metrics observer
func (s *Scheduler) WithObserver(obs Observer) *Scheduler {
	s.observer = obs
	return s
}

// WithClock overrides the time source (tests)
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// AddJob registers a job and its cron trigger
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobName := job.Name()
	if _, exists := s.jobs[jobName]; exists {
		return fmt.Errorf("job %s already exists", jobName)
	}

	// grace 판정용 스케줄도 cron과 같은 타임존에서 평가
	schedule, err := s.parser.Parse("CRON_TZ=" + s.loc.String() + " " + job.Schedule())
	if err != nil {
		return fmt.Errorf("parse schedule for job %s: %w", jobName, err)
	}

	entry := &jobEntry{job: job, schedule: schedule}
	if _, err := s.cron.AddFunc(job.Schedule(), func() {
		s.runJob(entry, false)
	}); err != nil {
		return fmt.Errorf("schedule job %s: %w", jobName, err)
	}

	s.jobs[jobName] = entry
	s.history[jobName] = &JobHistory{}

	s.logger.WithFields(map[string]interface{}{
		"job":      jobName,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")
	return nil
}

// Start starts evaluating triggers
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop stops scheduling, waits for in-flight jobs up to the shutdown
// deadline, then force-cancels the remainder.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownDeadline):
		s.logger.WithField("deadline", s.cfg.ShutdownDeadline.String()).
			Warn("Shutdown deadline exceeded, cancelling in-flight jobs")
		s.cancel()
		<-done
	}
	s.logger.Info("Scheduler stopped")
}

// RunJob runs a job immediately, outside its schedule, and blocks
// until it finishes.
func (s *Scheduler) RunJob(jobName string) error {
	s.mu.RLock()
	entry, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", jobName)
	}

	s.runJob(entry, true)
	return nil
}

// runJob executes a job with retry logic. manual 실행은 grace 검사 면제.
func (s *Scheduler) runJob(entry *jobEntry, manual bool) {
	jobName := entry.job.Name()
	startTime := s.now()

	if !manual {
		// 다운타임 동안 밀린 발화: grace period를 넘긴 것은 드롭
		scheduledFor := lastFireBefore(entry.schedule, startTime)
		if !scheduledFor.IsZero() && startTime.Sub(scheduledFor) > s.cfg.GracePeriod {
			s.logger.WithFields(map[string]interface{}{
				"job":           jobName,
				"scheduled_for": scheduledFor,
				"late_by":       startTime.Sub(scheduledFor).String(),
			}).Warn("Missed firing beyond grace period, dropped")
			return
		}
	}

	// 이미 실행 중이면 이번 발화는 스킵
	if !entry.running.CompareAndSwap(false, true) {
		s.logger.WithField("job", jobName).Warn("Previous run still in flight, firing skipped")
		return
	}
	defer entry.running.Store(false)

	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.WithField("job", jobName).Info("Job started")

	var lastErr error
	var success bool
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := s.baseCtx.Err(); err != nil {
			lastErr = err
			break
		}

		err := entry.job.Run(s.baseCtx)
		if err == nil {
			success = true
			break
		}

		lastErr = err
		s.logger.WithFields(map[string]interface{}{
			"job":     jobName,
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("Job execution failed, retrying")

		if attempt < s.maxRetries {
			select {
			case <-s.baseCtx.Done():
			case <-time.After(s.retryDelay):
			}
		}
	}

	endTime := s.now()
	duration := endTime.Sub(startTime)

	result := JobResult{
		JobName:   jobName,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  duration,
		Success:   success,
	}
	if !success && lastErr != nil {
		result.Error = lastErr.Error()
	}

	s.mu.Lock()
	if history, exists := s.history[jobName]; exists {
		history.AddResult(result)
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveJob(jobName, duration, lastErr)
	}

	if success {
		s.logger.WithFields(map[string]interface{}{
			"job":      jobName,
			"duration": duration,
		}).Info("Job completed successfully")
	} else {
		s.logger.WithFields(map[string]interface{}{
			"job":      jobName,
			"duration": duration,
			"error":    lastErr.Error(),
		}).Error("Job failed after all retries")
	}
}

// lastFireBefore returns the most recent scheduled fire time at or before t.
// cron.Schedule은 Next만 제공하므로 8일 전부터 전진 탐색.
func lastFireBefore(schedule cron.Schedule, t time.Time) time.Time {
	cursor := t.Add(-8 * 24 * time.Hour)
	var prev time.Time
	for {
		next := schedule.Next(cursor)
		if next.IsZero() || next.After(t) {
			return prev
		}
		prev = next
		cursor = next
	}
}

// GetJobHistory returns the history for a specific job
func (s *Scheduler) GetJobHistory(jobName string) (*JobHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, exists := s.history[jobName]
	if !exists {
		return nil, fmt.Errorf("job %s not found", jobName)
	}
	return history, nil
}

// GetAllJobs returns all registered job names, sorted
func (s *Scheduler) GetAllJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]string, 0, len(s.jobs))
	for jobName := range s.jobs {
		jobs = append(jobs, jobName)
	}
	sort.Strings(jobs)
	return jobs
}

// GetJobStats returns statistics for all jobs
func (s *Scheduler) GetJobStats() map[string]JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := make(map[string]JobStats)

	for jobName, history := range s.history {
		failedResults := history.GetFailedResults()

		var lastRun, lastSuccess, lastFailure *time.Time
		if latest := history.GetLatestResults(1); len(latest) > 0 {
			lastResult := latest[0]
			lastRun = &lastResult.StartTime
			if lastResult.Success {
				lastSuccess = &lastResult.StartTime
			} else {
				lastFailure = &lastResult.StartTime
			}
		}

		nextRun := s.jobs[jobName].schedule.Next(now)

		stats[jobName] = JobStats{
			JobName:      jobName,
			Schedule:     s.jobs[jobName].job.Schedule(),
			TotalRuns:    len(history.Results),
			SuccessCount: len(history.Results) - len(failedResults),
			FailureCount: len(failedResults),
			SuccessRate:  history.GetSuccessRate(),
			LastRun:      lastRun,
			LastSuccess:  lastSuccess,
			LastFailure:  lastFailure,
			NextRun:      &nextRun,
		}
	}
	return stats
}

// JobStats represents statistics for a job
type JobStats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "development", LogLevel: "error", LogFormat: "json"})
}

func kst(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return loc
}

type fakeJob struct {
	name     string
	schedule string
	runs     atomic.Int32
	block    chan struct{} // nil이면 즉시 반환
	err      error
}

func (j *fakeJob) Name() string     { return j.name }
func (j *fakeJob) Schedule() string { return j.schedule }
func (j *fakeJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func newTestScheduler(t *testing.T, now time.Time) *Scheduler {
	t.Helper()
	cfg := config.SchedulerConfig{GracePeriod: 5 * time.Minute, ShutdownDeadline: time.Second}
	s := New(cfg, kst(t), testLogger()).WithClock(func() time.Time { return now })
	s.maxRetries = 0
	s.retryDelay = time.Millisecond
	return s
}

func TestMonitorScheduleNextFirings(t *testing.T) {
	// 수요일 10:07 KST 기동: 모니터는 10:15, 리스크 체크는 10:30에 발화
	loc := kst(t)
	now := time.Date(2026, 3, 18, 10, 7, 0, 0, loc)
	s := newTestScheduler(t, now)

	monitor := &fakeJob{name: "position_monitor", schedule: "0 0/15 9-15 * * MON-FRI"}
	riskCheck := &fakeJob{name: "risk_check", schedule: "0 0/30 * * * *"}
	signals := &fakeJob{name: "trading_cycle", schedule: "0 45 8 * * MON-FRI"}
	collection := &fakeJob{name: "data_collection", schedule: "0 0 16 * * MON-FRI"}
	for _, j := range []Job{monitor, riskCheck, signals, collection} {
		require.NoError(t, s.AddJob(j))
	}

	stats := s.GetJobStats()
	assert.Equal(t, time.Date(2026, 3, 18, 10, 15, 0, 0, loc), stats["position_monitor"].NextRun.In(loc))
	assert.Equal(t, time.Date(2026, 3, 18, 10, 30, 0, 0, loc), stats["risk_check"].NextRun.In(loc))
	assert.Equal(t, time.Date(2026, 3, 19, 8, 45, 0, 0, loc), stats["trading_cycle"].NextRun.In(loc))
	assert.Equal(t, time.Date(2026, 3, 18, 16, 0, 0, 0, loc), stats["data_collection"].NextRun.In(loc))
}

func TestLateFiringWithinGraceRuns(t *testing.T) {
	// 10:15 발화가 10:18에 도착 (3분 지연 ≤ 5분 grace) → 실행
	now := time.Date(2026, 3, 18, 10, 18, 0, 0, kst(t))
	s := newTestScheduler(t, now)

	job := &fakeJob{name: "position_monitor", schedule: "0 0/15 9-15 * * MON-FRI"}
	require.NoError(t, s.AddJob(job))

	s.runJob(s.jobs[job.name], false)
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestLateFiringBeyondGraceDropped(t *testing.T) {
	// 10분 장애: 10:15 발화가 10:25에 도착 → grace 초과, 드롭
	now := time.Date(2026, 3, 18, 10, 25, 0, 0, kst(t))
	s := newTestScheduler(t, now)

	job := &fakeJob{name: "position_monitor", schedule: "0 0/15 9-15 * * MON-FRI"}
	require.NoError(t, s.AddJob(job))

	s.runJob(s.jobs[job.name], false)
	assert.Equal(t, int32(0), job.runs.Load())

	history, err := s.GetJobHistory(job.name)
	require.NoError(t, err)
	assert.Empty(t, history.Results)
}

func TestInFlightJobSuppressesNewFiring(t *testing.T) {
	// max_instances=1: 실행 중이면 새 발화는 스킵 (coalesce)
	now := time.Date(2026, 3, 18, 10, 15, 0, 0, kst(t))
	s := newTestScheduler(t, now)

	job := &fakeJob{name: "position_monitor", schedule: "0 0/15 9-15 * * MON-FRI", block: make(chan struct{})}
	require.NoError(t, s.AddJob(job))
	entry := s.jobs[job.name]

	first := make(chan struct{})
	go func() {
		s.runJob(entry, false)
		close(first)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	// 첫 실행이 잡고 있는 동안 두 번째 발화
	s.runJob(entry, false)
	assert.Equal(t, int32(1), job.runs.Load())

	close(job.block)
	<-first
}

func TestFailingJobDoesNotAffectOthers(t *testing.T) {
	now := time.Date(2026, 3, 18, 10, 15, 0, 0, kst(t))
	s := newTestScheduler(t, now)

	failing := &fakeJob{name: "data_collection", schedule: "0 0 16 * * MON-FRI", err: errors.New("provider down")}
	healthy := &fakeJob{name: "risk_check", schedule: "0 0/30 * * * *"}
	require.NoError(t, s.AddJob(failing))
	require.NoError(t, s.AddJob(healthy))

	s.runJob(s.jobs[failing.name], true)
	s.runJob(s.jobs[healthy.name], true)

	stats := s.GetJobStats()
	assert.Equal(t, 1, stats["data_collection"].FailureCount)
	assert.Equal(t, 0.0, stats["data_collection"].SuccessRate)
	assert.Equal(t, 1, stats["risk_check"].SuccessCount)
	assert.Equal(t, 1.0, stats["risk_check"].SuccessRate)
	assert.NotNil(t, stats["data_collection"].LastFailure)
	assert.NotNil(t, stats["risk_check"].LastSuccess)
}

func TestRunJobUnknownName(t *testing.T) {
	s := newTestScheduler(t, time.Now())
	assert.Error(t, s.RunJob("no_such_job"))
}

func TestAddJobRejectsDuplicate(t *testing.T) {
	s := newTestScheduler(t, time.Now())
	job := &fakeJob{name: "risk_check", schedule: "0 0/30 * * * *"}
	require.NoError(t, s.AddJob(job))
	assert.Error(t, s.AddJob(job))
}

func TestJobHistoryCapped(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < 130; i++ {
		h.AddResult(JobResult{JobName: "risk_check", Success: i%2 == 0})
	}
	assert.Len(t, h.Results, 100)
	assert.InDelta(t, 0.5, h.GetSuccessRate(), 0.01)
}

package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/kquant/internal/metrics"
	"github.com/wonny/kquant/internal/trading"
	"github.com/wonny/kquant/pkg/logger"
)

// RiskCheckJob recomputes the portfolio rollup and the circuit breaker.
// 장 운영 여부와 무관하게 30분 간격으로 돈다.
type RiskCheckJob struct {
	engine  *trading.Engine
	userID  string
	metrics *metrics.Metrics // nil 허용
	logger  *logger.Logger
}

// NewRiskCheckJob creates the periodic risk check job
func NewRiskCheckJob(engine *trading.Engine, userID string, m *metrics.Metrics, log *logger.Logger) *RiskCheckJob {
	return &RiskCheckJob{
		engine:  engine,
		userID:  userID,
		metrics: m,
		logger:  log,
	}
}

// Name returns the job name
func (j *RiskCheckJob) Name() string {
	return "risk_check"
}

// Schedule returns the cron schedule (every 30 minutes, un-gated)
func (j *RiskCheckJob) Schedule() string {
	return "0 0/30 * * * *"
}

// Run evaluates the circuit breaker; tripping it liquidates immediately
func (j *RiskCheckJob) Run(ctx context.Context) error {
	result, emergency, err := j.engine.RunRiskCheck(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("risk check: %w", err)
	}

	if j.metrics != nil {
		j.metrics.SetPortfolio(result.Metrics)
	}

	for _, warning := range result.Warnings {
		j.logger.WithUser(j.userID).Warn(warning)
	}
	if result.HaltTriggered {
		fields := map[string]interface{}{"user_id": j.userID}
		if emergency != nil {
			fields["liquidated"] = emergency.Executed
		}
		j.logger.WithFields(fields).Error("Circuit breaker tripped during scheduled risk check")
	}
	return nil
}

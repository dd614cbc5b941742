package handlers

import (
	"net/http"

	"github.com/wonny/kquant/internal/scheduler"
	"github.com/wonny/kquant/pkg/logger"
)

// SchedulerHandler exposes job status
type SchedulerHandler struct {
	sched  *scheduler.Scheduler
	logger *logger.Logger
}

// NewSchedulerHandler creates the scheduler handler
func NewSchedulerHandler(sched *scheduler.Scheduler, log *logger.Logger) *SchedulerHandler {
	return &SchedulerHandler{sched: sched, logger: log}
}

// Jobs returns per-job run statistics
// GET /api/scheduler/jobs
func (h *SchedulerHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil {
		respondError(w, http.StatusServiceUnavailable, "Scheduler not running in this process")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": h.sched.GetJobStats(),
	})
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wonny/kquant/pkg/database"
	"github.com/wonny/kquant/pkg/logger"
	"github.com/wonny/kquant/pkg/redis"
)

// HealthHandler reports liveness of the service and its backends
type HealthHandler struct {
	version string
	db      *database.DB
	cache   *redis.Client // nil 허용 (Redis 비활성 구성)
	logger  *logger.Logger
}

// NewHealthHandler creates the health check handler
func NewHealthHandler(version string, db *database.DB, cache *redis.Client, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		version: version,
		db:      db,
		cache:   cache,
		logger:  log,
	}
}

// Check returns overall health with per-backend detail
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	status := http.StatusOK

	if h.db != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := h.db.Ping(dbCtx)
		cancel()
		if err != nil {
			h.logger.WithError(err).Warn("Health check: database unreachable")
			checks["db"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["db"] = "ok"
		}
	} else {
		checks["db"] = "disabled"
	}

	if h.cache != nil && h.cache.Enabled() {
		redisCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := h.cache.Healthy(redisCtx)
		cancel()
		if err != nil {
			h.logger.WithError(err).Warn("Health check: redis unreachable")
			checks["redis"] = "down"
			// Redis는 캐시 전용이므로 degraded로만 표시
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "disabled"
	}

	body := map[string]interface{}{
		"status":  "ok",
		"service": "kquant-api",
		"version": h.version,
		"checks":  checks,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	respondJSON(w, status, body)
}

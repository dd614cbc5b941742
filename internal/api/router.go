package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/kquant/internal/api/handlers"
	"github.com/wonny/kquant/internal/metrics"
	"github.com/wonny/kquant/pkg/logger"
)

// Handlers bundles the route targets
type Handlers struct {
	Health    *handlers.HealthHandler
	Portfolio *handlers.PortfolioHandler
	Trading   *handlers.TradingHandler
	Sizing    *handlers.SizingHandler
	Scheduler *handlers.SchedulerHandler
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h Handlers, m *metrics.Metrics, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health.Check).Methods("GET")
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Risk manager surface
	api.HandleFunc("/portfolio/{user}/monitor", h.Portfolio.Monitor).Methods("POST")
	api.HandleFunc("/portfolio/{user}/positions/{ticker}/limits", h.Portfolio.UpdateLimits).Methods("PUT")
	api.HandleFunc("/portfolio/{user}/is-trading-allowed", h.Portfolio.IsTradingAllowed).Methods("GET")
	api.HandleFunc("/portfolio/{user}/resume-trading", h.Portfolio.ResumeTrading).Methods("POST")
	api.HandleFunc("/position-size/calculate", h.Sizing.Calculate).Methods("POST")

	// Trading engine surface
	api.HandleFunc("/trading/{user}/signals", h.Trading.GenerateSignals).Methods("POST")
	api.HandleFunc("/trading/{user}/cycle", h.Trading.RunCycle).Methods("POST")

	// Orchestrator surface
	api.HandleFunc("/scheduler/jobs", h.Scheduler.Jobs).Methods("GET")

	r.Use(loggingMiddleware(log, m))
	r.Use(recoveryMiddleware(log))

	return r
}

// statusRecorder captures the response code for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests and feeds the request metrics
func loggingMiddleware(log *logger.Logger, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			if m != nil {
				m.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), duration)
			}
			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": duration,
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

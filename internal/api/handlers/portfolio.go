package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/internal/risk"
	"github.com/wonny/kquant/internal/trading"
	"github.com/wonny/kquant/pkg/logger"
)

// PortfolioHandler serves the risk-manager API surface
// ⭐ SSOT: 포트폴리오/리스크 API 핸들러는 이 구조체에서만
type PortfolioHandler struct {
	engine     *trading.Engine
	riskEngine *risk.Engine
	store      portfolio.Store
	logger     *logger.Logger
}

// NewPortfolioHandler creates the portfolio handler
func NewPortfolioHandler(engine *trading.Engine, riskEngine *risk.Engine, store portfolio.Store, log *logger.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		engine:     engine,
		riskEngine: riskEngine,
		store:      store,
		logger:     log,
	}
}

// Monitor sweeps open positions for exit triggers and executes any exits
// POST /api/portfolio/{user}/monitor
func (h *PortfolioHandler) Monitor(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]

	summary, err := h.engine.RunExits(r.Context(), userID)
	if err != nil {
		h.logger.WithError(err).Error("Position monitor sweep failed")
		respondError(w, http.StatusInternalServerError, "Failed to monitor positions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"signals":  summary.Total,
		"executed": summary.Executed,
		"rejected": summary.Rejected,
		"trades":   summary.Trades,
	})
}

// UpdateLimitsRequest sets stop/take/trailing parameters for one position
type UpdateLimitsRequest struct {
	StopLossPct         decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct       decimal.Decimal `json:"take_profit_pct"`
	TrailingEnabled     bool            `json:"trailing_stop_enabled"`
	TrailingDistancePct decimal.Decimal `json:"trailing_stop_distance_pct"`
}

// UpdateLimits re-anchors the exit limits of a position to its avg price
// PUT /api/portfolio/{user}/positions/{ticker}/limits
func (h *PortfolioHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, ticker := vars["user"], vars["ticker"]

	var req UpdateLimitsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.StopLossPct.Sign() <= 0 || req.TakeProfitPct.Sign() <= 0 {
		respondError(w, http.StatusBadRequest, "stop_loss_pct and take_profit_pct must be positive")
		return
	}
	if req.TrailingEnabled && req.TrailingDistancePct.Sign() <= 0 {
		respondError(w, http.StatusBadRequest, "trailing_stop_distance_pct must be positive when trailing is enabled")
		return
	}

	pos, err := h.store.InitializeLimits(r.Context(), userID, ticker, portfolio.LimitParams{
		StopLossPct:         req.StopLossPct,
		TakeProfitPct:       req.TakeProfitPct,
		TrailingEnabled:     req.TrailingEnabled,
		TrailingDistancePct: req.TrailingDistancePct,
	})
	if err != nil {
		if errors.Is(err, portfolio.ErrPositionNotFound) {
			respondError(w, http.StatusNotFound, "No open position for "+ticker)
			return
		}
		h.logger.WithError(err).Error("Failed to update position limits")
		respondError(w, http.StatusInternalServerError, "Failed to update limits")
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"ticker":  ticker,
		"stop":    pos.StopLossPrice.String(),
		"take":    pos.TakeProfitPrice.String(),
	}).Info("Position limits updated")

	respondJSON(w, http.StatusOK, pos)
}

// IsTradingAllowed reports the circuit-breaker state
// GET /api/portfolio/{user}/is-trading-allowed
func (h *PortfolioHandler) IsTradingAllowed(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]

	metrics, err := h.store.GetRiskMetrics(r.Context(), userID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load risk metrics")
		respondError(w, http.StatusInternalServerError, "Failed to load risk metrics")
		return
	}

	body := map[string]interface{}{
		"user_id": userID,
		"allowed": !metrics.TradingHalted,
	}
	if metrics.TradingHalted {
		body["reason"] = metrics.HaltReason
		if metrics.HaltStartedAt != nil {
			body["halted_at"] = metrics.HaltStartedAt
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// ResumeTrading clears the halt flag (운영자의 명시적 조치)
// POST /api/portfolio/{user}/resume-trading
func (h *PortfolioHandler) ResumeTrading(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]

	if err := h.riskEngine.ResumeTrading(r.Context(), userID); err != nil {
		h.logger.WithError(err).Error("Failed to resume trading")
		respondError(w, http.StatusInternalServerError, "Failed to resume trading")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"allowed": true,
	})
}

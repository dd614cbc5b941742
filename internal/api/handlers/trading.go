package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/kquant/internal/trading"
	"github.com/wonny/kquant/pkg/logger"
)

// TradingHandler drives the signal pipeline over HTTP
// ⭐ SSOT: 거래 API 핸들러는 이 구조체에서만
type TradingHandler struct {
	engine *trading.Engine
	logger *logger.Logger
}

// NewTradingHandler creates the trading handler
func NewTradingHandler(engine *trading.Engine, log *logger.Logger) *TradingHandler {
	return &TradingHandler{engine: engine, logger: log}
}

// GenerateSignals produces the current signal set without executing it
// POST /api/trading/{user}/signals
func (h *TradingHandler) GenerateSignals(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]

	signals, err := h.engine.GenerateSignals(r.Context(), userID)
	if err != nil {
		h.logger.WithError(err).Error("Signal generation failed")
		respondError(w, http.StatusInternalServerError, "Failed to generate signals")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"count":   len(signals),
		"signals": signals,
	})
}

// RunCycle executes one full trading cycle (청산 → 리스크 점검 → 진입)
// POST /api/trading/{user}/cycle
func (h *TradingHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]

	report, err := h.engine.RunCycle(r.Context(), userID)
	if err != nil {
		h.logger.WithError(err).Error("Trading cycle failed")
		respondError(w, http.StatusInternalServerError, "Failed to run trading cycle")
		return
	}

	respondJSON(w, http.StatusOK, report)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/signal"
	"github.com/wonny/kquant/pkg/logger"
)

// SizingHandler exposes the position sizer as a standalone calculator
type SizingHandler struct {
	sizer  *signal.Sizer
	logger *logger.Logger
}

// NewSizingHandler creates the position-size handler
func NewSizingHandler(sizer *signal.Sizer, log *logger.Logger) *SizingHandler {
	return &SizingHandler{sizer: sizer, logger: log}
}

// SizingRequest mirrors signal.SizingInput for the HTTP surface
type SizingRequest struct {
	PortfolioValue decimal.Decimal    `json:"portfolio_value"`
	AvailableCash  decimal.Decimal    `json:"available_cash"`
	EntryPrice     decimal.Decimal    `json:"entry_price"`
	StopLossPrice  decimal.Decimal    `json:"stop_loss_price"`
	Method         string             `json:"method"`
	Conviction     float64            `json:"conviction"`
	Volatility30D  *float64           `json:"volatility_30d,omitempty"`
	KellyStats     *signal.KellyStats `json:"kelly_stats,omitempty"`
}

// Calculate sizes a hypothetical position
// POST /api/position-size/calculate
func (h *SizingHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req SizingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.sizer.Calculate(signal.SizingInput{
		PortfolioValue: req.PortfolioValue,
		AvailableCash:  req.AvailableCash,
		EntryPrice:     req.EntryPrice,
		StopLossPrice:  req.StopLossPrice,
		Method:         req.Method,
		Conviction:     req.Conviction,
		Volatility30D:  req.Volatility30D,
		Stats:          req.KellyStats,
	})
	if err != nil {
		if errors.Is(err, signal.ErrInvalidSizingInput) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("Position size calculation failed")
		respondError(w, http.StatusInternalServerError, "Failed to calculate position size")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"recommended_shares": result.RecommendedShares,
		"position_value":     result.PositionValue,
		"position_pct":       result.PositionPct,
		"notes":              result.Notes,
	})
}

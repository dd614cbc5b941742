package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/internal/risk"
	"github.com/wonny/kquant/internal/signal"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

const testUser = "wonny"

func testLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "development", LogLevel: "error", LogFormat: "json"})
}

func seededStore(t *testing.T) *portfolio.MemoryStore {
	t.Helper()
	store := portfolio.NewMemoryStore()
	store.Seed(testUser, decimal.NewFromInt(10_000_000))

	_, err := store.ApplyFill(context.Background(), testUser, &contracts.Fill{
		OrderID: "ENTRY_005930_20260310_103000", Ticker: "005930",
		Side: contracts.OrderSideBuy, Quantity: 50, Price: decimal.NewFromInt(70_000),
		FilledAt: time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return store
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCalculatePositionSize(t *testing.T) {
	h := NewSizingHandler(signal.NewSizer(config.SignalConfig{
		RiskTolerance:      2.0,
		MaxPositionSizePct: 10.0,
	}), testLogger())

	req := httptest.NewRequest("POST", "/api/position-size/calculate", strings.NewReader(`{
		"portfolio_value": 100000000,
		"available_cash": 100000000,
		"entry_price": 70000,
		"stop_loss_price": 63000,
		"method": "fixed_risk",
		"conviction": 100
	}`))
	rec := httptest.NewRecorder()
	h.Calculate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Greater(t, body["recommended_shares"].(float64), 0.0)
}

func TestCalculatePositionSizeRejectsBadInput(t *testing.T) {
	h := NewSizingHandler(signal.NewSizer(config.SignalConfig{
		RiskTolerance:      2.0,
		MaxPositionSizePct: 10.0,
	}), testLogger())

	// 손절가가 진입가 이상
	req := httptest.NewRequest("POST", "/api/position-size/calculate", strings.NewReader(`{
		"portfolio_value": 100000000,
		"available_cash": 100000000,
		"entry_price": 70000,
		"stop_loss_price": 70000,
		"method": "fixed_risk",
		"conviction": 100
	}`))
	rec := httptest.NewRecorder()
	h.Calculate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateLimits(t *testing.T) {
	store := seededStore(t)
	h := NewPortfolioHandler(nil, nil, store, testLogger())

	req := httptest.NewRequest("PUT", "/api/portfolio/wonny/positions/005930/limits", strings.NewReader(`{
		"stop_loss_pct": 10,
		"take_profit_pct": 20,
		"trailing_stop_enabled": true,
		"trailing_stop_distance_pct": 10
	}`))
	req = mux.SetURLVars(req, map[string]string{"user": testUser, "ticker": "005930"})
	rec := httptest.NewRecorder()
	h.UpdateLimits(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	pos, err := store.GetPosition(context.Background(), testUser, "005930")
	require.NoError(t, err)
	assert.True(t, pos.StopLossPrice.Equal(decimal.NewFromInt(63_000)))
	assert.True(t, pos.TakeProfitPrice.Equal(decimal.NewFromInt(84_000)))
	assert.True(t, pos.TrailingStopEnabled)
}

func TestUpdateLimitsUnknownPosition(t *testing.T) {
	h := NewPortfolioHandler(nil, nil, seededStore(t), testLogger())

	req := httptest.NewRequest("PUT", "/api/portfolio/wonny/positions/000660/limits", strings.NewReader(`{
		"stop_loss_pct": 10,
		"take_profit_pct": 20
	}`))
	req = mux.SetURLVars(req, map[string]string{"user": testUser, "ticker": "000660"})
	rec := httptest.NewRecorder()
	h.UpdateLimits(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIsTradingAllowedReflectsHalt(t *testing.T) {
	store := seededStore(t)
	h := NewPortfolioHandler(nil, nil, store, testLogger())

	get := func() map[string]interface{} {
		req := httptest.NewRequest("GET", "/api/portfolio/wonny/is-trading-allowed", nil)
		req = mux.SetURLVars(req, map[string]string{"user": testUser})
		rec := httptest.NewRecorder()
		h.IsTradingAllowed(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return decodeResponse(t, rec)
	}

	assert.Equal(t, true, get()["allowed"])

	require.NoError(t, store.SetHalt(context.Background(), testUser, "total loss 30.00% reached ceiling 28.0%"))
	body := get()
	assert.Equal(t, false, body["allowed"])
	assert.Contains(t, body["reason"], "ceiling")
}

func TestResumeTradingClearsHalt(t *testing.T) {
	store := seededStore(t)
	require.NoError(t, store.SetHalt(context.Background(), testUser, "manual"))

	riskEngine := risk.New(config.RiskConfig{MaxTotalLossPct: 28}, store, nil, nil, testLogger())
	h := NewPortfolioHandler(nil, riskEngine, store, testLogger())

	req := httptest.NewRequest("POST", "/api/portfolio/wonny/resume-trading", nil)
	req = mux.SetURLVars(req, map[string]string{"user": testUser})
	rec := httptest.NewRecorder()
	h.ResumeTrading(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	m, err := store.GetRiskMetrics(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, m.TradingHalted)
}

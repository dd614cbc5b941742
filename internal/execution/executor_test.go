package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/internal/marketdata"
	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

const testUser = "wonny"

var signalTime = time.Date(2026, 3, 16, 10, 30, 0, 0, time.UTC)

func execTestLogger() *logger.Logger {
	return logger.New(&config.Config{Env: "development", LogLevel: "error", LogFormat: "json"})
}

// stubQuotes serves a fixed price per ticker, no technical snapshot
type stubQuotes struct {
	prices map[string]decimal.Decimal
}

func (s *stubQuotes) LatestQuote(_ context.Context, ticker string) (*contracts.Quote, error) {
	p, ok := s.prices[ticker]
	if !ok {
		return nil, marketdata.ErrNotFound
	}
	return &contracts.Quote{Ticker: ticker, Price: p, At: signalTime}, nil
}

func (s *stubQuotes) LatestSnapshot(_ context.Context, _ string) (*contracts.TechnicalSnapshot, error) {
	return nil, marketdata.ErrNotFound
}

func (s *stubQuotes) StockInfo(_ context.Context, ticker string) (*contracts.Stock, error) {
	return &contracts.Stock{Ticker: ticker, Market: contracts.MarketKOSPI, Sector: "반도체", IsActive: true}, nil
}

type executorFixture struct {
	exec   *Executor
	store  *portfolio.MemoryStore
	trades *MemoryTradeRepository
	broker *PaperBroker
}

// newFixture wires an executor over a zero-slippage paper broker so fills
// land exactly at the quoted price.
func newFixture(t *testing.T, prices map[string]decimal.Decimal) *executorFixture {
	t.Helper()

	execCfg := config.ExecutionConfig{
		Mode:              "paper",
		SlippageSeed:      42,
		CommissionRatePct: 0.015,
	}
	quotes := &stubQuotes{prices: prices}
	broker := NewPaperBroker(execCfg, quotes, NewCalculator(execCfg), execTestLogger())

	store := portfolio.NewMemoryStore()
	store.Seed(testUser, decimal.NewFromInt(100_000_000))

	trades := NewMemoryTradeRepository()
	exec := NewExecutor(
		config.SignalConfig{StopLossPct: 10.0, TakeProfitPct: 20.0},
		config.RiskConfig{TrailingDistancePct: 10.0},
		broker, trades, store, execTestLogger(),
	).WithClock(func() time.Time { return signalTime })

	return &executorFixture{exec: exec, store: store, trades: trades, broker: broker}
}

func entrySignal(ticker string, qty int64, price int64) *contracts.TradingSignal {
	p := decimal.NewFromInt(price)
	return &contracts.TradingSignal{
		SignalID:          "sig-entry-" + ticker,
		Kind:              contracts.SignalKindEntryBuy,
		Ticker:            ticker,
		GeneratedAt:       signalTime,
		CurrentPrice:      p,
		StopLossPrice:     p.Mul(decimal.NewFromFloat(0.9)),
		TakeProfitPrice:   p.Mul(decimal.NewFromFloat(1.2)),
		RecommendedShares: qty,
		OrderType:         contracts.OrderTypeMarket,
		ConvictionScore:   80,
		Urgency:           contracts.UrgencyNormal,
		IsValid:           true,
	}
}

func exitSignal(ticker string, qty int64, price int64, reason string) *contracts.TradingSignal {
	return &contracts.TradingSignal{
		SignalID:          "sig-exit-" + ticker,
		Kind:              contracts.SignalKindExitSell,
		Ticker:            ticker,
		GeneratedAt:       signalTime.Add(time.Hour),
		CurrentPrice:      decimal.NewFromInt(price),
		RecommendedShares: qty,
		OrderType:         contracts.OrderTypeMarket,
		Urgency:           contracts.UrgencyHigh,
		ExitReason:        reason,
		IsValid:           true,
	}
}

func cashOf(t *testing.T, store *portfolio.MemoryStore) decimal.Decimal {
	t.Helper()
	m, err := store.GetRiskMetrics(context.Background(), testUser)
	require.NoError(t, err)
	return m.CashBalance
}

func TestExecuteEntrySignal(t *testing.T) {
	// S1 사이징 결과: 142주 @70,000 매수
	fx := newFixture(t, map[string]decimal.Decimal{"005930": decimal.NewFromInt(70_000)})
	ctx := context.Background()

	trade, err := fx.exec.ExecuteSignal(ctx, testUser, entrySignal("005930", 142, 70_000))
	require.NoError(t, err)

	assert.Equal(t, "ENTRY_005930_20260316_103000", trade.OrderID)
	assert.Equal(t, contracts.TradeStatusFilled, trade.Status)
	assert.Equal(t, int64(142), trade.ExecutedQty)
	assert.True(t, trade.ExecutedPrice.Equal(decimal.NewFromInt(70_000)), "fill price = %s", trade.ExecutedPrice)
	require.NotNil(t, trade.ExecutedAt)

	// 원금 9,940,000 + 수수료 1,491 = 9,941,491
	assert.True(t, trade.Commission.Equal(decimal.NewFromInt(1491)), "commission = %s", trade.Commission)
	wantCash := decimal.NewFromInt(100_000_000 - 9_941_491)
	assert.True(t, cashOf(t, fx.store).Equal(wantCash), "cash = %s", cashOf(t, fx.store))

	// 포지션 + 한도 초기화
	pos, err := fx.store.GetPosition(ctx, testUser, "005930")
	require.NoError(t, err)
	assert.Equal(t, int64(142), pos.Quantity)
	assert.True(t, pos.StopLossPrice.Equal(decimal.NewFromInt(63_000)), "stop = %s", pos.StopLossPrice)
	assert.True(t, pos.TakeProfitPrice.Equal(decimal.NewFromInt(84_000)), "take = %s", pos.TakeProfitPrice)
	assert.True(t, pos.TrailingStopEnabled)
	assert.True(t, pos.TrailingStopPrice.Equal(decimal.NewFromInt(63_000)), "trail = %s", pos.TrailingStopPrice)
	assert.Equal(t, 80.0, pos.CompositeScoreAtEntry)
}

func TestExecuteSignalIdempotent(t *testing.T) {
	// 같은 신호 재실행: 트레이드 재사용, 현금은 한 번만 차감
	fx := newFixture(t, map[string]decimal.Decimal{"005930": decimal.NewFromInt(70_000)})
	ctx := context.Background()
	sig := entrySignal("005930", 142, 70_000)

	first, err := fx.exec.ExecuteSignal(ctx, testUser, sig)
	require.NoError(t, err)
	cashAfterFirst := cashOf(t, fx.store)

	second, err := fx.exec.ExecuteSignal(ctx, testUser, sig)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, contracts.TradeStatusFilled, second.Status)
	assert.True(t, cashOf(t, fx.store).Equal(cashAfterFirst), "cash debited twice")

	pos, err := fx.store.GetPosition(ctx, testUser, "005930")
	require.NoError(t, err)
	assert.Equal(t, int64(142), pos.Quantity, "position doubled on replay")
}

func TestExecuteExitSignal(t *testing.T) {
	fx := newFixture(t, map[string]decimal.Decimal{"005930": decimal.NewFromInt(70_000)})
	ctx := context.Background()

	_, err := fx.exec.ExecuteSignal(ctx, testUser, entrySignal("005930", 10, 70_000))
	require.NoError(t, err)
	cashBefore := cashOf(t, fx.store)

	// 가격 상승 후 전량 청산
	fx.broker.quotes.(*stubQuotes).prices["005930"] = decimal.NewFromInt(75_000)

	trade, err := fx.exec.ExecuteSignal(ctx, testUser, exitSignal("005930", 10, 75_000, "take_profit"))
	require.NoError(t, err)

	assert.Equal(t, "EXIT_take_profit_005930_20260316_113000", trade.OrderID)
	assert.Equal(t, contracts.TradeStatusFilled, trade.Status)
	// 매도: 수수료 113 + 거래세 1,725 + 농특세 259
	assert.True(t, trade.Commission.Equal(decimal.NewFromInt(113)), "commission = %s", trade.Commission)
	assert.True(t, trade.Tax.Equal(decimal.NewFromInt(1984)), "tax = %s", trade.Tax)

	// 현금 += 750,000 − 2,097
	gain := decimal.NewFromInt(750_000 - 113 - 1984)
	assert.True(t, cashOf(t, fx.store).Equal(cashBefore.Add(gain)), "cash = %s", cashOf(t, fx.store))

	// 전량 청산 → 포지션 아카이브
	_, err = fx.store.GetPosition(ctx, testUser, "005930")
	assert.ErrorIs(t, err, portfolio.ErrPositionNotFound)
}

func TestRejectedOrderTerminatesTrade(t *testing.T) {
	fx := newFixture(t, map[string]decimal.Decimal{"005930": decimal.NewFromInt(70_000)})
	ctx := context.Background()

	sig := entrySignal("005930", 0, 70_000) // 수량 0 → 브로커 거부
	trade, err := fx.exec.ExecuteSignal(ctx, testUser, sig)
	require.ErrorIs(t, err, ErrOrderRejected)
	require.NotNil(t, trade)
	assert.Equal(t, contracts.TradeStatusRejected, trade.Status)
	assert.True(t, trade.Status.IsTerminal())

	// 현금 변화 없음
	assert.True(t, cashOf(t, fx.store).Equal(decimal.NewFromInt(100_000_000)))
}

// rejectEntries fails every BUY signal with a fixed reason
type rejectEntries struct{}

func (rejectEntries) Validate(_ context.Context, _ string, sig *contracts.TradingSignal) (*contracts.ValidationResult, error) {
	if sig.IsExit() {
		return &contracts.ValidationResult{IsValid: true}, nil
	}
	return &contracts.ValidationResult{IsValid: false, Reason: "trading halted: drawdown ceiling"}, nil
}

func TestExecuteBatchExitsFirst(t *testing.T) {
	fx := newFixture(t, map[string]decimal.Decimal{
		"005930": decimal.NewFromInt(70_000),
		"000660": decimal.NewFromInt(120_000),
	})
	ctx := context.Background()

	// 기존 포지션 하나 구축
	_, err := fx.exec.ExecuteSignal(ctx, testUser, entrySignal("000660", 5, 120_000))
	require.NoError(t, err)

	batch := []*contracts.TradingSignal{
		entrySignal("005930", 10, 70_000),
		exitSignal("000660", 5, 120_000, "stop_loss"),
	}

	summary, err := fx.exec.ExecuteBatch(ctx, testUser, nil, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Executed)
	require.Len(t, summary.Trades, 2)

	// 청산이 진입보다 먼저 실행됨
	assert.Equal(t, contracts.OrderSideSell, summary.Trades[0].Side)
	assert.Equal(t, contracts.OrderSideBuy, summary.Trades[1].Side)
}

func TestExecuteBatchCountsRejections(t *testing.T) {
	fx := newFixture(t, map[string]decimal.Decimal{"005930": decimal.NewFromInt(70_000)})
	ctx := context.Background()

	sig := entrySignal("005930", 10, 70_000)
	summary, err := fx.exec.ExecuteBatch(ctx, testUser, rejectEntries{}, []*contracts.TradingSignal{sig})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Executed)
	assert.Equal(t, 1, summary.Rejected)
	assert.Contains(t, summary.Rejections[sig.SignalID], "halted")

	// 거부된 신호는 트레이드를 만들지 않음
	_, err = fx.trades.Get(ctx, fx.exec.OrderIDFor(sig))
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestPaperSlippageDeterministic(t *testing.T) {
	cfg := config.ExecutionConfig{
		Mode:              "paper",
		SlippageBaseBps:   2.0,
		SlippageSeed:      7,
		CommissionRatePct: 0.015,
	}
	quotes := &stubQuotes{prices: map[string]decimal.Decimal{"005930": decimal.NewFromInt(70_000)}}

	req := &OrderRequest{
		ClientOrderID: "ENTRY_005930_20260316_103000",
		Ticker:        "005930",
		Side:          contracts.OrderSideBuy,
		OrderType:     contracts.OrderTypeMarket,
		Quantity:      100,
	}

	a, err := NewPaperBroker(cfg, quotes, NewCalculator(cfg), execTestLogger()).SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	b, err := NewPaperBroker(cfg, quotes, NewCalculator(cfg), execTestLogger()).SubmitOrder(context.Background(), req)
	require.NoError(t, err)

	// 같은 시드 → 같은 체결가, 매수는 시장가보다 불리
	assert.True(t, a.AvgFillPrice.Equal(b.AvgFillPrice), "%s != %s", a.AvgFillPrice, b.AvgFillPrice)
	assert.True(t, a.AvgFillPrice.GreaterThan(decimal.NewFromInt(70_000)))
}

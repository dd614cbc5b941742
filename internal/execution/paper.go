package execution

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

// QuoteSource is the market data surface the paper broker fills against
// (구현은 marketdata.Reader)
type QuoteSource interface {
	LatestQuote(ctx context.Context, ticker string) (*contracts.Quote, error)
	LatestSnapshot(ctx context.Context, ticker string) (*contracts.TechnicalSnapshot, error)
	StockInfo(ctx context.Context, ticker string) (*contracts.Stock, error)
}

// PaperBroker simulates immediate fills with a volume/volatility slippage
// model. 슬리피지와 수수료는 플러그인 정책으로 합성됨.
type PaperBroker struct {
	quotes QuoteSource
	fees   *Calculator
	log    *logger.Logger

	baseBps          float64
	volumeFactor     float64
	volatilityFactor float64

	mu     sync.Mutex
	rng    *rand.Rand
	orders map[string]*OrderResult
	held   map[string]int64 // ticker → qty
	now    func() time.Time
}

// NewPaperBroker builds a paper broker. seed가 0이면 비결정적.
func NewPaperBroker(cfg config.ExecutionConfig, quotes QuoteSource, fees *Calculator, log *logger.Logger) *PaperBroker {
	seed := cfg.SlippageSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PaperBroker{
		quotes:           quotes,
		fees:             fees,
		log:              log,
		baseBps:          cfg.SlippageBaseBps,
		volumeFactor:     cfg.SlippageVolumeFactor,
		volatilityFactor: cfg.SlippageVolatilityFactor,
		rng:              rand.New(rand.NewSource(seed)),
		orders:           make(map[string]*OrderResult),
		held:             make(map[string]int64),
		now:              time.Now,
	}
}

var _ Broker = (*PaperBroker)(nil)

// SubmitOrder fills the request immediately at the slipped price.
// 같은 ClientOrderID 재제출은 기존 결과를 그대로 반환 (멱등).
func (b *PaperBroker) SubmitOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderRejected, err)
	}

	b.mu.Lock()
	if existing, ok := b.orders[req.ClientOrderID]; ok {
		b.mu.Unlock()
		return existing, nil
	}
	b.mu.Unlock()

	quote, err := b.quotes.LatestQuote(ctx, req.Ticker)
	if err != nil {
		return nil, fmt.Errorf("paper fill price for %s: %w", req.Ticker, err)
	}

	base := quote.Price
	if req.OrderType == contracts.OrderTypeLimit {
		base = req.LimitPrice
	}

	snap, err := b.quotes.LatestSnapshot(ctx, req.Ticker)
	if err != nil {
		// 지표가 없으면 base 슬리피지만 적용
		snap = nil
	}

	stock, err := b.quotes.StockInfo(ctx, req.Ticker)
	if err != nil {
		return nil, fmt.Errorf("paper stock info for %s: %w", req.Ticker, err)
	}

	fillPrice := b.slippedPrice(base, quote.Price, req.Side, req.Quantity, snap)

	commission := b.fees.Commission(req.Quantity, fillPrice)
	tax := decimal.Zero
	if req.Side == contracts.OrderSideSell {
		t, surtax := b.fees.SellTaxes(stock.Market, req.Quantity, fillPrice)
		tax = t.Add(surtax)
	}

	fill := contracts.Fill{
		ExecutionID: uuid.NewString(),
		OrderID:     req.ClientOrderID,
		Ticker:      req.Ticker,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Price:       fillPrice,
		Commission:  commission,
		Tax:         tax,
		FilledAt:    b.now().UTC(),
	}

	result := &OrderResult{
		OrderID:      req.ClientOrderID,
		Status:       contracts.TradeStatusFilled,
		FilledQty:    req.Quantity,
		AvgFillPrice: fillPrice,
		Executions:   []contracts.Fill{fill},
	}

	b.mu.Lock()
	b.orders[req.ClientOrderID] = result
	if req.Side == contracts.OrderSideBuy {
		b.held[req.Ticker] += req.Quantity
	} else {
		b.held[req.Ticker] -= req.Quantity
	}
	b.mu.Unlock()

	b.log.WithFields(map[string]interface{}{
		"order_id": req.ClientOrderID,
		"ticker":   req.Ticker,
		"side":     req.Side,
		"qty":      req.Quantity,
		"price":    fillPrice.String(),
	}).Info("paper order filled")

	return result, nil
}

// CancelOrder is a no-op success for unfilled orders; paper orders fill
// immediately, so an existing order cannot be cancelled.
func (b *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.orders[orderID]; ok {
		return fmt.Errorf("cancel %s: order already filled", orderID)
	}
	return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
}

// QueryOrder returns the recorded result for an order id
func (b *PaperBroker) QueryOrder(_ context.Context, orderID string) (*OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.orders[orderID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
}

// GetPosition returns the broker-side held quantity for a ticker
func (b *PaperBroker) GetPosition(_ context.Context, ticker string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held[ticker], nil
}

// GetPrice returns the latest market price
func (b *PaperBroker) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	quote, err := b.quotes.LatestQuote(ctx, ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.Price, nil
}

// slippedPrice applies the slippage model to the base price.
// slippage_bps = base + (qty/ADV)·100·volume_factor + ann_vol·volatility_factor,
// ±20% 균등 난수로 섭동. 매수는 불리하게(+), 매도는 불리하게(−).
func (b *PaperBroker) slippedPrice(base, market decimal.Decimal, side contracts.OrderSide, qty int64, snap *contracts.TechnicalSnapshot) decimal.Decimal {
	bps := b.baseBps

	if snap != nil {
		if snap.AvgDailyVolume != nil && *snap.AvgDailyVolume > 0 {
			bps += float64(qty) / *snap.AvgDailyVolume * 100 * b.volumeFactor
		}
		if snap.Volatility30D != nil {
			bps += *snap.Volatility30D * b.volatilityFactor / 100
		}
	}

	b.mu.Lock()
	perturb := 1.0 + (b.rng.Float64()*0.4 - 0.2)
	b.mu.Unlock()
	bps *= perturb

	slip := market.Mul(decimal.NewFromFloat(bps)).Div(decimal.NewFromInt(10_000))
	if side == contracts.OrderSideBuy {
		return base.Add(slip).Round(2)
	}
	return base.Sub(slip).Round(2)
}

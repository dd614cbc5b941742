package signal

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/internal/marketdata"
	"github.com/wonny/kquant/internal/portfolio"
	"github.com/wonny/kquant/pkg/config"
	"github.com/wonny/kquant/pkg/logger"
)

// FeeEstimator estimates total fees for an order (구현은 execution.Calculator)
type FeeEstimator interface {
	EstimateFees(market contracts.Market, side contracts.OrderSide, qty int64, price decimal.Decimal) decimal.Decimal
}

// Validator is the gatekeeper between signal generation and execution.
// SELL/emergency_liquidation은 포지션 수 검사와 halt 검사에서 면제됨
// (리스크 축소 방향은 항상 허용).
type Validator struct {
	cfg         config.ValidationConfig
	maxLossPct  decimal.Decimal
	store       portfolio.Store
	reader      DataReader
	fees        FeeEstimator
	log         *logger.Logger
}

// NewValidator wires the signal validator
func NewValidator(cfg config.ValidationConfig, maxTotalLossPct float64, store portfolio.Store, reader DataReader, fees FeeEstimator, log *logger.Logger) *Validator {
	return &Validator{
		cfg:        cfg,
		maxLossPct: decimal.NewFromFloat(maxTotalLossPct),
		store:      store,
		reader:     reader,
		fees:       fees,
		log:        log,
	}
}

// Validate runs every gate against the signal and returns a structured result.
// 거부 사유는 reason에, 통과 가능한 최대 수량은 suggested_quantity에 담김.
func (v *Validator) Validate(ctx context.Context, userID string, sig *contracts.TradingSignal) (*contracts.ValidationResult, error) {
	metrics, err := v.store.GetRiskMetrics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load risk metrics: %w", err)
	}

	result := &contracts.ValidationResult{IsValid: true}

	// Halt: 매도는 항상 허용 (리스크 축소)
	if metrics.TradingHalted && !sig.IsExit() {
		return reject("trading halted: " + metrics.HaltReason), nil
	}

	// BUY 전용 게이트
	if !sig.IsExit() {
		if loss := metrics.TotalLossFromInitialPct; loss.GreaterThanOrEqual(v.maxLossPct) {
			return reject(fmt.Sprintf("total loss %s%% at or above ceiling %s%%", loss.StringFixed(2), v.maxLossPct.StringFixed(2))), nil
		}
		return v.validateBuy(ctx, userID, sig, metrics)
	}

	// SELL: 보유 수량 확인만
	pos, err := v.store.GetPosition(ctx, userID, sig.Ticker)
	if err != nil {
		if errors.Is(err, portfolio.ErrPositionNotFound) {
			return reject("no open position to sell"), nil
		}
		return nil, err
	}
	if sig.RecommendedShares > pos.Quantity {
		suggested := pos.Quantity
		r := reject(fmt.Sprintf("sell quantity %d exceeds held %d", sig.RecommendedShares, pos.Quantity))
		r.SuggestedQuantity = &suggested
		return r, nil
	}
	return result, nil
}

func (v *Validator) validateBuy(ctx context.Context, userID string, sig *contracts.TradingSignal, metrics *contracts.RiskMetrics) (*contracts.ValidationResult, error) {
	result := &contracts.ValidationResult{IsValid: true}

	// 데이터 신선도 + 품질
	score, err := v.reader.LatestScore(ctx, sig.Ticker)
	if err != nil {
		if errors.Is(err, marketdata.ErrStaleData) {
			return reject(fmt.Sprintf("data for %s exceeds %dh freshness bound", sig.Ticker, v.cfg.RequireRecentDataHours)), nil
		}
		if errors.Is(err, marketdata.ErrNotFound) {
			return reject("no score data for " + sig.Ticker), nil
		}
		return nil, err
	}
	if score.DataQuality < v.cfg.MinDataQualityScore {
		return reject(fmt.Sprintf("data quality %.0f below minimum %.0f", score.DataQuality, v.cfg.MinDataQualityScore)), nil
	}

	stock, err := v.reader.StockInfo(ctx, sig.Ticker)
	if err != nil {
		return nil, fmt.Errorf("stock info: %w", err)
	}

	positions, err := v.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	// 포지션 수 (주문 후 기준)
	count := len(positions)
	held := false
	for _, p := range positions {
		if p.Ticker == sig.Ticker {
			held = true
			break
		}
	}
	if !held {
		count++
	}
	if count > v.cfg.MaxPositions {
		return reject(fmt.Sprintf("position count %d would exceed limit %d", count, v.cfg.MaxPositions)), nil
	}

	total := metrics.TotalValue
	if total.Sign() <= 0 {
		return reject("portfolio value is not positive"), nil
	}

	orderValue := sig.CurrentPrice.Mul(decimal.NewFromInt(sig.RecommendedShares))

	// 종목 집중도
	var existingValue decimal.Decimal
	for _, p := range positions {
		if p.Ticker == sig.Ticker {
			existingValue = p.CurrentValue()
		}
	}
	maxConc := decimal.NewFromFloat(v.cfg.MaxConcentrationPct)
	weight := existingValue.Add(orderValue).Div(total).Mul(decimal.NewFromInt(100))
	if weight.GreaterThan(maxConc) {
		r := reject(fmt.Sprintf("position weight %s%% would exceed %s%%", weight.StringFixed(2), maxConc.StringFixed(1)))
		if suggested := v.maxQtyForBudget(total.Mul(maxConc).Div(decimal.NewFromInt(100)).Sub(existingValue), sig.CurrentPrice); suggested > 0 {
			r.SuggestedQuantity = &suggested
		}
		return r, nil
	}

	// 섹터 집중도
	sectorValue := orderValue
	for _, p := range positions {
		info, err := v.reader.StockInfo(ctx, p.Ticker)
		if err != nil {
			v.log.WithTicker(p.Ticker).WithError(err).Warn("sector lookup failed, excluding from concentration")
			continue
		}
		if info.Sector == stock.Sector {
			sectorValue = sectorValue.Add(p.CurrentValue())
		}
	}
	maxSector := decimal.NewFromFloat(v.cfg.MaxSectorConcentrationPct)
	sectorWeight := sectorValue.Div(total).Mul(decimal.NewFromInt(100))
	if sectorWeight.GreaterThan(maxSector) {
		return reject(fmt.Sprintf("sector %q weight %s%% would exceed %s%%", stock.Sector, sectorWeight.StringFixed(2), maxSector.StringFixed(1))), nil
	}

	// 현금: 주문 금액 + 예상 수수료
	estFees := decimal.Zero
	if v.fees != nil {
		estFees = v.fees.EstimateFees(stock.Market, contracts.OrderSideBuy, sig.RecommendedShares, sig.CurrentPrice)
	}
	required := orderValue.Add(estFees)
	if metrics.CashBalance.LessThan(required) {
		r := reject(fmt.Sprintf("insufficient cash: need %s, have %s", required.StringFixed(0), metrics.CashBalance.StringFixed(0)))
		if suggested := v.maxQtyForBudget(metrics.CashBalance, sig.CurrentPrice); suggested > 0 {
			r.SuggestedQuantity = &suggested
		}
		return r, nil
	}

	return result, nil
}

// maxQtyForBudget returns the largest share count affordable within budget.
// 수수료 여유분으로 0.1%를 제함.
func (v *Validator) maxQtyForBudget(budget, price decimal.Decimal) int64 {
	if budget.Sign() <= 0 || price.Sign() <= 0 {
		return 0
	}
	usable := budget.Mul(decimal.NewFromFloat(0.999))
	return usable.Div(price).IntPart()
}

func reject(reason string) *contracts.ValidationResult {
	return &contracts.ValidationResult{IsValid: false, Reason: reason}
}

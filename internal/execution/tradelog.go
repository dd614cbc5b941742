package execution

import (
	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
)

// TradeSummary aggregates the cash impact of a set of trades.
// 배치/일별 실행 리포트용.
type TradeSummary struct {
	Buys        int             `json:"buys"`
	Sells       int             `json:"sells"`
	FilledQty   int64           `json:"filled_qty"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
	Commission  decimal.Decimal `json:"commission"`
	Tax         decimal.Decimal `json:"tax"`
	NetCashFlow decimal.Decimal `json:"net_cash_flow"` // 매도 유입 − 매수 유출
}

// SummarizeTrades folds filled trades into a summary. 미체결은 집계 제외.
func SummarizeTrades(trades []*contracts.Trade) TradeSummary {
	var s TradeSummary
	for _, t := range trades {
		if t.ExecutedQty == 0 {
			continue
		}

		gross := t.ExecutedPrice.Mul(decimal.NewFromInt(t.ExecutedQty))
		s.FilledQty += t.ExecutedQty
		s.GrossAmount = s.GrossAmount.Add(gross)
		s.Commission = s.Commission.Add(t.Commission)
		s.Tax = s.Tax.Add(t.Tax)

		if t.Side == contracts.OrderSideBuy {
			s.Buys++
			s.NetCashFlow = s.NetCashFlow.Sub(gross.Add(t.Commission).Add(t.Tax))
		} else {
			s.Sells++
			s.NetCashFlow = s.NetCashFlow.Add(gross.Sub(t.Commission).Sub(t.Tax))
		}
	}
	return s
}

// Summary aggregates the batch's filled trades
func (b *BatchSummary) Summary() TradeSummary {
	return SummarizeTrades(b.Trades)
}

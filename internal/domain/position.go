package domain

import (
	"github.com/sarna320/scalp/pkg/quant"
)

// Position tracks a single subnet's holdings under average-cost
// accounting. All monetary values are strictly int64 rao.
//
// Invariant: TotalTaoSpentRao == 0 whenever TotalAlphaRao == 0. The ledger
// zeroes residual cost basis when a position fully closes so that integer
// rounding remainder cannot leak into the next position lifecycle.
type Position struct {
	NetUID            uint16 `json:"netuid"`
	TotalAlphaRao     int64  `json:"total_alpha_rao"`
	TotalTaoSpentRao  int64  `json:"total_tao_spent_rao"`
	RealizedProfitRao int64  `json:"realized_profit_rao"`
	TotalFeePaidRao   int64  `json:"total_fee_paid_rao"`
	NumTransactions   int64  `json:"num_transactions"`
	LastUpdatedUnixM  int64  `json:"last_updated_unix"`
}

// IsOpen reports whether the position holds any alpha.
func (p *Position) IsOpen() bool {
	return p.TotalAlphaRao > 0
}

// AvgEntryPriceRao returns the average entry price (TAO/alpha scaled by
// 10^9). Zero when the position is empty.
func (p *Position) AvgEntryPriceRao() quant.PriceRao {
	if p.TotalAlphaRao <= 0 {
		return 0
	}
	return quant.PriceRao(quant.MulDivFloor(p.TotalTaoSpentRao, quant.RaoPerTao, p.TotalAlphaRao))
}

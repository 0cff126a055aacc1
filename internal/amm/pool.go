package amm

import (
	"math/big"

	"github.com/sarna320/scalp/pkg/quant"
)

// Pool holds the integer reserves of a constant-product subnet pool.
// The invariant k = AlphaInRao * TaoInRao exceeds int64 range for real
// pools, so all reserve products go through math/big.
type Pool struct {
	AlphaInRao int64
	TaoInRao   int64
}

// SpotPriceRao returns the pool's spot price (TAO/alpha scaled by 10^9):
// taoIn * 10^9 / alphaIn. Zero when the alpha reserve is empty.
func (p Pool) SpotPriceRao() quant.PriceRao {
	if p.AlphaInRao <= 0 {
		return 0
	}
	price := new(big.Int).Mul(big.NewInt(p.TaoInRao), big.NewInt(quant.RaoPerTao))
	price.Quo(price, big.NewInt(p.AlphaInRao))
	return quant.PriceRao(quant.ClampInt64(price))
}

// MaxNetInflowUnderLimit returns the largest net alpha inflow such that
// the resulting spot price stays at or above limitPriceRao. Selling alpha
// into the pool grows the alpha reserve and depresses the price, so the
// bound follows from the constant-product invariant:
//
//	finalSpot = k * 10^9 / newAlpha^2 >= limit
//	newAlpha <= sqrt(k * 10^9 / limit)
//
// computed with an exact integer square root. Returns 0 when the pool is
// degenerate or already at/below the limit.
func (p Pool) MaxNetInflowUnderLimit(limitPriceRao quant.PriceRao) int64 {
	if p.AlphaInRao <= 0 || p.TaoInRao <= 0 || limitPriceRao <= 0 {
		return 0
	}

	k := new(big.Int).Mul(big.NewInt(p.AlphaInRao), big.NewInt(p.TaoInRao))
	rhs := new(big.Int).Mul(k, big.NewInt(quant.RaoPerTao))
	rhs.Quo(rhs, big.NewInt(int64(limitPriceRao)))
	if rhs.Sign() <= 0 {
		return 0
	}

	maxNewAlpha := new(big.Int).Sqrt(rhs)
	inflow := maxNewAlpha.Sub(maxNewAlpha, big.NewInt(p.AlphaInRao))
	if inflow.Sign() <= 0 {
		return 0
	}
	return quant.ClampInt64(inflow)
}

// Execute swaps netInflowRao alpha into the pool and returns the TAO paid
// out (floor division, never negative) along with the updated reserves.
func (p Pool) Execute(netInflowRao int64) (taoOutRao int64, after Pool) {
	if netInflowRao <= 0 || p.AlphaInRao <= 0 || p.TaoInRao <= 0 {
		return 0, p
	}

	k := new(big.Int).Mul(big.NewInt(p.AlphaInRao), big.NewInt(p.TaoInRao))
	newAlpha := p.AlphaInRao + netInflowRao
	newTao := new(big.Int).Quo(k, big.NewInt(newAlpha))

	taoOut := quant.ClampInt64(new(big.Int).Sub(big.NewInt(p.TaoInRao), newTao))
	if taoOut < 0 {
		taoOut = 0
	}

	return taoOut, Pool{
		AlphaInRao: newAlpha,
		TaoInRao:   p.TaoInRao - taoOut,
	}
}

// ExecuteBuy swaps taoInflowRao TAO into the pool and returns the alpha
// paid out. The pool retains ceil(k / newTao) alpha, so rounding always
// favors the reserves over the trader.
func (p Pool) ExecuteBuy(taoInflowRao int64) (alphaOutRao int64, after Pool) {
	if taoInflowRao <= 0 || p.AlphaInRao <= 0 || p.TaoInRao <= 0 {
		return 0, p
	}

	newTao := p.TaoInRao + taoInflowRao
	newAlpha := quant.MulDivCeil(p.AlphaInRao, p.TaoInRao, newTao)

	alphaOut := p.AlphaInRao - newAlpha
	if alphaOut < 0 {
		alphaOut = 0
	}

	return alphaOut, Pool{
		AlphaInRao: p.AlphaInRao - alphaOut,
		TaoInRao:   newTao,
	}
}

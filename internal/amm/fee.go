// Package amm models a constant-product subnet pool and the proportional
// alpha fee it charges, in exact integer arithmetic. Everything here is
// pure: no I/O, no state, no float64.
package amm

import (
	"github.com/sarna320/scalp/pkg/quant"
)

// DefaultAlphaFeePPM is the pool's proportional fee on the alpha side:
// 0.05% = 500 parts per million.
const DefaultAlphaFeePPM = 500

// AlphaFeeRao returns the alpha fee for a gross alpha amount, rounded up.
// Rounding up is conservative: the fee owed to the pool is never
// under-estimated. Non-positive input yields zero.
func AlphaFeeRao(alphaGrossRao, feePPM int64) int64 {
	if alphaGrossRao <= 0 {
		return 0
	}
	return quant.MulDivCeil(alphaGrossRao, feePPM, quant.PPMDen)
}

// NetAlphaIntoPoolRao returns the alpha that actually reaches the pool
// after the proportional fee.
func NetAlphaIntoPoolRao(alphaGrossRao, feePPM int64) int64 {
	net := alphaGrossRao - AlphaFeeRao(alphaGrossRao, feePPM)
	if net < 0 {
		return 0
	}
	return net
}

// MaxGrossAlphaForNetLimit returns the largest gross alpha whose
// net-after-fee does not exceed netLimitRao. The forward fee function is
// not exactly invertible under ceiling rounding, so an integer
// approximation is nudged up while still valid, then down while over.
//
// Postcondition: NetAlphaIntoPoolRao(result) <= netLimitRao, and the bound
// fails for result+1.
func MaxGrossAlphaForNetLimit(netLimitRao, feePPM int64) int64 {
	if netLimitRao <= 0 {
		return 0
	}

	denom := int64(quant.PPMDen) - feePPM
	if denom <= 0 {
		return 0
	}

	gross := quant.MulDivFloor(netLimitRao, quant.PPMDen, denom)

	for NetAlphaIntoPoolRao(gross+1, feePPM) <= netLimitRao {
		gross++
	}
	for gross > 0 && NetAlphaIntoPoolRao(gross, feePPM) > netLimitRao {
		gross--
	}

	return gross
}

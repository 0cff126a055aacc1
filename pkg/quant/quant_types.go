package quant

import (
	"fmt"
	"math"
	"math/big"
)

// PriceRao represents a TAO/alpha price scaled by 10^9.
// E.g., 1.5 TAO per alpha = 1,500,000,000 PriceRao.
type PriceRao int64

const (
	// RaoPerTao is the number of rao in one TAO (and one alpha). All
	// settlement-critical arithmetic happens in rao.
	RaoPerTao = 1_000_000_000

	// PPMDen is the denominator for parts-per-million ratios (fees,
	// profit multipliers, slippage tolerances).
	PPMDen = 1_000_000
)

func (p PriceRao) String() string {
	v := int64(p)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%09d", sign, v/RaoPerTao, v%RaoPerTao)
}

// CeilDiv returns ceil(a/b) for non-negative a and positive b.
func CeilDiv(a, b int64) int64 {
	if b <= 0 {
		panic("QUANT_CEIL_DIV_NONPOSITIVE_DENOM")
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// MulDivFloor returns floor(a*b/den) computed exactly. The intermediate
// product a*b routinely exceeds int64 (cost basis times quantity, reserve
// times UNIT), so it goes through math/big.
func MulDivFloor(a, b, den int64) int64 {
	if den <= 0 {
		panic("QUANT_MUL_DIV_NONPOSITIVE_DENOM")
	}
	if a < 0 || b < 0 {
		panic("QUANT_MUL_DIV_NEGATIVE_OPERAND")
	}
	q := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	q.Quo(q, big.NewInt(den))
	return toInt64(q)
}

// MulDivCeil returns ceil(a*b/den) computed exactly.
func MulDivCeil(a, b, den int64) int64 {
	if den <= 0 {
		panic("QUANT_MUL_DIV_NONPOSITIVE_DENOM")
	}
	if a < 0 || b < 0 {
		panic("QUANT_MUL_DIV_NEGATIVE_OPERAND")
	}
	q := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	q.Add(q, big.NewInt(den-1))
	q.Quo(q, big.NewInt(den))
	return toInt64(q)
}

func toInt64(x *big.Int) int64 {
	if !x.IsInt64() {
		panic("QUANT_RESULT_OVERFLOWS_INT64")
	}
	return x.Int64()
}

// ClampInt64 converts a big integer to int64, saturating at the int64
// bounds instead of panicking. Used where saturation is the documented
// behavior (pool depth estimates).
func ClampInt64(x *big.Int) int64 {
	if x.IsInt64() {
		return x.Int64()
	}
	if x.Sign() > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

package safe

import (
	"math"
)

// Overflow-checked int64 arithmetic for ledger accumulators. Position
// totals are rao amounts that must never wrap silently; an overflow here
// means the books are corrupt and the process must not keep trading.

// Add performs int64 addition and panics on overflow/underflow.
func Add(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("LEDGER_SAFE_ADD_OVERFLOW")
	}
	return a + b
}

// Sub performs int64 subtraction and panics on overflow/underflow.
func Sub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("LEDGER_SAFE_SUB_OVERFLOW")
	}
	return a - b
}

package quant

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Boundary parsing: human-entered decimal strings from the config file are
// converted to integers exactly once, here. No float64 on the way in.

// ParseTaoToRao converts a decimal TAO amount string (e.g. "0.000135688")
// to rao. The value must be non-negative and have at most 9 fractional
// digits.
func ParseTaoToRao(s string) (int64, error) {
	return parseScaled(s, 9)
}

// ParsePPM converts a decimal ratio string (e.g. "1.10" or "0.02") to
// parts-per-million. At most 6 fractional digits are allowed.
func ParsePPM(s string) (int64, error) {
	return parseScaled(s, 6)
}

func parseScaled(s string, shift int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("parse %q: negative values not allowed", s)
	}
	scaled := d.Shift(shift)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("parse %q: more than %d fractional digits", s, shift)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("parse %q: value out of range", s)
	}
	return scaled.IntPart(), nil
}

package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const maxInt64 = int64(^uint64(0) >> 1)

var pow10 = [...]int64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000,
	100_000_000, 1_000_000_000, 10_000_000_000, 100_000_000_000,
	1_000_000_000_000, 10_000_000_000_000, 100_000_000_000_000,
	1_000_000_000_000_000, 10_000_000_000_000_000, 100_000_000_000_000_000,
	1_000_000_000_000_000_000,
}

// Unit returns 10^scale.
func (s Scale) Unit() int64 {
	if s < 0 || int(s) >= len(pow10) {
		return 1
	}
	return pow10[s]
}

// ParseScaled converts a decimal string into an integer scaled by 10^scale.
// Excess fractional digits are truncated toward zero.
func ParseScaled(s string, scale Scale) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty decimal string")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	unit := scale.Unit()
	if whole > maxInt64/unit {
		return 0, fmt.Errorf("decimal %q overflows scale %d", s, scale)
	}
	value := whole * unit

	if len(fracPart) > int(scale) {
		fracPart = fracPart[:scale]
	}
	if fracPart != "" {
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
		}
		value += frac * pow10[int(scale)-len(fracPart)]
	}
	if neg {
		value = -value
	}
	return value, nil
}

// ParsePrice parses a decimal price string with the symbol's price scale.
func ParsePrice(s string, spec ScaleSpec) (Price, error) {
	v, err := ParseScaled(s, spec.PriceScale)
	return Price(v), err
}

// ParseQty parses a decimal quantity string with the symbol's quantity scale.
func ParseQty(s string, spec ScaleSpec) (Quantity, error) {
	v, err := ParseScaled(s, spec.QuantityScale)
	return Quantity(v), err
}

// FormatScaled renders a scaled integer back into a decimal string.
func FormatScaled(value int64, scale Scale) string {
	if scale <= 0 {
		return strconv.FormatInt(value, 10)
	}
	neg := value < 0
	u := value
	if neg {
		u = -u
	}
	unit := scale.Unit()
	whole := u / unit
	frac := u % unit
	out := strconv.FormatInt(whole, 10)
	if frac != 0 {
		digits := strconv.FormatInt(frac, 10)
		pad := int(scale) - len(digits)
		out += "." + strings.Repeat("0", pad) + digits
		out = strings.TrimRight(out, "0")
		out = strings.TrimSuffix(out, ".")
	}
	if neg {
		out = "-" + out
	}
	return out
}

// FormatPrice renders a price with the symbol's price scale.
func FormatPrice(p Price, spec ScaleSpec) string {
	return FormatScaled(int64(p), spec.PriceScale)
}

// FormatQty renders a quantity with the symbol's quantity scale.
func FormatQty(q Quantity, spec ScaleSpec) string {
	return FormatScaled(int64(q), spec.QuantityScale)
}

// Float converts a scaled integer to float64. Only for derived ratio
// metrics and display, never for position accounting.
func (s Scale) Float(value int64) float64 {
	return float64(value) / float64(s.Unit())
}

// MulPQ computes price*qty as a notional in the price scale, dividing out
// the quantity scale. The second return reports int64 overflow.
func MulPQ(p Price, q Quantity, spec ScaleSpec) (Notional, bool) {
	pv, qv := int64(p), int64(q)
	if pv == 0 || qv == 0 {
		return 0, false
	}
	ap, aq := pv, qv
	if ap < 0 {
		ap = -ap
	}
	if aq < 0 {
		aq = -aq
	}
	if ap > maxInt64/aq {
		// fall back to float path to keep magnitudes sane
		f := float64(pv) * float64(qv) / float64(spec.QuantityScale.Unit())
		if math.Abs(f) >= float64(maxInt64) {
			return 0, true
		}
		return Notional(f), false
	}
	return Notional(pv * qv / spec.QuantityScale.Unit()), false
}

// AbsQty returns the absolute value of a quantity.
func AbsQty(q Quantity) Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// AbsNotional returns the absolute value of a notional.
func AbsNotional(n Notional) Notional {
	if n < 0 {
		return -n
	}
	return n
}

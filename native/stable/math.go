package stable

import (
	"strings"

	"github.com/holiman/uint256"
)

var (
	// wad is the 18-decimal fixed-point unit shared by prices, values and
	// health factors.
	wad = uint256.NewInt(1_000_000_000_000_000_000)
	// maxHealthFactor stands in for infinite solvency when a position has no debt.
	maxHealthFactor = new(uint256.Int).SetAllOne()
)

// MaxHealthFactor returns the value reported for positions without debt.
func MaxHealthFactor() *uint256.Int { return maxHealthFactor.Clone() }

// Wad returns 1.0 in the engine's fixed-point scale.
func Wad() *uint256.Int { return wad.Clone() }

// mulDiv computes floor(x*y/d) with a 512-bit intermediate and fails when the
// quotient does not fit in 256 bits.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrValuationOverflow
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrValuationOverflow
	}
	return z, nil
}

func checkedAdd(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrValuationOverflow
	}
	return z, nil
}

func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

func isZero(v *uint256.Int) bool { return v == nil || v.IsZero() }

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// FormatWad renders an 18-decimal fixed-point value as a decimal string with
// trailing zeros trimmed. The no-debt sentinel renders as "max".
func FormatWad(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	if v.Eq(maxHealthFactor) {
		return "max"
	}
	whole, frac := new(uint256.Int).DivMod(v, wad, new(uint256.Int))
	if frac.IsZero() {
		return whole.Dec()
	}
	digits := frac.Dec()
	digits = strings.Repeat("0", 18-len(digits)) + digits
	return whole.Dec() + "." + strings.TrimRight(digits, "0")
}

package stable

import (
	"fmt"

	"github.com/holiman/uint256"
)

const moduleName = "stable"

// Params holds the numeric constants fixed at construction.
type Params struct {
	// LiquidationThreshold over LiquidationPrecision is the share of raw
	// collateral value that counts towards solvency, e.g. 50/100.
	LiquidationThreshold uint64
	LiquidationPrecision uint64
	// LiquidationBonusDivisor sets the liquidator bonus to seized/divisor,
	// e.g. 10 for a 10% bonus.
	LiquidationBonusDivisor uint64
	// MinHealthFactor is 1.0 in 18-decimal fixed point unless overridden.
	MinHealthFactor *uint256.Int
}

// DefaultParams returns a 200% overcollateralised configuration with a 10%
// liquidation bonus.
func DefaultParams() Params {
	return Params{
		LiquidationThreshold:    50,
		LiquidationPrecision:    100,
		LiquidationBonusDivisor: 10,
		MinHealthFactor:         wad.Clone(),
	}
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	if p.MinHealthFactor != nil {
		clone.MinHealthFactor = p.MinHealthFactor.Clone()
	}
	return clone
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.LiquidationPrecision == 0 {
		return fmt.Errorf("%w: liquidation precision must be positive", ErrInvalidParams)
	}
	if p.LiquidationThreshold == 0 || p.LiquidationThreshold > p.LiquidationPrecision {
		return fmt.Errorf("%w: liquidation threshold must be in (0, %d]", ErrInvalidParams, p.LiquidationPrecision)
	}
	if p.LiquidationBonusDivisor == 0 {
		return fmt.Errorf("%w: liquidation bonus divisor must be positive", ErrInvalidParams)
	}
	if isZero(p.MinHealthFactor) {
		return fmt.Errorf("%w: minimum health factor must be positive", ErrInvalidParams)
	}
	return nil
}

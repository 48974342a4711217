package stable

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// HealthCalculator derives the solvency ratio of a position. A health factor of
// 1e18 means the threshold-adjusted collateral exactly covers the debt.
type HealthCalculator struct {
	params    Params
	debts     *DebtLedger
	valuation *Valuation
}

// CalculateHealthFactor computes
// (collateralValue × threshold / precision) × 1e18 / debt, or the maximum
// value when debt is zero.
func (h *HealthCalculator) CalculateHealthFactor(debt, collateralValue *uint256.Int) (*uint256.Int, error) {
	if isZero(debt) {
		return MaxHealthFactor(), nil
	}
	adjusted, err := mulDiv(zeroIfNil(collateralValue),
		uint256.NewInt(h.params.LiquidationThreshold),
		uint256.NewInt(h.params.LiquidationPrecision))
	if err != nil {
		return nil, fmt.Errorf("adjust collateral: %w", err)
	}
	hf, err := mulDiv(adjusted, wad, debt)
	if err != nil {
		return nil, fmt.Errorf("health factor: %w", err)
	}
	return hf, nil
}

// HealthFactorOf evaluates user's current position against fresh prices.
func (h *HealthCalculator) HealthFactorOf(ctx context.Context, user common.Address) (*uint256.Int, error) {
	debt := h.debts.DebtOf(user)
	if debt.IsZero() {
		return MaxHealthFactor(), nil
	}
	value, err := h.valuation.TotalValueOf(ctx, user)
	if err != nil {
		return nil, err
	}
	return h.CalculateHealthFactor(debt, value)
}

// IsHealthy reports whether user's health factor meets the minimum, returning
// the computed factor alongside.
func (h *HealthCalculator) IsHealthy(ctx context.Context, user common.Address) (bool, *uint256.Int, error) {
	hf, err := h.HealthFactorOf(ctx, user)
	if err != nil {
		return false, nil, err
	}
	return !hf.Lt(h.params.MinHealthFactor), hf, nil
}

// revertIfBroken is the shared post-condition for paths that can weaken a
// position.
func (h *HealthCalculator) revertIfBroken(ctx context.Context, user common.Address) error {
	healthy, hf, err := h.IsHealthy(ctx, user)
	if err != nil {
		return err
	}
	if !healthy {
		return &BreaksHealthFactorError{User: user, HealthFactor: hf}
	}
	return nil
}

package stable

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/core/events"
)

// Liquidate lets liquidator repay debtToCover of user's debt in exchange for
// the equivalent quantity of token plus a bonus of 1/LiquidationBonusDivisor.
// The position must start below the minimum health factor and must end
// strictly healthier. Seizing more of token than user deposited fails.
func (e *Engine) Liquidate(ctx context.Context, liquidator, user, token common.Address, debtToCover *uint256.Int) (*LiquidationResult, error) {
	var result *LiquidationResult
	id, err := e.execute(ctx, opLiquidate, func(op *operation) error {
		if isZero(debtToCover) {
			return ErrNeedsMoreThanZero
		}
		if _, err := e.assets.lookup(token); err != nil {
			return err
		}
		healthy, starting, err := e.health.IsHealthy(op.ctx, user)
		if err != nil {
			return err
		}
		if healthy {
			return &HealthFactorOkError{User: user, HealthFactor: starting}
		}

		covered, err := e.valuation.QuantityOf(op.ctx, token, debtToCover)
		if err != nil {
			return err
		}
		bonus := new(uint256.Int).Div(covered, uint256.NewInt(e.params.LiquidationBonusDivisor))
		seized, err := checkedAdd(covered, bonus)
		if err != nil {
			return fmt.Errorf("seized collateral: %w", err)
		}

		if err := e.stageRedeem(op, user, liquidator, token, seized); err != nil {
			return err
		}
		if err := e.stageBurn(op, user, liquidator, debtToCover); err != nil {
			return err
		}

		ending, err := e.health.HealthFactorOf(op.ctx, user)
		if err != nil {
			return err
		}
		if !ending.Gt(starting) {
			return fmt.Errorf("%w: %s from %s to %s", ErrHealthFactorNotImproved,
				user.Hex(), FormatWad(starting), FormatWad(ending))
		}
		if err := e.health.revertIfBroken(op.ctx, liquidator); err != nil {
			return err
		}

		repaid := debtToCover.Clone()
		op.emit(events.PositionLiquidated{
			OperationID:      op.id,
			Liquidator:       liquidator,
			User:             user,
			Asset:            token,
			DebtRepaid:       repaid,
			CollateralSeized: seized,
		})
		result = &LiquidationResult{
			DebtRepaid:           repaid,
			CollateralSeized:     seized,
			Bonus:                bonus,
			StartingHealthFactor: starting,
			EndingHealthFactor:   ending,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.OperationID = id
	e.metrics.RecordLiquidation(token, result.DebtRepaid, result.CollateralSeized)
	e.logger.InfoContext(ctx, "position liquidated",
		"operationId", id,
		"user", user.Hex(),
		"liquidator", liquidator.Hex(),
		"asset", token.Hex(),
		"debtRepaid", result.DebtRepaid.Dec(),
		"collateralSeized", result.CollateralSeized.Dec(),
		"endingHealthFactor", FormatWad(result.EndingHealthFactor))
	return result, nil
}

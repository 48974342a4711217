package stable

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/core/events"
)

// DepositCollateral pulls amount of token from user into custody and credits
// user's position.
func (e *Engine) DepositCollateral(ctx context.Context, user, token common.Address, amount *uint256.Int) error {
	_, err := e.execute(ctx, opDeposit, func(op *operation) error {
		if err := e.guard(); err != nil {
			return err
		}
		return e.stageDeposit(op, user, token, amount)
	})
	return err
}

// MintDebt issues amount of the stable asset to user against their
// collateral. The resulting position must stay at or above the minimum health
// factor.
func (e *Engine) MintDebt(ctx context.Context, user common.Address, amount *uint256.Int) error {
	_, err := e.execute(ctx, opMint, func(op *operation) error {
		if err := e.guard(); err != nil {
			return err
		}
		if err := e.stageMint(op, user, amount); err != nil {
			return err
		}
		return e.health.revertIfBroken(op.ctx, user)
	})
	return err
}

// DepositAndMint deposits collateral and mints debt as one all-or-nothing
// operation.
func (e *Engine) DepositAndMint(ctx context.Context, user, token common.Address, collateralAmount, mintAmount *uint256.Int) error {
	_, err := e.execute(ctx, opDepositAndMint, func(op *operation) error {
		if err := e.guard(); err != nil {
			return err
		}
		if err := e.stageDeposit(op, user, token, collateralAmount); err != nil {
			return err
		}
		if err := e.stageMint(op, user, mintAmount); err != nil {
			return err
		}
		return e.health.revertIfBroken(op.ctx, user)
	})
	return err
}

// RedeemCollateral returns amount of token from user's position to user.
func (e *Engine) RedeemCollateral(ctx context.Context, user, token common.Address, amount *uint256.Int) error {
	_, err := e.execute(ctx, opRedeem, func(op *operation) error {
		if err := e.guard(); err != nil {
			return err
		}
		if isZero(amount) {
			return ErrNeedsMoreThanZero
		}
		if err := e.stageRedeem(op, user, user, token, amount); err != nil {
			return err
		}
		return e.health.revertIfBroken(op.ctx, user)
	})
	return err
}

// BurnDebt repays amount of user's debt with the stable asset user holds.
// Burning only improves the position, so pauses do not apply.
func (e *Engine) BurnDebt(ctx context.Context, user common.Address, amount *uint256.Int) error {
	_, err := e.execute(ctx, opBurn, func(op *operation) error {
		if isZero(amount) {
			return ErrNeedsMoreThanZero
		}
		return e.stageBurn(op, user, user, amount)
	})
	return err
}

// RedeemCollateralForDebt burns burnAmount of user's debt and then redeems
// collateralAmount of token, checking health once at the end.
func (e *Engine) RedeemCollateralForDebt(ctx context.Context, user, token common.Address, collateralAmount, burnAmount *uint256.Int) error {
	_, err := e.execute(ctx, opRedeemForDebt, func(op *operation) error {
		if err := e.guard(); err != nil {
			return err
		}
		if isZero(collateralAmount) || isZero(burnAmount) {
			return ErrNeedsMoreThanZero
		}
		if err := e.stageBurn(op, user, user, burnAmount); err != nil {
			return err
		}
		if err := e.stageRedeem(op, user, user, token, collateralAmount); err != nil {
			return err
		}
		return e.health.revertIfBroken(op.ctx, user)
	})
	return err
}

func (e *Engine) stageDeposit(op *operation, user, token common.Address, amount *uint256.Int) error {
	if isZero(amount) {
		return ErrNeedsMoreThanZero
	}
	asset, err := e.assets.lookup(token)
	if err != nil {
		return err
	}
	if err := e.collateral.increase(op.journal, user, token, amount); err != nil {
		return err
	}
	amt := amount.Clone()
	op.queue(effect{
		name: "collateral transfer in",
		apply: func(ctx context.Context) error {
			ok, err := asset.handle.TransferFrom(ctx, user, e.self, amt)
			return effectResult(ok, err, ErrTransferFailed)
		},
		undo: func(ctx context.Context) error {
			ok, err := asset.handle.Transfer(ctx, user, amt)
			return effectResult(ok, err, ErrTransferFailed)
		},
	})
	op.emit(events.CollateralDeposited{OperationID: op.id, User: user, Asset: token, Amount: amt})
	return nil
}

func (e *Engine) stageMint(op *operation, user common.Address, amount *uint256.Int) error {
	if isZero(amount) {
		return ErrNeedsMoreThanZero
	}
	if err := e.debts.increase(op.journal, user, amount); err != nil {
		return err
	}
	amt := amount.Clone()
	op.queue(effect{
		name: "stable mint",
		apply: func(ctx context.Context) error {
			ok, err := e.stable.Mint(ctx, user, amt)
			return effectResult(ok, err, ErrMintFailed)
		},
	})
	op.emit(events.DebtMinted{OperationID: op.id, User: user, Amount: amt})
	return nil
}

// stageRedeem moves amount of token out of from's position and sends it to to.
// A zero amount updates nothing and queues no transfer.
func (e *Engine) stageRedeem(op *operation, from, to, token common.Address, amount *uint256.Int) error {
	asset, err := e.assets.lookup(token)
	if err != nil {
		return err
	}
	amt := zeroIfNil(amount).Clone()
	if err := e.collateral.decrease(op.journal, from, token, amt); err != nil {
		return err
	}
	op.emit(events.CollateralRedeemed{OperationID: op.id, From: from, To: to, Asset: token, Amount: amt})
	if amt.IsZero() {
		return nil
	}
	op.queue(effect{
		name: "collateral transfer out",
		apply: func(ctx context.Context) error {
			ok, err := asset.handle.Transfer(ctx, to, amt)
			return effectResult(ok, err, ErrTransferFailed)
		},
	})
	return nil
}

// stageBurn reduces onBehalfOf's debt by amount, pulling the stable asset from
// payer into custody and destroying it there.
func (e *Engine) stageBurn(op *operation, onBehalfOf, payer common.Address, amount *uint256.Int) error {
	amt := zeroIfNil(amount).Clone()
	if err := e.debts.decrease(op.journal, onBehalfOf, amt); err != nil {
		return err
	}
	op.emit(events.DebtBurned{OperationID: op.id, User: onBehalfOf, Payer: payer, Amount: amt})
	if amt.IsZero() {
		return nil
	}
	op.queue(effect{
		name: "stable transfer in",
		apply: func(ctx context.Context) error {
			ok, err := e.stable.TransferFrom(ctx, payer, e.self, amt)
			return effectResult(ok, err, ErrTransferFailed)
		},
		undo: func(ctx context.Context) error {
			ok, err := e.stable.Transfer(ctx, payer, amt)
			return effectResult(ok, err, ErrTransferFailed)
		},
	})
	op.queue(effect{
		name: "stable burn",
		apply: func(ctx context.Context) error {
			ok, err := e.stable.Burn(ctx, amt)
			return effectResult(ok, err, ErrTransferFailed)
		},
		undo: func(ctx context.Context) error {
			ok, err := e.stable.Mint(ctx, e.self, amt)
			return effectResult(ok, err, ErrMintFailed)
		},
	})
	return nil
}

package token

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Handle is a Ledger bound to one calling account. It reports rejected calls
// the way token contracts do: a false success with no error. Only storage and
// context failures surface as errors.
type Handle struct {
	ledger *Ledger
	caller common.Address
}

// Bind returns a handle that acts as caller.
func (l *Ledger) Bind(caller common.Address) *Handle {
	return &Handle{ledger: l, caller: caller}
}

func (h *Handle) Caller() common.Address { return h.caller }

func (h *Handle) Decimals() uint8 { return h.ledger.decimals }

func (h *Handle) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.ledger.BalanceOf(owner), nil
}

func (h *Handle) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return outcome(h.ledger.Transfer(h.caller, to, amount))
}

func (h *Handle) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return outcome(h.ledger.TransferFrom(h.caller, from, to, amount))
}

func (h *Handle) Mint(ctx context.Context, to common.Address, amount *uint256.Int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return outcome(h.ledger.Mint(h.caller, to, amount))
}

func (h *Handle) Burn(ctx context.Context, amount *uint256.Int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return outcome(h.ledger.Burn(h.caller, amount))
}

// outcome maps ledger rule violations to a plain false.
func outcome(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientAllowance),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrZeroAddress),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSupplyOverflow):
		return false, nil
	default:
		return false, err
	}
}

package stable

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Capabilities are bound to the engine's own address: Transfer moves the
// engine's balance, TransferFrom spends an allowance granted to the engine and
// Burn destroys the engine's balance. A false success with a nil error is a
// failure.
//
// Capability calls run while the engine holds its write lock. An
// implementation that calls back into the engine synchronously must pass the
// ctx it received: mutations then fail with ErrReentrantCall and reads see the
// staged state. A call made with any other context blocks until the running
// operation finishes, so it deadlocks if the capability waits for it.

// CollateralAsset is the fungible-token surface consumed for each admitted
// token. Re-entrant engine calls must reuse the ctx passed to the method.
type CollateralAsset interface {
	Decimals() uint8
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (bool, error)
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) (bool, error)
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
}

// StableAsset is the synthetic asset the engine mints and burns. Re-entrant
// engine calls must reuse the ctx passed to the method.
type StableAsset interface {
	Mint(ctx context.Context, to common.Address, amount *uint256.Int) (bool, error)
	Burn(ctx context.Context, amount *uint256.Int) (bool, error)
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (bool, error)
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) (bool, error)
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
}

// CollateralSource resolves the token handle for an admitted collateral token.
type CollateralSource interface {
	Collateral(token common.Address) (CollateralAsset, bool)
}

// CollateralMap is a CollateralSource backed by a plain map.
type CollateralMap map[common.Address]CollateralAsset

// Collateral implements CollateralSource.
func (m CollateralMap) Collateral(token common.Address) (CollateralAsset, bool) {
	asset, ok := m[token]
	return asset, ok && asset != nil
}

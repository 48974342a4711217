package stable

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset is an admitted collateral type.
type Asset struct {
	// Token identifies the collateral token.
	Token common.Address
	// Feed identifies the price feed quoting Token in the common currency.
	Feed common.Address
	// Decimals is the token's native precision; one whole unit is 10^Decimals.
	Decimals uint8

	unit   *uint256.Int
	handle CollateralAsset
}

// Unit returns 10^Decimals.
func (a Asset) Unit() *uint256.Int { return a.unit.Clone() }

// AccountInformation summarises a position in common-currency terms.
type AccountInformation struct {
	TotalDebt       *uint256.Int
	CollateralValue *uint256.Int
}

// Position is the aggregate view over both ledgers for one user.
type Position struct {
	User            common.Address
	Debt            *uint256.Int
	Collateral      map[common.Address]*uint256.Int
	CollateralValue *uint256.Int
	HealthFactor    *uint256.Int
}

// LiquidationResult reports what a successful liquidation moved.
type LiquidationResult struct {
	OperationID          string
	DebtRepaid           *uint256.Int
	CollateralSeized     *uint256.Int
	Bonus                *uint256.Int
	StartingHealthFactor *uint256.Int
	EndingHealthFactor   *uint256.Int
}

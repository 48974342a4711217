package events

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/core/types"
)

const (
	// TypeCollateralDeposited is emitted when collateral is locked in a position.
	TypeCollateralDeposited = "stable.collateral.deposited"
	// TypeCollateralRedeemed is emitted when collateral leaves a position, either
	// back to its owner or to a liquidator.
	TypeCollateralRedeemed = "stable.collateral.redeemed"
	// TypeDebtMinted is emitted when stable debt is issued against a position.
	TypeDebtMinted = "stable.debt.minted"
	// TypeDebtBurned is emitted when stable debt is repaid and burned.
	TypeDebtBurned = "stable.debt.burned"
	// TypePositionLiquidated is emitted once per successful liquidation.
	TypePositionLiquidated = "stable.position.liquidated"
)

type CollateralDeposited struct {
	OperationID string
	User        common.Address
	Asset       common.Address
	Amount      *uint256.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"operationId": strings.TrimSpace(e.OperationID),
			"user":        e.User.Hex(),
			"asset":       e.Asset.Hex(),
			"amount":      amountString(e.Amount),
		},
	}
}

// CollateralRedeemed records collateral leaving From's position. From equals To
// for self-redemption and differs during liquidation.
type CollateralRedeemed struct {
	OperationID string
	From        common.Address
	To          common.Address
	Asset       common.Address
	Amount      *uint256.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"operationId": strings.TrimSpace(e.OperationID),
			"from":        e.From.Hex(),
			"to":          e.To.Hex(),
			"asset":       e.Asset.Hex(),
			"amount":      amountString(e.Amount),
		},
	}
}

type DebtMinted struct {
	OperationID string
	User        common.Address
	Amount      *uint256.Int
}

func (DebtMinted) EventType() string { return TypeDebtMinted }

func (e DebtMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtMinted,
		Attributes: map[string]string{
			"operationId": strings.TrimSpace(e.OperationID),
			"user":        e.User.Hex(),
			"amount":      amountString(e.Amount),
		},
	}
}

// DebtBurned records User's debt shrinking by Amount. Payer supplied the stable
// asset and equals User unless the burn is part of a liquidation.
type DebtBurned struct {
	OperationID string
	User        common.Address
	Payer       common.Address
	Amount      *uint256.Int
}

func (DebtBurned) EventType() string { return TypeDebtBurned }

func (e DebtBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtBurned,
		Attributes: map[string]string{
			"operationId": strings.TrimSpace(e.OperationID),
			"user":        e.User.Hex(),
			"payer":       e.Payer.Hex(),
			"amount":      amountString(e.Amount),
		},
	}
}

type PositionLiquidated struct {
	OperationID      string
	Liquidator       common.Address
	User             common.Address
	Asset            common.Address
	DebtRepaid       *uint256.Int
	CollateralSeized *uint256.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionLiquidated,
		Attributes: map[string]string{
			"operationId":      strings.TrimSpace(e.OperationID),
			"liquidator":       e.Liquidator.Hex(),
			"user":             e.User.Hex(),
			"asset":            e.Asset.Hex(),
			"debtRepaid":       amountString(e.DebtRepaid),
			"collateralSeized": amountString(e.CollateralSeized),
		},
	}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

package stable

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/core/pricing"
)

// assetTable is the immutable admission list in configuration order.
type assetTable struct {
	order   []common.Address
	byToken map[common.Address]*Asset
}

func (t *assetTable) lookup(token common.Address) (*Asset, error) {
	asset, ok := t.byToken[token]
	if !ok {
		return nil, &NotAllowedTokenError{Token: token}
	}
	return asset, nil
}

// Valuation converts between asset quantities and common-currency value.
// Values carry 18 decimals; it holds no state of its own.
type Valuation struct {
	adapter *pricing.Adapter
	assets  *assetTable
	ledger  *CollateralLedger
}

func (v *Valuation) price(ctx context.Context, asset *Asset) (*uint256.Int, error) {
	quote, err := v.adapter.Quote(ctx, asset.Token, asset.Feed)
	if err != nil {
		return nil, err
	}
	return quote.Price, nil
}

// ValueOf returns quantity × price / 10^decimals, floored.
func (v *Valuation) ValueOf(ctx context.Context, token common.Address, quantity *uint256.Int) (*uint256.Int, error) {
	asset, err := v.assets.lookup(token)
	if err != nil {
		return nil, err
	}
	return v.valueOf(ctx, asset, quantity)
}

func (v *Valuation) valueOf(ctx context.Context, asset *Asset, quantity *uint256.Int) (*uint256.Int, error) {
	if isZero(quantity) {
		return new(uint256.Int), nil
	}
	price, err := v.price(ctx, asset)
	if err != nil {
		return nil, err
	}
	value, err := mulDiv(quantity, price, asset.unit)
	if err != nil {
		return nil, fmt.Errorf("value of %s %s: %w", quantity.Dec(), asset.Token.Hex(), err)
	}
	return value, nil
}

// QuantityOf returns value × 10^decimals / price, floored. Round trips through
// ValueOf never return more than the original quantity.
func (v *Valuation) QuantityOf(ctx context.Context, token common.Address, value *uint256.Int) (*uint256.Int, error) {
	asset, err := v.assets.lookup(token)
	if err != nil {
		return nil, err
	}
	if isZero(value) {
		return new(uint256.Int), nil
	}
	price, err := v.price(ctx, asset)
	if err != nil {
		return nil, err
	}
	quantity, err := mulDiv(value, asset.unit, price)
	if err != nil {
		return nil, fmt.Errorf("quantity of %s in %s: %w", value.Dec(), asset.Token.Hex(), err)
	}
	return quantity, nil
}

// TotalValueOf sums the value of every admitted asset deposited by user.
func (v *Valuation) TotalValueOf(ctx context.Context, user common.Address) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, token := range v.assets.order {
		balance := v.ledger.BalanceOf(user, token)
		if balance.IsZero() {
			continue
		}
		value, err := v.valueOf(ctx, v.assets.byToken[token], balance)
		if err != nil {
			return nil, err
		}
		if total, err = checkedAdd(total, value); err != nil {
			return nil, fmt.Errorf("total collateral value of %s: %w", user.Hex(), err)
		}
	}
	return total, nil
}

package stable

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type collateralKey struct {
	user  common.Address
	asset common.Address
}

// journal records how to undo the ledger writes of one operation and which
// entries it touched.
type journal struct {
	undo       []func()
	collateral map[collateralKey]struct{}
	debt       map[common.Address]struct{}
}

func newJournal() *journal {
	return &journal{
		collateral: make(map[collateralKey]struct{}),
		debt:       make(map[common.Address]struct{}),
	}
}

func (j *journal) record(fn func()) { j.undo = append(j.undo, fn) }

// revert restores every recorded write, newest first.
func (j *journal) revert() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// CollateralLedger maps (user, asset) to the deposited quantity in the asset's
// smallest unit. Entries never go negative.
type CollateralLedger struct {
	balances map[common.Address]map[common.Address]*uint256.Int
}

func newCollateralLedger() *CollateralLedger {
	return &CollateralLedger{balances: make(map[common.Address]map[common.Address]*uint256.Int)}
}

// BalanceOf returns a copy of the deposited quantity, zero when absent.
func (l *CollateralLedger) BalanceOf(user, asset common.Address) *uint256.Int {
	if bal, ok := l.balances[user][asset]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// Assets returns the non-zero balances held by user.
func (l *CollateralLedger) Assets(user common.Address) map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(l.balances[user]))
	for asset, bal := range l.balances[user] {
		out[asset] = bal.Clone()
	}
	return out
}

func (l *CollateralLedger) set(user, asset common.Address, value *uint256.Int) {
	if value == nil || value.IsZero() {
		if assets, ok := l.balances[user]; ok {
			delete(assets, asset)
			if len(assets) == 0 {
				delete(l.balances, user)
			}
		}
		return
	}
	assets, ok := l.balances[user]
	if !ok {
		assets = make(map[common.Address]*uint256.Int)
		l.balances[user] = assets
	}
	assets[asset] = value
}

func (l *CollateralLedger) write(j *journal, user, asset common.Address, next *uint256.Int) {
	prev := l.BalanceOf(user, asset)
	j.record(func() { l.set(user, asset, prev) })
	j.collateral[collateralKey{user: user, asset: asset}] = struct{}{}
	l.set(user, asset, next)
}

func (l *CollateralLedger) increase(j *journal, user, asset common.Address, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(l.BalanceOf(user, asset), amount)
	if overflow {
		return fmt.Errorf("%w: collateral balance", ErrValuationOverflow)
	}
	l.write(j, user, asset, next)
	return nil
}

func (l *CollateralLedger) decrease(j *journal, user, asset common.Address, amount *uint256.Int) error {
	current := l.BalanceOf(user, asset)
	if current.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			ErrInsufficientCollateral, user.Hex(), current.Dec(), asset.Hex(), amount.Dec())
	}
	l.write(j, user, asset, new(uint256.Int).Sub(current, amount))
	return nil
}

// DebtLedger maps user to minted stable debt. Entries never go negative.
type DebtLedger struct {
	debts map[common.Address]*uint256.Int
	total *uint256.Int
}

func newDebtLedger() *DebtLedger {
	return &DebtLedger{debts: make(map[common.Address]*uint256.Int), total: new(uint256.Int)}
}

// DebtOf returns a copy of user's debt, zero when absent.
func (l *DebtLedger) DebtOf(user common.Address) *uint256.Int {
	if debt, ok := l.debts[user]; ok {
		return debt.Clone()
	}
	return new(uint256.Int)
}

// Total returns the aggregate outstanding debt.
func (l *DebtLedger) Total() *uint256.Int { return l.total.Clone() }

func (l *DebtLedger) set(user common.Address, value *uint256.Int) {
	if value == nil || value.IsZero() {
		delete(l.debts, user)
		return
	}
	l.debts[user] = value
}

func (l *DebtLedger) write(j *journal, user common.Address, next, nextTotal *uint256.Int) {
	prev := l.DebtOf(user)
	prevTotal := l.total.Clone()
	j.record(func() {
		l.set(user, prev)
		l.total = prevTotal
	})
	j.debt[user] = struct{}{}
	l.set(user, next)
	l.total = nextTotal
}

func (l *DebtLedger) increase(j *journal, user common.Address, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(l.DebtOf(user), amount)
	if overflow {
		return fmt.Errorf("%w: debt balance", ErrValuationOverflow)
	}
	total, overflow := new(uint256.Int).AddOverflow(l.total, amount)
	if overflow {
		return fmt.Errorf("%w: total debt", ErrValuationOverflow)
	}
	l.write(j, user, next, total)
	return nil
}

func (l *DebtLedger) decrease(j *journal, user common.Address, amount *uint256.Int) error {
	current := l.DebtOf(user)
	if current.Lt(amount) {
		return fmt.Errorf("%w: %s owes %s, burn of %s requested",
			ErrBurnExceedsDebt, user.Hex(), current.Dec(), amount.Dec())
	}
	l.write(j, user, new(uint256.Int).Sub(current, amount), new(uint256.Int).Sub(l.total, amount))
	return nil
}

package stable

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/storage"
)

var (
	collateralPrefix = []byte("stable/collateral/")
	debtPrefix       = []byte("stable/debt/")
)

func collateralStorageKey(user, asset common.Address) []byte {
	key := make([]byte, 0, len(collateralPrefix)+2*common.AddressLength)
	key = append(key, collateralPrefix...)
	key = append(key, user.Bytes()...)
	return append(key, asset.Bytes()...)
}

func debtStorageKey(user common.Address) []byte {
	key := make([]byte, 0, len(debtPrefix)+common.AddressLength)
	key = append(key, debtPrefix...)
	return append(key, user.Bytes()...)
}

func putAmount(batch *storage.Batch, key []byte, amount *uint256.Int) {
	if amount.IsZero() {
		batch.Delete(key)
		return
	}
	value := amount.Bytes32()
	batch.Put(key, value[:])
}

// persist writes the current value of every ledger entry touched by op as a
// single batch.
func (e *Engine) persist(op *operation) error {
	if e.store == nil {
		return nil
	}
	batch := storage.NewBatch()
	for key := range op.journal.collateral {
		putAmount(batch, collateralStorageKey(key.user, key.asset), e.collateral.BalanceOf(key.user, key.asset))
	}
	for user := range op.journal.debt {
		putAmount(batch, debtStorageKey(user), e.debts.DebtOf(user))
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := e.store.Write(batch); err != nil {
		return fmt.Errorf("stable engine: persist ledgers: %w", err)
	}
	return nil
}

// restore loads committed ledgers from the store. Balances recorded for a
// token that is no longer admitted are an error rather than silently dropped.
func (e *Engine) restore() error {
	err := e.store.Iterate(collateralPrefix, func(key, value []byte) error {
		rest := key[len(collateralPrefix):]
		if len(rest) != 2*common.AddressLength {
			return fmt.Errorf("malformed collateral key %x", key)
		}
		user := common.BytesToAddress(rest[:common.AddressLength])
		asset := common.BytesToAddress(rest[common.AddressLength:])
		if _, err := e.assets.lookup(asset); err != nil {
			return fmt.Errorf("collateral of %s: %w", user.Hex(), err)
		}
		e.collateral.set(user, asset, new(uint256.Int).SetBytes(value))
		return nil
	})
	if err != nil {
		return fmt.Errorf("stable engine: restore collateral: %w", err)
	}

	total := new(uint256.Int)
	err = e.store.Iterate(debtPrefix, func(key, value []byte) error {
		rest := key[len(debtPrefix):]
		if len(rest) != common.AddressLength {
			return fmt.Errorf("malformed debt key %x", key)
		}
		debt := new(uint256.Int).SetBytes(value)
		next, overflow := new(uint256.Int).AddOverflow(total, debt)
		if overflow {
			return fmt.Errorf("%w: total debt", ErrValuationOverflow)
		}
		total = next
		e.debts.set(common.BytesToAddress(rest), debt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("stable engine: restore debt: %w", err)
	}
	e.debts.total = total
	return nil
}

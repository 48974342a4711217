package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/storage"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// change is the set of entries one ledger call rewrites. It is persisted
// before it is applied in memory.
type change struct {
	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     *uint256.Int
}

func (l *Ledger) newChange() *change {
	return &change{
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

func (c *change) balance(addr common.Address, value *uint256.Int) { c.balances[addr] = value }

func (c *change) allowance(owner, spender common.Address, value *uint256.Int) {
	c.allowances[allowanceKey{owner: owner, spender: spender}] = value
}

func (l *Ledger) balanceKey(addr common.Address) []byte {
	return append([]byte(l.prefix+"b/"), addr.Bytes()...)
}

func (l *Ledger) allowanceStorageKey(k allowanceKey) []byte {
	key := append([]byte(l.prefix+"a/"), k.owner.Bytes()...)
	return append(key, k.spender.Bytes()...)
}

func (l *Ledger) supplyKey() []byte { return []byte(l.prefix + "supply") }

func putAmount(batch *storage.Batch, key []byte, value *uint256.Int) {
	if value.IsZero() {
		batch.Delete(key)
		return
	}
	raw := value.Bytes32()
	batch.Put(key, raw[:])
}

func (l *Ledger) commit(c *change) error {
	if l.store != nil {
		batch := storage.NewBatch()
		for addr, value := range c.balances {
			putAmount(batch, l.balanceKey(addr), value)
		}
		for k, value := range c.allowances {
			putAmount(batch, l.allowanceStorageKey(k), value)
		}
		if c.supply != nil {
			putAmount(batch, l.supplyKey(), c.supply)
		}
		if batch.Len() > 0 {
			if err := l.store.Write(batch); err != nil {
				return fmt.Errorf("token %s: persist: %w", l.symbol, err)
			}
		}
	}
	for addr, value := range c.balances {
		if value.IsZero() {
			delete(l.balances, addr)
			continue
		}
		l.balances[addr] = value
	}
	for k, value := range c.allowances {
		l.setAllowance(k, value)
	}
	if c.supply != nil {
		l.supply = c.supply
	}
	return nil
}

func (l *Ledger) setAllowance(k allowanceKey, value *uint256.Int) {
	if value.IsZero() {
		if spenders, ok := l.allowances[k.owner]; ok {
			delete(spenders, k.spender)
			if len(spenders) == 0 {
				delete(l.allowances, k.owner)
			}
		}
		return
	}
	spenders, ok := l.allowances[k.owner]
	if !ok {
		spenders = make(map[common.Address]*uint256.Int)
		l.allowances[k.owner] = spenders
	}
	spenders[k.spender] = value
}

func (l *Ledger) load() error {
	balancePrefix := []byte(l.prefix + "b/")
	err := l.store.Iterate(balancePrefix, func(key, value []byte) error {
		rest := key[len(balancePrefix):]
		if len(rest) != common.AddressLength {
			return fmt.Errorf("malformed balance key %x", key)
		}
		l.balances[common.BytesToAddress(rest)] = new(uint256.Int).SetBytes(value)
		return nil
	})
	if err != nil {
		return err
	}
	allowancePrefix := []byte(l.prefix + "a/")
	err = l.store.Iterate(allowancePrefix, func(key, value []byte) error {
		rest := key[len(allowancePrefix):]
		if len(rest) != 2*common.AddressLength {
			return fmt.Errorf("malformed allowance key %x", key)
		}
		l.setAllowance(allowanceKey{
			owner:   common.BytesToAddress(rest[:common.AddressLength]),
			spender: common.BytesToAddress(rest[common.AddressLength:]),
		}, new(uint256.Int).SetBytes(value))
		return nil
	})
	if err != nil {
		return err
	}
	raw, err := l.store.Get(l.supplyKey())
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return err
	default:
		l.supply = new(uint256.Int).SetBytes(raw)
	}
	return nil
}

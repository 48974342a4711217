package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves token ledgers by address.
type Registry struct {
	mu     sync.RWMutex
	order  []common.Address
	byAddr map[common.Address]*Ledger
}

func NewRegistry() *Registry {
	return &Registry{byAddr: make(map[common.Address]*Ledger)}
}

// Register adds ledger under addr. Addresses are unique.
func (r *Registry) Register(addr common.Address, ledger *Ledger) error {
	if ledger == nil {
		return fmt.Errorf("token: nil ledger for %s", addr.Hex())
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: token address", ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAddr[addr]; exists {
		return fmt.Errorf("token: %s already registered", addr.Hex())
	}
	r.byAddr[addr] = ledger
	r.order = append(r.order, addr)
	return nil
}

func (r *Registry) Ledger(addr common.Address) (*Ledger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ledger, ok := r.byAddr[addr]
	return ledger, ok
}

// Addresses lists registered tokens in registration order.
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address(nil), r.order...)
}

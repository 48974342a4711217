package token

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/storage"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotOwner              = errors.New("token: caller is not the owner")
	ErrInvalidAmount         = errors.New("token: amount required")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrSupplyOverflow        = errors.New("token: supply overflow")
)

// Ledger is an in-process fungible token: balances, allowances and an owner
// who alone may mint and burn.
type Ledger struct {
	mu         sync.Mutex
	symbol     string
	decimals   uint8
	owner      common.Address
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	supply     *uint256.Int
	store      storage.Database
	prefix     string
}

// New creates a token ledger. When store is non-nil, balances previously
// written under the same symbol are loaded back.
func New(symbol string, decimals uint8, owner common.Address, store storage.Database) (*Ledger, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("token: symbol required")
	}
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner", ErrZeroAddress)
	}
	l := &Ledger{
		symbol:     symbol,
		decimals:   decimals,
		owner:      owner,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		supply:     new(uint256.Int),
		store:      store,
		prefix:     "token/" + symbol + "/",
	}
	if store != nil {
		if err := l.load(); err != nil {
			return nil, fmt.Errorf("token %s: %w", symbol, err)
		}
	}
	return l, nil
}

func (l *Ledger) Symbol() string        { return l.symbol }
func (l *Ledger) Decimals() uint8       { return l.decimals }
func (l *Ledger) Owner() common.Address { return l.owner }

// TotalSupply returns the amount minted and not yet burned.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply.Clone()
}

func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceOf(addr)
}

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowanceOf(owner, spender)
}

// Approve sets spender's allowance over owner's balance, replacing any prior
// value.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("%w: spender", ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.newChange()
	c.allowance(owner, spender, amount.Clone())
	return l.commit(c)
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.newChange()
	if err := l.stageTransfer(c, from, to, amount); err != nil {
		return err
	}
	return l.commit(c)
}

// TransferFrom moves amount from from to to, spending spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount == nil {
		return ErrInvalidAmount
	}
	c := l.newChange()
	if spender != from {
		allowed := l.allowanceOf(from, spender)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s may spend %s of %s, needs %s",
				ErrInsufficientAllowance, spender.Hex(), allowed.Dec(), from.Hex(), amount.Dec())
		}
		c.allowance(from, spender, new(uint256.Int).Sub(allowed, amount))
	}
	if err := l.stageTransfer(c, from, to, amount); err != nil {
		return err
	}
	return l.commit(c)
}

// Mint creates amount for to. Only the owner may mint.
func (l *Ledger) Mint(caller, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if caller != l.owner {
		return ErrNotOwner
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	c := l.newChange()
	c.balance(to, new(uint256.Int).Add(l.balanceOf(to), amount))
	c.supply = supply
	return l.commit(c)
}

// Burn destroys amount of the owner's own balance.
func (l *Ledger) Burn(caller common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if caller != l.owner {
		return ErrNotOwner
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balanceOf(caller)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, burn of %s requested",
			ErrInsufficientBalance, caller.Hex(), balance.Dec(), amount.Dec())
	}
	c := l.newChange()
	c.balance(caller, new(uint256.Int).Sub(balance, amount))
	c.supply = new(uint256.Int).Sub(l.supply, amount)
	return l.commit(c)
}

func (l *Ledger) stageTransfer(c *change, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	balance := l.balanceOf(from)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s",
			ErrInsufficientBalance, from.Hex(), balance.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	c.balance(from, new(uint256.Int).Sub(balance, amount))
	c.balance(to, new(uint256.Int).Add(l.balanceOf(to), amount))
	return nil
}

func (l *Ledger) balanceOf(addr common.Address) *uint256.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

func (l *Ledger) allowanceOf(owner, spender common.Address) *uint256.Int {
	if amt, ok := l.allowances[owner][spender]; ok {
		return amt.Clone()
	}
	return new(uint256.Int)
}

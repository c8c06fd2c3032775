package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/domain"
)

// Collateral is the wrapped collateral token: a fungible ledger with
// transfer/approve semantics plus 1:1 wrap/unwrap against the native ledger.
// It is identified by a stable address so position ids derived from it stay
// deterministic.
type Collateral struct {
	addr   common.Address
	native *Native

	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewCollateral creates a collateral token bound to the native ledger.
func NewCollateral(addr common.Address, native *Native) *Collateral {
	return &Collateral{
		addr:       addr,
		native:     native,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Address returns the token's stable identifier.
func (c *Collateral) Address() common.Address { return c.addr }

// Deposit wraps native value 1:1 into collateral.
func (c *Collateral) Deposit(account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := c.native.Transfer(account, c.addr, amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(account, amount)
	return nil
}

// Withdraw unwraps collateral back to native value.
func (c *Collateral) Withdraw(account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	c.mu.Lock()
	if err := c.debit(account, amount); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	return c.native.Transfer(c.addr, account, amount)
}

// Transfer moves collateral between accounts.
func (c *Collateral) Transfer(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.debit(from, amount); err != nil {
		return err
	}
	c.credit(to, amount)
	return nil
}

// Approve sets (not increments) the spender's allowance.
func (c *Collateral) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byOwner, ok := c.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		c.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns a copy of the remaining allowance.
func (c *Collateral) Allowance(owner, spender common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byOwner, ok := c.allowances[owner]; ok {
		if a, ok := byOwner[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

// TransferFrom moves collateral using the spender's allowance.
func (c *Collateral) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byOwner := c.allowances[from]
	a, ok := byOwner[spender]
	if !ok || a.Cmp(amount) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Insufficient allowance")
	}
	if err := c.debit(from, amount); err != nil {
		return err
	}
	a.Sub(a, amount)
	c.credit(to, amount)
	return nil
}

// BalanceOf returns a copy of the account's balance.
func (c *Collateral) BalanceOf(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (c *Collateral) credit(account common.Address, amount *big.Int) {
	b, ok := c.balances[account]
	if !ok {
		b = new(big.Int)
		c.balances[account] = b
	}
	b.Add(b, amount)
}

func (c *Collateral) debit(account common.Address, amount *big.Int) error {
	b, ok := c.balances[account]
	if !ok || b.Cmp(amount) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Insufficient balance")
	}
	b.Sub(b, amount)
	return nil
}

// Package ledger provides the fungible balance primitives the settlement
// engines are built on: a native-value ledger and a wrapped collateral token
// with ERC20-style allowance semantics. All mutating methods are atomic; a
// failed operation leaves no partial state behind.
package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/domain"
)

// Native tracks native-value balances per account. Engines hold their own
// account here (contract-balance semantics) and sweep it via emergency
// withdrawals.
type Native struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

// NewNative creates an empty native ledger.
func NewNative() *Native {
	return &Native{balances: make(map[common.Address]*big.Int)}
}

// Mint credits newly issued native value to an account.
func (n *Native) Mint(account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.credit(account, amount)
	return nil
}

// Transfer moves native value between accounts.
func (n *Native) Transfer(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.debit(from, amount); err != nil {
		return err
	}
	n.credit(to, amount)
	return nil
}

// BalanceOf returns a copy of the account's balance.
func (n *Native) BalanceOf(account common.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (n *Native) credit(account common.Address, amount *big.Int) {
	b, ok := n.balances[account]
	if !ok {
		b = new(big.Int)
		n.balances[account] = b
	}
	b.Add(b, amount)
}

func (n *Native) debit(account common.Address, amount *big.Int) error {
	b, ok := n.balances[account]
	if !ok || b.Cmp(amount) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Insufficient balance")
	}
	b.Sub(b, amount)
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}
	return nil
}

// Package social implements the social bets gateway: an allow-listed set of
// spender accounts buys market positions on behalf of end users out of the
// gateway's own native balance, within per-user daily and lifetime budgets.
// Fresh recipient accounts receive a one-time native gas drop so they can
// act on the positions they were given.
package social

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/ledger"
	"github.com/predictlabs/marketcore/internal/oracle"
)

const secondsPerDay = 86400

// Gateway routes sponsored buys through allow-listed oracle contracts.
// All mutating methods are serialized behind a single mutex.
type Gateway struct {
	addr   common.Address
	owner  common.Address
	native *ledger.Native
	clock  domain.Clock
	events domain.EventSink

	mu             sync.Mutex
	oracles        map[common.Address]bool
	spenders       map[common.Address]bool
	maxDailySocial *big.Int
	maxPerUser     *big.Int
	maxBuyAmount   *big.Int
	initialGasDrop *big.Int

	// dailySpent[day][recipient] and totalSpent[recipient] track sponsored
	// value per end user, not per spender.
	dailySpent map[int64]map[common.Address]*big.Int
	totalSpent map[common.Address]*big.Int
	gasDropped map[common.Address]bool
}

// New creates an empty gateway. Budgets start at zero, so spenders can buy
// nothing until the owner configures limits.
func New(addr, owner common.Address, native *ledger.Native, clock domain.Clock, events domain.EventSink) *Gateway {
	if clock == nil {
		clock = time.Now
	}
	return &Gateway{
		addr:           addr,
		owner:          owner,
		native:         native,
		clock:          clock,
		events:         events,
		oracles:        make(map[common.Address]bool),
		spenders:       make(map[common.Address]bool),
		maxDailySocial: new(big.Int),
		maxPerUser:     new(big.Int),
		maxBuyAmount:   new(big.Int),
		initialGasDrop: new(big.Int),
		dailySpent:     make(map[int64]map[common.Address]*big.Int),
		totalSpent:     make(map[common.Address]*big.Int),
		gasDropped:     make(map[common.Address]bool),
	}
}

// Address returns the gateway's native account.
func (g *Gateway) Address() common.Address { return g.addr }

// Fund moves native value from an account into the gateway's balance.
func (g *Gateway) Fund(from common.Address, amount *big.Int) error {
	return g.native.Transfer(from, g.addr, amount)
}

func (g *Gateway) requireOwner(caller common.Address) error {
	if caller != g.owner {
		return domain.Reject(domain.ErrAccessDenied, "caller is not the owner")
	}
	return nil
}

// AddOracleContract allow-lists an oracle the gateway may route buys through.
func (g *Gateway) AddOracleContract(caller, oracleAddr common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireOwner(caller); err != nil {
		return err
	}
	g.oracles[oracleAddr] = true
	return nil
}

// RemoveOracleContract drops an oracle from the allow-list.
func (g *Gateway) RemoveOracleContract(caller, oracleAddr common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireOwner(caller); err != nil {
		return err
	}
	delete(g.oracles, oracleAddr)
	return nil
}

// UpdateSocialSpenders grants or revokes spender status in bulk.
func (g *Gateway) UpdateSocialSpenders(caller common.Address, addrs []common.Address, statuses []bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireOwner(caller); err != nil {
		return err
	}
	if len(addrs) != len(statuses) {
		return domain.Reject(domain.ErrMalformedInput, "Input lengths do not match")
	}
	for i, a := range addrs {
		if statuses[i] {
			g.spenders[a] = true
		} else {
			delete(g.spenders, a)
		}
	}
	return nil
}

// SetMaxDailySocialSpending sets the per-recipient daily budget.
func (g *Gateway) SetMaxDailySocialSpending(caller common.Address, amount *big.Int) error {
	return g.setLimit(caller, &g.maxDailySocial, amount)
}

// SetMaxSpendingCapPerUser sets the per-recipient lifetime budget. Zero
// disables the cap.
func (g *Gateway) SetMaxSpendingCapPerUser(caller common.Address, amount *big.Int) error {
	return g.setLimit(caller, &g.maxPerUser, amount)
}

// UpdateMaxBuyAmount sets the largest single sponsored buy. Zero disables
// the bound.
func (g *Gateway) UpdateMaxBuyAmount(caller common.Address, amount *big.Int) error {
	return g.setLimit(caller, &g.maxBuyAmount, amount)
}

// UpdateInitialGasDrop sets the native amount sent to recipients on their
// first sponsored buy.
func (g *Gateway) UpdateInitialGasDrop(caller common.Address, amount *big.Int) error {
	return g.setLimit(caller, &g.initialGasDrop, amount)
}

func (g *Gateway) setLimit(caller common.Address, field **big.Int, amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}
	*field = new(big.Int).Set(amount)
	return nil
}

// InitialGasDrop returns the configured first-buy gas drop.
func (g *Gateway) InitialGasDrop() *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return new(big.Int).Set(g.initialGasDrop)
}

// MaxDailySpending returns the recipient's daily sponsored-value budget.
func (g *Gateway) MaxDailySpending(account common.Address) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return new(big.Int).Set(g.maxDailySocial)
}

// AvailableSpending returns what can still be sponsored for the recipient
// today, clamped to the remaining lifetime cap.
func (g *Gateway) AvailableSpending(account common.Address) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.availableSpending(account, g.clock())
}

func (g *Gateway) availableSpending(account common.Address, now time.Time) *big.Int {
	remaining := new(big.Int).Set(g.maxDailySocial)
	day := now.Unix() / secondsPerDay
	if byAcct, ok := g.dailySpent[day]; ok {
		if spent, ok := byAcct[account]; ok {
			remaining.Sub(remaining, spent)
		}
	}
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	if g.maxPerUser.Sign() > 0 {
		lifetime := new(big.Int).Set(g.maxPerUser)
		if spent, ok := g.totalSpent[account]; ok {
			lifetime.Sub(lifetime, spent)
		}
		if lifetime.Sign() < 0 {
			lifetime.SetInt64(0)
		}
		if lifetime.Cmp(remaining) < 0 {
			return lifetime
		}
	}
	return remaining
}

// BuyPosition buys a position for the recipient through an allow-listed
// oracle, paid from the gateway's balance plus the attached value. First-time
// recipients also receive the initial gas drop; the attached value may cover
// just the buy (the gateway fronts the drop) or the buy plus the drop, but
// never more.
func (g *Gateway) BuyPosition(caller common.Address, questionID common.Hash, outcomeIndex int, minOutcomeTokens, amount *big.Int, to common.Address, mkt *oracle.Oracle, value *big.Int) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.spenders[caller] {
		return nil, domain.Reject(domain.ErrAccessDenied, "caller is not a social spender")
	}
	if mkt == nil || !g.oracles[mkt.Address()] {
		return nil, domain.Reject(domain.ErrAccessDenied, "oracle contract is not allowed")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}
	if g.maxBuyAmount.Sign() > 0 && amount.Cmp(g.maxBuyAmount) > 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "Amount exceeds maximum buy amount")
	}
	now := g.clock()
	if amount.Cmp(g.availableSpending(to, now)) > 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "Daily social spending limit exceeded")
	}

	needsDrop := !g.gasDropped[to] && g.initialGasDrop.Sign() > 0
	total := new(big.Int).Set(amount)
	if needsDrop {
		total.Add(total, g.initialGasDrop)
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Cmp(total) > 0 {
		return nil, domain.Reject(domain.ErrMalformedInput, "Incorrect amount sent")
	}
	funded := new(big.Int).Add(g.native.BalanceOf(g.addr), value)
	if funded.Cmp(total) < 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "Insufficient balance in contract to cover total amount")
	}
	if value.Sign() > 0 {
		if err := g.native.Transfer(caller, g.addr, value); err != nil {
			return nil, err
		}
	}

	if needsDrop {
		if err := g.native.Transfer(g.addr, to, g.initialGasDrop); err != nil {
			return nil, err
		}
		g.gasDropped[to] = true
		g.emit(domain.EventGasDropped, map[string]any{
			"account": to.Hex(),
			"amount":  g.initialGasDrop.String(),
		})
	}

	bought, err := mkt.BuyPosition(g.addr, questionID, outcomeIndex, minOutcomeTokens, to, amount)
	if err != nil {
		return nil, err
	}

	g.recordSpent(to, amount, now)
	g.emit(domain.EventSocialSpent, map[string]any{
		"spender":     caller.Hex(),
		"account":     to.Hex(),
		"question_id": questionID.Hex(),
		"amount":      amount.String(),
	})
	return bought, nil
}

func (g *Gateway) recordSpent(account common.Address, amount *big.Int, now time.Time) {
	day := now.Unix() / secondsPerDay
	byAcct, ok := g.dailySpent[day]
	if !ok {
		byAcct = make(map[common.Address]*big.Int)
		g.dailySpent[day] = byAcct
	}
	spent, ok := byAcct[account]
	if !ok {
		spent = new(big.Int)
		byAcct[account] = spent
	}
	spent.Add(spent, amount)

	total, ok := g.totalSpent[account]
	if !ok {
		total = new(big.Int)
		g.totalSpent[account] = total
	}
	total.Add(total, amount)
}

// EmergencyWithdraw sweeps the gateway's native balance to the owner.
func (g *Gateway) EmergencyWithdraw(caller common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requireOwner(caller); err != nil {
		return nil, err
	}
	balance := g.native.BalanceOf(g.addr)
	if balance.Sign() > 0 {
		if err := g.native.Transfer(g.addr, g.owner, balance); err != nil {
			return nil, err
		}
	}
	return balance, nil
}

func (g *Gateway) emit(eventType string, detail map[string]any) {
	if g.events != nil {
		g.events(eventType, detail)
	}
}

// Package points implements the platform points ledger: admin-granted
// balances, a daily spending budget derived from a reference balance,
// delegated spending through allowances and signed requests, and
// activity-reward claims that unlock over time.
//
// Points are spendable only through authorized caller contracts (the market
// oracle, the social gateway). Users never move points directly; they sign
// requests that an authorized caller presents to the ledger.
package points

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/crypto"
	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/ledger"
)

const secondsPerDay = 86400

// StakingSource reports lifetime points earned by staking. When configured,
// unspent staking points extend an account's spendable total beyond the
// ledger balance.
type StakingSource interface {
	EarnedUserPoints(account common.Address) *big.Int
}

// Engine is the points ledger. All mutating methods are serialized behind a
// single mutex; the clock is sampled once per operation.
type Engine struct {
	addr   common.Address
	native *ledger.Native
	clock  domain.Clock
	events domain.EventSink
	typed  *crypto.TypedData

	mu         sync.Mutex
	owner      common.Address
	paused     bool
	admins     map[common.Address]bool
	authorized map[common.Address]bool

	balances  map[common.Address]*big.Int
	reference map[common.Address]*big.Int

	// allowances[owner][spender] is an absolute grant, decremented on use.
	allowances map[common.Address]map[common.Address]*big.Int

	// dailySpent[day][account] accumulates spending per UTC day bucket.
	dailySpent map[int64]map[common.Address]*big.Int

	maxDailyNum *big.Int
	maxDailyDen *big.Int
	maxDailyCap *big.Int

	usedNonces map[common.Address]map[string]bool

	staking      StakingSource
	spentStaking map[common.Address]*big.Int

	// percentageToSendOnClaim is a divisor: a claim of N pays N/pct in native
	// immediately and credits the rest as points. Zero disables the payout.
	percentageToSendOnClaim int64

	activities       map[string]int64 // name -> lock period in days
	userActivities   map[common.Address][]string
	activityBalances map[common.Address]map[string]*big.Int
	activityClaims   map[common.Address]map[string]int64 // claim unix time
}

// New creates a points ledger. The owner may administer balances and
// configuration; the native ledger backs reward payouts from the engine's
// own account.
func New(addr, owner common.Address, native *ledger.Native, chainID int64, clock domain.Clock, events domain.EventSink) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		addr:             addr,
		native:           native,
		clock:            clock,
		events:           events,
		typed:            crypto.NewTypedData("OnchainPointsContract", "0.1", chainID, addr),
		owner:            owner,
		admins:           make(map[common.Address]bool),
		authorized:       make(map[common.Address]bool),
		balances:         make(map[common.Address]*big.Int),
		reference:        make(map[common.Address]*big.Int),
		allowances:       make(map[common.Address]map[common.Address]*big.Int),
		dailySpent:       make(map[int64]map[common.Address]*big.Int),
		maxDailyNum:      big.NewInt(1),
		maxDailyDen:      big.NewInt(1),
		maxDailyCap:      new(big.Int),
		usedNonces:       make(map[common.Address]map[string]bool),
		spentStaking:     make(map[common.Address]*big.Int),
		activities:       make(map[string]int64),
		userActivities:   make(map[common.Address][]string),
		activityBalances: make(map[common.Address]map[string]*big.Int),
		activityClaims:   make(map[common.Address]map[string]int64),
	}
}

// Address returns the ledger's native account, which funds reward payouts.
func (e *Engine) Address() common.Address { return e.addr }

// Domain returns the ledger's typed-data signing domain.
func (e *Engine) Domain() *crypto.TypedData { return e.typed }

func (e *Engine) requireOwner(caller common.Address) error {
	if caller != e.owner {
		return domain.Reject(domain.ErrAccessDenied, "caller is not the owner")
	}
	return nil
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if caller != e.owner && !e.admins[caller] {
		return domain.Reject(domain.ErrAccessDenied, "caller is not an admin")
	}
	return nil
}

func (e *Engine) requireAuthorized(caller common.Address) error {
	if !e.authorized[caller] {
		return domain.Reject(domain.ErrAccessDenied, "caller is not an authorized spender")
	}
	return nil
}

func (e *Engine) requireActive() error {
	if e.paused {
		return domain.Reject(domain.ErrInvalidState, "Contract is paused")
	}
	return nil
}

// SetPaused halts spending, claims, and withdrawals. Owner only.
func (e *Engine) SetPaused(caller common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.paused = paused
	return nil
}

// AddAuthorizedAddress lets a caller contract spend points on users' behalf.
func (e *Engine) AddAuthorizedAddress(caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.authorized[addr] = true
	return nil
}

// RemoveAuthorizedAddress revokes a spender contract.
func (e *Engine) RemoveAuthorizedAddress(caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	delete(e.authorized, addr)
	return nil
}

// UpdateAdminAddresses grants or revokes admin status in bulk. Admins sign
// activity-reward claims and may set balances.
func (e *Engine) UpdateAdminAddresses(caller common.Address, addrs []common.Address, statuses []bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if len(addrs) != len(statuses) {
		return domain.Reject(domain.ErrMalformedInput, "Array length mismatch")
	}
	for i, a := range addrs {
		if statuses[i] {
			e.admins[a] = true
		} else {
			delete(e.admins, a)
		}
	}
	return nil
}

// AdminUpdateBalance sets an account's spendable balance to an absolute
// value. It is a set, not an increment, so the daily grant job is idempotent.
func (e *Engine) AdminUpdateBalance(caller, account common.Address, balance *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if balance == nil || balance.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid balance")
	}
	e.balances[account] = new(big.Int).Set(balance)
	e.emit(domain.EventBalanceUpdated, map[string]any{
		"account": account.Hex(),
		"balance": balance.String(),
	})
	return nil
}

// AdminUpdateReferenceBalance sets the reference balance the daily spending
// budget is computed from.
func (e *Engine) AdminUpdateReferenceBalance(caller, account common.Address, balance *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if balance == nil || balance.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid balance")
	}
	e.reference[account] = new(big.Int).Set(balance)
	return nil
}

// SetMaxDailySpending sets the fraction of the reference balance spendable
// per day.
func (e *Engine) SetMaxDailySpending(caller common.Address, num, den *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if num == nil || den == nil || num.Sign() <= 0 || den.Sign() <= 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid spending fraction")
	}
	e.maxDailyNum = new(big.Int).Set(num)
	e.maxDailyDen = new(big.Int).Set(den)
	return nil
}

// UpdateMaxDailySpendingCap sets the absolute ceiling on any account's daily
// budget. Zero means no cap.
func (e *Engine) UpdateMaxDailySpendingCap(caller common.Address, cap_ *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if cap_ == nil || cap_.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid spending cap")
	}
	e.maxDailyCap = new(big.Int).Set(cap_)
	return nil
}

// UpdatePercentageToSendOnClaim sets the claim payout divisor: a claim of N
// pays N/pct in native currency immediately. Zero disables the payout.
func (e *Engine) UpdatePercentageToSendOnClaim(caller common.Address, pct int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if pct < 0 || pct > 100 {
		return domain.Reject(domain.ErrOutOfBounds, "Percentage must be between 0 and 100")
	}
	e.percentageToSendOnClaim = pct
	return nil
}

// SetStakingSource wires the staking pool in as an additional points source.
// Owner only.
func (e *Engine) SetStakingSource(caller common.Address, src StakingSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.staking = src
	return nil
}

// SpentStakingPoints returns how many staking-earned points the account has
// already spent through the ledger.
func (e *Engine) SpentStakingPoints(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.spentStaking[account]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

// stakingAvailable returns the account's unspent staking points, or zero when
// no staking source is configured.
func (e *Engine) stakingAvailable(account common.Address) *big.Int {
	if e.staking == nil {
		return new(big.Int)
	}
	avail := e.staking.EarnedUserPoints(account)
	if s, ok := e.spentStaking[account]; ok {
		avail.Sub(avail, s)
	}
	if avail.Sign() < 0 {
		avail.SetInt64(0)
	}
	return avail
}

// Balance returns the account's spendable points balance.
func (e *Engine) Balance(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balanceOf(account)
}

// ReferenceBalance returns the balance the daily budget derives from.
func (e *Engine) ReferenceBalance(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.reference[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// MaxDailySpending returns the account's daily budget: the configured
// fraction of the reference balance, clamped to the global cap.
func (e *Engine) MaxDailySpending(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxDailySpending(account)
}

// AvailableSpending returns what the account can still spend today: the
// remaining daily budget, clamped to the spendable balance.
func (e *Engine) AvailableSpending(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availableSpending(account, e.clock())
}

// DailySpending returns the account's recorded spending for a day bucket.
func (e *Engine) DailySpending(day int64, account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if byAcct, ok := e.dailySpent[day]; ok {
		if s, ok := byAcct[account]; ok {
			return new(big.Int).Set(s)
		}
	}
	return new(big.Int)
}

// Approve sets an absolute allowance for a spender over the owner's points.
func (e *Engine) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid allowance")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	byOwner, ok := e.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		e.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining grant from owner to spender.
func (e *Engine) Allowance(owner, spender common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if byOwner, ok := e.allowances[owner]; ok {
		if a, ok := byOwner[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

// SpendPoints debits the owner's balance within the daily budget. Only
// authorized caller contracts may invoke it.
func (e *Engine) SpendPoints(caller, owner common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAuthorized(caller); err != nil {
		return err
	}
	if err := e.requireActive(); err != nil {
		return err
	}
	now := e.clock()
	if err := e.checkSpend(owner, amount, now); err != nil {
		return err
	}
	e.spend(owner, amount, now)
	return nil
}

// SpendPointsFromAllowance debits the owner's balance on behalf of a spender
// holding an allowance, without a signature. Only authorized caller contracts
// may invoke it. The allowance and the budget are both checked before either
// is consumed, so a rejected call leaves the grant intact.
func (e *Engine) SpendPointsFromAllowance(caller, spender, owner common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAuthorized(caller); err != nil {
		return err
	}
	if err := e.requireActive(); err != nil {
		return err
	}
	now := e.clock()
	if err := e.checkSpend(owner, amount, now); err != nil {
		return err
	}
	if err := e.checkAllowance(owner, spender, amount); err != nil {
		return err
	}
	e.useAllowance(owner, spender, amount)
	e.spend(owner, amount, now)
	return nil
}

// checkAllowance verifies the spender's grant covers the amount.
func (e *Engine) checkAllowance(owner, spender common.Address, amount *big.Int) error {
	granted, ok := e.allowances[owner][spender]
	if !ok || granted.Cmp(amount) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Insufficient allowance")
	}
	return nil
}

// useAllowance consumes a grant that checkAllowance already validated.
func (e *Engine) useAllowance(owner, spender common.Address, amount *big.Int) {
	granted := e.allowances[owner][spender]
	granted.Sub(granted, amount)
}

// checkSpend validates a spend against the daily budget without touching
// state.
func (e *Engine) checkSpend(owner common.Address, amount *big.Int, now time.Time) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Reject(domain.ErrOutOfBounds, "invalid spend amount")
	}
	if amount.Cmp(e.availableSpending(owner, now)) > 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Daily spending limit exceeded")
	}
	return nil
}

// spend debits balance and the daily budget, consuming locked activity
// rewards in claim order. The reference balance shrinks with every spend so
// withdrawn and spent rewards cannot re-enter the budget. Callers validate
// with checkSpend first; spend itself cannot fail.
func (e *Engine) spend(owner common.Address, amount *big.Int, now time.Time) {
	// Ledger balance is consumed first; any remainder draws down staking
	// points.
	bal, ok := e.balances[owner]
	if !ok {
		bal = new(big.Int)
		e.balances[owner] = bal
	}
	fromStaking := new(big.Int)
	if bal.Cmp(amount) >= 0 {
		bal.Sub(bal, amount)
	} else {
		fromStaking.Sub(amount, bal)
		bal.SetInt64(0)
		spent, ok := e.spentStaking[owner]
		if !ok {
			spent = new(big.Int)
			e.spentStaking[owner] = spent
		}
		spent.Add(spent, fromStaking)
	}

	if ref, ok := e.reference[owner]; ok {
		ref.Sub(ref, amount)
		if ref.Sign() < 0 {
			ref.SetInt64(0)
		}
	}

	day := now.Unix() / secondsPerDay
	byAcct, ok := e.dailySpent[day]
	if !ok {
		byAcct = make(map[common.Address]*big.Int)
		e.dailySpent[day] = byAcct
	}
	spent, ok := byAcct[owner]
	if !ok {
		spent = new(big.Int)
		byAcct[owner] = spent
	}
	spent.Add(spent, amount)

	e.consumeActivityBalances(owner, amount)

	e.emit(domain.EventPointsSpent, map[string]any{
		"account": owner.Hex(),
		"amount":  amount.String(),
		"day":     day,
	})
}

// consumeActivityBalances draws a spend down from locked activity rewards in
// claim order, so spent rewards are no longer withdrawable.
func (e *Engine) consumeActivityBalances(owner common.Address, amount *big.Int) {
	remaining := new(big.Int).Set(amount)
	for _, name := range e.userActivities[owner] {
		if remaining.Sign() == 0 {
			return
		}
		ab := e.activityBalances[owner][name]
		if ab == nil || ab.Sign() == 0 {
			continue
		}
		if ab.Cmp(remaining) <= 0 {
			remaining.Sub(remaining, ab)
			ab.SetInt64(0)
		} else {
			ab.Sub(ab, remaining)
			remaining.SetInt64(0)
		}
	}
}

func (e *Engine) balanceOf(account common.Address) *big.Int {
	if b, ok := e.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (e *Engine) maxDailySpending(account common.Address) *big.Int {
	ref, ok := e.reference[account]
	if !ok {
		return new(big.Int)
	}
	budget := new(big.Int).Mul(ref, e.maxDailyNum)
	budget.Div(budget, e.maxDailyDen)
	if e.maxDailyCap.Sign() > 0 && budget.Cmp(e.maxDailyCap) > 0 {
		budget.Set(e.maxDailyCap)
	}
	return budget
}

func (e *Engine) availableSpending(account common.Address, now time.Time) *big.Int {
	stakingAvail := e.stakingAvailable(account)
	budget := e.maxDailySpending(account)
	budget.Add(budget, stakingAvail)
	day := now.Unix() / secondsPerDay
	if byAcct, ok := e.dailySpent[day]; ok {
		if spent, ok := byAcct[account]; ok {
			budget.Sub(budget, spent)
		}
	}
	if budget.Sign() < 0 {
		budget.SetInt64(0)
	}
	spendable := new(big.Int).Add(e.balanceOf(account), stakingAvail)
	if spendable.Cmp(budget) < 0 {
		return spendable
	}
	return budget
}

func (e *Engine) emit(eventType string, detail map[string]any) {
	if e.events != nil {
		e.events(eventType, detail)
	}
}

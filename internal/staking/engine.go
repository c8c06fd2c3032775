// Package staking implements native-currency staking with continuous reward
// and points accrual. Accounting follows the accumulated-per-share scheme:
// the pool tracks reward-per-staked-unit scaled by a fixed precision, and
// each staker carries a debt marking the accumulator value at their last
// interaction. Rewards are paid out in native currency on claim; points
// accrue for the account's lifetime and are consumed through the points
// ledger, never through this engine.
package staking

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/ledger"
)

// precision scales the per-share accumulators.
var precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

// UserInfo is one staker's position.
type UserInfo struct {
	Amount     *big.Int
	RewardDebt *big.Int
	PointsDebt *big.Int

	// accruedPoints is the lifetime points total settled at the last
	// interaction; pending accrual on top of it is computed from the
	// accumulator.
	accruedPoints *big.Int
}

// Engine is the staking pool. One instance serves the whole platform.
type Engine struct {
	addr   common.Address
	owner  common.Address
	native *ledger.Native
	clock  domain.Clock
	events domain.EventSink

	mu                sync.Mutex
	rewardPerSecond   *big.Int
	pointsPerSecond   *big.Int
	accRewardPerShare *big.Int
	accPointsPerShare *big.Int
	lastUpdateTime    int64
	totalStaked       *big.Int
	users             map[common.Address]*UserInfo
}

// New creates a staking pool with the given initial accrual rates. The
// engine's native account must be funded to cover reward payouts.
func New(addr, owner common.Address, native *ledger.Native, rewardPerSecond, pointsPerSecond *big.Int, clock domain.Clock, events domain.EventSink) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if rewardPerSecond == nil {
		rewardPerSecond = new(big.Int)
	}
	if pointsPerSecond == nil {
		pointsPerSecond = new(big.Int)
	}
	return &Engine{
		addr:              addr,
		owner:             owner,
		native:            native,
		clock:             clock,
		events:            events,
		rewardPerSecond:   new(big.Int).Set(rewardPerSecond),
		pointsPerSecond:   new(big.Int).Set(pointsPerSecond),
		accRewardPerShare: new(big.Int),
		accPointsPerShare: new(big.Int),
		lastUpdateTime:    clock().Unix(),
		totalStaked:       new(big.Int),
		users:             make(map[common.Address]*UserInfo),
	}
}

// Address returns the pool's native account.
func (e *Engine) Address() common.Address { return e.addr }

// RewardPerSecond returns the current reward accrual rate.
func (e *Engine) RewardPerSecond() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.rewardPerSecond)
}

// PointsPerSecond returns the current points accrual rate.
func (e *Engine) PointsPerSecond() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.pointsPerSecond)
}

// TotalStaked returns the pool's staked total.
func (e *Engine) TotalStaked() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.totalStaked)
}

// StakedBalance returns the account's staked amount.
func (e *Engine) StakedBalance(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u, ok := e.users[account]; ok {
		return new(big.Int).Set(u.Amount)
	}
	return new(big.Int)
}

// GetUserInfo returns a copy of the account's position.
func (e *Engine) GetUserInfo(account common.Address) UserInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[account]
	if !ok {
		return UserInfo{Amount: new(big.Int), RewardDebt: new(big.Int), PointsDebt: new(big.Int)}
	}
	return UserInfo{
		Amount:     new(big.Int).Set(u.Amount),
		RewardDebt: new(big.Int).Set(u.RewardDebt),
		PointsDebt: new(big.Int).Set(u.PointsDebt),
	}
}

// updatePool rolls the accumulators forward to now. Rate changes call this
// first, so accrual is piecewise linear across rate checkpoints.
func (e *Engine) updatePool(now int64) {
	if now <= e.lastUpdateTime {
		return
	}
	if e.totalStaked.Sign() == 0 {
		e.lastUpdateTime = now
		return
	}
	elapsed := big.NewInt(now - e.lastUpdateTime)

	rewardAccrued := new(big.Int).Mul(elapsed, e.rewardPerSecond)
	rewardAccrued.Mul(rewardAccrued, precision)
	rewardAccrued.Div(rewardAccrued, e.totalStaked)
	e.accRewardPerShare.Add(e.accRewardPerShare, rewardAccrued)

	pointsAccrued := new(big.Int).Mul(elapsed, e.pointsPerSecond)
	pointsAccrued.Mul(pointsAccrued, precision)
	pointsAccrued.Div(pointsAccrued, e.totalStaked)
	e.accPointsPerShare.Add(e.accPointsPerShare, pointsAccrued)

	e.lastUpdateTime = now
}

// pendingAccruals returns the user's unsettled reward and points since the
// last debt checkpoint, without mutating the position. Callers must hold the
// lock and have called updatePool.
func (e *Engine) pendingAccruals(u *UserInfo) (reward, points *big.Int) {
	reward = new(big.Int).Mul(u.Amount, e.accRewardPerShare)
	reward.Div(reward, precision)
	reward.Sub(reward, u.RewardDebt)

	points = new(big.Int).Mul(u.Amount, e.accPointsPerShare)
	points.Div(points, precision)
	points.Sub(points, u.PointsDebt)
	return reward, points
}

// resetDebts re-marks the user's debts at the current accumulator values.
func (e *Engine) resetDebts(u *UserInfo) {
	u.RewardDebt.Mul(u.Amount, e.accRewardPerShare)
	u.RewardDebt.Div(u.RewardDebt, precision)
	u.PointsDebt.Mul(u.Amount, e.accPointsPerShare)
	u.PointsDebt.Div(u.PointsDebt, precision)
}

// Stake moves amount of the caller's native balance into the pool. Pending
// rewards are paid out first.
func (e *Engine) Stake(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Cannot stake 0")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.updatePool(e.clock().Unix())
	u, ok := e.users[account]
	if !ok {
		u = &UserInfo{
			Amount:        new(big.Int),
			RewardDebt:    new(big.Int),
			PointsDebt:    new(big.Int),
			accruedPoints: new(big.Int),
		}
		e.users[account] = u
	}
	pending, pendingPoints := e.pendingAccruals(u)

	// Both transfers must be able to clear before the position changes: the
	// stake pull needs the caller's balance, the reward payout needs the pool
	// balance plus the incoming stake.
	if pending.Sign() > 0 {
		covered := new(big.Int).Add(e.native.BalanceOf(e.addr), amount)
		if covered.Cmp(pending) < 0 {
			return domain.Reject(domain.ErrOutOfBounds, "Insufficient pool balance to pay rewards")
		}
	}
	if err := e.native.Transfer(account, e.addr, amount); err != nil {
		return err
	}

	u.accruedPoints.Add(u.accruedPoints, pendingPoints)
	u.Amount.Add(u.Amount, amount)
	e.totalStaked.Add(e.totalStaked, amount)
	e.resetDebts(u)

	if pending.Sign() > 0 {
		if err := e.native.Transfer(e.addr, account, pending); err != nil {
			return err
		}
	}
	e.emit(domain.EventStaked, map[string]any{
		"account": account.Hex(),
		"amount":  amount.String(),
	})
	return nil
}

// Unstake returns amount of stake to the caller, paying pending rewards.
func (e *Engine) Unstake(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Cannot unstake 0")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.updatePool(e.clock().Unix())
	u, ok := e.users[account]
	if !ok || u.Amount.Cmp(amount) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Insufficient staked amount")
	}
	pending, pendingPoints := e.pendingAccruals(u)

	// The pool must cover the returned stake and the reward payout before the
	// position changes.
	payout := new(big.Int).Add(amount, pending)
	if e.native.BalanceOf(e.addr).Cmp(payout) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Insufficient pool balance to pay rewards")
	}

	u.accruedPoints.Add(u.accruedPoints, pendingPoints)
	u.Amount.Sub(u.Amount, amount)
	e.totalStaked.Sub(e.totalStaked, amount)
	e.resetDebts(u)

	if err := e.native.Transfer(e.addr, account, amount); err != nil {
		return err
	}
	if pending.Sign() > 0 {
		if err := e.native.Transfer(e.addr, account, pending); err != nil {
			return err
		}
	}
	e.emit(domain.EventUnstaked, map[string]any{
		"account": account.Hex(),
		"amount":  amount.String(),
	})
	return nil
}

// ClaimRewards pays out the caller's pending rewards in native currency.
// Points are unaffected; they accrue for the account's lifetime.
func (e *Engine) ClaimRewards(account common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.updatePool(e.clock().Unix())
	u, ok := e.users[account]
	if !ok {
		return new(big.Int), nil
	}
	pending, pendingPoints := e.pendingAccruals(u)
	if pending.Sign() > 0 && e.native.BalanceOf(e.addr).Cmp(pending) < 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "Insufficient pool balance to pay rewards")
	}

	u.accruedPoints.Add(u.accruedPoints, pendingPoints)
	e.resetDebts(u)

	if pending.Sign() > 0 {
		if err := e.native.Transfer(e.addr, account, pending); err != nil {
			return nil, err
		}
		e.emit(domain.EventRewardsClaimed, map[string]any{
			"account": account.Hex(),
			"amount":  pending.String(),
		})
	}
	return pending, nil
}

// EarnedRewards returns the account's pending unclaimed rewards.
func (e *Engine) EarnedRewards(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.users[account]
	if !ok {
		return new(big.Int)
	}
	acc := e.projectedAcc(e.accRewardPerShare, e.rewardPerSecond)
	pending := new(big.Int).Mul(u.Amount, acc)
	pending.Div(pending, precision)
	pending.Sub(pending, u.RewardDebt)
	return pending
}

// EarnedUserPoints returns the account's lifetime accrued points, including
// accrual since the last interaction. Claiming rewards does not reduce it.
func (e *Engine) EarnedUserPoints(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.users[account]
	if !ok {
		return new(big.Int)
	}
	acc := e.projectedAcc(e.accPointsPerShare, e.pointsPerSecond)
	pending := new(big.Int).Mul(u.Amount, acc)
	pending.Div(pending, precision)
	pending.Sub(pending, u.PointsDebt)
	return pending.Add(pending, u.accruedPoints)
}

// projectedAcc returns the accumulator rolled forward to now without
// mutating pool state.
func (e *Engine) projectedAcc(acc, rate *big.Int) *big.Int {
	out := new(big.Int).Set(acc)
	now := e.clock().Unix()
	if now > e.lastUpdateTime && e.totalStaked.Sign() > 0 {
		accrued := big.NewInt(now - e.lastUpdateTime)
		accrued.Mul(accrued, rate)
		accrued.Mul(accrued, precision)
		accrued.Div(accrued, e.totalStaked)
		out.Add(out, accrued)
	}
	return out
}

// ChangeRewardPerSecond checkpoints accrual and sets a new reward rate.
// Owner only.
func (e *Engine) ChangeRewardPerSecond(caller common.Address, rate *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return domain.Reject(domain.ErrAccessDenied, "caller is not the owner")
	}
	if rate == nil || rate.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid rate")
	}
	e.updatePool(e.clock().Unix())
	e.rewardPerSecond.Set(rate)
	return nil
}

// ChangePointsPerSecond checkpoints accrual and sets a new points rate.
// Owner only.
func (e *Engine) ChangePointsPerSecond(caller common.Address, rate *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return domain.Reject(domain.ErrAccessDenied, "caller is not the owner")
	}
	if rate == nil || rate.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid rate")
	}
	e.updatePool(e.clock().Unix())
	e.pointsPerSecond.Set(rate)
	return nil
}

// EmergencyWithdraw drains the pool's entire native balance to the owner.
// Staker positions are left in place; this is a recovery hatch, not an exit.
func (e *Engine) EmergencyWithdraw(caller common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return nil, domain.Reject(domain.ErrAccessDenied, "caller is not the owner")
	}
	balance := e.native.BalanceOf(e.addr)
	if balance.Sign() > 0 {
		if err := e.native.Transfer(e.addr, e.owner, balance); err != nil {
			return nil, err
		}
	}
	return balance, nil
}

func (e *Engine) emit(eventType string, detail map[string]any) {
	if e.events != nil {
		e.events(eventType, detail)
	}
}

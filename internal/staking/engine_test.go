package staking

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictlabs/marketcore/internal/ledger"
)

var (
	poolAddr  = common.HexToAddress("0x0000000000000000000000000000000000000700")
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x0000000000000000000000000000000000000cc1")
)

type env struct {
	engine *Engine
	native *ledger.Native
	now    *time.Time
}

func newEnv(t *testing.T, rewardRate, pointsRate int64) *env {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	native := ledger.NewNative()
	eng := New(poolAddr, ownerAddr, native, big.NewInt(rewardRate), big.NewInt(pointsRate), func() time.Time { return now }, nil)

	// Fund the pool for reward payouts and the stakers for deposits.
	require.NoError(t, native.Mint(poolAddr, big.NewInt(100_000_000)))
	for _, acct := range []common.Address{alice, bob, carol} {
		require.NoError(t, native.Mint(acct, big.NewInt(1_000_000)))
	}
	return &env{engine: eng, native: native, now: &now}
}

func (e *env) advance(seconds int64) { *e.now = e.now.Add(time.Duration(seconds) * time.Second) }

func TestStakeAndAccrue(t *testing.T) {
	e := newEnv(t, 1, 1)

	require.NoError(t, e.engine.Stake(alice, big.NewInt(10000)))
	assert.Equal(t, big.NewInt(10000), e.engine.StakedBalance(alice))
	assert.Equal(t, big.NewInt(10000), e.engine.TotalStaked())

	e.advance(10000)
	assert.Equal(t, big.NewInt(10000), e.engine.EarnedRewards(alice))
	assert.Equal(t, big.NewInt(10000), e.engine.EarnedUserPoints(alice))
}

func TestRateChangeCheckpointsAccrual(t *testing.T) {
	e := newEnv(t, 1, 1)

	require.NoError(t, e.engine.Stake(alice, big.NewInt(10000)))
	e.advance(10000)

	require.NoError(t, e.engine.ChangeRewardPerSecond(ownerAddr, big.NewInt(2)))
	require.NoError(t, e.engine.ChangePointsPerSecond(ownerAddr, big.NewInt(2)))
	e.advance(10000)

	assert.Equal(t, big.NewInt(30000), e.engine.EarnedRewards(alice))
	assert.Equal(t, big.NewInt(30000), e.engine.EarnedUserPoints(alice))

	// Claim pays rewards but leaves lifetime points untouched.
	got, err := e.engine.ClaimRewards(alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(30000), got)
	assert.Zero(t, e.engine.EarnedRewards(alice).Sign())
	assert.Equal(t, big.NewInt(30000), e.engine.EarnedUserPoints(alice))

	require.NoError(t, e.engine.ChangeRewardPerSecond(ownerAddr, big.NewInt(5)))
	require.NoError(t, e.engine.ChangePointsPerSecond(ownerAddr, big.NewInt(5)))
	e.advance(10000)

	assert.Equal(t, big.NewInt(50000), e.engine.EarnedRewards(alice))
	assert.Equal(t, big.NewInt(80000), e.engine.EarnedUserPoints(alice))
}

func TestRepeatStakeFromSameAccount(t *testing.T) {
	e := newEnv(t, 1, 1)

	require.NoError(t, e.engine.Stake(alice, big.NewInt(10000)))
	e.advance(10000)
	assert.Equal(t, big.NewInt(10000), e.engine.EarnedRewards(alice))

	// Second stake pays the pending reward out.
	before := e.native.BalanceOf(alice)
	require.NoError(t, e.engine.Stake(alice, big.NewInt(10000)))
	after := e.native.BalanceOf(alice)
	assert.Zero(t, new(big.Int).Sub(before, after).Sign())

	e.advance(10000)
	assert.Equal(t, big.NewInt(10000), e.engine.EarnedRewards(alice))
	assert.Equal(t, big.NewInt(20000), e.engine.EarnedUserPoints(alice))
	assert.Equal(t, big.NewInt(20000), e.engine.StakedBalance(alice))
}

func TestUnfundedPoolRejectsPayoutBeforeMutating(t *testing.T) {
	// Build an engine whose pool holds nothing beyond the stakes, so accrued
	// rewards cannot be paid.
	now := time.Unix(1_700_000_000, 0)
	native := ledger.NewNative()
	eng := New(poolAddr, ownerAddr, native, big.NewInt(1), big.NewInt(1), func() time.Time { return now }, nil)
	require.NoError(t, native.Mint(alice, big.NewInt(20000)))

	require.NoError(t, eng.Stake(alice, big.NewInt(10000)))
	now = now.Add(20000 * time.Second)

	// Each payout path must leave the position untouched when the pool
	// cannot cover the pending reward.
	err := eng.Unstake(alice, big.NewInt(10000))
	require.EqualError(t, err, "Insufficient pool balance to pay rewards")
	assert.Equal(t, big.NewInt(10000), eng.StakedBalance(alice))
	assert.Equal(t, big.NewInt(20000), eng.EarnedRewards(alice))

	_, err = eng.ClaimRewards(alice)
	require.EqualError(t, err, "Insufficient pool balance to pay rewards")
	assert.Equal(t, big.NewInt(20000), eng.EarnedRewards(alice))

	err = eng.Stake(alice, big.NewInt(5000))
	require.EqualError(t, err, "Insufficient pool balance to pay rewards")
	assert.Equal(t, big.NewInt(10000), eng.StakedBalance(alice))
	assert.Equal(t, big.NewInt(20000), eng.EarnedRewards(alice))

	// Funding the pool lets the same calls through with nothing lost.
	require.NoError(t, native.Mint(poolAddr, big.NewInt(20000)))
	require.NoError(t, eng.Unstake(alice, big.NewInt(10000)))
	assert.Equal(t, big.NewInt(40000), native.BalanceOf(alice))
	assert.Zero(t, eng.EarnedRewards(alice).Sign())
}

func TestProportionalAccrualAcrossStakers(t *testing.T) {
	e := newEnv(t, 3, 3)

	require.NoError(t, e.engine.Stake(alice, big.NewInt(10000)))
	require.NoError(t, e.engine.Stake(bob, big.NewInt(10000)))
	require.NoError(t, e.engine.Stake(carol, big.NewInt(10000)))
	e.advance(10000)

	for _, acct := range []common.Address{alice, bob, carol} {
		assert.Equal(t, big.NewInt(10000), e.engine.EarnedRewards(acct))
		assert.Equal(t, big.NewInt(10000), e.engine.EarnedUserPoints(acct))
	}

	_, err := e.engine.ClaimRewards(alice)
	require.NoError(t, err)
	require.NoError(t, e.engine.ChangeRewardPerSecond(ownerAddr, big.NewInt(6)))
	require.NoError(t, e.engine.ChangePointsPerSecond(ownerAddr, big.NewInt(6)))
	e.advance(10000)

	assert.Equal(t, big.NewInt(20000), e.engine.EarnedRewards(alice))
	assert.Equal(t, big.NewInt(30000), e.engine.EarnedRewards(bob))
	assert.Equal(t, big.NewInt(30000), e.engine.EarnedUserPoints(alice))
	assert.Equal(t, big.NewInt(30000), e.engine.EarnedUserPoints(bob))
}

func TestStakeZeroRejected(t *testing.T) {
	e := newEnv(t, 1, 1)
	err := e.engine.Stake(alice, big.NewInt(0))
	require.EqualError(t, err, "Cannot stake 0")
}

func TestUnstakeMoreThanStaked(t *testing.T) {
	e := newEnv(t, 1, 1)
	require.NoError(t, e.engine.Stake(alice, big.NewInt(10000)))
	err := e.engine.Unstake(alice, big.NewInt(20000))
	require.EqualError(t, err, "Insufficient staked amount")
}

func TestUnstakeReturnsStakeAndRewards(t *testing.T) {
	e := newEnv(t, 1, 1)
	require.NoError(t, e.engine.Stake(alice, big.NewInt(10000)))
	e.advance(10000)

	before := e.native.BalanceOf(alice)
	require.NoError(t, e.engine.Unstake(alice, big.NewInt(10000)))
	after := e.native.BalanceOf(alice)

	// Stake returned plus 10000 pending rewards.
	assert.Equal(t, big.NewInt(20000), new(big.Int).Sub(after, before))
	assert.Zero(t, e.engine.StakedBalance(alice).Sign())
	assert.Zero(t, e.engine.TotalStaked().Sign())
}

func TestZeroRatesAccrueNothing(t *testing.T) {
	e := newEnv(t, 0, 0)
	require.NoError(t, e.engine.Stake(alice, big.NewInt(10000)))
	e.advance(10000)

	assert.Zero(t, e.engine.EarnedRewards(alice).Sign())
	assert.Zero(t, e.engine.EarnedUserPoints(alice).Sign())

	got, err := e.engine.ClaimRewards(alice)
	require.NoError(t, err)
	assert.Zero(t, got.Sign())
}

func TestEmergencyWithdraw(t *testing.T) {
	e := newEnv(t, 1, 1)

	_, err := e.engine.EmergencyWithdraw(alice)
	require.EqualError(t, err, "caller is not the owner")

	poolBalance := e.native.BalanceOf(poolAddr)
	got, err := e.engine.EmergencyWithdraw(ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, poolBalance, got)
	assert.Zero(t, e.native.BalanceOf(poolAddr).Sign())
	assert.Equal(t, poolBalance, e.native.BalanceOf(ownerAddr))
}

func TestOwnerGatedRateChanges(t *testing.T) {
	e := newEnv(t, 1, 1)
	err := e.engine.ChangeRewardPerSecond(alice, big.NewInt(2))
	require.EqualError(t, err, "caller is not the owner")
	err = e.engine.ChangePointsPerSecond(alice, big.NewInt(2))
	require.EqualError(t, err, "caller is not the owner")
}

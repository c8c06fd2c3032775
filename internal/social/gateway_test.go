package social

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictlabs/marketcore/internal/ctf"
	"github.com/predictlabs/marketcore/internal/fpmm"
	"github.com/predictlabs/marketcore/internal/ledger"
	"github.com/predictlabs/marketcore/internal/oracle"
	"github.com/predictlabs/marketcore/internal/points"
)

var (
	gatewayAddr    = common.HexToAddress("0x0000000000000000000000000000000000000900")
	oracleAddr     = common.HexToAddress("0x0000000000000000000000000000000000000100")
	engineAddr     = common.HexToAddress("0x0000000000000000000000000000000000000200")
	collateralAddr = common.HexToAddress("0x0000000000000000000000000000000000000300")
	factoryAddr    = common.HexToAddress("0x0000000000000000000000000000000000000400")
	pointsAddr     = common.HexToAddress("0x0000000000000000000000000000000000000500")
	ownerAddr      = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	spenderAddr    = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	rand1          = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	rand2          = common.HexToAddress("0x0000000000000000000000000000000000000d02")
	rand3          = common.HexToAddress("0x0000000000000000000000000000000000000d03")
)

var qid = common.HexToHash("0x4b22fe478b95fdaa835ddddf631ab29f12900b62061e0c5fd8564ddb7b684333")

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type env struct {
	native  *ledger.Native
	oracle  *oracle.Oracle
	gateway *Gateway
	now     *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	native := ledger.NewNative()
	collateral := ledger.NewCollateral(collateralAddr, native)
	tokens := ctf.New(engineAddr, collateral, nil)
	factory := fpmm.NewFactory(factoryAddr, collateral, tokens, nil)
	pts := points.New(pointsAddr, ownerAddr, native, 31337, clock, nil)
	orc := oracle.New(oracleAddr, ownerAddr, native, collateral, tokens, factory, pts, clock, nil)
	gw := New(gatewayAddr, ownerAddr, native, clock, nil)

	require.NoError(t, orc.UpdateInitializers(ownerAddr, []common.Address{ownerAddr}, []bool{true}))
	require.NoError(t, orc.UpdateBuyWithUnlockedEnabled(ownerAddr, true))

	require.NoError(t, gw.AddOracleContract(ownerAddr, oracleAddr))
	require.NoError(t, gw.UpdateSocialSpenders(ownerAddr, []common.Address{spenderAddr}, []bool{true}))
	require.NoError(t, gw.SetMaxDailySocialSpending(ownerAddr, eth(1)))
	require.NoError(t, gw.SetMaxSpendingCapPerUser(ownerAddr, eth(10)))
	require.NoError(t, gw.UpdateMaxBuyAmount(ownerAddr, eth(1)))
	require.NoError(t, gw.UpdateInitialGasDrop(ownerAddr, eth(1)))

	for _, acct := range []common.Address{ownerAddr, spenderAddr} {
		require.NoError(t, native.Mint(acct, eth(1000)))
	}

	hints := []*big.Int{big.NewInt(1), big.NewInt(1)}
	_, err := orc.CreateMarket(ownerAddr, now.Add(time.Hour), qid, 2, nil, hints, eth(10), eth(10))
	require.NoError(t, err)

	require.NoError(t, gw.Fund(ownerAddr, eth(100)))
	return &env{native: native, oracle: orc, gateway: gw, now: &now}
}

func (e *env) advance(d time.Duration) { *e.now = e.now.Add(d) }

func TestSponsoredBuyAndDailyLimit(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, eth(1), e.gateway.MaxDailySpending(rand1))
	assert.Equal(t, eth(1), e.gateway.AvailableSpending(rand1))

	_, err := e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
	require.NoError(t, err)

	// The recipient got the gas drop and the position.
	assert.Equal(t, eth(1), e.native.BalanceOf(rand1))
	balances, err := e.oracle.PositionBalances(qid, []uint64{1, 2}, rand1)
	require.NoError(t, err)
	assert.Positive(t, balances[1].Sign())
	assert.Zero(t, e.gateway.AvailableSpending(rand1).Sign())

	_, err = e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
	require.EqualError(t, err, "Daily social spending limit exceeded")

	e.advance(24 * time.Hour)
	assert.Equal(t, eth(1), e.gateway.AvailableSpending(rand1))
	_, err = e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
	require.NoError(t, err)
}

func TestGasDropGivenOnce(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.gateway.UpdateInitialGasDrop(ownerAddr, eth(2)))
	require.NoError(t, e.gateway.SetMaxDailySocialSpending(ownerAddr, eth(2)))

	_, err := e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
	require.NoError(t, err)
	assert.Equal(t, eth(2), e.native.BalanceOf(rand1))

	_, err = e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
	require.NoError(t, err)
	assert.Equal(t, eth(2), e.native.BalanceOf(rand1))
}

func TestGasDropValueAccounting(t *testing.T) {
	e := newEnv(t)

	// Drain the gateway so the attached value must cover the drop too.
	_, err := e.gateway.EmergencyWithdraw(ownerAddr)
	require.NoError(t, err)
	drop := e.gateway.InitialGasDrop()

	_, err = e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand2, e.oracle, eth(1))
	require.EqualError(t, err, "Insufficient balance in contract to cover total amount")

	value := new(big.Int).Add(eth(1), drop)
	_, err = e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand2, e.oracle, value)
	require.NoError(t, err)
	assert.Equal(t, drop, e.native.BalanceOf(rand2))

	over := new(big.Int).Add(value, big.NewInt(1))
	_, err = e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand3, e.oracle, over)
	require.EqualError(t, err, "Incorrect amount sent")
}

func TestSpenderAllowList(t *testing.T) {
	e := newEnv(t)

	_, err := e.gateway.BuyPosition(ownerAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
	require.EqualError(t, err, "caller is not a social spender")

	err = e.gateway.UpdateSocialSpenders(ownerAddr, []common.Address{rand1}, []bool{true, true})
	require.EqualError(t, err, "Input lengths do not match")

	require.NoError(t, e.gateway.UpdateSocialSpenders(ownerAddr, []common.Address{spenderAddr}, []bool{false}))
	_, err = e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
	require.EqualError(t, err, "caller is not a social spender")
}

func TestOracleAllowList(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.gateway.RemoveOracleContract(ownerAddr, oracleAddr))

	_, err := e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
	require.EqualError(t, err, "oracle contract is not allowed")
}

func TestMaxBuyAmountBound(t *testing.T) {
	e := newEnv(t)
	over := new(big.Int).Add(eth(1), big.NewInt(1))
	_, err := e.gateway.BuyPosition(spenderAddr, qid, 1, nil, over, rand1, e.oracle, over)
	require.EqualError(t, err, "Amount exceeds maximum buy amount")
}

func TestLifetimeCapPerUser(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.gateway.SetMaxDailySocialSpending(ownerAddr, eth(5)))
	require.NoError(t, e.gateway.SetMaxSpendingCapPerUser(ownerAddr, eth(2)))

	for i := 0; i < 2; i++ {
		_, err := e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
		require.NoError(t, err)
	}
	_, err := e.gateway.BuyPosition(spenderAddr, qid, 1, nil, eth(1), rand1, e.oracle, eth(1))
	require.EqualError(t, err, "Daily social spending limit exceeded")
}

func TestEmergencyWithdrawOwnerOnly(t *testing.T) {
	e := newEnv(t)

	_, err := e.gateway.EmergencyWithdraw(spenderAddr)
	require.EqualError(t, err, "caller is not the owner")

	balance := e.native.BalanceOf(gatewayAddr)
	got, err := e.gateway.EmergencyWithdraw(ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, balance, got)
	assert.Zero(t, e.native.BalanceOf(gatewayAddr).Sign())
}

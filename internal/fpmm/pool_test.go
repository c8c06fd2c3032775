package fpmm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictlabs/marketcore/internal/ctf"
	"github.com/predictlabs/marketcore/internal/ledger"
)

var (
	tokenAddr   = common.HexToAddress("0x0000000000000000000000000000000000000100")
	engineAddr  = common.HexToAddress("0x0000000000000000000000000000000000000200")
	factoryAddr = common.HexToAddress("0x0000000000000000000000000000000000000300")
	oracleAddr  = common.HexToAddress("0x0000000000000000000000000000000000000400")
	aliceAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bobAddr     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fixture struct {
	native     *ledger.Native
	collateral *ledger.Collateral
	engine     *ctf.Engine
	factory    *Factory
	condition  common.Hash
}

func newFixture(t *testing.T, outcomes int, fee *big.Int, delegate common.Address) (*fixture, *Pool) {
	t.Helper()

	native := ledger.NewNative()
	collateral := ledger.NewCollateral(tokenAddr, native)
	engine := ctf.New(engineAddr, collateral, nil)
	factory := NewFactory(factoryAddr, collateral, engine, nil)

	questionID := common.HexToHash("0x01")
	conditionID, err := engine.PrepareCondition(oracleAddr, questionID, outcomes)
	require.NoError(t, err)

	pool, err := factory.CreatePool(conditionID, fee, delegate)
	require.NoError(t, err)

	for _, acct := range []common.Address{aliceAddr, bobAddr} {
		require.NoError(t, native.Mint(acct, eth(1000)))
		require.NoError(t, collateral.Deposit(acct, eth(1000)))
		require.NoError(t, collateral.Approve(acct, pool.Address(), eth(1000)))
	}

	return &fixture{
		native:     native,
		collateral: collateral,
		engine:     engine,
		factory:    factory,
		condition:  conditionID,
	}, pool
}

func TestAddFundingInitial(t *testing.T) {
	_, pool := newFixture(t, 2, nil, common.Address{})

	shares, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)
	assert.Equal(t, eth(10), shares)
	assert.Equal(t, eth(10), pool.SharesOf(aliceAddr))
	assert.Equal(t, eth(10), pool.TotalShares())

	balances := pool.PoolBalances()
	for _, b := range balances {
		assert.Equal(t, eth(10), b)
	}
}

func TestAddFundingWithDistributionHint(t *testing.T) {
	fx, pool := newFixture(t, 2, nil, common.Address{})

	// 3:1 hint keeps the full amount in the heavier outcome and returns the
	// excess of the lighter one to the funder.
	hint := []*big.Int{big.NewInt(3), big.NewInt(1)}
	shares, err := pool.AddFunding(aliceAddr, eth(12), hint)
	require.NoError(t, err)
	assert.Equal(t, eth(12), shares)

	balances := pool.PoolBalances()
	assert.Equal(t, eth(12), balances[0])
	assert.Equal(t, eth(4), balances[1])

	ids := pool.PositionIDs()
	assert.Zero(t, fx.engine.BalanceOf(aliceAddr, ids[0]).Sign())
	assert.Equal(t, eth(8), fx.engine.BalanceOf(aliceAddr, ids[1]))
}

func TestAddFundingHintRejectedAfterInitial(t *testing.T) {
	_, pool := newFixture(t, 2, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	_, err = pool.AddFunding(bobAddr, eth(5), []*big.Int{big.NewInt(1), big.NewInt(1)})
	require.EqualError(t, err, "cannot use distribution hint after initial funding")
}

func TestAddFundingPreservesRatio(t *testing.T) {
	_, pool := newFixture(t, 2, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(12), []*big.Int{big.NewInt(3), big.NewInt(1)})
	require.NoError(t, err)

	shares, err := pool.AddFunding(bobAddr, eth(6), nil)
	require.NoError(t, err)
	// Pool weight is the max balance (12); 6*12/12 = 6 shares.
	assert.Equal(t, eth(6), shares)

	balances := pool.PoolBalances()
	assert.Equal(t, eth(18), balances[0])
	assert.Equal(t, eth(6), balances[1])
}

func TestRemoveFundingProportional(t *testing.T) {
	fx, pool := newFixture(t, 2, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	require.NoError(t, pool.RemoveFunding(aliceAddr, eth(4)))
	assert.Equal(t, eth(6), pool.SharesOf(aliceAddr))

	ids := pool.PositionIDs()
	for _, id := range ids {
		assert.Equal(t, eth(4), fx.engine.BalanceOf(aliceAddr, id))
	}
	balances := pool.PoolBalances()
	for _, b := range balances {
		assert.Equal(t, eth(6), b)
	}
}

func TestRemoveFundingMoreThanHeld(t *testing.T) {
	_, pool := newFixture(t, 2, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	err = pool.RemoveFunding(aliceAddr, eth(11))
	require.EqualError(t, err, "Insufficient balance")
}

func TestCalcBuyAmountEqualPool(t *testing.T) {
	_, pool := newFixture(t, 2, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	// b0=b1=10, invest 10 with no fee: ending = ceil(10*10/(10+10)) = 5,
	// buy = 10 + 10 - 5 = 15.
	out, err := pool.CalcBuyAmount(eth(10), 0)
	require.NoError(t, err)
	assert.Equal(t, eth(15), out)
}

func TestBuyAndSellRoundTrip(t *testing.T) {
	fx, pool := newFixture(t, 2, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	bought, err := pool.Buy(bobAddr, eth(10), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, eth(15), bought)

	ids := pool.PositionIDs()
	assert.Equal(t, eth(15), fx.engine.BalanceOf(bobAddr, ids[0]))

	// Selling the full return drains bob's position back toward the pool.
	sold, err := pool.Sell(bobAddr, eth(10), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, eth(10), sold)
	assert.Zero(t, fx.engine.BalanceOf(bobAddr, ids[0]).Sign())
	assert.Equal(t, eth(1000), fx.collateral.BalanceOf(bobAddr))
}

func TestBuyBelowMinimumRejected(t *testing.T) {
	_, pool := newFixture(t, 2, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	_, err = pool.Buy(bobAddr, eth(10), 0, eth(16))
	require.EqualError(t, err, "minimum buy amount not reached")
}

func TestSellAboveMaximumRejected(t *testing.T) {
	_, pool := newFixture(t, 2, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	_, err = pool.Buy(bobAddr, eth(10), 0, nil)
	require.NoError(t, err)

	_, err = pool.Sell(bobAddr, eth(10), 0, eth(14))
	require.EqualError(t, err, "maximum sell amount exceeded")
}

func TestDirectBuyRejectedWithDelegate(t *testing.T) {
	_, pool := newFixture(t, 2, nil, oracleAddr)

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	_, err = pool.Buy(bobAddr, eth(10), 0, nil)
	require.EqualError(t, err, "oracle address is configured, use buyOnBehalf")
}

func TestBuyForByDelegate(t *testing.T) {
	fx, pool := newFixture(t, 2, nil, oracleAddr)

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	require.NoError(t, fx.native.Mint(oracleAddr, eth(100)))
	require.NoError(t, fx.collateral.Deposit(oracleAddr, eth(100)))
	require.NoError(t, fx.collateral.Approve(oracleAddr, pool.Address(), eth(100)))

	bought, err := pool.BuyFor(oracleAddr, bobAddr, eth(10), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, eth(15), bought)
	assert.Equal(t, eth(15), fx.engine.BalanceOf(bobAddr, pool.PositionIDs()[0]))

	_, err = pool.BuyFor(bobAddr, bobAddr, eth(1), 0, nil)
	require.EqualError(t, err, "only oracle delegate can buy on behalf")
}

func TestUniqueBuysCountsDistinctRecipients(t *testing.T) {
	fx, pool := newFixture(t, 2, nil, oracleAddr)

	_, err := pool.AddFunding(aliceAddr, eth(20), nil)
	require.NoError(t, err)

	require.NoError(t, fx.native.Mint(oracleAddr, eth(100)))
	require.NoError(t, fx.collateral.Deposit(oracleAddr, eth(100)))
	require.NoError(t, fx.collateral.Approve(oracleAddr, pool.Address(), eth(100)))

	_, err = pool.BuyFor(oracleAddr, bobAddr, eth(1), 0, nil)
	require.NoError(t, err)
	_, err = pool.BuyFor(oracleAddr, bobAddr, eth(1), 1, nil)
	require.NoError(t, err)
	_, err = pool.BuyFor(oracleAddr, aliceAddr, eth(1), 0, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, pool.UniqueBuys())
}

func TestFeeAccrualAndWithdrawal(t *testing.T) {
	fx, pool := newFixture(t, 2, eth(1).Div(eth(1), big.NewInt(50)), common.Address{}) // 2%

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)

	_, err = pool.Buy(bobAddr, eth(10), 0, nil)
	require.NoError(t, err)

	// 2% of 10.
	wantFee := new(big.Int).Div(eth(10), big.NewInt(50))
	assert.Equal(t, wantFee, pool.CollectedFees())
	assert.Equal(t, wantFee, pool.FeesWithdrawableBy(aliceAddr))
	assert.Zero(t, pool.FeesWithdrawableBy(bobAddr).Sign())

	before := fx.collateral.BalanceOf(aliceAddr)
	got, err := pool.WithdrawFees(aliceAddr)
	require.NoError(t, err)
	assert.Equal(t, wantFee, got)
	assert.Equal(t, new(big.Int).Add(before, wantFee), fx.collateral.BalanceOf(aliceAddr))
	assert.Zero(t, pool.CollectedFees().Sign())
}

func TestLateFunderEarnsNoPastFees(t *testing.T) {
	_, pool := newFixture(t, 2, eth(1).Div(eth(1), big.NewInt(50)), common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(10), nil)
	require.NoError(t, err)
	_, err = pool.Buy(bobAddr, eth(10), 0, nil)
	require.NoError(t, err)

	_, err = pool.AddFunding(bobAddr, eth(10), nil)
	require.NoError(t, err)
	assert.Zero(t, pool.FeesWithdrawableBy(bobAddr).Sign())
	assert.True(t, pool.FeesWithdrawableBy(aliceAddr).Sign() > 0)
}

func TestCalculateProbabilities(t *testing.T) {
	_, pool := newFixture(t, 2, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(12), []*big.Int{big.NewInt(3), big.NewInt(1)})
	require.NoError(t, err)

	probs, err := pool.CalculateProbabilities()
	require.NoError(t, err)
	require.Len(t, probs, 2)

	// Balances 12:4, so outcome 0 carries weight 4/(12+4) = 25%.
	assert.Equal(t, big.NewInt(250_000_000), probs[0])
	assert.Equal(t, big.NewInt(750_000_000), probs[1])

	sum := new(big.Int).Add(probs[0], probs[1])
	assert.Equal(t, big.NewInt(1_000_000_000), sum)
}

func TestProductInvariantNonDecreasing(t *testing.T) {
	_, pool := newFixture(t, 3, nil, common.Address{})

	_, err := pool.AddFunding(aliceAddr, eth(30), nil)
	require.NoError(t, err)

	product := func() *big.Int {
		p := big.NewInt(1)
		for _, b := range pool.PoolBalances() {
			p.Mul(p, b)
		}
		return p
	}

	before := product()
	_, err = pool.Buy(bobAddr, eth(7), 1, nil)
	require.NoError(t, err)
	afterBuy := product()
	assert.True(t, afterBuy.Cmp(before) >= 0)

	_, err = pool.Sell(bobAddr, eth(3), 1, nil)
	require.NoError(t, err)
	afterSell := product()
	assert.True(t, afterSell.Cmp(afterBuy) >= 0)
}

func TestCreatePoolDuplicateCondition(t *testing.T) {
	fx, _ := newFixture(t, 2, nil, common.Address{})

	_, err := fx.factory.CreatePool(fx.condition, nil, common.Address{})
	require.EqualError(t, err, "pool already exists for condition")
}

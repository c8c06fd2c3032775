package ctf

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/ledger"
)

var (
	engineAddr     = common.HexToAddress("0x0000000000000000000000000000000000000200")
	collateralAddr = common.HexToAddress("0x0000000000000000000000000000000000000300")
	oracleAcct     = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	trader         = common.HexToAddress("0x0000000000000000000000000000000000000a11")

	questionID = common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000123")
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Collateral) {
	t.Helper()
	native := ledger.NewNative()
	collateral := ledger.NewCollateral(collateralAddr, native)
	eng := New(engineAddr, collateral, nil)

	require.NoError(t, native.Mint(trader, big.NewInt(1_000_000)))
	require.NoError(t, collateral.Deposit(trader, big.NewInt(1_000_000)))
	require.NoError(t, collateral.Approve(trader, engineAddr, big.NewInt(1_000_000)))
	return eng, collateral
}

func positionIDs(collateral common.Address, conditionID common.Hash, partition []uint64) []common.Hash {
	out := make([]common.Hash, len(partition))
	for i, indexSet := range partition {
		out[i] = PositionID(collateral, CollectionID(common.Hash{}, conditionID, indexSet))
	}
	return out
}

func TestPrepareCondition(t *testing.T) {
	eng, _ := newTestEngine(t)

	conditionID, err := eng.PrepareCondition(oracleAcct, questionID, 2)
	require.NoError(t, err)
	assert.Equal(t, ConditionID(oracleAcct, questionID, 2), conditionID)
	assert.Equal(t, 2, eng.OutcomeSlotCount(conditionID))

	_, err = eng.PrepareCondition(oracleAcct, questionID, 2)
	assert.EqualError(t, err, "condition already prepared")

	_, err = eng.PrepareCondition(oracleAcct, questionID, 1)
	assert.EqualError(t, err, "there should be more than one outcome slot")
}

func TestSplitAndMergeRoundTrip(t *testing.T) {
	eng, collateral := newTestEngine(t)
	conditionID, err := eng.PrepareCondition(oracleAcct, questionID, 2)
	require.NoError(t, err)

	partition := []uint64{1, 2}
	amount := big.NewInt(5000)
	require.NoError(t, eng.SplitPosition(trader, common.Hash{}, conditionID, partition, amount))

	for _, id := range positionIDs(collateralAddr, conditionID, partition) {
		assert.Equal(t, amount, eng.BalanceOf(trader, id))
	}
	assert.Equal(t, big.NewInt(995_000), collateral.BalanceOf(trader))
	assert.Equal(t, amount, collateral.BalanceOf(engineAddr))

	require.NoError(t, eng.MergePositions(trader, common.Hash{}, conditionID, partition, amount))
	for _, id := range positionIDs(collateralAddr, conditionID, partition) {
		assert.Zero(t, eng.BalanceOf(trader, id).Sign())
	}
	assert.Equal(t, big.NewInt(1_000_000), collateral.BalanceOf(trader))
}

func TestSplitRejectsBadPartitions(t *testing.T) {
	eng, _ := newTestEngine(t)
	conditionID, err := eng.PrepareCondition(oracleAcct, questionID, 3)
	require.NoError(t, err)

	err = eng.SplitPosition(trader, common.Hash{}, conditionID, []uint64{1}, big.NewInt(100))
	assert.EqualError(t, err, "got empty or singleton partition")

	err = eng.SplitPosition(trader, common.Hash{}, conditionID, []uint64{3, 3}, big.NewInt(100))
	assert.EqualError(t, err, "partition not disjoint")

	err = eng.SplitPosition(trader, common.Hash{}, conditionID, []uint64{1, 7}, big.NewInt(100))
	assert.EqualError(t, err, "got invalid partition")
}

func TestReportPayoutsAndRedeem(t *testing.T) {
	eng, collateral := newTestEngine(t)
	conditionID, err := eng.PrepareCondition(oracleAcct, questionID, 2)
	require.NoError(t, err)

	partition := []uint64{1, 2}
	require.NoError(t, eng.SplitPosition(trader, common.Hash{}, conditionID, partition, big.NewInt(10_000)))

	_, err = eng.RedeemPositions(trader, common.Hash{}, conditionID, partition)
	assert.EqualError(t, err, "result for condition not received yet")

	// Only the designated oracle resolves; anyone else derives a different
	// condition id and hits the unprepared branch.
	err = eng.ReportPayouts(trader, questionID, []*big.Int{big.NewInt(1), big.NewInt(0)})
	assert.EqualError(t, err, "condition not prepared or found")

	require.NoError(t, eng.ReportPayouts(oracleAcct, questionID, []*big.Int{big.NewInt(1), big.NewInt(0)}))
	err = eng.ReportPayouts(oracleAcct, questionID, []*big.Int{big.NewInt(1), big.NewInt(0)})
	assert.EqualError(t, err, "payout denominator already set")

	// Outcome 1 pays everything, outcome 2 pays nothing.
	payout, err := eng.RedeemPositions(trader, common.Hash{}, conditionID, partition)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10_000), payout)
	assert.Equal(t, big.NewInt(1_000_000), collateral.BalanceOf(trader))

	// Redeeming again is a no-op.
	payout, err = eng.RedeemPositions(trader, common.Hash{}, conditionID, partition)
	require.NoError(t, err)
	assert.Zero(t, payout.Sign())
}

func TestReportPayoutsRejectsZeroVector(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.PrepareCondition(oracleAcct, questionID, 2)
	require.NoError(t, err)

	err = eng.ReportPayouts(oracleAcct, questionID, []*big.Int{big.NewInt(0), big.NewInt(0)})
	assert.EqualError(t, err, "payout is all zeroes")
}

func TestProportionalRedeem(t *testing.T) {
	eng, _ := newTestEngine(t)
	conditionID, err := eng.PrepareCondition(oracleAcct, questionID, 2)
	require.NoError(t, err)

	partition := []uint64{1, 2}
	require.NoError(t, eng.SplitPosition(trader, common.Hash{}, conditionID, partition, big.NewInt(9)))
	require.NoError(t, eng.ReportPayouts(oracleAcct, questionID, []*big.Int{big.NewInt(2), big.NewInt(1)}))

	// 9*2/3 + 9*1/3 = 6 + 3, truncating division per index set.
	payout, err := eng.RedeemPositions(trader, common.Hash{}, conditionID, partition)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9), payout)
}

func TestTransferMovesPositions(t *testing.T) {
	eng, _ := newTestEngine(t)
	conditionID, err := eng.PrepareCondition(oracleAcct, questionID, 2)
	require.NoError(t, err)

	require.NoError(t, eng.SplitPosition(trader, common.Hash{}, conditionID, []uint64{1, 2}, big.NewInt(100)))
	yesID := PositionID(collateralAddr, CollectionID(common.Hash{}, conditionID, 1))

	other := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	require.NoError(t, eng.Transfer(trader, other, yesID, big.NewInt(40)))
	assert.Equal(t, big.NewInt(60), eng.BalanceOf(trader, yesID))
	assert.Equal(t, big.NewInt(40), eng.BalanceOf(other, yesID))

	err = eng.Transfer(trader, other, yesID, big.NewInt(1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOutOfBounds)
}

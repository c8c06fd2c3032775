package points

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictlabs/marketcore/internal/crypto"
)

func newActivityEnv(t *testing.T) (*env, *crypto.Signer) {
	t.Helper()
	e := newEnv(t)

	admin, err := crypto.GenerateSigner()
	require.NoError(t, err)
	require.NoError(t, e.engine.UpdateAdminAddresses(ownerAddr, []common.Address{admin.Address()}, []bool{true}))
	require.NoError(t, e.native.Mint(pointsAddr, big.NewInt(1_000_000)))
	return e, admin
}

func signClaim(t *testing.T, admin *crypto.Signer, user common.Address, amounts []*big.Int, names []string) []byte {
	t.Helper()
	sig, err := admin.SignPersonal(ClaimMessageHash(user, amounts, names))
	require.NoError(t, err)
	return sig
}

func TestClaimActivityRewards(t *testing.T) {
	e, admin := newActivityEnv(t)
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "activity1", 30))

	amounts := []*big.Int{big.NewInt(100)}
	names := []string{"activity1"}
	sig := signClaim(t, admin, userAddr, amounts, names)

	require.NoError(t, e.engine.ClaimActivityRewards(userAddr, amounts, names, sig))
	assert.Equal(t, big.NewInt(100), e.engine.Balance(userAddr))
	assert.Equal(t, big.NewInt(100), e.engine.ReferenceBalance(userAddr))
	assert.Equal(t, []string{"activity1"}, e.engine.UserActivities(userAddr))

	err := e.engine.ClaimActivityRewards(userAddr, amounts, names, sig)
	require.EqualError(t, err, "Activity rewards already claimed")
}

func TestClaimRejectsTamperedContent(t *testing.T) {
	e, admin := newActivityEnv(t)
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "activity1", 30))
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "activity2", 30))

	amounts := []*big.Int{big.NewInt(100)}
	sig := signClaim(t, admin, userAddr, amounts, []string{"activity1"})

	err := e.engine.ClaimActivityRewards(userAddr, amounts, []string{"activity2"}, sig)
	require.EqualError(t, err, "Signature is not valid")

	err = e.engine.ClaimActivityRewards(userAddr, []*big.Int{big.NewInt(200)}, []string{"activity1"}, sig)
	require.EqualError(t, err, "Signature is not valid")

	err = e.engine.ClaimActivityRewards(oracleAcct, amounts, []string{"activity1"}, sig)
	require.EqualError(t, err, "Signature is not valid")
}

func TestClaimRejectsNonAdminSigner(t *testing.T) {
	e, _ := newActivityEnv(t)
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "activity1", 30))

	rogue, err := crypto.GenerateSigner()
	require.NoError(t, err)
	amounts := []*big.Int{big.NewInt(100)}
	names := []string{"activity1"}
	sig := signClaim(t, rogue, userAddr, amounts, names)

	claimErr := e.engine.ClaimActivityRewards(userAddr, amounts, names, sig)
	require.EqualError(t, claimErr, "Signature is not valid")
}

func TestClaimUnknownActivity(t *testing.T) {
	e, admin := newActivityEnv(t)

	amounts := []*big.Int{big.NewInt(100)}
	names := []string{"missing"}
	sig := signClaim(t, admin, userAddr, amounts, names)

	err := e.engine.ClaimActivityRewards(userAddr, amounts, names, sig)
	require.EqualError(t, err, "Activity not found")
}

func TestClaimPaysNativeShare(t *testing.T) {
	e, admin := newActivityEnv(t)
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "activity1", 30))
	require.NoError(t, e.engine.UpdatePercentageToSendOnClaim(ownerAddr, 10))

	amounts := []*big.Int{big.NewInt(100)}
	names := []string{"activity1"}
	sig := signClaim(t, admin, userAddr, amounts, names)

	require.NoError(t, e.engine.ClaimActivityRewards(userAddr, amounts, names, sig))
	// 100/10 paid out in native, 90 credited as points.
	assert.Equal(t, big.NewInt(90), e.engine.Balance(userAddr))
	assert.Equal(t, big.NewInt(10), e.native.BalanceOf(userAddr))
}

func TestClaimMultipleActivities(t *testing.T) {
	e, admin := newActivityEnv(t)
	names := []string{"a", "b", "c"}
	amounts := []*big.Int{big.NewInt(100), big.NewInt(200), big.NewInt(300)}
	for _, n := range names {
		require.NoError(t, e.engine.CreateActivity(ownerAddr, n, 30))
	}

	sig := signClaim(t, admin, userAddr, amounts, names)
	require.NoError(t, e.engine.ClaimActivityRewards(userAddr, amounts, names, sig))
	assert.Equal(t, big.NewInt(600), e.engine.Balance(userAddr))
	assert.Equal(t, names, e.engine.UserActivities(userAddr))
}

func TestWithdrawRewardsAfterLockPeriod(t *testing.T) {
	e, admin := newActivityEnv(t)
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "fast", 15))
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "slow", 30))

	names := []string{"fast", "slow"}
	amounts := []*big.Int{big.NewInt(100), big.NewInt(100)}
	sig := signClaim(t, admin, userAddr, amounts, names)
	require.NoError(t, e.engine.ClaimActivityRewards(userAddr, amounts, names, sig))

	assert.Zero(t, e.engine.WithdrawableBalance(userAddr, names).Sign())

	e.advance(15 * 24 * time.Hour)
	assert.Equal(t, big.NewInt(100), e.engine.WithdrawableBalance(userAddr, names))

	got, err := e.engine.WithdrawRewards(userAddr, []string{"fast"})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), got)
	assert.Equal(t, big.NewInt(100), e.native.BalanceOf(userAddr))
	assert.Equal(t, big.NewInt(100), e.engine.Balance(userAddr))
	assert.Equal(t, big.NewInt(100), e.engine.ReferenceBalance(userAddr))

	_, err = e.engine.WithdrawRewards(userAddr, []string{"fast"})
	require.EqualError(t, err, "No rewards to withdraw")

	e.advance(15 * 24 * time.Hour)
	_, err = e.engine.WithdrawRewards(userAddr, []string{"slow"})
	require.NoError(t, err)
	assert.Zero(t, e.engine.Balance(userAddr).Sign())
	assert.Zero(t, e.engine.MaxDailySpending(userAddr).Sign())
}

func TestSpendingConsumesActivityRewards(t *testing.T) {
	e, admin := newActivityEnv(t)
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "activity1", 10))

	names := []string{"activity1"}
	amounts := []*big.Int{big.NewInt(100)}
	sig := signClaim(t, admin, userAddr, amounts, names)
	require.NoError(t, e.engine.ClaimActivityRewards(userAddr, amounts, names, sig))

	require.NoError(t, e.engine.SpendPoints(oracleAcct, userAddr, big.NewInt(60)))

	e.advance(10 * 24 * time.Hour)
	// Only the unspent remainder of the reward matures.
	assert.Equal(t, big.NewInt(40), e.engine.WithdrawableBalance(userAddr, names))
}

func TestCreateActivityDuplicate(t *testing.T) {
	e, _ := newActivityEnv(t)
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "activity1", 30))
	err := e.engine.CreateActivity(ownerAddr, "activity1", 15)
	require.EqualError(t, err, "Activity already exists")
}

func TestClaimRequiresContractBalance(t *testing.T) {
	e := newEnv(t)
	admin, err := crypto.GenerateSigner()
	require.NoError(t, err)
	require.NoError(t, e.engine.UpdateAdminAddresses(ownerAddr, []common.Address{admin.Address()}, []bool{true}))
	require.NoError(t, e.engine.CreateActivity(ownerAddr, "activity1", 30))
	require.NoError(t, e.engine.UpdatePercentageToSendOnClaim(ownerAddr, 10))

	// Ledger account holds no native currency.
	amounts := []*big.Int{big.NewInt(100)}
	names := []string{"activity1"}
	sig := signClaim(t, admin, userAddr, amounts, names)

	claimErr := e.engine.ClaimActivityRewards(userAddr, amounts, names, sig)
	require.EqualError(t, claimErr, "Contract doesn't have enough balance")
}

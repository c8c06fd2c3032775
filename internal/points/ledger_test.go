package points

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictlabs/marketcore/internal/crypto"
	"github.com/predictlabs/marketcore/internal/ledger"
)

var (
	pointsAddr = common.HexToAddress("0x0000000000000000000000000000000000000500")
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	oracleAcct = common.HexToAddress("0x0000000000000000000000000000000000000600")
	userAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
)

const testChainID = 31337

type env struct {
	engine *Engine
	native *ledger.Native
	now    *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	native := ledger.NewNative()
	eng := New(pointsAddr, ownerAddr, native, testChainID, func() time.Time { return now }, nil)
	require.NoError(t, eng.AddAuthorizedAddress(ownerAddr, oracleAcct))
	return &env{engine: eng, native: native, now: &now}
}

func (e *env) advance(d time.Duration) { *e.now = e.now.Add(d) }

func (e *env) grant(t *testing.T, account common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, e.engine.AdminUpdateBalance(ownerAddr, account, amount))
	require.NoError(t, e.engine.AdminUpdateReferenceBalance(ownerAddr, account, amount))
}

func TestAdminBalanceIsAbsoluteSet(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.engine.AdminUpdateBalance(ownerAddr, userAddr, big.NewInt(100)))
	require.NoError(t, e.engine.AdminUpdateBalance(ownerAddr, userAddr, big.NewInt(40)))
	assert.Equal(t, big.NewInt(40), e.engine.Balance(userAddr))

	err := e.engine.AdminUpdateBalance(userAddr, userAddr, big.NewInt(1))
	require.EqualError(t, err, "caller is not an admin")
}

func TestAvailableSpendingClampsToBalance(t *testing.T) {
	e := newEnv(t)

	// Reference allows 100 daily but only 30 is held.
	require.NoError(t, e.engine.AdminUpdateBalance(ownerAddr, userAddr, big.NewInt(30)))
	require.NoError(t, e.engine.AdminUpdateReferenceBalance(ownerAddr, userAddr, big.NewInt(100)))
	assert.Equal(t, big.NewInt(100), e.engine.MaxDailySpending(userAddr))
	assert.Equal(t, big.NewInt(30), e.engine.AvailableSpending(userAddr))
}

func TestMaxDailySpendingFractionAndCap(t *testing.T) {
	e := newEnv(t)
	e.grant(t, userAddr, big.NewInt(1000))

	require.NoError(t, e.engine.SetMaxDailySpending(ownerAddr, big.NewInt(1), big.NewInt(4)))
	assert.Equal(t, big.NewInt(250), e.engine.MaxDailySpending(userAddr))

	require.NoError(t, e.engine.UpdateMaxDailySpendingCap(ownerAddr, big.NewInt(200)))
	assert.Equal(t, big.NewInt(200), e.engine.MaxDailySpending(userAddr))
}

func TestSpendPointsWithinDailyBudget(t *testing.T) {
	e := newEnv(t)
	e.grant(t, userAddr, big.NewInt(1000))

	require.NoError(t, e.engine.SpendPoints(oracleAcct, userAddr, big.NewInt(400)))
	assert.Equal(t, big.NewInt(600), e.engine.Balance(userAddr))
	// Reference fell to 600 and 400 is already spent today.
	assert.Equal(t, big.NewInt(200), e.engine.AvailableSpending(userAddr))

	day := e.now.Unix() / secondsPerDay
	assert.Equal(t, big.NewInt(400), e.engine.DailySpending(day, userAddr))

	err := e.engine.SpendPoints(oracleAcct, userAddr, big.NewInt(700))
	require.EqualError(t, err, "Daily spending limit exceeded")
}

func TestSpendPointsRequiresAuthorizedCaller(t *testing.T) {
	e := newEnv(t)
	e.grant(t, userAddr, big.NewInt(1000))

	err := e.engine.SpendPoints(userAddr, userAddr, big.NewInt(1))
	require.EqualError(t, err, "caller is not an authorized spender")
}

func TestDailyBudgetResetsAtDayBoundary(t *testing.T) {
	e := newEnv(t)
	e.grant(t, userAddr, big.NewInt(100))
	require.NoError(t, e.engine.UpdateMaxDailySpendingCap(ownerAddr, big.NewInt(60)))

	require.NoError(t, e.engine.SpendPoints(oracleAcct, userAddr, big.NewInt(60)))
	assert.Zero(t, e.engine.AvailableSpending(userAddr).Sign())

	e.advance(24 * time.Hour)
	// New day bucket; budget derives from the reduced reference balance.
	assert.Equal(t, big.NewInt(40), e.engine.AvailableSpending(userAddr))
}

func TestSpendWithSignature(t *testing.T) {
	e := newEnv(t)

	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	user := signer.Address()
	e.grant(t, user, big.NewInt(1000))

	req := SpendRequest{
		Deadline: big.NewInt(e.now.UnixMilli() + 1000),
		Nonce:    "nonce-1",
		Amount:   big.NewInt(250),
	}
	sig, err := signer.SignStructHash(e.engine.Domain(), req.StructHash())
	require.NoError(t, err)

	spender, err := e.engine.SpendPointsWithSignature(oracleAcct, req, sig)
	require.NoError(t, err)
	assert.Equal(t, user, spender)
	assert.Equal(t, big.NewInt(750), e.engine.Balance(user))

	_, err = e.engine.SpendPointsWithSignature(oracleAcct, req, sig)
	require.EqualError(t, err, "Nonce already used")
}

func TestSpendWithSignatureExpired(t *testing.T) {
	e := newEnv(t)

	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	e.grant(t, signer.Address(), big.NewInt(1000))

	req := SpendRequest{
		Deadline: big.NewInt(e.now.UnixMilli() - 1),
		Nonce:    "nonce-1",
		Amount:   big.NewInt(10),
	}
	sig, err := signer.SignStructHash(e.engine.Domain(), req.StructHash())
	require.NoError(t, err)

	_, err = e.engine.SpendPointsWithSignature(oracleAcct, req, sig)
	require.EqualError(t, err, "Request expired")
}

func TestRejectedSignedSpendLeavesNonceUnused(t *testing.T) {
	e := newEnv(t)

	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	user := signer.Address()
	e.grant(t, user, big.NewInt(100))
	require.NoError(t, e.engine.UpdateMaxDailySpendingCap(ownerAddr, big.NewInt(50)))

	req := SpendRequest{
		Deadline: big.NewInt(e.now.UnixMilli() + 1000),
		Nonce:    "nonce-1",
		Amount:   big.NewInt(80),
	}
	sig, err := signer.SignStructHash(e.engine.Domain(), req.StructHash())
	require.NoError(t, err)

	_, err = e.engine.SpendPointsWithSignature(oracleAcct, req, sig)
	require.EqualError(t, err, "Daily spending limit exceeded")
	assert.Equal(t, big.NewInt(100), e.engine.Balance(user))

	// The failed attempt consumed nothing; once the cap is lifted the
	// identical request goes through.
	require.NoError(t, e.engine.UpdateMaxDailySpendingCap(ownerAddr, big.NewInt(100)))
	spender, err := e.engine.SpendPointsWithSignature(oracleAcct, req, sig)
	require.NoError(t, err)
	assert.Equal(t, user, spender)
	assert.Equal(t, big.NewInt(20), e.engine.Balance(user))
}

func TestRejectedDelegatedSpendKeepsAllowance(t *testing.T) {
	e := newEnv(t)

	delegate, err := crypto.GenerateSigner()
	require.NoError(t, err)
	e.grant(t, userAddr, big.NewInt(100))
	require.NoError(t, e.engine.UpdateMaxDailySpendingCap(ownerAddr, big.NewInt(50)))
	require.NoError(t, e.engine.Approve(userAddr, delegate.Address(), big.NewInt(80)))

	req := DelegatedSpendRequest{
		Deadline: big.NewInt(e.now.UnixMilli() + 1000),
		Nonce:    "nonce-1",
		Amount:   big.NewInt(80),
		Owner:    userAddr,
	}
	sig, err := delegate.SignStructHash(e.engine.Domain(), req.StructHash())
	require.NoError(t, err)

	_, err = e.engine.SpendPointsOnBehalf(oracleAcct, req, sig)
	require.EqualError(t, err, "Daily spending limit exceeded")
	assert.Equal(t, big.NewInt(80), e.engine.Allowance(userAddr, delegate.Address()))

	require.NoError(t, e.engine.UpdateMaxDailySpendingCap(ownerAddr, big.NewInt(100)))
	owner, err := e.engine.SpendPointsOnBehalf(oracleAcct, req, sig)
	require.NoError(t, err)
	assert.Equal(t, userAddr, owner)
	assert.Equal(t, big.NewInt(20), e.engine.Balance(userAddr))
	assert.Zero(t, e.engine.Allowance(userAddr, delegate.Address()).Sign())
}

func TestDelegatedSpendConsumesAllowance(t *testing.T) {
	e := newEnv(t)

	delegate, err := crypto.GenerateSigner()
	require.NoError(t, err)
	e.grant(t, userAddr, big.NewInt(1000))
	require.NoError(t, e.engine.Approve(userAddr, delegate.Address(), big.NewInt(300)))

	req := DelegatedSpendRequest{
		Deadline: big.NewInt(e.now.UnixMilli() + 1000),
		Nonce:    "nonce-1",
		Amount:   big.NewInt(300),
		Owner:    userAddr,
	}
	sig, err := delegate.SignStructHash(e.engine.Domain(), req.StructHash())
	require.NoError(t, err)

	owner, err := e.engine.SpendPointsOnBehalf(oracleAcct, req, sig)
	require.NoError(t, err)
	assert.Equal(t, userAddr, owner)
	assert.Equal(t, big.NewInt(700), e.engine.Balance(userAddr))
	assert.Zero(t, e.engine.Allowance(userAddr, delegate.Address()).Sign())
}

func TestDelegatedSpendOverAllowance(t *testing.T) {
	e := newEnv(t)

	delegate, err := crypto.GenerateSigner()
	require.NoError(t, err)
	e.grant(t, userAddr, big.NewInt(1000))
	require.NoError(t, e.engine.Approve(userAddr, delegate.Address(), big.NewInt(100)))

	req := DelegatedSpendRequest{
		Deadline: big.NewInt(e.now.UnixMilli() + 1000),
		Nonce:    "nonce-1",
		Amount:   big.NewInt(300),
		Owner:    userAddr,
	}
	sig, err := delegate.SignStructHash(e.engine.Domain(), req.StructHash())
	require.NoError(t, err)

	_, err = e.engine.SpendPointsOnBehalf(oracleAcct, req, sig)
	require.EqualError(t, err, "Insufficient allowance")
}

func TestSpendFromAllowanceWithoutSignature(t *testing.T) {
	e := newEnv(t)
	e.grant(t, userAddr, big.NewInt(1000))
	spender := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	require.NoError(t, e.engine.Approve(userAddr, spender, big.NewInt(500)))

	require.NoError(t, e.engine.SpendPointsFromAllowance(oracleAcct, spender, userAddr, big.NewInt(200)))
	assert.Equal(t, big.NewInt(800), e.engine.Balance(userAddr))
	assert.Equal(t, big.NewInt(300), e.engine.Allowance(userAddr, spender))
}

func TestOverBudgetAllowanceSpendKeepsAllowance(t *testing.T) {
	e := newEnv(t)
	e.grant(t, userAddr, big.NewInt(100))
	require.NoError(t, e.engine.UpdateMaxDailySpendingCap(ownerAddr, big.NewInt(50)))
	spender := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	require.NoError(t, e.engine.Approve(userAddr, spender, big.NewInt(80)))

	err := e.engine.SpendPointsFromAllowance(oracleAcct, spender, userAddr, big.NewInt(80))
	require.EqualError(t, err, "Daily spending limit exceeded")
	assert.Equal(t, big.NewInt(80), e.engine.Allowance(userAddr, spender))
	assert.Equal(t, big.NewInt(100), e.engine.Balance(userAddr))
}

func TestVerifyRecoversSigner(t *testing.T) {
	e := newEnv(t)

	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	req := SpendRequest{
		Deadline: big.NewInt(e.now.UnixMilli() + 1000),
		Nonce:    "nonce-1",
		Amount:   big.NewInt(5),
	}
	sig, err := signer.SignStructHash(e.engine.Domain(), req.StructHash())
	require.NoError(t, err)

	got, err := e.engine.Verify(req, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), got)

	// A signature over different content recovers a different address.
	tampered := req
	tampered.Amount = big.NewInt(6)
	got, err = e.engine.Verify(tampered, sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Address(), got)
}

func TestSignedSpendRejectsOversizedAmount(t *testing.T) {
	e := newEnv(t)

	req := SpendRequest{
		Deadline: big.NewInt(e.now.UnixMilli() + 1000),
		Nonce:    "nonce-1",
		Amount:   new(big.Int).Lsh(big.NewInt(1), 256),
	}
	_, err := e.engine.SpendPointsWithSignature(oracleAcct, req, make([]byte, 65))
	require.EqualError(t, err, "invalid request")

	delegated := DelegatedSpendRequest{
		Deadline: new(big.Int).Lsh(big.NewInt(1), 300),
		Nonce:    "nonce-1",
		Amount:   big.NewInt(1),
		Owner:    userAddr,
	}
	_, err = e.engine.SpendPointsOnBehalf(oracleAcct, delegated, make([]byte, 65))
	require.EqualError(t, err, "invalid request")
}

type stubStaking struct {
	earned map[common.Address]*big.Int
}

func (s stubStaking) EarnedUserPoints(account common.Address) *big.Int {
	if e, ok := s.earned[account]; ok {
		return new(big.Int).Set(e)
	}
	return new(big.Int)
}

func TestStakingPointsExtendSpending(t *testing.T) {
	e := newEnv(t)
	e.grant(t, userAddr, big.NewInt(100))
	src := stubStaking{earned: map[common.Address]*big.Int{userAddr: big.NewInt(50)}}
	require.NoError(t, e.engine.SetStakingSource(ownerAddr, src))

	assert.Equal(t, big.NewInt(150), e.engine.AvailableSpending(userAddr))

	// Ledger balance is drained first, the remainder comes from staking.
	require.NoError(t, e.engine.SpendPoints(oracleAcct, userAddr, big.NewInt(120)))
	assert.Zero(t, e.engine.Balance(userAddr).Sign())
	assert.Equal(t, big.NewInt(20), e.engine.SpentStakingPoints(userAddr))
	assert.Zero(t, e.engine.AvailableSpending(userAddr).Sign())
}

func TestPausedBlocksSpending(t *testing.T) {
	e := newEnv(t)
	e.grant(t, userAddr, big.NewInt(1000))
	require.NoError(t, e.engine.SetPaused(ownerAddr, true))

	err := e.engine.SpendPoints(oracleAcct, userAddr, big.NewInt(1))
	require.EqualError(t, err, "Contract is paused")

	require.NoError(t, e.engine.SetPaused(ownerAddr, false))
	require.NoError(t, e.engine.SpendPoints(oracleAcct, userAddr, big.NewInt(1)))
}

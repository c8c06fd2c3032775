package points

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/crypto"
	"github.com/predictlabs/marketcore/internal/domain"
)

var (
	spendRequestTypeHash = crypto.TypeHash(
		"Request(uint256 deadline,string nonce,uint256 amount)")
	delegatedRequestTypeHash = crypto.TypeHash(
		"DelegatedRequest(uint256 deadline,string nonce,uint256 amount,address owner)")
)

// SpendRequest is a user-signed authorization to spend points. The nonce is
// single-use per signer; the deadline is a unix timestamp in milliseconds.
type SpendRequest struct {
	Deadline *big.Int
	Nonce    string
	Amount   *big.Int
}

// StructHash returns the typed-data struct hash of the request.
func (r SpendRequest) StructHash() []byte {
	return crypto.StructHash(spendRequestTypeHash,
		crypto.Uint256(r.Deadline),
		crypto.StringWord(r.Nonce),
		crypto.Uint256(r.Amount),
	)
}

// DelegatedSpendRequest is signed by a delegate holding an allowance from the
// owner. The owner field binds the signature to the account being debited.
type DelegatedSpendRequest struct {
	Deadline *big.Int
	Nonce    string
	Amount   *big.Int
	Owner    common.Address
}

// StructHash returns the typed-data struct hash of the delegated request.
func (r DelegatedSpendRequest) StructHash() []byte {
	return crypto.StructHash(delegatedRequestTypeHash,
		crypto.Uint256(r.Deadline),
		crypto.StringWord(r.Nonce),
		crypto.Uint256(r.Amount),
		crypto.AddressWord(r.Owner),
	)
}

// checkRequestInts rejects requests whose numeric fields are missing or do
// not fit in a uint256 word. Runs before hashing, which assumes word-sized
// values.
func checkRequestInts(deadline, amount *big.Int) error {
	if deadline == nil || amount == nil || deadline.BitLen() > 256 || amount.BitLen() > 256 {
		return domain.Reject(domain.ErrMalformedInput, "invalid request")
	}
	return nil
}

// Verify recovers the signer of a spend request without touching ledger
// state. Relayers use it to pre-validate a request before submitting it.
func (e *Engine) Verify(req SpendRequest, signature []byte) (common.Address, error) {
	if err := checkRequestInts(req.Deadline, req.Amount); err != nil {
		return common.Address{}, err
	}
	signer, err := e.typed.RecoverSigner(req.StructHash(), signature)
	if err != nil {
		return common.Address{}, domain.Reject(domain.ErrMalformedInput, "Signature is not valid")
	}
	return signer, nil
}

// VerifyDelegated recovers the delegate that signed a delegated spend
// request, without touching ledger state.
func (e *Engine) VerifyDelegated(req DelegatedSpendRequest, signature []byte) (common.Address, error) {
	if err := checkRequestInts(req.Deadline, req.Amount); err != nil {
		return common.Address{}, err
	}
	signer, err := e.typed.RecoverSigner(req.StructHash(), signature)
	if err != nil {
		return common.Address{}, domain.Reject(domain.ErrMalformedInput, "Signature is not valid")
	}
	return signer, nil
}

// SpendPointsWithSignature debits the account that signed the request. The
// returned address identifies whose points were spent. Only authorized caller
// contracts may invoke it. Every check runs before any state changes, so a
// rejected request leaves its nonce unconsumed and can be resubmitted.
func (e *Engine) SpendPointsWithSignature(caller common.Address, req SpendRequest, signature []byte) (common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAuthorized(caller); err != nil {
		return common.Address{}, err
	}
	if err := e.requireActive(); err != nil {
		return common.Address{}, err
	}
	owner, err := e.Verify(req, signature)
	if err != nil {
		return common.Address{}, err
	}

	now := e.clock()
	if err := e.checkDeadline(req.Deadline, now); err != nil {
		return common.Address{}, err
	}
	if err := e.checkNonce(owner, req.Nonce); err != nil {
		return common.Address{}, err
	}
	if err := e.checkSpend(owner, req.Amount, now); err != nil {
		return common.Address{}, err
	}

	e.markNonce(owner, req.Nonce)
	e.spend(owner, req.Amount, now)
	return owner, nil
}

// SpendPointsOnBehalf debits the owner named in a delegate-signed request,
// consuming the delegate's allowance. It returns the owner whose points were
// spent. Only authorized caller contracts may invoke it. As with
// SpendPointsWithSignature, nothing is consumed unless the whole request
// clears.
func (e *Engine) SpendPointsOnBehalf(caller common.Address, req DelegatedSpendRequest, signature []byte) (common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAuthorized(caller); err != nil {
		return common.Address{}, err
	}
	if err := e.requireActive(); err != nil {
		return common.Address{}, err
	}
	spender, err := e.VerifyDelegated(req, signature)
	if err != nil {
		return common.Address{}, err
	}

	now := e.clock()
	if err := e.checkDeadline(req.Deadline, now); err != nil {
		return common.Address{}, err
	}
	if err := e.checkNonce(spender, req.Nonce); err != nil {
		return common.Address{}, err
	}
	if err := e.checkAllowance(req.Owner, spender, req.Amount); err != nil {
		return common.Address{}, err
	}
	if err := e.checkSpend(req.Owner, req.Amount, now); err != nil {
		return common.Address{}, err
	}

	e.markNonce(spender, req.Nonce)
	e.useAllowance(req.Owner, spender, req.Amount)
	e.spend(req.Owner, req.Amount, now)
	return req.Owner, nil
}

// checkDeadline rejects requests whose millisecond deadline has passed.
func (e *Engine) checkDeadline(deadline *big.Int, now time.Time) error {
	if deadline.Cmp(big.NewInt(now.UnixMilli())) < 0 {
		return domain.Reject(domain.ErrExpired, "Request expired")
	}
	return nil
}

// checkNonce rejects an empty or previously consumed nonce.
func (e *Engine) checkNonce(signer common.Address, nonce string) error {
	if nonce == "" {
		return domain.Reject(domain.ErrMalformedInput, "invalid nonce")
	}
	if e.usedNonces[signer][nonce] {
		return domain.Reject(domain.ErrInvalidState, "Nonce already used")
	}
	return nil
}

// markNonce consumes a nonce that checkNonce already validated.
func (e *Engine) markNonce(signer common.Address, nonce string) {
	used, ok := e.usedNonces[signer]
	if !ok {
		used = make(map[string]bool)
		e.usedNonces[signer] = used
	}
	used[nonce] = true
}

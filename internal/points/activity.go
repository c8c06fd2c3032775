package points

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/predictlabs/marketcore/internal/crypto"
	"github.com/predictlabs/marketcore/internal/domain"
)

// CreateActivity registers a reward activity. Rewards claimed under it stay
// locked for lockDays before they become withdrawable. Admin only.
func (e *Engine) CreateActivity(caller common.Address, name string, lockDays int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if name == "" {
		return domain.Reject(domain.ErrMalformedInput, "invalid activity name")
	}
	if lockDays < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid lock period")
	}
	if _, exists := e.activities[name]; exists {
		return domain.Reject(domain.ErrInvalidState, "Activity already exists")
	}
	e.activities[name] = lockDays
	return nil
}

// ActivityLockDays returns an activity's lock period and whether it exists.
func (e *Engine) ActivityLockDays(name string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.activities[name]
	return d, ok
}

// UserActivities returns the activity names the user has claimed, in claim
// order.
func (e *Engine) UserActivities(user common.Address) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.userActivities[user]))
	copy(out, e.userActivities[user])
	return out
}

// ClaimMessageHash computes the content hash an admin signs to authorize an
// activity-reward claim: the recipient with the amount and name lists folded
// in. Any change to recipient, amounts, or names invalidates the signature.
func ClaimMessageHash(user common.Address, amounts []*big.Int, names []string) []byte {
	amountHash := ethcrypto.Keccak256(encodeUint256Array(amounts))
	namesHash := ethcrypto.Keccak256(encodeStringArray(names))
	return ethcrypto.Keccak256(user.Bytes(), amountHash, namesHash)
}

// ClaimActivityRewards credits activity rewards authorized by an admin
// signature over the claim content. Each activity is claimable once per user.
// When a claim payout divisor is configured, amount/divisor is paid out in
// native currency immediately and only the remainder is credited as points.
func (e *Engine) ClaimActivityRewards(user common.Address, amounts []*big.Int, names []string, signature []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireActive(); err != nil {
		return err
	}
	if len(amounts) != len(names) || len(names) == 0 {
		return domain.Reject(domain.ErrMalformedInput, "Array length mismatch")
	}
	for _, a := range amounts {
		if a == nil || a.Sign() < 0 || a.BitLen() > 256 {
			return domain.Reject(domain.ErrMalformedInput, "invalid reward amount")
		}
	}

	signer, err := crypto.RecoverPersonal(ClaimMessageHash(user, amounts, names), signature)
	if err != nil || (!e.admins[signer] && signer != e.owner) {
		return domain.Reject(domain.ErrAccessDenied, "Signature is not valid")
	}

	claims, ok := e.activityClaims[user]
	if !ok {
		claims = make(map[string]int64)
		e.activityClaims[user] = claims
	}
	for _, name := range names {
		if _, exists := e.activities[name]; !exists {
			return domain.Reject(domain.ErrNotFound, "Activity not found")
		}
		if _, claimed := claims[name]; claimed {
			return domain.Reject(domain.ErrInvalidState, "Activity rewards already claimed")
		}
	}

	totalSend := new(big.Int)
	sendAmounts := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		send := new(big.Int)
		if e.percentageToSendOnClaim > 0 {
			send.Div(a, big.NewInt(e.percentageToSendOnClaim))
		}
		sendAmounts[i] = send
		totalSend.Add(totalSend, send)
	}
	if totalSend.Sign() > 0 && e.native.BalanceOf(e.addr).Cmp(totalSend) < 0 {
		return domain.Reject(domain.ErrInvalidState, "Contract doesn't have enough balance")
	}

	now := e.clock().Unix()
	bal, ok := e.balances[user]
	if !ok {
		bal = new(big.Int)
		e.balances[user] = bal
	}
	ref, ok := e.reference[user]
	if !ok {
		ref = new(big.Int)
		e.reference[user] = ref
	}
	byActivity, ok := e.activityBalances[user]
	if !ok {
		byActivity = make(map[string]*big.Int)
		e.activityBalances[user] = byActivity
	}

	for i, name := range names {
		net := new(big.Int).Sub(amounts[i], sendAmounts[i])
		bal.Add(bal, net)
		ref.Add(ref, net)

		ab, ok := byActivity[name]
		if !ok {
			ab = new(big.Int)
			byActivity[name] = ab
			e.userActivities[user] = append(e.userActivities[user], name)
		}
		ab.Add(ab, net)
		claims[name] = now

		if sendAmounts[i].Sign() > 0 {
			if err := e.native.Transfer(e.addr, user, sendAmounts[i]); err != nil {
				return err
			}
		}
	}

	e.emit(domain.EventActivityClaimed, map[string]any{
		"account":    user.Hex(),
		"activities": append([]string(nil), names...),
	})
	return nil
}

// WithdrawableBalance sums the user's matured reward balances for the named
// activities. A reward matures once its activity's lock period has elapsed
// since the claim.
func (e *Engine) WithdrawableBalance(user common.Address, names []string) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withdrawable(user, names, e.clock().Unix())
}

func (e *Engine) withdrawable(user common.Address, names []string, now int64) *big.Int {
	total := new(big.Int)
	claims := e.activityClaims[user]
	byActivity := e.activityBalances[user]
	for _, name := range names {
		claimedAt, ok := claims[name]
		if !ok {
			continue
		}
		lockDays := e.activities[name]
		if now < claimedAt+lockDays*secondsPerDay {
			continue
		}
		if ab, ok := byActivity[name]; ok {
			total.Add(total, ab)
		}
	}
	return total
}

// WithdrawRewards pays out the user's matured reward balances for the named
// activities in native currency, reducing both the points balance and the
// reference balance.
func (e *Engine) WithdrawRewards(user common.Address, names []string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireActive(); err != nil {
		return nil, err
	}

	now := e.clock().Unix()
	total := e.withdrawable(user, names, now)
	if total.Sign() == 0 {
		return nil, domain.Reject(domain.ErrInvalidState, "No rewards to withdraw")
	}
	if e.native.BalanceOf(e.addr).Cmp(total) < 0 {
		return nil, domain.Reject(domain.ErrInvalidState, "Contract doesn't have enough balance")
	}

	claims := e.activityClaims[user]
	byActivity := e.activityBalances[user]
	for _, name := range names {
		claimedAt, ok := claims[name]
		if !ok {
			continue
		}
		if now < claimedAt+e.activities[name]*secondsPerDay {
			continue
		}
		if ab, ok := byActivity[name]; ok {
			ab.SetInt64(0)
		}
	}

	if bal, ok := e.balances[user]; ok {
		bal.Sub(bal, total)
		if bal.Sign() < 0 {
			bal.SetInt64(0)
		}
	}
	if ref, ok := e.reference[user]; ok {
		ref.Sub(ref, total)
		if ref.Sign() < 0 {
			ref.SetInt64(0)
		}
	}

	if err := e.native.Transfer(e.addr, user, total); err != nil {
		return nil, err
	}
	e.emit(domain.EventRewardsClaimed, map[string]any{
		"account": user.Hex(),
		"amount":  total.String(),
	})
	return total, nil
}

// encodeUint256Array ABI-encodes a dynamic uint256 array: a 0x20 offset
// word, the length, then the elements.
func encodeUint256Array(values []*big.Int) []byte {
	out := make([]byte, 0, 64+32*len(values))
	out = append(out, crypto.Uint256(big.NewInt(32))...)
	out = append(out, crypto.Uint256(big.NewInt(int64(len(values))))...)
	for _, v := range values {
		out = append(out, crypto.Uint256(v)...)
	}
	return out
}

// encodeStringArray ABI-encodes a dynamic string array: a 0x20 offset word,
// the length, per-element offsets, then each string as length plus padded
// bytes.
func encodeStringArray(values []string) []byte {
	n := len(values)
	head := make([]byte, 0, 32*(n+2))
	head = append(head, crypto.Uint256(big.NewInt(32))...)
	head = append(head, crypto.Uint256(big.NewInt(int64(n)))...)

	tail := make([]byte, 0)
	offset := int64(32 * n)
	offsets := make([][]byte, 0, n)
	for _, s := range values {
		offsets = append(offsets, crypto.Uint256(big.NewInt(offset)))
		padded := (len(s) + 31) / 32 * 32
		enc := make([]byte, 32+padded)
		copy(enc, crypto.Uint256(big.NewInt(int64(len(s)))))
		copy(enc[32:], s)
		tail = append(tail, enc...)
		offset += int64(len(enc))
	}
	for _, o := range offsets {
		head = append(head, o...)
	}
	return append(head, tail...)
}

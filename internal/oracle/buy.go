package oracle

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/points"
)

// checkActive rejects trading on resolved markets and inside the cutoff
// window before the end time.
func (o *Oracle) checkActive(m *market, now time.Time) error {
	if m.question.Resolved || !now.Before(m.question.EndTime.Add(-o.stopTradingBeforeEnd)) {
		return domain.Reject(domain.ErrExpired, "market is not active")
	}
	return nil
}

// checkUnlocked gates buys funded by native value. Proposers stay exempt so
// operational accounts can keep seeding markets when public buying is off.
func (o *Oracle) checkUnlocked(caller common.Address) error {
	if !o.buyWithUnlockedEnabled && !o.proposers.member[caller] {
		return domain.Reject(domain.ErrAccessDenied, "Buy with unlocked tokens is disabled")
	}
	return nil
}

// checkBuyBounds enforces the minimum buy and the cumulative per-question cap
// for the recipient.
func (o *Oracle) checkBuyBounds(m *market, recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}
	if amount.Cmp(o.minBuyAmount) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Amount sent is less than minimum buy amount")
	}
	if o.maxBuyAmountPerQuestion.Sign() > 0 {
		total := new(big.Int).Set(amount)
		if spent, ok := m.spent[recipient]; ok {
			total.Add(total, spent)
		}
		if total.Cmp(o.maxBuyAmountPerQuestion) > 0 {
			return domain.Reject(domain.ErrOutOfBounds, "Amount exceeds maximum buy amount per question")
		}
	}
	return nil
}

// drawLocked spends locked points for the payer and moves the matching native
// value from the points ledger's account into the oracle's.
func (o *Oracle) drawLocked(payer common.Address, amount *big.Int) error {
	if o.points == nil {
		return domain.Reject(domain.ErrInvalidState, "locked buying is not configured")
	}
	if o.points.AvailableSpending(payer).Cmp(amount) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Insufficient funds")
	}
	if err := o.points.SpendPoints(o.addr, payer, amount); err != nil {
		return err
	}
	return o.native.Transfer(o.points.Address(), o.addr, amount)
}

// executeBuy wraps the oracle's native funding into collateral and routes the
// buy through the pool, crediting outcome tokens to the recipient. The caller
// must already have moved amount native value into the oracle's account.
func (o *Oracle) executeBuy(m *market, recipient common.Address, amount *big.Int, outcomeIndex int, minOutcomeTokens *big.Int) (*big.Int, error) {
	if err := o.collateral.Deposit(o.addr, amount); err != nil {
		return nil, err
	}
	if err := o.collateral.Approve(o.addr, m.pool.Address(), amount); err != nil {
		return nil, err
	}
	bought, err := m.pool.BuyFor(o.addr, recipient, amount, outcomeIndex, minOutcomeTokens)
	if err != nil {
		return nil, err
	}

	spent, ok := m.spent[recipient]
	if !ok {
		spent = new(big.Int)
		m.spent[recipient] = spent
	}
	spent.Add(spent, amount)
	o.addOpenPosition(recipient, m.question.QuestionID)
	return bought, nil
}

func (o *Oracle) addOpenPosition(account common.Address, questionID common.Hash) {
	for _, qid := range o.openPositions[account] {
		if qid == questionID {
			return
		}
	}
	o.openPositions[account] = append(o.openPositions[account], questionID)
}

func (o *Oracle) removeOpenPosition(account common.Address, questionID common.Hash) {
	open := o.openPositions[account]
	for i, qid := range open {
		if qid == questionID {
			o.openPositions[account] = append(open[:i], open[i+1:]...)
			return
		}
	}
}

// BuyPosition buys outcome tokens for the recipient with native value pulled
// from the caller.
func (o *Oracle) BuyPosition(caller common.Address, questionID common.Hash, outcomeIndex int, minOutcomeTokens *big.Int, recipient common.Address, value *big.Int) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	if err := o.checkActive(m, o.clock()); err != nil {
		return nil, err
	}
	if err := o.checkUnlocked(caller); err != nil {
		return nil, err
	}
	if err := o.checkBuyBounds(m, recipient, value); err != nil {
		return nil, err
	}
	if err := o.native.Transfer(caller, o.addr, value); err != nil {
		return nil, err
	}
	return o.executeBuy(m, recipient, value, outcomeIndex, minOutcomeTokens)
}

// BuyPositionWithLocked buys for the caller, funding the buy from attached
// native value first and drawing the shortfall from the caller's locked
// points. A zero value funds the whole buy from points.
func (o *Oracle) BuyPositionWithLocked(caller common.Address, questionID common.Hash, outcomeIndex int, minOutcomeTokens, amount, value *big.Int) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	if err := o.checkActive(m, o.clock()); err != nil {
		return nil, err
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() > 0 {
		if err := o.checkUnlocked(caller); err != nil {
			return nil, err
		}
	}
	if err := o.checkBuyBounds(m, caller, amount); err != nil {
		return nil, err
	}
	locked := new(big.Int).Sub(amount, value)
	if locked.Sign() < 0 {
		return nil, domain.Reject(domain.ErrMalformedInput, "Incorrect amount sent")
	}
	if locked.Sign() > 0 {
		if err := o.drawLocked(caller, locked); err != nil {
			return nil, err
		}
	}
	if value.Sign() > 0 {
		if err := o.native.Transfer(caller, o.addr, value); err != nil {
			return nil, err
		}
	}
	return o.executeBuy(m, caller, amount, outcomeIndex, minOutcomeTokens)
}

// BuyPositionWithLockedOnBehalf buys for the owner, spending the owner's
// locked points through an allowance the owner granted to the caller.
func (o *Oracle) BuyPositionWithLockedOnBehalf(caller, owner common.Address, questionID common.Hash, outcomeIndex int, minOutcomeTokens, amount *big.Int) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	if err := o.checkActive(m, o.clock()); err != nil {
		return nil, err
	}
	if err := o.checkBuyBounds(m, owner, amount); err != nil {
		return nil, err
	}
	if o.points == nil {
		return nil, domain.Reject(domain.ErrInvalidState, "locked buying is not configured")
	}
	if o.points.AvailableSpending(owner).Cmp(amount) < 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "Insufficient funds")
	}
	if err := o.points.SpendPointsFromAllowance(o.addr, caller, owner, amount); err != nil {
		return nil, err
	}
	if err := o.native.Transfer(o.points.Address(), o.addr, amount); err != nil {
		return nil, err
	}
	return o.executeBuy(m, owner, amount, outcomeIndex, minOutcomeTokens)
}

// BuyPositionWithSignature buys for the account that signed the spend
// request, funding the buy entirely from that account's locked points. The
// caller is just the relayer presenting the signature.
func (o *Oracle) BuyPositionWithSignature(caller common.Address, questionID common.Hash, outcomeIndex int, minOutcomeTokens *big.Int, req points.SpendRequest, signature []byte) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	if err := o.checkActive(m, o.clock()); err != nil {
		return nil, err
	}
	if o.points == nil {
		return nil, domain.Reject(domain.ErrInvalidState, "locked buying is not configured")
	}
	signer, err := o.points.Domain().RecoverSigner(req.StructHash(), signature)
	if err != nil {
		return nil, domain.Reject(domain.ErrMalformedInput, "Signature is not valid")
	}
	if err := o.checkBuyBounds(m, signer, req.Amount); err != nil {
		return nil, err
	}
	owner, err := o.points.SpendPointsWithSignature(o.addr, req, signature)
	if err != nil {
		return nil, err
	}
	if err := o.native.Transfer(o.points.Address(), o.addr, req.Amount); err != nil {
		return nil, err
	}
	return o.executeBuy(m, owner, req.Amount, outcomeIndex, minOutcomeTokens)
}

// BuyPositionWithSignatureOnBehalf buys for the owner named in a
// delegate-signed spend request, consuming the delegate's points allowance.
func (o *Oracle) BuyPositionWithSignatureOnBehalf(caller common.Address, questionID common.Hash, outcomeIndex int, minOutcomeTokens *big.Int, req points.DelegatedSpendRequest, signature []byte) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	if err := o.checkActive(m, o.clock()); err != nil {
		return nil, err
	}
	if o.points == nil {
		return nil, domain.Reject(domain.ErrInvalidState, "locked buying is not configured")
	}
	if err := o.checkBuyBounds(m, req.Owner, req.Amount); err != nil {
		return nil, err
	}
	owner, err := o.points.SpendPointsOnBehalf(o.addr, req, signature)
	if err != nil {
		return nil, err
	}
	if err := o.native.Transfer(o.points.Address(), o.addr, req.Amount); err != nil {
		return nil, err
	}
	return o.executeBuy(m, owner, req.Amount, outcomeIndex, minOutcomeTokens)
}

// SellPosition sells the caller's outcome tokens back to the pool and pays
// the return out as native value. Selling must be enabled by the owner.
func (o *Oracle) SellPosition(caller common.Address, questionID common.Hash, returnAmount *big.Int, outcomeIndex int, maxOutcomeTokens *big.Int) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	if !o.sellEnabled {
		return nil, domain.Reject(domain.ErrAccessDenied, "Selling is disabled")
	}
	if err := o.checkActive(m, o.clock()); err != nil {
		return nil, err
	}
	sold, err := m.pool.Sell(caller, returnAmount, outcomeIndex, maxOutcomeTokens)
	if err != nil {
		return nil, err
	}
	if err := o.collateral.Withdraw(caller, sold); err != nil {
		return nil, err
	}
	return sold, nil
}

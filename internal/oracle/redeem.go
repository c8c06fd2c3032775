package oracle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/ctf"
	"github.com/predictlabs/marketcore/internal/domain"
)

// positionBalances reads the account's balance in each index set's position.
func (o *Oracle) positionBalances(m *market, indexSets []uint64, account common.Address) ([]*big.Int, error) {
	full := uint64(1)<<uint(m.question.OutcomeSlotCount) - 1
	out := make([]*big.Int, len(indexSets))
	for i, indexSet := range indexSets {
		if indexSet == 0 || indexSet >= full {
			return nil, domain.Reject(domain.ErrMalformedInput, "Got invalid index set")
		}
		positionID := ctf.PositionID(o.collateral.Address(), ctf.CollectionID(common.Hash{}, m.question.ConditionID, indexSet))
		out[i] = o.tokens.BalanceOf(account, positionID)
	}
	return out, nil
}

// RedeemPosition settles the caller's holdings in the given index sets of a
// resolved market and pays the payout out as native value.
func (o *Oracle) RedeemPosition(caller common.Address, questionID common.Hash, indexSets []uint64) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	return o.redeemPosition(m, caller, indexSets)
}

func (o *Oracle) redeemPosition(m *market, caller common.Address, indexSets []uint64) (*big.Int, error) {
	balances, err := o.positionBalances(m, indexSets, caller)
	if err != nil {
		return nil, err
	}
	held := false
	for _, b := range balances {
		if b.Sign() > 0 {
			held = true
			break
		}
	}
	if !held {
		return nil, domain.Reject(domain.ErrNotFound, "No positions to redeem")
	}

	payout, err := o.tokens.RedeemPositions(caller, common.Hash{}, m.question.ConditionID, indexSets)
	if err != nil {
		return nil, err
	}
	if payout.Sign() > 0 {
		if err := o.collateral.Withdraw(caller, payout); err != nil {
			return nil, err
		}
	}
	o.removeOpenPosition(caller, m.question.QuestionID)
	o.emit(domain.EventPositionsRedeemed, map[string]any{
		"question_id": m.question.QuestionID.Hex(),
		"account":     caller.Hex(),
		"payout":      payout.String(),
	})
	return payout, nil
}

// RedeemPositions walks the caller's open positions and settles up to
// maxCount resolved ones, returning how many were settled and the total
// payout. Open positions on unresolved markets are left in place; if nothing
// could be settled because every open market is still pending, the call
// fails so clients can retry later.
func (o *Oracle) RedeemPositions(caller common.Address, maxCount int) (int, *big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	open := o.openPositions[caller]
	if len(open) == 0 {
		return 0, nil, domain.Reject(domain.ErrNotFound, "No open positions to redeem")
	}

	snapshot := make([]common.Hash, len(open))
	copy(snapshot, open)

	count := 0
	total := new(big.Int)
	for _, qid := range snapshot {
		if maxCount > 0 && count >= maxCount {
			break
		}
		m, ok := o.markets[qid]
		if !ok || !m.question.Resolved {
			continue
		}
		indexSets := basicIndexSets(m.question.OutcomeSlotCount)
		balances, err := o.positionBalances(m, indexSets, caller)
		if err != nil {
			return count, total, err
		}
		held := false
		for _, b := range balances {
			if b.Sign() > 0 {
				held = true
				break
			}
		}
		if held {
			payout, err := o.redeemPosition(m, caller, indexSets)
			if err != nil {
				return count, total, err
			}
			total.Add(total, payout)
		} else {
			o.removeOpenPosition(caller, qid)
		}
		count++
	}
	if count == 0 {
		return 0, nil, domain.Reject(domain.ErrTooEarly, "Unable to redeem positions, resolution pending. Please try again later.")
	}
	return count, total, nil
}

// UserOpenPositions lists the markets the account bought into and has not
// redeemed yet, in buy order.
func (o *Oracle) UserOpenPositions(account common.Address) []common.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()
	open := o.openPositions[account]
	out := make([]common.Hash, len(open))
	copy(out, open)
	return out
}

// RecoverFundingToken burns the oracle's pool shares in a resolved market,
// redeems the resulting outcome tokens, and pays the recovered value to the
// caller. Initializers only.
func (o *Oracle) RecoverFundingToken(caller common.Address, questionID common.Hash, indexSets []uint64) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireInitializer(caller); err != nil {
		return nil, err
	}
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	shares := m.pool.SharesOf(o.addr)
	if shares.Sign() == 0 {
		return nil, domain.Reject(domain.ErrNotFound, "No funding token to recover.")
	}

	// Burning shares also settles accrued fees, so the recovered collateral
	// below includes the oracle's fee share.
	if err := m.pool.RemoveFunding(o.addr, shares); err != nil {
		return nil, err
	}
	if _, err := o.tokens.RedeemPositions(o.addr, common.Hash{}, m.question.ConditionID, indexSets); err != nil {
		return nil, err
	}

	recovered := o.collateral.BalanceOf(o.addr)
	if recovered.Sign() > 0 {
		if err := o.collateral.Withdraw(o.addr, recovered); err != nil {
			return nil, err
		}
		if err := o.native.Transfer(o.addr, caller, recovered); err != nil {
			return nil, err
		}
	}
	o.emit(domain.EventFundingRecovered, map[string]any{
		"question_id": questionID.Hex(),
		"shares":      shares.String(),
		"recovered":   recovered.String(),
		"to":          caller.Hex(),
	})
	return recovered, nil
}

// basicIndexSets returns the singleton index set for every outcome slot.
func basicIndexSets(outcomeSlotCount int) []uint64 {
	out := make([]uint64, outcomeSlotCount)
	for i := range out {
		out[i] = 1 << uint(i)
	}
	return out
}

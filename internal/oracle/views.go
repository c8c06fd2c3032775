package oracle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/domain"
)

// Question returns a copy of the stored question record.
func (o *Oracle) Question(questionID common.Hash) (domain.Question, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return domain.Question{}, err
	}
	return copyQuestion(m.question), nil
}

// Questions lists every tracked question in no particular order.
func (o *Oracle) Questions() []domain.Question {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Question, 0, len(o.markets))
	for _, m := range o.markets {
		out = append(out, copyQuestion(m.question))
	}
	return out
}

// MarketData assembles the full read-model for one market: the question,
// its lifecycle state, current pool balances, implied probabilities, and the
// unique buyer count.
func (o *Oracle) MarketData(questionID common.Hash) (domain.MarketData, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return domain.MarketData{}, err
	}

	probabilities, err := m.pool.CalculateProbabilities()
	if err != nil {
		return domain.MarketData{}, err
	}
	return domain.MarketData{
		QuestionID:    m.question.QuestionID,
		ConditionID:   m.question.ConditionID,
		PoolID:        m.question.PoolID,
		EndTime:       m.question.EndTime,
		State:         m.question.State(),
		OutcomeCount:  m.question.OutcomeSlotCount,
		Probabilities: probabilities,
		PoolBalances:  m.pool.PoolBalances(),
		UniqueBuys:    m.pool.UniqueBuys(),
	}, nil
}

// PositionBalances returns the account's balance in each index set's
// position for one market.
func (o *Oracle) PositionBalances(questionID common.Hash, indexSets []uint64, account common.Address) ([]*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	return o.positionBalances(m, indexSets, account)
}

// UniqueBuys returns the number of distinct buyers a market has seen.
func (o *Oracle) UniqueBuys(questionID common.Hash) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return 0, err
	}
	return m.pool.UniqueBuys(), nil
}

// RemainingBuyAmount returns how much more the account may spend on one
// question under the per-question cap.
func (o *Oracle) RemainingBuyAmount(questionID common.Hash, account common.Address) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, err := o.getMarket(questionID)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Set(o.maxBuyAmountPerQuestion)
	if spent, ok := m.spent[account]; ok {
		remaining.Sub(remaining, spent)
	}
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return remaining, nil
}

func copyQuestion(q domain.Question) domain.Question {
	out := q
	if q.ProposedPayouts != nil {
		out.ProposedPayouts = make([]*big.Int, len(q.ProposedPayouts))
		for i, p := range q.ProposedPayouts {
			out.ProposedPayouts[i] = new(big.Int).Set(p)
		}
	}
	return out
}

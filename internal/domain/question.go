package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuestionState is the lifecycle state of a market question.
type QuestionState string

const (
	QuestionStateActive         QuestionState = "active"
	QuestionStateAnswerProposed QuestionState = "answer_proposed"
	QuestionStateResolved       QuestionState = "resolved"
)

// Question is one market tracked by the lifecycle oracle: the prepared
// condition, the pool bound to it, and the resolution bookkeeping.
type Question struct {
	QuestionID       common.Hash
	ConditionID      common.Hash
	PoolID           common.Address
	EndTime          time.Time
	OutcomeSlotCount int

	ProposedPayouts []*big.Int
	ProposalTime    time.Time
	AnswerCID       string
	Resolved        bool

	CreatedAt time.Time
}

// State derives the lifecycle state from the stored fields.
func (q *Question) State() QuestionState {
	switch {
	case q.Resolved:
		return QuestionStateResolved
	case len(q.ProposedPayouts) > 0:
		return QuestionStateAnswerProposed
	default:
		return QuestionStateActive
	}
}

// Active reports whether trading is still open at the given instant.
func (q *Question) Active(now time.Time) bool {
	return !q.Resolved && now.Before(q.EndTime)
}

// MarketData is the read-model the oracle exposes for one question.
type MarketData struct {
	QuestionID    common.Hash
	ConditionID   common.Hash
	PoolID        common.Address
	EndTime       time.Time
	State         QuestionState
	OutcomeCount  int
	Probabilities []*big.Int // 1e9 fixed point, one per outcome
	PoolBalances  []*big.Int
	UniqueBuys    int
}

// Settlement is one redemption or funding-recovery record, persisted for
// reporting and archived after resolution.
type Settlement struct {
	ID         string
	QuestionID common.Hash
	Account    common.Address
	Amount     *big.Int
	Kind       string // "redeem", "recover"
	CreatedAt  time.Time
}

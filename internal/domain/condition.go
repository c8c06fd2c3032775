package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Condition is a prepared question with a fixed number of outcome slots. Its
// identity is derived deterministically from (oracle, questionID, slot count);
// the payout vector stays nil until the designated oracle reports.
type Condition struct {
	ID               common.Hash
	Oracle           common.Address
	QuestionID       common.Hash
	OutcomeSlotCount int

	// PayoutNumerators is set exactly once at resolution; PayoutDenominator
	// is the sum of the numerators.
	PayoutNumerators  []*big.Int
	PayoutDenominator *big.Int
}

// Resolved reports whether payouts have been recorded for the condition.
func (c *Condition) Resolved() bool {
	return c.PayoutDenominator != nil && c.PayoutDenominator.Sign() > 0
}

// FullIndexSet returns the bitmask covering every outcome slot.
func (c *Condition) FullIndexSet() uint64 {
	return (uint64(1) << uint(c.OutcomeSlotCount)) - 1
}

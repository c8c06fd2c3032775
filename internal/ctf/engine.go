// Package ctf implements the conditional token engine: condition preparation
// and resolution, combinatorial position splitting/merging, and post-resolution
// redemption. Position balances are tracked per (position id, account) like a
// multi-asset fungible registry; collateral only enters and leaves through the
// injected collateral ledger.
package ctf

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/ledger"
)

// maxOutcomeSlots bounds index sets to a single machine word.
const maxOutcomeSlots = 64

// Engine is the conditional token ledger. All mutating methods are serialized
// behind a single mutex; an operation either applies fully or not at all.
type Engine struct {
	addr       common.Address
	collateral *ledger.Collateral
	events     domain.EventSink

	mu         sync.Mutex
	conditions map[common.Hash]*domain.Condition
	balances   map[common.Hash]map[common.Address]*big.Int
}

// New creates an engine holding pulled collateral under its own address.
func New(addr common.Address, collateral *ledger.Collateral, events domain.EventSink) *Engine {
	return &Engine{
		addr:       addr,
		collateral: collateral,
		events:     events,
		conditions: make(map[common.Hash]*domain.Condition),
		balances:   make(map[common.Hash]map[common.Address]*big.Int),
	}
}

// Address returns the engine's collateral-holding account.
func (e *Engine) Address() common.Address { return e.addr }

// PrepareCondition registers a condition and returns its id. Preparing the
// same (oracle, questionID, outcomeSlotCount) twice is rejected.
func (e *Engine) PrepareCondition(oracle common.Address, questionID common.Hash, outcomeSlotCount int) (common.Hash, error) {
	if outcomeSlotCount < 2 {
		return common.Hash{}, domain.Reject(domain.ErrMalformedInput, "there should be more than one outcome slot")
	}
	if outcomeSlotCount > maxOutcomeSlots {
		return common.Hash{}, domain.Reject(domain.ErrMalformedInput, "too many outcome slots")
	}
	conditionID := ConditionID(oracle, questionID, outcomeSlotCount)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.conditions[conditionID]; ok {
		return common.Hash{}, domain.Reject(domain.ErrInvalidState, "condition already prepared")
	}
	e.conditions[conditionID] = &domain.Condition{
		ID:               conditionID,
		Oracle:           oracle,
		QuestionID:       questionID,
		OutcomeSlotCount: outcomeSlotCount,
	}
	e.emit(domain.EventConditionPrepared, map[string]any{
		"condition_id":       conditionID.Hex(),
		"oracle":             oracle.Hex(),
		"question_id":        questionID.Hex(),
		"outcome_slot_count": outcomeSlotCount,
	})
	return conditionID, nil
}

// ReportPayouts records the payout vector for the caller's condition. Only
// the designated oracle may report, exactly once, with a non-zero vector of
// matching length.
func (e *Engine) ReportPayouts(caller common.Address, questionID common.Hash, payouts []*big.Int) error {
	outcomeSlotCount := len(payouts)
	if outcomeSlotCount < 2 {
		return domain.Reject(domain.ErrMalformedInput, "there should be more than one outcome slot")
	}
	conditionID := ConditionID(caller, questionID, outcomeSlotCount)

	e.mu.Lock()
	defer e.mu.Unlock()
	cond, ok := e.conditions[conditionID]
	if !ok {
		return domain.Reject(domain.ErrInvalidState, "condition not prepared or found")
	}
	if cond.Resolved() {
		return domain.Reject(domain.ErrInvalidState, "payout denominator already set")
	}

	den := new(big.Int)
	nums := make([]*big.Int, outcomeSlotCount)
	for i, p := range payouts {
		if p == nil || p.Sign() < 0 {
			return domain.Reject(domain.ErrMalformedInput, "payout numerator must not be negative")
		}
		nums[i] = new(big.Int).Set(p)
		den.Add(den, p)
	}
	if den.Sign() == 0 {
		return domain.Reject(domain.ErrMalformedInput, "payout is all zeroes")
	}

	cond.PayoutNumerators = nums
	cond.PayoutDenominator = den
	e.emit(domain.EventPayoutsReported, map[string]any{
		"condition_id": conditionID.Hex(),
		"question_id":  questionID.Hex(),
		"denominator":  den.String(),
	})
	return nil
}

// Condition returns a copy of the stored condition.
func (e *Engine) Condition(conditionID common.Hash) (domain.Condition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cond, ok := e.conditions[conditionID]
	if !ok {
		return domain.Condition{}, domain.ErrNotFound
	}
	out := *cond
	if cond.PayoutNumerators != nil {
		out.PayoutNumerators = make([]*big.Int, len(cond.PayoutNumerators))
		for i, n := range cond.PayoutNumerators {
			out.PayoutNumerators[i] = new(big.Int).Set(n)
		}
		out.PayoutDenominator = new(big.Int).Set(cond.PayoutDenominator)
	}
	return out, nil
}

// OutcomeSlotCount returns the condition's slot count, or 0 if unknown.
func (e *Engine) OutcomeSlotCount(conditionID common.Hash) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cond, ok := e.conditions[conditionID]; ok {
		return cond.OutcomeSlotCount
	}
	return 0
}

// SplitPosition burns amount of the parent position (or pulls collateral when
// the parent collection is the root) and mints amount of each child position
// described by the partition.
func (e *Engine) SplitPosition(caller common.Address, parentCollectionID, conditionID common.Hash, partition []uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cond, ok := e.conditions[conditionID]
	if !ok {
		return domain.Reject(domain.ErrInvalidState, "condition not prepared yet")
	}
	freeIndexSet, childIDs, err := e.checkPartition(cond, parentCollectionID, partition)
	if err != nil {
		return err
	}

	// Debit the source before minting anything.
	if freeIndexSet == 0 {
		if parentCollectionID == (common.Hash{}) {
			if err := e.collateral.TransferFrom(e.addr, caller, e.addr, amount); err != nil {
				return err
			}
		} else {
			if err := e.burn(caller, PositionID(e.collateral.Address(), parentCollectionID), amount); err != nil {
				return err
			}
		}
	} else {
		combined := CollectionID(parentCollectionID, conditionID, cond.FullIndexSet()^freeIndexSet)
		if err := e.burn(caller, PositionID(e.collateral.Address(), combined), amount); err != nil {
			return err
		}
	}

	for _, id := range childIDs {
		e.mint(caller, id, amount)
	}
	e.emit(domain.EventPositionSplit, map[string]any{
		"account":      caller.Hex(),
		"condition_id": conditionID.Hex(),
		"amount":       amount.String(),
	})
	return nil
}

// MergePositions is the exact inverse of SplitPosition: it burns amount of
// each child position and credits the parent position or collateral.
func (e *Engine) MergePositions(caller common.Address, parentCollectionID, conditionID common.Hash, partition []uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cond, ok := e.conditions[conditionID]
	if !ok {
		return domain.Reject(domain.ErrInvalidState, "condition not prepared yet")
	}
	freeIndexSet, childIDs, err := e.checkPartition(cond, parentCollectionID, partition)
	if err != nil {
		return err
	}

	// Verify every child balance up front so the burn loop cannot fail
	// halfway through.
	for _, id := range childIDs {
		if e.balanceOf(caller, id).Cmp(amount) < 0 {
			return domain.Reject(domain.ErrOutOfBounds, "Insufficient balance")
		}
	}
	for _, id := range childIDs {
		if err := e.burn(caller, id, amount); err != nil {
			return err
		}
	}

	if freeIndexSet == 0 {
		if parentCollectionID == (common.Hash{}) {
			if err := e.collateral.Transfer(e.addr, caller, amount); err != nil {
				return err
			}
		} else {
			e.mint(caller, PositionID(e.collateral.Address(), parentCollectionID), amount)
		}
	} else {
		combined := CollectionID(parentCollectionID, conditionID, cond.FullIndexSet()^freeIndexSet)
		e.mint(caller, PositionID(e.collateral.Address(), combined), amount)
	}
	e.emit(domain.EventPositionsMerged, map[string]any{
		"account":      caller.Hex(),
		"condition_id": conditionID.Hex(),
		"amount":       amount.String(),
	})
	return nil
}

// RedeemPositions converts the caller's balances in the given index sets of a
// resolved condition into the parent position or collateral. The total payout
// is the sum of balance * payoutNumerator / payoutDenominator per index set,
// with truncating division.
func (e *Engine) RedeemPositions(caller common.Address, parentCollectionID, conditionID common.Hash, indexSets []uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cond, ok := e.conditions[conditionID]
	if !ok {
		return nil, domain.Reject(domain.ErrInvalidState, "condition not prepared yet")
	}
	if !cond.Resolved() {
		return nil, domain.Reject(domain.ErrInvalidState, "result for condition not received yet")
	}

	fullIndexSet := cond.FullIndexSet()
	totalPayout := new(big.Int)
	type burnOp struct {
		id  common.Hash
		amt *big.Int
	}
	var burns []burnOp

	for _, indexSet := range indexSets {
		if indexSet == 0 || indexSet >= fullIndexSet {
			return nil, domain.Reject(domain.ErrMalformedInput, "Got invalid index set")
		}
		positionID := PositionID(e.collateral.Address(), CollectionID(parentCollectionID, conditionID, indexSet))
		balance := e.balanceOf(caller, positionID)
		if balance.Sign() == 0 {
			continue
		}

		payoutNumerator := new(big.Int)
		for i := 0; i < cond.OutcomeSlotCount; i++ {
			if indexSet&(1<<uint(i)) != 0 {
				payoutNumerator.Add(payoutNumerator, cond.PayoutNumerators[i])
			}
		}

		payout := new(big.Int).Mul(balance, payoutNumerator)
		payout.Div(payout, cond.PayoutDenominator)
		totalPayout.Add(totalPayout, payout)
		burns = append(burns, burnOp{id: positionID, amt: balance})
	}

	for _, b := range burns {
		if err := e.burn(caller, b.id, b.amt); err != nil {
			return nil, err
		}
	}
	if totalPayout.Sign() > 0 {
		if parentCollectionID == (common.Hash{}) {
			if err := e.collateral.Transfer(e.addr, caller, totalPayout); err != nil {
				return nil, err
			}
		} else {
			e.mint(caller, PositionID(e.collateral.Address(), parentCollectionID), totalPayout)
		}
	}
	e.emit(domain.EventPositionsRedeemed, map[string]any{
		"account":      caller.Hex(),
		"condition_id": conditionID.Hex(),
		"payout":       totalPayout.String(),
	})
	return totalPayout, nil
}

// Transfer moves position balance between accounts. It is the in-process
// equivalent of an ERC1155 transfer and is used by the market maker to move
// outcome tokens in and out of its pool.
func (e *Engine) Transfer(from, to common.Address, positionID common.Hash, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.burn(from, positionID, amount); err != nil {
		return err
	}
	e.mint(to, positionID, amount)
	return nil
}

// BalanceOf returns a copy of the account's balance for one position.
func (e *Engine) BalanceOf(account common.Address, positionID common.Hash) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balanceOf(account, positionID)
}

// BalanceOfBatch returns balances for parallel (account, position) pairs.
func (e *Engine) BalanceOfBatch(accounts []common.Address, positionIDs []common.Hash) ([]*big.Int, error) {
	if len(accounts) != len(positionIDs) {
		return nil, domain.Reject(domain.ErrMalformedInput, "Array length mismatch")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*big.Int, len(accounts))
	for i := range accounts {
		out[i] = e.balanceOf(accounts[i], positionIDs[i])
	}
	return out, nil
}

// checkPartition validates a partition against the condition and returns the
// uncovered bits plus the child position ids. Callers hold the mutex.
func (e *Engine) checkPartition(cond *domain.Condition, parentCollectionID common.Hash, partition []uint64) (uint64, []common.Hash, error) {
	if len(partition) < 2 {
		return 0, nil, domain.Reject(domain.ErrMalformedInput, "got empty or singleton partition")
	}
	fullIndexSet := cond.FullIndexSet()
	freeIndexSet := fullIndexSet
	childIDs := make([]common.Hash, len(partition))
	for i, indexSet := range partition {
		if indexSet == 0 || indexSet >= fullIndexSet {
			return 0, nil, domain.Reject(domain.ErrMalformedInput, "got invalid partition")
		}
		if indexSet&freeIndexSet != indexSet {
			return 0, nil, domain.Reject(domain.ErrMalformedInput, "partition not disjoint")
		}
		freeIndexSet ^= indexSet
		childIDs[i] = PositionID(e.collateral.Address(), CollectionID(parentCollectionID, cond.ID, indexSet))
	}
	return freeIndexSet, childIDs, nil
}

func (e *Engine) balanceOf(account common.Address, positionID common.Hash) *big.Int {
	if byAcct, ok := e.balances[positionID]; ok {
		if b, ok := byAcct[account]; ok {
			return new(big.Int).Set(b)
		}
	}
	return new(big.Int)
}

func (e *Engine) mint(account common.Address, positionID common.Hash, amount *big.Int) {
	byAcct, ok := e.balances[positionID]
	if !ok {
		byAcct = make(map[common.Address]*big.Int)
		e.balances[positionID] = byAcct
	}
	b, ok := byAcct[account]
	if !ok {
		b = new(big.Int)
		byAcct[account] = b
	}
	b.Add(b, amount)
}

func (e *Engine) burn(account common.Address, positionID common.Hash, amount *big.Int) error {
	byAcct := e.balances[positionID]
	b, ok := byAcct[account]
	if !ok || b.Cmp(amount) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Insufficient balance")
	}
	b.Sub(b, amount)
	return nil
}

func (e *Engine) emit(eventType string, detail map[string]any) {
	if e.events != nil {
		e.events(eventType, detail)
	}
}

// Package oracle implements the market lifecycle oracle: it prepares
// conditions, creates and funds market maker pools, routes buys funded by
// native value or locked points, accepts proposed answers, resolves markets
// against the conditional token engine, and settles user positions back to
// native value.
//
// The oracle owns the pools it creates (it is their configured delegate) and
// holds market funding under its own native account, so all value entering a
// market flows through it.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/ctf"
	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/fpmm"
	"github.com/predictlabs/marketcore/internal/ledger"
	"github.com/predictlabs/marketcore/internal/points"
)

// market is one tracked question plus the trading state the oracle keeps
// next to it.
type market struct {
	question domain.Question
	pool     *fpmm.Pool

	// spent accumulates collateral spent per buyer so the per-question buy
	// cap applies across multiple buys.
	spent map[common.Address]*big.Int
}

// roleSet is an ordered membership list for initializers and proposers.
// Order is preserved so role listings are stable.
type roleSet struct {
	order  []common.Address
	member map[common.Address]bool
}

func newRoleSet() *roleSet {
	return &roleSet{member: make(map[common.Address]bool)}
}

func (r *roleSet) update(addrs []common.Address, statuses []bool) error {
	if len(addrs) != len(statuses) {
		return domain.Reject(domain.ErrMalformedInput, "Input lengths do not match")
	}
	for i, a := range addrs {
		if statuses[i] {
			if !r.member[a] {
				r.member[a] = true
				r.order = append(r.order, a)
			}
		} else if r.member[a] {
			delete(r.member, a)
			for j, o := range r.order {
				if o == a {
					r.order = append(r.order[:j], r.order[j+1:]...)
					break
				}
			}
		}
	}
	return nil
}

func (r *roleSet) list() []common.Address {
	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Oracle is the market lifecycle engine. All mutating methods are serialized
// behind a single mutex; the clock is sampled once per operation.
type Oracle struct {
	addr       common.Address
	owner      common.Address
	native     *ledger.Native
	collateral *ledger.Collateral
	tokens     *ctf.Engine
	factory    *fpmm.Factory
	points     *points.Engine
	clock      domain.Clock
	events     domain.EventSink
	notifier   domain.Notifier

	mu           sync.Mutex
	markets      map[common.Hash]*market
	initializers *roleSet
	proposers    *roleSet

	minBuyAmount            *big.Int
	maxBuyAmountPerQuestion *big.Int
	stopTradingBeforeEnd    time.Duration
	buyWithUnlockedEnabled  bool
	sellEnabled             bool

	// openPositions[account] lists questions the account bought into and has
	// not redeemed yet, in buy order.
	openPositions map[common.Address][]common.Hash
}

// New creates an oracle bound to the shared ledgers and engines. The points
// ledger may be nil when locked buying is not offered.
func New(addr, owner common.Address, native *ledger.Native, collateral *ledger.Collateral, tokens *ctf.Engine, factory *fpmm.Factory, pts *points.Engine, clock domain.Clock, events domain.EventSink) *Oracle {
	if clock == nil {
		clock = time.Now
	}
	return &Oracle{
		addr:                    addr,
		owner:                   owner,
		native:                  native,
		collateral:              collateral,
		tokens:                  tokens,
		factory:                 factory,
		points:                  pts,
		clock:                   clock,
		events:                  events,
		markets:                 make(map[common.Hash]*market),
		initializers:            newRoleSet(),
		proposers:               newRoleSet(),
		minBuyAmount:            new(big.Int),
		maxBuyAmountPerQuestion: new(big.Int),
		openPositions:           make(map[common.Address][]common.Hash),
	}
}

// Address returns the oracle's native account, which holds market funding.
func (o *Oracle) Address() common.Address { return o.addr }

// SetNotifier wires an operator notifier for resolution announcements.
func (o *Oracle) SetNotifier(n domain.Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifier = n
}

// Fund moves native value from an account into the oracle's own balance, the
// equivalent of sending value to the contract.
func (o *Oracle) Fund(from common.Address, amount *big.Int) error {
	return o.native.Transfer(from, o.addr, amount)
}

func (o *Oracle) requireOwner(caller common.Address) error {
	if caller != o.owner {
		return domain.Reject(domain.ErrAccessDenied, "caller is not the owner")
	}
	return nil
}

func (o *Oracle) requireInitializer(caller common.Address) error {
	if !o.initializers.member[caller] {
		return domain.Reject(domain.ErrAccessDenied, "Only initializer can call this function.")
	}
	return nil
}

func (o *Oracle) requireProposer(caller common.Address) error {
	if !o.proposers.member[caller] {
		return domain.Reject(domain.ErrAccessDenied, "Only proposer can call this function.")
	}
	return nil
}

func (o *Oracle) getMarket(questionID common.Hash) (*market, error) {
	m, ok := o.markets[questionID]
	if !ok {
		return nil, domain.Reject(domain.ErrNotFound, "Market has not been initialized")
	}
	return m, nil
}

// UpdateInitializers grants or revokes market-creation rights in bulk.
func (o *Oracle) UpdateInitializers(caller common.Address, addrs []common.Address, statuses []bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		return err
	}
	return o.initializers.update(addrs, statuses)
}

// UpdateProposers grants or revokes answer-proposal rights in bulk.
func (o *Oracle) UpdateProposers(caller common.Address, addrs []common.Address, statuses []bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		return err
	}
	return o.proposers.update(addrs, statuses)
}

// Initializers lists accounts allowed to create markets, in grant order.
func (o *Oracle) Initializers() []common.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initializers.list()
}

// Proposers lists accounts allowed to propose answers, in grant order.
func (o *Oracle) Proposers() []common.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.proposers.list()
}

// UpdateMinBuyAmount sets the smallest accepted buy. Owner only.
func (o *Oracle) UpdateMinBuyAmount(caller common.Address, amount *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}
	o.minBuyAmount = new(big.Int).Set(amount)
	return nil
}

// UpdateMaxBuyAmountPerQuestion sets the cumulative per-buyer cap on one
// question. Zero disables the cap. Owner only.
func (o *Oracle) UpdateMaxBuyAmountPerQuestion(caller common.Address, amount *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}
	o.maxBuyAmountPerQuestion = new(big.Int).Set(amount)
	return nil
}

// UpdateBuyWithUnlockedEnabled toggles buys funded by native value. Proposers
// are exempt from the gate. Owner only.
func (o *Oracle) UpdateBuyWithUnlockedEnabled(caller common.Address, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		return err
	}
	o.buyWithUnlockedEnabled = enabled
	return nil
}

// UpdateSellEnabled toggles position selling. Owner only.
func (o *Oracle) UpdateSellEnabled(caller common.Address, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		return err
	}
	o.sellEnabled = enabled
	return nil
}

// UpdateStopTradingBeforeMarketEnd sets how long before the market end time
// trading closes. New markets must end at least this far in the future.
// Owner only.
func (o *Oracle) UpdateStopTradingBeforeMarketEnd(caller common.Address, d time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		return err
	}
	if d < 0 {
		return domain.Reject(domain.ErrMalformedInput, "invalid duration")
	}
	o.stopTradingBeforeEnd = d
	return nil
}

// MinBuyAmount returns the smallest accepted buy.
func (o *Oracle) MinBuyAmount() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return new(big.Int).Set(o.minBuyAmount)
}

// MaxBuyAmountPerQuestion returns the per-buyer cap, zero meaning no cap.
func (o *Oracle) MaxBuyAmountPerQuestion() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return new(big.Int).Set(o.maxBuyAmountPerQuestion)
}

// StopTradingBeforeMarketEnd returns the trading cutoff buffer.
func (o *Oracle) StopTradingBeforeMarketEnd() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopTradingBeforeEnd
}

// CreateMarket prepares a condition, creates a pool for it with the oracle as
// delegate, and funds the pool. Funding is drawn from the attached value plus
// whatever native balance the oracle already holds; the value is pulled from
// the caller first so a fully pre-funded oracle accepts a zero value.
func (o *Oracle) CreateMarket(caller common.Address, endTime time.Time, questionID common.Hash, outcomeSlotCount int, fee *big.Int, distributionHints []*big.Int, addedFunds, value *big.Int) (domain.Question, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireInitializer(caller); err != nil {
		return domain.Question{}, err
	}
	if addedFunds == nil || addedFunds.Sign() <= 0 {
		return domain.Question{}, domain.Reject(domain.ErrMalformedInput, "invalid amount")
	}
	now := o.clock()
	if endTime.Before(now.Add(o.stopTradingBeforeEnd)) {
		return domain.Question{}, domain.Reject(domain.ErrTooEarly, "Market End timestamp is too close to current time")
	}
	if _, exists := o.markets[questionID]; exists {
		return domain.Question{}, domain.Reject(domain.ErrInvalidState, "Market already initialized")
	}

	if value != nil && value.Sign() > 0 {
		if err := o.native.Transfer(caller, o.addr, value); err != nil {
			return domain.Question{}, err
		}
	}
	if o.native.BalanceOf(o.addr).Cmp(addedFunds) < 0 {
		return domain.Question{}, domain.Reject(domain.ErrOutOfBounds, "Insufficient funds")
	}

	conditionID, err := o.tokens.PrepareCondition(o.addr, questionID, outcomeSlotCount)
	if err != nil {
		return domain.Question{}, err
	}
	pool, err := o.factory.CreatePool(conditionID, fee, o.addr)
	if err != nil {
		return domain.Question{}, err
	}

	if err := o.collateral.Deposit(o.addr, addedFunds); err != nil {
		return domain.Question{}, err
	}
	if err := o.collateral.Approve(o.addr, pool.Address(), addedFunds); err != nil {
		return domain.Question{}, err
	}
	if _, err := pool.AddFunding(o.addr, addedFunds, distributionHints); err != nil {
		return domain.Question{}, fmt.Errorf("oracle: fund pool: %w", err)
	}

	q := domain.Question{
		QuestionID:       questionID,
		ConditionID:      conditionID,
		PoolID:           pool.Address(),
		EndTime:          endTime,
		OutcomeSlotCount: outcomeSlotCount,
		CreatedAt:        now,
	}
	o.markets[questionID] = &market{
		question: q,
		pool:     pool,
		spent:    make(map[common.Address]*big.Int),
	}
	o.emit(domain.EventMarketCreated, map[string]any{
		"question_id":  questionID.Hex(),
		"condition_id": conditionID.Hex(),
		"pool":         pool.Address().Hex(),
		"end_time":     endTime.Unix(),
		"funding":      addedFunds.String(),
	})
	return q, nil
}

// ProposeAnswer records a payout vector for a market. Only proposers may
// call; proposals are accepted while the market is still trading and may be
// replaced until it resolves.
func (o *Oracle) ProposeAnswer(caller common.Address, questionID common.Hash, payouts []*big.Int, answerCID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireProposer(caller); err != nil {
		return err
	}
	m, err := o.getMarket(questionID)
	if err != nil {
		return err
	}
	return o.proposeAnswer(m, payouts, answerCID, o.clock())
}

func (o *Oracle) proposeAnswer(m *market, payouts []*big.Int, answerCID string, now time.Time) error {
	if m.question.Resolved {
		return domain.Reject(domain.ErrInvalidState, "market is not active")
	}
	if len(payouts) != m.question.OutcomeSlotCount {
		return domain.Reject(domain.ErrMalformedInput, "Array length mismatch")
	}

	proposed := make([]*big.Int, len(payouts))
	for i, p := range payouts {
		if p == nil || p.Sign() < 0 {
			return domain.Reject(domain.ErrMalformedInput, "payout numerator must not be negative")
		}
		proposed[i] = new(big.Int).Set(p)
	}
	m.question.ProposedPayouts = proposed
	m.question.ProposalTime = now
	m.question.AnswerCID = answerCID
	o.emit(domain.EventAnswerProposed, map[string]any{
		"question_id": m.question.QuestionID.Hex(),
		"answer_cid":  answerCID,
	})
	return nil
}

// ResolveMarket reports the proposed payouts to the conditional token engine
// and marks the market resolved. Callable by anyone once an answer stands and
// the market end time has passed.
func (o *Oracle) ResolveMarket(caller common.Address, questionID common.Hash) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resolveMarket(questionID, o.clock())
}

// ProposeAndResolve proposes an answer and resolves the market in one step.
// Proposers only. The end-time gate is checked up front so a call that cannot
// resolve records no proposal either.
func (o *Oracle) ProposeAndResolve(caller common.Address, questionID common.Hash, payouts []*big.Int, answerCID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireProposer(caller); err != nil {
		return err
	}
	m, err := o.getMarket(questionID)
	if err != nil {
		return err
	}
	now := o.clock()
	if now.Before(m.question.EndTime) {
		return domain.Reject(domain.ErrTooEarly, "Market still has time left")
	}
	if err := o.proposeAnswer(m, payouts, answerCID, now); err != nil {
		return err
	}
	return o.resolveMarket(questionID, now)
}

func (o *Oracle) resolveMarket(questionID common.Hash, now time.Time) error {
	m, err := o.getMarket(questionID)
	if err != nil {
		return err
	}
	if m.question.Resolved {
		return domain.Reject(domain.ErrInvalidState, "market is not active")
	}
	if len(m.question.ProposedPayouts) == 0 {
		return domain.Reject(domain.ErrInvalidState, "Answer has not been proposed")
	}
	if now.Before(m.question.EndTime) {
		return domain.Reject(domain.ErrTooEarly, "Market still has time left")
	}
	if err := o.tokens.ReportPayouts(o.addr, questionID, m.question.ProposedPayouts); err != nil {
		return err
	}
	m.question.Resolved = true
	o.emit(domain.EventMarketResolved, map[string]any{
		"question_id": questionID.Hex(),
		"answer_cid":  m.question.AnswerCID,
	})
	if o.notifier != nil {
		go o.notifier.Notify(context.Background(), "Market resolved",
			fmt.Sprintf("question %s resolved with answer %s", questionID.Hex(), m.question.AnswerCID))
	}
	return nil
}

// EmergencyWithdraw sweeps the oracle's native balance to the owner.
func (o *Oracle) EmergencyWithdraw(caller common.Address) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		return nil, err
	}
	balance := o.native.BalanceOf(o.addr)
	if balance.Sign() > 0 {
		if err := o.native.Transfer(o.addr, o.owner, balance); err != nil {
			return nil, err
		}
	}
	return balance, nil
}

func (o *Oracle) emit(eventType string, detail map[string]any) {
	if o.events != nil {
		o.events(eventType, detail)
	}
}

// Package fpmm implements the fixed-product market maker: a pool of outcome
// positions priced by the constant-product rule, with proportional pool-share
// accounting for liquidity providers and a fee pool settled through share
// weight. One Pool instance serves one market; all mutating methods are
// serialized behind the pool's mutex.
package fpmm

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/ctf"
	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/ledger"
)

// one is the fixed-point unit for the fee fraction (1e18).
var one = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// probabilityScale is the fixed-point denominator for implied probabilities.
var probabilityScale = big.NewInt(1_000_000_000)

// Pool is one fixed-product market maker instance bound to a single
// prepared condition.
type Pool struct {
	addr        common.Address
	collateral  *ledger.Collateral
	engine      *ctf.Engine
	conditionID common.Hash
	outcomes    int
	positionIDs []common.Hash
	partition   []uint64
	fee         *big.Int // fraction of one
	events      domain.EventSink

	// oracleDelegate, when set, forces all buys through BuyFor by the
	// delegate so recipients are designated explicitly.
	oracleDelegate common.Address

	mu             sync.Mutex
	totalShares    *big.Int
	shareBalances  map[common.Address]*big.Int
	feePoolWeight  *big.Int
	withdrawnFees  map[common.Address]*big.Int
	totalWithdrawn *big.Int
	uniqueBuyers   map[common.Address]struct{}
}

// NewPool creates an empty pool for the given condition. The fee is a
// fraction of 1e18; outcomes must match the prepared condition's slot count.
func NewPool(addr common.Address, collateral *ledger.Collateral, engine *ctf.Engine, conditionID common.Hash, outcomes int, fee *big.Int, oracleDelegate common.Address, events domain.EventSink) (*Pool, error) {
	if outcomes < 2 {
		return nil, domain.Reject(domain.ErrMalformedInput, "there should be more than one outcome slot")
	}
	if fee == nil {
		fee = new(big.Int)
	}
	if fee.Cmp(one) >= 0 {
		return nil, domain.Reject(domain.ErrMalformedInput, "fee must be less than one")
	}
	positionIDs := make([]common.Hash, outcomes)
	partition := make([]uint64, outcomes)
	for i := 0; i < outcomes; i++ {
		indexSet := uint64(1) << uint(i)
		partition[i] = indexSet
		positionIDs[i] = ctf.PositionID(collateral.Address(), ctf.CollectionID(common.Hash{}, conditionID, indexSet))
	}
	return &Pool{
		addr:           addr,
		collateral:     collateral,
		engine:         engine,
		conditionID:    conditionID,
		outcomes:       outcomes,
		positionIDs:    positionIDs,
		partition:      partition,
		fee:            new(big.Int).Set(fee),
		oracleDelegate: oracleDelegate,
		events:         events,
		totalShares:    new(big.Int),
		shareBalances:  make(map[common.Address]*big.Int),
		feePoolWeight:  new(big.Int),
		withdrawnFees:  make(map[common.Address]*big.Int),
		totalWithdrawn: new(big.Int),
		uniqueBuyers:   make(map[common.Address]struct{}),
	}, nil
}

// Address returns the pool's position-holding account.
func (p *Pool) Address() common.Address { return p.addr }

// ConditionID returns the condition the pool trades.
func (p *Pool) ConditionID() common.Hash { return p.conditionID }

// Fee returns a copy of the pool's fee fraction.
func (p *Pool) Fee() *big.Int { return new(big.Int).Set(p.fee) }

// PositionIDs returns the pool's outcome position ids in slot order.
func (p *Pool) PositionIDs() []common.Hash {
	out := make([]common.Hash, len(p.positionIDs))
	copy(out, p.positionIDs)
	return out
}

// poolBalances reads the pool's held balance in every outcome position.
func (p *Pool) poolBalances() []*big.Int {
	out := make([]*big.Int, p.outcomes)
	for i, id := range p.positionIDs {
		out[i] = p.engine.BalanceOf(p.addr, id)
	}
	return out
}

// PoolBalances returns the pool's current outcome balances.
func (p *Pool) PoolBalances() []*big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poolBalances()
}

// TotalShares returns the outstanding pool share supply.
func (p *Pool) TotalShares() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.totalShares)
}

// SharesOf returns the account's pool share balance.
func (p *Pool) SharesOf(account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.shareBalances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// UniqueBuys returns the number of distinct buyer accounts seen by the pool.
func (p *Pool) UniqueBuys() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.uniqueBuyers)
}

// AddFunding pulls amount collateral from the funder, splits it across every
// outcome position, and mints pool shares. The distribution hint sets the
// initial outcome ratio on first funding (relative weights; the maximal
// consistent split is taken with floor division against the largest weight
// and the excess outcome tokens are returned to the funder). Subsequent
// funding must not pass a hint; shares are minted against the current pool
// composition so the relative ratio is preserved.
func (p *Pool) AddFunding(funder common.Address, amount *big.Int, distributionHint []*big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "funding must be non-zero")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var mintAmount *big.Int
	sendBack := make([]*big.Int, p.outcomes)
	for i := range sendBack {
		sendBack[i] = new(big.Int)
	}

	if p.totalShares.Sign() == 0 {
		mintAmount = new(big.Int).Set(amount)
		if len(distributionHint) > 0 {
			if len(distributionHint) != p.outcomes {
				return nil, domain.Reject(domain.ErrMalformedInput, "hint length off")
			}
			maxHint := new(big.Int)
			for _, h := range distributionHint {
				if h == nil || h.Sign() <= 0 {
					return nil, domain.Reject(domain.ErrMalformedInput, "must hint a valid distribution")
				}
				if h.Cmp(maxHint) > 0 {
					maxHint = h
				}
			}
			for i, h := range distributionHint {
				remaining := new(big.Int).Mul(amount, h)
				remaining.Div(remaining, maxHint)
				if remaining.Sign() == 0 {
					return nil, domain.Reject(domain.ErrMalformedInput, "must hint a valid distribution")
				}
				sendBack[i].Sub(amount, remaining)
			}
		}
	} else {
		if len(distributionHint) > 0 {
			return nil, domain.Reject(domain.ErrMalformedInput, "cannot use distribution hint after initial funding")
		}
		balances := p.poolBalances()
		poolWeight := new(big.Int)
		for _, b := range balances {
			if b.Cmp(poolWeight) > 0 {
				poolWeight = b
			}
		}
		for i, b := range balances {
			remaining := new(big.Int).Mul(amount, b)
			remaining.Div(remaining, poolWeight)
			sendBack[i].Sub(amount, remaining)
		}
		mintAmount = new(big.Int).Mul(amount, p.totalShares)
		mintAmount.Div(mintAmount, poolWeight)
	}

	if err := p.collateral.TransferFrom(p.addr, funder, p.addr, amount); err != nil {
		return nil, err
	}
	if err := p.splitThroughCondition(amount); err != nil {
		// Return the pulled collateral; split validation failures must not
		// strand funds.
		_ = p.collateral.Transfer(p.addr, funder, amount)
		return nil, err
	}

	p.mintShares(funder, mintAmount)
	for i, sb := range sendBack {
		if sb.Sign() > 0 {
			if err := p.engine.Transfer(p.addr, funder, p.positionIDs[i], sb); err != nil {
				return nil, err
			}
		}
	}

	p.emit(domain.EventMarketCreated, map[string]any{
		"pool":   p.addr.Hex(),
		"funder": funder.Hex(),
		"amount": amount.String(),
		"shares": mintAmount.String(),
	})
	return mintAmount, nil
}

// RemoveFunding burns the funder's shares and sends back the proportional
// fraction of each outcome balance. Funds stay as outcome positions; the
// funder redeems them against the condition once it resolves.
func (p *Pool) RemoveFunding(funder common.Address, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return domain.Reject(domain.ErrOutOfBounds, "funding must be non-zero")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	held, ok := p.shareBalances[funder]
	if !ok || held.Cmp(shares) < 0 {
		return domain.Reject(domain.ErrOutOfBounds, "Insufficient balance")
	}

	balances := p.poolBalances()
	sendAmounts := make([]*big.Int, p.outcomes)
	for i, b := range balances {
		sendAmounts[i] = new(big.Int).Mul(b, shares)
		sendAmounts[i].Div(sendAmounts[i], p.totalShares)
	}

	if err := p.burnShares(funder, shares); err != nil {
		return err
	}
	for i, amt := range sendAmounts {
		if amt.Sign() > 0 {
			if err := p.engine.Transfer(p.addr, funder, p.positionIDs[i], amt); err != nil {
				return err
			}
		}
	}
	return nil
}

// CollectedFees returns fees accrued and not yet withdrawn.
func (p *Pool) CollectedFees() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Sub(p.feePoolWeight, p.totalWithdrawn)
}

// FeesWithdrawableBy returns the fee amount the account could withdraw now.
func (p *Pool) FeesWithdrawableBy(account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feesWithdrawable(account)
}

// WithdrawFees pays out the account's accrued fee share in collateral.
func (p *Pool) WithdrawFees(account common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withdrawFees(account)
}

func (p *Pool) feesWithdrawable(account common.Address) *big.Int {
	if p.totalShares.Sign() == 0 {
		return new(big.Int)
	}
	shares, ok := p.shareBalances[account]
	if !ok {
		return new(big.Int)
	}
	raw := new(big.Int).Mul(p.feePoolWeight, shares)
	raw.Div(raw, p.totalShares)
	if w, ok := p.withdrawnFees[account]; ok {
		raw.Sub(raw, w)
	}
	if raw.Sign() < 0 {
		return new(big.Int)
	}
	return raw
}

func (p *Pool) withdrawFees(account common.Address) (*big.Int, error) {
	amount := p.feesWithdrawable(account)
	if amount.Sign() == 0 {
		return amount, nil
	}
	w, ok := p.withdrawnFees[account]
	if !ok {
		w = new(big.Int)
		p.withdrawnFees[account] = w
	}
	w.Add(w, amount)
	p.totalWithdrawn.Add(p.totalWithdrawn, amount)
	if err := p.collateral.Transfer(p.addr, account, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// mintShares mints pool shares, adjusting the fee bookkeeping so the new
// shares carry no claim on fees accrued before they existed.
func (p *Pool) mintShares(account common.Address, amount *big.Int) {
	phantom := new(big.Int).Set(amount)
	if p.totalShares.Sign() > 0 {
		phantom.Mul(p.feePoolWeight, amount)
		phantom.Div(phantom, p.totalShares)
	}
	p.feePoolWeight.Add(p.feePoolWeight, phantom)
	w, ok := p.withdrawnFees[account]
	if !ok {
		w = new(big.Int)
		p.withdrawnFees[account] = w
	}
	w.Add(w, phantom)
	p.totalWithdrawn.Add(p.totalWithdrawn, phantom)

	b, ok := p.shareBalances[account]
	if !ok {
		b = new(big.Int)
		p.shareBalances[account] = b
	}
	b.Add(b, amount)
	p.totalShares.Add(p.totalShares, amount)
}

// burnShares settles the account's fees, then burns shares and reverses the
// proportional fee bookkeeping.
func (p *Pool) burnShares(account common.Address, amount *big.Int) error {
	if _, err := p.withdrawFees(account); err != nil {
		return err
	}
	phantom := new(big.Int).Mul(p.feePoolWeight, amount)
	phantom.Div(phantom, p.totalShares)

	w := p.withdrawnFees[account]
	w.Sub(w, phantom)
	p.totalWithdrawn.Sub(p.totalWithdrawn, phantom)
	p.feePoolWeight.Sub(p.feePoolWeight, phantom)

	b := p.shareBalances[account]
	b.Sub(b, amount)
	p.totalShares.Sub(p.totalShares, amount)
	return nil
}

// splitThroughCondition approves the engine and splits amount collateral into
// all outcome positions held by the pool.
func (p *Pool) splitThroughCondition(amount *big.Int) error {
	if err := p.collateral.Approve(p.addr, p.engine.Address(), amount); err != nil {
		return err
	}
	return p.engine.SplitPosition(p.addr, common.Hash{}, p.conditionID, p.partition, amount)
}

// mergeThroughCondition merges amount of every outcome position held by the
// pool back into collateral.
func (p *Pool) mergeThroughCondition(amount *big.Int) error {
	return p.engine.MergePositions(p.addr, common.Hash{}, p.conditionID, p.partition, amount)
}

func (p *Pool) emit(eventType string, detail map[string]any) {
	if p.events != nil {
		p.events(eventType, detail)
	}
}

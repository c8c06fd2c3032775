package fpmm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictlabs/marketcore/internal/domain"
)

// ceilDiv returns ceil(x / y) for positive y.
func ceilDiv(x, y *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(x, y, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// CalcBuyAmount quotes the outcome tokens received for an investment in
// collateral, net of the fee, holding the product of the remaining pool
// balances constant. Rounding always favors the pool.
func (p *Pool) CalcBuyAmount(investment *big.Int, outcomeIndex int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calcBuyAmount(investment, outcomeIndex, p.poolBalances())
}

func (p *Pool) calcBuyAmount(investment *big.Int, outcomeIndex int, balances []*big.Int) (*big.Int, error) {
	if outcomeIndex < 0 || outcomeIndex >= p.outcomes {
		return nil, domain.Reject(domain.ErrOutOfBounds, "invalid outcome index")
	}
	if investment == nil || investment.Sign() <= 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "invalid investment amount")
	}

	feeAmount := new(big.Int).Mul(investment, p.fee)
	feeAmount.Div(feeAmount, one)
	netInvestment := new(big.Int).Sub(investment, feeAmount)

	buyTokenBalance := balances[outcomeIndex]
	ending := new(big.Int).Mul(buyTokenBalance, one)
	for j, b := range balances {
		if j == outcomeIndex {
			continue
		}
		if b.Sign() == 0 {
			return nil, domain.Reject(domain.ErrInvalidState, "must have non-zero balances")
		}
		num := new(big.Int).Mul(ending, b)
		den := new(big.Int).Add(b, netInvestment)
		ending = ceilDiv(num, den)
	}

	out := new(big.Int).Add(buyTokenBalance, netInvestment)
	out.Sub(out, ceilDiv(ending, one))
	return out, nil
}

// CalcSellAmount quotes the outcome tokens that must be surrendered to take
// out the given collateral return, fee included.
func (p *Pool) CalcSellAmount(returnAmount *big.Int, outcomeIndex int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calcSellAmount(returnAmount, outcomeIndex, p.poolBalances())
}

func (p *Pool) calcSellAmount(returnAmount *big.Int, outcomeIndex int, balances []*big.Int) (*big.Int, error) {
	if outcomeIndex < 0 || outcomeIndex >= p.outcomes {
		return nil, domain.Reject(domain.ErrOutOfBounds, "invalid outcome index")
	}
	if returnAmount == nil || returnAmount.Sign() <= 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "invalid return amount")
	}

	returnPlusFees := new(big.Int).Mul(returnAmount, one)
	returnPlusFees.Div(returnPlusFees, new(big.Int).Sub(one, p.fee))

	sellTokenBalance := balances[outcomeIndex]
	ending := new(big.Int).Mul(sellTokenBalance, one)
	for j, b := range balances {
		if j == outcomeIndex {
			continue
		}
		den := new(big.Int).Sub(b, returnPlusFees)
		if den.Sign() <= 0 {
			return nil, domain.Reject(domain.ErrOutOfBounds, "return amount too large")
		}
		num := new(big.Int).Mul(ending, b)
		ending = ceilDiv(num, den)
	}

	out := new(big.Int).Add(returnPlusFees, ceilDiv(ending, one))
	out.Sub(out, sellTokenBalance)
	return out, nil
}

// Buy trades collateral for outcome tokens credited to the buyer. When an
// oracle delegate is configured, direct buys are rejected so the delegate can
// enforce market checks and designate recipients through BuyFor.
func (p *Pool) Buy(buyer common.Address, investment *big.Int, outcomeIndex int, minOutcomeTokens *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.oracleDelegate != (common.Address{}) {
		return nil, domain.Reject(domain.ErrAccessDenied, "oracle address is configured, use buyOnBehalf")
	}
	return p.buy(buyer, buyer, investment, outcomeIndex, minOutcomeTokens)
}

// BuyFor trades collateral pulled from the caller for outcome tokens credited
// to the recipient. Only the configured oracle delegate may call it.
func (p *Pool) BuyFor(caller, recipient common.Address, investment *big.Int, outcomeIndex int, minOutcomeTokens *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.oracleDelegate == (common.Address{}) || caller != p.oracleDelegate {
		return nil, domain.Reject(domain.ErrAccessDenied, "only oracle delegate can buy on behalf")
	}
	return p.buy(caller, recipient, investment, outcomeIndex, minOutcomeTokens)
}

func (p *Pool) buy(payer, recipient common.Address, investment *big.Int, outcomeIndex int, minOutcomeTokens *big.Int) (*big.Int, error) {
	balances := p.poolBalances()
	outcomeTokens, err := p.calcBuyAmount(investment, outcomeIndex, balances)
	if err != nil {
		return nil, err
	}
	if minOutcomeTokens != nil && outcomeTokens.Cmp(minOutcomeTokens) < 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "minimum buy amount not reached")
	}

	if err := p.collateral.TransferFrom(p.addr, payer, p.addr, investment); err != nil {
		return nil, err
	}

	feeAmount := new(big.Int).Mul(investment, p.fee)
	feeAmount.Div(feeAmount, one)
	p.feePoolWeight.Add(p.feePoolWeight, feeAmount)

	netInvestment := new(big.Int).Sub(investment, feeAmount)
	if err := p.splitThroughCondition(netInvestment); err != nil {
		return nil, err
	}
	if err := p.engine.Transfer(p.addr, recipient, p.positionIDs[outcomeIndex], outcomeTokens); err != nil {
		return nil, err
	}

	p.uniqueBuyers[recipient] = struct{}{}
	p.emit(domain.EventPositionBought, map[string]any{
		"pool":          p.addr.Hex(),
		"buyer":         recipient.Hex(),
		"investment":    investment.String(),
		"fee":           feeAmount.String(),
		"outcomeIndex":  outcomeIndex,
		"outcomeTokens": outcomeTokens.String(),
	})
	return outcomeTokens, nil
}

// Sell trades the seller's outcome tokens back to collateral. The fee is
// charged on top of the requested return, so the seller surrenders tokens
// worth returnAmount plus fees.
func (p *Pool) Sell(seller common.Address, returnAmount *big.Int, outcomeIndex int, maxOutcomeTokens *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	balances := p.poolBalances()
	outcomeTokens, err := p.calcSellAmount(returnAmount, outcomeIndex, balances)
	if err != nil {
		return nil, err
	}
	if maxOutcomeTokens != nil && outcomeTokens.Cmp(maxOutcomeTokens) > 0 {
		return nil, domain.Reject(domain.ErrOutOfBounds, "maximum sell amount exceeded")
	}

	if err := p.engine.Transfer(seller, p.addr, p.positionIDs[outcomeIndex], outcomeTokens); err != nil {
		return nil, err
	}

	feeAmount := new(big.Int).Mul(returnAmount, p.fee)
	feeAmount.Div(feeAmount, new(big.Int).Sub(one, p.fee))
	p.feePoolWeight.Add(p.feePoolWeight, feeAmount)

	returnPlusFees := new(big.Int).Add(returnAmount, feeAmount)
	if err := p.mergeThroughCondition(returnPlusFees); err != nil {
		return nil, err
	}
	if err := p.collateral.Transfer(p.addr, seller, returnAmount); err != nil {
		return nil, err
	}

	p.emit(domain.EventPositionSold, map[string]any{
		"pool":          p.addr.Hex(),
		"seller":        seller.Hex(),
		"return":        returnAmount.String(),
		"fee":           feeAmount.String(),
		"outcomeIndex":  outcomeIndex,
		"outcomeTokens": outcomeTokens.String(),
	})
	return returnAmount, nil
}

// CalculateProbabilities returns the implied probability of each outcome at
// a 1e9 fixed-point scale. Each outcome's weight is the product of every
// other outcome's pool balance, so scarcer outcomes read as more probable.
func (p *Pool) CalculateProbabilities() ([]*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	balances := p.poolBalances()
	weights := make([]*big.Int, p.outcomes)
	total := new(big.Int)
	for i := range balances {
		w := big.NewInt(1)
		for j, b := range balances {
			if j == i {
				continue
			}
			w.Mul(w, b)
		}
		weights[i] = w
		total.Add(total, w)
	}
	if total.Sign() == 0 {
		return nil, domain.Reject(domain.ErrInvalidState, "must have non-zero balances")
	}

	out := make([]*big.Int, p.outcomes)
	for i, w := range weights {
		out[i] = new(big.Int).Mul(w, probabilityScale)
		out[i].Div(out[i], total)
	}
	return out, nil
}

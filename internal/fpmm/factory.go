package fpmm

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/predictlabs/marketcore/internal/ctf"
	"github.com/predictlabs/marketcore/internal/domain"
	"github.com/predictlabs/marketcore/internal/ledger"
)

// Factory creates market maker pools and tracks them by condition and by
// address. Pool addresses are derived deterministically from the factory
// address and a creation counter, so restarts with the same creation order
// reproduce the same addresses.
type Factory struct {
	addr       common.Address
	collateral *ledger.Collateral
	engine     *ctf.Engine
	events     domain.EventSink

	mu          sync.Mutex
	nonce       uint64
	byAddress   map[common.Address]*Pool
	byCondition map[common.Hash]*Pool
}

// NewFactory returns an empty pool factory.
func NewFactory(addr common.Address, collateral *ledger.Collateral, engine *ctf.Engine, events domain.EventSink) *Factory {
	return &Factory{
		addr:        addr,
		collateral:  collateral,
		engine:      engine,
		events:      events,
		byAddress:   make(map[common.Address]*Pool),
		byCondition: make(map[common.Hash]*Pool),
	}
}

// CreatePool builds a pool for an already prepared condition. One pool per
// condition; fee is a fraction of 1e18 and oracleDelegate may be zero to
// allow direct buys.
func (f *Factory) CreatePool(conditionID common.Hash, fee *big.Int, oracleDelegate common.Address) (*Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.byCondition[conditionID]; exists {
		return nil, domain.Reject(domain.ErrInvalidState, "pool already exists for condition")
	}
	outcomes := f.engine.OutcomeSlotCount(conditionID)
	if outcomes == 0 {
		return nil, domain.Reject(domain.ErrInvalidState, "condition not prepared or found")
	}

	f.nonce++
	addr := derivePoolAddress(f.addr, f.nonce)
	pool, err := NewPool(addr, f.collateral, f.engine, conditionID, outcomes, fee, oracleDelegate, f.events)
	if err != nil {
		f.nonce--
		return nil, err
	}
	f.byAddress[addr] = pool
	f.byCondition[conditionID] = pool
	return pool, nil
}

// PoolByCondition looks up the pool trading the given condition.
func (f *Factory) PoolByCondition(conditionID common.Hash) (*Pool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byCondition[conditionID]
	return p, ok
}

// PoolByAddress looks up a pool by its derived address.
func (f *Factory) PoolByAddress(addr common.Address) (*Pool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byAddress[addr]
	return p, ok
}

func derivePoolAddress(factory common.Address, nonce uint64) common.Address {
	var word [8]byte
	for i := 0; i < 8; i++ {
		word[7-i] = byte(nonce >> (8 * i))
	}
	return common.BytesToAddress(ethcrypto.Keccak256(factory.Bytes(), word[:])[12:])
}

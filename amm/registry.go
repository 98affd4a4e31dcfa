package amm

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves pool addresses carried in operation payloads to the pool
// implementations behind them.
type Registry struct {
	mu    sync.RWMutex
	pools map[common.Address]interface{}
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[common.Address]interface{})}
}

func (r *Registry) AddConstantProduct(p *ConstantProductPool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[p.Address()] = p
}

func (r *Registry) AddConcentrated(p *ConcentratedPool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[p.Address()] = p
}

func (r *Registry) AddStable(p *StablePool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[p.Address()] = p
}

func (r *Registry) ConstantProduct(addr common.Address) (*ConstantProductPool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.pools[addr].(*ConstantProductPool); ok {
		return p, nil
	}
	return nil, fmt.Errorf("no constant-product pool at %s", addr.Hex())
}

func (r *Registry) Concentrated(addr common.Address) (*ConcentratedPool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.pools[addr].(*ConcentratedPool); ok {
		return p, nil
	}
	return nil, fmt.Errorf("no concentrated pool at %s", addr.Hex())
}

func (r *Registry) Stable(addr common.Address) (*StablePool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.pools[addr].(*StablePool); ok {
		return p, nil
	}
	return nil, fmt.Errorf("no stable pool at %s", addr.Hex())
}

package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type pairKey struct {
	token0 common.Address
	token1 common.Address
}

func makePairKey(token0, token1 common.Address) pairKey {
	if token1.Hex() < token0.Hex() {
		token0, token1 = token1, token0
	}
	return pairKey{token0: token0, token1: token1}
}

// PositionRegistry maps token pairs to the ordered list of open
// concentrated-liquidity position ids. Lookup without an explicit id returns
// the last-created one: an ordering policy, not a correctness guarantee,
// since concurrent positions for the same pair are ambiguous without an id.
// The registry participates in invocation snapshots, so aborted invocations
// leave it untouched.
type PositionRegistry struct {
	mu     sync.Mutex
	byPair map[pairKey][]uint64
}

func NewPositionRegistry() *PositionRegistry {
	return &PositionRegistry{byPair: make(map[pairKey][]uint64)}
}

// Append records a newly created position id for the pair.
func (r *PositionRegistry) Append(token0, token1 common.Address, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := makePairKey(token0, token1)
	r.byPair[key] = append(r.byPair[key], id)
}

// Latest returns the most recently created open position for the pair.
func (r *PositionRegistry) Latest(token0, token1 common.Address) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byPair[makePairKey(token0, token1)]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[len(ids)-1], true
}

// Remove drops a position id from the pair's list.
func (r *PositionRegistry) Remove(token0, token1 common.Address, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := makePairKey(token0, token1)
	ids := r.byPair[key]
	for i, existing := range ids {
		if existing == id {
			r.byPair[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byPair[key]) == 0 {
		delete(r.byPair, key)
	}
}

// Open returns how many positions are open for the pair.
func (r *PositionRegistry) Open(token0, token1 common.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPair[makePairKey(token0, token1)])
}

// TakeSnapshot implements chain.Snapshotter.
func (r *PositionRegistry) TakeSnapshot() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[pairKey][]uint64, len(r.byPair))
	for key, ids := range r.byPair {
		snap[key] = append([]uint64(nil), ids...)
	}
	return snap
}

// RestoreSnapshot implements chain.Snapshotter.
func (r *PositionRegistry) RestoreSnapshot(snap interface{}) {
	byPair, ok := snap.(map[pairKey][]uint64)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	restored := make(map[pairKey][]uint64, len(byPair))
	for key, ids := range byPair {
		restored[key] = append([]uint64(nil), ids...)
	}
	r.byPair = restored
}

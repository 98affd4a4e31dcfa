package chain

import (
	"fmt"
	"sync"
)

// Snapshotter is implemented by every component whose state must unwind when
// an invocation aborts: the ledger, each pool, and the position registry.
type Snapshotter interface {
	TakeSnapshot() interface{}
	RestoreSnapshot(interface{})
}

// State is the atomic execution substrate. A flash loan invocation takes a
// snapshot before borrowing; any failed invariant reverts every registered
// component to that snapshot, so aborted invocations leave no side effects.
type State struct {
	Ledger *Ledger

	mu    sync.Mutex
	parts []Snapshotter
	snaps []map[Snapshotter]interface{}
}

func NewState() *State {
	ledger := NewLedger()
	s := &State{Ledger: ledger}
	s.parts = append(s.parts, ledger)
	return s
}

// Register adds a component to the snapshot set. Must be called during
// wiring, before any snapshot is taken.
func (s *State) Register(part Snapshotter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, part)
}

// Snapshot captures all registered components and returns a snapshot id.
func (s *State) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(map[Snapshotter]interface{}, len(s.parts))
	for _, part := range s.parts {
		snap[part] = part.TakeSnapshot()
	}
	s.snaps = append(s.snaps, snap)
	return len(s.snaps) - 1
}

// Revert restores every component to snapshot id and discards it along with
// any snapshots taken after it.
func (s *State) Revert(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 0 || id >= len(s.snaps) {
		return fmt.Errorf("unknown snapshot id %d", id)
	}
	snap := s.snaps[id]
	for part, data := range snap {
		part.RestoreSnapshot(data)
	}
	s.snaps = s.snaps[:id]
	return nil
}

// Discard drops snapshot id (and later ones) without restoring, committing
// the effects since it was taken.
func (s *State) Discard(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 0 || id >= len(s.snaps) {
		return
	}
	s.snaps = s.snaps[:id]
}

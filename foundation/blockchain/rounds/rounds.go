// Package rounds tracks the forgers of the current round and signals when a
// round is complete.
package rounds

import (
	"fmt"
	"sync"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/signal"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/storage/disk"
)

// Storage provides access to the persisted round summaries.
type Storage interface {
	Round(num uint64) (disk.Round, error)
}

// Rounds maintains the in-memory view of the current round.
type Rounds struct {
	mu              sync.RWMutex
	activeDelegates uint64
	storage         Storage
	hub             *signal.Hub
	current         uint64
	forgers         []string
}

// New constructs the round tracker.
func New(activeDelegates uint64, storage Storage, hub *signal.Hub) *Rounds {
	return &Rounds{
		activeDelegates: activeDelegates,
		storage:         storage,
		hub:             hub,
	}
}

// Current returns the current round number and the forgers seen in it.
func (r *Rounds) Current() (uint64, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	forgers := make([]string, len(r.forgers))
	copy(forgers, r.forgers)

	return r.current, forgers
}

// Apply records the block in the current round. When the block closes the
// round the RoundApplied signal is emitted.
func (r *Rounds) Apply(block database.Block) {
	closed := r.apply(block)

	if closed && r.hub != nil {
		r.hub.Emit(signal.RoundApplied)
	}
}

// Restore rebuilds the current round from the persisted summary for the
// round the head belongs to.
func (r *Rounds) Restore(head database.Block) error {
	num := disk.RoundOf(head.Height(), r.activeDelegates)

	round, err := r.storage.Round(num)
	if err != nil {
		return fmt.Errorf("restore round %d: %w", num, err)
	}

	var forgers []string
	for _, rb := range round.Blocks {
		if rb.Height <= head.Height() {
			forgers = append(forgers, rb.Generator)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.current = num
	r.forgers = forgers

	return nil
}

func (r *Rounds) apply(block database.Block) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	num := disk.RoundOf(block.Height(), r.activeDelegates)
	if num != r.current {
		r.current = num
		r.forgers = nil
	}
	r.forgers = append(r.forgers, block.Header.Generator)

	return block.Height()%r.activeDelegates == 0
}

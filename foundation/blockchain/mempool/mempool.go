// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
)

// Mempool represents a cache of transactions organized by account:nonce.
type Mempool struct {
	mu   sync.RWMutex
	pool map[string]database.Tx
}

// New constructs a new mempool.
func New() *Mempool {
	return &Mempool{
		pool: make(map[string]database.Tx),
	}
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds or replaces a transaction in the mempool.
func (mp *Mempool) Upsert(tx database.Tx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool[mapKey(tx)] = tx
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.Tx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, mapKey(tx))
}

// ReAdmit puts transactions from reverted blocks back into the pool. A
// transaction already in the pool for the same account:nonce is kept. The
// number of transactions added is returned.
func (mp *Mempool) ReAdmit(txs []database.Tx) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var added int
	for _, tx := range txs {
		key := mapKey(tx)
		if _, exists := mp.pool[key]; exists {
			continue
		}
		mp.pool[key] = tx
		added++
	}

	return added
}

// Copy returns a list of the current transactions in the pool, ordered
// by account and nonce.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	cpy := make([]database.Tx, 0, len(mp.pool))
	for _, tx := range mp.pool {
		cpy = append(cpy, tx)
	}

	sort.Slice(cpy, func(i, j int) bool {
		if cpy[i].From != cpy[j].From {
			return cpy[i].From < cpy[j].From
		}
		return cpy[i].Nonce < cpy[j].Nonce
	})

	return cpy
}

// =============================================================================

// mapKey is used to generate the map key.
func mapKey(tx database.Tx) string {
	return fmt.Sprintf("%s:%d", tx.From, tx.Nonce)
}

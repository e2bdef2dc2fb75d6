// Package mempool maintains the pending transactions for the blockchain in
// arrival order with a set of hashes for duplicate detection.
package mempool

import (
	"sync"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// Mempool represents a cache of transactions waiting to be mined. The list
// keeps arrival order and the pool set answers membership by hash.
type Mempool struct {
	mu   sync.RWMutex
	list []database.Tx
	pool map[string]struct{}
}

// New constructs a new mempool.
func New() *Mempool {
	return &Mempool{
		pool: make(map[string]struct{}),
	}
}

// Count returns the current number of transactions in the list.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.list)
}

// Contains reports whether a transaction with this hash is pooled.
func (mp *Mempool) Contains(hash string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[hash]
	return exists
}

// Add appends the transaction unless its hash is already pooled. It reports
// whether the transaction was added.
func (mp *Mempool) Add(tx database.Tx) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.Hash]; exists {
		return false
	}

	mp.list = append(mp.list, tx)
	mp.pool[tx.Hash] = struct{}{}

	return true
}

// Delete removes the transactions with these hashes from the list and the
// pool set.
func (mp *Mempool) Delete(hashes ...string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	remove := make(map[string]struct{}, len(hashes))
	for _, hash := range hashes {
		remove[hash] = struct{}{}
		delete(mp.pool, hash)
	}

	list := mp.list[:0:0]
	for _, tx := range mp.list {
		if _, exists := remove[tx.Hash]; !exists {
			list = append(list, tx)
		}
	}
	mp.list = list
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.list = nil
	mp.pool = make(map[string]struct{})
}

// Copy returns the pending transactions in arrival order.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.Tx, len(mp.list))
	copy(txs, mp.list)

	return txs
}

// Unique returns the pending transactions that are not in the mined set,
// keeping the first occurrence of every hash.
func (mp *Mempool) Unique(mined map[string]struct{}) []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	seen := make(map[string]struct{}, len(mp.list))

	var txs []database.Tx
	for _, tx := range mp.list {
		if _, exists := mined[tx.Hash]; exists {
			continue
		}
		if _, exists := seen[tx.Hash]; exists {
			continue
		}

		seen[tx.Hash] = struct{}{}
		txs = append(txs, tx)
	}

	return txs
}

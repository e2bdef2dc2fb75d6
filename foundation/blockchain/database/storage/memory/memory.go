// Package memory implements the ability to read and write the blockchain to
// memory using maps and slices. It is used by tests and by nodes that don't
// need to survive a restart.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/merkle"
	"github.com/shopspring/decimal"
)

type proofRow struct {
	blockHash string
	txHash    string
	proof     merkle.Proof
}

// Memory represents the storage implementation for reading and storing
// the blockchain in memory. This implements the database.Storage interface.
type Memory struct {
	tran       sync.Mutex
	mu         sync.RWMutex
	blocks     map[string]database.Block
	order      []string
	txs        map[string]database.Tx
	nodes      map[string][]merkle.NodeRecord
	proofs     []proofRow
	balances   map[string]decimal.Decimal
	pending    []database.Tx
	pendingSet map[string]struct{}
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{
		blocks:     make(map[string]database.Block),
		txs:        make(map[string]database.Tx),
		nodes:      make(map[string][]merkle.NodeRecord),
		balances:   make(map[string]decimal.Decimal),
		pendingSet: make(map[string]struct{}),
	}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// WithinTran runs fn and puts every map and slice back the way it was when
// fn returns an error. Transactions run one at a time and fn must not start
// another one.
func (m *Memory) WithinTran(ctx context.Context, fn func(database.Storage) error) error {
	m.tran.Lock()
	defer m.tran.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}

	return nil
}

// =============================================================================

// InsertBlock stores the block header.
func (m *Memory) InsertBlock(ctx context.Context, block database.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.blocks[block.Hash]; exists {
		return database.ErrDuplicate
	}

	block.Transactions = nil
	m.blocks[block.Hash] = block
	m.order = append(m.order, block.Hash)

	return nil
}

// SaveTx stores the mined transaction.
func (m *Memory) SaveTx(ctx context.Context, tx database.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txs[tx.Hash] = tx

	return nil
}

// InsertMerkleNodes stores the nodes of the block's merkle tree.
func (m *Memory) InsertMerkleNodes(ctx context.Context, blockHash string, nodes []merkle.NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cpy := make([]merkle.NodeRecord, len(nodes))
	copy(cpy, nodes)
	m.nodes[blockHash] = cpy

	return nil
}

// InsertMerkleProof stores the proof path of a transaction.
func (m *Memory) InsertMerkleProof(ctx context.Context, blockHash string, txHash string, proof merkle.Proof) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.proofs {
		if row.blockHash == blockHash && row.txHash == txHash {
			return nil
		}
	}

	m.proofs = append(m.proofs, proofRow{blockHash: blockHash, txHash: txHash, proof: proof})

	return nil
}

// UpdateBalance adds the delta to the address balance.
func (m *Memory) UpdateBalance(ctx context.Context, address string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[address] = m.balances[address].Add(delta)

	return nil
}

// ResetBalances removes every balance.
func (m *Memory) ResetBalances(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances = make(map[string]decimal.Decimal)

	return nil
}

// Balance returns the balance for the address.
func (m *Memory) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, exists := m.balances[address]
	if !exists {
		return decimal.Zero, database.ErrNotFound
	}

	return balance, nil
}

// =============================================================================

// QueryBlocks returns the stored blocks ordered by index.
func (m *Memory) QueryBlocks(ctx context.Context) ([]database.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blocks := make([]database.Block, 0, len(m.order))
	for _, hash := range m.order {
		blocks = append(blocks, m.withTxs(m.blocks[hash]))
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].Index < blocks[j].Index
	})

	return blocks, nil
}

// QueryBlockByHash returns the block for the hash.
func (m *Memory) QueryBlockByHash(ctx context.Context, hash string) (database.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	block, exists := m.blocks[hash]
	if !exists {
		return database.Block{}, database.ErrNotFound
	}

	return m.withTxs(block), nil
}

// DeleteBlocksExcept removes the blocks not in the keep set.
func (m *Memory) DeleteBlocksExcept(ctx context.Context, keep []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(map[string]struct{}, len(keep))
	for _, hash := range keep {
		set[hash] = struct{}{}
	}

	order := make([]string, 0, len(keep))
	for _, hash := range m.order {
		if _, exists := set[hash]; exists {
			order = append(order, hash)
			continue
		}
		delete(m.blocks, hash)
		delete(m.nodes, hash)
	}
	m.order = order

	for hash, tx := range m.txs {
		if _, exists := set[tx.BlockHash]; !exists {
			delete(m.txs, hash)
		}
	}

	proofs := make([]proofRow, 0, len(m.proofs))
	for _, row := range m.proofs {
		if _, exists := set[row.blockHash]; exists {
			proofs = append(proofs, row)
		}
	}
	m.proofs = proofs

	return nil
}

// =============================================================================

// QueryTx returns the mined transaction for the hash.
func (m *Memory) QueryTx(ctx context.Context, hash string) (database.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, exists := m.txs[hash]
	if !exists {
		return database.Tx{}, database.ErrNotFound
	}

	return tx, nil
}

// QueryTxsByAddress returns the transactions sent or received by the
// address, newest first.
func (m *Memory) QueryTxsByAddress(ctx context.Context, address string) ([]database.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txs []database.Tx
	for _, tx := range m.txs {
		if tx.FromAddress == address || tx.ToAddress == address {
			txs = append(txs, tx)
		}
	}

	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Timestamp == txs[j].Timestamp {
			return txs[i].Hash < txs[j].Hash
		}
		return txs[i].Timestamp > txs[j].Timestamp
	})

	return txs, nil
}

// QueryLatestTxByAddress returns the newest transaction sent by the address.
func (m *Memory) QueryLatestTxByAddress(ctx context.Context, address string) (database.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest database.Tx
	var found bool
	for _, tx := range m.txs {
		if tx.FromAddress != address {
			continue
		}
		if !found || tx.Timestamp > latest.Timestamp {
			latest = tx
			found = true
		}
	}

	if !found {
		return database.Tx{}, database.ErrNotFound
	}

	return latest, nil
}

// QueryMerkleProof returns the stored proof path for the transaction.
func (m *Memory) QueryMerkleProof(ctx context.Context, txHash string) (merkle.Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, row := range m.proofs {
		if row.txHash == txHash {
			return row.proof, nil
		}
	}

	return nil, database.ErrNotFound
}

// =============================================================================

// InsertPendingTx stores a pending transaction once.
func (m *Memory) InsertPendingTx(ctx context.Context, tx database.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pendingSet[tx.Hash]; exists {
		return nil
	}

	m.pending = append(m.pending, tx)
	m.pendingSet[tx.Hash] = struct{}{}

	return nil
}

// QueryPendingTxs returns the pending transactions in arrival order.
func (m *Memory) QueryPendingTxs(ctx context.Context) ([]database.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txs := make([]database.Tx, len(m.pending))
	copy(txs, m.pending)

	return txs, nil
}

// DeletePendingTxs removes the pending transactions with these hashes.
func (m *Memory) DeletePendingTxs(ctx context.Context, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	remove := make(map[string]struct{}, len(hashes))
	for _, hash := range hashes {
		remove[hash] = struct{}{}
	}

	pending := make([]database.Tx, 0, len(m.pending))
	for _, tx := range m.pending {
		if _, exists := remove[tx.Hash]; exists {
			delete(m.pendingSet, tx.Hash)
			continue
		}
		pending = append(pending, tx)
	}
	m.pending = pending

	return nil
}

// ClearPendingTxs removes every pending transaction.
func (m *Memory) ClearPendingTxs(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = nil
	m.pendingSet = make(map[string]struct{})

	return nil
}

// =============================================================================

// withTxs attaches the stored transactions to the block in position order.
func (m *Memory) withTxs(block database.Block) database.Block {
	var txs []database.Tx
	for _, tx := range m.txs {
		if tx.BlockHash == block.Hash {
			txs = append(txs, tx)
		}
	}

	sort.Slice(txs, func(i, j int) bool {
		return position(txs[i]) < position(txs[j])
	})

	block.Transactions = txs

	return block
}

func position(tx database.Tx) int {
	if tx.IndexInBlock == nil {
		return -1
	}

	return *tx.IndexInBlock
}

// =============================================================================

type snapshot struct {
	blocks     map[string]database.Block
	order      []string
	txs        map[string]database.Tx
	nodes      map[string][]merkle.NodeRecord
	proofs     []proofRow
	balances   map[string]decimal.Decimal
	pending    []database.Tx
	pendingSet map[string]struct{}
}

func (m *Memory) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return snapshot{
		blocks:     maps.Clone(m.blocks),
		order:      slices.Clone(m.order),
		txs:        maps.Clone(m.txs),
		nodes:      maps.Clone(m.nodes),
		proofs:     slices.Clone(m.proofs),
		balances:   maps.Clone(m.balances),
		pending:    slices.Clone(m.pending),
		pendingSet: maps.Clone(m.pendingSet),
	}
}

func (m *Memory) restore(snap snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = snap.blocks
	m.order = snap.order
	m.txs = snap.txs
	m.nodes = snap.nodes
	m.proofs = snap.proofs
	m.balances = snap.balances
	m.pending = snap.pending
	m.pendingSet = snap.pendingSet
}

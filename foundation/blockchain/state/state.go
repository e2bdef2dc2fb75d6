// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/powledger/foundation/blockchain/lock"
	"github.com/ardanlabs/powledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
	"github.com/shopspring/decimal"
)

// DefaultGenesisTimeout is how long a node waits for a peer to answer a
// genesis request before creating its own.
const DefaultGenesisTimeout = 5 * time.Second

// Set of error variables for the ledger.
var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrChainConsistency   = errors.New("chain consistency")
	ErrInvalidChain       = errors.New("invalid chain")
	ErrGenesisMismatch    = errors.New("genesis block mismatch")
	ErrGenesisTimeout     = errors.New("timeout: no genesis block received from peers")
	ErrInvalidGenesis     = errors.New("block is not a genesis block")
	ErrNoGenesis          = errors.New("chain has no genesis block")
	ErrInvalidSettings    = errors.New("invalid settings")
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining and for talking to connected peers.
// An empty exclude value sends to every connected peer.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalShareTx(tx database.Tx, exclude string)
	SignalShareBlock(block database.Block, exclude string)
	SignalShareChain()
	RequestGenesis() int
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Genesis        genesis.Genesis
	MinerAddress   string
	Host           string
	Storage        database.Storage
	KnownPeers     *peer.PeerSet
	GenesisTimeout time.Duration
	EvHandler      EventHandler
}

// State manages the blockchain database.
type State struct {
	host      string
	evHandler EventHandler

	mu           sync.Mutex
	chain        []database.Block
	difficulty   int
	miningReward decimal.Decimal
	minerAddress string

	genesis        genesis.Genesis
	genesisTimeout time.Duration
	genesisReady   chan struct{}
	genesisOnce    sync.Once

	knownPeers *peer.PeerSet
	mempool    *mempool.Mempool
	locks      *lock.Set
	db         *database.Database

	// Mining is cancelled by shutdown only.
	shutdown context.Context
	cancel   context.CancelFunc

	Worker Worker
}

// New constructs a new blockchain for data management. The chain and the
// pending transactions are loaded from storage.
func New(ctx context.Context, cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	db := database.New(cfg.Storage, ev)

	// Load all existing blocks from storage into memory for processing.
	blocks, err := db.ReadAllBlocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("read blocks: %w", err)
	}

	// The stored chain must hold up to the same rules as a chain received
	// from a peer.
	if len(blocks) > 0 && !IsValidChain(database.NewChainData(blocks), ev) {
		return nil, fmt.Errorf("%w: stored chain", ErrInvalidChain)
	}

	// Balances that drifted from the chain are replayed from it.
	if err := db.ValidateBalances(ctx, blocks); err != nil {
		if !errors.Is(err, database.ErrBalanceMismatch) {
			return nil, fmt.Errorf("validate balances: %w", err)
		}

		ev("state: New: WARNING: %s: rebuilding balances", err)

		if err := db.RebuildBalances(ctx, blocks); err != nil {
			return nil, fmt.Errorf("rebuild balances: %w", err)
		}
	}

	pending, err := db.QueryPendingTxs(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending transactions: %w", err)
	}

	mempool := mempool.New()
	for _, tx := range pending {
		mempool.Add(tx)
	}

	minerAddress := cfg.MinerAddress
	if minerAddress == "" {
		minerAddress = cfg.Genesis.MinerAddress
	}

	genesisTimeout := cfg.GenesisTimeout
	if genesisTimeout <= 0 {
		genesisTimeout = DefaultGenesisTimeout
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	shutdown, cancel := context.WithCancel(context.Background())

	state := State{
		host:      cfg.Host,
		evHandler: ev,

		chain:        blocks,
		difficulty:   cfg.Genesis.Difficulty,
		miningReward: cfg.Genesis.MiningReward,
		minerAddress: minerAddress,

		genesis:        cfg.Genesis,
		genesisTimeout: genesisTimeout,
		genesisReady:   make(chan struct{}),

		knownPeers: knownPeers,
		mempool:    mempool,
		locks:      lock.New(),
		db:         db,

		shutdown: shutdown,
		cancel:   cancel,
	}

	ev("state: New: loaded blocks[%d]: pending[%d]", len(blocks), len(pending))

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Make sure the database is properly closed.
	defer func() {
		s.db.Close()
	}()

	// Stop any block being mined.
	s.cancel()

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return nil
}

// =============================================================================

// purgePending removes the transactions of the block from the pending list,
// the pool set and the pending store. The caller must hold the mutex.
func (s *State) purgePending(ctx context.Context, txs []database.Tx) error {
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}

	s.mempool.Delete(hashes...)

	if err := s.db.DeletePendingTxs(ctx, hashes); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}

	return nil
}

// minedHashes returns the set of transaction hashes in the chain. The caller
// must hold the mutex.
func (s *State) minedHashes() map[string]struct{} {
	mined := make(map[string]struct{})
	for _, block := range s.chain {
		for _, tx := range block.Transactions {
			mined[tx.Hash] = struct{}{}
		}
	}

	return mined
}

// latestBlock returns the head of the chain. The caller must hold the mutex.
func (s *State) latestBlock() (database.Block, bool) {
	if len(s.chain) == 0 {
		return database.Block{}, false
	}

	return s.chain[len(s.chain)-1], true
}

// blockEvent provides a specific event about a new block in the chain for
// the viewer websocket.
func (s *State) blockEvent(block database.Block) {
	s.evHandler(`viewer: block: {"index":%d,"hash":%q,"prev":%q,"txs":%d}`, block.Index, block.Hash, block.PrevHash, len(block.Transactions))
}

// stampBlock records the position of every transaction in the block.
func stampBlock(block database.Block) database.Block {
	txs := make([]database.Tx, len(block.Transactions))
	for i, tx := range block.Transactions {
		idx := i
		tx.BlockHash = block.Hash
		tx.IndexInBlock = &idx
		txs[i] = tx
	}
	block.Transactions = txs

	return block
}

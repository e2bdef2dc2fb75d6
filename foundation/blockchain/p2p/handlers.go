package p2p

import (
	"context"
	"errors"
	"sync"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
)

// maxSeenTxs bounds the set of transaction hashes remembered from peers.
const maxSeenTxs = 10_000

// Handlers applies peer messages to the ledger. It remembers what it has
// already processed so the same chain, block or transaction circulating
// between peers is handled once.
type Handlers struct {
	state     *state.State
	evHandler func(v string, args ...any)

	mu               sync.Mutex
	lastChainHash    string
	lastBlockHash    string
	processedGenesis bool
	seenTxs          map[string]struct{}
}

// NewHandlers constructs the message handlers for the ledger.
func NewHandlers(st *state.State, evHandler func(v string, args ...any)) *Handlers {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Handlers{
		state:     st,
		evHandler: ev,
		seenTxs:   make(map[string]struct{}),
	}
}

// Connected sends the local chain to a new peer and asks it for its genesis
// block when the local chain is still empty.
func (h *Handlers) Connected(ctx context.Context, c *Conn) {
	chain := h.state.RetrieveChain()

	if err := c.Send(Chain{Blocks: database.NewChainData(chain)}); err != nil {
		h.evHandler("p2p: Connected: peer[%s]: send chain: %s", c.ID, err)
	}

	if len(chain) == 0 {
		if err := c.Send(RequestGenesis{}); err != nil {
			h.evHandler("p2p: Connected: peer[%s]: request genesis: %s", c.ID, err)
		}
	}
}

// Handle dispatches a message received from a peer.
func (h *Handlers) Handle(ctx context.Context, c *Conn, msg Message) {
	switch m := msg.(type) {
	case RequestGenesis:
		h.requestGenesis(c)

	case GenesisBlock:
		h.genesisBlock(ctx, c, m)

	case Chain:
		h.chain(ctx, c, m)

	case NewBlock:
		h.newBlock(ctx, c, m)

	case NewTransaction:
		h.newTransaction(ctx, c, m)
	}
}

// =============================================================================

func (h *Handlers) requestGenesis(c *Conn) {
	block, exists := h.state.RetrieveGenesisBlock()
	if !exists {
		h.evHandler("p2p: requestGenesis: peer[%s]: no local genesis block", c.ID)
		return
	}

	if err := c.Send(GenesisBlock{Block: database.NewBlockData(block)}); err != nil {
		h.evHandler("p2p: requestGenesis: peer[%s]: %s", c.ID, err)
	}
}

func (h *Handlers) genesisBlock(ctx context.Context, c *Conn, m GenesisBlock) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.processedGenesis {
		return
	}

	block := database.ToBlock(m.Block)

	if err := h.state.ProcessGenesisBlock(ctx, block); err != nil {
		h.evHandler("p2p: genesisBlock: peer[%s]: ERROR: %s", c.ID, err)
		return
	}

	h.processedGenesis = true
}

func (h *Handlers) chain(ctx context.Context, c *Conn, m Chain) {
	if len(m.Blocks) == 0 {
		return
	}

	blocks := database.ToBlocks(m.Blocks)
	if !blocks[0].IsGenesis() {
		h.evHandler("p2p: chain: peer[%s]: first block is not a genesis block", c.ID)
		return
	}

	last := blocks[len(blocks)-1]
	if last.Hash == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastChainHash == last.Hash {
		return
	}

	if len(blocks) <= len(h.state.RetrieveChain()) {
		return
	}

	replaced, err := h.state.ReplaceChain(ctx, m.Blocks)
	if err != nil {
		h.evHandler("p2p: chain: peer[%s]: ERROR: %s", c.ID, err)
		return
	}

	h.lastChainHash = last.Hash

	if replaced {
		h.evHandler("p2p: chain: peer[%s]: replaced local chain: blocks[%d]", c.ID, len(blocks))
	}
}

func (h *Handlers) newBlock(ctx context.Context, c *Conn, m NewBlock) {
	block := database.ToBlock(m.Block)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastBlockHash == block.Hash {
		return
	}

	accepted, err := h.state.ProcessPeerBlock(ctx, block, c.ID)
	if err != nil {
		h.evHandler("p2p: newBlock: peer[%s]: ERROR: %s", c.ID, err)
		return
	}

	if accepted {
		h.lastBlockHash = block.Hash
	}
}

func (h *Handlers) newTransaction(ctx context.Context, c *Conn, m NewTransaction) {
	tx := database.ToTx(m.Tx)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.seenTxs[tx.Hash]; exists {
		return
	}

	if h.state.IsPending(tx.Hash) {
		return
	}

	if err := h.state.AddPeerTransaction(ctx, tx, c.ID); err != nil {
		if errors.Is(err, state.ErrInvalidTransaction) {
			h.evHandler("p2p: newTransaction: peer[%s]: rejected: %s", c.ID, err)
			return
		}
		h.evHandler("p2p: newTransaction: peer[%s]: ERROR: %s", c.ID, err)
		return
	}

	if len(h.seenTxs) >= maxSeenTxs {
		h.seenTxs = make(map[string]struct{})
	}
	h.seenTxs[tx.Hash] = struct{}{}
}

package state

import (
	"context"
	"errors"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// AddBlock validates the block against the head of the chain and, if it
// passes, appends and persists it, purges its transactions from the pending
// pool and shares it with the connected peers. A rejected block returns false.
func (s *State) AddBlock(ctx context.Context, block database.Block) bool {
	return s.addBlock(ctx, block, "")
}

// ProcessPeerBlock handles a block received from a peer. A block that is
// already stored is adopted into memory if it extends the head. Otherwise
// the block must pass AddBlock; when it doesn't, the full chain is shared
// so the peer can resync.
func (s *State) ProcessPeerBlock(ctx context.Context, block database.Block, from string) (bool, error) {
	s.evHandler("state: ProcessPeerBlock: started: blk[%d]: hash[%s]", block.Index, block.Hash)
	defer s.evHandler("state: ProcessPeerBlock: completed: blk[%d]", block.Index)

	stored, err := s.db.QueryBlockByHash(ctx, block.Hash)
	switch {
	case err == nil:
		s.adoptStoredBlock(stored)
		return true, nil

	case !errors.Is(err, database.ErrNotFound):
		return false, err
	}

	if s.addBlock(ctx, block, from) {
		return true, nil
	}

	if s.Worker != nil {
		s.Worker.SignalShareChain()
	}

	return false, nil
}

// =============================================================================

func (s *State) addBlock(ctx context.Context, block database.Block, from string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, exists := s.latestBlock()
	if !exists {
		s.evHandler("state: AddBlock: blk[%d]: rejected: %s", block.Index, ErrNoGenesis)
		return false
	}

	if block.PrevHash != head.Hash {
		s.evHandler("state: AddBlock: blk[%d]: rejected: previous hash mismatch: got[%s] head[%s]", block.Index, block.PrevHash, head.Hash)
		return false
	}

	if !block.HasValidTransactions(s.evHandler) {
		s.evHandler("state: AddBlock: blk[%d]: rejected: invalid transactions", block.Index)
		return false
	}

	if err := block.VerifyHash(); err != nil {
		s.evHandler("state: AddBlock: blk[%d]: rejected: %s", block.Index, err)
		return false
	}

	// A block carries at least the local difficulty and meets the one it
	// claims.
	if block.Difficulty < s.difficulty {
		s.evHandler("state: AddBlock: blk[%d]: rejected: difficulty[%d] below local difficulty[%d]", block.Index, block.Difficulty, s.difficulty)
		return false
	}

	if !database.IsHashSolved(block.Difficulty, block.Hash) {
		s.evHandler("state: AddBlock: blk[%d]: rejected: hash[%s] does not meet difficulty[%d]", block.Index, block.Hash, block.Difficulty)
		return false
	}

	block = stampBlock(block)

	if err := s.db.WriteBlock(ctx, block); err != nil {
		s.evHandler("state: AddBlock: blk[%d]: ERROR: %s", block.Index, err)
		return false
	}
	s.chain = append(s.chain, block)

	if err := s.purgePending(ctx, block.Transactions); err != nil {
		s.evHandler("state: AddBlock: blk[%d]: WARNING: %s", block.Index, err)
	}

	s.evHandler("state: AddBlock: blk[%d]: hash[%s]: accepted", block.Index, block.Hash)
	s.blockEvent(block)

	if s.Worker != nil {
		s.Worker.SignalShareBlock(block, from)
	}

	return true
}

// adoptStoredBlock puts a persisted block into the in-memory chain when it
// is missing there and extends the head.
func (s *State) adoptStoredBlock(block database.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.chain {
		if b.Hash == block.Hash {
			return
		}
	}

	head, exists := s.latestBlock()
	if exists && block.PrevHash != head.Hash {
		s.evHandler("state: ProcessPeerBlock: blk[%d]: stored block does not extend head[%s]", block.Index, head.Hash)
		return
	}

	s.chain = append(s.chain, block)
	s.evHandler("state: ProcessPeerBlock: blk[%d]: adopted stored block", block.Index)
}

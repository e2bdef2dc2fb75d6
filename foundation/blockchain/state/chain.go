package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// IsValidChain checks a chain received from a peer. The first block must be
// a genesis block. Every later block must link to the one before it, carry
// the hash recomputed from its contents, meet its own difficulty and hold
// only valid transactions.
func IsValidChain(chain []database.BlockData, ev EventHandler) bool {
	if ev == nil {
		ev = func(string, ...any) {}
	}

	if len(chain) == 0 {
		ev("state: IsValidChain: empty chain")
		return false
	}

	blocks := database.ToBlocks(chain)

	if !blocks[0].IsGenesis() {
		ev("state: IsValidChain: first block is not a genesis block: index[%d] prev[%s]", blocks[0].Index, blocks[0].PrevHash)
		return false
	}

	for i := 1; i < len(blocks); i++ {
		prev, block := blocks[i-1], blocks[i]

		if block.PrevHash != prev.Hash {
			ev("state: IsValidChain: blk[%d]: previous hash mismatch: got[%s] exp[%s]", block.Index, block.PrevHash, prev.Hash)
			return false
		}

		if err := block.VerifyHash(); err != nil {
			ev("state: IsValidChain: %s", err)
			return false
		}

		if !database.IsHashSolved(block.Difficulty, block.Hash) {
			ev("state: IsValidChain: blk[%d]: hash[%s] does not meet difficulty[%d]", block.Index, block.Hash, block.Difficulty)
			return false
		}

		if !block.HasValidTransactions(ev) {
			return false
		}
	}

	return true
}

// ReplaceChain adopts a chain received from a peer when it is longer than
// the local chain, valid, and carries strictly more cumulative difficulty.
// It reports whether the local chain was replaced.
func (s *State) ReplaceChain(ctx context.Context, chain []database.BlockData) (bool, error) {
	s.evHandler("state: ReplaceChain: started: blocks[%d]", len(chain))
	defer s.evHandler("state: ReplaceChain: completed")

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(chain) <= len(s.chain) {
		s.evHandler("state: ReplaceChain: not longer: received[%d] local[%d]", len(chain), len(s.chain))
		return false, nil
	}

	if !IsValidChain(chain, s.evHandler) {
		return false, ErrInvalidChain
	}

	blocks := database.ToBlocks(chain)

	local := database.CumulativeDifficulty(s.chain)
	received := database.CumulativeDifficulty(blocks)
	if received <= local {
		s.evHandler("state: ReplaceChain: not more work: received[%d] local[%d]", received, local)
		return false, nil
	}

	newChain := make([]database.Block, 0, len(blocks))
	keep := make([]string, 0, len(blocks))

	for _, block := range blocks {
		block = stampBlock(block)
		keep = append(keep, block.Hash)

		stored, err := s.db.QueryBlockByHash(ctx, block.Hash)
		switch {
		case err == nil && stored.CalculateHash() == block.Hash:
			newChain = append(newChain, stored)
			continue

		case err == nil:
			// The stored copy lost transactions to another fork. Keep the
			// received one and repair storage below.
			newChain = append(newChain, block)
			continue

		case !errors.Is(err, database.ErrNotFound):
			return false, fmt.Errorf("query block[%s]: %w", block.Hash, err)
		}

		if err := s.db.WriteBlock(ctx, block); err != nil {
			return false, fmt.Errorf("write block[%d]: %w", block.Index, err)
		}
		newChain = append(newChain, block)
	}

	if err := s.db.DeleteBlocksExcept(ctx, keep); err != nil {
		return false, fmt.Errorf("prune blocks: %w", err)
	}

	if err := s.db.SaveChainTxs(ctx, newChain); err != nil {
		return false, err
	}

	if err := s.db.RebuildBalances(ctx, newChain); err != nil {
		return false, fmt.Errorf("rebuild balances: %w", err)
	}

	s.chain = newChain
	s.genesisOnce.Do(func() { close(s.genesisReady) })

	var mined []database.Tx
	for _, block := range newChain {
		mined = append(mined, block.Transactions...)
	}
	if err := s.purgePending(ctx, mined); err != nil {
		s.evHandler("state: ReplaceChain: WARNING: %s", err)
	}

	s.evHandler("state: ReplaceChain: replaced: blocks[%d]: difficulty local[%d] received[%d]", len(newChain), local, received)
	s.blockEvent(newChain[len(newChain)-1])

	if s.Worker != nil {
		s.Worker.SignalShareChain()
	}

	return true, nil
}

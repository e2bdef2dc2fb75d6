package state

import (
	"context"
	"fmt"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// miningLock is the name of the lock held while a block is being mined.
const miningLock = "mining"

// MineResult describes how a mining attempt ended.
type MineResult string

// Set of possible mining results.
const (
	MineSuccess    MineResult = "success"
	MineLockFailed MineResult = "lock_failed"
	MineNoPending  MineResult = "no_pending_transactions"
	MineNoUnique   MineResult = "no_unique_transactions"
)

// =============================================================================

// MinePendingTransactions mines the pending transactions, plus a reward for
// the address when one is provided, into the next block. Only one attempt
// runs at a time; a concurrent call gets MineLockFailed right away. Once
// started, mining ends with a block or with the node shutting down. The
// caller's context going away does not stop it.
func (s *State) MinePendingTransactions(ctx context.Context, rewardAddress string) (MineResult, error) {
	if !s.locks.TryAcquire(miningLock) {
		s.evHandler("state: MinePendingTransactions: MINING: lock held")
		return MineLockFailed, nil
	}
	defer s.locks.Release(miningLock)

	ctx = context.WithoutCancel(ctx)

	s.evHandler("state: MinePendingTransactions: MINING: started")
	defer s.evHandler("state: MinePendingTransactions: MINING: completed")

	block, head, result, err := s.prepareBlock(ctx, rewardAddress)
	if err != nil || result != "" {
		return result, err
	}

	s.evHandler("state: MinePendingTransactions: MINING: perform POW: blk[%d]: txs[%d]", block.Index, len(block.Transactions))

	// The state mutex is not held while mining so peers and the API stay
	// responsive.
	start := time.Now()
	if err := block.Mine(s.shutdown, s.evHandler); err != nil {
		return "", err
	}

	s.evHandler("state: MinePendingTransactions: MINING: duration[%v]", time.Since(start))

	if err := s.commitMinedBlock(ctx, block, head); err != nil {
		return "", err
	}

	if s.Worker != nil {
		s.Worker.SignalShareBlock(block, "")
	}

	return MineSuccess, nil
}

// prepareBlock builds the next block from the pending pool. A non empty
// result means there is nothing to mine.
func (s *State) prepareBlock(ctx context.Context, rewardAddress string) (database.Block, database.Block, MineResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.mempool.Count()
	if pending == 0 && rewardAddress == "" {
		return database.Block{}, database.Block{}, MineNoPending, nil
	}

	head, exists := s.latestBlock()
	if !exists {
		return database.Block{}, database.Block{}, "", ErrNoGenesis
	}

	// Drop transactions already committed to the chain and keep the first
	// copy of every hash.
	txs := s.mempool.Unique(s.minedHashes())

	if pending > 0 && len(txs) == 0 {
		s.evHandler("state: MinePendingTransactions: MINING: no unique transactions: clearing pending[%d]", pending)

		s.mempool.Truncate()
		if err := s.db.ClearPendingTxs(ctx); err != nil {
			return database.Block{}, database.Block{}, "", fmt.Errorf("clear pending: %w", err)
		}

		return database.Block{}, database.Block{}, MineNoUnique, nil
	}

	if rewardAddress != "" {
		txs = append(txs, database.NewRewardTx(rewardAddress, s.miningReward))
	}

	if exp := head.CalculateOriginTxHash(); head.OriginTxHash != exp {
		s.evHandler("state: MinePendingTransactions: MINING: ERROR: blk[%d]: origin stored[%s] expected[%s]", head.Index, head.OriginTxHash, exp)
		return database.Block{}, database.Block{}, "", fmt.Errorf("%w: blk[%d]: origin tx hash stored[%s] expected[%s]", ErrChainConsistency, head.Index, head.OriginTxHash, exp)
	}

	block, err := database.NewBlock(uint64(len(s.chain)), head.Hash, time.Now().UnixMilli(), txs, s.difficulty)
	if err != nil {
		return database.Block{}, database.Block{}, "", err
	}

	return block, head, "", nil
}

// commitMinedBlock appends and persists the mined block if the chain has
// not moved while mining, then purges the mined transactions.
func (s *State) commitMinedBlock(ctx context.Context, block database.Block, head database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, _ := s.latestBlock()
	if latest.Hash != head.Hash {
		s.evHandler("state: MinePendingTransactions: MINING: ERROR: head moved from[%s] to[%s]", head.Hash, latest.Hash)
		return fmt.Errorf("%w: head moved from[%s] to[%s] while mining", ErrChainConsistency, head.Hash, latest.Hash)
	}

	block = stampBlock(block)

	if err := s.db.WriteBlock(ctx, block); err != nil {
		return fmt.Errorf("write block: %w", err)
	}
	s.chain = append(s.chain, block)

	s.evHandler("state: MinePendingTransactions: MINING: blk[%d]: hash[%s]: txs[%d]", block.Index, block.Hash, len(block.Transactions))

	if err := s.purgePending(ctx, block.Transactions); err != nil {
		return err
	}

	s.blockEvent(block)

	return nil
}

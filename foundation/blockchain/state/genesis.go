package state

import (
	"context"
	"fmt"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// InitGenesis makes sure the chain starts with a genesis block. A stored
// chain is used as is. Otherwise the connected peers are asked for theirs
// and, if none answers in time, a local genesis block is created that mints
// the genesis reward to the genesis address.
func (s *State) InitGenesis(ctx context.Context) error {
	s.evHandler("state: InitGenesis: started")
	defer s.evHandler("state: InitGenesis: completed")

	s.mu.Lock()
	n := len(s.chain)
	s.mu.Unlock()

	if n > 0 {
		s.evHandler("state: InitGenesis: using stored chain: blocks[%d]", n)
		return nil
	}

	if s.Worker != nil && s.Worker.RequestGenesis() > 0 {
		err := s.waitGenesis(ctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return err
		}

		s.evHandler("state: InitGenesis: WARNING: %s", err)
	}

	return s.createGenesis(ctx)
}

// ProcessGenesisBlock handles a genesis block received from a peer. It is
// adopted when the local chain is empty. Otherwise it must match the local
// genesis block.
func (s *State) ProcessGenesisBlock(ctx context.Context, block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chain) > 0 {
		if s.chain[0].Hash != block.Hash {
			return fmt.Errorf("%w: local[%s] received[%s]", ErrGenesisMismatch, s.chain[0].Hash, block.Hash)
		}

		s.evHandler("state: ProcessGenesisBlock: genesis block is consistent with the local chain")
		return nil
	}

	if !block.IsGenesis() {
		return fmt.Errorf("%w: index[%d] prev[%s]", ErrInvalidGenesis, block.Index, block.PrevHash)
	}

	block = stampBlock(block)

	if err := s.db.WriteBlock(ctx, block); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	s.chain = []database.Block{block}

	s.evHandler("state: ProcessGenesisBlock: adopted genesis[%s]", block.Hash)
	s.genesisOnce.Do(func() { close(s.genesisReady) })

	return nil
}

// RetrieveGenesisBlock returns the first block of the chain.
func (s *State) RetrieveGenesisBlock() (database.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chain) == 0 {
		return database.Block{}, false
	}

	return s.chain[0], true
}

// =============================================================================

func (s *State) waitGenesis(ctx context.Context) error {
	s.evHandler("state: InitGenesis: waiting for peers: timeout[%v]", s.genesisTimeout)

	timer := time.NewTimer(s.genesisTimeout)
	defer timer.Stop()

	select {
	case <-s.genesisReady:
		return nil
	case <-timer.C:
		return ErrGenesisTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *State) createGenesis(ctx context.Context) error {
	reward := database.NewRewardTx(s.genesis.GenesisAddress, s.genesis.GenesisReward)
	difficulty := s.RetrieveSettings().Difficulty

	block, err := database.NewBlock(0, "", time.Now().UnixMilli(), []database.Tx{reward}, difficulty)
	if err != nil {
		return fmt.Errorf("genesis block: %w", err)
	}

	if err := block.Mine(ctx, s.evHandler); err != nil {
		return fmt.Errorf("mining genesis: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A peer may have answered while the block was being mined.
	if len(s.chain) > 0 {
		return nil
	}

	block = stampBlock(block)

	if err := s.db.WriteBlock(ctx, block); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	s.chain = []database.Block{block}

	s.evHandler("state: InitGenesis: created genesis[%s]: reward[%s] to[%s]", block.Hash, reward.AmountString(), reward.ToAddress)
	s.genesisOnce.Do(func() { close(s.genesisReady) })
	s.blockEvent(block)

	return nil
}

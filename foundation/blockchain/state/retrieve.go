package state

import (
	"fmt"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
	"github.com/shopspring/decimal"
)

// Settings represents the values of the ledger that can be changed while
// the node runs.
type Settings struct {
	Difficulty   int
	MiningReward decimal.Decimal
	MinerAddress string
}

// RetrieveHost returns a copy of host information.
func (s *State) RetrieveHost() string {
	return s.host
}

// RetrieveChain returns a copy of the in-memory chain.
func (s *State) RetrieveChain() []database.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := make([]database.Block, len(s.chain))
	copy(chain, s.chain)

	return chain
}

// RetrieveLatestBlock returns a copy the current latest block.
func (s *State) RetrieveLatestBlock() database.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, _ := s.latestBlock()
	return block
}

// RetrievePending returns a copy of the pending transactions in arrival order.
func (s *State) RetrievePending() []database.Tx {
	return s.mempool.Copy()
}

// RetrieveSettings returns the current ledger settings.
func (s *State) RetrieveSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Settings{
		Difficulty:   s.difficulty,
		MiningReward: s.miningReward,
		MinerAddress: s.minerAddress,
	}
}

// UpdateSettings changes the difficulty and mining reward used for the
// next blocks.
func (s *State) UpdateSettings(settings Settings) error {
	if settings.Difficulty < 0 || settings.Difficulty > 64 {
		return fmt.Errorf("%w: difficulty %d out of range", ErrInvalidSettings, settings.Difficulty)
	}

	if settings.MiningReward.IsNegative() {
		return fmt.Errorf("%w: negative mining reward %s", ErrInvalidSettings, settings.MiningReward)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.difficulty = settings.Difficulty
	s.miningReward = settings.MiningReward
	if settings.MinerAddress != "" {
		s.minerAddress = settings.MinerAddress
	}

	s.evHandler("state: UpdateSettings: difficulty[%d]: reward[%s]: miner[%s]", s.difficulty, s.miningReward, s.minerAddress)

	return nil
}

// RetrieveKnownPeers retrieves a copy of the known peer list.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}

// AddKnownPeer adds a new peer to the known peer list.
func (s *State) AddKnownPeer(pr peer.Peer) bool {
	return s.knownPeers.Add(pr)
}

package state

import (
	"context"
	"errors"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/merkle"
)

// BalanceOf returns the running balance of the address with eight
// fractional digits.
func (s *State) BalanceOf(ctx context.Context, address string) (string, error) {
	return s.db.BalanceString(ctx, address)
}

// VerifyTransactionInBlock checks the stored merkle proof of the transaction
// against the merkle root of the block in the local chain.
func (s *State) VerifyTransactionInBlock(ctx context.Context, txHash string, blockHash string) bool {
	block, exists := s.findBlock(blockHash)
	if !exists {
		s.evHandler("state: VerifyTransactionInBlock: block[%s] not found", blockHash)
		return false
	}

	proof, err := s.db.QueryMerkleProof(ctx, txHash)
	if err != nil {
		s.evHandler("state: VerifyTransactionInBlock: tx[%s]: proof: %s", txHash, err)
		return false
	}

	return merkle.VerifyProof(txHash, proof, block.MerkleRoot)
}

// QueryTransaction returns the mined transaction for the hash.
func (s *State) QueryTransaction(ctx context.Context, hash string) (database.Tx, error) {
	return s.db.QueryTx(ctx, hash)
}

// QueryTransactionsByAddress returns the mined transactions sent or received
// by the address, newest first.
func (s *State) QueryTransactionsByAddress(ctx context.Context, address string) ([]database.Tx, error) {
	txs, err := s.db.QueryTxsByAddress(ctx, address)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	return txs, nil
}

// QueryLatestTransactionByAddress returns the newest transaction sent by
// the address.
func (s *State) QueryLatestTransactionByAddress(ctx context.Context, address string) (database.Tx, error) {
	return s.db.QueryLatestTxByAddress(ctx, address)
}

// =============================================================================

func (s *State) findBlock(hash string) (database.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, block := range s.chain {
		if block.Hash == hash {
			return block, true
		}
	}

	return database.Block{}, false
}

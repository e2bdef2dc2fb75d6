package state

import (
	"context"
	"fmt"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// AddPendingTransaction validates the transaction and adds it to the pending
// pool, then shares it with every connected peer. A transaction already in
// the pool is ignored.
func (s *State) AddPendingTransaction(ctx context.Context, tx database.Tx) error {
	return s.addPending(ctx, tx, "")
}

// AddPeerTransaction is AddPendingTransaction for a transaction received from
// a peer. The transaction is not sent back to that peer.
func (s *State) AddPeerTransaction(ctx context.Context, tx database.Tx, from string) error {
	return s.addPending(ctx, tx, from)
}

// IsPending reports whether a transaction with this hash is in the pool.
func (s *State) IsPending(hash string) bool {
	return s.mempool.Contains(hash)
}

// =============================================================================

func (s *State) addPending(ctx context.Context, tx database.Tx, from string) error {
	if err := tx.Validate(); err != nil {
		s.evHandler("state: addPending: tx[%s]: rejected: %s", tx.Hash, err)
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.mempool.Add(tx) {
		s.evHandler("state: addPending: tx[%s]: already pending", tx.Hash)
		return nil
	}

	if err := s.db.InsertPendingTx(ctx, tx); err != nil {
		s.mempool.Delete(tx.Hash)
		return fmt.Errorf("insert pending: %w", err)
	}

	s.evHandler("state: addPending: tx[%s]: added: pending[%d]", tx, s.mempool.Count())
	s.evHandler(`viewer: tx: {"hash":%q,"from":%q,"to":%q,"amount":%q}`, tx.Hash, tx.FromAddress, tx.ToAddress, tx.AmountString())

	if s.Worker != nil {
		s.Worker.SignalShareTx(tx, from)
	}

	return nil
}

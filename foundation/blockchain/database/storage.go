package database

import (
	"context"
	"errors"

	"github.com/ardanlabs/powledger/foundation/blockchain/merkle"
	"github.com/shopspring/decimal"
)

// Set of error variables returned by storage engines.
var (
	ErrDuplicate = errors.New("duplicate key")
	ErrNotFound  = errors.New("not found")
)

// Storage interface represents the behavior required to be implemented by any
// package providing support for persisting the blockchain.
type Storage interface {

	// InsertBlock writes the block row without its transactions. It returns
	// ErrDuplicate when a block with the same hash exists.
	InsertBlock(ctx context.Context, block Block) error

	// SaveTx writes a mined transaction, moving it to the block it names if
	// the hash is already stored.
	SaveTx(ctx context.Context, tx Tx) error

	InsertMerkleNodes(ctx context.Context, blockHash string, nodes []merkle.NodeRecord) error
	InsertMerkleProof(ctx context.Context, blockHash string, txHash string, proof merkle.Proof) error

	// UpdateBalance adds the delta to the address, creating it if needed.
	UpdateBalance(ctx context.Context, address string, delta decimal.Decimal) error
	ResetBalances(ctx context.Context) error
	Balance(ctx context.Context, address string) (decimal.Decimal, error)

	// QueryBlocks returns the stored blocks ordered by index with their
	// transactions ordered by position.
	QueryBlocks(ctx context.Context) ([]Block, error)
	QueryBlockByHash(ctx context.Context, hash string) (Block, error)

	// DeleteBlocksExcept removes every block, with its transactions and
	// merkle data, whose hash is not in the keep set.
	DeleteBlocksExcept(ctx context.Context, keep []string) error

	QueryTx(ctx context.Context, hash string) (Tx, error)
	QueryTxsByAddress(ctx context.Context, address string) ([]Tx, error)
	QueryLatestTxByAddress(ctx context.Context, address string) (Tx, error)
	QueryMerkleProof(ctx context.Context, txHash string) (merkle.Proof, error)

	// InsertPendingTx ignores a transaction that is already pending.
	InsertPendingTx(ctx context.Context, tx Tx) error
	QueryPendingTxs(ctx context.Context) ([]Tx, error)
	DeletePendingTxs(ctx context.Context, hashes []string) error
	ClearPendingTxs(ctx context.Context) error

	// WithinTran runs fn against a storage value bound to a single
	// transaction. Nothing fn wrote is kept when it returns an error.
	WithinTran(ctx context.Context, fn func(Storage) error) error

	Close() error
}

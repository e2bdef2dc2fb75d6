// Package sqlite implements the ability to read and write the blockchain to
// a SQLite database file. This implements the database.Storage interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/merkle"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// MemoryPath opens a private in memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	hash                    TEXT PRIMARY KEY,
	previous_hash           TEXT,
	timestamp               INTEGER NOT NULL,
	nonce                   INTEGER NOT NULL,
	difficulty              INTEGER NOT NULL,
	merkle_root             TEXT NOT NULL,
	block_index             INTEGER NOT NULL,
	origin_transaction_hash TEXT
);
CREATE INDEX IF NOT EXISTS blocks_index ON blocks (block_index);

CREATE TABLE IF NOT EXISTS transactions (
	hash                    TEXT PRIMARY KEY,
	from_address            TEXT,
	to_address              TEXT NOT NULL,
	amount                  TEXT NOT NULL,
	origin_transaction_hash TEXT,
	timestamp               INTEGER NOT NULL,
	signature               TEXT,
	block_hash              TEXT,
	public_key              TEXT,
	index_in_block          INTEGER
);
CREATE INDEX IF NOT EXISTS transactions_block ON transactions (block_hash);
CREATE INDEX IF NOT EXISTS transactions_from ON transactions (from_address);
CREATE INDEX IF NOT EXISTS transactions_to ON transactions (to_address);

CREATE TABLE IF NOT EXISTS pending_transactions (
	seq                     INTEGER PRIMARY KEY AUTOINCREMENT,
	hash                    TEXT NOT NULL UNIQUE,
	from_address            TEXT,
	to_address              TEXT NOT NULL,
	amount                  TEXT NOT NULL,
	timestamp               INTEGER NOT NULL,
	signature               TEXT,
	origin_transaction_hash TEXT,
	public_key              TEXT
);

CREATE TABLE IF NOT EXISTS merkle_nodes (
	block_hash TEXT NOT NULL,
	node_level INTEGER NOT NULL,
	node_index INTEGER NOT NULL,
	node_value TEXT NOT NULL,
	is_copied  INTEGER NOT NULL,
	PRIMARY KEY (block_hash, node_level, node_index)
);

CREATE TABLE IF NOT EXISTS merkle_proof_paths (
	block_hash       TEXT NOT NULL,
	transaction_hash TEXT NOT NULL,
	proof_path       TEXT NOT NULL,
	PRIMARY KEY (block_hash, transaction_hash)
);

CREATE TABLE IF NOT EXISTS address_balances (
	address TEXT PRIMARY KEY,
	balance TEXT NOT NULL
);`

const txColumns = `hash, from_address, to_address, amount, origin_transaction_hash, timestamp, signature, block_hash, public_key, index_in_block`

// =============================================================================

// SQLite represents the storage implementation for reading and storing the
// blockchain in a SQLite database.
type SQLite struct {
	db *sql.DB
	ex executor
	tx *sql.Tx
}

// executor is the part of the sql API shared by the pool and a transaction.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at the path, creating the file and schema as needed.
func New(ctx context.Context, path string) (*SQLite, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database folder: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows a single writer. Using one connection also keeps an in
	// memory database alive for the life of the value.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLite{db: db, ex: db}, nil
}

// Close closes the database. A value bound to a transaction leaves the
// database open.
func (s *SQLite) Close() error {
	if s.tx != nil {
		return nil
	}

	return s.db.Close()
}

// WithinTran runs fn inside a database transaction that is committed when fn
// succeeds. Calls made from fn on a value already bound to a transaction
// join it.
func (s *SQLite) WithinTran(ctx context.Context, fn func(database.Storage) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return toStorageErr(err)
	}
	defer tx.Rollback()

	if err := fn(&SQLite{db: s.db, ex: tx, tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// =============================================================================

// InsertBlock stores the block row.
func (s *SQLite) InsertBlock(ctx context.Context, block database.Block) error {
	const q = `
	INSERT INTO blocks
		(hash, previous_hash, timestamp, nonce, difficulty, merkle_root, block_index, origin_transaction_hash)
	VALUES
		(?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.ex.ExecContext(ctx, q,
		block.Hash,
		nullString(block.PrevHash),
		block.Timestamp,
		int64(block.Nonce),
		block.Difficulty,
		block.MerkleRoot,
		int64(block.Index),
		nullString(block.OriginTxHash),
	)
	if err != nil {
		return toStorageErr(err)
	}

	return nil
}

// SaveTx stores the mined transaction.
func (s *SQLite) SaveTx(ctx context.Context, tx database.Tx) error {
	const q = `
	INSERT INTO transactions
		(` + txColumns + `)
	VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (hash) DO UPDATE SET
		block_hash = excluded.block_hash,
		index_in_block = excluded.index_in_block`

	var index sql.NullInt64
	if tx.IndexInBlock != nil {
		index = sql.NullInt64{Int64: int64(*tx.IndexInBlock), Valid: true}
	}

	_, err := s.ex.ExecContext(ctx, q,
		tx.Hash,
		nullString(tx.FromAddress),
		tx.ToAddress,
		tx.AmountString(),
		nullString(tx.OriginTxHash),
		tx.Timestamp,
		nullString(tx.Signature),
		nullString(tx.BlockHash),
		tx.PublicKey,
		index,
	)
	if err != nil {
		return toStorageErr(err)
	}

	return nil
}

// InsertMerkleNodes stores the nodes of the block's merkle tree.
func (s *SQLite) InsertMerkleNodes(ctx context.Context, blockHash string, nodes []merkle.NodeRecord) error {
	const q = `
	INSERT OR IGNORE INTO merkle_nodes
		(block_hash, node_level, node_index, node_value, is_copied)
	VALUES
		(?, ?, ?, ?, ?)`

	return s.withinTran(ctx, func(tx executor) error {
		for _, n := range nodes {
			if _, err := tx.ExecContext(ctx, q, blockHash, n.Level, n.Index, n.Hash, n.Copied); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertMerkleProof stores the proof path of a transaction as JSON.
func (s *SQLite) InsertMerkleProof(ctx context.Context, blockHash string, txHash string, proof merkle.Proof) error {
	const q = `
	INSERT OR IGNORE INTO merkle_proof_paths
		(block_hash, transaction_hash, proof_path)
	VALUES
		(?, ?, ?)`

	data, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("encoding proof: %w", err)
	}

	if _, err := s.ex.ExecContext(ctx, q, blockHash, txHash, string(data)); err != nil {
		return toStorageErr(err)
	}

	return nil
}

// =============================================================================

// UpdateBalance adds the delta to the address balance. The balance is kept as
// fixed point text so the sum is performed in Go inside a transaction.
func (s *SQLite) UpdateBalance(ctx context.Context, address string, delta decimal.Decimal) error {
	const sel = `SELECT balance FROM address_balances WHERE address = ?`
	const ups = `
	INSERT INTO address_balances
		(address, balance)
	VALUES
		(?, ?)
	ON CONFLICT (address) DO UPDATE SET
		balance = excluded.balance`

	return s.withinTran(ctx, func(tx executor) error {
		var current string
		switch err := tx.QueryRowContext(ctx, sel, address).Scan(&current); {
		case errors.Is(err, sql.ErrNoRows):
			current = "0"
		case err != nil:
			return err
		}

		balance, err := decimal.NewFromString(current)
		if err != nil {
			return fmt.Errorf("parsing balance %q: %w", current, err)
		}

		balance = balance.Add(delta)

		_, err = tx.ExecContext(ctx, ups, address, balance.StringFixed(database.AmountPlaces))
		return err
	})
}

// ResetBalances removes every balance.
func (s *SQLite) ResetBalances(ctx context.Context) error {
	if _, err := s.ex.ExecContext(ctx, `DELETE FROM address_balances`); err != nil {
		return toStorageErr(err)
	}

	return nil
}

// Balance returns the balance for the address.
func (s *SQLite) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	var current string
	err := s.ex.QueryRowContext(ctx, `SELECT balance FROM address_balances WHERE address = ?`, address).Scan(&current)
	if err != nil {
		return decimal.Zero, toStorageErr(err)
	}

	return decimal.NewFromString(current)
}

// =============================================================================

// QueryBlocks returns the stored blocks ordered by index.
func (s *SQLite) QueryBlocks(ctx context.Context) ([]database.Block, error) {
	blocks, err := s.queryBlocks(ctx, ``)
	if err != nil {
		return nil, err
	}

	txs, err := s.queryTxs(ctx, `WHERE block_hash IS NOT NULL ORDER BY block_hash, index_in_block`)
	if err != nil {
		return nil, err
	}

	byBlock := make(map[string][]database.Tx)
	for _, tx := range txs {
		byBlock[tx.BlockHash] = append(byBlock[tx.BlockHash], tx)
	}

	for i := range blocks {
		blocks[i].Transactions = byBlock[blocks[i].Hash]
	}

	return blocks, nil
}

// QueryBlockByHash returns the block for the hash.
func (s *SQLite) QueryBlockByHash(ctx context.Context, hash string) (database.Block, error) {
	blocks, err := s.queryBlocks(ctx, `WHERE hash = ?`, hash)
	if err != nil {
		return database.Block{}, err
	}

	if len(blocks) == 0 {
		return database.Block{}, database.ErrNotFound
	}

	txs, err := s.queryTxs(ctx, `WHERE block_hash = ? ORDER BY index_in_block`, hash)
	if err != nil {
		return database.Block{}, err
	}

	block := blocks[0]
	block.Transactions = txs

	return block, nil
}

// DeleteBlocksExcept removes the blocks not in the keep set along with their
// transactions and merkle data.
func (s *SQLite) DeleteBlocksExcept(ctx context.Context, keep []string) error {
	in := `1 = 1`
	args := make([]any, len(keep))
	if len(keep) > 0 {
		in = `%s NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + `)`
		for i, hash := range keep {
			args[i] = hash
		}
	}

	stmts := []struct {
		table  string
		column string
	}{
		{"transactions", "block_hash"},
		{"merkle_nodes", "block_hash"},
		{"merkle_proof_paths", "block_hash"},
		{"blocks", "hash"},
	}

	return s.withinTran(ctx, func(tx executor) error {
		for _, stmt := range stmts {
			where := in
			if len(keep) > 0 {
				where = fmt.Sprintf(in, stmt.column)
			}

			q := fmt.Sprintf(`DELETE FROM %s WHERE %s`, stmt.table, where)
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================

// QueryTx returns the mined transaction for the hash.
func (s *SQLite) QueryTx(ctx context.Context, hash string) (database.Tx, error) {
	txs, err := s.queryTxs(ctx, `WHERE hash = ?`, hash)
	if err != nil {
		return database.Tx{}, err
	}

	if len(txs) == 0 {
		return database.Tx{}, database.ErrNotFound
	}

	return txs[0], nil
}

// QueryTxsByAddress returns the transactions sent or received by the
// address, newest first.
func (s *SQLite) QueryTxsByAddress(ctx context.Context, address string) ([]database.Tx, error) {
	return s.queryTxs(ctx, `WHERE from_address = ? OR to_address = ? ORDER BY timestamp DESC, hash`, address, address)
}

// QueryLatestTxByAddress returns the newest transaction sent by the address.
func (s *SQLite) QueryLatestTxByAddress(ctx context.Context, address string) (database.Tx, error) {
	txs, err := s.queryTxs(ctx, `WHERE from_address = ? ORDER BY timestamp DESC LIMIT 1`, address)
	if err != nil {
		return database.Tx{}, err
	}

	if len(txs) == 0 {
		return database.Tx{}, database.ErrNotFound
	}

	return txs[0], nil
}

// QueryMerkleProof returns the stored proof path for the transaction.
func (s *SQLite) QueryMerkleProof(ctx context.Context, txHash string) (merkle.Proof, error) {
	var data string
	err := s.ex.QueryRowContext(ctx, `SELECT proof_path FROM merkle_proof_paths WHERE transaction_hash = ? LIMIT 1`, txHash).Scan(&data)
	if err != nil {
		return nil, toStorageErr(err)
	}

	var proof merkle.Proof
	if err := json.Unmarshal([]byte(data), &proof); err != nil {
		return nil, fmt.Errorf("decoding proof: %w", err)
	}

	return proof, nil
}

// =============================================================================

// InsertPendingTx stores a pending transaction once.
func (s *SQLite) InsertPendingTx(ctx context.Context, tx database.Tx) error {
	const q = `
	INSERT INTO pending_transactions
		(hash, from_address, to_address, amount, timestamp, signature, origin_transaction_hash, public_key)
	VALUES
		(?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (hash) DO NOTHING`

	_, err := s.ex.ExecContext(ctx, q,
		tx.Hash,
		nullString(tx.FromAddress),
		tx.ToAddress,
		tx.AmountString(),
		tx.Timestamp,
		nullString(tx.Signature),
		nullString(tx.OriginTxHash),
		tx.PublicKey,
	)
	if err != nil {
		return toStorageErr(err)
	}

	return nil
}

// QueryPendingTxs returns the pending transactions in arrival order.
func (s *SQLite) QueryPendingTxs(ctx context.Context) ([]database.Tx, error) {
	const q = `
	SELECT
		hash, from_address, to_address, amount, origin_transaction_hash, timestamp, signature, NULL, public_key, NULL
	FROM
		pending_transactions
	ORDER BY
		seq`

	rows, err := s.ex.QueryContext(ctx, q)
	if err != nil {
		return nil, toStorageErr(err)
	}
	defer rows.Close()

	return scanTxs(rows)
}

// DeletePendingTxs removes the pending transactions with these hashes.
func (s *SQLite) DeletePendingTxs(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}

	args := make([]any, len(hashes))
	for i, hash := range hashes {
		args[i] = hash
	}

	q := `DELETE FROM pending_transactions WHERE hash IN (` + strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",") + `)`
	if _, err := s.ex.ExecContext(ctx, q, args...); err != nil {
		return toStorageErr(err)
	}

	return nil
}

// ClearPendingTxs removes every pending transaction.
func (s *SQLite) ClearPendingTxs(ctx context.Context) error {
	if _, err := s.ex.ExecContext(ctx, `DELETE FROM pending_transactions`); err != nil {
		return toStorageErr(err)
	}

	return nil
}

// =============================================================================

func (s *SQLite) queryBlocks(ctx context.Context, where string, args ...any) ([]database.Block, error) {
	q := `
	SELECT
		hash, previous_hash, timestamp, nonce, difficulty, merkle_root, block_index, origin_transaction_hash
	FROM
		blocks ` + where + `
	ORDER BY
		block_index, rowid`

	rows, err := s.ex.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, toStorageErr(err)
	}
	defer rows.Close()

	var blocks []database.Block
	for rows.Next() {
		var b database.Block
		var prev, origin sql.NullString
		var nonce, index int64

		if err := rows.Scan(&b.Hash, &prev, &b.Timestamp, &nonce, &b.Difficulty, &b.MerkleRoot, &index, &origin); err != nil {
			return nil, err
		}

		b.PrevHash = prev.String
		b.OriginTxHash = origin.String
		b.Nonce = uint64(nonce)
		b.Index = uint64(index)

		blocks = append(blocks, b)
	}

	return blocks, rows.Err()
}

func (s *SQLite) queryTxs(ctx context.Context, where string, args ...any) ([]database.Tx, error) {
	q := `SELECT ` + txColumns + ` FROM transactions ` + where

	rows, err := s.ex.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, toStorageErr(err)
	}
	defer rows.Close()

	return scanTxs(rows)
}

func (s *SQLite) withinTran(ctx context.Context, fn func(ex executor) error) error {
	if s.tx != nil {
		if err := fn(s.tx); err != nil {
			return toStorageErr(err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return toStorageErr(err)
	}

	return tx.Commit()
}

// =============================================================================

func scanTxs(rows *sql.Rows) ([]database.Tx, error) {
	var txs []database.Tx
	for rows.Next() {
		var tx database.Tx
		var from, origin, sig, blockHash, pub sql.NullString
		var amount string
		var index sql.NullInt64

		if err := rows.Scan(&tx.Hash, &from, &tx.ToAddress, &amount, &origin, &tx.Timestamp, &sig, &blockHash, &pub, &index); err != nil {
			return nil, err
		}

		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
		}

		tx.Amount = d
		tx.FromAddress = from.String
		tx.OriginTxHash = origin.String
		tx.Signature = sig.String
		tx.BlockHash = blockHash.String
		tx.PublicKey = pub.String

		if index.Valid {
			i := int(index.Int64)
			tx.IndexInBlock = &i
		}

		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// toStorageErr maps driver errors onto the database package errors.
func toStorageErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", database.ErrDuplicate, sqliteErr)
	}

	return err
}

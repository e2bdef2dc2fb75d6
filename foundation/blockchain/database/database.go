// Package database handles all the lower level support for maintaining the
// blockchain in storage: transactions, blocks, their wire forms, and the
// write path that keeps balances and merkle proofs next to every block.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrBalanceMismatch is returned when a stored balance differs from the one
// the chain produces.
var ErrBalanceMismatch = errors.New("balance mismatch")

// Database manages the persisted blockchain through a storage engine.
type Database struct {
	Storage
	evHandler func(v string, args ...any)
}

// New constructs a database over the specified storage engine.
func New(storage Storage, evHandler func(v string, args ...any)) *Database {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Database{
		Storage:   storage,
		evHandler: ev,
	}
}

// WriteBlock persists the block with its transactions, the balance changes
// they cause, the merkle tree nodes and a proof for every transaction. The
// writes share one storage transaction so a failure leaves nothing behind
// and the block can be written again. A block that is already stored is
// skipped as a whole.
func (db *Database) WriteBlock(ctx context.Context, block Block) error {
	err := db.WithinTran(ctx, func(st Storage) error {
		return db.writeBlock(ctx, st, block)
	})

	if errors.Is(err, errStored) {
		db.evHandler("database: WriteBlock: blk[%d]: hash[%s]: already stored", block.Index, block.Hash)
		return nil
	}

	return err
}

// ReadAllBlocks loads the stored chain and checks the hash of every block
// past genesis and the integrity and signature of every transaction.
func (db *Database) ReadAllBlocks(ctx context.Context) ([]Block, error) {
	blocks, err := db.QueryBlocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}

	for _, block := range blocks {
		for _, tx := range block.Transactions {
			if err := tx.Validate(); err != nil {
				return nil, fmt.Errorf("blk[%d]: tx[%s]: %w", block.Index, tx.Hash, err)
			}
		}

		if block.Index == 0 {
			continue
		}

		if err := block.VerifyHash(); err != nil {
			db.evHandler("database: ReadAllBlocks: %s", err)
			return nil, err
		}
	}

	return blocks, nil
}

// SaveChainTxs writes every transaction of the chain again so each one
// points at the block that holds it in this chain.
func (db *Database) SaveChainTxs(ctx context.Context, blocks []Block) error {
	for _, block := range blocks {
		for i, tx := range block.Transactions {
			idx := i
			tx.BlockHash = block.Hash
			tx.IndexInBlock = &idx

			if err := db.SaveTx(ctx, tx); err != nil {
				return fmt.Errorf("save tx[%s]: %w", tx.Hash, err)
			}
		}
	}

	return nil
}

// RebuildBalances clears the materialized balances and replays every
// transaction of the specified chain.
func (db *Database) RebuildBalances(ctx context.Context, blocks []Block) error {
	return db.WithinTran(ctx, func(st Storage) error {
		if err := st.ResetBalances(ctx); err != nil {
			return fmt.Errorf("reset balances: %w", err)
		}

		for _, block := range blocks {
			if err := applyBalances(ctx, st, block); err != nil {
				return err
			}
		}

		return nil
	})
}

// ValidateBalances replays the transactions of the chain and compares the
// result with the stored balance of every address the chain touches. Each
// difference is reported to the event handler and the first one is returned
// wrapped in ErrBalanceMismatch.
func (db *Database) ValidateBalances(ctx context.Context, blocks []Block) error {
	exp := make(map[string]decimal.Decimal)
	var order []string

	for _, block := range blocks {
		balanceDeltas(block, func(address string, delta decimal.Decimal) error {
			if _, exists := exp[address]; !exists {
				order = append(order, address)
			}
			exp[address] = exp[address].Add(delta)
			return nil
		})
	}

	var first error
	for _, address := range order {
		got, err := db.Balance(ctx, address)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("balance %s: %w", address, err)
			}
			got = decimal.Zero
		}

		if got.Equal(exp[address]) {
			continue
		}

		db.evHandler("database: ValidateBalances: account[%s]: stored[%s] exp[%s]", address, got.StringFixed(AmountPlaces), exp[address].StringFixed(AmountPlaces))

		if first == nil {
			first = fmt.Errorf("%w: account[%s]: stored[%s] exp[%s]", ErrBalanceMismatch, address, got.StringFixed(AmountPlaces), exp[address].StringFixed(AmountPlaces))
		}
	}

	return first
}

// BalanceString returns the balance of the address with eight fractional
// digits. An unknown address has a zero balance.
func (db *Database) BalanceString(ctx context.Context, address string) (string, error) {
	balance, err := db.Balance(ctx, address)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
		balance = decimal.Zero
	}

	return balance.StringFixed(AmountPlaces), nil
}

// =============================================================================

// errStored marks a block that is already in storage. It rolls back the
// write transaction and never leaves the package.
var errStored = errors.New("block already stored")

func (db *Database) writeBlock(ctx context.Context, st Storage, block Block) error {
	if err := st.InsertBlock(ctx, block); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return errStored
		}
		return fmt.Errorf("insert block: %w", err)
	}

	db.evHandler("database: WriteBlock: blk[%d]: hash[%s]: write transactions", block.Index, block.Hash)

	for i, tx := range block.Transactions {
		idx := i
		tx.BlockHash = block.Hash
		tx.IndexInBlock = &idx

		if err := st.SaveTx(ctx, tx); err != nil {
			return fmt.Errorf("save tx[%s]: %w", tx.Hash, err)
		}
	}

	if err := applyBalances(ctx, st, block); err != nil {
		return err
	}

	if len(block.Transactions) == 0 {
		return nil
	}

	db.evHandler("database: WriteBlock: blk[%d]: write merkle tree", block.Index)

	tree, err := block.MerkleTree()
	if err != nil {
		return fmt.Errorf("merkle tree: %w", err)
	}

	if err := st.InsertMerkleNodes(ctx, block.Hash, tree.Nodes()); err != nil {
		return fmt.Errorf("insert merkle nodes: %w", err)
	}

	for _, tx := range block.Transactions {
		proof, err := tree.Proof(tx.Hash)
		if err != nil {
			return fmt.Errorf("merkle proof tx[%s]: %w", tx.Hash, err)
		}

		if err := st.InsertMerkleProof(ctx, block.Hash, tx.Hash, proof); err != nil {
			return fmt.Errorf("insert merkle proof tx[%s]: %w", tx.Hash, err)
		}
	}

	return nil
}

// applyBalances writes the balance changes of the block.
func applyBalances(ctx context.Context, st Storage, block Block) error {
	return balanceDeltas(block, func(address string, delta decimal.Decimal) error {
		if err := st.UpdateBalance(ctx, address, delta); err != nil {
			return fmt.Errorf("update %s: %w", address, err)
		}
		return nil
	})
}

// balanceDeltas debits the sender and credits the recipient of every
// transaction in the block. Reward transactions have no sender.
func balanceDeltas(block Block, apply func(address string, delta decimal.Decimal) error) error {
	for _, tx := range block.Transactions {
		if !tx.IsReward() {
			if err := apply(tx.FromAddress, tx.Amount.Neg()); err != nil {
				return err
			}
		}

		if tx.ToAddress != "" {
			if err := apply(tx.ToAddress, tx.Amount); err != nil {
				return err
			}
		}
	}

	return nil
}

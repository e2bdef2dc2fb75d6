package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/database/storage/sqlite"
	"github.com/ardanlabs/powledger/foundation/blockchain/merkle"
	"github.com/shopspring/decimal"
)

const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Storage(t *testing.T) {
	ctx := context.Background()

	t.Log("Given the need to persist the blockchain in SQLite.")
	{
		strg, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Skipf("\t%s\tSQLite is not available: %s", failed, err)
		}
		defer strg.Close()

		reward := database.NewRewardTx("miner", decimal.NewFromInt(50))
		block, err := database.NewBlock(0, "", 1700000000000, []database.Tx{reward}, 0)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a block: %s", failed, err)
		}

		if err := strg.InsertBlock(ctx, block); err != nil {
			t.Fatalf("\t%s\tShould be able to insert a block: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to insert a block.", success)

		if err := strg.InsertBlock(ctx, block); !errors.Is(err, database.ErrDuplicate) {
			t.Fatalf("\t%s\tShould get a duplicate error: %v", failed, err)
		}
		t.Logf("\t%s\tShould get a duplicate error for the same block.", success)

		idx := 0
		reward.BlockHash = block.Hash
		reward.IndexInBlock = &idx
		if err := strg.SaveTx(ctx, reward); err != nil {
			t.Fatalf("\t%s\tShould be able to save a transaction: %s", failed, err)
		}

		blocks, err := strg.QueryBlocks(ctx)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to query blocks: %s", failed, err)
		}
		if len(blocks) != 1 || len(blocks[0].Transactions) != 1 {
			t.Fatalf("\t%s\tShould get back one block with one transaction.", failed)
		}
		if blocks[0].CalculateHash() != block.Hash {
			t.Fatalf("\t%s\tShould recompute the same block hash from storage.", failed)
		}
		t.Logf("\t%s\tShould read back the block with the same hash.", success)

		for _, delta := range []string{"50", "-20.5"} {
			if err := strg.UpdateBalance(ctx, "miner", decimal.RequireFromString(delta)); err != nil {
				t.Fatalf("\t%s\tShould be able to update a balance: %s", failed, err)
			}
		}
		balance, err := strg.Balance(ctx, "miner")
		if err != nil || balance.StringFixed(8) != "29.50000000" {
			t.Fatalf("\t%s\tShould sum the balance deltas: %s %v", failed, balance, err)
		}
		t.Logf("\t%s\tShould sum the balance deltas.", success)

		if _, err := strg.Balance(ctx, "nobody"); !errors.Is(err, database.ErrNotFound) {
			t.Fatalf("\t%s\tShould get not found for an unknown address: %v", failed, err)
		}

		proof := merkle.Proof{{SiblingHash: "abc", Direction: merkle.DirectionLeft}}
		if err := strg.InsertMerkleProof(ctx, block.Hash, reward.Hash, proof); err != nil {
			t.Fatalf("\t%s\tShould be able to store a proof: %s", failed, err)
		}
		got, err := strg.QueryMerkleProof(ctx, reward.Hash)
		if err != nil || len(got) != 1 || got[0] != proof[0] {
			t.Fatalf("\t%s\tShould read back the proof: %v %v", failed, got, err)
		}
		t.Logf("\t%s\tShould read back the merkle proof.", success)

		pending := database.NewTx("a", "b", decimal.NewFromInt(1), "")
		for range 2 {
			if err := strg.InsertPendingTx(ctx, pending); err != nil {
				t.Fatalf("\t%s\tShould be able to insert a pending transaction: %s", failed, err)
			}
		}
		txs, err := strg.QueryPendingTxs(ctx)
		if err != nil || len(txs) != 1 {
			t.Fatalf("\t%s\tShould keep a single pending copy: %d %v", failed, len(txs), err)
		}
		if err := strg.DeletePendingTxs(ctx, []string{pending.Hash}); err != nil {
			t.Fatalf("\t%s\tShould be able to delete pending transactions: %s", failed, err)
		}
		t.Logf("\t%s\tShould keep a single pending copy.", success)

		if err := strg.DeleteBlocksExcept(ctx, nil); err != nil {
			t.Fatalf("\t%s\tShould be able to delete blocks: %s", failed, err)
		}
		if _, err := strg.QueryTx(ctx, reward.Hash); !errors.Is(err, database.ErrNotFound) {
			t.Fatalf("\t%s\tShould remove the transactions of deleted blocks: %v", failed, err)
		}
		t.Logf("\t%s\tShould remove deleted blocks with their transactions.", success)
	}
}

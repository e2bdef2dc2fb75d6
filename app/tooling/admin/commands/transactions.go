package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// Transactions prints the mined transactions sent or received by the
// address, newest first.
func Transactions(ctx context.Context, w io.Writer, address string, db *database.Database) error {
	if address == "" {
		return errors.New("an address is required")
	}

	txs, err := db.QueryTxsByAddress(ctx, address)
	if err != nil {
		return err
	}

	for _, tx := range txs {
		printTx(w, tx)
	}

	return nil
}

// Pending prints the transactions waiting to be mined.
func Pending(ctx context.Context, w io.Writer, db *database.Database) error {
	txs, err := db.QueryPendingTxs(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Pending: %d\n\n", len(txs))

	for _, tx := range txs {
		printTx(w, tx)
	}

	return nil
}

func printTx(w io.Writer, tx database.Tx) {
	from := tx.FromAddress
	if from == "" {
		from = "reward"
	}

	fmt.Fprintf(w, "Hash: %s  From: %s  To: %s  Amount: %s  Block: %s\n",
		tx.Hash, from, tx.ToAddress, tx.AmountString(), tx.BlockHash)
}

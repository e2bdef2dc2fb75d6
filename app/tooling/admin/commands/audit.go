package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// Audit replays the stored chain and compares the result with the stored
// balances. With repair set, balances that differ are rebuilt from the chain.
func Audit(ctx context.Context, w io.Writer, repair bool, db *database.Database) error {
	blocks, err := db.ReadAllBlocks(ctx)
	if err != nil {
		return err
	}

	err = db.ValidateBalances(ctx, blocks)
	switch {
	case err == nil:
		fmt.Fprintf(w, "Balances match the chain: blocks[%d]\n", len(blocks))
		return nil

	case !errors.Is(err, database.ErrBalanceMismatch):
		return err
	}

	fmt.Fprintf(w, "MISMATCH: %s\n", err)

	if !repair {
		return err
	}

	if err := db.RebuildBalances(ctx, blocks); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	fmt.Fprintf(w, "Rebuilt balances from the chain: blocks[%d]\n", len(blocks))

	return nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
)

// ErrInvalidChain is returned when the stored chain fails validation.
var ErrInvalidChain = errors.New("stored chain is not valid")

// Chain prints a line per stored block and then validates the chain with
// the same rules used for chains received from peers.
func Chain(ctx context.Context, w io.Writer, db *database.Database) error {
	blocks, err := db.ReadAllBlocks(ctx)
	if err != nil {
		return err
	}

	for _, block := range blocks {
		fmt.Fprintf(w, "Block: %d  Hash: %s  Prev: %s  Difficulty: %d  Txs: %d\n",
			block.Index, block.Hash, block.PrevHash, block.Difficulty, len(block.Transactions))
	}

	var reason string
	ev := func(v string, args ...any) {
		reason = fmt.Sprintf(v, args...)
	}

	if !state.IsValidChain(database.NewChainData(blocks), ev) {
		fmt.Fprintf(w, "\nINVALID: %s\n", reason)
		return ErrInvalidChain
	}

	fmt.Fprintf(w, "\nValid chain: blocks[%d]: cumulative difficulty[%d]\n", len(blocks), database.CumulativeDifficulty(blocks))

	return nil
}

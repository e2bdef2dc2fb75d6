package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// Balances prints the stored balance of each address.
func Balances(ctx context.Context, w io.Writer, addresses []string, db *database.Database) error {
	if len(addresses) == 0 {
		return errors.New("at least one address is required")
	}

	for _, address := range addresses {
		bal, err := db.BalanceString(ctx, address)
		if err != nil {
			return fmt.Errorf("balance[%s]: %w", address, err)
		}

		fmt.Fprintf(w, "Account: %s  Balance: %s\n", address, bal)
	}

	return nil
}

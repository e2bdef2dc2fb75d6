// This program performs administrative tasks against a node's ledger
// database while the node is stopped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/powledger/app/tooling/admin/commands"
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/database/storage/sqlite"
	"github.com/ardanlabs/powledger/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		if !errors.Is(err, commands.ErrHelp) {
			log.Errorw("startup", "ERROR", err)
		}
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	cfg := struct {
		conf.Version
		Args   conf.Args
		DBPath string `conf:"default:zblock/ledger.db"`
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "ledger administration",
		},
	}

	const prefix = "ADMIN"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	ctx := context.Background()

	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.DBPath, err)
	}

	ev := func(v string, args ...any) {
		log.Debugw(fmt.Sprintf(v, args...))
	}

	db := database.New(store, ev)
	defer db.Close()

	return processCommands(ctx, cfg.Args, db)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(ctx context.Context, args conf.Args, db *database.Database) error {
	switch args.Num(0) {
	case "bals":
		if err := commands.Balances(ctx, os.Stdout, args[1:], db); err != nil {
			return fmt.Errorf("getting balances: %w", err)
		}

	case "trans":
		if err := commands.Transactions(ctx, os.Stdout, args.Num(1), db); err != nil {
			return fmt.Errorf("getting transactions: %w", err)
		}

	case "chain":
		if err := commands.Chain(ctx, os.Stdout, db); err != nil {
			return fmt.Errorf("checking chain: %w", err)
		}

	case "audit":
		if err := commands.Audit(ctx, os.Stdout, args.Num(1) == "repair", db); err != nil {
			return fmt.Errorf("auditing balances: %w", err)
		}

	case "pending":
		if err := commands.Pending(ctx, os.Stdout, db); err != nil {
			return fmt.Errorf("getting pending: %w", err)
		}

	default:
		fmt.Println("bals <address>...   show the balance of each address")
		fmt.Println("trans <address>     list the mined transactions of an address")
		fmt.Println("chain               validate the stored chain")
		fmt.Println("audit [repair]      compare the balances with the chain")
		fmt.Println("pending             list the pending transactions")
		return commands.ErrHelp
	}

	return nil
}

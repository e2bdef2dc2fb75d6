package commands_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/powledger/app/tooling/admin/commands"
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/database/storage/memory"
	"github.com/ardanlabs/powledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
	"github.com/shopspring/decimal"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Commands(t *testing.T) {
	t.Log("Given the need to inspect a stored ledger.")
	{
		ctx := context.Background()
		store := memory.New()
		gen := genesis.Default()

		st, err := state.New(ctx, state.Config{
			Genesis:        gen,
			Storage:        store,
			GenesisTimeout: 10 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the state: %s", failed, err)
		}

		if err := st.InitGenesis(ctx); err != nil {
			t.Fatalf("\t%s\tShould be able to create the genesis block: %s", failed, err)
		}

		if _, err := st.MinePendingTransactions(ctx, gen.MinerAddress); err != nil {
			t.Fatalf("\t%s\tShould be able to mine a block: %s", failed, err)
		}

		db := database.New(store, nil)

		var buf bytes.Buffer
		if err := commands.Chain(ctx, &buf, db); err != nil {
			t.Fatalf("\t%s\tShould validate the stored chain: %s\n%s", failed, err, buf.String())
		}
		if !strings.Contains(buf.String(), "Valid chain: blocks[2]") {
			t.Fatalf("\t%s\tShould report two blocks: %s", failed, buf.String())
		}
		t.Logf("\t%s\tShould validate the stored chain.", success)

		buf.Reset()
		if err := commands.Balances(ctx, &buf, []string{gen.GenesisAddress, gen.MinerAddress}, db); err != nil {
			t.Fatalf("\t%s\tShould be able to read balances: %s", failed, err)
		}
		if !strings.Contains(buf.String(), "Balance: 1000000.00000000") || !strings.Contains(buf.String(), "Balance: 100.00000000") {
			t.Fatalf("\t%s\tShould show the minted balances: %s", failed, buf.String())
		}
		t.Logf("\t%s\tShould show the minted balances.", success)

		buf.Reset()
		if err := commands.Transactions(ctx, &buf, gen.MinerAddress, db); err != nil {
			t.Fatalf("\t%s\tShould be able to list transactions: %s", failed, err)
		}
		if !strings.Contains(buf.String(), "From: reward") {
			t.Fatalf("\t%s\tShould list the reward transaction: %s", failed, buf.String())
		}
		t.Logf("\t%s\tShould list the reward transaction.", success)

		if err := commands.Balances(ctx, &buf, nil, db); err == nil {
			t.Fatalf("\t%s\tShould require an address.", failed)
		}
		t.Logf("\t%s\tShould require an address.", success)
	}
}

func Test_Audit(t *testing.T) {
	t.Log("Given the need to audit the stored balances.")
	{
		ctx := context.Background()
		store := memory.New()
		gen := genesis.Default()

		st, err := state.New(ctx, state.Config{
			Genesis:        gen,
			Storage:        store,
			GenesisTimeout: 10 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the state: %s", failed, err)
		}

		if err := st.InitGenesis(ctx); err != nil {
			t.Fatalf("\t%s\tShould be able to create the genesis block: %s", failed, err)
		}

		db := database.New(store, nil)

		var buf bytes.Buffer
		if err := commands.Audit(ctx, &buf, false, db); err != nil {
			t.Fatalf("\t%s\tShould find matching balances: %s\n%s", failed, err, buf.String())
		}
		t.Logf("\t%s\tShould find matching balances.", success)

		if err := store.UpdateBalance(ctx, gen.GenesisAddress, decimal.NewFromInt(-1)); err != nil {
			t.Fatalf("\t%s\tShould be able to change a balance: %s", failed, err)
		}

		buf.Reset()
		if err := commands.Audit(ctx, &buf, false, db); !errors.Is(err, database.ErrBalanceMismatch) {
			t.Fatalf("\t%s\tShould report the drifted balance: %v", failed, err)
		}
		if !strings.Contains(buf.String(), gen.GenesisAddress) {
			t.Fatalf("\t%s\tShould name the drifted account: %s", failed, buf.String())
		}
		t.Logf("\t%s\tShould report the drifted balance.", success)

		buf.Reset()
		if err := commands.Audit(ctx, &buf, true, db); err != nil {
			t.Fatalf("\t%s\tShould repair the drifted balance: %s", failed, err)
		}
		if bal, _ := db.BalanceString(ctx, gen.GenesisAddress); bal != "1000000.00000000" {
			t.Fatalf("\t%s\tShould restore the genesis balance: got %s", failed, bal)
		}
		t.Logf("\t%s\tShould repair the drifted balance.", success)
	}
}

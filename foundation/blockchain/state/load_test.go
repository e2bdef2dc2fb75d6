package state_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/database/storage/memory"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
	"github.com/shopspring/decimal"
)

func Test_LoadChain(t *testing.T) {
	t.Log("Given the need to check the stored chain when the node starts.")
	{
		ctx := context.Background()

		reward := database.NewRewardTx(genesisAddress, decimal.NewFromInt(1_000_000))
		gen, err := database.NewBlock(0, "", time.Now().UnixMilli(), []database.Tx{reward}, 0)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to build the genesis block: %s", failed, err)
		}

		tt := []struct {
			name  string
			prev  string
			valid bool
		}{
			{"linked", gen.Hash, true},
			{"unlinked", "abc", false},
		}

		for _, test := range tt {
			f := func(t *testing.T) {
				store := memory.New()
				db := database.New(store, nil)

				next, err := database.NewBlock(1, test.prev, time.Now().UnixMilli(), []database.Tx{rewardTx()}, 0)
				if err != nil {
					t.Fatalf("\t%s\tShould be able to build the block: %s", failed, err)
				}

				for _, block := range []database.Block{gen, next} {
					if err := db.WriteBlock(ctx, block); err != nil {
						t.Fatalf("\t%s\tShould be able to store the block: %s", failed, err)
					}
				}

				_, err = state.New(ctx, state.Config{Genesis: newGenesis(0), Storage: store})
				if test.valid && err != nil {
					t.Fatalf("\t%s\tShould load a %s chain: %s", failed, test.name, err)
				}
				if !test.valid && !errors.Is(err, state.ErrInvalidChain) {
					t.Fatalf("\t%s\tShould refuse to load a %s chain: %v", failed, test.name, err)
				}
				t.Logf("\t%s\tShould check a %s chain on load.", success, test.name)
			}

			t.Run(test.name, f)
		}
	}
}

func Test_LoadRepairsBalances(t *testing.T) {
	t.Log("Given the need to repair balances that drifted from the chain.")
	{
		ctx := context.Background()
		store := memory.New()

		st, _ := newStateOn(t, store, 1, nil)
		mine(t, st, minerAddress, state.MineSuccess)

		if err := store.UpdateBalance(ctx, minerAddress, decimal.NewFromInt(5)); err != nil {
			t.Fatalf("\t%s\tShould be able to change the stored balance: %s", failed, err)
		}

		err := database.New(store, nil).ValidateBalances(ctx, st.RetrieveChain())
		if !errors.Is(err, database.ErrBalanceMismatch) {
			t.Fatalf("\t%s\tShould detect the drifted balance: %v", failed, err)
		}
		t.Logf("\t%s\tShould detect the drifted balance.", success)

		reloaded, err := state.New(ctx, state.Config{Genesis: newGenesis(1), Storage: store})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to reload the state: %s", failed, err)
		}

		balance, _ := reloaded.BalanceOf(ctx, minerAddress)
		if balance != "100.00000000" {
			t.Fatalf("\t%s\tShould rebuild the balance from the chain: got %s", failed, balance)
		}

		if err := database.New(store, nil).ValidateBalances(ctx, reloaded.RetrieveChain()); err != nil {
			t.Fatalf("\t%s\tShould have balances that match the chain: %s", failed, err)
		}
		t.Logf("\t%s\tShould rebuild the balances on load.", success)
	}
}

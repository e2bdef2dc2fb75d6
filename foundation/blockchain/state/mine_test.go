package state_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/database/storage/memory"
	"github.com/ardanlabs/powledger/foundation/blockchain/database/storage/sqlite"
	"github.com/ardanlabs/powledger/foundation/blockchain/merkle"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
	"github.com/shopspring/decimal"
)

type mineOutcome struct {
	result state.MineResult
	err    error
}

// powStarted returns an event handler that signals the channel once the
// proof of work begins.
func powStarted() (state.EventHandler, chan struct{}) {
	started := make(chan struct{}, 1)

	ev := func(v string, args ...any) {
		if strings.Contains(v, "perform POW") {
			select {
			case started <- struct{}{}:
			default:
			}
		}
	}

	return ev, started
}

func wait[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(30 * time.Second):
		t.Fatalf("\t%s\tShould %s in time.", failed, what)
	}

	var zero T
	return zero
}

// =============================================================================

func Test_MineIgnoresCallerCancel(t *testing.T) {
	t.Log("Given the need to finish a block once mining started.")
	{
		store, err := sqlite.New(context.Background(), sqlite.MemoryPath)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the database: %s", failed, err)
		}

		ev, started := powStarted()
		st, w := newStateOn(t, store, 4, ev)
		defer st.Shutdown()

		tx := signedTx(t, 10)
		if err := st.AddPendingTransaction(context.Background(), tx); err != nil {
			t.Fatalf("\t%s\tShould be able to add the transaction: %s", failed, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan mineOutcome, 1)

		go func() {
			result, err := st.MinePendingTransactions(ctx, minerAddress)
			done <- mineOutcome{result: result, err: err}
		}()

		wait(t, started, "start mining")
		cancel()

		out := wait(t, done, "finish mining")
		if out.err != nil || out.result != state.MineSuccess {
			t.Fatalf("\t%s\tShould mine the block after the caller went away: %s %v", failed, out.result, out.err)
		}
		t.Logf("\t%s\tShould mine the block after the caller went away.", success)

		if n := len(st.RetrieveChain()); n != 2 || len(st.RetrievePending()) != 0 || len(w.blocks) != 1 {
			t.Fatalf("\t%s\tShould commit and share the mined block: chain[%d]", failed, n)
		}

		balance, _ := st.BalanceOf(context.Background(), toAddress)
		if balance != "10.00000000" {
			t.Fatalf("\t%s\tShould persist the balances: got %s", failed, balance)
		}
		t.Logf("\t%s\tShould commit and share the mined block.", success)
	}
}

func Test_MineLockHeld(t *testing.T) {
	t.Log("Given the need to run one mining attempt at a time.")
	{
		ev, started := powStarted()
		st, _ := newStateOn(t, memory.New(), 1, ev)

		// A difficulty that is never met keeps the first attempt busy.
		if err := st.UpdateSettings(state.Settings{Difficulty: 64, MiningReward: decimal.NewFromInt(100)}); err != nil {
			t.Fatalf("\t%s\tShould be able to update the settings: %s", failed, err)
		}

		done := make(chan mineOutcome, 1)
		go func() {
			result, err := st.MinePendingTransactions(context.Background(), minerAddress)
			done <- mineOutcome{result: result, err: err}
		}()

		wait(t, started, "start mining")

		result, err := st.MinePendingTransactions(context.Background(), minerAddress)
		if err != nil || result != state.MineLockFailed {
			t.Fatalf("\t%s\tShould get lock failed while a block is mined: %s %v", failed, result, err)
		}
		t.Logf("\t%s\tShould get lock failed while a block is mined.", success)

		st.Shutdown()

		out := wait(t, done, "stop mining on shutdown")
		if !errors.Is(out.err, context.Canceled) {
			t.Fatalf("\t%s\tShould stop mining on shutdown: %s %v", failed, out.result, out.err)
		}
		if n := len(st.RetrieveChain()); n != 1 {
			t.Fatalf("\t%s\tShould not add a block after shutdown: chain[%d]", failed, n)
		}
		t.Logf("\t%s\tShould stop mining on shutdown.", success)
	}
}

func Test_MineChainConsistency(t *testing.T) {
	t.Log("Given the need to refuse mining on a head with a bad origin hash.")
	{
		ctx := context.Background()
		store := memory.New()

		reward := database.NewRewardTx(genesisAddress, decimal.NewFromInt(1_000_000))
		gen, err := database.NewBlock(0, "", time.Now().UnixMilli(), []database.Tx{reward}, 0)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to build the genesis block: %s", failed, err)
		}
		gen.OriginTxHash = "bogus"
		gen.Hash = gen.CalculateHash()

		if err := database.New(store, nil).WriteBlock(ctx, gen); err != nil {
			t.Fatalf("\t%s\tShould be able to store the genesis block: %s", failed, err)
		}

		st, _ := newStateOn(t, store, 0, nil)

		result, err := st.MinePendingTransactions(ctx, minerAddress)
		if !errors.Is(err, state.ErrChainConsistency) {
			t.Fatalf("\t%s\tShould fail with a chain consistency error: %s %v", failed, result, err)
		}
		if n := len(st.RetrieveChain()); n != 1 {
			t.Fatalf("\t%s\tShould not add a block: chain[%d]", failed, n)
		}
		t.Logf("\t%s\tShould fail with a chain consistency error.", success)
	}
}

func Test_MineTreeTooDeep(t *testing.T) {
	t.Log("Given the need to refuse a block whose merkle tree is too deep.")
	{
		ctx := context.Background()
		st, _ := newState(t, 1)

		for _, amount := range []int64{10, 11} {
			if err := st.AddPendingTransaction(ctx, signedTx(t, amount)); err != nil {
				t.Fatalf("\t%s\tShould be able to add the transaction: %s", failed, err)
			}
		}

		defer func(depth int) { merkle.MaxDepth = depth }(merkle.MaxDepth)
		merkle.MaxDepth = 1

		result, err := st.MinePendingTransactions(ctx, minerAddress)
		if !errors.Is(err, merkle.ErrTreeTooDeep) {
			t.Fatalf("\t%s\tShould fail with a tree too deep error: %s %v", failed, result, err)
		}
		if len(st.RetrieveChain()) != 1 || len(st.RetrievePending()) != 2 {
			t.Fatalf("\t%s\tShould leave the chain and the pending pool alone.", failed)
		}
		t.Logf("\t%s\tShould fail with a tree too deep error.", success)
	}
}

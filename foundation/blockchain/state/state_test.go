package state_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/database/storage/memory"
	"github.com/ardanlabs/powledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey       = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	genesisAddress = "6c7f05cca415fd2073de8ea8853834"
	minerAddress   = "59a8277a36bffda17f9a997e5f7c23"
	toAddress      = "bdae7d2bc2a5ac4e4d3a0cd1a0a4e26b0d8c2b11"
)

// worker records what the state asks to be shared with peers.
type worker struct {
	mu     sync.Mutex
	peers  int
	txs    []database.Tx
	blocks []database.Block
	chains int
}

func (w *worker) Shutdown()          {}
func (w *worker) SignalStartMining() {}

func (w *worker) SignalShareTx(tx database.Tx, exclude string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.txs = append(w.txs, tx)
}

func (w *worker) SignalShareBlock(block database.Block, exclude string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks = append(w.blocks, block)
}

func (w *worker) SignalShareChain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chains++
}

func (w *worker) RequestGenesis() int {
	return w.peers
}

// =============================================================================

func newGenesis(difficulty int) genesis.Genesis {
	return genesis.Genesis{
		Difficulty:     difficulty,
		MiningReward:   decimal.NewFromInt(100),
		MinerAddress:   minerAddress,
		GenesisAddress: genesisAddress,
		GenesisReward:  decimal.NewFromInt(1_000_000),
	}
}

func newState(t *testing.T, difficulty int) (*state.State, *worker) {
	t.Helper()

	return newStateOn(t, memory.New(), difficulty, func(v string, args ...any) { t.Logf(v, args...) })
}

func newStateOn(t *testing.T, store database.Storage, difficulty int, ev state.EventHandler) (*state.State, *worker) {
	t.Helper()

	st, err := state.New(context.Background(), state.Config{
		Genesis:        newGenesis(difficulty),
		Host:           "localhost:9080",
		Storage:        store,
		GenesisTimeout: 50 * time.Millisecond,
		EvHandler:      ev,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %s", failed, err)
	}

	w := worker{}
	st.Worker = &w

	if err := st.InitGenesis(context.Background()); err != nil {
		t.Fatalf("\t%s\tShould be able to create the genesis block: %s", failed, err)
	}

	return st, &w
}

func signedTx(t *testing.T, amount int64) database.Tx {
	t.Helper()

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the private key: %s", failed, err)
	}

	tx := database.NewTx(signature.PublicKeyToAddress(pk.PublicKey), toAddress, decimal.NewFromInt(amount), "")
	if err := tx.Sign(pk); err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %s", failed, err)
	}

	return tx
}

func mine(t *testing.T, st *state.State, reward string, exp state.MineResult) {
	t.Helper()

	result, err := st.MinePendingTransactions(context.Background(), reward)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to mine: %s", failed, err)
	}
	if result != exp {
		t.Fatalf("\t%s\tShould get mining result %s: got %s", failed, exp, result)
	}
}

// =============================================================================

func Test_Genesis(t *testing.T) {
	t.Log("Given the need to start a chain from a genesis block.")
	{
		ctx := context.Background()
		st, _ := newState(t, 1)

		chain := st.RetrieveChain()
		if len(chain) != 1 || !chain[0].IsGenesis() {
			t.Fatalf("\t%s\tShould have a single genesis block.", failed)
		}
		t.Logf("\t%s\tShould have a single genesis block.", success)

		balance, err := st.BalanceOf(ctx, genesisAddress)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read the balance: %s", failed, err)
		}
		if balance != "1000000.00000000" {
			t.Fatalf("\t%s\tShould mint the genesis reward: got %s", failed, balance)
		}
		t.Logf("\t%s\tShould mint the genesis reward to the genesis address.", success)

		otherGenesis, err := database.NewBlock(0, "", 1, []database.Tx{database.NewRewardTx(minerAddress, decimal.NewFromInt(5))}, 0)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a block: %s", failed, err)
		}
		if err := st.ProcessGenesisBlock(ctx, otherGenesis); !errors.Is(err, state.ErrGenesisMismatch) {
			t.Fatalf("\t%s\tShould reject a different genesis block: %v", failed, err)
		}
		if err := st.ProcessGenesisBlock(ctx, chain[0]); err != nil {
			t.Fatalf("\t%s\tShould accept the same genesis block: %s", failed, err)
		}
		t.Logf("\t%s\tShould check a received genesis block against the local one.", success)
	}
}

func Test_GenesisFromPeer(t *testing.T) {
	t.Log("Given the need to take the genesis block from a peer.")
	{
		ctx := context.Background()
		source, _ := newState(t, 1)
		gen, _ := source.RetrieveGenesisBlock()

		st, err := state.New(ctx, state.Config{
			Genesis:        genesis.Default(),
			Storage:        memory.New(),
			GenesisTimeout: time.Second,
		})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the state: %s", failed, err)
		}
		st.Worker = &worker{peers: 1}

		go func() {
			time.Sleep(10 * time.Millisecond)
			st.ProcessGenesisBlock(ctx, gen)
		}()

		if err := st.InitGenesis(ctx); err != nil {
			t.Fatalf("\t%s\tShould be able to initialize the genesis: %s", failed, err)
		}

		got, _ := st.RetrieveGenesisBlock()
		if got.Hash != gen.Hash {
			t.Fatalf("\t%s\tShould adopt the peer genesis block.", failed)
		}
		t.Logf("\t%s\tShould adopt the peer genesis block.", success)
	}
}

func Test_GenesisTimeout(t *testing.T) {
	t.Log("Given the need to fall back when no peer sends a genesis block.")
	{
		st, err := state.New(context.Background(), state.Config{
			Genesis:        genesis.Default(),
			Storage:        memory.New(),
			GenesisTimeout: 20 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the state: %s", failed, err)
		}
		st.Worker = &worker{peers: 2}

		if err := st.InitGenesis(context.Background()); err != nil {
			t.Fatalf("\t%s\tShould create a local genesis block: %s", failed, err)
		}

		if _, exists := st.RetrieveGenesisBlock(); !exists {
			t.Fatalf("\t%s\tShould have a genesis block after the timeout.", failed)
		}
		t.Logf("\t%s\tShould create a local genesis block after the timeout.", success)
	}
}

func Test_PendingDuplicate(t *testing.T) {
	t.Log("Given the need to keep a single copy of a pending transaction.")
	{
		ctx := context.Background()
		st, w := newState(t, 1)

		tx := signedTx(t, 10)
		for range 2 {
			if err := st.AddPendingTransaction(ctx, tx); err != nil {
				t.Fatalf("\t%s\tShould be able to add the transaction: %s", failed, err)
			}
		}

		if n := len(st.RetrievePending()); n != 1 {
			t.Fatalf("\t%s\tShould have one pending transaction: got %d", failed, n)
		}
		if len(w.txs) != 1 {
			t.Fatalf("\t%s\tShould share the transaction once: got %d", failed, len(w.txs))
		}
		t.Logf("\t%s\tShould have one pending transaction.", success)

		bad := tx
		bad.Amount = decimal.NewFromInt(11)
		if err := st.AddPendingTransaction(ctx, bad); !errors.Is(err, state.ErrInvalidTransaction) {
			t.Fatalf("\t%s\tShould reject a tampered transaction: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a tampered transaction.", success)
	}
}

func Test_Mining(t *testing.T) {
	t.Log("Given the need to mine pending transactions.")
	{
		ctx := context.Background()
		st, w := newState(t, 1)

		mine(t, st, "", state.MineNoPending)
		mine(t, st, "", state.MineNoPending)
		t.Logf("\t%s\tShould get no pending without transactions or reward address.", success)

		mine(t, st, minerAddress, state.MineSuccess)
		if n := len(st.RetrieveChain()); n != 2 {
			t.Fatalf("\t%s\tShould have mined a reward only block: chain[%d]", failed, n)
		}
		t.Logf("\t%s\tShould mine a reward only block.", success)

		tx := signedTx(t, 10)
		if err := st.AddPendingTransaction(ctx, tx); err != nil {
			t.Fatalf("\t%s\tShould be able to add the transaction: %s", failed, err)
		}

		mine(t, st, minerAddress, state.MineSuccess)

		head := st.RetrieveLatestBlock()
		if head.Index != 2 || len(head.Transactions) != 2 || head.Hash[:1] != "0" {
			t.Fatalf("\t%s\tShould mine the transaction with a reward: %+v", failed, head)
		}
		if len(st.RetrievePending()) != 0 {
			t.Fatalf("\t%s\tShould purge the mined transaction.", failed)
		}
		if len(w.blocks) != 2 {
			t.Fatalf("\t%s\tShould share every mined block: got %d", failed, len(w.blocks))
		}
		t.Logf("\t%s\tShould mine the pending transaction.", success)

		balance, _ := st.BalanceOf(ctx, minerAddress)
		if balance != "200.00000000" {
			t.Fatalf("\t%s\tShould credit two rewards: got %s", failed, balance)
		}
		balance, _ = st.BalanceOf(ctx, toAddress)
		if balance != "10.00000000" {
			t.Fatalf("\t%s\tShould credit the recipient: got %s", failed, balance)
		}
		t.Logf("\t%s\tShould update the running balances.", success)

		if !st.VerifyTransactionInBlock(ctx, tx.Hash, head.Hash) {
			t.Fatalf("\t%s\tShould verify the transaction proof.", failed)
		}
		if st.VerifyTransactionInBlock(ctx, tx.Hash, st.RetrieveChain()[1].Hash) {
			t.Fatalf("\t%s\tShould not verify the transaction in another block.", failed)
		}
		t.Logf("\t%s\tShould verify the transaction against the block merkle root.", success)

		// The same transaction can be submitted again once it left the pool.
		if err := st.AddPendingTransaction(ctx, tx); err != nil {
			t.Fatalf("\t%s\tShould be able to add the transaction: %s", failed, err)
		}
		mine(t, st, "", state.MineNoUnique)
		if len(st.RetrievePending()) != 0 {
			t.Fatalf("\t%s\tShould clear the pending transactions.", failed)
		}
		t.Logf("\t%s\tShould get no unique when everything pending is mined.", success)
	}
}

func Test_IsValidChain(t *testing.T) {
	t.Log("Given the need to validate a chain received from a peer.")
	{
		st, _ := newState(t, 1)
		for range 3 {
			mine(t, st, minerAddress, state.MineSuccess)
		}

		chain := database.NewChainData(st.RetrieveChain())

		if !state.IsValidChain(chain, nil) {
			t.Fatalf("\t%s\tShould accept the mined chain.", failed)
		}
		t.Logf("\t%s\tShould accept the mined chain.", success)

		if !state.IsValidChain(chain[:1], nil) || state.IsValidChain(nil, nil) {
			t.Fatalf("\t%s\tShould accept a lone genesis and reject an empty chain.", failed)
		}
		t.Logf("\t%s\tShould accept a lone genesis and reject an empty chain.", success)

		tt := []struct {
			name   string
			modify func(chain []database.BlockData)
		}{
			{"prevhash", func(c []database.BlockData) { bad := "abc"; c[2].PrevHash = &bad }},
			{"hash", func(c []database.BlockData) { c[1].Nonce++ }},
			{"genesis", func(c []database.BlockData) { c[0].Index = 1 }},
			{"difficulty", func(c []database.BlockData) { c[3].Difficulty = 64 }},
		}

		for _, test := range tt {
			f := func(t *testing.T) {
				cpy := database.NewChainData(st.RetrieveChain())
				test.modify(cpy)

				if state.IsValidChain(cpy, nil) {
					t.Fatalf("\t%s\tShould reject a chain with a bad %s.", failed, test.name)
				}
				t.Logf("\t%s\tShould reject a chain with a bad %s.", success, test.name)
			}

			t.Run(test.name, f)
		}
	}
}

func Test_ReplaceChain(t *testing.T) {
	t.Log("Given the need to pick the chain with the most work.")
	{
		ctx := context.Background()

		long, _ := newState(t, 1)
		tx := signedTx(t, 5)
		if err := long.AddPendingTransaction(ctx, tx); err != nil {
			t.Fatalf("\t%s\tShould be able to add the transaction: %s", failed, err)
		}
		for range 3 {
			mine(t, long, minerAddress, state.MineSuccess)
		}

		short, w := newState(t, 1)
		if err := short.AddPendingTransaction(ctx, tx); err != nil {
			t.Fatalf("\t%s\tShould be able to add the transaction: %s", failed, err)
		}

		replaced, err := short.ReplaceChain(ctx, database.NewChainData(long.RetrieveChain()))
		if err != nil || !replaced {
			t.Fatalf("\t%s\tShould replace a chain with more work: %v", failed, err)
		}
		t.Logf("\t%s\tShould replace a chain with more work.", success)

		if short.RetrieveLatestBlock().Hash != long.RetrieveLatestBlock().Hash {
			t.Fatalf("\t%s\tShould have the same head.", failed)
		}
		if len(short.RetrievePending()) != 0 {
			t.Fatalf("\t%s\tShould purge pending transactions mined in the new chain.", failed)
		}
		if w.chains != 1 {
			t.Fatalf("\t%s\tShould share the new chain: got %d", failed, w.chains)
		}

		balance, _ := short.BalanceOf(ctx, minerAddress)
		if balance != "300.00000000" {
			t.Fatalf("\t%s\tShould rebuild the balances from the new chain: got %s", failed, balance)
		}
		t.Logf("\t%s\tShould rebuild the balances from the new chain.", success)

		replaced, err = short.ReplaceChain(ctx, database.NewChainData(long.RetrieveChain()[:2]))
		if err != nil || replaced {
			t.Fatalf("\t%s\tShould ignore a shorter chain: %v", failed, err)
		}
		t.Logf("\t%s\tShould ignore a shorter chain.", success)

		// A longer chain with less cumulative difficulty loses.
		easy, _ := newState(t, 0)
		for range 5 {
			mine(t, easy, minerAddress, state.MineSuccess)
		}
		replaced, err = short.ReplaceChain(ctx, database.NewChainData(easy.RetrieveChain()))
		if err != nil || replaced {
			t.Fatalf("\t%s\tShould keep the chain with more work: %v", failed, err)
		}
		t.Logf("\t%s\tShould keep the chain with more work.", success)

		fresh, _ := newState(t, 1)
		bad := database.NewChainData(long.RetrieveChain())
		bad = append(bad, bad[len(bad)-1])
		if _, err := fresh.ReplaceChain(ctx, bad); !errors.Is(err, state.ErrInvalidChain) {
			t.Fatalf("\t%s\tShould reject an invalid chain: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject an invalid chain.", success)
	}
}

func Test_AddBlock(t *testing.T) {
	t.Log("Given the need to accept blocks mined by a peer.")
	{
		ctx := context.Background()

		miner, _ := newState(t, 1)
		gen, _ := miner.RetrieveGenesisBlock()

		st, err := state.New(ctx, state.Config{
			Genesis: genesis.Genesis{Difficulty: 1},
			Storage: memory.New(),
		})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the state: %s", failed, err)
		}
		w := worker{}
		st.Worker = &w

		if err := st.ProcessGenesisBlock(ctx, gen); err != nil {
			t.Fatalf("\t%s\tShould adopt the peer genesis block: %s", failed, err)
		}

		mine(t, miner, minerAddress, state.MineSuccess)
		block := miner.RetrieveLatestBlock()

		if !st.AddBlock(ctx, block) {
			t.Fatalf("\t%s\tShould accept the next block.", failed)
		}
		t.Logf("\t%s\tShould accept the next block.", success)

		if st.AddBlock(ctx, block) {
			t.Fatalf("\t%s\tShould reject a block that doesn't extend the head.", failed)
		}
		t.Logf("\t%s\tShould reject a block that doesn't extend the head.", success)

		accepted, err := st.ProcessPeerBlock(ctx, block, "peer")
		if err != nil || !accepted {
			t.Fatalf("\t%s\tShould treat a stored block as processed: %v", failed, err)
		}
		if n := len(st.RetrieveChain()); n != 2 {
			t.Fatalf("\t%s\tShould not append a stored block twice: chain[%d]", failed, n)
		}
		t.Logf("\t%s\tShould treat a stored block as processed.", success)

		mine(t, miner, minerAddress, state.MineSuccess)
		tampered := miner.RetrieveLatestBlock()
		tampered.Nonce++

		accepted, err = st.ProcessPeerBlock(ctx, tampered, "peer")
		if err != nil || accepted {
			t.Fatalf("\t%s\tShould reject a tampered block: %v", failed, err)
		}
		if w.chains != 1 {
			t.Fatalf("\t%s\tShould share the chain after a rejected block.", failed)
		}
		t.Logf("\t%s\tShould reject a tampered block and share the chain.", success)

		head := st.RetrieveLatestBlock()

		tt := []struct {
			name  string
			block func(t *testing.T) database.Block
		}{
			{"inflated difficulty", func(t *testing.T) database.Block {
				b := peerBlock(t, head, 1, rewardTx())
				b.Difficulty = 60
				return b
			}},
			{"below local difficulty", func(t *testing.T) database.Block {
				return unsolvedBlock(t, head, 0)
			}},
			{"unmet proof of work", func(t *testing.T) database.Block {
				return unsolvedBlock(t, head, 1)
			}},
			{"invalid signature", func(t *testing.T) database.Block {
				tx := signedTx(t, 10)
				tx.Signature = signedTx(t, 11).Signature
				return peerBlock(t, head, 1, tx, rewardTx())
			}},
		}

		for _, test := range tt {
			f := func(t *testing.T) {
				block := test.block(t)

				if st.AddBlock(ctx, block) {
					t.Fatalf("\t%s\tShould reject a block with %s.", failed, test.name)
				}
				if st.RetrieveLatestBlock().Hash != head.Hash {
					t.Fatalf("\t%s\tShould keep the head after a block with %s.", failed, test.name)
				}
				if !state.IsValidChain(database.NewChainData(st.RetrieveChain()), nil) {
					t.Fatalf("\t%s\tShould keep a valid chain after a block with %s.", failed, test.name)
				}
				t.Logf("\t%s\tShould reject a block with %s.", success, test.name)
			}

			t.Run(test.name, f)
		}

		next := peerBlock(t, head, 2, rewardTx())
		if !st.AddBlock(ctx, next) {
			t.Fatalf("\t%s\tShould accept a block above the local difficulty.", failed)
		}
		t.Logf("\t%s\tShould accept a block above the local difficulty.", success)
	}
}

func rewardTx() database.Tx {
	return database.NewRewardTx(minerAddress, decimal.NewFromInt(100))
}

// peerBlock mines the next block after head the way a peer would.
func peerBlock(t *testing.T, head database.Block, difficulty int, txs ...database.Tx) database.Block {
	t.Helper()

	block, err := database.NewBlock(head.Index+1, head.Hash, time.Now().UnixMilli(), txs, difficulty)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to build the block: %s", failed, err)
	}

	if err := block.Mine(context.Background(), func(string, ...any) {}); err != nil {
		t.Fatalf("\t%s\tShould be able to mine the block: %s", failed, err)
	}

	return block
}

// unsolvedBlock returns a block with a consistent hash that has no leading
// zero, labelled with the specified difficulty.
func unsolvedBlock(t *testing.T, head database.Block, difficulty int) database.Block {
	t.Helper()

	block := peerBlock(t, head, 0, rewardTx())
	for database.IsHashSolved(1, block.Hash) {
		block.Nonce++
		block.Hash = block.CalculateHash()
	}
	block.Difficulty = difficulty

	return block
}

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ardanlabs/powledger/app/services/node/handlers"
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/database/storage/memory"
	"github.com/ardanlabs/powledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
	"github.com/ardanlabs/powledger/foundation/events"
	"github.com/ardanlabs/powledger/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey     = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	minerAddress = "59a8277a36bffda17f9a997e5f7c23"
	toAddress    = "bdae7d2bc2a5ac4e4d3a0cd1a0a4e26b0d8c2b11"
)

func newMux(t *testing.T) (http.Handler, *state.State) {
	t.Helper()

	st, err := state.New(context.Background(), state.Config{
		Genesis:        genesis.Default(),
		Storage:        memory.New(),
		GenesisTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %s", failed, err)
	}

	if err := st.InitGenesis(context.Background()); err != nil {
		t.Fatalf("\t%s\tShould be able to create the genesis block: %s", failed, err)
	}

	ns, err := nameservice.New(t.TempDir())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the name service: %s", failed, err)
	}

	mux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      zap.NewNop().Sugar(),
		State:    st,
		NS:       ns,
		Evts:     events.New(),
		Cors:     "*",
	})

	return mux, st
}

func call(t *testing.T, mux http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("\t%s\tShould be able to encode the body: %s", failed, err)
		}
	}

	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	return w
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

// =============================================================================

func Test_SubmitTransaction(t *testing.T) {
	mux, _ := newMux(t)
	tx := signedTx(t, 10)

	// A signature taken from a different transaction.
	badSig := database.NewTxData(signedTx(t, 11))
	sig := tx.Signature
	badSig.Signature = &sig

	missing := database.NewTxData(tx)
	missing.PublicKey = ""

	type table struct {
		name   string
		body   any
		status int
	}

	tt := []table{
		{name: "created", body: database.NewTxData(tx), status: http.StatusCreated},
		{name: "duplicate", body: database.NewTxData(tx), status: http.StatusConflict},
		{name: "missing", body: missing, status: http.StatusBadRequest},
		{name: "badsig", body: badSig, status: http.StatusBadRequest},
	}

	t.Log("Given the need to submit wallet transactions.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				w := call(t, mux, http.MethodPost, "/v1/transaction", tst.body)
				if w.Code != tst.status {
					t.Logf("\t\tTest %d:\tgot: %d %s", testID, w.Code, w.Body.String())
					t.Logf("\t\tTest %d:\texp: %d", testID, tst.status)
					t.Fatalf("\t%s\tTest %d:\tShould get the expected status.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get the expected status.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_MineAndQuery(t *testing.T) {
	t.Log("Given the need to mine and query transactions over the API.")
	{
		mux, st := newMux(t)
		tx := signedTx(t, 10)

		w := call(t, mux, http.MethodPost, "/v1/mine", map[string]string{})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("\t%s\tShould reject mining without a reward address: %d", failed, w.Code)
		}
		t.Logf("\t%s\tShould reject mining without a reward address.", success)

		if w := call(t, mux, http.MethodPost, "/v1/transaction", database.NewTxData(tx)); w.Code != http.StatusCreated {
			t.Fatalf("\t%s\tShould be able to submit the transaction: %d %s", failed, w.Code, w.Body.String())
		}

		w = call(t, mux, http.MethodGet, "/v1/transactions/pending", nil)
		var pending []database.TxData
		if err := json.NewDecoder(w.Body).Decode(&pending); err != nil || len(pending) != 1 {
			t.Fatalf("\t%s\tShould list one pending transaction: %v", failed, err)
		}
		t.Logf("\t%s\tShould list one pending transaction.", success)

		w = call(t, mux, http.MethodPost, "/v1/mine", map[string]string{"rewardAddress": minerAddress})
		if w.Code != http.StatusCreated {
			t.Fatalf("\t%s\tShould mine a block: %d %s", failed, w.Code, w.Body.String())
		}
		t.Logf("\t%s\tShould mine a block.", success)

		w = call(t, mux, http.MethodGet, "/v1/transaction/"+tx.Hash, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("\t%s\tShould find the mined transaction: %d", failed, w.Code)
		}
		t.Logf("\t%s\tShould find the mined transaction.", success)

		w = call(t, mux, http.MethodGet, "/v1/transaction/"+tx.Hash+"/validate", nil)
		var valid struct {
			IsValid bool `json:"isValid"`
		}
		if err := json.NewDecoder(w.Body).Decode(&valid); err != nil || !valid.IsValid {
			t.Fatalf("\t%s\tShould report the transaction as valid: %v", failed, err)
		}
		t.Logf("\t%s\tShould report the transaction as valid.", success)

		block := st.RetrieveLatestBlock().Hash
		w = call(t, mux, http.MethodGet, "/v1/transaction/"+tx.Hash+"/verify/"+block, nil)
		var verify struct {
			Verified bool `json:"verified"`
		}
		if err := json.NewDecoder(w.Body).Decode(&verify); err != nil || !verify.Verified {
			t.Fatalf("\t%s\tShould verify the transaction in the block: %v", failed, err)
		}
		t.Logf("\t%s\tShould verify the transaction in the block.", success)

		w = call(t, mux, http.MethodGet, "/v1/wallet/"+toAddress+"/balance", nil)
		var bal struct {
			Balance string `json:"balance"`
		}
		if err := json.NewDecoder(w.Body).Decode(&bal); err != nil || bal.Balance != "10.00000000" {
			t.Fatalf("\t%s\tShould credit the receiver: %s %v", failed, bal.Balance, err)
		}
		t.Logf("\t%s\tShould credit the receiver.", success)

		w = call(t, mux, http.MethodGet, "/v1/transaction/abcdef", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("\t%s\tShould not find an unknown transaction: %d", failed, w.Code)
		}
		t.Logf("\t%s\tShould not find an unknown transaction.", success)

		w = call(t, mux, http.MethodPost, "/v1/mine", map[string]string{"rewardAddress": minerAddress})
		if w.Code != http.StatusCreated {
			t.Fatalf("\t%s\tShould mine a reward only block: %d", failed, w.Code)
		}
		t.Logf("\t%s\tShould mine a reward only block.", success)

		w = call(t, mux, http.MethodGet, "/v1/blockchain", nil)
		var chain []database.BlockData
		if err := json.NewDecoder(w.Body).Decode(&chain); err != nil || len(chain) != 3 {
			t.Fatalf("\t%s\tShould return the full chain: %d %v", failed, len(chain), err)
		}
		t.Logf("\t%s\tShould return the full chain.", success)
	}
}

func Test_Settings(t *testing.T) {
	t.Log("Given the need to change the ledger settings.")
	{
		mux, st := newMux(t)

		w := call(t, mux, http.MethodPost, "/v1/blockchain/settings", map[string]any{"difficulty": -1})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("\t%s\tShould reject a negative difficulty: %d", failed, w.Code)
		}
		t.Logf("\t%s\tShould reject a negative difficulty.", success)

		w = call(t, mux, http.MethodPost, "/v1/blockchain/settings", map[string]any{"difficulty": 2, "miningReward": "50"})
		if w.Code != http.StatusOK {
			t.Fatalf("\t%s\tShould update the settings: %d %s", failed, w.Code, w.Body.String())
		}

		s := st.RetrieveSettings()
		if s.Difficulty != 2 || !s.MiningReward.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("\t%s\tShould apply the settings: %d %s", failed, s.Difficulty, s.MiningReward)
		}
		t.Logf("\t%s\tShould apply the settings.", success)

		w = call(t, mux, http.MethodGet, "/v1/blockchain/settings", nil)
		var got struct {
			Difficulty int `json:"difficulty"`
		}
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil || got.Difficulty != 2 {
			t.Fatalf("\t%s\tShould read the settings back: %v", failed, err)
		}
		t.Logf("\t%s\tShould read the settings back.", success)
	}
}

// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ardanlabs/powledger/business/web/errs"
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
	"github.com/ardanlabs/powledger/foundation/events"
	"github.com/ardanlabs/powledger/foundation/nameservice"
	"github.com/ardanlabs/powledger/foundation/validate"
	"github.com/ardanlabs/powledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of ledger endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Blockchain returns the full chain in its wire form.
func (h Handlers) Blockchain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	chain := database.NewChainData(h.State.RetrieveChain())
	return web.Respond(ctx, w, chain, http.StatusOK)
}

// Settings returns the current difficulty and mining reward.
func (h Handlers) Settings(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	s := h.State.RetrieveSettings()

	resp := settings{
		Difficulty:   s.Difficulty,
		MiningReward: s.MiningReward,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// UpdateSettings changes the difficulty and/or mining reward for the next
// blocks. Values left out of the payload keep their current setting.
func (h Handlers) UpdateSettings(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req updateSettings
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	s := h.State.RetrieveSettings()
	if req.Difficulty != nil {
		s.Difficulty = *req.Difficulty
	}
	if req.MiningReward.Valid {
		s.MiningReward = req.MiningReward.Decimal
	}

	if err := h.State.UpdateSettings(s); err != nil {
		if errors.Is(err, state.ErrInvalidSettings) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return err
	}

	return web.Respond(ctx, w, message{Message: "Blockchain settings updated successfully"}, http.StatusOK)
}

// Balance returns the running balance of an address.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")

	bal, err := h.State.BalanceOf(ctx, address)
	if err != nil {
		return fmt.Errorf("balance[%s]: %w", address, err)
	}

	resp := balance{
		Address: address,
		Name:    h.NS.Lookup(address),
		Balance: bal,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// WalletTransactions returns the mined transactions of an address, newest
// first.
func (h Handlers) WalletTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")

	txs, err := h.State.QueryTransactionsByAddress(ctx, address)
	if err != nil {
		return fmt.Errorf("transactions[%s]: %w", address, err)
	}

	resp := walletTxs{
		Transactions: make([]database.TxData, len(txs)),
	}
	for i, tx := range txs {
		resp.Transactions[i] = database.NewTxData(tx)
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// LatestTransaction returns the newest transaction sent by an address.
func (h Handlers) LatestTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")

	tx, err := h.State.QueryLatestTransactionByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NewTrusted(errors.New("no transactions found for address"), http.StatusNotFound)
		}
		return fmt.Errorf("latest transaction[%s]: %w", address, err)
	}

	return web.Respond(ctx, w, database.NewTxData(tx), http.StatusOK)
}

// Mine mines the pending transactions into a new block and pays the reward
// to the address in the payload.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req mineRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return errs.NewTrusted(errors.New("invalid reward address"), http.StatusBadRequest)
	}

	result, err := h.State.MinePendingTransactions(ctx, req.RewardAddress)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrChainConsistency):
			return errs.NewTrusted(err, http.StatusConflict)
		case errors.Is(err, state.ErrNoGenesis):
			return errs.NewTrusted(err, http.StatusServiceUnavailable)
		}
		return fmt.Errorf("mine: %w", err)
	}

	switch result {
	case state.MineSuccess:
		resp := mineResponse{
			Success: true,
			Message: "Block mined successfully.",
			Hash:    h.State.RetrieveLatestBlock().Hash,
		}
		return web.Respond(ctx, w, resp, http.StatusCreated)

	case state.MineNoPending:
		return web.Respond(ctx, w, mineResponse{Message: "No pending transactions to mine."}, http.StatusOK)

	case state.MineNoUnique:
		return web.Respond(ctx, w, mineResponse{Message: "No unique pending transactions available for mining."}, http.StatusOK)

	case state.MineLockFailed:
		return web.Respond(ctx, w, mineResponse{Message: "Mining is temporarily unavailable, please try again shortly."}, http.StatusServiceUnavailable)
	}

	return fmt.Errorf("mine: unknown result %q", result)
}

// SubmitTransaction adds a signed wallet transaction to the pending pool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req submitTx
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	if !req.Amount.IsPositive() {
		return errs.NewTrusted(errors.New("amount must be positive"), http.StatusBadRequest)
	}

	tx := req.toTx()

	if h.State.IsPending(tx.Hash) {
		return errs.NewTrusted(errors.New("transaction already exists in the pending pool"), http.StatusConflict)
	}

	h.Log.Infow("submit tx", "traceid", v.TraceID, "tx", tx.String())

	if err := h.State.AddPendingTransaction(ctx, tx); err != nil {
		if errors.Is(err, state.ErrInvalidTransaction) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return fmt.Errorf("submit: %w", err)
	}

	resp := created{
		Message: "Transaction created",
		Tx:      database.NewTxData(tx),
	}

	return web.Respond(ctx, w, resp, http.StatusCreated)
}

// Transaction returns a mined transaction by hash.
func (h Handlers) Transaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tx, err := h.queryTx(ctx, web.Param(r, "hash"))
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, database.NewTxData(tx), http.StatusOK)
}

// ValidateTransaction reports whether a mined transaction carries a valid
// signature.
func (h Handlers) ValidateTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tx, err := h.queryTx(ctx, web.Param(r, "hash"))
	if err != nil {
		return err
	}

	isValid, err := tx.IsValid()
	if err != nil {
		h.Log.Infow("validate tx", "traceid", web.GetTraceID(ctx), "hash", tx.Hash, "ERROR", err)
	}

	resp := struct {
		IsValid bool `json:"isValid"`
	}{
		IsValid: isValid,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// VerifyTransaction checks the merkle proof of a transaction against a block.
func (h Handlers) VerifyTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash := web.Param(r, "hash")
	block := web.Param(r, "block")

	resp := struct {
		Hash     string `json:"hash"`
		Block    string `json:"block"`
		Verified bool   `json:"verified"`
	}{
		Hash:     hash,
		Block:    block,
		Verified: h.State.VerifyTransactionInBlock(ctx, hash, block),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Pending returns the pending transactions in arrival order.
func (h Handlers) Pending(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	pending := h.State.RetrievePending()

	txs := make([]database.TxData, len(pending))
	for i, tx := range pending {
		txs[i] = database.NewTxData(tx)
	}

	return web.Respond(ctx, w, txs, http.StatusOK)
}

// =============================================================================

func (h Handlers) queryTx(ctx context.Context, hash string) (database.Tx, error) {
	tx, err := h.State.QueryTransaction(ctx, hash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Tx{}, errs.NewTrusted(errors.New("transaction not found"), http.StatusNotFound)
		}
		return database.Tx{}, fmt.Errorf("transaction[%s]: %w", hash, err)
	}

	return tx, nil
}

// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ardanlabs/powledger/business/web/errs"
	"github.com/ardanlabs/powledger/foundation/blockchain/p2p"
	"github.com/ardanlabs/powledger/foundation/blockchain/peer"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
	"github.com/ardanlabs/powledger/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	Hub   *p2p.Hub
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest := h.State.RetrieveLatestBlock()

	known := h.State.RetrieveKnownPeers()
	hosts := make([]string, len(known))
	for i, p := range known {
		hosts[i] = p.Host
	}

	status := peer.Status{
		Host:             h.State.RetrieveHost(),
		LatestBlockHash:  latest.Hash,
		LatestBlockIndex: latest.Index,
		Pending:          len(h.State.RetrievePending()),
		Connected:        h.Hub.Count(),
		KnownPeers:       hosts,
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// SubmitPeer adds a peer to the known peers and connects to it.
func (h Handlers) SubmitPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req struct {
		Host string `json:"host"`
	}
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	pr := peer.New(req.Host)
	if pr.Host == "" {
		return errs.NewTrusted(errors.New("missing peer host"), http.StatusBadRequest)
	}

	if !h.State.AddKnownPeer(pr) {
		h.Log.Infow("add peer", "traceid", v.TraceID, "host", pr.Host, "status", "already known")
	}

	if err := h.Hub.Dial(ctx, pr.Host); err != nil {
		return errs.NewTrusted(err, http.StatusBadGateway)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// P2P upgrades the request into a peer protocol connection.
func (h Handlers) P2P(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.Hub.Accept(w, r); err != nil {

		// The upgrader has already replied to the peer.
		h.Log.Infow("p2p", "traceid", web.GetTraceID(ctx), "ERROR", err)
	}

	return nil
}

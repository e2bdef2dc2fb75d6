package worker

import (
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/p2p"
)

// maxShareRequests represents the max number of pending network share
// requests that can be outstanding before share requests are dropped. To keep
// this simple, a buffered channel of this arbitrary number is being used. If
// the channel does become full, requests for new data to be shared
// will not be accepted.
const maxShareRequests = 100

type shareKind int

const (
	shareTx shareKind = iota + 1
	shareBlock
	shareChain
)

// shareRequest is one item waiting to be broadcast.
type shareRequest struct {
	kind    shareKind
	tx      database.Tx
	block   database.Block
	exclude string
}

// signalShare never blocks since the state package signals while holding
// its lock.
func (w *Worker) signalShare(req shareRequest) {
	select {
	case w.sharing <- req:
		w.evHandler("worker: signalShare: share signaled: kind[%d]", req.kind)
	default:
		w.evHandler("worker: signalShare: queue full, data won't be shared.")
	}
}

// =============================================================================

// shareOperations handles sharing new transactions, blocks and chains.
func (w *Worker) shareOperations() {
	w.evHandler("worker: shareOperations: G started")
	defer w.evHandler("worker: shareOperations: G completed")

	for {
		select {
		case req := <-w.sharing:
			if !w.isShutdown() {
				w.runShareOperation(req)
			}
		case <-w.shut:
			w.evHandler("worker: shareOperations: received shut signal")
			return
		}
	}
}

// runShareOperation broadcasts a single request to the connected peers.
func (w *Worker) runShareOperation(req shareRequest) {
	var msg p2p.Message

	switch req.kind {
	case shareTx:
		msg = p2p.NewTransaction{Tx: database.NewTxData(req.tx)}

	case shareBlock:
		msg = p2p.NewBlock{Block: database.NewBlockData(req.block)}

	case shareChain:
		// The chain is read at send time so a burst of requests shares the
		// latest chain.
		msg = p2p.Chain{Blocks: database.NewChainData(w.state.RetrieveChain())}

	default:
		return
	}

	n := w.network.Broadcast(msg, req.exclude)
	w.evHandler("worker: runShareOperation: %s: sent to peers[%d]", msg.Type(), n)
}

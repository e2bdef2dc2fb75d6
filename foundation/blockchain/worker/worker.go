// Package worker implements mining, peer connections, and block and
// transaction sharing for the blockchain.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/p2p"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
)

// peerUpdateInterval represents the interval of dialing the known peers
// that are not connected.
const peerUpdateInterval = time.Minute

// Network represents the peer connections the worker shares data over.
type Network interface {
	Dial(ctx context.Context, host string) error
	Broadcast(msg p2p.Message, exclude string) int
}

// =============================================================================

// Worker manages the POW workflows for the blockchain.
type Worker struct {
	state       *state.State
	network     Network
	wg          sync.WaitGroup
	ticker      *time.Ticker
	autoMine    time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	shut        chan struct{}
	startMining chan bool
	sharing     chan shareRequest
	evHandler   state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes. An autoMine interval of zero
// turns timer driven mining off.
func Run(st *state.State, network Network, autoMine time.Duration, evHandler state.EventHandler) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := Worker{
		state:       st,
		network:     network,
		ticker:      time.NewTicker(peerUpdateInterval),
		autoMine:    autoMine,
		ctx:         ctx,
		cancel:      cancel,
		shut:        make(chan struct{}),
		startMining: make(chan bool, 1),
		sharing:     make(chan shareRequest, maxShareRequests),
		evHandler:   ev,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Connect to the known peers before starting any support G's so a
	// genesis request has someone to go to.
	w.runPeersOperation()

	// Load the set of operations we need to run.
	operations := []func(){
		w.peerOperations,
		w.miningOperations,
		w.shareOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for range g {
		<-hasStarted
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: terminate goroutines")
	w.cancel()
	close(w.shut)
	w.wg.Wait()
}

// SignalStartMining starts a mining operation. If there is already a signal
// pending in the channel, just return since a mining operation will start.
func (w *Worker) SignalStartMining() {
	select {
	case w.startMining <- true:
	default:
	}
	w.evHandler("worker: SignalStartMining: mining signaled")
}

// SignalShareTx queues a transaction to be shared with every connected peer
// except exclude.
func (w *Worker) SignalShareTx(tx database.Tx, exclude string) {
	w.signalShare(shareRequest{kind: shareTx, tx: tx, exclude: exclude})
}

// SignalShareBlock queues a block to be shared with every connected peer
// except exclude.
func (w *Worker) SignalShareBlock(block database.Block, exclude string) {
	w.signalShare(shareRequest{kind: shareBlock, block: block, exclude: exclude})
}

// SignalShareChain queues the current chain to be shared with every
// connected peer.
func (w *Worker) SignalShareChain() {
	w.signalShare(shareRequest{kind: shareChain})
}

// RequestGenesis asks every connected peer for its genesis block and
// returns how many peers were asked.
func (w *Worker) RequestGenesis() int {
	n := w.network.Broadcast(p2p.RequestGenesis{}, "")
	w.evHandler("worker: RequestGenesis: requested from peers[%d]", n)

	return n
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

package worker

import (
	"errors"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/state"
)

// miningOperations handles mining. Mining starts on a signal or, when an
// auto mine interval is configured, on every tick with pending transactions.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	var tick <-chan time.Time
	if w.autoMine > 0 {
		ticker := time.NewTicker(w.autoMine)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-tick:
			if !w.isShutdown() && len(w.state.RetrievePending()) > 0 {
				w.runMiningOperation()
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// runMiningOperation mines the pending transactions into a new block and
// pays the reward to the configured miner address.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	miner := w.state.RetrieveSettings().MinerAddress

	t := time.Now()
	result, err := w.state.MinePendingTransactions(w.ctx, miner)
	duration := time.Since(t)

	w.evHandler("worker: runMiningOperation: MINING: mining duration[%v]", duration)

	switch {
	case errors.Is(err, state.ErrChainConsistency):
		w.evHandler("worker: runMiningOperation: MINING: WARNING: %s", err)

	case err != nil:
		w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)

	default:
		w.evHandler("worker: runMiningOperation: MINING: result[%s]", result)
	}
}

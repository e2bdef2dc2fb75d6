package worker

// peerOperations handles connecting to the known peers.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runPeersOperation()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation dials every known peer. Peers that are already connected
// are skipped by the network.
func (w *Worker) runPeersOperation() {
	w.evHandler("worker: runPeersOperation: started")
	defer w.evHandler("worker: runPeersOperation: completed")

	for _, peer := range w.state.RetrieveKnownPeers() {
		if err := w.network.Dial(w.ctx, peer.Host); err != nil {
			w.evHandler("worker: runPeersOperation: dial: %s: ERROR: %s", peer.Host, err)
		}
	}
}

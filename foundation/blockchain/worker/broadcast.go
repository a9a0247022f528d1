package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
)

// maxBroadcastRequests represents the max number of pending blocks that can
// sit in the buffered broadcast channel. Anything more will be dropped.
const maxBroadcastRequests = 100

// broadcastOperations handles sharing accepted blocks with the network.
func (w *Worker) broadcastOperations() {
	w.evHandler("worker: broadcastOperations: G started")
	defer w.evHandler("worker: broadcastOperations: G completed")

	for {
		select {
		case block := <-w.broadcasts:
			if !w.isShutdown() {
				w.runBroadcastOperation(block)
			}
		case <-w.shut:
			w.evHandler("worker: broadcastOperations: received shut signal")
			return
		}
	}
}

// runBroadcastOperation sends the block to every known peer.
func (w *Worker) runBroadcastOperation(block database.Block) {
	w.evHandler("worker: runBroadcastOperation: started: blk[%d]", block.Height())
	defer w.evHandler("worker: runBroadcastOperation: completed: blk[%d]", block.Height())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := database.NewBlockData(block)

	for _, pr := range w.peers.Copy(w.host) {
		if err := w.send(ctx, http.MethodPost, w.url(pr, "/block/next"), data, nil); err != nil {
			w.evHandler("worker: runBroadcastOperation: %s: ERROR: %s", pr.Host, err)
		}
	}
}

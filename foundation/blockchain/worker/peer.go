package worker

import (
	"context"
	"net/http"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/peer"
)

// CORE NOTE: The p2p network is managed by this goroutine. There is
// a single node that is considered the origin node. All new peer nodes
// connect to the origin node to identify all other peers on the network.
// If a node does not respond to a network call, it is removed from the
// peer list until the next peer operation finds it again.

// peerOperations handles finding new peers.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	// On startup talk to the origin node and get an updated
	// peers list. Then share with the network that this node
	// is available for block submissions.
	w.runPeersOperation()

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runPeersOperation()
			}
		case <-w.refresh:
			if !w.isShutdown() {
				w.runPeersOperation()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation updates the peer list.
func (w *Worker) runPeersOperation() {
	w.evHandler("worker: runPeersOperation: started")
	defer w.evHandler("worker: runPeersOperation: completed")

	ctx, cancel := context.WithTimeout(context.Background(), peerUpdateInterval/2)
	defer cancel()

	for _, pr := range w.peers.Copy(w.host) {
		peerStatus, err := w.queryPeerStatus(ctx, pr)
		if err != nil {
			w.evHandler("worker: runPeersOperation: queryPeerStatus: %s: ERROR: %s", pr.Host, err)

			// Since this peer is unavailable, remove them from the list.
			w.peers.Remove(pr)
			continue
		}

		// Add peers from this node's peer list that are currently missing.
		w.addNewPeers(peerStatus.KnownPeers)
	}

	// Share with peers that this node is available to participate in the network.
	w.sendNodeAvailableToPeers(ctx)
}

// queryPeerStatus looks for new nodes on the blockchain by asking
// known nodes for their peer list. New nodes are added to the list.
func (w *Worker) queryPeerStatus(ctx context.Context, pr peer.Peer) (peer.Status, error) {
	w.evHandler("worker: queryPeerStatus: started: %s", pr)
	defer w.evHandler("worker: queryPeerStatus: completed: %s", pr)

	var ps peer.Status
	if err := w.send(ctx, http.MethodGet, w.url(pr, "/status"), nil, &ps); err != nil {
		return peer.Status{}, err
	}

	w.evHandler("worker: queryPeerStatus: node[%s]: latest-blknum[%d]: peer-list[%s]", pr, ps.LatestBlockNumber, ps.KnownPeers)

	return ps, nil
}

// addNewPeers takes the list of known peers and makes sure
// they are included in the node's list of known peers.
func (w *Worker) addNewPeers(knownPeers []peer.Peer) {
	for _, pr := range knownPeers {

		// Don't add this running node to the known peer list.
		if pr.Match(w.host) {
			continue
		}

		// Log if the peer is new.
		if w.peers.Add(pr) {
			w.evHandler("worker: addNewPeers: adding peer-node %s", pr.Host)
		}
	}
}

// sendNodeAvailableToPeers shares this node is available to
// participate in the network with the known peers.
func (w *Worker) sendNodeAvailableToPeers(ctx context.Context) {
	host := peer.New(w.host)

	for _, pr := range w.peers.Copy(w.host) {
		if err := w.send(ctx, http.MethodPost, w.url(pr, "/peers"), host, nil); err != nil {
			w.evHandler("worker: sendNodeAvailableToPeers: %s: ERROR: %s", pr.Host, err)
		}
	}
}

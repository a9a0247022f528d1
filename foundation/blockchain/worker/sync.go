package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/peer"
)

// healthWindow is the number of blocks at the top of the chain compared
// with the peers when checking the health of the local chain.
const healthWindow = 101

// ErrNoPeers is returned when there is nobody to ask.
var ErrNoPeers = errors.New("no peers known")

// HealthCheck compares the top of the local chain with the block ids the
// peers report for the same heights. The chain is forked when the majority
// of the peers that answered disagree with it. The number of blocks to
// roll back is the smallest one that gets back to an agreed block.
func (w *Worker) HealthCheck(ctx context.Context) (peer.Health, error) {
	w.evHandler("worker: healthCheck: started")
	defer w.evHandler("worker: healthCheck: completed")

	peers := w.peers.Copy(w.host)
	if len(peers) == 0 {
		return peer.Health{}, ErrNoPeers
	}

	head := w.chain.LastBlock()
	if head.Height() <= 1 {
		return peer.Health{}, nil
	}

	from := uint64(1)
	if head.Height() > healthWindow {
		from = head.Height() - healthWindow + 1
	}

	local, err := w.storage.GetBlocks(from, head.Height())
	if err != nil {
		return peer.Health{}, fmt.Errorf("local blocks: %w", err)
	}

	localIDs := make([]string, len(local))
	for i, block := range local {
		localIDs[i] = block.Hash()
	}

	var answered, forked int
	var rollback uint64

	for _, pr := range peers {
		ids, err := w.queryBlockIDs(ctx, pr, from, head.Height())
		if err != nil {
			w.evHandler("worker: healthCheck: queryBlockIDs: %s: ERROR: %s", pr.Host, err)
			continue
		}
		answered++

		idx, diverged := divergence(localIDs, ids)
		if !diverged {
			continue
		}
		forked++

		n := uint64(len(localIDs) - idx)
		if rollback == 0 || n < rollback {
			rollback = n
		}
	}

	if answered == 0 {
		return peer.Health{}, errors.New("no peer answered the health check")
	}

	w.evHandler("worker: healthCheck: answered[%d]: forked[%d]: rollback[%d]", answered, forked, rollback)

	if forked*2 <= answered {
		return peer.Health{}, nil
	}

	return peer.Health{Forked: true, BlocksToRollback: rollback}, nil
}

// FetchBlocks downloads up to limit blocks starting at the specified height
// from the peer with the highest chain. No blocks and no error are returned
// when no peer is ahead.
func (w *Worker) FetchBlocks(ctx context.Context, from uint64, limit int) ([]database.Block, error) {
	w.evHandler("worker: fetchBlocks: started: from[%d]: limit[%d]", from, limit)
	defer w.evHandler("worker: fetchBlocks: completed: from[%d]", from)

	if limit <= 0 {
		return nil, nil
	}

	var best peer.Peer
	var bestHeight uint64

	for _, pr := range w.peers.Copy(w.host) {
		ps, err := w.queryPeerStatus(ctx, pr)
		if err != nil {
			w.evHandler("worker: fetchBlocks: queryPeerStatus: %s: ERROR: %s", pr.Host, err)
			continue
		}

		if ps.LatestBlockNumber > bestHeight {
			best = pr
			bestHeight = ps.LatestBlockNumber
		}
	}

	if bestHeight < from {
		return nil, nil
	}

	to := from + uint64(limit) - 1
	if to > bestHeight {
		to = bestHeight
	}

	var data []database.BlockData
	if err := w.send(ctx, http.MethodGet, w.url(best, "/block/list/%d/%d", from, to), nil, &data); err != nil {
		return nil, fmt.Errorf("%s: %w", best.Host, err)
	}

	w.evHandler("worker: fetchBlocks: %s: found blocks[%d]", best.Host, len(data))

	blocks := make([]database.Block, 0, len(data))
	for _, bd := range data {
		block, err := database.ToBlock(bd)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", best.Host, err)
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}

// =============================================================================

// queryBlockIDs asks the peer for the ids of the blocks in the range.
func (w *Worker) queryBlockIDs(ctx context.Context, pr peer.Peer, from, to uint64) ([]string, error) {
	var ids []string
	if err := w.send(ctx, http.MethodGet, w.url(pr, "/block/ids/%d/%d", from, to), nil, &ids); err != nil {
		return nil, err
	}

	return ids, nil
}

// divergence returns the index of the first id both lists carry that is
// different. Heights only one side has are not compared.
func divergence(local, remote []string) (int, bool) {
	n := len(local)
	if len(remote) < n {
		n = len(remote)
	}

	for i := 0; i < n; i++ {
		if local[i] != remote[i] {
			return i, true
		}
	}

	return 0, false
}

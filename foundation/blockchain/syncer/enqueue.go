package syncer

import (
	"sort"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
)

// Bounds on the size of a single job.
const (
	maxChunkTxs    = 150
	maxChunkBlocks = 100
)

// EnqueueBlocks splits the blocks into chunks and pushes a job per chunk. A
// chunk is closed when it carries enough transactions, holds enough blocks
// or ends on a milestone height, so a job never spans a rule change.
func (s *Syncer) EnqueueBlocks(blocks []database.Block) {
	if len(blocks) == 0 || s.isStopped() || s.hasFailed() {
		return
	}

	s.enqueue(blocks)
	s.queue.Resume()
}

// enqueue pushes the jobs for the blocks without resuming the queue.
func (s *Syncer) enqueue(blocks []database.Block) {
	maxBlocks := maxChunkBlocks
	if s.maxLastBlocks > 0 && s.maxLastBlocks < maxBlocks {
		maxBlocks = s.maxLastBlocks
	}

	milestones := s.genesis.MilestoneHeights()
	lastDownloaded := s.state.LastDownloadedBlock().Height()
	next := sort.Search(len(milestones), func(i int) bool {
		return milestones[i] >= lastDownloaded
	})

	var chunk []database.Block
	var txs int

	flush := func() {
		s.queue.Push(newJob(s, chunk))
		s.evHandler("syncer: enqueueBlocks: job: blks[%d-%d]: txs[%d]", chunk[0].Height(), chunk[len(chunk)-1].Height(), txs)
		chunk = nil
		txs = 0
	}

	for _, block := range blocks {
		chunk = append(chunk, block)
		txs += block.Header.NumTxs

		full := txs >= maxChunkTxs || len(chunk) >= maxBlocks

		if next < len(milestones) && block.Height() == milestones[next] {
			full = true
			next++
		}

		if full {
			flush()
		}
	}

	if len(chunk) > 0 {
		flush()
	}

	s.metrics.QueueDepth(s.queue.Len())
}

package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/processor"
)

// Set of job outcomes.
const (
	jobNotChained = "notChained"
	jobApplied    = "applied"
	jobNoop       = "noop"
	jobFork       = "fork"
	jobReverted   = "reverted"
	jobCorrupted  = "corrupted"
)

// job applies a chunk of blocks. The blocks are set once when the job is
// constructed and the job is executed once by the queue.
type job struct {
	syncer *Syncer
	blocks []database.Block
}

func newJob(s *Syncer, blocks []database.Block) *job {
	return &job{
		syncer: s,
		blocks: blocks,
	}
}

// result holds what happened while processing the chunk.
type result struct {
	accepted      []database.Block
	lastVerdict   processor.Verdict
	lastProcessed database.Block
	forkCandidate database.Block
	corrupted     bool
	stoppedShort  bool
}

// Handle implements the queue.Job interface.
func (j *job) Handle(ctx context.Context) error {
	if len(j.blocks) == 0 {
		return nil
	}

	s := j.syncer
	first, last := j.blocks[0], j.blocks[len(j.blocks)-1]

	s.evHandler("syncer: job: started: blks[%d-%d]", first.Height(), last.Height())
	defer s.evHandler("syncer: job: completed: blks[%d-%d]", first.Height(), last.Height())

	start := time.Now()
	outcome := jobNoop
	defer func() {
		s.metrics.Job(outcome, len(j.blocks), time.Since(start))
	}()

	head := s.state.LastBlock()
	if !s.processor.IsChained(head, first) {
		s.evHandler("syncer: job: not chained: blk[%d]: prev[%s]: head[%d]: id[%s]", first.Height(), first.Header.PrevBlockHash, head.Height(), head.Hash())
		outcome = jobNotChained
		s.ClearQueue()
		s.ResetLastDownloadedBlock()
		return nil
	}

	res := j.process(ctx, head)
	if res.corrupted {
		outcome = jobCorrupted
		return nil
	}

	if len(res.accepted) > 0 {
		top := res.accepted[len(res.accepted)-1]

		if err := s.storage.SaveBlocks(res.accepted); err != nil {
			s.log.Errorw("syncer: job: save blocks", "from", res.accepted[0].Height(), "to", top.Height(), "ERROR", err)
			outcome = jobReverted
			if !s.revertAccepted(ctx, head, res.accepted) {
				outcome = jobCorrupted
			}
			return nil
		}

		s.state.SetLastStoredHeight(top.Height())
		outcome = jobApplied
	}

	broadcastable := res.lastVerdict == processor.Accepted || res.lastVerdict == processor.DiscardedButBroadcastable

	switch {
	case broadcastable && s.state.IsStarted() && s.machine.Is(fsm.NewBlock):
		s.evHandler("syncer: job: broadcast: blk[%d]: id[%s]", res.lastProcessed.Height(), res.lastProcessed.Hash())
		s.network.Broadcast(res.lastProcessed)

	case !res.forkCandidate.IsZero():
		outcome = jobFork
		s.ForkBlock(res.forkCandidate, 0)

	// Chunks queued behind one that stopped short can not link to the head.
	case !broadcastable || res.stoppedShort:
		s.ClearQueue()
		s.ResetLastDownloadedBlock()
	}

	return nil
}

// process applies the blocks in order until one is not accepted. A panic
// stops the loop and whatever was accepted up to that point is kept.
func (j *job) process(ctx context.Context, head database.Block) (res result) {
	s := j.syncer

	defer func() {
		if r := recover(); r != nil {
			res.stoppedShort = true
			s.log.Errorw("syncer: job: processing", "from", j.blocks[0].Height(), "to", j.blocks[len(j.blocks)-1].Height(), "ERROR", r)
		}
	}()

	prev := head

	for _, block := range j.blocks {
		// Slots are calculated against the last block accepted in this
		// chunk since nothing in it is stored yet.
		currentSlot := s.clock.Slot(s.clock.Now(), prev.Height()+1)
		blockSlot := s.clock.Slot(block.Time(), block.Height())
		if blockSlot > currentSlot {
			s.evHandler("syncer: job: future slot: blk[%d]: slot[%d]: current[%d]", block.Height(), blockSlot, currentSlot)
			res.stoppedShort = true
			return res
		}

		verdict, err := s.processor.Process(ctx, block)
		res.lastVerdict = verdict

		switch verdict {
		case processor.Accepted:
			res.accepted = append(res.accepted, block)
			res.lastProcessed = block
			prev = block
			continue

		case processor.Corrupted:
			res.corrupted = true
			s.fail(&FatalError{Op: "process", Height: block.Height(), ID: block.Hash(), Err: err})
			return res

		case processor.Rollback:
			s.evHandler("syncer: job: rollback: blk[%d]: %s", block.Height(), err)
			res.forkCandidate = block
			s.state.SetLastDownloadedBlock(block)

		case processor.DiscardedButBroadcastable:
			s.evHandler("syncer: job: discarded: blk[%d]: %s", block.Height(), err)
			res.lastProcessed = block

		default:
			s.evHandler("syncer: job: %s: blk[%d]: %s", verdict, block.Height(), err)
		}

		return res
	}

	return res
}

// revertAccepted undoes blocks that were applied on top of the head but
// could not be stored. It reports false if the chain state is corrupted.
func (s *Syncer) revertAccepted(ctx context.Context, head database.Block, accepted []database.Block) bool {
	for i := len(accepted) - 1; i >= 0; i-- {
		block := accepted[i]

		parent := head
		if i > 0 {
			parent = accepted[i-1]
		}

		verdict, err := s.processor.Revert(ctx, block, parent)
		if verdict != processor.Accepted {
			if err == nil {
				err = fmt.Errorf("revert verdict %s", verdict)
			}
			s.fail(&FatalError{Op: "revert", Height: block.Height(), ID: block.Hash(), Err: err})
			return false
		}

		if s.pool != nil {
			s.pool.ReAdmit(block.Transactions)
		}
	}

	point := accepted[0].Height() - 1
	s.evHandler("syncer: job: reverted: blks[%d]: rollback point[%d]", len(accepted), point)

	if err := s.storage.DeleteAfter(point); err != nil {
		s.log.Errorw("syncer: job: delete partial blocks", "height", point, "ERROR", err)
	}
	if err := s.storage.DeleteRoundsAfter(point); err != nil {
		s.log.Errorw("syncer: job: delete rounds", "height", point, "ERROR", err)
	}
	if s.rounds != nil {
		if err := s.rounds.Restore(s.state.LastBlock()); err != nil {
			s.log.Errorw("syncer: job: restore round", "height", point, "ERROR", err)
		}
	}

	s.ClearQueue()
	s.ResetLastDownloadedBlock()

	return true
}

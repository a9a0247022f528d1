package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/processor"
)

// Set of errors returned by the queued operations.
var (
	ErrDisposed = errors.New("syncer disposed")
	ErrDropped  = errors.New("rollback dropped before it ran")
)

// jobFunc adapts a function to the queue.Job interface.
type jobFunc func(ctx context.Context) error

func (f jobFunc) Handle(ctx context.Context) error {
	return f(ctx)
}

// waitedJob is a job with a caller waiting for its outcome. The outcome is
// ErrDropped when the queue discards the job before running it.
type waitedJob struct {
	fn   func(ctx context.Context) error
	done chan error
}

func newWaitedJob(fn func(ctx context.Context) error) *waitedJob {
	return &waitedJob{
		fn:   fn,
		done: make(chan error, 1),
	}
}

// Handle implements the queue.Job interface.
func (wj *waitedJob) Handle(ctx context.Context) error {
	err := wj.fn(ctx)
	wj.finish(err)
	return err
}

// Drop implements the queue.Dropper interface.
func (wj *waitedJob) Drop() {
	wj.finish(ErrDropped)
}

func (wj *waitedJob) finish(err error) {
	select {
	case wj.done <- err:
	default:
	}
}

// RemoveBlocks rolls the chain back by n blocks, never removing the genesis
// block. The work is queued behind any pending jobs and RemoveBlocks waits
// for it to complete. ErrDropped is returned when the pending work is
// cleared by a fork, a chunk that does not link or a fatal error before it
// gets to run. A chain left inconsistent is reported through Fatal.
func (s *Syncer) RemoveBlocks(ctx context.Context, n uint64) error {
	if s.isStopped() || s.hasFailed() {
		return ErrDisposed
	}

	wj := newWaitedJob(func(ctx context.Context) error {
		return s.removeBlocks(ctx, n)
	})

	s.queue.Push(wj)
	s.queue.Resume()

	select {
	case err := <-wj.done:
		return err
	case <-s.shut:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoveTopBlocks deletes the top n stored blocks without replaying state.
func (s *Syncer) RemoveTopBlocks(n uint64) error {
	s.evHandler("syncer: removeTopBlocks: started: blks[%d]", n)
	defer s.evHandler("syncer: removeTopBlocks: completed: blks[%d]", n)

	if err := s.storage.DeleteTop(n); err != nil {
		return fmt.Errorf("delete top %d blocks: %w", n, err)
	}

	return nil
}

// ForkBlock records the block that forked the chain and how many blocks to
// roll back, then moves to the fork state. With a rollback count of zero
// the count is derived from the height of the forked block.
func (s *Syncer) ForkBlock(block database.Block, rollbackCount uint64) {
	if rollbackCount == 0 {
		rollbackCount = forkDepth(s.state.LastBlock(), block)
	}

	s.log.Infow("syncer: fork", "height", block.Height(), "id", block.Hash(), "prev", block.Header.PrevBlockHash, "rollback", rollbackCount)

	s.state.SetForkedBlock(block)
	s.state.SetNumberOfBlocksToRollback(rollbackCount)
	s.ClearQueue()
	s.Dispatch(fsm.ForkEv)
}

// =============================================================================

// removeBlocks reverts the top n blocks one at a time. It must run on the
// queue so no job applies blocks at the same time.
func (s *Syncer) removeBlocks(ctx context.Context, n uint64) error {
	head := s.state.LastBlock()
	if head.Height() <= 1 || n == 0 {
		return nil
	}

	if limit := head.Height() - 1; n > limit {
		n = limit
	}
	target := head.Height() - n

	s.evHandler("syncer: removeBlocks: started: head[%d]: blks[%d]: target[%d]", head.Height(), n, target)
	defer s.evHandler("syncer: removeBlocks: completed: target[%d]", target)

	s.ClearAndStopQueue()
	defer func() {
		if !s.hasFailed() {
			s.queue.Resume()
		}
	}()

	blocks, err := s.storage.GetBlocks(target, head.Height())
	if err != nil {
		return fmt.Errorf("load blocks %d-%d: %w", target, head.Height(), err)
	}
	if uint64(len(blocks)) != n+1 {
		return fmt.Errorf("load blocks %d-%d: got %d blocks", target, head.Height(), len(blocks))
	}

	for i := len(blocks) - 1; i > 0; i-- {
		block, parent := blocks[i], blocks[i-1]

		verdict, err := s.processor.Revert(ctx, block, parent)
		if verdict != processor.Accepted {
			if err == nil {
				err = fmt.Errorf("revert verdict %s", verdict)
			}
			fe := FatalError{Op: "rollback", Height: block.Height(), ID: block.Hash(), Err: err}
			s.fail(&fe)
			return &fe
		}

		if err := s.storage.RevertBlock(block.Height()); err != nil {
			fe := FatalError{Op: "rollback", Height: block.Height(), ID: block.Hash(), Err: err}
			s.fail(&fe)
			return &fe
		}

		if s.pool != nil {
			s.pool.ReAdmit(block.Transactions)
		}
	}

	s.state.SetLastStoredHeight(target)

	if err := s.storage.DeleteRoundsAfter(target); err != nil {
		s.log.Errorw("syncer: removeBlocks: delete rounds", "height", target, "ERROR", err)
	}

	head = s.state.LastBlock()
	if s.rounds != nil {
		if err := s.rounds.Restore(head); err != nil {
			s.log.Errorw("syncer: removeBlocks: restore round", "height", head.Height(), "ERROR", err)
		}
	}

	stored, err := s.storage.LastBlock()
	if err != nil || stored.Hash() != head.Hash() {
		if err == nil {
			err = fmt.Errorf("stored head %d id %s, state head %d id %s", stored.Height(), stored.Hash(), head.Height(), head.Hash())
		}
		fe := FatalError{Op: "rollback verify", Height: head.Height(), ID: head.Hash(), Err: err}
		s.fail(&fe)
		return &fe
	}

	s.ResetLastDownloadedBlock()
	s.metrics.Rollback(int(n))

	s.log.Infow("syncer: rolled back", "blocks", n, "height", head.Height(), "id", head.Hash())

	return nil
}

// startFork queues the rollback for the recorded fork. The queue drains
// when it is done, which finishes the fork state.
func (s *Syncer) startFork() {
	if s.hasFailed() {
		return
	}

	forked := s.state.ForkedBlock()
	n := s.state.NumberOfBlocksToRollback()

	s.evHandler("syncer: fork: blk[%d]: rollback[%d]", forked.Height(), n)

	s.ClearQueue()
	s.queue.Push(jobFunc(func(ctx context.Context) error {
		defer func() {
			s.state.SetForkedBlock(database.Block{})
			s.state.SetNumberOfBlocksToRollback(0)
		}()

		return s.removeBlocks(ctx, n)
	}))
	s.queue.Resume()
}

// forkDepth returns how many blocks to remove so the parent of the forked
// block can be downloaded again.
func forkDepth(head database.Block, forked database.Block) uint64 {
	if forked.Height() > head.Height() {
		return 1
	}

	return head.Height() - forked.Height() + 2
}

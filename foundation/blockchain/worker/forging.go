package worker

import (
	"time"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/signal"
)

// forgingWatchOperations wakes up at every slot boundary and checks that a
// block was forged in the slot that just finished.
func (w *Worker) forgingWatchOperations() {
	w.evHandler("worker: forgingWatchOperations: G started")
	defer w.evHandler("worker: forgingWatchOperations: G completed")

	timer := time.NewTimer(w.untilNextSlot())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if !w.isShutdown() {
				w.runForgingWatch()
			}
			timer.Reset(w.untilNextSlot())
		case <-w.shut:
			w.evHandler("worker: forgingWatchOperations: received shut signal")
			return
		}
	}
}

// runForgingWatch emits ForgingMissed when the last block is older than the
// previous slot.
func (w *Worker) runForgingWatch() bool {
	head := w.chain.LastBlock()
	if head.IsZero() {
		return false
	}

	current := w.clock.Slot(w.clock.Now(), head.Height()+1)
	if current == 0 {
		return false
	}

	headSlot := w.clock.Slot(head.Time(), head.Height())
	if headSlot+1 >= current {
		return false
	}

	w.evHandler("worker: runForgingWatch: missed: blk[%d]: slot[%d]: current[%d]", head.Height(), headSlot, current)
	w.hub.Emit(signal.ForgingMissed)

	return true
}

// untilNextSlot returns how long until the next slot starts. A small delay
// is added so the check happens after the boundary.
func (w *Worker) untilNextSlot() time.Duration {
	height := w.chain.LastBlock().Height() + 1
	return w.clock.TimeUntilNextSlot(w.clock.Now(), height) + 100*time.Millisecond
}

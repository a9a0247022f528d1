package syncer

import (
	"time"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
)

// minSlotTimeLeft is how much of its slot must be left for a block coming
// from a forger to be accepted.
const minSlotTimeLeft = 2000 * time.Millisecond

// Set of admission outcomes.
const (
	admissionAccepted    = "accepted"
	admissionDisregarded = "disregarded"
	admissionTooLate     = "tooLate"
	admissionFutureSlot  = "futureSlot"
)

// HandleIncomingBlock admits a block received from a peer or a forger. An
// admitted block is queued for processing. Blocks that fail the slot checks
// are dropped silently, a node that has not started reports the rest as
// disregarded.
func (s *Syncer) HandleIncomingBlock(block database.Block, fromForger bool) {
	now := s.clock.Now()
	currentSlot := s.clock.Slot(now, block.Height())
	receivedSlot := s.clock.Slot(block.Time(), block.Height())

	if fromForger {
		left := s.clock.TimeUntilNextSlot(now, block.Height())
		if currentSlot != receivedSlot || left < minSlotTimeLeft {
			s.log.Infow("syncer: block discarded", "height", block.Height(), "id", block.Hash(), "reason", "received too late", "slot", receivedSlot, "currentSlot", currentSlot, "left", left)
			s.metrics.Admission(admissionTooLate)
			return
		}
	}

	if receivedSlot > currentSlot {
		s.log.Infow("syncer: block discarded", "height", block.Height(), "id", block.Hash(), "reason", "future slot", "slot", receivedSlot, "currentSlot", currentSlot)
		s.metrics.Admission(admissionFutureSlot)
		return
	}

	if err := s.state.PushPing(block); err != nil {
		s.evHandler("syncer: handleIncomingBlock: push ping: blk[%d]: WARNING: %s", block.Height(), err)
	}

	if !s.state.IsStarted() {
		s.log.Infow("syncer: block disregarded", "height", block.Height(), "id", block.Hash(), "reason", "node not started")
		s.metrics.Admission(admissionDisregarded)
		s.notifier.BlockDisregarded(block, "node not started")
		return
	}

	s.evHandler("syncer: handleIncomingBlock: accepted: blk[%d]: id[%s]: forger[%t]", block.Height(), block.Hash(), fromForger)
	s.metrics.Admission(admissionAccepted)

	s.Dispatch(fsm.NewBlockEv)
	s.EnqueueBlocks([]database.Block{block})
	s.notifier.BlockReceived(block)
}

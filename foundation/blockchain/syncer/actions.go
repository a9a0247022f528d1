package syncer

import (
	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
)

// registerActions binds the work done when the machine enters a state.
func (s *Syncer) registerActions() {
	classify := func(from fsm.State, ev fsm.Event) {
		s.checkSyncStatus()
	}
	wait := func(from fsm.State, ev fsm.Event) {
		s.SetWakeUp()
	}

	s.machine.OnEnter(fsm.Init, classify)
	s.machine.OnEnter(fsm.SyncingVerification, classify)
	s.machine.OnEnter(fsm.SyncingDownload, func(from fsm.State, ev fsm.Event) {
		s.download()
	})
	s.machine.OnEnter(fsm.Idle, wait)
	s.machine.OnEnter(fsm.Paused, wait)
	s.machine.OnEnter(fsm.NetworkHalted, wait)
	s.machine.OnEnter(fsm.Fork, func(from fsm.State, ev fsm.Event) {
		s.startFork()
	})
}

// download fetches the blocks after the last downloaded block from the
// network and queues them. When nothing comes back the no block counter is
// raised and the download is reported finished.
func (s *Syncer) download() {
	if s.isStopped() {
		return
	}

	s.goTracked(func() {
		from := s.state.LastDownloadedBlock()
		if from.IsZero() {
			from = s.state.LastBlock()
		}

		s.evHandler("syncer: download: started: from[%d]", from.Height()+1)

		blocks, err := s.network.FetchBlocks(s.ctx, from.Height()+1, s.downloadLimit)
		if err != nil {
			s.evHandler("syncer: download: from[%d]: ERROR: %s", from.Height()+1, err)
		}

		if s.isStopped() {
			return
		}

		if len(blocks) == 0 {
			n := s.state.IncNoBlockCounter()
			s.evHandler("syncer: download: no blocks: counter[%d]", n)
			s.Dispatch(fsm.ProcessFinished)
			return
		}

		s.evHandler("syncer: download: completed: blks[%d-%d]", blocks[0].Height(), blocks[len(blocks)-1].Height())

		if s.hasFailed() {
			return
		}

		// Chunks are built against the previous last downloaded block. It
		// moves once they are pushed and before any of them runs.
		s.queue.Pause()
		s.enqueue(blocks)
		s.state.SetNoBlockCounter(0)
		s.state.SetLastDownloadedBlock(blocks[len(blocks)-1])
		s.queue.Resume()
	})
}

package syncer

import (
	"context"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
)

// Thresholds used to classify the sync status.
const (
	maxQueueDepth      = 100
	maxNoBlockRounds   = 5
	maxP2PUpdates      = 3
	syncedBlockTimes   = 3
	missedBlocksChance = 0.8
)

// Classify decides which event describes the current sync status. The
// first matching rule wins. Counters are updated as a side effect.
func (s *Syncer) Classify(ctx context.Context) fsm.Event {
	s.classifyMu.Lock()
	defer s.classifyMu.Unlock()

	if s.testMode {
		return fsm.Test
	}

	if s.state.NetworkStart() {
		return fsm.Synced
	}

	running := s.queue.IsRunning()

	if running && s.queue.Len() > maxQueueDepth {
		return fsm.PausedEv
	}

	if s.state.NoBlockCounter() > maxNoBlockRounds && !running {
		return s.escalate(ctx)
	}

	if ld := s.state.LastDownloadedBlock(); !ld.IsZero() && s.IsSynced(ld) {
		s.state.SetNoBlockCounter(0)
		return fsm.Synced
	}

	return fsm.NotSynced
}

// IsSynced reports if the block, or the head when the block is zero, is
// recent enough for the node to be considered in sync. A node without peers
// is always in sync.
func (s *Syncer) IsSynced(block database.Block) bool {
	if !s.network.HasPeers() {
		return true
	}

	if block.IsZero() {
		block = s.state.LastBlock()
	}

	age := s.clock.Now().Sub(block.Time())

	return age < syncedBlockTimes*s.clock.BlockTime(block.Height())
}

// CheckMissingBlocks is called every time a slot passes without a block.
// After enough misses it asks the network if the node is on a fork, at most
// once per health check interval.
func (s *Syncer) CheckMissingBlocks(ctx context.Context) {
	threshold := int(s.genesis.ActiveDelegates/3) - 1

	s.mu.Lock()
	s.missedBlocks++
	if s.missedBlocks < threshold || s.rand() > missedBlocksChance {
		s.mu.Unlock()
		return
	}
	s.missedBlocks = 0

	now := s.clock.Now()
	if !s.lastHealthCheck.IsZero() && now.Sub(s.lastHealthCheck) < s.healthCheckInterval {
		s.mu.Unlock()
		return
	}
	s.lastHealthCheck = now
	s.mu.Unlock()

	s.evHandler("syncer: checkMissingBlocks: network health check")

	health, err := s.network.HealthCheck(ctx)
	if err != nil {
		s.log.Errorw("syncer: checkMissingBlocks: health check", "ERROR", err)
		return
	}

	if health.Forked {
		s.log.Infow("syncer: checkMissingBlocks: fork detected", "rollback", health.BlocksToRollback)
		s.state.SetNumberOfBlocksToRollback(health.BlocksToRollback)
		s.Dispatch(fsm.ForkEv)
	}
}

// MissedBlocks returns the number of missed slots counted since the last
// health check or applied round.
func (s *Syncer) MissedBlocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.missedBlocks
}

// =============================================================================

// escalate handles a node that keeps downloading nothing. The network health
// is only queried after backing off a few times. Both counters are reset on
// every health query, whatever the outcome.
func (s *Syncer) escalate(ctx context.Context) fsm.Event {
	if s.state.IncP2PUpdateCounter(maxP2PUpdates) {
		return fsm.NetworkHaltedEv
	}

	health, err := s.network.HealthCheck(ctx)

	s.state.ResetCounters()

	if err != nil {
		s.log.Errorw("syncer: classify: health check", "ERROR", err)
		return fsm.NetworkHaltedEv
	}

	if health.Forked {
		s.state.SetNumberOfBlocksToRollback(health.BlocksToRollback)
		return fsm.ForkEv
	}

	return fsm.NetworkHaltedEv
}

// checkSyncStatus classifies the sync status and dispatches the result.
func (s *Syncer) checkSyncStatus() {
	if s.isStopped() {
		return
	}

	ev := s.Classify(s.ctx)
	s.evHandler("syncer: checkSyncStatus: event[%s]", ev)
	s.Dispatch(ev)
}

// resetMissedBlocks clears the missed slot count once a round is applied.
func (s *Syncer) resetMissedBlocks() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.missedBlocks = 0
}

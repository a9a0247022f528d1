package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/processor"
)

func handle(t *testing.T, f *fixture, blocks []database.Block) {
	require.NoError(t, newJob(f.syncer, blocks).Handle(context.Background()))
}

func TestJobMonotonicApplication(t *testing.T) {
	f := newFixture(t)

	blocks := chain(f.genesis, 8)

	handle(t, f, blocks[:5])
	handle(t, f, blocks[5:])

	assert.Equal(t, []uint64{2, 3, 4, 5, 6, 7, 8, 9}, f.proc.appliedHeights())
	assert.Equal(t, []uint64{2, 3, 4, 5, 6, 7, 8, 9}, f.storage.savedHeights())
	assert.Equal(t, uint64(9), f.state.LastStoredHeight())

	// A chunk that does not follow the head is discarded as a whole.
	gap := chain(blocks[7], 3)[1:]
	f.queue.Push(newJob(f.syncer, chain(blocks[7], 1)))
	f.state.SetLastDownloadedBlock(gap[len(gap)-1])

	handle(t, f, gap)

	assert.Equal(t, []uint64{2, 3, 4, 5, 6, 7, 8, 9}, f.proc.appliedHeights())
	assert.Empty(t, f.queue.chunks(), "queue should be cleared")
	assert.Equal(t, uint64(9), f.state.LastDownloadedBlock().Height())
}

func TestJobStopsAtRejectedBlock(t *testing.T) {
	f := newFixture(t)
	f.proc.verdicts[4] = processor.Rejected

	blocks := chain(f.genesis, 8)
	f.state.SetLastDownloadedBlock(blocks[7])
	f.queue.Push(newJob(f.syncer, blocks[5:]))

	handle(t, f, blocks[:5])

	assert.Equal(t, []uint64{2, 3}, f.proc.appliedHeights())
	assert.Equal(t, []uint64{2, 3}, f.storage.savedHeights())
	assert.Equal(t, uint64(3), f.state.LastStoredHeight())
	assert.Empty(t, f.queue.chunks(), "chunks behind the rejected block are dropped")
	assert.Equal(t, uint64(3), f.state.LastDownloadedBlock().Height())
}

func TestJobAllAcceptedKeepsQueue(t *testing.T) {
	f := newFixture(t)

	blocks := chain(f.genesis, 6)
	f.state.SetLastDownloadedBlock(blocks[5])
	f.queue.Push(newJob(f.syncer, blocks[3:]))

	handle(t, f, blocks[:3])

	assert.Len(t, f.queue.chunks(), 1)
	assert.Equal(t, uint64(7), f.state.LastDownloadedBlock().Height())
}

func TestJobNothingAccepted(t *testing.T) {
	f := newFixture(t)
	f.proc.verdicts[2] = processor.Rejected

	blocks := chain(f.genesis, 3)
	f.state.SetLastDownloadedBlock(blocks[2])
	f.queue.Push(newJob(f.syncer, blocks))

	handle(t, f, blocks)

	assert.Empty(t, f.storage.savedHeights())
	assert.Empty(t, f.queue.chunks())
	assert.Equal(t, uint64(1), f.state.LastDownloadedBlock().Height())
}

func TestJobRollbackVerdict(t *testing.T) {
	f := newFixture(t)
	f.proc.verdicts[3] = processor.Rollback

	blocks := chain(f.genesis, 4)
	handle(t, f, blocks)

	assert.Equal(t, []uint64{2}, f.storage.savedHeights())
	assert.Equal(t, blocks[1].Hash(), f.state.ForkedBlock().Hash())
	assert.Equal(t, uint64(1), f.state.NumberOfBlocksToRollback())
	assert.Equal(t, uint64(3), f.state.LastDownloadedBlock().Height())
}

func TestJobCorruptedIsFatal(t *testing.T) {
	f := newFixture(t)
	f.proc.verdicts[3] = processor.Corrupted

	handle(t, f, chain(f.genesis, 4))

	assert.Empty(t, f.storage.savedHeights())

	select {
	case err := <-f.syncer.Fatal():
		var fe *FatalError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, "process", fe.Op)
		assert.Equal(t, uint64(3), fe.Height)
	default:
		t.Fatal("expected a fatal error")
	}

	// Nothing more is queued once the chain is corrupted.
	f.syncer.EnqueueBlocks(chain(f.genesis, 1))
	assert.Empty(t, f.queue.chunks())
}

func TestJobPersistenceFailureReverts(t *testing.T) {
	f := newFixture(t)
	f.storage.saveErr = errors.New("disk full")

	blocks := chain(f.genesis, 3)
	f.state.SetLastDownloadedBlock(blocks[2])

	handle(t, f, blocks)

	assert.Equal(t, []uint64{4, 3, 2}, f.proc.revertedHeights())
	assert.Equal(t, f.genesis.Hash(), f.state.LastBlock().Hash())
	assert.Equal(t, uint64(1), f.state.LastDownloadedBlock().Height())
	assert.Equal(t, 3, f.pool.n)
	assert.Equal(t, []uint64{1}, f.storage.rounds)
	assert.Equal(t, []uint64{1}, f.rounds.restored)

	select {
	case err := <-f.syncer.Fatal():
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
}

func TestJobPanicKeepsPartialProgress(t *testing.T) {
	f := newFixture(t)
	f.proc.panicAt = 4

	handle(t, f, chain(f.genesis, 5))

	assert.Equal(t, []uint64{2, 3}, f.storage.savedHeights())
	assert.Equal(t, uint64(3), f.state.LastStoredHeight())
}

func TestJobFutureSlotStops(t *testing.T) {
	f := newFixture(t)

	blocks := chain(f.genesis, 2)
	future := database.NewBlock("forger", blocks[1], at(1000), nil)
	blocks = append(blocks, future)

	handle(t, f, blocks)

	assert.Equal(t, []uint64{2, 3}, f.proc.appliedHeights())
	assert.Equal(t, []uint64{2, 3}, f.storage.savedHeights())
}

func TestJobBroadcast(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t, withConfig(func(cfg *Config) { cfg.TestMode = true }))
		require.True(t, f.syncer.Boot(context.Background(), true))
		f.state.SetStarted(true)

		f.syncer.Dispatch(fsm.NewBlockEv)
		require.Equal(t, fsm.NewBlock, f.syncer.State())

		handle(t, f, chain(f.genesis, 1))

		assert.Equal(t, []uint64{2}, f.network.broadcasts)
	})

	t.Run("discarded but broadcastable", func(t *testing.T) {
		f := newFixture(t, withConfig(func(cfg *Config) { cfg.TestMode = true }))
		require.True(t, f.syncer.Boot(context.Background(), true))
		f.state.SetStarted(true)
		f.syncer.Dispatch(fsm.NewBlockEv)

		f.proc.verdicts[2] = processor.DiscardedButBroadcastable
		handle(t, f, chain(f.genesis, 1))

		assert.Equal(t, []uint64{2}, f.network.broadcasts)
		assert.Empty(t, f.storage.savedHeights())
	})

	t.Run("not in new block state", func(t *testing.T) {
		f := newFixture(t)
		f.state.SetStarted(true)

		handle(t, f, chain(f.genesis, 1))

		assert.Empty(t, f.network.broadcasts)
		assert.Equal(t, []uint64{2}, f.storage.savedHeights())
	})
}

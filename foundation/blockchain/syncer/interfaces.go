package syncer

import (
	"context"
	"time"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/peer"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/processor"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/queue"
)

// StateStore is the system of record for the chain position.
type StateStore interface {
	GenesisBlock() database.Block
	LastBlock() database.Block
	SetLastBlock(block database.Block)
	LastDownloadedBlock() database.Block
	SetLastDownloadedBlock(block database.Block)
	ForkedBlock() database.Block
	SetForkedBlock(block database.Block)
	NumberOfBlocksToRollback() uint64
	SetNumberOfBlocksToRollback(n uint64)
	NoBlockCounter() int
	SetNoBlockCounter(n int)
	IncNoBlockCounter() int
	P2PUpdateCounter() int
	SetP2PUpdateCounter(n int)
	IncP2PUpdateCounter(max int) bool
	ResetCounters()
	SetLastStoredHeight(height uint64)
	NetworkStart() bool
	SetNetworkStart(networkStart bool)
	IsStarted() bool
	SetWakeUpTimer(t *time.Timer)
	ClearWakeUpTimer()
	PushPing(block database.Block) error
	Reset()
}

// Storage persists blocks and their round bookkeeping.
type Storage interface {
	SaveBlocks(blocks []database.Block) error
	GetBlocks(from, to uint64) ([]database.Block, error)
	LastBlock() (database.Block, error)
	DeleteAfter(height uint64) error
	DeleteTop(n uint64) error
	DeleteRoundsAfter(height uint64) error
	RevertBlock(height uint64) error
}

// RoundRestorer rebuilds the current round after the chain moved back.
type RoundRestorer interface {
	Restore(head database.Block) error
}

// Pool takes back transactions from reverted blocks.
type Pool interface {
	ReAdmit(txs []database.Tx) int
}

// Processor applies and reverts blocks.
type Processor interface {
	IsChained(head database.Block, block database.Block) bool
	Process(ctx context.Context, block database.Block) (processor.Verdict, error)
	Revert(ctx context.Context, block database.Block, parent database.Block) (processor.Verdict, error)
}

// Network provides access to the peers.
type Network interface {
	ForceRefresh()
	Broadcast(block database.Block)
	HealthCheck(ctx context.Context) (peer.Health, error)
	HasPeers() bool
	FetchBlocks(ctx context.Context, from uint64, limit int) ([]database.Block, error)
}

// Notifier is told about blocks arriving at the node.
type Notifier interface {
	BlockReceived(block database.Block)
	BlockDisregarded(block database.Block, reason string)
}

// Metrics records what the syncer is doing.
type Metrics interface {
	Transition(from fsm.State, to fsm.State, ev fsm.Event)
	Admission(outcome string)
	Job(outcome string, blocks int, duration time.Duration)
	Rollback(blocks int)
	QueueDepth(n int)
}

// WorkQueue serializes the jobs that mutate the chain.
type WorkQueue interface {
	Start(ctx context.Context)
	Stop()
	Push(job queue.Job)
	Pause()
	Resume()
	Clear()
	Len() int
	IsPaused() bool
	IsRunning() bool
	OnDrain(fn func())
	OnJobError(fn func(err error))
}

// =============================================================================

type nopNotifier struct{}

func (nopNotifier) BlockReceived(database.Block) {}
func (nopNotifier) BlockDisregarded(database.Block, string) {}

type nopMetrics struct{}

func (nopMetrics) Transition(fsm.State, fsm.State, fsm.Event) {}
func (nopMetrics) Admission(string) {}
func (nopMetrics) Job(string, int, time.Duration) {}
func (nopMetrics) Rollback(int) {}
func (nopMetrics) QueueDepth(int) {}

// Package syncer implements the synchronization core of the node. It owns the
// sync state machine and the work queue, admits incoming blocks, chunks them
// into jobs and rolls the chain back when a fork is detected.
package syncer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/genesis"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/queue"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/signal"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/slots"
)

// Set of defaults applied when the configuration leaves a value unset.
const (
	defaultWakeUpInterval      = time.Minute
	defaultReadyPollInterval   = time.Second
	defaultHealthCheckInterval = 10 * time.Minute
	defaultDownloadLimit       = 500
)

// EventHandler defines a function that is called when events
// occur in the processing of the sync.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to construct the syncer.
type Config struct {
	Log       *zap.SugaredLogger
	EvHandler EventHandler

	Genesis   genesis.Genesis
	Clock     *slots.Clock
	Hub       *signal.Hub
	State     StateStore
	Storage   Storage
	Rounds    RoundRestorer
	Pool      Pool
	Processor Processor
	Network   Network
	Notifier  Notifier
	Metrics   Metrics
	Queue     WorkQueue

	MaxLastBlocks       int
	DownloadLimit       int
	SkipReadyCheck      bool
	TestMode            bool
	WakeUpInterval      time.Duration
	ReadyPollInterval   time.Duration
	HealthCheckInterval time.Duration
	Rand                func() float64
}

// Syncer is the orchestrator of the sync process.
type Syncer struct {
	log       *zap.SugaredLogger
	evHandler EventHandler

	genesis   genesis.Genesis
	clock     *slots.Clock
	hub       *signal.Hub
	state     StateStore
	storage   Storage
	rounds    RoundRestorer
	pool      Pool
	processor Processor
	network   Network
	notifier  Notifier
	metrics   Metrics
	queue     WorkQueue
	machine   *fsm.Machine

	maxLastBlocks       int
	downloadLimit       int
	skipReadyCheck      bool
	testMode            bool
	wakeUpInterval      time.Duration
	readyPollInterval   time.Duration
	healthCheckInterval time.Duration
	rand                func() float64

	// classifyMu serializes classification. Enter actions run on the
	// goroutine that dispatched so more than one may classify at a time.
	classifyMu sync.Mutex

	mu              sync.Mutex
	booted          bool
	stopped         bool
	failed          bool
	missedBlocks    int
	lastHealthCheck time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	shut      chan struct{}
	fatal     chan error
	fatalOnce sync.Once
}

// New constructs the syncer. Nothing runs until Boot is called.
func New(cfg Config) (*Syncer, error) {
	switch {
	case cfg.Log == nil:
		return nil, errors.New("logger is required")
	case cfg.Clock == nil:
		return nil, errors.New("slot clock is required")
	case cfg.State == nil:
		return nil, errors.New("state store is required")
	case cfg.Storage == nil:
		return nil, errors.New("storage is required")
	case cfg.Processor == nil:
		return nil, errors.New("block processor is required")
	case cfg.Network == nil:
		return nil, errors.New("network is required")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Hub == nil {
		cfg.Hub = signal.NewHub()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Queue == nil {
		cfg.Queue = queue.New(queue.EventHandler(ev))
	}
	if cfg.DownloadLimit <= 0 {
		cfg.DownloadLimit = defaultDownloadLimit
	}
	if cfg.WakeUpInterval <= 0 {
		cfg.WakeUpInterval = defaultWakeUpInterval
	}
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = defaultReadyPollInterval
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := Syncer{
		log:                 cfg.Log,
		evHandler:           ev,
		genesis:             cfg.Genesis,
		clock:               cfg.Clock,
		hub:                 cfg.Hub,
		state:               cfg.State,
		storage:             cfg.Storage,
		rounds:              cfg.Rounds,
		pool:                cfg.Pool,
		processor:           cfg.Processor,
		network:             cfg.Network,
		notifier:            cfg.Notifier,
		metrics:             cfg.Metrics,
		queue:               cfg.Queue,
		machine:             fsm.New(),
		maxLastBlocks:       cfg.MaxLastBlocks,
		downloadLimit:       cfg.DownloadLimit,
		skipReadyCheck:      cfg.SkipReadyCheck,
		testMode:            cfg.TestMode,
		wakeUpInterval:      cfg.WakeUpInterval,
		readyPollInterval:   cfg.ReadyPollInterval,
		healthCheckInterval: cfg.HealthCheckInterval,
		rand:                cfg.Rand,
		ctx:                 ctx,
		cancel:              cancel,
		shut:                make(chan struct{}),
		fatal:               make(chan error, 1),
	}

	s.queue.OnDrain(func() {
		s.metrics.QueueDepth(0)
		s.Dispatch(fsm.ProcessFinished)
	})
	s.queue.OnJobError(func(err error) {
		s.log.Errorw("syncer: job", "ERROR", err)
	})

	s.machine.OnTransition(s.transition)
	s.registerActions()

	return &s, nil
}

// Boot starts the sync process. Unless the ready check is skipped it blocks
// until the state store reports the node as started. It reports false if
// the syncer was disposed or the context cancelled while waiting.
func (s *Syncer) Boot(ctx context.Context, skipReadyCheck bool) bool {
	s.evHandler("syncer: boot: started")
	defer s.evHandler("syncer: boot: completed")

	s.state.Reset()
	s.ResetLastDownloadedBlock()

	s.queue.Start(s.ctx)
	s.Dispatch(fsm.Start)

	if !skipReadyCheck && !s.skipReadyCheck {
		if !s.waitUntilStarted(ctx) {
			return false
		}
	}

	s.network.ForceRefresh()

	s.hub.Listen(signal.ForgingMissed, func() {
		s.CheckMissingBlocks(s.ctx)
	})
	s.hub.Listen(signal.RoundApplied, s.resetMissedBlocks)

	s.mu.Lock()
	s.booted = true
	s.mu.Unlock()

	s.log.Infow("syncer: booted", "state", s.machine.Current(), "height", s.state.LastBlock().Height())

	return true
}

// Dispose stops the sync process. A job that is executing is allowed to
// finish. Calling Dispose more than once does nothing.
func (s *Syncer) Dispose() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.evHandler("syncer: dispose: started")
	defer s.evHandler("syncer: dispose: completed")

	close(s.shut)
	s.state.ClearWakeUpTimer()
	s.Dispatch(fsm.Stop)

	s.evHandler("syncer: dispose: stop queue")
	s.queue.Stop()

	s.cancel()
	s.wg.Wait()
}

// IsBooted reports if Boot completed.
func (s *Syncer) IsBooted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.booted
}

// Dispatch moves the state machine with the event. Events without a
// transition for the current state are ignored.
func (s *Syncer) Dispatch(ev fsm.Event) {
	if from, ok := s.machine.Dispatch(ev); !ok {
		s.evHandler("syncer: dispatch: ignored: state[%s]: event[%s]", from, ev)
	}
}

// State returns the current sync state.
func (s *Syncer) State() fsm.State {
	return s.machine.Current()
}

// SetWakeUp arms the timer that dispatches WAKEUP. A timer that is already
// pending is replaced.
func (s *Syncer) SetWakeUp() {
	if s.isStopped() {
		return
	}

	timer := time.AfterFunc(s.wakeUpInterval, func() {
		s.evHandler("syncer: wakeup: fired")
		s.Dispatch(fsm.WakeUp)
	})

	s.state.SetWakeUpTimer(timer)
}

// ResetWakeUp clears any pending timer and arms a new one.
func (s *Syncer) ResetWakeUp() {
	s.state.ClearWakeUpTimer()
	s.SetWakeUp()
}

// ForceWakeup dispatches WAKEUP without waiting for the timer.
func (s *Syncer) ForceWakeup() {
	s.state.ClearWakeUpTimer()
	s.Dispatch(fsm.WakeUp)
}

// ResetLastDownloadedBlock moves the last downloaded block back to the
// last applied block.
func (s *Syncer) ResetLastDownloadedBlock() {
	s.state.SetLastDownloadedBlock(s.state.LastBlock())
}

// ClearQueue drops every pending job.
func (s *Syncer) ClearQueue() {
	s.queue.Clear()
	s.metrics.QueueDepth(0)
}

// ClearAndStopQueue drops every pending job and pauses the queue.
func (s *Syncer) ClearAndStopQueue() {
	s.queue.Pause()
	s.ClearQueue()
}

// Status represents a snapshot of the sync process.
type Status struct {
	State            string `json:"state"`
	Height           uint64 `json:"height"`
	Hash             string `json:"hash"`
	LastDownloaded   uint64 `json:"last_downloaded"`
	QueueDepth       int    `json:"queue_depth"`
	QueueRunning     bool   `json:"queue_running"`
	QueuePaused      bool   `json:"queue_paused"`
	NoBlockCounter   int    `json:"no_block_counter"`
	P2PUpdateCounter int    `json:"p2p_update_counter"`
	NetworkStart     bool   `json:"network_start"`
	Synced           bool   `json:"synced"`
}

// Status returns a snapshot of the sync process.
func (s *Syncer) Status() Status {
	head := s.state.LastBlock()

	return Status{
		State:            s.machine.Current().String(),
		Height:           head.Height(),
		Hash:             head.Hash(),
		LastDownloaded:   s.state.LastDownloadedBlock().Height(),
		QueueDepth:       s.queue.Len(),
		QueueRunning:     s.queue.IsRunning(),
		QueuePaused:      s.queue.IsPaused(),
		NoBlockCounter:   s.state.NoBlockCounter(),
		P2PUpdateCounter: s.state.P2PUpdateCounter(),
		NetworkStart:     s.state.NetworkStart(),
		Synced:           s.IsSynced(database.Block{}),
	}
}

// =============================================================================

// waitUntilStarted polls the state store until the node reports started.
func (s *Syncer) waitUntilStarted(ctx context.Context) bool {
	s.evHandler("syncer: boot: waiting for node to start")

	ticker := time.NewTicker(s.readyPollInterval)
	defer ticker.Stop()

	for !s.state.IsStarted() {
		select {
		case <-ticker.C:
		case <-s.shut:
			s.evHandler("syncer: boot: disposed while waiting")
			return false
		case <-ctx.Done():
			s.evHandler("syncer: boot: %s", ctx.Err())
			return false
		}
	}

	return true
}

// transition records every state change.
func (s *Syncer) transition(from fsm.State, to fsm.State, ev fsm.Event) {
	s.evHandler("syncer: transition: %s -> %s: event[%s]", from, to, ev)
	s.metrics.Transition(from, to, ev)
}

// isStopped reports if Dispose was called.
func (s *Syncer) isStopped() bool {
	select {
	case <-s.shut:
		return true
	default:
		return false
	}
}

// goTracked runs the function on a goroutine Dispose waits for.
func (s *Syncer) goTracked(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/fsm"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/genesis"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/peer"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/processor"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/queue"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/slots"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/state"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const blockTime = 10 * time.Second

// at returns the unix seconds for the start of the slot.
func at(slot int) uint64 {
	return uint64(epoch.Add(time.Duration(slot) * blockTime).Unix())
}

// chain builds blocks on top of the parent, one per slot.
func chain(parent database.Block, n int) []database.Block {
	blocks := make([]database.Block, n)
	for i := range blocks {
		block := database.NewBlock("forger", parent, at(int(parent.Height())+1), nil)
		blocks[i] = block
		parent = block
	}
	return blocks
}

// =============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) get() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// =============================================================================

type fakeStorage struct {
	mu       sync.Mutex
	blocks   map[uint64]database.Block
	last     uint64
	saved    []uint64
	saveErr  error
	lastOver *database.Block
	rounds   []uint64
}

func newFakeStorage(blocks ...database.Block) *fakeStorage {
	fs := fakeStorage{blocks: make(map[uint64]database.Block)}
	for _, block := range blocks {
		fs.blocks[block.Height()] = block
		fs.last = block.Height()
	}
	return &fs
}

func (fs *fakeStorage) SaveBlocks(blocks []database.Block) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.saveErr != nil {
		return fs.saveErr
	}
	for _, block := range blocks {
		fs.blocks[block.Height()] = block
		fs.saved = append(fs.saved, block.Height())
		fs.last = block.Height()
	}
	return nil
}

func (fs *fakeStorage) GetBlocks(from, to uint64) ([]database.Block, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var blocks []database.Block
	for h := from; h <= to; h++ {
		block, exists := fs.blocks[h]
		if !exists {
			return nil, errors.New("not found")
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (fs *fakeStorage) LastBlock() (database.Block, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.lastOver != nil {
		return *fs.lastOver, nil
	}
	return fs.blocks[fs.last], nil
}

func (fs *fakeStorage) DeleteAfter(height uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for h := fs.last; h > height; h-- {
		delete(fs.blocks, h)
	}
	if fs.last > height {
		fs.last = height
	}
	return nil
}

func (fs *fakeStorage) DeleteTop(n uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := uint64(0); i < n && fs.last > 1; i++ {
		delete(fs.blocks, fs.last)
		fs.last--
	}
	return nil
}

func (fs *fakeStorage) DeleteRoundsAfter(height uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.rounds = append(fs.rounds, height)
	return nil
}

func (fs *fakeStorage) RevertBlock(height uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if height != fs.last {
		return errors.New("not the last block")
	}
	delete(fs.blocks, height)
	fs.last--
	return nil
}

func (fs *fakeStorage) savedHeights() []uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]uint64(nil), fs.saved...)
}

// =============================================================================

type fakeProcessor struct {
	mu       sync.Mutex
	state    *state.State
	verdicts map[uint64]processor.Verdict
	panicAt  uint64
	applied  []uint64
	reverted []uint64
	revertV  processor.Verdict
}

func (fp *fakeProcessor) IsChained(head database.Block, block database.Block) bool {
	return block.Height() == head.Height()+1 && block.Header.PrevBlockHash == head.Hash()
}

func (fp *fakeProcessor) Process(ctx context.Context, block database.Block) (processor.Verdict, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.panicAt != 0 && block.Height() == fp.panicAt {
		panic("processor exploded")
	}

	if v, exists := fp.verdicts[block.Height()]; exists && v != processor.Accepted {
		return v, errors.New(v.String())
	}

	head := fp.state.LastBlock()
	if block.Height() != head.Height()+1 {
		return processor.Rejected, errors.New("out of order")
	}

	fp.applied = append(fp.applied, block.Height())
	fp.state.SetLastBlock(block)
	return processor.Accepted, nil
}

func (fp *fakeProcessor) Revert(ctx context.Context, block database.Block, parent database.Block) (processor.Verdict, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.revertV != 0 && fp.revertV != processor.Accepted {
		return fp.revertV, errors.New("revert failed")
	}

	fp.reverted = append(fp.reverted, block.Height())
	fp.state.SetLastBlock(parent)
	return processor.Accepted, nil
}

func (fp *fakeProcessor) appliedHeights() []uint64 {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]uint64(nil), fp.applied...)
}

func (fp *fakeProcessor) revertedHeights() []uint64 {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]uint64(nil), fp.reverted...)
}

// =============================================================================

type fakeNetwork struct {
	mu          sync.Mutex
	peers       bool
	health      peer.Health
	healthErr   error
	healthCalls int
	refreshes   int
	broadcasts  []uint64
}

func (fn *fakeNetwork) ForceRefresh() {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	fn.refreshes++
}

func (fn *fakeNetwork) Broadcast(block database.Block) {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	fn.broadcasts = append(fn.broadcasts, block.Height())
}

func (fn *fakeNetwork) HealthCheck(ctx context.Context) (peer.Health, error) {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	fn.healthCalls++
	return fn.health, fn.healthErr
}

func (fn *fakeNetwork) HasPeers() bool {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return fn.peers
}

func (fn *fakeNetwork) FetchBlocks(ctx context.Context, from uint64, limit int) ([]database.Block, error) {
	return nil, nil
}

func (fn *fakeNetwork) calls() int {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return fn.healthCalls
}

// =============================================================================

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []queue.Job
	running bool
	paused  bool
	depth   int
	stops   int
	resumes int
}

func (fq *fakeQueue) Start(ctx context.Context) {}

func (fq *fakeQueue) Stop() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.stops++
}

func (fq *fakeQueue) Push(job queue.Job) {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.jobs = append(fq.jobs, job)
}

func (fq *fakeQueue) Pause() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.paused = true
}

func (fq *fakeQueue) Resume() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.paused = false
	fq.resumes++
}

func (fq *fakeQueue) Clear() {
	fq.mu.Lock()
	jobs := fq.jobs
	fq.jobs = nil
	fq.mu.Unlock()

	for _, j := range jobs {
		if d, ok := j.(queue.Dropper); ok {
			d.Drop()
		}
	}
}

func (fq *fakeQueue) Len() int {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if fq.depth > 0 {
		return fq.depth
	}
	return len(fq.jobs)
}

func (fq *fakeQueue) IsPaused() bool {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return fq.paused
}

func (fq *fakeQueue) IsRunning() bool {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return fq.running
}

func (fq *fakeQueue) OnDrain(fn func())             {}
func (fq *fakeQueue) OnJobError(fn func(err error)) {}

// chunks returns the block heights of every pushed job.
func (fq *fakeQueue) chunks() [][]uint64 {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	var chunks [][]uint64
	for _, j := range fq.jobs {
		jb, ok := j.(*job)
		if !ok {
			continue
		}
		var heights []uint64
		for _, block := range jb.blocks {
			heights = append(heights, block.Height())
		}
		chunks = append(chunks, heights)
	}
	return chunks
}

// =============================================================================

type fakeMetrics struct {
	mu          sync.Mutex
	transitions map[fsm.State]int
	admissions  map[string]int
	rollbacks   []int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		transitions: make(map[fsm.State]int),
		admissions:  make(map[string]int),
	}
}

func (fm *fakeMetrics) Transition(from fsm.State, to fsm.State, ev fsm.Event) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.transitions[to]++
}

func (fm *fakeMetrics) Admission(outcome string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.admissions[outcome]++
}

func (fm *fakeMetrics) Job(outcome string, blocks int, duration time.Duration) {}

func (fm *fakeMetrics) Rollback(blocks int) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.rollbacks = append(fm.rollbacks, blocks)
}

func (fm *fakeMetrics) QueueDepth(n int) {}

func (fm *fakeMetrics) entered(s fsm.State) int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.transitions[s]
}

func (fm *fakeMetrics) admitted(outcome string) int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.admissions[outcome]
}

// =============================================================================

type fakeNotifier struct {
	mu          sync.Mutex
	received    int
	disregarded int
}

func (fn *fakeNotifier) BlockReceived(block database.Block) {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	fn.received++
}

func (fn *fakeNotifier) BlockDisregarded(block database.Block, reason string) {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	fn.disregarded++
}

type fakePool struct {
	mu  sync.Mutex
	txs int
	n   int
}

func (fp *fakePool) ReAdmit(txs []database.Tx) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.n++
	fp.txs += len(txs)
	return len(txs)
}

type fakeRounds struct {
	mu       sync.Mutex
	restored []uint64
}

func (fr *fakeRounds) Restore(head database.Block) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.restored = append(fr.restored, head.Height())
	return nil
}

// =============================================================================

type fixture struct {
	syncer  *Syncer
	genesis database.Block
	clock   *clock
	state   *state.State
	storage *fakeStorage
	proc    *fakeProcessor
	network *fakeNetwork
	queue   *fakeQueue
	metrics *fakeMetrics
	notify  *fakeNotifier
	pool    *fakePool
	rounds  *fakeRounds
}

type option func(cfg *Config, f *fixture)

func withRealQueue() option {
	return func(cfg *Config, f *fixture) {
		cfg.Queue = nil
		f.queue = nil
	}
}

func withMilestones(ms ...genesis.Milestone) option {
	return func(cfg *Config, f *fixture) {
		cfg.Genesis.Milestones = append(cfg.Genesis.Milestones, ms...)
	}
}

func withConfig(fn func(cfg *Config)) option {
	return func(cfg *Config, f *fixture) {
		fn(cfg)
	}
}

func newFixture(t *testing.T, options ...option) *fixture {
	gen := genesis.Genesis{
		Date:            epoch,
		ChainID:         1,
		ActiveDelegates: 11,
		Generator:       "forger",
		Milestones:      []genesis.Milestone{{Height: 1, BlockTime: 10, MaxTxPerBlock: 250}},
	}
	genesisBlock := database.GenesisBlock(gen)

	st, err := state.New(state.Config{GenesisBlock: genesisBlock})
	require.NoError(t, err)

	c := clock{now: epoch.Add(time.Hour)}

	f := fixture{
		genesis: genesisBlock,
		clock:   &c,
		state:   st,
		storage: newFakeStorage(genesisBlock),
		proc:    &fakeProcessor{state: st, verdicts: make(map[uint64]processor.Verdict)},
		network: &fakeNetwork{},
		queue:   &fakeQueue{},
		metrics: newFakeMetrics(),
		notify:  &fakeNotifier{},
		pool:    &fakePool{},
		rounds:  &fakeRounds{},
	}

	cfg := Config{
		Log:            zap.NewNop().Sugar(),
		Genesis:        gen,
		Clock:          slots.New(epoch, gen.BlockTime, slots.WithNow(c.get)),
		State:          st,
		Storage:        f.storage,
		Rounds:         f.rounds,
		Pool:           f.pool,
		Processor:      f.proc,
		Network:        f.network,
		Notifier:       f.notify,
		Metrics:        f.metrics,
		Queue:          f.queue,
		SkipReadyCheck: true,
		Rand:           func() float64 { return 0.5 },
	}

	for _, option := range options {
		option(&cfg, &f)
	}

	require.NoError(t, cfg.Genesis.Validate())

	s, err := New(cfg)
	require.NoError(t, err)
	f.syncer = s

	t.Cleanup(func() {
		s.Dispose()
		st.Close()
	})

	return &f
}

// push adds the blocks on top of the current head to the state and storage.
func (f *fixture) push(blocks ...database.Block) {
	for _, block := range blocks {
		f.storage.blocks[block.Height()] = block
		f.storage.last = block.Height()
		f.state.SetLastBlock(block)
	}
}

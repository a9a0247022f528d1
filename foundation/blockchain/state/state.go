// Package state maintains the chain position of the node: where it is, what
// it has downloaded, and the bookkeeping the sync process relies on.
package state

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
)

// Config represents the configuration required to construct the state.
type Config struct {
	GenesisBlock database.Block
	NetworkStart bool
	PingTTL      time.Duration
}

// State manages the chain position of the node. It is the system of record
// for the sync process, all access goes through these accessors.
type State struct {
	mu sync.RWMutex

	genesisBlock        database.Block
	lastBlock           database.Block
	lastDownloadedBlock database.Block
	forkedBlock         database.Block
	blocksToRollback    uint64
	noBlockCounter      int
	p2pUpdateCounter    int
	lastStoredHeight    uint64
	networkStart        bool
	started             bool
	wakeUpTimer         *time.Timer

	pingTTL time.Duration
	pings   *bigcache.BigCache
}

// New constructs the state for the node.
func New(cfg Config) (*State, error) {
	if cfg.PingTTL <= 0 {
		cfg.PingTTL = 10 * time.Minute
	}

	// Entries older than the TTL are filtered on read, the clean window only
	// keeps the cache from growing.
	cacheCfg := bigcache.DefaultConfig(cfg.PingTTL)
	cacheCfg.CleanWindow = cfg.PingTTL
	cacheCfg.Shards = 64
	cacheCfg.MaxEntriesInWindow = 10 * 1024
	cacheCfg.Verbose = false

	pings, err := bigcache.New(context.Background(), cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("constructing ping cache: %w", err)
	}

	s := State{
		genesisBlock: cfg.GenesisBlock,
		lastBlock:    cfg.GenesisBlock,
		networkStart: cfg.NetworkStart,
		pingTTL:      cfg.PingTTL,
		pings:        pings,
	}

	return &s, nil
}

// Close releases the ping cache.
func (s *State) Close() error {
	s.ClearWakeUpTimer()
	return s.pings.Close()
}

// Reset clears the sync bookkeeping. The last applied block is kept since
// it is owned by the chain on disk.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastDownloadedBlock = database.Block{}
	s.forkedBlock = database.Block{}
	s.blocksToRollback = 0
	s.noBlockCounter = 0
	s.p2pUpdateCounter = 0
	if s.wakeUpTimer != nil {
		s.wakeUpTimer.Stop()
		s.wakeUpTimer = nil
	}
}

// GenesisBlock returns the block at height 1.
func (s *State) GenesisBlock() database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.genesisBlock
}

// LastBlock returns the highest block applied to the chain.
func (s *State) LastBlock() database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastBlock
}

// SetLastBlock records the highest block applied to the chain.
func (s *State) SetLastBlock(block database.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastBlock = block
}

// LastDownloadedBlock returns the highest block received from the network.
func (s *State) LastDownloadedBlock() database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastDownloadedBlock
}

// SetLastDownloadedBlock records the highest block received from the network.
func (s *State) SetLastDownloadedBlock(block database.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastDownloadedBlock = block
}

// ForkedBlock returns the block that caused the last detected fork.
func (s *State) ForkedBlock() database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.forkedBlock
}

// SetForkedBlock records the block that caused a fork.
func (s *State) SetForkedBlock(block database.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forkedBlock = block
}

// NumberOfBlocksToRollback returns how many blocks the fork handler
// needs to remove.
func (s *State) NumberOfBlocksToRollback() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.blocksToRollback
}

// SetNumberOfBlocksToRollback records how many blocks to remove on fork.
func (s *State) SetNumberOfBlocksToRollback(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocksToRollback = n
}

// NoBlockCounter returns the number of download rounds without a block.
func (s *State) NoBlockCounter() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.noBlockCounter
}

// SetNoBlockCounter sets the number of download rounds without a block.
func (s *State) SetNoBlockCounter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.noBlockCounter = n
}

// IncNoBlockCounter raises the number of download rounds without a block and
// returns the new value.
func (s *State) IncNoBlockCounter() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.noBlockCounter++
	return s.noBlockCounter
}

// P2PUpdateCounter returns the number of halts since the last health check.
func (s *State) P2PUpdateCounter() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.p2pUpdateCounter
}

// SetP2PUpdateCounter sets the number of halts since the last health check.
func (s *State) SetP2PUpdateCounter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.p2pUpdateCounter = n
}

// IncP2PUpdateCounter raises the number of halts since the last health check
// unless it already reached max. It reports if the counter was raised.
func (s *State) IncP2PUpdateCounter(max int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.p2pUpdateCounter >= max {
		return false
	}

	s.p2pUpdateCounter++
	return true
}

// ResetCounters clears the no block and halt counters together.
func (s *State) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.noBlockCounter = 0
	s.p2pUpdateCounter = 0
}

// LastStoredHeight returns the height of the last block persisted.
func (s *State) LastStoredHeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastStoredHeight
}

// SetLastStoredHeight records the height of the last block persisted.
func (s *State) SetLastStoredHeight(height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastStoredHeight = height
}

// NetworkStart reports if this node is bootstrapping the network.
func (s *State) NetworkStart() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.networkStart
}

// SetNetworkStart sets the network bootstrap mode.
func (s *State) SetNetworkStart(networkStart bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.networkStart = networkStart
}

// IsStarted reports if the node finished starting up.
func (s *State) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.started
}

// SetStarted marks the node as started.
func (s *State) SetStarted(started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = started
}

// SetWakeUpTimer stores the pending wake up timer, stopping any timer that
// was already pending.
func (s *State) SetWakeUpTimer(t *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wakeUpTimer != nil {
		s.wakeUpTimer.Stop()
	}
	s.wakeUpTimer = t
}

// ClearWakeUpTimer stops and forgets the pending wake up timer.
func (s *State) ClearWakeUpTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wakeUpTimer != nil {
		s.wakeUpTimer.Stop()
		s.wakeUpTimer = nil
	}
}

// HasWakeUpTimer reports if a wake up timer is pending.
func (s *State) HasWakeUpTimer() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wakeUpTimer != nil
}

// =============================================================================

// PushPing records that a block was seen so duplicates arriving from other
// peers can be recognized.
func (s *State) PushPing(block database.Block) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(time.Now().UnixNano()))

	return s.pings.Set(block.Hash(), buf[:])
}

// HasPing reports if the block was seen within the ping TTL.
func (s *State) HasPing(hash string) bool {
	entry, err := s.pings.Get(hash)
	if err != nil {
		return false
	}

	if len(entry) != 8 {
		return false
	}

	seen := time.Unix(0, int64(binary.BigEndian.Uint64(entry)))
	return time.Since(seen) < s.pingTTL
}

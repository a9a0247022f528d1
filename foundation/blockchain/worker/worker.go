// Package worker implements the network side of the node: peer updates,
// block broadcasting, missed forging detection and the queries the sync
// process makes against its peers.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/peer"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/signal"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/slots"
)

// peerUpdateInterval represents the interval of time to find new peer
// nodes and refresh their status.
const peerUpdateInterval = time.Minute

// EventHandler defines a function that is called when events
// occur in the processing of the network operations.
type EventHandler func(v string, args ...any)

// Chain provides the local view of the chain.
type Chain interface {
	LastBlock() database.Block
}

// Storage provides the blocks written to disk.
type Storage interface {
	GetBlocks(from, to uint64) ([]database.Block, error)
}

// Config represents the configuration required to run the worker.
type Config struct {
	Host      string
	Peers     *peer.Set
	Chain     Chain
	Storage   Storage
	Clock     *slots.Clock
	Hub       *signal.Hub
	EvHandler EventHandler
	Client    *http.Client
}

// Worker manages the network operations for the node.
type Worker struct {
	host       string
	peers      *peer.Set
	chain      Chain
	storage    Storage
	clock      *slots.Clock
	hub        *signal.Hub
	evHandler  EventHandler
	client     *http.Client
	baseURL    string
	wg         sync.WaitGroup
	ticker     *time.Ticker
	shut       chan struct{}
	refresh    chan bool
	broadcasts chan database.Block
}

// New constructs a worker. No network operations run until Run is called.
func New(cfg Config) *Worker {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Worker{
		host:       cfg.Host,
		peers:      cfg.Peers,
		chain:      cfg.Chain,
		storage:    cfg.Storage,
		clock:      cfg.Clock,
		hub:        cfg.Hub,
		evHandler:  ev,
		client:     client,
		baseURL:    "http://%s/v1/node",
		shut:       make(chan struct{}),
		refresh:    make(chan bool, 1),
		broadcasts: make(chan database.Block, maxBroadcastRequests),
	}
}

// Run starts up all the background operations. It does not return until
// every operation is running.
func (w *Worker) Run() {
	w.ticker = time.NewTicker(peerUpdateInterval)

	// Load the set of operations needed to run.
	operations := []func(){
		w.peerOperations,
		w.broadcastOperations,
		w.forgingWatchOperations,
	}

	// Set waitgroup to match the number of G's needed
	// for the set of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// Don't return until all G's are up and running.
	hasStarted := make(chan bool)

	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	for i := 0; i < g; i++ {
		<-hasStarted
	}
}

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	if w.ticker != nil {
		w.evHandler("worker: shutdown: stop ticker")
		w.ticker.Stop()
	}

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// ForceRefresh signals the peer operation to refresh the peer list now. If
// a signal is already pending, just return since a refresh will happen.
func (w *Worker) ForceRefresh() {
	select {
	case w.refresh <- true:
		w.evHandler("worker: forceRefresh: refresh signaled")
	default:
	}
}

// Broadcast queues the block to be sent to every known peer. If the queue
// is full the block is not shared.
func (w *Worker) Broadcast(block database.Block) {
	select {
	case w.broadcasts <- block:
		w.evHandler("worker: broadcast: blk[%d] signaled", block.Height())
	default:
		w.evHandler("worker: broadcast: queue full, blk[%d] won't be shared", block.Height())
	}
}

// HasPeers reports if the node knows any other node.
func (w *Worker) HasPeers() bool {
	return w.peers.Len(w.host) > 0
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

// url forms the url for the path on the peer's node api.
func (w *Worker) url(pr peer.Peer, format string, args ...any) string {
	return fmt.Sprintf(w.baseURL, pr.Host) + fmt.Sprintf(format, args...)
}

// send is a helper function to send an HTTP request to a node.
func (w *Worker) send(ctx context.Context, method, url string, dataSend any, dataRcv any) error {
	var body io.Reader

	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return errors.New(string(msg))
	}

	if dataRcv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRcv); err != nil {
			return err
		}
	}

	return nil
}

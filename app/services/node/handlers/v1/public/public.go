// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/genesis"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/mempool"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/syncer"
	"github.com/adamwoolhether/chainsync/foundation/events"
	"github.com/adamwoolhether/chainsync/foundation/web"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	Gen    genesis.Genesis
	Ledger *database.Database
	Pool   *mempool.Mempool
	Syncer *syncer.Syncer
	Evts   *events.Events
	WS     websocket.Upgrader
}

// Events handles a web socket to provide block notifications to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Need this to handle CORS on the websocket.
	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	// This upgrades the HTTP connection to a websocket connection.
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	h.Log.Infow("websocket open", "traceid", v.TraceID, "path", r.URL.Path, "remoteaddr", r.RemoteAddr)

	// This provides a channel for receiving events from the sync process.
	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	// Starting a ticker to send a ping message over the websocket.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Block waiting to receive events and send them to the client.
	for {
		select {
		case msg, wd := <-ch:

			// If the channel is closed, release the websocket.
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Gen, http.StatusOK)
}

// Status returns the status of the sync process.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Syncer.Status(), http.StatusOK)
}

// Accounts returns the current balances for all accounts.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status := h.Syncer.Status()

	accounts := h.Ledger.Copy()
	acts := make([]acct, 0, len(accounts))
	for id, account := range accounts {
		acts = append(acts, acct{
			Account: id,
			Balance: account.Balance,
			Nonce:   account.Nonce,
		})
	}

	sort.Slice(acts, func(i, j int) bool {
		return acts[i].Account < acts[j].Account
	})

	ai := acctInfo{
		LatestBlock: status.Hash,
		Height:      status.Height,
		Uncommitted: h.Pool.Count(),
		Accounts:    acts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	txs := h.Pool.Copy()

	return web.Respond(ctx, w, txs, http.StatusOK)
}

// Package v1 contains the full set of handler functions and
// routes supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adamwoolhether/chainsync/app/services/node/handlers/v1/admin"
	"github.com/adamwoolhether/chainsync/app/services/node/handlers/v1/private"
	"github.com/adamwoolhether/chainsync/app/services/node/handlers/v1/public"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/genesis"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/mempool"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/peer"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/state"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/storage/disk"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/syncer"
	"github.com/adamwoolhether/chainsync/foundation/events"
	"github.com/adamwoolhether/chainsync/foundation/web"
)

const version = "v1"

// Config contains all mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	Host    string
	Genesis genesis.Genesis
	Ledger  *database.Database
	Mempool *mempool.Mempool
	State   *state.State
	Storage *disk.Disk
	Peers   *peer.Set
	Syncer  *syncer.Syncer
	Evts    *events.Events
}

// PublicRoutes binds all version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:    cfg.Log,
		Gen:    cfg.Genesis,
		Ledger: cfg.Ledger,
		Pool:   cfg.Mempool,
		Syncer: cfg.Syncer,
		Evts:   cfg.Evts,
		WS:     websocket.Upgrader{},
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/accounts/list", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list", pbl.Mempool)
}

// PrivateRoutes binds all version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:     cfg.Log,
		Host:    cfg.Host,
		State:   cfg.State,
		Storage: cfg.Storage,
		Peers:   cfg.Peers,
		Syncer:  cfg.Syncer,
	}

	app.Handle(http.MethodPost, version, "/node/peers", prv.SubmitPeer)
	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/block/list/:from/:to", prv.BlocksByNumber)
	app.Handle(http.MethodGet, version, "/node/block/ids/:from/:to", prv.BlockIDs)
	app.Handle(http.MethodPost, version, "/node/block/next", prv.SubmitPeerBlock)
	app.Handle(http.MethodPost, version, "/node/block/forged", prv.SubmitForgedBlock)

	adm := admin.Handlers{
		Log:    cfg.Log,
		Syncer: cfg.Syncer,
	}

	app.Handle(http.MethodGet, version, "/sync/status", adm.Status)
	app.Handle(http.MethodPost, version, "/sync/rollback", adm.Rollback)
	app.Handle(http.MethodPost, version, "/sync/prune", adm.Prune)
}

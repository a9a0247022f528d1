// Package handlers manages the different versions of the API.
package handlers

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	v1 "github.com/adamwoolhether/chainsync/app/services/node/handlers/v1"
	"github.com/adamwoolhether/chainsync/business/web/v1/mid"
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

// MuxConfig contains all mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown chan os.Signal
	Log      *zap.SugaredLogger
	Host     string
	Genesis  genesis.Genesis
	Ledger   *database.Database
	Mempool  *mempool.Mempool
	State    *state.State
	Storage  *disk.Disk
	Peers    *peer.Set
	Syncer   *syncer.Syncer
	Evts     *events.Events
}

// PublicMux constructs a http.Handler with all application routes defined.
func PublicMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Cors("*"),
		mid.Panics(),
	)

	// Accept CORS 'OPTIONS' preflight requests if config has been provided.
	// Don't forget to apply the CORS middleware to the routes that need it.
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return nil
	}
	app.Handle(http.MethodOptions, "", "/*", h, mid.Cors("*"))

	// Load the v1 routes.
	v1.PublicRoutes(app, config(cfg))

	return app
}

// PrivateMux constructs a http.Handler with all application routes defined.
func PrivateMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Cors("*"),
		mid.Panics(),
	)

	// Load the v1 routes.
	v1.PrivateRoutes(app, config(cfg))

	return app
}

// DebugMux registers all the debug routes from the standard library into a
// new mux bypassing the use of the DefaultServerMux. The prometheus metrics
// are served from the same mux.
func DebugMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func config(cfg MuxConfig) v1.Config {
	return v1.Config{
		Log:     cfg.Log,
		Host:    cfg.Host,
		Genesis: cfg.Genesis,
		Ledger:  cfg.Ledger,
		Mempool: cfg.Mempool,
		State:   cfg.State,
		Storage: cfg.Storage,
		Peers:   cfg.Peers,
		Syncer:  cfg.Syncer,
		Evts:    cfg.Evts,
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"

	"github.com/adamwoolhether/chainsync/app/services/node/handlers"
	"github.com/adamwoolhether/chainsync/business/sys/metrics"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/genesis"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/mempool"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/peer"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/processor"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/queue"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/rounds"
	chainsignal "github.com/adamwoolhether/chainsync/foundation/blockchain/signal"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/slots"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/state"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/storage/disk"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/syncer"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/worker"
	"github.com/adamwoolhether/chainsync/foundation/events"
	"github.com/adamwoolhether/chainsync/foundation/logger"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger. NODE_LOG_LEVEL is read ahead of the
	// configuration so the configuration parsing itself can be logged.
	level := os.Getenv("NODE_LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	log, err := logger.New("NODE", level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		Node struct {
			DBPath       string   `conf:"default:zblock/blocks.db"`
			GenesisPath  string   `conf:"default:zblock/genesis.json"`
			KnownPeers   []string `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
			NetworkStart bool     `conf:"default:false"`
		}
		Sync struct {
			MaxLastBlocks       int           `conf:"default:0"`
			DownloadLimit       int           `conf:"default:500"`
			SkipReadyCheck      bool          `conf:"default:false"`
			TestMode            bool          `conf:"default:false"`
			WakeUpInterval      time.Duration `conf:"default:1m"`
			ReadyPollInterval   time.Duration `conf:"default:1s"`
			HealthCheckInterval time.Duration `conf:"default:10m"`
			PingTTL             time.Duration `conf:"default:10m"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "chainsync node",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}

		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	ev := logger.EvHandler(log)

	gen, err := genesis.Load(cfg.Node.GenesisPath)
	if err != nil {
		return fmt.Errorf("loading genesis: %w", err)
	}

	storage, err := disk.New(cfg.Node.DBPath, gen.ActiveDelegates)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer storage.Close()

	genesisBlock := database.GenesisBlock(gen)

	st, err := state.New(state.Config{
		GenesisBlock: genesisBlock,
		NetworkStart: cfg.Node.NetworkStart,
		PingTTL:      cfg.Sync.PingTTL,
	})
	if err != nil {
		return fmt.Errorf("constructing state: %w", err)
	}
	defer st.Close()

	clock := slots.New(gen.Date, gen.BlockTime)
	hub := chainsignal.NewHub()
	ledger := database.New(gen)
	pool := mempool.New()
	rnds := rounds.New(gen.ActiveDelegates, storage, hub)

	proc := processor.New(processor.Config{
		Genesis:   gen,
		Clock:     clock,
		Ledger:    ledger,
		Mempool:   pool,
		State:     st,
		Rounds:    rnds,
		EvHandler: processor.EventHandler(ev),
	})

	head, err := loadChain(storage, genesisBlock, ledger, proc)
	if err != nil {
		return fmt.Errorf("loading chain: %w", err)
	}
	st.SetLastBlock(head)
	st.SetLastStoredHeight(head.Height())

	if err := rnds.Restore(head); err != nil {
		return fmt.Errorf("restoring round: %w", err)
	}

	log.Infow("startup", "status", "chain loaded", "height", head.Height(), "id", head.Hash())

	peers := peer.NewSet()
	for _, host := range cfg.Node.KnownPeers {
		peers.Add(peer.New(host))
	}

	wrk := worker.New(worker.Config{
		Host:      cfg.Web.PrivateHost,
		Peers:     peers,
		Chain:     st,
		Storage:   storage,
		Clock:     clock,
		Hub:       hub,
		EvHandler: worker.EventHandler(ev),
	})

	evts := events.New()

	chainSync, err := syncer.New(syncer.Config{
		Log:                 log,
		EvHandler:           syncer.EventHandler(ev),
		Genesis:             gen,
		Clock:               clock,
		Hub:                 hub,
		State:               st,
		Storage:             storage,
		Rounds:              rnds,
		Pool:                pool,
		Processor:           proc,
		Network:             wrk,
		Notifier:            events.NewNotifier(evts),
		Metrics:             metrics.NewSyncer(),
		Queue:               queue.New(queue.EventHandler(ev)),
		MaxLastBlocks:       cfg.Sync.MaxLastBlocks,
		DownloadLimit:       cfg.Sync.DownloadLimit,
		SkipReadyCheck:      cfg.Sync.SkipReadyCheck,
		TestMode:            cfg.Sync.TestMode,
		WakeUpInterval:      cfg.Sync.WakeUpInterval,
		ReadyPollInterval:   cfg.Sync.ReadyPollInterval,
		HealthCheckInterval: cfg.Sync.HealthCheckInterval,
	})
	if err != nil {
		return fmt.Errorf("constructing syncer: %w", err)
	}

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints and the
	// prometheus metrics.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, handlers.DebugMux()); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 2)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Host:     cfg.Web.PrivateHost,
		Genesis:  gen,
		Ledger:   ledger,
		Mempool:  pool,
		State:    st,
		Storage:  storage,
		Peers:    peers,
		Syncer:   chainSync,
		Evts:     evts,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Start Sync Support

	wrk.Run()
	defer wrk.Shutdown()

	bootCtx, cancelBoot := context.WithCancel(context.Background())
	defer cancelBoot()

	go func() {
		if !chainSync.Boot(bootCtx, cfg.Sync.SkipReadyCheck) {
			log.Infow("startup", "status", "sync boot abandoned")
		}
	}()

	// The node is ready to take part in the network once both routers are up.
	st.SetStarted(true)

	defer func() {
		log.Infow("shutdown", "status", "stopping sync")
		chainSync.Dispose()
		evts.Shutdown()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case err := <-chainSync.Fatal():
		shutdownServers(log, cfg.Web.ShutdownTimeout, &public, &private)
		return fmt.Errorf("sync: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		if err := shutdownServers(log, cfg.Web.ShutdownTimeout, &public, &private); err != nil {
			return err
		}
	}

	return nil
}

// shutdownServers asks the listeners to shut down and shed load.
func shutdownServers(log *zap.SugaredLogger, timeout time.Duration, servers ...*http.Server) error {

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	for _, srv := range servers {
		log.Infow("shutdown", "status", "shutdown api started", "host", srv.Addr)
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			if firstErr == nil {
				firstErr = fmt.Errorf("could not stop server %s gracefully: %w", srv.Addr, err)
			}
		}
	}

	return firstErr
}

// loadChain replays the blocks on disk into the ledger and returns the last
// block. A new chain is started from the genesis block.
func loadChain(storage *disk.Disk, genesisBlock database.Block, ledger *database.Database, proc *processor.Processor) (database.Block, error) {
	if storage.Height() == 0 {
		if err := storage.SaveBlocks([]database.Block{genesisBlock}); err != nil {
			return database.Block{}, err
		}
		return genesisBlock, nil
	}

	head := database.Block{}

	iter := storage.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return database.Block{}, err
		}

		if block.Height() == 1 {
			if block.Hash() != genesisBlock.Hash() {
				return database.Block{}, fmt.Errorf("genesis block on disk %s does not match %s", block.Hash(), genesisBlock.Hash())
			}
			head = block
			continue
		}

		if !proc.IsChained(head, block) {
			return database.Block{}, fmt.Errorf("block %d does not link to block %d", block.Height(), head.Height())
		}

		for _, tx := range block.Transactions {
			if err := ledger.ApplyTx(database.AccountID(block.Header.Generator), tx); err != nil {
				return database.Block{}, fmt.Errorf("block %d: tx %s: %w", block.Height(), tx, err)
			}
		}

		head = block
	}

	return head, nil
}

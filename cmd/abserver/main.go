package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vctt94/andarbahar/pkg/broadcast"
	"github.com/vctt94/andarbahar/pkg/config"
	"github.com/vctt94/andarbahar/pkg/engine"
	"github.com/vctt94/andarbahar/pkg/ledger"
	"github.com/vctt94/andarbahar/pkg/logging"
	"github.com/vctt94/andarbahar/pkg/memdb"
	"github.com/vctt94/andarbahar/pkg/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "abserver: %v\n", err)
		os.Exit(1)
	}
}

type storage interface {
	engine.Store
	engine.WageringReporter
	engine.StatsRecorder
}

func run() error {
	var (
		cfgPath    string
		dataDir    string
		grpcListen string
		wsListen   string
		debugLevel string
		portFile   string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to config file (default <datadir>/"+config.DefaultFileName+")")
	flag.StringVar(&dataDir, "datadir", "", "Directory for the database and logs")
	flag.StringVar(&grpcListen, "grpclisten", "", "gRPC listen address")
	flag.StringVar(&wsListen, "wslisten", "", "Websocket gateway listen address (empty disables it)")
	flag.StringVar(&debugLevel, "debuglevel", "", "Logging level: trace, debug, info, warn, error, or SUBSYS=level pairs")
	flag.StringVar(&portFile, "portfile", "", "If set, write the selected gRPC port to this file")
	flag.Parse()

	if cfgPath == "" {
		dir := dataDir
		if dir == "" {
			dir = os.Getenv("AB_DATADIR")
		}
		if dir != "" {
			cfgPath = filepath.Join(dir, config.DefaultFileName)
		} else {
			cfgPath = config.DefaultFileName
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if grpcListen != "" {
		cfg.Server.GRPCListen = grpcListen
	}
	if wsListen != "" {
		cfg.Server.WSListen = wsListen
	}
	if debugLevel != "" {
		cfg.Log.DebugLevel = debugLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logBackend, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:      cfg.LogFile(),
		DebugLevel:   cfg.Log.DebugLevel,
		MaxLogFiles:  cfg.Log.MaxLogFiles,
		MaxLogSizeKB: cfg.Log.MaxLogSizeKB,
	})
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer logBackend.Close()
	log := logBackend.Logger("SRVR")

	// Storage
	var store storage
	if cfg.InMemory() {
		log.Warnf("Using in-memory storage; balances and rounds are lost on exit")
		store = memdb.New()
	} else {
		db, err := server.NewDatabase(cfg.DBPath())
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		defer db.Close()
		store = db
		log.Infof("Using database %s", cfg.DBPath())
	}

	hub := broadcast.NewHub(logBackend.Logger("BCST"), cfg.Broadcast.SubscriberBuf)
	disp := broadcast.NewDispatcher(hub, logBackend.Logger("BCST"), cfg.Broadcast.QueueSize, cfg.Broadcast.Workers)
	disp.Start()
	defer disp.Stop()

	l := ledger.New(store, ledger.Config{
		MaxRetries:  cfg.Ledger.MaxRetries,
		BaseBackoff: cfg.Ledger.BaseBackoff,
		Log:         logBackend.Logger("LDGR"),
	})
	eng, err := engine.New(engine.Config{
		BettingDuration: cfg.Game.BettingDuration,
		TickInterval:    cfg.Game.TickInterval,
		MinBet:          cfg.Game.MinBet,
		MaxBet:          cfg.Game.MaxBet,
		PayoutWorkers:   cfg.Game.PayoutWorkers,
		Log:             logBackend.Logger("ENGN"),
	}, engine.Deps{
		Store:     store,
		Ledger:    l,
		Publisher: disp,
		Wagering:  store,
		Stats:     store,
	})
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := eng.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover open rounds: %w", err)
	}
	if n > 0 {
		log.Infof("Recovered %d open rounds", n)
	}

	srv, err := server.NewServer(server.Config{
		Engine: eng,
		Hub:    hub,
		Auth:   server.StaticAuthenticator{Token: cfg.Server.DealerToken},
		Log:    log,
		WSLog:  logBackend.Logger("WS"),
	})
	if err != nil {
		return err
	}

	sweeper, err := server.NewSweeper(eng, cfg.Sweeper.Schedule, logBackend.Logger("SWPR"))
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	lis, err := net.Listen("tcp", cfg.Server.GRPCListen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if portFile != "" {
		_, p, _ := net.SplitHostPort(lis.Addr().String())
		_ = os.WriteFile(portFile, []byte(p), 0600)
	}
	grpcSrv := srv.NewGRPCServer()

	errc := make(chan error, 2)
	go func() {
		log.Infof("gRPC listening on %s", lis.Addr())
		errc <- grpcSrv.Serve(lis)
	}()

	var httpSrv *http.Server
	if cfg.Server.WSListen != "" {
		httpSrv = &http.Server{
			Addr:              cfg.Server.WSListen,
			Handler:           srv.HTTPHandler(cfg.Server.WSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("Websocket gateway listening on %s", cfg.Server.WSListen)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Infof("Shutting down")
	case err = <-errc:
		log.Errorf("Serve error: %v", err)
	}

	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		httpSrv.Shutdown(sctx)
		cancel()
	}
	// Subscription streams only end when their clients leave.
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		grpcSrv.Stop()
	}
	return err
}

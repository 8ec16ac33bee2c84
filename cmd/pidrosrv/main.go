package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/config"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/server"
	"github.com/marcelfahle/pidro-backend-sub005/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath string
		listenAddr string
		dbPath     string
		debugLevel string
	)
	flag.StringVar(&configPath, "config", "", "Path to config file (default: search for pidro.yml)")
	flag.StringVar(&listenAddr, "listen", "", "Listen address, overrides the config")
	flag.StringVar(&dbPath, "db", "", "Path to SQLite database file, overrides the config (created if missing)")
	flag.StringVar(&debugLevel, "debuglevel", "", "Logging level: trace, debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if dbPath != "" {
		cfg.Server.DBPath = dbPath
	}
	if debugLevel != "" {
		cfg.Log.Level = debugLevel
	}

	// Logging backend
	logBackend, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:     cfg.Log.File,
		DebugLevel:  cfg.Log.Level,
		MaxLogFiles: cfg.Log.MaxFiles,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}
	log := logBackend.Logger("MAIN")

	if err := utils.EnsureDataDirExists(cfg.Server.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Init DB
	db, err := server.NewDatabase(cfg.Server.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.NewServer(db, logBackend, cfg)

	// No read/write timeouts here: WebSocket connections are long-lived and
	// manage their own deadlines.
	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		log.Infof("Pidro server listening on %s", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infof("Shutting down")

	// Stop accepting new connections first, then tear down the sessions the
	// shutdown does not cover (hijacked WebSocket connections).
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	srv.Close()

	log.Infof("Server stopped")
}

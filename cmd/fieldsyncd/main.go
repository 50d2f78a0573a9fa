package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldsync/fieldsync/cmd/fieldsyncd/handlers"
	"github.com/fieldsync/fieldsync/internal/api"
	"github.com/fieldsync/fieldsync/internal/cache"
	"github.com/fieldsync/fieldsync/internal/config"
	"github.com/fieldsync/fieldsync/internal/connectivity"
	"github.com/fieldsync/fieldsync/internal/db"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/queue"
	"github.com/fieldsync/fieldsync/internal/replay"
	"github.com/fieldsync/fieldsync/internal/router"
	"github.com/fieldsync/fieldsync/internal/scheduler"
	"github.com/fieldsync/fieldsync/internal/session"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		userID     = flag.String("user", "", "authenticated user id for this partition")
		orgID      = flag.String("org", "", "organization id for this partition")
		machineID  = flag.String("machine-id", "", "machine identifier for token encryption")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logging.Init(os.Stderr, level)

	if *userID == "" || *orgID == "" {
		fmt.Fprintln(os.Stderr, "fieldsyncd: -user and -org are required")
		os.Exit(2)
	}
	if *machineID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "default"
		}
		*machineID = host
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logging.Error("Failed to load configuration", err,
				map[string]interface{}{"path": *configPath})
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := run(cfg, *userID, *orgID, *machineID); err != nil {
		logging.Error("Daemon exited with error", err)
		os.Exit(1)
	}
}

// run wires the sync core and serves the control API until a signal arrives.
func run(cfg *config.Config, userID, orgID, machineID string) error {
	database, err := db.Open(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	repo := db.NewPartitionRepository(database.DB)

	store, err := queue.NewStore(userID, orgID, repo, queue.Limits{
		MaxItems:           cfg.Queue.MaxItems,
		MaxQueueBytes:      cfg.Queue.MaxQueueBytes,
		MaxItemBytes:       cfg.Queue.MaxItemBytes,
		MaxRetries:         cfg.Queue.MaxRetries,
		BinaryRunThreshold: cfg.Queue.BinaryRunThreshold,
	})
	if err != nil {
		return err
	}

	sessions := session.NewHTTPProvider(cfg.Remote.AuthURL, machineID, repo)
	remote := api.NewHTTPClient(api.HTTPConfig{
		BaseURL: cfg.Remote.BaseURL,
		Timeout: cfg.Remote.Timeout(),
	}, sessions)

	monitor := connectivity.NewMonitor(cfg.Remote.BaseURL+"/health", cfg.Scheduler.ProbeInterval())

	hub := NewWSHub()

	rt := router.New(store, remote, monitor)
	rt.SetNotifier(hub)

	invalidations := cache.NewRegistry()
	processor := replay.NewProcessor(store, remote, sessions, invalidations)
	processor.SetEvents(hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(processor, store, monitor, cfg.Scheduler.ReplayInterval())
	monitor.OnChange(sched.OnConnectivityChange(ctx))

	monitor.Start(ctx)
	defer monitor.Stop()
	sched.Start(ctx)
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("GET /ws", HandleWebSocket(hub))
	handlers.New(store, rt, sched, monitor).Register(mux)

	server := &http.Server{
		Addr:    cfg.Daemon.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("FieldSync daemon listening", map[string]interface{}{
			"addr":            cfg.Daemon.ListenAddr,
			"user_id":         userID,
			"organization_id": orgID,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Remote.Timeout())
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"raft-log-core/internal/pubsub"
	"raft-log-core/internal/raft/metrics"
	"raft-log-core/internal/raft/replica"
	"raft-log-core/internal/raft/server"
	"raft-log-core/internal/raft/state_machine"
	"raft-log-core/internal/raft/storage"

	"github.com/google/uuid"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to a YAML or TOML config file")
	port := flag.Int("port", -1, "Port to run the server on, overrides the config")
	nodeID := flag.String("id", "", "Node ID, overrides the config (generated if not provided)")
	flag.Parse()

	cfg := server.DefaultConfig()
	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *nodeID != "" {
		cfg.Node.ID = *nodeID
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.New().String()
	}
	if *port >= 0 {
		cfg.Node.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := server.NewLogger(cfg.Logging, cfg.Node.ID)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Create data directory for the BBolt database
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		logger.Fatalw("failed to create data directory", "dir", cfg.Node.DataDir, "error", err)
	}

	db, err := storage.NewBboltStorage(cfg.DBPath())
	if err != nil {
		logger.Fatalw("failed to open storage", "path", cfg.DBPath(), "error", err)
	}

	bus := pubsub.NewPubSub(logger)
	opts := []replica.Option{replica.WithLogger(logger), replica.WithPubSub(bus)}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics()
		opts = append(opts, replica.WithMetrics(m))
	}

	rep, err := replica.Open(cfg.NodeID(), cfg.Node.InitialTerm, db, opts...)
	if err != nil {
		_ = db.Close()
		logger.Fatalw("failed to open replica", "error", err)
	}

	kv := state_machine.NewKVStateMachine(logger)
	srv := server.NewServer(cfg.NodeID(), rep, bus, logger)
	srv.StateMachine = kv

	go func() {
		if err := srv.StartServer(cfg.Node.Port); err != nil {
			logger.Fatalw("server failed", "error", err)
		}
	}()

	// Wait for shutdown signal
	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()

	logger.Infow("shutting down")
	srv.GracefulShutdown()
	if err := rep.Close(); err != nil {
		logger.Errorw("failed to close replica", "error", err)
	}
	bus.GracefulShutdown()
	logger.Infow("state machine stopped", "lastApplied", kv.LastApplied(), "keys", len(kv.GetAll()))

	if m != nil {
		report := m.GetReport(cfg.Node.ID)
		report.PrintReport(os.Stdout)
		if cfg.Metrics.ReportPath != "" {
			if err := report.SaveJSON(cfg.Metrics.ReportPath); err != nil {
				logger.Errorw("failed to save metrics report", "error", err)
			} else {
				logger.Infow("metrics report saved", "path", cfg.Metrics.ReportPath)
			}
		}
	}
}

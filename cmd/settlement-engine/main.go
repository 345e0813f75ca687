// The settlement engine drives queued payout batches through the configured
// settlement rail on a fixed interval.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/engine"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/platform/flags"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/platform/notify"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/platform/storage"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement/evm"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement/shadow"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement/simulated"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	once := flag.Bool("once", false, "run a single settlement cycle and exit")
	migrateDown := flag.Int("migrate-down", 0, "roll back the last N schema migrations and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(*logLevel)}))
	slog.SetDefault(logger)

	logger.Info("starting settlement engine", "config", *configPath)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := storage.New(ctx, cfg.Database.storageConfig())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *migrateDown > 0 {
		if err := db.MigrateDown(ctx, *migrateDown); err != nil {
			logger.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations rolled back", "steps", *migrateDown)
		return
	}

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	flagReader, err := flags.NewReader(cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to flag store", "error", err)
		os.Exit(1)
	}
	defer flagReader.Close()

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Nats.Enabled {
		n, err := notify.Connect(cfg.Nats.Client, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer n.Close()
		notifier = n
	}

	registry := settlement.NewRegistry()
	registry.Register(simulated.NewAdapter(logger))
	registry.Register(shadow.NewSimulated(logger))

	if cfg.Evm.Enabled {
		client, err := evm.Dial(ctx, &cfg.Evm)
		if err != nil {
			logger.Error("failed to connect to EVM RPC", "error", err)
			os.Exit(1)
		}
		evmAdapter, err := evm.NewAdapter(&cfg.Evm, client, storage.NewExecutionRepository(db), logger)
		if err != nil {
			logger.Error("failed to create EVM adapter", "error", err)
			os.Exit(1)
		}
		registry.Register(evmAdapter)
		registry.Register(shadow.NewEvm(evmAdapter, logger))
	}

	logger.Info("adapters registered", "rails", registry.Names())

	eng := engine.New(
		cfg.Engine,
		storage.NewBatchRepository(db),
		registry,
		flagReader,
		storage.NewShadowLogRepository(db),
		notifier,
		logger,
	)

	if *once {
		if err := eng.ProcessQueue(ctx); err != nil {
			logger.Error("settlement cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("entering settlement loop", "poll_interval", cfg.PollInterval)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("settlement engine shutdown complete")
			return
		case <-ticker.C:
			if err := eng.ProcessQueue(ctx); err != nil {
				if errors.Is(err, engine.ErrAlreadyRunning) {
					logger.Debug("previous cycle still running, skipping tick")
					continue
				}
				logger.Error("settlement cycle failed", "error", err)
			}
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

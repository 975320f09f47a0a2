package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/clinicsql/clinicsql/internal/config"
	"github.com/clinicsql/clinicsql/internal/maintenance"
	"github.com/clinicsql/clinicsql/internal/observability"
	"github.com/clinicsql/clinicsql/internal/snapshot"
	"github.com/clinicsql/clinicsql/internal/store"
)

func main() {
	verifyOnly := flag.Bool("verify", false, "check the newest snapshots for missing or resized files instead of exporting")
	flag.Parse()

	if err := config.LoadEnvFiles(); err != nil {
		slog.Error("failed to load env file", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("clinicsql-snapshot")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if !cfg.Snapshot.Enabled {
		logger.Error("snapshots are disabled; set CLINICSQL_SNAPSHOT_ENABLED=true")
		os.Exit(1)
	}
	if cfg.Snapshot.ObjectStore.Endpoint == config.ObjectStoreMemory {
		logger.Error("a one-shot export needs a persistent object store endpoint")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objects, err := snapshot.NewObjectStore(ctx, cfg.Snapshot.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	if *verifyOnly {
		checker := &maintenance.Service{
			ObjectStore: objects,
			Config:      maintenance.Config{IntegritySnapshotLimit: cfg.Snapshot.IntegrityLimit},
			Logger:      logger,
		}
		summary, err := checker.RunIntegrityCheckOnce(ctx)
		if err != nil {
			logger.Error("integrity check failed", slog.Any("error", err), slog.Any("summary", summary))
			os.Exit(1)
		}
		logger.Info("integrity check completed", slog.Any("summary", summary))
		return
	}

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	manifest, err := snapshot.NewExporter(st, objects, cfg.Snapshot.Keep, logger).Export(ctx)
	if err != nil {
		logger.Error("snapshot export failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("snapshot ready",
		slog.String("snapshot_id", manifest.SnapshotID),
		slog.Int("tables", len(manifest.Tables)),
		slog.Int64("rows", manifest.TotalRows()),
	)
}

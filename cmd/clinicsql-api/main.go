package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicsql/clinicsql/internal/api"
	"github.com/clinicsql/clinicsql/internal/auth"
	"github.com/clinicsql/clinicsql/internal/config"
	"github.com/clinicsql/clinicsql/internal/maintenance"
	"github.com/clinicsql/clinicsql/internal/migrations"
	"github.com/clinicsql/clinicsql/internal/nl2sql"
	"github.com/clinicsql/clinicsql/internal/observability"
	"github.com/clinicsql/clinicsql/internal/pipeline"
	"github.com/clinicsql/clinicsql/internal/query"
	duckdbengine "github.com/clinicsql/clinicsql/internal/query/duckdb"
	"github.com/clinicsql/clinicsql/internal/query/sqlstore"
	"github.com/clinicsql/clinicsql/internal/schema"
	"github.com/clinicsql/clinicsql/internal/snapshot"
	"github.com/clinicsql/clinicsql/internal/storage"
	"github.com/clinicsql/clinicsql/internal/store"
)

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		slog.Error("failed to load env file", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("clinicsql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	// An in-memory embedded store starts empty; file and server stores are
	// provisioned with clinicsql-migrate.
	if st.Driver == config.DriverDuckDB && cfg.Store.Path == "" {
		applied, err := migrations.NewRunner(st.Dialect()).Up(ctx, st.DB, 0)
		if err != nil {
			logger.Error("failed to provision in-memory store", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("in-memory store provisioned", slog.Int("migrations", applied))
	}

	clinic := schema.Clinic()
	probes := []api.Probe{api.StoreProbe(st)}

	var (
		objects   storage.ObjectStore
		exporter  *snapshot.Exporter
		engine    query.Engine
		dialect   = st.Dialect()
		queryMode = cfg.Snapshot.QueryMode
	)
	if cfg.Snapshot.Enabled {
		objects, err = snapshot.NewObjectStore(ctx, cfg.Snapshot.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		exporter = snapshot.NewExporter(st, objects, cfg.Snapshot.Keep, logger)
		probes = append(probes, api.ObjectStoreProbe(objects))

		maintenanceService := &maintenance.Service{
			Exporter:    exporter,
			ObjectStore: objects,
			Config: maintenance.Config{
				ExportInterval:         cfg.Snapshot.ExportInterval,
				IntegrityInterval:      cfg.Snapshot.IntegrityInterval,
				IntegritySnapshotLimit: cfg.Snapshot.IntegrityLimit,
			},
			Logger: logger,
		}
		go func() {
			if err := maintenanceService.Run(ctx); err != nil {
				logger.Error("snapshot maintenance stopped", slog.Any("error", err))
			}
		}()
	}
	if queryMode == config.QueryModeSnapshot {
		engine = duckdbengine.NewEngine(objects, cfg.Query.Timeout)
		dialect = config.DriverDuckDB
	} else {
		engine = sqlstore.NewExecutor(st.DB, sqlstore.Options{
			ReadOnly:   cfg.Store.ReadOnly,
			ReadOnlyTx: cfg.Store.ReadOnly && st.ReadOnlyTx,
			Timeout:    cfg.Query.Timeout,
		})
	}

	generator, err := nl2sql.NewGenerator(cfg.AI, observability.ModelAttempts{})
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.AI.APIKey == "" {
		logger.Warn("no model API key configured; queries will fail with a config error",
			slog.String("provider", cfg.AI.Provider))
	}

	service := pipeline.New(generator, engine, pipeline.Options{
		SchemaDescription: clinic.Describe(),
		Dialect:           dialect,
		DefaultLimit:      cfg.Query.DefaultLimit,
		MaxLimit:          cfg.Query.MaxLimit,
		ReadOnly:          cfg.Store.ReadOnly,
		Logger:            logger,
	})

	deps := api.Dependencies{
		Logger:        logger,
		Probes:        probes,
		ProbeTimeout:  time.Second,
		Pipeline:      service,
		Schema:        &clinic,
		SnapshotStore: objects,
	}
	if exporter != nil {
		deps.Snapshots = exporter
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("api key auth enabled", slog.Int("keys", validator.Len()))
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("store", st.Driver),
			slog.String("query_mode", queryMode),
			slog.String("provider", cfg.AI.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

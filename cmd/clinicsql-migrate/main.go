package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/clinicsql/clinicsql/internal/config"
	"github.com/clinicsql/clinicsql/internal/migrations"
	"github.com/clinicsql/clinicsql/internal/observability"
	"github.com/clinicsql/clinicsql/internal/store"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	flag.Parse()

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("clinicsql-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	// Provisioning writes, so the store is opened read-write regardless of
	// CLINICSQL_DB_READ_ONLY.
	cfg.Store.ReadOnly = false

	if cfg.Store.ResolvedDriver() == config.DriverDuckDB && cfg.Store.Path == "" {
		fmt.Fprintln(os.Stderr, "CLINICSQL_DB_PATH is required for the embedded store")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := observability.NewLogger(cfg, os.Stderr)
	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	runner := migrations.NewRunner(st.Dialect())
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, st.DB, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		logger.Info("migrations applied", slog.String("driver", st.Driver), slog.Int("count", applied))
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		applied, err := runner.Down(ctx, st.DB, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", applied)
	case "status":
		statuses, err := runner.Status(ctx, st.DB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration status failed: %v\n", err)
			os.Exit(1)
		}
		for _, status := range statuses {
			state := "pending"
			if status.Applied {
				state = "applied"
			}
			fmt.Printf("%04d %-32s %s\n", status.Version, status.Name, state)
		}
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}

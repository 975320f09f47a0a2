package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clinicsql/clinicsql/internal/cli/clinicctl"
	"github.com/clinicsql/clinicsql/internal/config"
)

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "env file: %v\n", err)
	}
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("CLINICSQL_CLI_TIMEOUT")), 30*time.Second)
	options := clinicctl.Options{
		BaseURL: envOr("CLINICSQL_API_URL", "http://localhost:8000"),
		APIKey:  strings.TrimSpace(os.Getenv("CLINICSQL_API_KEY")),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := clinicctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid CLINICSQL_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}

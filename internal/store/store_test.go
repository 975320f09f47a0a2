package store

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clinicsql/clinicsql/internal/config"
)

func TestDuckDBDSN(t *testing.T) {
	if got := DuckDBDSN(config.StoreConfig{}); got != "" {
		t.Fatalf("DuckDBDSN() = %q, want in-memory", got)
	}
	if got := DuckDBDSN(config.StoreConfig{Path: "clinic.duckdb", ReadOnly: true}); got != "clinic.duckdb?access_mode=READ_ONLY&enable_external_access=false" {
		t.Fatalf("DuckDBDSN() = %q", got)
	}
	if got := DuckDBDSN(config.StoreConfig{ReadOnly: true}); got != "?enable_external_access=false" {
		t.Fatalf("DuckDBDSN() = %q", got)
	}
	if got := DuckDBDSN(config.StoreConfig{Path: "clinic.duckdb"}); got != "clinic.duckdb" {
		t.Fatalf("DuckDBDSN() = %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	got := PostgresDSN(config.StoreConfig{Host: "db", Name: "clinic", User: "reader", Password: "p@ss", ReadOnly: true})
	want := "postgres://reader:p%40ss@db:5432/clinic?default_transaction_read_only=on&sslmode=prefer"
	if got != want {
		t.Fatalf("PostgresDSN() = %q, want %q", got, want)
	}
}

func TestMySQLDSN(t *testing.T) {
	got, err := MySQLDSN(config.StoreConfig{Host: "db", Port: 3307, Name: "clinic", User: "reader", Password: "secret"})
	if err != nil {
		t.Fatalf("MySQLDSN() error = %v", err)
	}
	for _, part := range []string{"reader:secret@tcp(db:3307)/clinic", "parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(got, part) {
			t.Fatalf("MySQLDSN() = %q, missing %q", got, part)
		}
	}
	if _, err := MySQLDSN(config.StoreConfig{Host: "db"}); err == nil {
		t.Fatal("expected error for incomplete params")
	}
}

func TestOpenInMemoryDuckDB(t *testing.T) {
	st, err := Open(context.Background(), config.StoreConfig{}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = st.Close() }()

	if st.Dialect() != config.DriverDuckDB || st.ReadOnlyTx {
		t.Fatalf("store = %+v", st)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestReadOnlyDuckDBCannotWriteFiles(t *testing.T) {
	st, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverDuckDB, ReadOnly: true}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = st.Close() }()

	target := filepath.Join(t.TempDir(), "out.csv")
	if _, err := st.DB.Exec("COPY (SELECT 42 AS v) TO '" + target + "'"); err == nil {
		t.Fatal("COPY TO succeeded on a read-only store")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("Stat(%s) error = %v, want not exist", target, err)
	}
}

func TestOpenFallsBackWhenServerUnreachable(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	cfg := config.StoreConfig{
		Host:        "127.0.0.1",
		Port:        1,
		Name:        "clinic",
		User:        "reader",
		PingTimeout: 200 * time.Millisecond,
	}

	st, err := Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = st.Close() }()

	if st.Driver != config.DriverDuckDB {
		t.Fatalf("Driver = %q, want fallback to duckdb", st.Driver)
	}
	if !strings.Contains(logs.String(), "falling back to embedded store") {
		t.Fatalf("logs = %s", logs.String())
	}
}

func TestOpenExplicitDriverDoesNotFallBack(t *testing.T) {
	cfg := config.StoreConfig{
		Driver:      config.DriverMySQL,
		Host:        "127.0.0.1",
		Port:        1,
		Name:        "clinic",
		User:        "reader",
		PingTimeout: 200 * time.Millisecond,
	}
	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unreachable explicit driver")
	}
}

// Package store opens the relational database the pipeline reads from.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/clinicsql/clinicsql/internal/config"
)

// Store is an open pool plus what callers need to know about its dialect.
type Store struct {
	DB     *sql.DB
	Driver string
	// ReadOnlyTx reports whether the driver honours sql.TxOptions.ReadOnly.
	ReadOnlyTx bool
}

// Dialect names the SQL flavour for prompt construction.
func (s *Store) Dialect() string {
	return s.Driver
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("store is not open")
	}
	return s.DB.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Open connects to the configured store. When the driver was auto-detected
// and the server is unreachable, it falls back to the embedded database.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	driver := cfg.ResolvedDriver()
	st, err := openDriver(ctx, driver, cfg)
	if err == nil {
		logger.Info("store opened", slog.String("driver", driver))
		return st, nil
	}
	if strings.TrimSpace(cfg.Driver) != config.DriverAuto || driver == config.DriverDuckDB {
		return nil, err
	}

	logger.Warn("server store unavailable, falling back to embedded store",
		slog.String("driver", driver),
		slog.String("path", cfg.Path),
		slog.Any("error", err),
	)
	return openDriver(ctx, config.DriverDuckDB, cfg)
}

func openDriver(ctx context.Context, driver string, cfg config.StoreConfig) (*Store, error) {
	var (
		sqlDriver  string
		dsn        string
		readOnlyTx bool
		err        error
	)
	switch driver {
	case config.DriverDuckDB:
		sqlDriver, dsn = "duckdb", DuckDBDSN(cfg)
	case config.DriverPostgres:
		sqlDriver, dsn, readOnlyTx = "pgx", PostgresDSN(cfg), true
	case config.DriverMySQL:
		sqlDriver, readOnlyTx = "mysql", true
		dsn, err = MySQLDSN(cfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}

	return &Store{DB: db, Driver: driver, ReadOnlyTx: readOnlyTx}, nil
}

// DuckDBDSN returns an in-memory database for an empty path. A read-only
// store cannot reach the filesystem or network (no COPY TO, read_csv or
// ATTACH), and file databases are also opened in read-only access mode.
func DuckDBDSN(cfg config.StoreConfig) string {
	path := strings.TrimSpace(cfg.Path)
	if !cfg.ReadOnly {
		return path
	}
	params := url.Values{}
	params.Set("enable_external_access", "false")
	if path != "" {
		params.Set("access_mode", "READ_ONLY")
	}
	return path + "?" + params.Encode()
}

func PostgresDSN(cfg config.StoreConfig) string {
	port := cfg.Port
	if port <= 0 {
		port = 5432
	}
	dsn := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Name,
	}
	if cfg.Password != "" {
		dsn.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		dsn.User = url.User(cfg.User)
	}
	values := url.Values{}
	values.Set("sslmode", "prefer")
	if cfg.ReadOnly {
		values.Set("default_transaction_read_only", "on")
	}
	dsn.RawQuery = values.Encode()
	return dsn.String()
}

func MySQLDSN(cfg config.StoreConfig) (string, error) {
	if cfg.Host == "" || cfg.Name == "" || cfg.User == "" {
		return "", fmt.Errorf("mysql store requires host, name and user")
	}
	port := cfg.Port
	if port <= 0 {
		port = 3306
	}
	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = cfg.User
	mysqlCfg.Passwd = cfg.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mysqlCfg.DBName = cfg.Name
	mysqlCfg.ParseTime = true
	mysqlCfg.Loc = time.UTC
	mysqlCfg.Params = map[string]string{"charset": "utf8mb4"}
	if cfg.PingTimeout > 0 {
		mysqlCfg.Timeout = cfg.PingTimeout
	}
	return mysqlCfg.FormatDSN(), nil
}

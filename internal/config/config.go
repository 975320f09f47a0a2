package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DriverAuto     = ""
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const (
	ProviderDashScope = "dashscope"
	ProviderOpenAI    = "openai"
)

const (
	QueryModeLive     = "live"
	QueryModeSnapshot = "snapshot"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Query         QueryConfig
	AI            AIConfig
	Snapshot      SnapshotConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig describes the relational store the pipeline queries. When the
// server parameters are incomplete the embedded file-backed database at Path
// is used instead.
type StoreConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	Path            string
	ReadOnly        bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

type QueryConfig struct {
	Timeout      time.Duration
	DefaultLimit int
	MaxLimit     int
}

type AIConfig struct {
	Provider     string
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

type SnapshotConfig struct {
	Enabled   bool
	QueryMode string
	Keep      int
	// ExportInterval schedules exports inside the API process; 0 disables.
	ExportInterval    time.Duration
	IntegrityInterval time.Duration
	IntegrityLimit    int
	ObjectStore       ObjectStoreConfig
}

// ObjectStoreMemory selects the in-process object store instead of S3.
const ObjectStoreMemory = "memory"

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

// LoadEnvFiles preloads variables from .env style files into the process
// environment. Variables already set win. Missing files are skipped; with no
// paths it reads ".env" from the working directory.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return nil
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("CLINICSQL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid CLINICSQL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "CLINICSQL_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "CLINICSQL_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "CLINICSQL_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "CLINICSQL_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "CLINICSQL_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "CLINICSQL_DB_DRIVER", &cfg.Store.Driver) },
		func() error { return applyString(lookup, "CLINICSQL_DB_HOST", &cfg.Store.Host) },
		func() error { return applyInt(lookup, "CLINICSQL_DB_PORT", &cfg.Store.Port) },
		func() error { return applyString(lookup, "CLINICSQL_DB_NAME", &cfg.Store.Name) },
		func() error { return applyString(lookup, "CLINICSQL_DB_USER", &cfg.Store.User) },
		func() error { return applyString(lookup, "CLINICSQL_DB_PASSWORD", &cfg.Store.Password) },
		func() error { return applyString(lookup, "CLINICSQL_DB_PATH", &cfg.Store.Path) },
		func() error { return applyBool(lookup, "CLINICSQL_DB_READ_ONLY", &cfg.Store.ReadOnly) },
		func() error { return applyInt(lookup, "CLINICSQL_DB_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns) },
		func() error { return applyInt(lookup, "CLINICSQL_DB_MAX_IDLE_CONNS", &cfg.Store.MaxIdleConns) },
		func() error { return applyDuration(lookup, "CLINICSQL_DB_CONN_MAX_IDLE_TIME", &cfg.Store.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "CLINICSQL_DB_CONN_MAX_LIFETIME", &cfg.Store.ConnMaxLifetime) },
		func() error { return applyDuration(lookup, "CLINICSQL_DB_PING_TIMEOUT", &cfg.Store.PingTimeout) },

		func() error { return applyDuration(lookup, "CLINICSQL_QUERY_TIMEOUT", &cfg.Query.Timeout) },
		func() error { return applyInt(lookup, "CLINICSQL_QUERY_DEFAULT_LIMIT", &cfg.Query.DefaultLimit) },
		func() error { return applyInt(lookup, "CLINICSQL_QUERY_MAX_LIMIT", &cfg.Query.MaxLimit) },

		func() error { return applyString(lookup, "CLINICSQL_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "CLINICSQL_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "DASHSCOPE_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "CLINICSQL_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "CLINICSQL_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "CLINICSQL_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "CLINICSQL_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "CLINICSQL_AI_MAX_ATTEMPTS", &cfg.AI.MaxAttempts) },
		func() error { return applyDuration(lookup, "CLINICSQL_AI_RETRY_BACKOFF", &cfg.AI.RetryBackoff) },

		func() error { return applyBool(lookup, "CLINICSQL_SNAPSHOT_ENABLED", &cfg.Snapshot.Enabled) },
		func() error { return applyString(lookup, "CLINICSQL_SNAPSHOT_QUERY_MODE", &cfg.Snapshot.QueryMode) },
		func() error { return applyInt(lookup, "CLINICSQL_SNAPSHOT_KEEP", &cfg.Snapshot.Keep) },
		func() error { return applyDuration(lookup, "CLINICSQL_SNAPSHOT_INTERVAL", &cfg.Snapshot.ExportInterval) },
		func() error {
			return applyDuration(lookup, "CLINICSQL_SNAPSHOT_INTEGRITY_INTERVAL", &cfg.Snapshot.IntegrityInterval)
		},
		func() error { return applyInt(lookup, "CLINICSQL_SNAPSHOT_INTEGRITY_LIMIT", &cfg.Snapshot.IntegrityLimit) },
		func() error { return applyString(lookup, "CLINICSQL_OBJECTSTORE_ENDPOINT", &cfg.Snapshot.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "CLINICSQL_OBJECTSTORE_REGION", &cfg.Snapshot.ObjectStore.Region) },
		func() error { return applyString(lookup, "CLINICSQL_OBJECTSTORE_BUCKET", &cfg.Snapshot.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "CLINICSQL_OBJECTSTORE_ACCESS_KEY", &cfg.Snapshot.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "CLINICSQL_OBJECTSTORE_SECRET_KEY", &cfg.Snapshot.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "CLINICSQL_OBJECTSTORE_USE_SSL", &cfg.Snapshot.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "CLINICSQL_OBJECTSTORE_PREFIX", &cfg.Snapshot.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "CLINICSQL_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.Snapshot.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyBool(lookup, "CLINICSQL_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "CLINICSQL_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "CLINICSQL_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "CLINICSQL_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch strings.ToLower(c.Store.Driver) {
	case DriverAuto, DriverDuckDB, DriverPostgres, DriverMySQL:
	default:
		return fmt.Errorf("invalid CLINICSQL_DB_DRIVER: %q", c.Store.Driver)
	}
	switch strings.ToLower(c.AI.Provider) {
	case ProviderDashScope, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid CLINICSQL_AI_PROVIDER: %q", c.AI.Provider)
	}
	switch c.Snapshot.QueryMode {
	case QueryModeLive, QueryModeSnapshot:
	default:
		return fmt.Errorf("invalid CLINICSQL_SNAPSHOT_QUERY_MODE: %q", c.Snapshot.QueryMode)
	}
	if c.Snapshot.QueryMode == QueryModeSnapshot && !c.Snapshot.Enabled {
		return fmt.Errorf("snapshot query mode requires CLINICSQL_SNAPSHOT_ENABLED=true")
	}
	if c.Snapshot.Keep < 1 {
		return fmt.Errorf("CLINICSQL_SNAPSHOT_KEEP must be >= 1")
	}
	if c.Snapshot.ExportInterval < 0 || c.Snapshot.IntegrityInterval < 0 {
		return fmt.Errorf("snapshot intervals must be >= 0")
	}
	if c.Snapshot.IntegrityLimit < 1 {
		return fmt.Errorf("CLINICSQL_SNAPSHOT_INTEGRITY_LIMIT must be >= 1")
	}
	if c.Snapshot.Enabled && c.Snapshot.ObjectStore.Endpoint != ObjectStoreMemory && c.Snapshot.ObjectStore.Bucket == "" {
		return fmt.Errorf("CLINICSQL_OBJECTSTORE_BUCKET is required when snapshots are enabled")
	}
	if c.Query.DefaultLimit <= 0 {
		return fmt.Errorf("CLINICSQL_QUERY_DEFAULT_LIMIT must be > 0")
	}
	if c.Query.MaxLimit < c.Query.DefaultLimit {
		return fmt.Errorf("CLINICSQL_QUERY_MAX_LIMIT must be >= CLINICSQL_QUERY_DEFAULT_LIMIT")
	}
	if c.AI.MaxAttempts < 1 {
		return fmt.Errorf("CLINICSQL_AI_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

// ResolvedDriver reports which store driver will be used. Server drivers are
// only chosen when host, name and user are all set.
func (s StoreConfig) ResolvedDriver() string {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver != DriverAuto {
		return driver
	}
	if s.HasServerParams() {
		return DriverMySQL
	}
	return DriverDuckDB
}

func (s StoreConfig) HasServerParams() bool {
	return s.Host != "" && s.Name != "" && s.User != ""
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "clinicsql-api"},
		HTTP: HTTPConfig{
			Address:      ":8000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Driver:          DriverAuto,
			Path:            "clinic.duckdb",
			ReadOnly:        true,
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		Query: QueryConfig{
			Timeout:      5 * time.Second,
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
		AI: AIConfig{
			Provider:     ProviderDashScope,
			Temperature:  0.2,
			Timeout:      8 * time.Second,
			MaxAttempts:  3,
			RetryBackoff: 200 * time.Millisecond,
		},
		Snapshot: SnapshotConfig{
			Enabled:   false,
			QueryMode: QueryModeLive,
			Keep:           5,
			IntegrityLimit: 5,
			ObjectStore: ObjectStoreConfig{
				Endpoint:         "localhost:9000",
				Region:           "us-east-1",
				Bucket:           "clinicsql",
				AccessKeyID:      "minio",
				SecretAccessKey:  "miniostorage",
				UseSSL:           false,
				AutoCreateBucket: true,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18000"
		cfg.Store.Path = ""
		cfg.Snapshot.ObjectStore.Endpoint = ObjectStoreMemory
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Snapshot.ObjectStore.UseSSL = true
		cfg.Snapshot.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}

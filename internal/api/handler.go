// Package api serves the natural-language query pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/clinicsql/clinicsql/internal/config"
	"github.com/clinicsql/clinicsql/internal/observability"
	"github.com/clinicsql/clinicsql/internal/pipeline"
	"github.com/clinicsql/clinicsql/internal/schema"
	"github.com/clinicsql/clinicsql/internal/snapshot"
	"github.com/clinicsql/clinicsql/internal/storage"
)

const maxRequestBodyBytes = 64 << 10

const defaultProbeTimeout = 2 * time.Second

type QueryService interface {
	Run(ctx context.Context, request pipeline.Request) pipeline.Response
	Translate(ctx context.Context, request pipeline.Request) pipeline.Response
}

type SnapshotExporter interface {
	Export(ctx context.Context) (snapshot.Manifest, error)
}

// Probe is one dependency reported by GET /v1/ready.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type Dependencies struct {
	Logger         *slog.Logger
	Probes         []Probe
	ProbeTimeout   time.Duration
	AuthMiddleware func(http.Handler) http.Handler
	Pipeline       QueryService
	Schema         *schema.Schema
	Snapshots      SnapshotExporter
	SnapshotStore  storage.ObjectStore
}

type route struct {
	pattern string
	public  bool
	handler http.HandlerFunc
}

func routes(cfg config.Config, deps Dependencies) []route {
	bind := func(handle func(Dependencies, http.ResponseWriter, *http.Request)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { handle(deps, w, r) }
	}
	return []route{
		{pattern: "GET /v1/health", public: true, handler: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
		}},
		{pattern: "GET /v1/ready", public: true, handler: bind(handleReady)},
		{pattern: "GET /v1/metrics", public: true, handler: promhttp.Handler().ServeHTTP},
		{pattern: "POST /api/query", handler: bind(handleQuery)},
		{pattern: "POST /api/query/translate", handler: bind(handleTranslate)},
		{pattern: "GET /api/schema", handler: bind(handleSchema)},
		{pattern: "POST /api/snapshots", handler: bind(handleSnapshotExport)},
		{pattern: "GET /api/snapshots/latest", handler: bind(handleLatestSnapshot)},
	}
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	table := routes(cfg, deps)
	guard := func(next http.Handler) http.Handler { return next }
	if cfg.Auth.Required {
		guard = deps.AuthMiddleware
		if guard == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but no auth middleware was provided")
			}
			guard = func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			}
		}
	}

	mux := http.NewServeMux()
	paths := make([]string, 0, len(table))
	for _, rt := range table {
		var handler http.Handler = rt.handler
		if !rt.public {
			handler = guard(handler)
		}
		mux.Handle(rt.pattern, handler)
		if _, path, _ := strings.Cut(rt.pattern, " "); !slices.Contains(paths, path) {
			paths = append(paths, path)
		}
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware(paths...),
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// handleReady runs every probe concurrently and reports each result. Any
// failure makes the service not ready.
func handleReady(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	timeout := deps.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	results := make([]error, len(deps.Probes))
	var group errgroup.Group
	for i, probe := range deps.Probes {
		group.Go(func() error {
			if probe.Check == nil {
				results[i] = errors.New("no check configured")
				return nil
			}
			results[i] = probe.Check(ctx)
			return nil
		})
	}
	_ = group.Wait()

	checks := make(map[string]string, len(results))
	var failed []string
	for i, err := range results {
		name := deps.Probes[i].Name
		if err != nil {
			checks[name] = err.Error()
			failed = append(failed, name+": "+err.Error())
			continue
		}
		checks[name] = "ok"
	}
	if len(failed) > 0 {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", strings.Join(failed, "; "), true, map[string]any{"checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

// Pinger is satisfied by *store.Store and *sql.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

func StoreProbe(pinger Pinger) Probe {
	return Probe{Name: "store", Check: func(ctx context.Context) error {
		if pinger == nil {
			return errors.New("store is not configured")
		}
		return pinger.Ping(ctx)
	}}
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ObjectStoreProbe checks the snapshot bucket when the store can report its
// health. Stores that cannot are always ready.
func ObjectStoreProbe(objects storage.ObjectStore) Probe {
	return Probe{Name: "object_store", Check: func(ctx context.Context) error {
		if objects == nil {
			return errors.New("object store is not configured")
		}
		if checker, ok := objects.(healthChecker); ok {
			return checker.HealthCheck(ctx)
		}
		return nil
	}}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

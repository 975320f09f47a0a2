package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clinicsql/clinicsql/internal/observability"
)

type contextKey string

const identityKey contextKey = "auth_identity"

var authFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clinicsql_auth_failures_total",
		Help: "Rejected API requests by reason.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(authFailuresTotal)
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Middleware admits requests carrying a known key in X-API-Key or an
// Authorization bearer token and stores the operator identity in the context.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			apiKey := extractAPIKey(r)
			if apiKey == "" {
				reject(ctx, logger, w, r, "missing", "missing API key")
				return
			}
			identity, ok := validator.Validate(ctx, apiKey)
			if !ok {
				reject(ctx, logger, w, r, "invalid", "invalid API key")
				return
			}

			observability.LoggerWithTrace(ctx, logger).DebugContext(ctx, "authenticated",
				slog.String("operator", identity.Operator),
				slog.Any("roles", identity.Roles),
			)
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// extractAPIKey prefers X-API-Key and falls back to a case-insensitive
// "Bearer" Authorization header.
func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func reject(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, r *http.Request, reason, message string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
	observability.LoggerWithTrace(ctx, logger).WarnContext(ctx, "authentication failed",
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="clinicsql"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

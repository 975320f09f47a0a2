package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind string

const (
	KindConfig            Kind = "config"
	KindTransport         Kind = "transport"
	KindTimeout           Kind = "timeout"
	KindEmptyResponse     Kind = "empty_response"
	KindMalformedResponse Kind = "malformed_response"
)

// Error is returned by every Generator implementation.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (status=%d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed. Only transport
// failures qualify, and of those only network errors, 429 and 5xx.
func (e *Error) Retryable() bool {
	if e.Kind != KindTransport {
		return false
	}
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// KindOf extracts the error kind, if err carries one.
func KindOf(err error) (Kind, bool) {
	var modelErr *Error
	if errors.As(err, &modelErr) {
		return modelErr.Kind, true
	}
	return "", false
}

func configError(provider string) *Error {
	return &Error{
		Kind:     KindConfig,
		Provider: provider,
		Message:  "api key is not configured (set CLINICSQL_AI_API_KEY or DASHSCOPE_API_KEY)",
	}
}

// classifyRequestError maps a failed round trip to timeout or transport.
func classifyRequestError(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	return &Error{Kind: KindTransport, Provider: provider, Err: err}
}

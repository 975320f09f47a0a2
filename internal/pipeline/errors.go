package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinicsql/clinicsql/internal/nl2sql"
	"github.com/clinicsql/clinicsql/internal/query"
)

type ErrorKind string

const (
	KindConfig            ErrorKind = "config"
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindTransport         ErrorKind = "transport"
	KindTimeout           ErrorKind = "timeout"
	KindEmptyResponse     ErrorKind = "empty_response"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindExtraction        ErrorKind = "extraction"
	KindRejected          ErrorKind = "rejected"
	KindExecution         ErrorKind = "execution"
	KindInternal          ErrorKind = "internal"
)

// Error is a failure tagged with the pipeline stage it happened in.
type Error struct {
	Kind  ErrorKind
	Stage State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, stage State, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

func classifyModelError(err error) ErrorKind {
	if kind, ok := nl2sql.KindOf(err); ok {
		switch kind {
		case nl2sql.KindConfig:
			return KindConfig
		case nl2sql.KindTransport:
			return KindTransport
		case nl2sql.KindTimeout:
			return KindTimeout
		case nl2sql.KindEmptyResponse:
			return KindEmptyResponse
		case nl2sql.KindMalformedResponse:
			return KindMalformedResponse
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

func classifyExecutionError(err error) ErrorKind {
	var execErr *query.ExecutionError
	if errors.As(err, &execErr) && execErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindExecution
}

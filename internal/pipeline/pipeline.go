// Package pipeline turns a natural-language question into rows: prompt,
// model call, SQL extraction, guarded execution and normalization.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/clinicsql/clinicsql/internal/nl2sql"
	"github.com/clinicsql/clinicsql/internal/observability"
	"github.com/clinicsql/clinicsql/internal/query"
)

type State string

const (
	StateIdle          State = "idle"
	StatePrompting     State = "prompting"
	StateAwaitingModel State = "awaiting_model"
	StateExtractingSQL State = "extracting_sql"
	StateExecuting     State = "executing"
	StateNormalizing   State = "normalizing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

const (
	DefaultLimit = 100
	DefaultMax   = 1000
)

type Request struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Response is the uniform outcome of one run. On success Data and SQL are
// set; on failure Error is set and SQL only when a statement was produced.
type Response struct {
	Success   bool
	Data      []query.Row
	Error     string
	ErrorKind ErrorKind
	SQL       string
	Stats     Stats
}

type Stats struct {
	Stages      []State `json:"stages"`
	Limit       int     `json:"limit"`
	Rows        int     `json:"rows"`
	Truncated   bool    `json:"truncated"`
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	ModelMs     int64   `json:"model_ms"`
	ExecutionMs int64   `json:"execution_ms"`
	TotalMs     int64   `json:"total_ms"`
}

type responseJSON struct {
	Success   bool         `json:"success"`
	Data      *[]query.Row `json:"data,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorKind ErrorKind    `json:"error_kind,omitempty"`
	SQL       string       `json:"sql,omitempty"`
	Stats     Stats        `json:"stats"`
}

// MarshalJSON keeps "data" present (possibly empty) on success and absent on
// failure.
func (r Response) MarshalJSON() ([]byte, error) {
	out := responseJSON{
		Success:   r.Success,
		Error:     r.Error,
		ErrorKind: r.ErrorKind,
		SQL:       r.SQL,
		Stats:     r.Stats,
	}
	if r.Success {
		data := r.Data
		if data == nil {
			data = []query.Row{}
		}
		out.Data = &data
	}
	return json.Marshal(out)
}

type Options struct {
	SchemaDescription string
	Dialect           string
	DefaultLimit      int
	MaxLimit          int
	// ReadOnly rejects anything but a single SELECT or WITH statement
	// before it reaches the engine.
	ReadOnly bool
	Logger   *slog.Logger
}

// Service is immutable after New and safe for concurrent use.
type Service struct {
	generator nl2sql.Generator
	engine    query.Engine
	opts      Options
	logger    *slog.Logger
}

func New(generator nl2sql.Generator, engine query.Engine, opts Options) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = max(DefaultMax, opts.DefaultLimit)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{generator: generator, engine: engine, opts: opts, logger: logger}
}

// EffectiveLimit applies the default and the configured ceiling.
func (s *Service) EffectiveLimit(requested int) int {
	if requested <= 0 {
		return s.opts.DefaultLimit
	}
	return min(requested, s.opts.MaxLimit)
}

// Run answers one question end to end. It never returns an error: every
// failure is reported through the Response.
func (s *Service) Run(ctx context.Context, request Request) Response {
	r := s.begin(request)
	if r.generate(ctx, s) {
		r.execute(ctx, s)
	}
	return r.finish(ctx, s, "nl_query")
}

// Translate stops after the generated statement has been extracted and
// checked; nothing is executed.
func (s *Service) Translate(ctx context.Context, request Request) Response {
	r := s.begin(request)
	if r.generate(ctx, s) {
		r.enter(StateDone)
	}
	return r.finish(ctx, s, "nl_translate")
}

// run carries the state of one request through the stages.
type run struct {
	request    Request
	response   Response
	failure    *Error
	state      State
	enteredAt  time.Time
	startedAt  time.Time
	completion nl2sql.Completion
}

func (s *Service) begin(request Request) *run {
	now := time.Now()
	r := &run{request: request, state: StateIdle, enteredAt: now, startedAt: now}
	r.response.Stats.Stages = []State{StateIdle}
	r.response.Stats.Limit = s.EffectiveLimit(request.Limit)
	return r
}

func (r *run) enter(state State) {
	now := time.Now()
	if r.state != StateIdle {
		observability.ObserveStage(string(r.state), now.Sub(r.enteredAt))
	}
	r.state = state
	r.enteredAt = now
	r.response.Stats.Stages = append(r.response.Stats.Stages, state)
}

func (r *run) fail(err *Error) {
	r.failure = err
	r.enter(StateFailed)
}

func (r *run) generate(ctx context.Context, s *Service) bool {
	r.enter(StatePrompting)
	prompt, err := nl2sql.BuildPrompt(r.request.Query, s.opts.SchemaDescription, nl2sql.Constraints{
		Dialect:  s.opts.Dialect,
		RowLimit: r.response.Stats.Limit,
	})
	if err != nil {
		kind := KindInternal
		if errors.Is(err, nl2sql.ErrEmptyQuestion) {
			kind = KindInvalidRequest
		}
		r.fail(newError(kind, StatePrompting, err))
		return false
	}
	if s.generator == nil {
		r.fail(newError(KindConfig, StatePrompting, errors.New("no language model is configured")))
		return false
	}

	r.enter(StateAwaitingModel)
	modelStart := time.Now()
	completion, err := s.generator.Generate(ctx, prompt)
	r.response.Stats.ModelMs = time.Since(modelStart).Milliseconds()
	r.response.Stats.Provider = completion.Provider
	r.response.Stats.Model = completion.Model
	if err != nil {
		r.fail(newError(classifyModelError(err), StateAwaitingModel, err))
		return false
	}
	r.completion = completion

	r.enter(StateExtractingSQL)
	statement := query.StripTrailingSemicolons(nl2sql.ExtractSQL(completion.Text))
	if statement == "" {
		r.fail(newError(KindExtraction, StateExtractingSQL, nl2sql.ErrEmptyStatement))
		return false
	}
	if s.opts.ReadOnly {
		if err := nl2sql.ValidateStatement(statement); err != nil {
			if errors.Is(err, nl2sql.ErrEmptyStatement) {
				r.fail(newError(KindExtraction, StateExtractingSQL, err))
				return false
			}
			r.response.SQL = statement
			r.fail(newError(KindRejected, StateExtractingSQL, err))
			return false
		}
	}
	r.response.SQL = statement
	return true
}

func (r *run) execute(ctx context.Context, s *Service) {
	if s.engine == nil {
		r.fail(newError(KindInternal, StateExecuting, errors.New("no query engine is configured")))
		return
	}

	r.enter(StateExecuting)
	result, err := s.engine.Execute(ctx, query.Request{SQL: r.response.SQL, RowLimit: r.response.Stats.Limit})
	r.response.Stats.ExecutionMs = result.Duration.Milliseconds()
	if err != nil {
		r.fail(newError(classifyExecutionError(err), StateExecuting, err))
		return
	}

	r.enter(StateNormalizing)
	r.response.Data = query.Normalize(result.Columns, result.Rows)
	r.response.Stats.Rows = len(r.response.Data)
	r.response.Stats.Truncated = result.Truncated
	observability.ObserveQueryRows(len(r.response.Data))

	r.enter(StateDone)
}

func (r *run) finish(ctx context.Context, s *Service, event string) Response {
	r.response.Stats.TotalMs = time.Since(r.startedAt).Milliseconds()
	logger := observability.LoggerWithTrace(ctx, s.logger)
	attrs := []any{
		slog.Any("stages", r.response.Stats.Stages),
		slog.Int("question_chars", len([]rune(r.request.Query))),
		slog.Int("limit", r.response.Stats.Limit),
		slog.Int64("model_ms", r.response.Stats.ModelMs),
		slog.Int64("execution_ms", r.response.Stats.ExecutionMs),
		slog.Int64("total_ms", r.response.Stats.TotalMs),
	}
	if r.completion.Provider != "" {
		attrs = append(attrs, slog.String("provider", r.completion.Provider), slog.String("model", r.completion.Model))
	}

	if r.failure != nil {
		r.response.Success = false
		r.response.Data = nil
		r.response.Error = r.failure.Error()
		r.response.ErrorKind = r.failure.Kind
		observability.ObserveNLQuery(string(r.failure.Kind))
		attrs = append(attrs,
			slog.String("error_kind", string(r.failure.Kind)),
			slog.String("failed_stage", string(r.failure.Stage)),
			slog.String("error", r.failure.Err.Error()),
		)
		if r.response.SQL != "" {
			attrs = append(attrs, slog.String("sql", r.response.SQL))
		}
		logger.Warn(event+"_failed", attrs...)
		return r.response
	}

	r.response.Success = true
	if r.response.Data == nil {
		r.response.Data = []query.Row{}
	}
	observability.ObserveNLQuery("success")
	attrs = append(attrs, slog.Int("rows", r.response.Stats.Rows), slog.String("sql", r.response.SQL))
	logger.Info(event+"_completed", attrs...)
	return r.response
}

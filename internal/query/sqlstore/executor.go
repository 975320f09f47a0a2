// Package sqlstore executes statements against the live relational store.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clinicsql/clinicsql/internal/query"
)

type Options struct {
	// ReadOnly rolls back every session so no statement can persist a change.
	ReadOnly bool
	// ReadOnlyTx requests a read-only transaction from the driver as well.
	ReadOnlyTx bool
	Timeout    time.Duration
}

// Executor runs each statement on its own connection and transaction, and
// releases both before returning.
type Executor struct {
	db   *sql.DB
	opts Options
}

func NewExecutor(db *sql.DB, opts Options) *Executor {
	return &Executor{db: db, opts: opts}
}

func (e *Executor) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if e.db == nil {
		return query.Result{}, fmt.Errorf("database is required")
	}
	sqlText := query.StripTrailingSemicolons(request.SQL)
	if strings.TrimSpace(sqlText) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return query.Result{}, query.WrapExecutionError(ctx, sqlText, fmt.Errorf("acquire connection: %w", err))
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: e.opts.ReadOnly && e.opts.ReadOnlyTx})
	if err != nil {
		return query.Result{}, query.WrapExecutionError(ctx, sqlText, fmt.Errorf("begin session: %w", err))
	}
	finished := false
	defer func() {
		if !finished {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, query.WrapExecutionError(ctx, sqlText, err)
	}
	columns, values, truncated, err := query.CollectRows(rows, request.RowLimit)
	closeErr := rows.Close()
	if err != nil {
		return query.Result{}, query.WrapExecutionError(ctx, sqlText, err)
	}
	if closeErr != nil {
		return query.Result{}, query.WrapExecutionError(ctx, sqlText, fmt.Errorf("close rows: %w", closeErr))
	}

	finished = true
	if e.opts.ReadOnly {
		if err := tx.Rollback(); err != nil {
			return query.Result{}, query.WrapExecutionError(ctx, sqlText, fmt.Errorf("end session: %w", err))
		}
	} else if err := tx.Commit(); err != nil {
		return query.Result{}, query.WrapExecutionError(ctx, sqlText, fmt.Errorf("commit session: %w", err))
	}

	return query.Result{
		Columns:   columns,
		Rows:      values,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

// Ping checks the pool for readiness probes.
func (e *Executor) Ping(ctx context.Context) error {
	if e.db == nil {
		return fmt.Errorf("database is required")
	}
	return e.db.PingContext(ctx)
}

// Package duckdb runs queries against the latest Parquet snapshot of the
// clinic tables with an ephemeral in-memory DuckDB.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/clinicsql/clinicsql/internal/query"
	"github.com/clinicsql/clinicsql/internal/schema"
	"github.com/clinicsql/clinicsql/internal/snapshot"
	"github.com/clinicsql/clinicsql/internal/storage"
)

type Engine struct {
	Store   storage.ObjectStore
	Schema  schema.Schema
	Timeout time.Duration
}

func NewEngine(store storage.ObjectStore, timeout time.Duration) *Engine {
	return &Engine{Store: store, Schema: schema.Clinic(), Timeout: timeout}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := query.StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.Store == nil {
		return query.Result{}, fmt.Errorf("object store is required")
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := time.Now()
	manifest, err := snapshot.LoadLatest(ctx, e.Store)
	if err != nil {
		return query.Result{}, fmt.Errorf("load snapshot manifest: %w", err)
	}

	workDir, err := os.MkdirTemp("", "clinicsql-snapshot-")
	if err != nil {
		return query.Result{}, fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	for _, file := range manifest.Tables {
		table, ok := e.Schema.Table(file.Table)
		if !ok {
			continue
		}
		localPath := filepath.Join(workDir, sanitizeFileComponent(file.Table)+".parquet")
		if err := e.download(ctx, file, localPath); err != nil {
			return query.Result{}, err
		}
		if _, err := db.ExecContext(ctx, viewSQL(table, localPath)); err != nil {
			return query.Result{}, fmt.Errorf("create view for table %q: %w", file.Table, err)
		}
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, query.WrapExecutionError(ctx, sqlText, err)
	}
	defer func() { _ = rows.Close() }()

	columns, resultRows, truncated, err := query.CollectRows(rows, request.RowLimit)
	if err != nil {
		return query.Result{}, query.WrapExecutionError(ctx, sqlText, err)
	}
	return query.Result{
		Columns:   columns,
		Rows:      resultRows,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

// download copies one table file to localPath. A size that disagrees with the
// manifest means the object was replaced or cut short.
func (e *Engine) download(ctx context.Context, file snapshot.TableFile, localPath string) error {
	reader, err := e.Store.Get(ctx, file.ObjectPath)
	if err != nil {
		return fmt.Errorf("get object %q: %w", file.ObjectPath, err)
	}
	defer func() { _ = reader.Close() }()

	local, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local parquet file %q: %w", localPath, err)
	}
	written, err := io.Copy(local, reader)
	if closeErr := local.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if file.SizeBytes > 0 && written != file.SizeBytes {
		return fmt.Errorf("object %q has %d bytes, manifest records %d", file.ObjectPath, written, file.SizeBytes)
	}
	return nil
}

// viewSQL exposes a snapshot file under the table's own name, restoring the
// column order and DATE types of the live schema.
func viewSQL(table schema.Table, localPath string) string {
	columns := table.StoredColumns()
	projections := make([]string, 0, len(columns))
	for _, column := range columns {
		ident := quoteIdent(column.Name)
		if column.Type == schema.TypeDate {
			projections = append(projections, fmt.Sprintf("CAST(%s AS DATE) AS %s", ident, ident))
			continue
		}
		projections = append(projections, ident)
	}
	return fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT %s FROM read_parquet(%s)`,
		quoteIdent(table.Name), strings.Join(projections, ", "), quoteString(localPath))
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

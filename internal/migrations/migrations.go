// Package migrations provisions the clinic tables in the embedded DuckDB
// file, PostgreSQL or MySQL. Scripts are plain SQL shared by all three.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const migrationTable = "clinicsql_schema_migrations"

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

// Runner applies the embedded scripts one statement at a time. DuckDB and
// PostgreSQL run each migration in a transaction; MySQL commits DDL
// implicitly, so a failed MySQL migration may leave earlier statements applied.
type Runner struct {
	fsys    fs.FS
	dialect string
}

// NewRunner returns a runner for the store dialect: "duckdb", "postgres" or
// "mysql". An empty dialect means duckdb.
func NewRunner(dialect string) *Runner {
	return &Runner{fsys: embeddedFS, dialect: strings.ToLower(strings.TrimSpace(dialect))}
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

type Status struct {
	Version int64
	Name    string
	Applied bool
}

// Up applies pending migrations in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	known, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, item := range known {
		if applied[item.Version] {
			continue
		}
		if steps > 0 && done >= steps {
			break
		}
		if err := r.run(ctx, db, item.Version, item.UpSQL, true); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	known, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}

	byVersion := make(map[int64]migration, len(known))
	for _, item := range known {
		byVersion[item.Version] = item
	}
	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	done := 0
	for _, version := range versions {
		if done >= steps {
			break
		}
		item, ok := byVersion[version]
		if !ok {
			return done, fmt.Errorf("applied migration %d is missing from source", version)
		}
		if err := r.run(ctx, db, item.Version, item.DownSQL, false); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// Status lists every known migration and whether it has been applied.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	known, applied, err := r.prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(known))
	for _, item := range known {
		statuses = append(statuses, Status{Version: item.Version, Name: item.Name, Applied: applied[item.Version]})
	}
	return statuses, nil
}

func (r *Runner) prepare(ctx context.Context, db *sql.DB) ([]migration, map[int64]bool, error) {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return nil, nil, fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM `+migrationTable)
	if err != nil {
		return nil, nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]bool{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, nil, fmt.Errorf("scan version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows error: %w", err)
	}
	return known, applied, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Runner) run(ctx context.Context, db *sql.DB, version int64, script string, up bool) error {
	action, mark := "apply", `INSERT INTO `+migrationTable+` (version) VALUES (`+r.placeholder()+`)`
	if !up {
		action, mark = "rollback", `DELETE FROM `+migrationTable+` WHERE version = `+r.placeholder()
	}

	var (
		target execer = db
		tx     *sql.Tx
		err    error
	)
	if r.dialect != "mysql" {
		tx, err = db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		target = tx
	}

	for i, statement := range splitStatements(script) {
		if _, err := target.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("%s migration %d statement %d: %w", action, version, i+1, err)
		}
	}
	if _, err := target.ExecContext(ctx, mark, version); err != nil {
		return fmt.Errorf("record %s of migration %d: %w", action, version, err)
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s of migration %d: %w", action, version, err)
		}
	}
	return nil
}

func (r *Runner) placeholder() string {
	if r.dialect == "mysql" {
		return "?"
	}
	return "$1"
}

// splitStatements breaks a script on semicolons. Scripts must not carry
// semicolons inside literals.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		lines := strings.Split(part, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			kept = append(kept, line)
		}
		if statement := strings.TrimSpace(strings.Join(kept, "\n")); statement != "" {
			statements = append(statements, statement)
		}
	}
	return statements
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	items := map[int64]migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := path.Base(entry.Name())
		matches := migrationNamePattern.FindStringSubmatch(base)
		if len(matches) != 3 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", base, err)
		}

		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item := items[version]
		item.Version = version
		item.Name = migrationName(base)
		if matches[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
		items[version] = item
	}

	versions := make([]int64, 0, len(items))
	for version := range items {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	migrations := make([]migration, 0, len(versions))
	for _, version := range versions {
		item := items[version]
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", version)
		}
		migrations = append(migrations, item)
	}
	return migrations, nil
}

// migrationName turns "000001_clinic_schema.up.sql" into "clinic_schema".
func migrationName(base string) string {
	name := strings.TrimSuffix(strings.TrimSuffix(base, ".up.sql"), ".down.sql")
	if _, rest, ok := strings.Cut(name, "_"); ok {
		return rest
	}
	return name
}

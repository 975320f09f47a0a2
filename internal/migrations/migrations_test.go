package migrations

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/clinicsql/clinicsql/internal/schema"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
		"sql/README.md":           {Data: []byte("ignored")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
	if items[0].Name != "one" {
		t.Fatalf("Name = %q", items[0].Name)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSplitStatementsDropsCommentsAndBlanks(t *testing.T) {
	script := "-- consultants\nCREATE TABLE a (id INTEGER);\n\n  ;\nCREATE INDEX idx_a ON a (id);\n-- trailing\n"
	statements := splitStatements(script)
	if len(statements) != 2 {
		t.Fatalf("splitStatements() = %q", statements)
	}
	if statements[0] != "CREATE TABLE a (id INTEGER)" || statements[1] != "CREATE INDEX idx_a ON a (id)" {
		t.Fatalf("splitStatements() = %q", statements)
	}
}

func TestRunnerUsesMySQLPlaceholdersWithoutTransaction(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	runner := &Runner{dialect: "mysql", fsys: fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER);\nCREATE TABLE b (id INTEGER);")},
		"sql/000001_one.down.sql": {Data: []byte("DROP TABLE b;\nDROP TABLE a;")},
	}}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS clinicsql_schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM clinicsql_schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectExec(`^CREATE TABLE a \(id INTEGER\)$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^CREATE TABLE b \(id INTEGER\)$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO clinicsql_schema_migrations \(version\) VALUES \(\?\)`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := runner.Up(context.Background(), db, 0)
	if err != nil || applied != 1 {
		t.Fatalf("runner.Up() = %d, %v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClinicMigrationMatchesSchemaDescriptor(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_clinic_schema.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	script := string(body)
	for _, table := range schema.Clinic().Tables {
		if !strings.Contains(script, "CREATE TABLE "+table.Name+" (") {
			t.Fatalf("migration missing table %s", table.Name)
		}
		for _, column := range table.StoredColumns() {
			if !strings.Contains(script, "    "+column.Name+" ") {
				t.Fatalf("migration missing column %s.%s", table.Name, column.Name)
			}
		}
	}
	if strings.Contains(script, "remaining_amount") {
		t.Fatal("remaining_amount must not be stored")
	}
}

func TestRunnerAppliesAndRollsBackOnDuckDB(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	runner := NewRunner("duckdb")

	applied, err := runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("runner.Up() applied %d migrations, want 1", applied)
	}
	for _, name := range schema.Clinic().TableNames() {
		assertTableExists(t, db, name, true)
	}

	again, err := runner.Up(ctx, db, 0)
	if err != nil || again != 0 {
		t.Fatalf("second runner.Up() = %d, %v", again, err)
	}

	statuses, err := runner.Status(ctx, db)
	if err != nil {
		t.Fatalf("runner.Status() error = %v", err)
	}
	if len(statuses) != 1 || !statuses[0].Applied || statuses[0].Name != "clinic_schema" {
		t.Fatalf("statuses = %+v", statuses)
	}

	rolledBack, err := runner.Down(ctx, db, 1)
	if err != nil {
		t.Fatalf("runner.Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("runner.Down() rolled back %d migrations, want 1", rolledBack)
	}
	assertTableExists(t, db, "customers", false)
}

func TestClinicSchemaRejectsUnknownEnumLabel(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if _, err := NewRunner("duckdb").Up(ctx, db, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO consultants (consultant_id, name, department) VALUES (1, 'Li', 'Cardiology')`)
	if err == nil {
		t.Fatal("expected check constraint violation")
	}
}

func assertTableExists(t *testing.T, db *sql.DB, table string, want bool) {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1`, table).Scan(&count)
	if err != nil {
		t.Fatalf("query information_schema for %s: %v", table, err)
	}
	if (count > 0) != want {
		t.Fatalf("table %s exists = %v, want %v", table, count > 0, want)
	}
}

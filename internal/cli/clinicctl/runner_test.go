package clinicctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunAskRendersTableInColumnOrder(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"sql":"SELECT c.name, c.membership_level FROM customers c",` +
			`"data":[{"name":"张伟","membership_level":"钻石","visits":3},{"name":"王芳","membership_level":"钻石","visits":null}],` +
			`"stats":{"rows":2,"truncated":true}}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"-limit", "2",
		"ask", "list all customers", "in the Diamond tier",
	}, Options{Stdout: &stdout, Stderr: &stderr, Timeout: 2 * time.Second})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotPath != "/api/query" || gotAPIKey != "k1" {
		t.Fatalf("request path=%q api_key=%q", gotPath, gotAPIKey)
	}
	if gotBody["query"] != "list all customers in the Diamond tier" || gotBody["limit"] != float64(2) {
		t.Fatalf("body = %v", gotBody)
	}

	out := stdout.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	header := ""
	for _, line := range lines {
		if strings.HasPrefix(line, "name") {
			header = line
		}
	}
	if strings.Join(strings.Fields(header), ",") != "name,membership_level,visits" {
		t.Fatalf("header = %q\n%s", header, out)
	}
	if !strings.Contains(out, "NULL") || !strings.Contains(out, "(2 rows, truncated)") {
		t.Fatalf("output = %s", out)
	}
}

func TestRunAskFailurePrintsErrorAndSQL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"execution: execute query: syntax error","error_kind":"execution","sql":"SELEKT * FROM customers"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ask", "show customers"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "sql: SELEKT * FROM customers") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunAskJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"sql":"SELECT 1","data":[]}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-json", "ask", "q"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), `"sql": "SELECT 1"`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunTranslatePrintsSQLOnly(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"success":true,"sql":"SELECT COUNT(*) FROM customers c"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "translate", "how many customers"}, Options{Stdout: &stdout})
	if code != 0 || gotPath != "/api/query/translate" {
		t.Fatalf("exit code = %d path = %q", code, gotPath)
	}
	if strings.TrimSpace(stdout.String()) != "sql: SELECT COUNT(*) FROM customers c" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunSchemaPrintsDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":"clinic/v1","description":"Schema version: clinic/v1\nTable: customers\n"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	if code := Run(context.Background(), []string{"-base-url", srv.URL, "schema"}, Options{Stdout: &stdout}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "Schema version: clinic/v1") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunSnapshotCommand(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"snapshot_id":"snap-1"}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"-base-url", srv.URL, "snapshot"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/snapshots" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_code":"FORBIDDEN"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ready"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 403") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{{"unknown"}, {}, {"ask"}} {
		var stderr bytes.Buffer
		if code := Run(context.Background(), args, Options{Stderr: &stderr}); code != 2 {
			t.Fatalf("args %v: exit code = %d", args, code)
		}
		if stderr.Len() == 0 {
			t.Fatalf("args %v: expected usage output", args)
		}
	}
}

func TestDecodeOrderedRows(t *testing.T) {
	columns, rows, err := decodeOrderedRows(json.RawMessage(`[{"b":1.5,"a":true,"c":{"x":1}}]`))
	if err != nil {
		t.Fatalf("decodeOrderedRows() error = %v", err)
	}
	if strings.Join(columns, ",") != "b,a,c" {
		t.Fatalf("columns = %v", columns)
	}
	if strings.Join(rows[0], "|") != `1.5|true|{"x":1}` {
		t.Fatalf("row = %v", rows[0])
	}
	if columns, rows, err := decodeOrderedRows(nil); err != nil || columns != nil || rows != nil {
		t.Fatalf("empty = %v %v %v", columns, rows, err)
	}
}

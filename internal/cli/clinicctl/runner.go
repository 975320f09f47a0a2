// Package clinicctl implements the clinicctl command line client.
package clinicctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type queryResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorKind string          `json:"error_kind"`
	SQL       string          `json:"sql"`
	Stats     struct {
		Rows      int  `json:"rows"`
		Truncated bool `json:"truncated"`
	} `json:"stats"`
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("clinicctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "clinicsql API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	limit := fs.Int("limit", 0, "row limit for ask (server default when 0)")
	rawJSON := fs.Bool("json", false, "print the raw JSON response")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	c := &caller{client: client, baseURL: strings.TrimRight(*baseURL, "/"), apiKey: strings.TrimSpace(*apiKey)}

	command := strings.TrimSpace(fs.Arg(0))
	switch command {
	case "health":
		return c.printJSON(ctx, stdout, stderr, http.MethodGet, "/v1/health", nil)
	case "ready":
		return c.printJSON(ctx, stdout, stderr, http.MethodGet, "/v1/ready", nil)
	case "schema":
		return c.schema(ctx, stdout, stderr, *rawJSON)
	case "snapshot":
		return c.printJSON(ctx, stdout, stderr, http.MethodPost, "/api/snapshots", nil)
	case "snapshot-latest":
		return c.printJSON(ctx, stdout, stderr, http.MethodGet, "/api/snapshots/latest", nil)
	case "ask", "translate":
		question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if question == "" {
			_, _ = fmt.Fprintf(stderr, "%s requires a question\n\n", command)
			writeUsage(stderr)
			return 2
		}
		body, err := json.Marshal(map[string]any{"query": question, "limit": *limit})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
			return 1
		}
		if command == "translate" {
			return c.ask(ctx, stdout, stderr, "/api/query/translate", body, *rawJSON, false)
		}
		return c.ask(ctx, stdout, stderr, "/api/query", body, *rawJSON, true)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

type caller struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func (c *caller) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

// call performs the request and reports transport and HTTP failures on
// stderr. ok is false when the caller should exit 1.
func (c *caller) call(ctx context.Context, stderr io.Writer, method, path string, body []byte) ([]byte, bool) {
	code, responseBody, err := c.do(ctx, method, path, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return nil, false
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return nil, false
	}
	return responseBody, true
}

func (c *caller) printJSON(ctx context.Context, stdout, stderr io.Writer, method, path string, body []byte) int {
	responseBody, ok := c.call(ctx, stderr, method, path, body)
	if !ok {
		return 1
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func (c *caller) schema(ctx context.Context, stdout, stderr io.Writer, rawJSON bool) int {
	if rawJSON {
		return c.printJSON(ctx, stdout, stderr, http.MethodGet, "/api/schema", nil)
	}
	responseBody, ok := c.call(ctx, stderr, http.MethodGet, "/api/schema", nil)
	if !ok {
		return 1
	}
	var payload struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(responseBody, &payload); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode schema: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, strings.TrimRight(payload.Description, "\n"))
	return 0
}

func (c *caller) ask(ctx context.Context, stdout, stderr io.Writer, path string, body []byte, rawJSON, withRows bool) int {
	responseBody, ok := c.call(ctx, stderr, http.MethodPost, path, body)
	if !ok {
		return 1
	}
	var response queryResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	if rawJSON {
		pretty, _ := prettyJSON(responseBody)
		_, _ = fmt.Fprintln(stdout, pretty)
		if !response.Success {
			return 1
		}
		return 0
	}

	if !response.Success {
		_, _ = fmt.Fprintf(stderr, "error: %s\n", response.Error)
		if response.SQL != "" {
			_, _ = fmt.Fprintf(stderr, "sql: %s\n", response.SQL)
		}
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "sql: %s\n", response.SQL)
	if !withRows {
		return 0
	}

	columns, rows, err := decodeOrderedRows(response.Data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decode rows: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout)
	writeTable(stdout, columns, rows)
	summary := fmt.Sprintf("(%d rows", len(rows))
	if response.Stats.Truncated {
		summary += ", truncated"
	}
	_, _ = fmt.Fprintln(stdout, summary+")")
	return 0
}

// decodeOrderedRows reads a JSON array of objects keeping each object's key
// order; columns come from the first row.
func decodeOrderedRows(raw json.RawMessage) ([]string, [][]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := expectDelim(decoder, '['); err != nil {
		return nil, nil, err
	}

	var columns []string
	rows := make([][]string, 0)
	for decoder.More() {
		if err := expectDelim(decoder, '{'); err != nil {
			return nil, nil, err
		}
		keys := make([]string, 0, len(columns))
		values := make([]string, 0, len(columns))
		for decoder.More() {
			token, err := decoder.Token()
			if err != nil {
				return nil, nil, err
			}
			key, ok := token.(string)
			if !ok {
				return nil, nil, fmt.Errorf("unexpected object key %v", token)
			}
			var value any
			if err := decoder.Decode(&value); err != nil {
				return nil, nil, err
			}
			keys = append(keys, key)
			values = append(values, formatCell(value))
		}
		if err := expectDelim(decoder, '}'); err != nil {
			return nil, nil, err
		}
		if columns == nil {
			columns = keys
		}
		rows = append(rows, values)
	}
	return columns, rows, expectDelim(decoder, ']')
}

func expectDelim(decoder *json.Decoder, want json.Delim) error {
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, token)
	}
	return nil
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		if typed {
			return "true"
		}
		return "false"
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

func writeTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(table, strings.Join(columns, "\t"))
	separators := make([]string, len(columns))
	for i, column := range columns {
		separators[i] = strings.Repeat("-", max(3, len([]rune(column))))
	}
	_, _ = fmt.Fprintln(table, strings.Join(separators, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(table, strings.Join(row, "\t"))
	}
	_ = table.Flush()
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: clinicctl [flags] <command> [question]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  ask <question>        POST /api/query and print the rows")
	_, _ = fmt.Fprintln(w, "  translate <question>  POST /api/query/translate and print the SQL")
	_, _ = fmt.Fprintln(w, "  schema                GET /api/schema")
	_, _ = fmt.Fprintln(w, "  snapshot              POST /api/snapshots")
	_, _ = fmt.Fprintln(w, "  snapshot-latest       GET /api/snapshots/latest")
	_, _ = fmt.Fprintln(w, "  health                GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                 GET /v1/ready")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

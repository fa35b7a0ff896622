package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dbconnector "kpiwatch-backend"
	"kpiwatch-backend/internal/security"
)

var since = time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)

func newBackend() *MockBackend {
	return &MockBackend{
		Tables: []string{"kpi_global_15min", "payroll"},
		Schemas: map[string]*dbconnector.TableSchema{
			"kpi_global_15min": {Columns: []dbconnector.ColumnInfo{
				{Name: "timestamp", Type: "timestamp with time zone"},
				{Name: "traffic", Type: "double precision", Nullable: true},
			}},
		},
		AggResult: dbconnector.AggregateResult{Value: 42.5, Count: 4, Valid: true},
		Points: []dbconnector.SeriesPoint{
			{Timestamp: since, Value: 1},
			{Timestamp: since.Add(15 * time.Minute), Value: 2},
		},
	}
}

func newClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return NewClient(DefaultHTTPTransport(ts.URL))
}

func TestClientRoundTrip(t *testing.T) {
	backend := newBackend()
	client := newClient(t, &Server{Backend: backend})
	ctx := context.Background()

	schema, err := client.DescribeTable(ctx, "kpi_global_15min")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if !schema.HasColumn("traffic") || len(schema.Columns) != 2 {
		t.Fatalf("unexpected schema: %+v", schema)
	}

	agg, err := client.Aggregate(ctx, dbconnector.AggregateRequest{
		Table: "kpi_global_15min", ValueColumn: "traffic", TimestampColumn: "timestamp",
		Func: dbconnector.AggMax, Since: since,
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !agg.Valid || agg.Value != 42.5 || agg.Count != 4 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
	backend.mu.Lock()
	got := backend.Aggs[0]
	backend.mu.Unlock()
	if got.Func != dbconnector.AggMax || !got.Since.Equal(since) {
		t.Fatalf("unexpected forwarded request: %+v", got)
	}

	points, err := client.FetchSeries(ctx, dbconnector.SeriesRequest{
		Table: "kpi_global_15min", ValueColumn: "traffic", TimestampColumn: "timestamp", Since: since,
	})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(points) != 2 || points[1].Value != 2 || !points[0].Timestamp.Equal(since) {
		t.Fatalf("unexpected points: %+v", points)
	}
	backend.mu.Lock()
	limit := backend.Series[0].Limit
	backend.mu.Unlock()
	if limit != security.DefaultLimits().MaxSampleRows {
		t.Fatalf("expected default sample limit, got %d", limit)
	}
}

func TestClientMissingTableHasNoColumns(t *testing.T) {
	client := newClient(t, &Server{Backend: newBackend()})
	schema, err := client.DescribeTable(context.Background(), "unknown_table")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema.Columns == nil || len(schema.Columns) != 0 {
		t.Fatalf("expected empty column list, got %+v", schema.Columns)
	}
}

func TestServerRejectsUnsafeInput(t *testing.T) {
	client := newClient(t, &Server{Backend: newBackend(), Allowlist: security.Allowlist{Tables: []string{"kpi_global_15min"}}})
	ctx := context.Background()
	tests := []struct {
		name string
		call func() error
	}{
		{name: "injected table", call: func() error {
			_, err := client.DescribeTable(ctx, "kpi; DROP TABLE alerts")
			return err
		}},
		{name: "not allowlisted", call: func() error {
			_, err := client.DescribeTable(ctx, "payroll")
			return err
		}},
		{name: "bad column", call: func() error {
			_, err := client.FetchSeries(ctx, dbconnector.SeriesRequest{Table: "kpi_global_15min", ValueColumn: "a b", TimestampColumn: "timestamp"})
			return err
		}},
		{name: "bad aggregation", call: func() error {
			_, err := client.Aggregate(ctx, dbconnector.AggregateRequest{Table: "kpi_global_15min", ValueColumn: "traffic", TimestampColumn: "timestamp", Func: "median"})
			return err
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			var rpcErr *Error
			if !errors.As(err, &rpcErr) || rpcErr.Code != codeInvalidParams {
				t.Fatalf("expected invalid params error, got %v", err)
			}
		})
	}
}

func TestServerBackendFailure(t *testing.T) {
	backend := newBackend()
	backend.Err = errors.New("connection refused")
	client := newClient(t, &Server{Backend: backend})
	_, err := client.Aggregate(context.Background(), dbconnector.AggregateRequest{
		Table: "kpi_global_15min", ValueColumn: "traffic", TimestampColumn: "timestamp", Func: dbconnector.AggAvg,
	})
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != codeInternal || !strings.Contains(rpcErr.Message, "connection refused") {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestServerHTTPStatus(t *testing.T) {
	srv := &Server{Backend: newBackend()}
	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{name: "get", method: http.MethodGet, status: http.StatusMethodNotAllowed},
		{name: "bad json", method: http.MethodPost, body: "{", status: http.StatusBadRequest},
		{name: "missing version", method: http.MethodPost, body: `{"id":1,"method":"kpi.aggregate"}`, status: http.StatusBadRequest},
		{name: "unknown method", method: http.MethodPost, body: `{"jsonrpc":"2.0","id":1,"method":"db.drop"}`, status: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(tc.method, "/rpc", strings.NewReader(tc.body)))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestServeStdio(t *testing.T) {
	srv := &Server{Backend: newBackend()}
	in := strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"kpi.describe_table","params":{"table":"kpi_global_15min"}}` + "\n" +
		`{"jsonrpc":"2.0","id":8,"method":"nope"}` + "\n")
	var out bytes.Buffer
	if err := srv.ServeStdio(context.Background(), in, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two responses, got %q", out.String())
	}
	result, err := decodeResult([]byte(lines[0]))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var described DescribeTableResult
	if err := json.Unmarshal(result, &described); err != nil || len(described.Columns) != 2 {
		t.Fatalf("unexpected describe result: %s", result)
	}
	if _, err := decodeResult([]byte(lines[1])); err == nil {
		t.Fatalf("expected method not found error")
	}
}

func TestNewTransport(t *testing.T) {
	if _, err := NewTransport("http", "", "", nil, 0); err == nil {
		t.Fatalf("expected missing endpoint error")
	}
	if _, err := NewTransport("stdio", "", "", nil, 0); err == nil {
		t.Fatalf("expected missing command error")
	}
	if _, err := NewTransport("grpc", "x", "", nil, 0); err == nil {
		t.Fatalf("expected unsupported transport error")
	}
	tr, err := NewTransport("stdio", "", "kpi-rpc", []string{"-stdio"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st, ok := tr.(*StdioTransport); !ok || st.Timeout != time.Second {
		t.Fatalf("unexpected transport: %#v", tr)
	}
}

func TestClientWithoutTransport(t *testing.T) {
	var c *Client
	if _, err := c.DescribeTable(context.Background(), "t"); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}

func TestClientListTablesFiltersAllowlist(t *testing.T) {
	client := newClient(t, &Server{Backend: newBackend(), Allowlist: security.Allowlist{Tables: []string{"kpi_global_15min"}}})
	tables, err := client.ListTables(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tables) != 1 || tables[0] != "kpi_global_15min" {
		t.Fatalf("unexpected tables: %v", tables)
	}
}

func TestClientWholeWindowSkipsSampleCap(t *testing.T) {
	backend := newBackend()
	client := newClient(t, &Server{Backend: backend, Limits: security.Limits{MaxSampleRows: 1}})
	_, err := client.FetchSeries(context.Background(), dbconnector.SeriesRequest{
		Table: "kpi_global_15min", ValueColumn: "traffic", TimestampColumn: "timestamp", Since: since, All: true,
	})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	backend.mu.Lock()
	got := backend.Series[0]
	backend.mu.Unlock()
	if !got.All || got.Limit != 0 {
		t.Fatalf("expected whole-window request, got %+v", got)
	}
}

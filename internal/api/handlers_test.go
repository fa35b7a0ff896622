package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	dbconnector "kpiwatch-backend"
	"kpiwatch-backend/internal/alerts"
	"kpiwatch-backend/internal/evaluator"
	"kpiwatch-backend/internal/kpi"
	"kpiwatch-backend/internal/ledger"
	"kpiwatch-backend/internal/metrics"
	"kpiwatch-backend/internal/scheduler"
	"kpiwatch-backend/internal/stats"
	"kpiwatch-backend/internal/storage"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

type fakeSource struct {
	values  map[string]float64
	points  []kpi.Point
	err     error
	queries []kpi.Query
}

func (f *fakeSource) Aggregate(ctx context.Context, q kpi.Query, agg alerts.Aggregation) (float64, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return 0, f.err
	}
	v, ok := f.values[q.Metric]
	if !ok {
		return 0, &alerts.NoDataError{Metric: q.Metric, Dataset: q.Dataset, Window: string(q.Window)}
	}
	return v, nil
}

func (f *fakeSource) Sample(ctx context.Context, q kpi.Query) ([]kpi.Point, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.points, nil
}

type fixture struct {
	router http.Handler
	store  *storage.MemoryStore
	source *fakeSource
}

func thresholdAlert(id int64, metric string) alerts.Alert {
	return alerts.Alert{
		ID:             id,
		Name:           "traffic spike",
		Type:           alerts.TypeThreshold,
		Enabled:        true,
		CheckFrequency: alerts.Every5Min,
		KPIName:        metric,
		DatasetName:    "kpi_global_15min",
		Config: alerts.ThresholdConfig{
			Comparison:     alerts.GreaterThan,
			ThresholdUpper: ptr(100),
			TimeWindow:     alerts.Window1Hour,
			Aggregation:    alerts.AggAvg,
		},
	}
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	anomaly := thresholdAlert(3, "traffic")
	anomaly.Type = alerts.TypeAnomaly
	store := storage.NewMemoryStore(thresholdAlert(1, "traffic"), thresholdAlert(2, "missing"), anomaly)
	source := &fakeSource{
		values: map[string]float64{"traffic": 150},
		points: []kpi.Point{
			{Timestamp: now.Add(-30 * time.Minute), Value: 10},
			{Timestamp: now.Add(-15 * time.Minute), Value: 20},
			{Timestamp: now, Value: 30},
		},
	}
	clock := func() time.Time { return now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	eval := evaluator.New(source)
	l := ledger.New(store, ledger.Config{Now: clock, Logger: logger, Metrics: m})
	sched := scheduler.New(store, eval, l, scheduler.Config{Now: clock, Logger: logger, Metrics: m})
	h := &Handler{
		Alerts:    store,
		Evaluator: eval,
		Stats:     stats.NewEngine(source, store, stats.EngineConfig{Now: clock, Logger: logger, Metrics: m}),
		Source:    source,
		Ledger:    l,
		Scheduler: sched,
		Metrics:   m.Handler(),
		Logger:    logger,
	}
	return fixture{router: NewRouter(h, "/api", time.Minute), store: store, source: source}
}

type envelope struct {
	Ok      bool            `json:"ok"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f fixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
		}
	}
	return rec.Code, env
}

func TestAlertTestEndpoint(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{name: "breach", path: "/api/alerts/1/test", status: http.StatusOK},
		{name: "no data", path: "/api/alerts/2/test", status: http.StatusUnprocessableEntity, code: "NO_DATA"},
		{name: "anomaly", path: "/api/alerts/3/test", status: http.StatusBadRequest, code: "NOT_IMPLEMENTED"},
		{name: "unknown", path: "/api/alerts/99/test", status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "bad id", path: "/api/alerts/abc/test", status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, env := f.do(t, http.MethodPost, tc.path, "")
			if status != tc.status || env.Code != tc.code {
				t.Fatalf("expected %d/%q, got %d/%q (%s)", tc.status, tc.code, status, env.Code, env.Message)
			}
		})
	}

	_, env := f.do(t, http.MethodPost, "/api/alerts/1/test", "")
	var res testResponse
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.WouldTrigger || res.CurrentValue != 150 || res.Threshold == nil || *res.Threshold != 100 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Reason, "exceeded upper threshold") {
		t.Fatalf("unexpected reason: %q", res.Reason)
	}
	if f.store.Touches(1) != 0 {
		t.Fatalf("dry run must not touch last_checked_at")
	}
	if triggers, _ := f.store.ListTriggersForAlert(context.Background(), 1, 10); len(triggers) != 0 {
		t.Fatalf("dry run must not record triggers")
	}
}

func TestAlertStatisticsCaching(t *testing.T) {
	f := newFixture(t)
	status, env := f.do(t, http.MethodGet, "/api/alerts/1/statistics", "")
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", status, env.Message)
	}
	var first statisticsResponse
	if err := json.Unmarshal(env.Data, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Cached || first.AvgValue != 20 || first.MedianValue != 20 || first.DataPoints != 3 {
		t.Fatalf("unexpected statistics: %+v", first)
	}
	_, env = f.do(t, http.MethodGet, "/api/alerts/1/statistics", "")
	var second statisticsResponse
	if err := json.Unmarshal(env.Data, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !second.Cached || second.ID != first.ID {
		t.Fatalf("expected cached snapshot, got %+v", second)
	}
	if got := f.source.queries[0]; got.Window != alerts.Window1Hour || got.Metric != "traffic" {
		t.Fatalf("unexpected query: %+v", got)
	}
}

func TestStatisticsCalculate(t *testing.T) {
	f := newFixture(t)
	status, env := f.do(t, http.MethodPost, "/api/statistics/calculate", `{"kpi_name":"traffic","dataset_name":"kpi_global_15min"}`)
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", status, env.Message)
	}
	if got := f.source.queries[0]; got.Window != alerts.Window1Day || !got.All {
		t.Fatalf("expected whole default 1day window, got %+v", got)
	}
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "missing kpi", body: `{"dataset_name":"d"}`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"kpi_name":"a","dataset_name":"d","extra":1}`, status: http.StatusBadRequest},
		{name: "bad json", body: `{`, status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if status, _ := f.do(t, http.MethodPost, "/api/statistics/calculate", tc.body); status != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, status)
			}
		})
	}
}

func TestStatisticsCalculateEmptySample(t *testing.T) {
	f := newFixture(t)
	f.source.points = nil
	status, env := f.do(t, http.MethodPost, "/api/statistics/calculate", `{"kpi_name":"traffic","dataset_name":"kpi_global_15min","time_window":"15min"}`)
	if status != http.StatusUnprocessableEntity || env.Code != "NO_DATA" {
		t.Fatalf("expected no data, got %d/%s", status, env.Code)
	}
}

func TestStatisticsTimeseries(t *testing.T) {
	f := newFixture(t)
	status, env := f.do(t, http.MethodPost, "/api/statistics/timeseries", `{"kpi_name":"traffic","dataset_name":"kpi_global_15min"}`)
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", status, env.Message)
	}
	var points []kpi.Point
	if err := json.Unmarshal(env.Data, &points); err != nil || len(points) != 3 {
		t.Fatalf("unexpected points: %s", env.Data)
	}
	if q := f.source.queries[0]; q.Limit != defaultSeriesLimit || q.All || q.Window != "" {
		t.Fatalf("unexpected query: %+v", q)
	}
	f.source.err = &alerts.DataSourceError{Op: "sample", Err: errors.New("timeout")}
	if status, env := f.do(t, http.MethodPost, "/api/statistics/timeseries", `{"kpi_name":"traffic","dataset_name":"kpi_global_15min"}`); status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d/%s", status, env.Code)
	}
}

func TestTriggerEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.store.CreateTrigger(ctx, alerts.Trigger{AlertID: 1, TriggeredAt: now, Value: 150})
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	if _, err := f.store.CreateTrigger(ctx, alerts.Trigger{AlertID: 2, TriggeredAt: now.Add(time.Minute), Value: 1}); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	_, env := f.do(t, http.MethodGet, "/api/triggers", "")
	var recent []alerts.Trigger
	if err := json.Unmarshal(env.Data, &recent); err != nil || len(recent) != 2 || recent[0].AlertID != 2 {
		t.Fatalf("unexpected recent triggers: %s", env.Data)
	}

	_, env = f.do(t, http.MethodGet, "/api/triggers/alert/1?limit=5", "")
	var forAlert []alerts.Trigger
	if err := json.Unmarshal(env.Data, &forAlert); err != nil || len(forAlert) != 1 || forAlert[0].ID != created.ID {
		t.Fatalf("unexpected alert triggers: %s", env.Data)
	}

	if status, _ := f.do(t, http.MethodGet, "/api/triggers?limit=-1", ""); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", status)
	}

	path := "/api/triggers/" + strconv.FormatInt(created.ID, 10) + "/resolve"
	status, env := f.do(t, http.MethodPut, path, "")
	var resolved alerts.Trigger
	if status != http.StatusOK || json.Unmarshal(env.Data, &resolved) != nil || !resolved.Resolved || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolve response %d: %s", status, env.Data)
	}
	_, env = f.do(t, http.MethodPut, path, "")
	var again alerts.Trigger
	if err := json.Unmarshal(env.Data, &again); err != nil || !again.ResolvedAt.Equal(*resolved.ResolvedAt) {
		t.Fatalf("second resolve must be a no-op: %s", env.Data)
	}
	if status, env := f.do(t, http.MethodPut, "/api/triggers/999/resolve", ""); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d/%s", status, env.Code)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	f := newFixture(t)
	status, env := f.do(t, http.MethodPost, "/api/scheduler/run", "")
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", status, env.Message)
	}
	var report scheduler.CycleReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Counts[scheduler.StatusTriggered] != 1 || report.Counts[scheduler.StatusFailed] != 1 || report.Counts[scheduler.StatusUnsupported] != 1 {
		t.Fatalf("unexpected counts: %+v", report.Counts)
	}

	_, env = f.do(t, http.MethodGet, "/api/scheduler/status", "")
	var st scheduler.StatusReport
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != scheduler.StateStopped || st.LastReport == nil || st.LastReport.ID != report.ID {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	status, env := f.do(t, http.MethodGet, "/health", "")
	if status != http.StatusOK || !env.Ok {
		t.Fatalf("unexpected health response %d", status)
	}
	f.do(t, http.MethodPost, "/api/scheduler/run", "")
	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "kpiwatch_scheduler_cycles_total") {
		t.Fatalf("unexpected metrics output: %d", rec.Code)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthDegraded(t *testing.T) {
	h := &Handler{DB: failingPinger{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	rec := httptest.NewRecorder()
	NewRouter(h, "", time.Minute).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: alerts.Invalid("x", "bad"), status: http.StatusBadRequest},
		{err: &alerts.NotFoundError{Kind: "alert", ID: "1"}, status: http.StatusNotFound},
		{err: &alerts.NoDataError{Metric: "m"}, status: http.StatusUnprocessableEntity},
		{err: &alerts.DataSourceError{Op: "q", Err: errors.New("x")}, status: http.StatusBadGateway},
		{err: alerts.ErrNotImplemented, status: http.StatusBadRequest},
		{err: fmt.Errorf("cycle: %w", context.DeadlineExceeded), status: http.StatusGatewayTimeout},
		{err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if status, _ := classify(tc.err); status != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, status)
		}
	}
}

type fakeCatalog struct {
	datasets []string
}

func (f fakeCatalog) Datasets(ctx context.Context) ([]string, error) {
	return f.datasets, nil
}

func (f fakeCatalog) Columns(ctx context.Context, dataset string) ([]dbconnector.ColumnInfo, error) {
	if dataset != "kpi_global_15min" {
		return nil, &alerts.NotFoundError{Kind: "dataset", ID: dataset}
	}
	return []dbconnector.ColumnInfo{{Name: "Traffic", Type: "double precision"}}, nil
}

func TestDatasetEndpoints(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Handler{Datasets: fakeCatalog{datasets: []string{"kpi_global_15min"}}, Logger: logger}
	f := fixture{router: NewRouter(h, "/api", time.Minute)}

	status, env := f.do(t, http.MethodGet, "/api/datasets", "")
	if status != http.StatusOK || !strings.Contains(string(env.Data), "kpi_global_15min") {
		t.Fatalf("unexpected datasets response %d: %s", status, env.Data)
	}
	status, env = f.do(t, http.MethodGet, "/api/datasets/kpi_global_15min/columns", "")
	if status != http.StatusOK || !strings.Contains(string(env.Data), "Traffic") {
		t.Fatalf("unexpected columns response %d: %s", status, env.Data)
	}
	status, env = f.do(t, http.MethodGet, "/api/datasets/other/columns", "")
	if status != http.StatusNotFound || env.Code != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d/%q", status, env.Code)
	}
}

type stalledRunner struct{}

func (stalledRunner) RunCycle(ctx context.Context) (scheduler.CycleReport, error) {
	return scheduler.CycleReport{}, fmt.Errorf("cycle interrupted: %w", context.DeadlineExceeded)
}

func (stalledRunner) Status() scheduler.StatusReport { return scheduler.StatusReport{} }

func TestSchedulerRunTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := fixture{router: NewRouter(&Handler{Scheduler: stalledRunner{}, Logger: logger}, "/api", time.Minute)}
	status, env := f.do(t, http.MethodPost, "/api/scheduler/run", "")
	if status != http.StatusGatewayTimeout || env.Code != "TIMEOUT" {
		t.Fatalf("expected 504/TIMEOUT, got %d/%q", status, env.Code)
	}
}

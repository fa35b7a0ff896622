package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	dbconnector "kpiwatch-backend"
	"kpiwatch-backend/internal/alerts"
	"kpiwatch-backend/internal/evaluator"
	"kpiwatch-backend/internal/kpi"
	"kpiwatch-backend/internal/scheduler"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultSeriesLimit     = 100
	defaultCalculateWindow = alerts.Window1Day
)

type AlertReader interface {
	GetAlert(ctx context.Context, id int64) (alerts.Alert, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, alert alerts.Alert) (evaluator.Result, error)
}

type StatisticsEngine interface {
	GetOrCompute(ctx context.Context, alertID int64, q kpi.Query) (alerts.Statistics, bool, error)
	Calculate(ctx context.Context, q kpi.Query) (alerts.Statistics, error)
}

type TriggerLedger interface {
	ListForAlert(ctx context.Context, alertID int64, limit int) ([]alerts.Trigger, error)
	ListRecent(ctx context.Context, limit int) ([]alerts.Trigger, error)
	Resolve(ctx context.Context, id int64) (alerts.Trigger, error)
}

type CycleRunner interface {
	RunCycle(ctx context.Context) (scheduler.CycleReport, error)
	Status() scheduler.StatusReport
}

// DatasetCatalog lists the datasets and KPI columns alerts can be defined on.
type DatasetCatalog interface {
	Datasets(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, dataset string) ([]dbconnector.ColumnInfo, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Alerts    AlertReader
	Evaluator Evaluator
	Stats     StatisticsEngine
	Source    kpi.Source
	Datasets  DatasetCatalog
	Ledger    TriggerLedger
	Scheduler CycleRunner
	DB        Pinger
	Metrics   http.Handler
	Timeout   time.Duration
	Logger    *slog.Logger
}

type testResponse struct {
	WouldTrigger bool     `json:"would_trigger"`
	CurrentValue float64  `json:"current_value"`
	Reason       string   `json:"reason"`
	Threshold    *float64 `json:"threshold"`
}

type statisticsResponse struct {
	alerts.Statistics
	Cached bool `json:"cached"`
}

type calculateRequest struct {
	KPIName     string            `json:"kpi_name"`
	DatasetName string            `json:"dataset_name"`
	TimeWindow  alerts.TimeWindow `json:"time_window"`
}

type timeseriesRequest struct {
	KPIName     string            `json:"kpi_name"`
	DatasetName string            `json:"dataset_name"`
	TimeWindow  alerts.TimeWindow `json:"time_window"`
	Limit       int               `json:"limit"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	r.Route("/alerts/{id}", func(r chi.Router) {
		r.Post("/test", h.handleAlertTest)
		r.Get("/statistics", h.handleAlertStatistics)
	})
	r.Route("/triggers", func(r chi.Router) {
		r.Get("/", h.handleTriggersRecent)
		r.Get("/alert/{alertId}", h.handleTriggersForAlert)
		r.Put("/{id}/resolve", h.handleTriggerResolve)
	})
	r.Route("/statistics", func(r chi.Router) {
		r.Post("/calculate", h.handleStatisticsCalculate)
		r.Post("/timeseries", h.handleStatisticsTimeseries)
	})
	if h.Datasets != nil {
		r.Route("/datasets", func(r chi.Router) {
			r.Get("/", h.handleDatasets)
			r.Get("/{name}/columns", h.handleDatasetColumns)
		})
	}
	r.Route("/scheduler", func(r chi.Router) {
		r.Post("/run", h.handleSchedulerRun)
		r.Get("/status", h.handleSchedulerStatus)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok", "time": time.Now().UTC()}
	if h.Scheduler != nil {
		payload["scheduler"] = h.Scheduler.Status().State
	}
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			payload["status"] = "degraded"
			payload["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, okResponse{Ok: false, Data: payload})
			return
		}
		payload["database"] = "ok"
	}
	writeOK(w, payload)
}

func (h *Handler) handleAlertTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	alert, err := h.Alerts.GetAlert(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Evaluator.Evaluate(ctx, alert)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, testResponse{
		WouldTrigger: res.Triggered,
		CurrentValue: res.Value,
		Reason:       res.Reason,
		Threshold:    res.Threshold,
	})
}

func (h *Handler) handleAlertStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	alert, err := h.Alerts.GetAlert(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, cached, err := h.Stats.GetOrCompute(ctx, alert.ID, kpi.Query{
		Metric:  alert.MetricName(),
		Dataset: alert.DatasetName,
		Window:  alert.Config.TimeWindow,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, statisticsResponse{Statistics: stats, Cached: cached})
}

func (h *Handler) handleTriggersRecent(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	triggers, err := h.Ledger.ListRecent(ctx, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, triggers)
}

func (h *Handler) handleTriggersForAlert(w http.ResponseWriter, r *http.Request) {
	alertID, ok := pathID(w, r, "alertId")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	triggers, err := h.Ledger.ListForAlert(ctx, alertID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, triggers)
}

func (h *Handler) handleTriggerResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	trigger, err := h.Ledger.Resolve(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, trigger)
}

func (h *Handler) handleStatisticsCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if err := requireKPI(req.KPIName, req.DatasetName); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.TimeWindow == "" {
		req.TimeWindow = defaultCalculateWindow
	}
	ctx, cancel := h.context(r)
	defer cancel()
	stats, err := h.Stats.Calculate(ctx, kpi.Query{Metric: req.KPIName, Dataset: req.DatasetName, Window: req.TimeWindow})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, stats)
}

func (h *Handler) handleStatisticsTimeseries(w http.ResponseWriter, r *http.Request) {
	var req timeseriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if err := requireKPI(req.KPIName, req.DatasetName); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Limit < 0 {
		h.writeError(w, r, alerts.Invalid("limit", "must not be negative"))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultSeriesLimit
	}
	ctx, cancel := h.context(r)
	defer cancel()
	points, err := h.Source.Sample(ctx, kpi.Query{
		Metric:  req.KPIName,
		Dataset: req.DatasetName,
		Window:  req.TimeWindow,
		Limit:   req.Limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, points)
}

func (h *Handler) handleDatasets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()
	names, err := h.Datasets.Datasets(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"datasets": names})
}

func (h *Handler) handleDatasetColumns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx, cancel := h.context(r)
	defer cancel()
	cols, err := h.Datasets.Columns(ctx, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"dataset": name, "columns": cols})
}

func (h *Handler) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.Scheduler.RunCycle(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, report)
}

func (h *Handler) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.Scheduler.Status())
}

func (h *Handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeFailure(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryLimit returns 0 when the parameter is absent so the ledger default applies.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeFailure(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid limit")
		return 0, false
	}
	return limit, true
}

func requireKPI(kpiName, datasetName string) error {
	if strings.TrimSpace(kpiName) == "" {
		return alerts.Invalid("kpi_name", "is required")
	}
	if strings.TrimSpace(datasetName) == "" {
		return alerts.Invalid("dataset_name", "is required")
	}
	return nil
}

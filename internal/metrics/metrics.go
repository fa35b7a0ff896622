package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the alert engine collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	Cycles          prometheus.Counter
	CycleDuration   prometheus.Histogram
	Evaluations     *prometheus.CounterVec
	TriggersTotal   prometheus.Counter
	ResolvedTotal   prometheus.Counter
	StatsCache      *prometheus.CounterVec
	SchedulerActive prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpiwatch_scheduler_cycles_total",
			Help: "Total number of evaluation cycles run",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kpiwatch_scheduler_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpiwatch_alert_evaluations_total",
			Help: "Per-alert cycle outcomes by status",
		}, []string{"status"}),
		TriggersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpiwatch_triggers_recorded_total",
			Help: "Total number of alert triggers recorded",
		}),
		ResolvedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kpiwatch_triggers_resolved_total",
			Help: "Total number of alert triggers resolved",
		}),
		StatsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kpiwatch_statistics_cache_total",
			Help: "Statistics snapshot lookups by result",
		}, []string{"result"}),
		SchedulerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kpiwatch_scheduler_running",
			Help: "Whether the scheduler is running (1) or stopped (0)",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Cycles, m.CycleDuration, m.Evaluations, m.TriggersTotal, m.ResolvedTotal, m.StatsCache, m.SchedulerActive,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CycleFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Outcome(status string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(status).Inc()
}

func (m *Metrics) SchedulerRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.SchedulerActive.Set(1)
		return
	}
	m.SchedulerActive.Set(0)
}

func (m *Metrics) TriggerRecorded() {
	if m == nil {
		return
	}
	m.TriggersTotal.Inc()
}

func (m *Metrics) TriggerResolved() {
	if m == nil {
		return
	}
	m.ResolvedTotal.Inc()
}

func (m *Metrics) StatsCacheHit() {
	if m == nil {
		return
	}
	m.StatsCache.WithLabelValues("hit").Inc()
}

func (m *Metrics) StatsCacheMiss() {
	if m == nil {
		return
	}
	m.StatsCache.WithLabelValues("miss").Inc()
}

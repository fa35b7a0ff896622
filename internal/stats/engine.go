package stats

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kpiwatch-backend/internal/alerts"
	"kpiwatch-backend/internal/kpi"
)

const DefaultMaxAge = time.Hour

// SnapshotStore persists computed statistics per alert.
type SnapshotStore interface {
	// LatestStatistics returns alerts.ErrNotFound when the alert has no snapshot.
	LatestStatistics(ctx context.Context, alertID int64) (alerts.Statistics, error)
	SaveStatistics(ctx context.Context, s alerts.Statistics) (alerts.Statistics, error)
}

type Recorder interface {
	StatsCacheHit()
	StatsCacheMiss()
}

type Engine struct {
	source  kpi.Source
	store   SnapshotStore
	maxAge  time.Duration
	now     func() time.Time
	metrics Recorder
	logger  *slog.Logger
}

type EngineConfig struct {
	MaxAge  time.Duration
	Now     func() time.Time
	Metrics Recorder
	Logger  *slog.Logger
}

func NewEngine(source kpi.Source, store SnapshotStore, cfg EngineConfig) *Engine {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{source: source, store: store, maxAge: cfg.MaxAge, now: cfg.Now, metrics: cfg.Metrics, logger: cfg.Logger}
}

// Calculate computes statistics over every point of the query's window
// without touching the snapshot store.
func (e *Engine) Calculate(ctx context.Context, q kpi.Query) (alerts.Statistics, error) {
	q.All, q.Limit = true, 0
	points, err := e.source.Sample(ctx, q)
	if err != nil {
		return alerts.Statistics{}, err
	}
	summary, err := Compute(points)
	if errors.Is(err, errEmptySample) {
		return alerts.Statistics{}, &alerts.NoDataError{Metric: q.Metric, Dataset: q.Dataset, Window: string(q.Window)}
	}
	if err != nil {
		return alerts.Statistics{}, err
	}
	return alerts.Statistics{
		CalculatedAt: e.now().UTC(),
		MinValue:     summary.Min,
		MaxValue:     summary.Max,
		AvgValue:     summary.Mean,
		MedianValue:  summary.Median,
		StdDevValue:  summary.StdDev,
		PeriodStart:  summary.PeriodStart,
		PeriodEnd:    summary.PeriodEnd,
		DataPoints:   summary.Count,
	}, nil
}

// GetOrCompute returns the alert's latest snapshot while it is younger than
// the max age, otherwise recomputes and stores a new one. The bool reports a cache hit.
func (e *Engine) GetOrCompute(ctx context.Context, alertID int64, q kpi.Query) (alerts.Statistics, bool, error) {
	latest, err := e.store.LatestStatistics(ctx, alertID)
	switch {
	case err == nil && latest.Fresh(e.now(), e.maxAge):
		e.hit()
		return latest, true, nil
	case err != nil && !errors.Is(err, alerts.ErrNotFound):
		return alerts.Statistics{}, false, err
	}
	e.miss()
	fresh, err := e.Calculate(ctx, q)
	if err != nil {
		return alerts.Statistics{}, false, err
	}
	fresh.AlertID = alertID
	saved, err := e.store.SaveStatistics(ctx, fresh)
	if err != nil {
		// The computed values are still valid for this caller.
		e.logger.Warn("save statistics failed", slog.Int64("alert_id", alertID), slog.String("error", err.Error()))
		return fresh, false, nil
	}
	return saved, false, nil
}

func (e *Engine) hit() {
	if e.metrics != nil {
		e.metrics.StatsCacheHit()
	}
}

func (e *Engine) miss() {
	if e.metrics != nil {
		e.metrics.StatsCacheMiss()
	}
}

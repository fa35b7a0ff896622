package ledger

import (
	"context"
	"log/slog"
	"time"

	"kpiwatch-backend/internal/alerts"
	"kpiwatch-backend/internal/bus"
	"kpiwatch-backend/internal/security"
)

const (
	DefaultAlertLimit  = 50
	DefaultRecentLimit = 100
)

type Store interface {
	CreateTrigger(ctx context.Context, t alerts.Trigger) (alerts.Trigger, error)
	ListTriggersForAlert(ctx context.Context, alertID int64, limit int) ([]alerts.Trigger, error)
	ListRecentTriggers(ctx context.Context, limit int) ([]alerts.Trigger, error)
	// ResolveTrigger marks an unresolved trigger resolved at the given time.
	// The bool is false when the trigger was already resolved.
	ResolveTrigger(ctx context.Context, id int64, at time.Time) (alerts.Trigger, bool, error)
}

type Publisher interface {
	Publish(subject string, payload any) error
}

type Recorder interface {
	TriggerRecorded()
	TriggerResolved()
}

// Ledger is the append-only record of threshold breaches.
type Ledger struct {
	store     Store
	publisher Publisher
	metrics   Recorder
	limits    security.Limits
	now       func() time.Time
	logger    *slog.Logger
}

type Config struct {
	Publisher Publisher
	Metrics   Recorder
	Limits    security.Limits
	Now       func() time.Time
	Logger    *slog.Logger
}

func New(store Store, cfg Config) *Ledger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	return &Ledger{store: store, publisher: cfg.Publisher, metrics: cfg.Metrics, limits: cfg.Limits, now: cfg.Now, logger: cfg.Logger}
}

func (l *Ledger) Record(ctx context.Context, alertID int64, value float64, meta alerts.TriggerMetadata) (alerts.Trigger, error) {
	trigger, err := l.store.CreateTrigger(ctx, alerts.Trigger{
		AlertID:     alertID,
		TriggeredAt: l.now().UTC(),
		Value:       value,
		Metadata:    meta,
	})
	if err != nil {
		return alerts.Trigger{}, err
	}
	if l.metrics != nil {
		l.metrics.TriggerRecorded()
	}
	l.publish(bus.SubjectTriggerRecorded, trigger)
	return trigger, nil
}

func (l *Ledger) ListForAlert(ctx context.Context, alertID int64, limit int) ([]alerts.Trigger, error) {
	return l.store.ListTriggersForAlert(ctx, alertID, l.limits.ClampResult(limit, DefaultAlertLimit))
}

func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]alerts.Trigger, error) {
	return l.store.ListRecentTriggers(ctx, l.limits.ClampResult(limit, DefaultRecentLimit))
}

// Resolve is one-way. Resolving twice returns the original record unchanged.
func (l *Ledger) Resolve(ctx context.Context, id int64) (alerts.Trigger, error) {
	trigger, changed, err := l.store.ResolveTrigger(ctx, id, l.now().UTC())
	if err != nil {
		return alerts.Trigger{}, err
	}
	if changed {
		if l.metrics != nil {
			l.metrics.TriggerResolved()
		}
		l.publish(bus.SubjectTriggerResolved, trigger)
	}
	return trigger, nil
}

func (l *Ledger) publish(subject string, trigger alerts.Trigger) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(subject, trigger); err != nil {
		l.logger.Warn("publish trigger event failed",
			slog.String("subject", subject),
			slog.Int64("trigger_id", trigger.ID),
			slog.String("error", err.Error()))
	}
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"kpiwatch-backend/internal/alerts"
)

const alertColumns = `id, name, description, kpi_name, dataset_name, alert_type, enabled,
	check_frequency, last_checked_at, created_at, updated_at, created_by, config`

const triggerColumns = `t.id, t.alert_id, t.triggered_at, t.value, t.expected_value, t.anomaly_score,
	t.metadata, t.resolved, t.resolved_at`

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) ListEnabledAlerts(ctx context.Context) ([]alerts.Alert, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT `+alertColumns+` FROM alerts WHERE enabled = true ORDER BY created_at DESC`)
	if err != nil {
		return nil, dataSource("list enabled alerts", err)
	}
	defer rows.Close()
	results := []alerts.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, dataSource("scan alert", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dataSource("iterate alerts", err)
	}
	return results, nil
}

func (r *Repository) GetAlert(ctx context.Context, id int64) (alerts.Alert, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return alerts.Alert{}, &alerts.NotFoundError{Kind: "alert", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return alerts.Alert{}, dataSource("get alert", err)
	}
	return a, nil
}

func (r *Repository) TouchLastChecked(ctx context.Context, id int64, at time.Time) error {
	_, err := r.Store.Pool.Exec(ctx, `UPDATE alerts SET last_checked_at=$1 WHERE id=$2`, at, id)
	if err != nil {
		return dataSource("touch last_checked_at", err)
	}
	return nil
}

func (r *Repository) CreateTrigger(ctx context.Context, t alerts.Trigger) (alerts.Trigger, error) {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return alerts.Trigger{}, err
	}
	row := r.Store.Pool.QueryRow(ctx, `
		INSERT INTO alert_triggers (alert_id, triggered_at, value, expected_value, anomaly_score, metadata)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		t.AlertID, t.TriggeredAt, t.Value, t.ExpectedValue, t.AnomalyScore, meta)
	if err := row.Scan(&t.ID); err != nil {
		return alerts.Trigger{}, dataSource("insert trigger", err)
	}
	return t, nil
}

func (r *Repository) ListTriggersForAlert(ctx context.Context, alertID int64, limit int) ([]alerts.Trigger, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT `+triggerColumns+`, a.name, a.kpi_name, a.dataset_name
		FROM alert_triggers t JOIN alerts a ON a.id = t.alert_id
		WHERE t.alert_id=$1
		ORDER BY t.triggered_at DESC
		LIMIT $2`, alertID, limit)
	if err != nil {
		return nil, dataSource("list triggers for alert", err)
	}
	return collectTriggers(rows)
}

func (r *Repository) ListRecentTriggers(ctx context.Context, limit int) ([]alerts.Trigger, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT `+triggerColumns+`, a.name, a.kpi_name, a.dataset_name
		FROM alert_triggers t JOIN alerts a ON a.id = t.alert_id
		ORDER BY t.triggered_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, dataSource("list recent triggers", err)
	}
	return collectTriggers(rows)
}

// ResolveTrigger only updates unresolved rows so resolved_at is stamped once.
func (r *Repository) ResolveTrigger(ctx context.Context, id int64, at time.Time) (alerts.Trigger, bool, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		UPDATE alert_triggers t SET resolved=true, resolved_at=$2
		FROM alerts a
		WHERE t.id=$1 AND t.resolved=false AND a.id = t.alert_id
		RETURNING `+triggerColumns+`, a.name, a.kpi_name, a.dataset_name`, id, at)
	t, err := scanTrigger(row)
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return alerts.Trigger{}, false, dataSource("resolve trigger", err)
	}
	row = r.Store.Pool.QueryRow(ctx, `
		SELECT `+triggerColumns+`, a.name, a.kpi_name, a.dataset_name
		FROM alert_triggers t JOIN alerts a ON a.id = t.alert_id
		WHERE t.id=$1`, id)
	t, err = scanTrigger(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return alerts.Trigger{}, false, &alerts.NotFoundError{Kind: "trigger", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return alerts.Trigger{}, false, dataSource("get trigger", err)
	}
	return t, false, nil
}

func (r *Repository) LastTriggerAt(ctx context.Context, alertID int64) (time.Time, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT triggered_at FROM alert_triggers WHERE alert_id=$1 ORDER BY triggered_at DESC LIMIT 1`, alertID)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, &alerts.NotFoundError{Kind: "trigger for alert", ID: strconv.FormatInt(alertID, 10)}
		}
		return time.Time{}, dataSource("last trigger", err)
	}
	return ts, nil
}

func (r *Repository) LatestStatistics(ctx context.Context, alertID int64) (alerts.Statistics, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, alert_id, calculated_at, min_value, max_value, avg_value, median_value,
			stddev_value, period_start, period_end, data_points
		FROM alert_statistics
		WHERE alert_id=$1
		ORDER BY calculated_at DESC
		LIMIT 1`, alertID)
	var s alerts.Statistics
	var stddev *float64
	err := row.Scan(&s.ID, &s.AlertID, &s.CalculatedAt, &s.MinValue, &s.MaxValue, &s.AvgValue, &s.MedianValue,
		&stddev, &s.PeriodStart, &s.PeriodEnd, &s.DataPoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return alerts.Statistics{}, &alerts.NotFoundError{Kind: "statistics for alert", ID: strconv.FormatInt(alertID, 10)}
	}
	if err != nil {
		return alerts.Statistics{}, dataSource("latest statistics", err)
	}
	if stddev != nil {
		s.StdDevValue = *stddev
	}
	return s, nil
}

func (r *Repository) SaveStatistics(ctx context.Context, s alerts.Statistics) (alerts.Statistics, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		INSERT INTO alert_statistics (alert_id, calculated_at, min_value, max_value, avg_value, median_value,
			stddev_value, period_start, period_end, data_points)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		s.AlertID, s.CalculatedAt, s.MinValue, s.MaxValue, s.AvgValue, s.MedianValue,
		s.StdDevValue, s.PeriodStart, s.PeriodEnd, s.DataPoints)
	if err := row.Scan(&s.ID); err != nil {
		return alerts.Statistics{}, dataSource("insert statistics", err)
	}
	return s, nil
}

func scanAlert(row pgx.Row) (alerts.Alert, error) {
	var a alerts.Alert
	var description, createdBy *string
	var alertType, frequency string
	var config []byte
	if err := row.Scan(&a.ID, &a.Name, &description, &a.KPIName, &a.DatasetName, &alertType, &a.Enabled,
		&frequency, &a.LastCheckedAt, &a.CreatedAt, &a.UpdatedAt, &createdBy, &config); err != nil {
		return alerts.Alert{}, err
	}
	a.Type = alerts.AlertType(alertType)
	a.CheckFrequency = alerts.CheckFrequency(frequency)
	if description != nil {
		a.Description = *description
	}
	if createdBy != nil {
		a.CreatedBy = *createdBy
	}
	decodeConfig(config, &a)
	return a, nil
}

// decodeConfig keeps a row with a corrupt config listable; evaluation then
// fails with the decode error instead of a misleading field error.
func decodeConfig(raw []byte, a *alerts.Alert) {
	if err := json.Unmarshal(raw, &a.Config); err != nil {
		a.Config = alerts.ThresholdConfig{}
		a.ConfigError = alerts.Invalid("config", "unreadable: %v", err)
	}
}

func collectTriggers(rows pgx.Rows) ([]alerts.Trigger, error) {
	defer rows.Close()
	results := []alerts.Trigger{}
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, dataSource("scan trigger", err)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dataSource("iterate triggers", err)
	}
	return results, nil
}

func scanTrigger(row pgx.Row) (alerts.Trigger, error) {
	var t alerts.Trigger
	var meta []byte
	if err := row.Scan(&t.ID, &t.AlertID, &t.TriggeredAt, &t.Value, &t.ExpectedValue, &t.AnomalyScore,
		&meta, &t.Resolved, &t.ResolvedAt, &t.AlertName, &t.KPIName, &t.DatasetName); err != nil {
		return alerts.Trigger{}, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &t.Metadata)
	}
	return t, nil
}

func dataSource(op string, err error) error {
	return &alerts.DataSourceError{Op: op, Err: err}
}

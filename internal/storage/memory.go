package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"kpiwatch-backend/internal/alerts"
)

// MemoryStore is an in-process stand-in for Repository. It backs the package
// tests of the scheduler, ledger and api; alertd always uses PostgreSQL.
// PutAlert and Touches exist for seeding and assertions.
type MemoryStore struct {
	mu         sync.Mutex
	alerts     map[int64]alerts.Alert
	triggers   []alerts.Trigger
	statistics []alerts.Statistics
	touches    map[int64]int
	nextID     int64
}

func NewMemoryStore(seed ...alerts.Alert) *MemoryStore {
	m := &MemoryStore{alerts: map[int64]alerts.Alert{}, touches: map[int64]int{}}
	for _, a := range seed {
		m.PutAlert(a)
	}
	return m
}

func (m *MemoryStore) PutAlert(a alerts.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a
}

// Touches reports how many times last_checked_at was written for an alert.
func (m *MemoryStore) Touches(alertID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touches[alertID]
}

func (m *MemoryStore) ListEnabledAlerts(ctx context.Context) ([]alerts.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []alerts.Alert{}
	for _, a := range m.alerts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetAlert(ctx context.Context, id int64) (alerts.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return alerts.Alert{}, &alerts.NotFoundError{Kind: "alert", ID: strconv.FormatInt(id, 10)}
	}
	return a, nil
}

func (m *MemoryStore) TouchLastChecked(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return &alerts.NotFoundError{Kind: "alert", ID: strconv.FormatInt(id, 10)}
	}
	a.LastCheckedAt = &at
	m.alerts[id] = a
	m.touches[id]++
	return nil
}

func (m *MemoryStore) CreateTrigger(ctx context.Context, t alerts.Trigger) (alerts.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.triggers = append(m.triggers, t)
	return t, nil
}

func (m *MemoryStore) ListTriggersForAlert(ctx context.Context, alertID int64, limit int) ([]alerts.Trigger, error) {
	return m.listTriggers(limit, func(t alerts.Trigger) bool { return t.AlertID == alertID }), nil
}

func (m *MemoryStore) ListRecentTriggers(ctx context.Context, limit int) ([]alerts.Trigger, error) {
	return m.listTriggers(limit, func(alerts.Trigger) bool { return true }), nil
}

func (m *MemoryStore) listTriggers(limit int, keep func(alerts.Trigger) bool) []alerts.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []alerts.Trigger{}
	for i := len(m.triggers) - 1; i >= 0; i-- {
		t := m.triggers[i]
		if !keep(t) {
			continue
		}
		if a, ok := m.alerts[t.AlertID]; ok {
			t.AlertName, t.KPIName, t.DatasetName = a.Name, a.KPIName, a.DatasetName
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) ResolveTrigger(ctx context.Context, id int64, at time.Time) (alerts.Trigger, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.triggers {
		if t.ID != id {
			continue
		}
		if t.Resolved {
			return t, false, nil
		}
		t.Resolved = true
		t.ResolvedAt = &at
		m.triggers[i] = t
		return t, true, nil
	}
	return alerts.Trigger{}, false, &alerts.NotFoundError{Kind: "trigger", ID: strconv.FormatInt(id, 10)}
}

func (m *MemoryStore) LastTriggerAt(ctx context.Context, alertID int64) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	for _, t := range m.triggers {
		if t.AlertID == alertID && t.TriggeredAt.After(last) {
			last = t.TriggeredAt
		}
	}
	if last.IsZero() {
		return time.Time{}, &alerts.NotFoundError{Kind: "trigger for alert", ID: strconv.FormatInt(alertID, 10)}
	}
	return last, nil
}

func (m *MemoryStore) LatestStatistics(ctx context.Context, alertID int64) (alerts.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *alerts.Statistics
	for i := range m.statistics {
		s := &m.statistics[i]
		if s.AlertID == alertID && (latest == nil || s.CalculatedAt.After(latest.CalculatedAt)) {
			latest = s
		}
	}
	if latest == nil {
		return alerts.Statistics{}, &alerts.NotFoundError{Kind: "statistics for alert", ID: strconv.FormatInt(alertID, 10)}
	}
	return *latest, nil
}

func (m *MemoryStore) SaveStatistics(ctx context.Context, s alerts.Statistics) (alerts.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	m.statistics = append(m.statistics, s)
	return s, nil
}

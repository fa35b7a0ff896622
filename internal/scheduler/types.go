package scheduler

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Status is the outcome of one alert within a cycle.
type Status string

const (
	StatusSkipped     Status = "skipped"
	StatusOK          Status = "ok"
	StatusTriggered   Status = "triggered"
	StatusSuppressed  Status = "suppressed"
	StatusUnsupported Status = "unsupported"
	StatusFailed      Status = "failed"
)

type Outcome struct {
	AlertID   int64    `json:"alert_id"`
	AlertName string   `json:"alert_name"`
	Status    Status   `json:"status"`
	Value     *float64 `json:"value,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	TriggerID *int64   `json:"trigger_id,omitempty"`
	Error     string   `json:"error,omitempty"`

	err error
}

// Err returns the typed error behind a failed outcome.
func (o Outcome) Err() error { return o.err }

// Attempted reports whether the alert was due and evaluated in this cycle.
func (o Outcome) Attempted() bool {
	return o.Status != StatusSkipped && o.Status != StatusUnsupported
}

type CycleReport struct {
	ID         uuid.UUID      `json:"id"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcomes   []Outcome      `json:"outcomes"`
	Counts     map[Status]int `json:"counts"`
	Error      string         `json:"error,omitempty"`
}

func (r *CycleReport) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Counts[o.Status]++
}

func (r CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type StatusReport struct {
	State      State        `json:"state"`
	Spec       string       `json:"spec,omitempty"`
	NextRun    *time.Time   `json:"next_run,omitempty"`
	LastReport *CycleReport `json:"last_report,omitempty"`
}

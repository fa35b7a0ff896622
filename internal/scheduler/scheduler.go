package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"kpiwatch-backend/internal/alerts"
	"kpiwatch-backend/internal/evaluator"
	"kpiwatch-backend/internal/monitor"
)

const (
	DefaultSpec              = "*/5 * * * *"
	DefaultStartupDelay      = 5 * time.Second
	DefaultEvaluationTimeout = 30 * time.Second
	touchTimeout             = 5 * time.Second
)

type AlertStore interface {
	ListEnabledAlerts(ctx context.Context) ([]alerts.Alert, error)
	TouchLastChecked(ctx context.Context, id int64, at time.Time) error
	LastTriggerAt(ctx context.Context, alertID int64) (time.Time, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, alert alerts.Alert) (evaluator.Result, error)
}

type TriggerRecorder interface {
	Record(ctx context.Context, alertID int64, value float64, meta alerts.TriggerMetadata) (alerts.Trigger, error)
}

type Recorder interface {
	CycleFinished(d time.Duration)
	Outcome(status string)
	SchedulerRunning(running bool)
}

type Config struct {
	StartupDelay      time.Duration
	EvaluationTimeout time.Duration
	// TriggerCooldown suppresses a new trigger while the alert's previous one
	// is younger than this. Zero records every breach.
	TriggerCooldown time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
	Metrics         Recorder
}

// Scheduler owns the periodic evaluation loop. The zero state is stopped.
type Scheduler struct {
	store   AlertStore
	eval    Evaluator
	ledger  TriggerRecorder
	cfg     Config
	logger  *slog.Logger
	metrics Recorder

	mu    sync.Mutex
	state State
	spec  string
	run   *activeRun

	cycleMu sync.Mutex

	lastMu sync.RWMutex
	last   *CycleReport
}

type activeRun struct {
	cron        *cron.Cron
	cancel      context.CancelFunc
	initial     *time.Timer
	initialDone chan struct{}
}

func New(store AlertStore, eval Evaluator, ledger TriggerRecorder, cfg Config) *Scheduler {
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = DefaultEvaluationTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		eval:    eval,
		ledger:  ledger,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		state:   StateStopped,
	}
}

// Start schedules cycles on the cron expression and arms one initial cycle
// after the startup delay. Starting a running scheduler only logs a warning.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.logger.Warn("scheduler already running", slog.String("spec", s.spec))
		return nil
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(schedule, cron.FuncJob(func() { s.runScheduled(ctx, "cron") }))
	c.Start()

	done := make(chan struct{})
	timer := time.AfterFunc(s.cfg.StartupDelay, func() {
		defer close(done)
		s.runScheduled(ctx, "startup")
	})

	s.run = &activeRun{cron: c, cancel: cancel, initial: timer, initialDone: done}
	s.state = StateRunning
	s.spec = spec
	s.setRunning(true)
	s.logger.Info("scheduler started", slog.String("spec", spec), slog.Duration("startup_delay", s.cfg.StartupDelay))
	return nil
}

// Stop cancels the timers and any in-flight cycle and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	run := s.run
	s.run = nil
	s.state = StateStopped
	s.mu.Unlock()

	run.cancel()
	if run.initial.Stop() {
		close(run.initialDone)
	}
	<-run.cron.Stop().Done()
	<-run.initialDone
	s.setRunning(false)
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Status() StatusReport {
	s.mu.Lock()
	report := StatusReport{State: s.state, Spec: s.spec}
	if s.run != nil {
		if entries := s.run.cron.Entries(); len(entries) > 0 && !entries[0].Next.IsZero() {
			next := entries[0].Next
			report.NextRun = &next
		}
	}
	s.mu.Unlock()
	report.LastReport = s.LastReport()
	return report
}

func (s *Scheduler) LastReport() *CycleReport {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// RunCycle runs one cycle now, waiting for any cycle already in progress.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.runCycle(ctx, "manual")
}

// TryRunCycle runs one cycle unless another one is in progress, in which
// case it returns immediately with ran set to false.
func (s *Scheduler) TryRunCycle(ctx context.Context, trigger string) (report CycleReport, ran bool, err error) {
	if ctx.Err() != nil {
		return CycleReport{}, false, ctx.Err()
	}
	if !s.cycleMu.TryLock() {
		s.logger.Warn("previous cycle still running, skipping", slog.String("trigger", trigger))
		return CycleReport{}, false, nil
	}
	defer s.cycleMu.Unlock()
	report, err = s.runCycle(ctx, trigger)
	return report, true, err
}

func (s *Scheduler) runScheduled(ctx context.Context, trigger string) {
	_, _, _ = s.TryRunCycle(ctx, trigger)
}

func (s *Scheduler) runCycle(ctx context.Context, trigger string) (CycleReport, error) {
	report := CycleReport{
		ID:        uuid.New(),
		Trigger:   trigger,
		StartedAt: s.cfg.Now().UTC(),
		Outcomes:  []Outcome{},
		Counts:    map[Status]int{},
	}
	list, err := s.store.ListEnabledAlerts(ctx)
	if err != nil {
		report.FinishedAt = s.cfg.Now().UTC()
		report.Error = err.Error()
		s.finish(report)
		s.logger.Error("list enabled alerts failed", slog.String("cycle_id", report.ID.String()), slog.String("error", err.Error()))
		return report, fmt.Errorf("list enabled alerts: %w", err)
	}
	for _, alert := range list {
		if ctx.Err() != nil {
			break
		}
		report.add(s.processAlert(ctx, alert))
	}
	report.FinishedAt = s.cfg.Now().UTC()
	s.finish(report)
	s.logger.Info("cycle finished",
		slog.String("cycle_id", report.ID.String()),
		slog.String("trigger", trigger),
		slog.Int("alerts", len(list)),
		slog.Int("checked", len(list)-report.Counts[StatusSkipped]-report.Counts[StatusUnsupported]),
		slog.Int("triggered", report.Counts[StatusTriggered]),
		slog.Int("failed", report.Counts[StatusFailed]),
		slog.Duration("duration", report.Duration()))
	return report, ctx.Err()
}

func (s *Scheduler) processAlert(ctx context.Context, alert alerts.Alert) Outcome {
	out := Outcome{AlertID: alert.ID, AlertName: alert.Name}
	now := s.cfg.Now()
	if !alert.Due(now) {
		out.Status = StatusSkipped
		return out
	}
	if alert.Type == alerts.TypeAnomaly {
		out.Status = StatusUnsupported
		out.Reason = "anomaly detection is not implemented"
		return out
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.cfg.EvaluationTimeout)
	res, err := s.eval.Evaluate(evalCtx, alert)
	cancel()
	switch {
	case err != nil:
		s.fail(&out, err)
	case !res.Triggered:
		out.Status = StatusOK
		out.Value = &res.Value
	default:
		out.Value = &res.Value
		out.Reason = res.Reason
		s.recordBreach(ctx, alert, res, now, &out)
	}

	touchCtx, cancelTouch := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
	defer cancelTouch()
	if err := s.store.TouchLastChecked(touchCtx, alert.ID, s.cfg.Now().UTC()); err != nil {
		s.logger.Error("touch last_checked_at failed", slog.Int64("alert_id", alert.ID), slog.String("error", err.Error()))
	}
	return out
}

func (s *Scheduler) recordBreach(ctx context.Context, alert alerts.Alert, res evaluator.Result, now time.Time, out *Outcome) {
	if s.cfg.TriggerCooldown > 0 {
		last, err := s.store.LastTriggerAt(ctx, alert.ID)
		if err == nil && monitor.WithinCooldown(last, now, s.cfg.TriggerCooldown) {
			out.Status = StatusSuppressed
			return
		}
		if err != nil && !errors.Is(err, alerts.ErrNotFound) {
			s.logger.Warn("cooldown lookup failed", slog.Int64("alert_id", alert.ID), slog.String("error", err.Error()))
		}
	}
	trigger, err := s.ledger.Record(ctx, alert.ID, res.Value, alerts.TriggerMetadata{
		Reason:    res.Reason,
		Threshold: res.Threshold,
		Config:    alert.Config,
	})
	if err != nil {
		s.fail(out, fmt.Errorf("record trigger: %w", err))
		return
	}
	out.Status = StatusTriggered
	out.TriggerID = &trigger.ID
	s.logger.Info("alert triggered",
		slog.Int64("alert_id", alert.ID),
		slog.Int64("trigger_id", trigger.ID),
		slog.String("reason", res.Reason))
}

func (s *Scheduler) fail(out *Outcome, err error) {
	out.Status = StatusFailed
	out.Error = err.Error()
	out.err = err
	level := slog.LevelError
	if errors.Is(err, alerts.ErrNoData) {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "alert evaluation failed",
		slog.Int64("alert_id", out.AlertID),
		slog.String("error", err.Error()))
}

func (s *Scheduler) finish(report CycleReport) {
	s.lastMu.Lock()
	s.last = &report
	s.lastMu.Unlock()
	if s.metrics == nil {
		return
	}
	s.metrics.CycleFinished(report.Duration())
	for _, o := range report.Outcomes {
		s.metrics.Outcome(string(o.Status))
	}
}

func (s *Scheduler) setRunning(running bool) {
	if s.metrics != nil {
		s.metrics.SchedulerRunning(running)
	}
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}

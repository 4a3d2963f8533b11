// Package scheduler arms cron-style analysis runs and serializes manual
// triggers against them. At most one run is ever in flight.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/matheus3301/replywatch/internal/bus"
	"github.com/matheus3301/replywatch/internal/store"
	"go.uber.org/zap"
)

// Runner executes one analysis run. Implemented by pipeline.Pipeline.
type Runner interface {
	Execute(ctx context.Context, trigger string) (*store.Run, error)
}

// InvalidScheduleError reports a cron expression that failed to parse.
// The previous schedule stays in effect.
type InvalidScheduleError struct {
	Expr string
	Err  error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %v", e.Expr, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

// Status is a snapshot of the scheduler for the control surface.
type Status struct {
	State      State     `json:"state"`
	Enabled    bool      `json:"enabled"`
	Expression string    `json:"expression"`
	NextFireAt time.Time `json:"next_fire_at,omitzero"`
	LastRunID  string    `json:"last_run_id,omitempty"`
}

// Scheduler owns the timer loop and the single-run guard.
type Scheduler struct {
	machine *Machine
	runner  Runner
	bus     *bus.Bus
	logger  *zap.Logger

	mu         sync.Mutex
	schedule   cron.Schedule
	expr       string
	enabled    bool
	nextFireAt time.Time
	lastRunID  string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now  func() time.Time
	tick time.Duration
}

// New creates a disarmed scheduler with the given expression pre-parsed.
// The expression must be valid even when the schedule starts disabled.
func New(runner Runner, b *bus.Bus, expr string, logger *zap.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, &InvalidScheduleError{Expr: expr, Err: err}
	}
	return &Scheduler{
		machine:  NewMachine(b),
		runner:   runner,
		bus:      b,
		logger:   logger,
		schedule: schedule,
		expr:     expr,
		now:      time.Now,
		tick:     time.Second,
	}, nil
}

// Start launches the timer loop. It is a no-op to fire while disabled.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the timer loop and waits for any in-flight run to drain.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Enable arms the schedule and computes the next fire time.
func (s *Scheduler) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.machine.Current()
	switch state {
	case StateDisabled:
		if err := s.machine.Transition(StateIdle); err != nil {
			return err
		}
	case StateDisabling:
		// The drain will land in Idle instead of Disabled.
	case StateIdle, StateRunning:
		// Already armed.
	}
	s.enabled = true
	s.nextFireAt = s.schedule.Next(s.now())
	s.logger.Info("schedule enabled",
		zap.String("expression", s.expr),
		zap.Time("next_fire_at", s.nextFireAt))
	return nil
}

// Disable disarms the schedule. An in-flight run finishes first; no new
// scheduled runs start.
func (s *Scheduler) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.machine.Current() {
	case StateIdle:
		if err := s.machine.Transition(StateDisabled); err != nil {
			return err
		}
	case StateRunning:
		if err := s.machine.Transition(StateDisabling); err != nil {
			return err
		}
	case StateDisabled, StateDisabling:
		// Already disarmed or draining.
	}
	s.enabled = false
	s.nextFireAt = time.Time{}
	s.logger.Info("schedule disabled")
	return nil
}

// UpdateSchedule swaps the cron expression. An invalid expression is
// rejected and the prior schedule keeps running.
func (s *Scheduler) UpdateSchedule(expr string) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return &InvalidScheduleError{Expr: expr, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = schedule
	s.expr = expr
	if s.enabled {
		s.nextFireAt = schedule.Next(s.now())
	}
	s.logger.Info("schedule updated",
		zap.String("expression", expr),
		zap.Time("next_fire_at", s.nextFireAt))
	return nil
}

// Trigger starts a manual run. Returns false when a run is already in
// flight; the overlapping request is a logged no-op.
func (s *Scheduler) Trigger(reason string) bool {
	started := s.tryStart(store.TriggerManual)
	if !started {
		s.logger.Info("manual trigger skipped, run already in flight",
			zap.String("reason", reason))
	}
	return started
}

// CurrentState exposes the underlying machine state.
func (s *Scheduler) CurrentState() State {
	return s.machine.Current()
}

// Snapshot returns the scheduler status for the control surface.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:      s.machine.Current(),
		Enabled:    s.enabled,
		Expression: s.expr,
		NextFireAt: s.nextFireAt,
		LastRunID:  s.lastRunID,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeFire(ctx)
		}
	}
}

func (s *Scheduler) maybeFire(ctx context.Context) {
	s.mu.Lock()
	due := s.enabled && !s.nextFireAt.IsZero() && !s.now().Before(s.nextFireAt)
	if due {
		s.nextFireAt = s.schedule.Next(s.now())
	}
	s.mu.Unlock()
	if !due || ctx.Err() != nil {
		return
	}

	if !s.tryStart(store.TriggerSchedule) {
		s.logger.Warn("scheduled fire skipped, previous run still in flight")
		if s.bus != nil {
			s.bus.Publish(bus.Event{Kind: bus.KindScheduleSkipped, Timestamp: s.now()})
		}
	}
}

// tryStart is the single-run guard: it atomically claims the Running state
// and launches the run goroutine.
func (s *Scheduler) tryStart(trigger string) bool {
	s.mu.Lock()
	state := s.machine.Current()
	if state == StateRunning || state == StateDisabling {
		s.mu.Unlock()
		return false
	}
	if err := s.machine.Transition(StateRunning); err != nil {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run, err := s.runner.Execute(context.Background(), trigger)
		if err != nil {
			s.logger.Error("analysis run aborted", zap.Error(err))
		}
		s.finishRun(run)
	}()
	return true
}

func (s *Scheduler) finishRun(run *store.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run != nil {
		s.lastRunID = run.RunID
	}

	next := StateDisabled
	if s.enabled {
		next = StateIdle
		s.nextFireAt = s.schedule.Next(s.now())
	}
	if err := s.machine.Transition(next); err != nil {
		s.logger.Error("post-run transition failed", zap.Error(err))
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/replywatch/internal/store"
	"go.uber.org/zap"
)

type slowRunner struct {
	calls   atomic.Int32
	release chan struct{}
	runErr  error
}

func newSlowRunner() *slowRunner {
	return &slowRunner{release: make(chan struct{})}
}

func (r *slowRunner) Execute(ctx context.Context, trigger string) (*store.Run, error) {
	r.calls.Add(1)
	<-r.release
	if r.runErr != nil {
		return nil, r.runErr
	}
	return &store.Run{RunID: "run-1", Trigger: trigger, Status: store.RunStatusSuccess}, nil
}

func testScheduler(t *testing.T, runner Runner) *Scheduler {
	t.Helper()
	s, err := New(runner, nil, "0 9 * * *", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestMachineTransitions(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != StateDisabled {
		t.Fatalf("initial state = %s", m.Current())
	}

	// Manual runs work from Disabled.
	if err := m.Transition(StateRunning); err != nil {
		t.Fatalf("disabled -> running: %v", err)
	}
	if err := m.Transition(StateDisabled); err != nil {
		t.Fatalf("running -> disabled: %v", err)
	}

	if err := m.Transition(StateIdle); err != nil {
		t.Fatalf("disabled -> idle: %v", err)
	}
	if err := m.Transition(StateDisabling); err == nil {
		t.Fatal("idle -> disabling must be rejected")
	}
	if m.Current() != StateIdle {
		t.Errorf("rejected transition moved the state to %s", m.Current())
	}

	// Self-transition is a no-op.
	if err := m.Transition(StateIdle); err != nil {
		t.Fatalf("idle -> idle: %v", err)
	}
}

func TestEnableComputesNextFire(t *testing.T) {
	s := testScheduler(t, newSlowRunner())
	s.now = func() time.Time {
		return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	}

	if err := s.Enable(); err != nil {
		t.Fatal(err)
	}
	st := s.Snapshot()
	if st.State != StateIdle || !st.Enabled {
		t.Errorf("status after enable: %+v", st)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !st.NextFireAt.Equal(want) {
		t.Errorf("next fire = %v, want %v", st.NextFireAt, want)
	}
}

func TestInvalidScheduleKeepsPrior(t *testing.T) {
	s := testScheduler(t, newSlowRunner())
	if err := s.Enable(); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot()

	err := s.UpdateSchedule("not a cron line")
	var invalid *InvalidScheduleError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidScheduleError", err)
	}

	after := s.Snapshot()
	if after.Expression != before.Expression {
		t.Errorf("expression changed to %q", after.Expression)
	}
	if !after.NextFireAt.Equal(before.NextFireAt) {
		t.Errorf("next fire changed to %v", after.NextFireAt)
	}
}

func TestTriggerOverlapIsNoOp(t *testing.T) {
	runner := newSlowRunner()
	s := testScheduler(t, runner)

	if !s.Trigger("first") {
		t.Fatal("first trigger should start")
	}
	waitFor(t, func() bool { return s.CurrentState() == StateRunning })

	if s.Trigger("second") {
		t.Error("second trigger must be skipped while a run is in flight")
	}
	close(runner.release)
	waitFor(t, func() bool { return s.CurrentState() == StateDisabled })

	if got := runner.calls.Load(); got != 1 {
		t.Errorf("runner executed %d times, want 1", got)
	}
	if s.Snapshot().LastRunID != "run-1" {
		t.Errorf("last run id = %q", s.Snapshot().LastRunID)
	}
}

func TestDisableDrainsInFlightRun(t *testing.T) {
	runner := newSlowRunner()
	s := testScheduler(t, runner)
	if err := s.Enable(); err != nil {
		t.Fatal(err)
	}
	if !s.Trigger("manual") {
		t.Fatal("trigger should start")
	}
	waitFor(t, func() bool { return s.CurrentState() == StateRunning })

	if err := s.Disable(); err != nil {
		t.Fatal(err)
	}
	if st := s.CurrentState(); st != StateDisabling {
		t.Fatalf("state during drain = %s, want disabling", st)
	}

	close(runner.release)
	waitFor(t, func() bool { return s.CurrentState() == StateDisabled })

	st := s.Snapshot()
	if st.Enabled || !st.NextFireAt.IsZero() {
		t.Errorf("disabled scheduler still armed: %+v", st)
	}
}

func TestScheduledFire(t *testing.T) {
	runner := newSlowRunner()
	close(runner.release) // runs complete immediately

	s := testScheduler(t, runner)
	s.tick = time.Millisecond

	var mu sync.Mutex
	clock := time.Date(2026, 3, 10, 8, 59, 59, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	if err := s.Enable(); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	mu.Lock()
	clock = time.Date(2026, 3, 10, 9, 0, 1, 0, time.UTC)
	mu.Unlock()

	waitFor(t, func() bool { return runner.calls.Load() >= 1 })

	st := s.Snapshot()
	if st.NextFireAt.Day() != 11 || st.NextFireAt.Hour() != 9 {
		t.Errorf("next fire not advanced to the following day: %v", st.NextFireAt)
	}
}

package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/replywatch/internal/bus"
)

// State is the scheduler lifecycle state.
type State string

const (
	// StateDisabled means no schedule is armed. Manual runs are still allowed.
	StateDisabled State = "disabled"
	// StateIdle means the schedule is armed and waiting for the next fire.
	StateIdle State = "idle"
	// StateRunning means an analysis run is in flight.
	StateRunning State = "running"
	// StateDisabling means a disable was requested while a run is in flight;
	// the run drains before the scheduler lands in Disabled.
	StateDisabling State = "disabling"
)

// validTransitions encodes the allowed state graph. Disabled permits a
// transition to Running so manual triggers work without an armed schedule.
var validTransitions = map[State][]State{
	StateDisabled:  {StateIdle, StateRunning},
	StateIdle:      {StateRunning, StateDisabled},
	StateRunning:   {StateIdle, StateDisabled, StateDisabling},
	StateDisabling: {StateDisabled, StateIdle},
}

// Machine is a thread-safe scheduler state holder. Every successful
// transition is published on the bus.
type Machine struct {
	mu    sync.RWMutex
	state State
	bus   *bus.Bus
}

// NewMachine creates a machine in the Disabled state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{state: StateDisabled, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves the machine to the target state. Invalid transitions
// return an error and leave the state untouched.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !transitionAllowed(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid scheduler transition %s -> %s", from, to)
	}
	m.state = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindScheduleChanged,
			Timestamp: time.Now(),
			Payload:   map[string]State{"from": from, "to": to},
		})
	}
	return nil
}

func transitionAllowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

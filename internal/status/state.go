package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/fieldops/internal/bus"
)

// State is a location tracker lifecycle state.
type State string

const (
	Idle     State = "idle"
	Starting State = "starting"
	Running  State = "running"
	Stopping State = "stopping"
	Error    State = "error"
)

var validTransitions = map[State][]State{
	Idle:     {Starting},
	Starting: {Running, Stopping, Error},
	Running:  {Stopping, Error},
	Stopping: {Idle, Error},
	Error:    {Starting, Idle},
}

// Machine tracks and enforces tracker state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	reason  string
	bus     *bus.Bus
}

// NewMachine creates a machine in the Idle state. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Idle, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reason returns the detail attached to the last transition, typically the
// error that moved the machine to Error.
func (m *Machine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Transition moves to the given state or returns an error if not allowed.
func (m *Machine) Transition(to State) error {
	return m.TransitionWithReason(to, "")
}

// TransitionWithReason is Transition with a human-readable cause.
func (m *Machine) TransitionWithReason(to State, reason string) error {
	m.mu.Lock()
	from := m.current
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid tracker transition from %s to %s", from, to)
	}
	m.current = to
	m.reason = reason
	m.mu.Unlock()

	m.bus.Emit(bus.KindTrackerStatus, Change{From: from, To: to, Reason: reason})
	return nil
}

// Change is the payload of tracker.status_changed events.
type Change struct {
	From   State
	To     State
	Reason string
}

// Active reports whether the state represents a live or launching loop.
func (s State) Active() bool {
	return s == Starting || s == Running
}

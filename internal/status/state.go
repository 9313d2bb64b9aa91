package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/roam/internal/bus"
)

// State is the authentication status of the session.
type State string

const (
	Anonymous     State = "ANONYMOUS"
	Loading       State = "LOADING"
	Authenticated State = "AUTHENTICATED"
	Refreshing    State = "REFRESHING"
	LoggedOut     State = "LOGGED_OUT"
)

// validTransitions defines allowed state transitions.
//
// Loading→Anonymous covers a start with no stored credentials, and
// Loading→Refreshing covers a stored access token rejected while hydrating.
var validTransitions = map[State][]State{
	Anonymous:     {Loading},
	Loading:       {Authenticated, Refreshing, Anonymous},
	Authenticated: {Refreshing, LoggedOut},
	Refreshing:    {Authenticated, LoggedOut},
	LoggedOut:     {Anonymous},
}

// Machine tracks and enforces session status transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Anonymous state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Anonymous,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// TransitionFrom moves to `to` only if the machine is currently in `from`.
func (m *Machine) TransitionFrom(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != from {
		return fmt.Errorf("invalid transition to %s: state is %s, not %s", to, m.current, from)
	}
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.SessionStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// IsSignedIn reports whether s carries a usable token.
func (s State) IsSignedIn() bool {
	return s == Authenticated || s == Refreshing
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}

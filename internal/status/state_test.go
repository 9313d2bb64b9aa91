package status

import (
	"testing"

	"github.com/matheus3301/roam/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Anonymous {
		t.Errorf("initial state = %s, want ANONYMOUS", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Anonymous, Loading},
		{Loading, Authenticated},
		{Loading, Refreshing},
		{Loading, Anonymous},
		{Authenticated, Refreshing},
		{Authenticated, LoggedOut},
		{Refreshing, Authenticated},
		{Refreshing, LoggedOut},
		{LoggedOut, Anonymous},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Anonymous, Authenticated},
		{Anonymous, LoggedOut},
		{Anonymous, Refreshing},
		{Loading, LoggedOut},
		{Authenticated, Anonymous},
		{Authenticated, Loading},
		{Refreshing, Anonymous},
		{LoggedOut, Authenticated},
		{LoggedOut, Loading},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionFromGuardsCurrentState(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Authenticated)

	if err := m.TransitionFrom(Refreshing, Authenticated); err == nil {
		t.Fatal("TransitionFrom(REFRESHING, ...) should fail while AUTHENTICATED")
	}
	if err := m.TransitionFrom(Authenticated, Refreshing); err != nil {
		t.Fatalf("TransitionFrom(AUTHENTICATED, REFRESHING): %v", err)
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Loading); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.SessionStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.SessionStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Anonymous || change.To != Loading {
		t.Errorf("change = %v -> %v, want ANONYMOUS -> LOADING", change.From, change.To)
	}
}

// TestFullSessionLifecycle walks login, a silent refresh, and logout:
// ANONYMOUS → LOADING → AUTHENTICATED → REFRESHING → AUTHENTICATED → LOGGED_OUT → ANONYMOUS
func TestFullSessionLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Loading, Authenticated, Refreshing, Authenticated, LoggedOut, Anonymous}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Anonymous {
		t.Errorf("final state = %s, want ANONYMOUS", m.Current())
	}
}

// TestRefreshFailureLifecycle covers the unrecoverable refresh path:
// AUTHENTICATED → REFRESHING → LOGGED_OUT → ANONYMOUS
func TestRefreshFailureLifecycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Authenticated)

	for _, s := range []State{Refreshing, LoggedOut, Anonymous} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func TestIsSignedIn(t *testing.T) {
	for s, want := range map[State]bool{
		Anonymous: false, Loading: false, Authenticated: true, Refreshing: true, LoggedOut: false,
	} {
		if got := s.IsSignedIn(); got != want {
			t.Errorf("%s.IsSignedIn() = %v, want %v", s, got, want)
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Anonymous:     {},
		Loading:       {Loading},
		Authenticated: {Loading, Authenticated},
		Refreshing:    {Loading, Authenticated, Refreshing},
		LoggedOut:     {Loading, Authenticated, LoggedOut},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}

package outbox

import (
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/roam/internal/chat"
	"go.uber.org/zap"
)

// mockExpirer records sweep times and returns one batch per configured call.
type mockExpirer struct {
	mu      sync.Mutex
	calls   []time.Time
	batches [][]chat.Message
}

func (m *mockExpirer) ExpirePending(now time.Time) []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, now)
	if len(m.batches) == 0 {
		return nil
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b
}

func (m *mockExpirer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestSweepReportsExpired(t *testing.T) {
	mock := &mockExpirer{batches: [][]chat.Message{
		{{ID: "local-1", ConversationID: "c1", State: chat.Failed}, {ID: "local-2", ConversationID: "c1", State: chat.Failed}},
	}}
	logger, _ := zap.NewDevelopment()
	s := NewSweeper(mock, time.Hour, logger)

	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	if n := s.Sweep(); n != 2 {
		t.Fatalf("first sweep expired %d, want 2", n)
	}
	if n := s.Sweep(); n != 0 {
		t.Fatalf("second sweep expired %d, want 0", n)
	}
	if !mock.calls[0].Equal(fixed) {
		t.Errorf("sweep time = %v, want %v", mock.calls[0], fixed)
	}
}

func TestSweeperTicks(t *testing.T) {
	mock := &mockExpirer{}
	s := NewSweeper(mock, 10*time.Millisecond, nil)

	s.Start(t.Context())
	deadline := time.Now().Add(2 * time.Second)
	for mock.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper ran %d times, want >= 3", mock.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	after := mock.count()
	time.Sleep(50 * time.Millisecond)
	if mock.count() != after {
		t.Error("sweeper kept running after Stop")
	}
	s.Stop()
}

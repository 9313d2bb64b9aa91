package session

import (
	"github.com/matheus3301/roam/internal/bus"
)

// Navigator is the host's navigation stack.
type Navigator interface {
	// ResetToLogin clears navigation history and shows the login entry point.
	ResetToLogin()
}

// Notifier shows a user-visible notice.
type Notifier interface {
	Notify(title, message string)
}

// Notice is the payload of bus.NoticeShown.
type Notice struct {
	Title   string
	Message string
}

// BusHost implements Navigator and Notifier by publishing on the event bus,
// for hosts that render from bus events (the daemon and the CLI).
type BusHost struct {
	bus *bus.Bus
}

// NewBusHost creates a bus-backed host.
func NewBusHost(b *bus.Bus) *BusHost {
	return &BusHost{bus: b}
}

func (h *BusHost) ResetToLogin() {
	h.bus.Emit(bus.NavResetToLogin, nil)
}

func (h *BusHost) Notify(title, message string) {
	h.bus.Emit(bus.NoticeShown, Notice{Title: title, Message: message})
}

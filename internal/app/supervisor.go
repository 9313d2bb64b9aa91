package app

import (
	"context"

	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/logging"
	"github.com/matheus3301/roam/internal/status"
	"go.uber.org/zap"
)

// Connector is the realtime connection.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

// Feed is a consumer that lives for the length of a signed-in session.
type Feed interface {
	Start(ctx context.Context) error
	Close()
}

// Closer releases per-session state.
type Closer interface {
	Close()
}

// Supervisor follows session status events: signing in connects the
// realtime channel and starts the notification feed, signing out tears
// both down together with every open conversation.
type Supervisor struct {
	bus     *bus.Bus
	channel Connector
	feed    Feed
	chats   Closer
	logger  *zap.Logger

	up     bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a supervisor. chats may be nil.
func NewSupervisor(b *bus.Bus, channel Connector, feed Feed, chats Closer, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		bus:     b,
		channel: channel,
		feed:    feed,
		chats:   chats,
		logger:  logging.OrNop(logger).Named("supervisor"),
	}
}

// Start subscribes to status changes. Call it before the session is
// initialized so the first sign-in is observed.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	ch, unsub := s.bus.Subscribe(bus.SessionStatusChanged, 64)

	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				s.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and tears down whatever is running.
func (s *Supervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.down()
}

func (s *Supervisor) handleEvent(ctx context.Context, evt bus.Event) {
	change, ok := evt.Payload.(status.StatusChange)
	if !ok {
		return
	}
	switch {
	case change.To == status.Authenticated && !s.up:
		s.bringUp(ctx)
	case !change.To.IsSignedIn() && s.up:
		s.down()
	}
}

func (s *Supervisor) bringUp(ctx context.Context) {
	s.up = true
	if err := s.channel.Connect(ctx); err != nil {
		s.logger.Error("realtime connect failed", zap.Error(err))
	}
	if err := s.feed.Start(ctx); err != nil {
		s.logger.Warn("notification bootstrap failed", zap.Error(err))
	}
	s.logger.Info("session services started")
}

func (s *Supervisor) down() {
	if !s.up {
		return
	}
	s.up = false
	if s.chats != nil {
		s.chats.Close()
	}
	s.feed.Close()
	if err := s.channel.Close(); err != nil {
		s.logger.Warn("realtime close failed", zap.Error(err))
	}
	s.logger.Info("session services stopped")
}

package outbox

import (
	"context"
	"time"

	"github.com/matheus3301/roam/internal/chat"
	"github.com/matheus3301/roam/internal/logging"
	"go.uber.org/zap"
)

// Expirer fails sends that were never confirmed.
type Expirer interface {
	ExpirePending(now time.Time) []chat.Message
}

// Sweeper periodically expires unconfirmed optimistic sends so they
// surface as failed instead of staying pending forever.
type Sweeper struct {
	target   Expirer
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper ticking every interval.
func NewSweeper(target Expirer, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logging.OrNop(logger).Named("outbox"),
		now:      time.Now,
	}
}

// Start begins sweeping.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass and returns how many sends were expired.
func (s *Sweeper) Sweep() int {
	expired := s.target.ExpirePending(s.now())
	for _, m := range expired {
		s.logger.Warn("send expired without confirmation",
			zap.String("chat_id", m.ConversationID),
			zap.String("local_id", m.ID),
			zap.String("client_id", m.ClientID))
	}
	return len(expired)
}

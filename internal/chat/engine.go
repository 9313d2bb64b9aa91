package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/logging"
	"github.com/matheus3301/roam/internal/realtime"
	"github.com/matheus3301/roam/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by operations on a closed conversation.
	ErrClosed = errors.New("chat: conversation closed")
	// ErrEmptyMessage rejects blank sends.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrNotRetryable is returned by Retry for unknown or non-failed entries.
	ErrNotRetryable = errors.New("chat: message is not awaiting retry")
)

// History loads the stored messages of a conversation.
type History interface {
	Messages(ctx context.Context, chatID string) ([]api.Message, error)
}

// Realtime is the part of the push channel a conversation uses.
type Realtime interface {
	Subscribe(event string, h realtime.Handler) *realtime.Subscription
	JoinRoom(ctx context.Context, id string) error
	LeaveRoom(id string)
	Emit(ctx context.Context, event string, payload any) error
}

// Identity resolves the signed-in user.
type Identity interface {
	SelfID() string
}

// SummaryStore persists the chat-list row of each conversation.
type SummaryStore interface {
	UpsertChatSummary(ctx context.Context, s *store.ChatSummary) error
}

// Options tunes optimistic send reconciliation.
type Options struct {
	// EchoWindow bounds the sender+text fallback match between a local
	// send and an echo without a client id.
	EchoWindow time.Duration
	// PendingTimeout turns unconfirmed sends into failures.
	PendingTimeout time.Duration
}

// Engine opens conversations and keeps every open one reconciled with the
// realtime channel.
type Engine struct {
	history   History
	rt        Realtime
	self      Identity
	summaries SummaryStore
	bus       *bus.Bus
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	open      map[*Conversation]struct{}
	lastLocal int64
}

// New creates a chat engine. summaries may be nil.
func New(history History, rt Realtime, self Identity, summaries SummaryStore, b *bus.Bus, opts Options, logger *zap.Logger) *Engine {
	if opts.EchoWindow == 0 {
		opts.EchoWindow = 10 * time.Second
	}
	if opts.PendingTimeout == 0 {
		opts.PendingTimeout = 30 * time.Second
	}
	return &Engine{
		history:   history,
		rt:        rt,
		self:      self,
		summaries: summaries,
		bus:       b,
		opts:      opts,
		logger:    logging.OrNop(logger).Named("chat"),
		now:       time.Now,
		open:      make(map[*Conversation]struct{}),
	}
}

// Open subscribes to live messages, joins the conversation room and loads
// the history. The returned conversation must be closed.
func (e *Engine) Open(ctx context.Context, conversationID string) (*Conversation, error) {
	if conversationID == "" {
		return nil, errors.New("chat: empty conversation id")
	}
	c := &Conversation{
		id:   conversationID,
		e:    e,
		seen: make(map[string]struct{}),
	}
	c.sub = e.rt.Subscribe(realtime.EventReceiveMessage, c.handle)

	e.mu.Lock()
	e.open[c] = struct{}{}
	e.mu.Unlock()

	if err := e.rt.JoinRoom(ctx, conversationID); err != nil {
		c.Close()
		return nil, fmt.Errorf("join %s: %w", conversationID, err)
	}
	if err := c.LoadHistory(ctx); err != nil {
		c.Close()
		return nil, err
	}
	e.logger.Debug("conversation opened", zap.String("chat_id", conversationID))
	return c, nil
}

// ExpirePending fails every pending send older than the pending timeout,
// across all open conversations.
func (e *Engine) ExpirePending(now time.Time) []Message {
	var expired []Message
	for _, c := range e.conversations() {
		expired = append(expired, c.expirePending(now)...)
	}
	return expired
}

// Close closes every open conversation.
func (e *Engine) Close() {
	for _, c := range e.conversations() {
		c.Close()
	}
}

func (e *Engine) conversations() []*Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Conversation, 0, len(e.open))
	for c := range e.open {
		out = append(out, c)
	}
	return out
}

func (e *Engine) forget(c *Conversation) {
	e.mu.Lock()
	delete(e.open, c)
	e.mu.Unlock()
}

// localID returns "local-<unixmilli>", bumped past the previous one so two
// sends in the same millisecond never share an id.
func (e *Engine) localID(now time.Time) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms := now.UnixMilli()
	if ms <= e.lastLocal {
		ms = e.lastLocal + 1
	}
	e.lastLocal = ms
	return LocalIDPrefix + strconv.FormatInt(ms, 10)
}

func (e *Engine) saveSummary(m Message) {
	if e.summaries == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.summaries.UpsertChatSummary(ctx, &store.ChatSummary{
		ChatID:             m.ConversationID,
		LastMessageID:      m.ID,
		LastMessagePreview: m.Text,
		LastSenderID:       m.SenderID,
		LastMessageAt:      m.CreatedAt.UnixMilli(),
	})
	if err != nil {
		e.logger.Error("failed to update chat summary", zap.Error(err), zap.String("chat_id", m.ConversationID))
	}
}

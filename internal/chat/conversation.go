package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/realtime"
	"go.uber.org/zap"
)

// Conversation holds the ordered message list of one open chat: confirmed
// server messages plus local pending and failed sends.
type Conversation struct {
	id  string
	e   *Engine
	sub *realtime.Subscription

	mu       sync.Mutex
	messages []Message // ascending CreatedAt
	seen     map[string]struct{}
	closed   bool
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Messages returns a snapshot of the list.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// LoadHistory fetches the stored history and merges it with everything
// already held. Results arriving after Close are dropped.
func (c *Conversation) LoadHistory(ctx context.Context) error {
	msgs, err := c.e.history.Messages(ctx, c.id)
	if err != nil {
		return fmt.Errorf("load history %s: %w", c.id, err)
	}
	slices.SortStableFunc(msgs, func(a, b api.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })

	added := 0
	for _, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = c.id
		}
		if c.apply(m) {
			added++
		}
	}
	c.e.logger.Debug("history loaded",
		zap.String("chat_id", c.id), zap.Int("fetched", len(msgs)), zap.Int("added", added))
	return nil
}

// Send appends a pending message and emits it. No REST call is made; the
// server copy arrives as a realtime echo. An emit failure marks the entry
// failed and is returned together with it.
func (c *Conversation) Send(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}
	self := c.e.self.SelfID()
	if self == "" {
		return Message{}, api.ErrNotAuthenticated
	}

	now := c.e.now()
	m := Message{
		ID:             c.e.localID(now),
		ClientID:       uuid.NewString(),
		ConversationID: c.id,
		SenderID:       self,
		Text:           text,
		CreatedAt:      now,
		State:          Pending,
		sentAt:         now,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	c.insertLocked(m)
	c.mu.Unlock()
	c.e.bus.Emit(bus.ChatMessageUpserted, MessageEvent{ConversationID: c.id, Message: m})

	if err := c.emit(ctx, m); err != nil {
		return c.fail(m.ID, err), err
	}
	return m, nil
}

// Retry re-emits a failed send with its original client id.
func (c *Conversation) Retry(ctx context.Context, localID string) (Message, error) {
	c.mu.Lock()
	i := c.indexLocked(localID)
	if c.closed || i < 0 || c.messages[i].State != Failed {
		c.mu.Unlock()
		return Message{}, ErrNotRetryable
	}
	c.messages[i].State = Pending
	c.messages[i].sentAt = c.e.now()
	m := c.messages[i]
	c.mu.Unlock()

	c.e.bus.Emit(bus.ChatMessageUpserted, MessageEvent{ConversationID: c.id, Message: m})
	if err := c.emit(ctx, m); err != nil {
		return c.fail(m.ID, err), err
	}
	return m, nil
}

func (c *Conversation) emit(ctx context.Context, m Message) error {
	return c.e.rt.Emit(ctx, realtime.EventSendMessage, map[string]any{
		"chatId": c.id,
		"message": map[string]string{
			"senderId": m.SenderID,
			"text":     m.Text,
			"clientId": m.ClientID,
		},
	})
}

// fail marks a pending entry failed and returns it. A message already
// confirmed by a racing echo is left alone.
func (c *Conversation) fail(localID string, cause error) Message {
	c.mu.Lock()
	i := c.indexLocked(localID)
	if i < 0 || c.messages[i].State != Pending {
		var m Message
		if i >= 0 {
			m = c.messages[i]
		}
		c.mu.Unlock()
		return m
	}
	c.messages[i].State = Failed
	m := c.messages[i]
	c.mu.Unlock()

	c.e.logger.Warn("send failed", zap.String("chat_id", c.id), zap.String("local_id", localID), zap.Error(cause))
	c.e.bus.Emit(bus.ChatSendFailed, SendFailure{
		ConversationID: c.id,
		LocalID:        m.ID,
		ClientID:       m.ClientID,
		Text:           m.Text,
		Err:            cause,
	})
	return m
}

// OnRealtimeMessage applies a pushed message. Messages for other
// conversations are ignored. It reports whether the list changed.
func (c *Conversation) OnRealtimeMessage(m api.Message) bool {
	if m.ConversationID != c.id {
		return false
	}
	return c.apply(m)
}

func (c *Conversation) handle(payload json.RawMessage) {
	var m api.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		c.e.logger.Warn("dropping malformed message event", zap.Error(err))
		return
	}
	c.OnRealtimeMessage(m)
}

// apply ignores a server id it has already seen; otherwise it removes the
// local entry m confirms and inserts m.
func (c *Conversation) apply(sm api.Message) bool {
	if sm.ID == "" {
		c.e.logger.Warn("dropping message without id", zap.String("chat_id", c.id))
		return false
	}
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = c.e.now()
	}
	m := fromServer(sm)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if _, dup := c.seen[m.ID]; dup {
		// a redelivery never confirms another local entry
		c.mu.Unlock()
		return false
	}
	local, matched := c.takeLocalLocked(m)
	c.seen[m.ID] = struct{}{}
	if m.ClientID == "" && matched {
		m.ClientID = local.ClientID
	}
	c.insertLocked(m)
	c.mu.Unlock()

	if matched {
		c.e.bus.Emit(bus.ChatMessageConfirmed, Confirmation{
			ConversationID: c.id,
			LocalID:        local.ID,
			ServerID:       m.ID,
			ClientID:       local.ClientID,
		})
	}
	c.e.bus.Emit(bus.ChatMessageUpserted, MessageEvent{ConversationID: c.id, Message: m})
	c.e.saveSummary(m)
	return true
}

// takeLocalLocked removes and returns the pending or failed entry that m
// confirms: the one with the same client id, or else the oldest one from
// the same sender with the same text sent within the echo window. An echo
// carrying a client id never takes an entry with a different one.
func (c *Conversation) takeLocalLocked(m Message) (Message, bool) {
	idx := -1
	if m.ClientID != "" {
		idx = slices.IndexFunc(c.messages, func(l Message) bool {
			return l.IsLocal() && l.ClientID == m.ClientID
		})
	}
	if idx < 0 {
		idx = slices.IndexFunc(c.messages, func(l Message) bool {
			return l.IsLocal() &&
				(m.ClientID == "" || l.ClientID == "" || l.ClientID == m.ClientID) &&
				l.SenderID == m.SenderID &&
				l.Text == m.Text &&
				absDuration(m.CreatedAt.Sub(l.CreatedAt)) < c.e.opts.EchoWindow
		})
	}
	if idx < 0 {
		return Message{}, false
	}
	local := c.messages[idx]
	c.messages = slices.Delete(c.messages, idx, idx+1)
	return local, true
}

// insertLocked keeps the list ascending by CreatedAt; equal timestamps keep
// arrival order.
func (c *Conversation) insertLocked(m Message) {
	i, _ := slices.BinarySearchFunc(c.messages, m.CreatedAt, func(e Message, t time.Time) int {
		if e.CreatedAt.After(t) {
			return 1
		}
		return -1
	})
	c.messages = slices.Insert(c.messages, i, m)
}

func (c *Conversation) indexLocked(id string) int {
	return slices.IndexFunc(c.messages, func(m Message) bool { return m.ID == id })
}

func (c *Conversation) expirePending(now time.Time) []Message {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	var ids []string
	for _, m := range c.messages {
		if m.State == Pending && now.Sub(m.sentAt) >= c.e.opts.PendingTimeout {
			ids = append(ids, m.ID)
		}
	}
	c.mu.Unlock()

	var expired []Message
	for _, id := range ids {
		m := c.fail(id, fmt.Errorf("no confirmation within %s", c.e.opts.PendingTimeout))
		if m.State == Failed {
			expired = append(expired, m)
		}
	}
	return expired
}

// Close releases the live subscription. Events and history results that
// arrive afterwards are ignored.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.sub.Release()
	c.e.rt.LeaveRoom(c.id)
	c.e.forget(c)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Package notify keeps the notification list and the unread counter in
// step with the server.
//
// Every authoritative counter value overwrites the local one. Without
// versions, two delta events delivered out of order leave the counter at
// whichever arrived last, which is not necessarily the server's current
// value. When the server attaches a version (or seq) to a value, stale
// values are discarded and the counter converges regardless of order.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/logging"
	"github.com/matheus3301/roam/internal/realtime"
	"go.uber.org/zap"
)

// API is the REST surface the engine uses.
type API interface {
	Notifications(ctx context.Context) ([]api.Notification, error)
	UnreadCount(ctx context.Context) (api.UnreadCount, error)
	MarkNotificationRead(ctx context.Context, id string) (api.NotificationEvent, error)
	DeleteNotification(ctx context.Context, id string) (api.NotificationEvent, error)
	ClearNotifications(ctx context.Context) (api.NotificationEvent, error)
}

// Realtime subscribes to pushed events.
type Realtime interface {
	Subscribe(event string, h realtime.Handler) *realtime.Subscription
}

// UnreadChange is the payload of bus.NotificationUnreadChanged.
type UnreadChange struct {
	Count   int
	Version int64
}

// Engine owns the notification list (newest first) and the unread counter.
type Engine struct {
	api    API
	rt     Realtime
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	records []api.Notification
	unread  int
	version int64  // highest applied server version
	applied uint64 // bumped by every authoritative counter value
	subs    []*realtime.Subscription
	logs    []*deltaLog // one per running Bootstrap
}

type delta struct {
	event string
	evt   api.NotificationEvent
}

// deltaLog collects the events applied during one Bootstrap.
type deltaLog struct {
	deltas []delta
}

// New creates an engine with an empty list and a zero counter.
func New(client API, rt Realtime, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		api:    client,
		rt:     rt,
		bus:    b,
		logger: logging.OrNop(logger).Named("notify"),
	}
}

// Start subscribes to the notification events and bootstraps from REST.
// Events pushed while the bootstrap runs are kept.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if len(e.subs) == 0 {
		e.subs = []*realtime.Subscription{
			e.rt.Subscribe(realtime.EventNotification, e.handler(realtime.EventNotification)),
			e.rt.Subscribe(realtime.EventNotificationRead, e.handler(realtime.EventNotificationRead)),
			e.rt.Subscribe(realtime.EventNotificationsCleared, e.handler(realtime.EventNotificationsCleared)),
			e.rt.Subscribe(realtime.EventNotificationDeleted, e.handler(realtime.EventNotificationDeleted)),
			e.rt.Subscribe(realtime.EventBootstrapUnread, e.handler(realtime.EventBootstrapUnread)),
		}
	}
	e.mu.Unlock()
	return e.Bootstrap(ctx)
}

// Bootstrap replaces the list and the counter with the server's.
// Events that arrive while the list is being fetched are replayed on top of
// the fetched list, so none of them is lost.
func (e *Engine) Bootstrap(ctx context.Context) error {
	log := &deltaLog{}
	e.mu.Lock()
	e.logs = append(e.logs, log)
	e.mu.Unlock()
	defer e.dropLog(log)

	list, err := e.api.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap notifications: %w", err)
	}
	uc, err := e.api.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap unread count: %w", err)
	}

	sortNewestFirst(list)
	e.mu.Lock()
	e.records = list
	for _, d := range log.deltas {
		e.applyListLocked(d.event, d.evt)
	}
	changed := e.setUnreadLocked(uc)
	e.mu.Unlock()

	e.logger.Info("notifications bootstrapped", zap.Int("records", len(list)), zap.Int("unread", uc.Count))
	e.publishList()
	if changed {
		e.publishUnread()
	}
	return nil
}

func (e *Engine) dropLog(log *deltaLog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = slices.DeleteFunc(e.logs, func(l *deltaLog) bool { return l == log })
}

// Unread returns the counter.
func (e *Engine) Unread() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread
}

// Records returns a snapshot of the list, newest first.
func (e *Engine) Records() []api.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.records)
}

// Close releases the event subscriptions.
func (e *Engine) Close() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()
	for _, s := range subs {
		s.Release()
	}
}

func (e *Engine) handler(event string) realtime.Handler {
	return func(payload json.RawMessage) {
		evt, err := api.DecodeNotificationEvent(payload)
		if err != nil {
			e.logger.Warn("dropping malformed event", zap.String("event", event), zap.Error(err))
			return
		}
		e.Apply(event, evt)
	}
}

// Apply merges one pushed event. List changes are idempotent by id; the
// counter is overwritten with the carried value. A versioned event older
// than the last applied version is ignored entirely.
func (e *Engine) Apply(event string, evt api.NotificationEvent) {
	e.mu.Lock()
	if evt.HasUnread && evt.Unread.Version > 0 && evt.Unread.Version <= e.version {
		e.mu.Unlock()
		e.logger.Debug("ignoring stale event", zap.String("event", event), zap.Int64("version", evt.Unread.Version))
		return
	}

	listChanged := e.applyListLocked(event, evt)
	for _, l := range e.logs {
		l.deltas = append(l.deltas, delta{event: event, evt: evt})
	}
	if event == realtime.EventNotificationsCleared && !evt.HasUnread {
		evt.Unread, evt.HasUnread = api.UnreadCount{}, true
	}

	unreadChanged := false
	if evt.HasUnread {
		unreadChanged = e.setUnreadLocked(evt.Unread)
	}
	e.mu.Unlock()

	if listChanged {
		e.publishList()
	}
	if unreadChanged {
		e.publishUnread()
	}
}

// applyListLocked applies the list part of an event and reports whether
// the list changed.
func (e *Engine) applyListLocked(event string, evt api.NotificationEvent) bool {
	switch event {
	case realtime.EventNotification:
		if evt.Record != nil {
			return e.upsertLocked(*evt.Record)
		}
	case realtime.EventNotificationRead:
		if evt.ID != "" {
			return e.markReadLocked(evt.ID)
		}
	case realtime.EventNotificationDeleted:
		if evt.ID != "" {
			_, removed := e.removeLocked(evt.ID)
			return removed
		}
	case realtime.EventNotificationsCleared:
		changed := len(e.records) > 0
		e.records = nil
		return changed
	}
	return false
}

// setUnreadLocked applies an authoritative value. It reports whether the
// counter moved.
func (e *Engine) setUnreadLocked(uc api.UnreadCount) bool {
	if uc.Version > 0 {
		if uc.Version <= e.version {
			return false
		}
		e.version = uc.Version
	}
	e.applied++
	if e.unread == uc.Count {
		return false
	}
	e.unread = uc.Count
	return true
}

func (e *Engine) upsertLocked(n api.Notification) bool {
	if i := e.indexLocked(n.ID); i >= 0 {
		// a redelivery keeps the read flag already known locally
		n.IsRead = n.IsRead || e.records[i].IsRead
		e.records[i] = n
		return true
	}
	i, _ := slices.BinarySearchFunc(e.records, n, func(a, b api.Notification) int {
		// newest first; ties keep arrival order
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return -1
	})
	e.records = slices.Insert(e.records, i, n)
	return true
}

func (e *Engine) markReadLocked(id string) bool {
	i := e.indexLocked(id)
	if i < 0 || e.records[i].IsRead {
		return false
	}
	e.records[i].IsRead = true
	return true
}

func (e *Engine) removeLocked(id string) (api.Notification, bool) {
	i := e.indexLocked(id)
	if i < 0 {
		return api.Notification{}, false
	}
	n := e.records[i]
	e.records = slices.Delete(e.records, i, i+1)
	return n, true
}

func (e *Engine) indexLocked(id string) int {
	return slices.IndexFunc(e.records, func(n api.Notification) bool { return n.ID == id })
}

func (e *Engine) publishUnread() {
	e.mu.Lock()
	change := UnreadChange{Count: e.unread, Version: e.version}
	e.mu.Unlock()
	e.bus.Emit(bus.NotificationUnreadChanged, change)
}

func (e *Engine) publishList() {
	e.mu.Lock()
	n := len(e.records)
	e.mu.Unlock()
	e.bus.Emit(bus.NotificationListChanged, n)
}

func sortNewestFirst(list []api.Notification) {
	slices.SortStableFunc(list, func(a, b api.Notification) int { return b.CreatedAt.Compare(a.CreatedAt) })
}

package notify

import (
	"context"
	"fmt"

	"github.com/matheus3301/roam/internal/api"
	"go.uber.org/zap"
)

// undo restores local state after a rejected mutation. The counter is only
// restored when no authoritative value arrived in the meantime.
type undo struct {
	applied uint64
	unread  int
	restore func()
}

// MarkRead marks one record read. The list and counter change immediately
// and are corrected by the server's reply, or reverted if the call fails.
func (e *Engine) MarkRead(ctx context.Context, id string) error {
	e.mu.Lock()
	u := e.checkpointLocked()
	if e.markReadLocked(id) {
		e.unread = max(e.unread-1, 0)
		u.restore = func() {
			if i := e.indexLocked(id); i >= 0 {
				e.records[i].IsRead = false
			}
		}
	}
	e.mu.Unlock()
	e.publishBoth()

	resp, err := e.api.MarkNotificationRead(ctx, id)
	if err != nil {
		e.revert(u)
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	if resp.Record != nil {
		e.mu.Lock()
		if i := e.indexLocked(id); i >= 0 {
			e.records[i] = *resp.Record
		}
		e.mu.Unlock()
	}
	e.settle(ctx, resp)
	return nil
}

// Delete removes one record optimistically.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	u := e.checkpointLocked()
	if n, ok := e.removeLocked(id); ok {
		if !n.IsRead {
			e.unread = max(e.unread-1, 0)
		}
		u.restore = func() {
			if e.indexLocked(n.ID) < 0 {
				e.upsertLocked(n)
			}
		}
	}
	e.mu.Unlock()
	e.publishBoth()

	resp, err := e.api.DeleteNotification(ctx, id)
	if err != nil {
		e.revert(u)
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	e.settle(ctx, resp)
	return nil
}

// ClearAll empties the list optimistically.
func (e *Engine) ClearAll(ctx context.Context) error {
	e.mu.Lock()
	u := e.checkpointLocked()
	prev := e.records
	e.records = nil
	e.unread = 0
	u.restore = func() {
		for _, n := range prev {
			if e.indexLocked(n.ID) < 0 {
				e.upsertLocked(n)
			}
		}
	}
	e.mu.Unlock()
	e.publishBoth()

	resp, err := e.api.ClearNotifications(ctx)
	if err != nil {
		e.revert(u)
		return fmt.Errorf("clear notifications: %w", err)
	}
	if !resp.HasUnread {
		resp.Unread, resp.HasUnread = api.UnreadCount{}, true
	}
	e.settle(ctx, resp)
	return nil
}

func (e *Engine) checkpointLocked() undo {
	return undo{applied: e.applied, unread: e.unread}
}

func (e *Engine) revert(u undo) {
	e.mu.Lock()
	if u.restore != nil {
		u.restore()
	}
	if e.applied == u.applied {
		e.unread = u.unread
	}
	e.mu.Unlock()
	e.publishBoth()
}

// settle applies the count carried by a mutation reply, fetching it when
// the reply has none.
func (e *Engine) settle(ctx context.Context, resp api.NotificationEvent) {
	uc, ok := resp.Unread, resp.HasUnread
	if !ok {
		var err error
		uc, err = e.api.UnreadCount(ctx)
		if err != nil {
			e.logger.Warn("refreshing unread count failed", zap.Error(err))
			return
		}
	}
	e.mu.Lock()
	changed := e.setUnreadLocked(uc)
	e.mu.Unlock()
	if changed {
		e.publishUnread()
	}
}

func (e *Engine) publishBoth() {
	e.publishList()
	e.publishUnread()
}

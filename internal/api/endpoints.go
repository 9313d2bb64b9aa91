package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Profile fetches the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	req, _ := NewRequest(http.MethodGet, "/api/users/profile", nil)
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeProfile(resp.Body)
}

// Messages returns the history of a conversation as the server sends it.
func (c *Client) Messages(ctx context.Context, chatID string) ([]Message, error) {
	req, _ := NewRequest(http.MethodGet, "/api/messages/"+url.PathEscape(chatID), nil)
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeMessages(resp.Body)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = chatID
		}
	}
	return msgs, nil
}

// Notifications returns the notification list, newest first.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	req, _ := NewRequest(http.MethodGet, "/api/notifications", nil)
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeNotifications(resp.Body)
}

// UnreadCount returns the authoritative unread counter.
func (c *Client) UnreadCount(ctx context.Context) (UnreadCount, error) {
	req, _ := NewRequest(http.MethodGet, "/api/notifications/unread-count", nil)
	resp, err := c.Do(ctx, req)
	if err != nil {
		return UnreadCount{}, err
	}
	uc, ok, err := decodeUnread(resp.Body)
	if err != nil {
		return UnreadCount{}, fmt.Errorf("decode unread count: %w", err)
	}
	if !ok {
		return UnreadCount{}, fmt.Errorf("decode unread count: no count in response")
	}
	return uc, nil
}

// MarkNotificationRead marks one notification read. The returned event
// has HasUnread false when the server omitted the counter.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) (NotificationEvent, error) {
	return c.notificationMutation(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", id)
}

// DeleteNotification removes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) (NotificationEvent, error) {
	return c.notificationMutation(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), id)
}

// ClearNotifications removes every notification.
func (c *Client) ClearNotifications(ctx context.Context) (NotificationEvent, error) {
	return c.notificationMutation(ctx, http.MethodPost, "/api/notifications/clear-all", "")
}

func (c *Client) notificationMutation(ctx context.Context, method, path, id string) (NotificationEvent, error) {
	req, _ := NewRequest(method, path, nil)
	resp, err := c.Do(ctx, req)
	if err != nil {
		return NotificationEvent{}, err
	}
	evt, err := DecodeNotificationEvent(resp.Body)
	if err != nil {
		return NotificationEvent{}, err
	}
	if evt.ID == "" {
		evt.ID = id
	}
	return evt, nil
}

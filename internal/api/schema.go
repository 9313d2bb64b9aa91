package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// User is the normalized profile returned by login and profile endpoints.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
	Country   string `json:"country,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// DisplayName returns the best human-readable name for u.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return firstNonEmpty(name, u.Username, u.Email, u.ID)
}

func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             string `json:"id"`
		MongoID        string `json:"_id"`
		Email          string `json:"email"`
		FirstName      string `json:"firstName"`
		LastName       string `json:"lastName"`
		Username       string `json:"username"`
		Country        string `json:"country"`
		Avatar         string `json:"avatar"`
		ProfilePicture string `json:"profilePicture"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User{
		ID:        firstNonEmpty(raw.MongoID, raw.ID),
		Email:     raw.Email,
		FirstName: raw.FirstName,
		LastName:  raw.LastName,
		Username:  raw.Username,
		Country:   raw.Country,
		Avatar:    firstNonEmpty(raw.Avatar, raw.ProfilePicture),
	}
	return nil
}

// AuthResult is the body of a successful login, signup or refresh.
type AuthResult struct {
	Token        string
	RefreshToken string
	User         *User
}

func (a *AuthResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Token        string          `json:"token"`
		AccessToken  string          `json:"accessToken"`
		RefreshToken string          `json:"refreshToken"`
		User         json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = AuthResult{
		Token:        firstNonEmpty(raw.Token, raw.AccessToken),
		RefreshToken: raw.RefreshToken,
	}
	if !isNull(raw.User) {
		var u User
		if err := json.Unmarshal(raw.User, &u); err != nil {
			return fmt.Errorf("user: %w", err)
		}
		a.User = &u
	}
	return nil
}

// decodeProfile accepts both `{"user": {...}}` and a bare user object.
func decodeProfile(data []byte) (*User, error) {
	var wrapped struct {
		User json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if !isNull(wrapped.User) {
		data = wrapped.User
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("decode profile: missing user id")
	}
	return &u, nil
}

// Message is a chat message as delivered by REST history or the realtime
// `receiveMessage` event.
type Message struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             string          `json:"id"`
		MongoID        string          `json:"_id"`
		ClientID       string          `json:"clientId"`
		ChatID         string          `json:"chatId"`
		ConversationID string          `json:"conversationId"`
		SenderID       json.RawMessage `json:"senderId"`
		Sender         json.RawMessage `json:"sender"`
		Text           string          `json:"text"`
		CreatedAt      json.RawMessage `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sender := raw.SenderID
	if isNull(sender) {
		sender = raw.Sender
	}
	ref, err := decodeUserRef(sender)
	if err != nil {
		return fmt.Errorf("senderId: %w", err)
	}
	at, err := decodeTime(raw.CreatedAt)
	if err != nil {
		return fmt.Errorf("createdAt: %w", err)
	}
	*m = Message{
		ID:             firstNonEmpty(raw.MongoID, raw.ID),
		ClientID:       raw.ClientID,
		ConversationID: firstNonEmpty(raw.ChatID, raw.ConversationID),
		SenderID:       ref.ID,
		SenderName:     senderName(ref),
		Text:           raw.Text,
		CreatedAt:      at,
	}
	return nil
}

// decodeMessages accepts both a bare array and `{"messages": [...]}`.
func decodeMessages(data []byte) ([]Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Messages json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		data = wrapped.Messages
	}
	if isNull(data) {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// Notification is a normalized notification record.
type Notification struct {
	ID         string    `json:"id"`
	Type       string    `json:"type,omitempty"`
	Text       string    `json:"text"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
	Sender     *User     `json:"sender,omitempty"`
	EntityType string    `json:"entityType,omitempty"`
	EntityID   string    `json:"entityId,omitempty"`
	Link       string    `json:"link,omitempty"`
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string          `json:"id"`
		MongoID    string          `json:"_id"`
		Type       string          `json:"type"`
		Text       string          `json:"text"`
		IsRead     bool            `json:"isRead"`
		CreatedAt  json.RawMessage `json:"createdAt"`
		Sender     json.RawMessage `json:"sender"`
		EntityType string          `json:"entityType"`
		EntityID   json.RawMessage `json:"entityId"`
		Link       string          `json:"link"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	at, err := decodeTime(raw.CreatedAt)
	if err != nil {
		return fmt.Errorf("createdAt: %w", err)
	}
	entity, err := decodeUserRef(raw.EntityID)
	if err != nil {
		return fmt.Errorf("entityId: %w", err)
	}
	*n = Notification{
		ID:         firstNonEmpty(raw.MongoID, raw.ID),
		Type:       raw.Type,
		Text:       raw.Text,
		IsRead:     raw.IsRead,
		CreatedAt:  at,
		EntityType: raw.EntityType,
		EntityID:   entity.ID,
		Link:       raw.Link,
	}
	if !isNull(raw.Sender) {
		sender, err := decodeUserRef(raw.Sender)
		if err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		n.Sender = &sender
	}
	return nil
}

// UnreadCount is an authoritative unread counter value. Version is zero
// when the server did not attach one.
type UnreadCount struct {
	Count   int
	Version int64
}

// decodeUnread reads `unreadCount` (or `count`) plus an optional `version`
// or `seq` from an object. ok is false when no count is present.
func decodeUnread(data []byte) (UnreadCount, bool, error) {
	var raw struct {
		UnreadCount *float64 `json:"unreadCount"`
		Count       *float64 `json:"count"`
		Version     *int64   `json:"version"`
		Seq         *int64   `json:"seq"`
	}
	if isNull(data) {
		return UnreadCount{}, false, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return UnreadCount{}, false, err
	}
	var uc UnreadCount
	switch {
	case raw.Version != nil:
		uc.Version = *raw.Version
	case raw.Seq != nil:
		uc.Version = *raw.Seq
	}
	switch {
	case raw.UnreadCount != nil:
		uc.Count = int(*raw.UnreadCount)
	case raw.Count != nil:
		uc.Count = int(*raw.Count)
	default:
		return uc, false, nil
	}
	if uc.Count < 0 {
		uc.Count = 0
	}
	return uc, true, nil
}

// NotificationEvent is the normalized payload of every notification
// realtime event and every mutating notification response.
type NotificationEvent struct {
	ID     string
	Record *Notification
	Unread UnreadCount
	// HasUnread is false when the payload carried no counter.
	HasUnread bool
}

// DecodeNotificationEvent normalizes a realtime payload. The record may be
// nested under `notification` or be the payload itself.
func DecodeNotificationEvent(data []byte) (NotificationEvent, error) {
	var evt NotificationEvent
	data = bytes.TrimSpace(data)
	if isNull(data) {
		return evt, nil
	}
	if data[0] != '{' {
		// bare count, e.g. bootstrap-unread-count: 3
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return evt, fmt.Errorf("decode notification event: %w", err)
		}
		evt.Unread = UnreadCount{Count: max(int(n), 0)}
		evt.HasUnread = true
		return evt, nil
	}

	var raw struct {
		ID             string          `json:"id"`
		MongoID        string          `json:"_id"`
		NotificationID string          `json:"notificationId"`
		Notification   json.RawMessage `json:"notification"`
		Text           *string         `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return evt, fmt.Errorf("decode notification event: %w", err)
	}

	switch {
	case !isNull(raw.Notification):
		var n Notification
		if err := json.Unmarshal(raw.Notification, &n); err != nil {
			return evt, fmt.Errorf("decode notification event: %w", err)
		}
		evt.Record = &n
	case raw.Text != nil:
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return evt, fmt.Errorf("decode notification event: %w", err)
		}
		evt.Record = &n
	}

	evt.ID = firstNonEmpty(raw.NotificationID, raw.MongoID, raw.ID)
	if evt.ID == "" && evt.Record != nil {
		evt.ID = evt.Record.ID
	}

	uc, ok, err := decodeUnread(data)
	if err != nil {
		return evt, fmt.Errorf("decode notification event: %w", err)
	}
	evt.Unread, evt.HasUnread = uc, ok
	return evt, nil
}

// decodeNotifications accepts a bare array or `{"notifications": [...]}`.
func decodeNotifications(data []byte) ([]Notification, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Notifications json.RawMessage `json:"notifications"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode notifications: %w", err)
		}
		data = wrapped.Notifications
	}
	if isNull(data) {
		return nil, nil
	}
	var list []Notification
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return list, nil
}

// decodeUserRef accepts a bare id string or a populated user object.
func decodeUserRef(data json.RawMessage) (User, error) {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		return User{}, nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return User{}, err
		}
		return User{ID: id}, nil
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// decodeTime accepts RFC 3339 strings and unix milliseconds.
func decodeTime(data json.RawMessage) (time.Time, error) {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		return time.Time{}, nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func senderName(u User) string {
	if u.FirstName == "" && u.LastName == "" && u.Username == "" {
		return ""
	}
	return u.DisplayName()
}

func isNull(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

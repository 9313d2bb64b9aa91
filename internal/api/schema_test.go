package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagePopulatedSender(t *testing.T) {
	raw := `{
		"_id": "m1",
		"chatId": "c1",
		"senderId": {"_id": "u1", "firstName": "Ana", "lastName": "Lima"},
		"text": "hi",
		"createdAt": "2024-05-01T10:00:00.000Z"
	}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "c1", m.ConversationID)
	assert.Equal(t, "u1", m.SenderID)
	assert.Equal(t, "Ana Lima", m.SenderName)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), m.CreatedAt)
}

func TestMessageBareSenderAndMillis(t *testing.T) {
	raw := `{"id":"m2","conversationId":"c1","senderId":"u2","text":"yo","createdAt":1714557600000,"clientId":"k1"}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, "u2", m.SenderID)
	assert.Empty(t, m.SenderName)
	assert.Equal(t, "k1", m.ClientID)
	assert.Equal(t, int64(1714557600000), m.CreatedAt.UnixMilli())
}

func TestDecodeMessagesShapes(t *testing.T) {
	for _, body := range []string{
		`[{"_id":"a","text":"x"}]`,
		`{"messages":[{"_id":"a","text":"x"}]}`,
	} {
		msgs, err := decodeMessages([]byte(body))
		require.NoError(t, err, body)
		require.Len(t, msgs, 1)
		assert.Equal(t, "a", msgs[0].ID)
	}
	msgs, err := decodeMessages([]byte(`{"messages":null}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDecodeProfileShapes(t *testing.T) {
	for _, body := range []string{
		`{"user":{"_id":"u1","email":"a@b.c"}}`,
		`{"_id":"u1","email":"a@b.c"}`,
		`{"id":"u1","email":"a@b.c"}`,
	} {
		u, err := decodeProfile([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "a@b.c", u.Email)
	}
	_, err := decodeProfile([]byte(`{"email":"a@b.c"}`))
	assert.Error(t, err)
}

func TestNotificationPopulatedAndBareSender(t *testing.T) {
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(`{
		"_id":"n1","type":"follow","text":"Ana followed you","isRead":false,
		"sender":{"_id":"u1","firstName":"Ana"},
		"entityType":"Custom","entityId":"e1","link":"/profile/u1",
		"createdAt":"2024-05-01T10:00:00Z"}`), &n))
	assert.Equal(t, "n1", n.ID)
	require.NotNil(t, n.Sender)
	assert.Equal(t, "u1", n.Sender.ID)
	assert.Equal(t, "e1", n.EntityID)

	require.NoError(t, json.Unmarshal([]byte(`{"_id":"n2","text":"x","sender":"u9"}`), &n))
	require.NotNil(t, n.Sender)
	assert.Equal(t, "u9", n.Sender.ID)
}

func TestDecodeNotificationEvent(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		id        string
		record    bool
		hasUnread bool
		count     int
		version   int64
	}{
		{"nested record", `{"notification":{"_id":"n1","text":"hi"},"unreadCount":4}`, "n1", true, true, 4, 0},
		{"flat record", `{"_id":"n1","text":"hi","unreadCount":2}`, "n1", true, true, 2, 0},
		{"read with id", `{"notificationId":"n1","unreadCount":0}`, "n1", false, true, 0, 0},
		{"read without count", `{"notificationId":"n1"}`, "n1", false, false, 0, 0},
		{"cleared", `{"unreadCount":0}`, "", false, true, 0, 0},
		{"bare count", `7`, "", false, true, 7, 0},
		{"versioned", `{"unreadCount":3,"version":12}`, "", false, true, 3, 12},
		{"seq", `{"count":3,"seq":5}`, "", false, true, 3, 5},
		{"clear-all response", `{"success":true,"message":"All notifications cleared"}`, "", false, false, 0, 0},
		{"null", `null`, "", false, false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := DecodeNotificationEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.id, evt.ID)
			assert.Equal(t, tt.record, evt.Record != nil)
			assert.Equal(t, tt.hasUnread, evt.HasUnread)
			assert.Equal(t, tt.count, evt.Unread.Count)
			assert.Equal(t, tt.version, evt.Unread.Version)
		})
	}
}

func TestDecodeUnreadClampsNegative(t *testing.T) {
	uc, ok, err := decodeUnread([]byte(`{"unreadCount":-2}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, uc.Count)
}

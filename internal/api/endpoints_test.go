package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpointServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/notifications", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"_id":"n2","text":"b"},{"_id":"n1","text":"a","isRead":true}]`))
	})
	mux.HandleFunc("GET /api/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count":1}`))
	})
	mux.HandleFunc("POST /api/notifications/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"notification":{"_id":"` + r.PathValue("id") + `","text":"b","isRead":true}}`))
	})
	mux.HandleFunc("DELETE /api/notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"unreadCount":0}`))
	})
	mux.HandleFunc("POST /api/notifications/clear-all", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"message":"All notifications cleared"}`))
	})
	mux.HandleFunc("GET /api/messages/{chat}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"_id":"m1","senderId":"u1","text":"hi","createdAt":"2024-05-01T10:00:00Z"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNotificationEndpoints(t *testing.T) {
	srv := endpointServer(t)
	c := NewClient(Options{BaseURL: srv.URL}, &fakeTokens{token: "good"}, nil)
	ctx := context.Background()

	list, err := c.Notifications(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID)

	uc, err := c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, uc.Count)

	evt, err := c.MarkNotificationRead(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, "n2", evt.ID)
	require.NotNil(t, evt.Record)
	assert.True(t, evt.Record.IsRead)
	assert.False(t, evt.HasUnread)

	evt, err = c.DeleteNotification(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", evt.ID)
	assert.True(t, evt.HasUnread)

	evt, err = c.ClearNotifications(ctx)
	require.NoError(t, err)
	assert.Nil(t, evt.Record)
	assert.False(t, evt.HasUnread)
}

func TestMessagesFillsConversationID(t *testing.T) {
	srv := endpointServer(t)
	c := NewClient(Options{BaseURL: srv.URL}, &fakeTokens{token: "good"}, nil)

	msgs, err := c.Messages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c1", msgs[0].ConversationID)
	assert.Equal(t, "u1", msgs[0].SenderID)
}

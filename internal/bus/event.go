package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix, so "session." receives every
// session event.
const (
	SessionStatusChanged = "session.status_changed"
	SessionExpired       = "session.expired"

	NavResetToLogin = "nav.reset_login"
	NoticeShown     = "notice.shown"

	RealtimeConnected    = "realtime.connected"
	RealtimeDisconnected = "realtime.disconnected"
	RealtimeReconnecting = "realtime.reconnecting"

	ChatMessageUpserted  = "chat.message_upserted"
	ChatMessageConfirmed = "chat.message_confirmed"
	ChatSendFailed       = "chat.send_failed"

	NotificationUnreadChanged = "notification.unread_changed"
	NotificationListChanged   = "notification.list_changed"
)

package chat

import (
	"time"

	"github.com/matheus3301/roam/internal/api"
)

// DeliveryState tracks a message from local send to server confirmation.
type DeliveryState string

const (
	Pending   DeliveryState = "PENDING"
	Confirmed DeliveryState = "CONFIRMED"
	Failed    DeliveryState = "FAILED"
)

// LocalIDPrefix marks temporary ids of messages the server has not stored.
const LocalIDPrefix = "local-"

// Message is one entry of a conversation. Pending and failed entries carry
// a temporary id; confirmed entries carry the server id.
type Message struct {
	ID             string
	ClientID       string
	ConversationID string
	SenderID       string
	SenderName     string
	Text           string
	CreatedAt      time.Time
	State          DeliveryState

	sentAt time.Time // last emit, for the pending timeout
}

// IsLocal reports whether m is still awaiting its server copy.
func (m Message) IsLocal() bool {
	return m.State != Confirmed
}

func fromServer(m api.Message) Message {
	return Message{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
		State:          Confirmed,
	}
}

// MessageEvent is the payload of bus.ChatMessageUpserted.
type MessageEvent struct {
	ConversationID string
	Message        Message
}

// Confirmation is the payload of bus.ChatMessageConfirmed: a local entry
// was replaced by its server copy.
type Confirmation struct {
	ConversationID string
	LocalID        string
	ServerID       string
	ClientID       string
}

// SendFailure is the payload of bus.ChatSendFailed.
type SendFailure struct {
	ConversationID string
	LocalID        string
	ClientID       string
	Text           string
	Err            error
}

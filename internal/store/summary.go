package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ChatSummary is the chat-list row kept across restarts. Full message
// history is never persisted.
type ChatSummary struct {
	ChatID             string
	Title              string
	LastMessageID      string
	LastMessagePreview string
	LastSenderID       string
	LastMessageAt      int64 // unix millis
}

// UpsertChatSummary records the latest message of a chat. An older message
// never overwrites a newer preview, so out-of-order delivery is harmless.
func (db *DB) UpsertChatSummary(ctx context.Context, s *ChatSummary) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_summaries (chat_id, title, last_message_id, last_message_preview, last_sender_id, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE chat_summaries.title END,
			last_message_id = CASE WHEN excluded.last_message_at >= chat_summaries.last_message_at THEN excluded.last_message_id ELSE chat_summaries.last_message_id END,
			last_message_preview = CASE WHEN excluded.last_message_at >= chat_summaries.last_message_at THEN excluded.last_message_preview ELSE chat_summaries.last_message_preview END,
			last_sender_id = CASE WHEN excluded.last_message_at >= chat_summaries.last_message_at THEN excluded.last_sender_id ELSE chat_summaries.last_sender_id END,
			last_message_at = MAX(chat_summaries.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		s.ChatID, s.Title, s.LastMessageID, truncate(s.LastMessagePreview, 100), s.LastSenderID, s.LastMessageAt, time.Now().UnixMilli())
	return err
}

// ListChatSummaries returns summaries sorted by last message time descending.
func (db *DB) ListChatSummaries(ctx context.Context, limit, offset int) ([]ChatSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT chat_id, title, last_message_id, last_message_preview, last_sender_id, last_message_at
		FROM chat_summaries
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ChatSummary
	for rows.Next() {
		var s ChatSummary
		if err := rows.Scan(&s.ChatID, &s.Title, &s.LastMessageID, &s.LastMessagePreview, &s.LastSenderID, &s.LastMessageAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetChatSummary returns one summary, or nil when the chat is unknown.
func (db *DB) GetChatSummary(ctx context.Context, chatID string) (*ChatSummary, error) {
	var s ChatSummary
	err := db.QueryRowContext(ctx, `
		SELECT chat_id, title, last_message_id, last_message_preview, last_sender_id, last_message_at
		FROM chat_summaries WHERE chat_id = ?`, chatID).
		Scan(&s.ChatID, &s.Title, &s.LastMessageID, &s.LastMessagePreview, &s.LastSenderID, &s.LastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// InsertMessage appends msg to its chat and returns the stored row with the
// assigned id and timestamp. A nil message with a nil error means the insert
// produced no row.
func (s *Store) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	if msg.ChatID == "" {
		return nil, errors.New("message chat_id is required")
	}
	if msg.Author == "" {
		msg.Author = RoleUser
	}
	if msg.Type == "" {
		msg.Type = MessageText
	}
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("encoding message content: %w", err)
	}
	msg.CreatedAt = s.now().UTC()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (chat_id, author, content, message_type, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		string(msg.ChatID), string(msg.Author), string(content), string(msg.Type), formatTime(msg.CreatedAt),
	).Scan(&msg.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// RecentMessages returns up to limit messages of a chat, newest first. Rows
// sharing a timestamp are ordered by descending id.
func (s *Store) RecentMessages(ctx context.Context, chatID ChatID, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, author, content, message_type, created_at
		FROM chat_messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, string(chatID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m         Message
			content   string
			msgType   string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Author, &content, &msgType, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
			return nil, fmt.Errorf("decoding content of message %d: %w", m.ID, err)
		}
		m.Type = ParseMessageType(msgType)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at of message %d: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CreateChat inserts a chat row. A zero CreatedAt is stamped with the
// current time.
func (s *Store) CreateChat(ctx context.Context, c Chat) error {
	if c.ID == "" {
		return errors.New("chat id is required")
	}
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("encoding chat settings: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, title, settings, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(c.ID), c.UserID, c.Title, string(settings), formatTime(c.CreatedAt),
	)
	return err
}

// GetChat returns the chat with the given id or ErrNotFound.
func (s *Store) GetChat(ctx context.Context, id ChatID) (Chat, error) {
	var (
		c         Chat
		settings  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, settings, created_at FROM chats WHERE id = ?`, string(id),
	).Scan(&c.ID, &c.UserID, &c.Title, &settings, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &c.Settings); err != nil {
			return Chat{}, fmt.Errorf("decoding settings for chat %s: %w", id, err)
		}
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Chat{}, fmt.Errorf("parsing created_at for chat %s: %w", id, err)
	}
	return c, nil
}

// UpdateChatSettings replaces the stored settings of a chat.
func (s *Store) UpdateChatSettings(ctx context.Context, id ChatID, settings ChatSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding chat settings: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET settings = ? WHERE id = ?`, string(raw), string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

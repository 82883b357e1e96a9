// Package chat holds the building blocks of a conversational turn: loading
// recent history, retrieval augmentation and ingesting the user's message.
package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kalambet/chatfn/internal/engine"
	"github.com/kalambet/chatfn/internal/storage"
)

const DefaultHistoryLimit = 10

// MessageReader reads a chat's messages newest first.
type MessageReader interface {
	RecentMessages(ctx context.Context, chatID storage.ChatID, limit int) ([]storage.Message, error)
}

type HistoryLoader struct {
	store  MessageReader
	limit  int
	logger *slog.Logger
}

// NewHistoryLoader returns a loader fetching up to limit messages per turn
// (DefaultHistoryLimit when limit <= 0).
func NewHistoryLoader(store MessageReader, limit int) *HistoryLoader {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryLoader{store: store, limit: limit, logger: slog.Default()}
}

// Load returns the chat's limit most recent messages oldest first, skipping
// those without text. limit <= 0 uses the loader's default. A store failure
// yields an empty history so the turn can still be answered.
func (h *HistoryLoader) Load(ctx context.Context, chatID storage.ChatID, limit int) []engine.Message {
	if limit <= 0 {
		limit = h.limit
	}
	rows, err := h.store.RecentMessages(ctx, chatID, limit)
	if err != nil {
		h.logger.Warn("loading chat history failed, continuing without it", "chat_id", chatID, "error", err)
		return nil
	}

	out := make([]engine.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		text := rows[i].Content.TextValue()
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, engine.Message{Role: string(rows[i].Author), Content: text})
	}
	return out
}

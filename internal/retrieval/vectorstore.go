package retrieval

import (
	"context"
	"time"
)

// VectorStore stores text chunks with their embeddings and answers
// chat-scoped similarity queries.
type VectorStore interface {
	Insert(ctx context.Context, records []Record) error

	// Search returns up to topK records of the chat ranked by cosine
	// similarity to vector, best first.
	Search(ctx context.Context, chatID string, vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteByObject removes every chunk derived from a storage object and
	// reports how many were removed.
	DeleteByObject(ctx context.Context, objectID string) (int, error)

	// DeleteByChat removes every chunk scoped to a chat.
	DeleteByChat(ctx context.Context, chatID string) (int, error)

	Count(ctx context.Context) (int, error)
}

// Record is one embedded chunk of a storage object. ObjectID is
// "{bucket}/{path}" of the source object.
type Record struct {
	ID        string
	ObjectID  string
	ChatID    string
	Content   string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with its similarity to the query.
type ScoredRecord struct {
	Record
	Score float32
}

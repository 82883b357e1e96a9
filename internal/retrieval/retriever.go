package retrieval

import (
	"context"
	"time"
)

// Passage is a retrieved chunk of a chat document.
type Passage struct {
	ID        string
	ObjectID  string
	Text      string
	Score     float32
	CreatedAt time.Time
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever combines query embedding and chat-scoped vector search.
type Retriever struct {
	embedder QueryEmbedder
	store    VectorStore
}

func NewRetriever(embedder QueryEmbedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

func (r *Retriever) Embed(ctx context.Context, text string) ([]float32, error) {
	return r.embedder.Embed(ctx, text)
}

// Search returns the topK passages of the chat closest to vector, best first.
func (r *Retriever) Search(ctx context.Context, chatID string, vector []float32, topK int) ([]Passage, error) {
	scored, err := r.store.Search(ctx, chatID, vector, topK)
	if err != nil {
		return nil, err
	}
	out := make([]Passage, len(scored))
	for i, s := range scored {
		out[i] = Passage{ID: s.ID, ObjectID: s.ObjectID, Text: s.Content, Score: s.Score, CreatedAt: s.CreatedAt}
	}
	return out, nil
}

// Retrieve embeds query and searches the chat's documents with it. An empty
// query vector yields no passages.
func (r *Retriever) Retrieve(ctx context.Context, chatID, query string, topK int) ([]Passage, error) {
	vec, err := r.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, nil
	}
	return r.Search(ctx, chatID, vec, topK)
}

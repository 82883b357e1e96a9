// Package engine defines the hosted AI providers chatfn depends on and
// their concrete clients: Groq for completion and speech-to-text, Gemini
// for embeddings.
package engine

import "context"

// Completer produces assistant replies for a conversation.
type Completer interface {
	// Complete returns the full reply. An empty string means the provider
	// produced no choice.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Stream calls onDelta for every content fragment as it arrives and
	// returns the concatenated reply once the stream ends. An error from
	// onDelta aborts the stream.
	Stream(ctx context.Context, req CompletionRequest, onDelta func(string) error) (string, error)
}

// Embedder maps text to vectors.
type Embedder interface {
	// Embed returns the vector for text. A provider that returns no values
	// yields an empty vector and no error.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one provider call; result i belongs to
	// texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

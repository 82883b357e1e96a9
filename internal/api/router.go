// Package api exposes the chat pipeline, voice transcription, document
// vectorization and storage cleanup over HTTP, and a subset of them as MCP
// tools.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/chatfn/internal/auth"
	"github.com/kalambet/chatfn/internal/ingest"
	"github.com/kalambet/chatfn/internal/pipeline"
	"github.com/kalambet/chatfn/internal/storage"
)

// ChatStore looks up chats for ownership checks and default settings.
type ChatStore interface {
	GetChat(ctx context.Context, id storage.ChatID) (storage.Chat, error)
}

// Responder answers a chat turn.
type Responder interface {
	Respond(ctx context.Context, req pipeline.Request) (*storage.Message, error)
	RespondStream(ctx context.Context, req pipeline.Request, onDelta func(string) error) (*storage.Message, error)
}

// VoiceTranscriber transcribes a voice note stored in blob storage.
type VoiceTranscriber interface {
	Transcribe(ctx context.Context, src string) (string, error)
}

// StorageCleaner removes every object under a prefix.
type StorageCleaner interface {
	DeleteSubtree(ctx context.Context, prefix string) (int, error)
}

// ChatVectorDeleter drops the document vectors of a chat.
type ChatVectorDeleter interface {
	DeleteByChat(ctx context.Context, chatID string) (int, error)
}

type Deps struct {
	Verifier  auth.Verifier
	Chats     ChatStore
	Responder Responder
	Voice     VoiceTranscriber
	Jobs      ingest.Enqueuer
	Storage   StorageCleaner
	Vectors   ChatVectorDeleter // optional; if nil, vectors survive chat cleanup
}

// NewHandler returns the HTTP API. Everything except /health requires a
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(deps.Verifier))

		r.Post("/ai", handleAI(deps))
		r.Post("/voice_to_text", handleVoiceToText(deps))
		r.Post("/vectorize", handleVectorize(deps))
		r.Post("/delete_user_storage", handleDeleteUserStorage(deps))
		r.Post("/delete_chat_storage", handleDeleteChatStorage(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

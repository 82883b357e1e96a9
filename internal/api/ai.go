package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/chatfn/internal/auth"
	"github.com/kalambet/chatfn/internal/errs"
	"github.com/kalambet/chatfn/internal/pipeline"
	"github.com/kalambet/chatfn/internal/storage"
)

const supportedAPIVersion = "v1"

type aiRequest struct {
	APIVersion string `json:"api_version"`
	// Older clients send the misspelled field.
	LegacyAPIVersion string                `json:"api_verson"`
	Model            string                `json:"model"`
	ChatSettings     *storage.ChatSettings `json:"chat_settings"`
	Message          storage.Message       `json:"message"`
	Stream           bool                  `json:"stream"`
}

func (r aiRequest) version() string {
	if r.APIVersion != "" {
		return r.APIVersion
	}
	return r.LegacyAPIVersion
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta streamDelta `json:"delta"`
}

type streamDelta struct {
	Content string `json:"content"`
}

func handleAI(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req aiRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		// An omitted version means v1.
		if v := req.version(); v != "" && v != supportedAPIVersion {
			writeError(w, r, errs.Validation("Unsupported AI service version"))
			return
		}
		if req.Message.ChatID == "" {
			writeError(w, r, errs.Validation("message.chat_id is required"))
			return
		}

		chat, err := loadOwnedChat(r.Context(), deps.Chats, req.Message.ChatID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		preq := pipeline.Request{Model: req.Model, Settings: chat.Settings, Message: req.Message}
		if req.ChatSettings != nil {
			preq.Settings = *req.ChatSettings
		}

		// The turn writes to the database; finish it even if the client leaves.
		ctx := context.WithoutCancel(r.Context())

		if req.Stream {
			streamReply(ctx, w, r, deps.Responder, preq)
			return
		}

		saved, err := deps.Responder.Respond(ctx, preq)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reply": saved})
	}
}

// loadOwnedChat returns the chat if the caller may act on it.
func loadOwnedChat(ctx context.Context, chats ChatStore, id storage.ChatID) (storage.Chat, error) {
	chat, err := chats.GetChat(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Chat{}, errs.NotFound("Chat not found")
	}
	if err != nil {
		return storage.Chat{}, fmt.Errorf("loading chat %s: %w", id, err)
	}
	ident, _ := auth.FromContext(ctx)
	if err := auth.Authorize(ident, chat.UserID); err != nil {
		return storage.Chat{}, err
	}
	return chat, nil
}

// streamReply relays reply fragments as server-sent events. Headers are sent
// with the first fragment so that failures before it still get a JSON error.
func streamReply(ctx context.Context, w http.ResponseWriter, r *http.Request, resp Responder, req pipeline.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.New("streaming not supported"))
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	_, err := resp.RespondStream(ctx, req, func(delta string) error {
		start()
		b, err := json.Marshal(streamChunk{Choices: []streamChoice{{Delta: streamDelta{Content: delta}}}})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
		return nil
	})
	if err != nil {
		if !started {
			writeError(w, r, err)
			return
		}
		slog.Error("stream failed after first chunk", "path", r.URL.Path, "error", err)
		b, _ := json.Marshal(map[string]string{"error": errs.PublicMessage(err)})
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
		return
	}

	start()
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/kalambet/chatfn/internal/blob"
	"github.com/kalambet/chatfn/internal/engine"
	"github.com/kalambet/chatfn/internal/errs"
	"github.com/kalambet/chatfn/internal/storage"
)

// MessageWriter appends a message and returns the stored row, or nil when
// the insert produced none.
type MessageWriter interface {
	InsertMessage(ctx context.Context, msg storage.Message) (*storage.Message, error)
}

// AudioSource fetches recorded voice notes from blob storage.
type AudioSource interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// IngestResult is the persisted user message and the text to answer.
type IngestResult struct {
	Saved *storage.Message
	Text  string
}

// Ingestor persists the user's turn, transcribing voice notes first.
type Ingestor struct {
	store       MessageWriter
	audio       AudioSource
	transcriber engine.Transcriber
	logger      *slog.Logger
}

func NewIngestor(store MessageWriter, audio AudioSource, transcriber engine.Transcriber) *Ingestor {
	return &Ingestor{store: store, audio: audio, transcriber: transcriber, logger: slog.Default()}
}

// Ingest stores msg as a user message. A voice message is downloaded and
// transcribed, and stored with both its source path and transcript.
func (i *Ingestor) Ingest(ctx context.Context, msg storage.Message) (IngestResult, error) {
	if msg.ChatID == "" {
		return IngestResult{}, errs.Validation("message.chat_id is required")
	}

	row := storage.Message{ChatID: msg.ChatID, Author: storage.RoleUser, Type: msg.Type}
	var text string

	switch msg.Type {
	case storage.MessageVoice:
		src := strings.TrimSpace(msg.Content.SrcValue())
		if src == "" {
			return IngestResult{}, errs.Validation("voice message requires content.src")
		}
		transcript, err := i.Transcribe(ctx, src)
		if err != nil {
			return IngestResult{}, err
		}
		row.Content = storage.VoiceContent(src, transcript)
		text = strings.TrimSpace(transcript)
	default:
		row.Type = storage.MessageText
		row.Content = msg.Content
		text = strings.TrimSpace(msg.Content.TextValue())
	}

	saved, err := i.store.InsertMessage(ctx, row)
	if err != nil {
		return IngestResult{}, errs.Wrap(errs.ErrPersistenceFailed, err)
	}
	if saved == nil {
		return IngestResult{}, errs.Wrap(errs.ErrPersistenceFailed, fmt.Errorf("insert into chat %s returned no row", msg.ChatID))
	}
	return IngestResult{Saved: saved, Text: text}, nil
}

// Transcribe downloads the audio at src and returns its transcript.
func (i *Ingestor) Transcribe(ctx context.Context, src string) (string, error) {
	audio, err := i.audio.Download(ctx, src)
	if errors.Is(err, blob.ErrObjectNotFound) {
		return "", &errs.Error{Kind: errs.KindNotFound, Message: "voice file not found", Err: err}
	}
	if err != nil {
		return "", errs.Wrap(errs.ErrUpstream, fmt.Errorf("downloading %s: %w", src, err))
	}
	transcript, err := i.transcriber.Transcribe(ctx, path.Base(src), audio)
	if err != nil {
		return "", errs.Wrap(errs.ErrUpstream, err)
	}
	i.logger.Debug("transcribed voice note", "src", src, "bytes", len(audio), "chars", len(transcript))
	return transcript, nil
}

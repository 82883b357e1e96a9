// Package pipeline answers a chat turn: it loads history, stores the user's
// message, optionally augments it with retrieved documents, asks the
// completion provider and stores the reply.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/chatfn/internal/chat"
	"github.com/kalambet/chatfn/internal/composer"
	"github.com/kalambet/chatfn/internal/engine"
	"github.com/kalambet/chatfn/internal/errs"
	"github.com/kalambet/chatfn/internal/storage"
)

// DefaultModel is used when neither the request nor the config names one.
const DefaultModel = engine.DefaultGroqModel

// Deps are the collaborators of a Responder. Messages persists the
// assistant's reply and is usually the same store the Ingestor writes to.
type Deps struct {
	History   *chat.HistoryLoader
	Ingestor  *chat.Ingestor
	Augmenter *chat.Augmenter
	Composer  *composer.Composer
	Completer engine.Completer
	Messages  chat.MessageWriter

	DefaultModel string
	HistoryLimit int
	Logger       *slog.Logger
}

// Request is one user turn in an existing chat.
type Request struct {
	// Model overrides the default completion model when non-empty.
	Model    string
	Settings storage.ChatSettings
	Message  storage.Message
}

type Responder struct {
	history   *chat.HistoryLoader
	ingestor  *chat.Ingestor
	augmenter *chat.Augmenter
	composer  *composer.Composer
	completer engine.Completer
	messages  chat.MessageWriter
	model     string
	limit     int
	logger    *slog.Logger
}

func NewResponder(d Deps) *Responder {
	if d.Composer == nil {
		d.Composer = composer.New("")
	}
	if d.DefaultModel == "" {
		d.DefaultModel = DefaultModel
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Responder{
		history:   d.History,
		ingestor:  d.Ingestor,
		augmenter: d.Augmenter,
		composer:  d.Composer,
		completer: d.Completer,
		messages:  d.Messages,
		model:     d.DefaultModel,
		limit:     d.HistoryLimit,
		logger:    d.Logger,
	}
}

// Respond runs the turn and returns the stored assistant message. Any
// failing step aborts the turn; nothing is retried.
func (r *Responder) Respond(ctx context.Context, req Request) (*storage.Message, error) {
	start := time.Now()
	creq, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	reply, err := r.completer.Complete(ctx, creq)
	if err != nil {
		return nil, errs.Wrap(errs.ErrUpstream, err)
	}
	saved, err := r.finish(ctx, req.Message.ChatID, reply)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("turn answered", "chat_id", req.Message.ChatID, "model", creq.Model,
		"messages", len(creq.Messages), "duration_ms", time.Since(start).Milliseconds())
	return saved, nil
}

// RespondStream runs the same turn as Respond but hands each fragment of
// the reply to onDelta as it arrives. The reply is stored once the stream
// has ended.
func (r *Responder) RespondStream(ctx context.Context, req Request, onDelta func(string) error) (*storage.Message, error) {
	creq, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	reply, err := r.completer.Stream(ctx, creq, onDelta)
	if err != nil {
		return nil, errs.Wrap(errs.ErrUpstream, err)
	}
	return r.finish(ctx, req.Message.ChatID, reply)
}

// prepare covers everything up to the provider call. History is read
// before the user's message is stored so it never contains the current
// turn.
func (r *Responder) prepare(ctx context.Context, req Request) (engine.CompletionRequest, error) {
	history := r.history.Load(ctx, req.Message.ChatID, r.limit)

	in, err := r.ingestor.Ingest(ctx, req.Message)
	if err != nil {
		return engine.CompletionRequest{}, err
	}

	aug, err := r.augmenter.BuildContext(ctx, req.Message.ChatID.String(), in.Text, req.Settings.RAGEnabled)
	if err != nil {
		return engine.CompletionRequest{}, err
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = r.model
	}
	opts := req.Settings.AIOptions
	return engine.CompletionRequest{
		Model:       model,
		Messages:    r.composer.Assemble(aug, history, in.Text),
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
	}, nil
}

func (r *Responder) finish(ctx context.Context, chatID storage.ChatID, reply string) (*storage.Message, error) {
	if reply == "" {
		reply = composer.NoReplyPlaceholder
	}
	saved, err := r.messages.InsertMessage(ctx, storage.Message{
		ChatID:  chatID,
		Author:  storage.RoleAssistant,
		Type:    storage.MessageText,
		Content: storage.TextContent(reply),
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrPersistenceFailed, err)
	}
	if saved == nil {
		return nil, errs.Wrap(errs.ErrPersistenceFailed, fmt.Errorf("assistant reply for chat %s returned no row", chatID))
	}
	return saved, nil
}

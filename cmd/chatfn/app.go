package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/chatfn/internal/api"
	"github.com/kalambet/chatfn/internal/auth"
	"github.com/kalambet/chatfn/internal/blob"
	"github.com/kalambet/chatfn/internal/chat"
	"github.com/kalambet/chatfn/internal/composer"
	"github.com/kalambet/chatfn/internal/config"
	"github.com/kalambet/chatfn/internal/engine"
	"github.com/kalambet/chatfn/internal/ingest"
	"github.com/kalambet/chatfn/internal/pipeline"
	"github.com/kalambet/chatfn/internal/retrieval"
	"github.com/kalambet/chatfn/internal/storage"
)

// app is the fully wired service shared by the serve, mcp, vectorize and
// purge commands.
type app struct {
	cfg       config.Config
	store     *storage.Store
	blobs     blob.Store
	vectors   *retrieval.SQLiteStore
	retriever *retrieval.Retriever
	ingestor  *chat.Ingestor
	responder *pipeline.Responder
	walker    *blob.Walker
	worker    *ingest.Worker

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	switch cfg.Blob.Backend {
	case config.BlobBackendBolt:
		b, err := blob.OpenBolt(cfg.BoltFile())
		if err != nil {
			return nil, err
		}
		a.blobs = b
		a.closers = append(a.closers, b.Close)
	default:
		a.blobs = blob.NewSupabaseStore(cfg.Blob.URL, cfg.Blob.ServiceKey)
	}
	bucket := a.blobs.Bucket(cfg.Blob.Bucket)

	groq := engine.NewGroq(engine.GroqConfig{
		APIKey:             cfg.Groq.APIKey,
		BaseURL:            cfg.Groq.BaseURL,
		TranscriptionModel: cfg.Groq.TranscriptionModel,
	})
	gemini, err := engine.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	a.closers = append(a.closers, gemini.Close)

	embedder := retrieval.NewEmbedder(gemini, retrieval.DefaultBatchSize)
	a.vectors = retrieval.NewSQLiteStore(a.store.DB())
	a.retriever = retrieval.NewRetriever(embedder, a.vectors)

	comp := composer.New("")
	a.ingestor = chat.NewIngestor(a.store, bucket, groq)
	a.responder = pipeline.NewResponder(pipeline.Deps{
		History:      chat.NewHistoryLoader(a.store, cfg.Chat.HistoryLimit),
		Ingestor:     a.ingestor,
		Augmenter:    chat.NewAugmenter(a.retriever, comp, cfg.Retrieval.TopK),
		Composer:     comp,
		Completer:    groq,
		Messages:     a.store,
		DefaultModel: cfg.Groq.DefaultModel,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})

	a.walker = blob.NewWalker(bucket)
	a.worker = ingest.NewWorker(a.store, a.blobs, embedder, a.vectors, ingest.Options{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		PollInterval: cfg.Ingest.PollEvery(),
	})
	return a, nil
}

func (a *app) httpDeps() api.Deps {
	return api.Deps{
		Verifier:  auth.NewJWTVerifier(a.cfg.Auth.JWTSecret),
		Chats:     a.store,
		Responder: a.responder,
		Voice:     a.ingestor,
		Jobs:      a.store,
		Storage:   a.walker,
		Vectors:   a.vectors,
	}
}

func (a *app) mcpDeps() api.MCPDeps {
	return api.MCPDeps{
		Retriever: a.retriever,
		Messages:  a.store,
		Jobs:      a.store,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// loadApp reads the configuration, installs logging and wires the app.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)
	return newApp(ctx, cfg)
}

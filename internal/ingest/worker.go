// Package ingest turns documents uploaded to a chat into searchable
// vectors. Requests are queued as jobs and processed by a polling worker.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chatfn/internal/blob"
	"github.com/kalambet/chatfn/internal/retrieval"
	"github.com/kalambet/chatfn/internal/storage"
)

const (
	JobTypeVectorize = "vectorize"

	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultPollInterval = 500 * time.Millisecond
)

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// JobStore abstracts the job queue operations.
type JobStore interface {
	Enqueuer
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// BatchEmbedder embeds many chunks at once; result i belongs to texts[i].
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter replaces the vectors of a storage object.
type VectorWriter interface {
	Insert(ctx context.Context, records []retrieval.Record) error
	DeleteByObject(ctx context.Context, objectID string) (int, error)
}

// VectorizePayload is the JSON body of a vectorize job.
type VectorizePayload struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

// EnqueueVectorize queues bucket/path for vectorization and returns the job id.
func EnqueueVectorize(ctx context.Context, q Enqueuer, bucket, path string) (string, error) {
	payload, err := json.Marshal(VectorizePayload{Bucket: bucket, Path: path})
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := q.EnqueueJob(ctx, storage.Job{ID: id, Type: JobTypeVectorize, PayloadJSON: string(payload)}); err != nil {
		return "", fmt.Errorf("enqueueing vectorize job: %w", err)
	}
	return id, nil
}

// ObjectID identifies a stored document in the vector table.
func ObjectID(bucket, path string) string {
	return bucket + "/" + strings.Trim(path, "/")
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	PollInterval time.Duration
}

// Worker processes vectorize jobs from the SQLite job queue.
type Worker struct {
	jobs     JobStore
	blobs    blob.Store
	embedder BatchEmbedder
	vectors  VectorWriter
	opts     Options
	now      func() time.Time
	logger   *slog.Logger
}

func NewWorker(jobs JobStore, blobs blob.Store, embedder BatchEmbedder, vectors VectorWriter, opts Options) *Worker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Worker{
		jobs:     jobs,
		blobs:    blobs,
		embedder: embedder,
		vectors:  vectors,
		opts:     opts,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// RunOnce claims and processes a single vectorize job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(ctx, []string{JobTypeVectorize})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.jobs.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p VectorizePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	_, err := w.Vectorize(ctx, p.Bucket, p.Path)
	return err
}

// Vectorize downloads bucket/path, splits it into overlapping chunks,
// embeds them and replaces the object's vectors. Vectors are scoped to the
// chat the path belongs to. It returns the number of chunks stored.
func (w *Worker) Vectorize(ctx context.Context, bucket, path string) (int, error) {
	if bucket == "" || path == "" {
		return 0, errors.New("bucket and path are required")
	}

	data, err := w.blobs.Bucket(bucket).Download(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("downloading %s/%s: %w", bucket, path, err)
	}
	text, err := ExtractText(path, data)
	if err != nil {
		return 0, err
	}
	chunks := SplitContent(text, w.opts.ChunkSize, w.opts.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, errors.New("no content to embed")
	}

	vecs, err := w.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("embeddings and contents length mismatch: %d != %d", len(vecs), len(chunks))
	}

	objectID := ObjectID(bucket, path)
	chatID := blob.ChatIDFromPath(path)
	now := w.now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, c := range chunks {
		if len(vecs[i]) == 0 {
			return 0, fmt.Errorf("missing embedding values for chunk %d", i)
		}
		records[i] = retrieval.Record{
			ID:        uuid.New().String(),
			ObjectID:  objectID,
			ChatID:    chatID,
			Content:   c,
			Embedding: vecs[i],
			// Keep chunk order stable for ByObject.
			CreatedAt: now.Add(time.Duration(i)),
		}
	}

	if _, err := w.vectors.DeleteByObject(ctx, objectID); err != nil {
		return 0, fmt.Errorf("clearing previous vectors of %s: %w", objectID, err)
	}
	if err := w.vectors.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("inserting vectors: %w", err)
	}
	w.logger.Info("document vectorized", "object", objectID, "chat_id", chatID, "chunks", len(chunks))
	return len(chunks), nil
}

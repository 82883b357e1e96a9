package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/chatfn/internal/blob"
	"github.com/kalambet/chatfn/internal/retrieval"
	"github.com/kalambet/chatfn/internal/storage"
)

type mockEmbedder struct {
	mu      sync.Mutex
	calls   int
	batchFn func(texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.batchFn != nil {
		return m.batchFn(texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i + 1), 0.5}
	}
	return out, nil
}

type env struct {
	store   *storage.Store
	vectors *retrieval.SQLiteStore
	blobs   *blob.BoltStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	b, err := blob.OpenBolt(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	return &env{store: s, vectors: retrieval.NewSQLiteStore(s.DB()), blobs: b}
}

func (e *env) put(t *testing.T, path, content string) {
	t.Helper()
	if err := e.blobs.BoltBucket("storage").Put(context.Background(), path, []byte(content), "text/plain"); err != nil {
		t.Fatalf("Put %s: %v", path, err)
	}
}

func (e *env) worker(emb BatchEmbedder) *Worker {
	return NewWorker(e.store, e.blobs, emb, e.vectors, Options{})
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func TestSplitContent(t *testing.T) {
	text := strings.Repeat("a", 2500)
	chunks := SplitContent(text, 1000, 200)
	// windows start at 0, 800, 1600, 2400
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	if len(chunks[0]) != 1000 || len(chunks[3]) != 100 {
		t.Errorf("chunk lengths = %d, %d", len(chunks[0]), len(chunks[3]))
	}

	if got := SplitContent("   \n  ", 10, 2); len(got) != 0 {
		t.Errorf("blank text gave %q", got)
	}
	if got := SplitContent("  héllo wörld  ", 1000, 200); len(got) != 1 || got[0] != "héllo wörld" {
		t.Errorf("short text = %q", got)
	}
}

func TestSplitContent_CountsRunes(t *testing.T) {
	chunks := SplitContent(strings.Repeat("ж", 12), 5, 1)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for _, c := range chunks[:2] {
		if n := len([]rune(c)); n != 5 {
			t.Errorf("chunk %q has %d runes, want 5", c, n)
		}
	}
}

func TestExtractText(t *testing.T) {
	got, err := ExtractText("u/chats/1/notes.TXT", []byte("plain"))
	if err != nil || got != "plain" {
		t.Errorf("txt = %q, %v", got, err)
	}
	if _, err := ExtractText("u/chats/1/image.png", []byte{0x89}); err == nil {
		t.Error("expected error for png")
	}
	if _, err := ExtractText("u/chats/1/broken.pdf", []byte("not a pdf")); err == nil {
		t.Error("expected error for malformed pdf")
	}
	if ft := FileType("u/chats/1/README"); ft != "txt" {
		t.Errorf("FileType(no ext) = %q, want txt", ft)
	}
}

func TestWorker_ProcessesJob(t *testing.T) {
	e := newEnv(t)
	e.put(t, "user-1/chats/42/doc.txt", strings.Repeat("x", 1500))

	ctx := context.Background()
	id, err := EnqueueVectorize(ctx, e.store, "storage", "user-1/chats/42/doc.txt")
	if err != nil {
		t.Fatalf("EnqueueVectorize: %v", err)
	}

	didWork, err := e.worker(&mockEmbedder{}).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != storage.JobCompleted {
		t.Errorf("status = %q, want completed", job.Status)
	}

	recs, err := e.vectors.ByObject(ctx, "storage/user-1/chats/42/doc.txt")
	if err != nil {
		t.Fatalf("ByObject: %v", err)
	}
	// 1500 runes: windows at 0 and 800
	if len(recs) != 2 {
		t.Fatalf("stored %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.ChatID != "42" {
			t.Errorf("ChatID = %q, want 42", r.ChatID)
		}
	}
	if len(recs[0].Content) != 1000 || len(recs[1].Content) != 700 {
		t.Errorf("chunk order not preserved: %d, %d", len(recs[0].Content), len(recs[1].Content))
	}
}

func TestWorker_NoJob(t *testing.T) {
	e := newEnv(t)
	didWork, err := e.worker(&mockEmbedder{}).RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestVectorize_ReplacesPreviousVectors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	w := e.worker(&mockEmbedder{})

	e.put(t, "u/chats/1/a.txt", strings.Repeat("y", 2000))
	if n, err := w.Vectorize(ctx, "storage", "u/chats/1/a.txt"); err != nil || n != 3 {
		t.Fatalf("first Vectorize = %d, %v", n, err)
	}
	e.put(t, "u/chats/1/a.txt", "short now")
	if n, err := w.Vectorize(ctx, "storage", "u/chats/1/a.txt"); err != nil || n != 1 {
		t.Fatalf("second Vectorize = %d, %v", n, err)
	}
	if count, _ := e.vectors.Count(ctx); count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestVectorize_Rejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.put(t, "u/chats/1/pic.png", "png")
	e.put(t, "u/chats/1/blank.txt", "   ")
	e.put(t, "u/chats/1/ok.txt", "content")

	short := &mockEmbedder{batchFn: func([]string) ([][]float32, error) { return nil, nil }}
	empty := &mockEmbedder{batchFn: func(texts []string) ([][]float32, error) { return make([][]float32, len(texts)), nil }}

	tests := []struct {
		name string
		path string
		emb  BatchEmbedder
	}{
		{"unsupported type", "u/chats/1/pic.png", &mockEmbedder{}},
		{"no content", "u/chats/1/blank.txt", &mockEmbedder{}},
		{"missing object", "u/chats/1/gone.txt", &mockEmbedder{}},
		{"count mismatch", "u/chats/1/ok.txt", short},
		{"empty vector", "u/chats/1/ok.txt", empty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.worker(tt.emb).Vectorize(ctx, "storage", tt.path); err == nil {
				t.Error("expected error")
			}
		})
	}
	if count, _ := e.vectors.Count(ctx); count != 0 {
		t.Errorf("Count = %d, want nothing stored", count)
	}
}

func TestWorker_RetryThenFail(t *testing.T) {
	e := newEnv(t)
	e.put(t, "u/chats/1/doc.txt", "retry content")
	ctx := context.Background()
	id, _ := EnqueueVectorize(ctx, e.store, "storage", "u/chats/1/doc.txt")

	emb := &mockEmbedder{batchFn: func([]string) ([][]float32, error) {
		return nil, fmt.Errorf("permanent error")
	}}
	w := e.worker(emb)

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		job, _ := e.store.GetJob(ctx, id)
		if i < 3 {
			if job.Status != storage.JobPending || job.Attempts != i {
				t.Errorf("after attempt %d: status=%q attempts=%d", i, job.Status, job.Attempts)
			}
			resetRunAfter(t, e.store, id)
		} else if job.Status != storage.JobFailed {
			t.Errorf("final status = %q, want failed", job.Status)
		}
	}
	if emb.calls != 3 {
		t.Errorf("embedder called %d times, want 3", emb.calls)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.worker(&mockEmbedder{}).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

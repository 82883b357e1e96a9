package chat

import (
	"context"

	"github.com/kalambet/chatfn/internal/retrieval"
	"github.com/kalambet/chatfn/internal/storage"
)

type fakeReader struct {
	rows   []storage.Message
	err    error
	limits []int
}

func (f *fakeReader) RecentMessages(_ context.Context, _ storage.ChatID, limit int) ([]storage.Message, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

type fakeWriter struct {
	inserted []storage.Message
	insertFn func(msg storage.Message) (*storage.Message, error)
}

func (f *fakeWriter) InsertMessage(_ context.Context, msg storage.Message) (*storage.Message, error) {
	f.inserted = append(f.inserted, msg)
	if f.insertFn != nil {
		return f.insertFn(msg)
	}
	saved := msg
	saved.ID = int64(len(f.inserted))
	return &saved, nil
}

type fakeAudio struct {
	data  map[string][]byte
	err   error
	calls []string
}

func (f *fakeAudio) Download(_ context.Context, path string) ([]byte, error) {
	f.calls = append(f.calls, path)
	if f.err != nil {
		return nil, f.err
	}
	return f.data[path], nil
}

type fakeTranscriber struct {
	text      string
	err       error
	filenames []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, filename string, _ []byte) (string, error) {
	f.filenames = append(f.filenames, filename)
	return f.text, f.err
}

type fakeRetriever struct {
	vec       []float32
	embedErr  error
	passages  []retrieval.Passage
	searchErr error

	embedCalls  int
	searchCalls int
	lastTopK    int
	lastChat    string
}

func (f *fakeRetriever) Embed(context.Context, string) ([]float32, error) {
	f.embedCalls++
	return f.vec, f.embedErr
}

func (f *fakeRetriever) Search(_ context.Context, chatID string, _ []float32, topK int) ([]retrieval.Passage, error) {
	f.searchCalls++
	f.lastTopK = topK
	f.lastChat = chatID
	return f.passages, f.searchErr
}

func text(s string) storage.MessageContent { return storage.TextContent(s) }

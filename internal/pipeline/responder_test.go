package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/chatfn/internal/chat"
	"github.com/kalambet/chatfn/internal/composer"
	"github.com/kalambet/chatfn/internal/engine"
	"github.com/kalambet/chatfn/internal/errs"
	"github.com/kalambet/chatfn/internal/retrieval"
	"github.com/kalambet/chatfn/internal/storage"
)

// --- in-memory message store ---

type memStore struct {
	rows      []storage.Message
	insertErr error
	noRowFor  storage.Role
}

func (m *memStore) RecentMessages(_ context.Context, chatID storage.ChatID, limit int) ([]storage.Message, error) {
	var out []storage.Message
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if m.rows[i].ChatID == chatID {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *memStore) InsertMessage(_ context.Context, msg storage.Message) (*storage.Message, error) {
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if m.noRowFor != "" && msg.Author == m.noRowFor {
		return nil, nil
	}
	msg.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, msg)
	return &msg, nil
}

// --- provider fakes ---

type mockCompleter struct {
	completeFn func(req engine.CompletionRequest) (string, error)
	deltas     []string
	requests   []engine.CompletionRequest
}

func (m *mockCompleter) Complete(_ context.Context, req engine.CompletionRequest) (string, error) {
	m.requests = append(m.requests, req)
	if m.completeFn != nil {
		return m.completeFn(req)
	}
	return "ok", nil
}

func (m *mockCompleter) Stream(_ context.Context, req engine.CompletionRequest, onDelta func(string) error) (string, error) {
	m.requests = append(m.requests, req)
	var sb strings.Builder
	for _, d := range m.deltas {
		if err := onDelta(d); err != nil {
			return sb.String(), err
		}
		sb.WriteString(d)
	}
	return sb.String(), nil
}

type mockRetriever struct {
	passages []retrieval.Passage
	embedErr error
	queries  []string
}

func (m *mockRetriever) Embed(_ context.Context, text string) ([]float32, error) {
	m.queries = append(m.queries, text)
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return []float32{1, 0}, nil
}

func (m *mockRetriever) Search(context.Context, string, []float32, int) ([]retrieval.Passage, error) {
	return m.passages, nil
}

type staticAudio struct{}

func (staticAudio) Download(context.Context, string) ([]byte, error) { return []byte("audio"), nil }

type staticTranscriber struct{ text string }

func (s staticTranscriber) Transcribe(context.Context, string, []byte) (string, error) {
	return s.text, nil
}

type fixture struct {
	store     *memStore
	completer *mockCompleter
	retriever *mockRetriever
	responder *Responder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     &memStore{},
		completer: &mockCompleter{},
		retriever: &mockRetriever{},
	}
	comp := composer.New("")
	f.responder = NewResponder(Deps{
		History:   chat.NewHistoryLoader(f.store, 0),
		Ingestor:  chat.NewIngestor(f.store, staticAudio{}, staticTranscriber{text: "transcribed question"}),
		Augmenter: chat.NewAugmenter(f.retriever, comp, 0),
		Composer:  comp,
		Completer: f.completer,
		Messages:  f.store,
	})
	return f
}

func (f *fixture) seed(author storage.Role, text string) {
	f.store.rows = append(f.store.rows, storage.Message{
		ID: int64(len(f.store.rows) + 1), ChatID: "7", Author: author, Content: storage.TextContent(text),
	})
}

func textRequest(s string) Request {
	return Request{Message: storage.Message{ChatID: "7", Content: storage.TextContent(s)}}
}

func TestRespond_TextTurn(t *testing.T) {
	f := newFixture(t)
	f.seed(storage.RoleUser, "earlier question")
	f.seed(storage.RoleAssistant, "earlier answer")
	f.completer.completeFn = func(engine.CompletionRequest) (string, error) { return "new answer", nil }

	req := textRequest("new question")
	req.Settings.AIOptions = storage.AIOptions{Temperature: 0.3, TopP: 0.9, MaxTokens: 256}

	saved, err := f.responder.Respond(context.Background(), req)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if saved.Author != storage.RoleAssistant || saved.Content.TextValue() != "new answer" {
		t.Errorf("saved = %+v", saved)
	}

	sent := f.completer.requests[0]
	wantContents := []string{"earlier question", "earlier answer", "new question"}
	if len(sent.Messages) != len(wantContents) {
		t.Fatalf("sent %d messages, want %d: %+v", len(sent.Messages), len(wantContents), sent.Messages)
	}
	for i, want := range wantContents {
		if sent.Messages[i].Content != want {
			t.Errorf("messages[%d] = %q, want %q", i, sent.Messages[i].Content, want)
		}
	}
	if sent.Temperature != 0.3 || sent.TopP != 0.9 || sent.MaxTokens != 256 {
		t.Errorf("options = %+v", sent)
	}
	if sent.Model != DefaultModel {
		t.Errorf("model = %q, want %q", sent.Model, DefaultModel)
	}

	// user row then assistant row appended after the seeded history
	if len(f.store.rows) != 4 {
		t.Fatalf("store has %d rows, want 4", len(f.store.rows))
	}
	if f.store.rows[2].Author != storage.RoleUser || f.store.rows[3].Author != storage.RoleAssistant {
		t.Errorf("persisted order = %s, %s", f.store.rows[2].Author, f.store.rows[3].Author)
	}
	if len(f.retriever.queries) != 0 {
		t.Error("retriever used while RAG disabled")
	}
}

func TestRespond_MessageOrder(t *testing.T) {
	tests := []struct {
		name  string
		rag   bool
		roles []string
		texts []string
	}{
		{
			name:  "rag enabled",
			rag:   true,
			roles: []string{"system", "user", "assistant", "user", "user"},
			texts: []string{"", "h1", "h2", "h3", "now"},
		},
		{
			name:  "rag disabled",
			roles: []string{"user", "assistant", "user", "user"},
			texts: []string{"h1", "h2", "h3", "now"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(storage.RoleUser, "h1")
			f.seed(storage.RoleAssistant, "h2")
			f.seed(storage.RoleUser, "h3")
			f.retriever.passages = []retrieval.Passage{{Text: "doc passage"}}

			req := textRequest("now")
			req.Settings.RAGEnabled = tt.rag
			if _, err := f.responder.Respond(context.Background(), req); err != nil {
				t.Fatalf("Respond: %v", err)
			}

			msgs := f.completer.requests[0].Messages
			if len(msgs) != len(tt.roles) {
				t.Fatalf("got %d messages, want %d: %+v", len(msgs), len(tt.roles), msgs)
			}
			for i, m := range msgs {
				if m.Role != tt.roles[i] {
					t.Errorf("messages[%d].Role = %q, want %q", i, m.Role, tt.roles[i])
				}
				if tt.texts[i] != "" && m.Content != tt.texts[i] {
					t.Errorf("messages[%d].Content = %q, want %q", i, m.Content, tt.texts[i])
				}
			}
			if tt.rag && !strings.Contains(msgs[0].Content, "doc passage") {
				t.Errorf("system message = %q, want it to carry the passage", msgs[0].Content)
			}
		})
	}
}

func TestRespond_ModelOverride(t *testing.T) {
	f := newFixture(t)
	req := textRequest("hi")
	req.Model = "mixtral-8x7b"
	if _, err := f.responder.Respond(context.Background(), req); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got := f.completer.requests[0].Model; got != "mixtral-8x7b" {
		t.Errorf("model = %q", got)
	}
}

func TestRespond_RAGUsesTranscript(t *testing.T) {
	f := newFixture(t)
	f.retriever.passages = []retrieval.Passage{{Text: "doc one"}, {Text: "doc two"}}

	src := "u/voice/1.m4a"
	req := Request{
		Settings: storage.ChatSettings{RAGEnabled: true},
		Message:  storage.Message{ChatID: "7", Type: storage.MessageVoice, Content: storage.MessageContent{Src: &src}},
	}
	if _, err := f.responder.Respond(context.Background(), req); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if len(f.retriever.queries) != 1 || f.retriever.queries[0] != "transcribed question" {
		t.Errorf("retrieval queries = %q", f.retriever.queries)
	}
	msgs := f.completer.requests[0].Messages
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "doc one\ndoc two") {
		t.Errorf("first message = %+v, want retrieval context", msgs[0])
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != "transcribed question" {
		t.Errorf("last message = %+v", last)
	}
}

func TestRespond_Placeholders(t *testing.T) {
	f := newFixture(t)
	f.completer.completeFn = func(engine.CompletionRequest) (string, error) { return "", nil }

	saved, err := f.responder.Respond(context.Background(), textRequest("   "))
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got := saved.Content.TextValue(); got != composer.NoReplyPlaceholder {
		t.Errorf("reply = %q, want placeholder", got)
	}
	msgs := f.completer.requests[0].Messages
	if msgs[len(msgs)-1].Content != composer.NoInputPlaceholder {
		t.Errorf("user turn = %q, want placeholder", msgs[len(msgs)-1].Content)
	}
}

func TestRespond_Failures(t *testing.T) {
	t.Run("completion", func(t *testing.T) {
		f := newFixture(t)
		f.completer.completeFn = func(engine.CompletionRequest) (string, error) { return "", errors.New("503") }
		_, err := f.responder.Respond(context.Background(), textRequest("q"))
		if !errors.Is(err, errs.ErrUpstream) {
			t.Errorf("err = %v, want ErrUpstream", err)
		}
		if len(f.store.rows) != 1 {
			t.Errorf("store has %d rows, want only the user message", len(f.store.rows))
		}
	})

	t.Run("augmentation", func(t *testing.T) {
		f := newFixture(t)
		f.retriever.embedErr = errors.New("quota")
		req := textRequest("q")
		req.Settings.RAGEnabled = true
		_, err := f.responder.Respond(context.Background(), req)
		if !errors.Is(err, errs.ErrAugmentationFailed) {
			t.Errorf("err = %v, want ErrAugmentationFailed", err)
		}
		if len(f.completer.requests) != 0 {
			t.Error("provider called after augmentation failure")
		}
	})

	t.Run("reply without row", func(t *testing.T) {
		f := newFixture(t)
		f.store.noRowFor = storage.RoleAssistant
		_, err := f.responder.Respond(context.Background(), textRequest("q"))
		if !errors.Is(err, errs.ErrPersistenceFailed) {
			t.Errorf("err = %v, want ErrPersistenceFailed", err)
		}
	})

	t.Run("user insert", func(t *testing.T) {
		f := newFixture(t)
		f.store.insertErr = errors.New("disk full")
		_, err := f.responder.Respond(context.Background(), textRequest("q"))
		if !errors.Is(err, errs.ErrPersistenceFailed) {
			t.Errorf("err = %v, want ErrPersistenceFailed", err)
		}
		if len(f.completer.requests) != 0 {
			t.Error("provider called after persistence failure")
		}
	})
}

func TestRespondStream(t *testing.T) {
	f := newFixture(t)
	f.completer.deltas = []string{"Hel", "lo", "!"}

	var got []string
	saved, err := f.responder.RespondStream(context.Background(), textRequest("hi"), func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("RespondStream: %v", err)
	}
	if strings.Join(got, "|") != "Hel|lo|!" {
		t.Errorf("deltas = %q", got)
	}
	if saved.Content.TextValue() != "Hello!" {
		t.Errorf("saved reply = %q", saved.Content.TextValue())
	}
}

func TestRespondStream_CallbackAbort(t *testing.T) {
	f := newFixture(t)
	f.completer.deltas = []string{"a", "b"}

	_, err := f.responder.RespondStream(context.Background(), textRequest("hi"), func(string) error {
		return errors.New("client gone")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(f.store.rows) != 1 {
		t.Errorf("store has %d rows, want no assistant reply", len(f.store.rows))
	}
}

package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/chatfn/internal/engine"
)

func TestContextMessage(t *testing.T) {
	c := New("")
	msg := c.ContextMessage("what is go?", []string{"Go is compiled.", "Go has goroutines."})

	if msg.Role != "system" {
		t.Errorf("Role = %q, want system", msg.Role)
	}
	if !strings.HasPrefix(msg.Content, "what is go?\n\nContext information is below") {
		t.Errorf("content should start with the query: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "---------------------\nGo is compiled.\nGo has goroutines.\n---------------------") {
		t.Errorf("passages not joined in order: %q", msg.Content)
	}
	if strings.Contains(msg.Content, "{query}") || strings.Contains(msg.Content, "{question_answer_context}") {
		t.Errorf("placeholders left in content: %q", msg.Content)
	}
}

func TestContextMessage_CustomTemplate(t *testing.T) {
	c := New("Q={query} C={question_answer_context}")
	got := c.ContextMessage("q", []string{"a", "b"}).Content
	if got != "Q=q C=a\nb" {
		t.Errorf("content = %q", got)
	}
}

func TestContextMessage_QueryContainingPlaceholder(t *testing.T) {
	c := New("Q={query} C={question_answer_context}")
	got := c.ContextMessage("{question_answer_context}", []string{"p"}).Content
	if got != "Q={question_answer_context} C=p" {
		t.Errorf("query text was substituted twice: %q", got)
	}
}

func TestAssemble(t *testing.T) {
	c := New("")
	aug := &engine.Message{Role: "system", Content: "ctx"}
	history := []engine.Message{{Role: "user", Content: "h1"}, {Role: "assistant", Content: "h2"}}

	msgs := c.Assemble(aug, history, "now")
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	want := []string{"system:ctx", "user:h1", "assistant:h2", "user:now"}
	for i, m := range msgs {
		if got := m.Role + ":" + m.Content; got != want[i] {
			t.Errorf("msgs[%d] = %q, want %q", i, got, want[i])
		}
	}
}

func TestAssemble_NoAugmentationAndEmptyInput(t *testing.T) {
	msgs := New("").Assemble(nil, nil, "   ")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Content != NoInputPlaceholder || msgs[0].Role != "user" {
		t.Errorf("msg = %+v, want placeholder user turn", msgs[0])
	}
}

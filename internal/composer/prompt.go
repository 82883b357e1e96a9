// Package composer builds the message list sent to the completion provider.
package composer

import (
	"strings"

	"github.com/kalambet/chatfn/internal/engine"
)

// DefaultTemplate frames retrieved passages for the model. {query} and
// {question_answer_context} are substituted.
const DefaultTemplate = `{query}

Context information is below, surrounded by ---------------------

---------------------
{question_answer_context}
---------------------

Given the context and provided history information and not prior knowledge,
reply to the user comment. If the answer is not in the context, inform
the user that you can't answer the question.
`

const (
	// NoInputPlaceholder stands in for an empty user turn.
	NoInputPlaceholder = "User said nothing."
	// NoReplyPlaceholder stands in for an empty provider reply.
	NoReplyPlaceholder = "[No response from LLM.]"
)

type Composer struct {
	Template string
}

// New returns a Composer using template, or DefaultTemplate when empty.
func New(template string) *Composer {
	if template == "" {
		template = DefaultTemplate
	}
	return &Composer{Template: template}
}

// ContextMessage renders the retrieval system message. Passages are joined
// with newlines in the order given.
func (c *Composer) ContextMessage(query string, passages []string) engine.Message {
	r := strings.NewReplacer(
		"{query}", query,
		"{question_answer_context}", strings.Join(passages, "\n"),
	)
	return engine.Message{Role: "system", Content: r.Replace(c.Template)}
}

// Assemble orders the provider input: the optional retrieval message, then
// history oldest first, then the user turn.
func (c *Composer) Assemble(augmentation *engine.Message, history []engine.Message, userText string) []engine.Message {
	msgs := make([]engine.Message, 0, len(history)+2)
	if augmentation != nil {
		msgs = append(msgs, *augmentation)
	}
	msgs = append(msgs, history...)
	if strings.TrimSpace(userText) == "" {
		userText = NoInputPlaceholder
	}
	return append(msgs, engine.Message{Role: "user", Content: userText})
}

package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType is the kind of payload a message carries. Only Text and Voice
// exist; anything else is read as Text.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageVoice MessageType = "voice"
)

// ParseMessageType maps a wire tag to a MessageType. Matching is case
// insensitive and unknown or empty tags fall back to MessageText.
func ParseMessageType(s string) MessageType {
	if strings.EqualFold(strings.TrimSpace(s), string(MessageVoice)) {
		return MessageVoice
	}
	return MessageText
}

func (t *MessageType) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = MessageText
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("message_type: %w", err)
	}
	*t = ParseMessageType(s)
	return nil
}

// ChatID is a chat identifier. Clients send it either as a JSON number or a
// JSON string; both decode to the same textual form.
type ChatID string

func (id *ChatID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("chat_id: %w", err)
		}
		*id = ChatID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chat_id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("chat_id: %q is not an integer", n.String())
	}
	*id = ChatID(n.String())
	return nil
}

func (id ChatID) String() string { return string(id) }

// MessageContent is the JSON payload of a message. Voice messages carry Src
// and, once transcribed, Text.
type MessageContent struct {
	Text *string `json:"text,omitempty"`
	Src  *string `json:"src,omitempty"`
}

// TextValue returns the text field or "" when absent.
func (c MessageContent) TextValue() string {
	if c.Text == nil {
		return ""
	}
	return *c.Text
}

// SrcValue returns the src field or "" when absent.
func (c MessageContent) SrcValue() string {
	if c.Src == nil {
		return ""
	}
	return *c.Src
}

// TextContent builds a content payload holding only text.
func TextContent(text string) MessageContent {
	return MessageContent{Text: &text}
}

// VoiceContent builds a content payload for a transcribed voice note.
func VoiceContent(src, transcript string) MessageContent {
	return MessageContent{Src: &src, Text: &transcript}
}

type Message struct {
	ID        int64          `json:"id"`
	ChatID    ChatID         `json:"chat_id"`
	Author    Role           `json:"author"`
	Content   MessageContent `json:"content"`
	Type      MessageType    `json:"message_type"`
	CreatedAt time.Time      `json:"created_at"`
}

// AIOptions are the per-chat generation knobs. Only Temperature, TopP and
// MaxTokens reach the completion provider.
type AIOptions struct {
	TopK          int     `json:"top_k"`
	TopP          float64 `json:"top_p"`
	Temperature   float64 `json:"temperature"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	MaxTokens     int     `json:"max_tokens"`
}

type ChatSettings struct {
	AIOptions  AIOptions `json:"ai_options"`
	RAGEnabled bool      `json:"is_rag_enabled"`
}

type Chat struct {
	ID        ChatID       `json:"id"`
	UserID    string       `json:"user_id"`
	Title     string       `json:"title"`
	Settings  ChatSettings `json:"settings"`
	CreatedAt time.Time    `json:"created_at"`
}

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

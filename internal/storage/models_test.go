package storage

import (
	"encoding/json"
	"testing"
)

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		in   string
		want MessageType
	}{
		{"voice", MessageVoice},
		{"VOICE", MessageVoice},
		{" Voice ", MessageVoice},
		{"text", MessageText},
		{"", MessageText},
		{"image", MessageText},
	}
	for _, tt := range tests {
		if got := ParseMessageType(tt.in); got != tt.want {
			t.Errorf("ParseMessageType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMessageUnmarshal(t *testing.T) {
	var m Message
	raw := `{"chat_id": 12, "author": "user", "message_type": "Voice", "content": {"src": "u/a.m4a"}}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m.ChatID != "12" {
		t.Errorf("ChatID = %q, want 12", m.ChatID)
	}
	if m.Type != MessageVoice {
		t.Errorf("Type = %q, want voice", m.Type)
	}
	if m.Content.SrcValue() != "u/a.m4a" || m.Content.Text != nil {
		t.Errorf("Content = %+v", m.Content)
	}
}

func TestChatIDUnmarshal(t *testing.T) {
	tests := []struct {
		raw     string
		want    ChatID
		wantErr bool
	}{
		{`"abc"`, "abc", false},
		{`7`, "7", false},
		{`null`, "", false},
		{`1.5`, "", true},
		{`{}`, "", true},
	}
	for _, tt := range tests {
		var id ChatID
		err := json.Unmarshal([]byte(tt.raw), &id)
		if (err != nil) != tt.wantErr {
			t.Errorf("Unmarshal(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && id != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.raw, id, tt.want)
		}
	}
}

func TestMessageContentAccessors(t *testing.T) {
	var empty MessageContent
	if empty.TextValue() != "" || empty.SrcValue() != "" {
		t.Error("empty content accessors should return empty strings")
	}
	c := TextContent("hi")
	if c.TextValue() != "hi" || c.Src != nil {
		t.Errorf("TextContent = %+v", c)
	}
	out, _ := json.Marshal(c)
	if string(out) != `{"text":"hi"}` {
		t.Errorf("marshal = %s, want {\"text\":\"hi\"}", out)
	}
}

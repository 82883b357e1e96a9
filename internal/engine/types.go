package engine

// Message is one turn of a conversation sent to a completion provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries the sampling options of a chat. Zero values
// leave the provider default in place.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	TopP        float64
	MaxTokens   int
}

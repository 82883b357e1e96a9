package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultGroqBaseURL            = "https://api.groq.com/openai/v1"
	DefaultGroqModel              = "llama-3.1-8b-instant"
	DefaultGroqTranscriptionModel = "whisper-large-v3"

	groqTimeout = 300 * time.Second
)

// GroqConfig configures the Groq client. Empty fields take the defaults.
type GroqConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	HTTPClient         *http.Client
}

// Groq talks to Groq's OpenAI-compatible API.
type Groq struct {
	client             *openai.Client
	transcriptionModel string
}

func NewGroq(cfg GroqConfig) *Groq {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = DefaultGroqBaseURL
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = &http.Client{Timeout: groqTimeout}
	}
	model := cfg.TranscriptionModel
	if model == "" {
		model = DefaultGroqTranscriptionModel
	}
	return &Groq{client: openai.NewClientWithConfig(oc), transcriptionModel: model}
}

func toOpenAI(req CompletionRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	model := req.Model
	if model == "" {
		model = DefaultGroqModel
	}
	// go-openai drops a zero temperature from the request body, which the
	// provider would read as its default of 1.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temperature,
		TopP:        float32(req.TopP),
		MaxTokens:   req.MaxTokens,
	}
}

func (g *Groq) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, toOpenAI(req))
	if err != nil {
		return "", fmt.Errorf("groq completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *Groq) Stream(ctx context.Context, req CompletionRequest, onDelta func(string) error) (string, error) {
	oreq := toOpenAI(req)
	oreq.Stream = true

	stream, err := g.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return "", fmt.Errorf("groq stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), fmt.Errorf("groq stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full.String(), err
			}
		}
	}
}

func (g *Groq) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if filename == "" {
		filename = "audio.m4a"
	}
	resp, err := g.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    g.transcriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("groq transcription: %w", err)
	}
	return resp.Text, nil
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chatfn/internal/ingest"
	"github.com/kalambet/chatfn/internal/retrieval"
	"github.com/kalambet/chatfn/internal/storage"
)

const (
	defaultMCPLimit = 5
	maxMCPLimit     = 50
)

// MCPRetriever abstracts chat-scoped semantic search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, chatID, query string, topK int) ([]retrieval.Passage, error)
}

// MCPMessages reads a chat's messages newest first.
type MCPMessages interface {
	RecentMessages(ctx context.Context, chatID storage.ChatID, limit int) ([]storage.Message, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Retriever MCPRetriever
	Messages  MCPMessages
	Jobs      ingest.Enqueuer // optional; if nil, vectorize_document is not registered
}

// NewMCPServer creates an MCP server exposing chat documents and history.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"chatfn",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("chatfn: search the documents attached to a chat and read its recent messages."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_chat_documents",
			mcp.WithDescription("Semantically search the documents uploaded to a chat and return the closest passages."),
			mcp.WithString("chat_id", mcp.Description("Chat whose documents are searched"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 5)")),
		),
		mcpSearchChatDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("chat_history",
			mcp.WithDescription("Return the most recent messages of a chat, oldest first."),
			mcp.WithString("chat_id", mcp.Description("Chat to read"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of messages (default 10)")),
		),
		mcpChatHistory(deps),
	)

	if deps.Jobs != nil {
		s.AddTool(
			mcp.NewTool("vectorize_document",
				mcp.WithDescription("Queue a stored txt or pdf document for indexing so its chat can search it."),
				mcp.WithString("bucket", mcp.Description("Storage bucket"), mcp.Required()),
				mcp.WithString("path", mcp.Description("Object path, {user}/chats/{chat}/{file}"), mcp.Required()),
			),
			mcpVectorizeDocument(deps),
		)
	}

	return s
}

func clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	return min(n, maxMCPLimit)
}

func mcpSearchChatDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		chatID, err := req.RequireString("chat_id")
		if err != nil || chatID == "" {
			return mcpError("chat_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", defaultMCPLimit), defaultMCPLimit)

		passages, err := deps.Retriever.Retrieve(ctx, chatID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(passages) == 0 {
			return mcpText("[]"), nil
		}

		type passageResult struct {
			ID       string  `json:"id"`
			ObjectID string  `json:"object_id"`
			Text     string  `json:"text"`
			Score    float32 `json:"score"`
		}
		results := make([]passageResult, len(passages))
		for i, p := range passages {
			results[i] = passageResult{ID: p.ID, ObjectID: p.ObjectID, Text: p.Text, Score: p.Score}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpChatHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		chatID, err := req.RequireString("chat_id")
		if err != nil || chatID == "" {
			return mcpError("chat_id is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", 10), 10)

		rows, err := deps.Messages.RecentMessages(ctx, storage.ChatID(chatID), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}

		type messageResult struct {
			ID        int64  `json:"id"`
			Author    string `json:"author"`
			Type      string `json:"message_type"`
			Text      string `json:"text,omitempty"`
			Src       string `json:"src,omitempty"`
			CreatedAt string `json:"created_at"`
		}
		results := make([]messageResult, 0, len(rows))
		for i := len(rows) - 1; i >= 0; i-- {
			m := rows[i]
			results = append(results, messageResult{
				ID:        m.ID,
				Author:    string(m.Author),
				Type:      string(m.Type),
				Text:      m.Content.TextValue(),
				Src:       m.Content.SrcValue(),
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			})
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal messages: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpVectorizeDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		bucket := req.GetString("bucket", "")
		path := req.GetString("path", "")
		if bucket == "" || path == "" {
			return mcpError("bucket and path are required"), nil
		}
		id, err := ingest.EnqueueVectorize(ctx, deps.Jobs, bucket, path)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued vectorize job %s", id)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

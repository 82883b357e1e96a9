package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatfn/internal/blob"
	"github.com/kalambet/chatfn/internal/config"
	"github.com/kalambet/chatfn/internal/ingest"
)

// --- vectorize ---

var vectorizeCmd = &cobra.Command{
	Use:   "vectorize <path>",
	Short: "Index a stored txt or pdf document for chat retrieval",
	Long: `Index a stored txt or pdf document for chat retrieval.

The document is chunked, embedded and scoped to the chat its path belongs to
({user}/chats/{chat}/...). With --queue the work is left to a running server.

Examples:
  chatfn vectorize 6f1c.../chats/42/handbook.pdf
  chatfn vectorize --bucket docs --queue 6f1c.../chats/42/notes.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, _ := cmd.Flags().GetString("bucket")
		queue, _ := cmd.Flags().GetBool("queue")
		path := args[0]

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if bucket == "" {
			bucket = a.cfg.Blob.Bucket
		}

		if queue {
			id, err := ingest.EnqueueVectorize(ctx, a.store, bucket, path)
			if err != nil {
				return err
			}
			printSuccess("Queued job %s", id)
			return nil
		}

		printStep("Vectorizing %s/%s...", bucket, path)
		n, err := a.worker.Vectorize(ctx, bucket, path)
		if err != nil {
			return err
		}
		printSuccess("Stored %d chunks for chat %s", n, orNone(blob.ChatIDFromPath(path)))
		return nil
	},
}

func init() {
	vectorizeCmd.Flags().String("bucket", "", "storage bucket (default: blob.bucket)")
	vectorizeCmd.Flags().Bool("queue", false, "enqueue a job instead of processing now")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// --- purge ---

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete stored uploads of a user or a chat",
}

var purgeUserCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "Delete every object a user uploaded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPurge(cmd, blob.UserPrefix(args[0]), "")
	},
}

var purgeChatCmd = &cobra.Command{
	Use:   "chat <user-id> <chat-id>",
	Short: "Delete the uploads and document vectors of a chat",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPurge(cmd, blob.ChatPrefix(args[0], args[1]), args[1])
	},
}

func runPurge(cmd *cobra.Command, prefix, chatID string) error {
	confirm, _ := cmd.Flags().GetBool("confirm")
	if !confirm {
		printWarning("This will delete everything under %q. Use --confirm to proceed.", prefix)
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	printStep("Deleting objects under %s...", prefix)
	n, err := a.walker.DeleteSubtree(ctx, prefix)
	if err != nil {
		return err
	}
	if chatID != "" {
		v, err := a.vectors.DeleteByChat(ctx, chatID)
		if err != nil {
			return fmt.Errorf("deleting vectors of chat %s: %w", chatID, err)
		}
		printStatus("Vectors", "%d removed", v)
	}
	printSuccess("Deleted %d objects", n)
	return nil
}

func init() {
	purgeCmd.PersistentFlags().Bool("confirm", false, "confirm deletion")
	purgeCmd.AddCommand(purgeUserCmd)
	purgeCmd.AddCommand(purgeChatCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a message to a chat on a running server",
	Long: `Send a message to a chat on a running server and print the reply.

Examples:
  CHATFN_TOKEN=... chatfn ask --chat 42 "What does the handbook say about leave?"
  chatfn ask --chat 42 --stream --model llama-3.3-70b-versatile "Summarize it"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, _ := cmd.Flags().GetString("chat")
		if chatID == "" {
			return fmt.Errorf("--chat is required")
		}
		model, _ := cmd.Flags().GetString("model")
		stream, _ := cmd.Flags().GetBool("stream")
		rag, _ := cmd.Flags().GetBool("rag")
		serverURL, _ := cmd.Flags().GetString("server")
		token, _ := cmd.Flags().GetString("token")

		client, err := newAPIClient(serverURL, token)
		if err != nil {
			return err
		}

		req := map[string]any{
			"api_version": "v1",
			"stream":      stream,
			"message": map[string]any{
				"chat_id":      chatID,
				"message_type": "text",
				"content":      map[string]string{"text": strings.Join(args, " ")},
			},
		}
		if model != "" {
			req["model"] = model
		}
		if cmd.Flags().Changed("rag") {
			req["chat_settings"] = map[string]any{"is_rag_enabled": rag}
		}

		return ask(cmd.Context(), client, req, stream, cmd.OutOrStdout())
	},
}

func ask(ctx context.Context, client *apiClient, req map[string]any, stream bool, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := client.post(ctx, "/ai", req)
	if err != nil {
		return err
	}

	if stream {
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}
		_, err := copyStream(resp.Body, w)
		fmt.Fprintln(w)
		return err
	}

	var result struct {
		Reply struct {
			ID      int64 `json:"id"`
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"reply"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, result.Reply.Content.Text)
	return err
}

func init() {
	askCmd.Flags().String("chat", "", "chat id")
	askCmd.Flags().String("model", "", "completion model (default: server's groq.default_model)")
	askCmd.Flags().Bool("stream", false, "stream the reply as it is generated")
	askCmd.Flags().Bool("rag", false, "override the chat's retrieval setting")
	askCmd.Flags().String("server", "", "server URL (default: $CHATFN_SERVER_URL or "+defaultServerURL+")")
	askCmd.Flags().String("token", "", "bearer token (default: $CHATFN_TOKEN)")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		client, err := newAPIClient(serverURL, "")
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var health map[string]string
		resp, err := client.get(ctx, "/health")
		if err != nil {
			printStatus("Server", "not reachable at %s", client.baseURL)
		} else if err := decodeJSON(resp, &health); err != nil {
			printStatus("Server", "error (%v)", err)
		} else {
			printStatus("Server", "%s at %s", health["status"], client.baseURL)
		}

		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}
		printStatus("Blob backend", "%s (bucket %s)", cfg.Blob.Backend, cfg.Blob.Bucket)
		printStatus("Completion model", "%s", cfg.Groq.DefaultModel)
		printStatus("Embed model", "%s", cfg.Gemini.EmbedModel)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("server", "", "server URL (default: $CHATFN_SERVER_URL or "+defaultServerURL+")")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file. Secrets are read from the\n" +
		"environment only and cannot be set here.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

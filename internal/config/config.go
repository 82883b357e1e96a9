package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Blob      BlobConfig
	Auth      AuthConfig
	Groq      GroqConfig
	Gemini    GeminiConfig
	Chat      ChatConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

// BlobConfig selects the object store holding user uploads. Backend is
// "supabase" (Storage REST API) or "bolt" (local file, for development).
type BlobConfig struct {
	Backend    string
	URL        string
	ServiceKey string
	Bucket     string
	BoltPath   string
}

type AuthConfig struct {
	JWTSecret string
}

type GroqConfig struct {
	APIKey             string
	BaseURL            string
	DefaultModel       string
	TranscriptionModel string
}

type GeminiConfig struct {
	APIKey     string
	EmbedModel string
}

type ChatConfig struct {
	HistoryLimit int
}

type RetrievalConfig struct {
	TopK int
}

type IngestConfig struct {
	Enabled      bool
	ChunkSize    int
	ChunkOverlap int
	PollInterval string
}

const (
	BlobBackendSupabase = "supabase"
	BlobBackendBolt     = "bolt"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			MaxConnections: 256,
		},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Blob: BlobConfig{
			Backend: BlobBackendSupabase,
			Bucket:  "storage",
		},
		Groq: GroqConfig{
			BaseURL:            "https://api.groq.com/openai/v1",
			DefaultModel:       "llama-3.1-8b-instant",
			TranscriptionModel: "whisper-large-v3",
		},
		Gemini:    GeminiConfig{EmbedModel: "gemini-embedding-001"},
		Chat:      ChatConfig{HistoryLimit: 10},
		Retrieval: RetrievalConfig{TopK: 5},
		Ingest: IngestConfig{
			Enabled:      true,
			ChunkSize:    1000,
			ChunkOverlap: 200,
			PollInterval: "500ms",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/chatfn/config.json, then a .env file in the working
// directory, then CHATFN_* environment variables. Later sources win, and
// secrets are only ever read from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	require := func(val, key string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, envFor(key))
		}
	}
	require(c.Auth.JWTSecret, "auth.jwt_secret")
	require(c.Groq.APIKey, "groq.api_key")
	require(c.Gemini.APIKey, "gemini.api_key")

	switch c.Blob.Backend {
	case BlobBackendSupabase:
		require(c.Blob.URL, "blob.url")
		require(c.Blob.ServiceKey, "blob.service_key")
	case BlobBackendBolt:
	default:
		return fmt.Errorf("invalid blob.backend %q: want %q or %q", c.Blob.Backend, BlobBackendSupabase, BlobBackendBolt)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: set %s", strings.Join(missing, ", "))
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if _, err := time.ParseDuration(c.Ingest.PollInterval); err != nil {
		return fmt.Errorf("invalid ingest.poll_interval: %w", err)
	}
	return nil
}

// PollEvery returns the parsed worker poll interval.
func (c IngestConfig) PollEvery() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// BoltFile returns the local blob database path, defaulting into the data
// directory.
func (c Config) BoltFile() string {
	if c.Blob.BoltPath != "" {
		return c.Blob.BoltPath
	}
	return filepath.Join(c.Storage.DataDir, "blobs.db")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "chatfn-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "chatfn")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "chatfn", "config.json")
}

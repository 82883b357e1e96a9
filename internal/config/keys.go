package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// env returns the environment variable overriding the key:
// "groq.api_key" -> "CHATFN_GROQ_API_KEY".
func (s keySpec) env() string {
	return envFor(s.key)
}

func envFor(key string) string {
	return "CHATFN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func stringKey(key string, secret bool, set func(*Config, string), get func(Config) string) keySpec {
	return keySpec{
		key: key, typ: kString, secret: secret,
		apply:   func(cfg *Config, v any) { set(cfg, v.(string)) },
		extract: func(cfg Config) any { return get(cfg) },
	}
}

func intKey(key string, set func(*Config, int), get func(Config) int) keySpec {
	return keySpec{
		key: key, typ: kInt,
		apply:   func(cfg *Config, v any) { set(cfg, v.(int)) },
		extract: func(cfg Config) any { return get(cfg) },
	}
}

var specs = []keySpec{
	intKey("server.port",
		func(c *Config, v int) { c.Server.Port = v }, func(c Config) int { return c.Server.Port }),
	intKey("server.max_connections",
		func(c *Config, v int) { c.Server.MaxConnections = v }, func(c Config) int { return c.Server.MaxConnections }),
	stringKey("log.level", false,
		func(c *Config, v string) { c.Log.Level = v }, func(c Config) string { return c.Log.Level }),
	stringKey("storage.data_dir", false,
		func(c *Config, v string) { c.Storage.DataDir = v }, func(c Config) string { return c.Storage.DataDir }),
	stringKey("blob.backend", false,
		func(c *Config, v string) { c.Blob.Backend = v }, func(c Config) string { return c.Blob.Backend }),
	stringKey("blob.url", false,
		func(c *Config, v string) { c.Blob.URL = v }, func(c Config) string { return c.Blob.URL }),
	stringKey("blob.service_key", true,
		func(c *Config, v string) { c.Blob.ServiceKey = v }, func(c Config) string { return c.Blob.ServiceKey }),
	stringKey("blob.bucket", false,
		func(c *Config, v string) { c.Blob.Bucket = v }, func(c Config) string { return c.Blob.Bucket }),
	stringKey("blob.bolt_path", false,
		func(c *Config, v string) { c.Blob.BoltPath = v }, func(c Config) string { return c.Blob.BoltPath }),
	stringKey("auth.jwt_secret", true,
		func(c *Config, v string) { c.Auth.JWTSecret = v }, func(c Config) string { return c.Auth.JWTSecret }),
	stringKey("groq.api_key", true,
		func(c *Config, v string) { c.Groq.APIKey = v }, func(c Config) string { return c.Groq.APIKey }),
	stringKey("groq.base_url", false,
		func(c *Config, v string) { c.Groq.BaseURL = v }, func(c Config) string { return c.Groq.BaseURL }),
	stringKey("groq.default_model", false,
		func(c *Config, v string) { c.Groq.DefaultModel = v }, func(c Config) string { return c.Groq.DefaultModel }),
	stringKey("groq.transcription_model", false,
		func(c *Config, v string) { c.Groq.TranscriptionModel = v }, func(c Config) string { return c.Groq.TranscriptionModel }),
	stringKey("gemini.api_key", true,
		func(c *Config, v string) { c.Gemini.APIKey = v }, func(c Config) string { return c.Gemini.APIKey }),
	stringKey("gemini.embed_model", false,
		func(c *Config, v string) { c.Gemini.EmbedModel = v }, func(c Config) string { return c.Gemini.EmbedModel }),
	intKey("chat.history_limit",
		func(c *Config, v int) { c.Chat.HistoryLimit = v }, func(c Config) int { return c.Chat.HistoryLimit }),
	intKey("retrieval.top_k",
		func(c *Config, v int) { c.Retrieval.TopK = v }, func(c Config) int { return c.Retrieval.TopK }),
	{
		key:     "ingest.enabled",
		typ:     kBool,
		apply:   func(c *Config, v any) { c.Ingest.Enabled = v.(bool) },
		extract: func(c Config) any { return c.Ingest.Enabled },
	},
	intKey("ingest.chunk_size",
		func(c *Config, v int) { c.Ingest.ChunkSize = v }, func(c Config) int { return c.Ingest.ChunkSize }),
	intKey("ingest.chunk_overlap",
		func(c *Config, v int) { c.Ingest.ChunkOverlap = v }, func(c Config) int { return c.Ingest.ChunkOverlap }),
	stringKey("ingest.poll_interval", false,
		func(c *Config, v string) { c.Ingest.PollInterval = v }, func(c Config) string { return c.Ingest.PollInterval }),
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			bv, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			s.apply(cfg, bv)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env())
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("ignoring non-integer env override", "var", s.env(), "value", raw, "error", err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				slog.Warn("ignoring non-boolean env override", "var", s.env(), "value", raw, "error", err)
			}
		}
	}
}

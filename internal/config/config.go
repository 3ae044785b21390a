package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ragqa/internal/chunker"
	"ragqa/internal/domain"
	"ragqa/internal/vectorstore"
)

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr                string          `yaml:"addr"`
	CORSOrigins         []string        `yaml:"cors_origins"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	ShutdownTimeoutSecs int             `yaml:"shutdown_timeout_secs"`
}

// RateLimitConfig is a token bucket. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RetrievalConfig holds query defaults.
type RetrievalConfig struct {
	Limit               int      `yaml:"limit"`
	SimilarityThreshold *float64 `yaml:"similarity_threshold,omitempty"`
}

// ContextConfig bounds the assembled prompt context. Zero means unbounded.
type ContextConfig struct {
	MaxChars int `yaml:"max_chars"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// APIKey reads the key from the configured environment variable.
func (c OpenAIEmbedderConfig) APIKey() string { return os.Getenv(c.APIKeyEnv) }

// EmbedderConfig selects and configures the text embedder used by self-hosted stores.
type EmbedderConfig struct {
	Type      string               `yaml:"type"`
	Dimension int                  `yaml:"dimension"`
	CacheSize int                  `yaml:"cache_size"`
	OpenAI    OpenAIEmbedderConfig `yaml:"openai"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key,omitempty"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// SQLiteConfig locates the embedded database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// HNSWConfig tunes the in-process graph index. An empty Path keeps it in memory.
type HNSWConfig struct {
	Path     string `yaml:"path"`
	M        int    `yaml:"m"`
	EfSearch int    `yaml:"ef_search"`
}

// AstraConfig points at an Astra DB Data API endpoint.
type AstraConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Token       string `yaml:"token,omitempty"`
	Keyspace    string `yaml:"keyspace"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type            string       `yaml:"type"`
	DuplicatePolicy string       `yaml:"duplicate_policy"`
	Qdrant          QdrantConfig `yaml:"qdrant"`
	SQLite          SQLiteConfig `yaml:"sqlite"`
	HNSW            HNSWConfig   `yaml:"hnsw"`
	Astra           AstraConfig  `yaml:"astra"`
}

// LLMConfig selects the chat model used for answer synthesis.
type LLMConfig struct {
	Type        string `yaml:"type"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxTokens   int    `yaml:"max_tokens"`
}

// APIKey reads the key from the configured environment variable.
func (c LLMConfig) APIKey() string { return os.Getenv(c.APIKeyEnv) }

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// IngestConfig controls file ingestion.
type IngestConfig struct {
	Concurrency int      `yaml:"concurrency"`
	Extensions  []string `yaml:"extensions"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Chunker     chunker.Options   `yaml:"chunker"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Context     ContextConfig     `yaml:"context"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         LLMConfig         `yaml:"llm"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Values missing from the file keep their defaults; environment overrides are applied last.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, Default()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Resolve loads path when given, otherwise falls back to LoadDefault.
func Resolve(path string) (*AppConfig, string, error) {
	if path == "" {
		return LoadDefault()
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragqa", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:                ":4000",
			CORSOrigins:         []string{"*"},
			RateLimit:           RateLimitConfig{RPS: 20, Burst: 40},
			ShutdownTimeoutSecs: 10,
		},
		Chunker:   chunker.DefaultOptions(),
		Retrieval: RetrievalConfig{Limit: 3},
		Embedder: EmbedderConfig{
			Type:      "hash",
			Dimension: 256,
			CacheSize: 1000,
			OpenAI: OpenAIEmbedderConfig{
				BaseURL:     "https://api.openai.com/v1",
				APIKeyEnv:   "OPENAI_API_KEY",
				Model:       "text-embedding-3-small",
				TimeoutSecs: 30,
				MaxRetries:  3,
			},
		},
		VectorStore: VectorStoreConfig{
			Type:            "memory",
			DuplicatePolicy: string(vectorstore.PolicyOverwrite),
			Qdrant:          QdrantConfig{URL: "http://localhost:6333", Collection: "chunks", TimeoutSecs: 15},
			SQLite:          SQLiteConfig{Path: filepath.Join(".ragqa", "chunks.db")},
			HNSW:            HNSWConfig{M: 16, EfSearch: 20},
			Astra:           AstraConfig{Keyspace: "default_keyspace", Collection: "chunks", TimeoutSecs: 30},
		},
		LLM: LLMConfig{
			Type:        "openai",
			BaseURL:     "https://api.openai.com/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "gpt-4o-mini",
			TimeoutSecs: 60,
			MaxTokens:   512,
		},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 3},
		Ingest:     IngestConfig{Concurrency: 4, Extensions: []string{".txt", ".md"}},
		Logging:    LoggingConfig{Level: "info"},
	}
}

func applyEnv(cfg *AppConfig) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if v := os.Getenv("ASTRA_DB_API_ENDPOINT"); v != "" {
		cfg.VectorStore.Astra.Endpoint = v
	}
	if v := os.Getenv("ASTRA_DB_APPLICATION_TOKEN"); v != "" {
		cfg.VectorStore.Astra.Token = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.VectorStore.Qdrant.APIKey = v
	}
	if v := os.Getenv("RAG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate rejects configurations the pipeline cannot run with. Every failure
// matches domain.ErrInvalidConfiguration.
func (c *AppConfig) Validate() error {
	if err := c.Chunker.Validate(); err != nil {
		return err
	}
	var problems []string
	if c.Retrieval.Limit < 0 {
		problems = append(problems, fmt.Sprintf("retrieval.limit must not be negative, got %d", c.Retrieval.Limit))
	}
	if t := c.Retrieval.SimilarityThreshold; t != nil && (*t < 0 || *t > 1) {
		problems = append(problems, fmt.Sprintf("retrieval.similarity_threshold %v outside [0,1]", *t))
	}
	if c.Context.MaxChars < 0 {
		problems = append(problems, "context.max_chars must not be negative")
	}
	if !oneOf(c.Embedder.Type, "hash", "openai") {
		problems = append(problems, fmt.Sprintf("unknown embedder.type %q", c.Embedder.Type))
	}
	if !oneOf(c.VectorStore.Type, "memory", "hnsw", "sqlite", "qdrant", "astra") {
		problems = append(problems, fmt.Sprintf("unknown vector_store.type %q", c.VectorStore.Type))
	}
	if _, err := vectorstore.ParseDuplicatePolicy(c.VectorStore.DuplicatePolicy); err != nil {
		problems = append(problems, err.Error())
	}
	if !oneOf(c.LLM.Type, "openai", "ollama") {
		problems = append(problems, fmt.Sprintf("unknown llm.type %q", c.LLM.Type))
	}
	if !oneOf(c.Summarizer.Type, "frequency", "none") {
		problems = append(problems, fmt.Sprintf("unknown summarizer.type %q", c.Summarizer.Type))
	}
	if c.Ingest.Concurrency < 0 {
		problems = append(problems, "ingest.concurrency must not be negative")
	}
	if len(problems) > 0 {
		return domain.NewError(domain.StageConfiguration, domain.ErrInvalidConfiguration, strings.Join(problems, "; "), nil)
	}
	return nil
}

// ShutdownTimeout returns the configured drain period.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// Secs converts a seconds setting to a duration.
func Secs(n int) time.Duration { return time.Duration(n) * time.Second }

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

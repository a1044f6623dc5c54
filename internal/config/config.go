// Package config provides configuration loading and structs for the Tanya server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Vector     VectorConfig     `yaml:"vector"`
	Generation GenerationConfig `yaml:"generation"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Context    ContextConfig    `yaml:"context"`
	Session    SessionConfig    `yaml:"session"`
	Retry      RetryConfig      `yaml:"retry"`
	Watch      WatchConfig      `yaml:"watch"`
	Tokenizer  TokenizerConfig  `yaml:"tokenizer"`
}

// WatchConfig holds directory watch settings. Files found in these directories are
// ingested at startup and whenever they change.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// StorageConfig holds paths for the document registry, the keyword index and the
// in-process vector index snapshot.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of openai, gemini, onnx or hash.
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CacheSize         int           `yaml:"cache_size"`
	ModelPath         string        `yaml:"model_path"`
	MaxTokens         int           `yaml:"max_tokens"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	// Backend is one of memory, qdrant or pgvector.
	Backend    string        `yaml:"backend"`
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	DSN        string        `yaml:"dsn"`
	UpsertSize int           `yaml:"upsert_batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// GenerationConfig selects and tunes the generation provider.
type GenerationConfig struct {
	// Provider is one of openai, gemini or extractive.
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Temperature       float32       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	SystemPrompt      string        `yaml:"system_prompt"`
}

// IngestConfig holds chunking settings.
type IngestConfig struct {
	ChunkTokens  int `yaml:"chunk_tokens"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig holds query-time retrieval settings.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	OverFetch     int     `yaml:"over_fetch"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

// ContextConfig holds prompt assembly settings.
type ContextConfig struct {
	TokenBudget  int     `yaml:"token_budget"`
	PassageShare float64 `yaml:"passage_share"`
}

// SessionConfig holds conversation lifecycle settings.
type SessionConfig struct {
	// Store is memory or sqlite.
	Store            string        `yaml:"store"`
	TTL              time.Duration `yaml:"ttl"`
	MaxTurns         int           `yaml:"max_turns"`
	MaxHistoryTokens int           `yaml:"max_history_tokens"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// RetryConfig is the backoff policy shared by all remote calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// TokenizerConfig names the token encoding used for budgets and chunk sizes.
type TokenizerConfig struct {
	Encoding string `yaml:"encoding"`
}

// Load reads and parses the config file at path, applies environment overrides,
// fills defaults and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	return &cfg, nil
}

// Save writes the config to path. Secrets loaded from the environment are not written.
func Save(path string, cfg *Config) error {
	out := *cfg
	out.Embedding.APIKey = ""
	out.Generation.APIKey = ""
	out.Vector.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkTokens {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_tokens (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkTokens)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.min_similarity must be within [0, 1], got %f", c.Retrieval.MinSimilarity)
	}
	if c.Context.PassageShare <= 0 || c.Context.PassageShare > 1 {
		return fmt.Errorf("context.passage_share must be within (0, 1], got %f", c.Context.PassageShare)
	}
	if window := c.AnswerWindow(); c.Server.RequestTimeout > 0 && c.Server.RequestTimeout <= window {
		return fmt.Errorf("server.request_timeout (%s) must exceed the worst-case answer time of %s (retry.max_attempts x embedding, vector and generation timeouts, plus backoff)", c.Server.RequestTimeout, window)
	}
	switch c.Vector.Backend {
	case "memory", "qdrant", "pgvector":
	default:
		return fmt.Errorf("unknown vector backend %q (supported: memory, qdrant, pgvector)", c.Vector.Backend)
	}
	switch c.Session.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown session store %q (supported: memory, sqlite)", c.Session.Store)
	}
	return nil
}

// AnswerWindow is the longest a chat request can take when every remote call uses all
// its attempts: the query embedding, the vector search and the generation, each with
// attempts x timeout plus MaxDelay between attempts.
func (c *Config) AnswerWindow() time.Duration {
	attempts := c.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var total time.Duration
	for _, t := range []time.Duration{c.Embedding.Timeout, c.Vector.Timeout, c.Generation.Timeout} {
		total += time.Duration(attempts)*t + time.Duration(attempts-1)*c.Retry.MaxDelay
	}
	return total
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

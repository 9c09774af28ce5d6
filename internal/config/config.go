// Package config loads the mailindex configuration from a TOML file and
// applies defaults and validation. The file lives at ~/.mailindex/config.toml
// unless an explicit path is given.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Embedding provider names accepted in config. An empty provider runs the
// index lexical-only.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderNone   = ""
)

// Config is the full mailindex configuration.
type Config struct {
	// Namespace is the default isolation key applied to queries when the
	// caller does not pass one explicitly.
	Namespace string `toml:"namespace"`

	Chunking  ChunkingConfig  `toml:"chunking"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Storage   StorageConfig   `toml:"storage"`
}

// ChunkingConfig tunes the token-window chunker.
type ChunkingConfig struct {
	TargetTokens    int     `toml:"target_tokens"`
	OverlapFraction float64 `toml:"overlap_fraction"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai", "ollama", or "" for lexical-only operation.
	Provider string `toml:"provider"`
	Model    string `toml:"model"`

	// BaseURL overrides the provider endpoint (required for self-hosted
	// OpenAI-compatible servers, optional for Ollama).
	BaseURL string `toml:"base_url"`

	// APIKey authenticates against the provider. For OpenAI the
	// OPENAI_API_KEY environment variable is used when this is empty.
	APIKey string `toml:"api_key"`

	BatchSize   int     `toml:"batch_size"`
	TokenBudget int     `toml:"token_budget"`
	MaxRetries  int     `toml:"max_retries"`
	TimeoutMs   int     `toml:"timeout_ms"`
	Concurrency int     `toml:"concurrency"`
	RatePerSec  float64 `toml:"rate_per_sec"`
}

// Timeout returns the provider request timeout as a duration.
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// ResolveAPIKey returns the configured key, falling back to the provider's
// conventional environment variable.
func (e EmbeddingConfig) ResolveAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if e.Provider == ProviderOpenAI {
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// RetrievalConfig tunes hybrid retrieval and rank fusion.
type RetrievalConfig struct {
	DefaultK      int     `toml:"default_k"`
	DenseTopN     int     `toml:"dense_top_n"`
	LexicalTopN   int     `toml:"lexical_top_n"`
	Fusion        string  `toml:"fusion"`
	RRFK          int     `toml:"rrf_k"`
	DenseWeight   float64 `toml:"dense_weight"`
	LexicalWeight float64 `toml:"lexical_weight"`
}

// StorageConfig locates the on-disk index.
type StorageConfig struct {
	// DataDir holds the SQLite index. Empty means ~/.mailindex/data.
	DataDir string `toml:"data_dir"`
}

// Default returns a configuration with every field at its documented default.
func Default() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			TargetTokens:    1000,
			OverlapFraction: 0.10,
		},
		Embedding: EmbeddingConfig{
			Provider:    ProviderNone,
			BatchSize:   16,
			TokenBudget: 8000,
			MaxRetries:  3,
			TimeoutMs:   30000,
			Concurrency: 4,
			RatePerSec:  5,
		},
		Retrieval: RetrievalConfig{
			DefaultK:      6,
			DenseTopN:     20,
			LexicalTopN:   20,
			Fusion:        "rrf",
			RRFK:          60,
			DenseWeight:   0.7,
			LexicalWeight: 0.3,
		},
	}
}

// DefaultPath returns ~/.mailindex/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mailindex", "config.toml"), nil
}

// Load reads the configuration at path, layering the file's values over the
// defaults. If path is empty the default location is used. A missing file is
// not an error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations. It does not require a namespace:
// commands that need one enforce that themselves.
func (c *Config) Validate() error {
	if c.Chunking.TargetTokens <= 0 {
		return fmt.Errorf("chunking.target_tokens must be positive, got %d", c.Chunking.TargetTokens)
	}
	if c.Chunking.OverlapFraction < 0 || c.Chunking.OverlapFraction >= 1 {
		return fmt.Errorf("chunking.overlap_fraction must be in [0,1), got %g", c.Chunking.OverlapFraction)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderNone:
	default:
		return fmt.Errorf("embedding.provider must be %q, %q, or empty, got %q",
			ProviderOpenAI, ProviderOllama, c.Embedding.Provider)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.TokenBudget <= 0 {
		return fmt.Errorf("embedding.token_budget must be positive, got %d", c.Embedding.TokenBudget)
	}
	if c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("embedding.max_retries must not be negative, got %d", c.Embedding.MaxRetries)
	}
	if c.Embedding.Concurrency <= 0 {
		return fmt.Errorf("embedding.concurrency must be positive, got %d", c.Embedding.Concurrency)
	}

	if c.Retrieval.DefaultK <= 0 {
		return fmt.Errorf("retrieval.default_k must be positive, got %d", c.Retrieval.DefaultK)
	}
	switch c.Retrieval.Fusion {
	case "rrf", "weighted":
	default:
		return fmt.Errorf("retrieval.fusion must be \"rrf\" or \"weighted\", got %q", c.Retrieval.Fusion)
	}
	if c.Retrieval.RRFK <= 0 {
		return fmt.Errorf("retrieval.rrf_k must be positive, got %d", c.Retrieval.RRFK)
	}
	if c.Retrieval.DenseWeight < 0 || c.Retrieval.LexicalWeight < 0 {
		return fmt.Errorf("retrieval weights must not be negative")
	}
	return nil
}

// Save writes the configuration to path with restricted permissions,
// creating the parent directory if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

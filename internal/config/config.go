package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main umem configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Chunking
	Chunking ChunkingConfig `json:"chunking" mapstructure:"chunking"`

	// Embedding provider
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Vector index backend
	Index IndexConfig `json:"index" mapstructure:"index"`

	// Retrieval defaults
	Retrieval RetrievalConfig `json:"retrieval" mapstructure:"retrieval"`

	// Summarization
	Summarize SummarizeConfig `json:"summarize" mapstructure:"summarize"`

	// Ingestion sources
	Ingest IngestConfig `json:"ingest" mapstructure:"ingest"`

	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Reconciliation sweep
	Sweep SweepConfig `json:"sweep" mapstructure:"sweep"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// ChunkingConfig controls how documents are split
type ChunkingConfig struct {
	MaxSize int `json:"max_size" mapstructure:"max_size"` // runes
	Overlap int `json:"overlap" mapstructure:"overlap"`   // runes
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider     string      `json:"provider" mapstructure:"provider"` // cloudflare, openai, mock
	Model        string      `json:"model" mapstructure:"model"`
	APIKey       string      `json:"api_key" mapstructure:"api_key"`
	AccountID    string      `json:"account_id" mapstructure:"account_id"` // cloudflare only
	MaxBatchSize int         `json:"max_batch_size" mapstructure:"max_batch_size"`
	Retry        RetryConfig `json:"retry" mapstructure:"retry"`
}

// RetryConfig holds backoff settings for remote calls
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMS int `json:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMS  int `json:"max_delay_ms" mapstructure:"max_delay_ms"`
}

// IndexConfig holds vector index configuration
type IndexConfig struct {
	Backend   string       `json:"backend" mapstructure:"backend"` // sqlite, qdrant
	Dimension int          `json:"dimension" mapstructure:"dimension"`
	Qdrant    QdrantConfig `json:"qdrant" mapstructure:"qdrant"`
}

// QdrantConfig holds qdrant connection settings
type QdrantConfig struct {
	URL        string `json:"url" mapstructure:"url"`
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	Collection string `json:"collection" mapstructure:"collection"`
}

// RetrievalConfig holds retrieval defaults
type RetrievalConfig struct {
	TopK   int `json:"top_k" mapstructure:"top_k"`
	Window int `json:"window" mapstructure:"window"`
}

// SummarizeConfig holds summarizer configuration
type SummarizeConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // anthropic, cloudflare, off
	Model     string `json:"model" mapstructure:"model"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	AccountID string `json:"account_id" mapstructure:"account_id"`
	MaxTokens int    `json:"max_tokens" mapstructure:"max_tokens"`
}

// IngestConfig holds ingestion source configuration
type IngestConfig struct {
	WatchDirs []string `json:"watch_dirs" mapstructure:"watch_dirs"`
	TenantID  string   `json:"tenant_id" mapstructure:"tenant_id"` // tenant for watched files
	DebounceMS int     `json:"debounce_ms" mapstructure:"debounce_ms"`
}

// ServerConfig holds MCP/metrics server configuration
type ServerConfig struct {
	Host        string `json:"host" mapstructure:"host"`
	Port        int    `json:"port" mapstructure:"port"`
	MetricsPort int    `json:"metrics_port" mapstructure:"metrics_port"`
	Transport   string `json:"transport" mapstructure:"transport"` // stdio, http
}

// SweepConfig holds reconciliation sweep configuration
type SweepConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron spec
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Chunking: ChunkingConfig{
			MaxSize: 1200,
			Overlap: 200,
		},
		Embedding: EmbeddingConfig{
			Provider:     "cloudflare",
			Model:        "@cf/baai/bge-m3",
			MaxBatchSize: 64,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelayMS: 1000,
				MaxDelayMS:  30000,
			},
		},
		Index: IndexConfig{
			Backend:   "sqlite",
			Dimension: 1024,
			Qdrant: QdrantConfig{
				URL:        "http://localhost:6333",
				Collection: "umem",
			},
		},
		Retrieval: RetrievalConfig{
			TopK:   8,
			Window: 1,
		},
		Summarize: SummarizeConfig{
			Provider:  "off",
			Model:     "claude-3-5-haiku-latest",
			MaxTokens: 1024,
		},
		Ingest: IngestConfig{
			TenantID:   "default",
			DebounceMS: 500,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			MetricsPort: 9090,
			Transport:   "stdio",
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "@every 5m",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Chunking.MaxSize <= 0 {
		return fmt.Errorf("chunking max_size must be positive, got %d", c.Chunking.MaxSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxSize {
		return fmt.Errorf("chunking overlap must be in [0, max_size), got %d", c.Chunking.Overlap)
	}

	switch c.Embedding.Provider {
	case "cloudflare":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding api_key is required for the cloudflare provider")
		}
		if c.Embedding.AccountID == "" {
			return fmt.Errorf("embedding account_id is required for the cloudflare provider")
		}
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding api_key is required for the openai provider")
		}
	case "mock":
	default:
		return fmt.Errorf("invalid embedding provider %s (must be: cloudflare, openai, mock)", c.Embedding.Provider)
	}

	if c.Embedding.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("embedding retry max_attempts must be positive, got %d", c.Embedding.Retry.MaxAttempts)
	}

	switch c.Index.Backend {
	case "sqlite":
	case "qdrant":
		if c.Index.Qdrant.URL == "" {
			return fmt.Errorf("qdrant url is required for the qdrant backend")
		}
		if c.Index.Qdrant.Collection == "" {
			return fmt.Errorf("qdrant collection is required for the qdrant backend")
		}
	default:
		return fmt.Errorf("invalid index backend %s (must be: sqlite, qdrant)", c.Index.Backend)
	}
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index dimension must be positive, got %d", c.Index.Dimension)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}

	switch c.Summarize.Provider {
	case "off":
	case "anthropic":
		if c.Summarize.APIKey == "" {
			return fmt.Errorf("summarize api_key is required for the anthropic provider")
		}
	case "cloudflare":
		if c.Summarize.APIKey == "" || c.Summarize.AccountID == "" {
			return fmt.Errorf("summarize api_key and account_id are required for the cloudflare provider")
		}
	default:
		return fmt.Errorf("invalid summarize provider %s (must be: anthropic, cloudflare, off)", c.Summarize.Provider)
	}

	if len(c.Ingest.WatchDirs) > 0 && c.Ingest.TenantID == "" {
		return fmt.Errorf("ingest tenant_id is required when watch_dirs are configured")
	}

	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid server transport %s (must be: stdio, http)", c.Server.Transport)
	}

	return nil
}

// Package config provides configuration loading for icmemd.
//
// Configuration comes from a YAML file overridden by environment variables,
// with hardcoded defaults underneath.
package config

import (
	"fmt"
)

// Config holds the complete icmemd configuration.
type Config struct {
	Index      IndexConfig      `koanf:"index"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Reasoning  ReasoningConfig  `koanf:"reasoning"`
	Ingestion  IngestionConfig  `koanf:"ingestion"`
	Polling    PollingConfig    `koanf:"polling"`
	Events     EventsConfig     `koanf:"events"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// IndexConfig holds vector index storage settings.
type IndexConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	VectorSize int    `koanf:"vector_size"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
}

// ReasoningConfig selects and tunes the text reasoning backend.
type ReasoningConfig struct {
	Provider          string  `koanf:"provider"`
	Model             string  `koanf:"model"`
	Token             string  `koanf:"token"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	MaxRetries        int     `koanf:"max_retries"`
}

// IngestionConfig tunes document ingestion.
type IngestionConfig struct {
	MaxWorkers int `koanf:"max_workers"`
	BatchSize  int `koanf:"batch_size"`
}

// PollingConfig locates the conviction poll store.
type PollingConfig struct {
	StorePath string `koanf:"store_path"`
}

// EventsConfig configures optional event publishing. An empty NATS URL
// disables it.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Index.Path == "" {
		c.Index.Path = "~/.local/share/icmemd/index"
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "fastembed"
	}
	if c.Reasoning.Provider == "" {
		c.Reasoning.Provider = "anthropic"
	}
	if c.Reasoning.RequestsPerSecond == 0 {
		c.Reasoning.RequestsPerSecond = 2
	}
	if c.Reasoning.MaxRetries == 0 {
		c.Reasoning.MaxRetries = 3
	}
	if c.Ingestion.MaxWorkers == 0 {
		c.Ingestion.MaxWorkers = 4
	}
	if c.Ingestion.BatchSize == 0 {
		c.Ingestion.BatchSize = 32
	}
	if c.Polling.StorePath == "" {
		c.Polling.StorePath = "~/.local/share/icmemd/polls.json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "fastembed":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	switch c.Reasoning.Provider {
	case "anthropic", "openai", "none":
	default:
		return fmt.Errorf("unknown reasoning provider %q", c.Reasoning.Provider)
	}
	if c.Reasoning.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.Ingestion.MaxWorkers < 1 {
		return fmt.Errorf("ingestion max workers must be positive")
	}
	if c.Ingestion.BatchSize < 1 {
		return fmt.Errorf("ingestion batch size must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

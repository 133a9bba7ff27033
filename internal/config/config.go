// Package config provides configuration loading for dialogd.
//
// Values are layered: embedded defaults, then an optional YAML file, then
// DIALOGD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supported provider and backend names.
const (
	ExtractionPassthrough = "passthrough"
	ExtractionHeuristic   = "heuristic"
	ExtractionOpenAI      = "openai"

	BackendMemory  = "memory"
	BackendChromem = "chromem"
	BackendSQLite  = "sqlite"

	EmbeddingsHash   = "hash"
	EmbeddingsOpenAI = "openai"

	ScrubRegexp   = "regexp"
	ScrubGitleaks = "gitleaks"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete dialogd configuration.
type Config struct {
	Session    SessionConfig    `koanf:"session"`
	Indexing   IndexingConfig   `koanf:"indexing"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Index      IndexConfig      `koanf:"index"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// SessionConfig describes the conversation being recorded.
type SessionConfig struct {
	SystemPrompt string `koanf:"system_prompt"`
	// ID tags index records. Generated when empty.
	ID string `koanf:"id"`
}

// IndexingConfig controls the background index writer.
type IndexingConfig struct {
	Retry RetryConfig `koanf:"retry"`
}

// RetryConfig bounds index write retries.
type RetryConfig struct {
	MaxAttempts  int      `koanf:"max_attempts"`
	InitialDelay Duration `koanf:"initial_delay"`
	MaxDelay     Duration `koanf:"max_delay"`
}

// ExtractionConfig selects and configures the user message extractor.
type ExtractionConfig struct {
	Provider  string          `koanf:"provider"`
	RateLimit float64         `koanf:"rate_limit"` // requests per second
	Burst     int             `koanf:"burst"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Heuristic HeuristicConfig `koanf:"heuristic"`
}

// OpenAIConfig configures the chat completion extractor.
type OpenAIConfig struct {
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	BaseURL    string   `koanf:"base_url"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
}

// HeuristicConfig configures the offline ASR clean-up extractor.
type HeuristicConfig struct {
	FillerWords []string `koanf:"filler_words"`
}

// IndexConfig selects the index backend.
type IndexConfig struct {
	Backend      string        `koanf:"backend"`
	ScrubSecrets bool          `koanf:"scrub_secrets"`
	ScrubEngine  string        `koanf:"scrub_engine"` // regexp or gitleaks
	Chromem      ChromemConfig `koanf:"chromem"`
	SQLite       SQLiteConfig  `koanf:"sqlite"`
}

// ChromemConfig configures the embedded vector index.
type ChromemConfig struct {
	// Path of the persistent database. Empty keeps the index in memory.
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// SQLiteConfig configures the full-text index.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// EmbeddingsConfig configures the embedder used by vector backends.
type EmbeddingsConfig struct {
	Provider   string `koanf:"provider"`
	BaseURL    string `koanf:"base_url"`
	Model      string `koanf:"model"`
	APIKey     Secret `koanf:"api_key"`
	Dimensions int    `koanf:"dimensions"`
}

// ServerConfig configures the HTTP session server.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the user-facing logging knobs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds the user-facing OpenTelemetry knobs.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

// Validate checks enums and ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Indexing.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("indexing.retry.max_attempts must be >= 1, got %d", c.Indexing.Retry.MaxAttempts))
	}
	if c.Indexing.Retry.MaxDelay < c.Indexing.Retry.InitialDelay {
		errs = append(errs, errors.New("indexing.retry.max_delay must be >= initial_delay"))
	}

	switch c.Extraction.Provider {
	case ExtractionPassthrough, ExtractionHeuristic:
	case ExtractionOpenAI:
		if c.Extraction.OpenAI.Model == "" {
			errs = append(errs, errors.New("extraction.openai.model is required"))
		}
		if c.Extraction.OpenAI.MaxRetries < 0 {
			errs = append(errs, errors.New("extraction.openai.max_retries cannot be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown extraction.provider %q", c.Extraction.Provider))
	}
	if c.Extraction.RateLimit <= 0 {
		errs = append(errs, errors.New("extraction.rate_limit must be positive"))
	}
	if c.Extraction.Burst < 1 {
		errs = append(errs, errors.New("extraction.burst must be >= 1"))
	}

	switch c.Index.Backend {
	case BackendMemory:
	case BackendChromem:
		if c.Index.Chromem.Collection == "" {
			errs = append(errs, errors.New("index.chromem.collection is required"))
		}
	case BackendSQLite:
		if c.Index.SQLite.Path == "" {
			errs = append(errs, errors.New("index.sqlite.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index.backend %q", c.Index.Backend))
	}

	if c.Index.ScrubSecrets && c.Index.ScrubEngine != ScrubRegexp && c.Index.ScrubEngine != ScrubGitleaks {
		errs = append(errs, fmt.Errorf("unknown index.scrub_engine %q", c.Index.ScrubEngine))
	}

	switch c.Embeddings.Provider {
	case EmbeddingsHash:
		if c.Embeddings.Dimensions < 1 {
			errs = append(errs, errors.New("embeddings.dimensions must be >= 1"))
		}
	case EmbeddingsOpenAI:
		if c.Embeddings.BaseURL == "" || c.Embeddings.Model == "" {
			errs = append(errs, errors.New("embeddings.base_url and embeddings.model are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embeddings.provider %q", c.Embeddings.Provider))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 0-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	switch c.Telemetry.Protocol {
	case "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry.protocol %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("telemetry.service_name required when telemetry is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

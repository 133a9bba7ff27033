package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ExtractionPassthrough, cfg.Extraction.Provider)
	assert.Equal(t, BackendMemory, cfg.Index.Backend)
	assert.True(t, cfg.Index.ScrubSecrets)
	assert.Equal(t, 3, cfg.Indexing.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Indexing.Retry.InitialDelay.Duration())
	assert.Equal(t, 2*time.Second, cfg.Indexing.Retry.MaxDelay.Duration())
	assert.Equal(t, 30*time.Second, cfg.Extraction.OpenAI.Timeout.Duration())
	assert.Contains(t, cfg.Extraction.Heuristic.FillerWords, "um")
	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
	assert.Equal(t, "dialogd", cfg.Telemetry.ServiceName)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
session:
  system_prompt: Hello world
  id: session-42
index:
  backend: sqlite
  sqlite:
    path: /tmp/dialogd.db
extraction:
  provider: openai
  openai:
    api_key: sk-test
    timeout: 5s
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Hello world", cfg.Session.SystemPrompt)
	assert.Equal(t, "session-42", cfg.Session.ID)
	assert.Equal(t, BackendSQLite, cfg.Index.Backend)
	assert.Equal(t, "/tmp/dialogd.db", cfg.Index.SQLite.Path)
	assert.Equal(t, ExtractionOpenAI, cfg.Extraction.Provider)
	assert.Equal(t, "sk-test", cfg.Extraction.OpenAI.APIKey.Value())
	assert.Equal(t, 5*time.Second, cfg.Extraction.OpenAI.Timeout.Duration())
	// untouched keys keep their defaults
	assert.Equal(t, "gpt-4o-mini", cfg.Extraction.OpenAI.Model)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "index:\n  backend: sqlite\n", 0o600)

	t.Setenv("DIALOGD_INDEX_BACKEND", "chromem")
	t.Setenv("DIALOGD_INDEX_CHROMEM_PATH", "/tmp/vectors")
	t.Setenv("DIALOGD_INDEXING_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("DIALOGD_EXTRACTION_OPENAI_API_KEY", "sk-env")
	t.Setenv("DIALOGD_NOT_A_KEY", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendChromem, cfg.Index.Backend)
	assert.Equal(t, "/tmp/vectors", cfg.Index.Chromem.Path)
	assert.Equal(t, 5, cfg.Indexing.Retry.MaxAttempts)
	assert.Equal(t, "sk-env", cfg.Extraction.OpenAI.APIKey.Value())
}

func TestLoad_MissingFiles(t *testing.T) {
	t.Run("default path missing is fine", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, BackendMemory, cfg.Index.Backend)
	})

	t.Run("explicit path missing fails", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLoad_RejectsUnsafeFiles(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}

	t.Run("world readable", func(t *testing.T) {
		path := writeConfig(t, "index:\n  backend: memory\n", 0o644)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("too large", func(t *testing.T) {
		big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
		path := writeConfig(t, big, 0o600)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "index:\n  backend: redis\n", `unknown index.backend "redis"`},
		{"unknown extractor", "extraction:\n  provider: magic\n", `unknown extraction.provider "magic"`},
		{"zero attempts", "indexing:\n  retry:\n    max_attempts: 0\n", "max_attempts must be >= 1"},
		{"negative duration", "indexing:\n  retry:\n    initial_delay: -1s\n", "negative"},
		{"bad protocol", "telemetry:\n  protocol: udp\n", `unknown telemetry.protocol "udp"`},
		{"port out of range", "server:\n  port: 70000\n", "server.port must be 0-65535"},
		{"zero shutdown timeout", "server:\n  shutdown_timeout: 0s\n", "server.shutdown_timeout must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml, 0o600))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_WrapsSentinel(t *testing.T) {
	cfg := Default()
	cfg.Index.Backend = "bogus"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/data/index.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "index.db"), got)

	got, err = ExpandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}

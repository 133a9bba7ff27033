package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/extraction"
	"github.com/fyrsmithlabs/dialogd/internal/index"
	"github.com/fyrsmithlabs/dialogd/internal/logging"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadScript_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "session.yaml", `
system_prompt: "Hello world"
session_id: abc
events:
  - type: user
    text: "what's the weather"
  - type: finalize
  - type: assistant
    text: "Sunny."
  - type: flush
`)
	s, err := loadScript(path)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", s.SystemPrompt)
	assert.Equal(t, "abc", s.SessionID)
	assert.Equal(t, []event{
		{Type: eventUser, Text: "what's the weather"},
		{Type: eventFinalize},
		{Type: eventAssistant, Text: "Sunny."},
		{Type: eventFlush},
	}, s.Events)
}

func TestLoadScript_JSONL(t *testing.T) {
	path := writeFile(t, t.TempDir(), "session.jsonl", `{"type":"user","text":"hi"}

{"type":"finalize"}
{"type":"assistant","text":"hello"}
`)
	s, err := loadScript(path)
	require.NoError(t, err)
	assert.Equal(t, []event{
		{Type: eventUser, Text: "hi"},
		{Type: eventFinalize},
		{Type: eventAssistant, Text: "hello"},
	}, s.Events)
}

func TestLoadScript_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		errText string
	}{
		{"unsupported extension", "session.txt", "user: hi", "unsupported extension"},
		{"unknown event", "unknown.yaml", "events:\n  - type: shout\n", `unknown event type "shout"`},
		{"finalize with text", "fin.jsonl", `{"type":"finalize","text":"x"}`, "finalize takes no text"},
		{"bad json line", "bad.jsonl", "{\"type\":\"user\"}\n{not json\n", "line 2"},
		{"bad yaml", "bad.yaml", "events: [", "invalid session script"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadScript(writeFile(t, dir, tt.file, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidScript)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}

	_, err := loadScript(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestScript_Play(t *testing.T) {
	mem := index.NewMemory()
	l := conversation.NewIndexingLog("Hello world", extraction.Passthrough{}, mem, zap.NewNop(), conversation.IndexingConfig{})

	s := &script{Events: []event{
		{Type: eventUser, Text: "User message"},
		{Type: eventAssistant, Text: "Assistant message will be ignored"},
		{Type: eventUser, Text: "User message plus something else"},
		{Type: eventFinalize},
		{Type: eventAssistant, Text: "New assistant message will not be ignored"},
		{Type: eventFlush},
	}}
	require.NoError(t, s.play(context.Background(), l))
	require.NoError(t, l.Close(context.Background()))

	assert.Equal(t, []string{
		"User message plus something else",
		"New assistant message will not be ignored",
	}, mem.Contents())
}

func TestScript_PlayLogsThroughContextLogger(t *testing.T) {
	tl := logging.NewTestLogger()
	l := conversation.NewIndexingLog("sys", extraction.Passthrough{}, index.NewMemory(), nil, conversation.IndexingConfig{})
	defer l.Close(context.Background())

	s := &script{Events: []event{
		{Type: eventUser, Text: "hello"},
		{Type: eventFinalize},
	}}
	require.NoError(t, s.play(logging.WithLogger(context.Background(), tl.Logger), l))

	entries := tl.FilterMessage("script event").All()
	require.Len(t, entries, 2)
	tl.AssertField(t, "script event", "type", eventFinalize)
	tl.AssertField(t, "script event", "event", int64(2))
	tl.AssertField(t, "script event", "turns", int64(1))
}

func TestScript_PlayAssistantWithoutTurn(t *testing.T) {
	l := conversation.NewIndexingLog("sys", extraction.Passthrough{}, index.NewMemory(), nil, conversation.IndexingConfig{})
	defer l.Close(context.Background())

	s := &script{Events: []event{{Type: eventAssistant, Text: "hello?"}}}
	err := s.play(context.Background(), l)
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrInvalidState)
	assert.Contains(t, err.Error(), "event 1 (assistant)")
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/logging"
)

// Event types in a session script.
const (
	eventUser      = "user"
	eventAssistant = "assistant"
	eventFinalize  = "finalize"
	eventFlush     = "flush"
)

// ErrInvalidScript is wrapped by every script parsing failure.
var ErrInvalidScript = errors.New("invalid session script")

// event is one recorded pipeline callback.
type event struct {
	Type string `yaml:"type" json:"type"`
	Text string `yaml:"text,omitempty" json:"text,omitempty"`
}

// script is a recorded session. YAML scripts may override the session
// settings; JSONL scripts are one event per line.
type script struct {
	SystemPrompt string  `yaml:"system_prompt"`
	SessionID    string  `yaml:"session_id"`
	Events       []event `yaml:"events"`
}

func loadScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}

	var s *script
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		s, err = parseYAMLScript(data)
	case ".jsonl":
		s, err = parseJSONLScript(data)
	default:
		return nil, fmt.Errorf("%w: unsupported extension %q", ErrInvalidScript, ext)
	}
	if err != nil {
		return nil, err
	}

	for i, ev := range s.Events {
		if err := ev.validate(); err != nil {
			return nil, fmt.Errorf("%w: event %d: %w", ErrInvalidScript, i+1, err)
		}
	}
	return s, nil
}

func parseYAMLScript(data []byte) (*script, error) {
	var s script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	return &s, nil
}

func parseJSONLScript(data []byte) (*script, error) {
	s := &script{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var ev event
		if err := sonic.UnmarshalString(text, &ev); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidScript, line, err)
		}
		s.Events = append(s.Events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	return s, nil
}

func (e event) validate() error {
	switch e.Type {
	case eventUser, eventAssistant:
		return nil
	case eventFinalize, eventFlush:
		if e.Text != "" {
			return fmt.Errorf("%s takes no text", e.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}

// play drives l with the script's events in order.
func (s *script) play(ctx context.Context, l *conversation.IndexingLog) error {
	logger := logging.FromContext(ctx)
	for i, ev := range s.Events {
		logger.Trace(ctx, "script event",
			zap.Int("event", i+1),
			zap.String("type", ev.Type),
			zap.Int("turns", l.Len()),
		)
		var err error
		switch ev.Type {
		case eventUser:
			l.AppendUserMessage(ev.Text)
		case eventAssistant:
			err = l.AppendAssistantMessage(ev.Text)
		case eventFinalize:
			l.FinalizeCurrentUserMessage()
		case eventFlush:
			err = l.Flush(ctx)
		}
		if err != nil {
			return fmt.Errorf("event %d (%s): %w", i+1, ev.Type, err)
		}
	}
	return nil
}

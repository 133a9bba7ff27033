package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/extraction"
	"github.com/fyrsmithlabs/dialogd/internal/logging"
)

const drainTimeout = 30 * time.Second

// transcript is the replay output.
type transcript struct {
	SessionID string                 `json:"session_id"`
	Messages  []conversation.Message `json:"messages"`
	Turns     []conversation.Turn    `json:"turns"`
}

func newReplayCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <script>",
		Short: "Replay a recorded session into the index",
		Long: `Replay a recorded session script through an indexing conversation log.

Scripts are YAML (.yaml, .yml) with an events list, or JSON lines (.jsonl)
with one event per line. Event types: user, assistant, finalize, flush.
The log is drained before the transcript is printed as JSON.

Examples:
  # Replay into the configured index
  dialogd replay session.yaml

  # Replay with a different config
  dialogd replay --config ./dialogd.yaml session.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, *cfgPath, args[0])
		},
	}
}

func runReplay(cmd *cobra.Command, cfgPath, scriptPath string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := loadScript(scriptPath)
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.close(context.Background()); err != nil {
			rt.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
		}
	}()

	zl := rt.logger.Underlying()
	extractor, err := extraction.New(rt.cfg.Extraction, zl)
	if err != nil {
		return fmt.Errorf("creating extractor: %w", err)
	}

	systemPrompt := rt.cfg.Session.SystemPrompt
	if s.SystemPrompt != "" {
		systemPrompt = s.SystemPrompt
	}
	sessionID := rt.cfg.Session.ID
	if s.SessionID != "" {
		sessionID = s.SessionID
	}

	l := rt.newIndexingLog(extractor, systemPrompt, sessionID)

	playErr := s.play(logging.WithLogger(ctx, rt.logger), l)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := l.Close(drainCtx); err != nil {
		return err
	}
	if playErr != nil {
		return playErr
	}

	rt.logger.Info(ctx, "replay complete",
		zap.String("session.id", l.SessionID()),
		zap.Int("turns", l.Len()),
		zap.Int("events", len(s.Events)),
	)

	out, err := sonic.ConfigStd.MarshalIndent(transcript{
		SessionID: l.SessionID(),
		Messages:  l.Messages(),
		Turns:     l.Turns(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/config"
	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/embeddings"
	"github.com/fyrsmithlabs/dialogd/internal/index"
	"github.com/fyrsmithlabs/dialogd/internal/logging"
	"github.com/fyrsmithlabs/dialogd/internal/retry"
	"github.com/fyrsmithlabs/dialogd/internal/telemetry"
)

const meterName = "github.com/fyrsmithlabs/dialogd/cmd/dialogd"

// runtime holds the services shared by every command.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	index  index.Index
}

func newRuntime(ctx context.Context, cfgPath string) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), zap.NewNop())
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logCfg.Output.OTEL = tel.LoggerProvider() != nil
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	reportTelemetryHealth(ctx, logger, tel.Health())

	embedder, err := embeddings.New(cfg.Embeddings)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	logger.Debug(ctx, "embedder configured",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		logging.Secret("api_key", cfg.Embeddings.APIKey),
	)
	embedder = embeddings.Instrument(embedder, cfg.Embeddings.Provider, tel.Meter(meterName), logger.Underlying())

	idx, err := index.New(cfg.Index, embedder, logger.Underlying().Named("index"))
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &runtime{cfg: cfg, logger: logger, tel: tel, index: idx}, nil
}

// reportTelemetryHealth surfaces exporter failures that happened before the
// logger existed.
func reportTelemetryHealth(ctx context.Context, logger *logging.Logger, h telemetry.HealthStatus) {
	if h.Degraded {
		logger.Warn(ctx, "telemetry degraded; traces or metrics are not exported")
	}
}

// newIndexingLog builds a session log writing to the shared index with the
// configured retry policy.
func (r *runtime) newIndexingLog(extractor conversation.Extractor, systemPrompt, sessionID string) *conversation.IndexingLog {
	rc := r.cfg.Indexing.Retry
	return conversation.NewIndexingLog(systemPrompt, extractor, r.index, r.logger.Underlying().Named("conversation"), conversation.IndexingConfig{
		SessionID: sessionID,
		Retry: retry.Config{
			MaxAttempts:  rc.MaxAttempts,
			InitialDelay: rc.InitialDelay.Duration(),
			MaxDelay:     rc.MaxDelay.Duration(),
		},
		Tracer: r.tel.Tracer(conversation.InstrumentationName),
	})
}

func (r *runtime) close(ctx context.Context) error {
	var errs []error
	if err := r.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing index: %w", err))
	}
	if err := r.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
	}
	_ = r.logger.Sync()
	return errors.Join(errs...)
}

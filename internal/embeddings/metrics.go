package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/dialogd/internal/embeddings"

// instrumented records OTEL metrics around another Embedder.
type instrumented struct {
	next  Embedder
	attrs metric.MeasurementOption

	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// Instrument wraps e so every call records duration, batch size and errors
// against meter. A nil meter uses the global provider.
func Instrument(e Embedder, provider string, meter metric.Meter, logger *zap.Logger) Embedder {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &instrumented{
		next:  e,
		attrs: metric.WithAttributes(attribute.String("provider", provider)),
	}

	var err error
	m.duration, err = meter.Float64Histogram(
		"dialogd.embedding.duration",
		metric.WithDescription("Duration of embedding calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"dialogd.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"dialogd.embedding.errors",
		metric.WithDescription("Failed embedding calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}
	return m
}

func (m *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	out, err := m.next.EmbedDocuments(ctx, texts)
	m.record(ctx, start, len(texts), err)
	return out, err
}

func (m *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	out, err := m.next.EmbedQuery(ctx, text)
	m.record(ctx, start, 1, err)
	return out, err
}

func (m *instrumented) record(ctx context.Context, start time.Time, n int, err error) {
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(start).Seconds(), m.attrs)
	}
	if m.batchSize != nil {
		m.batchSize.Record(ctx, int64(n), m.attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, m.attrs)
	}
}

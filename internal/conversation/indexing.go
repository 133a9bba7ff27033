package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/logging"
	"github.com/fyrsmithlabs/dialogd/internal/retry"
)

// InstrumentationName is the OTEL instrumentation scope for this package.
const InstrumentationName = "github.com/fyrsmithlabs/dialogd/internal/conversation"

// IndexingConfig configures an IndexingLog.
type IndexingConfig struct {
	// SessionID tags every Record. A uuid is generated when empty.
	SessionID string

	// Retry bounds index write attempts. Zero values fall back to
	// retry.DefaultConfig.
	Retry retry.Config

	// Tracer records extract and index_write spans. Nil uses the global
	// provider.
	Tracer trace.Tracer
}

// IndexingLog is a Log that extracts and indexes turns once they are
// finalized. All extraction and index writes run on a per-instance Worker.
type IndexingLog struct {
	log       *Log
	extractor Extractor
	indexer   Indexer
	worker    *Worker
	logger    *zap.Logger
	tracer    trace.Tracer
	sessionID string

	// tagContext is set when sessionID can travel in job contexts; otherwise
	// the logger carries it as a constant field.
	tagContext bool

	retry retry.Config
	now   func() time.Time
}

// NewIndexingLog creates an IndexingLog and starts its worker. Call Close
// to drain and stop the worker.
func NewIndexingLog(systemPrompt string, extractor Extractor, indexer Indexer, logger *zap.Logger, cfg IndexingConfig) *IndexingLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	rc := cfg.Retry
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = retry.DefaultConfig.MaxAttempts
	}
	onRetry := rc.OnRetry
	rc.OnRetry = func(attempt int, err error) {
		WriteRetries.Inc()
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(InstrumentationName)
	}

	sessionField := zap.String("session.id", sessionID)
	tagContext := logging.ValidateSessionID(sessionID) == nil
	worker := NewWorker(logger.With(sessionField))
	if !tagContext {
		logger = logger.With(sessionField)
	}
	return &IndexingLog{
		log:        NewLog(systemPrompt),
		extractor:  extractor,
		indexer:    indexer,
		worker:     worker,
		logger:     logger,
		tracer:     tracer,
		sessionID:  sessionID,
		tagContext: tagContext,
		retry:      rc,
		now:        time.Now,
	}
}

// SessionID returns the identifier attached to every Record.
func (l *IndexingLog) SessionID() string {
	return l.sessionID
}

// SystemPrompt returns the system prompt text.
func (l *IndexingLog) SystemPrompt() string {
	return l.log.SystemPrompt()
}

// AppendUserMessage records an observed user utterance. See Log.AppendUserMessage.
func (l *IndexingLog) AppendUserMessage(text string) {
	t, superseded := l.log.appendUser(text)
	if superseded {
		l.logger.Debug("continuation superseded answered turn",
			l.fields(l.turnContext(context.Background(), t))...,
		)
	}
}

// AppendAssistantMessage sets the assistant reply of the most recent turn.
// When that turn is already finalized, the reply is indexed right away; a turn
// contributes at most one assistant write.
func (l *IndexingLog) AppendAssistantMessage(text string) error {
	t, err := l.log.appendAssistant(text)
	if err != nil {
		return err
	}
	if t.finalized && !t.assistantQueued {
		l.enqueueAssistant(t, text)
	}
	return nil
}

// FinalizeCurrentUserMessage marks the most recent turn complete and queues
// it for indexing. It reports false when there is nothing to finalize.
func (l *IndexingLog) FinalizeCurrentUserMessage() bool {
	t := l.log.last()
	if t == nil || t.finalized {
		return false
	}
	t.finalized = true

	history := l.log.Messages()
	userText := t.user.Content
	l.enqueue(KindUser, t, func(ctx context.Context) {
		l.indexUser(ctx, t, history, userText)
	})

	if t.assistant != nil {
		l.enqueueAssistant(t, t.assistant.Content)
	}
	return true
}

// Flush blocks until everything enqueued before the call has been written or
// dropped. It does not finalize an open turn.
func (l *IndexingLog) Flush(ctx context.Context) error {
	return l.worker.Flush(ctx)
}

// Close drains pending work and stops the worker.
func (l *IndexingLog) Close(ctx context.Context) error {
	return l.worker.Close(ctx)
}

// Messages renders the transcript.
func (l *IndexingLog) Messages() []Message {
	return l.log.Messages()
}

// Turns returns snapshots of all turns in order.
func (l *IndexingLog) Turns() []Turn {
	return l.log.Turns()
}

// CurrentTurn returns the most recent turn, if any.
func (l *IndexingLog) CurrentTurn() (Turn, bool) {
	return l.log.CurrentTurn()
}

// Len returns the number of turns.
func (l *IndexingLog) Len() int {
	return l.log.Len()
}

func (l *IndexingLog) enqueueAssistant(t *turn, content string) {
	t.assistantQueued = true
	l.enqueue(KindAssistant, t, func(ctx context.Context) {
		l.write(ctx, t, KindAssistant, content)
	})
}

// turnContext tags ctx with the session and turn so log lines written while
// handling t carry them.
func (l *IndexingLog) turnContext(ctx context.Context, t *turn) context.Context {
	if l.tagContext {
		ctx = logging.WithSessionID(ctx, l.sessionID)
	}
	return logging.WithTurnIndex(ctx, t.index)
}

func (l *IndexingLog) fields(ctx context.Context, extra ...zap.Field) []zap.Field {
	return append(logging.ContextFields(ctx), extra...)
}

func (l *IndexingLog) enqueue(kind IndexKind, t *turn, job Job) {
	err := l.worker.Submit(string(kind), func(ctx context.Context) {
		job(l.turnContext(ctx, t))
	})
	if err != nil {
		l.logger.Warn("dropping index item", l.fields(l.turnContext(context.Background(), t),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)...)
		return
	}
	ItemsEnqueued.WithLabelValues(string(kind)).Inc()
}

func (l *IndexingLog) indexUser(ctx context.Context, t *turn, history []Message, userText string) {
	parsed, err := l.extract(ctx, t, history, userText)
	if err != nil {
		ExtractionFailures.Inc()
		ItemsProcessed.WithLabelValues(string(KindUser), resultExtractionError).Inc()
		l.logger.Warn("skipping user index write", l.fields(ctx, zap.Error(err))...)
		return
	}
	if l.write(ctx, t, KindUser, parsed) {
		t.indexed.Store(true)
	}
}

func (l *IndexingLog) extract(ctx context.Context, t *turn, history []Message, userText string) (string, error) {
	ctx, span := l.tracer.Start(ctx, "conversation.extract", trace.WithAttributes(
		attribute.String("session.id", l.sessionID),
		attribute.Int("turn.index", t.index),
	))
	defer span.End()

	parsed, err := l.extractor.Extract(ctx, history, userText)
	if err == nil && strings.TrimSpace(parsed) == "" {
		err = errors.New("blank result")
	}
	if err != nil {
		if !errors.Is(err, ErrExtraction) {
			err = fmt.Errorf("%w: %w", ErrExtraction, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return "", err
	}
	return parsed, nil
}

// write sends one record to the indexer with retries and reports success.
func (l *IndexingLog) write(ctx context.Context, t *turn, kind IndexKind, content string) bool {
	ctx, span := l.tracer.Start(ctx, "conversation.index_write", trace.WithAttributes(
		attribute.String("session.id", l.sessionID),
		attribute.Int("turn.index", t.index),
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	rec := Record{
		ID:        uuid.NewString(),
		SessionID: l.sessionID,
		TurnIndex: t.index,
		Kind:      kind,
		Content:   content,
		IndexedAt: l.now().UTC(),
	}

	start := time.Now()
	err := retry.Do(ctx, l.retry, l.logger.With(logging.ContextFields(ctx)...), func(ctx context.Context) error {
		if ri, ok := l.indexer.(RecordIndexer); ok {
			return ri.IndexRecord(ctx, rec)
		}
		return l.indexer.IndexText(ctx, rec.Content)
	})
	WriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrIndexWrite, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "index write failed")
		ItemsProcessed.WithLabelValues(string(kind), resultWriteError).Inc()
		l.logger.Error("dropping index item after retries", l.fields(ctx,
			zap.String("kind", string(kind)),
			zap.Int("attempts", l.retry.MaxAttempts),
			zap.Error(err),
		)...)
		return false
	}

	ItemsProcessed.WithLabelValues(string(kind), resultIndexed).Inc()
	l.logger.Debug("indexed", l.fields(ctx,
		zap.String("kind", string(kind)),
		zap.String("record.id", rec.ID),
	)...)
	return true
}

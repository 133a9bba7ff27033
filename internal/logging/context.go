package logging

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type sessionCtxKey struct{}
type turnCtxKey struct{}
type loggerCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		fields = append(fields, zap.String("session.id", sessionID))
	}
	if idx, ok := TurnIndexFromContext(ctx); ok {
		fields = append(fields, zap.Int("turn.index", idx))
	}
	return fields
}

// WithSessionID adds a session ID to ctx.
// Panics if sessionID is empty, too long or has characters outside
// [a-zA-Z0-9_-].
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if err := validateID(sessionID); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// SessionIDFromContext extracts the session ID from ctx.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithTurnIndex adds a turn index to ctx.
func WithTurnIndex(ctx context.Context, idx int) context.Context {
	return context.WithValue(ctx, turnCtxKey{}, idx)
}

// TurnIndexFromContext extracts the turn index from ctx.
func TurnIndexFromContext(ctx context.Context) (int, bool) {
	idx, ok := ctx.Value(turnCtxKey{}).(int)
	return idx, ok
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}

// ValidateSessionID reports whether id is usable as a session ID.
func ValidateSessionID(id string) error {
	return validateID(id)
}

func validateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("session ID cannot be empty")
	case len(id) > maxIDLen:
		return fmt.Errorf("session ID exceeds max length %d", maxIDLen)
	case !idPattern.MatchString(id):
		return fmt.Errorf("session ID contains invalid characters (must be alphanumeric, hyphen, underscore)")
	}
	return nil
}

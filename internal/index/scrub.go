package index

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/secrets"
)

// ScrubbingIndexer redacts secrets from content before it reaches the
// wrapped index. Search and Close pass through.
type ScrubbingIndexer struct {
	next     Index
	scrubber secrets.Scrubber
	logger   *zap.Logger
}

var _ Index = (*ScrubbingIndexer)(nil)

// NewScrubbingIndexer wraps next with scrubber.
func NewScrubbingIndexer(next Index, scrubber secrets.Scrubber, logger *zap.Logger) *ScrubbingIndexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrubbingIndexer{next: next, scrubber: scrubber, logger: logger}
}

// Unwrap returns the wrapped index.
func (s *ScrubbingIndexer) Unwrap() Index {
	return s.next
}

func (s *ScrubbingIndexer) IndexText(ctx context.Context, content string) error {
	return s.next.IndexText(ctx, s.scrub(content, ""))
}

func (s *ScrubbingIndexer) IndexRecord(ctx context.Context, rec conversation.Record) error {
	rec.Content = s.scrub(rec.Content, rec.ID)
	return s.next.IndexRecord(ctx, rec)
}

func (s *ScrubbingIndexer) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	return s.next.Search(ctx, query, limit)
}

func (s *ScrubbingIndexer) Close() error {
	return s.next.Close()
}

func (s *ScrubbingIndexer) scrub(content, id string) string {
	if s.scrubber == nil || !s.scrubber.IsEnabled() {
		return content
	}
	res := s.scrubber.Scrub(content)
	if res.HasFindings() {
		s.logger.Warn("redacted secrets before indexing",
			zap.String("record.id", id),
			zap.Int("findings", len(res.Findings)),
			zap.Any("by_rule", res.ByRule),
		)
	}
	return res.Scrubbed
}

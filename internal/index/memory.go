package index

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/dialogd/internal/conversation"
)

// Memory keeps records in process. Search is a case-insensitive substring
// match scored by occurrence count, newest first on ties.
type Memory struct {
	mu      sync.RWMutex
	records []conversation.Record
	closed  bool
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) IndexText(ctx context.Context, content string) error {
	return m.IndexRecord(ctx, recordFor(content))
}

func (m *Memory) IndexRecord(ctx context.Context, rec conversation.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything indexed, in write order.
func (m *Memory) Records() []conversation.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]conversation.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Contents returns the content of every record, in write order.
func (m *Memory) Contents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.records))
	for i, r := range m.records {
		out[i] = r.Content
	}
	return out
}

func (m *Memory) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if err := validateSearch(query, limit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var hits []Hit
	for _, r := range m.records {
		if n := strings.Count(strings.ToLower(r.Content), query); n > 0 {
			hits = append(hits, Hit{Record: r, Score: float64(n)})
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.IndexedAt.After(hits[j].Record.IndexedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

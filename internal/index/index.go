// Package index stores indexed conversation content and searches it.
//
// Backends:
//   - memory: in-process slice with substring search
//   - chromem: embedded vector database with similarity search
//   - sqlite: SQLite with an FTS5 full-text index ranked by bm25
//
// Every backend implements conversation.RecordIndexer, so the indexing
// worker hands it full records. New wraps the backend in a
// ScrubbingIndexer when secret scrubbing is enabled.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/config"
	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/embeddings"
	"github.com/fyrsmithlabs/dialogd/internal/secrets"
)

var (
	// ErrEmptyQuery indicates a search query with no searchable terms.
	ErrEmptyQuery = errors.New("empty search query")

	// ErrInvalidLimit indicates a non-positive result limit.
	ErrInvalidLimit = errors.New("limit must be positive")

	// ErrUnknownBackend indicates an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown index backend")

	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("index closed")

	// ErrEmbeddingMismatch indicates the embedder returned a vector count
	// that does not match the documents sent.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")
)

// Hit is one search result. Higher scores rank first.
type Hit struct {
	Record conversation.Record `json:"record"`
	Score  float64             `json:"score"`
}

// Searcher finds indexed records matching a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// Index is an indexer that can also be searched and closed.
type Index interface {
	conversation.RecordIndexer
	Searcher
	io.Closer
}

// New opens the backend named by cfg.Backend. The embedder is only used by
// the chromem backend.
func New(cfg config.IndexConfig, embedder embeddings.Embedder, logger *zap.Logger) (Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		idx Index
		err error
	)
	switch cfg.Backend {
	case config.BackendMemory, "":
		idx = NewMemory()
	case config.BackendChromem:
		idx, err = NewChromem(cfg.Chromem, embedder, logger)
	case config.BackendSQLite:
		idx, err = NewSQLite(cfg.SQLite.Path, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s index: %w", cfg.Backend, err)
	}

	if !cfg.ScrubSecrets {
		return idx, nil
	}

	scfg := secrets.DefaultConfig()
	if cfg.ScrubEngine != "" {
		scfg.Engine = cfg.ScrubEngine
	}
	scrubber, err := secrets.New(scfg)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("creating scrubber: %w", err)
	}
	return NewScrubbingIndexer(idx, scrubber, logger), nil
}

// recordFor builds the record stored for a bare IndexText call.
func recordFor(content string) conversation.Record {
	return conversation.Record{
		ID:        uuid.NewString(),
		Content:   content,
		IndexedAt: time.Now().UTC(),
	}
}

func validateSearch(query string, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidLimit, limit)
	}
	if query == "" {
		return ErrEmptyQuery
	}
	return nil
}

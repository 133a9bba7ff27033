package index

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/config"
	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/embeddings"
)

var chromemTracer = otel.Tracer("github.com/fyrsmithlabs/dialogd/internal/index/chromem")

const defaultCollection = "dialogd_turns"

// Metadata keys stored with each chromem document.
const (
	metaSessionID = "session_id"
	metaTurnIndex = "turn_index"
	metaKind      = "kind"
	metaIndexedAt = "indexed_at"
)

// Chromem stores records as embedded documents in a chromem-go collection.
type Chromem struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embeddings.Embedder
	logger     *zap.Logger
}

var _ Index = (*Chromem)(nil)

// NewChromem opens the collection in cfg. An empty cfg.Path keeps the
// database in memory.
func NewChromem(cfg config.ChromemConfig, embedder embeddings.Embedder, logger *zap.Logger) (*Chromem, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Collection
	if name == "" {
		name = defaultCollection
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := config.ExpandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	c := &Chromem{db: db, embedder: embedder, logger: logger}
	collection, err := db.GetOrCreateCollection(name, nil, c.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	c.collection = collection

	logger.Info("chromem index initialized",
		zap.String("path", cfg.Path),
		zap.String("collection", name),
		zap.Bool("compress", cfg.Compress),
		zap.Int("documents", collection.Count()),
	)
	return c, nil
}

func (c *Chromem) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return c.embedder.EmbedQuery(ctx, text)
	}
}

func (c *Chromem) IndexText(ctx context.Context, content string) error {
	return c.IndexRecord(ctx, recordFor(content))
}

func (c *Chromem) IndexRecord(ctx context.Context, rec conversation.Record) error {
	ctx, span := chromemTracer.Start(ctx, "Chromem.IndexRecord")
	defer span.End()
	span.SetAttributes(attribute.String("record.id", rec.ID), attribute.String("kind", string(rec.Kind)))

	vectors, err := c.embedder.EmbedDocuments(ctx, []string{rec.Content})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return fmt.Errorf("embedding record: %w", err)
	}
	if len(vectors) != 1 {
		err := fmt.Errorf("%w: got %d vectors for 1 document", ErrEmbeddingMismatch, len(vectors))
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding mismatch")
		return err
	}

	doc := chromem.Document{
		ID:      rec.ID,
		Content: rec.Content,
		Metadata: map[string]string{
			metaSessionID: rec.SessionID,
			metaTurnIndex: strconv.Itoa(rec.TurnIndex),
			metaKind:      string(rec.Kind),
			metaIndexedAt: rec.IndexedAt.Format(time.RFC3339Nano),
		},
		Embedding: vectors[0],
	}
	if err := c.collection.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding document: %w", err)
	}

	c.logger.Debug("added record to chromem", zap.String("id", rec.ID))
	return nil
}

func (c *Chromem) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if err := validateSearch(query, limit); err != nil {
		return nil, err
	}
	ctx, span := chromemTracer.Start(ctx, "Chromem.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	// chromem requires nResults <= document count.
	n := c.collection.Count()
	if n == 0 {
		return []Hit{}, nil
	}
	if limit > n {
		limit = n
	}

	results, err := c.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{Record: recordFromMetadata(r.ID, r.Content, r.Metadata), Score: float64(r.Similarity)}
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	return hits, nil
}

// Close is a no-op; persistent databases write through on every add.
func (c *Chromem) Close() error {
	return nil
}

func recordFromMetadata(id, content string, md map[string]string) conversation.Record {
	rec := conversation.Record{
		ID:        id,
		SessionID: md[metaSessionID],
		Kind:      conversation.IndexKind(md[metaKind]),
		Content:   content,
	}
	if n, err := strconv.Atoi(md[metaTurnIndex]); err == nil {
		rec.TurnIndex = n
	}
	if ts, err := time.Parse(time.RFC3339Nano, md[metaIndexedAt]); err == nil {
		rec.IndexedAt = ts
	}
	return rec
}

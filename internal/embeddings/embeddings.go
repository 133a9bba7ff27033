// Package embeddings turns text into vectors for the vector index backend.
//
// Two providers are available:
//   - openai: langchaingo against any OpenAI-compatible endpoint, including a
//     local TEI (Text Embeddings Inference) server
//   - hash: deterministic feature hashing, offline and dependency free
//
// Example with TEI:
//
//	e, err := embeddings.New(config.EmbeddingsConfig{
//	    Provider: config.EmbeddingsOpenAI,
//	    BaseURL:  "http://localhost:8080/v1",
//	    Model:    "BAAI/bge-small-en-v1.5",
//	})
//	vectors, err := e.EmbedDocuments(ctx, []string{"text1", "text2"})
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/dialogd/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Embedder produces vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// New builds the embedder named by cfg.Provider.
func New(cfg config.EmbeddingsConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingsHash, "":
		return NewHashEmbedder(cfg.Dimensions)
	case config.EmbeddingsOpenAI:
		return NewService(Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey.Value(),
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/config"
	"github.com/fyrsmithlabs/dialogd/internal/conversation"
)

var (
	// ErrEmptyResult indicates the provider produced nothing worth indexing.
	ErrEmptyResult = errors.New("empty extraction result")

	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown extraction provider")
)

// New creates the extractor named by cfg.Provider.
func New(cfg config.ExtractionConfig, logger *zap.Logger) (conversation.Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case config.ExtractionPassthrough, "":
		return Passthrough{}, nil
	case config.ExtractionHeuristic:
		return NewHeuristic(cfg.Heuristic.FillerWords), nil
	case config.ExtractionOpenAI:
		return NewOpenAI(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// Passthrough indexes the user text as spoken.
type Passthrough struct{}

var _ conversation.Extractor = Passthrough{}

// Extract returns latestUserText without surrounding whitespace.
func (Passthrough) Extract(_ context.Context, _ []conversation.Message, latestUserText string) (string, error) {
	out := strings.TrimSpace(latestUserText)
	if out == "" {
		return "", ErrEmptyResult
	}
	return out, nil
}

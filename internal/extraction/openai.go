package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/dialogd/internal/config"
	"github.com/fyrsmithlabs/dialogd/internal/conversation"
	"github.com/fyrsmithlabs/dialogd/internal/logging"
	"github.com/fyrsmithlabs/dialogd/internal/retry"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultRateLimit   = 2.0
	defaultBurst       = 1
)

// restatePrompt instructs the model to produce the indexed form.
const restatePrompt = `You rewrite the latest user utterance of a voice conversation.
The utterance comes from speech recognition and may contain filler words,
repetitions and missing punctuation. Using the conversation so far for
context, restate what the user said as one clear, self-contained sentence.
Resolve pronouns where the history makes them unambiguous.
Reply with the restated sentence only.`

// OpenAI extracts with an OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client     *openai.Client
	model      string
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

var _ conversation.Extractor = (*OpenAI)(nil)

// NewOpenAI creates the chat completion extractor from cfg.OpenAI. The rate
// limit and burst are shared with the other providers' settings.
func NewOpenAI(cfg config.ExtractionConfig, logger *zap.Logger) (*OpenAI, error) {
	oc := cfg.OpenAI
	if !oc.APIKey.IsSet() && oc.BaseURL == "" {
		return nil, fmt.Errorf("openai API key required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := oc.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	timeout := oc.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxRetries := oc.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	clientCfg := openai.DefaultConfig(oc.APIKey.Value())
	if oc.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(oc.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	logger = logger.Named("extraction.openai")
	logger.Debug("openai extractor configured",
		zap.String("model", model),
		zap.String("base_url", clientCfg.BaseURL),
		logging.Secret("api_key", oc.APIKey),
		zap.Duration("timeout", timeout),
		zap.Int("max_retries", maxRetries),
	)

	return &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		maxRetries: maxRetries,
		backoff:    defaultBaseBackoff,
		logger:     logger,
	}, nil
}

// Extract asks the model to restate latestUserText given history.
func (o *OpenAI) Extract(ctx context.Context, history []conversation.Message, latestUserText string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    buildMessages(history, latestUserText),
		Temperature: 0.1,
		MaxTokens:   256,
	}

	var content string
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  o.maxRetries + 1,
		InitialDelay: o.backoff,
		MaxDelay:     8 * o.backoff,
		ShouldRetry:  isRetryable,
	}, o.logger, func(ctx context.Context) error {
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResult
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyResult
	}
	return content, nil
}

// buildMessages maps the rendered history onto chat roles. The log's own
// system prompt is kept as context after the restate instruction.
func buildMessages(history []conversation.Message, latest string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: restatePrompt,
	})

	// The finalized utterance is already in history; it is sent last instead.
	skip := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleUser {
			if history[i].Content == latest {
				skip = i
			}
			break
		}
	}

	for i, m := range history {
		if i == skip || m.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case conversation.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case conversation.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	return append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: latest,
	})
}

// isRetryable reports whether err is a rate limit, a server error or a
// transport failure.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return !errors.Is(err, ErrEmptyResult)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500 || code == 0
}

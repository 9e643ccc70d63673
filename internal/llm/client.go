package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/fallback"
	"github.com/aws-agent/knowledge-assistant/internal/guardrail"
	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/pkg/circuitbreaker"
	"github.com/aws-agent/knowledge-assistant/pkg/config"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
	"github.com/aws-agent/knowledge-assistant/pkg/retry"
)

var ErrEmptyCompletion = errors.New("model returned no choices")

// Client talks to an OpenAI-compatible API. It serves model invocation,
// query embedding and moderation. Each model gets its own circuit breaker so
// a failing tier does not trip the tiers it falls back to.
type Client struct {
	client            *openai.Client
	embeddingModel    string
	timeout           time.Duration
	embeddingTimeout  time.Duration
	retryConfig       retry.Config
	embedBreaker      *circuitbreaker.CircuitBreaker
	moderationBreaker *circuitbreaker.CircuitBreaker

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

func NewClient(cfg config.LLMConfig) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	embeddingTimeout := time.Duration(cfg.EmbeddingTimeout) * time.Second
	if embeddingTimeout <= 0 {
		embeddingTimeout = 15 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("base_url", clientConfig.BaseURL),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		client:           openai.NewClientWithConfig(clientConfig),
		embeddingModel:   cfg.EmbeddingModel,
		timeout:          timeout,
		embeddingTimeout: embeddingTimeout,
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Retryable:      isRetryable,
			Logger:         logger.GetLogger(),
		},
		embedBreaker:      newBreaker("llm-embedding"),
		moderationBreaker: newBreaker("llm-moderation"),
		breakers:          make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func newBreaker(name string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})
}

func (c *Client) modelBreaker(modelID string) *circuitbreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[modelID]
	if !ok {
		cb = newBreaker("llm-" + modelID)
		c.breakers[modelID] = cb
	}
	return cb
}

// Invoke sends the assembled prompt to modelID and reports the provider's
// token usage.
func (c *Client) Invoke(ctx context.Context, modelID, prompt string, maxTokens int, temperature float32) (fallback.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result fallback.Completion

	err := c.modelBreaker(modelID).Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model: modelID,
					Messages: []openai.ChatCompletionMessage{
						{
							Role:    openai.ChatMessageRoleUser,
							Content: prompt,
						},
					},
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return ErrEmptyCompletion
			}

			logger.Debug("LLM completion generated",
				zap.String("model", modelID),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = fallback.Completion{
				Text:         resp.Choices[0].Message.Content,
				PromptTokens: resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}
			return nil
		})
	})
	if err != nil {
		return fallback.Completion{}, err
	}

	return result, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.embeddingTimeout)
	defer cancel()

	var embedding []float32

	err := c.embedBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)
			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}
			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response has no data")
			}

			embedding = resp.Data[0].Embedding
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return embedding, nil
}

// Moderate screens text with the moderation endpoint and lists the flagged
// categories.
func (c *Client) Moderate(ctx context.Context, text string) (guardrail.ModerationResult, error) {
	var result guardrail.ModerationResult

	err := c.moderationBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.Moderations(ctx, openai.ModerationRequest{Input: text})
			if err != nil {
				return fmt.Errorf("failed to moderate: %w", err)
			}

			result = guardrail.ModerationResult{}
			for _, r := range resp.Results {
				if !r.Flagged {
					continue
				}
				result.Flagged = true
				result.Categories = append(result.Categories, flaggedCategories(r.Categories)...)
			}
			return nil
		})
	})
	if err != nil {
		return guardrail.ModerationResult{}, err
	}

	return result, nil
}

func flaggedCategories(categories openai.ResultCategories) []string {
	data, err := json.Marshal(categories)
	if err != nil {
		return nil
	}
	var flags map[string]bool
	if err := json.Unmarshal(data, &flags); err != nil {
		return nil
	}

	var names []string
	for name, set := range flags {
		if set {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// isRetryable retries rate limits, server errors and transport failures;
// other API errors are permanent.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return !errors.Is(err, ErrEmptyCompletion)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mohammad-safakhou/researcher/config"
)

// Provider abstracts chat completion so generators can be tested without a
// live model behind them.
type Provider interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Client talks to an OpenAI-compatible chat API with retry and exponential
// backoff. One client is shared by all runs.
type Client struct {
	api    *openai.Client
	cfg    config.LLMConfig
	logger *log.Logger
}

// NewClient builds a client from config. The API key falls back to
// OPENAI_API_KEY so local runs need no config file edit.
func NewClient(cfg config.LLMConfig, logger *log.Logger) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm: API key not configured")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	apiCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{api: openai.NewClientWithConfig(apiCfg), cfg: cfg, logger: logger}, nil
}

// Complete sends one user prompt and returns the raw model reply.
func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	started := time.Now()
	var lastErr error
	tries := c.cfg.MaxRetries + 1
	if tries < 1 {
		tries = 1
	}
	for attempt := 0; attempt < tries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.Backoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				recordCompletion(ctx, model, "canceled", time.Since(started), 0)
				return "", ctx.Err()
			}
		}

		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
			Temperature: float32(c.cfg.Temperature),
			MaxTokens:   c.cfg.MaxTokens,
		})
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			c.logger.Printf("model %s attempt %d/%d failed: %v", model, attempt+1, tries, err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("model %s returned no choices", model)
			continue
		}
		recordCompletion(ctx, model, "ok", time.Since(started), resp.Usage.TotalTokens)
		return resp.Choices[0].Message.Content, nil
	}
	recordCompletion(ctx, model, "error", time.Since(started), 0)
	return "", fmt.Errorf("completion with %s failed: %w", model, lastErr)
}

// retryable reports whether another attempt can help. Rate limits and
// server-side errors are worth retrying; auth and request errors are not,
// and neither is a done context.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return true
}

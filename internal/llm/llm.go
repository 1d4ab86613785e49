package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/trilma/internal/model"
)

const (
	// DefaultMaxOutputTokens bounds the size of a generated exam.
	DefaultMaxOutputTokens = 20000
	// DefaultMaxAttempts is the number of calls made before giving up.
	DefaultMaxAttempts = 3
)

// Generator produces the full text reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options tune a generation backend. Temperature is always 0.
type Options struct {
	MaxOutputTokens int
	MaxAttempts     int
	Backoff         time.Duration // wait before the second attempt; doubles afterwards
}

func (o Options) withDefaults() Options {
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	return o
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
	opts  Options
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, opts Options) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
		opts:  opts.withDefaults(),
	}
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Generate sends the prompt as a single user message.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return withRetry(ctx, c.opts, func(ctx context.Context) (string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens: c.opts.MaxOutputTokens,
			// A zero temperature is dropped by omitempty and the server
			// default applies; the smallest positive value keeps it greedy.
			Temperature: math.SmallestNonzeroFloat32,
		})
		if err != nil {
			return "", fmt.Errorf("LLM API call: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("LLM returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// withRetry calls fn until it returns a non-empty reply or the attempts run
// out. Exhaustion is reported as model.ErrGenerationUnavailable.
func withRetry(ctx context.Context, opts Options, fn func(context.Context) (string, error)) (string, error) {
	backoff := opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		text, err := fn(ctx)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.New("empty reply")
		}
		if err == nil {
			slog.Debug("LLM response", "attempt", attempt, "chars", len(text))
			return text, nil
		}
		lastErr = err
		if attempt == opts.MaxAttempts {
			break
		}
		slog.Warn("generation failed, will retry",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", model.ErrGenerationUnavailable, ctx.Err())
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %v", model.ErrGenerationUnavailable, opts.MaxAttempts, lastErr)
}

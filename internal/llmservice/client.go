package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"pams-ai/internal/config"
	"pams-ai/internal/models"
)

var ErrEmptyResponse = errors.New("llm: empty response")

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Model is the part of llms.Model the client needs.
type Model interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

var _ Model = (llms.Model)(nil)

// NewModel builds the chat model for cfg.Provider ("ollama" or "openai").
func NewModel(cfg *config.LLMConfig) (Model, error) {
	switch cfg.Provider {
	case "ollama", "":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init ollama: %w", err)
		}
		return llm, nil
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("init openai: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Client sends one system plus one user message and returns the text of the
// first choice. Each attempt has its own timeout.
type Client struct {
	model       Model
	temperature float64
	timeout     time.Duration
	attempts    int
	delay       time.Duration
	sleep       func(context.Context, time.Duration) error
}

// NewClient wraps model with the temperature, timeout and retry settings of cfg.
// Retries is the total number of attempts.
func NewClient(model Model, cfg config.LLMConfig) *Client {
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		attempts:    attempts,
		delay:       cfg.RetryDelay,
		sleep:       sleepCtx,
	}
}

func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		text, err := c.once(ctx, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err
		zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("llm completion failed")
		if attempt < c.attempts {
			if err := c.sleep(ctx, c.delay); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("llm completion after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) once(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	res, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(StripThinking(res.Choices[0].Content))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// StripThinking removes <think>…</think> blocks emitted by reasoning models.
func StripThinking(s string) string {
	return thinkRe.ReplaceAllString(s, "")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

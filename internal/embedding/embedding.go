package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pams-ai/internal/config"
)

var ErrEmptyText = errors.New("embedding: empty text")

// Embedder is the subset of langchaingo's embeddings.Embedder used here.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

var _ Embedder = (embeddings.Embedder)(nil)

// NewEmbedder creates a provider embedder for cfg.Provider ("ollama" or "openai").
func NewEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	switch cfg.Provider {
	case "ollama", "":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init ollama embedder: %w", err)
		}
		return embeddings.NewEmbedder(llm)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("init openai embedder: %w", err)
		}
		return embeddings.NewEmbedder(llm)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Cache embeds query strings once per process and returns unit vectors.
// Concurrent misses on the same text may both call the provider; the first
// stored vector wins.
type Cache struct {
	inner   Embedder
	timeout time.Duration

	mu    sync.RWMutex
	items map[string][]float32
}

func NewCache(inner Embedder, timeout time.Duration) *Cache {
	return &Cache{inner: inner, timeout: timeout, items: make(map[string][]float32)}
}

// EmbedQuery returns the normalized embedding of text, keyed by its exact value.
func (c *Cache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	c.mu.RLock()
	v, ok := c.items[text]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	raw, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	v = Normalize(raw)

	c.mu.Lock()
	if prev, ok := c.items[text]; ok {
		v = prev
	} else {
		c.items[text] = v
	}
	c.mu.Unlock()
	zerolog.Ctx(ctx).Debug().Int("dimension", len(v)).Msg("query embedded")
	return v, nil
}

// EmbedDocuments embeds a batch without caching. Used at index time.
func (c *Cache) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	raw, err := c.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d texts", len(raw), len(texts))
	}
	out := make([][]float32, len(raw))
	for i, v := range raw {
		out[i] = Normalize(v)
	}
	return out, nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Normalize returns v scaled to unit L2 length. A zero vector is returned as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

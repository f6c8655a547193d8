package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pams-ai/internal/config"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 0, 0}, nil
}

func (e *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestCacheEmbedsOncePerText(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCache(inner, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.EmbedQuery(ctx, "frais de gestion")
			assert.NoError(t, err)
			assert.InDelta(t, 1.0, v[0], 1e-6)
		}()
	}
	wg.Wait()

	_, err := c.EmbedQuery(ctx, "frais de gestion")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	assert.LessOrEqual(t, inner.calls, 8)

	before := inner.calls
	_, err = c.EmbedQuery(ctx, "frais de gestion")
	require.NoError(t, err)
	assert.Equal(t, before, inner.calls)
}

func TestCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("connection refused")}
	c := NewCache(inner, 0)

	_, err := c.EmbedQuery(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = c.EmbedQuery(context.Background(), "bilan")
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestEmbedDocumentsNormalizes(t *testing.T) {
	c := NewCache(&countingEmbedder{}, 0)
	out, err := c.EmbedDocuments(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, v := range out {
		assert.InDelta(t, 1.0, v[0], 1e-6)
	}
	assert.Equal(t, 0, c.Len())
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(&config.LLMConfig{Provider: "bedrock"})
	assert.Error(t, err)
}

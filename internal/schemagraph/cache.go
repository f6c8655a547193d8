package schemagraph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrNoSnapshot = errors.New("schema graph not loaded")

// Cache owns the current snapshot. Readers never block on each other; a
// refresh builds a new Graph and swaps the pointer, and concurrent callers
// wait for that single refresh instead of issuing their own.
type Cache struct {
	source  Source
	ttl     time.Duration
	now     func() time.Time
	current atomic.Pointer[Graph]
	fetched atomic.Int64
	mu      sync.Mutex
}

func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{source: source, ttl: ttl, now: time.Now}
}

// Get returns the cached snapshot, reloading it when it is older than the TTL
// or when force is set. When a reload fails and a previous snapshot exists,
// the previous snapshot keeps being served.
func (c *Cache) Get(ctx context.Context, force bool) (*Graph, error) {
	start := c.now()
	if g := c.current.Load(); g != nil && !force && c.fresh(start) {
		return g, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while this one waited.
	if g := c.current.Load(); g != nil {
		last := time.Unix(0, c.fetched.Load())
		if force && last.After(start) {
			return g, nil
		}
		if !force && c.fresh(c.now()) {
			return g, nil
		}
	}

	g, err := c.source.Load(ctx)
	if err != nil {
		if prev := c.current.Load(); prev != nil {
			log.Warn().Err(err).Msg("schema reload failed, serving previous snapshot")
			return prev, nil
		}
		return nil, err
	}
	c.current.Store(g)
	c.fetched.Store(c.now().UnixNano())
	return g, nil
}

// Snapshot returns the current snapshot without loading.
func (c *Cache) Snapshot() (*Graph, error) {
	if g := c.current.Load(); g != nil {
		return g, nil
	}
	return nil, ErrNoSnapshot
}

func (c *Cache) fresh(at time.Time) bool {
	fetched := c.fetched.Load()
	return fetched != 0 && at.Sub(time.Unix(0, fetched)) < c.ttl
}

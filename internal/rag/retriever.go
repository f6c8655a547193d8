// Package rag implements hybrid retrieval over the chunk store and the
// grounded generative answer used when no deterministic resolver applies.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pams-ai/internal/classifier"
	"pams-ai/internal/config"
	"pams-ai/internal/models"
	"pams-ai/internal/plan"
)

// Store is the read side of the chunk store (db.ChunkStore, chromemdb.Store).
type Store interface {
	KeywordSearch(ctx context.Context, q models.KeywordQuery) ([]models.Chunk, error)
	VectorSearch(ctx context.Context, q models.VectorQuery) ([]models.Chunk, error)
}

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

var documentScope = []string{models.SourceTypePDF, models.SourceTypeDocument}

type Request struct {
	Query string
	TopK  int
	// SourceTypes overrides the scope derived from the question when non-nil.
	SourceTypes []string
	EntityHint  string
}

type Result struct {
	Chunks  []models.Chunk
	Scope   []string
	Domain  classifier.Domain
	Widened bool
}

type Retriever struct {
	store    Store
	embedder QueryEmbedder
	cls      *classifier.Classifier
	cfg      config.RetrievalConfig
	timeout  time.Duration
}

// NewRetriever builds a retriever. timeout bounds each store call.
func NewRetriever(store Store, embedder QueryEmbedder, cls *classifier.Classifier, cfg config.RetrievalConfig, timeout time.Duration) *Retriever {
	return &Retriever{store: store, embedder: embedder, cls: cls, cfg: cfg, timeout: timeout}
}

// Retrieve runs the keyword and vector passes concurrently, merges them by
// chunk id keeping the best score, reranks lexically and widens to documents
// when the result looks weak. A failing pass degrades to the other one; the
// call fails only when both do.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	logger := zerolog.Ctx(ctx)
	topK := req.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	cls := r.cls.Classify(req.Query)
	titleLike := LooksLikeDocumentTitle(req.Query)
	scope := req.SourceTypes
	if scope == nil {
		scope = cls.Scope
		if titleLike && len(scope) > 0 {
			scope = union(scope, documentScope)
		}
	}

	hint := strings.TrimSpace(req.EntityHint)
	if hint == "" {
		hint = cls.EntityHint
	}
	pool := max(r.cfg.MinPool, topK*r.cfg.PoolFactor)

	var (
		wg            sync.WaitGroup
		kw, vec       []models.Chunk
		kwErr, vecErr error
		qvec          []float32
	)
	if len([]rune(hint)) >= 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kw, kwErr = r.keyword(ctx, hint, scope, min(r.cfg.KeywordLimit, topK))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		qvec, vecErr = r.embedder.EmbedQuery(ctx, req.Query)
		if vecErr != nil {
			return
		}
		vec, vecErr = r.vector(ctx, qvec, scope, nil, pool)
	}()
	wg.Wait()

	if kwErr != nil {
		logger.Warn().Err(kwErr).Msg("keyword pass failed")
	}
	if vecErr != nil {
		logger.Warn().Err(vecErr).Msg("vector pass failed")
		if kwErr != nil || len(kw) == 0 {
			return nil, fmt.Errorf("retrieve: %w", errors.Join(kwErr, vecErr))
		}
	}

	merged := newMerger()
	merged.add(kw)
	merged.add(vec)

	if qvec != nil && cls.Domain == classifier.DomainDocument {
		if extra := predicates(req.Query); len(extra) > 0 {
			more, err := r.vector(ctx, qvec, documentScope, extra, pool)
			if err != nil {
				logger.Debug().Err(err).Strs("contains", extra).Msg("predicate pass failed")
			}
			merged.add(more)
		}
	}

	rr := newReranker(req.Query, cls.Domain)
	raw := merged.list()
	chunks := rr.apply(raw)

	res := &Result{Scope: scope, Domain: cls.Domain}
	if qvec != nil && (titleLike && !anyDocument(chunks) || bestScore(raw) < r.cfg.LowConfidence) {
		docs, err := r.vector(ctx, qvec, documentScope, nil, pool)
		if err != nil {
			logger.Warn().Err(err).Msg("document widening failed")
		} else if len(docs) > 0 {
			res.Widened = true
			merged.add(docs)
			chunks = rr.apply(merged.list())
		}
	}

	res.Chunks = truncate(chunks, topK, res.Widened)
	logger.Debug().
		Str("domain", string(cls.Domain)).
		Strs("scope", scope).
		Int("keyword", len(kw)).
		Int("vector", len(vec)).
		Bool("widened", res.Widened).
		Int("returned", len(res.Chunks)).
		Msg("hybrid retrieve")
	return res, nil
}

func (r *Retriever) keyword(ctx context.Context, hint string, scope []string, limit int) ([]models.Chunk, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.store.KeywordSearch(ctx, models.KeywordQuery{Pattern: hint, SourceTypes: scope, Limit: limit})
}

func (r *Retriever) vector(ctx context.Context, qvec []float32, scope, contains []string, limit int) ([]models.Chunk, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.store.VectorSearch(ctx, models.VectorQuery{Embedding: qvec, SourceTypes: scope, Contains: contains, Limit: limit})
}

func (r *Retriever) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// predicates are the extra substrings required by the opportunistic document
// pass: the year, and the first distinctive word of the fund name.
func predicates(query string) []string {
	var out []string
	if y := plan.Year(query); y > 0 {
		out = append(out, fmt.Sprint(y))
	}
	if words := fundWords(plan.FundName(query)); len(words) > 0 {
		out = append(out, words[0])
	}
	return out
}

// merger keeps first-seen order and the highest score per chunk id.
type merger struct {
	order []int64
	best  map[int64]models.Chunk
}

func newMerger() *merger {
	return &merger{best: make(map[int64]models.Chunk)}
}

func (m *merger) add(chunks []models.Chunk) {
	for _, c := range chunks {
		prev, ok := m.best[c.ID]
		if !ok {
			m.order = append(m.order, c.ID)
			m.best[c.ID] = c
			continue
		}
		if c.Score > prev.Score {
			m.best[c.ID] = c
		}
	}
}

func (m *merger) list() []models.Chunk {
	out := make([]models.Chunk, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.best[id])
	}
	return out
}

// truncate keeps the topK best chunks. After a widening the best document
// chunk is kept even when it ranks below the cut.
func truncate(chunks []models.Chunk, topK int, keepDocument bool) []models.Chunk {
	if len(chunks) <= topK {
		return chunks
	}
	out := append([]models.Chunk(nil), chunks[:topK]...)
	if keepDocument && !anyDocument(out) {
		for _, c := range chunks[topK:] {
			if c.IsDocument() {
				out[topK-1] = c
				break
			}
		}
	}
	return out
}

func anyDocument(chunks []models.Chunk) bool {
	for _, c := range chunks {
		if c.IsDocument() {
			return true
		}
	}
	return false
}

// bestScore is the highest score before reranking.
func bestScore(chunks []models.Chunk) float64 {
	best := 0.0
	for _, c := range chunks {
		best = max(best, c.Score)
	}
	return best
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		found := false
		for _, t := range out {
			if s == t {
				found = true
				break
			}
		}
		if !found {
			out = append(out, s)
		}
	}
	return out
}

func sortByScore(chunks []models.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
}

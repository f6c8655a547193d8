// Package chromemdb is an in-process retrieval store on chromem-go with the
// same contract as the Postgres chunk store. Chunk content and metadata are
// mirrored in memory for substring search; chromem answers vector queries.
package chromemdb

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pams-ai/internal/models"
)

const (
	chunkCollection  = "rag_chunks"
	sourceCollection = "rag_sources"

	metaSourceType = "source_type"
	metaSourceID   = "source_id"
	metaJSON       = "metadata"
	metaChecksum   = "checksum"
	metaIndexedAt  = "indexed_at"
)

type sourceKey struct{ sourceType, sourceID string }

// Store keeps chunks and indexed sources. It is safe for concurrent use.
type Store struct {
	db        *chromem.DB
	chunks    *chromem.Collection
	sources   *chromem.Collection
	dimension int

	mu      sync.RWMutex
	nextID  int64
	order   []int64
	mirror  map[int64]models.Chunk
	indexed map[sourceKey]models.IndexedSource
}

// NewStore opens a store. An empty path keeps everything in memory; otherwise
// chromem persists to path and the mirror is rebuilt from it.
func NewStore(ctx context.Context, path string, dimension int) (*Store, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	chunks, err := db.GetOrCreateCollection(chunkCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	sources, err := db.GetOrCreateCollection(sourceCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}

	s := &Store{
		db:        db,
		chunks:    chunks,
		sources:   sources,
		dimension: dimension,
		nextID:    1,
		mirror:    make(map[int64]models.Chunk),
		indexed:   make(map[sourceKey]models.IndexedSource),
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload(ctx context.Context) error {
	if n := s.chunks.Count(); n > 0 && s.dimension > 0 {
		probe := make([]float32, s.dimension)
		probe[0] = 1
		res, err := s.chunks.QueryEmbedding(ctx, probe, n, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to reload chunks: %w", err)
		}
		for _, r := range res {
			c, err := fromResult(r)
			if err != nil {
				return err
			}
			s.mirror[c.ID] = c
			s.order = append(s.order, c.ID)
			if c.ID >= s.nextID {
				s.nextID = c.ID + 1
			}
		}
		sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	}

	if n := s.sources.Count(); n > 0 {
		res, err := s.sources.QueryEmbedding(ctx, []float32{1}, n, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to reload sources: %w", err)
		}
		for _, r := range res {
			at, _ := time.Parse(time.RFC3339Nano, r.Metadata[metaIndexedAt])
			src := models.IndexedSource{
				SourceType: r.Metadata[metaSourceType],
				SourceID:   r.Metadata[metaSourceID],
				Checksum:   r.Metadata[metaChecksum],
				IndexedAt:  at,
			}
			s.indexed[sourceKey{src.SourceType, src.SourceID}] = src
		}
	}
	log.Debug().Int("chunks", len(s.mirror)).Int("sources", len(s.indexed)).Msg("chromem store loaded")
	return nil
}

// KeywordSearch matches case-insensitively, in insertion order.
func (s *Store) KeywordSearch(_ context.Context, q models.KeywordQuery) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := strings.ToLower(q.Pattern)
	var out []models.Chunk
	for _, id := range s.order {
		c := s.mirror[id]
		if !inScope(c, q.SourceTypes) || !containsAll(c.Content, q.Contains) {
			continue
		}
		if !strings.Contains(strings.ToLower(c.Content), pattern) {
			continue
		}
		c.Score = 1.0
		out = append(out, c)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// VectorSearch ranks every chunk by cosine similarity and keeps the best
// matches inside the scope.
func (s *Store) VectorSearch(ctx context.Context, q models.VectorQuery) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.chunks.Count()
	if n == 0 {
		return nil, nil
	}
	res, err := s.chunks.QueryEmbedding(ctx, q.Embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	var out []models.Chunk
	for _, r := range res {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		c, ok := s.mirror[id]
		if !ok || !inScope(c, q.SourceTypes) || !containsAll(c.Content, q.Contains) {
			continue
		}
		c.Score = float64(r.Similarity)
		out = append(out, c)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ReplaceSource(ctx context.Context, sourceType, sourceID string, chunks []models.Chunk) error {
	return s.replace(ctx, chunks, func(c models.Chunk) bool {
		return c.SourceType == sourceType && c.SourceID == sourceID
	})
}

func (s *Store) ReplaceSourceType(ctx context.Context, sourceType string, chunks []models.Chunk) error {
	return s.replace(ctx, chunks, func(c models.Chunk) bool {
		return c.SourceType == sourceType
	})
}

func (s *Store) replace(ctx context.Context, chunks []models.Chunk, match func(models.Chunk) bool) error {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s/%s has no embedding", c.SourceType, c.SourceID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	kept := s.order[:0:0]
	for _, id := range s.order {
		if match(s.mirror[id]) {
			stale = append(stale, strconv.FormatInt(id, 10))
			continue
		}
		kept = append(kept, id)
	}
	if len(stale) > 0 {
		if err := s.chunks.Delete(ctx, nil, nil, stale...); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		for _, id := range stale {
			n, _ := strconv.ParseInt(id, 10, 64)
			delete(s.mirror, n)
		}
	}
	s.order = kept

	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for i := range chunks {
		chunks[i].ID = s.nextID + int64(i)
		doc, err := toDocument(chunks[i])
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if err := s.chunks.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	for _, c := range chunks {
		c.Embedding = nil
		c.Score = 0
		s.mirror[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	s.nextID += int64(len(chunks))
	return nil
}

func (s *Store) CountSource(_ context.Context, sourceType, sourceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.mirror {
		if c.SourceType == sourceType && c.SourceID == sourceID {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetIndexedSource(_ context.Context, sourceType, sourceID string) (*models.IndexedSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.indexed[sourceKey{sourceType, sourceID}]
	if !ok {
		return nil, nil
	}
	return &src, nil
}

func (s *Store) UpsertIndexedSource(ctx context.Context, src models.IndexedSource) error {
	if src.IndexedAt.IsZero() {
		src.IndexedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := chromem.Document{
		ID: src.SourceType + "|" + src.SourceID,
		Metadata: map[string]string{
			metaSourceType: src.SourceType,
			metaSourceID:   src.SourceID,
			metaChecksum:   src.Checksum,
			metaIndexedAt:  src.IndexedAt.Format(time.RFC3339Nano),
		},
		Embedding: []float32{1},
		Content:   src.SourceID,
	}
	if _, exists := s.indexed[sourceKey{src.SourceType, src.SourceID}]; exists {
		if err := s.sources.Delete(ctx, nil, nil, doc.ID); err != nil {
			return fmt.Errorf("failed to replace source: %w", err)
		}
	}
	if err := s.sources.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add source: %w", err)
	}
	s.indexed[sourceKey{src.SourceType, src.SourceID}] = src
	return nil
}

func toDocument(c models.Chunk) (chromem.Document, error) {
	md, err := json.Marshal(c.Metadata)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return chromem.Document{
		ID:      strconv.FormatInt(c.ID, 10),
		Content: c.Content,
		Metadata: map[string]string{
			metaSourceType: c.SourceType,
			metaSourceID:   c.SourceID,
			metaJSON:       string(md),
		},
		Embedding: c.Embedding,
	}, nil
}

func fromResult(r chromem.Result) (models.Chunk, error) {
	id, err := strconv.ParseInt(r.ID, 10, 64)
	if err != nil {
		return models.Chunk{}, fmt.Errorf("invalid chunk id %q: %w", r.ID, err)
	}
	var md map[string]any
	if raw := r.Metadata[metaJSON]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			return models.Chunk{}, fmt.Errorf("invalid metadata for chunk %d: %w", id, err)
		}
	}
	return models.Chunk{
		ID:         id,
		SourceType: r.Metadata[metaSourceType],
		SourceID:   r.Metadata[metaSourceID],
		Content:    r.Content,
		Metadata:   md,
	}, nil
}

func inScope(c models.Chunk, sourceTypes []string) bool {
	if len(sourceTypes) == 0 {
		return true
	}
	for _, st := range sourceTypes {
		if c.SourceType == st {
			return true
		}
	}
	return false
}

func containsAll(content string, subs []string) bool {
	lower := strings.ToLower(content)
	for _, sub := range subs {
		if !strings.Contains(lower, strings.ToLower(sub)) {
			return false
		}
	}
	return true
}

package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"pams-ai/internal/models"
)

type Chunk struct {
	bun.BaseModel `bun:"table:rag_chunks,alias:c"`

	ID         int64           `bun:"id,pk,autoincrement"`
	SourceType string          `bun:"source_type,notnull"`
	SourceID   string          `bun:"source_id,notnull"`
	Content    string          `bun:"content,notnull"`
	Metadata   map[string]any  `bun:"metadata,type:jsonb"`
	Embedding  pgvector.Vector `bun:"embedding,type:vector"`
	Score      float64         `bun:"score,scanonly"`
}

func (c *Chunk) toModel() models.Chunk {
	return models.Chunk{
		ID:         c.ID,
		SourceType: c.SourceType,
		SourceID:   c.SourceID,
		Content:    c.Content,
		Metadata:   c.Metadata,
		Score:      c.Score,
	}
}

func fromModel(c models.Chunk) *Chunk {
	md := c.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return &Chunk{
		SourceType: c.SourceType,
		SourceID:   c.SourceID,
		Content:    c.Content,
		Metadata:   md,
		Embedding:  pgvector.NewVector(c.Embedding),
	}
}

// ChunkStore is the Postgres/pgvector retrieval store.
type ChunkStore struct {
	db *bun.DB
}

func NewChunkStore(db *bun.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

var searchColumns = []string{"c.id", "c.source_type", "c.source_id", "c.content", "c.metadata"}

// KeywordSearch returns chunks whose content contains the pattern, in storage order.
func (s *ChunkStore) KeywordSearch(ctx context.Context, kq models.KeywordQuery) ([]models.Chunk, error) {
	var rows []Chunk
	q := s.db.NewSelect().
		Model(&rows).
		Column(searchColumns...).
		ColumnExpr("1.0::float8 AS score").
		Where("c.content ILIKE ?", likePattern(kq.Pattern))
	q = scope(q, kq.SourceTypes, kq.Contains)
	err := q.OrderExpr("c.id ASC").Limit(kq.Limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return toModels(rows), nil
}

// VectorSearch returns the nearest chunks by cosine distance; score = 1 - distance.
func (s *ChunkStore) VectorSearch(ctx context.Context, vq models.VectorQuery) ([]models.Chunk, error) {
	vec := pgvector.NewVector(vq.Embedding)
	var rows []Chunk
	q := s.db.NewSelect().
		Model(&rows).
		Column(searchColumns...).
		ColumnExpr("1 - (c.embedding <=> ?::vector) AS score", vec).
		Where("c.embedding IS NOT NULL")
	q = scope(q, vq.SourceTypes, vq.Contains)
	err := q.OrderExpr("c.embedding <=> ?::vector", vec).Limit(vq.Limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return toModels(rows), nil
}

func scope(q *bun.SelectQuery, sourceTypes, contains []string) *bun.SelectQuery {
	if len(sourceTypes) > 0 {
		q = q.Where("c.source_type IN (?)", bun.In(sourceTypes))
	}
	for _, c := range contains {
		q = q.Where("c.content ILIKE ?", likePattern(c))
	}
	return q
}

// ReplaceSource deletes every chunk of one source and inserts chunks in a
// single transaction. Inserted ids are written back into chunks.
func (s *ChunkStore) ReplaceSource(ctx context.Context, sourceType, sourceID string, chunks []models.Chunk) error {
	return s.replace(ctx, chunks, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("source_type = ?", sourceType).Where("source_id = ?", sourceID)
	})
}

// ReplaceSourceType replaces every chunk of a source type, used when a whole
// table is re-indexed.
func (s *ChunkStore) ReplaceSourceType(ctx context.Context, sourceType string, chunks []models.Chunk) error {
	return s.replace(ctx, chunks, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("source_type = ?", sourceType)
	})
}

func (s *ChunkStore) replace(ctx context.Context, chunks []models.Chunk, where func(*bun.DeleteQuery) *bun.DeleteQuery) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := where(tx.NewDelete().Model((*Chunk)(nil))).Exec(ctx); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		rows := make([]*Chunk, 0, len(chunks))
		for _, c := range chunks {
			rows = append(rows, fromModel(c))
		}
		if _, err := tx.NewInsert().Model(&rows).Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		for i := range rows {
			chunks[i].ID = rows[i].ID
		}
		return nil
	})
}

// CountSource returns the number of chunks stored for one source.
func (s *ChunkStore) CountSource(ctx context.Context, sourceType, sourceID string) (int, error) {
	return s.db.NewSelect().Model((*Chunk)(nil)).
		Where("source_type = ?", sourceType).
		Where("source_id = ?", sourceID).
		Count(ctx)
}

func toModels(rows []Chunk) []models.Chunk {
	out := make([]models.Chunk, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

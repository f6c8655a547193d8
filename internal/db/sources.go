package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"pams-ai/internal/models"
)

type IndexedSource struct {
	bun.BaseModel `bun:"table:rag_sources,alias:s"`

	ID         int64     `bun:"id,pk,autoincrement"`
	SourceType string    `bun:"source_type,notnull,unique:rag_sources_source_key"`
	SourceID   string    `bun:"source_id,notnull,unique:rag_sources_source_key"`
	Checksum   string    `bun:"checksum,notnull"`
	IndexedAt  time.Time `bun:"indexed_at,notnull,default:current_timestamp"`
}

// GetIndexedSource returns nil, nil when the source was never indexed.
func (s *ChunkStore) GetIndexedSource(ctx context.Context, sourceType, sourceID string) (*models.IndexedSource, error) {
	var row IndexedSource
	err := s.db.NewSelect().Model(&row).
		Where("source_type = ?", sourceType).
		Where("source_id = ?", sourceID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get indexed source: %w", err)
	}
	return &models.IndexedSource{
		SourceType: row.SourceType,
		SourceID:   row.SourceID,
		Checksum:   row.Checksum,
		IndexedAt:  row.IndexedAt,
	}, nil
}

func (s *ChunkStore) UpsertIndexedSource(ctx context.Context, src models.IndexedSource) error {
	row := &IndexedSource{
		SourceType: src.SourceType,
		SourceID:   src.SourceID,
		Checksum:   src.Checksum,
		IndexedAt:  src.IndexedAt,
	}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (source_type, source_id) DO UPDATE").
		Set("checksum = EXCLUDED.checksum").
		Set("indexed_at = EXCLUDED.indexed_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert indexed source: %w", err)
	}
	return nil
}

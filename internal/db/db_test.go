package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pams-ai/internal/config"
	"pams-ai/internal/models"
)

func TestLikePatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, `%FCPR X%`, likePattern("FCPR X"))
	assert.Equal(t, `%100\% \_ a\\b%`, likePattern(`100% _ a\b`))
}

func TestConnectDBRequiresURL(t *testing.T) {
	_, err := ConnectDB(&config.DatabaseConfig{})
	assert.Error(t, err)
}

// openTestDB connects to PAMS_TEST_DATABASE_URL, a disposable database whose
// retrieval tables are recreated by the test.
func openTestDB(t *testing.T) *ChunkStore {
	t.Helper()
	url := os.Getenv("PAMS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAMS_TEST_DATABASE_URL not set")
	}
	sqldb, err := ConnectDB(&config.DatabaseConfig{URL: url})
	require.NoError(t, err)
	bdb := NewDB(sqldb, false)
	t.Cleanup(func() { _ = bdb.Close() })

	ctx := context.Background()
	require.NoError(t, DropRAGTables(ctx, bdb))
	require.NoError(t, InitDB(ctx, bdb, 3))
	return NewChunkStore(bdb)
}

func TestChunkStoreRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	chunk := models.Chunk{
		SourceType: models.RowSourceType("fonds"),
		SourceID:   "id=42",
		Content:    "TABLE=fonds | PK=id=42 | denomination=FCPR Maxula Croissance",
		Metadata:   map[string]any{"table": "fonds", "pk": map[string]any{"id": 42}},
		Embedding:  []float32{0.6, 0.8, 0},
	}
	other := models.Chunk{
		SourceType: models.SourceTypePDF,
		SourceID:   "rapport.pdf",
		Content:    "Rapport annuel",
		Metadata:   map[string]any{"file": "rapport.pdf"},
		Embedding:  []float32{0, 0, 1},
	}
	chunks := []models.Chunk{chunk}
	require.NoError(t, store.ReplaceSourceType(ctx, chunk.SourceType, chunks))
	require.NoError(t, store.ReplaceSource(ctx, other.SourceType, other.SourceID, []models.Chunk{other}))
	require.NotZero(t, chunks[0].ID)

	byKeyword, err := store.KeywordSearch(ctx, models.KeywordQuery{Pattern: "maxula croissance", Limit: 5})
	require.NoError(t, err)
	require.Len(t, byKeyword, 1)
	assert.Equal(t, chunks[0].ID, byKeyword[0].ID)
	assert.Equal(t, "fonds", byKeyword[0].Table())

	byVector, err := store.VectorSearch(ctx, models.VectorQuery{Embedding: chunk.Embedding, Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, byVector)
	assert.Equal(t, chunks[0].ID, byVector[0].ID)
	assert.InDelta(t, 1.0, byVector[0].Score, 1e-5)

	scoped, err := store.VectorSearch(ctx, models.VectorQuery{
		Embedding:   chunk.Embedding,
		SourceTypes: []string{models.SourceTypePDF},
		Limit:       5,
	})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, models.SourceTypePDF, scoped[0].SourceType)
}

func TestIndexedSourceUpsert(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	got, err := store.GetIndexedSource(ctx, models.SourceTypePDF, "a.pdf")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.UpsertIndexedSource(ctx, models.IndexedSource{SourceType: models.SourceTypePDF, SourceID: "a.pdf", Checksum: "one"}))
	require.NoError(t, store.UpsertIndexedSource(ctx, models.IndexedSource{SourceType: models.SourceTypePDF, SourceID: "a.pdf", Checksum: "two"}))

	got, err = store.GetIndexedSource(ctx, models.SourceTypePDF, "a.pdf")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "two", got.Checksum)
}

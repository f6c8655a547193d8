package schemagraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderBuild(t *testing.T) {
	l := NewLoader(nil, "public", []string{"alembic_version", "rag_chunks"})
	l.now = func() time.Time { return time.Unix(42, 0) }

	g := l.build(
		[]string{"alembic_version", "contrat", "fonds", "rag_chunks"},
		[]columnRow{
			{TableName: "fonds", ColumnName: "id", DataType: "integer"},
			{TableName: "fonds", ColumnName: "code", DataType: "text"},
			{TableName: "contrat", ColumnName: "fonds_id", DataType: "integer"},
			{TableName: "contrat", ColumnName: "fonds_code", DataType: "text"},
			{TableName: "rag_chunks", ColumnName: "content", DataType: "text"},
		},
		[]primaryKeyRow{
			{TableName: "fonds", ColumnName: "id"},
			{TableName: "fonds", ColumnName: "code"},
		},
		[]foreignKeyRow{
			{ConstraintName: "contrat_fonds_fkey", FromTable: "contrat", FromColumn: "fonds_id", ToTable: "fonds", ToColumn: "id"},
			{ConstraintName: "contrat_fonds_fkey", FromTable: "contrat", FromColumn: "fonds_code", ToTable: "fonds", ToColumn: "code"},
			{ConstraintName: "chunk_fkey", FromTable: "rag_chunks", FromColumn: "x", ToTable: "fonds", ToColumn: "id"},
		},
	)

	assert.Equal(t, []string{"contrat", "fonds"}, g.Tables())
	assert.Equal(t, time.Unix(42, 0), g.LoadedAt)

	fonds, ok := g.Table("fonds")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "code"}, fonds.PrimaryKey)
	assert.Equal(t, []string{"id", "code"}, fonds.ColumnNames())

	out := g.Outgoing("contrat")
	require.Len(t, out, 2)
	assert.Equal(t, "fonds_code", out[1].FromColumn)
	assert.Len(t, g.Incoming("fonds"), 2)
	assert.False(t, g.HasTable("rag_chunks"))
}

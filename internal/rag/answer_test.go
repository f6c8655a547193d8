package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pams-ai/internal/models"
)

type fakeCompleter struct {
	reply  string
	err    error
	system string
	user   string
	calls  int
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	return f.reply, f.err
}

func sampleChunks() []models.Chunk {
	return []models.Chunk{
		{ID: 1, SourceType: "maxula:fonds", SourceID: "id=42", Score: 0.9,
			Content:  "TABLE=fonds | PK=id=42 | denomination=FCPR Maxula | frais_gestion=2.5 | password=x",
			Metadata: map[string]any{"table": "fonds", "pk": map[string]any{"id": 42}}},
		{ID: 2, SourceType: models.SourceTypePDF, SourceID: "rapport.pdf", Score: 0.6,
			Content:  strings.Repeat("actif net ", 100),
			Metadata: map[string]any{"file": "rapport.pdf", "page": 3}},
	}
}

func TestCompactSource(t *testing.T) {
	row := CompactSource(1, sampleChunks()[0])
	assert.Contains(t, row, "[S1] score=0.900 SOURCE=maxula:fonds|id=42 table=fonds")
	assert.Contains(t, row, "FIELDS: denomination=FCPR Maxula; frais_gestion=2.5")
	assert.NotContains(t, row, "password")

	doc := CompactSource(2, sampleChunks()[1])
	assert.Contains(t, doc, "file=rapport.pdf page=3")
	assert.Contains(t, doc, "CONTENT:\n")
}

func TestPackContextBudget(t *testing.T) {
	chunks := sampleChunks()
	all, kept := PackContext(chunks, 0, 0)
	assert.Equal(t, 2, kept)
	assert.Contains(t, all, models.ContextSeparator)

	first := CompactSource(1, chunks[0])
	_, kept = PackContext(chunks, len([]rune(first))+10, 0)
	assert.Equal(t, 1, kept)

	_, kept = PackContext(chunks, 0, 5)
	assert.Equal(t, 0, kept)
}

func TestGeneratorAnswer(t *testing.T) {
	llm := &fakeCompleter{reply: "  Les frais sont de 2.5 %. [S1] "}
	g := NewGenerator(llm, 3000)

	got, err := g.Answer(context.Background(), "frais du fonds ?", sampleChunks(), 9000)
	require.NoError(t, err)
	assert.Equal(t, "Les frais sont de 2.5 %. [S1]", got)
	assert.Equal(t, models.SystemPrompt, llm.system)
	assert.True(t, strings.HasPrefix(llm.user, "QUESTION :\nfrais du fonds ?"))
}

func TestGeneratorRefusesWithoutContext(t *testing.T) {
	llm := &fakeCompleter{reply: "invented"}
	got, err := NewGenerator(llm, 3000).Answer(context.Background(), "q", nil, 9000)
	require.NoError(t, err)
	assert.Equal(t, models.RefusalDocs, got)
	assert.Zero(t, llm.calls)

	llm.err = errors.New("down")
	_, err = NewGenerator(llm, 3000).Answer(context.Background(), "q", sampleChunks(), 9000)
	assert.Error(t, err)
}

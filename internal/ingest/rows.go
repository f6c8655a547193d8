// Package ingest fills the retrieval store: business table rows and
// document files become embedded chunks.
package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"pams-ai/internal/config"
	"pams-ai/internal/models"
	"pams-ai/internal/schemagraph"
	"pams-ai/internal/sqlexec"
)

// Store is the write side of the retrieval store.
type Store interface {
	ReplaceSource(ctx context.Context, sourceType, sourceID string, chunks []models.Chunk) error
	ReplaceSourceType(ctx context.Context, sourceType string, chunks []models.Chunk) error
	GetIndexedSource(ctx context.Context, sourceType, sourceID string) (*models.IndexedSource, error)
	UpsertIndexedSource(ctx context.Context, src models.IndexedSource) error
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type GraphSource interface {
	Get(ctx context.Context, force bool) (*schemagraph.Graph, error)
}

var secretColumn = regexp.MustCompile(`(?i)(password|pwd|secret|token)`)

// RowIndexer turns every row of a business table into one chunk.
type RowIndexer struct {
	graphs GraphSource
	exec   sqlexec.Executor
	store  Store
	embed  Embedder
	cfg    config.IngestConfig
	dbName string
}

func NewRowIndexer(graphs GraphSource, exec sqlexec.Executor, store Store, embed Embedder, cfg config.IngestConfig, dbName string) *RowIndexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if dbName == "" {
		dbName = "maxula"
	}
	return &RowIndexer{graphs: graphs, exec: exec, store: store, embed: embed, cfg: cfg, dbName: dbName}
}

// TableReport is the outcome of indexing one table.
type TableReport struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
	Err   string `json:"error,omitempty"`
}

// IndexAll indexes the configured tables, or every table of the schema.
// A failing table is reported and the others still run.
func (ix *RowIndexer) IndexAll(ctx context.Context) ([]TableReport, error) {
	g, err := ix.graphs.Get(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	tables := g.Tables()
	if len(ix.cfg.Tables) > 0 {
		tables = tables[:0:0]
		for _, t := range ix.cfg.Tables {
			if g.HasTable(t) {
				tables = append(tables, t)
			}
		}
	}

	logger := zerolog.Ctx(ctx)
	reports := make([]TableReport, 0, len(tables))
	for _, t := range tables {
		n, err := ix.index(ctx, g, t)
		rep := TableReport{Table: t, Rows: n}
		if err != nil {
			logger.Error().Err(err).Str("table", t).Msg("table indexing failed")
			rep.Err = err.Error()
		} else {
			logger.Info().Str("table", t).Int("rows", n).Msg("table indexed")
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// IndexTable rebuilds the chunks of one table.
func (ix *RowIndexer) IndexTable(ctx context.Context, table string) (int, error) {
	g, err := ix.graphs.Get(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("load schema: %w", err)
	}
	return ix.index(ctx, g, table)
}

func (ix *RowIndexer) index(ctx context.Context, g *schemagraph.Graph, table string) (int, error) {
	t, ok := g.Table(table)
	if !ok {
		return 0, fmt.Errorf("%w: %q", sqlexec.ErrUnknownTable, table)
	}
	cols := indexedColumns(t)
	if len(cols) == 0 {
		return 0, ix.store.ReplaceSourceType(ctx, models.RowSourceType(t.Name), nil)
	}

	q := sqlexec.New(g).SQL("SELECT ")
	for i, c := range cols {
		if i > 0 {
			q.SQL(", ")
		}
		q.Col("", t.Name, c)
	}
	q.SQL(" FROM ").Table(t.Name)
	if len(t.PrimaryKey) > 0 {
		q.SQL(" ORDER BY ")
		for i, c := range t.PrimaryKey {
			if i > 0 {
				q.SQL(", ")
			}
			q.Col("", t.Name, c)
		}
	}
	q.SQL(" LIMIT ").Bind(ix.cfg.RowLimit)

	rows, err := ix.exec.Query(ctx, q)
	if err != nil {
		return 0, err
	}

	chunks := make([]models.Chunk, 0, len(rows))
	for i, row := range rows {
		chunks = append(chunks, ix.rowChunk(t, cols, row, i))
	}
	for start := 0; start < len(chunks); start += ix.cfg.BatchSize {
		end := min(start+ix.cfg.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		vecs, err := ix.embed.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed %s rows: %w", t.Name, err)
		}
		for i, v := range vecs {
			chunks[start+i].Embedding = v
		}
	}

	if err := ix.store.ReplaceSourceType(ctx, models.RowSourceType(t.Name), chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// indexedColumns keeps the columns worth reading: no binary data and no
// credentials.
func indexedColumns(t *schemagraph.Table) []string {
	var out []string
	for _, c := range t.Columns {
		if strings.EqualFold(c.DataType, "bytea") || secretColumn.MatchString(c.Name) {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

func (ix *RowIndexer) rowChunk(t *schemagraph.Table, cols []string, row sqlexec.Row, n int) models.Chunk {
	var (
		pkParts []string
		idParts []string
		pk      map[string]any
	)
	if len(t.PrimaryKey) > 0 {
		pk = make(map[string]any, len(t.PrimaryKey))
	}
	isPK := make(map[string]bool, len(t.PrimaryKey))
	for _, c := range t.PrimaryKey {
		isPK[c] = true
		pk[c] = row[c]
		v, _ := sqlexec.Text(row[c])
		idParts = append(idParts, c+"="+v)
		if cv, ok := ix.clean(row[c]); ok {
			pkParts = append(pkParts, c+"="+cv)
		}
	}
	pkText := "N/A"
	if len(pkParts) > 0 {
		pkText = strings.Join(pkParts, ", ")
	}

	parts := []string{"TABLE=" + t.Name, "PK=" + pkText}
	for _, c := range cols {
		if isPK[c] {
			continue
		}
		if cv, ok := ix.clean(row[c]); ok {
			parts = append(parts, c+"="+cv)
		}
	}
	content := truncate(strings.Join(parts, " | "), ix.cfg.MaxDocChars)

	sourceID := strings.Join(idParts, "|")
	if sourceID == "" {
		sourceID = fmt.Sprintf("row%d", n)
	}
	var pkCols []string
	if len(t.PrimaryKey) > 0 {
		pkCols = append(pkCols, t.PrimaryKey...)
	}
	return models.Chunk{
		SourceType: models.RowSourceType(t.Name),
		SourceID:   sourceID,
		Content:    content,
		Metadata: map[string]any{
			"db":      ix.dbName,
			"table":   t.Name,
			"pk_cols": pkCols,
			"pk":      pk,
		},
	}
}

// clean renders a field value; NULL and blank values are skipped.
func (ix *RowIndexer) clean(v any) (string, bool) {
	s, ok := sqlexec.Text(v)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return truncate(s, ix.cfg.MaxFieldChars), true
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	return string([]rune(s)[:maxChars]) + "…"
}

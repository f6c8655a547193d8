package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pams-ai/internal/models"
	"pams-ai/internal/parser"
)

// FileIndexer indexes document files. A file whose checksum matches the
// last indexed one is skipped.
type FileIndexer struct {
	store   Store
	embed   Embedder
	chunker parser.Chunker
	extract func(path string) ([]parser.Page, error)
}

func NewFileIndexer(store Store, embed Embedder, chunker parser.Chunker) *FileIndexer {
	return &FileIndexer{store: store, embed: embed, chunker: chunker, extract: parser.Extract}
}

// FileReport is the outcome of indexing one file.
type FileReport struct {
	File    string `json:"file"`
	Pages   int    `json:"pages"`
	Chunks  int    `json:"chunks"`
	Skipped bool   `json:"skipped"`
	Err     string `json:"error,omitempty"`
}

// IndexDir indexes every supported file directly under dir, in name order.
func (ix *FileIndexer) IndexDir(ctx context.Context, dir string) ([]FileReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && parser.IsSupported(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		zerolog.Ctx(ctx).Warn().Str("dir", dir).Msg("no document found")
	}

	reports := make([]FileReport, 0, len(paths))
	for _, p := range paths {
		rep, err := ix.IndexFile(ctx, p)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("file", rep.File).Msg("file indexing failed")
			rep.Err = err.Error()
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// IndexFile replaces the chunks of one file, keyed by its base name.
func (ix *FileIndexer) IndexFile(ctx context.Context, path string) (FileReport, error) {
	name := filepath.Base(path)
	rep := FileReport{File: name}
	logger := zerolog.Ctx(ctx).With().Str("file", name).Logger()

	sum, err := fileSHA256(path)
	if err != nil {
		return rep, err
	}
	prev, err := ix.store.GetIndexedSource(ctx, models.SourceTypePDF, name)
	if err != nil {
		return rep, err
	}
	if prev != nil && prev.Checksum == sum {
		logger.Info().Msg("unchanged, skipped")
		rep.Skipped = true
		return rep, nil
	}

	pages, err := ix.extract(path)
	if err != nil {
		return rep, err
	}
	rep.Pages = len(pages)
	if len(pages) == 0 {
		logger.Warn().Msg("no text found")
		return rep, nil
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	var chunks []models.Chunk
	for _, page := range pages {
		for i, text := range ix.chunker.Split(page.Text) {
			chunks = append(chunks, models.Chunk{
				SourceType: models.SourceTypePDF,
				SourceID:   name,
				Content:    text,
				Metadata: map[string]any{
					"file":          name,
					"page":          page.Number,
					"chunk_in_page": i,
					"format":        format,
				},
			})
		}
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vecs, err := ix.embed.EmbedDocuments(ctx, texts)
		if err != nil {
			return rep, fmt.Errorf("embed chunks: %w", err)
		}
		for i, v := range vecs {
			chunks[i].Embedding = v
		}
	}

	if err := ix.store.ReplaceSource(ctx, models.SourceTypePDF, name, chunks); err != nil {
		return rep, err
	}
	src := models.IndexedSource{SourceType: models.SourceTypePDF, SourceID: name, Checksum: sum, IndexedAt: time.Now()}
	if err := ix.store.UpsertIndexedSource(ctx, src); err != nil {
		return rep, err
	}
	rep.Chunks = len(chunks)
	logger.Info().Int("pages", rep.Pages).Int("chunks", rep.Chunks).Msg("file indexed")
	return rep, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

package models

import "strings"

const (
	SourceTypePDF      = "pdf_ocr"
	SourceTypeDocument = "maxula:document"
	rowSourcePrefix    = "maxula:"
)

// Chunk is a retrievable unit of text. Score is set at retrieval time only.
type Chunk struct {
	ID         int64          `json:"id"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Embedding  []float32      `json:"-"`
	Score      float64        `json:"score"`
}

// RowSourceType returns the source type tag of chunks built from rows of table.
func RowSourceType(table string) string {
	return rowSourcePrefix + table
}

// IsRow reports whether the chunk encodes a business database row.
func (c Chunk) IsRow() bool {
	return strings.HasPrefix(c.SourceType, rowSourcePrefix) && c.SourceType != SourceTypeDocument
}

// IsDocument reports whether the chunk comes from a document.
func (c Chunk) IsDocument() bool {
	return c.SourceType == SourceTypePDF || c.SourceType == SourceTypeDocument
}

// Table is the business table a row chunk was built from.
func (c Chunk) Table() string {
	if t, ok := c.Metadata["table"].(string); ok && t != "" {
		return t
	}
	if c.IsRow() {
		return strings.TrimPrefix(c.SourceType, rowSourcePrefix)
	}
	return ""
}

// PK returns the primary key values recorded in the metadata.
func (c Chunk) PK() map[string]any {
	pk, _ := c.Metadata["pk"].(map[string]any)
	return pk
}

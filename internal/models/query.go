package models

import "time"

// KeywordQuery is a case-insensitive substring search on chunk content.
type KeywordQuery struct {
	Pattern     string
	SourceTypes []string
	// Contains adds further required substrings.
	Contains []string
	Limit    int
}

// VectorQuery orders chunks by cosine distance to Embedding.
type VectorQuery struct {
	Embedding   []float32
	SourceTypes []string
	Contains    []string
	Limit       int
}

// IndexedSource tracks the last ingestion of one external source.
type IndexedSource struct {
	SourceType string
	SourceID   string
	Checksum   string
	IndexedAt  time.Time
}

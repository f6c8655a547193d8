package models

// Source summarizes a chunk in the response envelope.
type Source struct {
	ID         int64          `json:"id"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata"`
}

type Action struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// QueryResult is the response envelope of the chat pipeline.
type QueryResult struct {
	Answer           string         `json:"answer"`
	Sources          []Source       `json:"sources"`
	SuggestedActions []Action       `json:"suggested_actions"`
	Navigation       []Action       `json:"navigation"`
	Used             map[string]any `json:"used"`
}

// Complete fills every omitted field with its default. Present fields are left untouched.
func (r *QueryResult) Complete() {
	if r.Answer == "" {
		r.Answer = RefusalData
	}
	if r.Sources == nil {
		r.Sources = []Source{}
	}
	if r.SuggestedActions == nil {
		r.SuggestedActions = []Action{}
	}
	if r.Navigation == nil {
		r.Navigation = []Action{}
	}
	if r.Used == nil {
		r.Used = map[string]any{}
	}
}

func SourcesFromChunks(chunks []Chunk) []Source {
	out := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		md := c.Metadata
		if md == nil {
			md = map[string]any{}
		}
		out = append(out, Source{
			ID:         c.ID,
			SourceType: c.SourceType,
			SourceID:   c.SourceID,
			Score:      c.Score,
			Metadata:   md,
		})
	}
	return out
}

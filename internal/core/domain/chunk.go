package domain

type ChunkType string

const (
	ChunkText  ChunkType = "TEXT"
	ChunkTable ChunkType = "TABLE"
)

type ExtractionMethod string

const (
	ExtractionExact    ExtractionMethod = "exact"
	ExtractionFallback ExtractionMethod = "fallback"
	ExtractionNone     ExtractionMethod = "none"
)

// StructuredMetadata carries the optional structured fields of a chunk.
// NormalizedPeriod uses the canonical period format shared with the query
// classifier ("2025", "2025-Q3", "2025-08").
type StructuredMetadata struct {
	Entity           string           `json:"entity,omitempty"`
	MetricCategory   string           `json:"metric_category,omitempty"`
	NormalizedPeriod string           `json:"normalized_period,omitempty"`
	Confidence       float64          `json:"confidence"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
}

type Chunk struct {
	ID           string              `json:"chunk_id"`
	DocumentID   string              `json:"document_id"`
	SourceName   string              `json:"source_name"`
	PageNumber   int                 `json:"page_number"`
	Pages        []int               `json:"pages,omitempty"`
	ChunkIndex   int                 `json:"chunk_index"`
	Type         ChunkType           `json:"type"`
	Text         string              `json:"text"`
	WordCount    int                 `json:"word_count"`
	CharCount    int                 `json:"char_count"`
	TableID      string              `json:"table_id,omitempty"`
	PartIndex    int                 `json:"part_index,omitempty"`
	PartCount    int                 `json:"part_count,omitempty"`
	TableContext string              `json:"table_context,omitempty"`
	Metadata     *StructuredMetadata `json:"metadata,omitempty"`
	Tombstoned   bool                `json:"tombstoned,omitempty"`
}

// HasProvenance reports whether the chunk can be attributed to a page of a
// source document.
func (c Chunk) HasProvenance() bool {
	return c.ID != "" && c.DocumentID != "" && c.SourceName != "" && c.PageNumber > 0 && c.ChunkIndex >= 0
}

// Period returns the chunk's normalized period or "".
func (c Chunk) Period() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata.NormalizedPeriod
}

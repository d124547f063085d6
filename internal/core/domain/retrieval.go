package domain

import "strings"

type Strategy string

const (
	StrategyVectorOnly  Strategy = "VECTOR_ONLY"
	StrategyLexicalOnly Strategy = "LEXICAL_ONLY"
	StrategyHybrid      Strategy = "HYBRID"
)

// UsesVector reports whether the plan dispatches the dense leg.
func (s Strategy) UsesVector() bool {
	return s == StrategyVectorOnly || s == StrategyHybrid
}

// UsesLexical reports whether the plan dispatches the lexical/structured leg.
func (s Strategy) UsesLexical() bool {
	return s == StrategyLexicalOnly || s == StrategyHybrid
}

// SearchFilters restrict candidates by structured fields. Period is a
// canonical period and matches by prefix.
type SearchFilters struct {
	DocumentID     string `json:"document_id,omitempty"`
	SourceName     string `json:"source_name,omitempty"`
	Entity         string `json:"entity,omitempty"`
	MetricCategory string `json:"metric_category,omitempty"`
	Period         string `json:"period,omitempty"`
}

func (f SearchFilters) IsEmpty() bool {
	return f.DocumentID == "" && f.SourceName == "" && f.Entity == "" && f.MetricCategory == "" && f.Period == ""
}

// Merge fills empty fields of f from other.
func (f SearchFilters) Merge(other SearchFilters) SearchFilters {
	if f.DocumentID == "" {
		f.DocumentID = other.DocumentID
	}
	if f.SourceName == "" {
		f.SourceName = other.SourceName
	}
	if f.Entity == "" {
		f.Entity = other.Entity
	}
	if f.MetricCategory == "" {
		f.MetricCategory = other.MetricCategory
	}
	if f.Period == "" {
		f.Period = other.Period
	}
	return f
}

// Matches reports whether the chunk satisfies every non-empty structured
// field of f. An empty filter set never matches.
func (f SearchFilters) Matches(c Chunk) bool {
	if f.Entity == "" && f.MetricCategory == "" && f.Period == "" {
		return false
	}
	meta := c.Metadata
	if meta == nil {
		return false
	}
	if f.Entity != "" && !strings.EqualFold(meta.Entity, f.Entity) {
		return false
	}
	if f.MetricCategory != "" && meta.MetricCategory != f.MetricCategory {
		return false
	}
	if f.Period != "" && !PeriodMatches(meta.NormalizedPeriod, f.Period) {
		return false
	}
	return true
}

// LexicalQuery is the input of the lexical/structured leg. Structured fields
// widen the match set and boost matching rows; Filters restrict it.
type LexicalQuery struct {
	Tokens     []string
	Structured SearchFilters
	Filters    SearchFilters
}

type QueryFeatures struct {
	HasTemporal bool `json:"has_temporal"`
	HasMetric   bool `json:"has_metric"`
	HasEntity   bool `json:"has_entity"`
}

type QueryPlan struct {
	Strategy      Strategy      `json:"strategy"`
	OriginalQuery string        `json:"original_query"`
	LexicalQuery  string        `json:"lexical_query"`
	LexicalTokens []string      `json:"lexical_tokens,omitempty"`
	Extracted     SearchFilters `json:"extracted_filters"`
	Features      QueryFeatures `json:"features"`
}

type MethodOrigin string

const (
	OriginVector  MethodOrigin = "vector"
	OriginLexical MethodOrigin = "lexical"
	OriginHybrid  MethodOrigin = "hybrid"
)

// LegHit is one raw hit returned by a search leg.
type LegHit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

type SearchResult struct {
	ChunkID          string       `json:"chunk_id"`
	Text             string       `json:"text"`
	DocumentID       string       `json:"source_document"`
	SourceName       string       `json:"source_name"`
	PageNumber       int          `json:"page_number"`
	Pages            []int        `json:"pages,omitempty"`
	ChunkIndex       int          `json:"chunk_index"`
	Type             ChunkType    `json:"type"`
	RawScore         float64      `json:"raw_score"`
	NormalizedScore  float64      `json:"normalized_score"`
	FusedScore       float64      `json:"fused_score"`
	MethodOrigin     MethodOrigin `json:"method_origin"`
	ExactFilterMatch bool         `json:"exact_filter_match"`
	UsedFallback     bool         `json:"used_fallback"`
}

type Leg string

const (
	LegVector  Leg = "vector"
	LegLexical Leg = "lexical"
)

type LegStatus string

const (
	LegOK      LegStatus = "ok"
	LegEmpty   LegStatus = "empty"
	LegFailed  LegStatus = "failed"
	LegTimeout LegStatus = "timeout"
)

// LegReport is returned to callers. Failure details stay in the logs.
type LegReport struct {
	Leg        Leg       `json:"leg"`
	Status     LegStatus `json:"status"`
	Hits       int       `json:"hits"`
	DurationMS float64   `json:"duration_ms"`
	Fallback   bool      `json:"fallback,omitempty"`
}

type RetrievalRequest struct {
	Query   string        `json:"query"`
	TopK    int           `json:"top_k"`
	Filters SearchFilters `json:"filters"`
}

type RetrievalResponse struct {
	Query        string         `json:"query"`
	Strategy     Strategy       `json:"strategy"`
	UsedFallback bool           `json:"used_fallback"`
	Degraded     bool           `json:"degraded"`
	Results      []SearchResult `json:"results"`
	Legs         []LegReport    `json:"legs"`
}

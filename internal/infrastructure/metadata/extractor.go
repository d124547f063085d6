// Package metadata derives structured chunk metadata from the shared
// financial lexicon.
package metadata

import (
	"context"
	"path"
	"strings"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/lexicon"
)

const (
	exactConfidence    = 1.0
	fallbackConfidence = 0.5
)

// LexiconExtractor looks for metric, entity and period mentions in the chunk
// text first, then in the table context and the source file name.
type LexiconExtractor struct {
	lex *lexicon.Lexicon
}

func NewLexiconExtractor(lex *lexicon.Lexicon) *LexiconExtractor {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &LexiconExtractor{lex: lex}
}

type fieldSource int

const (
	sourceNone fieldSource = iota
	sourceExact
	sourceFallback
)

func (e *LexiconExtractor) Extract(_ context.Context, chunk domain.Chunk) (*domain.StructuredMetadata, error) {
	fallbackText := strings.TrimSpace(chunk.TableContext + " " + sourceNameText(chunk.SourceName))

	var meta domain.StructuredMetadata
	sources := make([]fieldSource, 0, 3)

	metric, src := e.find(e.lex.MatchMetric, chunk.Text, fallbackText)
	meta.MetricCategory = metric
	sources = append(sources, src)

	entity, src := e.find(e.lex.MatchEntity, chunk.Text, fallbackText)
	meta.Entity = entity
	sources = append(sources, src)

	period, src := e.find(matchPeriod, chunk.Text, fallbackText)
	meta.NormalizedPeriod = period
	sources = append(sources, src)

	var found, exact int
	var confidence float64
	for _, s := range sources {
		switch s {
		case sourceExact:
			found++
			exact++
			confidence += exactConfidence
		case sourceFallback:
			found++
			confidence += fallbackConfidence
		}
	}
	if found == 0 {
		return nil, nil
	}

	meta.Confidence = confidence / float64(found)
	meta.ExtractionMethod = domain.ExtractionFallback
	if exact > 0 {
		meta.ExtractionMethod = domain.ExtractionExact
	}
	return &meta, nil
}

func (e *LexiconExtractor) find(match func(string) (string, bool), primary, fallback string) (string, fieldSource) {
	if v, ok := match(primary); ok {
		return v, sourceExact
	}
	if fallback == "" {
		return "", sourceNone
	}
	if v, ok := match(fallback); ok {
		return v, sourceFallback
	}
	return "", sourceNone
}

// matchPeriod ignores relative expressions since they carry no period.
func matchPeriod(text string) (string, bool) {
	t := lexicon.ParseTemporal(text)
	if t.Period == "" {
		return "", false
	}
	return t.Period, true
}

// sourceNameText turns "acme_q3-2025.pdf" into "acme q3 2025".
func sourceNameText(name string) string {
	name = strings.TrimSuffix(name, path.Ext(name))
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return ' '
		default:
			return r
		}
	}, name)
}

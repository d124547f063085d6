package usecase

import (
	"sort"
	"strings"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

// fusedCandidate is one chunk after weighted fusion, before hydration.
type fusedCandidate struct {
	chunkID    string
	vectorRaw  float64
	lexicalRaw float64
	vectorNorm float64
	lexNorm    float64
	inVector   bool
	inLexical  bool
	fused      float64
}

func (c fusedCandidate) origin() domain.MethodOrigin {
	switch {
	case c.inVector && c.inLexical:
		return domain.OriginHybrid
	case c.inLexical:
		return domain.OriginLexical
	default:
		return domain.OriginVector
	}
}

// rawAndNormalized reports the vector leg's scores when present, otherwise
// the lexical leg's.
func (c fusedCandidate) rawAndNormalized() (float64, float64) {
	if c.inVector {
		return c.vectorRaw, c.vectorNorm
	}
	return c.lexicalRaw, c.lexNorm
}

// fuseWeighted combines per-leg normalized scores as
// alpha*vector + (1-alpha)*lexical; a leg that did not return a chunk
// contributes 0.
func fuseWeighted(vector, lexical []domain.LegHit, alpha float64, mode Normalization) []fusedCandidate {
	vecNorm := normalizeScores(vector, mode)
	lexNorm := normalizeScores(lexical, mode)

	acc := make(map[string]fusedCandidate, len(vecNorm)+len(lexNorm))
	for _, h := range vector {
		c := acc[h.ChunkID]
		c.chunkID = h.ChunkID
		if !c.inVector || h.Score > c.vectorRaw {
			c.vectorRaw = h.Score
		}
		c.inVector = true
		c.vectorNorm = vecNorm[h.ChunkID]
		acc[h.ChunkID] = c
	}
	for _, h := range lexical {
		c := acc[h.ChunkID]
		c.chunkID = h.ChunkID
		if !c.inLexical || h.Score > c.lexicalRaw {
			c.lexicalRaw = h.Score
		}
		c.inLexical = true
		c.lexNorm = lexNorm[h.ChunkID]
		acc[h.ChunkID] = c
	}

	out := make([]fusedCandidate, 0, len(acc))
	for _, c := range acc {
		c.fused = alpha*c.vectorNorm + (1-alpha)*c.lexNorm
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].fused != out[j].fused {
			return out[i].fused > out[j].fused
		}
		return out[i].chunkID < out[j].chunkID
	})
	return out
}

type rankedResult struct {
	result     domain.SearchResult
	filterHits int
}

// sortResults orders by fused score, then by how many structured filters the
// chunk matches, then by provenance so ties are deterministic.
func sortResults(results []rankedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].result, results[j].result
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if results[i].filterHits != results[j].filterHits {
			return results[i].filterHits > results[j].filterHits
		}
		if a.SourceName != b.SourceName {
			return a.SourceName < b.SourceName
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return a.ChunkID < b.ChunkID
	})
}

func trimResults(results []domain.SearchResult, limit int) []domain.SearchResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

// filterMatchCount counts the structured filter fields the chunk satisfies.
func filterMatchCount(filters domain.SearchFilters, chunk domain.Chunk) (hits, wanted int) {
	meta := chunk.Metadata
	if filters.Entity != "" {
		wanted++
		if meta != nil && strings.EqualFold(meta.Entity, filters.Entity) {
			hits++
		}
	}
	if filters.MetricCategory != "" {
		wanted++
		if meta != nil && meta.MetricCategory == filters.MetricCategory {
			hits++
		}
	}
	if filters.Period != "" {
		wanted++
		if meta != nil && domain.PeriodMatches(meta.NormalizedPeriod, filters.Period) {
			hits++
		}
	}
	return hits, wanted
}

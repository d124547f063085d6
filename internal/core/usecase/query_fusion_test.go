package usecase

import (
	"math"
	"testing"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFuseWeightedMergesLegsByChunkID(t *testing.T) {
	vector := []domain.LegHit{{ChunkID: "c1", Score: 0.9}, {ChunkID: "c2", Score: 0.5}}
	lexical := []domain.LegHit{{ChunkID: "c2", Score: 12}, {ChunkID: "c3", Score: 4}}

	fused := fuseWeighted(vector, lexical, 0.7, NormalizeMinMax)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(fused))
	}

	byID := map[string]fusedCandidate{}
	for _, c := range fused {
		byID[c.chunkID] = c
	}
	if !almostEqual(byID["c1"].fused, 0.7) {
		t.Fatalf("expected c1 fused 0.7, got %f", byID["c1"].fused)
	}
	if !almostEqual(byID["c2"].fused, 0.3) {
		t.Fatalf("expected c2 fused 0.3, got %f", byID["c2"].fused)
	}
	if !almostEqual(byID["c3"].fused, 0) {
		t.Fatalf("expected c3 fused 0, got %f", byID["c3"].fused)
	}
	if byID["c2"].origin() != domain.OriginHybrid {
		t.Fatalf("expected c2 hybrid origin, got %s", byID["c2"].origin())
	}
	if byID["c3"].origin() != domain.OriginLexical {
		t.Fatalf("expected c3 lexical origin, got %s", byID["c3"].origin())
	}
	raw, norm := byID["c2"].rawAndNormalized()
	if raw != 0.5 || norm != 0 {
		t.Fatalf("expected vector scores reported for hybrid hit, got raw=%f norm=%f", raw, norm)
	}
	if fused[0].chunkID != "c1" {
		t.Fatalf("expected c1 first, got %s", fused[0].chunkID)
	}
}

func TestFuseWeightedTieBreakStable(t *testing.T) {
	vector := []domain.LegHit{{ChunkID: "b", Score: 1}}
	lexical := []domain.LegHit{{ChunkID: "a", Score: 1}}

	fused := fuseWeighted(vector, lexical, 0.5, NormalizeMinMax)
	if fused[0].chunkID != "a" || fused[1].chunkID != "b" {
		t.Fatalf("expected tie broken by chunk id, got %s,%s", fused[0].chunkID, fused[1].chunkID)
	}
}

func TestFuseWeightedAlphaExtremes(t *testing.T) {
	vector := []domain.LegHit{{ChunkID: "v", Score: 0.9}, {ChunkID: "x", Score: 0.1}}
	lexical := []domain.LegHit{{ChunkID: "l", Score: 9}, {ChunkID: "x", Score: 1}}

	if got := fuseWeighted(vector, lexical, 1, NormalizeMinMax); got[0].chunkID != "v" {
		t.Fatalf("alpha=1 should rank by vector only, got %s", got[0].chunkID)
	}
	if got := fuseWeighted(vector, lexical, 0, NormalizeMinMax); got[0].chunkID != "l" {
		t.Fatalf("alpha=0 should rank by lexical only, got %s", got[0].chunkID)
	}
}

// A chunk's fused score must not fall when one of its leg scores rises.
func TestFuseWeightedMonotonic(t *testing.T) {
	base := []domain.LegHit{{ChunkID: "a", Score: 0.4}, {ChunkID: "b", Score: 0.2}, {ChunkID: "c", Score: 0.9}}
	lexical := []domain.LegHit{{ChunkID: "a", Score: 3}, {ChunkID: "b", Score: 5}}

	score := func(vec []domain.LegHit) float64 {
		for _, c := range fuseWeighted(vec, lexical, 0.6, NormalizeMinMax) {
			if c.chunkID == "a" {
				return c.fused
			}
		}
		t.Fatalf("chunk a missing")
		return 0
	}

	before := score(base)
	raised := []domain.LegHit{{ChunkID: "a", Score: 0.7}, base[1], base[2]}
	after := score(raised)
	if after < before {
		t.Fatalf("fused score fell from %f to %f after raising vector score", before, after)
	}
}

func TestNormalizeScoresMinMaxAllEqual(t *testing.T) {
	got := normalizeScores([]domain.LegHit{{ChunkID: "a", Score: 3}, {ChunkID: "b", Score: 3}}, NormalizeMinMax)
	if got["a"] != 1 || got["b"] != 1 {
		t.Fatalf("expected all-equal scores to normalize to 1, got %+v", got)
	}
}

func TestNormalizeScoresKeepsBestDuplicate(t *testing.T) {
	got := normalizeScores([]domain.LegHit{
		{ChunkID: "a", Score: 1},
		{ChunkID: "a", Score: 5},
		{ChunkID: "b", Score: 3},
	}, NormalizeMinMax)
	if got["a"] != 1 || got["b"] != 0 {
		t.Fatalf("unexpected normalization: %+v", got)
	}
}

func TestNormalizeScoresRankSharesTies(t *testing.T) {
	got := normalizeScores([]domain.LegHit{
		{ChunkID: "a", Score: 10},
		{ChunkID: "b", Score: 7},
		{ChunkID: "c", Score: 7},
		{ChunkID: "d", Score: 1},
	}, NormalizeRank)

	if got["a"] != 1 {
		t.Fatalf("expected top rank 1, got %f", got["a"])
	}
	if got["b"] != got["c"] || !almostEqual(got["b"], 0.75) {
		t.Fatalf("expected tied ranks 0.75, got b=%f c=%f", got["b"], got["c"])
	}
	if !almostEqual(got["d"], 0.25) {
		t.Fatalf("expected last rank 0.25, got %f", got["d"])
	}
}

// Rank normalization ignores the raw score scale; min-max does not.
func TestNormalizationModesDiffer(t *testing.T) {
	hits := []domain.LegHit{{ChunkID: "a", Score: 100}, {ChunkID: "b", Score: 99}, {ChunkID: "c", Score: 0}}
	minmax := normalizeScores(hits, NormalizeMinMax)
	rank := normalizeScores(hits, NormalizeRank)
	if !almostEqual(minmax["b"], 0.99) {
		t.Fatalf("expected minmax b=0.99, got %f", minmax["b"])
	}
	if !almostEqual(rank["b"], 2.0/3.0) {
		t.Fatalf("expected rank b=2/3, got %f", rank["b"])
	}
}

func TestParseNormalization(t *testing.T) {
	if mode, err := ParseNormalization(""); err != nil || mode != NormalizeMinMax {
		t.Fatalf("expected default minmax, got %q err=%v", mode, err)
	}
	if mode, err := ParseNormalization("rank"); err != nil || mode != NormalizeRank {
		t.Fatalf("expected rank, got %q err=%v", mode, err)
	}
	_, err := ParseNormalization("zscore")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSortResultsBreaksTiesByFilterMatches(t *testing.T) {
	results := []rankedResult{
		{result: domain.SearchResult{ChunkID: "a", SourceName: "a.pdf", FusedScore: 0.5}, filterHits: 0},
		{result: domain.SearchResult{ChunkID: "b", SourceName: "b.pdf", FusedScore: 0.5}, filterHits: 2},
		{result: domain.SearchResult{ChunkID: "c", SourceName: "c.pdf", FusedScore: 0.9}, filterHits: 0},
	}
	sortResults(results)

	got := []string{results[0].result.ChunkID, results[1].result.ChunkID, results[2].result.ChunkID}
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", got, want)
		}
	}
}

func TestFilterMatchCount(t *testing.T) {
	chunk := domain.Chunk{Metadata: &domain.StructuredMetadata{
		Entity:           "Acme",
		MetricCategory:   "ebitda_margin",
		NormalizedPeriod: "2025-08",
	}}

	hits, wanted := filterMatchCount(domain.SearchFilters{Entity: "ACME", MetricCategory: "ebitda_margin", Period: "2025-Q3"}, chunk)
	if hits != 3 || wanted != 3 {
		t.Fatalf("expected 3/3, got %d/%d", hits, wanted)
	}

	hits, wanted = filterMatchCount(domain.SearchFilters{MetricCategory: "revenue", Period: "2025"}, chunk)
	if hits != 1 || wanted != 2 {
		t.Fatalf("expected 1/2, got %d/%d", hits, wanted)
	}

	hits, wanted = filterMatchCount(domain.SearchFilters{Period: "2025"}, domain.Chunk{})
	if hits != 0 || wanted != 1 {
		t.Fatalf("expected 0/1 without metadata, got %d/%d", hits, wanted)
	}
}

func TestTrimResults(t *testing.T) {
	results := make([]domain.SearchResult, 5)
	if got := trimResults(results, 3); len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	if got := trimResults(results, 10); len(got) != 5 {
		t.Fatalf("expected 5, got %d", len(got))
	}
}

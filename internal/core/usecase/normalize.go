package usecase

import (
	"fmt"
	"sort"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

type Normalization string

const (
	NormalizeMinMax Normalization = "minmax"
	NormalizeRank   Normalization = "rank"
)

func ParseNormalization(s string) (Normalization, error) {
	switch Normalization(s) {
	case "", NormalizeMinMax:
		return NormalizeMinMax, nil
	case NormalizeRank:
		return NormalizeRank, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "parse normalization", fmt.Errorf("unknown mode %q", s))
	}
}

// normalizeScores maps one leg's raw scores to [0,1] keyed by chunk id.
// Duplicate ids keep their best raw score.
func normalizeScores(hits []domain.LegHit, mode Normalization) map[string]float64 {
	best := make(map[string]float64, len(hits))
	for _, h := range hits {
		if cur, ok := best[h.ChunkID]; !ok || h.Score > cur {
			best[h.ChunkID] = h.Score
		}
	}
	if mode == NormalizeRank {
		return rankNormalize(best)
	}
	return minMaxNormalize(best)
}

// minMaxNormalize maps all-equal scores to 1.
func minMaxNormalize(raw map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(raw))
	if len(raw) == 0 {
		return out
	}

	first := true
	var minScore, maxScore float64
	for _, v := range raw {
		if first {
			minScore, maxScore = v, v
			first = false
			continue
		}
		if v < minScore {
			minScore = v
		}
		if v > maxScore {
			maxScore = v
		}
	}

	rangeScore := maxScore - minScore
	for id, v := range raw {
		if rangeScore <= 0 {
			out[id] = 1
			continue
		}
		out[id] = (v - minScore) / rangeScore
	}
	return out
}

// rankNormalize scores the i-th distinct raw score (best first) as (n-i)/n;
// equal raw scores share a rank.
func rankNormalize(raw map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if raw[ids[i]] != raw[ids[j]] {
			return raw[ids[i]] > raw[ids[j]]
		}
		return ids[i] < ids[j]
	})

	n := float64(len(ids))
	rank := 0
	for i, id := range ids {
		if i > 0 && raw[id] != raw[ids[i-1]] {
			rank = i
		}
		out[id] = (n - float64(rank)) / n
	}
	return out
}

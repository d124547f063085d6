package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/lexicon"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
)

// QueryClassifier routes queries with a fixed decision table over three
// lexical signals. It never emits LEXICAL_ONLY.
type QueryClassifier struct {
	lex *lexicon.Lexicon
}

func NewQueryClassifier(lex *lexicon.Lexicon) *QueryClassifier {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &QueryClassifier{lex: lex}
}

func (c *QueryClassifier) Classify(query string) domain.QueryPlan {
	temporal := lexicon.ParseTemporal(query)
	metric, hasMetric := c.lex.MatchMetric(query)
	entity, hasEntity := c.lex.MatchEntity(query)

	features := domain.QueryFeatures{
		HasTemporal: temporal.Found,
		HasMetric:   hasMetric,
		HasEntity:   hasEntity,
	}
	tokens := c.lex.ContentTokens(query)

	return domain.QueryPlan{
		Strategy:      decideStrategy(features),
		OriginalQuery: query,
		LexicalQuery:  strings.Join(tokens, " "),
		LexicalTokens: tokens,
		Extracted: domain.SearchFilters{
			Entity:         entity,
			MetricCategory: metric,
			Period:         temporal.Period,
		},
		Features: features,
	}
}

// decideStrategy is the routing decision table. The entity signal is
// recorded but never changes the strategy.
func decideStrategy(f domain.QueryFeatures) domain.Strategy {
	switch {
	case f.HasTemporal && f.HasMetric:
		return domain.StrategyHybrid
	case f.HasMetric:
		return domain.StrategyVectorOnly
	case f.HasTemporal:
		return domain.StrategyHybrid
	default:
		return domain.StrategyVectorOnly
	}
}

type RoutingReport struct {
	Total           int
	LexicalDominant int
	Share           float64
	Mismatches      []string
}

// CheckRouting classifies labeled samples and fails when the share routed to
// a lexical-dominant plan exceeds ceiling.
func CheckRouting(classifier ports.QueryClassifier, samples []lexicon.RoutingSample, ceiling float64) (RoutingReport, error) {
	report := RoutingReport{Total: len(samples)}
	if len(samples) == 0 {
		return report, nil
	}
	for _, s := range samples {
		plan := classifier.Classify(s.Query)
		if lexicalDominant(plan, s.Strategy) {
			report.LexicalDominant++
		}
		if s.Strategy != "" && plan.Strategy != s.Strategy {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("%q: got %s, labeled %s", s.Query, plan.Strategy, s.Strategy))
		}
	}
	report.Share = float64(report.LexicalDominant) / float64(report.Total)
	if report.Share > ceiling {
		return report, fmt.Errorf("lexical-dominant routing share %.2f exceeds ceiling %.2f", report.Share, ceiling)
	}
	return report, nil
}

// lexicalDominant reports a plan that sends the query to the lexical leg when
// it belongs on the dense leg: labeled VECTOR_ONLY, or unlabeled without a
// temporal signal.
func lexicalDominant(plan domain.QueryPlan, label domain.Strategy) bool {
	if plan.Strategy == domain.StrategyLexicalOnly {
		return true
	}
	if !plan.Strategy.UsesLexical() {
		return false
	}
	if label != "" {
		return label == domain.StrategyVectorOnly
	}
	return !plan.Features.HasTemporal
}

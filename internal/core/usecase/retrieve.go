package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
)

var tracer = otel.Tracer("github.com/kirillkom/fin-retrieval/internal/core/usecase")

type RetrievalOptions struct {
	// Alpha weights the dense leg in fused = alpha*vector + (1-alpha)*lexical.
	Alpha         float64
	Normalization Normalization
	LegTimeout    time.Duration
	RequestBudget time.Duration
	DefaultTopK   int
	MaxTopK       int
	// CandidateMultiplier sizes each leg's candidate list as a multiple of
	// top_k so hydration drops do not starve the result.
	CandidateMultiplier int
	// EmbeddingDimension, when set, is checked against every query vector.
	EmbeddingDimension int
}

func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		Alpha:               0.7,
		Normalization:       NormalizeMinMax,
		LegTimeout:          3 * time.Second,
		RequestBudget:       15 * time.Second,
		DefaultTopK:         5,
		MaxTopK:             50,
		CandidateMultiplier: 3,
	}
}

func (o RetrievalOptions) normalize() RetrievalOptions {
	def := DefaultRetrievalOptions()
	if o.Alpha < 0 || o.Alpha > 1 {
		o.Alpha = def.Alpha
	}
	if o.Normalization == "" {
		o.Normalization = def.Normalization
	}
	if o.LegTimeout <= 0 {
		o.LegTimeout = def.LegTimeout
	}
	if o.RequestBudget <= 0 {
		o.RequestBudget = def.RequestBudget
	}
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = def.DefaultTopK
	}
	if o.MaxTopK <= 0 {
		o.MaxTopK = def.MaxTopK
	}
	if o.CandidateMultiplier <= 0 {
		o.CandidateMultiplier = def.CandidateMultiplier
	}
	return o
}

type RetrieveUseCase struct {
	classifier ports.QueryClassifier
	embedder   ports.Embedder
	dense      ports.DenseIndex
	lexical    ports.LexicalIndex
	chunks     ports.ChunkStore
	observer   ports.RetrievalObserver
	opts       RetrievalOptions
}

func NewRetrieveUseCase(
	classifier ports.QueryClassifier,
	embedder ports.Embedder,
	dense ports.DenseIndex,
	lexical ports.LexicalIndex,
	chunks ports.ChunkStore,
	observer ports.RetrievalObserver,
	opts RetrievalOptions,
) *RetrieveUseCase {
	if observer == nil {
		observer = noopObserver{}
	}
	return &RetrieveUseCase{
		classifier: classifier,
		embedder:   embedder,
		dense:      dense,
		lexical:    lexical,
		chunks:     chunks,
		observer:   observer,
		opts:       opts.normalize(),
	}
}

// legOutcome is written by exactly one leg goroutine.
type legOutcome struct {
	dispatched bool
	hits       []domain.LegHit
	report     domain.LegReport
	err        error
}

func (o legOutcome) available() bool {
	return o.dispatched && o.report.Status != domain.LegFailed && o.report.Status != domain.LegTimeout
}

func (uc *RetrieveUseCase) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResponse, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required"))
	}
	topK := req.TopK
	if topK <= 0 {
		topK = uc.opts.DefaultTopK
	}
	if topK > uc.opts.MaxTopK {
		topK = uc.opts.MaxTopK
	}

	ctx, cancel := context.WithTimeout(ctx, uc.opts.RequestBudget)
	defer cancel()
	ctx, span := tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	plan := uc.classifier.Classify(req.Query)
	span.SetAttributes(
		attribute.String("retrieval.strategy", string(plan.Strategy)),
		attribute.Int("retrieval.top_k", topK),
	)

	qv := &queryVector{embedder: uc.embedder, text: plan.OriginalQuery, dimension: uc.opts.EmbeddingDimension}
	limit := topK * uc.opts.CandidateMultiplier
	lexQuery := domain.LexicalQuery{
		Tokens:     plan.LexicalTokens,
		Structured: plan.Extracted,
		Filters:    req.Filters,
	}

	var vector, lexical legOutcome
	g, gctx := errgroup.WithContext(ctx)
	if plan.Strategy.UsesVector() {
		g.Go(func() error {
			vector = uc.runVector(gctx, qv, limit, req.Filters, false)
			return nil
		})
	}
	if plan.Strategy.UsesLexical() {
		g.Go(func() error {
			lexical = uc.runLexical(gctx, lexQuery, limit)
			return nil
		})
	}
	_ = g.Wait()

	usedFallback := false
	if lexical.dispatched && len(lexical.hits) == 0 {
		usedFallback = true
		if !vector.dispatched {
			vector = uc.runVector(ctx, qv, limit, req.Filters, true)
		}
		slog.Info("retrieval_fallback",
			"strategy", string(plan.Strategy),
			"lexical_status", string(lexical.report.Status),
			"vector_hits", len(vector.hits),
		)
	}

	resp := &domain.RetrievalResponse{
		Query:        req.Query,
		Strategy:     plan.Strategy,
		UsedFallback: usedFallback,
		Results:      []domain.SearchResult{},
	}
	for _, leg := range []legOutcome{vector, lexical} {
		if !leg.dispatched {
			continue
		}
		resp.Legs = append(resp.Legs, leg.report)
		uc.observer.ObserveLeg(leg.report)
		if !leg.available() {
			resp.Degraded = true
		}
	}

	// A dimension mismatch is a configuration error, never a degraded answer.
	if domain.IsKind(vector.err, domain.ErrDimensionMismatch) {
		span.RecordError(vector.err)
		span.SetStatus(codes.Error, "embedding dimension mismatch")
		uc.observer.ObserveRetrieval(resp, time.Since(start))
		return nil, vector.err
	}

	if len(vector.hits) == 0 && len(lexical.hits) == 0 {
		if err := unavailableError(vector, lexical); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "retrieval unavailable")
			uc.observer.ObserveRetrieval(resp, time.Since(start))
			return nil, err
		}
		uc.observer.ObserveRetrieval(resp, time.Since(start))
		return resp, nil
	}

	fused := fuseWeighted(vector.hits, lexical.hits, uc.opts.Alpha, uc.opts.Normalization)
	results, err := uc.hydrate(ctx, fused, req.Filters.Merge(plan.Extracted))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hydrate results")
		uc.observer.ObserveRetrieval(resp, time.Since(start))
		return nil, err
	}

	results = trimResults(results, topK)
	for i := range results {
		results[i].UsedFallback = usedFallback
	}
	resp.Results = results
	span.SetAttributes(
		attribute.Int("retrieval.results", len(results)),
		attribute.Bool("retrieval.used_fallback", usedFallback),
		attribute.Bool("retrieval.degraded", resp.Degraded),
	)
	uc.observer.ObserveRetrieval(resp, time.Since(start))
	return resp, nil
}

// unavailableError decides whether an evidence-free request is an error: it
// is when the query could not be embedded, or when no dispatched leg was
// reachable. An empty but healthy leg is a valid empty answer.
func unavailableError(vector, lexical legOutcome) error {
	if vector.dispatched && domain.IsKind(vector.err, domain.ErrEmbeddingUnavailable) {
		return domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", vector.err)
	}
	if vector.available() || lexical.available() {
		return nil
	}
	return domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", errors.Join(vector.err, lexical.err))
}

func (uc *RetrieveUseCase) runVector(ctx context.Context, qv *queryVector, limit int, filters domain.SearchFilters, fallback bool) legOutcome {
	return uc.runLeg(ctx, domain.LegVector, fallback, func(legCtx context.Context) ([]domain.LegHit, error) {
		vec, err := qv.get(legCtx)
		if err != nil {
			return nil, err
		}
		hits, err := uc.dense.Search(legCtx, vec, limit, filters)
		if err != nil {
			return nil, fmt.Errorf("dense search: %w", err)
		}
		return hits, nil
	})
}

func (uc *RetrieveUseCase) runLexical(ctx context.Context, query domain.LexicalQuery, limit int) legOutcome {
	return uc.runLeg(ctx, domain.LegLexical, false, func(legCtx context.Context) ([]domain.LegHit, error) {
		hits, err := uc.lexical.Search(legCtx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("lexical search: %w", err)
		}
		return hits, nil
	})
}

// runLeg applies the per-leg timeout and turns any failure into an empty leg.
func (uc *RetrieveUseCase) runLeg(
	ctx context.Context,
	leg domain.Leg,
	fallback bool,
	search func(context.Context) ([]domain.LegHit, error),
) legOutcome {
	ctx, span := tracer.Start(ctx, "retrieval.leg."+string(leg))
	defer span.End()
	span.SetAttributes(attribute.Bool("retrieval.fallback", fallback))

	legCtx, cancel := context.WithTimeout(ctx, uc.opts.LegTimeout)
	defer cancel()

	start := time.Now()
	hits, err := search(legCtx)
	out := legOutcome{
		dispatched: true,
		report: domain.LegReport{
			Leg:        leg,
			Fallback:   fallback,
			DurationMS: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	}

	switch {
	case err != nil:
		out.err = err
		out.report.Status = domain.LegFailed
		if errors.Is(legCtx.Err(), context.DeadlineExceeded) {
			out.report.Status = domain.LegTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(out.report.Status))
		slog.Warn("retrieval_leg_failed",
			"leg", string(leg),
			"status", string(out.report.Status),
			"fallback", fallback,
			"duration_ms", out.report.DurationMS,
			"error", err,
		)
	case len(hits) == 0:
		out.report.Status = domain.LegEmpty
	default:
		out.hits = hits
		out.report.Status = domain.LegOK
		out.report.Hits = len(hits)
	}
	return out
}

// hydrate resolves fused candidates against the canonical chunk store and
// drops hits that are unknown, tombstoned or not attributable.
func (uc *RetrieveUseCase) hydrate(ctx context.Context, fused []fusedCandidate, filters domain.SearchFilters) ([]domain.SearchResult, error) {
	ids := make([]string, len(fused))
	for i, c := range fused {
		ids[i] = c.chunkID
	}
	stored, err := uc.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "hydrate results", err)
	}

	ranked := make([]rankedResult, 0, len(fused))
	for _, c := range fused {
		chunk, ok := stored[c.chunkID]
		if !ok {
			slog.Warn("retrieval_hit_unresolved", "chunk_id", c.chunkID)
			continue
		}
		if chunk.Tombstoned {
			continue
		}
		if !chunk.HasProvenance() {
			slog.Warn("retrieval_hit_dropped",
				"chunk_id", c.chunkID,
				"error", domain.WrapError(domain.ErrProvenanceMissing, "hydrate results", fmt.Errorf("chunk %s", c.chunkID)),
			)
			continue
		}

		hits, wanted := filterMatchCount(filters, chunk)
		raw, norm := c.rawAndNormalized()
		ranked = append(ranked, rankedResult{
			filterHits: hits,
			result: domain.SearchResult{
				ChunkID:          chunk.ID,
				Text:             chunk.Text,
				DocumentID:       chunk.DocumentID,
				SourceName:       chunk.SourceName,
				PageNumber:       chunk.PageNumber,
				Pages:            chunk.Pages,
				ChunkIndex:       chunk.ChunkIndex,
				Type:             chunk.Type,
				RawScore:         raw,
				NormalizedScore:  norm,
				FusedScore:       c.fused,
				MethodOrigin:     c.origin(),
				ExactFilterMatch: wanted > 0 && hits == wanted,
			},
		})
	}

	sortResults(ranked)
	out := make([]domain.SearchResult, len(ranked))
	for i, r := range ranked {
		out[i] = r.result
	}
	return out, nil
}

// queryVector embeds the original query at most once per request.
type queryVector struct {
	embedder  ports.Embedder
	text      string
	dimension int

	once sync.Once
	vec  []float32
	err  error
}

func (q *queryVector) get(ctx context.Context) ([]float32, error) {
	q.once.Do(func() {
		vec, err := q.embedder.EmbedQuery(ctx, q.text)
		switch {
		case err != nil:
			q.err = domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", err)
		case q.dimension > 0 && len(vec) != q.dimension:
			q.err = domain.WrapError(domain.ErrDimensionMismatch, "embed query", fmt.Errorf("got %d, index expects %d", len(vec), q.dimension))
		default:
			q.vec = vec
		}
	})
	return q.vec, q.err
}

type noopObserver struct{}

func (noopObserver) ObserveLeg(domain.LegReport) {}
func (noopObserver) ObserveRetrieval(*domain.RetrievalResponse, time.Duration) {}

package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/fin-retrieval/internal/config"
	"github.com/kirillkom/fin-retrieval/internal/core/domain"
	"github.com/kirillkom/fin-retrieval/internal/core/lexicon"
	"github.com/kirillkom/fin-retrieval/internal/core/ports"
	"github.com/kirillkom/fin-retrieval/internal/core/usecase"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/chunking"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/embedding/ollama"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/extractor"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/extractor/elements"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/extractor/xlsx"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/lexical/sqlitefts"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/metadata"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/queue/nats"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/resilience"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/fin-retrieval/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/fin-retrieval/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue      ports.MessageQueue
	Documents  ports.DocumentReader
	IngestUC   ports.DocumentIngestor
	ProcessUC  ports.DocumentProcessor
	RetrieveUC ports.Retriever

	closers []func() error
}

// Options carries per-binary wiring. A nil Registerer disables metrics.
type Options struct {
	Service    string
	Registerer prometheus.Registerer
}

func New(ctx context.Context, cfg config.Config, opts Options) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	lex, err := lexicon.Load(cfg.LexiconPath)
	if err != nil {
		return nil, fmt.Errorf("load lexicon: %w", err)
	}
	classifier := usecase.NewQueryClassifier(lex)
	if err := checkRouting(classifier, lex, cfg.RoutingCeiling); err != nil {
		return nil, err
	}
	normalization, err := usecase.ParseNormalization(cfg.RetrievalNormalization)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closers = append(app.closers, db.Close)
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	chunkStore := postgres.NewChunkStore(db)

	lexicalIndex, err := newLexicalIndex(cfg, db)
	if err != nil {
		return nil, err
	}
	if closer, ok := lexicalIndex.(interface{ Close() error }); ok {
		app.closers = append(app.closers, closer.Close)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	resilienceCfg := resilience.ConfigFor(cfg.ResilienceRetryAttempts, cfg.ResilienceBreaker)
	var observer ports.RetrievalObserver
	if opts.Registerer != nil {
		resilienceCfg.OnStateChange = metrics.NewBreakerMetrics(opts.Service, opts.Registerer).ObserveStateChange
		observer = metrics.NewRetrievalMetrics(opts.Service, opts.Registerer)
	}
	executor := resilience.NewExecutor(resilienceCfg)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.closers = append(app.closers, func() error {
		queue.Close()
		return nil
	})

	dense, err := qdrant.New(cfg.QdrantAddr, cfg.QdrantCollection)
	if err != nil {
		return nil, fmt.Errorf("init dense index: %w", err)
	}
	dense.WithExecutor(executor)
	app.closers = append(app.closers, dense.Close)
	if err := ensureDenseDimension(ctx, dense, cfg.EmbeddingDim); err != nil {
		return nil, err
	}

	embedder := ollama.NewEmbedder(ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, cfg.OllamaTimeout, executor))

	chunker := chunking.New(chunking.Options{
		ChunkSize:    cfg.ChunkSize,
		Overlap:      cfg.ChunkOverlap,
		TableCeiling: cfg.TableTokenCeiling,
	})
	dispatcher := extractor.NewDispatcher(storage, map[string]extractor.Parser{
		domain.MimeElementsJSON: elements.NewParser(),
		domain.MimePlainText:    plaintext.NewParser(),
		domain.MimePDF:          pdftext.NewParser(),
		domain.MimeXLSX:         xlsx.NewParser(),
	}, cfg.MaxUploadBytes)

	app.Queue = queue
	app.Documents = usecase.NewDocumentQueryUseCase(repo, chunkStore)
	app.IngestUC = usecase.NewIngestDocumentUseCase(repo, storage, queue)
	app.ProcessUC = usecase.NewProcessDocumentUseCase(
		repo,
		dispatcher,
		chunker,
		metadata.NewLexiconExtractor(lex),
		embedder,
		chunkStore,
		dense,
		lexicalIndex,
		usecase.ProcessOptions{
			EmbeddingDimension: cfg.EmbeddingDim,
			EmbedBatchSize:     cfg.EmbedBatchSize,
		},
	)
	app.RetrieveUC = usecase.NewRetrieveUseCase(
		classifier,
		embedder,
		dense,
		lexicalIndex,
		chunkStore,
		observer,
		usecase.RetrievalOptions{
			Alpha:               cfg.RetrievalAlpha,
			Normalization:       normalization,
			LegTimeout:          cfg.RetrievalLegTimeout,
			RequestBudget:       cfg.RetrievalBudget,
			DefaultTopK:         cfg.RetrievalTopK,
			MaxTopK:             cfg.RetrievalMaxTopK,
			CandidateMultiplier: cfg.RetrievalCandidates,
			EmbeddingDimension:  cfg.EmbeddingDim,
		},
	)
	return app, nil
}

func newLexicalIndex(cfg config.Config, db *sql.DB) (ports.LexicalIndex, error) {
	switch cfg.LexicalBackend {
	case config.LexicalBackendSQLite:
		idx, err := sqlitefts.Open(cfg.LexicalSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite lexical index: %w", err)
		}
		return idx, nil
	case config.LexicalBackendPostgres:
		return postgres.NewLexicalIndex(db), nil
	default:
		return nil, fmt.Errorf("unknown lexical backend %q", cfg.LexicalBackend)
	}
}

// ensureDenseDimension fails startup when the collection was built for a
// different embedding dimension. An unreachable index only warns; the
// worker creates the collection on first ingestion.
func ensureDenseDimension(ctx context.Context, dense ports.DenseIndex, dimension int) error {
	if dimension <= 0 {
		return nil
	}
	err := dense.EnsureCollection(ctx, dimension)
	switch {
	case err == nil:
		return nil
	case domain.IsKind(err, domain.ErrDimensionMismatch):
		return fmt.Errorf("dense index: %w", err)
	default:
		slog.Warn("dense_index_check_skipped", "dimension", dimension, "error", err)
		return nil
	}
}

// checkRouting refuses to start when the vocabulary would send too many
// dense-only questions to the lexical leg.
func checkRouting(classifier *usecase.QueryClassifier, lex *lexicon.Lexicon, ceiling float64) error {
	report, err := usecase.CheckRouting(classifier, lex.RoutingSamples(), ceiling)
	for _, m := range report.Mismatches {
		slog.Warn("routing_sample_mismatch", "detail", m)
	}
	if err != nil {
		return fmt.Errorf("routing check: %w", err)
	}
	slog.Info("routing_check_passed",
		"samples", report.Total,
		"lexical_dominant", report.LexicalDominant,
		"share", report.Share,
	)
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("shutdown_close_failed", "error", err)
		}
	}
	a.closers = nil
}

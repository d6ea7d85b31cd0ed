// Package app wires the copilot's components from a Config.
package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/rendis/copilot/internal/cache"
	"github.com/rendis/copilot/internal/metrics"
	"github.com/rendis/copilot/internal/nodes"
	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/internal/retrieval"
	"github.com/rendis/copilot/internal/store"
	"github.com/rendis/copilot/internal/streaming"
	"github.com/rendis/copilot/internal/validation"
	"github.com/rendis/copilot/internal/warehouse"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

// App holds the wired components. Store and Events are nil when the run
// store is disabled.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Warehouse *warehouse.Warehouse
	Index     *retrieval.Index
	Store     *store.LibSQLStore
	Events    *store.EventLog
	Graph     *workflow.Graph
	Engine    *workflow.Engine
	Validator *validation.RecordValidator
	Hub       *streaming.MemoryHub
	Guard     *reasoning.Guarded

	cache    cache.Cache
	tracer   *sdktrace.TracerProvider
	traceOut io.Closer
}

// New opens every resource named by cfg and builds the engine. On failure,
// whatever was already opened is closed.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New(), Hub: streaming.NewMemoryHub(), cache: cache.Nop{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		if a.tracer, a.traceOut, err = newTracerProvider(cfg.Tracing); err != nil {
			return nil, err
		}
	}

	if a.Warehouse, err = warehouse.Open(ctx, cfg.DBPath, logger); err != nil {
		return nil, err
	}

	chunks, err := loadCorpus(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Index = retrieval.NewIndex(chunks)
	logger.InfoContext(ctx, "corpus indexed", "docs_dir", cfg.DocsDir, "chunks", len(chunks))

	if cfg.StorePath != "" {
		if a.Store, a.Events, err = OpenRunStore(ctx, cfg.StorePath); err != nil {
			return nil, err
		}
	}

	if a.cache, err = openCache(ctx, cfg.Cache, logger); err != nil {
		return nil, err
	}

	predictor, err := a.buildPredictor(cfg, logger)
	if err != nil {
		return nil, err
	}

	if a.Validator, err = validation.NewRecordValidator(); err != nil {
		return nil, err
	}
	if a.Graph, err = workflow.DefaultGraph(); err != nil {
		return nil, err
	}

	bound := nodes.Build(nodes.Deps{
		Predictor: predictor,
		Searcher:  a.Index,
		Runner:    &MeteredRunner{Runner: a.Warehouse, Metrics: a.Metrics},
		Schema:    a.Warehouse,
		TopK:      cfg.Retrieval.TopK,
		Logger:    logger,
	})
	opts := []workflow.Option{workflow.WithMetrics(a.Metrics), workflow.WithLogger(logger)}
	if a.Store != nil {
		opts = append(opts, workflow.WithRecorder(a.Store))
	}
	if a.tracer != nil {
		opts = append(opts, workflow.WithTracer(a.tracer.Tracer(tracerName)))
	}
	if a.Engine, err = workflow.NewEngine(a.Graph, bound, opts...); err != nil {
		return nil, err
	}
	return a, nil
}

// buildPredictor stacks the model backend: raw client, then the call guard,
// then the reply cache.
func (a *App) buildPredictor(cfg Config, logger *slog.Logger) (reasoning.Predictor, error) {
	raw, err := reasoning.NewLM(cfg.LLM.BackendConfig())
	if err != nil {
		return nil, err
	}
	a.Guard = reasoning.NewGuarded(raw, cfg.LLM.GuardConfig(),
		reasoning.WithCallObserver(a.Metrics.ObserveCall),
		reasoning.WithGuardLogger(logger))

	var lm reasoning.LM = a.Guard
	if cfg.Cache.Backend != CacheNone {
		lm = reasoning.NewCached(a.Guard, a.cache, cfg.Cache.TTL, logger)
	}
	logger.Info("reasoning backend ready", "backend", lm.Name(), "cache", cfg.Cache.Backend)
	return reasoning.NewProgram(lm, logger), nil
}

// Reindex reloads the corpus and swaps it into the live index.
func (a *App) Reindex(ctx context.Context) error {
	chunks, err := loadCorpus(a.Config, a.Logger)
	if err != nil {
		return err
	}
	a.Index.Replace(chunks)
	a.Logger.InfoContext(ctx, "corpus reindexed", "chunks", len(chunks))
	return nil
}

// Close releases every opened resource and reports all failures.
func (a *App) Close() error {
	var errs *multierror.Error
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = multierror.Append(errs, shutdownTracer(ctx, a.tracer, a.traceOut))
		cancel()
		a.tracer = nil
	}
	if a.cache != nil {
		errs = multierror.Append(errs, a.cache.Close())
		a.cache = nil
	}
	if a.Store != nil {
		errs = multierror.Append(errs, a.Store.Close())
		a.Store = nil
	}
	if a.Warehouse != nil {
		errs = multierror.Append(errs, a.Warehouse.Close())
		a.Warehouse = nil
	}
	return errs.ErrorOrNil()
}

// OpenRunStore opens and migrates the run store at path.
func OpenRunStore(ctx context.Context, path string) (*store.LibSQLStore, *store.EventLog, error) {
	st, err := store.NewLibSQLStore(fileURI(path))
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, store.NewEventLog(st), nil
}

func fileURI(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path
}

func loadCorpus(cfg Config, logger *slog.Logger) ([]retrieval.Chunk, error) {
	return retrieval.LoadCorpus(cfg.DocsDir, retrieval.LoaderConfig{MaxChunk: cfg.Retrieval.MaxChunk}, logger)
}

func openCache(ctx context.Context, cfg CacheConfig, logger *slog.Logger) (cache.Cache, error) {
	switch cfg.Backend {
	case CacheBadger:
		b, err := cache.OpenBadger(cache.BadgerConfig{Path: cfg.Path, Logger: logger})
		if err != nil {
			return nil, err
		}
		return b, nil
	case CacheRedis:
		r, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return r, nil
	case CacheNone, "":
		return cache.Nop{}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown cache backend %q", cfg.Backend)
	}
}

// EnvelopeRunner runs one guarded query. Satisfied by *warehouse.Warehouse.
type EnvelopeRunner interface {
	Run(ctx context.Context, query string) warehouse.Envelope
}

// MeteredRunner counts query outcomes before handing the envelope to the executor node.
type MeteredRunner struct {
	Runner  EnvelopeRunner
	Metrics *metrics.Metrics
}

// Execute runs query and encodes its envelope.
func (r *MeteredRunner) Execute(ctx context.Context, query string) ([]byte, error) {
	env := r.Runner.Run(ctx, query)
	r.Metrics.ObserveQuery(env.Status)
	return json.Marshal(env)
}

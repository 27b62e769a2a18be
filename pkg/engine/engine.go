// Package engine is the memory engine facade: the single entry point the HTTP,
// MCP and CLI front-ends call. It owns the record store, lineage, entity graph,
// search orchestrator and audit ledgers, and enforces project scoping on every call.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dan-solli/mnemo/pkg/chunker"
	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/embeddings"
	"github.com/dan-solli/mnemo/pkg/events"
	"github.com/dan-solli/mnemo/pkg/extraction"
	"github.com/dan-solli/mnemo/pkg/logging"
	"github.com/dan-solli/mnemo/pkg/metrics"
	"github.com/dan-solli/mnemo/pkg/search"
	"github.com/dan-solli/mnemo/pkg/store"
	"github.com/dan-solli/mnemo/pkg/trace"
)

// DefaultQueueSize is the ingestion queue buffer when Options.QueueSize is unset.
const DefaultQueueSize = 256

// Options configures an Engine. Only Config is required.
type Options struct {
	// Config supplies live settings and is the target of config patches and rollback.
	Config *config.Manager

	// DB overrides opening Config.Storage.Path. The engine does not close an injected DB.
	DB *sql.DB

	// Embedder overrides the provider built from the embeddings config.
	Embedder embeddings.EmbeddingClient

	// Vectors overrides the vector backend selected by embeddings.backend.
	Vectors store.VectorStore

	// Reranker defaults to search.TermOverlapReranker.
	Reranker search.Reranker

	// InMemoryLedgers keeps the audit ledgers in process memory. Also enabled by ledgers.in_memory.
	InMemoryLedgers bool

	// Metrics overrides the collector chosen by metrics.enabled.
	Metrics metrics.Collector

	// Tracer overrides the exporter chosen by tracing.path.
	Tracer trace.Exporter

	Logger *slog.Logger

	// LevelVar, when set, follows log_level patches.
	LevelVar *slog.LevelVar

	QueueSize int
}

// Engine is the memory engine facade.
type Engine struct {
	cfg      *config.Manager
	db       *sql.DB
	ownsDB   bool
	records  *store.SQLiteRecordStore
	graph    *store.SQLiteGraphStore
	vectors  store.VectorStore
	embedder *switchableEmbedder
	searcher *search.Orchestrator

	configLedger store.ConfigAuditLedger
	maintLedger  store.MaintenanceLedger

	bus      *events.Bus
	metrics  metrics.Collector
	registry *prometheus.Registry
	tracer   trace.Exporter
	logger   *slog.Logger
	levelVar *slog.LevelVar

	chunker   chunker.Chunker
	entities  *extraction.EntityExtractor
	relations *extraction.RelationExtractor
	ingest    *ingestor

	closeOnce sync.Once
	closeErr  error
}

// New opens storage and wires every component from opts.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, errors.New("engine: config manager is required")
	}
	cfg := opts.Config.Current()

	e := &Engine{
		cfg:       opts.Config,
		db:        opts.DB,
		bus:       events.NewBus(),
		logger:    logging.OrDefault(opts.Logger),
		levelVar:  opts.LevelVar,
		chunker:   chunker.Chunker{},
		entities:  extraction.NewEntityExtractor(),
		relations: extraction.NewRelationExtractor(),
	}

	if e.db == nil {
		db, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		e.db = db
		e.ownsDB = true
	}
	e.records = store.NewSQLiteRecordStore(e.db)
	e.graph = store.NewSQLiteGraphStore(e.db)

	if err := e.initObservability(opts, cfg); err != nil {
		e.closeStorage()
		return nil, err
	}

	vectors, err := e.selectVectors(opts, cfg)
	if err != nil {
		e.closeStorage()
		return nil, err
	}
	e.vectors = vectors

	e.embedder, err = newSwitchableEmbedder(opts.Embedder, cfg.Embeddings)
	if err != nil {
		e.closeStorage()
		return nil, err
	}

	if opts.InMemoryLedgers || cfg.Ledgers.InMemory {
		e.configLedger = store.NewMemoryConfigLedger()
		e.maintLedger = store.NewMemoryMaintenanceLedger()
	} else {
		e.configLedger = store.NewSQLiteConfigLedger(e.db)
		e.maintLedger = store.NewSQLiteMaintenanceLedger(e.db)
	}

	reranker := opts.Reranker
	if reranker == nil {
		reranker = search.TermOverlapReranker{}
	}
	e.searcher = search.New(search.Options{
		Lexical:  e.records,
		Records:  e.records,
		Embedder: e.embedder,
		Vectors:  e.vectors,
		Reranker: reranker,
		Settings: e.searchSettings,
		Metrics:  e.metrics,
		Logger:   e.logger.With("component", "search"),
	})

	e.cfg.OnChange(e.onConfigChange)

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e.ingest = newIngestor(e, queueSize)

	e.logger.Info("engine started",
		"storage", cfg.Storage.Path,
		"embeddings", cfg.Embeddings.Enabled,
		"vector_backend", cfg.Embeddings.Backend,
		"in_memory_ledgers", opts.InMemoryLedgers || cfg.Ledgers.InMemory)
	return e, nil
}

func (e *Engine) initObservability(opts Options, cfg config.Config) error {
	switch {
	case opts.Metrics != nil:
		e.metrics = opts.Metrics
	case cfg.Metrics.Enabled:
		e.metrics = metrics.NewCollector()
	default:
		e.metrics = metrics.NewNoopCollector()
	}
	if pc, ok := e.metrics.(*metrics.PrometheusCollector); ok {
		e.registry = pc.Registry()
	}

	if opts.Tracer != nil {
		e.tracer = opts.Tracer
		return nil
	}
	exporter, err := trace.NewFileExporter(cfg.Tracing.Path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	e.tracer = exporter
	return nil
}

func (e *Engine) selectVectors(opts Options, cfg config.Config) (store.VectorStore, error) {
	if opts.Vectors != nil {
		return opts.Vectors, nil
	}
	switch cfg.Embeddings.Backend {
	case "memory":
		return store.NewMemoryVectorStore(), nil
	case "chromem":
		return store.NewChromemVectorStore()
	default:
		return store.NewSQLiteVectorStore(e.db), nil
	}
}

func (e *Engine) searchSettings() search.Settings {
	cfg := e.cfg.Current()
	return search.Settings{
		DefaultLimit:        cfg.Search.DefaultLimit,
		MaxLimit:            cfg.Search.MaxLimit,
		LexicalWeight:       cfg.Search.LexicalWeight,
		SimilarityWeight:    cfg.Search.SimilarityWeight,
		SimilarityEnabled:   cfg.Embeddings.Enabled,
		SimilarityTimeout:   cfg.Search.SimilarityTimeout,
		RerankEnabled:       cfg.Search.RerankEnabled,
		RerankTopN:          cfg.Search.RerankTopN,
		RecencyHalfLifeDays: cfg.Search.RecencyHalfLifeDays,
	}
}

func (e *Engine) onConfigChange(cfg config.Config) {
	if e.levelVar != nil {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			e.levelVar.Set(level)
		}
	}
	if err := e.embedder.reconfigure(cfg.Embeddings); err != nil {
		e.logger.Warn("failed to rebuild embedding client", "error", err)
	}
	e.bus.Publish(events.Event{Kind: events.ConfigChanged, Data: cfg})
}

// Config returns the live configuration.
func (e *Engine) Config() config.Config {
	return e.cfg.Current()
}

// ConfigManager returns the configuration manager the engine reads from.
func (e *Engine) ConfigManager() *config.Manager {
	return e.cfg
}

// Subscribe registers a lifecycle event subscription. Close it when done.
func (e *Engine) Subscribe(buffer int, kinds ...events.Kind) *events.Subscription {
	return e.bus.Subscribe(buffer, kinds...)
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// WaitIdle blocks until every queued ingestion job has been processed or ctx ends.
func (e *Engine) WaitIdle(ctx context.Context) error {
	return e.ingest.waitIdle(ctx)
}

// Close stops intake, drains the ingestion queue, then closes the event bus,
// the trace exporter and storage. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		start := time.Now()
		e.ingest.close()
		e.bus.Close()
		e.embedder.close()

		var errs []error
		if err := e.tracer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace exporter: %w", err))
		}
		if err := e.closeStorage(); err != nil {
			errs = append(errs, err)
		}
		e.closeErr = errors.Join(errs...)
		e.logger.Info("engine stopped", "duration", time.Since(start))
	})
	return e.closeErr
}

func (e *Engine) closeStorage() error {
	if !e.ownsDB || e.db == nil {
		return nil
	}
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

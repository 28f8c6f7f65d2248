// Package app assembles the knowledge store from configuration. The server and the
// CLI both open an App and use its components.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/crosssilo"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/extraction"
	"github.com/hyperjump/kura/internal/indexer"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/oracle"
	"github.com/hyperjump/kura/internal/patterns"
	"github.com/hyperjump/kura/internal/repository"
	"github.com/hyperjump/kura/internal/search"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/store"
	"github.com/hyperjump/kura/internal/vector"
	"github.com/hyperjump/kura/internal/watcher"
	kuraerr "github.com/hyperjump/kura/pkg/errors"
	"github.com/hyperjump/kura/pkg/utils"
)

// App holds initialized services. Fields are set by Open and must not be replaced.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Storage   *storage.SQLiteStorage
	Vectors   *vector.Factory
	Embedder  embedding.Embedder
	Oracle    oracle.Oracle
	Extractor *extraction.Extractor
	Keyword   *keyword.BleveIndex
	Repo      *repository.Repository
	Patterns  *patterns.Store
	CrossSilo *crosssilo.Index
	Indexer   *indexer.Indexer
	Engine    *search.Engine
	Watcher   *watcher.Watcher

	closers []func() error
}

// Option customizes Open.
type Option func(*openOptions)

type openOptions struct {
	oracle  oracle.Oracle
	metrics *metrics.Metrics
}

// WithOracle uses o instead of the configured provider.
func WithOracle(o oracle.Oracle) Option {
	return func(opts *openOptions) { opts.oracle = o }
}

// WithMetrics records into m instead of a fresh registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(opts *openOptions) { opts.metrics = m }
}

// Open builds every component described by cfg. On error, whatever was already opened
// is closed again.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	o := openOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger = utils.LoggerOrNop(logger)
	a := &App{Config: cfg, Logger: logger, Metrics: o.metrics}
	if a.Metrics == nil {
		a.Metrics = metrics.New()
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	for _, dir := range []string{filepath.Dir(cfg.Storage.DatabasePath), cfg.Storage.IndexPath, filepath.Dir(cfg.Storage.KeywordIndexPath)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, kuraerr.Wrapf(err, kuraerr.CodeConfig, "failed to create data directory %s", dir)
		}
	}

	if a.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.closers = append(a.closers, a.Storage.Close)

	a.Embedder, err = embedding.New(embedding.Options{
		Provider:   cfg.Embedding.Provider,
		ModelPath:  cfg.Embedding.ModelPath,
		Model:      cfg.Embedding.Model,
		CacheDir:   cfg.Embedding.CacheDir,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.closers = append(a.closers, a.Embedder.Close)

	a.Vectors, err = vector.NewFactory(vector.Options{
		Type:       cfg.Vector.IndexType,
		Dimensions: a.Embedder.Dimensions(),
		Path:       cfg.Storage.IndexPath,
		QdrantHost: cfg.Vector.QdrantHost,
		QdrantPort: cfg.Vector.QdrantPort,
		QdrantTLS:  cfg.Vector.QdrantTLS,
		Compress:   cfg.Vector.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector backend: %w", err)
	}
	a.closers = append(a.closers, a.Vectors.Close)
	logger.Info("vector backend initialized", zap.String("type", a.Vectors.Type()), zap.Int("dimensions", a.Embedder.Dimensions()))

	a.Oracle = o.oracle
	if a.Oracle == nil {
		if a.Oracle, err = oracle.New(ctx, cfg.Oracle, logger); err != nil {
			return nil, err
		}
	}
	a.Extractor = extraction.New(a.Oracle,
		extraction.WithLogger(logger),
		extraction.WithMetrics(a.Metrics),
		extraction.WithMaxLengths(cfg.Knowledge.ExtractMaxLen, cfg.Knowledge.PatternMaxLen))

	mainStore, err := a.openStore(ctx, cfg.Knowledge.Collection)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, mainStore.Close)
	patternStore, err := a.openStore(ctx, cfg.Knowledge.PatternsCollection)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, patternStore.Close)

	if a.Keyword, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath); err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	a.closers = append(a.closers, a.Keyword.Close)
	a.Repo = repository.New(mainStore, repository.WithLogger(logger), repository.WithKeywordIndex(a.Keyword))

	a.Patterns = patterns.New(patternStore, a.Extractor,
		patterns.WithLogger(logger),
		patterns.WithMetrics(a.Metrics),
		patterns.WithTopN(cfg.Knowledge.TopElements, cfg.Knowledge.TopStrategies))
	a.CrossSilo = crosssilo.New(a.Extractor,
		crosssilo.WithLogger(logger),
		crosssilo.WithMetrics(a.Metrics),
		crosssilo.WithWorkers(cfg.Knowledge.Workers))

	idxOpts := []indexer.IndexerOption{
		indexer.WithLogger(logger),
		indexer.WithMetrics(a.Metrics),
		indexer.WithFileExtractor(extract.NewExtractor()),
		indexer.WithPruneOnDelete(cfg.Knowledge.PruneOnDelete),
	}
	if cfg.Knowledge.AsyncExtraction {
		idxOpts = append(idxOpts, indexer.WithAsync(cfg.Knowledge.Workers))
	}
	a.Indexer = indexer.NewIndexer(a.Repo, a.CrossSilo, a.Patterns, idxOpts...)

	a.Engine = search.NewEngine(a.Repo, a.Patterns, a.CrossSilo, a.Extractor, a.Extractor,
		search.WithLogger(logger),
		search.WithMetrics(a.Metrics),
		search.WithCorrelationScore(cfg.Knowledge.CorrelationScore),
		search.WithPatternK(cfg.Knowledge.PatternSearchK))
	return a, nil
}

func (a *App) openStore(ctx context.Context, collection string) (*store.Store, error) {
	idx, err := a.Vectors.Open(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index for %s: %w", collection, err)
	}
	return store.New(collection, a.Storage, idx, a.Embedder,
		store.WithLogger(a.Logger), store.WithMetrics(a.Metrics)), nil
}

// Start restores derived state. The cross-silo index is replayed through the entity
// extractor only when knowledge.rebuild_on_start is enabled.
func (a *App) Start(ctx context.Context) (*indexer.RebuildReport, error) {
	return a.Indexer.Rebuild(ctx, a.Config.Knowledge.RebuildOnStartOrDefault())
}

// StartWatcher watches the configured inbox directories. It is a no-op without any.
func (a *App) StartWatcher(ctx context.Context) error {
	if len(a.Config.Watch.Directories) == 0 {
		return nil
	}
	a.Watcher = watcher.New(a.Indexer, a.Config.Watch.Directories, a.Config.Watch.Extensions,
		a.Config.Watch.RecursiveOrDefault(), watcher.WithLogger(a.Logger))
	if err := a.Watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	go a.Watcher.SyncExistingFiles()
	return nil
}

// Close stops the watcher, drains queued enrichment, flushes vector snapshots and
// releases every backend in reverse order of opening.
func (a *App) Close() error {
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.Indexer != nil {
		a.Indexer.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

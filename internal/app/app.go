// Package app assembles the catalog store, retrieval components, synergy
// cache and ambient services into one runnable unit shared by the MCP server
// and the command line tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/cardsynergy-mcp/internal/config"
	"github.com/dshills/cardsynergy-mcp/internal/embedder"
	"github.com/dshills/cardsynergy-mcp/internal/index"
	"github.com/dshills/cardsynergy-mcp/internal/indexer"
	"github.com/dshills/cardsynergy-mcp/internal/intent"
	"github.com/dshills/cardsynergy-mcp/internal/metrics"
	"github.com/dshills/cardsynergy-mcp/internal/notify"
	"github.com/dshills/cardsynergy-mcp/internal/searcher"
	"github.com/dshills/cardsynergy-mcp/internal/storage"
	"github.com/dshills/cardsynergy-mcp/internal/synergy"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// App owns every long-lived component. Close releases them in reverse order.
type App struct {
	Config     config.Config
	Store      *storage.SQLiteStorage
	Embedder   *embedder.Breaker // Nil when no provider could be created
	Index      *index.Index
	Classifier *intent.Classifier
	Cache      *synergy.Cache
	Builder    *synergy.Builder
	Searcher   *searcher.Searcher
	Indexer    *indexer.Indexer
	Metrics    *metrics.Metrics
	Publisher  notify.Publisher

	logger *slog.Logger
}

// Option customizes assembly, mainly for tests
type Option func(*options)

type options struct {
	embedder  *embedder.Breaker
	publisher notify.Publisher
}

// WithEmbedder uses e instead of building one from configuration
func WithEmbedder(e *embedder.Breaker) Option {
	return func(o *options) { o.embedder = e }
}

// WithPublisher uses p instead of connecting to NATS
func WithPublisher(p notify.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New opens storage and wires all components. It does not load data;
// call Refresh before serving queries.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{
		Config:     cfg,
		Store:      store,
		Embedder:   o.embedder,
		Classifier: intent.NewClassifier(nil),
		Cache:      synergy.NewCache(),
		Metrics:    metrics.New(),
		Publisher:  o.publisher,
		logger:     logger,
	}

	if a.Embedder == nil {
		emb, err := embedder.New(cfg.EmbedderSettings(), logger)
		if err != nil {
			// Semantic retrieval degrades to text search; everything else works
			logger.Warn("embedder unavailable, running degraded", "error", err)
		} else {
			a.Embedder = emb
		}
	}

	// Query vectors must match catalog vectors, so the index adopts the
	// embedder's dimension and skips anything else
	dimension := 0
	var queryEmbedder searcher.Embedder
	if a.Embedder != nil {
		dimension = a.Embedder.Dimension()
		queryEmbedder = a.Embedder
	}
	a.Index = index.New(dimension, index.WithLogger(logger))

	if a.Publisher == nil {
		a.Publisher = notify.Noop{}
		if cfg.NATS.URL != "" {
			pub, err := notify.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, notify.Options{Logger: logger})
			if err != nil {
				_ = store.Close()
				return nil, err
			}
			a.Publisher = pub
		}
	}

	builderOpts := []synergy.Option{
		synergy.WithPartitionSize(cfg.Builder.PartitionSize),
		synergy.WithLogger(logger),
		synergy.WithHook(a.afterRebuild),
	}
	if cfg.Builder.PoolSize > 0 {
		builderOpts = append(builderOpts, synergy.WithPoolSize(cfg.Builder.PoolSize))
	}
	a.Builder, err = synergy.NewBuilder(store, a.Cache, builderOpts...)
	if err != nil {
		a.Publisher.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create synergy builder: %w", err)
	}

	var themeEmbedder synergy.Embedder
	if a.Embedder != nil {
		themeEmbedder = a.Embedder
	}
	theme := synergy.NewThemeRelated(store, themeEmbedder, a.Index,
		synergy.WithSeeds(cfg.Search.ThemeSeeds),
		synergy.WithThemeLogger(logger),
	)

	a.Searcher, err = searcher.NewSearcher(searcher.Dependencies{
		Store:      store,
		Embedder:   queryEmbedder,
		Index:      a.Index,
		Classifier: a.Classifier,
		Cache:      a.Cache,
		Theme:      theme,
	},
		searcher.WithCandidateWindow(cfg.Search.CandidateWindow),
		searcher.WithLimits(cfg.Search.DefaultLimit, cfg.Search.MaxLimit),
		searcher.WithDefaultTimeout(cfg.Search.DefaultTimeout),
		searcher.WithResponseCache(cfg.Search.ResponseCacheSize, 0),
		searcher.WithObserver(a.Metrics),
		searcher.WithLogger(logger),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	indexerOpts := []indexer.Option{indexer.WithLogger(logger)}
	if a.Embedder != nil {
		indexerOpts = append(indexerOpts, indexer.WithEmbedder(a.Embedder))
	}
	a.Indexer = indexer.New(store, indexerOpts...)
	return a, nil
}

// Refresh reloads the in-memory views of storage: the embedding index, the
// card name index used for intent resolution and the synergy cache
func (a *App) Refresh(ctx context.Context) error {
	stats, err := a.Index.Reload(ctx, a.Store)
	if err != nil {
		return fmt.Errorf("failed to load embedding index: %w", err)
	}

	cards, err := a.Store.ListCards(ctx)
	if err != nil {
		return fmt.Errorf("failed to load card names: %w", err)
	}
	a.Classifier.SetNames(intent.NewNameIndex(cards))

	loaded, err := a.Cache.LoadFromStore(ctx, a.Store)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		a.logger.Info("synergy cache not built yet, serving from live graph")
	case err != nil:
		return fmt.Errorf("failed to load synergy cache: %w", err)
	case loaded:
		a.recordCache()
	}

	a.Searcher.InvalidateCache()
	a.logger.Info("catalog loaded",
		"cards", stats.Cards,
		"combos", stats.Combos,
		"dimension", stats.Dimension,
		"missing_vectors", stats.MissingVector,
		"cache_loaded", a.Cache.Loaded())
	return nil
}

// Import loads a catalog file and refreshes in-memory views when anything changed
func (a *App) Import(ctx context.Context, path string) (*indexer.Statistics, error) {
	cat, err := indexer.ReadCatalogFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidArgument, err, "read catalog %s", path)
	}
	stats, err := a.Indexer.Import(ctx, cat)
	if err != nil {
		return nil, err
	}
	if stats.Changed() {
		if err := a.Refresh(ctx); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Rebuild recomputes the synergy cache
func (a *App) Rebuild(ctx context.Context) (*synergy.BuildResult, error) {
	return a.Builder.Rebuild(ctx)
}

// afterRebuild runs on every rebuild attempt
func (a *App) afterRebuild(ctx context.Context, result *synergy.BuildResult, err error) {
	if err != nil {
		a.Metrics.ObserveRebuild(0, 0, 0, err)
		return
	}
	a.Metrics.ObserveRebuild(result.Duration, result.Version.RowCount, result.Version.Version, nil)
	a.Searcher.InvalidateCache()

	if err := a.Publisher.PublishCacheRebuilt(ctx, notify.EventFor(result.Version)); err != nil {
		a.logger.Warn("failed to publish cache rebuild", "version", result.Version.Version, "error", err)
	}
}

// HandleCacheRebuilt installs a version committed by another replica
func (a *App) HandleCacheRebuilt(ctx context.Context, event notify.CacheRebuilt) error {
	if cur := a.Cache.Current(); cur != nil && cur.Version.Version >= event.Version {
		return nil
	}
	loaded, err := a.Cache.LoadFromStore(ctx, a.Store)
	if err != nil {
		return err
	}
	if loaded {
		a.recordCache()
		a.Searcher.InvalidateCache()
		a.logger.Info("synergy cache reloaded", "version", event.Version, "build_id", event.BuildID)
	}
	return nil
}

// Subscribe follows rebuilds announced by other replicas until ctx is done.
// Without a NATS connection it just waits.
func (a *App) Subscribe(ctx context.Context) error {
	sub, ok := a.Publisher.(*notify.NATSPublisher)
	if !ok {
		<-ctx.Done()
		return nil
	}
	return sub.Subscribe(ctx, a.HandleCacheRebuilt)
}

func (a *App) recordCache() {
	if snap := a.Cache.Current(); snap != nil {
		a.Metrics.SetCache(snap.Rows(), snap.Version.Version)
	}
}

// Status describes the catalog, the in-memory views and the embedder
type Status struct {
	Storage        *storage.Status
	Index          index.Stats
	IndexLoaded    bool
	CacheLoaded    bool
	CacheVersion   int64
	CacheRows      int
	Rebuilding     bool
	EmbedderState  string
	EmbedderModel  string
	ResponseCached int
	CheckedAt      time.Time
}

// Status reports component health
func (a *App) Status(ctx context.Context) (*Status, error) {
	st, err := a.Store.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := &Status{
		Storage:        st,
		CacheLoaded:    a.Cache.Loaded(),
		Rebuilding:     a.Builder.Building(),
		EmbedderState:  "unavailable",
		ResponseCached: a.Searcher.CacheLen(),
		CheckedAt:      time.Now(),
	}
	out.Index, out.IndexLoaded = a.Index.Stats()
	if snap := a.Cache.Current(); snap != nil {
		out.CacheVersion = snap.Version.Version
		out.CacheRows = snap.Rows()
	}
	if a.Embedder != nil {
		out.EmbedderState = a.Embedder.State()
		out.EmbedderModel = a.Embedder.Provider() + "/" + a.Embedder.Model()
	}
	return out, nil
}

// Search forwards to the executor
func (a *App) Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	return a.Searcher.Search(ctx, req)
}

// RelatedTo forwards to the executor
func (a *App) RelatedTo(ctx context.Context, cardID string, filters *types.Filters, limit int) (*searcher.SearchResponse, error) {
	return a.Searcher.RelatedTo(ctx, cardID, filters, limit)
}

// Close releases the builder pool, the NATS connection, the embedder and storage
func (a *App) Close() error {
	if a.Builder != nil {
		a.Builder.Release()
	}
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	var errList []error
	if a.Embedder != nil {
		errList = append(errList, a.Embedder.Close())
	}
	errList = append(errList, a.Store.Close())
	return errors.Join(errList...)
}

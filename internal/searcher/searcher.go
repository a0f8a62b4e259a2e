package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/cardsynergy-mcp/internal/index"
	"github.com/dshills/cardsynergy-mcp/internal/intent"
	"github.com/dshills/cardsynergy-mcp/internal/synergy"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

const (
	DefaultCandidateWindow = 100
	DefaultLimit           = 20
	MaxLimit               = 100
	DefaultTimeout         = 2 * time.Second
	DefaultCacheSize       = 256
	DefaultCacheTTL        = 5 * time.Minute
)

// Strategy names the retrieval path that produced a response
type Strategy string

const (
	StrategyVector       Strategy = "vector"        // Embedding index over the candidate window
	StrategyText         Strategy = "text"          // Degraded: FTS over names and text
	StrategyListing      Strategy = "listing"       // Degraded: structured filters over the catalog
	StrategySynergyCache Strategy = "synergy_cache" // Precomputed pair cache
	StrategySynergyGraph Strategy = "synergy_graph" // Live combo traversal
	StrategySynergyTheme Strategy = "synergy_theme" // Theme seeds plus traversal
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query     string
	Filters   *types.Filters
	Limit     int           // 0 selects the default
	Threshold float64       // Minimum similarity in [0, 1]
	Timeout   time.Duration // 0 selects the default
	UseCache  bool          // Whether to use the response cache
}

// SearchResponse contains ranked results and how they were produced
type SearchResponse struct {
	Results []types.SearchResult

	Intent   types.Intent
	Kind     types.EntityKind
	Strategy Strategy

	// Synergy target: a card ID or the free-text theme
	TargetCardID string
	Theme        string
	Seeds        []string

	// Degraded is set when vector retrieval was unavailable and results
	// came from a text or structured fallback
	Degraded bool

	Candidates int // Size of the candidate set before filtering
	CacheHit   bool
	Duration   time.Duration
}

// Store is the entity store surface used by the executor
type Store interface {
	synergy.ThemeStore
	GetCombo(ctx context.Context, id string) (*types.Combo, error)
	FindCardsByName(ctx context.Context, name string) ([]*types.Card, error)
	FindCombosByName(ctx context.Context, description string) ([]*types.Combo, error)
	ListCards(ctx context.Context) ([]*types.Card, error)
	ListCombos(ctx context.Context) ([]*types.Combo, error)
	ListFeatures(ctx context.Context) ([]*types.Feature, error)
}

// Embedder turns query text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the embedding index
type VectorSearcher interface {
	Search(ctx context.Context, kind types.EntityKind, vec []float32, k int) ([]index.Hit, error)
}

// ThemeSearcher expands a free-text theme into related cards
type ThemeSearcher interface {
	RelatedToTheme(ctx context.Context, theme string, filters *types.Filters) (*synergy.ThemeResult, error)
}

// Observer receives one call per finished search
type Observer interface {
	ObserveSearch(intent, status string, degraded bool, duration time.Duration)
}

// Dependencies are the collaborators of a Searcher. Store, Classifier and
// Cache are required; Embedder and Index may be nil, which forces the
// degraded paths. Graph and Theme default to implementations over Store.
type Dependencies struct {
	Store      Store
	Embedder   Embedder
	Index      VectorSearcher
	Classifier *intent.Classifier
	Cache      *synergy.Cache
	Graph      synergy.Related
	Theme      ThemeSearcher
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher is the single entry point for queries. It is safe for concurrent use.
type Searcher struct {
	store      Store
	embedder   Embedder
	index      VectorSearcher
	classifier *intent.Classifier
	synCache   *synergy.Cache
	cached     synergy.Related
	graph      synergy.Related
	theme      ThemeSearcher

	window         int
	defaultLimit   int
	maxLimit       int
	defaultTimeout time.Duration
	cacheSize      int
	cacheTTL       time.Duration
	observer       Observer
	logger         *slog.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// Option configures a Searcher
type Option func(*Searcher)

// WithCandidateWindow sets how many vector candidates are retrieved before filtering
func WithCandidateWindow(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithLimits sets the default and maximum result counts
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(s *Searcher) {
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			s.defaultLimit = min(defaultLimit, s.maxLimit)
		}
	}
}

// WithDefaultTimeout sets the deadline applied when a request has none
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

// WithResponseCache sizes the response cache; size 0 keeps the default
func WithResponseCache(size int, ttl time.Duration) Option {
	return func(s *Searcher) {
		if size > 0 {
			s.cacheSize = size
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithObserver reports every search outcome, typically to metrics
func WithObserver(o Observer) Option {
	return func(s *Searcher) {
		s.observer = o
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSearcher creates a new Searcher instance
func NewSearcher(deps Dependencies, opts ...Option) (*Searcher, error) {
	if deps.Store == nil {
		return nil, errors.New("searcher: store is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("searcher: classifier is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("searcher: synergy cache is required")
	}

	s := &Searcher{
		store:          deps.Store,
		embedder:       deps.Embedder,
		index:          deps.Index,
		classifier:     deps.Classifier,
		synCache:       deps.Cache,
		cached:         synergy.NewCacheReader(deps.Cache, deps.Store),
		graph:          deps.Graph,
		theme:          deps.Theme,
		window:         DefaultCandidateWindow,
		defaultLimit:   DefaultLimit,
		maxLimit:       MaxLimit,
		defaultTimeout: DefaultTimeout,
		cacheSize:      DefaultCacheSize,
		cacheTTL:       DefaultCacheTTL,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.graph == nil {
		s.graph = synergy.NewGraphEngine(deps.Store)
	}
	if s.theme == nil {
		s.theme = synergy.NewThemeRelated(deps.Store, deps.Embedder, deps.Index, synergy.WithThemeLogger(s.logger))
	}

	cache, err := lru.New[[32]byte, *cacheEntry](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Search classifies the query and dispatches it. On timeout any partial
// work is discarded and a Timeout error is returned.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		s.observe("", err, false, startTime)
		return nil, err
	}

	cls := s.classifier.Classify(req.Query)

	var key [32]byte
	if req.UseCache {
		key = computeQueryHash(req, s.cacheVersion())
		if cached, ok := s.checkCache(key); ok {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			s.observe(cls.Intent, nil, cached.Degraded, startTime)
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var (
		response *SearchResponse
		err      error
	)
	switch cls.Intent {
	case types.IntentSynergy:
		response, err = s.synergySearch(ctx, req, cls)
	case types.IntentComboDiscovery:
		response, err = s.discoverySearch(ctx, req, discoveryKind(req.Filters, types.KindCombo))
	default:
		response, err = s.discoverySearch(ctx, req, discoveryKind(req.Filters, types.KindCard))
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		err = timeoutError(err, req.Timeout)
		s.observe(cls.Intent, err, false, startTime)
		return nil, err
	}

	response.Intent = cls.Intent
	response.Duration = time.Since(startTime)

	// Degraded answers would outlive the outage that caused them
	if req.UseCache && !response.Degraded {
		s.storeInCache(key, response)
	}

	s.logger.Debug("search completed",
		"intent", cls.Intent,
		"strategy", response.Strategy,
		"results", len(response.Results),
		"degraded", response.Degraded,
		"duration", response.Duration)
	s.observe(cls.Intent, nil, response.Degraded, startTime)
	return response, nil
}

// RelatedTo returns cards co-occurring with cardID, ranked by combo count.
// The cache serves unfiltered lookups when loaded; everything else traverses live.
func (s *Searcher) RelatedTo(ctx context.Context, cardID string, filters *types.Filters, limit int) (*SearchResponse, error) {
	startTime := time.Now()

	if strings.TrimSpace(cardID) == "" {
		return nil, errs.InvalidArgument("card id is required")
	}
	limit, err := s.resolveLimit(limit)
	if err != nil {
		return nil, err
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.defaultTimeout)
	defer cancel()

	rels, strategy, err := s.relatedByCard(ctx, cardID, filters)
	if err == nil {
		var response *SearchResponse
		response, err = s.relationResponse(ctx, rels, limit)
		if err == nil && ctx.Err() == nil {
			response.Intent = types.IntentSynergy
			response.Strategy = strategy
			response.TargetCardID = cardID
			response.Duration = time.Since(startTime)
			s.observe(types.IntentSynergy, nil, false, startTime)
			return response, nil
		}
		if err == nil {
			err = ctx.Err()
		}
	}
	err = timeoutError(err, s.defaultTimeout)
	s.observe(types.IntentSynergy, err, false, startTime)
	return nil, err
}

// InvalidateCache drops every cached response. Called after a cache rebuild.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// validateRequest applies defaults and rejects out-of-range parameters
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return errs.InvalidArgument("query cannot be empty")
	}

	limit, err := s.resolveLimit(req.Limit)
	if err != nil {
		return err
	}
	req.Limit = limit

	if math.IsNaN(req.Threshold) || req.Threshold < 0 || req.Threshold > 1 {
		return errs.InvalidArgument("threshold must be in [0, 1], got %g", req.Threshold)
	}

	if req.Timeout < 0 {
		return errs.InvalidArgument("timeout must be non-negative, got %s", req.Timeout)
	}
	if req.Timeout == 0 {
		req.Timeout = s.defaultTimeout
	}

	return req.Filters.Validate()
}

func (s *Searcher) resolveLimit(limit int) (int, error) {
	if limit == 0 {
		return s.defaultLimit, nil
	}
	if limit < 0 || limit > s.maxLimit {
		return 0, errs.InvalidArgument("limit must be in [1, %d], got %d", s.maxLimit, limit)
	}
	return limit, nil
}

// discoveryKind lets an explicit entity-kind hint override the intent's kind
func discoveryKind(f *types.Filters, fallback types.EntityKind) types.EntityKind {
	if f != nil && f.Kind != "" {
		return f.Kind
	}
	return fallback
}

// timeoutError turns a deadline into the Timeout kind; other errors pass through
func timeoutError(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.CodeTimeout, err, "search exceeded %s", timeout)
	}
	return err
}

func (s *Searcher) observe(in types.Intent, err error, degraded bool, start time.Time) {
	if s.observer == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = "canceled"
	default:
		status = errs.CodeOf(err).String()
	}
	s.observer.ObserveSearch(string(in), status, degraded, time.Since(start))
}

// cacheVersion keys cached responses to the active synergy snapshot
func (s *Searcher) cacheVersion() int64 {
	if snap := s.synCache.Current(); snap != nil {
		return snap.Version.Version
	}
	return 0
}

// relatedByCard selects the cache for unfiltered lookups and the live graph otherwise
func (s *Searcher) relatedByCard(ctx context.Context, cardID string, filters *types.Filters) ([]types.Relation, Strategy, error) {
	if filters.IsZero() && s.synCache.Loaded() {
		rels, err := s.cached.RelatedCards(ctx, cardID, nil)
		if err == nil {
			return rels, StrategySynergyCache, nil
		}
		if !errors.Is(err, errs.ErrServiceUnavailable) {
			return nil, "", err
		}
	}
	rels, err := s.graph.RelatedCards(ctx, cardID, filters)
	if err != nil {
		return nil, "", err
	}
	return rels, StrategySynergyGraph, nil
}

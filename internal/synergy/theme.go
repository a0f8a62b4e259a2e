package synergy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/cardsynergy-mcp/internal/index"
	"github.com/dshills/cardsynergy-mcp/internal/storage"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

const (
	// DefaultThemeSeeds is the number of seed cards a theme expands from
	DefaultThemeSeeds = 5

	defaultThemeFanout = 4
)

// Embedder turns a theme into a query vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher finds nearest entities to a vector
type VectorSearcher interface {
	Search(ctx context.Context, kind types.EntityKind, vec []float32, k int) ([]index.Hit, error)
}

// ThemeStore is the storage surface used by theme expansion
type ThemeStore interface {
	GraphStore
	SearchText(ctx context.Context, kind types.EntityKind, query string, limit int) ([]storage.TextResult, error)
}

// ThemeResult is the aggregated relation set for a free-text theme
type ThemeResult struct {
	Relations []types.Relation
	Seeds     []string
	Degraded  bool // Seeds came from text search because vectors were unavailable
}

// ThemeRelated answers synergy queries whose target is not a card. It finds
// seed cards for the theme, unions their combos and re-ranks the co-occurring
// cards. Precision is lower than a single-card lookup.
type ThemeRelated struct {
	store    ThemeStore
	embedder Embedder
	vectors  VectorSearcher
	seeds    int
	fanout   int
	logger   *slog.Logger
}

// ThemeOption configures a ThemeRelated
type ThemeOption func(*ThemeRelated)

// WithSeeds sets how many seed cards a theme expands from
func WithSeeds(n int) ThemeOption {
	return func(t *ThemeRelated) {
		if n > 0 {
			t.seeds = n
		}
	}
}

// WithFanout bounds concurrent seed traversals
func WithFanout(n int) ThemeOption {
	return func(t *ThemeRelated) {
		if n > 0 {
			t.fanout = n
		}
	}
}

// WithThemeLogger sets a custom logger
func WithThemeLogger(logger *slog.Logger) ThemeOption {
	return func(t *ThemeRelated) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewThemeRelated creates theme expansion over store. embedder and vectors
// may be nil, in which case seeds always come from text search.
func NewThemeRelated(store ThemeStore, embedder Embedder, vectors VectorSearcher, opts ...ThemeOption) *ThemeRelated {
	t := &ThemeRelated{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		seeds:    DefaultThemeSeeds,
		fanout:   defaultThemeFanout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RelatedToTheme returns cards co-occurring with the theme's seed cards,
// excluding the seeds themselves. Each combo counts once per card even
// when it contains several seeds.
func (t *ThemeRelated) RelatedToTheme(ctx context.Context, theme string, filters *types.Filters) (*ThemeResult, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return nil, errs.InvalidArgument("theme is required")
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	seeds, degraded, err := t.seedCards(ctx, theme)
	if err != nil {
		return nil, err
	}
	result := &ThemeResult{Relations: []types.Relation{}, Seeds: seeds, Degraded: degraded}
	if len(seeds) == 0 {
		return result, nil
	}

	perSeed := make([][]*types.Combo, len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.fanout)
	for i, seed := range seeds {
		g.Go(func() error {
			combos, err := t.store.ListCombosContaining(gctx, seed)
			if errors.Is(err, errs.ErrNotFound) {
				// Index and catalog can briefly disagree after a reload
				t.logger.Warn("theme seed missing from catalog", "card_id", seed)
				return nil
			}
			if err != nil {
				return err
			}
			perSeed[i] = combos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	isSeed := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		isSeed[s] = true
	}
	skip := func(id string) bool { return isSeed[id] }

	seen := make(map[string]bool)
	acc := make(map[string]*pairStats)
	for _, combos := range perSeed {
		for _, combo := range combos {
			if seen[combo.ID] {
				continue
			}
			seen[combo.ID] = true
			accumulate(acc, combo, skip)
		}
	}

	rels, err := filterRelations(ctx, t.store, relationsFrom(acc), filters)
	if err != nil {
		return nil, err
	}
	rankRelations(rels)
	result.Relations = rels
	return result, nil
}

// seedCards prefers semantic seeds and falls back to text search when the
// embedder or index is unavailable
func (t *ThemeRelated) seedCards(ctx context.Context, theme string) ([]string, bool, error) {
	if t.embedder != nil && t.vectors != nil {
		hits, err := t.semanticSeeds(ctx, theme)
		if err == nil {
			ids := make([]string, len(hits))
			for i, h := range hits {
				ids[i] = h.ID
			}
			return ids, false, nil
		}
		if !errors.Is(err, errs.ErrServiceUnavailable) {
			return nil, false, err
		}
		t.logger.Warn("semantic seeds unavailable, using text search", "error", err)
	}

	results, err := t.store.SearchText(ctx, types.KindCard, theme, t.seeds)
	if errors.Is(err, errs.ErrInvalidArgument) {
		// Theme has no searchable terms
		return nil, true, nil
	}
	if err != nil {
		return nil, true, err
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, true, nil
}

func (t *ThemeRelated) semanticSeeds(ctx context.Context, theme string) ([]index.Hit, error) {
	vec, err := t.embedder.Embed(ctx, theme)
	if err != nil {
		return nil, err
	}
	return t.vectors.Search(ctx, types.KindCard, vec, t.seeds)
}

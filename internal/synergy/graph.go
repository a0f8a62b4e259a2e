package synergy

import (
	"context"

	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// GraphStore is the storage surface needed for live traversal
type GraphStore interface {
	CardLookup
	ListCombosContaining(ctx context.Context, cardID string) ([]*types.Combo, error)
}

// GraphEngine computes relations by walking combo membership at query time.
// Unlike the cache it applies no minimum co-occurrence count.
type GraphEngine struct {
	store GraphStore
}

// NewGraphEngine creates a live traversal engine over store
func NewGraphEngine(store GraphStore) *GraphEngine {
	return &GraphEngine{store: store}
}

// RelatedCards returns every card sharing at least one combo with cardID,
// ranked by combo count, then average popularity, then card ID.
// An unknown card is NotFound; a known card with no combos yields an empty slice.
func (g *GraphEngine) RelatedCards(ctx context.Context, cardID string, filters *types.Filters) ([]types.Relation, error) {
	if cardID == "" {
		return nil, errs.InvalidArgument("card id is required")
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	combos, err := g.store.ListCombosContaining(ctx, cardID)
	if err != nil {
		return nil, err
	}

	acc := make(map[string]*pairStats)
	skip := func(id string) bool { return id == cardID }
	for _, combo := range combos {
		accumulate(acc, combo, skip)
	}

	rels, err := filterRelations(ctx, g.store, relationsFrom(acc), filters)
	if err != nil {
		return nil, err
	}
	rankRelations(rels)
	return rels, nil
}

package synergy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cardsynergy-mcp/internal/storage"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

func TestCacheReader_NotLoaded(t *testing.T) {
	store, _ := newFixture(t)
	reader := NewCacheReader(NewCache(), store)

	_, err := reader.RelatedCards(context.Background(), "a", nil)
	assert.True(t, errors.Is(err, errs.ErrServiceUnavailable))
}

func TestCacheReader_RelatedCards(t *testing.T) {
	store, _ := newFixture(t)
	cache := NewCache()
	b := newTestBuilder(t, store, cache)
	ctx := context.Background()
	_, err := b.Rebuild(ctx)
	require.NoError(t, err)

	reader := NewCacheReader(cache, store)

	rels, err := reader.RelatedCards(ctx, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, relationIDs(rels))

	rels, err = reader.RelatedCards(ctx, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, relationIDs(rels))
	assert.Equal(t, 3, rels[0].ComboCount)

	// d only has pairs below the threshold
	rels, err = reader.RelatedCards(ctx, "d", nil)
	require.NoError(t, err)
	assert.Empty(t, rels)

	_, err = reader.RelatedCards(ctx, "missing", nil)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	green := types.MustParseColors("G")
	rels, err = reader.RelatedCards(ctx, "a", &types.Filters{Colors: &green})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, relationIDs(rels))

	// Filtering must not disturb the shared snapshot
	rels, err = reader.RelatedCards(ctx, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, relationIDs(rels))
}

func TestCache_AgreesWithGraphAboveThreshold(t *testing.T) {
	store, _ := newFixture(t)
	cache := NewCache()
	b := newTestBuilder(t, store, cache)
	ctx := context.Background()
	_, err := b.Rebuild(ctx)
	require.NoError(t, err)

	reader := NewCacheReader(cache, store)
	engine := NewGraphEngine(store)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		cached, err := reader.RelatedCards(ctx, id, nil)
		require.NoError(t, err)
		live, err := engine.RelatedCards(ctx, id, nil)
		require.NoError(t, err)

		var above []types.Relation
		for _, r := range live {
			if r.ComboCount >= types.MinSynergyComboCount {
				above = append(above, r)
			}
		}
		assert.Equal(t, relationIDs(above), relationIDs(cached), "card %s", id)
	}
}

func TestCache_LoadFromStore(t *testing.T) {
	store, _ := newFixture(t)
	ctx := context.Background()

	fresh := NewCache()
	_, err := fresh.LoadFromStore(ctx, store)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.False(t, fresh.Loaded())

	b := newTestBuilder(t, store, NewCache())
	result, err := b.Rebuild(ctx)
	require.NoError(t, err)

	swapped, err := fresh.LoadFromStore(ctx, store)
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.Equal(t, 2, fresh.Current().Rows())
	assert.Equal(t, result.Version.Fingerprint, fresh.Current().Version.Fingerprint)

	swapped, err = fresh.LoadFromStore(ctx, store)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestCache_SwapIfNewer(t *testing.T) {
	cache := NewCache()
	v2 := NewSnapshot(nil, storage.SynergyVersion{Version: 2})
	v1 := NewSnapshot(nil, storage.SynergyVersion{Version: 1})

	assert.True(t, cache.swapIfNewer(v2))
	assert.False(t, cache.swapIfNewer(v1))
	assert.Equal(t, int64(2), cache.Current().Version.Version)

	prev := cache.Swap(v1)
	assert.Same(t, v2, prev)
}

func TestNewSnapshot_IndexesBothSides(t *testing.T) {
	rows := []types.CardSynergy{
		{CardID1: "a", CardID2: "b", ComboCount: 3, AvgPopularity: 1},
		{CardID1: "a", CardID2: "c", ComboCount: 4, AvgPopularity: 1},
	}
	snap := NewSnapshot(rows, storage.SynergyVersion{Version: 1})

	assert.Equal(t, 2, snap.Rows())
	assert.Equal(t, 3, snap.Cards())
	assert.Equal(t, []string{"c", "b"}, relationIDs(snap.Lookup("a")))
	assert.Equal(t, []string{"a"}, relationIDs(snap.Lookup("b")))
	assert.Nil(t, snap.Lookup("z"))
}

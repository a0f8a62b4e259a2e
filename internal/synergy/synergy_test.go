package synergy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/cardsynergy-mcp/internal/storage"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// newFixture seeds a catalog where a and b share five combos with
// popularities 10..50, a and c share three, and e belongs to no combo.
func newFixture(t *testing.T) (*storage.SQLiteStorage, map[string]int64) {
	t.Helper()
	return newFixtureAt(t, ":memory:")
}

func newFixtureAt(t *testing.T, dbPath string) (*storage.SQLiteStorage, map[string]int64) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cards := []*types.Card{
		{ID: "a", Name: "Ashaya Soul", ColorIdentity: types.Green, ManaValue: 1, TypeLine: "Creature", Types: []string{"creature"}},
		{ID: "b", Name: "Basalt Monolith", ColorIdentity: types.Blue, ManaValue: 2, TypeLine: "Artifact", Types: []string{"artifact"}},
		{ID: "c", Name: "Cradle Keeper", ColorIdentity: types.Green, ManaValue: 3, TypeLine: "Creature", Types: []string{"creature"}},
		{ID: "d", Name: "Dragon Fury", ColorIdentity: types.Red, ManaValue: 5, TypeLine: "Sorcery", Types: []string{"sorcery"}},
		{ID: "e", Name: "Empty Hand", ColorIdentity: types.Black, ManaValue: 4, TypeLine: "Instant", Types: []string{"instant"}},
	}
	for _, c := range cards {
		require.NoError(t, store.UpsertCard(ctx, c))
	}

	features := map[string]int64{}
	for _, name := range []string{"Infinite mana", "Infinite draw"} {
		f := &types.Feature{Name: name, Category: "result"}
		require.NoError(t, store.UpsertFeature(ctx, f))
		features[name] = f.ID
	}
	mana, draw := features["Infinite mana"], features["Infinite draw"]

	combos := []*types.Combo{
		{ID: "c1", CardIDs: []string{"a", "b"}, Popularity: 10, FeatureIDs: []int64{mana}},
		{ID: "c2", CardIDs: []string{"a", "b", "c"}, Popularity: 20, FeatureIDs: []int64{draw}},
		{ID: "c3", CardIDs: []string{"b", "a"}, Popularity: 30},
		{ID: "c4", CardIDs: []string{"a", "b", "c"}, Popularity: 40, FeatureIDs: []int64{mana}},
		{ID: "c5", CardIDs: []string{"a", "b", "d"}, Popularity: 50},
		{ID: "c6", CardIDs: []string{"c", "d"}, Popularity: 5},
		{ID: "c7", CardIDs: []string{"a", "c"}, Popularity: 60},
	}
	for _, c := range combos {
		c.Description = "combo " + c.ID
		require.NoError(t, store.UpsertCombo(ctx, c))
	}
	return store, features
}

func relationIDs(rels []types.Relation) []string {
	ids := make([]string, len(rels))
	for i, r := range rels {
		ids[i] = r.CardID
	}
	return ids
}

func findRelation(rels []types.Relation, id string) (types.Relation, bool) {
	for _, r := range rels {
		if r.CardID == id {
			return r, true
		}
	}
	return types.Relation{}, false
}

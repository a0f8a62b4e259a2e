package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cardsynergy-mcp/internal/storage"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// mockEmbedder returns a fixed vector and can fail for selected texts
type mockEmbedder struct {
	mu        sync.Mutex
	callCount int
	failOn    string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.failOn != "" && strings.Contains(text, m.failOn) {
		return nil, errs.New(errs.CodeServiceUnavailable, "embedding backend down")
	}
	return []float32{0.5, 0.5, 0.5}, nil
}

func newTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleCatalog = `{
  "features": [{"name": "Infinite mana", "category": "resource"}],
  "cards": [
    {"id": "sol-ring", "name": "Sol Ring", "colors": "C", "mana_value": 1, "types": ["Artifact"], "embedding": [1, 0, 0]},
    {"id": "llanowar", "name": "Llanowar Elves", "colors": "G", "mana_value": 1, "type_line": "Creature Elf", "types": ["creature"], "embedding": [0, 1, 0]},
    {"id": "bolt", "name": "Lightning Bolt", "colors": "R", "mana_value": 1, "types": ["instant"]}
  ],
  "combos": [
    {"id": "k1", "card_ids": ["sol-ring", "llanowar"], "description": "Fast mana", "popularity": 10, "features": ["Infinite mana", "Turn one"], "embedding": [1, 1, 0]},
    {"id": "k2", "card_ids": ["llanowar", "bolt"], "description": "Elf burn", "popularity": 3}
  ]
}`

func readSample(t *testing.T) *Catalog {
	t.Helper()
	cat, err := ReadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	return cat
}

func TestReadCatalog(t *testing.T) {
	cat := readSample(t)
	assert.Len(t, cat.Features, 1)
	assert.Len(t, cat.Cards, 3)
	assert.Len(t, cat.Combos, 2)
	assert.Equal(t, []string{"sol-ring", "llanowar"}, cat.Combos[0].CardIDs)

	_, err := ReadCatalog(strings.NewReader(`{"cards": [], "unknown": 1}`))
	assert.Error(t, err)
}

func TestImport(t *testing.T) {
	store := newTestStorage(t)
	emb := &mockEmbedder{}
	idx := New(store, WithEmbedder(emb), WithBatchSize(2), WithLogger(quiet()))
	ctx := context.Background()

	stats, err := idx.Import(ctx, readSample(t))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FeaturesImported)
	assert.Equal(t, 3, stats.CardsImported)
	assert.Equal(t, 2, stats.CombosImported)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 2, stats.Embedded, "bolt and k2 arrive without vectors")
	assert.True(t, stats.Changed())

	sol, err := store.GetCard(ctx, "sol-ring")
	require.NoError(t, err)
	assert.Equal(t, []string{"artifact"}, sol.Types)
	assert.Equal(t, types.Colors(0), sol.ColorIdentity)

	bolt, err := store.GetCard(ctx, "bolt")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0.5}, bolt.Embedding)

	k2, err := store.GetCombo(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, types.Green|types.Red, k2.ColorIdentity)
	assert.Equal(t, 2.0, k2.ManaValue)

	k1, err := store.GetCombo(ctx, "k1")
	require.NoError(t, err)
	assert.Len(t, k1.FeatureIDs, 2)

	features, err := store.ListFeatures(ctx)
	require.NoError(t, err)
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.Name
	}
	assert.ElementsMatch(t, []string{"Infinite mana", "Turn one"}, names)
}

func TestImport_Idempotent(t *testing.T) {
	store := newTestStorage(t)
	emb := &mockEmbedder{}
	idx := New(store, WithEmbedder(emb), WithLogger(quiet()))
	ctx := context.Background()

	_, err := idx.Import(ctx, readSample(t))
	require.NoError(t, err)
	calls := emb.callCount

	stats, err := idx.Import(ctx, readSample(t))
	require.NoError(t, err)
	assert.False(t, stats.Changed())
	assert.Equal(t, 3, stats.CardsSkipped)
	assert.Equal(t, 2, stats.CombosSkipped)
	assert.Equal(t, calls, emb.callCount, "unchanged records are not re-embedded")

	// A changed card is written again
	cat := readSample(t)
	cat.Cards[0].OracleText = "Add two colorless mana."
	stats, err = idx.Import(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CardsImported)
	assert.Equal(t, 2, stats.CardsSkipped)
}

func TestImport_BadRecordsAreSkipped(t *testing.T) {
	store := newTestStorage(t)
	idx := New(store, WithLogger(quiet()))
	ctx := context.Background()

	cat := readSample(t)
	cat.Cards = append(cat.Cards,
		CardRecord{ID: "bad-color", Name: "Bad", Colors: "X"},
		CardRecord{ID: "", Name: "No ID"},
	)
	cat.Combos = append(cat.Combos,
		ComboRecord{ID: "k3", CardIDs: []string{"sol-ring", "missing"}, Description: "Broken"},
		ComboRecord{ID: "k4", CardIDs: []string{"sol-ring", "sol-ring"}, Description: "Solo"},
	)

	stats, err := idx.Import(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Failed)
	assert.Len(t, stats.ErrorMessages, 4)
	assert.Equal(t, 3, stats.CardsImported)
	assert.Equal(t, 2, stats.CombosImported)

	_, err = store.GetCombo(ctx, "k3")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestImport_EmbedderFailureKeepsRecord(t *testing.T) {
	store := newTestStorage(t)
	idx := New(store, WithEmbedder(&mockEmbedder{failOn: "Lightning"}), WithLogger(quiet()))
	ctx := context.Background()

	stats, err := idx.Import(ctx, readSample(t))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.CardsImported)
	assert.Equal(t, 0, stats.Failed)
	assert.NotEmpty(t, stats.ErrorMessages)

	bolt, err := store.GetCard(ctx, "bolt")
	require.NoError(t, err)
	assert.Empty(t, bolt.Embedding)

	hits, err := store.SearchText(ctx, types.KindCard, "lightning", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "bolt", hits[0].ID)
}

func TestImport_Concurrent(t *testing.T) {
	store := newTestStorage(t)
	idx := New(store, WithLogger(quiet()))

	idx.running.Store(true)
	assert.True(t, idx.Importing())
	_, err := idx.Import(context.Background(), readSample(t))
	assert.True(t, errors.Is(err, errs.ErrBuildInProgress))
	idx.running.Store(false)

	_, err = idx.Import(context.Background(), readSample(t))
	assert.NoError(t, err)
}

func TestImport_Canceled(t *testing.T) {
	store := newTestStorage(t)
	idx := New(store, WithLogger(quiet()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Import(ctx, readSample(t))
	assert.Error(t, err)
}

func TestImport_NilCatalog(t *testing.T) {
	idx := New(newTestStorage(t), WithLogger(quiet()))
	_, err := idx.Import(context.Background(), nil)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

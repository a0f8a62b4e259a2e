package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cardsynergy-mcp/internal/config"
	"github.com/dshills/cardsynergy-mcp/internal/notify"
	"github.com/dshills/cardsynergy-mcp/internal/searcher"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.CacheRebuilt
}

func (p *recordingPublisher) PublishCacheRebuilt(_ context.Context, event notify.CacheRebuilt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() {}

const catalogJSON = `{
  "features": [{"name": "Infinite mana", "category": "resource"}],
  "cards": [
    {"id": "a", "name": "Alpha Relic", "colors": "C", "mana_value": 1, "types": ["artifact"], "embedding": [1, 0, 0]},
    {"id": "b", "name": "Beta Druid", "colors": "G", "mana_value": 2, "types": ["creature"], "embedding": [0, 1, 0]},
    {"id": "c", "name": "Gamma Ritual", "colors": "R", "mana_value": 3, "types": ["instant"], "embedding": [0, 0, 1]}
  ],
  "combos": [
    {"id": "k1", "card_ids": ["a", "b"], "description": "Relic druid engine", "popularity": 10, "features": ["Infinite mana"], "embedding": [1, 1, 0]},
    {"id": "k2", "card_ids": ["a", "b"], "description": "Relic druid loop", "popularity": 20, "embedding": [1, 1, 0]},
    {"id": "k3", "card_ids": ["a", "b", "c"], "description": "Three card ritual", "popularity": 30, "embedding": [1, 1, 1]}
  ]
}`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "catalog.db")
	cfg.Embedder.Provider = "local"
	cfg.Embedder.Dimension = 3
	return cfg
}

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(catalogJSON), 0o600))
	return path
}

func newTestApp(t *testing.T, cfg config.Config) (*App, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithPublisher(pub))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, pub
}

func TestApp_ImportSearchRebuild(t *testing.T) {
	a, pub := newTestApp(t, testConfig(t))
	ctx := context.Background()

	stats, err := a.Import(ctx, writeCatalog(t))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.CardsImported)
	assert.Equal(t, 3, stats.CombosImported)

	resp, err := a.Search(ctx, searcher.SearchRequest{Query: "Beta Druid"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "b", resp.Results[0].EntityID())
	assert.Equal(t, types.ReasonExactName, resp.Results[0].Reason)

	// Before the first rebuild, synergy answers come from the live graph
	resp, err = a.Search(ctx, searcher.SearchRequest{Query: "what works with Alpha Relic"})
	require.NoError(t, err)
	assert.Equal(t, searcher.StrategySynergyGraph, resp.Strategy)

	result, err := a.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Version.RowCount)
	require.Len(t, pub.events, 1)
	assert.Equal(t, result.Version.Version, pub.events[0].Version)

	resp, err = a.RelatedTo(ctx, "a", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, searcher.StrategySynergyCache, resp.Strategy)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b", resp.Results[0].EntityID())
	assert.Equal(t, 3, resp.Results[0].Synergy.ComboCount)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Storage.CardsCount)
	assert.True(t, st.IndexLoaded)
	assert.True(t, st.CacheLoaded)
	assert.Equal(t, result.Version.Version, st.CacheVersion)
	assert.Equal(t, "closed", st.EmbedderState)
}

func TestApp_ReplicaFollowsRebuild(t *testing.T) {
	cfg := testConfig(t)
	writer, pub := newTestApp(t, cfg)
	reader, _ := newTestApp(t, cfg)
	ctx := context.Background()

	_, err := writer.Import(ctx, writeCatalog(t))
	require.NoError(t, err)
	require.NoError(t, reader.Refresh(ctx))
	assert.False(t, reader.Cache.Loaded())

	_, err = writer.Rebuild(ctx)
	require.NoError(t, err)
	require.Len(t, pub.events, 1)

	require.NoError(t, reader.HandleCacheRebuilt(ctx, pub.events[0]))
	require.True(t, reader.Cache.Loaded())
	assert.Equal(t, pub.events[0].Version, reader.Cache.Current().Version.Version)

	// Replaying the same event is a no-op
	require.NoError(t, reader.HandleCacheRebuilt(ctx, pub.events[0]))
}

func TestApp_RefreshOnEmptyStore(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	require.NoError(t, a.Refresh(context.Background()))
	assert.False(t, a.Cache.Loaded())
}

func TestApp_SubscribeWithoutNATS(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Subscribe(ctx))
}

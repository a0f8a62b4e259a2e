package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cardsynergy-mcp/internal/storage"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

func cosine(a, b []float32) float64 {
	var ab, aa, bb float64
	for i := range a {
		ab += float64(a[i]) * float64(b[i])
		aa += float64(a[i]) * float64(a[i])
		bb += float64(b[i]) * float64(b[i])
	}
	return ab / (math.Sqrt(aa) * math.Sqrt(bb))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSearch_NotLoaded(t *testing.T) {
	ix := New(3, WithLogger(quietLogger()))
	assert.False(t, ix.Loaded())

	_, err := ix.Search(context.Background(), types.KindCard, []float32{1, 0, 0}, 5)
	assert.True(t, errors.Is(err, errs.ErrServiceUnavailable))
}

func TestSearch_OrderingAndTies(t *testing.T) {
	ix := New(2, WithLogger(quietLogger()))
	ix.Load([]*types.Card{
		{ID: "b", Embedding: []float32{1, 0}},
		{ID: "a", Embedding: []float32{2, 0}}, // same direction as b
		{ID: "c", Embedding: []float32{1, 1}},
		{ID: "d", Embedding: []float32{-1, 0}},
	}, nil)

	hits, err := ix.Search(context.Background(), types.KindCard, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "c", hits[2].ID)
	assert.InDelta(t, 0.7071, hits[2].Similarity, 1e-3)
	assert.Equal(t, 0.0, hits[3].Similarity, "opposite direction clamps to zero")

	top, err := ix.Search(context.Background(), types.KindCard, []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, hits[:2], top)
}

func TestLoad_SkipsWrongDimension(t *testing.T) {
	ix := New(3, WithLogger(quietLogger()))
	stats := ix.Load(
		[]*types.Card{
			{ID: "ok", Embedding: []float32{1, 0, 0}},
			{ID: "short", Embedding: []float32{1, 0}},
			{ID: "none"},
			{ID: "zero", Embedding: []float32{0, 0, 0}},
		},
		[]*types.Combo{{ID: "long", Embedding: []float32{1, 0, 0, 0}}},
	)

	assert.Equal(t, 1, stats.Cards)
	assert.Equal(t, 2, stats.SkippedCards)
	assert.Equal(t, 1, stats.SkippedCombos)
	assert.Equal(t, 1, stats.MissingVector)

	_, err := ix.Search(context.Background(), types.KindCard, []float32{1, 0}, 5)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestLoad_InfersDimension(t *testing.T) {
	ix := New(0, WithLogger(quietLogger()))
	stats := ix.Load([]*types.Card{{ID: "x"}, {ID: "y", Embedding: []float32{0, 1}}}, nil)
	assert.Equal(t, 2, stats.Dimension)

	empty := New(0, WithLogger(quietLogger()))
	empty.Load(nil, nil)
	_, err := empty.Search(context.Background(), types.KindCard, []float32{1}, 1)
	assert.True(t, errors.Is(err, errs.ErrServiceUnavailable))
}

func TestSearch_KindsAreSeparate(t *testing.T) {
	ix := New(2, WithLogger(quietLogger()))
	ix.Load(
		[]*types.Card{{ID: "card", Embedding: []float32{1, 0}}},
		[]*types.Combo{{ID: "combo", Embedding: []float32{1, 0}}},
	)

	hits, err := ix.Search(context.Background(), types.KindCombo, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "combo", hits[0].ID)
}

func TestSearch_ParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cards := make([]*types.Card, 500)
	for i := range cards {
		vec := make([]float32, 8)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		cards[i] = &types.Card{ID: fmt.Sprintf("card-%03d", i), Embedding: vec}
	}
	query := []float32{0.3, -0.2, 0.9, 0.1, 0, 0.4, -0.7, 0.2}

	seq := New(8, WithLogger(quietLogger()), WithParallelThreshold(1<<30))
	seq.Load(cards, nil)
	par := New(8, WithLogger(quietLogger()), WithParallelThreshold(1), WithWorkers(7))
	par.Load(cards, nil)

	a, err := seq.Search(context.Background(), types.KindCard, query, 50)
	require.NoError(t, err)
	b, err := par.Search(context.Background(), types.KindCard, query, 50)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Agrees with a direct cosine for the best hit
	var best *types.Card
	for _, c := range cards {
		if c.ID == a[0].ID {
			best = c
		}
	}
	assert.InDelta(t, cosine(query, best.Embedding), a[0].Similarity, 1e-5)
}

func TestSearch_Cancelled(t *testing.T) {
	ix := New(2, WithLogger(quietLogger()), WithParallelThreshold(1), WithWorkers(2))
	ix.Load([]*types.Card{{ID: "a", Embedding: []float32{1, 0}}, {ID: "b", Embedding: []float32{0, 1}}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ix.Search(ctx, types.KindCard, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReload_FromStorage(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.UpsertCard(ctx, &types.Card{ID: "a", Name: "A", Embedding: []float32{1, 0}}))
	require.NoError(t, store.UpsertCard(ctx, &types.Card{ID: "b", Name: "B", Embedding: []float32{0, 1}}))

	ix := New(2, WithLogger(quietLogger()))
	stats, err := ix.Reload(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Cards)

	hits, err := ix.Search(ctx, types.KindCard, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", hits[0].ID)

	got, ok := ix.Stats()
	require.True(t, ok)
	assert.Equal(t, 2, got.Dimension)
}

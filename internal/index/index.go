package index

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

const (
	// DefaultParallelThreshold is the snapshot size above which scoring is partitioned
	DefaultParallelThreshold = 4096

	// cancelCheckEvery bounds how many entries are scored between context checks
	cancelCheckEvery = 1024
)

// Hit is one nearest-neighbor result
type Hit struct {
	ID         string
	Similarity float64 // Cosine clamped to [0, 1]
}

// Source supplies entities with their precomputed vectors
type Source interface {
	ListCards(ctx context.Context) ([]*types.Card, error)
	ListCombos(ctx context.Context) ([]*types.Combo, error)
}

// Stats summarizes a load
type Stats struct {
	Dimension     int
	Cards         int
	Combos        int
	SkippedCards  int // Wrong dimension
	SkippedCombos int
	MissingVector int // No embedding at all
	LoadedAt      time.Time
}

type entry struct {
	id  string
	vec []float32 // Unit length
}

// snapshot is immutable once published
type snapshot struct {
	stats  Stats
	cards  []entry
	combos []entry
}

func (s *snapshot) entries(kind types.EntityKind) []entry {
	if kind == types.KindCombo {
		return s.combos
	}
	return s.cards
}

// Index is an exact cosine index over immutable snapshots. Readers never
// lock; Reload publishes a new snapshot with one pointer swap.
type Index struct {
	snap atomic.Pointer[snapshot]

	dimension         int
	parallelThreshold int
	workers           int
	logger            *slog.Logger
}

// Option configures an Index
type Option func(*Index)

// WithLogger sets the logger used for skip warnings
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithParallelThreshold sets the snapshot size above which scoring is partitioned
func WithParallelThreshold(n int) Option {
	return func(ix *Index) { ix.parallelThreshold = n }
}

// WithWorkers sets the number of scoring partitions
func WithWorkers(n int) Option {
	return func(ix *Index) { ix.workers = n }
}

// New creates an empty index. dimension <= 0 adopts the dimension of the
// first vector seen at load time.
func New(dimension int, opts ...Option) *Index {
	ix := &Index{
		dimension:         dimension,
		parallelThreshold: DefaultParallelThreshold,
		workers:           runtime.GOMAXPROCS(0),
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.workers < 1 {
		ix.workers = 1
	}
	return ix
}

// Reload reads every entity from src and swaps in a new snapshot
func (ix *Index) Reload(ctx context.Context, src Source) (Stats, error) {
	cards, err := src.ListCards(ctx)
	if err != nil {
		return Stats{}, errs.Wrap(errs.CodeServiceUnavailable, err, "load card vectors")
	}
	combos, err := src.ListCombos(ctx)
	if err != nil {
		return Stats{}, errs.Wrap(errs.CodeServiceUnavailable, err, "load combo vectors")
	}
	return ix.Load(cards, combos), nil
}

// Load builds a snapshot from in-memory entities and publishes it
func (ix *Index) Load(cards []*types.Card, combos []*types.Combo) Stats {
	dim := ix.dimension
	if dim <= 0 {
		dim = firstDimension(cards, combos)
	}

	stats := Stats{Dimension: dim, LoadedAt: time.Now()}
	snap := &snapshot{}

	for _, c := range cards {
		e, ok := ix.makeEntry(types.KindCard, c.ID, c.Embedding, dim, &stats)
		if ok {
			snap.cards = append(snap.cards, e)
		}
	}
	for _, c := range combos {
		e, ok := ix.makeEntry(types.KindCombo, c.ID, c.Embedding, dim, &stats)
		if ok {
			snap.combos = append(snap.combos, e)
		}
	}

	// Fixed order keeps partitioning independent of input order
	byID := func(a, b entry) int { return cmp.Compare(a.id, b.id) }
	slices.SortFunc(snap.cards, byID)
	slices.SortFunc(snap.combos, byID)

	stats.Cards = len(snap.cards)
	stats.Combos = len(snap.combos)
	snap.stats = stats
	ix.snap.Store(snap)

	ix.logger.Info("embedding index loaded",
		"dimension", dim,
		"cards", stats.Cards,
		"combos", stats.Combos,
		"skipped_cards", stats.SkippedCards,
		"skipped_combos", stats.SkippedCombos,
		"missing_vectors", stats.MissingVector,
	)
	return stats
}

func (ix *Index) makeEntry(kind types.EntityKind, id string, vec []float32, dim int, stats *Stats) (entry, bool) {
	if len(vec) == 0 {
		stats.MissingVector++
		return entry{}, false
	}
	if len(vec) != dim {
		ix.logger.Warn("skipping entity with wrong embedding dimension",
			"kind", kind, "id", id, "dimension", len(vec), "expected", dim)
		if kind == types.KindCombo {
			stats.SkippedCombos++
		} else {
			stats.SkippedCards++
		}
		return entry{}, false
	}
	unit, ok := unitVector(vec)
	if !ok {
		ix.logger.Warn("skipping entity with zero embedding", "kind", kind, "id", id)
		if kind == types.KindCombo {
			stats.SkippedCombos++
		} else {
			stats.SkippedCards++
		}
		return entry{}, false
	}
	return entry{id: id, vec: unit}, true
}

// Loaded reports whether a snapshot has been published
func (ix *Index) Loaded() bool {
	return ix.snap.Load() != nil
}

// Stats returns the statistics of the current snapshot
func (ix *Index) Stats() (Stats, bool) {
	snap := ix.snap.Load()
	if snap == nil {
		return Stats{}, false
	}
	return snap.stats, true
}

// Search returns the k entities of kind most similar to vec, ordered by
// similarity descending then ID ascending
func (ix *Index) Search(ctx context.Context, kind types.EntityKind, vec []float32, k int) ([]Hit, error) {
	snap := ix.snap.Load()
	if snap == nil {
		return nil, errs.New(errs.CodeServiceUnavailable, "embedding index not loaded")
	}
	if !kind.Valid() {
		return nil, errs.InvalidArgument("unknown entity kind %q", kind)
	}
	if snap.stats.Dimension == 0 {
		return nil, errs.New(errs.CodeServiceUnavailable, "embedding index has no vectors")
	}
	if len(vec) != snap.stats.Dimension {
		return nil, errs.InvalidArgument("query vector has dimension %d, index has %d", len(vec), snap.stats.Dimension)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	query, ok := unitVector(vec)
	if !ok {
		return []Hit{}, nil
	}

	entries := snap.entries(kind)
	hits := make([]Hit, len(entries))

	if len(entries) < ix.parallelThreshold || ix.workers == 1 {
		if err := score(ctx, entries, query, hits); err != nil {
			return nil, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		size := (len(entries) + ix.workers - 1) / ix.workers
		for start := 0; start < len(entries); start += size {
			end := min(start+size, len(entries))
			g.Go(func() error {
				return score(gctx, entries[start:end], query, hits[start:end])
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(hits, compareHits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func score(ctx context.Context, entries []entry, query []float32, out []Hit) error {
	for i, e := range entries {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		out[i] = Hit{ID: e.id, Similarity: clamp01(dot(query, e.vec))}
	}
	return nil
}

func compareHits(a, b Hit) int {
	if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func unitVector(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}

func firstDimension(cards []*types.Card, combos []*types.Combo) int {
	for _, c := range cards {
		if len(c.Embedding) > 0 {
			return len(c.Embedding)
		}
	}
	for _, c := range combos {
		if len(c.Embedding) > 0 {
			return len(c.Embedding)
		}
	}
	return 0
}

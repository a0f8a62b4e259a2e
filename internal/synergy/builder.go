package synergy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/dshills/cardsynergy-mcp/internal/storage"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// DefaultPartitionSize is the number of combos aggregated per pool task
const DefaultPartitionSize = 512

// BuilderStore is the storage surface used by a rebuild
type BuilderStore interface {
	ListComboMemberships(ctx context.Context, fn func(storage.Membership) error) error
	ReplaceSynergies(ctx context.Context, rows []types.CardSynergy, version *storage.SynergyVersion) error
}

// BuildResult summarizes a committed rebuild
type BuildResult struct {
	Version    storage.SynergyVersion
	Pairs      int // Distinct co-occurring pairs before thresholding
	Partitions int
	Unchanged  bool // Fingerprint equals the previously active snapshot
	Duration   time.Duration
}

// Hook observes every rebuild attempt. result is nil when err is set.
type Hook func(ctx context.Context, result *BuildResult, err error)

type pairKey struct {
	a, b string
}

type partialAggregate map[pairKey]*pairStats

// Builder recomputes the pairwise synergy cache from the full combo relation
type Builder struct {
	store         BuilderStore
	cache         *Cache
	pool          *ants.Pool
	partitionSize int
	hooks         []Hook
	logger        *slog.Logger
	inFlight      atomic.Bool

	aggregate func(ctx context.Context, part []storage.Membership) (partialAggregate, error)
}

// Option configures a Builder.
type Option func(*Builder) error

// WithPoolSize sets the number of partition workers.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(b *Builder) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if b.pool != nil {
			b.pool.Release()
		}
		b.pool = pool
		return nil
	}
}

// WithPartitionSize sets how many combos each task aggregates
func WithPartitionSize(n int) Option {
	return func(b *Builder) error {
		if n < 1 {
			return errs.InvalidArgument("partition size must be positive, got %d", n)
		}
		b.partitionSize = n
		return nil
	}
}

// WithHook registers an observer called after every rebuild attempt
func WithHook(h Hook) Option {
	return func(b *Builder) error {
		b.hooks = append(b.hooks, h)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// NewBuilder creates a cache builder that writes to store and swaps cache
func NewBuilder(store BuilderStore, cache *Cache, opts ...Option) (*Builder, error) {
	if store == nil {
		return nil, errs.InvalidArgument("builder store is required")
	}
	if cache == nil {
		return nil, errs.InvalidArgument("builder cache is required")
	}

	pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
	if err != nil {
		return nil, err
	}

	b := &Builder{
		store:         store,
		cache:         cache,
		pool:          pool,
		partitionSize: DefaultPartitionSize,
		logger:        slog.Default(),
		aggregate:     aggregatePartition,
	}
	for _, opt := range opts {
		if optErr := opt(b); optErr != nil {
			b.Release()
			return nil, optErr
		}
	}
	return b, nil
}

// Release frees the worker pool. The builder must not be used afterwards.
func (b *Builder) Release() {
	if b.pool != nil {
		b.pool.Release()
	}
}

// Building reports whether a rebuild is running
func (b *Builder) Building() bool {
	return b.inFlight.Load()
}

// Rebuild recomputes every pair with at least MinSynergyComboCount shared
// combos, persists the rows in one transaction and swaps the in-memory
// snapshot. Only one rebuild runs at a time; a concurrent call fails with
// BuildInProgress. On any failure the previous snapshot stays active.
func (b *Builder) Rebuild(ctx context.Context) (*BuildResult, error) {
	if !b.inFlight.CompareAndSwap(false, true) {
		return nil, errs.New(errs.CodeBuildInProgress, "synergy cache rebuild already in progress")
	}
	defer b.inFlight.Store(false)

	buildID := uuid.NewString()
	logger := b.logger.With("build_id", buildID)
	logger.Info("synergy cache rebuild started")

	result, err := b.rebuild(ctx, buildID, logger)
	if err != nil {
		logger.Error("synergy cache rebuild failed", "error", err)
	}
	for _, h := range b.hooks {
		h(ctx, result, err)
	}
	return result, err
}

func (b *Builder) rebuild(ctx context.Context, buildID string, logger *slog.Logger) (*BuildResult, error) {
	start := time.Now()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		partials   []partialAggregate
		taskErr    error
		combos     int
		partitions int
		batch      []storage.Membership
	)

	submit := func(part []storage.Membership) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		partitions++
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			partial, err := b.runPartition(ctx, part)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if taskErr == nil {
					taskErr = err
				}
				return
			}
			partials = append(partials, partial)
		})
		if err != nil {
			wg.Done()
			return fmt.Errorf("failed to submit partition: %w", err)
		}
		return nil
	}

	streamErr := b.store.ListComboMemberships(ctx, func(m storage.Membership) error {
		combos++
		if len(m.CardIDs) < 2 {
			return nil
		}
		batch = append(batch, m)
		if len(batch) < b.partitionSize {
			return nil
		}
		part := batch
		batch = nil
		return submit(part)
	})
	if streamErr == nil && len(batch) > 0 {
		streamErr = submit(batch)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.CodeBuildIncomplete, err, "synergy cache rebuild cancelled")
	}
	if streamErr != nil {
		return nil, errs.Wrap(errs.CodeBuildIncomplete, streamErr, "failed to stream combo memberships")
	}
	if taskErr != nil {
		return nil, errs.Wrap(errs.CodeBuildIncomplete, taskErr, "partition aggregation failed")
	}

	merged := mergePartials(partials)
	rows := buildRows(merged)
	fingerprint := fingerprintRows(rows)

	version := &storage.SynergyVersion{
		BuildID:     buildID,
		Fingerprint: fingerprint,
		ComboCount:  combos,
		BuiltAt:     time.Now().UTC(),
	}
	if err := b.store.ReplaceSynergies(ctx, rows, version); err != nil {
		return nil, errs.Wrap(errs.CodeBuildIncomplete, err, "failed to persist synergy cache")
	}

	prev := b.cache.Swap(NewSnapshot(rows, *version))
	result := &BuildResult{
		Version:    *version,
		Pairs:      len(merged),
		Partitions: partitions,
		Unchanged:  prev != nil && prev.Version.Fingerprint == fingerprint,
		Duration:   time.Since(start),
	}

	logger.Info("synergy cache rebuild completed",
		"version", version.Version,
		"combos", combos,
		"partitions", partitions,
		"pairs", result.Pairs,
		"rows", version.RowCount,
		"fingerprint", fingerprint,
		"unchanged", result.Unchanged,
		"duration", result.Duration)
	return result, nil
}

// runPartition turns a panic in a task into a partition error
func (b *Builder) runPartition(ctx context.Context, part []storage.Membership) (partial partialAggregate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("partition panicked: %v", r)
		}
	}()
	return b.aggregate(ctx, part)
}

// aggregatePartition counts every unordered card pair in each combo.
// Membership card IDs are sorted and distinct, so i < j is canonical order.
func aggregatePartition(ctx context.Context, part []storage.Membership) (partialAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acc := make(partialAggregate)
	for _, m := range part {
		ref := comboRef{id: m.ComboID, popularity: m.Popularity}
		for i := 0; i < len(m.CardIDs); i++ {
			for j := i + 1; j < len(m.CardIDs); j++ {
				key := pairKey{a: m.CardIDs[i], b: m.CardIDs[j]}
				st, ok := acc[key]
				if !ok {
					st = &pairStats{}
					acc[key] = st
				}
				st.add(ref, m.FeatureIDs)
			}
		}
	}
	return acc, nil
}

func mergePartials(partials []partialAggregate) partialAggregate {
	if len(partials) == 0 {
		return partialAggregate{}
	}
	merged := partials[0]
	for _, p := range partials[1:] {
		for key, st := range p {
			if existing, ok := merged[key]; ok {
				existing.merge(st)
			} else {
				merged[key] = st
			}
		}
	}
	return merged
}

// buildRows keeps pairs at or above the threshold, sorted by (id1, id2)
func buildRows(merged partialAggregate) []types.CardSynergy {
	rows := make([]types.CardSynergy, 0)
	for key, st := range merged {
		if len(st.combos) < types.MinSynergyComboCount {
			continue
		}
		s := st.summarize()
		if s.count < types.MinSynergyComboCount {
			continue
		}
		rows = append(rows, types.CardSynergy{
			CardID1:        key.a,
			CardID2:        key.b,
			ComboCount:     s.count,
			AvgPopularity:  s.avg,
			SynergyScore:   types.SynergyScore(s.count, s.avg),
			CommonFeatures: s.features,
			SampleCombos:   s.samples,
		})
	}
	slices.SortFunc(rows, func(x, y types.CardSynergy) int {
		if c := strings.Compare(x.CardID1, y.CardID1); c != 0 {
			return c
		}
		return strings.Compare(x.CardID2, y.CardID2)
	})
	return rows
}

// fingerprintRows hashes the sorted rows so identical inputs give identical digests
func fingerprintRows(rows []types.CardSynergy) string {
	h := sha256.New()
	var sb strings.Builder
	for i := range rows {
		row := &rows[i]
		sb.Reset()
		sb.WriteString(row.CardID1)
		sb.WriteByte('\t')
		sb.WriteString(row.CardID2)
		sb.WriteByte('\t')
		sb.WriteString(strconv.Itoa(row.ComboCount))
		sb.WriteByte('\t')
		sb.WriteString(strconv.FormatFloat(row.AvgPopularity, 'g', -1, 64))
		sb.WriteByte('\t')
		for j, f := range row.CommonFeatures {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.FormatInt(f, 10))
		}
		sb.WriteByte('\t')
		sb.WriteString(strings.Join(row.SampleCombos, ","))
		sb.WriteByte('\n')
		h.Write([]byte(sb.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

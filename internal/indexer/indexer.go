package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/cardsynergy-mcp/internal/storage"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

const (
	// DefaultBatchSize is the number of entities committed per transaction
	DefaultBatchSize = 200
)

// Embedder fills vectors for records that arrive without one
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Indexer coordinates the import pipeline: features -> cards -> combos.
// Each stage commits in batches; a bad record is reported and skipped.
type Indexer struct {
	storage  storage.Storage
	embedder Embedder
	running  atomic.Bool

	batchSize int
	workers   int
	logger    *slog.Logger
}

// Option configures an Indexer
type Option func(*Indexer)

// WithEmbedder enables embedding of records without a vector
func WithEmbedder(e Embedder) Option {
	return func(idx *Indexer) { idx.embedder = e }
}

// WithBatchSize sets the number of entities per transaction
func WithBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithWorkers bounds concurrent embedding calls
func WithWorkers(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(idx *Indexer) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// Statistics contains statistics about one import
type Statistics struct {
	FeaturesImported int
	CardsImported    int
	CardsSkipped     int
	CombosImported   int
	CombosSkipped    int
	Failed           int
	Embedded         int
	Duration         time.Duration
	ErrorMessages    []string
}

// Changed reports whether the import wrote anything
func (s *Statistics) Changed() bool {
	return s.FeaturesImported > 0 || s.CardsImported > 0 || s.CombosImported > 0
}

func (s *Statistics) fail(mu *sync.Mutex, format string, args ...any) {
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	s.Failed++
	s.ErrorMessages = append(s.ErrorMessages, fmt.Sprintf(format, args...))
}

// New creates a new Indexer instance
func New(store storage.Storage, opts ...Option) *Indexer {
	idx := &Indexer{
		storage:   store,
		batchSize: DefaultBatchSize,
		workers:   runtime.NumCPU(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Importing reports whether an import is running
func (idx *Indexer) Importing() bool {
	return idx.running.Load()
}

// Import loads cat into storage. Unchanged cards and combos are skipped so
// reimporting the same catalog is cheap. Only one import runs at a time.
func (idx *Indexer) Import(ctx context.Context, cat *Catalog) (*Statistics, error) {
	if cat == nil {
		return nil, errs.InvalidArgument("catalog is required")
	}
	if !idx.running.CompareAndSwap(false, true) {
		return nil, errs.New(errs.CodeBuildInProgress, "catalog import already in progress")
	}
	defer idx.running.Store(false)

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	featureIDs, err := idx.importFeatures(ctx, cat, stats)
	if err != nil {
		return nil, fmt.Errorf("failed to import features: %w", err)
	}

	known, err := idx.importCards(ctx, cat.Cards, stats)
	if err != nil {
		return nil, fmt.Errorf("failed to import cards: %w", err)
	}

	if err := idx.importCombos(ctx, cat.Combos, known, featureIDs, stats); err != nil {
		return nil, fmt.Errorf("failed to import combos: %w", err)
	}

	stats.Duration = time.Since(startTime)
	idx.logger.Info("catalog imported",
		"features", stats.FeaturesImported,
		"cards", stats.CardsImported,
		"cards_skipped", stats.CardsSkipped,
		"combos", stats.CombosImported,
		"combos_skipped", stats.CombosSkipped,
		"embedded", stats.Embedded,
		"failed", stats.Failed,
		"duration", stats.Duration)
	return stats, nil
}

// importFeatures upserts declared features and any feature a combo names,
// returning the name -> ID map
func (idx *Indexer) importFeatures(ctx context.Context, cat *Catalog, stats *Statistics) (map[string]int64, error) {
	existing, err := idx.storage.ListFeatures(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(existing))
	categories := make(map[string]string, len(existing))
	for _, f := range existing {
		ids[f.Name] = f.ID
		categories[f.Name] = f.Category
	}

	var pending []*types.Feature
	queued := make(map[string]bool)
	add := func(name, category string) {
		name = strings.TrimSpace(name)
		if name == "" || queued[name] {
			return
		}
		if _, ok := ids[name]; ok && categories[name] == category {
			return
		}
		queued[name] = true
		pending = append(pending, &types.Feature{Name: name, Category: category})
	}
	for _, f := range cat.Features {
		add(f.Name, f.Category)
	}
	for _, c := range cat.Combos {
		for _, name := range c.Features {
			if _, ok := ids[strings.TrimSpace(name)]; !ok {
				add(name, "")
			}
		}
	}
	if len(pending) == 0 {
		return ids, nil
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, f := range pending {
		if err := tx.UpsertFeature(ctx, f); err != nil {
			return nil, err
		}
		ids[f.Name] = f.ID
		stats.FeaturesImported++
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

// importCards writes changed cards and returns every card known afterwards
func (idx *Indexer) importCards(ctx context.Context, records []CardRecord, stats *Statistics) (map[string]*types.Card, error) {
	current, err := idx.storage.ListCards(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*types.Card, len(current)+len(records))
	for _, c := range current {
		known[c.ID] = c
	}

	changed := make([]*types.Card, 0, len(records))
	for i := range records {
		card, err := cardFromRecord(&records[i])
		if err != nil {
			stats.fail(nil, "card %q: %v", records[i].ID, err)
			continue
		}
		if prev, ok := known[card.ID]; ok && cardUnchanged(prev, card) {
			stats.CardsSkipped++
			continue
		}
		changed = append(changed, card)
	}

	jobs := make([]embedJob, 0, len(changed))
	for _, c := range changed {
		if len(c.Embedding) == 0 {
			jobs = append(jobs, embedJob{id: c.ID, text: cardText(c), out: &c.Embedding})
		}
	}
	if err := idx.embedMissing(ctx, jobs, stats); err != nil {
		return nil, err
	}

	err = idx.inBatches(ctx, len(changed), func(tx storage.Tx, i int) {
		card := changed[i]
		if err := tx.UpsertCard(ctx, card); err != nil {
			stats.fail(nil, "card %q: %v", card.ID, err)
			return
		}
		known[card.ID] = card
		stats.CardsImported++
	})
	return known, err
}

// importCombos derives combo colors and mana value from member cards and
// writes changed combos. A combo naming an unknown card is rejected.
func (idx *Indexer) importCombos(ctx context.Context, records []ComboRecord, known map[string]*types.Card, featureIDs map[string]int64, stats *Statistics) error {
	current, err := idx.storage.ListCombos(ctx)
	if err != nil {
		return err
	}
	existing := make(map[string]*types.Combo, len(current))
	for _, c := range current {
		existing[c.ID] = c
	}

	changed := make([]*types.Combo, 0, len(records))
	for i := range records {
		combo, err := comboFromRecord(&records[i], known, featureIDs)
		if err != nil {
			stats.fail(nil, "combo %q: %v", records[i].ID, err)
			continue
		}
		if prev, ok := existing[combo.ID]; ok && comboUnchanged(prev, combo) {
			stats.CombosSkipped++
			continue
		}
		changed = append(changed, combo)
	}

	jobs := make([]embedJob, 0, len(changed))
	for _, c := range changed {
		if len(c.Embedding) == 0 {
			jobs = append(jobs, embedJob{id: c.ID, text: c.Description, out: &c.Embedding})
		}
	}
	if err := idx.embedMissing(ctx, jobs, stats); err != nil {
		return err
	}

	return idx.inBatches(ctx, len(changed), func(tx storage.Tx, i int) {
		combo := changed[i]
		if err := tx.UpsertCombo(ctx, combo); err != nil {
			stats.fail(nil, "combo %q: %v", combo.ID, err)
			return
		}
		stats.CombosImported++
	})
}

// inBatches runs fn for indexes [0, n) with one transaction per batch
func (idx *Indexer) inBatches(ctx context.Context, n int, fn func(tx storage.Tx, i int)) error {
	for start := 0; start < n; start += idx.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+idx.batchSize, n)

		tx, err := idx.storage.BeginTx(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		for i := start; i < end; i++ {
			fn(tx, i)
		}
		if err := tx.Commit(); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
	}
	return nil
}

type embedJob struct {
	id   string
	text string
	out  *[]float32
}

// embedMissing fills vectors concurrently. A record the embedder cannot
// serve is stored without a vector and stays reachable through text search.
func (idx *Indexer) embedMissing(ctx context.Context, jobs []embedJob, stats *Statistics) error {
	if idx.embedder == nil || len(jobs) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for _, job := range jobs {
		g.Go(func() error {
			vec, err := idx.embedder.Embed(gctx, job.text)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("embed %q: %v", job.id, err))
				mu.Unlock()
				return nil
			}
			*job.out = vec
			mu.Lock()
			stats.Embedded++
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func cardFromRecord(r *CardRecord) (*types.Card, error) {
	colors, err := types.ParseColors(r.Colors)
	if err != nil {
		return nil, err
	}
	card := &types.Card{
		ID:            strings.TrimSpace(r.ID),
		Name:          strings.TrimSpace(r.Name),
		ColorIdentity: colors,
		ManaValue:     r.ManaValue,
		TypeLine:      r.TypeLine,
		OracleText:    r.OracleText,
		Types:         normalizeTags(r.Types),
		Embedding:     r.Embedding,
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return card, nil
}

func comboFromRecord(r *ComboRecord, known map[string]*types.Card, featureIDs map[string]int64) (*types.Combo, error) {
	combo := &types.Combo{
		ID:          strings.TrimSpace(r.ID),
		CardIDs:     r.CardIDs,
		Description: r.Description,
		Popularity:  r.Popularity,
		Embedding:   r.Embedding,
	}
	if err := combo.Validate(); err != nil {
		return nil, err
	}

	for _, id := range combo.DistinctCardIDs() {
		card, ok := known[id]
		if !ok {
			return nil, fmt.Errorf("unknown card %q", id)
		}
		combo.ColorIdentity = combo.ColorIdentity.Union(card.ColorIdentity)
		combo.ManaValue += card.ManaValue
	}

	for _, name := range r.Features {
		id, ok := featureIDs[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		combo.FeatureIDs = append(combo.FeatureIDs, id)
	}
	slices.Sort(combo.FeatureIDs)
	combo.FeatureIDs = slices.Compact(combo.FeatureIDs)
	return combo, nil
}

// cardText is the embedding input for a card
func cardText(c *types.Card) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.Name, c.TypeLine, c.OracleText} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ". ")
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// cardUnchanged compares stored and incoming cards. An incoming card without
// a vector keeps the stored one, so the embedding is ignored in that case.
func cardUnchanged(prev, next *types.Card) bool {
	if prev.Name != next.Name || prev.ColorIdentity != next.ColorIdentity ||
		prev.ManaValue != next.ManaValue || prev.TypeLine != next.TypeLine ||
		prev.OracleText != next.OracleText {
		return false
	}
	if !slices.Equal(normalizeTags(prev.Types), next.Types) {
		return false
	}
	return len(next.Embedding) == 0 || slices.Equal(prev.Embedding, next.Embedding)
}

func comboUnchanged(prev, next *types.Combo) bool {
	if prev.Description != next.Description || prev.Popularity != next.Popularity ||
		prev.ColorIdentity != next.ColorIdentity || prev.ManaValue != next.ManaValue {
		return false
	}
	if !slices.Equal(prev.DistinctCardIDs(), next.DistinctCardIDs()) {
		return false
	}
	prevFeatures := slices.Clone(prev.FeatureIDs)
	slices.Sort(prevFeatures)
	if !slices.Equal(prevFeatures, next.FeatureIDs) {
		return false
	}
	return len(next.Embedding) == 0 || slices.Equal(prev.Embedding, next.Embedding)
}

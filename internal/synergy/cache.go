package synergy

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dshills/cardsynergy-mcp/internal/storage"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// Snapshot is one immutable synergy cache version indexed by card
type Snapshot struct {
	Version storage.SynergyVersion
	rows    int
	byCard  map[string][]types.Relation
}

// NewSnapshot indexes rows from both sides of each pair. Relation lists are
// pre-ranked and shared by readers, so they must never be mutated.
func NewSnapshot(rows []types.CardSynergy, version storage.SynergyVersion) *Snapshot {
	s := &Snapshot{
		Version: version,
		rows:    len(rows),
		byCard:  make(map[string][]types.Relation),
	}
	for i := range rows {
		row := &rows[i]
		for _, side := range [2]string{row.CardID1, row.CardID2} {
			s.byCard[side] = append(s.byCard[side], types.Relation{
				CardID:         row.Other(side),
				ComboCount:     row.ComboCount,
				AvgPopularity:  row.AvgPopularity,
				CommonFeatures: row.CommonFeatures,
				SampleCombos:   row.SampleCombos,
			})
		}
	}
	for _, rels := range s.byCard {
		rankRelations(rels)
	}
	return s
}

// Rows returns the number of pair rows in the snapshot
func (s *Snapshot) Rows() int {
	return s.rows
}

// Cards returns the number of cards with at least one cached relation
func (s *Snapshot) Cards() int {
	return len(s.byCard)
}

// Lookup returns the ranked relations of cardID. The slice is shared.
func (s *Snapshot) Lookup(cardID string) []types.Relation {
	return s.byCard[cardID]
}

// Cache holds the active snapshot. Readers never block; the mutex only
// serializes writers swapping the version pointer.
type Cache struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewCache creates an empty, unloaded cache
func NewCache() *Cache {
	return &Cache{}
}

// Current returns the active snapshot, nil if none is loaded
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Loaded reports whether a snapshot is active
func (c *Cache) Loaded() bool {
	return c.current.Load() != nil
}

// Swap installs s and returns the previous snapshot
func (c *Cache) Swap(s *Snapshot) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Swap(s)
}

// swapIfNewer installs s unless the active snapshot has the same or a later version
func (c *Cache) swapIfNewer(s *Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur := c.current.Load(); cur != nil && cur.Version.Version >= s.Version.Version {
		return false
	}
	c.current.Store(s)
	return true
}

// SnapshotSource opens read transactions over the persisted cache
type SnapshotSource interface {
	BeginTx(ctx context.Context) (storage.Tx, error)
}

// LoadFromStore reads the newest persisted version and installs it if it is
// newer than the active one. It reports whether a swap happened. A store
// whose cache was never built returns NotFound.
func (c *Cache) LoadFromStore(ctx context.Context, src SnapshotSource) (bool, error) {
	tx, err := src.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	version, err := tx.GetSynergyVersion(ctx)
	if err != nil {
		return false, err
	}
	if cur := c.Current(); cur != nil && cur.Version.Version >= version.Version {
		return false, nil
	}

	rows, err := tx.ListSynergies(ctx)
	if err != nil {
		return false, err
	}
	return c.swapIfNewer(NewSnapshot(rows, *version)), nil
}

// CacheReader serves relations from the active snapshot
type CacheReader struct {
	cache  *Cache
	lookup CardLookup
}

// NewCacheReader creates a Related backed by cache
func NewCacheReader(cache *Cache, lookup CardLookup) *CacheReader {
	return &CacheReader{cache: cache, lookup: lookup}
}

// RelatedCards returns cached relations of cardID (combo count >= 3 only).
// ServiceUnavailable if no snapshot is loaded.
func (r *CacheReader) RelatedCards(ctx context.Context, cardID string, filters *types.Filters) ([]types.Relation, error) {
	if cardID == "" {
		return nil, errs.InvalidArgument("card id is required")
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	snap := r.cache.Current()
	if snap == nil {
		return nil, errs.New(errs.CodeServiceUnavailable, "synergy cache is not loaded")
	}

	rels := snap.Lookup(cardID)
	if len(rels) == 0 {
		if _, err := r.lookup.GetCard(ctx, cardID); err != nil {
			return nil, err
		}
		return []types.Relation{}, nil
	}
	return filterRelations(ctx, r.lookup, slices.Clone(rels), filters)
}

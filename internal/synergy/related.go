package synergy

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// Related answers which cards co-occur in combos with a given card
type Related interface {
	RelatedCards(ctx context.Context, cardID string, filters *types.Filters) ([]types.Relation, error)
}

// CardLookup resolves card attributes for existence checks and post-grouping filters
type CardLookup interface {
	GetCard(ctx context.Context, id string) (*types.Card, error)
	GetCards(ctx context.Context, ids []string) (map[string]*types.Card, error)
}

// comboRef is the part of a combo a pair aggregate needs
type comboRef struct {
	id         string
	popularity float64
}

// pairStats accumulates the combos shared by two cards
type pairStats struct {
	combos   []comboRef
	features map[int64]struct{}
}

func (p *pairStats) add(ref comboRef, features []int64) {
	p.combos = append(p.combos, ref)
	if len(features) == 0 {
		return
	}
	if p.features == nil {
		p.features = make(map[int64]struct{}, len(features))
	}
	for _, f := range features {
		p.features[f] = struct{}{}
	}
}

// merge folds o into p. o must not be used afterwards.
func (p *pairStats) merge(o *pairStats) {
	p.combos = append(p.combos, o.combos...)
	if len(o.features) == 0 {
		return
	}
	if p.features == nil {
		p.features = o.features
		return
	}
	for f := range o.features {
		p.features[f] = struct{}{}
	}
}

// summary is the order-independent digest of a pairStats
type summary struct {
	count    int
	avg      float64
	features []int64
	samples  []string
}

// summarize sums popularity in combo ID order so the average does not
// depend on the order partitions were merged in
func (p *pairStats) summarize() summary {
	combos := slices.Clone(p.combos)
	slices.SortFunc(combos, func(a, b comboRef) int { return strings.Compare(a.id, b.id) })
	combos = slices.CompactFunc(combos, func(a, b comboRef) bool { return a.id == b.id })

	var sum float64
	for _, c := range combos {
		sum += c.popularity
	}

	s := summary{count: len(combos), features: make([]int64, 0, len(p.features))}
	if s.count > 0 {
		s.avg = sum / float64(s.count)
	}
	for f := range p.features {
		s.features = append(s.features, f)
	}
	slices.Sort(s.features)

	slices.SortFunc(combos, func(a, b comboRef) int {
		if c := cmp.Compare(b.popularity, a.popularity); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	n := min(len(combos), types.MaxSampleCombos)
	s.samples = make([]string, n)
	for i := range n {
		s.samples[i] = combos[i].id
	}
	return s
}

func (s summary) relation(cardID string) types.Relation {
	return types.Relation{
		CardID:         cardID,
		ComboCount:     s.count,
		AvgPopularity:  s.avg,
		CommonFeatures: s.features,
		SampleCombos:   s.samples,
	}
}

// accumulate credits combo to every member card for which skip is false
func accumulate(acc map[string]*pairStats, combo *types.Combo, skip func(string) bool) {
	ref := comboRef{id: combo.ID, popularity: combo.Popularity}
	for _, id := range combo.DistinctCardIDs() {
		if skip(id) {
			continue
		}
		st, ok := acc[id]
		if !ok {
			st = &pairStats{}
			acc[id] = st
		}
		st.add(ref, combo.FeatureIDs)
	}
}

func relationsFrom(acc map[string]*pairStats) []types.Relation {
	rels := make([]types.Relation, 0, len(acc))
	for id, st := range acc {
		rels = append(rels, st.summarize().relation(id))
	}
	return rels
}

// compareRelations orders by combo count desc, average popularity desc, card ID asc
func compareRelations(a, b types.Relation) int {
	if c := cmp.Compare(b.ComboCount, a.ComboCount); c != 0 {
		return c
	}
	if c := cmp.Compare(b.AvgPopularity, a.AvgPopularity); c != 0 {
		return c
	}
	return strings.Compare(a.CardID, b.CardID)
}

func rankRelations(rels []types.Relation) {
	slices.SortFunc(rels, compareRelations)
}

// filterRelations drops relations whose card fails the structured filters.
// Cards missing from the catalog cannot be checked and are dropped.
func filterRelations(ctx context.Context, lookup CardLookup, rels []types.Relation, f *types.Filters) ([]types.Relation, error) {
	if f.IsZero() || len(rels) == 0 {
		return rels, nil
	}

	ids := make([]string, len(rels))
	for i, r := range rels {
		ids[i] = r.CardID
	}
	cards, err := lookup.GetCards(ctx, ids)
	if err != nil {
		return nil, err
	}

	kept := rels[:0]
	for _, r := range rels {
		if card, ok := cards[r.CardID]; ok && f.MatchCard(card) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

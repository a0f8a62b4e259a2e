package searcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dshills/cardsynergy-mcp/internal/promoter"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// candidate is one retrieved entity awaiting promotion and filtering
type candidate struct {
	id     string
	score  float64
	reason types.MatchReason
}

// scored is a candidate with its loaded entity
type scored struct {
	candidate
	card  *types.Card
	combo *types.Combo
}

func (sc *scored) name() string {
	if sc.card != nil {
		return sc.card.Name
	}
	return sc.combo.Description
}

// discoverySearch runs steps 2 to 6 for card and combo discovery: retrieve a
// bounded window, promote name matches, post-filter, threshold, truncate
func (s *Searcher) discoverySearch(ctx context.Context, req SearchRequest, kind types.EntityKind) (*SearchResponse, error) {
	cands, strategy, err := s.retrieve(ctx, req.Query, kind)
	if err != nil {
		return nil, err
	}
	degraded := strategy != StrategyVector

	if strategy == StrategyListing {
		return s.listingSearch(ctx, req, kind)
	}

	cands, err = s.injectExactMatches(ctx, req.Query, kind, cands)
	if err != nil {
		return nil, err
	}

	entities, err := s.loadCandidates(ctx, kind, cands)
	if err != nil {
		return nil, err
	}

	for i := range entities {
		promoted := promoter.Promote(req.Query, promoter.Candidate{
			Name:  entities[i].name(),
			Score: entities[i].score,
		})
		entities[i].score = promoted.Score
		// Text-match and listing reasons survive when no name matched
		if promoted.Reason != types.ReasonSemantic || entities[i].reason == "" {
			entities[i].reason = promoted.Reason
		}
	}

	entities, err = s.applyFilters(ctx, kind, entities, req.Filters)
	if err != nil {
		return nil, err
	}

	// No similarity exists on the degraded path, so the threshold does not apply
	if !degraded && req.Threshold > 0 {
		entities = slices.DeleteFunc(entities, func(e scored) bool { return e.score < req.Threshold })
	}

	sortScored(entities)
	if len(entities) > req.Limit {
		entities = entities[:req.Limit]
	}

	return &SearchResponse{
		Results:    toResults(kind, entities),
		Kind:       kind,
		Strategy:   strategy,
		Degraded:   degraded,
		Candidates: len(cands),
	}, nil
}

// retrieve fills the candidate window from the embedding index, falling
// back to text search when the embedder or index is unavailable
func (s *Searcher) retrieve(ctx context.Context, query string, kind types.EntityKind) ([]candidate, Strategy, error) {
	cands, err := s.vectorCandidates(ctx, query, kind)
	if err == nil {
		return cands, StrategyVector, nil
	}
	if !errors.Is(err, errs.ErrServiceUnavailable) {
		return nil, "", err
	}
	s.logger.Warn("vector retrieval unavailable, degrading", "kind", kind, "error", err)

	results, err := s.store.SearchText(ctx, kind, query, s.window)
	if err != nil && !errors.Is(err, errs.ErrInvalidArgument) {
		return nil, "", err
	}
	if len(results) == 0 {
		return nil, StrategyListing, nil
	}

	cands = make([]candidate, len(results))
	for i, r := range results {
		cands[i] = candidate{id: r.ID, score: r.BM25Score, reason: types.ReasonTextMatch}
	}
	return cands, StrategyText, nil
}

func (s *Searcher) vectorCandidates(ctx context.Context, query string, kind types.EntityKind) ([]candidate, error) {
	if s.embedder == nil || s.index == nil {
		return nil, errs.New(errs.CodeServiceUnavailable, "vector retrieval is not configured")
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Search(ctx, kind, vec, s.window)
	if err != nil {
		return nil, err
	}
	cands := make([]candidate, len(hits))
	for i, h := range hits {
		cands[i] = candidate{id: h.ID, score: h.Similarity, reason: types.ReasonSemantic}
	}
	return cands, nil
}

// injectExactMatches adds entities whose name equals the query but that the
// window missed, so exact lookups never depend on embedding similarity
func (s *Searcher) injectExactMatches(ctx context.Context, query string, kind types.EntityKind, cands []candidate) ([]candidate, error) {
	var ids []string
	switch kind {
	case types.KindCard:
		cards, err := s.store.FindCardsByName(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, c := range cards {
			ids = append(ids, c.ID)
		}
	case types.KindCombo:
		combos, err := s.store.FindCombosByName(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, c := range combos {
			ids = append(ids, c.ID)
		}
	}

	for _, id := range ids {
		if !slices.ContainsFunc(cands, func(c candidate) bool { return c.id == id }) {
			cands = append(cands, candidate{id: id})
		}
	}
	return cands, nil
}

// loadCandidates fetches entities for candidates. Candidates that vanished
// from the store since the index was built are skipped.
func (s *Searcher) loadCandidates(ctx context.Context, kind types.EntityKind, cands []candidate) ([]scored, error) {
	out := make([]scored, 0, len(cands))

	if kind == types.KindCard {
		ids := make([]string, len(cands))
		for i, c := range cands {
			ids[i] = c.id
		}
		cards, err := s.store.GetCards(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			if card, ok := cards[c.id]; ok {
				out = append(out, scored{candidate: c, card: card})
			}
		}
		return out, nil
	}

	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		combo, err := s.store.GetCombo(ctx, c.id)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, scored{candidate: c, combo: combo})
	}
	return out, nil
}

// listingSearch is the last-resort degraded path: the query has no text
// match, so results are the catalog narrowed by structured filters alone
func (s *Searcher) listingSearch(ctx context.Context, req SearchRequest, kind types.EntityKind) (*SearchResponse, error) {
	var entities []scored
	switch kind {
	case types.KindCard:
		cards, err := s.store.ListCards(ctx)
		if err != nil {
			return nil, err
		}
		entities = make([]scored, 0, len(cards))
		for _, c := range cards {
			entities = append(entities, scored{candidate: candidate{id: c.ID, reason: types.ReasonTagFilter}, card: c})
		}
	case types.KindCombo:
		combos, err := s.store.ListCombos(ctx)
		if err != nil {
			return nil, err
		}
		entities = make([]scored, 0, len(combos))
		for _, c := range combos {
			entities = append(entities, scored{candidate: candidate{id: c.ID, reason: types.ReasonTagFilter}, combo: c})
		}
	default:
		return nil, errs.InvalidArgument("unknown entity kind %q", kind)
	}
	total := len(entities)

	for i := range entities {
		if promoter.IsExact(req.Query, entities[i].name()) {
			entities[i].score = promoter.ExactScore
			entities[i].reason = types.ReasonExactName
		}
	}

	entities, err := s.applyFilters(ctx, kind, entities, req.Filters)
	if err != nil {
		return nil, err
	}
	sortScored(entities)
	if len(entities) > req.Limit {
		entities = entities[:req.Limit]
	}

	return &SearchResponse{
		Results:    toResults(kind, entities),
		Kind:       kind,
		Strategy:   StrategyListing,
		Degraded:   true,
		Candidates: total,
	}, nil
}

// applyFilters is a pure post-filter over already retrieved entities
func (s *Searcher) applyFilters(ctx context.Context, kind types.EntityKind, entities []scored, f *types.Filters) ([]scored, error) {
	if f.IsZero() {
		return entities, nil
	}

	var featureNames map[int64]string
	if kind == types.KindCombo && len(f.Tags) > 0 {
		features, err := s.store.ListFeatures(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load features: %w", err)
		}
		featureNames = make(map[int64]string, len(features))
		for _, feat := range features {
			featureNames[feat.ID] = feat.Name
		}
	}

	return slices.DeleteFunc(entities, func(e scored) bool {
		if e.card != nil {
			return !f.MatchCard(e.card)
		}
		return !f.MatchCombo(e.combo, featureNames)
	}), nil
}

// sortScored orders by score descending, then ID ascending
func sortScored(entities []scored) {
	slices.SortStableFunc(entities, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
}

func toResults(kind types.EntityKind, entities []scored) []types.SearchResult {
	results := make([]types.SearchResult, len(entities))
	for i, e := range entities {
		results[i] = types.SearchResult{
			Rank:   i + 1,
			Kind:   kind,
			Score:  e.score,
			Reason: e.reason,
			Card:   e.card,
			Combo:  e.combo,
		}
	}
	return results
}

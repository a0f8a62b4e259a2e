package searcher

import (
	"context"

	"github.com/dshills/cardsynergy-mcp/internal/intent"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// synergySearch answers relational queries from the graph, never from vectors.
// A resolved card goes through relatedByCard; a theme goes through seed expansion.
func (s *Searcher) synergySearch(ctx context.Context, req SearchRequest, cls intent.Classification) (*SearchResponse, error) {
	if cls.CardID != "" {
		rels, strategy, err := s.relatedByCard(ctx, cls.CardID, req.Filters)
		if err != nil {
			return nil, err
		}
		response, err := s.relationResponse(ctx, rels, req.Limit)
		if err != nil {
			return nil, err
		}
		response.Strategy = strategy
		response.TargetCardID = cls.CardID
		return response, nil
	}

	result, err := s.theme.RelatedToTheme(ctx, cls.Theme, req.Filters)
	if err != nil {
		return nil, err
	}
	response, err := s.relationResponse(ctx, result.Relations, req.Limit)
	if err != nil {
		return nil, err
	}
	response.Strategy = StrategySynergyTheme
	response.Theme = cls.Theme
	response.Seeds = result.Seeds
	response.Degraded = result.Degraded
	return response, nil
}

// relationResponse turns ranked relations into results. Scores are combo
// counts relative to the strongest relation, so the top result scores 1.0.
func (s *Searcher) relationResponse(ctx context.Context, rels []types.Relation, limit int) (*SearchResponse, error) {
	response := &SearchResponse{
		Results:    []types.SearchResult{},
		Kind:       types.KindCard,
		Candidates: len(rels),
	}
	if len(rels) == 0 {
		return response, nil
	}

	maxCount := 0
	for _, r := range rels {
		maxCount = max(maxCount, r.ComboCount)
	}

	top := rels[:min(limit, len(rels))]
	ids := make([]string, len(top))
	for i, r := range top {
		ids[i] = r.CardID
	}
	cards, err := s.store.GetCards(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, r := range top {
		card, ok := cards[r.CardID]
		if !ok {
			continue
		}
		rel := r
		response.Results = append(response.Results, types.SearchResult{
			Rank:    len(response.Results) + 1,
			Kind:    types.KindCard,
			Score:   float64(r.ComboCount) / float64(maxCount),
			Reason:  types.ReasonSynergy,
			Card:    card,
			Synergy: &rel,
		})
	}
	return response, nil
}

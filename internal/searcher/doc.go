// Package searcher is the hybrid query executor: the single entry point that
// classifies a query and runs it through the matching retrieval path.
//
// # Basic Usage
//
//	s, err := searcher.NewSearcher(searcher.Dependencies{
//	    Store:      db,
//	    Embedder:   emb,
//	    Index:      ix,
//	    Classifier: classifier,
//	    Cache:      synergyCache,
//	})
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:   "cheap green ramp",
//	    Limit:   10,
//	    Filters: &types.Filters{MaxCost: &three},
//	})
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %.2f %s (%s)\n", r.Rank, r.Score, r.Name(), r.Reason)
//	}
//
// # Pipeline
//
// Card and combo discovery:
//
//  1. Embed the query and take a fixed candidate window from the index.
//  2. Add entities whose normalized name equals the query, even if the
//     window missed them.
//  3. Promote exact names to 1.0 and boost partial names.
//  4. Post-filter by colors, cost, type tags and features. The window is
//     never widened to make up for filtered candidates.
//  5. Drop results under the threshold, order by score then ID, truncate.
//
// Synergy queries never touch vectors for a resolved card. Unfiltered lookups
// use the precomputed cache when one is loaded; filtered lookups and cold
// starts traverse combos live. A free-text theme is expanded into seed cards
// first.
//
// # Degraded Mode
//
// When the embedder or index is unavailable, discovery falls back to full-text
// search and then to a structured listing of the catalog. Such responses set
// Degraded, ignore the threshold and are never stored in the response cache.
//
// # Caching
//
// Responses are cached in an LRU keyed by the normalized request and the
// active synergy cache version. InvalidateCache drops everything after a
// rebuild.
package searcher

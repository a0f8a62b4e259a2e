package searcher

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// checkCache looks up a cached response and returns a private copy
func (s *Searcher) checkCache(key [32]byte) (*SearchResponse, bool) {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil, false
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil, false
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response, true
}

// storeInCache saves a copy so callers cannot mutate the cached value
func (s *Searcher) storeInCache(key [32]byte, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// copySearchResponse copies the response and its result slice. Card and
// Combo pointers are shared because entities are read-only once loaded.
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Seeds = slices.Clone(src.Seeds)
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, result := range src.Results {
		dst.Results[i] = result
		if result.Synergy != nil {
			rel := *result.Synergy
			rel.CommonFeatures = slices.Clone(rel.CommonFeatures)
			rel.SampleCombos = slices.Clone(rel.SampleCombos)
			dst.Results[i].Synergy = &rel
		}
	}
	return &dst
}

// computeQueryHash computes a unique hash for a search request against a
// synergy cache version
func computeQueryHash(req SearchRequest, cacheVersion int64) [32]byte {
	var data strings.Builder
	data.WriteString(types.NormalizeName(req.Query))
	fmt.Fprintf(&data, "|%d|%g|v%d", req.Limit, req.Threshold, cacheVersion)

	if f := req.Filters; f != nil {
		data.WriteString("|filters:")
		if f.Colors != nil {
			data.WriteString("colors=")
			data.WriteString(f.Colors.String())
		}
		fmt.Fprintf(&data, "|required=%s", f.RequiredColors)
		if f.MinCost != nil {
			fmt.Fprintf(&data, "|min=%g", *f.MinCost)
		}
		if f.MaxCost != nil {
			fmt.Fprintf(&data, "|max=%g", *f.MaxCost)
		}
		tags := slices.Clone(f.Tags)
		slices.Sort(tags)
		data.WriteString("|tags=")
		data.WriteString(strings.Join(tags, ","))
		data.WriteString("|kind=")
		data.WriteString(string(f.Kind))
	}

	return sha256.Sum256([]byte(data.String()))
}

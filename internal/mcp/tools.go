package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/cardsynergy-mcp/internal/searcher"
	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound           = -32001 // Unknown card or combo identifier
	ErrorCodeBuildInProgress    = -32002 // Another cache rebuild is already running
	ErrorCodeServiceUnavailable = -32003 // A backend needed for the request is down
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeTimeout            = -32005 // The request deadline passed
	ErrorCodeBuildIncomplete    = -32006 // A rebuild failed; the previous cache stays active
)

// handleSearchCatalog handles the search_catalog tool invocation
func (s *Server) handleSearchCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	filters, err := parseFilters(args["filters"])
	if err != nil {
		return nil, toMCPError(err)
	}

	req := searcher.SearchRequest{
		Query:     query,
		Filters:   filters,
		Limit:     getIntDefault(args, "limit", 0),
		Threshold: getFloatDefault(args, "threshold", 0),
		Timeout:   time.Duration(getIntDefault(args, "timeout_ms", 0)) * time.Millisecond,
		UseCache:  getBoolDefault(args, "use_cache", true),
	}

	resp, err := s.app.Search(ctx, req)
	if err != nil {
		s.logger.Warn("search failed", "query", query, "error", err)
		return nil, toMCPError(err)
	}
	return mcp.NewToolResultText(formatJSON(responseJSON(resp))), nil
}

// handleRelatedCards handles the related_cards tool invocation
func (s *Server) handleRelatedCards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	cardID := getStringDefault(args, "card_id", "")
	if cardID == "" {
		name := getStringDefault(args, "card_name", "")
		if name == "" {
			return nil, newMCPError(ErrorCodeInvalidParams, "card_id or card_name is required", map[string]interface{}{
				"param":  "card_id",
				"reason": "missing or empty",
			})
		}
		resolved, err := s.resolveCardName(ctx, name)
		if err != nil {
			return nil, err
		}
		cardID = resolved
	}

	filters, err := parseFilters(args["filters"])
	if err != nil {
		return nil, toMCPError(err)
	}

	resp, err := s.app.RelatedTo(ctx, cardID, filters, getIntDefault(args, "limit", 0))
	if err != nil {
		return nil, toMCPError(err)
	}
	return mcp.NewToolResultText(formatJSON(responseJSON(resp))), nil
}

// resolveCardName maps an exact name to a single card ID
func (s *Server) resolveCardName(ctx context.Context, name string) (string, error) {
	cards, err := s.app.Store.FindCardsByName(ctx, name)
	if err != nil {
		return "", toMCPError(err)
	}
	switch len(cards) {
	case 0:
		return "", toMCPError(errs.NotFound("card", name))
	case 1:
		return cards[0].ID, nil
	}
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return "", newMCPError(ErrorCodeInvalidParams, "card name is ambiguous", map[string]interface{}{
		"param":      "card_name",
		"candidates": ids,
	})
}

// handleRebuildSynergyCache handles the rebuild_synergy_cache tool invocation
func (s *Server) handleRebuildSynergyCache(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.app.Rebuild(ctx)
	if err != nil {
		return nil, toMCPError(err)
	}

	response := map[string]interface{}{
		"rebuilt":     true,
		"build_id":    result.Version.BuildID,
		"version":     result.Version.Version,
		"rows":        result.Version.RowCount,
		"combos":      result.Version.ComboCount,
		"pairs":       result.Pairs,
		"partitions":  result.Partitions,
		"unchanged":   result.Unchanged,
		"fingerprint": result.Version.Fingerprint,
		"duration_ms": result.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.app.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	st := status.Storage
	cache := map[string]interface{}{
		"loaded":     status.CacheLoaded,
		"version":    status.CacheVersion,
		"rows":       status.CacheRows,
		"rebuilding": status.Rebuilding,
	}
	if v := st.SynergyVersion; v != nil {
		cache["built_at"] = v.BuiltAt.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"catalog": map[string]interface{}{
			"cards_count":            st.CardsCount,
			"combos_count":           st.CombosCount,
			"features_count":         st.FeaturesCount,
			"card_embeddings_count":  st.CardEmbeddingsCount,
			"combo_embeddings_count": st.ComboEmbeddingsCount,
			"database_size_mb":       fmt.Sprintf("%.2f", st.DatabaseSizeMB),
			"build_mode":             st.BuildMode,
		},
		"index": map[string]interface{}{
			"loaded":         status.IndexLoaded,
			"dimension":      status.Index.Dimension,
			"cards":          status.Index.Cards,
			"combos":         status.Index.Combos,
			"missing_vector": status.Index.MissingVector,
		},
		"synergy_cache": cache,
		"embedder": map[string]interface{}{
			"state": status.EmbedderState,
			"model": status.EmbedderModel,
		},
		"response_cache_entries": status.ResponseCached,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMCPError maps an error kind to its protocol code
func toMCPError(err error) error {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	code := ErrorCodeInternalError
	kind := errs.CodeOf(err)
	switch kind {
	case errs.CodeInvalidArgument:
		code = ErrorCodeInvalidParams
	case errs.CodeNotFound:
		code = ErrorCodeNotFound
	case errs.CodeServiceUnavailable:
		code = ErrorCodeServiceUnavailable
	case errs.CodeTimeout:
		code = ErrorCodeTimeout
	case errs.CodeBuildInProgress:
		code = ErrorCodeBuildInProgress
	case errs.CodeBuildIncomplete:
		code = ErrorCodeBuildIncomplete
	}
	return newMCPError(code, err.Error(), map[string]interface{}{
		"kind": kind.String(),
	})
}

// parseFilters converts the filters argument into validated filters
func parseFilters(raw interface{}) (*types.Filters, error) {
	if raw == nil {
		return nil, nil
	}
	args, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errs.InvalidArgument("filters must be an object")
	}

	f := &types.Filters{}
	if s, ok := args["colors"].(string); ok {
		colors, err := types.ColorFilter(s)
		if err != nil {
			return nil, err
		}
		f.Colors = colors
	}
	if s, ok := args["required_colors"].(string); ok {
		colors, err := types.ParseColors(s)
		if err != nil {
			return nil, errs.InvalidArgument("invalid required colors: %v", err)
		}
		f.RequiredColors = colors
	}
	if v, ok := args["min_cost"].(float64); ok {
		f.MinCost = &v
	}
	if v, ok := args["max_cost"].(float64); ok {
		f.MaxCost = &v
	}
	if raw, ok := args["tags"].([]interface{}); ok {
		for _, t := range raw {
			tag, ok := t.(string)
			if !ok {
				return nil, errs.InvalidArgument("tags must be strings")
			}
			f.Tags = append(f.Tags, tag)
		}
	}
	if s, ok := args["kind"].(string); ok {
		f.Kind = types.EntityKind(s)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func responseJSON(resp *searcher.SearchResponse) map[string]interface{} {
	results := make([]map[string]interface{}, len(resp.Results))
	for i := range resp.Results {
		results[i] = resultJSON(&resp.Results[i])
	}

	out := map[string]interface{}{
		"intent":      resp.Intent,
		"kind":        resp.Kind,
		"strategy":    resp.Strategy,
		"degraded":    resp.Degraded,
		"cache_hit":   resp.CacheHit,
		"candidates":  resp.Candidates,
		"duration_ms": resp.Duration.Milliseconds(),
		"results":     results,
	}
	if resp.TargetCardID != "" {
		out["target_card_id"] = resp.TargetCardID
	}
	if resp.Theme != "" {
		out["theme"] = resp.Theme
		out["seeds"] = resp.Seeds
	}
	return out
}

func resultJSON(r *types.SearchResult) map[string]interface{} {
	out := map[string]interface{}{
		"rank":   r.Rank,
		"kind":   r.Kind,
		"id":     r.EntityID(),
		"name":   r.Name(),
		"score":  r.Score,
		"reason": r.Reason,
	}
	if c := r.Card; c != nil {
		out["colors"] = c.ColorIdentity.String()
		out["mana_value"] = c.ManaValue
		out["type_line"] = c.TypeLine
		out["types"] = c.Types
	}
	if c := r.Combo; c != nil {
		out["card_ids"] = c.CardIDs
		out["colors"] = c.ColorIdentity.String()
		out["mana_value"] = c.ManaValue
		out["popularity"] = c.Popularity
		out["feature_ids"] = c.FeatureIDs
	}
	if rel := r.Synergy; rel != nil {
		out["synergy"] = map[string]interface{}{
			"combo_count":     rel.ComboCount,
			"avg_popularity":  rel.AvgPopularity,
			"common_features": rel.CommonFeatures,
			"sample_combos":   rel.SampleCombos,
		}
	}
	return out
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

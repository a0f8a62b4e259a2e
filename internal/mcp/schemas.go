package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/cardsynergy-mcp/internal/searcher"
)

// filtersSchema is shared by search_catalog and related_cards
func filtersSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Optional structured filters applied after retrieval",
		"properties": map[string]interface{}{
			"colors": map[string]interface{}{
				"type":        "string",
				"description": "Allowed color identity as WUBRG symbols, e.g. 'UG'. 'C' means colorless only",
			},
			"required_colors": map[string]interface{}{
				"type":        "string",
				"description": "Colors that must all be present in the identity",
			},
			"min_cost": map[string]interface{}{
				"type":        "number",
				"description": "Minimum mana value",
				"minimum":     0,
			},
			"max_cost": map[string]interface{}{
				"type":        "number",
				"description": "Maximum mana value",
				"minimum":     0,
			},
			"tags": map[string]interface{}{
				"type":        "array",
				"description": "Card type tags (artifact, creature, ...) or combo feature names; all must match",
				"items": map[string]interface{}{
					"type": "string",
				},
			},
			"kind": map[string]interface{}{
				"type":        "string",
				"description": "Entity kind to return for discovery queries",
				"enum":        []string{"card", "combo"},
			},
		},
	}
}

// searchCatalogTool returns the tool definition for search_catalog
func searchCatalogTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_catalog",
		Description: "Search cards and combos with natural language. Exact card names rank first; questions like 'what works with Sol Ring' return co-occurring cards.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Card name, description of an effect, or a synergy question",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum similarity score (0.0-1.0); ignored for synergy and degraded results",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"timeout_ms": map[string]interface{}{
					"type":        "integer",
					"description": "Query deadline in milliseconds",
					"minimum":     1,
				},
				"use_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "Serve repeated queries from the response cache",
					"default":     true,
				},
				"filters": filtersSchema(),
			},
			Required: []string{"query"},
		},
	}
}

// relatedCardsTool returns the tool definition for related_cards
func relatedCardsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "related_cards",
		Description: "List cards that appear in combos together with a given card, ranked by shared combo count",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"card_id": map[string]interface{}{
					"type":        "string",
					"description": "Card identifier",
				},
				"card_name": map[string]interface{}{
					"type":        "string",
					"description": "Exact card name, used when card_id is not given",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
				"filters": filtersSchema(),
			},
		},
	}
}

// rebuildSynergyCacheTool returns the tool definition for rebuild_synergy_cache
func rebuildSynergyCacheTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_synergy_cache",
		Description: "Recompute the precomputed card pair cache from all combos. Only one rebuild runs at a time.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report catalog size, index and synergy cache state, and embedder health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

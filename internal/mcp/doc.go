// Package mcp implements the Model Context Protocol (MCP) server for the
// card and combo search engine.
//
// The server exposes four tools:
//   - search_catalog: hybrid natural-language search over cards and combos
//   - related_cards: cards that appear in combos with a given card
//   - rebuild_synergy_cache: recompute the precomputed pair cache
//   - get_status: catalog, index, cache and embedder state
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
//	a, err := app.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	srv := mcp.NewServer(a, logger)
//	return srv.Serve(ctx)
//
// # Tool: search_catalog
//
//	Request:
//	{
//	  "query": "what works with Sol Ring",
//	  "limit": 10,
//	  "threshold": 0.3,
//	  "filters": {"colors": "UG", "max_cost": 3}
//	}
//
//	Response:
//	{
//	  "intent": "synergy",
//	  "strategy": "synergy_cache",
//	  "target_card_id": "sol-ring",
//	  "degraded": false,
//	  "results": [
//	    {
//	      "rank": 1, "kind": "card", "id": "llanowar", "name": "Llanowar Elves",
//	      "score": 1.0, "reason": "synergy",
//	      "synergy": {"combo_count": 12, "avg_popularity": 340.5, ...}
//	    }
//	  ]
//	}
//
// Exact card names are promoted to score 1.0 ahead of semantic matches.
// When the embedder is unavailable the response sets "degraded" and falls
// back to full-text search or a filtered catalog listing.
//
// # Tool: related_cards
//
// Accepts card_id, or card_name when the name identifies exactly one card.
// An ambiguous name returns InvalidParams with the candidate IDs in the
// error data.
//
// # Tool: rebuild_synergy_cache
//
// Runs a full rebuild and swaps the new version in atomically. A second
// concurrent call fails with BuildInProgress.
//
// # Error Codes
//
//	-32602: Invalid params
//	-32603: Internal error
//	-32001: Card or combo not found
//	-32002: Cache rebuild already in progress
//	-32003: Backend unavailable
//	-32004: Empty query
//	-32005: Deadline exceeded
//	-32006: Cache rebuild failed; previous version still active
package mcp

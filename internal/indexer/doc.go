// Package indexer imports catalog files produced by the upstream data
// pipeline into storage.
//
// # Catalog Format
//
//	{
//	  "features": [{"name": "Infinite mana", "category": "resource"}],
//	  "cards": [{"id": "sol-ring", "name": "Sol Ring", "colors": "C", "mana_value": 1, "types": ["artifact"]}],
//	  "combos": [{"id": "c1", "card_ids": ["sol-ring", "..."], "description": "...", "popularity": 120, "features": ["Infinite mana"]}]
//	}
//
// Combo colors and mana value are not part of the file. They are derived
// from the member cards: colors are the union of identities, mana value is
// the sum. A combo naming an unknown card is rejected.
//
// # Pipeline
//
// Features are written first so combos can reference them by name; features
// named only by combos are created with an empty category. Cards and combos
// then follow in batched transactions. Entities identical to the stored copy
// are skipped, which makes reimporting a catalog cheap.
//
// Records without an embedding are embedded when an Embedder is configured.
// If the embedder fails, the record is stored without a vector and remains
// reachable through text search.
//
// A bad record never aborts an import: it is counted in Statistics.Failed
// with a message, and the rest of the catalog is loaded.
package indexer

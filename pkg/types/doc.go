// Package types defines the catalog domain model shared across packages.
//
// # Entities
//
// Card, Combo and Feature are read-only inputs produced by an external data
// pipeline. Cards and combos carry a fixed-dimension embedding that is opaque
// to this module; everything else is categorical and matched exactly.
//
//	card := &types.Card{
//	    ID:            "sol-ring",
//	    Name:          "Sol Ring",
//	    ColorIdentity: types.MustParseColors("C"),
//	    ManaValue:     1,
//	    Types:         []string{"artifact"},
//	}
//
// # Derived Data
//
// CardSynergy rows are produced only by the synergy cache builder. Pairs are
// canonical (CardID1 < CardID2) and rows with fewer than
// MinSynergyComboCount co-occurrences are never stored.
//
// # Filters
//
// Filters are exact post-filters (color subset, cost range, tags). Validate
// rejects contradictory combinations with an InvalidArgument error.
package types

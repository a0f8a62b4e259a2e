package types

import (
	"math"
	"slices"

	"github.com/dshills/cardsynergy-mcp/pkg/errs"
)

// Filters are structured exact-match constraints applied after retrieval
type Filters struct {
	// Colors constrains the color identity to a subset of these colors.
	// Nil means unconstrained; a pointer to 0 means colorless only.
	Colors *Colors

	// RequiredColors must all be present in the identity
	RequiredColors Colors

	MinCost *float64
	MaxCost *float64

	// Tags must all be present: card type tags, or feature names for combos
	Tags []string

	// Kind hints which entity kind discovery queries should return
	Kind EntityKind
}

// ColorFilter parses a color-subset option
func ColorFilter(s string) (*Colors, error) {
	c, err := ParseColors(s)
	if err != nil {
		return nil, errs.InvalidArgument("invalid color filter: %v", err)
	}
	return &c, nil
}

// Validate rejects malformed or contradictory combinations
func (f *Filters) Validate() error {
	if f == nil {
		return nil
	}
	if f.Colors != nil && !f.RequiredColors.SubsetOf(*f.Colors) {
		return errs.InvalidArgument("required colors %s are outside allowed colors %s", f.RequiredColors, *f.Colors)
	}
	if (f.MinCost != nil && math.IsNaN(*f.MinCost)) || (f.MaxCost != nil && math.IsNaN(*f.MaxCost)) {
		return errs.InvalidArgument("cost bounds must be numbers")
	}
	if f.MinCost != nil && *f.MinCost < 0 {
		return errs.InvalidArgument("min cost must be non-negative, got %g", *f.MinCost)
	}
	if f.MaxCost != nil && *f.MaxCost < 0 {
		return errs.InvalidArgument("max cost must be non-negative, got %g", *f.MaxCost)
	}
	if f.MinCost != nil && f.MaxCost != nil && *f.MinCost > *f.MaxCost {
		return errs.InvalidArgument("min cost %g exceeds max cost %g", *f.MinCost, *f.MaxCost)
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return errs.InvalidArgument("unknown entity kind %q", f.Kind)
	}
	for _, t := range f.Tags {
		if t == "" {
			return errs.InvalidArgument("tag filter contains an empty tag")
		}
	}
	return nil
}

// IsZero reports whether no structured constraint is set. The kind hint
// does not constrain results and is ignored here.
func (f *Filters) IsZero() bool {
	if f == nil {
		return true
	}
	return f.Colors == nil && f.RequiredColors == 0 &&
		f.MinCost == nil && f.MaxCost == nil && len(f.Tags) == 0
}

func (f *Filters) matchColors(identity Colors) bool {
	if f.Colors != nil && !identity.SubsetOf(*f.Colors) {
		return false
	}
	return identity.Contains(f.RequiredColors)
}

func (f *Filters) matchCost(cost float64) bool {
	if f.MinCost != nil && cost < *f.MinCost {
		return false
	}
	if f.MaxCost != nil && cost > *f.MaxCost {
		return false
	}
	return true
}

// MatchCard reports whether a card passes every constraint
func (f *Filters) MatchCard(c *Card) bool {
	if f == nil {
		return true
	}
	return f.matchColors(c.ColorIdentity) && f.matchCost(c.ManaValue) && c.HasTypes(f.Tags)
}

// MatchCombo reports whether a combo passes every constraint.
// featureNames maps feature IDs to names for tag matching.
func (f *Filters) MatchCombo(c *Combo, featureNames map[int64]string) bool {
	if f == nil {
		return true
	}
	if !f.matchColors(c.ColorIdentity) || !f.matchCost(c.ManaValue) {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	names := make([]string, 0, len(c.FeatureIDs))
	for _, id := range c.FeatureIDs {
		if name, ok := featureNames[id]; ok {
			names = append(names, name)
		}
	}
	for _, t := range f.Tags {
		if !slices.Contains(names, t) {
			return false
		}
	}
	return true
}

package types

import (
	"errors"
	"slices"
)

// EntityKind identifies which catalog entity a result refers to
type EntityKind string

const (
	KindCard  EntityKind = "card"
	KindCombo EntityKind = "combo"
)

// Valid reports whether k is a known kind
func (k EntityKind) Valid() bool {
	return k == KindCard || k == KindCombo
}

// Card is a single catalog entity.
// Categorical attributes are exact-match fields; only the embedding is semantic.
type Card struct {
	ID            string
	Name          string
	ColorIdentity Colors
	ManaValue     float64
	TypeLine      string
	OracleText    string
	Types         []string // Type tags, e.g. "artifact", "creature"

	Embedding []float32 // Derived from name+type+text upstream; opaque here

	Confidence float64
}

// Combo is a validated set of cards that together produce a described effect
type Combo struct {
	ID            string
	CardIDs       []string
	Description   string
	Embedding     []float32
	Popularity    float64
	ColorIdentity Colors  // Union of constituent card identities
	ManaValue     float64 // Sum of constituent card mana values
	FeatureIDs    []int64
}

// Feature is a categorical outcome tag attached to combos. Never embedded.
type Feature struct {
	ID       int64
	Name     string
	Category string
}

// Validation errors
var (
	ErrEmptyID           = errors.New("identifier cannot be empty")
	ErrEmptyName         = errors.New("name cannot be empty")
	ErrComboTooSmall     = errors.New("combo must contain at least two distinct cards")
	ErrNegativePopular   = errors.New("popularity must be non-negative")
	ErrNegativeManaValue = errors.New("mana value must be non-negative")
)

// Validate checks card invariants
func (c *Card) Validate() error {
	if c.ID == "" {
		return ErrEmptyID
	}
	if c.Name == "" {
		return ErrEmptyName
	}
	if c.ManaValue < 0 {
		return ErrNegativeManaValue
	}
	return nil
}

// HasTypes reports whether the card carries every tag (case-sensitive, tags are normalized upstream)
func (c *Card) HasTypes(tags []string) bool {
	for _, t := range tags {
		if !slices.Contains(c.Types, t) {
			return false
		}
	}
	return true
}

// Validate checks combo invariants
func (c *Combo) Validate() error {
	if c.ID == "" {
		return ErrEmptyID
	}
	if len(c.DistinctCardIDs()) < 2 {
		return ErrComboTooSmall
	}
	if c.Popularity < 0 {
		return ErrNegativePopular
	}
	return nil
}

// DistinctCardIDs returns the sorted distinct constituent card identifiers
func (c *Combo) DistinctCardIDs() []string {
	ids := slices.Clone(c.CardIDs)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Validate checks feature invariants
func (f *Feature) Validate() error {
	if f.Name == "" {
		return ErrEmptyName
	}
	return nil
}

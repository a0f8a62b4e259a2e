package types

import "errors"

// Intent is the classified purpose of a query
type Intent string

const (
	IntentCardDiscovery  Intent = "card_discovery"
	IntentComboDiscovery Intent = "combo_discovery"
	IntentSynergy        Intent = "synergy"
)

// MatchReason explains why a result was returned with its score
type MatchReason string

const (
	ReasonExactName   MatchReason = "exact_name_match"
	ReasonPartialName MatchReason = "partial_name_match"
	ReasonSemantic    MatchReason = "semantic_similarity"
	ReasonSynergy     MatchReason = "synergy_cooccurrence"
	ReasonTextMatch   MatchReason = "text_match"
	ReasonTagFilter   MatchReason = "tag_filter"
)

// SearchResult is one ranked entry returned to callers
type SearchResult struct {
	Rank   int // 1-based
	Kind   EntityKind
	Score  float64
	Reason MatchReason

	Card  *Card  // Set when Kind == KindCard
	Combo *Combo // Set when Kind == KindCombo

	// Synergy details, set for synergy results
	Synergy *Relation
}

// EntityID returns the identifier of the referenced entity
func (sr *SearchResult) EntityID() string {
	switch {
	case sr.Card != nil:
		return sr.Card.ID
	case sr.Combo != nil:
		return sr.Combo.ID
	}
	return ""
}

// Name returns a display name for the referenced entity
func (sr *SearchResult) Name() string {
	switch {
	case sr.Card != nil:
		return sr.Card.Name
	case sr.Combo != nil:
		return sr.Combo.Description
	}
	return ""
}

var (
	ErrInvalidRank  = errors.New("result rank must be >= 1")
	ErrInvalidScore = errors.New("result score must be in [0, 1]")
	ErrMissingKind  = errors.New("result entity kind is required")
)

// Validate checks result invariants
func (sr *SearchResult) Validate() error {
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.Score < 0 || sr.Score > 1 {
		return ErrInvalidScore
	}
	if !sr.Kind.Valid() {
		return ErrMissingKind
	}
	return nil
}

// Relation describes how strongly another card co-occurs with a target card
type Relation struct {
	CardID         string
	ComboCount     int
	AvgPopularity  float64
	CommonFeatures []int64
	SampleCombos   []string
}

// Package promoter overrides semantic similarity when the query names an
// entity verbatim.
//
// Name-only queries embed poorly against an entity's full semantic profile,
// so an exact normalized name match is pinned to 1.0 and a substring match is
// lifted to a length-ratio score that stays strictly below 1.0.
package promoter

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

const (
	// ExactScore is assigned to exact name matches
	ExactScore = 1.0

	// MinPartialRunes is the shortest query eligible for partial promotion
	MinPartialRunes = 3

	partialBase  = 0.5
	partialRange = 0.49
)

// Candidate is a scored entity awaiting promotion
type Candidate struct {
	Name   string
	Score  float64
	Reason types.MatchReason
}

// Promote rescores c against query and returns the updated candidate.
// The reason is always set: exact, partial, or semantic when unchanged.
func Promote(query string, c Candidate) Candidate {
	q := types.NormalizeName(query)
	name := types.NormalizeName(c.Name)

	switch {
	case q == "" || name == "":
		c.Reason = types.ReasonSemantic
	case q == name:
		c.Score = ExactScore
		c.Reason = types.ReasonExactName
	case utf8.RuneCountInString(q) >= MinPartialRunes && strings.Contains(name, q):
		c.Score = max(c.Score, PartialScore(q, name))
		c.Reason = types.ReasonPartialName
	default:
		c.Reason = types.ReasonSemantic
	}
	return c
}

// PartialScore maps the matched fraction of the name into [0.5, 0.99).
// It is monotonic in the ratio and strictly below 1.0 because a proper
// substring is always shorter than the name.
func PartialScore(query, name string) float64 {
	n := utf8.RuneCountInString(name)
	if n == 0 {
		return 0
	}
	ratio := float64(utf8.RuneCountInString(query)) / float64(n)
	return partialBase + partialRange*min(ratio, 1)
}

// IsExact reports whether query names the entity exactly
func IsExact(query, name string) bool {
	q := types.NormalizeName(query)
	return q != "" && q == types.NormalizeName(name)
}

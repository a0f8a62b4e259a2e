// Package intent decides which retrieval path a query exercises.
//
// Classification is a fixed, priority-ordered pattern match:
//
//  1. A relational phrase ("works with", "synergizes with", ...) means
//     synergy. So does the word "with" next to a known card name.
//  2. Combo-outcome vocabulary ("combo", "infinite", ...) means combo
//     discovery.
//  3. Anything else is card discovery.
//
// Relational phrases are checked first because combo vocabulary often
// appears inside synergy questions ("what combos with X").
package intent

import (
	"slices"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// RelationalPhrases force the synergy intent, in match priority order
var RelationalPhrases = []string{
	"synergizes with",
	"interacts with",
	"combos with",
	"works with",
	"pairs with",
}

// ComboVocabulary forces combo discovery when no relational phrase matched
var ComboVocabulary = []string{
	"win the game",
	"win condition",
	"infinite",
	"combo",
}

// Classification is the outcome for one query
type Classification struct {
	Intent types.Intent

	// Synergy target: CardID when the target resolves to a known card,
	// otherwise Theme carries free text for the fallback path
	CardID   string
	CardName string
	Theme    string

	// MatchedPhrase is the pattern that decided the intent, empty for the default
	MatchedPhrase string
}

// Classifier is safe for concurrent use. Names can be swapped at any time.
type Classifier struct {
	names atomic.Pointer[NameIndex]
}

// NewClassifier creates a classifier over an initial name index (may be nil)
func NewClassifier(names *NameIndex) *Classifier {
	c := &Classifier{}
	if names != nil {
		c.names.Store(names)
	}
	return c
}

// SetNames publishes a new name index
func (c *Classifier) SetNames(names *NameIndex) {
	c.names.Store(names)
}

// Names returns the current name index
func (c *Classifier) Names() *NameIndex {
	return c.names.Load()
}

// Classify never fails; unrecognized text is card discovery
func (c *Classifier) Classify(query string) Classification {
	names := c.names.Load()
	lower, offsets := foldCase(query)

	for _, phrase := range RelationalPhrases {
		idx := strings.Index(lower, phrase)
		if idx < 0 {
			continue
		}
		out := Classification{Intent: types.IntentSynergy, MatchedPhrase: phrase}
		target := trimTarget(query[offsets[idx+len(phrase)]:])
		resolveTarget(&out, names, target, query)
		return out
	}

	if hasWord(lower, "with") {
		if id, name, ok := names.Contained(query); ok {
			return Classification{
				Intent:        types.IntentSynergy,
				CardID:        id,
				CardName:      name,
				MatchedPhrase: "with",
			}
		}
	}

	for _, word := range ComboVocabulary {
		if strings.Contains(lower, word) {
			return Classification{Intent: types.IntentComboDiscovery, MatchedPhrase: word}
		}
	}

	return Classification{Intent: types.IntentCardDiscovery}
}

// resolveTarget prefers an exact name, then the longest contained name,
// then falls back to a theme
func resolveTarget(out *Classification, names *NameIndex, target, query string) {
	if id, ok := names.Exact(target); ok {
		out.CardID = id
		out.CardName = types.NormalizeName(target)
		return
	}
	if id, name, ok := names.Contained(target); ok {
		out.CardID = id
		out.CardName = name
		return
	}
	if id, name, ok := names.Contained(query); ok {
		out.CardID = id
		out.CardName = name
		return
	}
	if target == "" {
		target = strings.TrimSpace(query)
	}
	out.Theme = target
}

// foldCase lowercases s rune by rune, as strings.ToLower does, and maps
// every byte offset of the result back to the start of its source rune.
// Lowercasing may change a rune's encoded length.
func foldCase(s string) (string, []int) {
	var b strings.Builder
	b.Grow(len(s))
	offsets := make([]int, 0, len(s)+1)
	for i, r := range s {
		n := b.Len()
		b.WriteRune(unicode.ToLower(r))
		for ; n < b.Len(); n++ {
			offsets = append(offsets, i)
		}
	}
	offsets = append(offsets, len(s))
	return b.String(), offsets
}

// trimTarget strips surrounding whitespace and punctuation
func trimTarget(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || strings.ContainsRune(`?!.,;:"'()[]`, r)
	})
}

func hasWord(lower, word string) bool {
	return slices.Contains(tokenize(lower), word)
}

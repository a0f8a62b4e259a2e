package intent

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// NameIndex resolves card names inside free text. It is immutable after
// construction and safe for concurrent use.
type NameIndex struct {
	byKey   map[string][]string // joined tokens -> card IDs, sorted
	byFirst map[string][]nameEntry
}

type nameEntry struct {
	id     string
	tokens []string
	runes  int
}

// NewNameIndex builds an index over the given cards
func NewNameIndex(cards []*types.Card) *NameIndex {
	ix := &NameIndex{
		byKey:   make(map[string][]string, len(cards)),
		byFirst: make(map[string][]nameEntry),
	}
	for _, c := range cards {
		toks := tokenize(c.Name)
		if len(toks) == 0 {
			continue
		}
		key := strings.Join(toks, " ")
		ix.byKey[key] = append(ix.byKey[key], c.ID)
		ix.byFirst[toks[0]] = append(ix.byFirst[toks[0]], nameEntry{
			id:     c.ID,
			tokens: toks,
			runes:  utf8.RuneCountInString(key),
		})
	}
	for k := range ix.byKey {
		slices.Sort(ix.byKey[k])
	}
	for k := range ix.byFirst {
		slices.SortFunc(ix.byFirst[k], compareEntries)
	}
	return ix
}

// longest first, then ID ascending
func compareEntries(a, b nameEntry) int {
	if c := cmp.Compare(b.runes, a.runes); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// Len returns the number of distinct names
func (ix *NameIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.byKey)
}

// Exact returns the card whose whole name equals text, ignoring case and
// punctuation. Duplicate names resolve to the smallest ID.
func (ix *NameIndex) Exact(text string) (string, bool) {
	if ix == nil {
		return "", false
	}
	ids := ix.byKey[strings.Join(tokenize(text), " ")]
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// Contained returns the longest card name appearing in text on word
// boundaries, with ties broken by ID
func (ix *NameIndex) Contained(text string) (id string, name string, ok bool) {
	if ix == nil {
		return "", "", false
	}
	toks := tokenize(text)

	var best *nameEntry
	for i, tok := range toks {
		for j := range ix.byFirst[tok] {
			e := &ix.byFirst[tok][j]
			if best != nil && compareEntries(*e, *best) >= 0 {
				// Entries are sorted, nothing later in this bucket can win
				break
			}
			if hasTokenPrefix(toks[i:], e.tokens) {
				best = e
				break
			}
		}
	}
	if best == nil {
		return "", "", false
	}
	return best.id, strings.Join(best.tokens, " "), true
}

func hasTokenPrefix(toks, prefix []string) bool {
	if len(prefix) > len(toks) {
		return false
	}
	for i := range prefix {
		if toks[i] != prefix[i] {
			return false
		}
	}
	return true
}

// tokenize lowercases text and splits it on anything but letters and digits
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

package intent

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

func testNames() *NameIndex {
	return NewNameIndex([]*types.Card{
		{ID: "sol-ring", Name: "Sol Ring"},
		{ID: "ring", Name: "Ring"},
		{ID: "thassa", Name: "Thassa's Oracle"},
		{ID: "consult", Name: "Demonic Consultation"},
		{ID: "llanowar", Name: "Llanowar Elves"},
	})
}

func TestClassify(t *testing.T) {
	c := NewClassifier(testNames())

	tests := []struct {
		name       string
		query      string
		wantIntent types.Intent
		wantCard   string
		wantTheme  string
		wantPhrase string
	}{
		{
			name:       "relational phrase with known card",
			query:      "what works with Sol Ring",
			wantIntent: types.IntentSynergy,
			wantCard:   "sol-ring",
			wantPhrase: "works with",
		},
		{
			name:       "relational phrase is case insensitive",
			query:      "Cards that SYNERGIZE... no, SYNERGIZES WITH thassa's oracle?",
			wantIntent: types.IntentSynergy,
			wantCard:   "thassa",
			wantPhrase: "synergizes with",
		},
		{
			name:       "combo vocabulary does not shadow relational phrase",
			query:      "what combos with Demonic Consultation",
			wantIntent: types.IntentSynergy,
			wantCard:   "consult",
			wantPhrase: "combos with",
		},
		{
			name:       "unresolved target becomes theme",
			query:      "what pairs with graveyard recursion?",
			wantIntent: types.IntentSynergy,
			wantTheme:  "graveyard recursion",
			wantPhrase: "pairs with",
		},
		{
			name:       "bare with plus known name",
			query:      "good partners with llanowar elves",
			wantIntent: types.IntentSynergy,
			wantCard:   "llanowar",
			wantPhrase: "with",
		},
		{
			name:       "bare with and no known name",
			query:      "creatures with flying",
			wantIntent: types.IntentCardDiscovery,
		},
		{
			name:       "combo vocabulary",
			query:      "infinite mana in green",
			wantIntent: types.IntentComboDiscovery,
			wantPhrase: "infinite",
		},
		{
			name:       "win condition",
			query:      "a win condition for mono blue",
			wantIntent: types.IntentComboDiscovery,
			wantPhrase: "win condition",
		},
		{
			name:       "default",
			query:      "green ramp spells",
			wantIntent: types.IntentCardDiscovery,
		},
		{
			name:       "empty query",
			query:      "",
			wantIntent: types.IntentCardDiscovery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.query)
			assert.Equal(t, tt.wantIntent, got.Intent)
			assert.Equal(t, tt.wantCard, got.CardID)
			assert.Equal(t, tt.wantTheme, got.Theme)
			assert.Equal(t, tt.wantPhrase, got.MatchedPhrase)
		})
	}
}

func TestClassify_LongestNameWins(t *testing.T) {
	c := NewClassifier(testNames())

	got := c.Classify("what works with my sol ring deck")
	assert.Equal(t, "sol-ring", got.CardID, "Sol Ring is longer than Ring")
}

func TestClassify_WithoutNames(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify("what works with Sol Ring")
	assert.Equal(t, types.IntentSynergy, got.Intent)
	assert.Equal(t, "Sol Ring", got.Theme)
}

func TestClassify_EmptyTargetUsesQuery(t *testing.T) {
	c := NewClassifier(testNames())

	got := c.Classify("what works with?")
	assert.Equal(t, types.IntentSynergy, got.Intent)
	assert.Equal(t, "what works with?", got.Theme)
}

func TestClassify_CaseFoldChangesWidth(t *testing.T) {
	c := NewClassifier(testNames())

	// U+023A lowercases to a 3-byte rune, shifting byte offsets
	got := c.Classify("Ⱥ works with")
	assert.Equal(t, types.IntentSynergy, got.Intent)
	assert.Equal(t, "Ⱥ works with", got.Theme)

	got = c.Classify("ȺȺȺ works with Sol Ring")
	assert.Equal(t, "sol-ring", got.CardID)

	got = c.Classify("ȾȺ Works With Ⱥrtifact Ramp!")
	assert.Equal(t, "Ⱥrtifact Ramp", got.Theme)

	got = c.Classify("works with \xff\xfe")
	assert.Equal(t, types.IntentSynergy, got.Intent)
}

func TestFoldCase(t *testing.T) {
	for _, s := range []string{"", "Sol Ring", "ȺȾ works", "Ω\xffx"} {
		lower, offsets := foldCase(s)
		assert.Equal(t, strings.ToLower(s), lower)
		require.Len(t, offsets, len(lower)+1)
		assert.Equal(t, len(s), offsets[len(lower)])
	}
}

func TestNameIndex(t *testing.T) {
	names := NewNameIndex([]*types.Card{
		{ID: "b", Name: "Twin"},
		{ID: "a", Name: "twin"},
		{ID: "x", Name: "   "},
	})
	assert.Equal(t, 1, names.Len())

	id, ok := names.Exact("TWIN!")
	require.True(t, ok)
	assert.Equal(t, "a", id, "duplicate names resolve to the smallest ID")

	_, _, ok = names.Contained("twinning")
	assert.False(t, ok, "names match on word boundaries only")

	var nilIndex *NameIndex
	_, ok = nilIndex.Exact("twin")
	assert.False(t, ok)
}

func TestClassifier_SetNamesConcurrent(t *testing.T) {
	c := NewClassifier(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Classify("what works with Sol Ring")
			}
		}()
	}
	c.SetNames(testNames())
	wg.Wait()

	assert.Equal(t, "sol-ring", c.Classify("what works with Sol Ring").CardID)
}

package types

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cardsynergy-mcp/pkg/errs"
)

func TestParseColors(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "C", false},
		{"C", "C", false},
		{"gu", "UG", false},
		{"{W}{B}", "WB", false},
		{"GRUBW", "WUBRG", false},
		{"CG", "", true},
		{"X", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseColors(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.String())
		})
	}
}

func TestColorsSetOps(t *testing.T) {
	g := MustParseColors("G")
	ug := MustParseColors("UG")

	assert.True(t, g.SubsetOf(ug))
	assert.False(t, ug.SubsetOf(g))
	assert.True(t, Colors(0).SubsetOf(g))
	assert.True(t, ug.Contains(g))
	assert.Equal(t, ug, g.Union(MustParseColors("U")))
	assert.Equal(t, 5, AllColors.Count())
}

func TestColorsJSON(t *testing.T) {
	data, err := json.Marshal(MustParseColors("BG"))
	require.NoError(t, err)
	assert.Equal(t, `"BG"`, string(data))

	var c Colors
	require.NoError(t, json.Unmarshal([]byte(`"rw"`), &c))
	assert.Equal(t, "WR", c.String())
}

func TestComboValidate(t *testing.T) {
	c := &Combo{ID: "c1", CardIDs: []string{"a", "a"}}
	assert.ErrorIs(t, c.Validate(), ErrComboTooSmall)

	c.CardIDs = []string{"b", "a", "b"}
	assert.NoError(t, c.Validate())
	assert.Equal(t, []string{"a", "b"}, c.DistinctCardIDs())

	c.Popularity = -1
	assert.ErrorIs(t, c.Validate(), ErrNegativePopular)
}

func TestSynergyScore(t *testing.T) {
	assert.InDelta(t, 0.15, SynergyScore(5, 30), 1e-12)

	a, b := CanonicalPair("zeta", "alpha")
	assert.Equal(t, "alpha", a)
	assert.Equal(t, "zeta", b)

	row := CardSynergy{CardID1: a, CardID2: b}
	assert.Equal(t, "zeta", row.Other("alpha"))
	assert.True(t, row.Involves("zeta"))
	assert.False(t, row.Involves("beta"))
}

func TestFiltersValidate(t *testing.T) {
	g := MustParseColors("G")
	three, one := 3.0, 1.0
	neg := -1.0
	nan := math.NaN()

	assert.NoError(t, (*Filters)(nil).Validate())
	assert.NoError(t, (&Filters{Colors: &g, RequiredColors: g}).Validate())

	cases := map[string]*Filters{
		"required outside allowed": {Colors: &g, RequiredColors: MustParseColors("U")},
		"min above max":            {MinCost: &three, MaxCost: &one},
		"negative max":             {MaxCost: &neg},
		"unknown kind":             {Kind: "planeswalker"},
		"empty tag":                {Tags: []string{""}},
		"NaN min":                  {MinCost: &nan},
		"NaN max":                  {MinCost: &one, MaxCost: &nan},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			err := f.Validate()
			assert.True(t, errors.Is(err, errs.ErrInvalidArgument), "got %v", err)
		})
	}

	_, err := ColorFilter("CW")
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestFiltersMatch(t *testing.T) {
	g := MustParseColors("G")
	three := 3.0

	f := &Filters{Colors: &g, MaxCost: &three, Tags: []string{"creature"}}
	assert.False(t, f.IsZero())
	assert.True(t, (&Filters{Kind: KindCard}).IsZero())

	assert.True(t, f.MatchCard(&Card{ColorIdentity: g, ManaValue: 2, Types: []string{"creature", "elf"}}))
	assert.False(t, f.MatchCard(&Card{ColorIdentity: MustParseColors("UG"), ManaValue: 2, Types: []string{"creature"}}))
	assert.False(t, f.MatchCard(&Card{ColorIdentity: g, ManaValue: 4, Types: []string{"creature"}}))
	assert.False(t, f.MatchCard(&Card{ColorIdentity: g, ManaValue: 1, Types: []string{"sorcery"}}))

	combo := &Combo{ColorIdentity: g, ManaValue: 3, FeatureIDs: []int64{7}}
	names := map[int64]string{7: "creature"}
	assert.True(t, f.MatchCombo(combo, names))
	assert.False(t, f.MatchCombo(combo, map[int64]string{}))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "sol ring", NormalizeName("  Sol \t RING "))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestSearchResultValidate(t *testing.T) {
	card := &Card{ID: "sol-ring", Name: "Sol Ring"}
	r := SearchResult{Rank: 1, Kind: KindCard, Score: 1, Card: card}
	assert.NoError(t, r.Validate())
	assert.Equal(t, "sol-ring", r.EntityID())
	assert.Equal(t, "Sol Ring", r.Name())

	r.Rank = 0
	assert.ErrorIs(t, r.Validate(), ErrInvalidRank)
	r.Rank = 1
	r.Score = 1.2
	assert.ErrorIs(t, r.Validate(), ErrInvalidScore)
	r.Score = 0.5
	r.Kind = ""
	assert.ErrorIs(t, r.Validate(), ErrMissingKind)
}

package types

// MinSynergyComboCount is the co-occurrence floor below which no cached row exists
const MinSynergyComboCount = 3

// MaxSampleCombos bounds CardSynergy.SampleCombos
const MaxSampleCombos = 3

// synergyScoreDivisor is kept for compatibility with existing consumers of the cache
const synergyScoreDivisor = 1000.0

// CardSynergy is a cached, precomputed relation between two cards.
// CardID1 < CardID2 always holds.
type CardSynergy struct {
	CardID1        string
	CardID2        string
	ComboCount     int
	AvgPopularity  float64
	SynergyScore   float64
	CommonFeatures []int64
	SampleCombos   []string
}

// SynergyScore combines co-occurrence count and average popularity
func SynergyScore(comboCount int, avgPopularity float64) float64 {
	return float64(comboCount) * avgPopularity / synergyScoreDivisor
}

// CanonicalPair orders two card identifiers so the first is smaller
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Other returns the card of the pair that is not id
func (s *CardSynergy) Other(id string) string {
	if s.CardID1 == id {
		return s.CardID2
	}
	return s.CardID1
}

// Involves reports whether id is one side of the pair
func (s *CardSynergy) Involves(id string) bool {
	return s.CardID1 == id || s.CardID2 == id
}

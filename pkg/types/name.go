package types

import "strings"

// NormalizeName lowercases, trims and collapses internal whitespace.
// Exact-name lookups compare normalized forms on both sides.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

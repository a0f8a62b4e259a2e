// Package synergy discovers cards that work together.
//
// Two cards are related when they appear in the same combo. GraphEngine walks
// combo membership live and applies no minimum count. Builder precomputes
// every pair that shares at least three combos into a persisted cache whose
// active version is served by CacheReader through an atomically swapped
// Snapshot. ThemeRelated handles free-text targets by expanding a theme into
// seed cards and aggregating their neighbors.
//
// All strategies rank relations by combo count, then average popularity,
// then card ID, and apply structured filters only after grouping.
package synergy

// Package index provides nearest-neighbor search over precomputed card and
// combo embeddings.
//
// The index holds one immutable snapshot per load. Vectors are normalized at
// load time, so a search is a dot product per entity followed by a total
// ordering (similarity descending, ID ascending). Results are therefore
// deterministic for a given snapshot. Large snapshots are scored in
// partitions with errgroup; partitioning never changes the output.
//
// Entities whose vector has the wrong dimension are skipped with a warning.
// Searching before the first load fails with errs.ErrServiceUnavailable.
package index

package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// searchText performs BM25 full-text search using FTS5 over one entity kind
func searchText(ctx context.Context, q querier, kind types.EntityKind, query string, limit int) ([]TextResult, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, errs.InvalidArgument("empty search query")
	}
	if limit <= 0 {
		return []TextResult{}, nil
	}

	var sqlQuery string
	switch kind {
	case types.KindCard:
		sqlQuery = `
			SELECT c.id, bm25(cards_fts) AS score
			FROM cards_fts
			INNER JOIN cards c ON c.rowid = cards_fts.rowid
			WHERE cards_fts MATCH ?
			ORDER BY score, c.id
			LIMIT ?
		`
	case types.KindCombo:
		sqlQuery = `
			SELECT co.id, bm25(combos_fts) AS score
			FROM combos_fts
			INNER JOIN combos co ON co.rowid = combos_fts.rowid
			WHERE combos_fts MATCH ?
			ORDER BY score, co.id
			LIMIT ?
		`
	default:
		return nil, errs.InvalidArgument("unknown entity kind %q", kind)
	}

	rows, err := q.QueryContext(ctx, sqlQuery, sanitized, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0, limit)
	for rows.Next() {
		var result TextResult
		if err := rows.Scan(&result.ID, &result.BM25Score); err != nil {
			return nil, err
		}
		result.BM25Score = normalizeBM25(result.BM25Score)
		results = append(results, result)
	}
	return results, rows.Err()
}

// normalizeBM25 maps an FTS5 bm25 value (negative, lower is better) into (0, 1].
// BM25 scores are typically in range [-50, 0].
func normalizeBM25(score float64) float64 {
	return 1.0 / (1.0 + math.Abs(score)/50.0)
}

// sanitizeFTSQuery turns free text into an FTS5 expression of quoted terms
// joined with OR. Quoting neutralizes operators and special characters.
func sanitizeFTSQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}

	terms := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

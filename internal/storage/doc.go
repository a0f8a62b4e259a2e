// Package storage provides SQLite-based persistence for the card catalog and
// the precomputed synergy cache.
//
// # Database Schema
//
// Tables:
//   - cards: card attributes, JSON type tags, embedding blob
//   - combos: description, popularity, derived colors and mana value, embedding blob
//   - combo_cards: the bipartite combo <-> card relation
//   - features, combo_features: feature vocabulary and combo assignments
//   - cards_fts, combos_fts: FTS5 indexes kept in sync by triggers
//   - card_synergies: cached pair rows (card_id1 < card_id2, combo_count >= 3)
//   - synergy_versions: one row per committed cache build
//
// Colors are stored as the WUBRG bitmask of types.Colors. Embeddings are
// little-endian float32 blobs with their dimension recorded alongside.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("catalog.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	card, err := db.GetCard(ctx, "sol-ring")
//	if errors.Is(err, errs.ErrNotFound) {
//	    // unknown identifier
//	}
//
// # Transactions
//
// Loading a catalog is done inside one transaction:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	for _, c := range cards {
//	    if err := tx.UpsertCard(ctx, c); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Synergy Cache
//
// ReplaceSynergies deletes every cached row, inserts the new set and records
// a synergy_versions row in a single transaction, so readers of the database
// see either the previous build or the new one.
//
// # Build Tags
//
// CGO Build (sqlite_cgo tag) uses github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo,sqlite_fts5"
//
// Pure Go Build (default) uses modernc.org/sqlite:
//
//	CGO_ENABLED=0 go build -tags "purego"
package storage

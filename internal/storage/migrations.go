package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationCatalogUp,
		Down:    migrationCatalogDown,
	},
	{
		Version: "1.1.0",
		Up:      migrationSynergyUp,
		Down:    migrationSynergyDown,
	},
}

const migrationCatalogUp = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Cards table. colors is the WUBRG bitmask, types a JSON array of tags.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    name_norm TEXT NOT NULL,
    colors INTEGER NOT NULL DEFAULT 0,
    mana_value REAL NOT NULL DEFAULT 0,
    type_line TEXT NOT NULL DEFAULT '',
    oracle_text TEXT NOT NULL DEFAULT '',
    types TEXT NOT NULL DEFAULT '[]',
    embedding BLOB,
    dimension INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cards_name_norm ON cards(name_norm);

CREATE VIRTUAL TABLE IF NOT EXISTS cards_fts USING fts5(
    name, type_line, oracle_text,
    content='cards',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS cards_ai AFTER INSERT ON cards BEGIN
    INSERT INTO cards_fts(rowid, name, type_line, oracle_text)
    VALUES (new.rowid, new.name, new.type_line, new.oracle_text);
END;

CREATE TRIGGER IF NOT EXISTS cards_ad AFTER DELETE ON cards BEGIN
    INSERT INTO cards_fts(cards_fts, rowid, name, type_line, oracle_text)
    VALUES ('delete', old.rowid, old.name, old.type_line, old.oracle_text);
END;

CREATE TRIGGER IF NOT EXISTS cards_au AFTER UPDATE ON cards BEGIN
    INSERT INTO cards_fts(cards_fts, rowid, name, type_line, oracle_text)
    VALUES ('delete', old.rowid, old.name, old.type_line, old.oracle_text);
    INSERT INTO cards_fts(rowid, name, type_line, oracle_text)
    VALUES (new.rowid, new.name, new.type_line, new.oracle_text);
END;

-- Combos table
CREATE TABLE IF NOT EXISTS combos (
    id TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    description_norm TEXT NOT NULL DEFAULT '',
    popularity REAL NOT NULL DEFAULT 0 CHECK (popularity >= 0),
    colors INTEGER NOT NULL DEFAULT 0,
    mana_value REAL NOT NULL DEFAULT 0,
    embedding BLOB,
    dimension INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_combos_description_norm ON combos(description_norm);

CREATE VIRTUAL TABLE IF NOT EXISTS combos_fts USING fts5(
    description,
    content='combos',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS combos_ai AFTER INSERT ON combos BEGIN
    INSERT INTO combos_fts(rowid, description) VALUES (new.rowid, new.description);
END;

CREATE TRIGGER IF NOT EXISTS combos_ad AFTER DELETE ON combos BEGIN
    INSERT INTO combos_fts(combos_fts, rowid, description) VALUES ('delete', old.rowid, old.description);
END;

CREATE TRIGGER IF NOT EXISTS combos_au AFTER UPDATE ON combos BEGIN
    INSERT INTO combos_fts(combos_fts, rowid, description) VALUES ('delete', old.rowid, old.description);
    INSERT INTO combos_fts(rowid, description) VALUES (new.rowid, new.description);
END;

-- Combo membership (bipartite combo <-> card relation)
CREATE TABLE IF NOT EXISTS combo_cards (
    combo_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    PRIMARY KEY (combo_id, card_id),
    FOREIGN KEY (combo_id) REFERENCES combos(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_combo_cards_card ON combo_cards(card_id);

-- Feature vocabulary
CREATE TABLE IF NOT EXISTS features (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    category TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS combo_features (
    combo_id TEXT NOT NULL,
    feature_id INTEGER NOT NULL,
    PRIMARY KEY (combo_id, feature_id),
    FOREIGN KEY (combo_id) REFERENCES combos(id) ON DELETE CASCADE,
    FOREIGN KEY (feature_id) REFERENCES features(id) ON DELETE CASCADE
);
`

const migrationCatalogDown = `
DROP TRIGGER IF EXISTS combos_au;
DROP TRIGGER IF EXISTS combos_ad;
DROP TRIGGER IF EXISTS combos_ai;
DROP TRIGGER IF EXISTS cards_au;
DROP TRIGGER IF EXISTS cards_ad;
DROP TRIGGER IF EXISTS cards_ai;

DROP TABLE IF EXISTS combo_features;
DROP TABLE IF EXISTS features;
DROP TABLE IF EXISTS combo_cards;
DROP TABLE IF EXISTS combos_fts;
DROP TABLE IF EXISTS combos;
DROP TABLE IF EXISTS cards_fts;
DROP TABLE IF EXISTS cards;
DROP TABLE IF EXISTS schema_version;
`

const migrationSynergyUp = `
-- Precomputed pairwise synergy cache, replaced in full by each build
CREATE TABLE IF NOT EXISTS card_synergies (
    card_id1 TEXT NOT NULL,
    card_id2 TEXT NOT NULL,
    combo_count INTEGER NOT NULL CHECK (combo_count >= 3),
    avg_popularity REAL NOT NULL,
    synergy_score REAL NOT NULL,
    common_features TEXT NOT NULL DEFAULT '[]',
    sample_combos TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (card_id1, card_id2),
    CHECK (card_id1 < card_id2)
);

CREATE INDEX IF NOT EXISTS idx_card_synergies_card2 ON card_synergies(card_id2);

-- One row per committed build
CREATE TABLE IF NOT EXISTS synergy_versions (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    build_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    combo_count INTEGER NOT NULL,
    built_at TIMESTAMP NOT NULL
);
`

const migrationSynergyDown = `
DROP TABLE IF EXISTS synergy_versions;
DROP INDEX IF EXISTS idx_card_synergies_card2;
DROP TABLE IF EXISTS card_synergies;
`

// currentVersion reads the newest applied schema version, 0.0.0 if none
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// applied_at has second resolution, so compare versions rather than timestamps
	latest := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if v.GreaterThan(latest) {
			latest = v
		}
	}
	return latest, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// The first migration drops schema_version itself
	if migration.Version == AllMigrations[0].Version {
		return nil
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}

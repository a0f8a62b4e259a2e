package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// DefaultReadConns is the size of the read pool for file databases
const DefaultReadConns = 4

// SQLiteStorage implements the Storage interface using SQLite.
// Writes go through a single connection; reads use a separate pool so a
// long write transaction or membership scan never blocks online queries.
type SQLiteStorage struct {
	db     *sql.DB
	reader *sql.DB // Same as db for in-memory databases
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	reader, err := openReader(dbPath, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}

	return &SQLiteStorage{db: db, reader: reader}, nil
}

// openReader opens the read pool. WAL lets these connections read the last
// committed state while the writer holds a transaction. In-memory databases
// are private to one connection and share the writer.
func openReader(dbPath string, writer *sql.DB) (*sql.DB, error) {
	if isMemoryPath(dbPath) {
		return writer, nil
	}
	reader, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}
	reader.SetMaxOpenConns(DefaultReadConns)
	reader.SetMaxIdleConns(DefaultReadConns)
	reader.SetConnMaxLifetime(0)

	if err := reader.Ping(); err != nil {
		_ = reader.Close()
		return nil, err
	}
	return reader, nil
}

func isMemoryPath(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// Close closes the database connections
func (s *SQLiteStorage) Close() error {
	var readErr error
	if s.reader != s.db {
		readErr = s.reader.Close()
	}
	return errors.Join(s.db.Close(), readErr)
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the write connection
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// readQuerier returns the read pool
func (s *SQLiteStorage) readQuerier() querier {
	return s.reader
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// Card operations

const cardColumns = `id, name, colors, mana_value, type_line, oracle_text, types, embedding, confidence`

func scanCard(sc scanner) (*types.Card, error) {
	var card types.Card
	var colors int64
	var tagsJSON string
	var blob []byte
	err := sc.Scan(&card.ID, &card.Name, &colors, &card.ManaValue,
		&card.TypeLine, &card.OracleText, &tagsJSON, &blob, &card.Confidence)
	if err != nil {
		return nil, err
	}
	card.ColorIdentity = types.Colors(colors)
	if err := json.Unmarshal([]byte(tagsJSON), &card.Types); err != nil {
		return nil, fmt.Errorf("failed to decode types of card %s: %w", card.ID, err)
	}
	if len(blob) > 0 {
		card.Embedding = deserializeVector(blob)
	}
	return &card, nil
}

func collectCards(rows *sql.Rows) ([]*types.Card, error) {
	defer func() { _ = rows.Close() }()

	cards := make([]*types.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (s *SQLiteStorage) getCardWithQuerier(ctx context.Context, q querier, id string) (*types.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = ?`
	card, err := scanCard(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("card", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return card, nil
}

func (s *SQLiteStorage) GetCard(ctx context.Context, id string) (*types.Card, error) {
	return s.getCardWithQuerier(ctx, s.readQuerier(), id)
}

// getCardsBatchSize keeps IN lists below SQLite's bound-parameter limit
const getCardsBatchSize = 500

func (s *SQLiteStorage) getCardsWithQuerier(ctx context.Context, q querier, ids []string) (map[string]*types.Card, error) {
	out := make(map[string]*types.Card, len(ids))
	for start := 0; start < len(ids); start += getCardsBatchSize {
		batch := ids[start:min(start+getCardsBatchSize, len(ids))]
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := `SELECT ` + cardColumns + ` FROM cards WHERE id IN (` + placeholders(len(batch)) + `)`
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get cards: %w", err)
		}
		cards, err := collectCards(rows)
		if err != nil {
			return nil, err
		}
		for _, c := range cards {
			out[c.ID] = c
		}
	}
	return out, nil
}

// GetCards returns the known cards among ids keyed by ID. Unknown IDs are
// absent from the map rather than an error.
func (s *SQLiteStorage) GetCards(ctx context.Context, ids []string) (map[string]*types.Card, error) {
	return s.getCardsWithQuerier(ctx, s.readQuerier(), ids)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func (s *SQLiteStorage) findCardsByNameWithQuerier(ctx context.Context, q querier, name string) ([]*types.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE name_norm = ? ORDER BY id`
	rows, err := q.QueryContext(ctx, query, types.NormalizeName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to find cards by name: %w", err)
	}
	return collectCards(rows)
}

// FindCardsByName returns cards whose normalized name equals the normalized input
func (s *SQLiteStorage) FindCardsByName(ctx context.Context, name string) ([]*types.Card, error) {
	return s.findCardsByNameWithQuerier(ctx, s.readQuerier(), name)
}

func (s *SQLiteStorage) listCardsWithQuerier(ctx context.Context, q querier) ([]*types.Card, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return collectCards(rows)
}

func (s *SQLiteStorage) ListCards(ctx context.Context) ([]*types.Card, error) {
	return s.listCardsWithQuerier(ctx, s.readQuerier())
}

func (s *SQLiteStorage) listCardsInComboWithQuerier(ctx context.Context, q querier, comboID string) ([]*types.Card, error) {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM combos WHERE id = ?`, comboID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("combo", comboID)
	}
	if err != nil {
		return nil, err
	}

	query := `
		SELECT c.id, c.name, c.colors, c.mana_value, c.type_line, c.oracle_text, c.types, c.embedding, c.confidence
		FROM combo_cards cc
		INNER JOIN cards c ON c.id = cc.card_id
		WHERE cc.combo_id = ?
		ORDER BY c.id
	`
	rows, err := q.QueryContext(ctx, query, comboID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards in combo: %w", err)
	}
	return collectCards(rows)
}

func (s *SQLiteStorage) ListCardsInCombo(ctx context.Context, comboID string) ([]*types.Card, error) {
	return s.listCardsInComboWithQuerier(ctx, s.readQuerier(), comboID)
}

func (s *SQLiteStorage) upsertCardWithQuerier(ctx context.Context, q querier, card *types.Card) error {
	if err := card.Validate(); err != nil {
		return errs.Wrap(errs.CodeInvalidArgument, err, "invalid card %q", card.ID)
	}

	tags := card.Types
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}

	var blob []byte
	if len(card.Embedding) > 0 {
		blob = serializeVector(card.Embedding)
	}

	query := `
		INSERT INTO cards (id, name, name_norm, colors, mana_value, type_line, oracle_text, types, embedding, dimension, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			name_norm = excluded.name_norm,
			colors = excluded.colors,
			mana_value = excluded.mana_value,
			type_line = excluded.type_line,
			oracle_text = excluded.oracle_text,
			types = excluded.types,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`
	_, err = q.ExecContext(ctx, query,
		card.ID, card.Name, types.NormalizeName(card.Name), int64(card.ColorIdentity), card.ManaValue,
		card.TypeLine, card.OracleText, string(tagsJSON), blob, len(card.Embedding), card.Confidence, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert card: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertCard(ctx context.Context, card *types.Card) error {
	return s.upsertCardWithQuerier(ctx, s.querier(), card)
}

// Combo operations

const comboColumns = `id, description, popularity, colors, mana_value, embedding`

func scanCombo(sc scanner) (*types.Combo, error) {
	var combo types.Combo
	var colors int64
	var blob []byte
	err := sc.Scan(&combo.ID, &combo.Description, &combo.Popularity, &colors, &combo.ManaValue, &blob)
	if err != nil {
		return nil, err
	}
	combo.ColorIdentity = types.Colors(colors)
	if len(blob) > 0 {
		combo.Embedding = deserializeVector(blob)
	}
	return &combo, nil
}

// collectCombos scans combo rows then attaches card and feature IDs
func (s *SQLiteStorage) collectCombos(ctx context.Context, q querier, rows *sql.Rows) ([]*types.Combo, error) {
	combos := make([]*types.Combo, 0)
	for rows.Next() {
		combo, err := scanCombo(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		combos = append(combos, combo)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Relations are loaded after the scan; the pool holds a single connection
	for _, combo := range combos {
		if err := s.attachComboRelations(ctx, q, combo); err != nil {
			return nil, err
		}
	}
	return combos, nil
}

func (s *SQLiteStorage) attachComboRelations(ctx context.Context, q querier, combo *types.Combo) error {
	cardRows, err := q.QueryContext(ctx, `SELECT card_id FROM combo_cards WHERE combo_id = ? ORDER BY card_id`, combo.ID)
	if err != nil {
		return fmt.Errorf("failed to load combo cards: %w", err)
	}
	combo.CardIDs = make([]string, 0, 4)
	for cardRows.Next() {
		var id string
		if err := cardRows.Scan(&id); err != nil {
			_ = cardRows.Close()
			return err
		}
		combo.CardIDs = append(combo.CardIDs, id)
	}
	_ = cardRows.Close()
	if err := cardRows.Err(); err != nil {
		return err
	}

	featureRows, err := q.QueryContext(ctx, `SELECT feature_id FROM combo_features WHERE combo_id = ? ORDER BY feature_id`, combo.ID)
	if err != nil {
		return fmt.Errorf("failed to load combo features: %w", err)
	}
	defer func() { _ = featureRows.Close() }()
	for featureRows.Next() {
		var id int64
		if err := featureRows.Scan(&id); err != nil {
			return err
		}
		combo.FeatureIDs = append(combo.FeatureIDs, id)
	}
	return featureRows.Err()
}

func (s *SQLiteStorage) getComboWithQuerier(ctx context.Context, q querier, id string) (*types.Combo, error) {
	query := `SELECT ` + comboColumns + ` FROM combos WHERE id = ?`
	combo, err := scanCombo(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("combo", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get combo: %w", err)
	}
	if err := s.attachComboRelations(ctx, q, combo); err != nil {
		return nil, err
	}
	return combo, nil
}

func (s *SQLiteStorage) GetCombo(ctx context.Context, id string) (*types.Combo, error) {
	return s.getComboWithQuerier(ctx, s.readQuerier(), id)
}

func (s *SQLiteStorage) findCombosByNameWithQuerier(ctx context.Context, q querier, description string) ([]*types.Combo, error) {
	query := `SELECT ` + comboColumns + ` FROM combos WHERE description_norm = ? ORDER BY id`
	rows, err := q.QueryContext(ctx, query, types.NormalizeName(description))
	if err != nil {
		return nil, fmt.Errorf("failed to find combos by name: %w", err)
	}
	return s.collectCombos(ctx, q, rows)
}

// FindCombosByName returns combos whose normalized description equals the normalized input
func (s *SQLiteStorage) FindCombosByName(ctx context.Context, description string) ([]*types.Combo, error) {
	return s.findCombosByNameWithQuerier(ctx, s.readQuerier(), description)
}

func (s *SQLiteStorage) listCombosWithQuerier(ctx context.Context, q querier) ([]*types.Combo, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+comboColumns+` FROM combos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list combos: %w", err)
	}
	return s.collectCombos(ctx, q, rows)
}

func (s *SQLiteStorage) ListCombos(ctx context.Context) ([]*types.Combo, error) {
	return s.listCombosWithQuerier(ctx, s.readQuerier())
}

func (s *SQLiteStorage) listCombosContainingWithQuerier(ctx context.Context, q querier, cardID string) ([]*types.Combo, error) {
	if _, err := s.getCardWithQuerier(ctx, q, cardID); err != nil {
		return nil, err
	}

	query := `
		SELECT co.id, co.description, co.popularity, co.colors, co.mana_value, co.embedding
		FROM combo_cards cc
		INNER JOIN combos co ON co.id = cc.combo_id
		WHERE cc.card_id = ?
		ORDER BY co.id
	`
	rows, err := q.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list combos containing card: %w", err)
	}
	return s.collectCombos(ctx, q, rows)
}

// ListCombosContaining returns every combo that uses the card.
// Unknown cards yield NotFound; a known card without combos yields an empty slice.
func (s *SQLiteStorage) ListCombosContaining(ctx context.Context, cardID string) ([]*types.Combo, error) {
	return s.listCombosContainingWithQuerier(ctx, s.readQuerier(), cardID)
}

func (s *SQLiteStorage) upsertComboWithQuerier(ctx context.Context, q querier, combo *types.Combo) error {
	if err := combo.Validate(); err != nil {
		return errs.Wrap(errs.CodeInvalidArgument, err, "invalid combo %q", combo.ID)
	}

	var blob []byte
	if len(combo.Embedding) > 0 {
		blob = serializeVector(combo.Embedding)
	}

	query := `
		INSERT INTO combos (id, description, description_norm, popularity, colors, mana_value, embedding, dimension, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			description_norm = excluded.description_norm,
			popularity = excluded.popularity,
			colors = excluded.colors,
			mana_value = excluded.mana_value,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		combo.ID, combo.Description, types.NormalizeName(combo.Description), combo.Popularity,
		int64(combo.ColorIdentity), combo.ManaValue, blob, len(combo.Embedding), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert combo: %w", err)
	}

	// Membership is replaced in full, never patched
	if _, err := q.ExecContext(ctx, `DELETE FROM combo_cards WHERE combo_id = ?`, combo.ID); err != nil {
		return fmt.Errorf("failed to clear combo cards: %w", err)
	}
	for _, cardID := range combo.DistinctCardIDs() {
		if _, err := q.ExecContext(ctx, `INSERT INTO combo_cards (combo_id, card_id) VALUES (?, ?)`, combo.ID, cardID); err != nil {
			return fmt.Errorf("failed to insert combo card: %w", err)
		}
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM combo_features WHERE combo_id = ?`, combo.ID); err != nil {
		return fmt.Errorf("failed to clear combo features: %w", err)
	}
	for _, featureID := range combo.FeatureIDs {
		_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO combo_features (combo_id, feature_id) VALUES (?, ?)`, combo.ID, featureID)
		if err != nil {
			return fmt.Errorf("failed to insert combo feature: %w", err)
		}
	}
	return nil
}

// UpsertCombo stores the combo and replaces its card and feature relations
func (s *SQLiteStorage) UpsertCombo(ctx context.Context, combo *types.Combo) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.UpsertCombo(ctx, combo); err != nil {
		return err
	}
	return tx.Commit()
}

// Feature operations

func (s *SQLiteStorage) listFeaturesWithQuerier(ctx context.Context, q querier) ([]*types.Feature, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, category FROM features ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer func() { _ = rows.Close() }()

	features := make([]*types.Feature, 0)
	for rows.Next() {
		var f types.Feature
		if err := rows.Scan(&f.ID, &f.Name, &f.Category); err != nil {
			return nil, err
		}
		features = append(features, &f)
	}
	return features, rows.Err()
}

func (s *SQLiteStorage) ListFeatures(ctx context.Context) ([]*types.Feature, error) {
	return s.listFeaturesWithQuerier(ctx, s.readQuerier())
}

func (s *SQLiteStorage) upsertFeatureWithQuerier(ctx context.Context, q querier, feature *types.Feature) error {
	if err := feature.Validate(); err != nil {
		return errs.Wrap(errs.CodeInvalidArgument, err, "invalid feature %d", feature.ID)
	}

	if feature.ID == 0 {
		result, err := q.ExecContext(ctx, `
			INSERT INTO features (name, category) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET category = excluded.category
		`, feature.Name, feature.Category)
		if err != nil {
			return fmt.Errorf("failed to upsert feature: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil && id != 0 {
			feature.ID = id
		}
		return q.QueryRowContext(ctx, `SELECT id FROM features WHERE name = ?`, feature.Name).Scan(&feature.ID)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO features (id, name, category) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, category = excluded.category
	`, feature.ID, feature.Name, feature.Category)
	if err != nil {
		return fmt.Errorf("failed to upsert feature: %w", err)
	}
	return nil
}

// UpsertFeature stores a feature. A zero ID is assigned by the database.
func (s *SQLiteStorage) UpsertFeature(ctx context.Context, feature *types.Feature) error {
	return s.upsertFeatureWithQuerier(ctx, s.querier(), feature)
}

// Membership operations

func (s *SQLiteStorage) listComboMembershipsWithQuerier(ctx context.Context, q querier, fn func(Membership) error) error {
	// One ordered join scan; rows of a combo are contiguous
	query := `
		SELECT co.id, co.popularity, cc.card_id,
		       COALESCE((SELECT group_concat(feature_id) FROM (
		           SELECT feature_id FROM combo_features cf WHERE cf.combo_id = co.id ORDER BY feature_id
		       )), '')
		FROM combos co
		INNER JOIN combo_cards cc ON cc.combo_id = co.id
		ORDER BY co.id, cc.card_id
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to stream memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var current *Membership
	for rows.Next() {
		var comboID, cardID, featureList string
		var popularity float64
		if err := rows.Scan(&comboID, &popularity, &cardID, &featureList); err != nil {
			return err
		}

		if current == nil || current.ComboID != comboID {
			if current != nil {
				if err := fn(*current); err != nil {
					return err
				}
			}
			featureIDs, err := parseIDList(featureList)
			if err != nil {
				return fmt.Errorf("combo %s: %w", comboID, err)
			}
			current = &Membership{ComboID: comboID, Popularity: popularity, FeatureIDs: featureIDs}
		}
		current.CardIDs = append(current.CardIDs, cardID)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if current != nil {
		return fn(*current)
	}
	return nil
}

// ListComboMemberships streams memberships over a read connection. fn may
// query the store while the scan is open.
func (s *SQLiteStorage) ListComboMemberships(ctx context.Context, fn func(Membership) error) error {
	return s.listComboMembershipsWithQuerier(ctx, s.readQuerier(), fn)
}

// parseIDList parses a group_concat of integer IDs
func parseIDList(list string) ([]int64, error) {
	if list == "" {
		return nil, nil
	}
	parts := strings.Split(list, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Search operations

func (s *SQLiteStorage) SearchText(ctx context.Context, kind types.EntityKind, query string, limit int) ([]TextResult, error) {
	return searchText(ctx, s.readQuerier(), kind, query, limit)
}

// Synergy cache operations

// replaceSynergiesWithQuerier deletes every row, inserts the new set and
// records the version. Callers must run it inside a transaction.
func (s *SQLiteStorage) replaceSynergiesWithQuerier(ctx context.Context, q querier, rows []types.CardSynergy, version *SynergyVersion) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM card_synergies`); err != nil {
		return fmt.Errorf("failed to clear synergies: %w", err)
	}

	const insert = `
		INSERT INTO card_synergies (card_id1, card_id2, combo_count, avg_popularity, synergy_score, common_features, sample_combos)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for i := range rows {
		row := &rows[i]
		features, err := json.Marshal(nonNilInt64s(row.CommonFeatures))
		if err != nil {
			return err
		}
		samples, err := json.Marshal(nonNilStrings(row.SampleCombos))
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, insert, row.CardID1, row.CardID2, row.ComboCount,
			row.AvgPopularity, row.SynergyScore, string(features), string(samples))
		if err != nil {
			return fmt.Errorf("failed to insert synergy (%s, %s): %w", row.CardID1, row.CardID2, err)
		}
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO synergy_versions (build_id, fingerprint, row_count, combo_count, built_at)
		VALUES (?, ?, ?, ?, ?)
	`, version.BuildID, version.Fingerprint, len(rows), version.ComboCount, version.BuiltAt)
	if err != nil {
		return fmt.Errorf("failed to record synergy version: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		version.Version = id
	}
	version.RowCount = len(rows)
	return nil
}

// ReplaceSynergies atomically supersedes the stored cache
func (s *SQLiteStorage) ReplaceSynergies(ctx context.Context, rows []types.CardSynergy, version *SynergyVersion) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.ReplaceSynergies(ctx, rows, version); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) listSynergiesWithQuerier(ctx context.Context, q querier) ([]types.CardSynergy, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT card_id1, card_id2, combo_count, avg_popularity, synergy_score, common_features, sample_combos
		FROM card_synergies
		ORDER BY card_id1, card_id2
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list synergies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]types.CardSynergy, 0)
	for rows.Next() {
		var row types.CardSynergy
		var features, samples string
		err := rows.Scan(&row.CardID1, &row.CardID2, &row.ComboCount, &row.AvgPopularity,
			&row.SynergyScore, &features, &samples)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(features), &row.CommonFeatures); err != nil {
			return nil, fmt.Errorf("failed to decode common features: %w", err)
		}
		if err := json.Unmarshal([]byte(samples), &row.SampleCombos); err != nil {
			return nil, fmt.Errorf("failed to decode sample combos: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (s *SQLiteStorage) ListSynergies(ctx context.Context) ([]types.CardSynergy, error) {
	return s.listSynergiesWithQuerier(ctx, s.readQuerier())
}

func (s *SQLiteStorage) getSynergyVersionWithQuerier(ctx context.Context, q querier) (*SynergyVersion, error) {
	var v SynergyVersion
	err := q.QueryRowContext(ctx, `
		SELECT version, build_id, fingerprint, row_count, combo_count, built_at
		FROM synergy_versions
		ORDER BY version DESC
		LIMIT 1
	`).Scan(&v.Version, &v.BuildID, &v.Fingerprint, &v.RowCount, &v.ComboCount, &v.BuiltAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeNotFound, "synergy cache has never been built")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get synergy version: %w", err)
	}
	return &v, nil
}

// GetSynergyVersion returns the newest committed build, NotFound if none
func (s *SQLiteStorage) GetSynergyVersion(ctx context.Context) (*SynergyVersion, error) {
	return s.getSynergyVersionWithQuerier(ctx, s.readQuerier())
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{BuildMode: BuildMode}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM cards", &status.CardsCount},
		{"SELECT COUNT(*) FROM combos", &status.CombosCount},
		{"SELECT COUNT(*) FROM features", &status.FeaturesCount},
		{"SELECT COUNT(*) FROM cards WHERE dimension > 0", &status.CardEmbeddingsCount},
		{"SELECT COUNT(*) FROM combos WHERE dimension > 0", &status.ComboEmbeddingsCount},
		{"SELECT COUNT(*) FROM card_synergies", &status.SynergyRowsCount},
	}
	for _, c := range counts {
		if err := s.reader.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	version, err := s.GetSynergyVersion(ctx)
	switch {
	case err == nil:
		status.SynergyVersion = version
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := s.reader.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.reader.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

func nonNilInt64s(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// Transaction implementations

func (t *sqliteTx) GetCard(ctx context.Context, id string) (*types.Card, error) {
	return t.storage.getCardWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) GetCards(ctx context.Context, ids []string) (map[string]*types.Card, error) {
	return t.storage.getCardsWithQuerier(ctx, t.querier(), ids)
}

func (t *sqliteTx) FindCardsByName(ctx context.Context, name string) ([]*types.Card, error) {
	return t.storage.findCardsByNameWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) ListCards(ctx context.Context) ([]*types.Card, error) {
	return t.storage.listCardsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) ListCardsInCombo(ctx context.Context, comboID string) ([]*types.Card, error) {
	return t.storage.listCardsInComboWithQuerier(ctx, t.querier(), comboID)
}

func (t *sqliteTx) UpsertCard(ctx context.Context, card *types.Card) error {
	return t.storage.upsertCardWithQuerier(ctx, t.querier(), card)
}

func (t *sqliteTx) GetCombo(ctx context.Context, id string) (*types.Combo, error) {
	return t.storage.getComboWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) FindCombosByName(ctx context.Context, description string) ([]*types.Combo, error) {
	return t.storage.findCombosByNameWithQuerier(ctx, t.querier(), description)
}

func (t *sqliteTx) ListCombos(ctx context.Context) ([]*types.Combo, error) {
	return t.storage.listCombosWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) ListCombosContaining(ctx context.Context, cardID string) ([]*types.Combo, error) {
	return t.storage.listCombosContainingWithQuerier(ctx, t.querier(), cardID)
}

func (t *sqliteTx) UpsertCombo(ctx context.Context, combo *types.Combo) error {
	return t.storage.upsertComboWithQuerier(ctx, t.querier(), combo)
}

func (t *sqliteTx) ListFeatures(ctx context.Context) ([]*types.Feature, error) {
	return t.storage.listFeaturesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) UpsertFeature(ctx context.Context, feature *types.Feature) error {
	return t.storage.upsertFeatureWithQuerier(ctx, t.querier(), feature)
}

func (t *sqliteTx) ListComboMemberships(ctx context.Context, fn func(Membership) error) error {
	return t.storage.listComboMembershipsWithQuerier(ctx, t.querier(), fn)
}

func (t *sqliteTx) SearchText(ctx context.Context, kind types.EntityKind, query string, limit int) ([]TextResult, error) {
	return searchText(ctx, t.querier(), kind, query, limit)
}

func (t *sqliteTx) ReplaceSynergies(ctx context.Context, rows []types.CardSynergy, version *SynergyVersion) error {
	return t.storage.replaceSynergiesWithQuerier(ctx, t.querier(), rows, version)
}

func (t *sqliteTx) ListSynergies(ctx context.Context) ([]types.CardSynergy, error) {
	return t.storage.listSynergiesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetSynergyVersion(ctx context.Context) (*SynergyVersion, error) {
	return t.storage.getSynergyVersionWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	return nil, errors.New("status is not available inside a transaction")
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cardsynergy-mcp/pkg/errs"
	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

func seedCatalog(t *testing.T, s *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()

	cards := []*types.Card{
		{ID: "sol-ring", Name: "Sol Ring", ManaValue: 1, TypeLine: "Artifact", OracleText: "Add two colorless mana.", Types: []string{"artifact"}, Embedding: []float32{1, 0, 0}},
		{ID: "llanowar", Name: "Llanowar Elves", ColorIdentity: types.Green, ManaValue: 1, TypeLine: "Creature Elf", OracleText: "Add one green mana.", Types: []string{"creature"}, Embedding: []float32{0, 1, 0}},
		{ID: "rampant", Name: "Rampant Growth", ColorIdentity: types.Green, ManaValue: 2, TypeLine: "Sorcery", OracleText: "Search your library for a basic land.", Types: []string{"sorcery"}},
	}
	for _, c := range cards {
		require.NoError(t, s.UpsertCard(ctx, c))
	}

	feature := &types.Feature{Name: "Infinite mana", Category: "mana"}
	require.NoError(t, s.UpsertFeature(ctx, feature))

	combo := &types.Combo{
		ID:          "combo-1",
		CardIDs:     []string{"sol-ring", "llanowar", "sol-ring"},
		Description: "Ramp into a big turn",
		Popularity:  12,
		FeatureIDs:  []int64{feature.ID},
		Embedding:   []float32{0.5, 0.5, 0},
	}
	require.NoError(t, s.UpsertCombo(ctx, combo))
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage.db)
}

func TestClose(t *testing.T) {
	storage := setupTestDB(t)
	err := storage.Close()
	assert.NoError(t, err)
}

func TestGetCard(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedCatalog(t, storage)

	ctx := context.Background()
	card, err := storage.GetCard(ctx, "llanowar")
	require.NoError(t, err)
	assert.Equal(t, "Llanowar Elves", card.Name)
	assert.Equal(t, types.Green, card.ColorIdentity)
	assert.Equal(t, []string{"creature"}, card.Types)
	assert.Equal(t, []float32{0, 1, 0}, card.Embedding)

	rampant, err := storage.GetCard(ctx, "rampant")
	require.NoError(t, err)
	assert.Nil(t, rampant.Embedding)
}

func TestGetCards(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedCatalog(t, storage)

	cards, err := storage.GetCards(context.Background(), []string{"sol-ring", "missing", "rampant"})
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	assert.Equal(t, "Rampant Growth", cards["rampant"].Name)

	cards, err = storage.GetCards(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestGetCard_NotFound(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	_, err := storage.GetCard(context.Background(), "missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestUpsertCard_Replaces(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedCatalog(t, storage)

	ctx := context.Background()
	updated := &types.Card{ID: "sol-ring", Name: "Sol Ring", ManaValue: 1, Types: []string{"artifact", "legendary"}}
	require.NoError(t, storage.UpsertCard(ctx, updated))

	card, err := storage.GetCard(ctx, "sol-ring")
	require.NoError(t, err)
	assert.Equal(t, []string{"artifact", "legendary"}, card.Types)
	assert.Nil(t, card.Embedding)
}

func TestUpsertCard_Invalid(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	err := storage.UpsertCard(context.Background(), &types.Card{ID: "x"})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	assert.ErrorIs(t, err, types.ErrEmptyName)
}

func TestFindCardsByName(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedCatalog(t, storage)

	cards, err := storage.FindCardsByName(context.Background(), "  sol   RING ")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "sol-ring", cards[0].ID)

	cards, err = storage.FindCardsByName(context.Background(), "sol")
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestComboRelations(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedCatalog(t, storage)

	ctx := context.Background()
	combo, err := storage.GetCombo(ctx, "combo-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"llanowar", "sol-ring"}, combo.CardIDs)
	assert.Len(t, combo.FeatureIDs, 1)
	assert.Equal(t, 12.0, combo.Popularity)

	cards, err := storage.ListCardsInCombo(ctx, "combo-1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "llanowar", cards[0].ID)

	combos, err := storage.ListCombosContaining(ctx, "sol-ring")
	require.NoError(t, err)
	require.Len(t, combos, 1)
	assert.Equal(t, "combo-1", combos[0].ID)

	// Known card without combos is empty, not an error
	combos, err = storage.ListCombosContaining(ctx, "rampant")
	require.NoError(t, err)
	assert.Empty(t, combos)

	_, err = storage.ListCombosContaining(ctx, "missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = storage.ListCardsInCombo(ctx, "missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestUpsertCombo_ReplacesMembership(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedCatalog(t, storage)

	ctx := context.Background()
	combo := &types.Combo{ID: "combo-1", CardIDs: []string{"rampant", "llanowar"}, Popularity: 3}
	require.NoError(t, storage.UpsertCombo(ctx, combo))

	got, err := storage.GetCombo(ctx, "combo-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"llanowar", "rampant"}, got.CardIDs)
	assert.Empty(t, got.FeatureIDs)

	err = storage.UpsertCombo(ctx, &types.Combo{ID: "tiny", CardIDs: []string{"a", "a"}})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestFindCombosByName(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedCatalog(t, storage)

	combos, err := storage.FindCombosByName(context.Background(), "ramp into a BIG turn")
	require.NoError(t, err)
	require.Len(t, combos, 1)
	assert.Equal(t, []string{"llanowar", "sol-ring"}, combos[0].CardIDs)
}

func TestListComboMemberships(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedCatalog(t, storage)

	ctx := context.Background()
	require.NoError(t, storage.UpsertCombo(ctx, &types.Combo{ID: "combo-0", CardIDs: []string{"rampant", "llanowar"}, Popularity: 7}))

	var got []Membership
	err := storage.ListComboMemberships(ctx, func(m Membership) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "combo-0", got[0].ComboID)
	assert.Equal(t, []string{"llanowar", "rampant"}, got[0].CardIDs)
	assert.Empty(t, got[0].FeatureIDs)
	assert.Equal(t, "combo-1", got[1].ComboID)
	assert.Equal(t, 12.0, got[1].Popularity)
	assert.Len(t, got[1].FeatureIDs, 1)

	stop := errors.New("stop")
	calls := 0
	err = storage.ListComboMemberships(ctx, func(Membership) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReadsDoNotWaitForWriter(t *testing.T) {
	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer storage.Close()
	seedCatalog(t, storage)
	ctx := context.Background()

	readCard := func(id string) error {
		readCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		_, err := storage.GetCard(readCtx, id)
		return err
	}

	t.Run("during membership scan", func(t *testing.T) {
		err := storage.ListComboMemberships(ctx, func(m Membership) error {
			if err := readCard(m.CardIDs[0]); err != nil {
				return err
			}
			_, err := storage.SearchText(ctx, types.KindCard, "mana", 5)
			return err
		})
		assert.NoError(t, err)
	})

	t.Run("during write transaction", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.UpsertCard(ctx, &types.Card{ID: "cultivate", Name: "Cultivate", Types: []string{"sorcery"}}))

		assert.NoError(t, readCard("sol-ring"))
		assert.True(t, errors.Is(readCard("cultivate"), errs.ErrNotFound), "uncommitted rows stay invisible")

		require.NoError(t, tx.Commit())
		assert.NoError(t, readCard("cultivate"))
	})
}

func TestFeatures(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	f := &types.Feature{Name: "Infinite damage", Category: "win"}
	require.NoError(t, storage.UpsertFeature(ctx, f))
	assert.Greater(t, f.ID, int64(0))

	// Same name keeps its ID
	again := &types.Feature{Name: "Infinite damage", Category: "wincon"}
	require.NoError(t, storage.UpsertFeature(ctx, again))
	assert.Equal(t, f.ID, again.ID)

	require.NoError(t, storage.UpsertFeature(ctx, &types.Feature{ID: 42, Name: "Mill", Category: "win"}))

	features, err := storage.ListFeatures(ctx)
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, "wincon", features[0].Category)
	assert.Equal(t, int64(42), features[1].ID)
}

func TestReplaceSynergies(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	_, err := storage.GetSynergyVersion(ctx)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	rows := []types.CardSynergy{
		{CardID1: "a", CardID2: "b", ComboCount: 5, AvgPopularity: 30, SynergyScore: 0.15, CommonFeatures: []int64{1, 2}, SampleCombos: []string{"c5", "c4", "c3"}},
		{CardID1: "a", CardID2: "c", ComboCount: 3, AvgPopularity: 10, SynergyScore: 0.03},
	}
	v1 := &SynergyVersion{BuildID: "build-1", Fingerprint: "abc", ComboCount: 5, BuiltAt: time.Now().UTC()}
	require.NoError(t, storage.ReplaceSynergies(ctx, rows, v1))
	assert.Greater(t, v1.Version, int64(0))

	stored, err := storage.ListSynergies(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, rows[0], stored[0])
	assert.Equal(t, []int64{}, stored[1].CommonFeatures)

	v2 := &SynergyVersion{BuildID: "build-2", Fingerprint: "def", BuiltAt: time.Now().UTC()}
	require.NoError(t, storage.ReplaceSynergies(ctx, rows[:1], v2))

	stored, err = storage.ListSynergies(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	latest, err := storage.GetSynergyVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "build-2", latest.BuildID)
	assert.Equal(t, 1, latest.RowCount)
	assert.Greater(t, latest.Version, v1.Version)
}

func TestReplaceSynergies_RejectsInvalidRowsAtomically(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	good := []types.CardSynergy{{CardID1: "a", CardID2: "b", ComboCount: 4, AvgPopularity: 1}}
	require.NoError(t, storage.ReplaceSynergies(ctx, good, &SynergyVersion{BuildID: "ok", BuiltAt: time.Now()}))

	bad := []types.CardSynergy{
		{CardID1: "a", CardID2: "c", ComboCount: 3},
		{CardID1: "z", CardID2: "b", ComboCount: 3}, // violates canonical order
	}
	err := storage.ReplaceSynergies(ctx, bad, &SynergyVersion{BuildID: "bad", BuiltAt: time.Now()})
	require.Error(t, err)

	stored, err := storage.ListSynergies(ctx)
	require.NoError(t, err)
	assert.Equal(t, good[0].CardID2, stored[0].CardID2)

	latest, err := storage.GetSynergyVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", latest.BuildID)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertCard(ctx, &types.Card{ID: "a", Name: "Alpha"}))

	card, err := tx.GetCard(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", card.Name)
	require.NoError(t, tx.Rollback())

	_, err = storage.GetCard(ctx, "a")
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
	require.NoError(t, tx.UpsertCard(ctx, &types.Card{ID: "a", Name: "Alpha"}))
	require.NoError(t, tx.Commit())

	_, err = storage.GetCard(ctx, "a")
	assert.NoError(t, err)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedCatalog(t, storage)

	status, err := storage.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status.CardsCount)
	assert.Equal(t, 1, status.CombosCount)
	assert.Equal(t, 1, status.FeaturesCount)
	assert.Equal(t, 2, status.CardEmbeddingsCount)
	assert.Equal(t, 1, status.ComboEmbeddingsCount)
	assert.Nil(t, status.SynergyVersion)
	assert.Equal(t, BuildMode, status.BuildMode)
}

func TestMigrations_Rollback(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	v, err := currentVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err = currentVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	v, err = currentVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

package storage

import (
	"context"
	"time"

	"github.com/dshills/cardsynergy-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying the card catalog
// and the derived synergy cache
type Storage interface {
	// Card operations
	GetCard(ctx context.Context, id string) (*types.Card, error)
	GetCards(ctx context.Context, ids []string) (map[string]*types.Card, error)
	FindCardsByName(ctx context.Context, name string) ([]*types.Card, error)
	ListCards(ctx context.Context) ([]*types.Card, error)
	ListCardsInCombo(ctx context.Context, comboID string) ([]*types.Card, error)
	UpsertCard(ctx context.Context, card *types.Card) error

	// Combo operations
	GetCombo(ctx context.Context, id string) (*types.Combo, error)
	FindCombosByName(ctx context.Context, description string) ([]*types.Combo, error)
	ListCombos(ctx context.Context) ([]*types.Combo, error)
	ListCombosContaining(ctx context.Context, cardID string) ([]*types.Combo, error)
	UpsertCombo(ctx context.Context, combo *types.Combo) error

	// Feature operations
	ListFeatures(ctx context.Context) ([]*types.Feature, error)
	UpsertFeature(ctx context.Context, feature *types.Feature) error

	// ListComboMemberships streams every combo with its distinct card IDs,
	// in combo ID order. Returning an error from fn stops the scan.
	ListComboMemberships(ctx context.Context, fn func(Membership) error) error

	// Search operations
	SearchText(ctx context.Context, kind types.EntityKind, query string, limit int) ([]TextResult, error)

	// Synergy cache operations
	ReplaceSynergies(ctx context.Context, rows []types.CardSynergy, version *SynergyVersion) error
	ListSynergies(ctx context.Context) ([]types.CardSynergy, error)
	GetSynergyVersion(ctx context.Context) (*SynergyVersion, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Membership is one row of the combo <-> card relation
type Membership struct {
	ComboID    string
	Popularity float64
	CardIDs    []string // Sorted, distinct
	FeatureIDs []int64  // Sorted, distinct
}

// TextResult represents a result from full-text search
type TextResult struct {
	ID        string
	BM25Score float64 // Normalized to (0, 1], higher is better
}

// SynergyVersion describes one committed synergy cache build
type SynergyVersion struct {
	Version     int64
	BuildID     string
	Fingerprint string // Hex sha256 over the sorted rows
	RowCount    int
	ComboCount  int
	BuiltAt     time.Time
}

// Status contains statistics about the catalog and cache
type Status struct {
	CardsCount           int
	CombosCount          int
	FeaturesCount        int
	CardEmbeddingsCount  int
	ComboEmbeddingsCount int
	SynergyRowsCount     int
	SynergyVersion       *SynergyVersion // Nil if the cache was never built
	DatabaseSizeMB       float64
	BuildMode            string
}

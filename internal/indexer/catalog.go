package indexer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Catalog is the import file format produced by the upstream data pipeline
type Catalog struct {
	Features []FeatureRecord `json:"features"`
	Cards    []CardRecord    `json:"cards"`
	Combos   []ComboRecord   `json:"combos"`
}

type FeatureRecord struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

type CardRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Colors     string    `json:"colors"` // WUBRG symbols, "C" or empty for colorless
	ManaValue  float64   `json:"mana_value"`
	TypeLine   string    `json:"type_line,omitempty"`
	OracleText string    `json:"oracle_text,omitempty"`
	Types      []string  `json:"types,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// ComboRecord references cards by ID and features by name. Colors and mana
// value are derived from the member cards at import time.
type ComboRecord struct {
	ID          string    `json:"id"`
	CardIDs     []string  `json:"card_ids"`
	Description string    `json:"description"`
	Popularity  float64   `json:"popularity"`
	Features    []string  `json:"features,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// ReadCatalog decodes a catalog, rejecting unknown fields
func ReadCatalog(r io.Reader) (*Catalog, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var cat Catalog
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &cat, nil
}

// ReadCatalogFile opens and decodes a catalog file
func ReadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadCatalog(f)
}

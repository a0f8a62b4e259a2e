package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"CARDSYNERGY_DB_PATH", "CARDSYNERGY_LOG_LEVEL", "CARDSYNERGY_METRICS_ADDR",
		"CARDSYNERGY_EMBEDDER_PROVIDER", "CARDSYNERGY_EMBEDDER_DIMENSION",
		"CARDSYNERGY_SEARCH_TIMEOUT", "CARDSYNERGY_NATS_URL", "CARDSYNERGY_NATS_SUBJECT",
		"JINA_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, 100, cfg.Search.CandidateWindow)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, 2*time.Second, cfg.Search.DefaultTimeout)
	assert.Equal(t, 512, cfg.Builder.PartitionSize)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "cardsynergy.yaml")
	content := `
db_path: /data/cards.db
log_level: debug
embedder:
  provider: local
  dimension: 64
search:
  default_timeout: 500ms
nats:
  url: nats://localhost:4222
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CARDSYNERGY_EMBEDDER_DIMENSION", "128")
	t.Setenv("JINA_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/cards.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.Search.DefaultTimeout)
	assert.Equal(t, 128, cfg.Embedder.Dimension)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "cardsynergy.cache.rebuilt", cfg.NATS.Subject)

	emb := cfg.EmbedderSettings()
	assert.Equal(t, "local", emb.Provider)
	assert.Equal(t, "secret", emb.JinaKey)
	assert.Equal(t, 128, emb.Dimension)
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)

	t.Setenv("CARDSYNERGY_LOG_LEVEL", "loud")
	_, err := Load("")
	assert.ErrorContains(t, err, "unknown log level")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search: [not, a, map]"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Search.DefaultLimit = 500
	cfg.Builder.PartitionSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_limit")
	assert.Contains(t, err.Error(), "partition_size")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cardsynergy-mcp/internal/storage"
)

func TestEventFor(t *testing.T) {
	built := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	event := EventFor(storage.SynergyVersion{
		Version:     4,
		BuildID:     "build-1",
		Fingerprint: "abc",
		RowCount:    10,
		ComboCount:  99,
		BuiltAt:     built,
	})

	assert.Equal(t, CacheRebuilt{BuildID: "build-1", Version: 4, Rows: 10, Fingerprint: "abc", BuiltAt: built}, event)
}

func TestDecodeEvent(t *testing.T) {
	data, err := json.Marshal(CacheRebuilt{BuildID: "b", Version: 2, Rows: 3})
	require.NoError(t, err)

	event, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, int64(2), event.Version)

	_, err = DecodeEvent([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"build_id":"","version":1}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"build_id":"x","version":0}`))
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.PublishCacheRebuilt(context.Background(), CacheRebuilt{}))
	p.Close()
}

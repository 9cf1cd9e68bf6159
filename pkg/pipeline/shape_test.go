package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractKeysAndTypes(t *testing.T) {
	obj := map[string]any{
		"zeta":    []any{1, 2},
		"alpha":   "hello",
		"count":   float64(3),
		"active":  true,
		"details": map[string]any{"x": 1},
		"missing": nil,
	}

	keys := extractKeysAndTypes(obj)
	require.Len(t, keys, 6)

	// Sorted by key for deterministic prompting.
	assert.Equal(t, []KeyType{
		{Key: "active", Type: "boolean"},
		{Key: "alpha", Type: "string"},
		{Key: "count", Type: "number"},
		{Key: "details", Type: "object"},
		{Key: "missing", Type: "null"},
		{Key: "zeta", Type: "array"},
	}, keys)
}

func TestExtractKeysAndTypes_NonObject(t *testing.T) {
	assert.Nil(t, extractKeysAndTypes([]any{1, 2}))
	assert.Nil(t, extractKeysAndTypes("text"))
	assert.Nil(t, extractKeysAndTypes(nil))
}

func TestValueAtPath(t *testing.T) {
	obj := map[string]any{
		"data": map[string]any{
			"items": []any{"a", "b"},
		},
	}

	assert.Equal(t, []any{"a", "b"}, valueAtPath(obj, "data.items"))
	assert.Equal(t, obj, valueAtPath(obj, ""))
	assert.Nil(t, valueAtPath(obj, "data.missing"))
	assert.Nil(t, valueAtPath(obj, "data.items.deeper"))
}

func TestSliceUserData(t *testing.T) {
	records := []any{
		map[string]any{"id": "1", "name": "Apollo", "url": "https://x/1", "secret": "s"},
		map[string]any{"id": "2", "name": "Hermes", "url": "https://x/2"},
		"not a record",
	}

	out := sliceUserData(records, []string{"name"}, []string{"url"})
	require.Len(t, out, 2)
	assert.Equal(t, map[string]any{"name": "Apollo", "url": "https://x/1"}, out[0])
	assert.Equal(t, map[string]any{"name": "Hermes", "url": "https://x/2"}, out[1])
}

func TestNormalizeRecords(t *testing.T) {
	list := []any{map[string]any{"id": 1}}

	assert.Equal(t, list, normalizeRecords(list))
	assert.Equal(t, list, normalizeRecords(map[string]any{"data": list}))

	single := map[string]any{"id": 1}
	assert.Equal(t, []any{single}, normalizeRecords(single))

	assert.Nil(t, normalizeRecords(nil))
	assert.Equal(t, []any{"scalar"}, normalizeRecords("scalar"))
}

func TestReduceRecords_FirstTwoFieldsBySortedKey(t *testing.T) {
	records := []any{
		map[string]any{"name": "Apollo", "created": "2024-01-01", "id": "1", "status": "open"},
		map[string]any{"only": "field"},
		"opaque",
	}

	out := reduceRecords(records)
	require.Len(t, out, 3)
	assert.Equal(t, map[string]any{"created": "2024-01-01", "id": "1"}, out[0])
	assert.Equal(t, map[string]any{"only": "field"}, out[1])
	assert.Equal(t, "opaque", out[2])
}

package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncodeLastModifiedAsString(t *testing.T) {
	t.Parallel()

	rec := NewDocument("id-1", RootID, "ipsum", DocTypePDF, time.UnixMilli(1700000000123))
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "1700000000123", raw["lastModified"], "lastModified must be a string of epoch ms")
	assert.Equal(t, "DocumentType", raw["type"])
	assert.Equal(t, "", raw["parent"])
	assert.Equal(t, "ipsum", raw["visibleName"])
	assert.Equal(t, false, raw["deleted"])
	assert.Equal(t, false, raw["pinned"])
	assert.Equal(t, float64(0), raw["version"])
}

func TestRecordDecode(t *testing.T) {
	t.Parallel()

	t.Run("string lastModified", func(t *testing.T) {
		t.Parallel()
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(`{"type":"CollectionType","parent":"trash","visibleName":"dolor","lastModified":"1700000000000"}`), &rec))
		assert.Equal(t, KindCollection, rec.Kind)
		assert.True(t, rec.InTrash())
		assert.Equal(t, "dolor", rec.FileName())
		assert.Equal(t, int64(1700000000000), rec.LastModified.UnixMilli())
	})

	t.Run("legacy numeric lastModified", func(t *testing.T) {
		t.Parallel()
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(`{"type":"DocumentType","parent":"","visibleName":"x","lastModified":1600000000000}`), &rec))
		assert.Equal(t, int64(1600000000000), rec.LastModified.UnixMilli())
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		t.Parallel()
		var rec Record
		assert.Error(t, json.Unmarshal([]byte(`{"type":"NotebookType","visibleName":"x"}`), &rec))
	})

	t.Run("malformed lastModified rejected", func(t *testing.T) {
		t.Parallel()
		var rec Record
		assert.Error(t, json.Unmarshal([]byte(`{"type":"DocumentType","lastModified":"yesterday"}`), &rec))
	})
}

func TestRecordPreservesUnknownKeys(t *testing.T) {
	t.Parallel()

	in := `{"type":"DocumentType","parent":"","visibleName":"ipsum","lastModified":"1","synced":true,"version":7,"customTool":{"a":[1,2]}}`
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(in), &rec))

	rec.VisibleName = "renamed"
	rec.Touch(time.UnixMilli(2000))
	out, err := json.Marshal(&rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Equal(t, "renamed", raw["visibleName"])
	assert.Equal(t, "2000", raw["lastModified"])
	assert.Equal(t, true, raw["synced"])
	assert.Equal(t, float64(7), raw["version"])
	assert.Equal(t, map[string]any{"a": []any{float64(1), float64(2)}}, raw["customTool"])
}

func TestRecordTouchIsMonotonic(t *testing.T) {
	t.Parallel()

	rec := NewCollection("c", RootID, "dolor", time.UnixMilli(5000))
	rec.Touch(time.UnixMilli(4000))
	assert.Equal(t, int64(5001), rec.LastModified.UnixMilli())
	rec.Touch(time.UnixMilli(9000))
	assert.Equal(t, int64(9000), rec.LastModified.UnixMilli())
}


// Package storagetest builds flat document stores on disk for tests.
package storagetest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Ids of the reference store written by Reference.
const (
	IpsumPDFID   = "0b3e1ac5-2d2e-4bdb-9d0f-6f1b6a4e2c01"
	LoremEPUBID  = "1c4f2bd6-3e3f-4cec-8e10-7a2c7b5f3d02"
	DolorID      = "2d5a3ce7-4f4a-4dfd-9f21-8b3d8c6a4e03"
	IpsumEPUBID  = "3e6b4df8-5a5b-4e0e-a032-9c4e9d7b5f04"
	LoremPDFID   = "4f7c5e09-6b6c-4f1f-b143-ad5fae8c6a05"
	ReferenceAge = 24 * time.Hour
)

// Reference sizes of the blobs in the reference store.
const (
	IpsumPDFSize  = 126501
	LoremEPUBSize = 4091
	IpsumEPUBSize = 30875
	LoremPDFSize  = 28859
)

// Item describes one record to write.
type Item struct {
	ID         string
	Parent     string
	Name       string
	Collection bool
	FileType   string // blob extension; empty for collections
	Size       int
	NoContent  bool // skip the .content sidecar
	Extra      map[string]any
}

// Reference writes the reference store:
//
//	/ipsum.pdf        126501 bytes
//	/lorem.epub         4091 bytes
//	/dolor/ipsum.epub  30875 bytes
//	/dolor/lorem.pdf   28859 bytes
//
// and returns its directory.
func Reference(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	Write(t, dir,
		Item{ID: IpsumPDFID, Name: "ipsum", FileType: "pdf", Size: IpsumPDFSize},
		Item{ID: LoremEPUBID, Name: "lorem", FileType: "epub", Size: LoremEPUBSize, NoContent: true},
		Item{ID: DolorID, Name: "dolor", Collection: true},
		Item{ID: IpsumEPUBID, Parent: DolorID, Name: "ipsum", FileType: "epub", Size: IpsumEPUBSize},
		Item{ID: LoremPDFID, Parent: DolorID, Name: "lorem", FileType: "pdf", Size: LoremPDFSize},
	)
	return dir
}

// Write materialises items in dir.
func Write(t testing.TB, dir string, items ...Item) {
	t.Helper()
	modified := strconv.FormatInt(time.Now().Add(-ReferenceAge).UnixMilli(), 10)
	for _, it := range items {
		typ := "DocumentType"
		if it.Collection {
			typ = "CollectionType"
		}
		meta := map[string]any{
			"deleted":          false,
			"lastModified":     modified,
			"metadatamodified": false,
			"modified":         false,
			"parent":           it.Parent,
			"pinned":           false,
			"synced":           true,
			"type":             typ,
			"version":          1,
			"visibleName":      it.Name,
		}
		for k, v := range it.Extra {
			meta[k] = v
		}
		writeJSON(t, filepath.Join(dir, it.ID+".metadata"), meta)

		if it.Collection {
			continue
		}
		if !it.NoContent {
			writeJSON(t, filepath.Join(dir, it.ID+".content"), map[string]any{"fileType": it.FileType})
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, it.ID+"."+it.FileType), Payload(it.Size), 0o644))
	}
}

// Payload returns n deterministic bytes.
func Payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// ReadMetadata decodes the raw .metadata JSON of id.
func ReadMetadata(t testing.TB, dir, id string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, id+".metadata"))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func writeJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

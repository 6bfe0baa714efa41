package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmxfs/internal/common"
	"rmxfs/internal/storage/storagetest"
)

func openReference(t *testing.T) (*Store, string) {
	t.Helper()
	dir := storagetest.Reference(t)
	s, err := NewStore(dir, nil)
	require.NoError(t, err)
	return s, dir
}

func TestNewStoreRejectsFile(t *testing.T) {
	t.Parallel()

	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err := NewStore(f, nil)
	assert.True(t, errors.Is(err, common.ErrNotDir))
}

func TestStoreGet(t *testing.T) {
	t.Parallel()
	s, _ := openReference(t)

	t.Run("document with content sidecar", func(t *testing.T) {
		t.Parallel()
		rec, err := s.Get(storagetest.IpsumPDFID)
		require.NoError(t, err)
		assert.Equal(t, storagetest.IpsumPDFID, rec.ID)
		assert.Equal(t, RootID, rec.Parent)
		assert.Equal(t, KindDocument, rec.Kind)
		assert.Equal(t, DocTypePDF, rec.DocType)
		assert.Equal(t, "ipsum.pdf", rec.FileName())
	})

	t.Run("document type probed from blob", func(t *testing.T) {
		t.Parallel()
		rec, err := s.Get(storagetest.LoremEPUBID)
		require.NoError(t, err)
		assert.Equal(t, DocTypeEPUB, rec.DocType)
	})

	t.Run("collection", func(t *testing.T) {
		t.Parallel()
		rec, err := s.Get(storagetest.DolorID)
		require.NoError(t, err)
		assert.Equal(t, KindCollection, rec.Kind)
		assert.Equal(t, "dolor", rec.FileName())
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		_, err := s.Get("nope")
		assert.True(t, errors.Is(err, common.ErrNotFound))
	})
}

func TestStoreUnsupportedFileType(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	storagetest.Write(t, dir, storagetest.Item{ID: "n1", Name: "notes", FileType: "notebook", Size: 10})
	s, err := NewStore(dir, nil)
	require.NoError(t, err)

	_, err = s.Get("n1")
	assert.True(t, errors.Is(err, common.ErrUnsupported))
}

func TestStorePutIsAtomicAndDurable(t *testing.T) {
	t.Parallel()
	s, dir := openReference(t)
	ctx := context.Background()

	rec, err := s.Get(storagetest.IpsumPDFID)
	require.NoError(t, err)
	rec.Parent = storagetest.DolorID
	rec.Touch(time.Now())
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(storagetest.IpsumPDFID)
	require.NoError(t, err)
	assert.Equal(t, storagetest.DolorID, got.Parent)
	assert.Equal(t, rec.LastModified.UnixMilli(), got.LastModified.UnixMilli())

	raw := storagetest.ReadMetadata(t, dir, storagetest.IpsumPDFID)
	assert.Equal(t, true, raw["synced"], "untouched keys survive a rewrite")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temporary file left behind: %s", e.Name())
	}
}

func TestStorePutNewDocumentAndContent(t *testing.T) {
	t.Parallel()
	s, _ := openReference(t)
	ctx := context.Background()

	require.NoError(t, s.PutContent(ctx, "new-doc", DocTypeEPUB))
	require.NoError(t, s.Put(ctx, NewDocument("new-doc", storagetest.DolorID, "fresh", DocTypeEPUB, time.Now())))

	rec, err := s.Get("new-doc")
	require.NoError(t, err)
	assert.Equal(t, DocTypeEPUB, rec.DocType, "type comes from the .content sidecar without a blob")
}

func TestStoreListAll(t *testing.T) {
	t.Parallel()
	s, dir := openReference(t)

	// noise the scan must ignore
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".x.metadata.tmp-1"), []byte("{"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, storagetest.IpsumPDFID+".thumbnails"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.metadata"), []byte("{not json"), 0o644))

	ids := map[string]bool{}
	var errs []error
	for rec, err := range s.ListAll(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids[rec.ID] = true
	}

	assert.Len(t, ids, 5)
	for _, id := range []string{storagetest.IpsumPDFID, storagetest.LoremEPUBID, storagetest.DolorID, storagetest.IpsumEPUBID, storagetest.LoremPDFID} {
		assert.True(t, ids[id], "missing %s", id)
	}
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], common.ErrStorage))
}

func TestStoreListAllStopsEarly(t *testing.T) {
	t.Parallel()
	s, _ := openReference(t)

	n := 0
	for range s.ListAll(context.Background()) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestStoreDeleteRemovesSidecars(t *testing.T) {
	t.Parallel()
	s, dir := openReference(t)

	id := storagetest.IpsumPDFID
	require.NoError(t, os.Mkdir(filepath.Join(dir, id), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id, "page.rm"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".pagedata"), []byte("x"), 0o644))

	require.NoError(t, s.Delete(context.Background(), id))

	for _, name := range []string{id + ".metadata", id + ".content", id + ".pdf", id + ".pagedata", id} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), "%s should be gone", name)
	}
	_, err := s.Get(id)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	// other records untouched
	_, err = s.Get(storagetest.LoremEPUBID)
	assert.NoError(t, err)

	// deleting again is fine
	assert.NoError(t, s.Delete(context.Background(), id))
}

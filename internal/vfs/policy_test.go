package vfs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmxfs/internal/common"
	"rmxfs/internal/graph"
	"rmxfs/internal/storage"
)

func TestPolicyDocumentName(t *testing.T) {
	t.Parallel()
	p := NewPolicy(nil, nil)

	tests := []struct {
		name     string
		wantStem string
		wantType storage.DocType
		wantErr  error
	}{
		{"ipsum.pdf", "ipsum", storage.DocTypePDF, nil},
		{"lorem.epub", "lorem", storage.DocTypeEPUB, nil},
		{"a.b.pdf", "a.b", storage.DocTypePDF, nil},
		{"notes.txt", "", "", common.ErrUnsupported},
		{"README", "", "", common.ErrUnsupported},
		{".pdf", "", "", common.ErrUnsupported},
		{"amet.PDF", "", "", common.ErrUnsupported},
		{"amet.Epub", "", "", common.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stem, typ, err := p.DocumentName(tt.name)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStem, stem)
			assert.Equal(t, tt.wantType, typ)
		})
	}
}

func TestPolicyCustomWhitelist(t *testing.T) {
	t.Parallel()
	p := NewPolicy([]storage.DocType{"pdf"}, nil)

	_, _, err := p.DocumentName("book.epub")
	assert.True(t, errors.Is(err, common.ErrUnsupported))
	_, _, err = p.DocumentName("paper.pdf")
	assert.NoError(t, err)
}

func TestPolicyCollectionName(t *testing.T) {
	t.Parallel()

	p := NewPolicy(nil, nil)
	_, err := p.CollectionName("test-dir.sdr")
	assert.True(t, errors.Is(err, common.ErrUnsupported))
	name, err := p.CollectionName("dolor")
	require.NoError(t, err)
	assert.Equal(t, "dolor", name)
	_, err = p.CollectionName("sdr")
	assert.NoError(t, err)

	custom := NewPolicy(nil, []string{"*.cache", "thumbnails"})
	_, err = custom.CollectionName("x.sdr")
	assert.NoError(t, err)
	_, err = custom.CollectionName("x.cache")
	assert.True(t, errors.Is(err, common.ErrUnsupported))
	_, err = custom.CollectionName("thumbnails")
	assert.True(t, errors.Is(err, common.ErrUnsupported))
}

func TestPolicyCheckCreate(t *testing.T) {
	t.Parallel()
	p := NewPolicy(nil, nil)

	assert.NoError(t, p.CheckCreate(storage.RootID, "x.pdf"))
	assert.True(t, errors.Is(p.CheckCreate(storage.RootID, "trash"), common.ErrExists))
	assert.NoError(t, p.CheckCreate("some-collection", "trash"))
	assert.True(t, errors.Is(p.CheckCreate(storage.TrashID, "x.pdf"), common.ErrUnsupported))
	assert.True(t, errors.Is(p.CheckCreate(storage.RootID, ".."), common.ErrInvalidName))
	assert.True(t, errors.Is(p.CheckCreate(storage.RootID, ""), common.ErrInvalidName))
}

func TestPolicyRmdir(t *testing.T) {
	t.Parallel()
	p := NewPolicy(nil, nil)
	idx := graph.New()

	dir, err := idx.Insert(graph.Node{ID: "c", Parent: storage.RootID, VisibleName: "c", Kind: storage.KindCollection})
	require.NoError(t, err)
	assert.NoError(t, p.CheckRmdir(idx, dir))

	doc, err := idx.Insert(graph.Node{ID: "d", Parent: "c", VisibleName: "d", Kind: storage.KindDocument, DocType: storage.DocTypePDF})
	require.NoError(t, err)
	assert.True(t, errors.Is(p.CheckRmdir(idx, dir), common.ErrNotEmpty))
	assert.True(t, errors.Is(p.CheckRmdir(idx, doc), common.ErrNotDir))

	trash, err := idx.Get(storage.TrashID)
	require.NoError(t, err)
	assert.True(t, errors.Is(p.CheckRmdir(idx, trash), common.ErrPermission))
}

func TestPolicyRenameTarget(t *testing.T) {
	t.Parallel()
	p := NewPolicy(nil, nil)

	doc := graph.Node{ID: "d", Name: "ipsum.pdf", VisibleName: "ipsum", Kind: storage.KindDocument, DocType: storage.DocTypePDF}
	dir := graph.Node{ID: "c", Name: "dolor", VisibleName: "dolor", Kind: storage.KindCollection}

	name, err := p.RenameTarget(doc, "c", "renamed.pdf")
	require.NoError(t, err)
	assert.Equal(t, "renamed", name)

	_, err = p.RenameTarget(doc, "c", "renamed.epub")
	assert.True(t, errors.Is(err, common.ErrUnsupported), "type change")
	_, err = p.RenameTarget(doc, "c", "renamed.txt")
	assert.True(t, errors.Is(err, common.ErrUnsupported))

	name, err = p.RenameTarget(doc, storage.TrashID, "ipsum.pdf")
	require.NoError(t, err)
	assert.Equal(t, "ipsum", name)

	_, err = p.RenameTarget(dir, storage.RootID, "dolor.sdr")
	assert.True(t, errors.Is(err, common.ErrUnsupported))
	_, err = p.RenameTarget(dir, storage.TrashID, "dolor")
	assert.True(t, errors.Is(err, common.ErrUnsupported))
	_, err = p.RenameTarget(dir, storage.RootID, "trash")
	assert.True(t, errors.Is(err, common.ErrExists))

	trash := graph.Node{ID: storage.TrashID, Kind: storage.KindCollection}
	_, err = p.RenameTarget(trash, "c", "bin")
	assert.True(t, errors.Is(err, common.ErrPermission))
}

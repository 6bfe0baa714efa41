package netfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	nfsfile "github.com/willscott/go-nfs/file"

	"rmxfs/internal/storage"
	"rmxfs/internal/storage/storagetest"
	"rmxfs/internal/vfs"
)

func testAdapter(t *testing.T) (*BillyAdapter, string) {
	t.Helper()
	dir := storagetest.Reference(t)
	store, err := storage.NewStore(dir, nil)
	require.NoError(t, err)
	b, err := vfs.NewBridge(context.Background(), store, vfs.Options{AttrTTL: -1})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return NewBillyAdapter(b), dir
}

func infoNames(infos []os.FileInfo) []string {
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names
}

func TestBillyStatAndReadDir(t *testing.T) {
	t.Parallel()
	fs, _ := testAdapter(t)

	infos, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dolor", "ipsum.pdf", "lorem.epub", "trash"}, infoNames(infos))

	infos, err = fs.ReadDir("dolor")
	require.NoError(t, err)
	assert.Equal(t, []string{"ipsum.epub", "lorem.pdf"}, infoNames(infos))

	fi, err := fs.Stat("/ipsum.pdf")
	require.NoError(t, err)
	assert.Equal(t, "ipsum.pdf", fi.Name())
	assert.Equal(t, int64(storagetest.IpsumPDFSize), fi.Size())
	assert.False(t, fi.IsDir())
	assert.Equal(t, os.FileMode(0o644), fi.Mode())

	fi, err = fs.Lstat("dolor")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	assert.Equal(t, os.ModeDir|0o755, fi.Mode())

	_, err = fs.Stat("missing.pdf")
	assert.True(t, os.IsNotExist(err), "got %v", err)
}

func TestBillyReadAndSeek(t *testing.T) {
	t.Parallel()
	fs, _ := testAdapter(t)

	f, err := fs.Open("dolor/lorem.pdf")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "dolor/lorem.pdf", f.Name())

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, storagetest.Payload(storagetest.LoremPDFSize), data)

	pos, err := f.Seek(-10, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(storagetest.LoremPDFSize-10), pos)

	buf := make([]byte, 32)
	n, err := f.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, storagetest.Payload(storagetest.LoremPDFSize)[pos:], buf[:n])

	n, err = f.(io.ReaderAt).ReadAt(buf[:4], 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, storagetest.Payload(storagetest.LoremPDFSize)[:4], buf[:4])
}

func TestBillyCreateWrite(t *testing.T) {
	t.Parallel()
	fs, dir := testAdapter(t)

	f, err := fs.Create("dolor/amet.pdf")
	require.NoError(t, err)
	_, err = f.Write([]byte("%PDF-"))
	require.NoError(t, err)
	_, err = f.Write([]byte("1.7"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fi, err := fs.Stat("dolor/amet.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(8), fi.Size())

	f, err = fs.OpenFile("dolor/amet.pdf", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = fs.Open("dolor/amet.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, []byte("%PDF-1.7\n"), data)

	_, err = fs.OpenFile("dolor/amet.pdf", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	assert.ErrorIs(t, err, syscall.EEXIST)

	_, err = fs.Create("notes.txt")
	assert.ErrorIs(t, err, syscall.ENOSYS)

	pdfs, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	require.NoError(t, err)
	assert.Len(t, pdfs, 3)
}

func TestBillyTruncate(t *testing.T) {
	t.Parallel()
	fs, _ := testAdapter(t)

	f, err := fs.OpenFile("ipsum.pdf", os.O_RDWR, 0)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(100))
	require.NoError(t, f.Close())

	fi, err := fs.Stat("ipsum.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(100), fi.Size())
}

func TestBillyRenameRemoveMkdir(t *testing.T) {
	t.Parallel()
	fs, dir := testAdapter(t)

	require.NoError(t, fs.Rename("ipsum.pdf", "dolor/ipsum.pdf"))
	assert.Equal(t, storagetest.DolorID, storagetest.ReadMetadata(t, dir, storagetest.IpsumPDFID)["parent"])

	err := fs.Rename("lorem.epub", "dolor/ipsum.epub")
	assert.ErrorIs(t, err, syscall.EEXIST)

	require.NoError(t, fs.MkdirAll("sit/amet", 0o755))
	fi, err := fs.Stat("sit/amet")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	err = fs.MkdirAll("lorem.epub/x", 0o755)
	assert.ErrorIs(t, err, syscall.ENOTDIR)

	require.NoError(t, fs.Remove("lorem.epub"))
	assert.Equal(t, "trash", storagetest.ReadMetadata(t, dir, storagetest.LoremEPUBID)["parent"])
	infos, err := fs.ReadDir("trash")
	require.NoError(t, err)
	assert.Equal(t, []string{"lorem.epub"}, infoNames(infos))

	assert.ErrorIs(t, fs.Remove("sit"), syscall.ENOTEMPTY)
	require.NoError(t, fs.Remove("sit/amet"))
	require.NoError(t, fs.Remove("sit"))
	_, err = fs.Stat("sit")
	assert.True(t, os.IsNotExist(err))
}

func TestBillyUnsupported(t *testing.T) {
	t.Parallel()
	fs, _ := testAdapter(t)

	_, err := fs.TempFile("/", "tmp")
	assert.ErrorIs(t, err, os.ErrInvalid)
	_, err = fs.Chroot("dolor")
	assert.ErrorIs(t, err, os.ErrInvalid)
	assert.Error(t, fs.Symlink("ipsum.pdf", "link.pdf"))
	_, err = fs.Readlink("ipsum.pdf")
	assert.Error(t, err)
	assert.NoError(t, fs.Chmod("ipsum.pdf", 0o600))
	assert.NoError(t, fs.Chtimes("ipsum.pdf", time.Now(), time.Now()))
	assert.Equal(t, "/", fs.Root())
	assert.Equal(t, "dolor/lorem.pdf", fs.Join("dolor", "lorem.pdf"))
}

// TestBillyFileInfoMode checks the mode reported for each entry type.
func TestBillyFileInfoMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		fileType     vfs.FileType
		mode         uint32
		expectedMode os.FileMode
	}{
		{name: "document", fileType: vfs.FileTypeRegularFile, mode: 0o644, expectedMode: 0o644},
		{name: "document without mode", fileType: vfs.FileTypeRegularFile, mode: 0, expectedMode: 0o644},
		{name: "collection", fileType: vfs.FileTypeDirectory, mode: 0o755, expectedMode: os.ModeDir | 0o755},
		{name: "collection without mode", fileType: vfs.FileTypeDirectory, mode: 0, expectedMode: os.ModeDir | 0o755},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fi := &BillyFileInfo{name: "x", attr: vfs.Attr{Type: tt.fileType, Mode: tt.mode}}
			assert.Equal(t, tt.expectedMode, fi.Mode())
			assert.Equal(t, tt.fileType == vfs.FileTypeDirectory, fi.IsDir())
		})
	}
}

func TestBillyFileInfoSys(t *testing.T) {
	t.Parallel()
	adapter := &BillyAdapter{uid: 501, gid: 20}

	fi := &BillyFileInfo{name: "ipsum.pdf", attr: vfs.Attr{Handle: 42, Nlink: 1}, adapter: adapter}
	sys, ok := fi.Sys().(*nfsfile.FileInfo)
	require.True(t, ok)
	assert.Equal(t, uint64(42), sys.Fileid)
	assert.Equal(t, uint32(1), sys.Nlink)
	assert.Equal(t, uint32(501), sys.UID)
	assert.Equal(t, uint32(20), sys.GID)

	fi = &BillyFileInfo{name: "/", attr: vfs.Attr{Type: vfs.FileTypeDirectory}}
	sys = fi.Sys().(*nfsfile.FileInfo)
	assert.Equal(t, uint64(vfs.RootHandle), sys.Fileid)
	assert.Equal(t, uint32(1), sys.Nlink)
	assert.Equal(t, uint32(os.Getuid()), sys.UID)
}

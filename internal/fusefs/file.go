package fusefs

import (
	"context"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"rmxfs/internal/vfs"
)

// fileHandle is an open document.
type fileHandle struct {
	bridge *vfs.Bridge
	fh     vfs.FileHandleID
}

var (
	_ gofuse.FileReader   = (*fileHandle)(nil)
	_ gofuse.FileWriter   = (*fileHandle)(nil)
	_ gofuse.FileFlusher  = (*fileHandle)(nil)
	_ gofuse.FileFsyncer  = (*fileHandle)(nil)
	_ gofuse.FileReleaser = (*fileHandle)(nil)
)

func (f *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.bridge.Read(f.fh, off, len(dest))
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(data), gofuse.OK
}

func (f *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := f.bridge.Write(f.fh, off, data)
	if err != nil {
		return uint32(n), toErrno(err)
	}
	return uint32(n), gofuse.OK
}

// Flush runs on every close(2) of a descriptor sharing this handle.
func (f *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return toErrno(f.bridge.Flush(f.fh))
}

func (f *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return toErrno(f.bridge.Flush(f.fh))
}

func (f *fileHandle) Release(ctx context.Context) syscall.Errno {
	return toErrno(f.bridge.Release(f.fh))
}

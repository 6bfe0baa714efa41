// Copyright 2024 RMXFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package netfs

import (
	"io"
	"os"
	"path"
	"time"

	billy "github.com/go-git/go-billy/v5"
	nfsfile "github.com/willscott/go-nfs/file"

	"rmxfs/internal/vfs"
)

// BillyAdapter adapts a vfs.Bridge to the Billy filesystem interface
// served by go-nfs. Paths are projected paths relative to the mount root.
type BillyAdapter struct {
	bridge *vfs.Bridge
	uid    uint32 // cached os.Getuid()
	gid    uint32 // cached os.Getgid()
}

var (
	_ billy.Filesystem = (*BillyAdapter)(nil)
	_ billy.Change     = (*BillyAdapter)(nil)
	_ billy.Capable    = (*BillyAdapter)(nil)
)

// NewBillyAdapter creates a Billy adapter for a bridge.
func NewBillyAdapter(bridge *vfs.Bridge) *BillyAdapter {
	return &BillyAdapter{
		bridge: bridge,
		uid:    uint32(os.Getuid()),
		gid:    uint32(os.Getgid()),
	}
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile opens a document. perm is ignored; documents are always 0644.
func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	fh, attr, err := b.bridge.OpenPath(filename, flag)
	if err != nil {
		return nil, err
	}
	return &BillyFile{
		adapter: b,
		fh:      fh,
		handle:  attr.Handle,
		name:    filename,
		flags:   flag,
	}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	attr, err := b.bridge.StatPath(filename)
	if err != nil {
		return nil, err
	}
	return b.fileInfo(path.Base(filename), attr), nil
}

func (b *BillyAdapter) fileInfo(name string, attr vfs.Attr) *BillyFileInfo {
	return &BillyFileInfo{name: name, attr: attr, adapter: b}
}

// Rename never replaces an existing target.
func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	return b.bridge.RenamePath(oldpath, newpath)
}

// Remove moves documents to trash and deletes empty collections.
func (b *BillyAdapter) Remove(filename string) error {
	return b.bridge.RemovePath(filename)
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	attrs, err := b.bridge.ReadDirPath(dirname)
	if err != nil {
		return nil, err
	}
	result := make([]os.FileInfo, 0, len(attrs))
	for _, a := range attrs {
		result = append(result, b.fileInfo(a.Name, a))
	}
	return result, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	return b.bridge.MkdirPath(filename)
}

// Lstat and Stat are identical; the tree has no symlinks.
func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface. Modes and owners are fixed by the projection.
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error         { return nil }
func (b *BillyAdapter) Lchown(name string, uid, gid int) error            { return nil }
func (b *BillyAdapter) Chown(name string, uid, gid int) error             { return nil }
func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error { return nil }

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// BillyFile is an open document.
type BillyFile struct {
	adapter *BillyAdapter
	fh      vfs.FileHandleID
	handle  vfs.Handle
	name    string
	flags   int
	offset  int64
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (n int, err error) {
	if f.flags&os.O_APPEND != 0 {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return 0, err
		}
	}
	n, err = f.adapter.bridge.Write(f.fh, f.offset, p)
	if err == nil {
		f.offset += int64(n)
	}
	return
}

func (f *BillyFile) Read(p []byte) (n int, err error) {
	n, err = f.ReadAt(p, f.offset)
	f.offset += int64(n)
	return
}

// ReadAt returns io.EOF when fewer than len(p) bytes were available.
func (f *BillyFile) ReadAt(p []byte, off int64) (n int, err error) {
	data, err := f.adapter.bridge.Read(f.fh, off, len(p))
	if err != nil {
		return 0, err
	}
	n = copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	case io.SeekEnd:
		attr, err := f.adapter.bridge.GetAttr(f.handle)
		if err != nil {
			return 0, err
		}
		f.offset = int64(attr.Size) + offset
	}
	return f.offset, nil
}

// Close commits pending writes and releases the handle.
func (f *BillyFile) Close() error {
	return f.adapter.bridge.Release(f.fh)
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) error {
	return f.adapter.bridge.Truncate(f.handle, f.fh, size)
}

// BillyFileInfo describes one projected entry.
type BillyFileInfo struct {
	name    string
	attr    vfs.Attr
	adapter *BillyAdapter // cached uid/gid source (nil falls back to syscall)
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	return int64(fi.attr.Size)
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	perm := os.FileMode(fi.attr.Mode & 0o777)
	if fi.IsDir() {
		if perm == 0 {
			perm = 0o755
		}
		return os.ModeDir | perm
	}
	if perm == 0 {
		perm = 0o644
	}
	return perm
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return fi.attr.Mtime
}

func (fi *BillyFileInfo) IsDir() bool {
	return fi.attr.IsDir()
}

func (fi *BillyFileInfo) Sys() interface{} {
	// go-nfs's GetInfo() only recognizes file.FileInfo or *file.FileInfo types
	uid, gid := fi.getUIDGID()
	nlink := fi.attr.Nlink
	if nlink == 0 {
		nlink = 1
	}
	fileid := uint64(fi.attr.Handle)
	if fileid == 0 {
		fileid = uint64(vfs.RootHandle)
	}
	return &nfsfile.FileInfo{
		Nlink:  nlink,
		UID:    uid,
		GID:    gid,
		Fileid: fileid,
	}
}

// getUIDGID returns cached uid/gid from the adapter if available, otherwise falls back to syscall.
func (fi *BillyFileInfo) getUIDGID() (uint32, uint32) {
	if fi.adapter != nil {
		return fi.adapter.uid, fi.adapter.gid
	}
	return uint32(os.Getuid()), uint32(os.Getgid())
}

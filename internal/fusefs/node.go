package fusefs

import (
	"context"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"rmxfs/internal/vfs"
)

// node is one projected entry. Its inode number is the bridge handle.
type node struct {
	gofuse.Inode

	fsys   *FS
	handle vfs.Handle
}

var (
	_ gofuse.InodeEmbedder   = (*node)(nil)
	_ gofuse.NodeLookuper    = (*node)(nil)
	_ gofuse.NodeGetattrer   = (*node)(nil)
	_ gofuse.NodeSetattrer   = (*node)(nil)
	_ gofuse.NodeReaddirer   = (*node)(nil)
	_ gofuse.NodeOpener      = (*node)(nil)
	_ gofuse.NodeCreater     = (*node)(nil)
	_ gofuse.NodeMknoder     = (*node)(nil)
	_ gofuse.NodeMkdirer     = (*node)(nil)
	_ gofuse.NodeUnlinker    = (*node)(nil)
	_ gofuse.NodeRmdirer     = (*node)(nil)
	_ gofuse.NodeRenamer     = (*node)(nil)
	_ gofuse.NodeStatfser    = (*node)(nil)
	_ gofuse.NodeOnForgetter = (*node)(nil)
)

// newChild wraps a bridge entry in an inode. go-fuse returns the existing
// inode when one with the same number is already live.
func (n *node) newChild(ctx context.Context, attr vfs.Attr) *gofuse.Inode {
	n.fsys.ref(attr.Handle)
	mode := uint32(syscall.S_IFREG)
	if attr.IsDir() {
		mode = syscall.S_IFDIR
	}
	child := &node{fsys: n.fsys, handle: attr.Handle}
	return n.NewInode(ctx, child, gofuse.StableAttr{Mode: mode, Ino: uint64(attr.Handle)})
}

func (n *node) fillEntry(attr vfs.Attr, out *fuse.EntryOut) {
	n.fsys.fillAttr(attr, &out.Attr)
	out.SetEntryTimeout(n.fsys.entryTimeout)
	out.SetAttrTimeout(n.fsys.attrTimeout)
}

// fillAttr copies bridge attributes into a kernel attribute block.
func (fsys *FS) fillAttr(attr vfs.Attr, out *fuse.Attr) {
	out.Ino = uint64(attr.Handle)
	out.Size = attr.Size
	out.Blocks = (attr.Size + 511) / 512
	out.Blksize = 4096
	out.Nlink = attr.Nlink
	out.Mode = attr.Mode
	if attr.IsDir() {
		out.Mode |= syscall.S_IFDIR
	} else {
		out.Mode |= syscall.S_IFREG
	}
	mtime := attr.Mtime
	out.SetTimes(&mtime, &mtime, &mtime)
	out.Owner = fuse.Owner{Uid: fsys.uid, Gid: fsys.gid}
}

// OnForget returns the bridge references once the kernel dropped the inode.
func (n *node) OnForget() {
	if n.handle == vfs.RootHandle {
		return
	}
	n.fsys.forget(n.handle)
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	attr, err := n.fsys.bridge.Lookup(n.handle, name)
	if err != nil {
		return nil, toErrno(err)
	}
	n.fillEntry(attr, out)
	return n.newChild(ctx, attr), gofuse.OK
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.fsys.bridge.GetAttr(n.handle)
	if err != nil {
		return toErrno(err)
	}
	n.fsys.fillAttr(attr, &out.Attr)
	out.SetTimeout(n.fsys.attrTimeout)
	return gofuse.OK
}

// Setattr honours size changes only; mode, owner and time changes are
// accepted and ignored.
func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		var fh vfs.FileHandleID
		if h, ok := f.(*fileHandle); ok {
			fh = h.fh
		}
		if err := n.fsys.bridge.Truncate(n.handle, fh, int64(size)); err != nil {
			return toErrno(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

// Readdir lists the directory. go-fuse answers "." and ".." itself.
func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := n.fsys.bridge.ReadDir(n.handle)
	if err != nil {
		return nil, toErrno(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		mode := uint32(syscall.S_IFREG)
		if e.Type == vfs.FileTypeDirectory {
			mode = syscall.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode, Ino: uint64(e.Handle)})
	}
	return gofuse.NewListDirStream(out), gofuse.OK
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	fh, err := n.fsys.bridge.Open(n.handle, int(flags))
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &fileHandle{bridge: n.fsys.bridge, fh: fh}, 0, gofuse.OK
}

// Create makes a new document. The mode is ignored; documents are always
// projected as 0644.
func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	log.Debugf("[FUSE] Create: %d/%q flags=%#x", n.handle, name, flags)
	attr, fh, err := n.fsys.bridge.Create(n.handle, name)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	n.fillEntry(attr, out)
	return n.newChild(ctx, attr), &fileHandle{bridge: n.fsys.bridge, fh: fh}, 0, gofuse.OK
}

// Mknod serves regular file creation once the kernel stopped sending
// CREATE, which it does after the first CREATE answered with ENOSYS.
func (n *node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	if mode&syscall.S_IFMT != syscall.S_IFREG {
		return nil, syscall.ENOSYS
	}
	attr, fh, err := n.fsys.bridge.Create(n.handle, name)
	if err != nil {
		return nil, toErrno(err)
	}
	if err := n.fsys.bridge.Release(fh); err != nil {
		log.Warnf("[FUSE] Mknod: release of %q: %v", name, err)
	}
	n.fillEntry(attr, out)
	return n.newChild(ctx, attr), gofuse.OK
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	attr, err := n.fsys.bridge.Mkdir(n.handle, name)
	if err != nil {
		return nil, toErrno(err)
	}
	n.fillEntry(attr, out)
	return n.newChild(ctx, attr), gofuse.OK
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.fsys.bridge.Unlink(n.handle, name))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.fsys.bridge.Rmdir(n.handle, name))
}

// Rename moves an entry. The bridge never replaces an existing target, so
// RENAME_NOREPLACE needs no extra handling; RENAME_EXCHANGE is refused
// with EINVAL, since ENOSYS would make the kernel stop sending flagged
// renames altogether.
func (n *node) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags&unix.RENAME_EXCHANGE != 0 {
		return syscall.EINVAL
	}
	np, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}
	return toErrno(n.fsys.bridge.Rename(n.handle, name, np.handle, newName))
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st, err := n.fsys.bridge.Statfs()
	if err != nil {
		return toErrno(err)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bfree
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = st.Bsize
	out.Frsize = st.Bsize
	out.NameLen = st.NameLen
	return gofuse.OK
}

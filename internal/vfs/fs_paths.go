package vfs

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"rmxfs/internal/common"
	"rmxfs/internal/storage"
)

// Path based operations serve transports that address entries by projected
// path (NFS, offline tooling). They allocate handles without kernel lookup
// references; those entries are dropped when the item is erased.

// StatPath returns the attributes of the entry at p.
func (b *Bridge) StatPath(p string) (attr Attr, err error) {
	defer b.finish("getattr", time.Now(), &err)
	defer recoverBridgePanic("StatPath", &err)

	id, err := b.ResolvePath(p)
	if err != nil {
		return Attr{}, err
	}
	n, err := b.index.Get(id)
	if err != nil {
		return Attr{}, err
	}
	attr, err = b.attrOf(n)
	if err != nil {
		return Attr{}, err
	}
	return b.withHandle(attr), nil
}

// ReadDirPath lists the directory at p, sorted by name and without the
// "." and ".." entries.
func (b *Bridge) ReadDirPath(p string) (attrs []Attr, err error) {
	defer b.finish("readdir", time.Now(), &err)
	defer recoverBridgePanic("ReadDirPath", &err)
	log.Debugf("[VFS] ReadDirPath: %q", p)

	id, err := b.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	return b.childAttrs(id)
}

func (b *Bridge) childAttrs(id string) ([]Attr, error) {
	children, err := b.index.ChildrenOf(id)
	if err != nil {
		return nil, err
	}
	attrs := make([]Attr, 0, len(children))
	for _, c := range children {
		n, err := b.index.Get(c.ID)
		if err != nil {
			// removed since the snapshot
			continue
		}
		a, err := b.attrOf(n)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, b.withHandle(a))
	}
	return attrs, nil
}

// OpenPath opens the document at p. With os.O_CREATE a missing document is
// created; os.O_EXCL turns an existing one into common.ErrExists.
func (b *Bridge) OpenPath(p string, flags int) (fh FileHandleID, attr Attr, err error) {
	defer b.finish("open", time.Now(), &err)
	defer recoverBridgePanic("OpenPath", &err)
	log.Debugf("[VFS] OpenPath: %q flags=%#x", p, flags)

	pid, name, err := b.resolveParent(p)
	if err != nil {
		return 0, Attr{}, err
	}
	n, err := b.childOf(pid, name)
	switch {
	case err == nil && flags&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL:
		return 0, Attr{}, fmt.Errorf("open %q: %w", p, common.ErrExists)
	case err == nil:
		// fall through to open
	case flags&os.O_CREATE != 0 && isNotFound(err):
		attr, fh, err = b.createIn(pid, name)
		if err != nil {
			return 0, Attr{}, err
		}
		// createIn took a lookup reference on behalf of the kernel
		b.handles.Forget(attr.Handle, 1)
		return fh, attr, nil
	default:
		return 0, Attr{}, err
	}

	h := b.handles.HandleFor(n.ID)
	fh, err = b.openNode(h, n, flags)
	if err != nil {
		return 0, Attr{}, err
	}
	attr, err = b.attrOf(n)
	if err != nil {
		b.Release(fh)
		return 0, Attr{}, err
	}
	attr.Handle = h
	return fh, attr, nil
}

// CreatePath creates an empty document at p and opens it for writing.
func (b *Bridge) CreatePath(p string) (FileHandleID, Attr, error) {
	return b.OpenPath(p, os.O_RDWR|os.O_CREATE|os.O_EXCL)
}

// MkdirPath creates the collection at p together with any missing parents.
// Existing collections along the way are kept.
func (b *Bridge) MkdirPath(p string) (err error) {
	defer b.finish("mkdir", time.Now(), &err)
	defer recoverBridgePanic("MkdirPath", &err)
	log.Debugf("[VFS] MkdirPath: %q", p)

	id := storage.RootID
	for _, seg := range common.SplitPath(p) {
		n, err := b.childOf(id, seg)
		switch {
		case err == nil && !n.IsDir():
			return fmt.Errorf("mkdir %q: %q: %w", p, seg, common.ErrNotDir)
		case err == nil:
			id = n.ID
			continue
		case !isNotFound(err):
			return err
		}
		attr, err := b.mkdirIn(id, seg)
		if err != nil {
			return err
		}
		id = attr.ID
	}
	return nil
}

// RemovePath removes the entry at p: collections with rmdir semantics,
// documents by moving them to trash.
func (b *Bridge) RemovePath(p string) (err error) {
	defer b.finish("remove", time.Now(), &err)
	defer recoverBridgePanic("RemovePath", &err)
	log.Debugf("[VFS] RemovePath: %q", p)

	pid, name, err := b.resolveParent(p)
	if err != nil {
		return err
	}
	n, err := b.childOf(pid, name)
	if err != nil {
		return err
	}
	if n.IsDir() {
		return b.rmdirIn(pid, name)
	}
	return b.unlinkIn(pid, name)
}

// RenamePath moves the entry at oldPath to newPath.
func (b *Bridge) RenamePath(oldPath, newPath string) (err error) {
	defer b.finish("rename", time.Now(), &err)
	defer recoverBridgePanic("RenamePath", &err)
	log.Debugf("[VFS] RenamePath: %q → %q", oldPath, newPath)

	opid, oldName, err := b.resolveParent(oldPath)
	if err != nil {
		return err
	}
	npid, newName, err := b.resolveParent(newPath)
	if err != nil {
		return err
	}
	return b.renameIn(opid, oldName, npid, newName)
}

// TruncatePath resizes the document at p and stamps its record.
func (b *Bridge) TruncatePath(p string, size int64) (err error) {
	defer b.finish("truncate", time.Now(), &err)
	defer recoverBridgePanic("TruncatePath", &err)

	id, err := b.ResolvePath(p)
	if err != nil {
		return err
	}
	n, err := b.index.Get(id)
	if err != nil {
		return err
	}
	if err := b.truncateNode(n, size); err != nil {
		return err
	}
	b.invalidate(id)
	return nil
}

// --- Trash Maintenance ---

// ListTrash returns the entries directly in trash.
func (b *Bridge) ListTrash() (attrs []Attr, err error) {
	defer b.finish("readdir", time.Now(), &err)
	defer recoverBridgePanic("ListTrash", &err)
	return b.childAttrs(storage.TrashID)
}

// PurgeStats summarises a trash purge.
type PurgeStats struct {
	Documents   int
	Collections int
	Skipped     int // pinned by an open data handle
}

// PurgeTrash permanently erases everything in trash. Documents still open
// are left in place; collections are erased once they are empty.
func (b *Bridge) PurgeTrash() (stats PurgeStats, err error) {
	defer b.finish("purge", time.Now(), &err)
	defer recoverBridgePanic("PurgeTrash", &err)

	b.mu.Lock()
	defer b.mu.Unlock()

	var purge func(id string) error
	purge = func(id string) error {
		children, err := b.index.ChildrenOf(id)
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.Kind == storage.KindCollection {
				if err := purge(c.ID); err != nil {
					return err
				}
				if !b.index.IsEmpty(c.ID) {
					continue
				}
				stats.Collections++
			} else {
				if b.handles.IsOpen(c.ID) {
					log.Infof("[VFS] PurgeTrash: %s is open; keeping it", c.ID)
					stats.Skipped++
					continue
				}
				stats.Documents++
			}
			if err := b.eraseLocked(c.ID); err != nil {
				return err
			}
		}
		return nil
	}
	err = purge(storage.TrashID)
	b.invalidate(storage.TrashID)
	b.reportItems()
	if err != nil {
		return stats, err
	}
	log.Infof("[VFS] PurgeTrash: erased %d documents and %d collections (%d open)",
		stats.Documents, stats.Collections, stats.Skipped)
	return stats, nil
}

// eraseLocked deletes the record of id and drops it from the index.
// Caller holds b.mu.
func (b *Bridge) eraseLocked(id string) error {
	if err := b.store.Delete(b.ctx, id); err != nil {
		return err
	}
	if err := b.index.Remove(id); err != nil {
		return err
	}
	b.handles.Drop(id)
	b.invalidate(id)
	return nil
}

// PathOf returns the projected path of the entry behind h.
func (b *Bridge) PathOf(h Handle) (string, error) {
	id, err := b.idFor(h)
	if err != nil {
		return "", err
	}
	return b.index.Path(id)
}

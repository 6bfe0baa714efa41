package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"rmxfs/internal/cache"
	"rmxfs/internal/common"
	"rmxfs/internal/graph"
	"rmxfs/internal/metrics"
	"rmxfs/internal/storage"
)

// attrCacheMaxEntries caps memory usage of the attribute cache.
const attrCacheMaxEntries = 10000

// Options configures a Bridge.
type Options struct {
	// DocTypes is the document type whitelist (default pdf, epub).
	DocTypes []storage.DocType
	// ReservedPatterns are gitignore-style collection names that are
	// rejected (default "*.sdr").
	ReservedPatterns []string
	// AttrTTL bounds how long attributes are cached; negative disables.
	AttrTTL time.Duration
	// Metrics is optional.
	Metrics metrics.BridgeMetrics
	// Clock overrides time.Now for lastModified stamps.
	Clock func() time.Time
}

// Bridge projects a flat record store as a directory tree and translates
// filesystem operations into record mutations. It is safe for concurrent
// use by multiple kernel worker threads: mutations of the graph and their
// record writes are serialised by mu, lookups only take the index read lock
// and blob I/O runs outside both.
type Bridge struct {
	mu sync.Mutex

	ctx       context.Context
	store     *storage.Store
	blobs     *storage.BlobStore
	index     *graph.Index
	handles   *HandleTable
	files     *OpenFiles
	policy    *Policy
	attrCache *cache.AttrCache[Attr]
	metrics   metrics.BridgeMetrics
	clock     func() time.Time
	started   time.Time
}

// NewBridge bootstraps the graph index from store and returns a bridge.
func NewBridge(ctx context.Context, store *storage.Store, opts Options) (*Bridge, error) {
	types := opts.DocTypes
	if len(types) == 0 {
		types = store.DocTypes()
	}

	start := time.Now()
	idx, stats, err := graph.Build(store.ListAll(ctx))
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	log.Infof("[VFS] indexed %d records from %s in %v (skipped=%d orphans=%d renamed=%d)",
		stats.Loaded, store.Root(), time.Since(start), stats.Skipped, stats.Orphans, stats.Renamed)

	var attrCache *cache.AttrCache[Attr]
	if opts.AttrTTL >= 0 {
		attrCache = cache.NewAttrCache[Attr](opts.AttrTTL, attrCacheMaxEntries)
	}

	b := &Bridge{
		ctx:       context.WithoutCancel(ctx),
		store:     store,
		blobs:     storage.NewBlobStore(store.Root()),
		index:     idx,
		handles:   NewHandleTable(),
		files:     NewOpenFiles(),
		policy:    NewPolicy(types, opts.ReservedPatterns),
		attrCache: attrCache,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		started:   time.Now(),
	}
	b.reportItems()
	return b, nil
}

// Index exposes the graph index for read-only tooling.
func (b *Bridge) Index() *graph.Index { return b.index }

// Handles exposes the handle table to transport adapters.
func (b *Bridge) Handles() *HandleTable { return b.handles }

// Close releases every open data handle.
func (b *Bridge) Close() error {
	var errs []error
	for _, f := range b.files.Drain() {
		if f.blob != nil {
			errs = append(errs, f.blob.Close())
		}
	}
	b.reportOpenFiles()
	if b.attrCache != nil {
		b.attrCache.Invalidate()
	}
	return errors.Join(errs...)
}

// --- Lookup / Attributes ---

// Lookup resolves name under parent and adds one kernel reference to the
// returned handle.
func (b *Bridge) Lookup(parent Handle, name string) (attr Attr, err error) {
	defer b.finish("lookup", time.Now(), &err)
	defer recoverBridgePanic("Lookup", &err)
	log.Debugf("[VFS] Lookup: parent=%d name=%q", parent, name)

	p, err := b.dirFor(parent)
	if err != nil {
		return Attr{}, err
	}
	n, err := b.childOf(p.ID, name)
	if err != nil {
		return Attr{}, err
	}
	attr, err = b.attrOf(n)
	if err != nil {
		return Attr{}, err
	}
	attr.Handle = b.handles.Acquire(n.ID)
	return attr, nil
}

// Forget drops n kernel references from h.
func (b *Bridge) Forget(h Handle, n uint64) {
	if b.handles.Forget(h, n) {
		log.Tracef("[VFS] Forget: handle %d reclaimed", h)
	}
}

// GetAttr returns the attributes of h.
func (b *Bridge) GetAttr(h Handle) (attr Attr, err error) {
	defer b.finish("getattr", time.Now(), &err)
	defer recoverBridgePanic("GetAttr", &err)

	n, err := b.nodeFor(h)
	if err != nil {
		return Attr{}, err
	}
	attr, err = b.attrOf(n)
	if err != nil {
		return Attr{}, err
	}
	attr.Handle = h
	return attr, nil
}

// ReadDir lists h. Each call returns a fresh snapshot, so a listing can be
// restarted at any time; "." and ".." come first and the trash entry is
// part of the root listing.
func (b *Bridge) ReadDir(h Handle) (entries []DirEntry, err error) {
	defer b.finish("readdir", time.Now(), &err)
	defer recoverBridgePanic("ReadDir", &err)
	log.Debugf("[VFS] ReadDir: handle=%d", h)

	dir, err := b.dirFor(h)
	if err != nil {
		return nil, err
	}
	children, err := b.index.ChildrenOf(dir.ID)
	if err != nil {
		return nil, err
	}

	parentHandle := RootHandle
	if dir.ID != storage.RootID {
		parentHandle, _ = b.handles.Peek(dir.Parent)
	}
	entries = make([]DirEntry, 0, len(children)+2)
	entries = append(entries,
		DirEntry{Name: ".", Handle: h, Type: FileTypeDirectory},
		DirEntry{Name: "..", Handle: parentHandle, Type: FileTypeDirectory},
	)
	for _, c := range children {
		e := DirEntry{Name: c.Name, Type: FileTypeRegularFile}
		if c.Kind == storage.KindCollection {
			e.Type = FileTypeDirectory
		}
		e.Handle, _ = b.handles.Peek(c.ID)
		entries = append(entries, e)
	}
	return entries, nil
}

// Statfs reports the backing filesystem's block totals and the item count.
func (b *Bridge) Statfs() (st StatFS, err error) {
	defer b.finish("statfs", time.Now(), &err)
	defer recoverBridgePanic("Statfs", &err)

	var raw unix.Statfs_t
	if err := unix.Statfs(b.store.Root(), &raw); err != nil {
		return StatFS{}, fmt.Errorf("statfs %s: %w: %w", b.store.Root(), common.ErrStorage, err)
	}
	items := uint64(b.index.Len())
	return StatFS{
		Blocks:  raw.Blocks,
		Bfree:   raw.Bavail,
		Files:   items + raw.Ffree,
		Ffree:   raw.Ffree,
		Bsize:   uint32(raw.Bsize),
		NameLen: 255,
	}, nil
}

// --- Data Operations ---

// Open opens the document behind h.
func (b *Bridge) Open(h Handle, flags int) (fh FileHandleID, err error) {
	defer b.finish("open", time.Now(), &err)
	defer recoverBridgePanic("Open", &err)
	log.Debugf("[VFS] Open: handle=%d flags=%#x", h, flags)

	n, err := b.nodeFor(h)
	if err != nil {
		return 0, err
	}
	return b.openNode(h, n, flags)
}

func (b *Bridge) openNode(h Handle, n graph.Node, flags int) (FileHandleID, error) {
	if n.IsDir() {
		return 0, fmt.Errorf("open %q: %w", n.Name, common.ErrIsDir)
	}
	writable := flags&(os.O_WRONLY|os.O_RDWR) != 0
	blob, err := b.blobs.Open(n.ID, n.DocType, writable)
	if err != nil {
		return 0, err
	}
	if err := b.handles.Pin(h); err != nil {
		blob.Close()
		return 0, err
	}
	f := &openFile{handle: h, id: n.ID, docType: n.DocType, blob: blob, writable: writable}
	if writable && flags&os.O_TRUNC != 0 {
		if err := blob.Truncate(0); err != nil {
			blob.Close()
			b.handles.Unpin(h)
			return 0, err
		}
		f.dirty = true
		b.invalidate(n.ID)
	}
	fh := b.files.Allocate(f)
	b.reportOpenFiles()
	return fh, nil
}

// Read reads up to size bytes at off. A short slice signals end of file.
func (b *Bridge) Read(fh FileHandleID, off int64, size int) (data []byte, err error) {
	defer b.finish("read", time.Now(), &err)
	defer recoverBridgePanic("Read", &err)

	f, ok := b.files.Get(fh)
	if !ok {
		return nil, fmt.Errorf("read fh %d: %w", fh, common.ErrInvalidHandle)
	}
	buf := make([]byte, size)
	n, rerr := f.blob.ReadAt(buf, off)
	if rerr != nil && !errors.Is(rerr, io.EOF) {
		return nil, fmt.Errorf("read %s: %w: %w", f.id, common.ErrStorage, rerr)
	}
	if b.metrics != nil {
		b.metrics.RecordBytes("read", n)
	}
	return buf[:n], nil
}

// Write writes data at off.
func (b *Bridge) Write(fh FileHandleID, off int64, data []byte) (written int, err error) {
	defer b.finish("write", time.Now(), &err)
	defer recoverBridgePanic("Write", &err)

	f, ok := b.files.Get(fh)
	if !ok || !f.writable {
		return 0, fmt.Errorf("write fh %d: %w", fh, common.ErrInvalidHandle)
	}
	written, err = f.blob.WriteAt(data, off)
	if err != nil {
		return written, err
	}
	b.files.MarkDirty(fh)
	b.invalidate(f.id)
	if b.metrics != nil {
		b.metrics.RecordBytes("write", written)
	}
	return written, nil
}

// Truncate resizes the document behind h. With an open writable fh the
// change goes through it and is stamped on flush; otherwise the record is
// stamped immediately.
func (b *Bridge) Truncate(h Handle, fh FileHandleID, size int64) (err error) {
	defer b.finish("truncate", time.Now(), &err)
	defer recoverBridgePanic("Truncate", &err)
	log.Debugf("[VFS] Truncate: handle=%d fh=%d size=%d", h, fh, size)

	if f, ok := b.files.Get(fh); ok && f.writable {
		if err := f.blob.Truncate(size); err != nil {
			return err
		}
		b.files.MarkDirty(fh)
		b.invalidate(f.id)
		return nil
	}

	n, err := b.nodeFor(h)
	if err != nil {
		return err
	}
	return b.truncateNode(n, size)
}

func (b *Bridge) truncateNode(n graph.Node, size int64) error {
	if n.IsDir() {
		return fmt.Errorf("truncate %q: %w", n.Name, common.ErrIsDir)
	}
	if err := b.blobs.Truncate(n.ID, n.DocType, size); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stamp(n.ID)
}

// Flush syncs written data and stamps lastModified if fh wrote anything
// since the previous flush.
func (b *Bridge) Flush(fh FileHandleID) (err error) {
	defer b.finish("flush", time.Now(), &err)
	defer recoverBridgePanic("Flush", &err)

	f, ok := b.files.Get(fh)
	if !ok {
		return fmt.Errorf("flush fh %d: %w", fh, common.ErrInvalidHandle)
	}
	if !b.files.TakeDirty(fh) {
		return nil
	}
	return b.commitWrite(f)
}

func (b *Bridge) commitWrite(f *openFile) error {
	if err := f.blob.Sync(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.stamp(f.id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// purged while open; the data has nowhere to go
			log.Warnf("[VFS] Flush: record %s vanished while open", f.id)
			return nil
		}
		return err
	}
	return nil
}

// Release closes fh, committing pending writes first.
func (b *Bridge) Release(fh FileHandleID) (err error) {
	defer b.finish("release", time.Now(), &err)
	defer recoverBridgePanic("Release", &err)

	f, ok := b.files.Release(fh)
	if !ok {
		return fmt.Errorf("release fh %d: %w", fh, common.ErrInvalidHandle)
	}
	defer b.reportOpenFiles()
	defer b.handles.Unpin(f.handle)

	if f.dirty {
		if cerr := b.commitWrite(f); cerr != nil {
			f.blob.Close()
			return cerr
		}
	}
	if cerr := f.blob.Close(); cerr != nil {
		return fmt.Errorf("close %s: %w: %w", f.id, common.ErrStorage, cerr)
	}
	return nil
}

// --- Namespace Operations ---

// Create makes a new empty document called name under parent, opened for
// writing. The blob and .content sidecar are written before the record so
// an interrupted create never leaves a visible record without content.
func (b *Bridge) Create(parent Handle, name string) (attr Attr, fh FileHandleID, err error) {
	defer b.finish("create", time.Now(), &err)
	defer recoverBridgePanic("Create", &err)
	log.Debugf("[VFS] Create: parent=%d name=%q", parent, name)

	p, err := b.dirFor(parent)
	if err != nil {
		return Attr{}, 0, err
	}
	return b.createIn(p.ID, name)
}

func (b *Bridge) createIn(pid, name string) (Attr, FileHandleID, error) {
	if err := b.policy.CheckCreate(pid, name); err != nil {
		return Attr{}, 0, err
	}
	stem, t, err := b.policy.DocumentName(name)
	if err != nil {
		return Attr{}, 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.index.ResolveChild(pid, name); err == nil {
		return Attr{}, 0, fmt.Errorf("create %q: %w", name, common.ErrExists)
	}

	id := uuid.NewString()
	blob, err := b.blobs.Create(id, t)
	if err != nil {
		return Attr{}, 0, err
	}
	undo := func() {
		blob.Close()
		if derr := b.store.Delete(b.ctx, id); derr != nil {
			log.Warnf("[VFS] Create: cleanup of %s failed: %v", id, derr)
		}
	}

	if err := b.store.PutContent(b.ctx, id, t); err != nil {
		undo()
		return Attr{}, 0, err
	}
	rec := storage.NewDocument(id, pid, stem, t, b.now().Truncate(time.Millisecond))
	if err := b.store.Put(b.ctx, rec); err != nil {
		undo()
		return Attr{}, 0, err
	}
	n := graph.NodeFromRecord(rec)
	if n, err = b.index.Insert(n); err != nil {
		undo()
		return Attr{}, 0, err
	}

	h := b.handles.Acquire(id)
	if err := b.handles.Pin(h); err != nil {
		blob.Close()
		return Attr{}, 0, err
	}
	fh := b.files.Allocate(&openFile{handle: h, id: id, docType: t, blob: blob, writable: true})
	b.invalidate(pid)
	b.reportItems()
	b.reportOpenFiles()

	attr, err := b.attrOf(n)
	if err != nil {
		return Attr{}, 0, err
	}
	attr.Handle = h
	log.Debugf("[VFS] Create: %q → %s", name, id)
	return attr, fh, nil
}

// Mkdir makes a new collection called name under parent.
func (b *Bridge) Mkdir(parent Handle, name string) (attr Attr, err error) {
	defer b.finish("mkdir", time.Now(), &err)
	defer recoverBridgePanic("Mkdir", &err)
	log.Debugf("[VFS] Mkdir: parent=%d name=%q", parent, name)

	p, err := b.dirFor(parent)
	if err != nil {
		return Attr{}, err
	}
	attr, err = b.mkdirIn(p.ID, name)
	if err != nil {
		return Attr{}, err
	}
	attr.Handle = b.handles.Acquire(attr.ID)
	return attr, nil
}

func (b *Bridge) mkdirIn(pid, name string) (Attr, error) {
	if err := b.policy.CheckCreate(pid, name); err != nil {
		return Attr{}, err
	}
	visible, err := b.policy.CollectionName(name)
	if err != nil {
		return Attr{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.index.ResolveChild(pid, name); err == nil {
		return Attr{}, fmt.Errorf("mkdir %q: %w", name, common.ErrExists)
	}

	rec := storage.NewCollection(uuid.NewString(), pid, visible, b.now().Truncate(time.Millisecond))
	if err := b.store.Put(b.ctx, rec); err != nil {
		return Attr{}, err
	}
	n, err := b.index.Insert(graph.NodeFromRecord(rec))
	if err != nil {
		if derr := b.store.Delete(b.ctx, rec.ID); derr != nil {
			log.Warnf("[VFS] Mkdir: cleanup of %s failed: %v", rec.ID, derr)
		}
		return Attr{}, err
	}
	b.invalidate(pid)
	b.reportItems()
	return b.attrOf(n)
}

// Rename moves oldName under oldParent to newName under newParent. An
// occupied destination is rejected rather than replaced. Moving a document
// into trash is a deletion; moving it out restores it.
func (b *Bridge) Rename(oldParent Handle, oldName string, newParent Handle, newName string) (err error) {
	defer b.finish("rename", time.Now(), &err)
	defer recoverBridgePanic("Rename", &err)
	log.Debugf("[VFS] Rename: %d/%q → %d/%q", oldParent, oldName, newParent, newName)

	op, err := b.dirFor(oldParent)
	if err != nil {
		return err
	}
	np, err := b.dirFor(newParent)
	if err != nil {
		return err
	}
	return b.renameIn(op.ID, oldName, np.ID, newName)
}

func (b *Bridge) renameIn(opid, oldName, npid, newName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err := b.childOf(opid, oldName)
	if err != nil {
		return err
	}
	if opid == npid && oldName == newName {
		return nil
	}
	visible, err := b.policy.RenameTarget(n, npid, newName)
	if err != nil {
		return err
	}
	if npid != storage.TrashID {
		if other, err := b.index.ResolveChild(npid, newName); err == nil && other != n.ID {
			return fmt.Errorf("rename onto %q: %w", newName, common.ErrExists)
		}
	}
	return b.moveLocked(n, npid, visible)
}

// moveLocked applies a move to the index and persists it; a failed record
// write reverts the index. Caller holds b.mu.
func (b *Bridge) moveLocked(n graph.Node, npid, visible string) error {
	moved, err := b.index.UpdateParent(n.ID, npid, visible)
	if err != nil {
		return err
	}
	if moved.Parent == n.Parent && moved.Name == n.Name && moved.VisibleName == n.VisibleName {
		return nil
	}

	rec, err := b.store.Get(n.ID)
	if err == nil {
		rec.Parent = npid
		rec.VisibleName = visible
		rec.Touch(b.now())
		err = b.store.Put(b.ctx, rec)
	}
	if err != nil {
		if _, rerr := b.index.UpdateParent(n.ID, n.Parent, n.VisibleName); rerr != nil {
			log.Errorf("[VFS] revert of %s after failed write: %v", n.ID, rerr)
		}
		return err
	}
	b.index.SetModified(n.ID, rec.LastModified)
	b.invalidate(n.ID, n.Parent, npid)
	return nil
}

// Rmdir removes the empty collection name under parent. The record is
// erased before the index entry so a storage failure leaves the tree as is.
func (b *Bridge) Rmdir(parent Handle, name string) (err error) {
	defer b.finish("rmdir", time.Now(), &err)
	defer recoverBridgePanic("Rmdir", &err)
	log.Debugf("[VFS] Rmdir: parent=%d name=%q", parent, name)

	p, err := b.dirFor(parent)
	if err != nil {
		return err
	}
	return b.rmdirIn(p.ID, name)
}

func (b *Bridge) rmdirIn(pid, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err := b.childOf(pid, name)
	if err != nil {
		return err
	}
	if err := b.policy.CheckRmdir(b.index, n); err != nil {
		return err
	}
	if err := b.store.Delete(b.ctx, n.ID); err != nil {
		return err
	}
	if err := b.index.Remove(n.ID); err != nil {
		return err
	}
	b.handles.Drop(n.ID)
	b.invalidate(n.ID, pid)
	b.reportItems()
	return nil
}

// Unlink moves the document name under parent to trash. Unlinking a
// document that is already in trash succeeds without changing anything.
func (b *Bridge) Unlink(parent Handle, name string) (err error) {
	defer b.finish("unlink", time.Now(), &err)
	defer recoverBridgePanic("Unlink", &err)
	log.Debugf("[VFS] Unlink: parent=%d name=%q", parent, name)

	p, err := b.dirFor(parent)
	if err != nil {
		return err
	}
	return b.unlinkIn(p.ID, name)
}

func (b *Bridge) unlinkIn(pid, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err := b.childOf(pid, name)
	if err != nil {
		return err
	}
	if n.IsDir() {
		return fmt.Errorf("unlink %q: %w", name, common.ErrIsDir)
	}
	if isTrashed(n) {
		return nil
	}
	return b.moveLocked(n, storage.TrashID, n.VisibleName)
}

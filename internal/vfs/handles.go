package vfs

import (
	"fmt"
	"sync"

	"rmxfs/internal/common"
	"rmxfs/internal/storage"
)

// inodeEntry maps one kernel handle to an item id.
type inodeEntry struct {
	id        string
	lookups   uint64 // kernel lookup references
	opens     int    // open data handles
	permanent bool
}

// HandleTable is the capability table between kernel handles and item ids.
// An id keeps the same handle for as long as it has an entry; the entry is
// reclaimed once the kernel forgets every lookup and no open data handle
// pins it.
type HandleTable struct {
	mu       sync.Mutex
	byHandle map[Handle]*inodeEntry
	byID     map[string]Handle
	next     Handle
}

// NewHandleTable creates a table holding the permanent root and trash
// entries.
func NewHandleTable() *HandleTable {
	ht := &HandleTable{
		byHandle: make(map[Handle]*inodeEntry),
		byID:     make(map[string]Handle),
		next:     TrashHandle + 1,
	}
	ht.byHandle[RootHandle] = &inodeEntry{id: storage.RootID, permanent: true}
	ht.byHandle[TrashHandle] = &inodeEntry{id: storage.TrashID, permanent: true}
	ht.byID[storage.RootID] = RootHandle
	ht.byID[storage.TrashID] = TrashHandle
	return ht
}

// HandleFor returns the handle of id, allocating one on first use.
// Handles are never reused.
func (ht *HandleTable) HandleFor(id string) Handle {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return ht.handleForLocked(id)
}

func (ht *HandleTable) handleForLocked(id string) Handle {
	if h, ok := ht.byID[id]; ok {
		return h
	}
	h := ht.next
	ht.next++
	ht.byHandle[h] = &inodeEntry{id: id}
	ht.byID[id] = h
	return h
}

// Acquire returns the handle of id and adds one lookup reference.
func (ht *HandleTable) Acquire(id string) Handle {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	h := ht.handleForLocked(id)
	ht.byHandle[h].lookups++
	return h
}

// Peek returns the handle of id without allocating.
func (ht *HandleTable) Peek(id string) (Handle, bool) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	h, ok := ht.byID[id]
	return h, ok
}

// IDFor returns the id behind h, or common.ErrStale once it was reclaimed.
func (ht *HandleTable) IDFor(h Handle) (string, error) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	e, ok := ht.byHandle[h]
	if !ok {
		return "", fmt.Errorf("handle %d: %w", h, common.ErrStale)
	}
	return e.id, nil
}

// Forget drops n lookup references and reports whether the entry was
// reclaimed.
func (ht *HandleTable) Forget(h Handle, n uint64) bool {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	e, ok := ht.byHandle[h]
	if !ok {
		return false
	}
	if n > e.lookups {
		n = e.lookups
	}
	e.lookups -= n
	return ht.maybeReclaimLocked(h, e)
}

// Pin records an open data handle on h.
func (ht *HandleTable) Pin(h Handle) error {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	e, ok := ht.byHandle[h]
	if !ok {
		return fmt.Errorf("handle %d: %w", h, common.ErrStale)
	}
	e.opens++
	return nil
}

// Unpin releases an open data handle on h.
func (ht *HandleTable) Unpin(h Handle) bool {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	e, ok := ht.byHandle[h]
	if !ok {
		return false
	}
	if e.opens > 0 {
		e.opens--
	}
	return ht.maybeReclaimLocked(h, e)
}

func (ht *HandleTable) maybeReclaimLocked(h Handle, e *inodeEntry) bool {
	if e.permanent || e.lookups > 0 || e.opens > 0 {
		return false
	}
	delete(ht.byHandle, h)
	if ht.byID[e.id] == h {
		delete(ht.byID, e.id)
	}
	return true
}

// Drop reclaims the entry of an erased id unless the kernel or an open data
// handle still references it. Path lookups allocate entries without taking
// references, so erasure is where those go away.
func (ht *HandleTable) Drop(id string) bool {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	h, ok := ht.byID[id]
	if !ok {
		return false
	}
	return ht.maybeReclaimLocked(h, ht.byHandle[h])
}

// IsOpen reports whether an open data handle pins id.
func (ht *HandleTable) IsOpen(id string) bool {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	h, ok := ht.byID[id]
	return ok && ht.byHandle[h].opens > 0
}

// Len returns the number of live entries including root and trash.
func (ht *HandleTable) Len() int {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return len(ht.byHandle)
}

// openFile represents an open document.
type openFile struct {
	handle   Handle
	id       string
	docType  storage.DocType
	blob     *storage.Blob
	writable bool
	dirty    bool // written since the last flush
}

// OpenFiles manages open data handles.
type OpenFiles struct {
	mu    sync.RWMutex
	files map[FileHandleID]*openFile
	next  FileHandleID
}

// NewOpenFiles creates an empty open file table.
func NewOpenFiles() *OpenFiles {
	return &OpenFiles{
		files: make(map[FileHandleID]*openFile),
		next:  1,
	}
}

// Allocate registers an open file and returns its id.
func (of *OpenFiles) Allocate(f *openFile) FileHandleID {
	of.mu.Lock()
	defer of.mu.Unlock()
	fh := of.next
	of.next++
	of.files[fh] = f
	return fh
}

// Get retrieves an open file.
func (of *OpenFiles) Get(fh FileHandleID) (*openFile, bool) {
	of.mu.RLock()
	defer of.mu.RUnlock()
	f, ok := of.files[fh]
	return f, ok
}

// MarkDirty flags fh as written and returns the previous state.
func (of *OpenFiles) MarkDirty(fh FileHandleID) bool {
	of.mu.Lock()
	defer of.mu.Unlock()
	f, ok := of.files[fh]
	if !ok {
		return false
	}
	was := f.dirty
	f.dirty = true
	return was
}

// TakeDirty clears the written flag of fh and reports whether it was set.
func (of *OpenFiles) TakeDirty(fh FileHandleID) bool {
	of.mu.Lock()
	defer of.mu.Unlock()
	f, ok := of.files[fh]
	if !ok {
		return false
	}
	was := f.dirty
	f.dirty = false
	return was
}

// Release removes fh from the table and returns it.
func (of *OpenFiles) Release(fh FileHandleID) (*openFile, bool) {
	of.mu.Lock()
	defer of.mu.Unlock()
	f, ok := of.files[fh]
	if ok {
		delete(of.files, fh)
	}
	return f, ok
}

// Len returns the number of open files.
func (of *OpenFiles) Len() int {
	of.mu.RLock()
	defer of.mu.RUnlock()
	return len(of.files)
}

// Drain removes every open file, returning them for cleanup.
func (of *OpenFiles) Drain() []*openFile {
	of.mu.Lock()
	defer of.mu.Unlock()
	out := make([]*openFile, 0, len(of.files))
	for fh, f := range of.files {
		out = append(out, f)
		delete(of.files, fh)
	}
	return out
}

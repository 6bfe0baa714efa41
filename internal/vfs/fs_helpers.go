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

package vfs

import (
	"errors"
	"runtime/debug"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"rmxfs/internal/common"
	"rmxfs/internal/graph"
	"rmxfs/internal/storage"
)

// =============================================================================
// Panic Recovery
// =============================================================================

// recoverBridgePanic recovers from panics in Bridge operations.
// A panic inside one request must not take down the mount.
func recoverBridgePanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[VFS] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = EIO
		}
	}
}

// finish resolves the error of a public operation into an errno, logs it and
// records the metrics sample. Deferred before recoverBridgePanic so it also
// sees recovered panics.
func (b *Bridge) finish(op string, start time.Time, err *error) {
	var errno syscall.Errno
	if *err != nil {
		errno = ToErrno(*err)
		log.Debugf("[VFS] %s: %v (%v)", op, *err, errno)
		*err = errno
	}
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("[VFS] %s → %v (%v)", op, errno, time.Since(start))
	}
	if b.metrics != nil {
		b.metrics.RecordOp(op, time.Since(start), errno)
	}
}

// =============================================================================
// Attribute Helpers
// =============================================================================

// attrOf builds the attributes of n. Documents take their size from the
// blob; collections report size zero.
func (b *Bridge) attrOf(n graph.Node) (Attr, error) {
	if a, ok := b.getCachedAttr(n.ID); ok && a.Name == n.Name {
		return a, nil
	}
	a := Attr{
		ID:    n.ID,
		Name:  n.Name,
		Mtime: n.Modified,
	}
	if a.Mtime.IsZero() {
		a.Mtime = b.started
	}
	if n.IsDir() {
		a.Type = FileTypeDirectory
		a.Mode = dirMode
		a.Nlink = 2
	} else {
		size, err := b.blobs.Size(n.ID, n.DocType)
		if err != nil {
			return Attr{}, err
		}
		a.Type = FileTypeRegularFile
		a.Mode = fileMode
		a.Nlink = 1
		a.Size = uint64(size)
	}
	b.cacheAttr(n.ID, a)
	return a, nil
}

// getCachedAttr returns cached attributes for an id.
func (b *Bridge) getCachedAttr(id string) (Attr, bool) {
	if b.attrCache == nil {
		return Attr{}, false
	}
	return b.attrCache.Get(id)
}

// cacheAttr stores attributes in the cache. Handles are not cached since an
// id may be reissued a new handle after reclaim.
func (b *Bridge) cacheAttr(id string, a Attr) {
	if b.attrCache != nil {
		a.Handle = 0
		b.attrCache.Set(id, a)
	}
}

// invalidate drops cached attributes of every id a mutation touched.
func (b *Bridge) invalidate(ids ...string) {
	if b.attrCache != nil {
		b.attrCache.InvalidateIDs(ids...)
	}
}

// now returns the wall clock used for lastModified stamps.
func (b *Bridge) now() time.Time {
	if b.clock != nil {
		return b.clock()
	}
	return time.Now()
}

// stamp rewrites the record of id with a fresh lastModified. The record is
// reread so fields owned by other tools survive. Caller holds b.mu.
func (b *Bridge) stamp(id string) error {
	rec, err := b.store.Get(id)
	if err != nil {
		return err
	}
	rec.Touch(b.now())
	if err := b.store.Put(b.ctx, rec); err != nil {
		return err
	}
	b.index.SetModified(id, rec.LastModified)
	b.invalidate(id)
	return nil
}

func (b *Bridge) reportOpenFiles() {
	if b.metrics != nil {
		b.metrics.SetOpenFiles(b.files.Len())
	}
}

func (b *Bridge) reportItems() {
	if b.metrics != nil {
		b.metrics.SetItems(b.index.Len())
	}
}

func isTrashed(n graph.Node) bool { return n.Parent == storage.TrashID }

func isNotFound(err error) bool { return errors.Is(err, common.ErrNotFound) }

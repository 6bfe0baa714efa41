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

// Package fusefs exposes a vfs.Bridge to the kernel through go-fuse.
//
// Every node carries the bridge handle as its inode number. go-fuse keeps
// its own lookup counts per inode; the adapter only remembers how many
// bridge references each handle holds and returns them when go-fuse
// forgets the inode.
package fusefs

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"rmxfs/internal/vfs"
)

// Default kernel cache timeouts.
const (
	DefaultEntryTimeout    = time.Second
	DefaultAttrTimeout     = time.Second
	DefaultNegativeTimeout = 100 * time.Millisecond
)

// Options configures a mount.
type Options struct {
	// Mountpoint is the directory to mount on. It is created if missing.
	Mountpoint string

	// Bridge serves every request.
	Bridge *vfs.Bridge

	// EntryTimeout and AttrTimeout bound kernel caching. Zero uses the
	// defaults.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug logs every FUSE request.
	Debug bool
}

// FS is the state shared by every node of one mount.
type FS struct {
	bridge       *vfs.Bridge
	entryTimeout time.Duration
	attrTimeout  time.Duration
	uid, gid     uint32

	mu   sync.Mutex
	refs map[vfs.Handle]uint64 // bridge lookup references held per handle
}

func newFS(opts Options) *FS {
	fsys := &FS{
		bridge:       opts.Bridge,
		entryTimeout: opts.EntryTimeout,
		attrTimeout:  opts.AttrTimeout,
		uid:          uint32(os.Getuid()),
		gid:          uint32(os.Getgid()),
		refs:         make(map[vfs.Handle]uint64),
	}
	if fsys.entryTimeout == 0 {
		fsys.entryTimeout = DefaultEntryTimeout
	}
	if fsys.attrTimeout == 0 {
		fsys.attrTimeout = DefaultAttrTimeout
	}
	return fsys
}

// Root returns the root node of the tree.
func (fsys *FS) Root() gofuse.InodeEmbedder {
	return &node{fsys: fsys, handle: vfs.RootHandle}
}

// ref records one bridge lookup reference taken for h.
func (fsys *FS) ref(h vfs.Handle) {
	fsys.mu.Lock()
	fsys.refs[h]++
	fsys.mu.Unlock()
}

// forget returns every reference held for h to the bridge.
func (fsys *FS) forget(h vfs.Handle) {
	fsys.mu.Lock()
	n := fsys.refs[h]
	delete(fsys.refs, h)
	fsys.mu.Unlock()
	if n > 0 {
		fsys.bridge.Forget(h, n)
	}
}

// Mount mounts the bridge at opts.Mountpoint. The caller must call Unmount
// on the returned server when done.
func Mount(opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if opts.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	fsys := newFS(opts)
	negativeTimeout := DefaultNegativeTimeout
	server, err := gofuse.Mount(opts.Mountpoint, fsys.Root(), &gofuse.Options{
		EntryTimeout:    &fsys.entryTimeout,
		AttrTimeout:     &fsys.attrTimeout,
		NegativeTimeout: &negativeTimeout,
		UID:             fsys.uid,
		GID:             fsys.gid,
		MountOptions: fuse.MountOptions{
			FsName:     "rmxfs",
			Name:       "rmxfs",
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", opts.Mountpoint, err)
	}
	log.Infof("[FUSE] mounted at %s", opts.Mountpoint)
	return server, nil
}

// toErrno converts a bridge error. Bridge operations already return an
// errno; anything else is mapped through the shared taxonomy.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return gofuse.OK
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return vfs.ToErrno(err)
}

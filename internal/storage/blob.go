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

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"rmxfs/internal/common"
)

// BlobStore gives byte-addressable access to document content blobs stored
// as <id>.<type> next to the metadata records.
type BlobStore struct {
	root string
}

// NewBlobStore returns a blob accessor for the store rooted at dir.
func NewBlobStore(dir string) *BlobStore {
	return &BlobStore{root: dir}
}

// Path returns the on-disk location of a document blob.
func (b *BlobStore) Path(id string, t DocType) string {
	return filepath.Join(b.root, id+"."+string(t))
}

// Blob is an open content blob.
type Blob struct {
	f *os.File
}

// Create makes a new empty blob. It fails with common.ErrExists if one is
// already present.
func (b *BlobStore) Create(id string, t DocType) (*Blob, error) {
	f, err := os.OpenFile(b.Path(id, t), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("blob %s.%s: %w", id, t, common.ErrExists)
		}
		return nil, fmt.Errorf("create blob %s.%s: %w: %w", id, t, common.ErrStorage, err)
	}
	return &Blob{f: f}, nil
}

// Open opens an existing blob for reading, or reading and writing.
func (b *BlobStore) Open(id string, t DocType, writable bool) (*Blob, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(b.Path(id, t), flag, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s.%s: %w", id, t, common.ErrNotFound)
		}
		return nil, fmt.Errorf("open blob %s.%s: %w: %w", id, t, common.ErrStorage, err)
	}
	return &Blob{f: f}, nil
}

// Size returns the blob length. A missing blob has size zero.
func (b *BlobStore) Size(id string, t DocType) (int64, error) {
	info, err := os.Stat(b.Path(id, t))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat blob %s.%s: %w: %w", id, t, common.ErrStorage, err)
	}
	return info.Size(), nil
}

// Truncate resizes a blob without opening a handle.
func (b *BlobStore) Truncate(id string, t DocType, size int64) error {
	if err := os.Truncate(b.Path(id, t), size); err != nil {
		return fmt.Errorf("truncate blob %s.%s: %w: %w", id, t, common.ErrStorage, err)
	}
	return nil
}

// Remove deletes a blob; a missing blob is not an error.
func (b *BlobStore) Remove(id string, t DocType) error {
	if err := os.Remove(b.Path(id, t)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob %s.%s: %w: %w", id, t, common.ErrStorage, err)
	}
	return nil
}

// ReadAt reads from the blob. Short reads at end of file return io.EOF.
func (bl *Blob) ReadAt(p []byte, off int64) (int, error) {
	return bl.f.ReadAt(p, off)
}

// WriteAt writes to the blob, extending it as needed.
func (bl *Blob) WriteAt(p []byte, off int64) (int, error) {
	n, err := bl.f.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("write blob: %w: %w", common.ErrStorage, err)
	}
	return n, nil
}

// Truncate resizes the open blob.
func (bl *Blob) Truncate(size int64) error {
	if err := bl.f.Truncate(size); err != nil {
		return fmt.Errorf("truncate blob: %w: %w", common.ErrStorage, err)
	}
	return nil
}

// Size returns the current length of the open blob.
func (bl *Blob) Size() (int64, error) {
	info, err := bl.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat blob: %w: %w", common.ErrStorage, err)
	}
	return info.Size(), nil
}

// Sync flushes written data to stable storage.
func (bl *Blob) Sync() error {
	if err := bl.f.Sync(); err != nil {
		return fmt.Errorf("sync blob: %w: %w", common.ErrStorage, err)
	}
	return nil
}

// Close releases the underlying file.
func (bl *Blob) Close() error {
	return bl.f.Close()
}

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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"rmxfs/internal/common"
	"rmxfs/internal/util"
)

const (
	metadataExt = ".metadata"
	contentExt  = ".content"
)

// Sidecar files and directories the device keeps next to a record. They are
// removed together with the record on permanent deletion.
var (
	sidecarFiles = []string{contentExt, ".pagedata", ".local"}
	sidecarDirs  = []string{"", ".thumbnails", ".highlights", ".textconversion", ".cache"}
)

// Store reads and writes metadata records in a flat xochitl directory.
// It holds no in-memory state besides the configured type whitelist and is
// safe for concurrent use; callers serialise mutations of the same id.
type Store struct {
	root  string
	types []DocType
}

// NewStore opens the flat store rooted at dir. types is the document type
// whitelist used to probe blobs when a record has no .content sidecar.
func NewStore(dir string, types []DocType) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open store %s: %w", abs, common.ErrNotDir)
	}
	if len(types) == 0 {
		types = DefaultDocTypes
	}
	return &Store{root: abs, types: types}, nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string { return s.root }

// DocTypes returns the configured document type whitelist.
func (s *Store) DocTypes() []DocType { return s.types }

func (s *Store) path(id, ext string) string {
	return filepath.Join(s.root, id+ext)
}

// Get loads one record. A missing .metadata file yields common.ErrNotFound.
func (s *Store) Get(id string) (*Record, error) {
	data, err := os.ReadFile(s.path(id, metadataExt))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("read record %s: %w: %w", id, common.ErrStorage, err)
	}
	return s.decode(id, data)
}

func (s *Store) decode(id string, data []byte) (*Record, error) {
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w: %w", id, common.ErrStorage, err)
	}
	rec.ID = id
	if rec.Kind == KindDocument {
		t, err := s.resolveDocType(id)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		rec.DocType = t
	}
	return rec, nil
}

// resolveDocType reads fileType from the .content sidecar and falls back to
// probing blobs in whitelist order.
func (s *Store) resolveDocType(id string) (DocType, error) {
	if data, err := os.ReadFile(s.path(id, contentExt)); err == nil {
		var content struct {
			FileType string `json:"fileType"`
		}
		if json.Unmarshal(data, &content) == nil && content.FileType != "" {
			t := DocType(strings.ToLower(content.FileType))
			if s.Supported(t) {
				return t, nil
			}
			return "", fmt.Errorf("file type %q: %w", content.FileType, common.ErrUnsupported)
		}
	}
	for _, t := range s.types {
		if _, err := os.Stat(s.path(id, "."+string(t))); err == nil {
			return t, nil
		}
	}
	return "", fmt.Errorf("no content blob: %w", common.ErrUnsupported)
}

// Supported reports whether t is in the whitelist.
func (s *Store) Supported(t DocType) bool {
	for _, st := range s.types {
		if st == t {
			return true
		}
	}
	return false
}

// Put atomically replaces the record file: the encoded record is written to
// a temporary file in the store directory, fsynced, renamed over
// <id>.metadata and the directory is fsynced.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w: %w", rec.ID, common.ErrStorage, err)
	}
	err = util.Retry(ctx, func() error {
		return s.writeAtomic(rec.ID+metadataExt, data)
	}, util.StorageRetryOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("put record %s: %w: %w", rec.ID, common.ErrStorage, err)
	}
	log.Debugf("[Store] put %s parent=%q name=%q", rec.ID, rec.Parent, rec.VisibleName)
	return nil
}

// PutContent writes the .content sidecar declaring the document type.
func (s *Store) PutContent(ctx context.Context, id string, t DocType) error {
	data, err := json.Marshal(map[string]string{"fileType": string(t)})
	if err != nil {
		return err
	}
	err = util.Retry(ctx, func() error {
		return s.writeAtomic(id+contentExt, data)
	}, util.StorageRetryOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("put content %s: %w: %w", id, common.ErrStorage, err)
	}
	return nil
}

func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.root, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(s.root, name)); err != nil {
		return err
	}
	committed = true
	return syncDir(s.root)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// RecordError reports one record ListAll could not load. The scan itself
// continues past it.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string { return e.Err.Error() }

func (e *RecordError) Unwrap() error { return e.Err }

// ListAll lazily yields every record in the store. Records that fail to
// decode are yielded as errors and iteration continues.
func (s *Store) ListAll(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		dir, err := os.Open(s.root)
		if err != nil {
			yield(nil, fmt.Errorf("list store: %w: %w", common.ErrStorage, err))
			return
		}
		defer dir.Close()

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			entries, err := dir.ReadDir(256)
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, metadataExt) {
					continue
				}
				id := strings.TrimSuffix(name, metadataExt)
				rec, rerr := s.Get(id)
				if rerr != nil {
					rerr = &RecordError{ID: id, Err: rerr}
				}
				if !yield(rec, rerr) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("list store: %w: %w", common.ErrStorage, err))
				return
			}
		}
	}
}

// Delete permanently removes a record. The .metadata file goes first so the
// item disappears atomically; blobs and sidecars are then removed best effort.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := util.Retry(ctx, func() error {
		err := os.Remove(s.path(id, metadataExt))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}, util.StorageRetryOptions(ctx)...)
	if err != nil {
		return fmt.Errorf("delete record %s: %w: %w", id, common.ErrStorage, err)
	}

	for _, t := range s.types {
		s.removeSidecar(s.path(id, "."+string(t)))
	}
	for _, ext := range sidecarFiles {
		s.removeSidecar(s.path(id, ext))
	}
	for _, ext := range sidecarDirs {
		s.removeSidecar(s.path(id, ext))
	}
	log.Debugf("[Store] deleted %s", id)
	return nil
}

func (s *Store) removeSidecar(p string) {
	if err := os.RemoveAll(p); err != nil {
		log.Warnf("[Store] leaving %s behind: %v", p, err)
	}
}

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

// Package graph keeps the in-memory parent-pointer graph of a flat store and
// projects it into a tree of uniquely named entries.
package graph

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rmxfs/internal/common"
	"rmxfs/internal/storage"
)

// TrashName is the entry name of the trash collection at the projected root.
const TrashName = "trash"

// Node is one item as seen by the index.
type Node struct {
	ID          string
	Parent      string
	VisibleName string
	Kind        storage.Kind
	DocType     storage.DocType
	Modified    time.Time

	// Name is the projected entry name under Parent. It differs from
	// BaseName only when a collision had to be disambiguated.
	Name string
}

// BaseName is the entry name before disambiguation.
func (n Node) BaseName() string {
	if n.Kind == storage.KindDocument && n.DocType != "" {
		return n.VisibleName + "." + string(n.DocType)
	}
	return n.VisibleName
}

// IsDir reports whether the node projects as a directory.
func (n Node) IsDir() bool { return n.Kind == storage.KindCollection }

// NodeFromRecord converts a store record.
func NodeFromRecord(r *storage.Record) Node {
	return Node{
		ID:          r.ID,
		Parent:      r.Parent,
		VisibleName: r.VisibleName,
		Kind:        r.Kind,
		DocType:     r.DocType,
		Modified:    r.LastModified,
	}
}

// Child is one directory entry.
type Child struct {
	Name string
	ID   string
	Kind storage.Kind
}

// Index is an arena of nodes keyed by id plus a (parent, name) lookup.
// All methods are safe for concurrent use; every mutation is applied under
// the write lock so readers never observe a half-applied move.
type Index struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	children map[string]map[string]string
}

// New returns an index holding only the root and trash collections.
func New() *Index {
	idx := &Index{
		nodes:    make(map[string]*Node),
		children: make(map[string]map[string]string),
	}
	idx.nodes[storage.RootID] = &Node{ID: storage.RootID, Kind: storage.KindCollection}
	idx.nodes[storage.TrashID] = &Node{
		ID: storage.TrashID, Parent: storage.RootID, VisibleName: TrashName,
		Kind: storage.KindCollection, Name: TrashName,
	}
	idx.children[storage.RootID] = map[string]string{TrashName: storage.TrashID}
	idx.children[storage.TrashID] = map[string]string{}
	return idx
}

// BuildStats summarises a bootstrap.
type BuildStats struct {
	Loaded  int
	Skipped int
	Orphans int
	Renamed int
}

// Build creates an index from a record sequence. Unreadable records are
// logged and skipped. Records whose parent is unknown, not a collection, or
// part of a parent cycle are projected under root; colliding names get an
// id suffix. Stored records are never modified.
func Build(records iter.Seq2[*storage.Record, error]) (*Index, BuildStats, error) {
	var stats BuildStats
	pending := make(map[string]*storage.Record)
	for rec, err := range records {
		if err != nil {
			var recErr *storage.RecordError
			if !errors.As(err, &recErr) {
				return nil, stats, err
			}
			log.Warnf("[Graph] skipping record: %v", err)
			stats.Skipped++
			continue
		}
		if rec.ID == storage.RootID || rec.ID == storage.TrashID {
			log.Warnf("[Graph] skipping record with reserved id %q", rec.ID)
			stats.Skipped++
			continue
		}
		pending[rec.ID] = rec
	}

	idx := New()
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	// deterministic collision suffixes across mounts
	slices.Sort(ids)

	visiting := make(map[string]bool)
	var place func(id string)
	place = func(id string) {
		if _, done := idx.nodes[id]; done {
			return
		}
		rec := pending[id]
		visiting[id] = true
		defer delete(visiting, id)

		parent := rec.Parent
		if parent != storage.RootID && parent != storage.TrashID {
			p, known := pending[parent]
			switch {
			case !known || p.Kind != storage.KindCollection:
				log.Warnf("[Graph] %s has unknown parent %q; showing it at root", id, parent)
				parent = storage.RootID
				stats.Orphans++
			case visiting[parent]:
				log.Errorf("[Graph] %s is part of a parent cycle; showing it at root", id)
				parent = storage.RootID
				stats.Orphans++
			default:
				place(parent)
			}
		}

		n := NodeFromRecord(rec)
		n.Parent = parent
		shown := n
		shown.VisibleName = projectableName(n.VisibleName)
		n.Name = idx.freeName(parent, &shown, true)
		if n.Name != n.BaseName() {
			log.Warnf("[Graph] %s collides on %q; showing it as %q", id, n.BaseName(), n.Name)
			stats.Renamed++
		}
		idx.link(&n)
		stats.Loaded++
	}
	for _, id := range ids {
		place(id)
	}
	return idx, stats, nil
}

// projectableName maps a stored visible name onto one that can be looked up
// as a single entry: "/" and NUL become "_", and names that would be empty,
// "." or ".." are replaced.
func projectableName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == 0 {
			return '_'
		}
		return r
	}, name)
	switch name {
	case "":
		return "untitled"
	case ".", "..":
		return strings.Repeat("_", len(name))
	}
	return name
}

// freeName returns the base name of n if that slot under parent is free.
// Otherwise, when disambiguate is set, it returns "stem (<id prefix>).ext";
// if not, "".
func (idx *Index) freeName(parent string, n *Node, disambiguate bool) string {
	name := n.BaseName()
	slot := idx.children[parent]
	if _, taken := slot[name]; !taken {
		return name
	}
	if !disambiguate {
		return ""
	}
	stem, ext := name, ""
	if n.Kind == storage.KindDocument {
		stem, ext = n.VisibleName, string(n.DocType)
	}
	id := n.ID
	for _, suffix := range []string{shortID(id), id} {
		cand := stem + " (" + suffix + ")"
		if ext != "" {
			cand += "." + ext
		}
		if _, taken := slot[cand]; !taken {
			return cand
		}
	}
	return name + " (" + id + ")"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (idx *Index) link(n *Node) {
	idx.nodes[n.ID] = n
	slot := idx.children[n.Parent]
	if slot == nil {
		slot = make(map[string]string)
		idx.children[n.Parent] = slot
	}
	slot[n.Name] = n.ID
	if n.Kind == storage.KindCollection && idx.children[n.ID] == nil {
		idx.children[n.ID] = make(map[string]string)
	}
}

func (idx *Index) unlink(n *Node) {
	if slot := idx.children[n.Parent]; slot != nil && slot[n.Name] == n.ID {
		delete(slot, n.Name)
	}
}

// Len returns the number of stored items (root and trash excluded).
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes) - 2
}

// Get returns a copy of the node with the given id.
func (idx *Index) Get(id string) (Node, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("node %q: %w", id, common.ErrNotFound)
	}
	return *n, nil
}

// ResolveChild returns the id of the entry called name under parent.
func (idx *Index) ResolveChild(parent, name string) (string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.nodes[parent]
	if !ok {
		return "", fmt.Errorf("parent %q: %w", parent, common.ErrNotFound)
	}
	if p.Kind != storage.KindCollection {
		return "", fmt.Errorf("parent %q: %w", parent, common.ErrNotDir)
	}
	id, ok := idx.children[parent][name]
	if !ok {
		return "", fmt.Errorf("%q in %q: %w", name, parent, common.ErrNotFound)
	}
	return id, nil
}

// ChildrenOf lists the entries under parent sorted by name. The trash entry
// at root is included.
func (idx *Index) ChildrenOf(parent string) ([]Child, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.nodes[parent]
	if !ok {
		return nil, fmt.Errorf("parent %q: %w", parent, common.ErrNotFound)
	}
	if p.Kind != storage.KindCollection {
		return nil, fmt.Errorf("parent %q: %w", parent, common.ErrNotDir)
	}
	slot := idx.children[parent]
	out := make([]Child, 0, len(slot))
	for name, id := range slot {
		out = append(out, Child{Name: name, ID: id, Kind: idx.nodes[id].Kind})
	}
	slices.SortFunc(out, func(a, b Child) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// IsEmpty reports whether a collection has no entries. Root always has the
// trash entry and is never empty.
func (idx *Index) IsEmpty(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.children[id]) == 0
}

// Insert adds a new node under n.Parent. Documents in trash never collide;
// anywhere else an occupied name yields common.ErrNameCollision.
func (idx *Index) Insert(n Node) (Node, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if n.ID == "" || idx.nodes[n.ID] != nil {
		return Node{}, fmt.Errorf("insert %q: %w", n.ID, common.ErrExists)
	}
	if err := idx.checkParent(n.Parent); err != nil {
		return Node{}, fmt.Errorf("insert %q: %w", n.ID, err)
	}
	n.Name = idx.freeName(n.Parent, &n, n.Parent == storage.TrashID)
	if n.Name == "" {
		return Node{}, fmt.Errorf("insert %q as %q: %w", n.ID, n.BaseName(), common.ErrNameCollision)
	}
	idx.link(&n)
	return n, nil
}

func (idx *Index) checkParent(parent string) error {
	p, ok := idx.nodes[parent]
	if !ok {
		return fmt.Errorf("parent %q: %w", parent, common.ErrNotFound)
	}
	if p.Kind != storage.KindCollection {
		return fmt.Errorf("parent %q: %w", parent, common.ErrNotDir)
	}
	return nil
}

// UpdateParent moves and renames a node in one step. It returns the updated
// node. A move onto the node's current slot is a no-op.
func (idx *Index) UpdateParent(id, newParent, newVisibleName string) (Node, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.nodes[id]
	if !ok || id == storage.RootID || id == storage.TrashID {
		return Node{}, fmt.Errorf("move %q: %w", id, common.ErrNotFound)
	}
	if err := idx.checkParent(newParent); err != nil {
		return Node{}, fmt.Errorf("move %q: %w", id, err)
	}
	if newParent == id || idx.isDescendantLocked(newParent, id) {
		return Node{}, fmt.Errorf("move %q under %q: %w", id, newParent, common.ErrCycle)
	}

	moved := *n
	moved.Parent = newParent
	moved.VisibleName = newVisibleName
	if newParent == n.Parent && moved.BaseName() == n.BaseName() {
		return *n, nil
	}

	idx.unlink(n)
	moved.Name = idx.freeName(newParent, &moved, newParent == storage.TrashID)
	if moved.Name == "" {
		idx.link(n)
		return Node{}, fmt.Errorf("move %q to %q: %w", id, moved.BaseName(), common.ErrNameCollision)
	}
	*n = moved
	idx.link(n)
	return moved, nil
}

// SetModified records the last modification time of id.
func (idx *Index) SetModified(id string, t time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if n, ok := idx.nodes[id]; ok {
		n.Modified = t
	}
}

// Remove drops a node. Collections must be empty.
func (idx *Index) Remove(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.nodes[id]
	if !ok || id == storage.RootID || id == storage.TrashID {
		return fmt.Errorf("remove %q: %w", id, common.ErrNotFound)
	}
	if len(idx.children[id]) > 0 {
		return fmt.Errorf("remove %q: %w", id, common.ErrNotEmpty)
	}
	idx.unlink(n)
	delete(idx.nodes, id)
	delete(idx.children, id)
	return nil
}

// IsDescendant reports whether id lies strictly below ancestor.
func (idx *Index) IsDescendant(id, ancestor string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.isDescendantLocked(id, ancestor)
}

// isDescendantLocked walks parent pointers from id; O(depth).
func (idx *Index) isDescendantLocked(id, ancestor string) bool {
	cur := idx.nodes[id]
	for cur != nil && cur.ID != storage.RootID {
		if cur.Parent == ancestor {
			return true
		}
		cur = idx.nodes[cur.Parent]
	}
	return false
}

// Path returns the projected path of id relative to the root.
func (idx *Index) Path(id string) (string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var parts []string
	for cur := idx.nodes[id]; cur == nil || cur.ID != storage.RootID; cur = idx.nodes[cur.Parent] {
		if cur == nil {
			return "", fmt.Errorf("path of %q: %w", id, common.ErrNotFound)
		}
		parts = append(parts, cur.Name)
	}
	slices.Reverse(parts)
	return strings.Join(parts, "/"), nil
}

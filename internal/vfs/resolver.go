package vfs

import (
	"fmt"

	"rmxfs/internal/common"
	"rmxfs/internal/graph"
	"rmxfs/internal/storage"
)

// ResolvePath walks a projected path from the root and returns the id it
// names.
func (b *Bridge) ResolvePath(p string) (string, error) {
	id := storage.RootID
	for _, seg := range common.SplitPath(p) {
		next, err := b.index.ResolveChild(id, seg)
		if err != nil {
			return "", err
		}
		id = next
	}
	return id, nil
}

// resolveParent resolves the directory part of p and returns its id with the
// final path segment.
func (b *Bridge) resolveParent(p string) (string, string, error) {
	p = common.NormalizePath(p)
	if p == "" {
		return "", "", fmt.Errorf("root has no parent: %w", common.ErrPermission)
	}
	pid, err := b.ResolvePath(common.ParentPath(p))
	if err != nil {
		return "", "", err
	}
	return pid, common.BaseName(p), nil
}

// idFor maps a kernel handle to its id.
func (b *Bridge) idFor(h Handle) (string, error) {
	return b.handles.IDFor(h)
}

// nodeFor maps a kernel handle to its node. A handle whose item was removed
// while the kernel still held it resolves to common.ErrNotFound.
func (b *Bridge) nodeFor(h Handle) (graph.Node, error) {
	id, err := b.idFor(h)
	if err != nil {
		return graph.Node{}, err
	}
	return b.index.Get(id)
}

// dirFor maps a handle to a collection node.
func (b *Bridge) dirFor(h Handle) (graph.Node, error) {
	n, err := b.nodeFor(h)
	if err != nil {
		return graph.Node{}, err
	}
	if !n.IsDir() {
		return graph.Node{}, fmt.Errorf("handle %d: %w", h, common.ErrNotDir)
	}
	return n, nil
}

// childOf resolves name under the collection pid.
func (b *Bridge) childOf(pid, name string) (graph.Node, error) {
	id, err := b.index.ResolveChild(pid, name)
	if err != nil {
		return graph.Node{}, err
	}
	return b.index.Get(id)
}

// withHandle fills in the kernel handle of a, allocating one if needed.
// The entry stays until the id is erased so path callers see a stable file
// id.
func (b *Bridge) withHandle(a Attr) Attr {
	a.Handle = b.handles.HandleFor(a.ID)
	return a
}

package vfs

import (
	"fmt"

	ignore "github.com/sabhiram/go-gitignore"

	"rmxfs/internal/common"
	"rmxfs/internal/graph"
	"rmxfs/internal/storage"
)

// DefaultReservedPatterns are collection names companion tools create next
// to documents.
var DefaultReservedPatterns = []string{"*.sdr"}

// Policy validates mutations before they reach the index.
type Policy struct {
	types    []storage.DocType
	reserved *ignore.GitIgnore
}

// NewPolicy builds a policy from the document type whitelist and gitignore
// style reserved collection name patterns.
func NewPolicy(types []storage.DocType, reservedPatterns []string) *Policy {
	if len(types) == 0 {
		types = storage.DefaultDocTypes
	}
	if reservedPatterns == nil {
		reservedPatterns = DefaultReservedPatterns
	}
	return &Policy{
		types:    types,
		reserved: ignore.CompileIgnoreLines(reservedPatterns...),
	}
}

// Supported reports whether t is in the whitelist.
func (p *Policy) Supported(t storage.DocType) bool {
	for _, st := range p.types {
		if st == t {
			return true
		}
	}
	return false
}

// CheckName rejects names that can never be a projected entry under parent.
func (p *Policy) CheckName(parent, name string) error {
	if !common.ValidName(name) {
		return fmt.Errorf("%q: %w", name, common.ErrInvalidName)
	}
	if parent == storage.RootID && name == graph.TrashName {
		return fmt.Errorf("%q: %w", name, common.ErrExists)
	}
	return nil
}

// DocumentName splits a document entry name into its visible name and type.
// The extension must be whitelisted and spelled exactly as the type, since
// the entry is always listed as "<visibleName>.<type>".
func (p *Policy) DocumentName(name string) (string, storage.DocType, error) {
	stem, ext := common.SplitExt(name)
	t := storage.DocType(ext)
	if ext == "" || !p.Supported(t) {
		return "", "", fmt.Errorf("document type of %q: %w", name, common.ErrUnsupported)
	}
	return stem, t, nil
}

// CollectionName validates a collection entry name against the reserved
// patterns.
func (p *Policy) CollectionName(name string) (string, error) {
	if p.reserved.MatchesPath(name) {
		return "", fmt.Errorf("collection name %q is reserved: %w", name, common.ErrUnsupported)
	}
	return name, nil
}

// CheckCreate validates a new item under parent.
func (p *Policy) CheckCreate(parent string, name string) error {
	if err := p.CheckName(parent, name); err != nil {
		return err
	}
	if parent == storage.TrashID {
		return fmt.Errorf("create in trash: %w", common.ErrUnsupported)
	}
	return nil
}

// CheckRemove guards removal of the permanent collections.
func (p *Policy) CheckRemove(id string) error {
	if id == storage.RootID || id == storage.TrashID {
		return fmt.Errorf("remove %q: %w", id, common.ErrPermission)
	}
	return nil
}

// CheckRmdir enforces the non-empty rule.
func (p *Policy) CheckRmdir(idx *graph.Index, n graph.Node) error {
	if err := p.CheckRemove(n.ID); err != nil {
		return err
	}
	if !n.IsDir() {
		return fmt.Errorf("rmdir %q: %w", n.Name, common.ErrNotDir)
	}
	if !idx.IsEmpty(n.ID) {
		return fmt.Errorf("rmdir %q: %w", n.Name, common.ErrNotEmpty)
	}
	return nil
}

// RenameTarget validates moving n to newName under newParent and returns
// the visible name to store.
func (p *Policy) RenameTarget(n graph.Node, newParent, newName string) (string, error) {
	if err := p.CheckRemove(n.ID); err != nil {
		return "", err
	}
	if err := p.CheckName(newParent, newName); err != nil {
		return "", err
	}
	if !n.IsDir() {
		stem, t, err := p.DocumentName(newName)
		if err != nil {
			return "", err
		}
		if t != n.DocType {
			return "", fmt.Errorf("rename %q to %q changes its type: %w", n.Name, newName, common.ErrUnsupported)
		}
		return stem, nil
	}
	if newParent == storage.TrashID {
		return "", fmt.Errorf("move collection %q to trash: %w", n.Name, common.ErrUnsupported)
	}
	return p.CollectionName(newName)
}

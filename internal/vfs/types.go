package vfs

import "time"

// Handle is the stable numeric node reference handed to the kernel.
type Handle uint64

// Permanent handles.
const (
	RootHandle  Handle = 1
	TrashHandle Handle = 2
)

// FileHandleID identifies one open data handle.
type FileHandleID uint64

// FileType represents the type of a filesystem entry
type FileType int

const (
	// FileTypeRegularFile is a regular file
	FileTypeRegularFile FileType = iota
	// FileTypeDirectory is a directory
	FileTypeDirectory
)

// Projected permission bits.
const (
	fileMode = 0o644
	dirMode  = 0o755
)

// Attr carries the attributes of one projected node.
type Attr struct {
	Handle Handle
	ID     string
	Name   string
	Type   FileType
	Size   uint64
	Mode   uint32 // permission bits only
	Nlink  uint32
	Mtime  time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool { return a.Type == FileTypeDirectory }

// DirEntry is one directory listing entry. Handle is zero when the entry
// has not been looked up yet.
type DirEntry struct {
	Name   string
	Handle Handle
	Type   FileType
}

// StatFS holds synthetic filesystem totals.
type StatFS struct {
	Blocks  uint64
	Bfree   uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	NameLen uint32
}

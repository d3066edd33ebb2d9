// Package diff implements the merge-walk comparison between two
// path-sorted entry iterators (tree, index, or working-directory
// sourced), producing a flat list of deltas the way spec's diff
// engine does, without any rename detection.
package diff

import (
	"time"

	"github.com/distr1/dvcs/oid"
)

// Source identifies which side of a comparison an Entry came from.
type Source int

const (
	SourceTree Source = iota
	SourceIndex
	SourceWorkdir
)

const (
	modeTypeMask = 0170000
	modeDir      = 0040000
)

// StatInfo is the subset of filesystem metadata maybe_modified
// consults before falling back to hashing file contents, matching
// spec's "compare stat-info (size, mtime, ctime, dev/ino, uid/gid)
// first" racily-clean optimization.
type StatInfo struct {
	Size    int64
	ModTime time.Time
	CTime   time.Time
	Dev     uint64
	Ino     uint64
	UID     uint32
	GID     uint32
}

// Equal reports whether two StatInfo values agree closely enough to
// skip hashing file contents.
func (s StatInfo) Equal(o StatInfo) bool {
	return s.Size == o.Size && s.ModTime.Equal(o.ModTime) && s.CTime.Equal(o.CTime) &&
		s.Dev == o.Dev && s.Ino == o.Ino && s.UID == o.UID && s.GID == o.GID
}

// Entry is one path-sorted record produced by a tree, index, or
// working-directory iterator.
type Entry struct {
	Path   string
	Mode   uint32
	OID    oid.ID
	Size   int64
	Source Source

	// Untracked and Ignored are only meaningful for SourceWorkdir
	// entries; a tree or index entry is never untracked or ignored.
	Untracked bool
	Ignored   bool

	Stat *StatInfo
}

// IsDir reports whether Mode names a tree/directory entry.
func (e Entry) IsDir() bool { return e.Mode&modeTypeMask == modeDir }

func typeBits(mode uint32) uint32 { return mode & modeTypeMask }

// Iterator yields path-sorted Entry values. Implementations are
// responsible for any directory expansion their source requires (a
// workdir iterator descends into directories itself; the diff engine
// never walks the filesystem directly).
type Iterator interface {
	// Next returns the next entry in path order, or ok=false at
	// exhaustion.
	Next() (Entry, bool, error)
}

// SliceIterator adapts a pre-sorted slice of Entry to Iterator, the
// form tree and index sources naturally already have in memory.
type SliceIterator struct {
	entries []Entry
	pos     int
}

// NewSliceIterator wraps entries, which must already be sorted by
// Path; callers building tree/index entries programmatically should
// sort them (see object's tree entry ordering) before wrapping.
func NewSliceIterator(entries []Entry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

func (it *SliceIterator) Next() (Entry, bool, error) {
	if it.pos >= len(it.entries) {
		return Entry{}, false, nil
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true, nil
}

package diff

import (
	"strings"

	"github.com/distr1/dvcs/internal/gerr"
)

// Status classifies one delta.
type Status int

const (
	StatusUnmodified Status = iota
	StatusAdded
	StatusDeleted
	StatusModified
	StatusTypeChange
	StatusUntracked
	StatusIgnored
)

func (s Status) String() string {
	switch s {
	case StatusUnmodified:
		return "unmodified"
	case StatusAdded:
		return "added"
	case StatusDeleted:
		return "deleted"
	case StatusModified:
		return "modified"
	case StatusTypeChange:
		return "typechange"
	case StatusUntracked:
		return "untracked"
	case StatusIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Delta is one emitted change. Old and/or New is nil for pure
// adds/deletes. When both are non-nil and their Path values coincide,
// callers may share the backing string (no separate arena is needed
// in Go, since strings are already immutable and cheaply shared).
type Delta struct {
	Status   Status
	Old, New *Entry
}

// Path returns whichever entry's path is present, preferring New.
func (d Delta) Path() string {
	if d.New != nil {
		return d.New.Path
	}
	if d.Old != nil {
		return d.Old.Path
	}
	return ""
}

// HashFunc hashes the current on-disk contents of a workdir entry,
// used only when maybe_modified's stat-based shortcut is inconclusive.
type HashFunc func(e Entry) (Entry, error)

// Options controls which deltas Diff emits and how paths are filtered.
type Options struct {
	// Pathspec restricts the comparison to paths with any of these
	// prefixes. An empty Pathspec matches everything.
	Pathspec []string

	Reverse bool

	IncludeUnmodified bool
	IncludeUntracked  bool
	IncludeIgnored    bool
	IgnoreSubmodules  bool

	// HashFile is consulted by maybe_modified when a workdir entry's
	// OID is unknown and its stat info doesn't settle the comparison.
	// May be nil if the workdir iterator always supplies an OID.
	HashFile HashFunc
}

// Diff merge-walks old and new, both assumed to yield entries in
// ascending path order, and returns the resulting deltas.
func Diff(old, new Iterator, opts Options) ([]Delta, error) {
	oldEntry, oldOK, err := old.Next()
	if err != nil {
		return nil, err
	}
	newEntry, newOK, err := new.Next()
	if err != nil {
		return nil, err
	}

	var out []Delta
	emit := func(d Delta) {
		if !matchesPathspec(d.Path(), opts.Pathspec) {
			return
		}
		out = append(out, d)
	}

	for oldOK || newOK {
		switch {
		case oldOK && (!newOK || oldEntry.Path < newEntry.Path):
			emit(Delta{Status: StatusDeleted, Old: entryCopy(oldEntry)})
			oldEntry, oldOK, err = old.Next()
			if err != nil {
				return nil, err
			}

		case newOK && (!oldOK || newEntry.Path < oldEntry.Path):
			status := addStatus(newEntry)
			if status == StatusUntracked && !opts.IncludeUntracked {
				// still advance; just don't emit
			} else if status == StatusIgnored && !opts.IncludeIgnored {
				// still advance; just don't emit
			} else {
				emit(Delta{Status: status, New: entryCopy(newEntry)})
			}
			newEntry, newOK, err = new.Next()
			if err != nil {
				return nil, err
			}

		default: // equal paths
			status, err := maybeModified(oldEntry, newEntry, opts.HashFile)
			if err != nil {
				return nil, err
			}
			oldCopy, newCopy := entryCopy(oldEntry), entryCopy(newEntry)
			switch status {
			case StatusUnmodified:
				if opts.IncludeUnmodified {
					emit(Delta{Status: status, Old: oldCopy, New: newCopy})
				}
			case StatusTypeChange:
				emit(Delta{Status: StatusDeleted, Old: oldCopy})
				emit(Delta{Status: addStatus(newEntry), New: newCopy})
			default:
				emit(Delta{Status: status, Old: oldCopy, New: newCopy})
			}
			oldEntry, oldOK, err = old.Next()
			if err != nil {
				return nil, err
			}
			newEntry, newOK, err = new.Next()
			if err != nil {
				return nil, err
			}
		}
	}

	if opts.Reverse {
		reverseDeltas(out)
	}
	return out, nil
}

func entryCopy(e Entry) *Entry {
	c := e
	return &c
}

// addStatus classifies a path present only on the new side.
func addStatus(e Entry) Status {
	if e.Source == SourceWorkdir {
		if e.Ignored {
			return StatusIgnored
		}
		if e.Untracked {
			return StatusUntracked
		}
	}
	return StatusAdded
}

// maybeModified implements spec's maybe_modified: Unmodified iff modes
// and OIDs match; type changes are reported as TypeChange for the
// caller to split into Deleted+Added; workdir entries with no
// precomputed OID are compared via stat info first, hashing file
// contents only when that comparison is inconclusive.
func maybeModified(old, new Entry, hashFile HashFunc) (Status, error) {
	if typeBits(old.Mode) != typeBits(new.Mode) {
		return StatusTypeChange, nil
	}
	if old.Mode != new.Mode {
		return StatusModified, nil
	}
	if !old.OID.IsZero() && !new.OID.IsZero() {
		if old.OID == new.OID {
			return StatusUnmodified, nil
		}
		return StatusModified, nil
	}

	// Exactly one side lacks a precomputed OID: that side must be the
	// working-directory entry.
	wd, known := new, old
	if old.OID.IsZero() {
		wd, known = old, new
	}

	if wd.Stat != nil && known.Stat != nil && wd.Stat.Equal(*known.Stat) {
		return StatusUnmodified, nil
	}
	if wd.Stat != nil && wd.Stat.Size != known.Size {
		return StatusModified, nil
	}
	if hashFile == nil {
		return StatusModified, gerr.New(gerr.Unsupported, "diff: %s: stat comparison inconclusive and no HashFile configured", wd.Path)
	}
	hashed, err := hashFile(wd)
	if err != nil {
		return 0, err
	}
	if hashed.OID == known.OID {
		return StatusUnmodified, nil
	}
	return StatusModified, nil
}

func matchesPathspec(path string, pathspec []string) bool {
	if len(pathspec) == 0 {
		return true
	}
	for _, p := range pathspec {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func reverseDeltas(deltas []Delta) {
	for i, j := 0, len(deltas)-1; i < j; i, j = i+1, j-1 {
		deltas[i], deltas[j] = deltas[j], deltas[i]
	}
	for i := range deltas {
		deltas[i].Old, deltas[i].New = deltas[i].New, deltas[i].Old
		switch deltas[i].Status {
		case StatusAdded:
			deltas[i].Status = StatusDeleted
		case StatusDeleted:
			deltas[i].Status = StatusAdded
		}
	}
}

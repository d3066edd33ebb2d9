// Package object parses the four git object kinds (commit, tree, tag,
// blob) out of the raw bytes an odb.DB read returns. Parsed views
// borrow their backing buffer rather than copying it wholesale; only
// small scalar fields (names, hex-decoded OIDs) are materialized.
package object

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/internal/otype"
	"github.com/distr1/dvcs/oid"
)

// Signature is a "name <email> timestamp tz" line as used by both the
// author and committer fields of a commit, and the tagger field of a
// tag.
type Signature struct {
	Name      string
	Email     string
	Timestamp int64  // seconds since epoch
	TZOffset  string // raw "+0200"-style offset, kept as text like the source format
}

// Commit is a parsed commit object.
type Commit struct {
	OID       oid.ID
	Tree      oid.ID
	Parents   []oid.ID
	Author    Signature
	Committer Signature
	Message   []byte // borrowed from the raw payload
}

// ParseCommit parses raw (the inflated, type-verified bytes of a
// commit object) into a Commit. Any deviation from the expected
// line-based layout is reported as gerr.Corrupt.
func ParseCommit(id oid.ID, raw []byte) (*Commit, error) {
	c := &Commit{OID: id}
	rest := raw

	line, rest, err := takeLine(rest)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: commit %s: tree line", id)
	}
	hex, ok := strings.CutPrefix(line, "tree ")
	if !ok {
		return nil, gerr.New(gerr.Corrupt, "object: commit %s: expected \"tree \" line, got %q", id, line)
	}
	c.Tree, err = oid.Parse(hex)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: commit %s: tree oid", id)
	}

	for {
		var peek string
		peek, _, err = takeLine(rest)
		if err != nil {
			return nil, gerr.Wrap(gerr.Corrupt, err, "object: commit %s: header line", id)
		}
		hex, ok := strings.CutPrefix(peek, "parent ")
		if !ok {
			break
		}
		id2, err := oid.Parse(hex)
		if err != nil {
			return nil, gerr.Wrap(gerr.Corrupt, err, "object: commit %s: parent oid", id)
		}
		c.Parents = append(c.Parents, id2)
		_, rest, _ = takeLine(rest)
	}

	line, rest, err = takeLine(rest)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: commit %s: author line", id)
	}
	sigLine, ok := strings.CutPrefix(line, "author ")
	if !ok {
		return nil, gerr.New(gerr.Corrupt, "object: commit %s: expected \"author \" line, got %q", id, line)
	}
	c.Author, err = parseSignature(sigLine)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: commit %s: author signature", id)
	}

	line, rest, err = takeLine(rest)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: commit %s: committer line", id)
	}
	sigLine, ok = strings.CutPrefix(line, "committer ")
	if !ok {
		return nil, gerr.New(gerr.Corrupt, "object: commit %s: expected \"committer \" line, got %q", id, line)
	}
	c.Committer, err = parseSignature(sigLine)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: commit %s: committer signature", id)
	}

	line, rest, err = takeLine(rest)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: commit %s: blank separator", id)
	}
	if line != "" {
		return nil, gerr.New(gerr.Corrupt, "object: commit %s: expected blank line before message, got %q", id, line)
	}

	c.Message = rest
	return c, nil
}

// parseSignature parses "Name <email> 1234567890 +0200".
func parseSignature(s string) (Signature, error) {
	lt := strings.IndexByte(s, '<')
	gt := strings.IndexByte(s, '>')
	if lt < 0 || gt < 0 || gt < lt {
		return Signature{}, gerr.New(gerr.Corrupt, "object: malformed signature %q", s)
	}
	name := strings.TrimRight(s[:lt], " ")
	email := s[lt+1 : gt]
	fields := strings.Fields(s[gt+1:])
	if len(fields) != 2 {
		return Signature{}, gerr.New(gerr.Corrupt, "object: malformed signature timestamp/tz in %q", s)
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Signature{}, gerr.Wrap(gerr.Corrupt, err, "object: signature timestamp %q", fields[0])
	}
	return Signature{Name: name, Email: email, Timestamp: ts, TZOffset: fields[1]}, nil
}

// takeLine splits buf at the first '\n', returning the line (without
// the newline) and the remainder. It fails if buf contains no '\n'.
func takeLine(buf []byte) (string, []byte, error) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return "", nil, gerr.New(gerr.Corrupt, "unexpected end of object while scanning for newline")
	}
	return string(buf[:i]), buf[i+1:], nil
}

// TreeEntry is one "<mode> <name>\0<oid>" record of a tree object.
type TreeEntry struct {
	Mode uint32
	Name string
	OID  oid.ID
}

// IsDir reports whether the entry's mode is the tree (040000) mode.
func (e TreeEntry) IsDir() bool { return e.Mode&0170000 == 0040000 }

// Tree is a parsed tree object: an ordered list of entries.
type Tree struct {
	OID     oid.ID
	Entries []TreeEntry
}

// ParseTree parses raw into a Tree, rejecting any entry sequence not
// in git's sort order (names compared as if directory entries carry
// a trailing "/").
func ParseTree(id oid.ID, raw []byte) (*Tree, error) {
	t := &Tree{OID: id}
	rest := raw
	var prevKey string
	havePrev := false
	for len(rest) > 0 {
		sp := bytes.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, gerr.New(gerr.Corrupt, "object: tree %s: missing space after mode", id)
		}
		mode, err := strconv.ParseUint(string(rest[:sp]), 8, 32)
		if err != nil {
			return nil, gerr.Wrap(gerr.Corrupt, err, "object: tree %s: mode", id)
		}
		rest = rest[sp+1:]

		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, gerr.New(gerr.Corrupt, "object: tree %s: missing NUL after name", id)
		}
		name := string(rest[:nul])
		rest = rest[nul+1:]

		if len(rest) < oid.Size {
			return nil, gerr.New(gerr.Corrupt, "object: tree %s: truncated entry oid", id)
		}
		entryID, err := oid.FromBytes(rest[:oid.Size])
		if err != nil {
			return nil, gerr.Wrap(gerr.Corrupt, err, "object: tree %s: entry oid", id)
		}
		rest = rest[oid.Size:]

		entry := TreeEntry{Mode: uint32(mode), Name: name, OID: entryID}
		key := name
		if entry.IsDir() {
			key += "/"
		}
		if havePrev && key <= prevKey {
			return nil, gerr.New(gerr.Corrupt, "object: tree %s: entries out of order at %q", id, name)
		}
		prevKey, havePrev = key, true
		t.Entries = append(t.Entries, entry)
	}
	return t, nil
}

// SortTreeEntries is exposed for callers that build or re-derive tree
// entries programmatically (e.g. cmd/gitcore's diff-tree, which feeds
// a tree's entries into the diff engine) and need git's ordering —
// names compared as if directory entries carry a trailing "/" —
// independent of whatever ordering guarantee the entries already
// carry. Implemented as an explicit Less, the way the teacher's
// package-build file list is sorted.
func SortTreeEntries(entries []TreeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ki, kj := entries[i].Name, entries[j].Name
		if entries[i].IsDir() {
			ki += "/"
		}
		if entries[j].IsDir() {
			kj += "/"
		}
		return ki < kj
	})
}

// Tag is a parsed annotated tag object.
type Tag struct {
	OID        oid.ID
	Target     oid.ID
	TargetType otype.Type
	Name       string
	Tagger     Signature
	Message    []byte
}

// ParseTag parses raw into a Tag.
func ParseTag(id oid.ID, raw []byte) (*Tag, error) {
	tag := &Tag{OID: id}
	rest := raw

	line, rest, err := takeLine(rest)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: tag %s: object line", id)
	}
	hex, ok := strings.CutPrefix(line, "object ")
	if !ok {
		return nil, gerr.New(gerr.Corrupt, "object: tag %s: expected \"object \" line, got %q", id, line)
	}
	tag.Target, err = oid.Parse(hex)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: tag %s: target oid", id)
	}

	line, rest, err = takeLine(rest)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: tag %s: type line", id)
	}
	kind, ok := strings.CutPrefix(line, "type ")
	if !ok {
		return nil, gerr.New(gerr.Corrupt, "object: tag %s: expected \"type \" line, got %q", id, line)
	}
	tag.TargetType, err = otype.ParseHeaderName(kind)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: tag %s: target type", id)
	}

	line, rest, err = takeLine(rest)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: tag %s: tag-name line", id)
	}
	name, ok := strings.CutPrefix(line, "tag ")
	if !ok {
		return nil, gerr.New(gerr.Corrupt, "object: tag %s: expected \"tag \" line, got %q", id, line)
	}
	tag.Name = name

	line, rest, err = takeLine(rest)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: tag %s: tagger line", id)
	}
	sigLine, ok := strings.CutPrefix(line, "tagger ")
	if !ok {
		return nil, gerr.New(gerr.Corrupt, "object: tag %s: expected \"tagger \" line, got %q", id, line)
	}
	tag.Tagger, err = parseSignature(sigLine)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: tag %s: tagger signature", id)
	}

	line, rest, err = takeLine(rest)
	if err != nil {
		return nil, gerr.Wrap(gerr.Corrupt, err, "object: tag %s: blank separator", id)
	}
	if line != "" {
		return nil, gerr.New(gerr.Corrupt, "object: tag %s: expected blank line before message, got %q", id, line)
	}

	tag.Message = rest
	return tag, nil
}

// Blob is a parsed blob: just its raw content, borrowed verbatim.
type Blob struct {
	OID  oid.ID
	Data []byte
}

// ParseBlob wraps raw as a Blob without any further validation, since
// a blob's payload has no structure of its own.
func ParseBlob(id oid.ID, raw []byte) *Blob {
	return &Blob{OID: id, Data: raw}
}

// Package otype defines the object type tag shared by every layer
// that needs to know what kind of object a byte buffer holds: the
// loose backend, the pack codec, the cache and the parsed-object
// views all import this instead of redeclaring the tag.
package otype

import "fmt"

// Type tags the four persisted object kinds, plus the two pack-only
// delta encodings that never appear outside a packfile. The numeric
// values match the on-disk pack type codes bit-for-bit (1=commit,
// 2=tree, 3=blob, 4=tag, 5=reserved/unused, 6=ofs-delta, 7=ref-delta)
// since spec requires the pack format to stay interoperable.
type Type int

const (
	Invalid Type = 0
	Commit  Type = 1
	Tree    Type = 2
	Blob    Type = 3
	Tag     Type = 4
	// 5 is reserved in the on-disk format and never produced or accepted.
	OfsDelta Type = 6
	RefDelta Type = 7
)

// HeaderName is the literal string used in the loose-object
// "<type> <len>\0" header and as the pack type name in diagnostics.
func (t Type) HeaderName() string {
	switch t {
	case Commit:
		return "commit"
	case Tree:
		return "tree"
	case Blob:
		return "blob"
	case Tag:
		return "tag"
	default:
		return "invalid"
	}
}

func (t Type) String() string {
	switch t {
	case OfsDelta:
		return "ofs-delta"
	case RefDelta:
		return "ref-delta"
	default:
		return t.HeaderName()
	}
}

// ParseHeaderName maps a loose-object header name back to a Type.
func ParseHeaderName(s string) (Type, error) {
	switch s {
	case "commit":
		return Commit, nil
	case "tree":
		return Tree, nil
	case "blob":
		return Blob, nil
	case "tag":
		return Tag, nil
	default:
		return Invalid, fmt.Errorf("otype: unknown object type %q", s)
	}
}

// IsDelta reports whether t is one of the pack-only delta encodings.
func (t Type) IsDelta() bool { return t == OfsDelta || t == RefDelta }

// Package oid implements the fixed-width content-address used to key
// every object in the store: a cryptographic hash of an object's
// canonical serialization.
package oid

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Size is the width of a SHA-1 object identifier in bytes. The
// package handles SHA-1 only; ID is fixed at this width.
const Size = 20

// MinPrefix is the shortest hex prefix the store will resolve without
// requiring the caller to pre-disambiguate.
const MinPrefix = 4

// ID is an immutable object identifier.
type ID [Size]byte

// Zero is the all-zero identifier, used as a sentinel (e.g. the diff
// engine's missing side of an added or deleted entry).
var Zero ID

// IsZero reports whether id is the all-zero sentinel.
func (id ID) IsZero() bool {
	return id == Zero
}

// String returns the lowercase hex encoding of id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Compare returns -1, 0 or 1 according to the byte ordering of id and
// other, matching bytes.Compare.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// FromBytes copies b (which must be exactly Size bytes) into a new ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("oid: want %d raw bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Parse decodes a full-length (40 hex chars for SHA-1) hex string.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != Size*2 {
		return id, fmt.Errorf("oid: want %d hex chars, got %d (%q)", Size*2, len(s), s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("oid: invalid hex %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}

// MustParse is a test helper: it panics on invalid input and must
// never be called with caller-controlled data.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Short returns the first n hex characters of id, clamped to the full
// length. It is a display helper only; it performs no disambiguation.
func (id ID) Short(n int) string {
	s := id.String()
	if n <= 0 {
		return ""
	}
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// Prefix is a parsed, validated hex prefix used for short-OID lookups.
type Prefix struct {
	bytes []byte // full bytes, for all-but-possibly-last nibble
	nhex  int    // length in hex characters
}

// ParsePrefix validates and decodes a hex prefix of at least MinPrefix
// characters and at most the full OID length.
func ParsePrefix(s string) (Prefix, error) {
	if len(s) < MinPrefix {
		return Prefix{}, fmt.Errorf("oid: prefix %q shorter than minimum %d", s, MinPrefix)
	}
	if len(s) > Size*2 {
		return Prefix{}, fmt.Errorf("oid: prefix %q longer than an OID", s)
	}
	padded := s
	if len(padded)%2 != 0 {
		padded += "0"
	}
	b, err := hex.DecodeString(padded)
	if err != nil {
		return Prefix{}, fmt.Errorf("oid: invalid hex prefix %q: %w", s, err)
	}
	return Prefix{bytes: b, nhex: len(s)}, nil
}

// Len reports the prefix length in hex characters.
func (p Prefix) Len() int { return p.nhex }

// Match reports whether id begins with the prefix.
func (p Prefix) Match(id ID) bool {
	full := len(p.bytes)
	if p.nhex%2 != 0 {
		full--
	}
	if !bytes.Equal(id[:full], p.bytes[:full]) {
		return false
	}
	if p.nhex%2 == 0 {
		return true
	}
	// Odd nibble count: compare only the high nibble of the last byte.
	want := p.bytes[full] & 0xF0
	got := id[full] & 0xF0
	return want == got
}

// String renders the prefix back to its hex form.
func (p Prefix) String() string {
	s := hex.EncodeToString(p.bytes)
	return s[:p.nhex]
}

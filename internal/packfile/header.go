package packfile

import (
	"io"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/internal/otype"
)

// readByte pulls a single byte from r, translating io.EOF into a
// Corrupt error since every caller here expects more bytes to follow.
func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, gerr.Wrap(gerr.Corrupt, err, "packfile: unexpected end of header")
	}
	return b[0], nil
}

// readObjectHeader decodes the variable-length "type + size" header
// that prefixes every object in a pack: 3 type bits and 4 size bits
// in the first byte, then 7 size bits per continuation byte,
// little-endian, MSB-as-continuation.
func readObjectHeader(r io.Reader) (otype.Type, int64, error) {
	b, err := readByte(r)
	if err != nil {
		return 0, 0, err
	}
	typ := otype.Type((b >> 4) & 0x7)
	size := int64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		b, err = readByte(r)
		if err != nil {
			return 0, 0, err
		}
		size |= int64(b&0x7f) << shift
		shift += 7
	}
	switch typ {
	case otype.Commit, otype.Tree, otype.Blob, otype.Tag, otype.OfsDelta, otype.RefDelta:
	default:
		return 0, 0, gerr.New(gerr.Corrupt, "packfile: unknown object type tag %d", typ)
	}
	return typ, size, nil
}

// readOfsDeltaOffset decodes the git-specific "negative offset"
// varint used by OFS-delta entries: 7 bits per byte, MSB-as-
// continuation, and a +1 bias applied on every continuation byte
// (this is what makes the encoding bijective instead of allowing
// multiple representations of the same value).
func readOfsDeltaOffset(r io.Reader) (int64, error) {
	b, err := readByte(r)
	if err != nil {
		return 0, err
	}
	v := int64(b & 0x7f)
	for b&0x80 != 0 {
		b, err = readByte(r)
		if err != nil {
			return 0, err
		}
		v = ((v + 1) << 7) | int64(b&0x7f)
	}
	return v, nil
}

// readDeltaSize decodes the plain (non-biased) 7-bits-per-byte size
// varint used for a delta's source-size and target-size fields.
func readDeltaSize(r io.Reader) (int64, error) {
	b, err := readByte(r)
	if err != nil {
		return 0, err
	}
	v := int64(b & 0x7f)
	shift := uint(7)
	for b&0x80 != 0 {
		b, err = readByte(r)
		if err != nil {
			return 0, err
		}
		v |= int64(b&0x7f) << shift
		shift += 7
	}
	return v, nil
}

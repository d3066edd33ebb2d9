// Package packidx parses the pack index (.idx) side-car format: a
// fanout table plus sorted OID list that maps an object identifier to
// its byte offset within the matching .pack file.
package packidx

import (
	"encoding/binary"
	"os"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/oid"
)

const (
	v2Magic       = 0xff744f63 // "\377tOc"
	fanoutEntries = 256
	offsetMSB     = 1 << 31
)

// Index is a parsed, immutable view over a loaded pack index. It does
// not hold the file open; Load reads the whole index into memory
// (indices are small relative to their packs, typically low hundreds
// of KB per 100k objects).
type Index struct {
	version   uint32
	fanout    [fanoutEntries]uint32
	oids      []oid.ID  // sorted ascending, len == fanout[255]
	crc32     []uint32  // v2 only, same order as oids
	offsets32 []uint32  // v1: the actual offset; v2: 31-bit offset or index into offsets64
	offsets64 []uint64  // v2 only, large-offset table
	packHash  oid.ID    // hash of the corresponding pack file, from the trailer
	idxHash   oid.ID    // hash of the index file itself
}

// Count returns the total number of objects indexed.
func (idx *Index) Count() int { return len(idx.oids) }

// PackHash returns the hash of the packfile this index describes, as
// recorded in the index trailer.
func (idx *Index) PackHash() oid.ID { return idx.packHash }

// Version reports 1 or 2.
func (idx *Index) Version() uint32 { return idx.version }

// Load parses the full contents of an .idx file.
func Load(path string) (*Index, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, gerr.Wrap(gerr.IO, err, "packidx: reading %s", path)
	}
	return Parse(b)
}

// Parse parses the contents of an already-read .idx file.
func Parse(b []byte) (*Index, error) {
	if len(b) >= 8 && binary.BigEndian.Uint32(b[0:4]) == v2Magic {
		return parseV2(b)
	}
	return parseV1(b)
}

func parseV1(b []byte) (*Index, error) {
	const headerLen = fanoutEntries * 4
	if len(b) < headerLen {
		return nil, gerr.New(gerr.Corrupt, "packidx: v1 file too short for fanout table (%d bytes)", len(b))
	}
	idx := &Index{version: 1}
	if err := readFanout(b, &idx.fanout); err != nil {
		return nil, err
	}
	count := int(idx.fanout[fanoutEntries-1])

	const entrySize = 4 + oid.Size
	want := headerLen + count*entrySize + oid.Size*2
	if len(b) != want {
		return nil, gerr.New(gerr.Corrupt, "packidx: v1 size mismatch: have %d bytes, want %d for %d objects", len(b), want, count)
	}

	idx.oids = make([]oid.ID, count)
	idx.offsets32 = make([]uint32, count)
	off := headerLen
	var prev oid.ID
	for i := 0; i < count; i++ {
		offset := binary.BigEndian.Uint32(b[off : off+4])
		id, err := oid.FromBytes(b[off+4 : off+4+oid.Size])
		if err != nil {
			return nil, gerr.Wrap(gerr.Corrupt, err, "packidx: v1 entry %d", i)
		}
		if i > 0 && !prev.Less(id) {
			return nil, gerr.New(gerr.Corrupt, "packidx: v1 oids not strictly sorted at entry %d", i)
		}
		idx.offsets32[i] = offset
		idx.oids[i] = id
		prev = id
		off += entrySize
	}

	trailer := b[off:]
	if len(trailer) != oid.Size*2 {
		return nil, gerr.New(gerr.Corrupt, "packidx: v1 trailer has %d bytes, want %d", len(trailer), oid.Size*2)
	}
	packHash, _ := oid.FromBytes(trailer[:oid.Size])
	idxHash, _ := oid.FromBytes(trailer[oid.Size:])
	idx.packHash, idx.idxHash = packHash, idxHash
	return idx, nil
}

func parseV2(b []byte) (*Index, error) {
	const headerLen = 8 + fanoutEntries*4
	if len(b) < headerLen {
		return nil, gerr.New(gerr.Corrupt, "packidx: v2 file too short for header (%d bytes)", len(b))
	}
	version := binary.BigEndian.Uint32(b[4:8])
	if version != 2 {
		return nil, gerr.New(gerr.Unsupported, "packidx: unsupported version %d", version)
	}
	idx := &Index{version: 2}
	if err := readFanout(b[8:], &idx.fanout); err != nil {
		return nil, err
	}
	count := int(idx.fanout[fanoutEntries-1])

	off := headerLen
	idx.oids = make([]oid.ID, count)
	for i := 0; i < count; i++ {
		if off+oid.Size > len(b) {
			return nil, gerr.New(gerr.Corrupt, "packidx: v2 truncated oid table at entry %d", i)
		}
		id, err := oid.FromBytes(b[off : off+oid.Size])
		if err != nil {
			return nil, gerr.Wrap(gerr.Corrupt, err, "packidx: v2 oid %d", i)
		}
		if i > 0 && !idx.oids[i-1].Less(id) {
			return nil, gerr.New(gerr.Corrupt, "packidx: v2 oids not strictly sorted at entry %d", i)
		}
		idx.oids[i] = id
		off += oid.Size
	}

	idx.crc32 = make([]uint32, count)
	for i := 0; i < count; i++ {
		if off+4 > len(b) {
			return nil, gerr.New(gerr.Corrupt, "packidx: v2 truncated crc32 table at entry %d", i)
		}
		idx.crc32[i] = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
	}

	idx.offsets32 = make([]uint32, count)
	var numLarge int
	for i := 0; i < count; i++ {
		if off+4 > len(b) {
			return nil, gerr.New(gerr.Corrupt, "packidx: v2 truncated offset table at entry %d", i)
		}
		v := binary.BigEndian.Uint32(b[off : off+4])
		idx.offsets32[i] = v
		if v&offsetMSB != 0 {
			idx := int(v &^ offsetMSB)
			if idx+1 > numLarge {
				numLarge = idx + 1
			}
		}
		off += 4
	}

	if numLarge > 0 {
		idx.offsets64 = make([]uint64, numLarge)
		for i := 0; i < numLarge; i++ {
			if off+8 > len(b) {
				return nil, gerr.New(gerr.Corrupt, "packidx: v2 truncated large-offset table at entry %d", i)
			}
			idx.offsets64[i] = binary.BigEndian.Uint64(b[off : off+8])
			off += 8
		}
	}

	trailer := b[off:]
	if len(trailer) != oid.Size*2 {
		return nil, gerr.New(gerr.Corrupt, "packidx: v2 trailer has %d bytes, want %d", len(trailer), oid.Size*2)
	}
	packHash, _ := oid.FromBytes(trailer[:oid.Size])
	idxHash, _ := oid.FromBytes(trailer[oid.Size:])
	idx.packHash, idx.idxHash = packHash, idxHash
	return idx, nil
}

func readFanout(b []byte, fanout *[fanoutEntries]uint32) error {
	var prev uint32
	for i := 0; i < fanoutEntries; i++ {
		v := binary.BigEndian.Uint32(b[i*4 : i*4+4])
		if v < prev {
			return gerr.New(gerr.Corrupt, "packidx: fanout not monotonic at byte %d (%d < %d)", i, v, prev)
		}
		fanout[i] = v
		prev = v
	}
	return nil
}

// Lookup returns the pack offset of id, or gerr.NotFound.
func (idx *Index) Lookup(id oid.ID) (int64, error) {
	lo, hi := idx.fanoutRange(id[0])
	i, ok := idx.search(id, lo, hi)
	if !ok {
		return 0, gerr.New(gerr.NotFound, "packidx: %s not present", id)
	}
	return idx.offsetAt(i), nil
}

// LookupPrefix resolves a validated hex prefix to a unique full OID
// and its pack offset. It fails with gerr.Ambiguous if more than one
// entry in this index matches, and gerr.NotFound if none do.
func (idx *Index) LookupPrefix(p oid.Prefix) (oid.ID, int64, error) {
	var zero oid.ID
	first := p.String()[0:2]
	var b0 byte
	if err := hexByte(first, &b0); err != nil {
		return zero, 0, err
	}
	lo, hi := idx.fanoutRange(b0)

	// The fanout bucket for a single leading byte is small (on the
	// order of objects/256), so a linear scan for the matching run is
	// cheap and keeps the ambiguity check simple.
	matchStart, matchEnd := -1, -1
	for i := lo; i < hi; i++ {
		if p.Match(idx.oids[i]) {
			if matchStart == -1 {
				matchStart = i
			}
			matchEnd = i + 1
		} else if matchStart != -1 {
			break
		}
	}
	if matchStart == -1 {
		return zero, 0, gerr.New(gerr.NotFound, "packidx: no object with prefix %s", p)
	}
	if matchEnd-matchStart > 1 {
		return zero, 0, gerr.New(gerr.Ambiguous, "packidx: prefix %s matches %d objects", p, matchEnd-matchStart)
	}
	return idx.oids[matchStart], idx.offsetAt(matchStart), nil
}

// CandidatesForPrefix returns every full OID in this index matching p.
// The pack backend's ReadPrefix uses it to collect matches across all
// of its packs before deciding whether a prefix is ambiguous.
func (idx *Index) CandidatesForPrefix(p oid.Prefix) []oid.ID {
	first := p.String()[0:2]
	var b0 byte
	if err := hexByte(first, &b0); err != nil {
		return nil
	}
	lo, hi := idx.fanoutRange(b0)
	var out []oid.ID
	for i := lo; i < hi; i++ {
		if p.Match(idx.oids[i]) {
			out = append(out, idx.oids[i])
		}
	}
	return out
}

func (idx *Index) fanoutRange(firstByte byte) (lo, hi int) {
	if firstByte == 0 {
		lo = 0
	} else {
		lo = int(idx.fanout[firstByte-1])
	}
	hi = int(idx.fanout[firstByte])
	return lo, hi
}

// search performs a binary search for id within oids[lo:hi].
func (idx *Index) search(id oid.ID, lo, hi int) (int, bool) {
	for lo < hi {
		mid := (lo + hi) / 2
		c := idx.oids[mid].Compare(id)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

func (idx *Index) offsetAt(i int) int64 {
	v := idx.offsets32[i]
	if idx.version == 1 {
		return int64(v)
	}
	if v&offsetMSB == 0 {
		return int64(v)
	}
	return int64(idx.offsets64[v&^offsetMSB])
}

// CRC32 returns the stored CRC32 of the i-th pack entry (v2 indices
// only; v1 carries no per-object checksum).
func (idx *Index) CRC32(i int) (uint32, bool) {
	if idx.version != 2 {
		return 0, false
	}
	return idx.crc32[i], true
}

func hexByte(s string, out *byte) error {
	if len(s) != 2 {
		return gerr.New(gerr.Corrupt, "packidx: invalid hex byte %q", s)
	}
	var v byte
	for _, c := range []byte(s) {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= c - '0'
		case c >= 'a' && c <= 'f':
			v |= c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v |= c - 'A' + 10
		default:
			return gerr.New(gerr.Corrupt, "packidx: invalid hex digit %q", c)
		}
	}
	*out = v
	return nil
}

package packidx

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/oid"
)

// buildV1 constructs a synthetic, valid v1 index from (oid, offset)
// pairs that must already be sorted by oid.
func buildV1(t *testing.T, entries []struct {
	id     oid.ID
	offset uint32
}, packHash, idxHash oid.ID) []byte {
	t.Helper()
	var buf bytes.Buffer

	var fanout [256]uint32
	for _, e := range entries {
		for b := int(e.id[0]); b < 256; b++ {
			fanout[b]++
		}
	}
	for _, v := range fanout {
		binary.Write(&buf, binary.BigEndian, v)
	}
	for _, e := range entries {
		binary.Write(&buf, binary.BigEndian, e.offset)
		buf.Write(e.id[:])
	}
	buf.Write(packHash[:])
	buf.Write(idxHash[:])
	return buf.Bytes()
}

func buildV2(t *testing.T, entries []struct {
	id     oid.ID
	offset uint64
}, packHash, idxHash oid.ID) []byte {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(v2Magic))
	binary.Write(&buf, binary.BigEndian, uint32(2))

	var fanout [256]uint32
	for _, e := range entries {
		for b := int(e.id[0]); b < 256; b++ {
			fanout[b]++
		}
	}
	for _, v := range fanout {
		binary.Write(&buf, binary.BigEndian, v)
	}
	for _, e := range entries {
		buf.Write(e.id[:])
	}
	for range entries {
		binary.Write(&buf, binary.BigEndian, uint32(0)) // crc32, unchecked here
	}
	var large []uint64
	for _, e := range entries {
		if e.offset >= offsetMSB {
			idx := uint32(len(large)) | offsetMSB
			large = append(large, e.offset)
			binary.Write(&buf, binary.BigEndian, idx)
		} else {
			binary.Write(&buf, binary.BigEndian, uint32(e.offset))
		}
	}
	for _, v := range large {
		binary.Write(&buf, binary.BigEndian, v)
	}
	buf.Write(packHash[:])
	buf.Write(idxHash[:])
	return buf.Bytes()
}

func sortedIDs(hexes ...string) []oid.ID {
	ids := make([]oid.ID, len(hexes))
	for i, h := range hexes {
		ids[i] = oid.MustParse(h)
	}
	return ids
}

func TestV1LookupAndPrefix(t *testing.T) {
	ids := sortedIDs(
		"100000000000000000000000000000000000000a",
		"100000000000000000000000000000000000000b",
		"200000000000000000000000000000000000000c",
	)
	entries := []struct {
		id     oid.ID
		offset uint32
	}{
		{ids[0], 10},
		{ids[1], 20},
		{ids[2], 30},
	}
	packHash := oid.MustParse("300000000000000000000000000000000000000d")
	idxHash := oid.MustParse("400000000000000000000000000000000000000e")
	b := buildV1(t, entries, packHash, idxHash)

	idx, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if idx.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", idx.Count())
	}
	if idx.PackHash() != packHash {
		t.Fatalf("PackHash = %v, want %v", idx.PackHash(), packHash)
	}

	off, err := idx.Lookup(ids[1])
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if off != 20 {
		t.Fatalf("offset = %d, want 20", off)
	}

	if _, err := idx.Lookup(oid.MustParse("ffffffffffffffffffffffffffffffffffffffff")); err == nil {
		t.Fatal("expected NotFound for missing oid")
	} else if kind, _ := gerr.KindOf(err); kind != gerr.NotFound {
		t.Fatalf("expected NotFound kind, got %v", kind)
	}

	p, err := oid.ParsePrefix("10000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("ParsePrefix: %v", err)
	}
	if _, _, err := idx.LookupPrefix(p); err == nil {
		t.Fatal("expected Ambiguous for shared prefix")
	} else if kind, _ := gerr.KindOf(err); kind != gerr.Ambiguous {
		t.Fatalf("expected Ambiguous, got %v", err)
	}

	p2, err := oid.ParsePrefix("2000")
	if err != nil {
		t.Fatalf("ParsePrefix: %v", err)
	}
	gotID, gotOff, err := idx.LookupPrefix(p2)
	if err != nil {
		t.Fatalf("LookupPrefix: %v", err)
	}
	if gotID != ids[2] || gotOff != 30 {
		t.Fatalf("LookupPrefix = (%v, %d), want (%v, 30)", gotID, gotOff, ids[2])
	}
}

func TestV2WithLargeOffsets(t *testing.T) {
	ids := sortedIDs(
		"100000000000000000000000000000000000000a",
		"200000000000000000000000000000000000000b",
	)
	entries := []struct {
		id     oid.ID
		offset uint64
	}{
		{ids[0], 100},
		{ids[1], 1 << 32}, // forces the large-offset table
	}
	packHash := oid.MustParse("300000000000000000000000000000000000000d")
	idxHash := oid.MustParse("400000000000000000000000000000000000000e")
	b := buildV2(t, entries, packHash, idxHash)

	idx, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if idx.Version() != 2 {
		t.Fatalf("Version() = %d, want 2", idx.Version())
	}
	off, err := idx.Lookup(ids[1])
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if off != 1<<32 {
		t.Fatalf("offset = %d, want %d", off, int64(1)<<32)
	}
}

func TestFanoutNotMonotonicRejected(t *testing.T) {
	var buf bytes.Buffer
	var fanout [256]uint32
	fanout[0] = 5
	fanout[1] = 3 // decreasing: invalid
	for _, v := range fanout {
		binary.Write(&buf, binary.BigEndian, v)
	}
	if _, err := Parse(buf.Bytes()); err == nil {
		t.Fatal("expected Corrupt for non-monotonic fanout")
	} else if kind, _ := gerr.KindOf(err); kind != gerr.Corrupt {
		t.Fatalf("expected Corrupt, got %v", err)
	}
}

package packfile

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/internal/otype"
	"github.com/distr1/dvcs/internal/window"
	"github.com/distr1/dvcs/internal/zdeflate"
	"github.com/distr1/dvcs/oid"
)

// fakeIndex is a minimal packIndex used so these tests don't need to
// go through the real packidx binary format.
type fakeIndex struct {
	count    int
	packHash oid.ID
	offsets  map[oid.ID]int64
}

func (f *fakeIndex) Count() int         { return f.count }
func (f *fakeIndex) PackHash() oid.ID   { return f.packHash }
func (f *fakeIndex) Lookup(id oid.ID) (int64, error) {
	off, ok := f.offsets[id]
	if !ok {
		return 0, gerr.New(gerr.NotFound, "fakeIndex: %s", id)
	}
	return off, nil
}

func writeObjectHeader(buf *bytes.Buffer, typ otype.Type, size int64) {
	b := byte(typ)<<4 | byte(size&0x0f)
	size >>= 4
	for size != 0 {
		buf.WriteByte(b | 0x80)
		b = byte(size & 0x7f)
		size >>= 7
	}
	buf.WriteByte(b)
}

// writeOfsOffset is the inverse of readOfsDeltaOffset's +1-biased
// varint: digits are produced least-significant first, then emitted
// most-significant first with the continuation bit set on every byte
// but the last.
func writeOfsOffset(buf *bytes.Buffer, v int64) {
	var digits []byte
	for {
		d := byte(v % 128)
		digits = append(digits, d)
		if v < 128 {
			break
		}
		v = v/128 - 1
	}
	for i := len(digits) - 1; i >= 0; i-- {
		if i != 0 {
			buf.WriteByte(digits[i] | 0x80)
		} else {
			buf.WriteByte(digits[i])
		}
	}
}

func writeDeltaVarint(buf *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf.WriteByte(b | 0x80)
		} else {
			buf.WriteByte(b)
			break
		}
	}
}

// buildPack assembles a minimal valid packfile containing a base blob
// and a single OFS-delta entry referencing it, matching spec's
// scenario 3: base "aaaaaaaa", delta COPY(0,4) || INSERT("BBBB").
func buildPack(t *testing.T) (path string, baseOffset, deltaOffset int64, resolved []byte) {
	t.Helper()
	dir := t.TempDir()

	base := []byte("aaaaaaaa")
	deltaInstructions := []byte{
		0x91, 0x00, 0x04, // COPY: offset present (byte0=0), length present (byte0=4) -> flags 0x80|0x01|0x10=0x91
		0x04, 'B', 'B', 'B', 'B', // INSERT 4 literal bytes
	}
	var deltaBody bytes.Buffer
	writeDeltaVarint(&deltaBody, int64(len(base)))
	writeDeltaVarint(&deltaBody, 8) // target size: "aaaaBBBB" = 8 bytes
	deltaBody.Write(deltaInstructions)

	var body bytes.Buffer

	baseOffset = headerLen
	writeObjectHeader(&body, otype.Blob, int64(len(base)))
	compBase, err := zdeflate.Deflate(base, 0)
	if err != nil {
		t.Fatalf("Deflate base: %v", err)
	}
	body.Write(compBase)

	deltaOffset = headerLen + int64(body.Len())
	writeObjectHeader(&body, otype.OfsDelta, int64(deltaBody.Len()))
	writeOfsOffset(&body, deltaOffset-baseOffset)
	compDelta, err := zdeflate.Deflate(deltaBody.Bytes(), 0)
	if err != nil {
		t.Fatalf("Deflate delta: %v", err)
	}
	body.Write(compDelta)

	var full bytes.Buffer
	full.WriteString(packSignature)
	binary.Write(&full, binary.BigEndian, uint32(2))
	binary.Write(&full, binary.BigEndian, uint32(2)) // 2 objects
	full.Write(body.Bytes())

	h := sha1.Sum(full.Bytes())
	full.Write(h[:])

	path = filepath.Join(dir, "pack-test.pack")
	if err := os.WriteFile(path, full.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	packHash, _ := oid.FromBytes(h[:])
	_ = packHash
	return path, baseOffset, deltaOffset, []byte("aaaaBBBB")
}

func TestUnpackOfsDelta(t *testing.T) {
	path, baseOffset, deltaOffset, want := buildPack(t)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	h := sha1.Sum(raw[:len(raw)-oid.Size])
	packHash, _ := oid.FromBytes(h[:])

	idx := &fakeIndex{count: 2, packHash: packHash, offsets: map[oid.ID]int64{}}

	mgr := window.New()
	p, err := Open(path, mgr, idx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	typ, data, err := p.Unpack(baseOffset, nil)
	if err != nil {
		t.Fatalf("Unpack(base): %v", err)
	}
	if typ != otype.Blob || string(data) != "aaaaaaaa" {
		t.Fatalf("base = (%v,%q), want (blob,%q)", typ, data, "aaaaaaaa")
	}

	typ, data, err = p.Unpack(deltaOffset, nil)
	if err != nil {
		t.Fatalf("Unpack(delta): %v", err)
	}
	if typ != otype.Blob || string(data) != string(want) {
		t.Fatalf("delta = (%v,%q), want (blob,%q)", typ, data, want)
	}
}

func TestOpenRejectsBadSignature(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.pack")
	buf := make([]byte, headerLen+oid.Size)
	copy(buf, "NOPE")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	idx := &fakeIndex{count: 0, packHash: oid.ID{}}
	mgr := window.New()
	if _, err := Open(path, mgr, idx); err == nil {
		t.Fatal("expected error for bad signature")
	} else if kind, _ := gerr.KindOf(err); kind != gerr.Corrupt {
		t.Fatalf("expected Corrupt, got %v", err)
	}
}

// Package packfile parses the binary packfile format: object headers,
// zlib-compressed bodies, and OFS/REF delta chains, reading through
// the sliding mmap window manager so that arbitrarily large packs
// never need to be mapped in full.
package packfile

import (
	"crypto/sha1"
	"encoding/binary"
	"io"
	"os"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/internal/otype"
	"github.com/distr1/dvcs/internal/window"
	"github.com/distr1/dvcs/internal/zdeflate"
	"github.com/distr1/dvcs/oid"
)

const (
	packSignature  = "PACK"
	headerLen      = 12
	trailerLen     = oid.Size
	// DefaultMaxDepth bounds delta-chain resolution per spec's "bounded
	// (default 50)".
	DefaultMaxDepth = 50
	// baseCacheSize bounds the small per-pack LRU of resolved
	// intermediate delta bases spec's §4.3 calls for.
	baseCacheSize = 64
)

// BaseResolver is the callback used to satisfy a REF-delta whose base
// is not present in this pack — "this is what enables thin packs".
// The pack backend's implementation searches the other packs it
// tracks; a base held only by the loose backend is not found through
// it.
type BaseResolver interface {
	ReadByOID(id oid.ID) (otype.Type, []byte, error)
}

// Pack is an opened, header-validated packfile plus its sliding
// window reader state.
type Pack struct {
	path    string
	f       *os.File
	file    *window.File
	mgr     *window.Manager
	idx     packIndex
	version uint32
	count   uint32
	size    int64

	maxDepth int

	baseCache *baseLRU
}

// packIndex is the subset of *packidx.Index that packfile depends on,
// expressed as an interface to avoid importing packidx (packidx has
// no need to know about packfile, but keeping this as an interface
// keeps the dependency direction explicit and lets tests fake an
// index without building real index bytes).
type packIndex interface {
	Count() int
	PackHash() oid.ID
	Lookup(oid.ID) (int64, error)
}

// Open validates the pack header, object count and trailer hash
// against idx, then readies the pack for Unpack calls.
func Open(path string, mgr *window.Manager, idx packIndex) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, gerr.Wrap(gerr.IO, err, "packfile: opening %s", path)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, gerr.Wrap(gerr.IO, err, "packfile: stat %s", path)
	}
	size := st.Size()
	if size < headerLen+trailerLen {
		f.Close()
		return nil, gerr.New(gerr.Corrupt, "packfile: %s too short (%d bytes)", path, size)
	}

	var hdr [headerLen]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, gerr.Wrap(gerr.IO, err, "packfile: reading header of %s", path)
	}
	if string(hdr[:4]) != packSignature {
		f.Close()
		return nil, gerr.New(gerr.Corrupt, "packfile: %s missing PACK signature", path)
	}
	version := binary.BigEndian.Uint32(hdr[4:8])
	if version != 2 && version != 3 {
		f.Close()
		return nil, gerr.New(gerr.Unsupported, "packfile: %s has unsupported version %d", path, version)
	}
	count := binary.BigEndian.Uint32(hdr[8:12])
	if int(count) != idx.Count() {
		f.Close()
		return nil, gerr.New(gerr.Corrupt, "packfile: %s has %d objects, index has %d", path, count, idx.Count())
	}

	var trailer [trailerLen]byte
	if _, err := f.ReadAt(trailer[:], size-trailerLen); err != nil {
		f.Close()
		return nil, gerr.Wrap(gerr.IO, err, "packfile: reading trailer of %s", path)
	}
	trailerHash, _ := oid.FromBytes(trailer[:])
	if trailerHash != idx.PackHash() {
		f.Close()
		return nil, gerr.New(gerr.Corrupt, "packfile: %s trailer hash %s does not match index's recorded pack hash %s", path, trailerHash, idx.PackHash())
	}
	if err := verifyTrailerChecksum(f, size); err != nil {
		f.Close()
		return nil, err
	}

	fh := mgr.Register(f, size)
	return &Pack{
		path: path, f: f, file: fh, mgr: mgr, idx: idx,
		version: version, count: count, size: size,
		maxDepth:  DefaultMaxDepth,
		baseCache: newBaseLRU(baseCacheSize),
	}, nil
}

// verifyTrailerChecksum recomputes the SHA-1 over every byte of the
// pack except the trailer itself and compares it to the trailer,
// matching spec's "Trailer: hash of all preceding bytes".
func verifyTrailerChecksum(f *os.File, size int64) error {
	h := sha1.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, size-trailerLen)); err != nil {
		return gerr.Wrap(gerr.IO, err, "packfile: hashing pack body")
	}
	sum := h.Sum(nil)
	var trailer [trailerLen]byte
	if _, err := f.ReadAt(trailer[:], size-trailerLen); err != nil {
		return gerr.Wrap(gerr.IO, err, "packfile: re-reading trailer")
	}
	for i := range sum {
		if sum[i] != trailer[i] {
			return gerr.New(gerr.Corrupt, "packfile: trailer checksum mismatch")
		}
	}
	return nil
}

// Count reports the object count declared in the pack header.
func (p *Pack) Count() int { return int(p.count) }

// Path returns the filesystem path this pack was opened from.
func (p *Pack) Path() string { return p.path }

// Close closes the underlying *os.File. Windows already mapped from
// it stay with the window manager until evicted or torn down; callers
// must ensure no window over it remains pinned.
func (p *Pack) Close() error {
	return p.f.Close()
}

// Unpack resolves the object at offset, following any OFS/REF delta
// chain to completion. base is consulted only for REF-deltas whose
// base OID is not found within this same pack.
func (p *Pack) Unpack(offset int64, base BaseResolver) (otype.Type, []byte, error) {
	return p.unpackDepth(offset, base, 0)
}

func (p *Pack) unpackDepth(offset int64, base BaseResolver, depth int) (otype.Type, []byte, error) {
	if depth > p.maxDepth {
		return 0, nil, gerr.New(gerr.DepthExceeded, "packfile: delta chain exceeds max depth %d", p.maxDepth)
	}
	if cached, ok := p.baseCache.get(offset); ok {
		return cached.typ, cached.data, nil
	}

	wr := newWindowReader(p.mgr, p.file, offset)
	defer wr.Close()

	typ, size, err := readObjectHeader(wr)
	if err != nil {
		return 0, nil, err
	}

	var result otype.Type
	var data []byte

	switch typ {
	case otype.Commit, otype.Tree, otype.Blob, otype.Tag:
		data, err = zdeflate.Inflate(wr, int(size))
		if err != nil {
			return 0, nil, err
		}
		if int64(len(data)) != size {
			return 0, nil, gerr.New(gerr.Corrupt, "packfile: inflated %d bytes, header declared %d at offset %d", len(data), size, offset)
		}
		result = typ

	case otype.OfsDelta:
		negOffset, err := readOfsDeltaOffset(wr)
		if err != nil {
			return 0, nil, err
		}
		baseOffset := offset - negOffset
		if baseOffset <= 0 || baseOffset >= offset {
			return 0, nil, gerr.New(gerr.Corrupt, "packfile: invalid OFS-delta base offset %d from entry at %d", baseOffset, offset)
		}
		baseType, baseData, err := p.unpackDepth(baseOffset, base, depth+1)
		if err != nil {
			return 0, nil, err
		}
		deltaBytes, err := zdeflate.Inflate(wr, int(size))
		if err != nil {
			return 0, nil, err
		}
		resolved, err := applyDelta(baseData, deltaBytes)
		if err != nil {
			return 0, nil, err
		}
		result, data = baseType, resolved

	case otype.RefDelta:
		var idBytes [oid.Size]byte
		if _, err := io.ReadFull(wr, idBytes[:]); err != nil {
			return 0, nil, gerr.Wrap(gerr.Corrupt, err, "packfile: reading ref-delta base oid at %d", offset)
		}
		baseID, err := oid.FromBytes(idBytes[:])
		if err != nil {
			return 0, nil, gerr.Wrap(gerr.Corrupt, err, "packfile: ref-delta base oid")
		}
		baseType, baseData, err := p.baseByOID(baseID, base, depth+1)
		if err != nil {
			return 0, nil, err
		}
		deltaBytes, err := zdeflate.Inflate(wr, int(size))
		if err != nil {
			return 0, nil, err
		}
		resolved, err := applyDelta(baseData, deltaBytes)
		if err != nil {
			return 0, nil, err
		}
		result, data = baseType, resolved

	default:
		return 0, nil, gerr.New(gerr.Corrupt, "packfile: unexpected type tag %d at offset %d", typ, offset)
	}

	p.baseCache.put(offset, result, data)
	return result, data, nil
}

// baseByOID looks up a REF-delta base, first within this pack's own
// index (common for non-thin packs), falling back to the external
// resolver for thin packs.
func (p *Pack) baseByOID(id oid.ID, base BaseResolver, depth int) (otype.Type, []byte, error) {
	if off, err := p.idx.Lookup(id); err == nil {
		return p.unpackDepth(off, base, depth)
	}
	if base == nil {
		return 0, nil, gerr.New(gerr.MissingBase, "packfile: ref-delta base %s not in pack and no external resolver configured", id)
	}
	typ, data, err := base.ReadByOID(id)
	if err != nil {
		return 0, nil, gerr.Wrap(gerr.MissingBase, err, "packfile: ref-delta base %s unavailable", id)
	}
	return typ, data, nil
}

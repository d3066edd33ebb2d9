// Package odb aggregates an ordered list of object backends (loose,
// pack) behind a single cache-fronted read/write surface, the way
// spec's object database ties the lower layers together.
package odb

import (
	"crypto/sha1"
	"fmt"
	"sort"
	"sync"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/internal/objcache"
	"github.com/distr1/dvcs/internal/otype"
	"github.com/distr1/dvcs/internal/trace"
	"github.com/distr1/dvcs/oid"
)

// Backend is the common surface every object source (loose directory,
// pack set) presents to the aggregator.
type Backend interface {
	Exists(id oid.ID) bool
	Read(id oid.ID) (otype.Type, []byte, error)
	ReadHeader(id oid.ID) (otype.Type, int64, error)
	ReadPrefix(p oid.Prefix) (oid.ID, otype.Type, []byte, error)
}

// Writer is implemented by backends that can durably store a new
// object; only the loose backend does today, matching spec's "writes
// go to the highest-priority writable backend".
type Writer interface {
	Write(id oid.ID, typ otype.Type, payload []byte) error
}

type registered struct {
	backend  Backend
	priority int
	writer   Writer // nil if this backend cannot accept writes
}

// DB is the ordered aggregation of backends plus the object cache
// sitting in front of them.
type DB struct {
	mu       sync.Mutex
	backends []registered
	cache    *objcache.Cache
}

// Option configures a DB at construction time.
type Option func(*DB)

// WithCache overrides the default objcache.New().
func WithCache(c *objcache.Cache) Option { return func(d *DB) { d.cache = c } }

// New builds an empty aggregator. Register backends with Register
// before issuing reads.
func New(opts ...Option) *DB {
	d := &DB{cache: objcache.New()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds backend at priority (higher values are consulted
// first for reads). If backend also implements Writer, it becomes
// eligible to receive Write calls; among writable backends, the
// highest-priority one wins.
func (d *DB) Register(backend Backend, priority int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, _ := backend.(Writer)
	d.backends = append(d.backends, registered{backend: backend, priority: priority, writer: w})
	sort.SliceStable(d.backends, func(i, j int) bool {
		return d.backends[i].priority > d.backends[j].priority
	})
}

// Exists reports whether any registered backend has id.
func (d *DB) Exists(id oid.ID) bool {
	if e, ok := d.cache.Get(id); ok {
		d.cache.Release(e)
		return true
	}
	d.mu.Lock()
	backends := append([]registered(nil), d.backends...)
	d.mu.Unlock()
	for _, r := range backends {
		if r.backend.Exists(id) {
			return true
		}
	}
	return false
}

// Read returns id's type and raw bytes, consulting the cache first
// and verifying the hash of any loose read per spec's "read contract".
func (d *DB) Read(id oid.ID) (otype.Type, []byte, error) {
	if e, ok := d.cache.Get(id); ok {
		defer d.cache.Release(e)
		return e.Type, e.Payload, nil
	}

	ev := trace.Event("odb.read.miss", 0)
	defer ev.Done()

	d.mu.Lock()
	backends := append([]registered(nil), d.backends...)
	d.mu.Unlock()

	var lastErr error
	for _, r := range backends {
		typ, data, err := r.backend.Read(id)
		if err != nil {
			if kind, ok := gerr.KindOf(err); ok && kind == gerr.NotFound {
				lastErr = err
				continue
			}
			return 0, nil, err
		}
		if err := verifyHash(id, typ, data); err != nil {
			return 0, nil, err
		}
		e, _ := d.cache.Store(id, typ, data, objcache.Raw)
		d.cache.Release(e)
		stats := d.cache.Stats()
		trace.Counter("odb.cache", 0, map[string]uint64{
			"entries":   uint64(stats.Entries),
			"bytes":     uint64(stats.TotalBytes),
			"evictions": uint64(stats.Evictions),
		})
		return typ, data, nil
	}
	if lastErr == nil {
		lastErr = gerr.New(gerr.NotFound, "odb: %s not present in any backend", id)
	}
	return 0, nil, lastErr
}

// ReadHeader returns type and size without necessarily materializing
// the full body, delegating to whichever backend finds it first.
func (d *DB) ReadHeader(id oid.ID) (otype.Type, int64, error) {
	if e, ok := d.cache.Get(id); ok {
		defer d.cache.Release(e)
		return e.Type, e.Size, nil
	}
	d.mu.Lock()
	backends := append([]registered(nil), d.backends...)
	d.mu.Unlock()

	var lastErr error
	for _, r := range backends {
		typ, size, err := r.backend.ReadHeader(id)
		if err != nil {
			if kind, ok := gerr.KindOf(err); ok && kind == gerr.NotFound {
				lastErr = err
				continue
			}
			return 0, 0, err
		}
		return typ, size, nil
	}
	if lastErr == nil {
		lastErr = gerr.New(gerr.NotFound, "odb: %s not present in any backend", id)
	}
	return 0, 0, lastErr
}

// ReadPrefix resolves a hex prefix against every backend, short-
// circuiting on the first cross-backend ambiguity it detects (spec §9
// open question 3's recorded decision). Callers needing exhaustive
// disambiguation across every backend should use ReadPrefixExhaustive.
func (d *DB) ReadPrefix(p oid.Prefix) (oid.ID, otype.Type, []byte, error) {
	d.mu.Lock()
	backends := append([]registered(nil), d.backends...)
	d.mu.Unlock()

	var found oid.ID
	var foundTyp otype.Type
	var foundData []byte
	have := false
	for _, r := range backends {
		id, typ, data, err := r.backend.ReadPrefix(p)
		if err != nil {
			kind, ok := gerr.KindOf(err)
			if ok && kind == gerr.NotFound {
				continue
			}
			if ok && kind == gerr.Ambiguous {
				return oid.ID{}, 0, nil, err
			}
			return oid.ID{}, 0, nil, err
		}
		if have && id != found {
			return oid.ID{}, 0, nil, gerr.New(gerr.Ambiguous, "odb: prefix %s matches %s and %s in different backends", p, found, id)
		}
		found, foundTyp, foundData, have = id, typ, data, true
	}
	if !have {
		return oid.ID{}, 0, nil, gerr.New(gerr.NotFound, "odb: no object with prefix %s", p)
	}
	if err := verifyHash(found, foundTyp, foundData); err != nil {
		return oid.ID{}, 0, nil, err
	}
	return found, foundTyp, foundData, nil
}

// ReadPrefixExhaustive is the additive escape hatch spec §9's recorded
// decision calls for: it queries every backend without short-
// circuiting and returns every distinct full OID the prefix matched,
// letting the caller decide how to handle ambiguity across backends
// instead of the aggregator failing fast. A backend that itself holds
// more than one match makes it fail with that backend's Ambiguous
// error, which does not list the candidates.
func (d *DB) ReadPrefixExhaustive(p oid.Prefix) ([]oid.ID, error) {
	d.mu.Lock()
	backends := append([]registered(nil), d.backends...)
	d.mu.Unlock()

	seen := make(map[oid.ID]bool)
	var out []oid.ID
	for _, r := range backends {
		id, _, _, err := r.backend.ReadPrefix(p)
		if err != nil {
			kind, ok := gerr.KindOf(err)
			if ok && (kind == gerr.NotFound) {
				continue
			}
			if ok && kind == gerr.Ambiguous {
				// This backend alone saw >1 candidate; we can't recover
				// individual OIDs from ReadPrefix's signature, so report
				// that this backend contributed an ambiguous set by
				// surfacing the error directly.
				return nil, err
			}
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, gerr.New(gerr.NotFound, "odb: no object with prefix %s", p)
	}
	return out, nil
}

// Write hashes payload's canonical serialization and stores it via the
// highest-priority writable backend, returning the computed OID.
func (d *DB) Write(typ otype.Type, payload []byte) (oid.ID, error) {
	id := HashObject(typ, payload)
	d.mu.Lock()
	backends := append([]registered(nil), d.backends...)
	d.mu.Unlock()
	for _, r := range backends {
		if r.writer == nil {
			continue
		}
		if err := r.writer.Write(id, typ, payload); err != nil {
			return oid.ID{}, err
		}
		return id, nil
	}
	return oid.ID{}, gerr.New(gerr.Unsupported, "odb: no writable backend registered")
}

// HashObject computes the OID of typ/payload without writing it
// anywhere, the additive "hash-only" surface spec.md's expansion adds
// (the original tool's git_odb_hash without a corresponding write).
func HashObject(typ otype.Type, payload []byte) oid.ID {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", typ.HeaderName(), len(payload))
	h.Write(payload)
	id, _ := oid.FromBytes(h.Sum(nil))
	return id
}

func verifyHash(want oid.ID, typ otype.Type, data []byte) error {
	got := HashObject(typ, data)
	if got != want {
		return gerr.New(gerr.Corrupt, "odb: object %s hashes to %s after read", want, got)
	}
	return nil
}

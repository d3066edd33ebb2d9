// Package objcache implements the concurrent, refcounted cache of raw
// and parsed objects keyed by OID that sits in front of the ODB
// aggregator's backends.
package objcache

import (
	"bytes"
	"math/rand"
	"sync"

	"github.com/distr1/dvcs/internal/otype"
	"github.com/distr1/dvcs/oid"
)

// Flag distinguishes an entry holding the raw inflated bytes from one
// holding a type lifted further into a parsed view's backing buffer.
// The cache itself only ever stores raw bytes; Flags records which
// form a given entry represents for collision/upgrade purposes, and
// Parsed always takes priority over Raw on a collision.
type Flag int

const (
	Raw Flag = iota
	Parsed
)

// DefaultCommitTreeLimit and DefaultBlobLimit match spec's example
// bounds: commits and trees up to 4 KiB are cache candidates; blobs
// are never cached by default.
const (
	DefaultCommitTreeLimit = 4096
	DefaultBlobLimit       = 0
)

// DefaultByteBudget bounds total cached payload bytes before random
// eviction kicks in.
const DefaultByteBudget = 32 << 20

// DefaultEvictBatch is how many entries a single eviction pass removes.
const DefaultEvictBatch = 8

// Entry is one cached object. Payload is shared; callers must treat it
// as read-only.
type Entry struct {
	OID     oid.ID
	Type    otype.Type
	Size    int64
	Flags   Flag
	Payload []byte

	refs int32 // refs==1 means only the cache holds it (evictable)
}

// Cache is a single-mutex, size-bounded, randomly-evicting object
// cache. It never touches disk. Get, Store and Release are O(1)
// expected, except that a Store which triggers eviction copies every
// key, which is linear in the number of entries.
type Cache struct {
	mu sync.Mutex

	budget     int64
	perType    map[otype.Type]int64
	evictBatch int
	rng        *rand.Rand

	entries    map[oid.ID]*Entry
	totalBytes int64

	evictions int64
	bailouts  int64
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithByteBudget overrides DefaultByteBudget.
func WithByteBudget(n int64) Option { return func(c *Cache) { c.budget = n } }

// WithTypeLimit sets the largest payload size of typ this cache will
// hold; objects larger than the limit bypass the cache entirely.
func WithTypeLimit(typ otype.Type, limit int64) Option {
	return func(c *Cache) { c.perType[typ] = limit }
}

// New builds a Cache with spec's default per-type limits (commits and
// trees up to 4 KiB, blobs never cached) unless overridden.
func New(opts ...Option) *Cache {
	c := &Cache{
		budget: DefaultByteBudget,
		perType: map[otype.Type]int64{
			otype.Commit: DefaultCommitTreeLimit,
			otype.Tree:   DefaultCommitTreeLimit,
			otype.Blob:   DefaultBlobLimit,
			otype.Tag:    DefaultCommitTreeLimit,
		},
		evictBatch: DefaultEvictBatch,
		rng:        rand.New(rand.NewSource(1)),
		entries:    make(map[oid.ID]*Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// eligible reports whether an object of typ and size may ever be
// cached (spec: "exceeds-limit objects bypass the cache entirely").
func (c *Cache) eligible(typ otype.Type, size int64) bool {
	limit, ok := c.perType[typ]
	if !ok {
		return false
	}
	return size <= limit
}

// Store inserts an entry, or returns the existing one (bumping its
// refcount) if content-equal, or upgrades a Raw entry to Parsed in
// place. The caller always receives an Entry they own one reference
// to; pair every Store/Get with exactly one Release.
func (c *Cache) Store(id oid.ID, typ otype.Type, payload []byte, flags Flag) (*Entry, bool) {
	if !c.eligible(typ, int64(len(payload))) {
		// Bypass: hand back a detached, unshared entry the cache does
		// not track. The caller must still Release it; Release on an
		// entry that is not in the cache is a harmless no-op.
		return &Entry{OID: id, Type: typ, Size: int64(len(payload)), Flags: flags, Payload: payload, refs: 1}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		if e.Flags == Raw && flags == Parsed {
			e.Flags = Parsed
			e.Payload = payload
		} else if !bytes.Equal(e.Payload, payload) {
			// Content-addressing guarantees this can't happen for a
			// genuine hash collision-free store; treat a mismatch as
			// a fresh logical write superseding the stale entry.
			e.Payload = payload
			e.Size = int64(len(payload))
		}
		e.refs++
		return e, true
	}

	e := &Entry{OID: id, Type: typ, Size: int64(len(payload)), Flags: flags, Payload: payload, refs: 2}
	c.entries[id] = e
	c.totalBytes += e.Size
	c.maybeEvictLocked()
	return e, false
}

// Get looks up id, bumping its refcount on a hit.
func (c *Cache) Get(id oid.ID) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	e.refs++
	return e, true
}

// Release drops one reference. When an entry's refcount falls to 1
// (only the cache itself holds it), it becomes eligible for a future
// random eviction pass; it is not removed immediately.
func (c *Cache) Release(e *Entry) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, cached := c.entries[e.OID]; !cached {
		// A bypassed (never-cached) entry: nothing to do.
		return
	}
	if e.refs > 0 {
		e.refs--
	}
}

// maybeEvictLocked runs spec's "a deliberate simplification": when
// totalBytes exceeds budget, evict a fixed number of entries chosen
// by random sampling among those with refs==1 (unreferenced by any
// caller). If a sampled slot is pinned or empty, it is skipped; if an
// entire pass finds nothing evictable, the cache silently exceeds its
// budget rather than blocking a caller — record a bailout instead.
func (c *Cache) maybeEvictLocked() {
	if c.totalBytes <= c.budget {
		return
	}
	keys := make([]oid.ID, 0, len(c.entries))
	for id := range c.entries {
		keys = append(keys, id)
	}
	if len(keys) == 0 {
		return
	}
	evicted := 0
	for attempt := 0; attempt < len(keys)*4 && evicted < c.evictBatch && c.totalBytes > c.budget; attempt++ {
		id := keys[c.rng.Intn(len(keys))]
		e, ok := c.entries[id]
		if !ok || e.refs != 1 {
			continue
		}
		delete(c.entries, id)
		c.totalBytes -= e.Size
		c.evictions++
		evicted++
	}
	if c.totalBytes > c.budget && evicted == 0 {
		c.bailouts++
	}
}

// Stats reports cache counters.
type Stats struct {
	Entries    int
	TotalBytes int64
	Evictions  int64
	Bailouts   int64
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:    len(c.entries),
		TotalBytes: c.totalBytes,
		Evictions:  c.evictions,
		Bailouts:   c.bailouts,
	}
}

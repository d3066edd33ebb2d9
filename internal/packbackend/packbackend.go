// Package packbackend maintains an ordered collection of open packs
// for one objects directory, rescanning it when its mtime changes and
// dispatching reads through a last-found fast path before falling
// back to an ordered scan.
package packbackend

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/internal/otype"
	"github.com/distr1/dvcs/internal/packfile"
	"github.com/distr1/dvcs/internal/packidx"
	"github.com/distr1/dvcs/internal/trace"
	"github.com/distr1/dvcs/internal/window"
	"github.com/distr1/dvcs/oid"
)

// entry pairs one opened pack with its index and the bookkeeping the
// ordering and rescan logic need.
type entry struct {
	pack    *packfile.Pack
	idx     *packidx.Index
	local   bool
	mtime   int64 // unix seconds, pack file mtime at open time
	idxPath string
}

// Backend is the pack-object backend for a single "objects/pack"
// directory (plus any alternates registered via AddAlternateDir).
// Queries rescan the directory when its mtime has advanced since the
// last scan, picking up newly added packs and forgetting removed
// ones, per spec's "rescan to pick up new packs".
type Backend struct {
	mu sync.Mutex

	mgr *window.Manager
	log *log.Logger
	jobs int

	dirs      []scanDir
	dirMtimes map[string]int64

	packs     []*entry
	lastFound *entry

	rescans int64
}

type scanDir struct {
	path  string
	local bool
}

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithLogger overrides the default logger, which writes to os.Stderr.
func WithLogger(l *log.Logger) Option { return func(b *Backend) { b.log = l } }

// WithRescanJobs bounds how many pack/idx pairs are opened
// concurrently during a rescan (default 4; 0 keeps that default).
func WithRescanJobs(n int) Option {
	return func(b *Backend) {
		if n != 0 {
			b.jobs = n
		}
	}
}

// New creates a Backend rooted at the local packDir ("<gitdir>/objects/pack").
// Call AddAlternateDir for each alternate objects/pack directory before
// the first query.
func New(packDir string, mgr *window.Manager, opts ...Option) *Backend {
	b := &Backend{
		mgr:       mgr,
		log:       log.New(os.Stderr, "", 0),
		jobs:      4,
		dirMtimes: make(map[string]int64),
	}
	b.dirs = append(b.dirs, scanDir{path: packDir, local: true})
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddAlternateDir registers a non-local pack directory (an
// "alternates" entry). Alternates sort after local packs regardless
// of mtime.
func (b *Backend) AddAlternateDir(dir string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirs = append(b.dirs, scanDir{path: dir, local: false})
}

// Rescans reports how many times ensureFresh actually reopened packs,
// for tests and diagnostics.
func (b *Backend) Rescans() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rescans
}

// ensureFresh rescans any directory whose mtime has advanced since the
// last look. mtime comparison is second-granularity os.Stat, matching
// the source tool's own coupling to filesystem mtime resolution
// rather than a filesystem-event watch.
func (b *Backend) ensureFresh() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dirty := false
	for _, d := range b.dirs {
		st, err := os.Stat(d.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return gerr.Wrap(gerr.IO, err, "packbackend: stat %s", d.path)
		}
		mt := st.ModTime().Unix()
		if b.dirMtimes[d.path] != mt {
			dirty = true
		}
	}
	if !dirty {
		return nil
	}
	b.rescans++
	return b.rescanLocked()
}

// rescanLocked re-lists every registered directory, opens any pack/idx
// pair not already tracked, drops entries whose pack file vanished,
// and re-sorts the ordered pack list. Newly discovered packs are
// opened concurrently (bounded by b.jobs), mirroring the batch build's
// bounded-errgroup pattern for parallel package opens.
func (b *Backend) rescanLocked() error {
	ev := trace.Event("packbackend.rescan", 0)
	defer ev.Done()

	type found struct {
		pack, idxPath string
		local         bool
		mtime         int64
	}
	var candidates []found
	seen := make(map[string]bool)

	for _, d := range b.dirs {
		fis, err := os.ReadDir(d.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return gerr.Wrap(gerr.IO, err, "packbackend: reading %s", d.path)
		}
		for _, fi := range fis {
			name := fi.Name()
			if !strings.HasSuffix(name, ".pack") {
				continue
			}
			packPath := filepath.Join(d.path, name)
			idxPath := strings.TrimSuffix(packPath, ".pack") + ".idx"
			if _, err := os.Stat(idxPath); err != nil {
				continue // pack without a matching index isn't usable yet
			}
			seen[packPath] = true
			st, err := os.Stat(packPath)
			if err != nil {
				continue
			}
			candidates = append(candidates, found{packPath, idxPath, d.local, st.ModTime().Unix()})
		}
		if st, err := os.Stat(d.path); err == nil {
			b.dirMtimes[d.path] = st.ModTime().Unix()
		}
	}

	existing := make(map[string]*entry, len(b.packs))
	for _, e := range b.packs {
		existing[e.pack.Path()] = e
	}

	var toOpen []found
	kept := make([]*entry, 0, len(candidates))
	for _, c := range candidates {
		if e, ok := existing[c.pack]; ok {
			kept = append(kept, e)
			continue
		}
		toOpen = append(toOpen, c)
	}

	opened := make([]*entry, len(toOpen))
	if len(toOpen) > 0 {
		g := new(errgroup.Group)
		g.SetLimit(b.jobs)
		for i, c := range toOpen {
			i, c := i, c
			g.Go(func() error {
				idx, err := packidx.Load(c.idxPath)
				if err != nil {
					b.log.Printf("packbackend: skipping %s: %v", c.pack, err)
					return nil
				}
				p, err := packfile.Open(c.pack, b.mgr, idx)
				if err != nil {
					b.log.Printf("packbackend: skipping %s: %v", c.pack, err)
					return nil
				}
				opened[i] = &entry{pack: p, idx: idx, local: c.local, mtime: c.mtime, idxPath: c.idxPath}
				return nil
			})
		}
		_ = g.Wait() // per-pack failures are logged and skipped, never fatal to the rescan
	}

	// Close packs that disappeared from disk.
	for _, e := range b.packs {
		if !seen[e.pack.Path()] {
			e.pack.Close()
		}
	}

	all := kept
	for _, e := range opened {
		if e != nil {
			all = append(all, e)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].local != all[j].local {
			return all[i].local // local packs precede alternates
		}
		return all[i].mtime > all[j].mtime // newer first among peers
	})
	b.packs = all
	b.lastFound = nil
	trace.Counter("packbackend.packs", 0, map[string]uint64{
		"open":   uint64(len(all)),
		"opened": uint64(len(all) - len(kept)),
	})
	return nil
}

// ReadByOID implements packfile.BaseResolver so thin packs can resolve
// a REF-delta base living in a sibling pack.
func (b *Backend) ReadByOID(id oid.ID) (otype.Type, []byte, error) {
	return b.Read(id)
}

// Exists reports whether any tracked pack contains id.
func (b *Backend) Exists(id oid.ID) bool {
	_, _, err := b.lookup(id)
	return err == nil
}

// Read resolves id to its fully unpacked object, consulting the
// last-found fast path before scanning packs in order.
func (b *Backend) Read(id oid.ID) (otype.Type, []byte, error) {
	e, off, err := b.lookup(id)
	if err != nil {
		return 0, nil, err
	}
	return e.pack.Unpack(off, b)
}

// ReadHeader returns the object's type and size. It performs a full
// unpack (decompression plus, for a deltified entry, resolving the
// whole base chain): a deltified object's final size isn't known from
// its own pack header alone, since that header records the size of
// the delta instruction stream rather than the reconstructed object,
// so a cheap varint-only read isn't available to every entry the way
// it is in the loose backend.
func (b *Backend) ReadHeader(id oid.ID) (otype.Type, int64, error) {
	typ, data, err := b.Read(id)
	if err != nil {
		return 0, 0, err
	}
	return typ, int64(len(data)), nil
}

func (b *Backend) lookup(id oid.ID) (*entry, int64, error) {
	if err := b.ensureFresh(); err != nil {
		return nil, 0, err
	}
	b.mu.Lock()
	last := b.lastFound
	packs := b.packs
	b.mu.Unlock()

	if last != nil {
		if off, err := last.idx.Lookup(id); err == nil {
			return last, off, nil
		}
	}
	for _, e := range packs {
		if e == last {
			continue
		}
		if off, err := e.idx.Lookup(id); err == nil {
			b.mu.Lock()
			b.lastFound = e
			b.mu.Unlock()
			return e, off, nil
		}
	}
	return nil, 0, gerr.New(gerr.NotFound, "packbackend: %s not found in any pack", id)
}

// ReadPrefix resolves prefix across every tracked pack. Every pack is
// visited (cheap fanout-bounded lookups) to detect cross-pack
// ambiguity: if two packs each resolve the prefix to a different full
// OID, the result is Ambiguous even though each pack individually saw
// only one candidate.
func (b *Backend) ReadPrefix(p oid.Prefix) (oid.ID, otype.Type, []byte, error) {
	if err := b.ensureFresh(); err != nil {
		return oid.ID{}, 0, nil, err
	}
	b.mu.Lock()
	packs := append([]*entry(nil), b.packs...)
	b.mu.Unlock()

	found := make(map[oid.ID]*entry)
	for _, e := range packs {
		for _, cand := range e.idx.CandidatesForPrefix(p) {
			found[cand] = e
		}
	}
	switch len(found) {
	case 0:
		return oid.ID{}, 0, nil, gerr.New(gerr.NotFound, "packbackend: no object with prefix %s", p)
	case 1:
		for id, e := range found {
			off, err := e.idx.Lookup(id)
			if err != nil {
				return oid.ID{}, 0, nil, err
			}
			typ, data, err := e.pack.Unpack(off, b)
			return id, typ, data, err
		}
	}
	return oid.ID{}, 0, nil, gerr.New(gerr.Ambiguous, "packbackend: prefix %s matches %d objects across packs", p, len(found))
}

// Close closes every tracked pack.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, e := range b.packs {
		if err := e.pack.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.packs = nil
	return firstErr
}

// Package window implements the process-wide sliding mmap-window
// manager that pack readers use to access packfile bytes without
// mapping an entire (potentially huge) pack into the address space at
// once.
//
// It mirrors the shape of libgit2's pack_backend window cache: a
// global budget of mapped bytes, least-recently-used eviction among
// unpinned windows, and a pin/release discipline so a window's
// backing bytes stay valid for exactly as long as a caller holds it.
package window

import (
	"container/list"
	"log"
	"os"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/distr1/dvcs/internal/gerr"
)

// DefaultWindowSize is the size of a freshly mapped window when the
// requested range is smaller than this. Packs are read in these
// chunks rather than byte-by-byte to amortize the mmap syscall.
const DefaultWindowSize = 1 << 20 // 1 MiB

// DefaultBudget is the default cap on total mapped bytes across every
// open pack file, matching spec's "default ~256 MiB".
const DefaultBudget = 256 << 20

// File identifies one mmap-able pack file to the manager. Callers
// obtain one via Manager.Register and use it for every subsequent
// Open call against that file.
type File struct {
	id   int64
	f    *os.File
	size int64
}

// Size reports the length of the underlying file in bytes.
func (fh *File) Size() int64 { return fh.size }

// Window is a pinned view over a byte range of a registered file.
// Data()'s slice is valid only while the window remains pinned;
// callers must call Release exactly once per successful Open.
type Window struct {
	mgr    *Manager
	file   *File
	start  int64 // file offset of data[0]
	data   []byte
	pins   int32
	elem   *list.Element // position in the LRU list; nil once evicted
	closed bool
}

// Start returns the file offset backing Data()[0].
func (w *Window) Start() int64 { return w.start }

// Data returns the mapped bytes. The slice must not be retained past
// a matching call to Manager.Release.
func (w *Window) Data() []byte { return w.data }

// Slice returns the bytes of the window covering the absolute file
// range [offset, offset+n), which must be fully contained in the
// window (the contract Manager.Open guarantees on success).
func (w *Window) Slice(offset int64, n int) []byte {
	rel := offset - w.start
	return w.data[rel : rel+int64(n)]
}

// Stats reports counters useful for diagnosing the "silent bailout"
// behavior spec's open questions flag for the eviction policy.
type Stats struct {
	MappedBytes       int64
	OpenWindows       int
	EvictionBailouts  int64
	Evictions         int64
}

// Manager owns every mmap region across every open pack file. It is a
// long-lived, explicitly initialized subsystem (never package-level
// ambient state): a repository handle holds a *Manager and shares it
// with every pack backend it opens.
type Manager struct {
	mu         sync.Mutex
	budget     int64
	windowSize int64
	mapped     int64
	nextFileID int64
	lru        *list.List // of *Window, most-recently-used at Back
	log        *log.Logger

	bailouts  int64
	evictions int64
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithBudget overrides DefaultBudget.
func WithBudget(bytes int64) Option {
	return func(m *Manager) { m.budget = bytes }
}

// WithWindowSize overrides DefaultWindowSize.
func WithWindowSize(bytes int64) Option {
	return func(m *Manager) { m.windowSize = bytes }
}

// WithLogger routes eviction and bailout diagnostics through l instead
// of the default logger, which writes to os.Stderr.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// New initializes a window manager. Pair with Teardown when the
// repository handle holding it is closed.
func New(opts ...Option) *Manager {
	m := &Manager{
		budget:     DefaultBudget,
		windowSize: DefaultWindowSize,
		lru:        list.New(),
		log:        log.New(os.Stderr, "", 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = log.New(os.Stderr, "", 0)
	}
	return m
}

// Register associates f (already open for reading) with the manager
// and returns a handle used for subsequent Open calls. The caller
// retains ownership of f and must close it only after every window
// referencing it has been released.
func (m *Manager) Register(f *os.File, size int64) *File {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFileID++
	return &File{id: m.nextFileID, f: f, size: size}
}

func pageFloor(off int64) int64 {
	ps := int64(os.Getpagesize())
	return (off / ps) * ps
}

// Open returns a pinned window containing [offset, offset+minLen).
// It may reuse an existing window pinned or not; otherwise it mmaps a
// fresh region of size max(DefaultWindowSize, minLen), page-aligned
// down from offset. If the budget would be exceeded, the
// least-recently-used unpinned window is evicted first; if none can
// be evicted, Open fails with gerr.Memory. The one exception is a
// single request larger than the whole budget while nothing else is
// mapped, which is mapped over budget.
func (m *Manager) Open(file *File, offset int64, minLen int64) (*Window, error) {
	if offset < 0 || minLen < 0 || offset+minLen > file.size {
		return nil, gerr.New(gerr.Corrupt, "window: range [%d,%d) out of bounds for file of size %d", offset, offset+minLen, file.size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Reuse: scan existing windows for this file that already cover
	// the requested range. A linear scan is acceptable: the expected
	// number of concurrently live windows per file is small (bounded
	// by the budget / window size), matching spec's "a single mutex
	// ... operations are O(1) expected" for the cache, not the window
	// manager, which the spec explicitly allows to block on I/O.
	for e := m.lru.Back(); e != nil; e = e.Prev() {
		w := e.Value.(*Window)
		if w.file != file {
			continue
		}
		if offset >= w.start && offset+minLen <= w.start+int64(len(w.data)) {
			m.pin(w)
			return w, nil
		}
	}

	size := m.windowSize
	if minLen > size {
		size = minLen
	}
	start := pageFloor(offset)
	if start+size > file.size {
		size = file.size - start
	}
	if start+size < offset+minLen {
		// The aligned window still doesn't reach the end of the
		// requested range (file.size clipped it); extend explicitly.
		size = offset + minLen - start
	}

	if err := m.ensureBudget(size); err != nil {
		return nil, err
	}

	data, err := unix.Mmap(int(file.f.Fd()), start, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, gerr.Wrap(gerr.Memory, err, "window: mmap file=%d offset=%d len=%d", file.id, start, size)
	}

	w := &Window{mgr: m, file: file, start: start, data: data, pins: 1}
	w.elem = m.lru.PushBack(w)
	m.mapped += int64(len(data))
	return w, nil
}

// ensureBudget evicts unpinned windows, oldest first, until adding
// want bytes would not exceed the budget, or nothing more can be
// evicted. It retries the scan once after an eviction pass, per
// spec's "the window manager may retry eviction once before returning
// Memory".
func (m *Manager) ensureBudget(want int64) error {
	if m.mapped+want <= m.budget {
		return nil
	}
	for attempt := 0; attempt < 2; attempt++ {
		progressed := false
		for e := m.lru.Front(); e != nil; {
			next := e.Next()
			w := e.Value.(*Window)
			if w.pins == 0 {
				m.evictLocked(w)
				progressed = true
				if m.mapped+want <= m.budget {
					return nil
				}
			}
			e = next
		}
		if !progressed {
			break
		}
	}
	if m.mapped+want <= m.budget {
		return nil
	}
	// Single-pin exception: with nothing else mapped, one request larger
	// than the whole budget is let through over budget. Otherwise there
	// is nothing left to evict, so bail out with Memory.
	if m.mapped > 0 {
		m.bailouts++
		m.log.Printf("window: eviction bailout, budget=%d mapped=%d want=%d", m.budget, m.mapped, want)
		return gerr.New(gerr.Memory, "window: budget %d exceeded and no unpinned window to evict (want %d)", m.budget, want)
	}
	return nil
}

func (m *Manager) evictLocked(w *Window) {
	if w.elem != nil {
		m.lru.Remove(w.elem)
		w.elem = nil
	}
	if err := unix.Munmap(w.data); err != nil {
		m.log.Printf("window: munmap failed: %v", err)
	}
	m.mapped -= int64(len(w.data))
	w.data = nil
	w.closed = true
	m.evictions++
}

func (m *Manager) pin(w *Window) {
	if w.elem != nil {
		m.lru.MoveToBack(w.elem)
	}
	w.pins++
}

// Release decrements w's pin count. When it reaches zero the window
// becomes eligible for eviction but remains resident (and reusable by
// a subsequent Open) until the manager actually evicts it.
func (m *Manager) Release(w *Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.closed {
		return
	}
	w.pins--
	if w.pins < 0 {
		panic("window: released more times than pinned")
	}
}

// Stats returns a snapshot of manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		MappedBytes:      m.mapped,
		OpenWindows:      m.lru.Len(),
		EvictionBailouts: m.bailouts,
		Evictions:        m.evictions,
	}
}

// Teardown unmaps every remaining window. It must only be called once
// every pin has been released; pinned windows are reported as an
// error rather than silently unmapped out from under a reader.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pinned int
	for e := m.lru.Front(); e != nil; e = e.Next() {
		w := e.Value.(*Window)
		if w.pins > 0 {
			pinned++
			continue
		}
		if err := unix.Munmap(w.data); err != nil {
			m.log.Printf("window: munmap failed during teardown: %v", err)
		}
	}
	m.lru.Init()
	m.mapped = 0
	if pinned > 0 {
		return xerrors.Errorf("window: teardown with %d window(s) still pinned", pinned)
	}
	return nil
}

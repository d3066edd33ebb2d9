package window

import (
	"os"
	"testing"

	"github.com/distr1/dvcs/internal/gerr"
)

func tempFile(t *testing.T, size int) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "window-test-")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestOpenReleaseRoundTrip(t *testing.T) {
	f := tempFile(t, 4096)
	m := New(WithWindowSize(1024))
	fh := m.Register(f, 4096)

	w, err := m.Open(fh, 10, 20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := w.Slice(10, 20)
	for i, b := range got {
		if b != byte(10+i) {
			t.Fatalf("byte %d = %d, want %d", i, b, byte(10+i))
		}
	}
	m.Release(w)
	if err := m.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
}

func TestOpenOutOfBounds(t *testing.T) {
	f := tempFile(t, 16)
	m := New()
	fh := m.Register(f, 16)
	if _, err := m.Open(fh, 10, 100); err == nil {
		t.Fatal("expected error for out-of-bounds range")
	} else if kind, ok := gerr.KindOf(err); !ok || kind != gerr.Corrupt {
		t.Fatalf("expected Corrupt, got %v", err)
	}
}

func TestEvictionUnderBudget(t *testing.T) {
	f := tempFile(t, 1<<20)
	m := New(WithWindowSize(64*1024), WithBudget(128*1024))
	fh := m.Register(f, 1<<20)

	w1, err := m.Open(fh, 0, 1024)
	if err != nil {
		t.Fatalf("Open 1: %v", err)
	}
	m.Release(w1)

	w2, err := m.Open(fh, 200000, 1024)
	if err != nil {
		t.Fatalf("Open 2: %v", err)
	}
	m.Release(w2)

	w3, err := m.Open(fh, 500000, 1024)
	if err != nil {
		t.Fatalf("Open 3: %v", err)
	}
	stats := m.Stats()
	if stats.MappedBytes > 128*1024*3 {
		t.Fatalf("mapped bytes %d grew unbounded", stats.MappedBytes)
	}
	m.Release(w3)
}

func TestReuseExistingWindow(t *testing.T) {
	f := tempFile(t, 1<<20)
	m := New(WithWindowSize(64 * 1024))
	fh := m.Register(f, 1<<20)

	w1, err := m.Open(fh, 100, 50)
	if err != nil {
		t.Fatalf("Open 1: %v", err)
	}
	before := m.Stats().OpenWindows
	w2, err := m.Open(fh, 110, 10)
	if err != nil {
		t.Fatalf("Open 2: %v", err)
	}
	after := m.Stats().OpenWindows
	if after != before {
		t.Fatalf("expected window reuse, open windows went from %d to %d", before, after)
	}
	m.Release(w1)
	m.Release(w2)
}

func TestTeardownWithPinnedWindowErrors(t *testing.T) {
	f := tempFile(t, 4096)
	m := New()
	fh := m.Register(f, 4096)
	w, err := m.Open(fh, 0, 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Teardown(); err == nil {
		t.Fatal("expected error tearing down with a pinned window")
	}
	m.Release(w)
}

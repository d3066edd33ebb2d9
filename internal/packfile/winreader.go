package packfile

import (
	"io"

	"github.com/distr1/dvcs/internal/window"
)

// windowReader turns the window manager's pin/release discipline into
// a plain io.Reader that can stream through an object of arbitrary
// length: it holds at most one window pinned at a time, re-acquiring
// the next one as the read cursor crosses the current window's
// boundary. This is the mechanism that lets a multi-megabyte zlib
// stream be read without ever mapping more than one window's worth of
// the pack at once.
type windowReader struct {
	mgr  *window.Manager
	file *window.File
	pos  int64
	end  int64 // exclusive upper bound (file size)

	cur    *window.Window
	curOff int // read offset within cur.Data()
}

func newWindowReader(mgr *window.Manager, file *window.File, start int64) *windowReader {
	return &windowReader{mgr: mgr, file: file, pos: start, end: file.Size()}
}

func (wr *windowReader) Read(p []byte) (int, error) {
	if wr.pos >= wr.end {
		return 0, io.EOF
	}
	if wr.cur == nil || wr.curOff >= len(wr.cur.Data()) {
		if wr.cur != nil {
			wr.mgr.Release(wr.cur)
			wr.cur = nil
		}
		want := int64(len(p))
		if wr.pos+want > wr.end {
			want = wr.end - wr.pos
		}
		if want <= 0 {
			return 0, io.EOF
		}
		w, err := wr.mgr.Open(wr.file, wr.pos, want)
		if err != nil {
			return 0, err
		}
		wr.cur = w
		wr.curOff = int(wr.pos - w.Start())
	}
	n := copy(p, wr.cur.Data()[wr.curOff:])
	wr.curOff += n
	wr.pos += int64(n)
	return n, nil
}

// Close releases the currently pinned window, if any. It must be
// called exactly once when the reader is no longer needed.
func (wr *windowReader) Close() error {
	if wr.cur != nil {
		wr.mgr.Release(wr.cur)
		wr.cur = nil
	}
	return nil
}

// Pos reports the reader's current absolute file offset.
func (wr *windowReader) Pos() int64 { return wr.pos }

// Package zdeflate centralizes the zlib inflate/deflate calls used by
// the loose object backend and the pack codec. Both hot paths
// decompress many small streams, so this wraps klauspost/compress's
// zlib implementation (the throughput-oriented drop-in the teacher
// reaches for instead of compress/gzip in internal/install) rather
// than the standard library's compress/zlib.
package zdeflate

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/distr1/dvcs/internal/gerr"
)

// Inflate decompresses a zlib stream read from r, stopping once n
// bytes have been produced (or the stream ends, whichever first).
// Passing a negative n reads until EOF.
func Inflate(r io.Reader, n int) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, gerr.Wrap(gerr.Inflate, err, "zdeflate: opening zlib stream")
	}
	defer zr.Close()

	var buf bytes.Buffer
	if n < 0 {
		if _, err := io.Copy(&buf, zr); err != nil {
			return nil, gerr.Wrap(gerr.Inflate, err, "zdeflate: inflating")
		}
		return buf.Bytes(), nil
	}
	buf.Grow(n)
	if _, err := io.CopyN(&buf, zr, int64(n)); err != nil && err != io.EOF {
		return nil, gerr.Wrap(gerr.Inflate, err, "zdeflate: inflating %d bytes", n)
	}
	return buf.Bytes(), nil
}

// Deflate compresses payload at the given zlib compression level
// (zlib.DefaultCompression if level is 0) and returns the compressed
// bytes.
func Deflate(payload []byte, level int) ([]byte, error) {
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, gerr.Wrap(gerr.IO, err, "zdeflate: creating zlib writer")
	}
	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return nil, gerr.Wrap(gerr.IO, err, "zdeflate: writing")
	}
	if err := zw.Close(); err != nil {
		return nil, gerr.Wrap(gerr.IO, err, "zdeflate: closing")
	}
	return buf.Bytes(), nil
}

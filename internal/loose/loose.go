// Package loose implements the one-file-per-object backend: objects
// live at objects/XX/YYYY... (first two hex chars as a directory,
// remaining 38 as the filename), zlib-deflated as
// "<type> <decimal-length>\0<payload>".
package loose

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/internal/otype"
	"github.com/distr1/dvcs/internal/zdeflate"
	"github.com/distr1/dvcs/oid"
)

// Backend reads and writes loose objects rooted at objectsDir (a
// repository's "objects" directory).
type Backend struct {
	objectsDir  string
	compression int // zlib level; 0 and -1 both select zlib's default level
}

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithCompression sets the zlib level Write uses, mirroring the
// repository config file's core.compression key.
func WithCompression(level int) Option {
	return func(b *Backend) { b.compression = level }
}

// New returns a Backend rooted at objectsDir. The directory must
// already exist.
func New(objectsDir string, opts ...Option) *Backend {
	b := &Backend{objectsDir: objectsDir}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) pathFor(id oid.ID) string {
	hex := id.String()
	return filepath.Join(b.objectsDir, hex[:2], hex[2:])
}

// Exists reports whether a loose object for id is present.
func (b *Backend) Exists(id oid.ID) bool {
	_, err := os.Stat(b.pathFor(id))
	return err == nil
}

// Read inflates and parses the full object at id.
func (b *Backend) Read(id oid.ID) (otype.Type, []byte, error) {
	f, err := os.Open(b.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, gerr.New(gerr.NotFound, "loose: %s", id)
		}
		return 0, nil, gerr.Wrap(gerr.IO, err, "loose: opening %s", id)
	}
	defer f.Close()

	payload, err := zdeflate.Inflate(f, -1)
	if err != nil {
		return 0, nil, gerr.Wrap(gerr.Corrupt, err, "loose: inflating %s", id)
	}
	typ, size, headerLen, err := parseHeader(payload)
	if err != nil {
		return 0, nil, gerr.Wrap(gerr.Corrupt, err, "loose: header of %s", id)
	}
	body := payload[headerLen:]
	if int64(len(body)) != size {
		return 0, nil, gerr.New(gerr.Corrupt, "loose: %s declares length %d, has %d", id, size, len(body))
	}
	return typ, body, nil
}

// ReadHeader returns the object's type and declared size without
// returning the payload. The loose backend must still inflate enough
// of the stream to parse the "<type> <size>\0" prefix (it cannot skip
// decompression the way the pack backend's pre-recorded header can).
func (b *Backend) ReadHeader(id oid.ID) (otype.Type, int64, error) {
	f, err := os.Open(b.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, gerr.New(gerr.NotFound, "loose: %s", id)
		}
		return 0, 0, gerr.Wrap(gerr.IO, err, "loose: opening %s", id)
	}
	defer f.Close()

	// Headers are short; inflating a small prefix is enough in
	// practice, but correctness requires inflating until the NUL is
	// found, so just inflate the whole thing as Read does.
	payload, err := zdeflate.Inflate(f, -1)
	if err != nil {
		return 0, 0, gerr.Wrap(gerr.Corrupt, err, "loose: inflating header of %s", id)
	}
	typ, size, _, err := parseHeader(payload)
	if err != nil {
		return 0, 0, gerr.Wrap(gerr.Corrupt, err, "loose: header of %s", id)
	}
	return typ, size, nil
}

func parseHeader(payload []byte) (otype.Type, int64, int, error) {
	nul := bytes.IndexByte(payload, 0)
	if nul < 0 {
		return 0, 0, 0, fmt.Errorf("missing NUL terminator in header")
	}
	header := string(payload[:nul])
	sp := strings.IndexByte(header, ' ')
	if sp < 0 {
		return 0, 0, 0, fmt.Errorf("malformed header %q", header)
	}
	typ, err := otype.ParseHeaderName(header[:sp])
	if err != nil {
		return 0, 0, 0, err
	}
	size, err := strconv.ParseInt(header[sp+1:], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed length in header %q: %w", header, err)
	}
	return typ, size, nul + 1, nil
}

// Write deflates "<type> <len>\0<payload>" to a temp file and renames
// it into place. It is idempotent: if the destination already exists,
// content-addressing guarantees it already holds the same bytes, so
// Write is a no-op.
func (b *Backend) Write(id oid.ID, typ otype.Type, payload []byte) error {
	path := b.pathFor(id)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return gerr.Wrap(gerr.IO, err, "loose: creating directory for %s", id)
	}

	header := fmt.Sprintf("%s %d\x00", typ.HeaderName(), len(payload))
	raw := make([]byte, 0, len(header)+len(payload))
	raw = append(raw, header...)
	raw = append(raw, payload...)

	compressed, err := zdeflate.Deflate(raw, b.compression)
	if err != nil {
		return gerr.Wrap(gerr.IO, err, "loose: deflating %s", id)
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		return gerr.Wrap(gerr.IO, err, "loose: creating temp file for %s", id)
	}
	defer t.Cleanup()
	if _, err := t.Write(compressed); err != nil {
		return gerr.Wrap(gerr.IO, err, "loose: writing %s", id)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return gerr.Wrap(gerr.IO, err, "loose: renaming into place for %s", id)
	}
	return nil
}

// ReadPrefix resolves a prefix to a unique full OID and its parsed
// object, failing with gerr.Ambiguous if more than one loose object
// matches and gerr.NotFound if none do.
func (b *Backend) ReadPrefix(p oid.Prefix) (oid.ID, otype.Type, []byte, error) {
	ids, err := b.PrefixLookup(p)
	if err != nil {
		return oid.ID{}, 0, nil, err
	}
	switch len(ids) {
	case 0:
		return oid.ID{}, 0, nil, gerr.New(gerr.NotFound, "loose: no object with prefix %s", p)
	case 1:
		typ, data, err := b.Read(ids[0])
		return ids[0], typ, data, err
	default:
		return oid.ID{}, 0, nil, gerr.New(gerr.Ambiguous, "loose: prefix %s matches %d objects", p, len(ids))
	}
}

// PrefixLookup enumerates objects/XX/ for the byte identified by
// prefix's first two hex characters, returning every full OID whose
// remaining hex matches. It does not fail on several matches itself;
// ReadPrefix turns len(result) > 1 into a gerr.Ambiguous error that
// carries only the match count, so the ODB does not receive the
// candidate list.
func (b *Backend) PrefixLookup(p oid.Prefix) ([]oid.ID, error) {
	full := p.String()
	if len(full) < 2 {
		return nil, gerr.New(gerr.Corrupt, "loose: prefix %q too short", full)
	}
	dir := filepath.Join(b.objectsDir, full[:2])
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, gerr.Wrap(gerr.IO, err, "loose: reading %s", dir)
	}
	rest := ""
	if len(full) > 2 {
		rest = full[2:]
	}
	var out []oid.ID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasPrefix(e.Name(), rest) {
			continue
		}
		id, err := oid.Parse(full[:2] + e.Name())
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

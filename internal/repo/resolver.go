// Package repo is the local reference resolver: it reads a
// repository's HEAD, packed-refs and loose refs/ hierarchy directly
// off disk, the spec's "reference resolver (external collaborator)"
// that feeds revwalk.Push/Hide and the ref-glob operations.
package repo

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/distr1/dvcs/oid"
)

// ErrNotFound reports that name does not resolve to any ref.
type ErrNotFound struct {
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s: reference not found", e.Name)
}

// Resolver resolves ref names to OIDs by reading a repository
// directory's HEAD, packed-refs file and loose refs/ tree on demand;
// it caches nothing, so it always reflects the current on-disk state
// the way a second process's commits or `git gc` would change it.
type Resolver struct {
	gitDir string
}

// NewResolver wraps the repository rooted at gitDir (a ".git"
// directory, or a bare repository root containing HEAD/refs/objects
// directly).
func NewResolver(gitDir string) *Resolver {
	return &Resolver{gitDir: gitDir}
}

// ResolveRef resolves name (e.g. "HEAD", "refs/heads/main", or a bare
// branch name like "main") to an OID, following one level of symbolic
// "ref: ..." indirection the way HEAD normally does. It does not
// follow chained symrefs beyond one hop, matching loose refs' typical
// shape; a chain longer than that is reported as NotFound rather than
// looped indefinitely.
func (r *Resolver) ResolveRef(name string) (oid.ID, error) {
	id, err := r.resolveOnce(name)
	if err == nil {
		return id, nil
	}

	target, ok, rerr := r.readSymref(name)
	if rerr != nil {
		return oid.ID{}, rerr
	}
	if ok {
		id, err := r.resolveOnce(target)
		if err != nil {
			return oid.ID{}, &ErrNotFound{Name: name}
		}
		return id, nil
	}
	return oid.ID{}, &ErrNotFound{Name: name}
}

// resolveOnce tries, in order: name as a loose ref path, name's
// expansions under refs/heads and refs/tags (the short-name
// convenience the CLI front end relies on), and name as an entry in
// packed-refs.
func (r *Resolver) resolveOnce(name string) (oid.ID, error) {
	for _, candidate := range refCandidates(name) {
		if id, ok, err := r.readLooseRef(candidate); err != nil {
			return oid.ID{}, err
		} else if ok {
			return id, nil
		}
	}
	for _, candidate := range refCandidates(name) {
		if id, ok, err := r.readPackedRef(candidate); err != nil {
			return oid.ID{}, err
		} else if ok {
			return id, nil
		}
	}
	// A 40-hex-char name is accepted directly as an already-resolved OID.
	if id, err := oid.Parse(name); err == nil {
		return id, nil
	}
	return oid.ID{}, &ErrNotFound{Name: name}
}

func refCandidates(name string) []string {
	if name == "HEAD" || strings.HasPrefix(name, "refs/") {
		return []string{name}
	}
	return []string{
		name,
		"refs/" + name,
		"refs/heads/" + name,
		"refs/tags/" + name,
		"refs/remotes/" + name,
	}
}

// readSymref reports whether name's loose ref file (or HEAD) holds a
// "ref: <target>" indirection rather than a raw OID line.
func (r *Resolver) readSymref(name string) (string, bool, error) {
	p := filepath.Join(r.gitDir, filepath.FromSlash(name))
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	line := strings.TrimSpace(string(data))
	if target, ok := strings.CutPrefix(line, "ref: "); ok {
		return strings.TrimSpace(target), true, nil
	}
	return "", false, nil
}

func (r *Resolver) readLooseRef(name string) (oid.ID, bool, error) {
	p := filepath.Join(r.gitDir, filepath.FromSlash(name))
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return oid.ID{}, false, nil
		}
		return oid.ID{}, false, err
	}
	line := strings.TrimSpace(string(data))
	if strings.HasPrefix(line, "ref: ") {
		return oid.ID{}, false, nil // symref; caller falls back to readSymref
	}
	id, err := oid.Parse(line)
	if err != nil {
		return oid.ID{}, false, nil
	}
	return id, true, nil
}

// readPackedRef scans packed-refs for an exact "refs/..." match. The
// file is small relative to a repository's object store, so a linear
// scan per lookup (rather than a cached index) matches spec's
// "consumer interface" framing of the resolver as a thin on-disk
// collaborator, not a component of the core.
func (r *Resolver) readPackedRef(name string) (oid.ID, bool, error) {
	f, err := os.Open(filepath.Join(r.gitDir, "packed-refs"))
	if err != nil {
		if os.IsNotExist(err) {
			return oid.ID{}, false, nil
		}
		return oid.ID{}, false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		if fields[1] != name {
			continue
		}
		id, err := oid.Parse(fields[0])
		if err != nil {
			continue
		}
		return id, true, nil
	}
	if err := sc.Err(); err != nil {
		return oid.ID{}, false, err
	}
	return oid.ID{}, false, nil
}

// Glob enumerates every ref name (loose and packed) matching pattern,
// the way push_glob/hide_glob need to expand e.g. "refs/tags/*".
func (r *Resolver) Glob(pattern string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		ok, err := path.Match(pattern, name)
		if err == nil && ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	refsDir := filepath.Join(r.gitDir, "refs")
	_ = filepath.WalkDir(refsDir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(r.gitDir, p)
		if rerr != nil {
			return nil
		}
		add(filepath.ToSlash(rel))
		return nil
	})

	f, err := os.Open(filepath.Join(r.gitDir, "packed-refs"))
	if err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := sc.Text()
			if line == "" || line[0] == '#' || line[0] == '^' {
				continue
			}
			fields := strings.SplitN(line, " ", 2)
			if len(fields) == 2 {
				add(fields[1])
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	sort.Strings(out)
	return out, nil
}

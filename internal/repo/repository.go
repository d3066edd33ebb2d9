package repo

import (
	"os"
	"path/filepath"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/internal/loose"
	"github.com/distr1/dvcs/internal/object"
	"github.com/distr1/dvcs/internal/odb"
	"github.com/distr1/dvcs/internal/otype"
	"github.com/distr1/dvcs/internal/packbackend"
	"github.com/distr1/dvcs/internal/repoconfig"
	"github.com/distr1/dvcs/internal/revwalk"
	"github.com/distr1/dvcs/internal/window"
	"github.com/distr1/dvcs/oid"
)

// Repository bundles an object database, reference resolver and
// window manager for one on-disk repository directory, the assembly
// cmd/gitcore's subcommands build once per invocation.
type Repository struct {
	GitDir   string
	DB       *odb.DB
	Resolver *Resolver
	Windows  *window.Manager
	packs    *packbackend.Backend
}

// Open wires up a Repository rooted at gitDir: a loose backend at
// priority 100, a pack backend at priority 0 (loose objects are newer
// and should win a same-OID race, though content addressing makes
// that race academic), and a local Resolver reading HEAD/refs/
// packed-refs directly.
func Open(gitDir string) (*Repository, error) {
	objectsDir := filepath.Join(gitDir, "objects")
	if err := os.MkdirAll(objectsDir, 0o755); err != nil {
		return nil, gerr.Wrap(gerr.IO, err, "repo: creating %s", objectsDir)
	}

	cfg, err := repoconfig.Load(gitDir)
	if err != nil {
		return nil, err
	}

	mgr := window.New()

	looseBackend := loose.New(objectsDir, loose.WithCompression(cfg.LooseCompression))
	packs := packbackend.New(filepath.Join(gitDir, "objects", "pack"), mgr)

	db := odb.New()
	db.Register(looseBackend, 100)
	db.Register(packs, 0)

	return &Repository{
		GitDir:   gitDir,
		DB:       db,
		Resolver: NewResolver(gitDir),
		Windows:  mgr,
		packs:    packs,
	}, nil
}

// Close releases the repository's pack file descriptors and mmap
// windows.
func (r *Repository) Close() error {
	err := r.packs.Close()
	if terr := r.Windows.Teardown(); err == nil {
		err = terr
	}
	return err
}

// ReadCommit implements revwalk.CommitReader directly against this
// repository's object database.
func (r *Repository) ReadCommit(id oid.ID) (*object.Commit, error) {
	typ, data, err := r.DB.Read(id)
	if err != nil {
		return nil, err
	}
	if typ != otype.Commit {
		return nil, gerr.New(gerr.Corrupt, "repo: %s is a %s, not a commit", id, typ.HeaderName())
	}
	return object.ParseCommit(id, data)
}

// NewWalker builds a revwalk.Walker over this repository, wired to
// its object database and reference resolver.
func (r *Repository) NewWalker() *revwalk.Walker {
	return revwalk.New(r, r.Resolver)
}

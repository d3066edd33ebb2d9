package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/distr1/dvcs/internal/otype"
	"github.com/distr1/dvcs/internal/repo"
	"github.com/distr1/dvcs/oid"
	"golang.org/x/xerrors"
)

const catFileHelp = `gitcore cat-file [-flags] <oid-or-prefix>

Print an object's type, size, or contents (the odb_read / odb_read_header /
odb_read_prefix operations, exposed directly).

Example:
  % gitcore cat-file -t da39a3ee5e6b
  % gitcore cat-file -p da39a3ee5e6b4b0d3255bfef95601890afd80709
`

func catFile(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("cat-file", flag.ExitOnError)
	var (
		showType = fset.Bool("t", false, "print the object's type and exit")
		showSize = fset.Bool("s", false, "print the object's size and exit")
		print    = fset.Bool("p", false, "pretty-print the object's contents")
	)
	fset.Usage = usage(fset, catFileHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return xerrors.Errorf("syntax: cat-file [-t|-s|-p] <oid-or-prefix>")
	}

	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	id, typ, data, err := resolveOIDArg(r, fset.Arg(0))
	if err != nil {
		return err
	}

	switch {
	case *showType:
		fmt.Println(typ.HeaderName())
	case *showSize:
		fmt.Println(len(data))
	case *print:
		os.Stdout.Write(data)
	default:
		fmt.Printf("%s %s %d\n", id, typ.HeaderName(), len(data))
	}
	return nil
}

// resolveOIDArg accepts either a full object id or an abbreviated
// prefix (>= oid.MinPrefix hex chars), matching the original tool's
// own convention of taking either form anywhere an oid is expected.
func resolveOIDArg(r *repo.Repository, s string) (oid.ID, otype.Type, []byte, error) {
	if full, err := oid.Parse(s); err == nil {
		typ, data, err := r.DB.Read(full)
		return full, typ, data, err
	}
	p, err := oid.ParsePrefix(s)
	if err != nil {
		return oid.ID{}, 0, nil, xerrors.Errorf("%q is not a valid object id or prefix: %w", s, err)
	}
	return r.DB.ReadPrefix(p)
}

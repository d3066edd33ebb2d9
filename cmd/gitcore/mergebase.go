package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/distr1/dvcs/oid"
	"golang.org/x/xerrors"
)

const mergeBaseHelp = `gitcore merge-base [-flags] <a> <b> [<b2>...]

Print every best common ancestor of <a> and the given <b>s.

Example:
  % gitcore merge-base main feature
`

func mergeBase(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("merge-base", flag.ExitOnError)
	fset.Usage = usage(fset, mergeBaseHelp)
	fset.Parse(args)
	if fset.NArg() < 2 {
		return xerrors.Errorf("syntax: merge-base <a> <b> [<b2>...]")
	}

	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	a, err := r.Resolver.ResolveRef(fset.Arg(0))
	if err != nil {
		return err
	}
	bs := make([]oid.ID, 0, fset.NArg()-1)
	for _, s := range fset.Args()[1:] {
		b, err := r.Resolver.ResolveRef(s)
		if err != nil {
			return err
		}
		bs = append(bs, b)
	}

	w := r.NewWalker()
	bases, err := w.MergeBase(a, bs)
	if err != nil {
		return err
	}
	for _, base := range bases {
		fmt.Println(base)
	}
	return nil
}

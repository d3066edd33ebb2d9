package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/distr1/dvcs/internal/odb"
	"github.com/distr1/dvcs/internal/otype"
	"golang.org/x/xerrors"
)

const hashObjectHelp = `gitcore hash-object [-flags] [<file>]

Hash a blob's contents (read from <file>, or stdin if omitted). With -w,
also write it to the repository's object database.

Example:
  % echo hello | gitcore hash-object -w
`

func hashObject(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("hash-object", flag.ExitOnError)
	var (
		write   = fset.Bool("w", false, "write the object to the repository, not just print its id")
		typName = fset.String("t", "blob", "object type: blob, tree, commit or tag")
	)
	fset.Usage = usage(fset, hashObjectHelp)
	fset.Parse(args)
	if fset.NArg() > 1 {
		return xerrors.Errorf("syntax: hash-object [-w] [-t type] [<file>]")
	}

	typ, err := otype.ParseHeaderName(*typName)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if fset.NArg() == 1 {
		f, err := os.Open(fset.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	if !*write {
		fmt.Println(odb.HashObject(typ, data))
		return nil
	}

	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	id, err := r.DB.Write(typ, data)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

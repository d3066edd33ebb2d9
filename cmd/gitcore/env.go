package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/distr1/dvcs/internal/env"
)

const envHelp = `gitcore env [-flags]

Display repository discovery variables.

Example:
  % gitcore env
`

func printEnv(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("env", flag.ExitOnError)
	fset.Usage = usage(fset, envHelp)
	fset.Parse(args)
	fmt.Printf("GITCORE_DIR=%q\n", env.RepoRoot)
	return nil
}

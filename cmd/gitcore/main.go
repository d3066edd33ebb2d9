// Command gitcore is a small CLI front end over the object database,
// revision walker and diff engine: enough surface to inspect a
// repository's objects and history without shelling out to anything
// else.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	internaltrace "github.com/distr1/dvcs/internal/trace"
	"golang.org/x/xerrors"
)

var (
	debug      = flag.Bool("debug", false, "format error messages with additional detail")
	ctracefile = flag.String("ctracefile", "", "path to store a chrome trace event file at (load in chrome://tracing)")
	gitDir     = flag.String("git-dir", "", "repository directory (default: discovered from the working directory, or $GITCORE_DIR)")
)

type cmd struct {
	fn func(ctx context.Context, args []string) error
}

func funcmain() error {
	flag.Parse()

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			return err
		}
		internaltrace.Sink(f)
	}

	verbs := map[string]cmd{
		"cat-file":    {catFile},
		"hash-object": {hashObject},
		"log":         {showLog},
		"merge-base":  {mergeBase},
		"diff-tree":   {diffTree},
		"env":         {printEnv},
	}

	args := flag.Args()
	if len(args) == 0 {
		usageTop()
		os.Exit(2)
	}
	verb, rest := args[0], args[1:]

	if verb == "help" {
		if len(rest) != 1 {
			usageTop()
			os.Exit(2)
		}
		verb, rest = rest[0], []string{"-help"}
	}

	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: gitcore <command> [options]\n")
		os.Exit(2)
	}

	if err := v.fn(context.Background(), rest); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", verb, err)
		}
		return fmt.Errorf("%s: %v", verb, err)
	}
	return nil
}

func usageTop() {
	fmt.Fprintf(os.Stderr, "gitcore [-flags] <command> [-flags] <args>\n")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "To get help on any command, use gitcore <command> -help or gitcore help <command>.\n")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\tcat-file     - print an object's type, size or contents\n")
	fmt.Fprintf(os.Stderr, "\thash-object  - hash (and optionally write) a blob from stdin or a file\n")
	fmt.Fprintf(os.Stderr, "\tlog          - walk commit history\n")
	fmt.Fprintf(os.Stderr, "\tmerge-base   - find the best common ancestor(s) of two commits\n")
	fmt.Fprintf(os.Stderr, "\tdiff-tree    - diff two tree objects\n")
	fmt.Fprintf(os.Stderr, "\tenv          - display repository discovery variables\n")
}

func main() {
	if err := funcmain(); err != nil {
		log.Fatal(xerrors.Errorf("%w", err))
	}
}

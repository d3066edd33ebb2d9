package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/distr1/dvcs/internal/revwalk"
	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"
)

const logHelp = `gitcore log [-flags] <rev>

Walk commit history starting at <rev> (a ref name, a full 40-character
object id, or an "A..B" range).

Example:
  % gitcore log HEAD
  % gitcore log -topo-order main..feature
`

func showLog(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("log", flag.ExitOnError)
	var (
		topoOrder = fset.Bool("topo-order", false, "emit a commit only after every one of its children")
		reverse   = fset.Bool("reverse", false, "emit the oldest commit first")
	)
	fset.Usage = usage(fset, logHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return xerrors.Errorf("syntax: log [-topo-order] [-reverse] <rev>")
	}

	r, err := openRepo()
	if err != nil {
		return err
	}
	defer r.Close()

	w := r.NewWalker()
	mode := revwalk.SortTime
	if *topoOrder {
		mode |= revwalk.SortTopological
	}
	if *reverse {
		mode |= revwalk.SortReverse
	}
	w.SetSorting(mode)

	spec := fset.Arg(0)
	if pushErr := pushRevSpec(w, spec); pushErr != nil {
		return pushErr
	}

	// A one-line "commits so far" counter is only useful when a human
	// is watching; piping output to a file or another process skips it
	// rather than interleaving carriage returns into the log text.
	showProgress := isatty.IsTerminal(os.Stdout.Fd())
	n := 0

	for {
		id, ok, err := w.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		n++
		if showProgress {
			fmt.Fprintf(os.Stderr, "\r%d commits...", n)
		}
		c, err := r.ReadCommit(id)
		if err != nil {
			return err
		}
		fmt.Printf("commit %s\n", id)
		fmt.Printf("Author: %s <%s>\n", c.Author.Name, c.Author.Email)
		fmt.Printf("Date:   %s\n", time.Unix(c.Committer.Timestamp, 0).UTC())
		fmt.Printf("\n    %s\n\n", firstLine(c.Message))
	}
	if showProgress {
		fmt.Fprint(os.Stderr, "\r")
	}
	return nil
}

// pushRevSpec pushes either an "A..B" range or a single rev onto w.
func pushRevSpec(w *revwalk.Walker, spec string) error {
	for i := 0; i+1 < len(spec); i++ {
		if spec[i] == '.' && spec[i+1] == '.' {
			return w.PushRange(spec)
		}
	}
	return w.PushRef(spec)
}

func firstLine(msg []byte) string {
	for i, b := range msg {
		if b == '\n' {
			return string(msg[:i])
		}
	}
	return string(msg)
}

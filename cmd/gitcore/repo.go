package main

import (
	"github.com/distr1/dvcs/internal/env"
	"github.com/distr1/dvcs/internal/repo"
)

// openRepo resolves the --git-dir flag (falling back to env.RepoRoot)
// and opens a repo.Repository on it.
func openRepo() (*repo.Repository, error) {
	dir := *gitDir
	if dir == "" {
		dir = env.RepoRoot
	}
	return repo.Open(dir)
}

// Package env captures details about the process environment relevant
// to locating a repository. Inspect it using `gitcore env`.
package env

import (
	"os"
	"path/filepath"
)

// RepoRoot is the root directory of the repository the current
// process should operate on, resolved once at process start.
var RepoRoot = findRepoRoot()

func findRepoRoot() string {
	if env := os.Getenv("GITCORE_DIR"); env != "" {
		return env
	}
	if wd, err := os.Getwd(); err == nil {
		if root, ok := discoverUpwards(wd); ok {
			return root
		}
	}
	return os.ExpandEnv("$HOME/.gitcore") // default, mirrors the fallback-to-$HOME pattern
}

// discoverUpwards walks from dir towards the filesystem root looking
// for a ".git"-shaped directory (HEAD plus objects/), the way the
// original tool's repository discovery does.
func discoverUpwards(dir string) (string, bool) {
	for {
		candidate := filepath.Join(dir, ".git")
		if looksLikeRepoDir(candidate) {
			return candidate, true
		}
		if looksLikeRepoDir(dir) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func looksLikeRepoDir(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "HEAD")); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, "objects")); err != nil {
		return false
	}
	return true
}

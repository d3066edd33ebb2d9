// Package repoconfig loads the handful of keys under a repository's
// config file's [core] section that the object/pack layer itself
// needs to know: whether the repository is bare, its on-disk format
// version, and the loose-object zlib compression level. Every other
// section (remotes, branches, user identity) belongs to the external
// configuration collaborator spec.md §1 scopes out of this module.
package repoconfig

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/distr1/dvcs/internal/gerr"
)

// Core holds the [core] section fields the ODB/pack layer consults.
type Core struct {
	Bare                    bool
	RepositoryFormatVersion int
	LooseCompression        int // -1 means "unset, use zlib's default"
}

// DefaultCore is what a freshly initialized repository's config would
// imply if no config file is present at all.
func DefaultCore() Core {
	return Core{RepositoryFormatVersion: 0, LooseCompression: -1}
}

// Load reads gitDir/config and returns its [core] section, applying
// DefaultCore for any key the file omits entirely or for a missing
// file (a valid, if minimal, repository state).
func Load(gitDir string) (Core, error) {
	c := DefaultCore()

	f, err := os.Open(filepath.Join(gitDir, "config"))
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, gerr.Wrap(gerr.IO, err, "repoconfig: opening config")
	}
	defer f.Close()

	section := ""
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(line, "["), "]"))
			continue
		}
		if section != "core" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "bare":
			c.Bare = val == "true"
		case "repositoryformatversion":
			if n, err := strconv.Atoi(val); err == nil {
				c.RepositoryFormatVersion = n
			}
		case "compression":
			if n, err := strconv.Atoi(val); err == nil {
				c.LooseCompression = n
			}
		}
	}
	if err := sc.Err(); err != nil {
		return c, gerr.Wrap(gerr.IO, err, "repoconfig: reading config")
	}
	return c, nil
}

package repoconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultCore()
	if c != want {
		t.Fatalf("got %+v, want %+v", c, want)
	}
}

func TestLoadParsesCoreSection(t *testing.T) {
	dir := t.TempDir()
	content := "[core]\n" +
		"\trepositoryformatversion = 0\n" +
		"\tbare = true\n" +
		"\tcompression = 6\n" +
		"[remote \"origin\"]\n" +
		"\turl = https://example.com/ignored.git\n"
	if err := os.WriteFile(filepath.Join(dir, "config"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Bare {
		t.Error("Bare = false, want true")
	}
	if c.RepositoryFormatVersion != 0 {
		t.Errorf("RepositoryFormatVersion = %d, want 0", c.RepositoryFormatVersion)
	}
	if c.LooseCompression != 6 {
		t.Errorf("LooseCompression = %d, want 6", c.LooseCompression)
	}
}

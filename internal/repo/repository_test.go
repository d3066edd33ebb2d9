package repo

import (
	"testing"

	"github.com/distr1/dvcs/internal/otype"
)

func TestOpenWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	id, err := r.DB.Write(otype.Blob, []byte("hello\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	typ, data, err := r.DB.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ != otype.Blob || string(data) != "hello\n" {
		t.Fatalf("got (%v, %q), want (blob, %q)", typ, data, "hello\n")
	}
}

func TestReadCommitRejectsNonCommit(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	id, err := r.DB.Write(otype.Blob, []byte("not a commit"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := r.ReadCommit(id); err == nil {
		t.Fatal("expected error reading a blob as a commit")
	}
}

func TestNewWalkerWalksPushedCommit(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	commitBody := "tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n" +
		"author Test <test@example.com> 1000000000 +0000\n" +
		"committer Test <test@example.com> 1000000000 +0000\n" +
		"\n" +
		"initial\n"
	id, err := r.DB.Write(otype.Commit, []byte(commitBody))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	w := r.NewWalker()
	if err := w.Push(id); err != nil {
		t.Fatalf("Push: %v", err)
	}
	got, ok, err := w.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok || got != id {
		t.Fatalf("got (%v, %v), want (%v, true)", got, ok, id)
	}
}

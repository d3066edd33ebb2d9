package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/distr1/dvcs/oid"
)

func mkoid(b byte) oid.ID {
	var id oid.ID
	id[oid.Size-1] = b
	return id
}

const (
	modeFile    = 0100644
	modeExec    = 0100755
	modeTreeDir = 0040000
)

func TestDiffAddedDeletedModified(t *testing.T) {
	old := []Entry{
		{Path: "a.txt", Mode: modeFile, OID: mkoid(1), Source: SourceTree},
		{Path: "b.txt", Mode: modeFile, OID: mkoid(2), Source: SourceTree},
		{Path: "d.txt", Mode: modeFile, OID: mkoid(4), Source: SourceTree},
	}
	new := []Entry{
		{Path: "b.txt", Mode: modeFile, OID: mkoid(2), Source: SourceTree}, // unmodified
		{Path: "c.txt", Mode: modeFile, OID: mkoid(3), Source: SourceTree}, // added
		{Path: "d.txt", Mode: modeFile, OID: mkoid(9), Source: SourceTree}, // modified
	}

	deltas, err := Diff(NewSliceIterator(old), NewSliceIterator(new), Options{})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	want := []Delta{
		{Status: StatusDeleted, Old: &old[0]},
		{Status: StatusAdded, New: &new[1]},
		{Status: StatusModified, Old: &old[2], New: &new[2]},
	}
	if diff := cmp.Diff(want, deltas); diff != "" {
		t.Fatalf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffIncludeUnmodified(t *testing.T) {
	old := []Entry{{Path: "a.txt", Mode: modeFile, OID: mkoid(1), Source: SourceTree}}
	new := []Entry{{Path: "a.txt", Mode: modeFile, OID: mkoid(1), Source: SourceTree}}

	deltas, err := Diff(NewSliceIterator(old), NewSliceIterator(new), Options{IncludeUnmodified: true})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Status != StatusUnmodified {
		t.Fatalf("got %+v, want one unmodified delta", deltas)
	}

	deltas, err = Diff(NewSliceIterator(old), NewSliceIterator(new), Options{})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(deltas) != 0 {
		t.Fatalf("got %+v, want no deltas when unmodified excluded", deltas)
	}
}

func TestDiffTypeChangeSplitsIntoDeleteAdd(t *testing.T) {
	old := []Entry{{Path: "a", Mode: modeFile, OID: mkoid(1), Source: SourceTree}}
	new := []Entry{{Path: "a", Mode: modeTreeDir, OID: mkoid(2), Source: SourceTree}}

	deltas, err := Diff(NewSliceIterator(old), NewSliceIterator(new), Options{})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	want := []Delta{
		{Status: StatusDeleted, Old: &old[0]},
		{Status: StatusAdded, New: &new[0]},
	}
	if diff := cmp.Diff(want, deltas); diff != "" {
		t.Fatalf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffUntrackedWorkdirEntrySkippedByDefault(t *testing.T) {
	old := []Entry{}
	new := []Entry{{Path: "scratch.tmp", Mode: modeFile, Source: SourceWorkdir, Untracked: true}}

	deltas, err := Diff(NewSliceIterator(old), NewSliceIterator(new), Options{})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(deltas) != 0 {
		t.Fatalf("got %+v, want untracked entry suppressed", deltas)
	}

	deltas, err = Diff(NewSliceIterator(old), NewSliceIterator(new), Options{IncludeUntracked: true})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Status != StatusUntracked {
		t.Fatalf("got %+v, want one untracked delta", deltas)
	}
}

func TestDiffWorkdirStatShortcutAvoidsHash(t *testing.T) {
	stat := &StatInfo{Size: 10}
	old := []Entry{{Path: "a.txt", Mode: modeFile, OID: mkoid(1), Size: 10, Source: SourceIndex, Stat: stat}}
	new := []Entry{{Path: "a.txt", Mode: modeFile, Size: 10, Source: SourceWorkdir, Stat: stat}}

	called := false
	hash := func(e Entry) (Entry, error) {
		called = true
		e.OID = mkoid(99)
		return e, nil
	}

	deltas, err := Diff(NewSliceIterator(old), NewSliceIterator(new), Options{HashFile: hash})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if called {
		t.Fatal("HashFile should not be called when stat info matches")
	}
	if len(deltas) != 0 {
		t.Fatalf("got %+v, want unmodified (suppressed)", deltas)
	}
}

func TestDiffWorkdirSizeMismatchIsModified(t *testing.T) {
	old := []Entry{{Path: "a.txt", Mode: modeFile, OID: mkoid(1), Size: 10, Source: SourceIndex, Stat: &StatInfo{Size: 10}}}
	new := []Entry{{Path: "a.txt", Mode: modeFile, Size: 10, Source: SourceWorkdir, Stat: &StatInfo{Size: 11}}}

	deltas, err := Diff(NewSliceIterator(old), NewSliceIterator(new), Options{})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(deltas) != 1 || deltas[0].Status != StatusModified {
		t.Fatalf("got %+v, want one modified delta (size mismatch)", deltas)
	}
}

func TestDiffReverse(t *testing.T) {
	old := []Entry{{Path: "a.txt", Mode: modeFile, OID: mkoid(1), Source: SourceTree}}
	new := []Entry{{Path: "b.txt", Mode: modeFile, OID: mkoid(2), Source: SourceTree}}

	deltas, err := Diff(NewSliceIterator(old), NewSliceIterator(new), Options{Reverse: true})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	// Reverse swaps the sides and flips Added/Deleted, then reverses
	// the emission order: b.txt (now "deleted") comes before a.txt (now
	// "added").
	want := []Delta{
		{Status: StatusDeleted, Old: &new[0]},
		{Status: StatusAdded, New: &old[0]},
	}
	if diff := cmp.Diff(want, deltas); diff != "" {
		t.Fatalf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeIndexToWorkdirUnmodifiedTakesWorkdirStatus(t *testing.T) {
	idxToTree := []Delta{
		{Status: StatusUnmodified, Old: &Entry{Path: "a.txt"}, New: &Entry{Path: "a.txt"}},
		{Status: StatusModified, Old: &Entry{Path: "b.txt"}, New: &Entry{Path: "b.txt"}},
	}
	workdirToIdx := []Delta{
		{Status: StatusModified, Old: &Entry{Path: "a.txt"}, New: &Entry{Path: "a.txt"}},
		{Status: StatusUnmodified, Old: &Entry{Path: "b.txt"}, New: &Entry{Path: "b.txt"}},
		{Status: StatusUntracked, New: &Entry{Path: "c.txt"}},
	}

	merged := MergeIndexToWorkdir(idxToTree, workdirToIdx)

	want := []Delta{
		workdirToIdx[0], // a.txt: workdir overrides the unmodified index side
		idxToTree[1],    // b.txt: index side kept, workdir side unmodified
		workdirToIdx[2], // c.txt: new path introduced by the workdir side
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Fatalf("MergeIndexToWorkdir() mismatch (-want +got):\n%s", diff)
	}
}

package diff

// MergeIndexToWorkdir combines an index-to-tree diff with a
// workdir-to-index diff into a single tree-to-workdir view, the way
// the original tool's git_diff_merge combines two deltalists: for any
// path the index-to-tree side reports unmodified, the workdir side's
// classification (including untracked/ignored) wins; otherwise the
// index-to-tree side's delta is kept, and paths workdirToIdx
// introduces that idxToTree never saw are appended as-is.
func MergeIndexToWorkdir(idxToTree, workdirToIdx []Delta) []Delta {
	byPath := make(map[string]Delta, len(idxToTree))
	order := make([]string, 0, len(idxToTree))
	for _, d := range idxToTree {
		p := d.Path()
		if _, seen := byPath[p]; !seen {
			order = append(order, p)
		}
		byPath[p] = d
	}

	for _, d := range workdirToIdx {
		p := d.Path()
		existing, ok := byPath[p]
		if !ok {
			order = append(order, p)
			byPath[p] = d
			continue
		}
		if existing.Status == StatusUnmodified {
			byPath[p] = d
		}
	}

	out := make([]Delta, 0, len(order))
	for _, p := range order {
		out = append(out, byPath[p])
	}
	return out
}

package revwalk

import (
	"container/heap"

	"github.com/distr1/dvcs/oid"
)

// mbState is the per-call merge-base scratch state, kept out of
// commitNode so concurrent or repeated MergeBase calls never leak
// flags into each other or into the main walk.
type mbState struct {
	parent1, parent2, stale, result bool
}

// MergeBase returns every best common ancestor of a and bs: commits
// reachable from a and from every b in bs, none of which is itself an
// ancestor of another result (spec's PARENT1/PARENT2/STALE/RESULT
// flag-propagation algorithm).
func (w *Walker) MergeBase(a oid.ID, bs []oid.ID) ([]oid.ID, error) {
	for _, b := range bs {
		if b == a {
			return []oid.ID{a}, nil
		}
	}

	state := make(map[oid.ID]*mbState)
	get := func(id oid.ID) *mbState {
		s, ok := state[id]
		if !ok {
			s = &mbState{}
			state[id] = s
		}
		return s
	}

	h := &nodeHeap{}
	heap.Init(h)
	push := func(id oid.ID) error {
		n := w.intern(id)
		if err := w.load(n); err != nil {
			return err
		}
		heap.Push(h, heapItem{id: id, when: n.when})
		return nil
	}

	get(a).parent1 = true
	if err := push(a); err != nil {
		return nil, err
	}
	for _, b := range bs {
		get(b).parent2 = true
		if err := push(b); err != nil {
			return nil, err
		}
	}

	var results []oid.ID
	for h.Len() > 0 {
		item := heap.Pop(h).(heapItem)
		id := item.id
		s := get(id)
		if s.stale {
			continue
		}
		n := w.nodes[id]

		if s.parent1 && s.parent2 && !s.result {
			s.result = true
			results = append(results, id)
			for _, p := range n.parents {
				get(p).stale = true
			}
		}

		for _, p := range n.parents {
			ps := get(p)
			if ps.parent1 && ps.parent2 {
				continue // already fully flagged, nothing new to learn
			}
			changed := false
			if s.parent1 && !ps.parent1 {
				ps.parent1 = true
				changed = true
			}
			if s.parent2 && !ps.parent2 {
				ps.parent2 = true
				changed = true
			}
			if !changed {
				continue
			}
			if err := push(p); err != nil {
				return nil, err
			}
		}
	}

	var out []oid.ID
	for _, id := range results {
		if !get(id).stale {
			out = append(out, id)
		}
	}
	return out, nil
}

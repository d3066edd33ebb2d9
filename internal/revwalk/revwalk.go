// Package revwalk walks a commit DAG lazily loaded through an object
// reader, the way spec's revision walker intersects pushed/hidden
// tips with TIME/TOPOLOGICAL/REVERSE sort modes, and computes
// merge-bases between tips. Topological ordering is built on
// gonum's graph/simple and graph/topo, the same pair the source
// repository uses for its build-order sort.
package revwalk

import (
	"container/heap"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/distr1/dvcs/internal/gerr"
	"github.com/distr1/dvcs/internal/object"
	"github.com/distr1/dvcs/oid"
)

// CommitReader loads and parses a commit by OID. odb.DB plus
// object.ParseCommit satisfy this via a small adapter in the caller.
type CommitReader interface {
	ReadCommit(id oid.ID) (*object.Commit, error)
}

// Resolver resolves symbolic reference names and glob patterns to
// OIDs, standing in for the external reference-storage collaborator
// spec.md scopes out of this module.
type Resolver interface {
	ResolveRef(name string) (oid.ID, error)
	Glob(pattern string) ([]string, error)
}

// SortMode is the bitmask of output orderings a Walker can apply.
type SortMode int

const (
	// SortTime orders output by committer time, newest first.
	SortTime SortMode = 1 << iota
	// SortTopological ensures a commit is only yielded after every one
	// of its children already has been.
	SortTopological
	// SortReverse emits the otherwise-computed order back to front.
	SortReverse
)

// commitNode is the walker's interned, arena-held view of one commit.
// Nodes are never freed once allocated; the whole arena is dropped
// together with the Walker.
type commitNode struct {
	index int64 // stable gonum graph.Node ID

	id      oid.ID
	parents []oid.ID
	when    int64

	loaded        bool
	uninteresting bool
}

// ID implements graph.Node.
func (n *commitNode) ID() int64 { return n.index }

// Walker walks a commit DAG according to pushed/hidden tips and a
// configured SortMode.
type Walker struct {
	reader   CommitReader
	resolver Resolver
	mode     SortMode

	nodes   map[oid.ID]*commitNode
	arena   []*commitNode
	pushed  []oid.ID
	hiddenT []oid.ID

	prepared bool
	output   []oid.ID
	pos      int
}

// New creates a Walker reading commits through reader. resolver may be
// nil if the caller never invokes PushRef/HideRef/PushGlob/HideGlob.
func New(reader CommitReader, resolver Resolver) *Walker {
	return &Walker{
		reader:   reader,
		resolver: resolver,
		nodes:    make(map[oid.ID]*commitNode),
	}
}

// SetSorting configures the output ordering. Must be called before the
// first Next.
func (w *Walker) SetSorting(mode SortMode) { w.mode = mode }

// intern returns the arena node for id, allocating one (unloaded) if
// this is the first time id has been seen.
func (w *Walker) intern(id oid.ID) *commitNode {
	if n, ok := w.nodes[id]; ok {
		return n
	}
	n := &commitNode{index: int64(len(w.arena)), id: id}
	w.arena = append(w.arena, n)
	w.nodes[id] = n
	return n
}

// load ensures n's parents/time are populated from the underlying
// commit object, parsing it at most once per node.
func (w *Walker) load(n *commitNode) error {
	if n.loaded {
		return nil
	}
	c, err := w.reader.ReadCommit(n.id)
	if err != nil {
		return err
	}
	n.parents = c.Parents
	n.when = c.Committer.Timestamp
	n.loaded = true
	return nil
}

// Push marks id as an interesting tip.
func (w *Walker) Push(id oid.ID) error {
	n := w.intern(id)
	if err := w.load(n); err != nil {
		return err
	}
	w.pushed = append(w.pushed, id)
	w.prepared = false
	return nil
}

// Hide marks id and every one of its ancestors uninteresting. The
// closure is computed eagerly here (rather than lazily during the
// walk, as spec's per-step pseudocode does it) since the commit DAG
// is finite and acyclic; the two are equivalent for the reachability
// definition of "uninteresting" this module uses.
func (w *Walker) Hide(id oid.ID) error {
	stack := []oid.ID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := w.intern(cur)
		if n.uninteresting {
			continue
		}
		if err := w.load(n); err != nil {
			return err
		}
		n.uninteresting = true
		stack = append(stack, n.parents...)
	}
	w.hiddenT = append(w.hiddenT, id)
	w.prepared = false
	return nil
}

// PushRef resolves name through the configured Resolver and pushes it.
func (w *Walker) PushRef(name string) error {
	id, err := w.resolveRef(name)
	if err != nil {
		return err
	}
	return w.Push(id)
}

// HideRef resolves name through the configured Resolver and hides it.
func (w *Walker) HideRef(name string) error {
	id, err := w.resolveRef(name)
	if err != nil {
		return err
	}
	return w.Hide(id)
}

func (w *Walker) resolveRef(name string) (oid.ID, error) {
	if w.resolver == nil {
		return oid.ID{}, gerr.New(gerr.Unsupported, "revwalk: no reference resolver configured")
	}
	return w.resolver.ResolveRef(name)
}

// PushGlob pushes every reference matching pattern.
func (w *Walker) PushGlob(pattern string) error {
	names, err := w.globRefs(pattern)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := w.PushRef(name); err != nil {
			return err
		}
	}
	return nil
}

// HideGlob hides every reference matching pattern.
func (w *Walker) HideGlob(pattern string) error {
	names, err := w.globRefs(pattern)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := w.HideRef(name); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) globRefs(pattern string) ([]string, error) {
	if w.resolver == nil {
		return nil, gerr.New(gerr.Unsupported, "revwalk: no reference resolver configured")
	}
	return w.resolver.Glob(pattern)
}

// PushRange parses a "A..B" range expression exactly as push(B);
// hide(A) — an additive operation this module adds beyond spec.md,
// grounded in the original tool's git_revwalk_push_range composing the
// same two primitives.
func (w *Walker) PushRange(rangeExpr string) error {
	a, b, err := splitRange(rangeExpr)
	if err != nil {
		return err
	}
	aID, err := w.resolveRef(a)
	if err != nil {
		return err
	}
	bID, err := w.resolveRef(b)
	if err != nil {
		return err
	}
	if err := w.Push(bID); err != nil {
		return err
	}
	return w.Hide(aID)
}

func splitRange(s string) (a, b string, err error) {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			return s[:i], s[i+2:], nil
		}
	}
	return "", "", gerr.New(gerr.Corrupt, "revwalk: %q is not an A..B range", s)
}

// Next returns the next commit in the configured order. ok is false
// (with a nil error) on normal exhaustion, matching spec's "Over is
// distinct from error" requirement as a Go iterator idiom instead of a
// raised sentinel.
func (w *Walker) Next() (oid.ID, bool, error) {
	if !w.prepared {
		if err := w.prepare(); err != nil {
			return oid.ID{}, false, err
		}
	}
	if w.pos >= len(w.output) {
		return oid.ID{}, false, nil
	}
	id := w.output[w.pos]
	w.pos++
	return id, true, nil
}

// prepare performs the reachability walk from every pushed tip,
// excludes uninteresting commits and orders the remainder per mode.
func (w *Walker) prepare() error {
	visited := make(map[oid.ID]bool)
	var order []oid.ID // BFS discovery order, the "unsorted" default
	queue := append([]oid.ID(nil), w.pushed...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		n := w.intern(id)
		if err := w.load(n); err != nil {
			return err
		}
		order = append(order, id)
		queue = append(queue, n.parents...)
	}

	var candidates []oid.ID
	for _, id := range order {
		if !w.nodes[id].uninteresting {
			candidates = append(candidates, id)
		}
	}

	out, err := w.order(candidates)
	if err != nil {
		return err
	}
	if w.mode&SortReverse != 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	w.output = out
	w.pos = 0
	w.prepared = true
	return nil
}

// order applies SortTime/SortTopological to candidates (already
// discovery-ordered and uninteresting-filtered).
func (w *Walker) order(candidates []oid.ID) ([]oid.ID, error) {
	switch {
	case w.mode&SortTopological != 0 && w.mode&SortTime != 0:
		return w.topoTimeOrder(candidates)
	case w.mode&SortTopological != 0:
		return w.topoOrder(candidates)
	case w.mode&SortTime != 0:
		out := append([]oid.ID(nil), candidates...)
		sort.SliceStable(out, func(i, j int) bool {
			return w.nodes[out[i]].when > w.nodes[out[j]].when
		})
		return out, nil
	default:
		return candidates, nil
	}
}

// buildGraph builds the child->parent edge graph restricted to
// candidates, so that gonum's topological sort (which places edge
// sources before their targets) naturally yields "a commit only after
// all its children" order.
func (w *Walker) buildGraph(candidates []oid.ID) (*simple.DirectedGraph, map[int64]oid.ID) {
	g := simple.NewDirectedGraph()
	inSet := make(map[oid.ID]bool, len(candidates))
	for _, id := range candidates {
		inSet[id] = true
	}
	byIndex := make(map[int64]oid.ID, len(candidates))
	for _, id := range candidates {
		n := w.nodes[id]
		g.AddNode(n)
		byIndex[n.index] = id
	}
	for _, id := range candidates {
		n := w.nodes[id]
		for _, p := range n.parents {
			if !inSet[p] {
				continue
			}
			pn := w.nodes[p]
			g.SetEdge(g.NewEdge(n, pn))
		}
	}
	return g, byIndex
}

func (w *Walker) topoOrder(candidates []oid.ID) ([]oid.ID, error) {
	g, byIndex := w.buildGraph(candidates)
	nodes, err := topo.Sort(g)
	if err != nil {
		// A commit DAG has no cycles; a cyclic result here would mean
		// corrupted parent data, not a real topology.
		return nil, gerr.Wrap(gerr.Corrupt, err, "revwalk: commit graph is not a DAG")
	}
	out := make([]oid.ID, len(nodes))
	for i, gn := range nodes {
		out[i] = byIndex[gn.ID()]
	}
	return out, nil
}

// heapItem is one ready-to-emit node in the topo+time tie-break heap.
type heapItem struct {
	id   oid.ID
	when int64
}

type nodeHeap []heapItem

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].when > h[j].when } // newest first
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topoTimeOrder implements the TOPOLOGICAL|TIME combination: Kahn's
// algorithm over the same child->parent graph, with ties among
// simultaneously-ready commits broken by committer time, newest
// first, matching spec's "ties broken by time when combined with TIME".
func (w *Walker) topoTimeOrder(candidates []oid.ID) ([]oid.ID, error) {
	g, _ := w.buildGraph(candidates)

	inDegree := make(map[int64]int, len(candidates))
	for _, id := range candidates {
		n := w.nodes[id]
		it := g.To(n.ID())
		inDegree[n.ID()] = it.Len()
	}

	h := &nodeHeap{}
	heap.Init(h)
	for _, id := range candidates {
		n := w.nodes[id]
		if inDegree[n.ID()] == 0 {
			heap.Push(h, heapItem{id: id, when: n.when})
		}
	}

	out := make([]oid.ID, 0, len(candidates))
	for h.Len() > 0 {
		item := heap.Pop(h).(heapItem)
		out = append(out, item.id)
		n := w.nodes[item.id]
		parents := g.From(n.ID())
		for parents.Next() {
			pn := parents.Node().(*commitNode)
			inDegree[pn.ID()]--
			if inDegree[pn.ID()] == 0 {
				heap.Push(h, heapItem{id: pn.id, when: pn.when})
			}
		}
	}
	if len(out) != len(candidates) {
		return nil, gerr.New(gerr.Corrupt, "revwalk: commit graph is not a DAG")
	}
	return out, nil
}

var _ graph.Node = (*commitNode)(nil)

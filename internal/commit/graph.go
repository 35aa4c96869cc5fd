package commit

import "sort"

// GraphIndex is an in-memory mapping ref -> commit plus the current set
// of heads (commits with no known children). It is exclusively owned by
// a single engine; no synchronization is provided here.
type GraphIndex struct {
	commits map[Ref]*Commit
	heads   map[Ref]struct{}
}

// NewGraphIndex returns an empty index.
func NewGraphIndex() *GraphIndex {
	return &GraphIndex{
		commits: make(map[Ref]*Commit),
		heads:   make(map[Ref]struct{}),
	}
}

// Get returns the commit for ref, or nil if unknown.
func (g *GraphIndex) Get(ref Ref) *Commit {
	return g.commits[ref]
}

// Has reports whether ref is present in the index.
func (g *GraphIndex) Has(ref Ref) bool {
	_, ok := g.commits[ref]
	return ok
}

// Len returns the number of commits in the index.
func (g *GraphIndex) Len() int { return len(g.commits) }

// Add inserts c into the index. Any parent of c that was a head is
// removed from the head set, and c's ref is always added as a head: Add
// does not check whether an already-inserted commit names c as a
// parent, since commits are added in a topological order enforced by
// the local store's closure invariant (parents exist before children).
//
// Add is idempotent: re-adding a ref already present is a no-op and
// returns false.
func (g *GraphIndex) Add(c *Commit) (added bool) {
	if _, exists := g.commits[c.Ref]; exists {
		return false
	}
	g.commits[c.Ref] = c
	for _, p := range c.Parents() {
		delete(g.heads, p)
	}
	g.heads[c.Ref] = struct{}{}
	return true
}

// Heads returns the current head refs, sorted lexicographically for
// deterministic iteration.
func (g *GraphIndex) Heads() []Ref {
	out := make([]Ref, 0, len(g.heads))
	for r := range g.heads {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetHeads replaces the head set wholesale. Used by the engine after
// collapsing two heads into a merge commit.
func (g *GraphIndex) SetHeads(heads []Ref) {
	g.heads = make(map[Ref]struct{}, len(heads))
	for _, h := range heads {
		g.heads[h] = struct{}{}
	}
}

// ancestorDepths walks backward from start breadth-first, following
// BaseRef then MergeRef, and returns the shortest distance from start
// to every reachable commit, including start itself (depth 0).
func (g *GraphIndex) ancestorDepths(start Ref) map[Ref]int {
	depths := make(map[Ref]int)
	type item struct {
		ref   Ref
		depth int
	}
	queue := []item{{start, 0}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if d, seen := depths[it.ref]; seen && d >= it.depth {
			continue
		}
		depths[it.ref] = it.depth
		c := g.commits[it.ref]
		if c == nil {
			continue
		}
		for _, p := range c.Parents() {
			queue = append(queue, item{p, it.depth + 1})
		}
	}
	return depths
}

// LowestCommonAncestor finds the lowest common ancestor of left and
// right per spec.md §4.5 step 2: the commit reachable from both with
// maximum depth (i.e. closest to both heads); ties broken by
// lexicographically smallest ref.
//
// Returns "" if left and right share no common ancestor (only possible
// if the graph has multiple disconnected roots, which normal operation
// never produces since every engine starts from the same root set, but
// the engine must not panic if it does happen).
func (g *GraphIndex) LowestCommonAncestor(left, right Ref) Ref {
	leftDepths := g.ancestorDepths(left)
	rightDepths := g.ancestorDepths(right)

	bestDepth := -1
	var best Ref
	for ref, ld := range leftDepths {
		rd, ok := rightDepths[ref]
		if !ok {
			continue
		}
		// "Maximum depth" here means minimum sum of distances from the
		// two heads, i.e. the commit nearest both: the candidate with
		// the smallest ld+rd, tie-broken by smallest ref.
		score := ld + rd
		if bestDepth == -1 || score < bestDepth || (score == bestDepth && ref < best) {
			bestDepth = score
			best = ref
		}
	}
	return best
}

// DocOf walks from root to ref applying patch(prev, delta) at each step
// via the supplied apply function, memoizing intermediate results in
// memo. For a merge commit, apply is called on the commit's BaseRef
// parent's doc per spec.md §3 ("its delta is applied to its baseRef's
// doc").
//
// DocOf is generic over the document representation: the caller passes
// in how to apply a single commit's delta to a parent doc.
func (g *GraphIndex) DocOf(ref Ref, memo map[Ref]any, apply func(prevDoc any, c *Commit) (any, error)) (any, error) {
	if ref == "" {
		return nil, nil
	}
	if d, ok := memo[ref]; ok {
		return d, nil
	}
	c := g.commits[ref]
	if c == nil {
		return nil, errUnknownRef(ref)
	}
	var prevDoc any
	var err error
	if c.IsRoot() {
		prevDoc = nil
	} else {
		// Both the linear-edit and merge cases apply against BaseRef's
		// doc; a merge's delta already encodes the reconciliation with
		// MergeRef's side (see differ.Merge).
		prevDoc, err = g.DocOf(c.BaseRef, memo, apply)
		if err != nil {
			return nil, err
		}
	}
	doc, err := apply(prevDoc, c)
	if err != nil {
		return nil, err
	}
	memo[ref] = doc
	return doc, nil
}

type errUnknownRef Ref

func (e errUnknownRef) Error() string { return "commit: unknown ref " + string(e) }

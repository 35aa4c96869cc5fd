package commit

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func root(ref Ref, delta string) *Commit {
	return &Commit{Ref: ref, Delta: []byte(delta), UserID: "u1", ClientID: "c1"}
}

func edit(ref, base Ref, delta string) *Commit {
	return &Commit{Ref: ref, BaseRef: base, Delta: []byte(delta), UserID: "u1", ClientID: "c1"}
}

func TestGraphIndexAddIdempotentAndHeads(t *testing.T) {
	g := NewGraphIndex()

	r := root("a", "root")
	if !g.Add(r) {
		t.Fatalf("Add(a) should report added on first insertion")
	}
	if g.Add(r) {
		t.Fatalf("Add(a) should be a no-op on re-insertion")
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	if got := g.Heads(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Heads() = %v, want [a]", got)
	}

	b := edit("b", "a", "edit-b")
	g.Add(b)
	// a is no longer a head: b claimed it as a parent.
	if got := g.Heads(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("Heads() after child insert = %v, want [b]", got)
	}
}

func TestGraphIndexHeadsSortedLexicographically(t *testing.T) {
	g := NewGraphIndex()
	g.Add(root("a", "root"))
	g.Add(edit("z-child", "a", "z"))
	g.Add(edit("b-child", "a", "b"))

	got := g.Heads()
	want := []Ref{"b-child", "z-child"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Heads() mismatch (-want +got):\n%s", diff)
	}
}

func TestGraphIndexLowestCommonAncestor(t *testing.T) {
	g := NewGraphIndex()
	g.Add(root("r", "root"))
	g.Add(edit("l1", "r", "l1"))
	g.Add(edit("l2", "l1", "l2"))
	g.Add(edit("r1", "r", "r1"))

	if got := g.LowestCommonAncestor("l2", "r1"); got != "r" {
		t.Fatalf("LowestCommonAncestor(l2, r1) = %q, want r", got)
	}
	// A ref merged against itself has itself as its own nearest ancestor.
	if got := g.LowestCommonAncestor("l2", "l2"); got != "l2" {
		t.Fatalf("LowestCommonAncestor(l2, l2) = %q, want l2", got)
	}
}

func TestGraphIndexLowestCommonAncestorDisconnected(t *testing.T) {
	g := NewGraphIndex()
	g.Add(root("r1", "root1"))
	g.Add(root("r2", "root2"))

	if got := g.LowestCommonAncestor("r1", "r2"); got != "" {
		t.Fatalf("LowestCommonAncestor across disconnected roots = %q, want \"\"", got)
	}
}

func TestGraphIndexDocOfAppliesAlongBaseChain(t *testing.T) {
	g := NewGraphIndex()
	g.Add(root("r", `{"set":[{"k":"x","v":1}]}`))
	g.Add(edit("c1", "r", `{"set":[{"k":"y","v":2}]}`))

	var applied []Ref
	apply := func(prevDoc any, c *Commit) (any, error) {
		applied = append(applied, c.Ref)
		return string(c.Delta), nil
	}

	memo := make(map[Ref]any)
	doc, err := g.DocOf("c1", memo, apply)
	if err != nil {
		t.Fatalf("DocOf: %v", err)
	}
	if doc != `{"set":[{"k":"y","v":2}]}` {
		t.Fatalf("DocOf result = %v", doc)
	}
	if diff := cmp.Diff([]Ref{"r", "c1"}, applied); diff != "" {
		t.Fatalf("apply order mismatch (-want +got):\n%s", diff)
	}

	// A second DocOf call for the same ref must hit the memo, not re-apply.
	applied = nil
	if _, err := g.DocOf("c1", memo, apply); err != nil {
		t.Fatalf("DocOf (memoized): %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("DocOf re-applied a memoized ref: %v", applied)
	}
}

func TestGraphIndexDocOfUnknownRef(t *testing.T) {
	g := NewGraphIndex()
	_, err := g.DocOf("missing", make(map[Ref]any), func(any, *Commit) (any, error) {
		return nil, nil
	})
	if err == nil {
		t.Fatal("DocOf(missing ref) should return an error")
	}
	var unk errUnknownRef
	if !errors.As(err, &unk) {
		t.Fatalf("DocOf(missing ref) error = %v, want errUnknownRef", err)
	}
}

func TestComputeRefDeterministicAndSensitiveToInputs(t *testing.T) {
	r1 := ComputeRef("base", "", "", []byte("delta"), nil)
	r2 := ComputeRef("base", "", "", []byte("delta"), nil)
	if r1 != r2 {
		t.Fatalf("ComputeRef is not deterministic: %q != %q", r1, r2)
	}

	r3 := ComputeRef("base", "", "", []byte("different-delta"), nil)
	if r1 == r3 {
		t.Fatalf("ComputeRef collided across different deltas")
	}

	r4 := ComputeRef("other-base", "", "", []byte("delta"), nil)
	if r1 == r4 {
		t.Fatalf("ComputeRef collided across different base refs")
	}
}

func TestCommitParentsAndPredicates(t *testing.T) {
	r := Commit{Ref: "r"}
	if !r.IsRoot() || r.IsMerge() || len(r.Parents()) != 0 {
		t.Fatalf("root commit classified wrong: isRoot=%v isMerge=%v parents=%v", r.IsRoot(), r.IsMerge(), r.Parents())
	}

	e := Commit{Ref: "e", BaseRef: "r"}
	if e.IsRoot() || e.IsMerge() {
		t.Fatalf("linear edit classified wrong: isRoot=%v isMerge=%v", e.IsRoot(), e.IsMerge())
	}
	if diff := cmp.Diff([]Ref{"r"}, e.Parents()); diff != "" {
		t.Fatalf("linear edit Parents() mismatch (-want +got):\n%s", diff)
	}

	m := Commit{Ref: "m", BaseRef: "l", MergeRef: "r", MergeBaseRef: "b"}
	if !m.IsMerge() {
		t.Fatalf("merge commit not classified as merge")
	}
	if diff := cmp.Diff([]Ref{"l", "r"}, m.Parents()); diff != "" {
		t.Fatalf("merge Parents() mismatch (-want +got):\n%s", diff)
	}
}

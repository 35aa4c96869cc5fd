package jsonmerge

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiffPatchRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		old  Doc
		new  Doc
	}{
		{"no change", Doc{"a": 1.0}, Doc{"a": 1.0}},
		{"set new key", Doc{}, Doc{"a": 1.0}},
		{"change value", Doc{"a": 1.0}, Doc{"a": 2.0}},
		{"delete key", Doc{"a": 1.0, "b": 2.0}, Doc{"a": 1.0}},
		{"set and delete together", Doc{"a": 1.0, "b": 2.0}, Doc{"a": 1.0, "c": 3.0}},
		{"empty to empty", Doc{}, Doc{}},
	}

	d := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, err := d.Diff(tt.old, tt.new)
			if err != nil {
				t.Fatalf("Diff: %v", err)
			}
			got, err := d.Patch(tt.old, delta)
			if err != nil {
				t.Fatalf("Patch: %v", err)
			}
			if diff := cmp.Diff(tt.new, got); diff != "" {
				t.Errorf("Diff-then-Patch round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiffNilDeltaWhenUnchanged(t *testing.T) {
	d := New()
	delta, err := d.Diff(Doc{"a": 1.0}, Doc{"a": 1.0})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if delta != nil {
		t.Fatalf("Diff of identical docs = %q, want nil", delta)
	}
}

func TestMergeNonConflictingChangesUnionCleanly(t *testing.T) {
	base := Doc{"x": 1.0, "y": 1.0}
	left := Doc{"x": 2.0, "y": 1.0}  // changed x only
	right := Doc{"x": 1.0, "y": 2.0} // changed y only

	d := New()
	result, err := d.Merge(base, left, right)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := Doc{"x": 2.0, "y": 2.0}
	if diff := cmp.Diff(want, result.Doc); diff != "" {
		t.Fatalf("Merge result mismatch (-want +got):\n%s", diff)
	}
	if result.Temp {
		t.Fatal("Merge of non-conflicting changes should not be Temp")
	}
}

func TestMergeTrueConflictPrefersRight(t *testing.T) {
	base := Doc{"x": 1.0}
	left := Doc{"x": 2.0}
	right := Doc{"x": 3.0}

	d := New()
	result, err := d.Merge(base, left, right)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := Doc{"x": 3.0}
	if diff := cmp.Diff(want, result.Doc); diff != "" {
		t.Fatalf("conflicting merge should prefer right side (-want +got):\n%s", diff)
	}
}

func TestMergeDeletionOnBothSidesIsRespected(t *testing.T) {
	base := Doc{"x": 1.0, "keep": true}
	left := Doc{"keep": true}  // deleted x
	right := Doc{"keep": true} // also deleted x

	d := New()
	result, err := d.Merge(base, left, right)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := Doc{"keep": true}
	if diff := cmp.Diff(want, result.Doc); diff != "" {
		t.Fatalf("Merge result mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeDeleteVsModifyConflictKeepsModification(t *testing.T) {
	base := Doc{"x": 1.0}
	left := Doc{} // deleted x
	right := Doc{"x": 2.0} // modified x

	d := New()
	result, err := d.Merge(base, left, right)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	// Right side (the side being merged in) changed x from base, left only
	// deleted it: deletion vs modification resolves to equalOrMissing(base,
	// right) being false (right changed) and equalOrMissing(base, left)
	// being false too (left deleted), so this is the true-conflict branch,
	// and right wins.
	want := Doc{"x": 2.0}
	if diff := cmp.Diff(want, result.Doc); diff != "" {
		t.Fatalf("Merge result mismatch (-want +got):\n%s", diff)
	}
}

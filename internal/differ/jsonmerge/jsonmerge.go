// Package jsonmerge is weave's reference Differ: documents are flat
// map[string]any objects, deltas are JSON patches recording set/delete
// key operations, and merges union keys with last-writer-wins on true
// conflicts.
//
// This is the differ used by weave's own tests; host applications are expected to supply their own Differ tuned to
// their document model (rich text, structured trees, etc).
package jsonmerge

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/differ"
)

// Doc is the document type this differ operates on.
type Doc = map[string]any

// delta is the wire format of a jsonmerge change: keys to set (to their
// new value) and keys to delete.
type delta struct {
	Set []kv    `json:"set,omitempty"`
	Del []string `json:"del,omitempty"`
}

type kv struct {
	Key   string `json:"k"`
	Value any    `json:"v"`
}

// Differ is the stateless jsonmerge implementation.
type Differ struct{}

// New returns a jsonmerge Differ.
func New() Differ { return Differ{} }

// Migrate is a no-op: jsonmerge documents have no schema versioning of
// their own (see internal/differ/schemaver for the optional gate a host
// can layer on top).
func (Differ) Migrate(doc any, metadata []byte) (any, []byte, error) {
	return asDoc(doc), metadata, nil
}

// Diff returns a delta recording which keys changed or were removed
// between oldDoc and newDoc, or a nil delta if nothing changed.
func (Differ) Diff(oldDocAny, newDocAny any) ([]byte, error) {
	oldDoc := asDoc(oldDocAny)
	newDoc := asDoc(newDocAny)

	var d delta
	for k, nv := range newDoc {
		ov, existed := oldDoc[k]
		if !existed || !deepEqual(ov, nv) {
			d.Set = append(d.Set, kv{Key: k, Value: nv})
		}
	}
	for k := range oldDoc {
		if _, stillThere := newDoc[k]; !stillThere {
			d.Del = append(d.Del, k)
		}
	}
	if len(d.Set) == 0 && len(d.Del) == 0 {
		return nil, nil
	}
	sortDelta(&d)
	return json.Marshal(d)
}

// Patch applies delta to doc.
func (Differ) Patch(docAny any, deltaBytes []byte) (any, error) {
	doc := cloneDoc(asDoc(docAny))
	if len(deltaBytes) == 0 {
		return doc, nil
	}
	var d delta
	if err := json.Unmarshal(deltaBytes, &d); err != nil {
		return nil, fmt.Errorf("jsonmerge: patch: %w", err)
	}
	for _, s := range d.Set {
		doc[s.Key] = s.Value
	}
	for _, k := range d.Del {
		delete(doc, k)
	}
	return doc, nil
}

// ComputeRef delegates to commit.ComputeRef, weave's default
// content-addressing scheme.
func (Differ) ComputeRef(baseRef, mergeRef, mergeBaseRef commit.Ref, delta, editMetadata []byte) commit.Ref {
	return commit.ComputeRef(baseRef, mergeRef, mergeBaseRef, delta, editMetadata)
}

// Merge performs a key-union three-way merge: a key changed only on one
// side wins outright; a key changed identically on both sides is kept;
// a key changed differently on both sides is a true conflict, resolved
// last-writer-wins by preferring the right side (the convention: right
// is "the side being merged in", matching base/left/right argument
// order from spec.md §4.1, itself following the documented-but-stubbed
// algorithm in the teacher's own sync_merge.go).
func (Differ) Merge(baseAny, leftAny, rightAny any) (differ.MergeResult, error) {
	base := asDoc(baseAny)
	left := asDoc(leftAny)
	right := asDoc(rightAny)

	merged := make(Doc)
	keys := make(map[string]struct{})
	for k := range base {
		keys[k] = struct{}{}
	}
	for k := range left {
		keys[k] = struct{}{}
	}
	for k := range right {
		keys[k] = struct{}{}
	}

	for k := range keys {
		bv, bOk := base[k]
		lv, lOk := left[k]
		rv, rOk := right[k]

		switch {
		case !lOk && !rOk:
			// deleted on both sides
			continue
		case equalOrMissing(bv, bOk, lv, lOk):
			// unchanged from base on the left: take right's value
			if rOk {
				merged[k] = rv
			}
		case equalOrMissing(bv, bOk, rv, rOk):
			// unchanged from base on the right: take left's value
			if lOk {
				merged[k] = lv
			}
		case lOk && rOk && deepEqual(lv, rv):
			merged[k] = lv
		default:
			// true conflict: last-writer-wins, right side wins
			if rOk {
				merged[k] = rv
			} else {
				merged[k] = lv
			}
		}
	}

	return differ.MergeResult{Doc: merged, Metadata: nil, Temp: false}, nil
}

func equalOrMissing(baseVal any, baseOk bool, sideVal any, sideOk bool) bool {
	if !baseOk && !sideOk {
		return true
	}
	if baseOk != sideOk {
		return false
	}
	return deepEqual(baseVal, sideVal)
}

func asDoc(v any) Doc {
	if v == nil {
		return make(Doc)
	}
	if d, ok := v.(Doc); ok {
		return d
	}
	// Best-effort: a caller that hands in a plain map literal
	// (map[string]interface{} is Doc's underlying type, so this branch
	// is mostly defensive for callers constructing it indirectly, e.g.
	// through JSON unmarshal into 'any').
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return make(Doc)
}

func cloneDoc(d Doc) Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func deepEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(ab) == string(bb)
}

func sortDelta(d *delta) {
	sort.Slice(d.Set, func(i, j int) bool { return d.Set[i].Key < d.Set[j].Key })
	sort.Strings(d.Del)
}

// Package differ defines the Differ contract: the pure, I/O-free,
// concurrency-free adapter a host application supplies so weave's core
// never needs to know what a "document" looks like.
//
// Differ implementations must be pure: no I/O, no shared mutable state,
// no goroutines. The engine calls these synchronously on its own
// goroutine and treats any panic or error as a Merge-kind failure that
// never crashes the engine (see internal/werr).
package differ

import "github.com/weave-sync/weave/internal/commit"

// MergeResult is the output of a three-way merge.
type MergeResult struct {
	Doc      any
	Metadata []byte
	// Temp marks an advisory, non-committed merge: used only for
	// display while offline. The engine never persists a Temp result as
	// a commit.
	Temp bool
}

// Differ is the pure contract a host application supplies.
type Differ interface {
	// Migrate may rewrite an older persisted doc on load.
	Migrate(doc any, metadata []byte) (newDoc any, newMetadata []byte, err error)

	// Diff returns the delta needed to turn oldDoc into newDoc, or a nil
	// delta if there is no change.
	Diff(oldDoc, newDoc any) (delta []byte, err error)

	// Patch applies delta to doc, producing the new document.
	Patch(doc any, delta []byte) (newDoc any, err error)

	// ComputeRef derives a commit's ref from its content. Implementations
	// should delegate to commit.ComputeRef unless the host needs a
	// different addressing scheme.
	ComputeRef(baseRef, mergeRef, mergeBaseRef commit.Ref, delta, editMetadata []byte) commit.Ref

	// Merge produces a three-way merge of left and right against base.
	Merge(base, left, right any) (MergeResult, error)
}

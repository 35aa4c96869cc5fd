// Package commit defines weave's content-addressed commit DAG: the
// immutable Commit record and the in-memory GraphIndex that tracks
// parents and heads over a growing set of commits.
package commit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Ref is a content-addressed commit identifier: a short opaque string.
type Ref string

// Commit is an immutable record in the edit DAG.
//
// Exactly one of the following holds:
//   - BaseRef == "" && MergeRef == "": a root commit
//   - BaseRef != "" && MergeRef == "": a linear edit
//   - BaseRef != "" && MergeRef != "" && MergeBaseRef != "": a merge commit
type Commit struct {
	Ref          Ref    `json:"ref"`
	BaseRef      Ref    `json:"baseRef,omitempty"`
	MergeRef     Ref    `json:"mergeRef,omitempty"`
	MergeBaseRef Ref    `json:"mergeBaseRef,omitempty"`
	Delta        []byte `json:"delta"`
	EditMetadata []byte `json:"editMetadata,omitempty"`
	UserID       string `json:"userId"`
	ClientID     string `json:"clientId"`

	// RemoteSyncID is an opaque ordered cursor. Empty means "not yet
	// remote-synced". Treated uniformly as a string per spec (never
	// interpreted as an integer, never arithmetic on it).
	RemoteSyncID string `json:"remoteSyncId,omitempty"`
}

// IsRoot reports whether c has no parents.
func (c *Commit) IsRoot() bool { return c.BaseRef == "" && c.MergeRef == "" }

// IsMerge reports whether c has two parents and a merge base.
func (c *Commit) IsMerge() bool {
	return c.BaseRef != "" && c.MergeRef != "" && c.MergeBaseRef != ""
}

// Parents returns c's parent refs, in (base, merge) order. A root
// returns no parents; a linear edit returns one.
func (c *Commit) Parents() []Ref {
	if c.BaseRef == "" {
		return nil
	}
	if c.MergeRef == "" {
		return []Ref{c.BaseRef}
	}
	return []Ref{c.BaseRef, c.MergeRef}
}

// refInput is the canonical, order-stable structure ComputeRef hashes.
// Field order here is part of the content-address contract: changing it
// changes every ref ever computed.
type refInput struct {
	BaseRef      Ref    `json:"baseRef"`
	MergeRef     Ref    `json:"mergeRef"`
	MergeBaseRef Ref    `json:"mergeBaseRef"`
	Delta        []byte `json:"delta"`
	EditMetadata []byte `json:"editMetadata"`
}

// ComputeRef is the default, collision-resistant ref function: a
// deterministic JSON encoding of the parent/delta/metadata tuple hashed
// with SHA-256 and hex-encoded to its first 16 bytes (32 hex chars),
// matching the "short opaque string" contract from the data model.
//
// A Differ supplied by a host application may use its own ComputeRef
// instead; this one is weave's reference implementation, used by the
// jsonmerge differ and by tests.
func ComputeRef(baseRef, mergeRef, mergeBaseRef Ref, delta, editMetadata []byte) Ref {
	in := refInput{
		BaseRef:      baseRef,
		MergeRef:     mergeRef,
		MergeBaseRef: mergeBaseRef,
		Delta:        delta,
		EditMetadata: editMetadata,
	}
	// Marshal error is impossible for this concrete struct shape; if it
	// ever occurred it would indicate a broken json encoder, not bad
	// input, so panicking here is appropriate rather than threading an
	// error through a "pure function" contract.
	b, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("commit: unreachable marshal error: %v", err))
	}
	sum := sha256.Sum256(b)
	return Ref(hex.EncodeToString(sum[:16]))
}

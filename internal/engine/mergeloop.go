package engine

import (
	"context"

	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/store"
	"github.com/weave-sync/weave/internal/syncstatus"
)

// runMergeLoop implements spec.md §4.5's head-reduction algorithm. It
// must be called from within e.loop (either during initialLoad, before
// any subscriber exists, or from ingestCommits below). It mutates
// e.graph, e.head, e.doc, e.pending, and e.docMemo in place and
// notifies doc subscribers when the displayed doc changes; it returns
// nothing.
func (e *Engine) runMergeLoop() {
	for {
		heads := e.graph.Heads()
		if len(heads) <= 1 {
			break
		}
		// Deterministic pick: heads are already lexicographically
		// sorted by GraphIndex.Heads.
		left, right := heads[0], heads[1]
		key := mkEdgeKey(left, right)
		if _, failed := e.errorEdges[key]; failed {
			// Already tried and failed; do not retry with the same
			// inputs — pick a different pair if one exists, otherwise
			// stop. saveError was already reported by markEdgeFailed
			// when this edge first failed.
			if len(heads) == 2 {
				return
			}
			left, right = heads[0], heads[2]
			key = mkEdgeKey(left, right)
			if _, failed := e.errorEdges[key]; failed {
				return
			}
		}

		base := e.graph.LowestCommonAncestor(left, right)
		baseDoc, err := e.graph.DocOf(base, e.docMemo, e.applyCommit)
		if err != nil {
			e.markEdgeFailed(key)
			continue
		}
		leftDoc, err := e.graph.DocOf(left, e.docMemo, e.applyCommit)
		if err != nil {
			e.markEdgeFailed(key)
			continue
		}
		rightDoc, err := e.graph.DocOf(right, e.docMemo, e.applyCommit)
		if err != nil {
			e.markEdgeFailed(key)
			continue
		}

		result, err := e.differ.Merge(baseDoc, leftDoc, rightDoc)
		if err != nil {
			e.markEdgeFailed(key)
			continue
		}
		if result.Temp {
			// Advisory merge for offline display only; not committed,
			// heads unchanged. The merged doc becomes the working doc
			// shown to subscribers and is not stored anywhere else; the
			// merge loop cannot make progress on this pair until a real
			// merge lands, so stop here.
			e.doc = result.Doc
			e.notifyDoc(result.Doc)
			return
		}

		delta, err := e.differ.Diff(leftDoc, result.Doc)
		if err != nil {
			e.markEdgeFailed(key)
			continue
		}
		mergeRef := e.differ.ComputeRef(left, right, base, delta, result.Metadata)
		mc := commit.Commit{
			Ref: mergeRef, BaseRef: left, MergeRef: right, MergeBaseRef: base,
			Delta: delta, EditMetadata: result.Metadata,
			UserID: e.opts.UserID, ClientID: e.opts.ClientID,
		}
		if e.graph.Add(&mc) {
			e.docMemo[mergeRef] = result.Doc
			e.pending = append(e.pending, mc)
		}
		newHeads := make([]commit.Ref, 0, len(heads)-1)
		newHeads = append(newHeads, mergeRef)
		for _, h := range heads {
			if h != left && h != right {
				newHeads = append(newHeads, h)
			}
		}
		e.graph.SetHeads(newHeads)
	}

	if head := soleHead(e.graph); head != "" && head != e.head {
		doc, err := e.graph.DocOf(head, e.docMemo, e.applyCommit)
		if err != nil {
			return
		}
		e.head = head
		e.doc = doc
		e.notifyDoc(doc)
	}
}

// markEdgeFailed records that the (left, right) merge attempt threw and
// surfaces it on the saveError axis, per spec.md §4.5/§7: a merge error
// keeps the document at the last successful head while reporting the
// failure, rather than silently stalling convergence.
func (e *Engine) markEdgeFailed(key edgeKey) {
	e.errorEdges[key] = struct{}{}
	e.status.SetLocalSave(syncstatus.LocalSaveError)
	e.status.Flush()
}

// ingestCommits adds newly observed commits (peer or remote) to the
// graph, runs the merge loop, and schedules a flush if the loop
// produced new merge commits to persist. Idempotent: commits already
// known to the graph are silently skipped.
func (e *Engine) ingestCommits(ctx context.Context, commits []commit.Commit) {
	producedMerges, err := store.Do(ctx, e.loop, func() (bool, error) {
		for i := range commits {
			e.graph.Add(&commits[i])
		}
		before := len(e.pending)
		e.runMergeLoop()
		return len(e.pending) > before, nil
	})
	if err == nil && producedMerges {
		e.status.SetLocalSave(syncstatus.LocalSavePending)
		e.status.Flush()
		e.scheduleFlush(ctx)
	}
}

package engine

import (
	"context"
	"time"

	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/presence"
	"github.com/weave-sync/weave/internal/store"
	"github.com/weave-sync/weave/internal/syncstatus"
	"github.com/weave-sync/weave/internal/werr"
)

// UpdateDoc computes delta = diff(savedDoc, newDoc); if there is a
// change it constructs a commit, appends it to the pending buffer,
// updates the working document, and schedules a flush. doc subscribers
// are notified synchronously, before the sync-status transition to
// pending, per spec.md §5's ordering guarantee. p, if non-nil, is
// published as this edit's accompanying presence regardless of whether
// a commit was produced.
func (e *Engine) UpdateDoc(ctx context.Context, newDoc any, editMetadata []byte, p *presence.Record) error {
	if err := e.shutdownGuard(); err != nil {
		return err
	}
	type result struct {
		changed bool
		doc     any
	}
	res, err := store.Do(ctx, e.loop, func() (result, error) {
		delta, err := e.differ.Diff(e.doc, newDoc)
		if err != nil {
			return result{}, werr.New(werr.Merge, "diff", err)
		}
		if delta == nil {
			return result{changed: false, doc: e.doc}, nil
		}
		ref := e.differ.ComputeRef(e.head, "", "", delta, editMetadata)
		c := commit.Commit{
			Ref: ref, BaseRef: e.head, Delta: delta, EditMetadata: editMetadata,
			UserID: e.opts.UserID, ClientID: e.opts.ClientID,
		}
		e.graph.Add(&c)
		e.head = ref
		e.docMemo[ref] = newDoc
		e.doc = newDoc
		e.pending = append(e.pending, c)
		return result{changed: true, doc: newDoc}, nil
	})
	if err != nil {
		return err
	}

	if res.changed {
		e.notifyDoc(res.doc)
		e.status.SetLocalSave(syncstatus.LocalSavePending)
		e.status.Flush()
		e.scheduleFlush(ctx)
	}

	if p != nil {
		return e.presenceMux.Publish(ctx, *p)
	}
	return nil
}

func (e *Engine) scheduleFlush(ctx context.Context) {
	e.flushMu.Lock()
	already := e.flushScheduled
	e.flushScheduled = true
	e.flushMu.Unlock()
	if already {
		return
	}
	delay := time.Duration(e.opts.BufferMs) * time.Millisecond
	time.AfterFunc(delay, func() { e.flush(ctx) })
}

// flush drains the pending buffer into a single AddCommits call. On
// storage error the batch is retained for one automatic retry; a
// second failure surfaces localSave:error terminally but keeps the
// commits in the pending buffer so a subsequent edit's flush can still
// carry them.
func (e *Engine) flush(ctx context.Context) {
	batch, err := store.Do(ctx, e.loop, func() ([]commit.Commit, error) {
		b := e.pending
		e.pending = nil
		return b, nil
	})
	e.flushMu.Lock()
	e.flushScheduled = false
	e.flushMu.Unlock()
	if err != nil || len(batch) == 0 {
		return
	}

	e.status.SetLocalSave(syncstatus.LocalSaveSaving)
	e.status.Flush()

	ack, err := e.st.AddCommits(ctx, batch, "")
	if err != nil {
		e.handleFlushError(ctx, batch)
		return
	}
	store.Do(ctx, e.loop, func() (struct{}, error) {
		if ack.SyncID > e.lastLocalSyncID {
			e.lastLocalSyncID = ack.SyncID
		}
		return struct{}{}, nil
	})

	e.flushMu.Lock()
	e.flushRetries = 0
	e.flushMu.Unlock()

	if e.IsRemoteLeader() {
		select {
		case e.wakeOutbound <- struct{}{}:
		default:
		}
	}

	more, _ := store.Do(ctx, e.loop, func() (bool, error) { return len(e.pending) > 0, nil })
	if more {
		e.status.SetLocalSave(syncstatus.LocalSavePending)
		e.status.Flush()
		e.scheduleFlush(ctx)
		return
	}
	e.status.SetLocalSave(syncstatus.LocalSaveReady)
	e.status.Flush()
}

func (e *Engine) handleFlushError(ctx context.Context, batch []commit.Commit) {
	store.Do(ctx, e.loop, func() (struct{}, error) {
		e.pending = append(append([]commit.Commit{}, batch...), e.pending...)
		return struct{}{}, nil
	})

	e.flushMu.Lock()
	retries := e.flushRetries
	e.flushRetries++
	e.flushMu.Unlock()

	e.status.SetLocalSave(syncstatus.LocalSaveError)
	e.status.Flush()

	if retries == 0 {
		time.AfterFunc(e.opts.FlushRetryDelay, func() { e.flush(ctx) })
	}
	// Second failure: stays in pending, status stays at error terminally
	// until a fresh edit schedules another flush attempt.
}

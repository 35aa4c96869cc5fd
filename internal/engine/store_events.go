package engine

import (
	"context"

	"github.com/weave-sync/weave/internal/broadcast"
	"github.com/weave-sync/weave/internal/store"
)

// handleStoreEvent is the onEvent sink handed to the store factory. It
// runs on the store's own FIFO worker goroutine, so it must not block
// on e.loop for long; ingestCommits only briefly touches e.loop.
func (e *Engine) handleStoreEvent(ev store.Event) {
	switch ev.Kind {
	case store.EventCommits:
		e.ingestCommits(context.Background(), ev.Commits.Commits)
	case store.EventAck:
		// Acks surface through the flush/remote-streaming paths directly;
		// nothing additional to do here.
	case store.EventReady:
	}
}

// broadcastLoop drains commit-refs, remote-state, and presence
// notifications from the shared broadcast channel. Election messages
// are consumed separately by the engine's own election.Elector
// subscription.
func (e *Engine) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-e.shutdownDone:
			return
		case msg, ok := <-e.bcSub.Messages():
			if !ok {
				return
			}
			switch msg.Kind {
			case broadcast.KindCommitRefs:
				e.pullSince(ctx)
			case broadcast.KindRemoteState:
				if !e.IsRemoteLeader() {
					e.applyRemoteState(msg.RemoteState)
				}
			}
		}
	}
}

// pullSince fetches every commit newer than the last one this engine
// has observed and ingests it. Commit-refs broadcasts only carry refs;
// recipients pull full commit data from the store, per spec.md §4.3.
func (e *Engine) pullSince(ctx context.Context) {
	since, err := store.Do(ctx, e.loop, func() (int64, error) { return e.lastLocalSyncID, nil })
	if err != nil {
		return
	}
	ev, err := e.st.GetLocalCommitsEvent(ctx, since)
	if err != nil || len(ev.Commits) == 0 {
		return
	}
	store.Do(ctx, e.loop, func() (struct{}, error) {
		if ev.SyncID > e.lastLocalSyncID {
			e.lastLocalSyncID = ev.SyncID
		}
		return struct{}{}, nil
	})
	e.ingestCommits(ctx, ev.Commits)
}

func (e *Engine) applyRemoteState(rs broadcast.RemoteStateMessage) {
	if rs.Connect != "" {
		e.status.SetRemoteConnect(remoteConnectFromString(rs.Connect))
	}
	if rs.Read != "" {
		e.status.SetRemoteRead(remoteReadFromString(rs.Read))
	}
	if rs.Save != "" {
		e.status.SetRemoteSave(remoteSaveFromString(rs.Save))
	}
	e.status.Flush()
}

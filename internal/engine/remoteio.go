package engine

import (
	"context"
	"sync"
	"time"

	"github.com/weave-sync/weave/internal/broadcast"
	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/presence"
	"github.com/weave-sync/weave/internal/remote"
	"github.com/weave-sync/weave/internal/syncstatus"
	"github.com/weave-sync/weave/internal/werr"
)

// onLeaderChange is the election.Elector callback: it starts or stops
// the remote lifecycle goroutine. Non-leaders never open a remote of
// their own; they adopt the leader's remote-state broadcasts instead
// (see store_events.go's applyRemoteState), per spec.md §4.7.
func (e *Engine) onLeaderChange(isLeader bool) {
	e.remoteMu.Lock()
	e.isLeader = isLeader
	e.remoteMu.Unlock()
	if isLeader {
		e.startRemote()
	} else {
		e.stopRemote()
	}
}

func (e *Engine) startRemote() {
	if e.remoteFactory == nil {
		return
	}
	e.remoteMu.Lock()
	if e.remoteCancel != nil {
		e.remoteMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.remoteCancel = cancel
	e.remoteMu.Unlock()

	e.remoteWG.Add(1)
	go e.remoteLifecycle(ctx)
}

func (e *Engine) stopRemote() {
	e.remoteMu.Lock()
	cancel := e.remoteCancel
	e.remoteCancel = nil
	e.remoteMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.remoteWG.Wait()
	e.presenceMux.SetRemoteBridge(nil)
	e.status.SetRemoteConnect(syncstatus.RemoteConnectOffline)
	e.status.SetRemoteRead(syncstatus.RemoteReadOffline)
	e.status.Flush()
}

// remoteLifecycle opens the remote with reconnect backoff and runs the
// outbound/inbound loops until ctx is cancelled (leadership lost or
// engine shutdown) or a fatal error is classified.
func (e *Engine) remoteLifecycle(ctx context.Context) {
	defer e.remoteWG.Done()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		e.status.SetRemoteConnect(syncstatus.RemoteConnectConnecting)
		e.status.Flush()

		info, err := e.st.GetRemoteSyncInfo(ctx)
		if err != nil {
			if !e.backoffWait(ctx, &attempt) {
				return
			}
			continue
		}

		r, err := e.remoteFactory(ctx, e.opts.UserID, info, e.onRemoteEvent)
		if err != nil {
			if werr.KindOf(err) == werr.Fatal {
				e.status.SetRemoteConnect(syncstatus.RemoteConnectError)
				e.status.Flush()
				return
			}
			if !e.backoffWait(ctx, &attempt) {
				return
			}
			continue
		}
		attempt = 0

		e.remoteMu.Lock()
		e.activeRemote = r
		e.remoteMu.Unlock()
		if bridge, ok := r.(presence.RemoteBridge); ok {
			e.presenceMux.SetRemoteBridge(bridge)
		}
		e.status.SetRemoteConnect(syncstatus.RemoteConnectOnline)
		e.status.Flush()
		e.broadcastRemoteState("online", "", "")

		e.runRemoteSession(ctx, r)

		r.Close()
		e.remoteMu.Lock()
		e.activeRemote = nil
		e.remoteMu.Unlock()
		e.presenceMux.SetRemoteBridge(nil)
		if ctx.Err() != nil {
			return
		}
		e.status.SetRemoteConnect(syncstatus.RemoteConnectConnecting)
		e.status.Flush()
		if !e.backoffWait(ctx, &attempt) {
			return
		}
	}
}

func (e *Engine) backoffWait(ctx context.Context, attempt *int) bool {
	delay := e.opts.Backoff.NextDelayMs(*attempt)
	*attempt++
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Duration(delay) * time.Millisecond):
		return true
	}
}

// runRemoteSession runs the outbound and inbound loops concurrently
// until either exits (session over) or ctx is cancelled.
func (e *Engine) runRemoteSession(ctx context.Context, r remote.Remote) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); defer cancel(); e.runOutbound(sessCtx, r) }()
	go func() { defer wg.Done(); defer cancel(); e.runInbound(sessCtx, r) }()
	wg.Wait()
}

// runOutbound streams CommitsForRemote batches to the remote, waking on
// e.wakeOutbound when a local flush lands new commits, and polling as a
// fallback. This is the backpressure loop from spec.md §5: each batch
// awaits its ack before the next is drained.
func (e *Engine) runOutbound(ctx context.Context, r remote.Remote) {
	for {
		for batch, err := range e.st.CommitsForRemote(ctx) {
			if err != nil {
				return
			}
			e.status.SetRemoteSave(syncstatus.RemoteSaveSaving)
			e.status.Flush()
			cursor, err := r.SendCommits(ctx, batch)
			if err != nil {
				e.status.SetRemoteSave(syncstatus.RemoteSaveError)
				e.status.Flush()
				return
			}
			if err := e.st.AcknowledgeCommits(ctx, refsOf(batch.Commits), cursor); err != nil {
				return
			}
		}
		e.status.SetRemoteSave(syncstatus.RemoteSaveReady)
		e.status.Flush()
		select {
		case <-ctx.Done():
			return
		case <-e.wakeOutbound:
		case <-time.After(2 * time.Second):
		}
	}
}

// runInbound drains the remote's inbound commit stream and ingests
// each batch into the local store, from which the broadcast channel
// and this engine's own merge loop pick it up like any peer commit.
func (e *Engine) runInbound(ctx context.Context, r remote.Remote) {
	e.status.SetRemoteRead(syncstatus.RemoteReadLoading)
	e.status.Flush()
	first := true
	for ev, err := range r.Inbound(ctx) {
		if err != nil {
			e.status.SetRemoteRead(syncstatus.RemoteReadError)
			e.status.Flush()
			return
		}
		if first {
			e.status.SetRemoteRead(syncstatus.RemoteReadReady)
			e.status.Flush()
			e.broadcastRemoteState("", "ready", "")
			first = false
		}
		if _, err := e.st.AddCommits(ctx, ev.Commits, ""); err != nil {
			return
		}
	}
}

func refsOf(commits []commit.Commit) []commit.Ref {
	refs := make([]commit.Ref, len(commits))
	for i, c := range commits {
		refs[i] = c.Ref
	}
	return refs
}

// onRemoteEvent is the remote.OnEvent sink passed to remoteFactory.
func (e *Engine) onRemoteEvent(ev remote.Event) {
	switch ev.Kind {
	case remote.EventReady:
		e.broadcastRemoteState("online", "", "")
	case remote.EventRemoteState:
		e.status.SetRemoteConnect(remoteConnectFromString(ev.RemoteState.Connect))
		e.status.SetRemoteRead(remoteReadFromString(ev.RemoteState.Read))
		e.status.SetRemoteSave(remoteSaveFromString(ev.RemoteState.Save))
		e.status.Flush()
		e.broadcastRemoteState(ev.RemoteState.Connect, ev.RemoteState.Read, ev.RemoteState.Save)
	case remote.EventError:
		e.status.SetRemoteConnect(syncstatus.RemoteConnectError)
		e.status.Flush()
		e.broadcastRemoteState("error", "", "")
	}
}

func (e *Engine) broadcastRemoteState(connect, read, save string) {
	e.bus.Publish(broadcast.Message{
		Kind: broadcast.KindRemoteState,
		RemoteState: broadcast.RemoteStateMessage{
			Connect: connect, Read: read, Save: save,
		},
	})
}

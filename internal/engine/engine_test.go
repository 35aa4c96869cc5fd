package engine

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/weave-sync/weave/internal/broadcast/localbus"
	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/differ"
	"github.com/weave-sync/weave/internal/differ/jsonmerge"
	"github.com/weave-sync/weave/internal/election"
	"github.com/weave-sync/weave/internal/remote"
	"github.com/weave-sync/weave/internal/store"
	"github.com/weave-sync/weave/internal/store/memstore"
	"github.com/weave-sync/weave/internal/syncstatus"
	"github.com/weave-sync/weave/internal/werr"
)

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func newTestEngine(t *testing.T, opts Options, bus *localbus.Bus, storeID string, remoteFactory remote.Factory) *Engine {
	t.Helper()
	ctx := context.Background()
	eng, err := New(ctx, opts, jsonmerge.New(), memstore.Factory(storeID, bus), bus, remoteFactory)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

// --- single-client chain -----------------------------------------------

func TestSingleClientEditChainConverges(t *testing.T) {
	bus := localbus.New()
	defer bus.Close()
	ctx := context.Background()

	eng := newTestEngine(t, Options{UserID: "u1", ClientID: "c1"}, bus, "store-1", nil)
	defer eng.Shutdown(ctx)

	var mu sync.Mutex
	var docs []any
	unsub := eng.SubscribeDoc(func(d any) {
		mu.Lock()
		docs = append(docs, d)
		mu.Unlock()
	})
	defer unsub()

	if err := eng.UpdateDoc(ctx, jsonmerge.Doc{"a": 1.0}, nil, nil); err != nil {
		t.Fatalf("UpdateDoc #1: %v", err)
	}
	if err := eng.UpdateDoc(ctx, jsonmerge.Doc{"a": 1.0, "b": 2.0}, nil, nil); err != nil {
		t.Fatalf("UpdateDoc #2: %v", err)
	}
	if err := eng.UpdateDoc(ctx, jsonmerge.Doc{"a": 1.0, "b": 2.0, "c": 3.0}, nil, nil); err != nil {
		t.Fatalf("UpdateDoc #3: %v", err)
	}

	want := jsonmerge.Doc{"a": 1.0, "b": 2.0, "c": 3.0}
	if diff := cmp.Diff(want, eng.doc); diff != "" {
		t.Fatalf("engine doc mismatch after edit chain (-want +got):\n%s", diff)
	}

	// Flushing is asynchronous (scheduled via time.AfterFunc); wait for
	// every edit to land in the local store.
	pollUntil(t, 2*time.Second, func() bool {
		ev, err := eng.st.GetLocalCommitsEvent(ctx, 0)
		return err == nil && len(ev.Commits) == 3
	})

	mu.Lock()
	gotDocs := len(docs)
	mu.Unlock()
	// One immediate fire-on-subscribe call plus one notification per
	// edit that changed the document.
	if gotDocs != 4 {
		t.Fatalf("SubscribeDoc fired %d times, want 4 (1 initial + 3 edits)", gotDocs)
	}
}

func TestUpdateDocNoOpWhenUnchanged(t *testing.T) {
	bus := localbus.New()
	defer bus.Close()
	ctx := context.Background()

	// A long BufferMs keeps the first edit in the pending buffer for the
	// whole test; with BufferMs 0 it would be flushed to the store on the
	// next turn, emptying pending before the assertion below.
	eng := newTestEngine(t, Options{UserID: "u1", ClientID: "c1", BufferMs: 60_000}, bus, "store-1", nil)
	defer eng.Shutdown(ctx)

	if err := eng.UpdateDoc(ctx, jsonmerge.Doc{"a": 1.0}, nil, nil); err != nil {
		t.Fatalf("UpdateDoc #1: %v", err)
	}
	if err := eng.UpdateDoc(ctx, jsonmerge.Doc{"a": 1.0}, nil, nil); err != nil {
		t.Fatalf("UpdateDoc #2 (no-op): %v", err)
	}
	if len(eng.pending) != 1 {
		t.Fatalf("pending has %d commits, want 1 (no-op edit should not add a commit)", len(eng.pending))
	}
}

// --- concurrent fork/merge ----------------------------------------------

func TestConcurrentForkMergesIntoSingleHead(t *testing.T) {
	bus := localbus.New()
	defer bus.Close()
	ctx := context.Background()

	eng := newTestEngine(t, Options{UserID: "u1", ClientID: "c1"}, bus, "store-1", nil)
	defer eng.Shutdown(ctx)

	base := jsonmerge.Doc{"shared": "root"}
	if err := eng.UpdateDoc(ctx, base, nil, nil); err != nil {
		t.Fatalf("UpdateDoc (root): %v", err)
	}
	baseHead := eng.head

	// A peer, unseen until now, forked from the same base and set its own
	// key while this client was concurrently setting a different one.
	peerDoc := jsonmerge.Doc{"shared": "root", "fromPeer": true}
	peerDelta, err := eng.differ.Diff(base, peerDoc)
	if err != nil {
		t.Fatalf("diff peer doc: %v", err)
	}
	peerCommit := commit.Commit{
		Ref: eng.differ.ComputeRef(baseHead, "", "", peerDelta, nil),
		BaseRef: baseHead, Delta: peerDelta, UserID: "u2", ClientID: "c2",
	}

	if err := eng.UpdateDoc(ctx, jsonmerge.Doc{"shared": "root", "fromLocal": true}, nil, nil); err != nil {
		t.Fatalf("UpdateDoc (local fork): %v", err)
	}

	if heads := eng.graph.Heads(); len(heads) != 1 {
		t.Fatalf("graph should have one head before the peer commit lands, has %d", len(heads))
	}

	eng.ingestCommits(ctx, []commit.Commit{peerCommit})

	heads := eng.graph.Heads()
	if len(heads) != 1 {
		t.Fatalf("graph should converge to one head after ingesting the fork's other side, has %d: %v", len(heads), heads)
	}

	want := jsonmerge.Doc{"shared": "root", "fromLocal": true, "fromPeer": true}
	if diff := cmp.Diff(want, eng.doc); diff != "" {
		t.Fatalf("merged doc mismatch (-want +got):\n%s", diff)
	}
}

// failingDiffer wraps jsonmerge.Differ but always fails Merge, simulating
// a host Differ that throws on a three-way merge.
type failingDiffer struct {
	jsonmerge.Differ
}

func (failingDiffer) Merge(base, left, right any) (differ.MergeResult, error) {
	return differ.MergeResult{}, errors.New("simulated merge failure")
}

func TestMergeFailureSurfacesSaveErrorStatus(t *testing.T) {
	bus := localbus.New()
	defer bus.Close()
	ctx := context.Background()

	eng := newTestEngine(t, Options{UserID: "u1", ClientID: "c1"}, bus, "store-1", nil)
	defer eng.Shutdown(ctx)

	base := jsonmerge.Doc{"shared": "root"}
	if err := eng.UpdateDoc(ctx, base, nil, nil); err != nil {
		t.Fatalf("UpdateDoc (root): %v", err)
	}
	baseHead := eng.head

	peerDoc := jsonmerge.Doc{"shared": "root", "fromPeer": true}
	peerDelta, err := eng.differ.Diff(base, peerDoc)
	if err != nil {
		t.Fatalf("diff peer doc: %v", err)
	}
	peerCommit := commit.Commit{
		Ref: eng.differ.ComputeRef(baseHead, "", "", peerDelta, nil),
		BaseRef: baseHead, Delta: peerDelta, UserID: "u2", ClientID: "c2",
	}
	if err := eng.UpdateDoc(ctx, jsonmerge.Doc{"shared": "root", "fromLocal": true}, nil, nil); err != nil {
		t.Fatalf("UpdateDoc (local fork): %v", err)
	}

	var statuses []syncstatus.Status
	unsub := eng.SubscribeSyncStatus(func(s syncstatus.Status) { statuses = append(statuses, s) })
	defer unsub()
	statuses = nil

	// Swap in a Differ whose Merge always throws, then feed in the peer's
	// side of the fork directly: the merge loop must mark the edge
	// failed and surface saveError instead of silently stalling.
	eng.differ = failingDiffer{Differ: jsonmerge.New()}
	eng.ingestCommits(ctx, []commit.Commit{peerCommit})

	found := false
	for _, s := range statuses {
		if s.LocalSave == syncstatus.LocalSaveError {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("saveError was never surfaced on the sync-status stream after a merge failure; statuses seen: %+v", statuses)
	}
	if len(eng.errorEdges) == 0 {
		t.Fatal("markEdgeFailed should have recorded the failed edge")
	}
	if heads := eng.graph.Heads(); len(heads) != 2 {
		t.Fatalf("a failed merge must leave both heads in place, got %d heads", len(heads))
	}
}

// --- remote disconnect / resume ------------------------------------------

type fakeRemote struct {
	failInbound bool
}

func (f *fakeRemote) SendCommits(ctx context.Context, batch store.CommitsEvent) (string, error) {
	return "cursor", nil
}

func (f *fakeRemote) Inbound(ctx context.Context) iter.Seq2[store.CommitsEvent, error] {
	return func(yield func(store.CommitsEvent, error) bool) {
		if f.failInbound {
			select {
			case <-time.After(15 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			yield(store.CommitsEvent{}, errors.New("connection reset"))
			return
		}
		<-ctx.Done()
	}
}

func (f *fakeRemote) Close() error { return nil }

func TestRemoteDisconnectAndResume(t *testing.T) {
	bus := localbus.New()
	defer bus.Close()
	ctx := context.Background()

	var calls int32
	remoteFactory := func(ctx context.Context, userID string, info store.RemoteSyncInfo, onEvent remote.OnEvent) (remote.Remote, error) {
		n := atomic.AddInt32(&calls, 1)
		switch n {
		case 1:
			return nil, werr.New(werr.Network, "dial failed", nil)
		case 2:
			return &fakeRemote{failInbound: true}, nil
		default:
			return &fakeRemote{failInbound: false}, nil
		}
	}

	opts := Options{
		UserID: "u1", ClientID: "c1",
		Election: election.Config{ElectionTimeoutMs: 20},
		Backoff:  remote.BackoffConfig{InitialDelayMs: 5, ReconnectBackoffMultiplier: 1},
	}
	eng := newTestEngine(t, opts, bus, "store-1", remoteFactory)
	defer eng.Shutdown(ctx)

	var mu sync.Mutex
	var onlineCount int
	unsub := eng.SubscribeSyncStatus(func(s syncstatus.Status) {
		if s.RemoteConnect == syncstatus.RemoteConnectOnline {
			mu.Lock()
			onlineCount++
			mu.Unlock()
		}
	})
	defer unsub()

	// The second remote's inbound stream drops after 15ms; that ends the
	// remote session, and the lifecycle reconnects after its backoff delay.
	pollUntil(t, 6*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return onlineCount >= 2
	})

	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("remoteFactory called %d times, want at least 3 (initial fail, connect, reconnect after drop)", calls)
	}
}

// --- leader failover ------------------------------------------------------

func TestLeaderFailoverToSurvivor(t *testing.T) {
	bus := localbus.New()
	defer bus.Close()
	ctx := context.Background()

	remoteFactory := func(ctx context.Context, userID string, info store.RemoteSyncInfo, onEvent remote.OnEvent) (remote.Remote, error) {
		return &fakeRemote{}, nil
	}

	electionCfg := election.Config{ElectionTimeoutMs: 20, HeartbeatIntervalMs: 20, HeartbeatTimeoutMs: 80}
	opts1 := Options{UserID: "u1", ClientID: "client-1", Election: electionCfg}
	opts2 := Options{UserID: "u1", ClientID: "client-2", Election: electionCfg}

	e1 := newTestEngine(t, opts1, bus, "store-1", remoteFactory)
	defer e1.Shutdown(ctx)
	e2 := newTestEngine(t, opts2, bus, "store-2", remoteFactory)
	defer e2.Shutdown(ctx)

	pollUntil(t, 2*time.Second, func() bool {
		return e1.IsRemoteLeader() != e2.IsRemoteLeader() && (e1.IsRemoteLeader() || e2.IsRemoteLeader())
	})

	var leader, survivor *Engine
	if e1.IsRemoteLeader() {
		leader, survivor = e1, e2
	} else {
		leader, survivor = e2, e1
	}

	if err := leader.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown leader: %v", err)
	}

	pollUntil(t, 2*time.Second, survivor.IsRemoteLeader)
}

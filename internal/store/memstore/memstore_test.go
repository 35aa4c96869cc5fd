package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/weave-sync/weave/internal/broadcast"
	"github.com/weave-sync/weave/internal/broadcast/localbus"
	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/store"
)

func c(ref, base string) commit.Commit {
	return commit.Commit{Ref: commit.Ref(ref), BaseRef: commit.Ref(base), Delta: []byte("d-" + ref)}
}

func TestAddCommitsIdempotentOnRef(t *testing.T) {
	ctx := context.Background()
	s := New("store-1", nil, nil)
	defer s.Shutdown(ctx)

	ack, err := s.AddCommits(ctx, []commit.Commit{c("a", "")}, "")
	if err != nil {
		t.Fatalf("AddCommits: %v", err)
	}
	if diff := cmp.Diff([]commit.Ref{"a"}, ack.Refs); diff != "" {
		t.Fatalf("first AddCommits refs mismatch (-want +got):\n%s", diff)
	}

	// Re-adding the same ref is silently ignored: no new ref in Ack.
	ack2, err := s.AddCommits(ctx, []commit.Commit{c("a", "")}, "")
	if err != nil {
		t.Fatalf("AddCommits (re-add): %v", err)
	}
	if len(ack2.Refs) != 0 {
		t.Fatalf("re-adding an existing ref should yield no new refs, got %v", ack2.Refs)
	}
	if got := len(s.AllRefsSorted()); got != 1 {
		t.Fatalf("store should still contain exactly 1 commit, has %d", got)
	}
}

func TestAddCommitsWithRemoteSyncIDMarksAcknowledgement(t *testing.T) {
	ctx := context.Background()
	s := New("store-1", nil, nil)
	defer s.Shutdown(ctx)

	if _, err := s.AddCommits(ctx, []commit.Commit{c("a", "")}, ""); err != nil {
		t.Fatalf("AddCommits: %v", err)
	}
	// Re-inserting with a remoteSyncID acknowledges the existing ref
	// rather than erroring as a duplicate.
	if _, err := s.AddCommits(ctx, []commit.Commit{c("a", "")}, "cursor-1"); err != nil {
		t.Fatalf("AddCommits (ack): %v", err)
	}

	info, err := s.GetRemoteSyncInfo(ctx)
	if err != nil {
		t.Fatalf("GetRemoteSyncInfo: %v", err)
	}
	if info.LastSyncCursor != "cursor-1" {
		t.Fatalf("LastSyncCursor = %q, want cursor-1", info.LastSyncCursor)
	}

	var pendingCount int
	for batch, err := range s.CommitsForRemote(ctx) {
		if err != nil {
			t.Fatalf("CommitsForRemote: %v", err)
		}
		pendingCount += len(batch.Commits)
	}
	if pendingCount != 0 {
		t.Fatalf("acknowledged commit should not appear as pending, got %d", pendingCount)
	}
}

func TestGetLocalCommitsEventSinceCursor(t *testing.T) {
	ctx := context.Background()
	s := New("store-1", nil, nil)
	defer s.Shutdown(ctx)

	if _, err := s.AddCommits(ctx, []commit.Commit{c("a", ""), c("b", "a")}, ""); err != nil {
		t.Fatalf("AddCommits: %v", err)
	}
	first, err := s.GetLocalCommitsEvent(ctx, 0)
	if err != nil {
		t.Fatalf("GetLocalCommitsEvent: %v", err)
	}
	if len(first.Commits) != 2 {
		t.Fatalf("GetLocalCommitsEvent(0) returned %d commits, want 2", len(first.Commits))
	}

	if _, err := s.AddCommits(ctx, []commit.Commit{c("c", "b")}, ""); err != nil {
		t.Fatalf("AddCommits: %v", err)
	}
	second, err := s.GetLocalCommitsEvent(ctx, first.SyncID)
	if err != nil {
		t.Fatalf("GetLocalCommitsEvent: %v", err)
	}
	if diff := cmp.Diff([]commit.Ref{"c"}, refsOf(second.Commits)); diff != "" {
		t.Fatalf("GetLocalCommitsEvent(since) mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitsForRemoteBatchesBySize(t *testing.T) {
	ctx := context.Background()
	s := New("store-1", nil, nil)
	defer s.Shutdown(ctx)

	var batch []commit.Commit
	prev := ""
	for i := 0; i < store.BatchSize*2+1; i++ {
		ref := "r" + string(rune('a'+i))
		batch = append(batch, c(ref, prev))
		prev = ref
	}
	if _, err := s.AddCommits(ctx, batch, ""); err != nil {
		t.Fatalf("AddCommits: %v", err)
	}

	var sizes []int
	for ev, err := range s.CommitsForRemote(ctx) {
		if err != nil {
			t.Fatalf("CommitsForRemote: %v", err)
		}
		sizes = append(sizes, len(ev.Commits))
	}
	want := []int{store.BatchSize, store.BatchSize, 1}
	if diff := cmp.Diff(want, sizes); diff != "" {
		t.Fatalf("batch sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestResetDocRemoteSyncDataClearsCursorsAndRefs(t *testing.T) {
	ctx := context.Background()
	s := New("store-1", nil, nil)
	defer s.Shutdown(ctx)

	if _, err := s.AddCommits(ctx, []commit.Commit{c("a", "")}, "cursor-1"); err != nil {
		t.Fatalf("AddCommits: %v", err)
	}
	if err := s.ResetDocRemoteSyncData(ctx); err != nil {
		t.Fatalf("ResetDocRemoteSyncData: %v", err)
	}

	info, err := s.GetRemoteSyncInfo(ctx)
	if err != nil {
		t.Fatalf("GetRemoteSyncInfo: %v", err)
	}
	if info.LastSyncCursor != "" {
		t.Fatalf("LastSyncCursor after reset = %q, want empty", info.LastSyncCursor)
	}

	var pendingCount int
	for batch, err := range s.CommitsForRemote(ctx) {
		if err != nil {
			t.Fatalf("CommitsForRemote: %v", err)
		}
		pendingCount += len(batch.Commits)
	}
	if pendingCount != 1 {
		t.Fatalf("after reset, previously-synced commit should be pending again, got %d pending", pendingCount)
	}
}

func TestAddCommitsPublishesCommitRefsOnBus(t *testing.T) {
	ctx := context.Background()
	bus := localbus.New()
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	s := New("store-1", nil, bus)
	defer s.Shutdown(ctx)

	if _, err := s.AddCommits(ctx, []commit.Commit{c("a", "")}, ""); err != nil {
		t.Fatalf("AddCommits: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Kind != broadcast.KindCommitRefs {
			t.Fatalf("published message kind = %v, want KindCommitRefs", msg.Kind)
		}
		if diff := cmp.Diff([]commit.Ref{"a"}, msg.CommitRefs); diff != "" {
			t.Fatalf("published refs mismatch (-want +got):\n%s", diff)
		}
	default:
		t.Fatal("AddCommits did not publish a commit-refs message on the bus")
	}
}

func TestAddCommitsConcurrentCallersObserveSerializedOrder(t *testing.T) {
	ctx := context.Background()
	s := New("store-1", nil, nil)
	defer s.Shutdown(ctx)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ref := "r" + string(rune('A'+i))
			s.AddCommits(ctx, []commit.Commit{{Ref: commit.Ref(ref), Delta: []byte("d")}}, "")
		}(i)
	}
	wg.Wait()

	all := s.AllRefsSorted()
	if len(all) != n {
		t.Fatalf("store has %d commits after concurrent inserts, want %d", len(all), n)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Fatalf("AllRefsSorted() not sorted: %v", all)
		}
	}

	// Each insert ran on the store's queue in turn, so each took its own
	// local syncId and the high-water mark equals the number of inserts.
	ev, err := s.GetLocalCommitsEvent(ctx, 0)
	if err != nil {
		t.Fatalf("GetLocalCommitsEvent: %v", err)
	}
	if len(ev.Commits) != n || ev.SyncID != n {
		t.Fatalf("after %d concurrent inserts: %d commits, syncId %d; want %d and %d", n, len(ev.Commits), ev.SyncID, n, n)
	}
}

func refsOf(commits []commit.Commit) []commit.Ref {
	out := make([]commit.Ref, len(commits))
	for i, cm := range commits {
		out[i] = cm.Ref
	}
	return out
}

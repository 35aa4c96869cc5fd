// Package memstore is an in-memory LocalStore, used by tests and by
// hosts that want no filesystem dependency at all. It implements the
// exact same ack/idempotency/cursor semantics as
// internal/store/sqlitestore, sharing internal/store's FIFO Queue.
package memstore

import (
	"context"
	"iter"
	"sort"

	"github.com/weave-sync/weave/internal/broadcast"
	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/store"
)

type record struct {
	commit commit.Commit
	syncID int64
}

// Store is an in-memory LocalStore.
type Store struct {
	queue *store.Queue

	localStoreID string
	byRef        map[commit.Ref]*record
	order        []commit.Ref // insertion order, for GetLocalCommitsEvent
	nextSyncID   int64
	lastCursor   string

	bus     broadcast.Channel // may be nil
	onEvent store.OnEvent
}

// New returns an empty in-memory store identified by localStoreID.
// onEvent and bus may both be nil; see sqlitestore.Open for what bus is
// used for.
func New(localStoreID string, onEvent store.OnEvent, bus broadcast.Channel) *Store {
	if onEvent == nil {
		onEvent = func(store.Event) {}
	}
	return &Store{
		queue:        store.NewQueue(),
		localStoreID: localStoreID,
		byRef:        make(map[commit.Ref]*record),
		bus:          bus,
		onEvent:      onEvent,
	}
}

func (s *Store) AddCommits(ctx context.Context, commits []commit.Commit, remoteSyncID string) (store.Ack, error) {
	return store.Do(ctx, s.queue, func() (store.Ack, error) {
		var refs []commit.Ref
		for _, c := range commits {
			if existing, ok := s.byRef[c.Ref]; ok {
				// Re-insertion: per spec.md §9, a newer remoteSyncID on an
				// existing ref is an acknowledgement, not a duplicate error.
				if remoteSyncID != "" {
					existing.commit.RemoteSyncID = remoteSyncID
				}
				continue
			}
			s.nextSyncID++
			rec := &record{commit: c, syncID: s.nextSyncID}
			if remoteSyncID != "" {
				rec.commit.RemoteSyncID = remoteSyncID
			}
			s.byRef[c.Ref] = rec
			s.order = append(s.order, c.Ref)
			refs = append(refs, c.Ref)
		}
		if remoteSyncID != "" {
			s.lastCursor = remoteSyncID
		}
		ack := store.Ack{Refs: refs, SyncID: s.nextSyncID}
		if len(refs) > 0 {
			s.onEvent(store.Event{Kind: store.EventCommits, Commits: s.eventSince(0, refs)})
			if s.bus != nil {
				s.bus.Publish(broadcast.Message{Kind: broadcast.KindCommitRefs, CommitRefs: refs})
			}
		}
		return ack, nil
	})
}

func (s *Store) AcknowledgeCommits(ctx context.Context, refs []commit.Ref, remoteSyncID string) error {
	_, err := store.Do(ctx, s.queue, func() (struct{}, error) {
		for _, r := range refs {
			if rec, ok := s.byRef[r]; ok {
				rec.commit.RemoteSyncID = remoteSyncID
			}
		}
		if remoteSyncID != "" {
			s.lastCursor = remoteSyncID
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Store) GetLocalCommitsEvent(ctx context.Context, since int64) (store.CommitsEvent, error) {
	return store.Do(ctx, s.queue, func() (store.CommitsEvent, error) {
		var out []commit.Commit
		for _, ref := range s.order {
			rec := s.byRef[ref]
			if rec.syncID > since {
				out = append(out, rec.commit)
			}
		}
		return store.CommitsEvent{Commits: out, SyncID: s.nextSyncID}, nil
	})
}

func (s *Store) eventSince(since int64, only []commit.Ref) store.CommitsEvent {
	wanted := make(map[commit.Ref]struct{}, len(only))
	for _, r := range only {
		wanted[r] = struct{}{}
	}
	var out []commit.Commit
	for _, ref := range s.order {
		if _, ok := wanted[ref]; !ok {
			continue
		}
		out = append(out, s.byRef[ref].commit)
	}
	return store.CommitsEvent{Commits: out, SyncID: s.nextSyncID}
}

func (s *Store) GetRemoteSyncInfo(ctx context.Context) (store.RemoteSyncInfo, error) {
	return store.Do(ctx, s.queue, func() (store.RemoteSyncInfo, error) {
		return store.RemoteSyncInfo{LocalStoreID: s.localStoreID, LastSyncCursor: s.lastCursor}, nil
	})
}

// CommitsForRemote yields fixed-size batches of not-yet-remote-synced
// commits, in insertion order.
func (s *Store) CommitsForRemote(ctx context.Context) iter.Seq2[store.CommitsEvent, error] {
	return func(yield func(store.CommitsEvent, error) bool) {
		pending, err := store.Do(ctx, s.queue, func() ([]commit.Commit, error) {
			var out []commit.Commit
			for _, ref := range s.order {
				rec := s.byRef[ref]
				if rec.commit.RemoteSyncID == "" {
					out = append(out, rec.commit)
				}
			}
			return out, nil
		})
		if err != nil {
			yield(store.CommitsEvent{}, err)
			return
		}
		for i := 0; i < len(pending); i += store.BatchSize {
			end := i + store.BatchSize
			if end > len(pending) {
				end = len(pending)
			}
			batch := pending[i:end]
			if !yield(store.CommitsEvent{Commits: batch, SyncID: s.nextSyncID}, nil) {
				return
			}
		}
	}
}

func (s *Store) DeleteDocDatabase(ctx context.Context) error {
	_, err := store.Do(ctx, s.queue, func() (struct{}, error) {
		s.byRef = make(map[commit.Ref]*record)
		s.order = nil
		s.nextSyncID = 0
		s.lastCursor = ""
		return struct{}{}, nil
	})
	return err
}

func (s *Store) ResetDocRemoteSyncData(ctx context.Context) error {
	_, err := store.Do(ctx, s.queue, func() (struct{}, error) {
		for _, ref := range s.order {
			s.byRef[ref].commit.RemoteSyncID = ""
		}
		s.lastCursor = ""
		return struct{}{}, nil
	})
	return err
}

func (s *Store) Shutdown(ctx context.Context) error {
	s.queue.Shutdown()
	return nil
}

// AllRefsSorted returns every ref currently stored, sorted
// lexicographically. Test helper, not part of the LocalStore contract.
func (s *Store) AllRefsSorted() []commit.Ref {
	out := make([]commit.Ref, 0, len(s.byRef))
	for r := range s.byRef {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ store.LocalStore = (*Store)(nil)

// Factory adapts New to store.Factory: localStoreID is fixed by the
// caller since an in-memory store has no natural per-docId identity of
// its own.
func Factory(localStoreID string, bus broadcast.Channel) store.Factory {
	return func(userID, clientID string, onEvent store.OnEvent) (store.LocalStore, error) {
		return New(localStoreID, onEvent, bus), nil
	}
}

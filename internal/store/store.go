// Package store defines the LocalStore contract: the per-machine
// persistent sink for commits shared by co-resident clients.
//
// Concrete backends (internal/store/sqlitestore, internal/store/memstore)
// implement this interface; weave's engine depends only on it.
package store

import (
	"context"
	"iter"

	"github.com/weave-sync/weave/internal/commit"
)

// Ack is the result of AddCommits: the refs that were accepted (minus
// any silently-ignored duplicates) and the local syncId assigned to the
// batch's high-water mark.
type Ack struct {
	Refs   []commit.Ref
	SyncID int64
}

// CommitsEvent is a batch of commits observed at a given local syncId
// high-water mark.
type CommitsEvent struct {
	Commits []commit.Commit
	SyncID  int64
}

// RemoteSyncInfo captures a store's stable identity and the last
// acknowledged remote cursor.
type RemoteSyncInfo struct {
	LocalStoreID   string
	LastSyncCursor string
}

// EventKind tags the events a LocalStore publishes on its onEvent stream.
type EventKind string

const (
	EventCommits EventKind = "commits"
	EventAck     EventKind = "ack"
	EventReady   EventKind = "ready"
)

// Event is the sum type delivered to a LocalStore's onEvent callback.
type Event struct {
	Kind    EventKind
	Commits CommitsEvent // valid when Kind == EventCommits
	Ack     Ack          // valid when Kind == EventAck
}

// OnEvent receives LocalStore events. Implementations must not block for
// long inside this callback; the store calls it synchronously from its
// FIFO worker.
type OnEvent func(Event)

// LocalStore is the append-only commit log plus heads and remote-sync
// metadata for one docId. All operations are serialized through a
// per-store FIFO queue: concurrent callers observe a total order.
type LocalStore interface {
	// AddCommits appends commits, idempotent on Ref (duplicates silently
	// ignored). If remoteSyncID is non-empty, the commits are additionally
	// marked remote-synced and LastSyncCursor is updated. Re-adding an
	// existing ref with a new remoteSyncID is treated as an
	// acknowledgement of that ref, not a duplicate error.
	AddCommits(ctx context.Context, commits []commit.Commit, remoteSyncID string) (Ack, error)

	// AcknowledgeCommits marks pre-existing commits as synced without
	// re-inserting them.
	AcknowledgeCommits(ctx context.Context, refs []commit.Ref, remoteSyncID string) error

	// GetLocalCommitsEvent returns all commits with local syncId greater
	// than sinceSyncCursor, in insertion order.
	GetLocalCommitsEvent(ctx context.Context, sinceSyncCursor int64) (CommitsEvent, error)

	// GetRemoteSyncInfo returns the store's identity and last ack cursor.
	GetRemoteSyncInfo(ctx context.Context) (RemoteSyncInfo, error)

	// CommitsForRemote lazily yields fixed-size batches of commits not
	// yet remote-synced, for streaming to a Remote.
	CommitsForRemote(ctx context.Context) iter.Seq2[CommitsEvent, error]

	// DeleteDocDatabase closes all handles and removes persisted state.
	DeleteDocDatabase(ctx context.Context) error

	// ResetDocRemoteSyncData clears remote-sync metadata and the
	// RemoteSyncID on every commit, forcing a fresh re-push on next
	// leader election.
	ResetDocRemoteSyncData(ctx context.Context) error

	// Shutdown drains the queue and releases resources. After Shutdown,
	// every method returns a werr.Shutdown error.
	Shutdown(ctx context.Context) error
}

// BatchSize is the reference batch size for CommitsForRemote, per
// spec.md §4.2 ("reference value: 5").
const BatchSize = 5

// Factory is the getLocalStore factory signature from spec.md §6: the
// engine supplies its own onEvent sink and the factory returns a bound
// LocalStore, breaking the engine/store/onEvent construction cycle.
type Factory func(userID, clientID string, onEvent OnEvent) (LocalStore, error)

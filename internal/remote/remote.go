// Package remote defines the Remote transport contract: an optional
// upstream sink for commits, reached via exactly one leader per local
// store. weave ships two reference implementations
// (internal/remote/wsremote, internal/remote/libsqlremote); a host
// application may supply its own.
package remote

import (
	"context"
	"iter"

	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/store"
)

// EventKind tags the events a Remote publishes on its onEvent stream.
type EventKind string

const (
	EventReady       EventKind = "ready"
	EventCommits     EventKind = "commits"
	EventAck         EventKind = "ack"
	EventRemoteState EventKind = "remote-state"
	EventError       EventKind = "error"
)

// RemoteStateSubstate mirrors spec.md §6's remote-state shape.
type RemoteStateSubstate struct {
	Connect string // offline | connecting | online | error
	Read    string // offline | loading | ready | error
	Save    string // ready | pending | saving | error
}

// ErrorEvent carries a classified remote failure.
type ErrorEvent struct {
	Message   string
	Fatal     bool
	Reconnect bool
}

// Event is the sum type delivered to a Remote's onEvent callback.
type Event struct {
	Kind EventKind

	Commits     store.CommitsEvent // valid when Kind == EventCommits
	AckRefs     []commit.Ref       // valid when Kind == EventAck
	AckCursor   string             // valid when Kind == EventAck
	RemoteState RemoteStateSubstate
	Error       ErrorEvent
}

// OnEvent receives Remote events.
type OnEvent func(Event)

// Remote streams batches of commits in both directions with explicit
// ack cursors.
type Remote interface {
	// SendCommits streams one batch of outbound commits and blocks until
	// the remote acknowledges it, returning the new cursor.
	SendCommits(ctx context.Context, batch store.CommitsEvent) (newCursor string, err error)

	// Inbound returns a sequence of inbound commit batches the remote
	// pushes; iterating blocks until the next batch arrives or ctx is
	// done. Each yielded batch already carries its RemoteSyncID.
	Inbound(ctx context.Context) iter.Seq2[store.CommitsEvent, error]

	// Close cancels any in-flight reconnect timer and releases the
	// connection.
	Close() error
}

// Factory is the getRemote factory signature from spec.md §6.
type Factory func(ctx context.Context, userID string, info store.RemoteSyncInfo, onEvent OnEvent) (Remote, error)

// BackoffConfig is the reconnect policy from spec.md §4.4 / §6.
type BackoffConfig struct {
	InitialDelayMs             int
	ReconnectBackoffMultiplier float64
	MaxReconnectDelayMs        int
}

// NextDelayMs returns the delay before the (attempt+1)th reconnect
// attempt, where attempt is the number of failed attempts so far
// (0 for the first retry). Zero InitialDelayMs means "immediate".
func (c BackoffConfig) NextDelayMs(attempt int) int {
	if c.InitialDelayMs <= 0 {
		return 0
	}
	delay := float64(c.InitialDelayMs)
	mult := c.ReconnectBackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		delay *= mult
	}
	if c.MaxReconnectDelayMs > 0 && delay > float64(c.MaxReconnectDelayMs) {
		delay = float64(c.MaxReconnectDelayMs)
	}
	return int(delay)
}

// Package broadcast defines the same-origin pub/sub contract used by
// every engine sharing a local store: commit-arrival notifications,
// presence updates, leader-election messages, and leader-proxied
// remote-status updates. Delivery is best-effort and lossy; the local
// store remains the source of truth, so receivers must be correct under
// arbitrary message loss.
package broadcast

import (
	"time"

	"github.com/weave-sync/weave/internal/commit"
)

// Kind tags a broadcast message.
type Kind string

const (
	KindCommitRefs  Kind = "commit-refs"
	KindPresence    Kind = "presence"
	KindElection    Kind = "election"
	KindRemoteState Kind = "remote-state"
)

// Message is the envelope carried on a Channel. Exactly one payload
// field is meaningful, selected by Kind.
type Message struct {
	Kind Kind

	// CommitRefs: refs only; recipients pull full commit data from the
	// local store.
	CommitRefs []commit.Ref

	// Presence: a presence update (see internal/presence).
	Presence PresenceMessage

	// Election: a leader-election proposal or heartbeat.
	Election ElectionMessage

	// RemoteState: proxied by the current leader.
	RemoteState RemoteStateMessage
}

// PresenceMessage is the wire shape of a presence broadcast.
type PresenceMessage struct {
	UserID   string
	ClientID string
	Ref      commit.Ref
	Presence []byte // opaque, host-defined payload
	Left     bool   // true when a client is announcing departure

	// AwayUntil is set when a client has announced it expects to be away
	// until a given time; nil means no away announcement. The core never
	// parses a string for this — see internal/presence's natural-language
	// helper, used only at the CLI boundary.
	AwayUntil *time.Time
}

// ElectionMessage carries a leader-election proposal or heartbeat.
type ElectionMessage struct {
	ClientID  string
	Tiebreak  uint64
	Heartbeat bool
}

// RemoteStateMessage mirrors spec.md §6's remote-state event shape.
type RemoteStateMessage struct {
	Connect string // offline | connecting | online | error
	Read    string // offline | loading | ready | error
	Save    string // ready | pending | saving | error
}

// Subscription is a handle with exclusive ownership of its receiver
// channel; Unsubscribe must be called to release it.
type Subscription interface {
	Messages() <-chan Message
	Unsubscribe()
}

// Channel is the same-origin pub/sub contract.
type Channel interface {
	// Publish best-effort broadcasts msg to every current subscriber.
	// Publish never blocks: a subscriber whose buffer is full simply
	// misses the message.
	Publish(msg Message)

	// Subscribe returns a new Subscription. Each call gets its own
	// receiver; messages published before Subscribe returns are not
	// delivered to it.
	Subscribe() Subscription

	// Close releases the channel's resources and closes every current
	// subscriber's channel.
	Close() error
}

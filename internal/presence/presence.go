// Package presence implements spec.md §4's presence multiplexer: it
// tracks other clients' cursors and status, propagating updates over
// the broadcast channel and, when this client is the remote leader,
// through an optional RemoteBridge.
//
// Grounded on internal/turso/dashboard.Server's client-registry idiom
// (a map of connected peers kept current from a stream of events,
// exposed to subscribers as a snapshot slice), adapted from dashboard
// viewers to document collaborators.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/weave-sync/weave/internal/broadcast"
	"github.com/weave-sync/weave/internal/commit"
)

// Record is one client's current presence.
type Record struct {
	UserID    string
	ClientID  string
	Ref       commit.Ref
	Presence  []byte
	AwayUntil *time.Time
}

// RemoteBridge is an optional extension point: a remote transport whose
// wire protocol carries presence in addition to commits implements this
// so the leader can proxy presence updates upstream. Neither reference
// remote (wsremote, libsqlremote) implements it, since spec.md §6 does
// not define a presence event on the remote's own wire protocol; hosts
// with a richer remote may supply one.
type RemoteBridge interface {
	PublishPresence(ctx context.Context, r Record) error
}

// Multiplexer tracks peer presence for one client's engine.
type Multiplexer struct {
	selfClientID string
	bus          broadcast.Channel

	mu     sync.Mutex
	peers  map[string]Record
	bridge RemoteBridge

	subscribers map[int]func([]Record)
	nextSubID   int

	sub  broadcast.Subscription
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New starts a Multiplexer for selfClientID, subscribing to bus.
func New(selfClientID string, bus broadcast.Channel) *Multiplexer {
	m := &Multiplexer{
		selfClientID: selfClientID,
		bus:          bus,
		peers:        make(map[string]Record),
		subscribers:  make(map[int]func([]Record)),
		sub:          bus.Subscribe(),
		done:         make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *Multiplexer) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case msg, ok := <-m.sub.Messages():
			if !ok {
				return
			}
			if msg.Kind != broadcast.KindPresence || msg.Presence.ClientID == m.selfClientID {
				continue
			}
			m.applyLocked(msg.Presence)
		}
	}
}

func (m *Multiplexer) applyLocked(p broadcast.PresenceMessage) {
	m.mu.Lock()
	if p.Left {
		delete(m.peers, p.ClientID)
	} else {
		m.peers[p.ClientID] = Record{
			UserID: p.UserID, ClientID: p.ClientID, Ref: p.Ref,
			Presence: p.Presence, AwayUntil: p.AwayUntil,
		}
	}
	snapshot := m.snapshotLocked()
	subs := make([]func([]Record), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

func (m *Multiplexer) snapshotLocked() []Record {
	out := make([]Record, 0, len(m.peers))
	for _, r := range m.peers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// SetRemoteBridge installs or clears (pass nil) the remote presence
// bridge, used by the engine when leadership or the remote connection
// changes.
func (m *Multiplexer) SetRemoteBridge(b RemoteBridge) {
	m.mu.Lock()
	m.bridge = b
	m.mu.Unlock()
}

// Publish announces this client's presence to peers, and to the remote
// if a bridge is installed.
func (m *Multiplexer) Publish(ctx context.Context, r Record) error {
	r.ClientID = m.selfClientID
	m.bus.Publish(broadcast.Message{
		Kind: broadcast.KindPresence,
		Presence: broadcast.PresenceMessage{
			UserID: r.UserID, ClientID: r.ClientID, Ref: r.Ref,
			Presence: r.Presence, AwayUntil: r.AwayUntil,
		},
	})
	m.mu.Lock()
	bridge := m.bridge
	m.mu.Unlock()
	if bridge != nil {
		return bridge.PublishPresence(ctx, r)
	}
	return nil
}

// Leave announces this client's departure.
func (m *Multiplexer) Leave() {
	m.bus.Publish(broadcast.Message{
		Kind:     broadcast.KindPresence,
		Presence: broadcast.PresenceMessage{ClientID: m.selfClientID, Left: true},
	})
}

// Peers returns a snapshot of currently known peers.
func (m *Multiplexer) Peers() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn, which fires immediately with the current
// peer set and again on every change, mirroring subscribeDoc's
// fire-immediately convention.
func (m *Multiplexer) Subscribe(fn func([]Record)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	fn(snapshot)

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Shutdown announces departure and stops the multiplexer.
func (m *Multiplexer) Shutdown() {
	m.once.Do(func() {
		m.Leave()
		close(m.done)
		m.sub.Unsubscribe()
	})
	m.wg.Wait()
}

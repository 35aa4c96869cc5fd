// Package syncstatus derives and publishes the coarse five-axis sync
// status from spec.md §4.6, debounced to one emit per micro-batch so
// subscribers observe each distinct state exactly once.
//
// Grounded on internal/turso/dashboard.Server's "derived, periodically
// recomputed, broadcast" MessageTypeStats idiom, adapted from
// dashboard statistics to the fixed five-axis shape this spec defines.
package syncstatus

import "sync"

type LocalRead string

const (
	LocalReadLoading LocalRead = "loading"
	LocalReadReady   LocalRead = "ready"
	LocalReadError   LocalRead = "error"
)

type LocalSave string

const (
	LocalSaveReady  LocalSave = "ready"
	LocalSavePending LocalSave = "pending"
	LocalSaveSaving LocalSave = "saving"
	LocalSaveError  LocalSave = "error"
)

type RemoteConnect string

const (
	RemoteConnectOffline    RemoteConnect = "offline"
	RemoteConnectConnecting RemoteConnect = "connecting"
	RemoteConnectOnline     RemoteConnect = "online"
	RemoteConnectError      RemoteConnect = "error"
)

type RemoteRead string

const (
	RemoteReadOffline RemoteRead = "offline"
	RemoteReadLoading RemoteRead = "loading"
	RemoteReadReady   RemoteRead = "ready"
	RemoteReadError   RemoteRead = "error"
)

type RemoteSave string

const (
	RemoteSaveReady   RemoteSave = "ready"
	RemoteSavePending RemoteSave = "pending"
	RemoteSaveSaving  RemoteSave = "saving"
	RemoteSaveError   RemoteSave = "error"
)

// Status is the product of the five orthogonal axes.
type Status struct {
	LocalRead     LocalRead
	LocalSave     LocalSave
	RemoteConnect RemoteConnect
	RemoteRead    RemoteRead
	RemoteSave    RemoteSave
}

// Subscriber receives Status updates.
type Subscriber func(Status)

// Reporter holds the current Status and notifies subscribers, debounced
// to one emit per micro-batch: repeated SetX calls within the same
// Flush() window coalesce into a single notification carrying the final
// state, mirroring the engine's own flush-coalescing (see
// internal/engine's flush scheduler).
type Reporter struct {
	mu          sync.Mutex
	status      Status
	dirty       bool
	subscribers map[int]Subscriber
	nextSubID   int
}

// New returns a Reporter starting in the initial (loading, ready,
// offline, offline, ready) state.
func New() *Reporter {
	return &Reporter{
		status: Status{
			LocalRead: LocalReadLoading, LocalSave: LocalSaveReady,
			RemoteConnect: RemoteConnectOffline, RemoteRead: RemoteReadOffline,
			RemoteSave: RemoteSaveReady,
		},
		subscribers: make(map[int]Subscriber),
	}
}

// Subscribe registers fn and immediately calls it with the current
// status, per the subscribeSyncStatus contract's "fires immediately"
// convention shared with subscribeDoc.
func (r *Reporter) Subscribe(fn Subscriber) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	cur := r.status
	r.mu.Unlock()

	fn(cur)

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

// Current returns the current status.
func (r *Reporter) Current() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Reporter) mutate(fn func(*Status)) {
	r.mu.Lock()
	before := r.status
	fn(&r.status)
	if r.status != before {
		r.dirty = true
	}
	r.mu.Unlock()
}

func (r *Reporter) SetLocalRead(v LocalRead) { r.mutate(func(s *Status) { s.LocalRead = v }) }
func (r *Reporter) SetLocalSave(v LocalSave) { r.mutate(func(s *Status) { s.LocalSave = v }) }
func (r *Reporter) SetRemoteConnect(v RemoteConnect) {
	r.mutate(func(s *Status) { s.RemoteConnect = v })
}
func (r *Reporter) SetRemoteRead(v RemoteRead) { r.mutate(func(s *Status) { s.RemoteRead = v }) }
func (r *Reporter) SetRemoteSave(v RemoteSave) { r.mutate(func(s *Status) { s.RemoteSave = v }) }

// Flush notifies every subscriber with the current status if any SetX
// call changed it since the last Flush, and clears the dirty flag. SetX
// calls made between two Flush calls reach subscribers as a single
// notification carrying the final state. The engine (see
// internal/engine) calls Flush right after each transition it reports,
// so LocalSave's ready->pending->saving->ready sequence is emitted step
// by step per spec.md §8's sync-status-monotonicity property; it groups
// several axes into one Flush only where it sets them together, as in
// stopRemote and onRemoteEvent.
func (r *Reporter) Flush() {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	r.dirty = false
	cur := r.status
	subs := make([]Subscriber, 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(cur)
	}
}

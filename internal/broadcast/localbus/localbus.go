// Package localbus is an in-process broadcast.Channel: lossy fan-out
// over buffered Go channels, grounded in
// internal/turso/dashboard.Server's broadcast-chan-plus-fan-out-loop
// idiom, adapted from "one broadcast channel, many websocket clients"
// to "one broadcast channel, many in-process subscribers".
package localbus

import (
	"sync"

	"github.com/weave-sync/weave/internal/broadcast"
)

// subscriberBuffer is how many undelivered messages a slow subscriber
// may accumulate before Publish starts dropping messages for it.
const subscriberBuffer = 64

// Bus is an in-process broadcast.Channel.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// New returns a ready Bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

type subscription struct {
	bus *Bus
	ch  chan broadcast.Message
}

func (s *subscription) Messages() <-chan broadcast.Message { return s.ch }

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; ok {
		delete(s.bus.subs, s)
		close(s.ch)
	}
}

// Subscribe returns a new subscription with its own buffered channel.
func (b *Bus) Subscribe() broadcast.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscription{bus: b, ch: make(chan broadcast.Message, subscriberBuffer)}
	if !b.closed {
		b.subs[s] = struct{}{}
	} else {
		close(s.ch)
	}
	return s
}

// Publish fans msg out to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking.
func (b *Bus) Publish(msg broadcast.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- msg:
		default:
			// backpressure: drop for this subscriber, per spec.md §4.3
		}
	}
}

// Close closes every current subscriber's channel and marks the bus
// closed; further Subscribe calls return an already-closed channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = make(map[*subscription]struct{})
	return nil
}

var _ broadcast.Channel = (*Bus)(nil)

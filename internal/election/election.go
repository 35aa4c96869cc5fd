// Package election implements spec.md §4.7's leader election: among
// engines sharing a local store, exactly one becomes remoteLeader.
//
// Grounded on internal/turso/agent/bookmark.go's lifecycle-state struct
// shape (Agent / *Options config structs / a Status snapshot type),
// carried over here from "which VCS bookmark owns this agent's work" to
// "which engine owns the remote proxy role" — the same
// spawn/hold/lose-and-reelect lifecycle, different resource being owned.
package election

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/weave-sync/weave/internal/broadcast"
)

// Config holds election timing, all in milliseconds per spec.md §6; 0
// means "disabled" for the heartbeat timeout.
type Config struct {
	ElectionTimeoutMs  int
	HeartbeatIntervalMs int
	HeartbeatTimeoutMs int
}

// DefaultConfig returns the reference timing values.
func DefaultConfig() Config {
	return Config{ElectionTimeoutMs: 200, HeartbeatIntervalMs: 1000, HeartbeatTimeoutMs: 3000}
}

// Elector runs the election protocol for one client sharing a
// broadcast.Channel with its peers.
type Elector struct {
	clientID string
	tiebreak uint64
	cfg      Config
	ch       broadcast.Channel

	onLeaderChange func(isLeader bool)

	mu           sync.Mutex
	isLeader     bool
	bestSeen     proposal
	sawSelf      bool
	lastHeartbeat time.Time

	sub    broadcast.Subscription
	done   chan struct{}
	wg     sync.WaitGroup
	closeOnce sync.Once
}

type proposal struct {
	clientID string
	tiebreak uint64
}

// higher returns true if p is strictly greater than q: the larger
// tiebreak wins, and equal tiebreaks fall back to the larger clientID.
func (p proposal) higher(q proposal) bool {
	if p.tiebreak != q.tiebreak {
		return p.tiebreak > q.tiebreak
	}
	return p.clientID > q.clientID
}

// New starts an Elector for clientID over ch. onLeaderChange is called
// (from the elector's own goroutine) whenever leadership is gained or
// lost; it must not block.
func New(clientID string, ch broadcast.Channel, cfg Config, onLeaderChange func(isLeader bool)) *Elector {
	e := &Elector{
		clientID:       clientID,
		tiebreak:       randomTiebreak(),
		cfg:            cfg,
		ch:             ch,
		onLeaderChange: onLeaderChange,
		done:           make(chan struct{}),
	}
	e.bestSeen = proposal{clientID: clientID, tiebreak: e.tiebreak}
	e.sub = ch.Subscribe()
	e.wg.Add(1)
	go e.run()
	return e
}

func randomTiebreak() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// IsLeader reports whether this client currently holds the remote
// leader role.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

func (e *Elector) run() {
	defer e.wg.Done()

	e.propose(false)
	electionTimer := time.NewTimer(msDuration(e.cfg.ElectionTimeoutMs))
	defer electionTimer.Stop()

	var heartbeatTicker *time.Ticker
	if e.cfg.HeartbeatIntervalMs > 0 {
		heartbeatTicker = time.NewTicker(msDuration(e.cfg.HeartbeatIntervalMs))
		defer heartbeatTicker.Stop()
	}
	var heartbeatTimeout *time.Timer
	if e.cfg.HeartbeatTimeoutMs > 0 {
		heartbeatTimeout = time.NewTimer(msDuration(e.cfg.HeartbeatTimeoutMs))
		defer heartbeatTimeout.Stop()
	}

	var electionDecided bool
	for {
		var hbTimeoutC <-chan time.Time
		if heartbeatTimeout != nil {
			hbTimeoutC = heartbeatTimeout.C
		}
		var hbTickC <-chan time.Time
		if heartbeatTicker != nil {
			hbTickC = heartbeatTicker.C
		}

		select {
		case <-e.done:
			return

		case msg, ok := <-e.sub.Messages():
			if !ok {
				return
			}
			if msg.Kind != broadcast.KindElection {
				continue
			}
			cand := proposal{clientID: msg.Election.ClientID, tiebreak: msg.Election.Tiebreak}
			e.mu.Lock()
			if cand.higher(e.bestSeen) {
				e.bestSeen = cand
			}
			e.mu.Unlock()
			if msg.Election.Heartbeat && cand.clientID != e.clientID {
				if heartbeatTimeout != nil {
					if !heartbeatTimeout.Stop() {
						drain(heartbeatTimeout)
					}
					heartbeatTimeout.Reset(msDuration(e.cfg.HeartbeatTimeoutMs))
				}
				if cand.higher(proposal{clientID: e.clientID, tiebreak: e.tiebreak}) {
					e.setLeader(false)
				}
			}

		case <-electionTimer.C:
			if !electionDecided {
				electionDecided = true
				e.mu.Lock()
				won := e.bestSeen.clientID == e.clientID
				e.mu.Unlock()
				e.setLeader(won)
				if won {
					e.propose(true)
				}
			}

		case <-hbTickC:
			if e.IsLeader() {
				e.propose(true)
			}

		case <-hbTimeoutC:
			// leader silent too long: re-run the election
			e.mu.Lock()
			e.bestSeen = proposal{clientID: e.clientID, tiebreak: e.tiebreak}
			e.mu.Unlock()
			electionDecided = false
			e.propose(false)
			if !electionTimer.Stop() {
				drain(electionTimer)
			}
			electionTimer.Reset(msDuration(e.cfg.ElectionTimeoutMs))
		}
	}
}

func (e *Elector) propose(heartbeat bool) {
	e.ch.Publish(broadcast.Message{
		Kind: broadcast.KindElection,
		Election: broadcast.ElectionMessage{
			ClientID: e.clientID, Tiebreak: e.tiebreak, Heartbeat: heartbeat,
		},
	})
}

func (e *Elector) setLeader(v bool) {
	e.mu.Lock()
	changed := e.isLeader != v
	e.isLeader = v
	e.mu.Unlock()
	if changed && e.onLeaderChange != nil {
		e.onLeaderChange(v)
	}
}

// Shutdown stops the elector and relinquishes leadership.
func (e *Elector) Shutdown() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.sub.Unsubscribe()
	})
	e.wg.Wait()
	e.setLeader(false)
}

func msDuration(ms int) time.Duration {
	if ms <= 0 {
		// A zero timeout is "disabled" per spec.md §6; callers guard the
		// disabled case before using this, this fallback only prevents a
		// zero-duration busy timer if one slips through.
		return time.Hour
	}
	return time.Duration(ms) * time.Millisecond
}

func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

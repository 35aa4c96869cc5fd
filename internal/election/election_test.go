package election

import (
	"sync"
	"testing"
	"time"

	"github.com/weave-sync/weave/internal/broadcast/localbus"
)

func testConfig() Config {
	// Fast timings so the election settles in milliseconds; heartbeat
	// disabled here (0) since these tests only care about who wins.
	return Config{ElectionTimeoutMs: 20}
}

func waitForLeader(t *testing.T, leaderCh <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-leaderCh:
		if got != want {
			t.Fatalf("onLeaderChange(%v), want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onLeaderChange")
	}
}

func TestSingleElectorBecomesLeaderAlone(t *testing.T) {
	bus := localbus.New()
	defer bus.Close()

	leaderCh := make(chan bool, 4)
	e := New("client-1", bus, testConfig(), func(isLeader bool) { leaderCh <- isLeader })
	defer e.Shutdown()

	waitForLeader(t, leaderCh, true)
	if !e.IsLeader() {
		t.Fatal("IsLeader() = false after onLeaderChange(true)")
	}
}

func TestHigherTiebreakWins(t *testing.T) {
	p1 := proposal{clientID: "a", tiebreak: 1}
	p2 := proposal{clientID: "a", tiebreak: 2}
	if !p2.higher(p1) {
		t.Fatal("proposal with higher tiebreak should be higher")
	}
	if p1.higher(p2) {
		t.Fatal("proposal with lower tiebreak should not be higher")
	}
}

func TestTiebreakEqualFallsBackToClientID(t *testing.T) {
	p1 := proposal{clientID: "a", tiebreak: 5}
	p2 := proposal{clientID: "b", tiebreak: 5}
	if !p2.higher(p1) {
		t.Fatal("equal tiebreak should fall back to lexicographically larger clientId")
	}
}

func TestTwoElectorsExactlyOneBecomesLeader(t *testing.T) {
	bus := localbus.New()
	defer bus.Close()

	var mu sync.Mutex
	leaders := make(map[string]bool)
	record := func(name string) func(bool) {
		return func(isLeader bool) {
			mu.Lock()
			leaders[name] = isLeader
			mu.Unlock()
		}
	}

	e1 := New("client-1", bus, testConfig(), record("client-1"))
	defer e1.Shutdown()
	e2 := New("client-2", bus, testConfig(), record("client-2"))
	defer e2.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e1.IsLeader() != e2.IsLeader() && (e1.IsLeader() || e2.IsLeader()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("exactly one elector should be leader, got client-1=%v client-2=%v", e1.IsLeader(), e2.IsLeader())
}

func TestShutdownRelinquishesLeadership(t *testing.T) {
	bus := localbus.New()
	defer bus.Close()

	leaderCh := make(chan bool, 4)
	e := New("client-1", bus, testConfig(), func(isLeader bool) { leaderCh <- isLeader })
	waitForLeader(t, leaderCh, true)

	e.Shutdown()
	if e.IsLeader() {
		t.Fatal("IsLeader() should be false after Shutdown")
	}
}

// Package fsbus is a cross-process broadcast.Channel for engines
// running in separate OS processes that share one local store file. It
// publishes by writing a JSON-encoded message to a dot-prefixed
// temporary file in a spool directory and renaming it into place;
// subscribers watch the directory with fsnotify and read new files as
// they appear.
//
// This is internal/turso/daemon's fsnotify watch-and-debounce loop
// (internal/turso/daemon/watcher.go, daemon.go) repurposed: the teacher
// watches tasks/*.json and deps/*.json for edits made by any editor;
// fsbus watches a spool directory for messages published by any
// co-resident engine. Same mechanism, different payload.
package fsbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/weave-sync/weave/internal/broadcast"
)

const (
	subscriberBuffer = 64
	// retention bounds spool directory growth: files older than this are
	// swept by the janitor goroutine. Short because delivery is meant to
	// be near-immediate; a file surviving this long means every
	// subscriber already missed it or never will read it.
	retention = 30 * time.Second
	sweepEvery = 5 * time.Second
)

// Bus is a spool-directory-backed broadcast.Channel.
type Bus struct {
	dir     string
	watcher *fsnotify.Watcher

	mu   sync.Mutex
	subs map[*subscription]struct{}

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates the spool directory (if needed) and starts watching it.
func New(dir string) (*Bus, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsbus: create spool dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsbus: new watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("fsbus: watch spool dir: %w", err)
	}
	b := &Bus{
		dir:     dir,
		watcher: w,
		subs:    make(map[*subscription]struct{}),
		done:    make(chan struct{}),
	}
	b.wg.Add(2)
	go b.watchLoop()
	go b.sweepLoop()
	return b, nil
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

// Subscribe returns a new subscription fed by the directory watcher.
func (b *Bus) Subscribe() broadcast.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscription{bus: b, ch: make(chan broadcast.Message, subscriberBuffer)}
	b.subs[s] = struct{}{}
	return s
}

// Publish writes msg to a new spool file; fsnotify delivers it to every
// subscriber (including ones in other processes) watching the directory.
func (b *Bus) Publish(msg broadcast.Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		return // malformed payloads are dropped silently: best-effort bus
	}
	name := fmt.Sprintf("%020d-%08x.json", time.Now().UnixNano(), randSuffix())
	tmp := filepath.Join(b.dir, "."+name)
	final := filepath.Join(b.dir, name)
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return
	}
	// Atomic rename so watchers never observe a partially-written file.
	_ = os.Rename(tmp, final)
}

func (b *Bus) watchLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(ev.Name) != ".json" {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue // temp file still being written; its rename delivers it
			}
			b.deliver(ev.Name)
		case _, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			// best-effort bus: watcher errors are not fatal, keep going
		}
	}
}

func (b *Bus) deliver(path string) {
	body, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var msg broadcast.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- msg:
		default:
		}
	}
}

func (b *Bus) sweepLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Bus) sweep() {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-retention)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(b.dir, e.Name()))
		}
	}
}

// Close stops watching and closes every subscriber's channel.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.watcher.Close()
		b.wg.Wait()
		b.mu.Lock()
		for s := range b.subs {
			close(s.ch)
		}
		b.subs = make(map[*subscription]struct{})
		b.mu.Unlock()
	})
	return err
}

var _ broadcast.Channel = (*Bus)(nil)

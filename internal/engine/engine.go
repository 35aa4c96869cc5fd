// Package engine implements spec.md §4.5's per-client engine: the hard
// core that applies local edits, maintains the working document,
// coordinates local save, drains remote and peer events, computes
// three-way merges across concurrent heads, and reports sync status.
//
// Grounded on internal/turso/daemon.Daemon's Start/Stop lifecycle and
// its debounce-then-act loop (daemon.go watches files, debounces, syncs
// to a database; here the engine accepts edits, debounces, flushes to a
// store) — the same shape, generalized from filesystem events to
// programmatic document edits. The single-threaded-cooperative
// scheduling spec.md §5 asks for is modeled the same way
// internal/store models its own FIFO: a dedicated worker goroutine
// drained through the generic store.Do helper, reused here rather than
// duplicated.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weave-sync/weave/internal/broadcast"
	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/differ"
	"github.com/weave-sync/weave/internal/election"
	"github.com/weave-sync/weave/internal/presence"
	"github.com/weave-sync/weave/internal/remote"
	"github.com/weave-sync/weave/internal/store"
	"github.com/weave-sync/weave/internal/syncstatus"
)

// Options configures one Engine instance.
type Options struct {
	UserID   string
	ClientID string

	// BufferMs is the delay between the first pending edit and its
	// flush; 0 means "next turn" (spec.md §5's reference value).
	BufferMs int

	Backoff  remote.BackoffConfig
	Election election.Config

	// FlushRetryDelay is how long the engine waits before retrying a
	// failed flush once. Zero uses a 200ms default.
	FlushRetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.FlushRetryDelay <= 0 {
		o.FlushRetryDelay = 200 * time.Millisecond
	}
	if o.Election == (election.Config{}) {
		o.Election = election.DefaultConfig()
	}
	return o
}

type edgeKey [2]commit.Ref

func mkEdgeKey(a, b commit.Ref) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// Engine is one client's sync engine over a shared local store.
type Engine struct {
	opts   Options
	differ differ.Differ
	bus    broadcast.Channel
	st     store.LocalStore

	remoteFactory remote.Factory // nil means no remote configured

	loop *store.Queue // engine-internal cooperative FIFO

	graph      *commit.GraphIndex
	head       commit.Ref
	doc        any
	pending    []commit.Commit
	docMemo    map[commit.Ref]any
	errorEdges map[edgeKey]struct{}
	lastLocalSyncID int64

	flushMu       sync.Mutex
	flushRetries  int
	flushScheduled bool

	docSubMu     sync.Mutex
	docSubs      map[int]func(any)
	nextDocSubID int

	status      *syncstatus.Reporter
	presenceMux *presence.Multiplexer
	elector     *election.Elector

	remoteMu     sync.Mutex
	activeRemote remote.Remote
	remoteCancel context.CancelFunc
	remoteWG     sync.WaitGroup
	isLeader     bool
	wakeOutbound chan struct{}

	bcSub broadcast.Subscription

	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

// New constructs and starts an Engine: it opens the local store (via
// storeFactory, supplying the engine's own event sink so the
// engine/store/onEvent construction cycle never has to be broken by a
// nil placeholder), replays existing commits, and runs the merge loop
// once silently before returning.
func New(ctx context.Context, opts Options, d differ.Differ, storeFactory store.Factory, bus broadcast.Channel, remoteFactory remote.Factory) (*Engine, error) {
	opts = opts.withDefaults()
	e := &Engine{
		opts:          opts,
		differ:        d,
		bus:           bus,
		remoteFactory: remoteFactory,
		loop:          store.NewQueue(),
		graph:         commit.NewGraphIndex(),
		docMemo:       make(map[commit.Ref]any),
		errorEdges:    make(map[edgeKey]struct{}),
		docSubs:       make(map[int]func(any)),
		status:        syncstatus.New(),
		shutdownDone:  make(chan struct{}),
		wakeOutbound:  make(chan struct{}, 1),
	}

	st, err := storeFactory(opts.UserID, opts.ClientID, e.handleStoreEvent)
	if err != nil {
		return nil, fmt.Errorf("engine: open local store: %w", err)
	}
	e.st = st

	if err := e.initialLoad(ctx); err != nil {
		return nil, err
	}

	e.presenceMux = presence.New(opts.ClientID, bus)
	e.bcSub = bus.Subscribe()
	go e.broadcastLoop(ctx)

	if remoteFactory != nil {
		e.elector = election.New(opts.ClientID, bus, opts.Election, e.onLeaderChange)
	}

	return e, nil
}

func (e *Engine) initialLoad(ctx context.Context) error {
	ev, err := e.st.GetLocalCommitsEvent(ctx, 0)
	if err != nil {
		e.status.SetLocalRead(syncstatus.LocalReadError)
		e.status.Flush()
		return fmt.Errorf("engine: initial load: %w", err)
	}
	for i := range ev.Commits {
		e.graph.Add(&ev.Commits[i])
	}
	e.lastLocalSyncID = ev.SyncID

	// Silent: no subscribers exist yet at construction time, so running
	// the merge loop here never fires a notification.
	e.runMergeLoop()
	if head := soleHead(e.graph); head != "" {
		doc, err := e.graph.DocOf(head, e.docMemo, e.applyCommit)
		if err != nil {
			e.status.SetLocalRead(syncstatus.LocalReadError)
			e.status.Flush()
			return fmt.Errorf("engine: replay to head: %w", err)
		}
		e.head = head
		e.doc = doc
	}
	e.status.SetLocalRead(syncstatus.LocalReadReady)
	e.status.Flush()
	return nil
}

func soleHead(g *commit.GraphIndex) commit.Ref {
	heads := g.Heads()
	if len(heads) != 1 {
		return ""
	}
	return heads[0]
}

func (e *Engine) applyCommit(prevDoc any, c *commit.Commit) (any, error) {
	if c.IsRoot() {
		return e.differ.Patch(nil, c.Delta)
	}
	return e.differ.Patch(prevDoc, c.Delta)
}

// SubscribeDoc fires immediately with the current document, then on
// every change, until unsubscribe is called.
func (e *Engine) SubscribeDoc(fn func(doc any)) (unsubscribe func()) {
	e.docSubMu.Lock()
	id := e.nextDocSubID
	e.nextDocSubID++
	e.docSubs[id] = fn
	cur := e.doc
	e.docSubMu.Unlock()

	fn(cur)

	return func() {
		e.docSubMu.Lock()
		delete(e.docSubs, id)
		e.docSubMu.Unlock()
	}
}

func (e *Engine) notifyDoc(doc any) {
	e.docSubMu.Lock()
	subs := make([]func(any), 0, len(e.docSubs))
	for _, fn := range e.docSubs {
		subs = append(subs, fn)
	}
	e.docSubMu.Unlock()
	for _, fn := range subs {
		fn(doc)
	}
}

// SubscribeSyncStatus mirrors syncstatus.Reporter.Subscribe.
func (e *Engine) SubscribeSyncStatus(fn func(syncstatus.Status)) (unsubscribe func()) {
	return e.status.Subscribe(fn)
}

// SubscribeClients mirrors presence.Multiplexer.Subscribe.
func (e *Engine) SubscribeClients(fn func([]presence.Record)) (unsubscribe func()) {
	return e.presenceMux.Subscribe(fn)
}

// UpdatePresence broadcasts p without creating a commit.
func (e *Engine) UpdatePresence(ctx context.Context, p presence.Record) error {
	if err := e.shutdownGuard(); err != nil {
		return err
	}
	return e.presenceMux.Publish(ctx, p)
}

// IsRemoteLeader reports whether this client currently owns the remote
// proxy role.
func (e *Engine) IsRemoteLeader() bool {
	e.remoteMu.Lock()
	defer e.remoteMu.Unlock()
	return e.isLeader
}

// GetCommitDoc recomputes the document at ref on demand, walking from
// the nearest memoized ancestor.
func (e *Engine) GetCommitDoc(ctx context.Context, ref commit.Ref) (any, []byte, error) {
	if err := e.shutdownGuard(); err != nil {
		return nil, nil, err
	}
	type result struct {
		doc any
		md  []byte
	}
	res, err := store.Do(ctx, e.loop, func() (result, error) {
		doc, err := e.graph.DocOf(ref, e.docMemo, e.applyCommit)
		if err != nil {
			return result{}, err
		}
		c := e.graph.Get(ref)
		var md []byte
		if c != nil {
			md = c.EditMetadata
		}
		return result{doc: doc, md: md}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res.doc, res.md, nil
}

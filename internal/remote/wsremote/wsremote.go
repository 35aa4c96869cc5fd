// Package wsremote is weave's reference Remote transport: a WebSocket
// client built on coder/websocket, the same library
// internal/turso/dashboard.Server uses for its agent-coordination
// socket — here turned around to the client side of that protocol.
//
// Wire format: each frame is a JSON object {"type": "...", ...} matching
// spec.md §6's event names (commits / ack / ready / remote-state /
// error), plus the outbound-only frames the client sends: "hello" to
// open the session and "push" to ship commits.
package wsremote

import (
	"context"
	"fmt"
	"iter"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/remote"
	"github.com/weave-sync/weave/internal/store"
	"github.com/weave-sync/weave/internal/werr"
)

type frame struct {
	Type string `json:"type"`

	Commits []wireCommit `json:"commits,omitempty"`
	SyncID  int64        `json:"syncId,omitempty"`

	Refs   []string `json:"refs,omitempty"`
	Cursor string   `json:"cursor,omitempty"`

	Connect string `json:"connect,omitempty"`
	Read    string `json:"read,omitempty"`
	Save    string `json:"save,omitempty"`

	Message   string `json:"message,omitempty"`
	Fatal     bool   `json:"fatal,omitempty"`
	Reconnect bool   `json:"reconnect,omitempty"`
}

type wireCommit struct {
	Ref          string `json:"ref"`
	BaseRef      string `json:"baseRef,omitempty"`
	MergeRef     string `json:"mergeRef,omitempty"`
	MergeBaseRef string `json:"mergeBaseRef,omitempty"`
	Delta        []byte `json:"delta"`
	EditMetadata []byte `json:"editMetadata,omitempty"`
	UserID       string `json:"userId"`
	ClientID     string `json:"clientId"`
	RemoteSyncID string `json:"remoteSyncId,omitempty"`
}

func toWire(c commit.Commit) wireCommit {
	return wireCommit{
		Ref: string(c.Ref), BaseRef: string(c.BaseRef), MergeRef: string(c.MergeRef),
		MergeBaseRef: string(c.MergeBaseRef), Delta: c.Delta, EditMetadata: c.EditMetadata,
		UserID: c.UserID, ClientID: c.ClientID, RemoteSyncID: c.RemoteSyncID,
	}
}

func fromWire(w wireCommit) commit.Commit {
	return commit.Commit{
		Ref: commit.Ref(w.Ref), BaseRef: commit.Ref(w.BaseRef), MergeRef: commit.Ref(w.MergeRef),
		MergeBaseRef: commit.Ref(w.MergeBaseRef), Delta: w.Delta, EditMetadata: w.EditMetadata,
		UserID: w.UserID, ClientID: w.ClientID, RemoteSyncID: w.RemoteSyncID,
	}
}

// Remote is a coder/websocket-backed remote.Remote.
type Remote struct {
	conn    *websocket.Conn
	onEvent remote.OnEvent
	ctx     context.Context
	cancel  context.CancelFunc
}

// Dial connects to url and performs the initial handshake: it expects a
// "ready" frame before returning. info's LastSyncCursor is sent in the
// initial "hello" frame so the server can resume from the client's last
// acknowledged cursor.
func Dial(ctx context.Context, url, userID string, info store.RemoteSyncInfo, onEvent remote.OnEvent) (*Remote, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsremote: dial: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &Remote{conn: conn, onEvent: onEvent, ctx: runCtx, cancel: cancel}

	hello := frame{Type: "hello", Cursor: info.LastSyncCursor, Message: userID}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "hello failed")
		cancel()
		return nil, fmt.Errorf("wsremote: hello: %w", err)
	}

	var ready frame
	if err := wsjson.Read(ctx, conn, &ready); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		cancel()
		return nil, fmt.Errorf("wsremote: awaiting ready: %w", err)
	}
	if ready.Type != "ready" {
		_ = conn.Close(websocket.StatusProtocolError, "expected ready")
		cancel()
		return nil, fmt.Errorf("wsremote: expected ready frame, got %q", ready.Type)
	}
	if onEvent != nil {
		onEvent(remote.Event{Kind: remote.EventReady})
	}
	return r, nil
}

// Factory adapts Dial to remote.Factory for a fixed url.
func Factory(url string) remote.Factory {
	return func(ctx context.Context, userID string, info store.RemoteSyncInfo, onEvent remote.OnEvent) (remote.Remote, error) {
		return Dial(ctx, url, userID, info, onEvent)
	}
}

// SendCommits ships one batch and waits for the corresponding ack frame.
func (r *Remote) SendCommits(ctx context.Context, batch store.CommitsEvent) (string, error) {
	wire := make([]wireCommit, len(batch.Commits))
	for i, c := range batch.Commits {
		wire[i] = toWire(c)
	}
	if err := wsjson.Write(ctx, r.conn, frame{Type: "push", Commits: wire, SyncID: batch.SyncID}); err != nil {
		return "", classify(err)
	}
	var ack frame
	if err := wsjson.Read(ctx, r.conn, &ack); err != nil {
		return "", classify(err)
	}
	if ack.Type != "ack" {
		return "", fmt.Errorf("wsremote: expected ack, got %q", ack.Type)
	}
	if r.onEvent != nil {
		refs := make([]commit.Ref, len(ack.Refs))
		for i, s := range ack.Refs {
			refs[i] = commit.Ref(s)
		}
		r.onEvent(remote.Event{Kind: remote.EventAck, AckRefs: refs, AckCursor: ack.Cursor})
	}
	return ack.Cursor, nil
}

// Inbound reads "commits" and "remote-state"/"error" frames off the
// socket, yielding each commits batch to the caller.
func (r *Remote) Inbound(ctx context.Context) iter.Seq2[store.CommitsEvent, error] {
	return func(yield func(store.CommitsEvent, error) bool) {
		for {
			var f frame
			err := wsjson.Read(ctx, r.conn, &f)
			if err != nil {
				yield(store.CommitsEvent{}, classify(err))
				return
			}
			switch f.Type {
			case "commits":
				cs := make([]commit.Commit, len(f.Commits))
				for i, w := range f.Commits {
					cs[i] = fromWire(w)
				}
				ev := store.CommitsEvent{Commits: cs, SyncID: f.SyncID}
				if !yield(ev, nil) {
					return
				}
			case "remote-state":
				if r.onEvent != nil {
					r.onEvent(remote.Event{Kind: remote.EventRemoteState, RemoteState: remote.RemoteStateSubstate{
						Connect: f.Connect, Read: f.Read, Save: f.Save,
					}})
				}
			case "error":
				if r.onEvent != nil {
					r.onEvent(remote.Event{Kind: remote.EventError, Error: remote.ErrorEvent{
						Message: f.Message, Fatal: f.Fatal, Reconnect: f.Reconnect,
					}})
				}
				if f.Fatal {
					yield(store.CommitsEvent{}, fmt.Errorf("wsremote: fatal: %s", f.Message))
					return
				}
			default:
				// unknown frame type: protocol-kind, log-and-continue at the
				// engine boundary; the transport itself just skips it.
			}
		}
	}
}

// Close closes the websocket connection, cancelling any in-flight read.
func (r *Remote) Close() error {
	r.cancel()
	return r.conn.Close(websocket.StatusNormalClosure, "client closing")
}

// classify wraps a websocket I/O error as a network-kind werr so the
// engine can route it to the remoteConnect/remoteSave sync-status axes
// and apply the reconnect backoff policy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	return werr.New(werr.Network, "websocket I/O", err)
}

var _ remote.Remote = (*Remote)(nil)

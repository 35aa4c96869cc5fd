// Package libsqlremote is weave's second reference Remote transport: it
// treats a libSQL embedded replica (tursodatabase/go-libsql) as the
// remote sink. Outbound commits are written to the local replica
// database; go-libsql's own replication protocol pushes them to the
// primary. Inbound commits arrive by polling the replica after each
// Sync() call. The replica's frame number is used as the opaque
// RemoteSyncID cursor from spec.md §9 — never compared with <, only
// carried around and compared for equality.
//
// This is the most literal reuse of the teacher's storage stack: where
// internal/turso/db.Open embeds SQLite for local queries, libsqlremote
// embeds a libSQL replica for remote sync, the operation go-libsql was
// actually built for.
package libsqlremote

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strconv"
	"time"

	libsql "github.com/tursodatabase/go-libsql"

	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/remote"
	"github.com/weave-sync/weave/internal/store"
	"github.com/weave-sync/weave/internal/werr"
)

// Config configures a libSQL embedded replica connection.
type Config struct {
	ReplicaPath string // local file path for the embedded replica
	PrimaryURL  string // e.g. "libsql://<db>.turso.io"
	AuthToken   string
	SyncEvery   time.Duration // how often to poll for inbound commits; default 2s
}

// Remote is a libSQL-embedded-replica-backed remote.Remote.
type Remote struct {
	connector *libsql.Connector
	db        *sql.DB
	onEvent   remote.OnEvent
	syncEvery time.Duration
}

// Open creates or opens the embedded replica and ensures its commits
// table exists.
func Open(ctx context.Context, cfg Config, onEvent remote.OnEvent) (*Remote, error) {
	opts := []libsql.Option{}
	if cfg.AuthToken != "" {
		opts = append(opts, libsql.WithAuthToken(cfg.AuthToken))
	}
	connector, err := libsql.NewEmbeddedReplicaConnector(cfg.ReplicaPath, cfg.PrimaryURL, opts...)
	if err != nil {
		return nil, werr.New(werr.Network, "open embedded replica", err)
	}
	db := sql.OpenDB(connector)
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS remote_commits (
			ref TEXT PRIMARY KEY,
			baseRef TEXT, mergeRef TEXT, mergeBaseRef TEXT,
			delta BLOB, editMetadata BLOB, userId TEXT, clientId TEXT,
			remoteSyncId TEXT
		)`); err != nil {
		_ = db.Close()
		return nil, werr.New(werr.Network, "init replica schema", err)
	}
	syncEvery := cfg.SyncEvery
	if syncEvery <= 0 {
		syncEvery = 2 * time.Second
	}
	if onEvent != nil {
		onEvent(remote.Event{Kind: remote.EventReady})
	}
	return &Remote{connector: connector, db: db, onEvent: onEvent, syncEvery: syncEvery}, nil
}

// Factory adapts Open to remote.Factory for a fixed Config template.
func Factory(cfgTemplate Config) remote.Factory {
	return func(ctx context.Context, userID string, info store.RemoteSyncInfo, onEvent remote.OnEvent) (remote.Remote, error) {
		return Open(ctx, cfgTemplate, onEvent)
	}
}

// SendCommits writes a batch to the replica and syncs, returning the
// replica's post-sync frame number (stringified) as the new cursor.
func (r *Remote) SendCommits(ctx context.Context, batch store.CommitsEvent) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", werr.New(werr.Network, "begin replica tx", err)
	}
	defer tx.Rollback()
	for _, c := range batch.Commits {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO remote_commits (ref, baseRef, mergeRef, mergeBaseRef, delta, editMetadata, userId, clientId, remoteSyncId)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, '')`,
			string(c.Ref), string(c.BaseRef), string(c.MergeRef), string(c.MergeBaseRef),
			c.Delta, c.EditMetadata, c.UserID, c.ClientID); err != nil {
			return "", werr.New(werr.Network, "insert into replica", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", werr.New(werr.Network, "commit replica tx", err)
	}

	cursor, err := r.sync(ctx)
	if err != nil {
		return "", err
	}
	refs := make([]commit.Ref, len(batch.Commits))
	for i, c := range batch.Commits {
		refs[i] = c.Ref
	}
	if _, err := r.db.ExecContext(ctx, refUpdateQuery(len(refs)), refUpdateArgs(cursor, refs)...); err != nil {
		return "", werr.New(werr.Network, "stamp remoteSyncId", err)
	}
	if r.onEvent != nil {
		r.onEvent(remote.Event{Kind: remote.EventAck, AckRefs: refs, AckCursor: cursor})
	}
	return cursor, nil
}

func refUpdateQuery(n int) string {
	q := `UPDATE remote_commits SET remoteSyncId = ? WHERE ref IN (`
	for i := 0; i < n; i++ {
		if i > 0 {
			q += ","
		}
		q += "?"
	}
	return q + ")"
}

func refUpdateArgs(cursor string, refs []commit.Ref) []any {
	args := make([]any, 0, len(refs)+1)
	args = append(args, cursor)
	for _, r := range refs {
		args = append(args, string(r))
	}
	return args
}

func (r *Remote) sync(ctx context.Context) (string, error) {
	replicated, err := r.connector.Sync()
	if err != nil {
		return "", werr.New(werr.Network, "sync replica", err)
	}
	return strconv.Itoa(replicated.FrameNo), nil
}

// Inbound polls the replica every syncEvery and, whenever the replica's
// frame number has changed since the last poll, yields every row with a
// non-empty remoteSyncId: commits replicated from peers as well as those
// this Remote wrote itself through SendCommits.
func (r *Remote) Inbound(ctx context.Context) iter.Seq2[store.CommitsEvent, error] {
	return func(yield func(store.CommitsEvent, error) bool) {
		ticker := time.NewTicker(r.syncEvery)
		defer ticker.Stop()
		var lastSeenCursor string
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cursor, err := r.sync(ctx)
			if err != nil {
				if !yield(store.CommitsEvent{}, err) {
					return
				}
				continue
			}
			if cursor == lastSeenCursor {
				continue
			}
			lastSeenCursor = cursor
			rows, err := r.db.QueryContext(ctx, `
				SELECT ref, baseRef, mergeRef, mergeBaseRef, delta, editMetadata, userId, clientId, remoteSyncId
				FROM remote_commits WHERE remoteSyncId != ''`)
			if err != nil {
				if !yield(store.CommitsEvent{}, werr.New(werr.Network, "query replica", err)) {
					return
				}
				continue
			}
			cs, err := scanReplicaRows(rows)
			if err != nil {
				if !yield(store.CommitsEvent{}, err) {
					return
				}
				continue
			}
			if len(cs) == 0 {
				continue
			}
			if !yield(store.CommitsEvent{Commits: cs, SyncID: 0}, nil) {
				return
			}
		}
	}
}

func scanReplicaRows(rows *sql.Rows) ([]commit.Commit, error) {
	defer rows.Close()
	var out []commit.Commit
	for rows.Next() {
		var c commit.Commit
		var baseRef, mergeRef, mergeBaseRef string
		if err := rows.Scan(&c.Ref, &baseRef, &mergeRef, &mergeBaseRef, &c.Delta, &c.EditMetadata, &c.UserID, &c.ClientID, &c.RemoteSyncID); err != nil {
			return nil, werr.New(werr.Network, "scan replica row", err)
		}
		c.BaseRef, c.MergeRef, c.MergeBaseRef = commit.Ref(baseRef), commit.Ref(mergeRef), commit.Ref(mergeBaseRef)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, werr.New(werr.Network, "iterate replica rows", err)
	}
	return out, nil
}

// Close closes the replica database and connector.
func (r *Remote) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("libsqlremote: close db: %w", err)
	}
	return r.connector.Close()
}

var _ remote.Remote = (*Remote)(nil)

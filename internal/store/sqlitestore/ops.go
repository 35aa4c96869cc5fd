package sqlitestore

import (
	"context"
	"database/sql"
	"iter"

	"github.com/weave-sync/weave/internal/broadcast"
	"github.com/weave-sync/weave/internal/commit"
	"github.com/weave-sync/weave/internal/store"
	"github.com/weave-sync/weave/internal/werr"
)

func nullableRef(r commit.Ref) sql.NullString {
	if r == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(r), Valid: true}
}

func (s *Store) AddCommits(ctx context.Context, commits []commit.Commit, remoteSyncID string) (store.Ack, error) {
	return store.Do(ctx, s.queue, func() (store.Ack, error) {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return store.Ack{}, werr.New(werr.Storage, "begin tx", err)
		}
		defer tx.Rollback()

		var refs []commit.Ref
		for _, c := range commits {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits WHERE ref = ?`, string(c.Ref)).Scan(&exists); err != nil {
				return store.Ack{}, werr.New(werr.Storage, "check existing ref", err)
			}
			if exists > 0 {
				if remoteSyncID != "" {
					if _, err := tx.ExecContext(ctx, `UPDATE commits SET remoteSyncId = ? WHERE ref = ?`, remoteSyncID, string(c.Ref)); err != nil {
						return store.Ack{}, werr.New(werr.Storage, "ack existing ref", err)
					}
				}
				continue
			}
			var nextSyncID int64
			if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(localSyncId), 0) + 1 FROM commits`).Scan(&nextSyncID); err != nil {
				return store.Ack{}, werr.New(werr.Storage, "compute next syncId", err)
			}
			rsid := c.RemoteSyncID
			if remoteSyncID != "" {
				rsid = remoteSyncID
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO commits (ref, localSyncId, remoteSyncId, userId, clientId, baseRef, mergeRef, mergeBaseRef, delta, editMetadata)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				string(c.Ref), nextSyncID, rsid, c.UserID, c.ClientID,
				nullableRef(c.BaseRef), nullableRef(c.MergeRef), nullableRef(c.MergeBaseRef),
				c.Delta, c.EditMetadata,
			)
			if err != nil {
				return store.Ack{}, werr.New(werr.Storage, "insert commit", err)
			}
			if err := updateHeads(ctx, tx, c); err != nil {
				return store.Ack{}, err
			}
			refs = append(refs, c.Ref)
		}

		if remoteSyncID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE remotes SET lastSyncCursor = ? WHERE docId = ?`, remoteSyncID, s.docID); err != nil {
				return store.Ack{}, werr.New(werr.Storage, "update cursor", err)
			}
		}

		var maxSyncID int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(localSyncId), 0) FROM commits`).Scan(&maxSyncID); err != nil {
			return store.Ack{}, werr.New(werr.Storage, "read max syncId", err)
		}

		if err := tx.Commit(); err != nil {
			return store.Ack{}, werr.New(werr.Storage, "commit tx", err)
		}

		ack := store.Ack{Refs: refs, SyncID: maxSyncID}
		if len(refs) > 0 {
			if ev, err := s.localCommitsEventLocked(ctx, maxSyncID-int64(len(refs))); err == nil {
				s.onEvent(store.Event{Kind: store.EventCommits, Commits: ev})
			}
			if s.bus != nil {
				s.bus.Publish(broadcast.Message{Kind: broadcast.KindCommitRefs, CommitRefs: refs})
			}
		}
		return ack, nil
	})
}

// updateHeads removes c's parents from the heads table (if present) and
// inserts c's own ref, mirroring commit.GraphIndex.Add but against the
// persisted table from spec.md §6.
func updateHeads(ctx context.Context, tx *sql.Tx, c commit.Commit) error {
	for _, p := range c.Parents() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM heads WHERE ref = ?`, string(p)); err != nil {
			return werr.New(werr.Storage, "delete stale head", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO heads (ref) VALUES (?)`, string(c.Ref)); err != nil {
		return werr.New(werr.Storage, "insert head", err)
	}
	return nil
}

func (s *Store) AcknowledgeCommits(ctx context.Context, refs []commit.Ref, remoteSyncID string) error {
	_, err := store.Do(ctx, s.queue, func() (struct{}, error) {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, werr.New(werr.Storage, "begin tx", err)
		}
		defer tx.Rollback()
		for _, r := range refs {
			if _, err := tx.ExecContext(ctx, `UPDATE commits SET remoteSyncId = ? WHERE ref = ?`, remoteSyncID, string(r)); err != nil {
				return struct{}{}, werr.New(werr.Storage, "ack commit", err)
			}
		}
		if remoteSyncID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE remotes SET lastSyncCursor = ? WHERE docId = ?`, remoteSyncID, s.docID); err != nil {
				return struct{}{}, werr.New(werr.Storage, "update cursor", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return struct{}{}, werr.New(werr.Storage, "commit tx", err)
		}
		return struct{}{}, nil
	})
	return err
}

func scanCommits(rows *sql.Rows) ([]commit.Commit, int64, error) {
	defer rows.Close()
	var out []commit.Commit
	var maxSyncID int64
	for rows.Next() {
		var c commit.Commit
		var baseRef, mergeRef, mergeBaseRef sql.NullString
		var syncID int64
		if err := rows.Scan(&c.Ref, &syncID, &c.RemoteSyncID, &c.UserID, &c.ClientID, &baseRef, &mergeRef, &mergeBaseRef, &c.Delta, &c.EditMetadata); err != nil {
			return nil, 0, werr.New(werr.Storage, "scan commit", err)
		}
		if baseRef.Valid {
			c.BaseRef = commit.Ref(baseRef.String)
		}
		if mergeRef.Valid {
			c.MergeRef = commit.Ref(mergeRef.String)
		}
		if mergeBaseRef.Valid {
			c.MergeBaseRef = commit.Ref(mergeBaseRef.String)
		}
		out = append(out, c)
		if syncID > maxSyncID {
			maxSyncID = syncID
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, werr.New(werr.Storage, "iterate commits", err)
	}
	return out, maxSyncID, nil
}

func (s *Store) localCommitsEventLocked(ctx context.Context, since int64) (store.CommitsEvent, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT ref, localSyncId, remoteSyncId, userId, clientId, baseRef, mergeRef, mergeBaseRef, delta, editMetadata
		FROM commits WHERE localSyncId > ? ORDER BY localSyncId ASC`, since)
	if err != nil {
		return store.CommitsEvent{}, werr.New(werr.Storage, "query commits", err)
	}
	cs, maxSyncID, err := scanCommits(rows)
	if err != nil {
		return store.CommitsEvent{}, err
	}
	return store.CommitsEvent{Commits: cs, SyncID: maxSyncID}, nil
}

func (s *Store) GetLocalCommitsEvent(ctx context.Context, since int64) (store.CommitsEvent, error) {
	return store.Do(ctx, s.queue, func() (store.CommitsEvent, error) {
		return s.localCommitsEventLocked(ctx, since)
	})
}

func (s *Store) GetRemoteSyncInfo(ctx context.Context) (store.RemoteSyncInfo, error) {
	return store.Do(ctx, s.queue, func() (store.RemoteSyncInfo, error) {
		var info store.RemoteSyncInfo
		err := s.conn.QueryRowContext(ctx, `SELECT localStoreId, lastSyncCursor FROM remotes WHERE docId = ?`, s.docID).
			Scan(&info.LocalStoreID, &info.LastSyncCursor)
		if err != nil {
			return store.RemoteSyncInfo{}, werr.New(werr.Storage, "read remote info", err)
		}
		return info, nil
	})
}

// CommitsForRemote lazily yields fixed-size batches of not-yet-synced
// commits. Each batch is fetched fresh through the queue, starting after
// the last localSyncId this iteration yielded, so one iteration yields
// each unsynced commit once; a remote that reconnects mid-stream starts
// a new iteration and re-observes any commits the store still considers
// unsynced, per spec.md §5's backpressure/re-yield guarantee.
func (s *Store) CommitsForRemote(ctx context.Context) iter.Seq2[store.CommitsEvent, error] {
	return func(yield func(store.CommitsEvent, error) bool) {
		var after int64
		for {
			ev, err := store.Do(ctx, s.queue, func() (store.CommitsEvent, error) {
				rows, err := s.conn.QueryContext(ctx, `
					SELECT ref, localSyncId, remoteSyncId, userId, clientId, baseRef, mergeRef, mergeBaseRef, delta, editMetadata
					FROM commits WHERE remoteSyncId = '' AND localSyncId > ? ORDER BY localSyncId ASC LIMIT ?`, after, store.BatchSize)
				if err != nil {
					return store.CommitsEvent{}, werr.New(werr.Storage, "query unsynced", err)
				}
				cs, maxSyncID, err := scanCommits(rows)
				if err != nil {
					return store.CommitsEvent{}, err
				}
				return store.CommitsEvent{Commits: cs, SyncID: maxSyncID}, nil
			})
			if err != nil {
				yield(store.CommitsEvent{}, err)
				return
			}
			if len(ev.Commits) == 0 {
				return
			}
			after = ev.SyncID
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *Store) DeleteDocDatabase(ctx context.Context) error {
	_, err := store.Do(ctx, s.queue, func() (struct{}, error) {
		for _, stmt := range []string{`DELETE FROM commits`, `DELETE FROM heads`, `DELETE FROM remotes WHERE docId = ?`} {
			var execErr error
			if stmt == `DELETE FROM remotes WHERE docId = ?` {
				_, execErr = s.conn.ExecContext(ctx, stmt, s.docID)
			} else {
				_, execErr = s.conn.ExecContext(ctx, stmt)
			}
			if execErr != nil {
				return struct{}{}, werr.New(werr.Storage, "delete doc database", execErr)
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	return s.closeAndRemove()
}

func (s *Store) closeAndRemove() error {
	if err := s.conn.Close(); err != nil {
		return werr.New(werr.Storage, "close before remove", err)
	}
	s.lock.release()
	if err := removeFiles(s.path); err != nil {
		return werr.New(werr.Storage, "remove database files", err)
	}
	return nil
}

func (s *Store) ResetDocRemoteSyncData(ctx context.Context) error {
	_, err := store.Do(ctx, s.queue, func() (struct{}, error) {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, werr.New(werr.Storage, "begin tx", err)
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `UPDATE commits SET remoteSyncId = ''`); err != nil {
			return struct{}{}, werr.New(werr.Storage, "clear remoteSyncId", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE remotes SET lastSyncCursor = '' WHERE docId = ?`, s.docID); err != nil {
			return struct{}{}, werr.New(werr.Storage, "clear cursor", err)
		}
		if err := tx.Commit(); err != nil {
			return struct{}{}, werr.New(werr.Storage, "commit tx", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Shutdown performs a WAL checkpoint and closes the database, following
// internal/turso/db.DB.Close's checkpoint-then-close sequence.
func (s *Store) Shutdown(ctx context.Context) error {
	_, err := store.Do(ctx, s.queue, func() (struct{}, error) {
		if _, err := s.conn.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
			return struct{}{}, werr.New(werr.Storage, "checkpoint wal", err)
		}
		return struct{}{}, nil
	})
	s.queue.Shutdown()
	closeErr := s.conn.Close()
	s.lock.release()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return werr.New(werr.Storage, "close database", closeErr)
	}
	return nil
}

var _ store.LocalStore = (*Store)(nil)

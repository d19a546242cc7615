package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
)

// CreateSessionInput describes a brand new root session.
type CreateSessionInput struct {
	WorkspaceID      string
	WorkingDirectory string
	Origin           string
	SpawningSessionID string
	SpawnTask        string
}

// CreateSession inserts a session row with no events yet; the caller appends
// the session.start event separately via AppendEvent. The session's
// workspace is resolved (or created) from its canonical working-directory
// path before the row is inserted, since sessions.workspace_id is a foreign
// key into workspaces and no other path creates that row.
func (s *Store) CreateSession(ctx context.Context, in CreateSessionInput) (*model.Session, error) {
	ws, err := s.ResolveWorkspace(ctx, in.WorkspaceID, in.WorkingDirectory)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &model.Session{
		ID:               uuid.New().String(),
		WorkspaceID:      ws.ID,
		WorkingDirectory: in.WorkingDirectory,
		Origin:           in.Origin,
		SpawningSessionID: in.SpawningSessionID,
		SpawnTask:        in.SpawnTask,
		CreatedAt:        now,
		LastActivityAt:   now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_id, working_directory, parent_session_id, fork_from_event_id,
			spawning_session_id, spawn_task, origin, created_at, last_activity_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.WorkspaceID, sess.WorkingDirectory, nullableString(sess.ParentSessionID), nullableString(sess.ForkFromEventID),
		nullableString(sess.SpawningSessionID), nullableString(sess.SpawnTask), sess.Origin,
		sess.CreatedAt.Format(time.RFC3339Nano), sess.LastActivityAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, engineerr.StorageErr("insert session", err)
	}
	return sess, nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelectColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFound("session", id)
	}
	return sess, err
}

// ListSessionsByWorkspace returns sessions for a workspace, most recently
// active first.
func (s *Store) ListSessionsByWorkspace(ctx context.Context, workspaceID string) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionSelectColumns+` FROM sessions WHERE workspace_id = ? ORDER BY last_activity_at DESC`, workspaceID)
	if err != nil {
		return nil, engineerr.StorageErr("list sessions", err)
	}
	defer rows.Close()
	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, engineerr.StorageErr("scan session row", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ListAllSessions returns every session across all workspaces, most recently
// active first. Intended for operator tooling, not the RPC gateway.
func (s *Store) ListAllSessions(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionSelectColumns+` FROM sessions ORDER BY last_activity_at DESC`)
	if err != nil {
		return nil, engineerr.StorageErr("list all sessions", err)
	}
	defer rows.Close()
	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, engineerr.StorageErr("scan session row", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// EndSession marks a session ended; idempotent.
func (s *Store) EndSession(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, now, id)
	if err != nil {
		return engineerr.StorageErr("end session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return engineerr.StorageErr("end session rows affected", err)
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

const sessionSelectColumns = `SELECT id, workspace_id, root_event_id, head_event_id, latest_model, working_directory,
	parent_session_id, fork_from_event_id, spawning_session_id, spawn_task, origin, created_at, last_activity_at, ended_at,
	event_count, message_count, turn_count, tokens_in, tokens_out, cache_read_tokens, cache_create_tokens, cumulative_cost`

func scanSession(row rowScanner) (*model.Session, error) {
	var sess model.Session
	var root, head, latestModel, parentSessionID, forkFromEventID, spawningSessionID, spawnTask, endedAt sql.NullString
	var createdAt, lastActivityAt string

	if err := row.Scan(
		&sess.ID, &sess.WorkspaceID, &root, &head, &latestModel, &sess.WorkingDirectory,
		&parentSessionID, &forkFromEventID, &spawningSessionID, &spawnTask, &sess.Origin, &createdAt, &lastActivityAt, &endedAt,
		&sess.EventCount, &sess.MessageCount, &sess.TurnCount, &sess.TokensIn, &sess.TokensOut,
		&sess.CacheReadTokens, &sess.CacheCreateTokes, &sess.CumulativeCost,
	); err != nil {
		return nil, err
	}

	sess.RootEventID = root.String
	sess.HeadEventID = head.String
	sess.LatestModel = latestModel.String
	sess.ParentSessionID = parentSessionID.String
	sess.ForkFromEventID = forkFromEventID.String
	sess.SpawningSessionID = spawningSessionID.String
	sess.SpawnTask = spawnTask.String

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = ts
	ts, err = time.Parse(time.RFC3339Nano, lastActivityAt)
	if err != nil {
		return nil, err
	}
	sess.LastActivityAt = ts
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, err
		}
		sess.EndedAt = &t
	}
	return &sess, nil
}

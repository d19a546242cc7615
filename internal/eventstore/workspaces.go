package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
)

// ResolveWorkspace finds or creates the workspace for a canonical path,
// keyed on workspaces.path (UNIQUE) per spec §3. hintID, if non-empty, is
// used as the id for a newly created row; it is ignored when a workspace
// for this path already exists, so repeated calls for the same path always
// converge on one workspace id regardless of what callers pass in.
func (s *Store) ResolveWorkspace(ctx context.Context, hintID, path string) (*model.Workspace, error) {
	canonical := canonicalWorkspacePath(path)
	id := hintID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, path, name, created_at, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(path) DO NOTHING`,
		id, canonical, filepath.Base(canonical), now, now,
	); err != nil {
		return nil, engineerr.StorageErr("upsert workspace", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT id, path, name, created_at, updated_at FROM workspaces WHERE path = ?`, canonical)
	ws, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.Internal("workspace vanished after upsert", err)
	}
	if err != nil {
		return nil, engineerr.StorageErr("read upserted workspace", err)
	}
	return ws, nil
}

func canonicalWorkspacePath(path string) string {
	if path == "" {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func scanWorkspace(row *sql.Row) (*model.Workspace, error) {
	var ws model.Workspace
	var created, updated string
	if err := row.Scan(&ws.ID, &ws.Path, &ws.Name, &created, &updated); err != nil {
		return nil, err
	}
	ws.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	ws.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &ws, nil
}

package eventstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
)

// branches are pure schema reservation: named pointers a client may attach
// to a session's event tree for its own bookkeeping. The engine never reads
// them to resolve head/ancestors; only CreateBranch/GetBranch/ListBranches
// touch this table.

// CreateBranch reserves a named pointer at headEventID.
func (s *Store) CreateBranch(ctx context.Context, sessionID, name, headEventID string, isDefault bool) (*model.Branch, error) {
	head, err := s.GetEvent(ctx, headEventID)
	if err != nil {
		return nil, err
	}
	if head.SessionID != sessionID {
		return nil, engineerr.InvalidParams("branch head_event_id does not belong to session")
	}
	b := &model.Branch{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Name:        name,
		RootEventID: headEventID,
		HeadEventID: headEventID,
		IsDefault:   isDefault,
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, session_id, name, root_event_id, head_event_id, is_default)
		VALUES (?,?,?,?,?,?)`,
		b.ID, b.SessionID, b.Name, b.RootEventID, b.HeadEventID, boolToInt(b.IsDefault),
	); err != nil {
		return nil, engineerr.StorageErr("insert branch", err)
	}
	return b, nil
}

// GetBranch fetches a branch by session id and name.
func (s *Store) GetBranch(ctx context.Context, sessionID, name string) (*model.Branch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, name, root_event_id, head_event_id, is_default
		FROM branches WHERE session_id = ? AND name = ?`, sessionID, name)
	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFound("branch", name)
	}
	return b, err
}

// ListBranches returns every branch reserved on a session.
func (s *Store) ListBranches(ctx context.Context, sessionID string) ([]*model.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, name, root_event_id, head_event_id, is_default
		FROM branches WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, engineerr.StorageErr("list branches", err)
	}
	defer rows.Close()
	var out []*model.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, engineerr.StorageErr("scan branch row", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MoveBranch updates a branch's head pointer to a later event in the same
// session; it does not validate ancestry, matching the pure-reservation
// semantics branches have throughout this package.
func (s *Store) MoveBranch(ctx context.Context, sessionID, name, headEventID string) error {
	head, err := s.GetEvent(ctx, headEventID)
	if err != nil {
		return err
	}
	if head.SessionID != sessionID {
		return engineerr.InvalidParams("branch head_event_id does not belong to session")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE branches SET head_event_id = ? WHERE session_id = ? AND name = ?`,
		headEventID, sessionID, name)
	if err != nil {
		return engineerr.StorageErr("move branch", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return engineerr.StorageErr("move branch rows affected", err)
	}
	if n == 0 {
		return engineerr.NotFound("branch", name)
	}
	return nil
}

func scanBranch(row rowScanner) (*model.Branch, error) {
	var b model.Branch
	var isDefault int
	if err := row.Scan(&b.ID, &b.SessionID, &b.Name, &b.RootEventID, &b.HeadEventID, &isDefault); err != nil {
		return nil, err
	}
	b.IsDefault = isDefault != 0
	return &b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package eventstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
)

// ForkInput describes a new session branching off an existing event.
type ForkInput struct {
	ParentSessionID  string
	AtEventID        string // empty means fork from the parent's current head
	WorkingDirectory string
}

// Fork creates a new session whose root points at an existing session's
// event (or its current head), without copying any events. Ancestor walks
// from the new session's events cross into the parent session's tree via
// parent_id, which is why Ancestors is cross-session-boundary aware.
func (s *Store) Fork(ctx context.Context, in ForkInput) (*model.Session, error) {
	parent, err := s.GetSession(ctx, in.ParentSessionID)
	if err != nil {
		return nil, err
	}

	atEventID := in.AtEventID
	if atEventID == "" {
		atEventID = parent.HeadEventID
	}
	if atEventID == "" {
		return nil, engineerr.InvalidParams("cannot fork a session with no events")
	}
	forkEvent, err := s.GetEvent(ctx, atEventID)
	if err != nil {
		return nil, err
	}
	if forkEvent.SessionID != in.ParentSessionID {
		return nil, engineerr.InvalidParams("fork_from_event_id does not belong to parent session").WithData("reason", "cross_session_fork_point")
	}

	workingDir := in.WorkingDirectory
	if workingDir == "" {
		workingDir = parent.WorkingDirectory
	}

	now := time.Now().UTC()
	child := &model.Session{
		ID:               uuid.New().String(),
		WorkspaceID:      parent.WorkspaceID,
		WorkingDirectory: workingDir,
		ParentSessionID:  in.ParentSessionID,
		ForkFromEventID:  atEventID,
		Origin:           "fork",
		CreatedAt:        now,
		LastActivityAt:   now,
		HeadEventID:      atEventID,
	}
	// root_event_id is left unset here: it must be the id of the session.fork
	// event appended below, not the parent-tree event it branches from.
	// appendOnce only fills root_event_id while it is still empty.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_id, working_directory, parent_session_id, fork_from_event_id,
			origin, created_at, last_activity_at, head_event_id)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		child.ID, child.WorkspaceID, child.WorkingDirectory, child.ParentSessionID, child.ForkFromEventID,
		child.Origin, child.CreatedAt.Format(time.RFC3339Nano), child.LastActivityAt.Format(time.RFC3339Nano),
		child.HeadEventID,
	); err != nil {
		return nil, engineerr.StorageErr("insert forked session", err)
	}

	if _, err := s.AppendEvent(ctx, AppendInput{
		SessionID:   child.ID,
		ParentID:    atEventID,
		Type:        model.EventSessionFork,
		WorkspaceID: child.WorkspaceID,
		Payload: model.ForkPayload{
			WorkingDirectory: workingDir,
			ParentSessionID:  in.ParentSessionID,
		},
	}); err != nil {
		return nil, err
	}
	return s.GetSession(ctx, child.ID)
}

// Rewind moves a session's head pointer back to an earlier event in its OWN
// tree. Rewinding to an event belonging to a different session is rejected:
// cross-session history lives on the ancestor, not the descendant, and
// moving a head there would silently fork without recording a fork event.
// Use Fork for that instead.
func (s *Store) Rewind(ctx context.Context, sessionID, toEventID string) (*model.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	target, err := s.GetEvent(ctx, toEventID)
	if err != nil {
		return nil, err
	}
	if target.SessionID != sessionID {
		return nil, engineerr.InvalidParams("rewind target does not belong to this session").WithData("reason", "cross_session_rewind")
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET head_event_id = ?, last_activity_at = ? WHERE id = ?`,
		toEventID, time.Now().UTC().Format(time.RFC3339Nano), sessionID); err != nil {
		return nil, engineerr.StorageErr("rewind session head", err)
	}
	_ = sess
	return s.GetSession(ctx, sessionID)
}

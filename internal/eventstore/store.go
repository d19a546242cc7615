// Package eventstore implements C2: the append-only event tree, ancestor
// traversal, fork, rewind, and cursor-based replay, backed by SQLite.
//
// Grounded on the reference codebase's internal/memory/sqlite.go for the
// driver/transaction idiom (BeginTx + deferred Rollback + Commit), and on
// internal/replay/replay.go's per-event-type switch for the ancestor-folding
// shape reused by the reconstruct package.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kilnlabs/sessiond/internal/blobstore"
	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/obslog"
)

// maxAncestorWalk caps ancestor traversal as a defense against a corrupted
// tree; exceeding it is logged as fatal per spec §4.2.
const maxAncestorWalk = 100_000

// maxBusyRetryDeadline bounds the exponential backoff for database-busy
// writes; reads never retry.
const maxBusyRetryDeadline = 5 * time.Second

// Store is the event store. One Store is shared by every session; per-session
// exclusivity for the sequence-assignment critical section is enforced by an
// in-process lock keyed by session id, backed across processes by the
// database's unique (session_id, sequence) index.
type Store struct {
	db    *sql.DB
	blobs *blobstore.Store
	log   *obslog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Store over an already-migrated database handle.
func New(db *sql.DB, blobs *blobstore.Store, log *obslog.Logger) *Store {
	return &Store{db: db, blobs: blobs, log: log.WithComponent("eventstore"), locks: make(map[string]*sync.Mutex)}
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// AppendInput describes an event to append.
type AppendInput struct {
	SessionID     string
	ParentID      string // empty only for a session root
	Type          model.EventType
	Payload       any // marshaled to JSON; may already be json.RawMessage
	WorkspaceID   string
	RequireHead   bool // if true, ParentID must equal the session's current head (StaleParent otherwise)
	ContentBlobID string

	Role        string
	ToolName    string
	ToolCallID  string
	Turn        int64
	TokensIn    int64
	TokensOut   int64
	CacheRead   int64
	CacheCreate int64
	Model       string
	LatencyMs   int64
	StopReason  string
	Cost        float64
}

// AppendEvent assigns sequence/depth/id, writes the event row, and updates
// session head + counters, all within a single transaction. It retries on
// SQLITE_BUSY with exponential backoff up to maxBusyRetryDeadline.
func (s *Store) AppendEvent(ctx context.Context, in AppendInput) (*model.Event, error) {
	lock := s.sessionLock(in.SessionID)
	lock.Lock()
	defer lock.Unlock()

	deadline := time.Now().Add(maxBusyRetryDeadline)
	backoff := 10 * time.Millisecond
	for {
		evt, err := s.appendOnce(ctx, in)
		if err == nil {
			return evt, nil
		}
		if !isBusyErr(err) || time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, engineerr.Cancelled("append_event cancelled during busy retry")
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *Store) appendOnce(ctx context.Context, in AppendInput) (*model.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engineerr.StorageErr("begin append transaction", err)
	}
	defer tx.Rollback()

	var sess model.Session
	row := tx.QueryRowContext(ctx, `SELECT id, head_event_id, root_event_id, workspace_id FROM sessions WHERE id = ?`, in.SessionID)
	var head, root sql.NullString
	if err := row.Scan(&sess.ID, &head, &root, &sess.WorkspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engineerr.NotFound("session", in.SessionID)
		}
		return nil, engineerr.StorageErr("load session for append", err)
	}
	sess.HeadEventID = head.String
	sess.RootEventID = root.String

	if in.RequireHead && in.ParentID != sess.HeadEventID {
		return nil, engineerr.Conflict("stale parent: not the current session head").WithData("reason", "stale_parent")
	}

	var depth int64
	if in.ParentID != "" {
		var parentDepth int64
		if err := tx.QueryRowContext(ctx, `SELECT depth FROM events WHERE id = ?`, in.ParentID).Scan(&parentDepth); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, engineerr.NotFound("event", in.ParentID)
			}
			return nil, engineerr.StorageErr("load parent depth", err)
		}
		depth = parentDepth + 1
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events WHERE session_id = ?`, in.SessionID).Scan(&maxSeq); err != nil {
		return nil, engineerr.StorageErr("read max sequence", err)
	}
	sequence := maxSeq.Int64 + 1

	payload, err := marshalPayload(in.Payload)
	if err != nil {
		return nil, engineerr.Internal("marshal event payload", err)
	}

	evt := &model.Event{
		ID:            newEventID(),
		SessionID:     in.SessionID,
		ParentID:      in.ParentID,
		Sequence:      sequence,
		Depth:         depth,
		Type:          in.Type,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
		WorkspaceID:   in.WorkspaceID,
		ContentBlobID: in.ContentBlobID,
		Role:          in.Role,
		ToolName:      in.ToolName,
		ToolCallID:    in.ToolCallID,
		Turn:          in.Turn,
		TokensIn:      in.TokensIn,
		TokensOut:     in.TokensOut,
		CacheRead:     in.CacheRead,
		CacheCreate:   in.CacheCreate,
		Model:         in.Model,
		LatencyMs:     in.LatencyMs,
		StopReason:    in.StopReason,
		Cost:          in.Cost,
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, session_id, parent_id, sequence, depth, type, timestamp, payload, workspace_id,
			content_blob_id, role, tool_name, tool_call_id, turn, tokens_in, tokens_out, cache_read, cache_create,
			model, latency_ms, stop_reason, cost)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		evt.ID, evt.SessionID, nullableString(evt.ParentID), evt.Sequence, evt.Depth, string(evt.Type),
		evt.Timestamp.Format(time.RFC3339Nano), string(evt.Payload), evt.WorkspaceID, nullableString(evt.ContentBlobID),
		nullableString(evt.Role), nullableString(evt.ToolName), nullableString(evt.ToolCallID), evt.Turn,
		evt.TokensIn, evt.TokensOut, evt.CacheRead, evt.CacheCreate, nullableString(evt.Model), evt.LatencyMs,
		nullableString(evt.StopReason), evt.Cost,
	); err != nil {
		return nil, engineerr.StorageErr("insert event", err)
	}

	if evt.ContentBlobID != "" {
		if err := s.blobs.Acquire(ctx, tx, evt.ContentBlobID); err != nil {
			return nil, err
		}
	}

	setHead := in.ParentID == sess.HeadEventID || sess.HeadEventID == ""
	isMessage := in.Type == model.EventMessageUser || in.Type == model.EventMessageAssistant
	isTurn := in.Type == model.EventAgentTurnComplete

	updateQuery := `UPDATE sessions SET last_activity_at = ?, event_count = event_count + 1`
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}
	if setHead {
		updateQuery += `, head_event_id = ?`
		args = append(args, evt.ID)
	}
	if sess.RootEventID == "" {
		updateQuery += `, root_event_id = ?`
		args = append(args, evt.ID)
	}
	if isMessage {
		updateQuery += `, message_count = message_count + 1`
	}
	if isTurn {
		updateQuery += `, turn_count = turn_count + 1`
	}
	if in.Model != "" {
		updateQuery += `, latest_model = ?`
		args = append(args, in.Model)
	}
	if in.TokensIn != 0 {
		updateQuery += `, tokens_in = tokens_in + ?`
		args = append(args, in.TokensIn)
	}
	if in.TokensOut != 0 {
		updateQuery += `, tokens_out = tokens_out + ?`
		args = append(args, in.TokensOut)
	}
	if in.CacheRead != 0 {
		updateQuery += `, cache_read_tokens = cache_read_tokens + ?`
		args = append(args, in.CacheRead)
	}
	if in.CacheCreate != 0 {
		updateQuery += `, cache_create_tokens = cache_create_tokens + ?`
		args = append(args, in.CacheCreate)
	}
	if in.Cost != 0 {
		updateQuery += `, cumulative_cost = cumulative_cost + ?`
		args = append(args, in.Cost)
	}
	updateQuery += ` WHERE id = ?`
	args = append(args, in.SessionID)

	if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
		return nil, engineerr.StorageErr("update session counters", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, engineerr.StorageErr("commit append transaction", err)
	}
	return evt, nil
}

// GetEvent fetches one event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, eventSelectColumns+` FROM events WHERE id = ?`, id)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFound("event", id)
	}
	return evt, err
}

// SessionBounds restricts GetEventsBySession to a page of events.
type SessionBounds struct {
	BeforeEventID string
	Limit         int
}

// GetEventsBySession returns events for a session in (sequence) order.
func (s *Store) GetEventsBySession(ctx context.Context, sessionID string, bounds SessionBounds) ([]*model.Event, error) {
	query := eventSelectColumns + ` FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if bounds.BeforeEventID != "" {
		var beforeSeq int64
		if err := s.db.QueryRowContext(ctx, `SELECT sequence FROM events WHERE id = ?`, bounds.BeforeEventID).Scan(&beforeSeq); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, engineerr.NotFound("event", bounds.BeforeEventID)
			}
			return nil, engineerr.StorageErr("resolve before_event_id", err)
		}
		query += ` AND sequence < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY sequence ASC`
	if bounds.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, bounds.Limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// GetChildren returns the direct children of an event.
func (s *Store) GetChildren(ctx context.Context, eventID string) ([]*model.Event, error) {
	return s.queryEvents(ctx, eventSelectColumns+` FROM events WHERE parent_id = ? ORDER BY sequence ASC`, eventID)
}

// Ancestors returns the root→event ordered chain, following parent_id across
// session boundaries, capped by maxAncestorWalk as a corruption guard.
func (s *Store) Ancestors(ctx context.Context, eventID string) ([]*model.Event, error) {
	var chain []*model.Event
	visited := make(map[string]bool)
	currentID := eventID
	for currentID != "" {
		if visited[currentID] {
			return nil, engineerr.Internal("cycle detected in event ancestry at "+currentID, nil)
		}
		if len(visited) >= maxAncestorWalk {
			s.log.Error("ancestor walk exceeded cap, tree likely corrupted", "event_id", eventID, "cap", maxAncestorWalk)
			return nil, engineerr.Internal("ancestor walk exceeded safety cap", nil)
		}
		visited[currentID] = true
		evt, err := s.GetEvent(ctx, currentID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, evt)
		currentID = evt.ParentID
	}
	reverse(chain)
	return chain, nil
}

func reverse(events []*model.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

// EventsSincePage is a page of result for events_since.
type EventsSincePage struct {
	Events  []*model.Event
	HasMore bool
}

// EventsSince returns events strictly after cursor in (timestamp, id) order.
// If sessionID is non-empty, results are scoped to that session (and then
// the stable order is (sequence) rather than (timestamp, id)).
func (s *Store) EventsSince(ctx context.Context, sessionID string, cursor *model.Cursor, limit int) (*EventsSincePage, error) {
	if limit <= 0 {
		limit = 100
	}
	var query string
	var args []any
	if sessionID != "" {
		query = eventSelectColumns + ` FROM events WHERE session_id = ?`
		args = append(args, sessionID)
		if cursor != nil && cursor.EventID != "" {
			var afterSeq int64
			if err := s.db.QueryRowContext(ctx, `SELECT sequence FROM events WHERE id = ?`, cursor.EventID).Scan(&afterSeq); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, engineerr.NotFound("event", cursor.EventID)
				}
				return nil, engineerr.StorageErr("resolve cursor", err)
			}
			query += ` AND sequence > ?`
			args = append(args, afterSeq)
		}
		query += ` ORDER BY sequence ASC LIMIT ?`
	} else {
		query = eventSelectColumns + ` FROM events WHERE 1=1`
		if cursor != nil && cursor.EventID != "" {
			query += ` AND (timestamp > ? OR (timestamp = ? AND id > ?))`
			ts := cursor.Timestamp.UTC().Format(time.RFC3339Nano)
			args = append(args, ts, ts, cursor.EventID)
		}
		query += ` ORDER BY timestamp ASC, id ASC LIMIT ?`
	}
	args = append(args, limit+1)

	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return &EventsSincePage{Events: events, HasMore: hasMore}, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engineerr.StorageErr("query events", err)
	}
	defer rows.Close()
	var out []*model.Event
	for rows.Next() {
		evt, err := scanEventRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func isBusyErr(err error) bool {
	var ee *engineerr.EngineError
	if errors.As(err, &ee) {
		return ee.Kind == engineerr.KindStorageError && ee.Cause != nil &&
			(strings.Contains(ee.Cause.Error(), "SQLITE_BUSY") || strings.Contains(ee.Cause.Error(), "database is locked"))
	}
	return false
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

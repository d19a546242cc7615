package eventstore

import (
	"database/sql"
	"time"

	"github.com/kilnlabs/sessiond/internal/model"
)

const eventSelectColumns = `SELECT id, session_id, parent_id, sequence, depth, type, timestamp, payload, workspace_id,
	content_blob_id, role, tool_name, tool_call_id, turn, tokens_in, tokens_out, cache_read, cache_create,
	model, latency_ms, stop_reason, cost`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	return scanEventRows(row)
}

func scanEventRows(row rowScanner) (*model.Event, error) {
	var evt model.Event
	var parentID, contentBlobID, role, toolName, toolCallID, modelID, stopReason sql.NullString
	var turn, tokensIn, tokensOut, cacheRead, cacheCreate, latencyMs sql.NullInt64
	var cost sql.NullFloat64
	var timestamp string
	var typ string

	if err := row.Scan(
		&evt.ID, &evt.SessionID, &parentID, &evt.Sequence, &evt.Depth, &typ, &timestamp, &evt.Payload, &evt.WorkspaceID,
		&contentBlobID, &role, &toolName, &toolCallID, &turn, &tokensIn, &tokensOut, &cacheRead, &cacheCreate,
		&modelID, &latencyMs, &stopReason, &cost,
	); err != nil {
		return nil, err
	}

	evt.Type = model.EventType(typ)
	evt.ParentID = parentID.String
	evt.ContentBlobID = contentBlobID.String
	evt.Role = role.String
	evt.ToolName = toolName.String
	evt.ToolCallID = toolCallID.String
	evt.Turn = turn.Int64
	evt.TokensIn = tokensIn.Int64
	evt.TokensOut = tokensOut.Int64
	evt.CacheRead = cacheRead.Int64
	evt.CacheCreate = cacheCreate.Int64
	evt.Model = modelID.String
	evt.LatencyMs = latencyMs.Int64
	evt.StopReason = stopReason.String
	evt.Cost = cost.Float64

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, err
	}
	evt.Timestamp = ts

	return &evt, nil
}

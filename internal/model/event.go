// Package model defines the shared data types for the event-sourced session
// engine: events, sessions, blobs, workspaces, and branches.
package model

import (
	"encoding/json"
	"time"
)

// EventType discriminates the kind of node stored in a session's event tree.
type EventType string

const (
	EventSessionStart      EventType = "session.start"
	EventSessionFork       EventType = "session.fork"
	EventMessageUser       EventType = "message.user"
	EventMessageAssistant  EventType = "message.assistant"
	EventMessageDeleted    EventType = "message.deleted"
	EventToolCall          EventType = "tool.call"
	EventToolResult        EventType = "tool.result"
	EventContextCompaction EventType = "context.compaction"
	EventContextCleared    EventType = "agent.context.cleared"
	EventAgentTurn         EventType = "agent.turn"
	EventAgentTurnComplete EventType = "agent.turn_complete"
)

// ContentBlockType tags the typed blocks inside an assistant message.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockThinking   ContentBlockType = "thinking"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one typed unit of assistant message content, emitted in the
// order the provider produced it.
type ContentBlock struct {
	Type       ContentBlockType `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolUseID  string           `json:"toolUseId,omitempty"`
	ToolName   string           `json:"toolName,omitempty"`
	Args       json.RawMessage  `json:"args,omitempty"`
	ResultText string           `json:"resultText,omitempty"`
	IsError    bool             `json:"isError,omitempty"`
}

// Event is one immutable node of a session's append-only tree.
type Event struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"sessionId"`
	ParentID      string          `json:"parentId,omitempty"`
	Sequence      int64           `json:"sequence"`
	Depth         int64           `json:"depth"`
	Type          EventType       `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	WorkspaceID   string          `json:"workspaceId"`
	ContentBlobID string          `json:"contentBlobId,omitempty"`

	// Denormalized columns, present only for event types that use them.
	Role        string  `json:"role,omitempty"`
	ToolName    string  `json:"toolName,omitempty"`
	ToolCallID  string  `json:"toolCallId,omitempty"`
	Turn        int64   `json:"turn,omitempty"`
	TokensIn    int64   `json:"tokensIn,omitempty"`
	TokensOut   int64   `json:"tokensOut,omitempty"`
	CacheRead   int64   `json:"cacheRead,omitempty"`
	CacheCreate int64   `json:"cacheCreate,omitempty"`
	Model       string  `json:"model,omitempty"`
	LatencyMs   int64   `json:"latencyMs,omitempty"`
	StopReason  string  `json:"stopReason,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
}

// Decode lazily unmarshals the event's opaque payload into v.
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// UserMessagePayload is the payload shape for EventMessageUser.
type UserMessagePayload struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// AssistantMessagePayload is the payload shape for EventMessageAssistant.
type AssistantMessagePayload struct {
	Content []ContentBlock `json:"content"`
}

// ToolCallPayload is the payload shape for EventToolCall.
type ToolCallPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args"`
}

// ToolResultPayload is the payload shape for EventToolResult.
type ToolResultPayload struct {
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError"`
}

// ForkPayload is the payload shape for EventSessionFork.
type ForkPayload struct {
	WorkingDirectory string `json:"workingDirectory"`
	ParentSessionID  string `json:"parentSessionId"`
}

// DeletionPayload is the payload shape for EventMessageDeleted.
type DeletionPayload struct {
	TargetEventID string `json:"targetEventId"`
	Reason        string `json:"reason,omitempty"`
}

// CompactionPayload is the payload shape for EventContextCompaction.
type CompactionPayload struct {
	Summary        string `json:"summary"`
	ReplacedUpToID string `json:"replacedUpToId"`
}

// TurnPayload is the payload shape for EventAgentTurn (blocked/aborted markers).
type TurnPayload struct {
	Status string `json:"status"` // "blocked" | "aborted"
	Reason string `json:"reason,omitempty"`
}

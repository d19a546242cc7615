package model

import "time"

// Session is a pointer into the event tree plus aggregate counters.
type Session struct {
	ID                string     `json:"id"`
	WorkspaceID       string     `json:"workspaceId"`
	RootEventID       string     `json:"rootEventId,omitempty"`
	HeadEventID       string     `json:"headEventId,omitempty"`
	LatestModel       string     `json:"latestModel,omitempty"`
	WorkingDirectory  string     `json:"workingDirectory"`
	ParentSessionID   string     `json:"parentSessionId,omitempty"`
	ForkFromEventID   string     `json:"forkFromEventId,omitempty"`
	SpawningSessionID string     `json:"spawningSessionId,omitempty"`
	SpawnTask         string     `json:"spawnTask,omitempty"`
	Origin            string     `json:"origin"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastActivityAt    time.Time  `json:"lastActivityAt"`
	EndedAt           *time.Time `json:"endedAt,omitempty"`

	EventCount       int64   `json:"eventCount"`
	MessageCount     int64   `json:"messageCount"`
	TurnCount        int64   `json:"turnCount"`
	TokensIn         int64   `json:"tokensIn"`
	TokensOut        int64   `json:"tokensOut"`
	CacheReadTokens  int64   `json:"cacheReadTokens"`
	CacheCreateTokes int64   `json:"cacheCreateTokens"`
	CumulativeCost   float64 `json:"cumulativeCost"`
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Blob is deduplicated, content-addressable byte storage.
type Blob struct {
	ID              string `json:"id"`
	Hash            string `json:"hash"`
	Content         []byte `json:"-"`
	MimeType        string `json:"mimeType"`
	SizeOriginal    int64  `json:"sizeOriginal"`
	SizeCompressed  int64  `json:"sizeCompressed"`
	Compression     string `json:"compression"`
	RefCount        int64  `json:"refCount"`
}

// Workspace is the identity of a project directory.
type Workspace struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Branch is an optional named pointer into a session's event tree.
type Branch struct {
	ID          string `json:"id"`
	SessionID   string `json:"sessionId"`
	Name        string `json:"name"`
	RootEventID string `json:"rootEventId"`
	HeadEventID string `json:"headEventId"`
	IsDefault   bool   `json:"isDefault"`
}

// Cursor identifies a position in the global or per-session event stream for
// incremental replay.
type Cursor struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingToolCall tracks a tool.call awaiting its matching tool.result during
// state reconstruction.
type PendingToolCall struct {
	ToolCallID string
	Name       string
	Args       []byte
	EventID    string
}

// ReconstructedState is the folded result of walking a session's ancestor
// chain, consumed by the context assembler and the RPC gateway's
// context.get/getSnapshot handlers.
type ReconstructedState struct {
	SessionID        string
	Messages         []ReconstructedMessage
	LatestModel      string
	TokensIn         int64
	TokensOut        int64
	CacheReadTokens  int64
	CacheCreateTokes int64
	PendingTools     map[string]PendingToolCall
	UnmatchedResults []UnmatchedToolResult
	CompactedBefore  string // event id: messages before this point were replaced by a compaction summary
	SystemPrompt     string
}

// UnmatchedToolResult is a tool.result event whose tool.call was never seen
// in the ancestor chain (e.g. the call event was compacted away).
type UnmatchedToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ReconstructedMessage is one folded message in session history.
type ReconstructedMessage struct {
	Role    string // "user" | "assistant"
	Content []ContentBlock
	EventID string
}

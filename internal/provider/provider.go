// Package provider defines the vendor-agnostic streaming LLM interface (C5)
// and concrete adapters over it.
//
// Grounded on the pattern the reference codebase's own provider field
// exposes (internal/executor/executor.go's provider llm.Provider /
// providerFactory llm.ProviderFactory: an interface plus a factory keyed by
// profile name), reimplemented locally with a streaming contract rather than
// importing agentkit/llm's synchronous Chat wholesale — the reference
// codebase's own sources never exercise a streaming delta surface on that
// package, and SPEC_FULL.md requires one.
package provider

import (
	"context"

	"github.com/kilnlabs/sessiond/internal/model"
)

// DeltaKind discriminates the variants a provider streams back.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text_delta"
	DeltaThinking  DeltaKind = "thinking_delta"
	DeltaToolStart DeltaKind = "tool_call_start"
	DeltaToolArgs  DeltaKind = "tool_call_delta"
	DeltaToolEnd   DeltaKind = "tool_call_end"
	DeltaUsage     DeltaKind = "usage"
	DeltaStop      DeltaKind = "stop"
)

// Delta is one increment of a streamed assistant turn.
type Delta struct {
	Kind DeltaKind

	Text          string // DeltaText, DeltaThinking
	ToolCallID    string // DeltaToolStart, DeltaToolArgs, DeltaToolEnd
	ToolName      string // DeltaToolStart
	ArgsFragment  string // DeltaToolArgs: a JSON fragment to append to the call's args buffer

	Usage      Usage  // DeltaUsage
	StopReason string // DeltaStop
}

// Usage reports token accounting for a turn, as returned by the provider.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheCreateTokens int64
}

// ToolSpec describes one tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema []byte // JSON schema
}

// PromptEnvelope is the fully-assembled request a turn hands to a provider:
// system prompt, folded message history, and available tools.
type PromptEnvelope struct {
	SystemPrompt string
	Messages     []model.ReconstructedMessage
	Tools        []ToolSpec
	MaxTokens    int
	Temperature  float64
}

// Provider streams one assistant turn for a given model. Implementations
// must close both channels when the stream ends, and the error channel
// receives at most one value.
type Provider interface {
	Stream(ctx context.Context, env PromptEnvelope, modelID string) (<-chan Delta, <-chan error)
	Name() string
}

// Factory resolves a Provider by profile name, mirroring the reference
// codebase's llm.ProviderFactory (GetProvider(profile string)).
type Factory interface {
	GetProvider(profile string) (Provider, error)
}

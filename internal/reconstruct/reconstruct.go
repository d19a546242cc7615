// Package reconstruct folds a session's ancestor event chain into a
// ReconstructedState (C3): the message list, pending/unmatched tool calls,
// cumulative usage, latest model and compaction marker a turn needs to run.
// The system prompt is not derived here; internal/contextasm assembles it.
//
// Grounded on internal/replay/replay.go's formatEvent, which already
// branches per session.Event.Type to decide how to render a node; this
// package generalizes that same branch from "render a line" to "fold into
// state", and on internal/executor/converge.go's correlation-id pairing of
// tool calls with their results.
package reconstruct

import (
	"context"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
)

// EventSource is the subset of eventstore.Store reconstruction needs.
type EventSource interface {
	Ancestors(ctx context.Context, eventID string) ([]*model.Event, error)
}

// Reconstructor folds a session's event chain into state.
type Reconstructor struct {
	events EventSource
}

// New builds a Reconstructor over an event source.
func New(events EventSource) *Reconstructor {
	return &Reconstructor{events: events}
}

// StateAt reconstructs session state as of headEventID by walking its
// ancestor chain root-to-head and folding each event in order.
func (r *Reconstructor) StateAt(ctx context.Context, sessionID, headEventID string) (*model.ReconstructedState, error) {
	if headEventID == "" {
		return &model.ReconstructedState{SessionID: sessionID, PendingTools: map[string]model.PendingToolCall{}}, nil
	}
	chain, err := r.events.Ancestors(ctx, headEventID)
	if err != nil {
		return nil, err
	}

	state := &model.ReconstructedState{
		SessionID:    sessionID,
		PendingTools: make(map[string]model.PendingToolCall),
	}

	// deletedTargets tracks message.deleted markers seen so far; messages
	// they target are dropped on a second pass, since a deletion can appear
	// anywhere after its target in the chain.
	deletedTargets := make(map[string]bool)
	var compactedBefore string

	for _, evt := range chain {
		switch evt.Type {
		case model.EventSessionStart, model.EventSessionFork:
			// carries no message-list state; workspace/model already denormalized onto Session

		case model.EventMessageUser:
			var payload model.UserMessagePayload
			if err := evt.Decode(&payload); err != nil {
				return nil, engineerr.Internal("decode user message payload", err)
			}
			state.Messages = append(state.Messages, model.ReconstructedMessage{
				Role:    "user",
				Content: []model.ContentBlock{{Type: model.BlockText, Text: payload.Content}},
				EventID: evt.ID,
			})

		case model.EventMessageAssistant:
			var payload model.AssistantMessagePayload
			if err := evt.Decode(&payload); err != nil {
				return nil, engineerr.Internal("decode assistant message payload", err)
			}
			state.Messages = append(state.Messages, model.ReconstructedMessage{
				Role:    "assistant",
				Content: payload.Content,
				EventID: evt.ID,
			})
			for _, block := range payload.Content {
				if block.Type == model.BlockToolUse {
					state.PendingTools[block.ToolUseID] = model.PendingToolCall{
						ToolCallID: block.ToolUseID,
						Name:       block.ToolName,
						Args:       block.Args,
						EventID:    evt.ID,
					}
				}
			}

		case model.EventToolCall:
			var payload model.ToolCallPayload
			if err := evt.Decode(&payload); err != nil {
				return nil, engineerr.Internal("decode tool call payload", err)
			}
			state.PendingTools[payload.ToolCallID] = model.PendingToolCall{
				ToolCallID: payload.ToolCallID,
				Name:       payload.Name,
				Args:       payload.Args,
				EventID:    evt.ID,
			}

		case model.EventToolResult:
			var payload model.ToolResultPayload
			if err := evt.Decode(&payload); err != nil {
				return nil, engineerr.Internal("decode tool result payload", err)
			}
			if _, pending := state.PendingTools[payload.ToolCallID]; pending {
				delete(state.PendingTools, payload.ToolCallID)
			} else {
				state.UnmatchedResults = append(state.UnmatchedResults, model.UnmatchedToolResult{
					ToolCallID: payload.ToolCallID,
					Content:    payload.Content,
					IsError:    payload.IsError,
				})
			}

		case model.EventContextCompaction:
			var payload model.CompactionPayload
			if err := evt.Decode(&payload); err != nil {
				return nil, engineerr.Internal("decode compaction payload", err)
			}
			compactedBefore = payload.ReplacedUpToID
			state.Messages = truncateBefore(state.Messages, payload.ReplacedUpToID)
			state.Messages = append([]model.ReconstructedMessage{{
				Role:    "user",
				Content: []model.ContentBlock{{Type: model.BlockText, Text: payload.Summary}},
				EventID: evt.ID,
			}}, state.Messages...)

		case model.EventContextCleared:
			state.Messages = nil
			state.PendingTools = make(map[string]model.PendingToolCall)
			state.UnmatchedResults = nil
			compactedBefore = evt.ID

		case model.EventMessageDeleted:
			var payload model.DeletionPayload
			if err := evt.Decode(&payload); err != nil {
				return nil, engineerr.Internal("decode deletion payload", err)
			}
			deletedTargets[payload.TargetEventID] = true

		case model.EventAgentTurn, model.EventAgentTurnComplete:
			// turn bookkeeping events carry no message-list state

		default:
			return nil, engineerr.Internal("unrecognized event type in ancestor chain: "+string(evt.Type), nil)
		}

		if evt.Model != "" {
			state.LatestModel = evt.Model
		}
		state.TokensIn += evt.TokensIn
		state.TokensOut += evt.TokensOut
		state.CacheReadTokens += evt.CacheRead
		state.CacheCreateTokes += evt.CacheCreate
	}

	if len(deletedTargets) > 0 {
		state.Messages = filterDeleted(state.Messages, deletedTargets)
	}
	state.CompactedBefore = compactedBefore
	return state, nil
}

func truncateBefore(messages []model.ReconstructedMessage, replacedUpToID string) []model.ReconstructedMessage {
	for i, m := range messages {
		if m.EventID == replacedUpToID {
			return append([]model.ReconstructedMessage{}, messages[i+1:]...)
		}
	}
	return messages
}

func filterDeleted(messages []model.ReconstructedMessage, deleted map[string]bool) []model.ReconstructedMessage {
	out := messages[:0:0]
	for _, m := range messages {
		if deleted[m.EventID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

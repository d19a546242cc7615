// Package turn implements C7: the per-(session, user request) turn state
// machine, streaming a provider response, dispatching tool calls, and
// committing the result atomically to the event store.
//
// Grounded on the reference codebase's internal/executor/executor.go (the
// Executor's per-turn loop structure: build prompt, call provider, act on
// response) and internal/executor/logging.go's "append to session events,
// then persist" idiom, here routed through internal/eventstore transactions
// instead of an in-memory slice. The tool-call round's fan-out follows
// spec's coroutine design note, built on golang.org/x/sync/errgroup.
package turn

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/hooks"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/obslog"
	"github.com/kilnlabs/sessiond/internal/provider"
	"github.com/kilnlabs/sessiond/internal/reconstruct"
)

// State is a runner's position in the turn state machine.
type State string

const (
	StateIdle              State = "idle"
	StatePreparing         State = "preparing"
	StateStreaming         State = "streaming"
	StateDispatchingTools  State = "dispatching_tools"
	StateCompleting        State = "completing"
	StateAborting          State = "aborting"
)

// ToolExecutor runs one tool call and returns its textual result.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (content string, isError bool, err error)
}

// Broadcaster fans out committed events and streaming deltas to C8
// subscribers; the turn runner only needs to push, never to track
// subscribers itself.
type Broadcaster interface {
	BroadcastEvent(evt *model.Event)
	BroadcastDelta(sessionID string, turnSeq int64, d provider.Delta)
}

// PromptBuilder assembles a PromptEnvelope for a turn (C4).
type PromptBuilder interface {
	Build(ctx context.Context, sessionID string, state *model.ReconstructedState) (provider.PromptEnvelope, error)
}

// Runner executes turns for one session at a time; the session's exclusive
// slot is enforced by the orchestrator (C8), which owns one Runner per
// active session.
type Runner struct {
	sessionID string
	events    *eventstore.Store
	recon     *reconstruct.Reconstructor
	prompts   PromptBuilder
	providers provider.Factory
	hooks     *hooks.Registry
	tools     ToolExecutor
	broadcast Broadcaster
	log       *obslog.Logger

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
}

// NewRunner builds a Runner bound to one session.
func NewRunner(sessionID string, events *eventstore.Store, recon *reconstruct.Reconstructor, prompts PromptBuilder,
	providers provider.Factory, hookRegistry *hooks.Registry, tools ToolExecutor, broadcast Broadcaster, log *obslog.Logger) *Runner {
	return &Runner{
		sessionID: sessionID,
		events:    events,
		recon:     recon,
		prompts:   prompts,
		providers: providers,
		hooks:     hookRegistry,
		tools:     tools,
		broadcast: broadcast,
		log:       log.WithComponent("turn").With("session_id", sessionID),
		state:     StateIdle,
	}
}

// State reports the runner's current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// SendMessage runs one full turn in response to a user message, looping
// internally through tool-call rounds (step 9) until the assistant stops
// requesting more tools.
func (r *Runner) SendMessage(ctx context.Context, content string, attachments []string, modelID, profile string) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return engineerr.AgentBusy(r.sessionID)
	}
	r.state = StatePreparing
	turnCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.state = StateIdle
		r.mu.Unlock()
	}()

	sess, err := r.events.GetSession(turnCtx, r.sessionID)
	if err != nil {
		return err
	}
	if !sess.Active() {
		return engineerr.SessionNotActive(r.sessionID)
	}

	hookRes, err := r.hooks.Execute(turnCtx, hooks.HookContext{
		SessionID: r.sessionID, EventType: "UserPromptSubmit",
		Payload: map[string]any{"content": content},
	})
	if err != nil {
		return err
	}
	if hookRes.Verdict == hooks.VerdictBlock {
		_, err := r.events.AppendEvent(turnCtx, eventstore.AppendInput{
			SessionID: r.sessionID, ParentID: sess.HeadEventID, Type: model.EventAgentTurn,
			WorkspaceID: sess.WorkspaceID, Payload: model.TurnPayload{Status: "blocked", Reason: hookRes.Reason},
		})
		return err
	}

	userEvt, err := r.events.AppendEvent(turnCtx, eventstore.AppendInput{
		SessionID: r.sessionID, ParentID: sess.HeadEventID, Type: model.EventMessageUser,
		WorkspaceID: sess.WorkspaceID, RequireHead: true,
		Payload: model.UserMessagePayload{Content: content, Attachments: attachments},
	})
	if err != nil {
		return err
	}
	r.broadcast.BroadcastEvent(userEvt)

	turnSeq := int64(0)
	for {
		state, err := r.recon.StateAt(turnCtx, r.sessionID, userEvt.ID)
		if err != nil {
			return err
		}

		env, err := r.prompts.Build(turnCtx, r.sessionID, state)
		if err != nil {
			return err
		}

		p, err := r.providers.GetProvider(profile)
		if err != nil {
			return err
		}

		r.setState(StateStreaming)
		assembled, err := r.streamRound(turnCtx, p, env, modelID, turnSeq)
		if err != nil {
			r.setState(StateIdle)
			return err
		}
		turnSeq++

		r.setState(StateDispatchingTools)
		toolCalls := assembled.toolCalls()
		var toolResults []model.ContentBlock
		if len(toolCalls) > 0 {
			toolResults, err = r.dispatchTools(turnCtx, toolCalls)
			if err != nil {
				return err
			}
		}

		latestHead, err := r.events.GetSession(turnCtx, r.sessionID)
		if err != nil {
			return err
		}
		assistantEvt, err := r.events.AppendEvent(turnCtx, eventstore.AppendInput{
			SessionID: r.sessionID, ParentID: latestHead.HeadEventID, Type: model.EventMessageAssistant,
			WorkspaceID: sess.WorkspaceID, RequireHead: true,
			Payload:    model.AssistantMessagePayload{Content: assembled.blocks},
			Model:      modelID,
			TokensIn:   assembled.usage.InputTokens,
			TokensOut:  assembled.usage.OutputTokens,
			CacheRead:  assembled.usage.CacheReadTokens,
			CacheCreate: assembled.usage.CacheCreateTokens,
			StopReason: assembled.stopReason,
		})
		if err != nil {
			return err
		}
		r.broadcast.BroadcastEvent(assistantEvt)

		for i, tc := range toolCalls {
			callEvt, err := r.events.AppendEvent(turnCtx, eventstore.AppendInput{
				SessionID: r.sessionID, ParentID: assistantEvt.ID, Type: model.EventToolCall,
				WorkspaceID: sess.WorkspaceID, ToolCallID: tc.ToolUseID, ToolName: tc.ToolName,
				Payload: model.ToolCallPayload{ToolCallID: tc.ToolUseID, Name: tc.ToolName, Args: tc.Args},
			})
			if err != nil {
				return err
			}
			r.broadcast.BroadcastEvent(callEvt)

			result := toolResults[i]
			resultEvt, err := r.events.AppendEvent(turnCtx, eventstore.AppendInput{
				SessionID: r.sessionID, ParentID: callEvt.ID, Type: model.EventToolResult,
				WorkspaceID: sess.WorkspaceID, ToolCallID: tc.ToolUseID,
				Payload: model.ToolResultPayload{ToolCallID: tc.ToolUseID, Content: result.ResultText, IsError: result.IsError},
			})
			if err != nil {
				return err
			}
			r.broadcast.BroadcastEvent(resultEvt)
			userEvt = resultEvt
		}
		if len(toolCalls) == 0 {
			userEvt = assistantEvt
		}

		if len(toolCalls) == 0 {
			break
		}
	}

	r.setState(StateCompleting)
	final, err := r.events.GetSession(turnCtx, r.sessionID)
	if err != nil {
		return err
	}
	completeEvt, err := r.events.AppendEvent(turnCtx, eventstore.AppendInput{
		SessionID: r.sessionID, ParentID: final.HeadEventID, Type: model.EventAgentTurnComplete,
		WorkspaceID: sess.WorkspaceID, RequireHead: true,
	})
	if err != nil {
		return err
	}
	r.broadcast.BroadcastEvent(completeEvt)
	return nil
}

// Abort cancels any in-flight turn for this session. Idempotent: calling it
// when idle is a no-op.
func (r *Runner) Abort(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	sessionID := r.sessionID
	wasIdle := r.state == StateIdle
	r.state = StateAborting
	r.mu.Unlock()

	if wasIdle {
		r.setState(StateIdle)
		return nil
	}
	if cancel != nil {
		cancel()
	}

	sess, err := r.events.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = r.events.AppendEvent(ctx, eventstore.AppendInput{
		SessionID: sessionID, ParentID: sess.HeadEventID, Type: model.EventAgentTurn,
		WorkspaceID: sess.WorkspaceID, Payload: model.TurnPayload{Status: "aborted"},
	})
	r.setState(StateIdle)
	return err
}

// assembledTurn accumulates the ordered content blocks and usage a provider
// stream produces for one round.
type assembledTurn struct {
	blocks     []model.ContentBlock
	usage      provider.Usage
	stopReason string
}

func (a *assembledTurn) toolCalls() []model.ContentBlock {
	var out []model.ContentBlock
	for _, b := range a.blocks {
		if b.Type == model.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

func (r *Runner) streamRound(ctx context.Context, p provider.Provider, env provider.PromptEnvelope, modelID string, turnSeq int64) (*assembledTurn, error) {
	deltas, errs := p.Stream(ctx, env, modelID)

	assembled := &assembledTurn{}
	var textBuf string
	toolArgBufs := map[string]string{}
	toolNames := map[string]string{}

	for deltas != nil || errs != nil {
		select {
		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			r.broadcast.BroadcastDelta(r.sessionID, turnSeq, d)
			switch d.Kind {
			case provider.DeltaText:
				textBuf += d.Text
			case provider.DeltaToolStart:
				toolNames[d.ToolCallID] = d.ToolName
				toolArgBufs[d.ToolCallID] = ""
			case provider.DeltaToolArgs:
				toolArgBufs[d.ToolCallID] += d.ArgsFragment
			case provider.DeltaToolEnd:
				if textBuf != "" {
					assembled.blocks = append(assembled.blocks, model.ContentBlock{Type: model.BlockText, Text: textBuf})
					textBuf = ""
				}
				assembled.blocks = append(assembled.blocks, model.ContentBlock{
					Type:      model.BlockToolUse,
					ToolUseID: d.ToolCallID,
					ToolName:  toolNames[d.ToolCallID],
					Args:      json.RawMessage(toolArgBufs[d.ToolCallID]),
				})
			case provider.DeltaUsage:
				assembled.usage = d.Usage
			case provider.DeltaStop:
				assembled.stopReason = d.StopReason
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, engineerr.ProviderErr("provider stream failed", false, err)
			}
		case <-ctx.Done():
			return nil, engineerr.Cancelled("turn aborted during stream")
		}
	}
	if textBuf != "" {
		assembled.blocks = append(assembled.blocks, model.ContentBlock{Type: model.BlockText, Text: textBuf})
	}
	return assembled, nil
}

// dispatchTools runs every assembled tool call concurrently via PreToolUse
// hooks and the external executor, joined with errgroup per spec's
// coroutine design note; results are returned in the same order as calls.
func (r *Runner) dispatchTools(ctx context.Context, calls []model.ContentBlock) ([]model.ContentBlock, error) {
	results := make([]model.ContentBlock, len(calls))
	g, gctx := errgroup.WithContext(ctx)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			hookRes, err := r.hooks.Execute(gctx, hooks.HookContext{
				SessionID: r.sessionID, EventType: "PreToolUse",
				Payload: map[string]any{"tool": call.ToolName, "args": string(call.Args)},
			})
			if err != nil {
				return err
			}
			if hookRes.Verdict == hooks.VerdictBlock {
				results[i] = model.ContentBlock{Type: model.BlockToolResult, ToolUseID: call.ToolUseID, ResultText: hookRes.Reason, IsError: true}
				return nil
			}

			content, isError, err := r.tools.Execute(gctx, call.ToolName, call.Args)
			if err != nil {
				results[i] = model.ContentBlock{Type: model.BlockToolResult, ToolUseID: call.ToolUseID, ResultText: err.Error(), IsError: true}
				return nil
			}
			results[i] = model.ContentBlock{Type: model.BlockToolResult, ToolUseID: call.ToolUseID, ResultText: content, IsError: isError}

			r.hooks.Execute(context.WithoutCancel(ctx), hooks.HookContext{
				SessionID: r.sessionID, EventType: "PostToolUse",
				Payload: map[string]any{"tool": call.ToolName, "result": content},
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

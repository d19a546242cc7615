package rpc

import (
	"context"
	"encoding/json"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/orchestrator"
	"github.com/kilnlabs/sessiond/internal/provider"
	"github.com/kilnlabs/sessiond/internal/sync"
)

// Deps bundles the orchestrator-level dependencies method handlers close
// over; a handler whose dependency is nil returns ManagerUnavailable rather
// than panicking, per spec's dependency-validation step.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Events       *eventstore.Store
	Sync         *sync.Service
	Providers    *provider.Registry
}

// RegisterMethods wires the closed RPC method set onto reg.
func RegisterMethods(reg *Registry, deps Deps) {
	reg.Register(Method{Name: "session.create", RequiredParams: []string{"workingDirectory"}, Handler: deps.sessionCreate})
	reg.Register(Method{Name: "session.list", Handler: deps.sessionList})
	reg.Register(Method{Name: "session.get", RequiredParams: []string{"sessionId"}, Handler: deps.sessionGet})
	reg.Register(Method{Name: "session.fork", RequiredParams: []string{"sessionId"}, Handler: deps.sessionFork})
	reg.Register(Method{Name: "session.rewind", RequiredParams: []string{"sessionId", "toEventId"}, Handler: deps.sessionRewind})
	reg.Register(Method{Name: "session.delete", RequiredParams: []string{"sessionId"}, Handler: deps.sessionDelete})
	reg.Register(Method{Name: "session.end", RequiredParams: []string{"sessionId"}, Handler: deps.sessionEnd})
	reg.Register(Method{Name: "agent.message", RequiredParams: []string{"sessionId", "content"}, Handler: deps.agentMessage})
	reg.Register(Method{Name: "agent.prompt", RequiredParams: []string{"sessionId", "content"}, Handler: deps.agentMessage})
	reg.Register(Method{Name: "agent.abort", RequiredParams: []string{"sessionId"}, Handler: deps.agentAbort})
	reg.Register(Method{Name: "agent.getState", RequiredParams: []string{"sessionId"}, Handler: deps.agentGetState})
	reg.Register(Method{Name: "system.ping", Handler: deps.systemPing})
	reg.Register(Method{Name: "model.list", Handler: deps.modelList})
	reg.Register(Method{Name: "events.list", RequiredParams: []string{"sessionId"}, Handler: deps.eventsList})
	reg.Register(Method{Name: "events.getHistory", RequiredParams: []string{"sessionId"}, Handler: deps.eventsList})
	reg.Register(Method{Name: "events.since", Handler: deps.eventsSince})
	reg.Register(Method{Name: "events.getSince", Handler: deps.eventsSince})
	reg.Register(Method{Name: "tree.getAncestors", RequiredParams: []string{"eventId"}, Handler: deps.treeGetAncestors})
	reg.Register(Method{Name: "message.delete", RequiredParams: []string{"sessionId", "targetEventId"}, Handler: deps.messageDelete})
	reg.Register(Method{Name: "tool.result", RequiredParams: []string{"sessionId", "toolCallId", "result"}, Handler: deps.toolResult})
	reg.Register(Method{Name: "context.clear", RequiredParams: []string{"sessionId"}, Handler: deps.contextClear})
}

func requireOrchestrator(o *orchestrator.Orchestrator) error {
	if o == nil {
		return engineerr.ManagerUnavailable("orchestrator")
	}
	return nil
}

func (d Deps) sessionCreate(ctx context.Context, params json.RawMessage) (any, error) {
	if err := requireOrchestrator(d.Orchestrator); err != nil {
		return nil, err
	}
	var p struct {
		WorkingDirectory string `json:"workingDirectory"`
		Model            string `json:"model"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	sess, err := d.Orchestrator.CreateSession(ctx, "", p.WorkingDirectory, "api")
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessionId": sess.ID, "model": sess.LatestModel}, nil
}

func (d Deps) sessionList(ctx context.Context, params json.RawMessage) (any, error) {
	if err := requireOrchestrator(d.Orchestrator); err != nil {
		return nil, err
	}
	var p struct {
		WorkspaceID string `json:"workingDirectory"`
	}
	_ = json.Unmarshal(params, &p)
	sessions, err := d.Orchestrator.List(ctx, p.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessions": sessions}, nil
}

func (d Deps) sessionGet(ctx context.Context, params json.RawMessage) (any, error) {
	if err := requireOrchestrator(d.Orchestrator); err != nil {
		return nil, err
	}
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	sess, err := d.Orchestrator.Get(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": sess}, nil
}

func (d Deps) sessionFork(ctx context.Context, params json.RawMessage) (any, error) {
	if err := requireOrchestrator(d.Orchestrator); err != nil {
		return nil, err
	}
	var p struct {
		SessionID   string `json:"sessionId"`
		FromEventID string `json:"fromEventId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	child, err := d.Orchestrator.Fork(ctx, p.SessionID, p.FromEventID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"newSessionId":      child.ID,
		"rootEventId":       child.RootEventID,
		"forkedFromEventId": child.ForkFromEventID,
	}, nil
}

func (d Deps) sessionRewind(ctx context.Context, params json.RawMessage) (any, error) {
	if d.Events == nil {
		return nil, engineerr.ManagerUnavailable("eventstore")
	}
	var p struct {
		SessionID string `json:"sessionId"`
		ToEventID string `json:"toEventId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	before, err := d.Events.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	previousHead := before.HeadEventID
	after, err := d.Events.Rewind(ctx, p.SessionID, p.ToEventID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"newHeadEventId": after.HeadEventID, "previousHeadEventId": previousHead}, nil
}

func (d Deps) sessionDelete(ctx context.Context, params json.RawMessage) (any, error) {
	if err := requireOrchestrator(d.Orchestrator); err != nil {
		return nil, err
	}
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	if err := d.Orchestrator.Delete(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

func (d Deps) sessionEnd(ctx context.Context, params json.RawMessage) (any, error) {
	if err := requireOrchestrator(d.Orchestrator); err != nil {
		return nil, err
	}
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	if err := d.Orchestrator.End(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (d Deps) agentMessage(ctx context.Context, params json.RawMessage) (any, error) {
	if err := requireOrchestrator(d.Orchestrator); err != nil {
		return nil, err
	}
	var p struct {
		SessionID   string   `json:"sessionId"`
		Content     string   `json:"content"`
		Attachments []string `json:"attachments"`
		Model       string   `json:"model"`
		Profile     string   `json:"profile"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	if err := d.Orchestrator.SendMessage(ctx, p.SessionID, p.Content, p.Attachments, p.Model, p.Profile); err != nil {
		return nil, err
	}
	return map[string]any{"acknowledged": true}, nil
}

func (d Deps) agentAbort(ctx context.Context, params json.RawMessage) (any, error) {
	if err := requireOrchestrator(d.Orchestrator); err != nil {
		return nil, err
	}
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	if err := d.Orchestrator.Abort(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"aborted": true}, nil
}

func (d Deps) agentGetState(ctx context.Context, params json.RawMessage) (any, error) {
	if err := requireOrchestrator(d.Orchestrator); err != nil {
		return nil, err
	}
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	states := d.Orchestrator.ProcessingState()
	state, ok := states[p.SessionID]
	if !ok {
		return map[string]any{"isRunning": false, "turn": nil}, nil
	}
	return map[string]any{"isRunning": state != "idle", "turn": string(state)}, nil
}

func (d Deps) systemPing(ctx context.Context, params json.RawMessage) (any, error) {
	return map[string]any{"pong": true}, nil
}

func (d Deps) modelList(ctx context.Context, params json.RawMessage) (any, error) {
	if d.Providers == nil {
		return nil, engineerr.ManagerUnavailable("providers")
	}
	return map[string]any{"models": d.Providers.Names()}, nil
}

func (d Deps) eventsList(ctx context.Context, params json.RawMessage) (any, error) {
	if d.Sync == nil {
		return nil, engineerr.ManagerUnavailable("sync")
	}
	var p struct {
		SessionID     string `json:"sessionId"`
		Limit         int    `json:"limit"`
		BeforeEventID string `json:"beforeEventId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	page, err := d.Sync.History(ctx, p.SessionID, p.BeforeEventID, p.Limit)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (d Deps) eventsSince(ctx context.Context, params json.RawMessage) (any, error) {
	if d.Sync == nil {
		return nil, engineerr.ManagerUnavailable("sync")
	}
	var p struct {
		SessionID   string `json:"sessionId"`
		AfterEventID string `json:"afterEventId"`
		Limit       int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	var cursor *model.Cursor
	if p.AfterEventID != "" {
		cursor = &model.Cursor{EventID: p.AfterEventID}
	}
	page, err := d.Sync.Since(ctx, p.SessionID, cursor, p.Limit)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (d Deps) treeGetAncestors(ctx context.Context, params json.RawMessage) (any, error) {
	if d.Sync == nil {
		return nil, engineerr.ManagerUnavailable("sync")
	}
	var p struct {
		EventID string `json:"eventId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	events, err := d.Sync.Ancestors(ctx, p.EventID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": events}, nil
}

func (d Deps) messageDelete(ctx context.Context, params json.RawMessage) (any, error) {
	if d.Events == nil {
		return nil, engineerr.ManagerUnavailable("eventstore")
	}
	var p struct {
		SessionID     string `json:"sessionId"`
		TargetEventID string `json:"targetEventId"`
		Reason        string `json:"reason"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	sess, err := d.Events.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	evt, err := d.Events.AppendEvent(ctx, eventstore.AppendInput{
		SessionID: p.SessionID,
		ParentID:  sess.HeadEventID,
		Type:      model.EventMessageDeleted,
		Payload: model.DeletionPayload{
			TargetEventID: p.TargetEventID,
			Reason:        p.Reason,
		},
		RequireHead: true,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"deletionEventId": evt.ID}, nil
}

func (d Deps) toolResult(ctx context.Context, params json.RawMessage) (any, error) {
	if d.Events == nil {
		return nil, engineerr.ManagerUnavailable("eventstore")
	}
	var p struct {
		SessionID  string          `json:"sessionId"`
		ToolCallID string          `json:"toolCallId"`
		Result     json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	sess, err := d.Events.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	_, err = d.Events.AppendEvent(ctx, eventstore.AppendInput{
		SessionID:  p.SessionID,
		ParentID:   sess.HeadEventID,
		Type:       model.EventToolResult,
		Payload:    p.Result,
		ToolCallID: p.ToolCallID,
		RequireHead: true,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (d Deps) contextClear(ctx context.Context, params json.RawMessage) (any, error) {
	if d.Events == nil {
		return nil, engineerr.ManagerUnavailable("eventstore")
	}
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, engineerr.ParseError(err)
	}
	sess, err := d.Events.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	_, err = d.Events.AppendEvent(ctx, eventstore.AppendInput{
		SessionID:   p.SessionID,
		ParentID:    sess.HeadEventID,
		Type:        model.EventContextCleared,
		RequireHead: true,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

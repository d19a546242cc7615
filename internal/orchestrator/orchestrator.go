// Package orchestrator implements C8: the session registry, subscriber
// fan-out, and dashboard processing-state surface.
//
// Grounded on the reference codebase's internal/session/session.go Manager
// (session_id -> *Session registry, Create/Get/Update) generalized with a
// subscriber broadcast, and on internal/executor/tracing.go's
// span-per-operation idiom for the dashboard query surface. Tracing:
// go.opentelemetry.io/otel, unchanged from the teacher.
package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/obslog"
	"github.com/kilnlabs/sessiond/internal/provider"
	"github.com/kilnlabs/sessiond/internal/turn"
)

var tracer = otel.Tracer("github.com/kilnlabs/sessiond/internal/orchestrator")

// RunnerHandle is the subset of *turn.Runner the orchestrator depends on.
type RunnerHandle interface {
	SendMessage(ctx context.Context, content string, attachments []string, modelID, profile string) error
	Abort(ctx context.Context) error
	State() turn.State
}

// RunnerFactory builds a RunnerHandle bound to one session.
type RunnerFactory func(sessionID string) RunnerHandle

// Filter restricts which events/deltas a subscriber receives.
type Filter struct {
	SessionID string // empty means all sessions
}

// Subscriber receives fan-out notifications.
type Subscriber interface {
	NotifyEvent(evt *model.Event)
	NotifyDelta(sessionID string, turnSeq int64, d provider.Delta)
}

type subscription struct {
	filter Filter
	client Subscriber
}

// Orchestrator owns the session_id -> RunnerHandle map and the
// subscription_id -> (client, filter) map, and fans out every committed
// event and streaming delta to matching subscribers.
type Orchestrator struct {
	events  *eventstore.Store
	runners RunnerFactory
	log     *obslog.Logger

	mu            sync.RWMutex
	activeRunners map[string]RunnerHandle
	subs          map[string]subscription
}

// New builds an Orchestrator.
func New(events *eventstore.Store, runners RunnerFactory, log *obslog.Logger) *Orchestrator {
	return &Orchestrator{
		events:        events,
		runners:       runners,
		log:           log.WithComponent("orchestrator"),
		activeRunners: make(map[string]RunnerHandle),
		subs:          make(map[string]subscription),
	}
}

// CreateSession creates a new root session and appends its session.start event.
func (o *Orchestrator) CreateSession(ctx context.Context, workspaceID, workingDirectory, origin string) (*model.Session, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.create_session")
	defer span.End()

	sess, err := o.events.CreateSession(ctx, eventstore.CreateSessionInput{
		WorkspaceID: workspaceID, WorkingDirectory: workingDirectory, Origin: origin,
	})
	if err != nil {
		return nil, err
	}
	if _, err := o.events.AppendEvent(ctx, eventstore.AppendInput{
		SessionID: sess.ID, Type: model.EventSessionStart, WorkspaceID: workspaceID,
	}); err != nil {
		return nil, err
	}
	return o.events.GetSession(ctx, sess.ID)
}

// Get returns a session by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.Session, error) {
	return o.events.GetSession(ctx, id)
}

// List returns sessions in a workspace.
func (o *Orchestrator) List(ctx context.Context, workspaceID string) ([]*model.Session, error) {
	return o.events.ListSessionsByWorkspace(ctx, workspaceID)
}

// Delete ends a session and drops its runner handle, if any.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	delete(o.activeRunners, id)
	o.mu.Unlock()
	return o.events.EndSession(ctx, id)
}

// Fork creates a child session branching off an existing event.
func (o *Orchestrator) Fork(ctx context.Context, parentSessionID, atEventID string) (*model.Session, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.fork")
	defer span.End()
	return o.events.Fork(ctx, eventstore.ForkInput{ParentSessionID: parentSessionID, AtEventID: atEventID})
}

// End marks a session ended without deleting its history.
func (o *Orchestrator) End(ctx context.Context, id string) error {
	return o.events.EndSession(ctx, id)
}

// SendMessage enqueues a user message to the session's runner, lazily
// creating one; fails with AgentBusy if the runner is already mid-turn.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, content string, attachments []string, modelID, profile string) error {
	ctx, span := tracer.Start(ctx, "orchestrator.send_message", trace.WithAttributes())
	defer span.End()

	runner := o.runnerFor(sessionID)
	if runner.State() != turn.StateIdle {
		return engineerr.AgentBusy(sessionID)
	}
	return runner.SendMessage(ctx, content, attachments, modelID, profile)
}

// Abort cancels an in-flight turn for a session.
func (o *Orchestrator) Abort(ctx context.Context, sessionID string) error {
	runner := o.runnerFor(sessionID)
	return runner.Abort(ctx)
}

func (o *Orchestrator) runnerFor(sessionID string) RunnerHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.activeRunners[sessionID]; ok {
		return r
	}
	r := o.runners(sessionID)
	o.activeRunners[sessionID] = r
	return r
}

// Subscribe registers a client for fan-out matching filter, returning a
// subscription id for Unsubscribe.
func (o *Orchestrator) Subscribe(client Subscriber, filter Filter) string {
	id := uuid.New().String()
	o.mu.Lock()
	o.subs[id] = subscription{filter: filter, client: client}
	o.mu.Unlock()
	return id
}

// Unsubscribe drops a subscription.
func (o *Orchestrator) Unsubscribe(id string) {
	o.mu.Lock()
	delete(o.subs, id)
	o.mu.Unlock()
}

// BroadcastEvent implements turn.Broadcaster: fans a committed event out to
// every subscriber whose filter matches, preserving the canonical
// (session_id, sequence) order since this is invoked synchronously from the
// append path.
func (o *Orchestrator) BroadcastEvent(evt *model.Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, sub := range o.subs {
		if sub.filter.SessionID != "" && sub.filter.SessionID != evt.SessionID {
			continue
		}
		sub.client.NotifyEvent(evt)
	}
}

// BroadcastDelta implements turn.Broadcaster for streaming deltas.
func (o *Orchestrator) BroadcastDelta(sessionID string, turnSeq int64, d provider.Delta) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, sub := range o.subs {
		if sub.filter.SessionID != "" && sub.filter.SessionID != sessionID {
			continue
		}
		sub.client.NotifyDelta(sessionID, turnSeq, d)
	}
}

// ProcessingState reports which sessions currently have an active runner,
// for poll-based dashboard clients.
func (o *Orchestrator) ProcessingState() map[string]turn.State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]turn.State, len(o.activeRunners))
	for id, r := range o.activeRunners {
		out[id] = r.State()
	}
	return out
}

package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/blobstore"
	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/obslog"
	"github.com/kilnlabs/sessiond/internal/orchestrator"
	"github.com/kilnlabs/sessiond/internal/provider"
	"github.com/kilnlabs/sessiond/internal/turn"
)

type fakeRunner struct {
	state     turn.State
	sentCount int
}

func (f *fakeRunner) SendMessage(ctx context.Context, content string, attachments []string, modelID, profile string) error {
	f.sentCount++
	return nil
}
func (f *fakeRunner) Abort(ctx context.Context) error { f.state = turn.StateIdle; return nil }
func (f *fakeRunner) State() turn.State               { return f.state }

type recordingSubscriber struct {
	events []*model.Event
}

func (r *recordingSubscriber) NotifyEvent(evt *model.Event) { r.events = append(r.events, evt) }
func (r *recordingSubscriber) NotifyDelta(sessionID string, turnSeq int64, d provider.Delta) {}

func newStore(t *testing.T) *eventstore.Store {
	t.Helper()
	db, err := eventstore.OpenAndMigrate(t.TempDir()+"/test.db", obslog.New(obslog.Test))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	log := obslog.New(obslog.Test)
	return eventstore.New(db, blobstore.New(db, log), log)
}

func TestCreateSessionAndSendMessage(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	runner := &fakeRunner{state: turn.StateIdle}

	orch := orchestrator.New(store, func(sessionID string) orchestrator.RunnerHandle { return runner }, obslog.New(obslog.Test))

	sess, err := orch.CreateSession(ctx, "ws-1", "/tmp/project", "api")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.NotEmpty(t, sess.RootEventID)

	require.NoError(t, orch.SendMessage(ctx, sess.ID, "hello", nil, "", ""))
	require.Equal(t, 1, runner.sentCount)
}

func TestSendMessageRejectsWhenBusy(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	runner := &fakeRunner{state: turn.StateStreaming}

	orch := orchestrator.New(store, func(sessionID string) orchestrator.RunnerHandle { return runner }, obslog.New(obslog.Test))
	sess, err := orch.CreateSession(ctx, "ws-1", "/tmp/project", "api")
	require.NoError(t, err)

	err = orch.SendMessage(ctx, sess.ID, "hello", nil, "", "")
	require.Error(t, err)
	ee, ok := engineerr.As(err)
	require.True(t, ok)
	require.Equal(t, -32003, ee.Code)
}

func TestBroadcastEventFiltersBySession(t *testing.T) {
	store := newStore(t)
	orch := orchestrator.New(store, func(sessionID string) orchestrator.RunnerHandle { return &fakeRunner{} }, obslog.New(obslog.Test))

	subA := &recordingSubscriber{}
	subAll := &recordingSubscriber{}
	orch.Subscribe(subA, orchestrator.Filter{SessionID: "session-a"})
	orch.Subscribe(subAll, orchestrator.Filter{})

	orch.BroadcastEvent(&model.Event{ID: "e1", SessionID: "session-a"})
	orch.BroadcastEvent(&model.Event{ID: "e2", SessionID: "session-b"})

	require.Len(t, subA.events, 1)
	require.Equal(t, "e1", subA.events[0].ID)
	require.Len(t, subAll.events, 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	store := newStore(t)
	orch := orchestrator.New(store, func(sessionID string) orchestrator.RunnerHandle { return &fakeRunner{} }, obslog.New(obslog.Test))

	sub := &recordingSubscriber{}
	id := orch.Subscribe(sub, orchestrator.Filter{})
	orch.Unsubscribe(id)

	orch.BroadcastEvent(&model.Event{ID: "e1", SessionID: "session-a"})
	require.Empty(t, sub.events)
}

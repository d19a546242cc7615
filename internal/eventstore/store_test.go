package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/blobstore"
	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/obslog"
)

func newTestStore(t *testing.T) *eventstore.Store {
	t.Helper()
	db, err := eventstore.OpenAndMigrate(t.TempDir()+"/test.db", obslog.New(obslog.Test))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	log := obslog.New(obslog.Test)
	return eventstore.New(db, blobstore.New(db, log), log)
}

func newTestSession(t *testing.T, s *eventstore.Store) *model.Session {
	t.Helper()
	ctx := context.Background()
	ws := "ws-1"
	_, err := s.CreateSession(ctx, eventstore.CreateSessionInput{
		WorkspaceID:      ws,
		WorkingDirectory: "/tmp/project",
		Origin:           "cli",
	})
	require.NoError(t, err)
	sessions, err := s.ListSessionsByWorkspace(ctx, ws)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	return sessions[0]
}

func TestAppendEventAssignsMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	root, err := s.AppendEvent(ctx, eventstore.AppendInput{
		SessionID:   sess.ID,
		Type:        model.EventSessionStart,
		WorkspaceID: sess.WorkspaceID,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, root.Sequence)
	require.Zero(t, root.Depth)

	msg, err := s.AppendEvent(ctx, eventstore.AppendInput{
		SessionID:   sess.ID,
		ParentID:    root.ID,
		Type:        model.EventMessageUser,
		WorkspaceID: sess.WorkspaceID,
		Payload:     model.UserMessagePayload{Content: "hello"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, msg.Sequence)
	require.EqualValues(t, 1, msg.Depth)

	updated, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, updated.HeadEventID)
	require.Equal(t, root.ID, updated.RootEventID)
	require.EqualValues(t, 2, updated.EventCount)
	require.EqualValues(t, 1, updated.MessageCount)
}

func TestAppendEventStaleParentConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	root, err := s.AppendEvent(ctx, eventstore.AppendInput{
		SessionID: sess.ID, Type: model.EventSessionStart, WorkspaceID: sess.WorkspaceID,
	})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, eventstore.AppendInput{
		SessionID: sess.ID, ParentID: root.ID, Type: model.EventMessageUser, WorkspaceID: sess.WorkspaceID,
		RequireHead: true, Payload: model.UserMessagePayload{Content: "a"},
	})
	require.NoError(t, err)

	_, err = s.AppendEvent(ctx, eventstore.AppendInput{
		SessionID: sess.ID, ParentID: root.ID, Type: model.EventMessageUser, WorkspaceID: sess.WorkspaceID,
		RequireHead: true, Payload: model.UserMessagePayload{Content: "b-stale"},
	})
	require.Error(t, err)
	ee, ok := engineerr.As(err)
	require.True(t, ok)
	require.Equal(t, engineerr.KindConflict, ee.Kind)
}

func TestAncestorsWalksToRoot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	root, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, Type: model.EventSessionStart, WorkspaceID: sess.WorkspaceID})
	require.NoError(t, err)
	m1, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, ParentID: root.ID, Type: model.EventMessageUser, WorkspaceID: sess.WorkspaceID, Payload: model.UserMessagePayload{Content: "1"}})
	require.NoError(t, err)
	m2, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, ParentID: m1.ID, Type: model.EventMessageAssistant, WorkspaceID: sess.WorkspaceID, Payload: model.AssistantMessagePayload{Content: []model.ContentBlock{{Type: model.BlockText, Text: "hi"}}}})
	require.NoError(t, err)

	chain, err := s.Ancestors(ctx, m2.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, root.ID, chain[0].ID)
	require.Equal(t, m1.ID, chain[1].ID)
	require.Equal(t, m2.ID, chain[2].ID)
}

func TestForkIsIndependentOfParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)
	root, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, Type: model.EventSessionStart, WorkspaceID: sess.WorkspaceID})
	require.NoError(t, err)
	m1, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, ParentID: root.ID, Type: model.EventMessageUser, WorkspaceID: sess.WorkspaceID, Payload: model.UserMessagePayload{Content: "1"}})
	require.NoError(t, err)

	child, err := s.Fork(ctx, eventstore.ForkInput{ParentSessionID: sess.ID, AtEventID: m1.ID})
	require.NoError(t, err)
	require.Equal(t, sess.ID, child.ParentSessionID)
	require.Equal(t, m1.ID, child.ForkFromEventID)

	childMsg, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: child.ID, ParentID: child.HeadEventID, Type: model.EventMessageUser, WorkspaceID: child.WorkspaceID, Payload: model.UserMessagePayload{Content: "branch-only"}})
	require.NoError(t, err)

	parentEvents, err := s.GetEventsBySession(ctx, sess.ID, eventstore.SessionBounds{})
	require.NoError(t, err)
	for _, e := range parentEvents {
		require.NotEqual(t, childMsg.ID, e.ID)
	}

	chain, err := s.Ancestors(ctx, childMsg.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, chain[0].ID)
}

func TestRewindRejectsCrossSessionTarget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sessA := newTestSession(t, s)
	rootA, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sessA.ID, Type: model.EventSessionStart, WorkspaceID: sessA.WorkspaceID})
	require.NoError(t, err)

	_, err = s.CreateSession(ctx, eventstore.CreateSessionInput{WorkspaceID: "ws-2", WorkingDirectory: "/tmp/other", Origin: "cli"})
	require.NoError(t, err)
	sessionsB, err := s.ListSessionsByWorkspace(ctx, "ws-2")
	require.NoError(t, err)
	sessB := sessionsB[0]
	_, err = s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sessB.ID, Type: model.EventSessionStart, WorkspaceID: sessB.WorkspaceID})
	require.NoError(t, err)

	_, err = s.Rewind(ctx, sessB.ID, rootA.ID)
	require.Error(t, err)
	ee, ok := engineerr.As(err)
	require.True(t, ok)
	require.Equal(t, "cross_session_rewind", ee.Data["reason"])
}

func TestRewindMovesHeadWithinSameSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)
	root, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, Type: model.EventSessionStart, WorkspaceID: sess.WorkspaceID})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, ParentID: root.ID, Type: model.EventMessageUser, WorkspaceID: sess.WorkspaceID, Payload: model.UserMessagePayload{Content: "a"}})
	require.NoError(t, err)

	updated, err := s.Rewind(ctx, sess.ID, root.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, updated.HeadEventID)

	events, err := s.GetEventsBySession(ctx, sess.ID, eventstore.SessionBounds{})
	require.NoError(t, err)
	require.Len(t, events, 2, "rewind moves the pointer but never deletes history")
}

func TestEventsSincePaginates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)
	root, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, Type: model.EventSessionStart, WorkspaceID: sess.WorkspaceID})
	require.NoError(t, err)
	prev := root
	for i := 0; i < 5; i++ {
		prev, err = s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, ParentID: prev.ID, Type: model.EventMessageUser, WorkspaceID: sess.WorkspaceID, Payload: model.UserMessagePayload{Content: "x"}})
		require.NoError(t, err)
	}

	page, err := s.EventsSince(ctx, sess.ID, nil, 3)
	require.NoError(t, err)
	require.Len(t, page.Events, 3)
	require.True(t, page.HasMore)

	cursor := &model.Cursor{EventID: page.Events[len(page.Events)-1].ID}
	page2, err := s.EventsSince(ctx, sess.ID, cursor, 3)
	require.NoError(t, err)
	require.Len(t, page2.Events, 3)
	require.False(t, page2.HasMore)
}

func TestBranchIsPureReservation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)
	root, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, Type: model.EventSessionStart, WorkspaceID: sess.WorkspaceID})
	require.NoError(t, err)

	b, err := s.CreateBranch(ctx, sess.ID, "main", root.ID, true)
	require.NoError(t, err)
	require.True(t, b.IsDefault)

	got, err := s.GetBranch(ctx, sess.ID, "main")
	require.NoError(t, err)
	require.Equal(t, root.ID, got.HeadEventID)

	m1, err := s.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, ParentID: root.ID, Type: model.EventMessageUser, WorkspaceID: sess.WorkspaceID, Payload: model.UserMessagePayload{Content: "a"}})
	require.NoError(t, err)
	require.NoError(t, s.MoveBranch(ctx, sess.ID, "main", m1.ID))

	head, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, m1.ID, head.HeadEventID, "moving a branch never touches the session head pointer")
}

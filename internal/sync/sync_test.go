package sync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/blobstore"
	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/obslog"
	"github.com/kilnlabs/sessiond/internal/sync"
)

func newStore(t *testing.T) *eventstore.Store {
	t.Helper()
	db, err := eventstore.OpenAndMigrate(t.TempDir()+"/test.db", obslog.New(obslog.Test))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	log := obslog.New(obslog.Test)
	return eventstore.New(db, blobstore.New(db, log), log)
}

func newSession(t *testing.T, s *eventstore.Store) *model.Session {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateSession(ctx, eventstore.CreateSessionInput{WorkspaceID: "ws", WorkingDirectory: "/tmp", Origin: "cli"})
	require.NoError(t, err)
	sessions, err := s.ListSessionsByWorkspace(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	return sessions[0]
}

func TestHistoryPagination(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	sess := newSession(t, store)

	var lastID string
	for i := 0; i < 5; i++ {
		evt, err := store.AppendEvent(ctx, eventstore.AppendInput{
			SessionID: sess.ID, ParentID: lastID, Type: model.EventMessageUser,
			Payload: model.UserMessagePayload{Content: "msg"}, RequireHead: i > 0,
		})
		require.NoError(t, err)
		lastID = evt.ID
	}

	svc := sync.New(store)
	page, err := svc.History(ctx, sess.ID, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.True(t, page.HasMore)

	full, err := svc.History(ctx, sess.ID, "", 100)
	require.NoError(t, err)
	require.Len(t, full.Events, 5)
	require.False(t, full.HasMore)
}

func TestSinceAndAncestors(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	sess := newSession(t, store)

	root, err := store.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, Type: model.EventSessionStart})
	require.NoError(t, err)
	child, err := store.AppendEvent(ctx, eventstore.AppendInput{
		SessionID: sess.ID, ParentID: root.ID, Type: model.EventMessageUser,
		Payload: model.UserMessagePayload{Content: "hi"}, RequireHead: true,
	})
	require.NoError(t, err)

	svc := sync.New(store)
	page, err := svc.Since(ctx, sess.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.False(t, page.HasMore)

	chain, err := svc.Ancestors(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, root.ID, chain[0].ID)
}

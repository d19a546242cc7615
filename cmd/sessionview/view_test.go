package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/blobstore"
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

func TestListSessionsEmpty(t *testing.T) {
	store := newTestStore(t)
	v := NewViewer(store, false)
	var buf bytes.Buffer
	require.NoError(t, v.ListSessions(context.Background(), &buf))
	require.Contains(t, buf.String(), "no sessions")
}

func TestListSessionsTable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateSession(ctx, eventstore.CreateSessionInput{WorkspaceID: "ws-1", WorkingDirectory: "/tmp", Origin: "cli"})
	require.NoError(t, err)

	v := NewViewer(store, false)
	var buf bytes.Buffer
	require.NoError(t, v.ListSessions(ctx, &buf))
	require.Contains(t, buf.String(), "ws-1")
}

func TestRenderSessionTimeline(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.CreateSession(ctx, eventstore.CreateSessionInput{WorkspaceID: "ws-1", WorkingDirectory: "/tmp", Origin: "cli"})
	require.NoError(t, err)
	sessions, err := store.ListSessionsByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	sess := sessions[0]

	root, err := store.AppendEvent(ctx, eventstore.AppendInput{SessionID: sess.ID, Type: model.EventSessionStart})
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, eventstore.AppendInput{
		SessionID: sess.ID, ParentID: root.ID, Type: model.EventMessageUser,
		Payload: model.UserMessagePayload{Content: "hello there"}, RequireHead: true,
	})
	require.NoError(t, err)

	v := NewViewer(store, false)
	out, err := v.Render(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, strings.Contains(out, "hello there"))
	require.True(t, strings.Contains(out, sess.ID))
}

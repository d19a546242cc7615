package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/eventstore"
)

func TestListAllSessionsSpansWorkspaces(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.CreateSession(ctx, eventstore.CreateSessionInput{WorkspaceID: "ws-a", WorkingDirectory: "/tmp/a", Origin: "cli"})
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, eventstore.CreateSessionInput{WorkspaceID: "ws-b", WorkingDirectory: "/tmp/b", Origin: "cli"})
	require.NoError(t, err)

	all, err := store.ListAllSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestEndSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.EndSession(context.Background(), "missing")
	require.Error(t, err)
}

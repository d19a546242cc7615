package blobstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kilnlabs/sessiond/internal/blobstore"
	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/obslog"
)

func newTestDB(t *testing.T) *blobstore.Store {
	t.Helper()
	db, err := eventstore.OpenAndMigrate(t.TempDir()+"/test.db", obslog.New(obslog.Test))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return blobstore.New(db, obslog.New(obslog.Test))
}

func TestPutDeduplicates(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	id1, err := store.Put(ctx, nil, []byte("hello world"), "text/plain")
	require.NoError(t, err)

	id2, err := store.Put(ctx, nil, []byte("hello world"), "text/plain")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	b, err := store.Get(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, int64(2), b.RefCount)
	require.Equal(t, "hello world", string(b.Content))
}

func TestGetNotFound(t *testing.T) {
	store := newTestDB(t)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestAcquireReleaseRefcount(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	id, err := store.Put(ctx, nil, []byte("x"), "text/plain")
	require.NoError(t, err)

	require.NoError(t, store.Acquire(ctx, nil, id))
	b, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(2), b.RefCount)

	require.NoError(t, store.Release(ctx, nil, id))
	b, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(1), b.RefCount)
}

func TestCompressesLargeContent(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'a'
	}
	id, err := store.Put(ctx, nil, big, "text/plain")
	require.NoError(t, err)

	b, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, big, b.Content)
	require.Equal(t, "gzip", b.Compression)
	require.Less(t, b.SizeCompressed, b.SizeOriginal)
}

func TestGCCandidatesAndReclaim(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	id, err := store.Put(ctx, nil, []byte("z"), "text/plain")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, nil, id))

	candidates, err := store.GCCandidates(ctx)
	require.NoError(t, err)
	require.Contains(t, candidates, id)

	removed, err := store.Reclaim(ctx, candidates)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = store.Get(ctx, id)
	require.Error(t, err)
}

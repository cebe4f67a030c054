package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadger(t *testing.T) *BadgerBackend {
	t.Helper()
	b, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBadgerBackend_CommitGet(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	_, err := b.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = b.Commit(ctx, []Write{
		{Key: "ordersStream", Value: []byte("2"), Create: true},
		{Key: "ordersStream1", Value: []byte(`{"id":"a"}`), Create: true},
		{Key: "ordersStream2", Value: []byte(`{"id":"b"}`), Create: true},
	})
	require.NoError(t, err)

	got, err := b.Get(ctx, "ordersStream")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	keys, err := b.Keys(ctx, "ordersStream")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestBadgerBackend_CreateConflictIsAtomic(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	require.NoError(t, b.Commit(ctx, []Write{{Key: "taken", Value: []byte("x")}}))

	err := b.Commit(ctx, []Write{
		{Key: "fresh", Value: []byte("1")},
		{Key: "taken", Value: []byte("2"), Create: true},
	})
	require.ErrorIs(t, err, ErrKeyExists)

	_, err = b.Get(ctx, "fresh")
	assert.ErrorIs(t, err, ErrNotFound, "transaction should roll back")
}

func TestBadgerBackend_Store(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()
	s := NewStore(b)

	require.NoError(t, s.AddState(ctx, "rec", record{Name: "x", Count: 3}))
	require.NoError(t, s.SaveChanges(ctx))

	got, err := Get[record](ctx, NewStore(b), "rec")
	require.NoError(t, err)
	assert.Equal(t, record{Name: "x", Count: 3}, got)
}

func TestBadgerBackend_Persistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	cfg := DefaultBadgerConfig(dir)
	cfg.SyncWrites = false
	cfg.GCInterval = 0
	b, err := OpenBadger(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Commit(ctx, []Write{{Key: "k", Value: []byte("v")}}))
	require.NoError(t, b.Close())

	b2, err := OpenBadger(cfg)
	require.NoError(t, err, "reopen")
	defer b2.Close()

	got, err := b2.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestOpenBadger_PathRequired(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerBackend_Closed(t *testing.T) {
	b, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	b.Close()

	_, err = b.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, b.Close(), "second Close should be a no-op")
}

package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStore_StagedUntilSaveChanges(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()
	ctx := context.Background()
	s := NewStore(backend)

	require.NoError(t, s.SetState(ctx, "rec", record{Name: "a", Count: 1}))

	_, err := backend.Get(ctx, "rec")
	require.ErrorIs(t, err, ErrNotFound, "write should stay staged")

	var got record
	found, err := s.TryGetState(ctx, "rec", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, got.Count, "expected staged value")

	require.NoError(t, s.SaveChanges(ctx))
	assert.Empty(t, s.Pending())
	_, err = backend.Get(ctx, "rec")
	assert.NoError(t, err)
}

func TestStore_AddState_Exists(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()
	ctx := context.Background()
	s := NewStore(backend)

	require.NoError(t, s.AddState(ctx, "k", 1))
	assert.ErrorIs(t, s.AddState(ctx, "k", 2), ErrKeyExists, "staged key")

	require.NoError(t, s.SaveChanges(ctx))

	s2 := NewStore(backend)
	assert.ErrorIs(t, s2.AddState(ctx, "k", 3), ErrKeyExists, "committed key")
}

func TestStore_SetAfterAddStaysCreate(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()
	ctx := context.Background()

	a := NewStore(backend)
	b := NewStore(backend)

	require.NoError(t, a.AddState(ctx, "header", int64(1)))
	a.SetState(ctx, "header", int64(2))

	require.NoError(t, b.AddState(ctx, "header", int64(5)))
	require.NoError(t, b.SaveChanges(ctx))

	require.ErrorIs(t, a.SaveChanges(ctx), ErrKeyExists, "losing create should fail")
	assert.Len(t, a.Pending(), 1, "staging kept after failed commit")
	a.Discard()
	assert.Empty(t, a.Pending())

	v, err := Get[int64](ctx, NewStore(backend), "header")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestStore_Unstage(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()
	ctx := context.Background()
	s := NewStore(backend)

	require.NoError(t, s.SetState(ctx, "a", 1))
	require.NoError(t, s.AddState(ctx, "b", 2))
	require.NoError(t, s.SetState(ctx, "c", 3))

	s.Unstage("b", "missing")
	assert.Equal(t, []string{"a", "c"}, s.Pending())

	var v int
	found, err := s.TryGetState(ctx, "b", &v)
	require.NoError(t, err)
	assert.False(t, found, "unstaged key should no longer be visible")

	require.NoError(t, s.SaveChanges(ctx))
	_, err = backend.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = backend.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestStore_GetState_NotFound(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()
	s := NewStore(backend)

	var r record
	assert.ErrorIs(t, s.GetState(context.Background(), "missing", &r), ErrNotFound)

	_, found, err := TryGet[record](context.Background(), s, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_PendingOrder(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()
	ctx := context.Background()
	s := NewStore(backend)

	s.SetState(ctx, "c", 1)
	s.SetState(ctx, "a", 1)
	s.SetState(ctx, "c", 2)

	assert.Equal(t, []string{"c", "a"}, s.Pending())
}

func TestStore_SaveChanges_Empty(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	assert.NoError(t, NewStore(backend).SaveChanges(context.Background()))
}

func TestStore_InvalidKey(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()
	s := NewStore(backend)

	assert.ErrorIs(t, s.SetState(context.Background(), "", 1), ErrInvalidKey)
}

func TestKeys_UnsupportedBackend(t *testing.T) {
	_, err := Keys(context.Background(), getOnlyBackend{}, "x")
	assert.Error(t, err, "backend without Scanner")
}

type getOnlyBackend struct{}

func (getOnlyBackend) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }
func (getOnlyBackend) Commit(context.Context, []Write) error       { return nil }
func (getOnlyBackend) Close() error                                { return nil }

//go:build integration

package state

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getNATSURL returns the NATS URL from environment or default.
func getNATSURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

// newTestNATSBackend creates a NATSBackend on a fresh bucket.
func newTestNATSBackend(t *testing.T, bucket string) *NATSBackend {
	conn, err := nats.Connect(getNATSURL())
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}

	b, err := NewNATSBackend(NATSBackendConfig{
		Conn:   conn,
		Bucket: fmt.Sprintf("%s-%d", bucket, time.Now().UnixNano()),
	})
	if err != nil {
		conn.Close()
	}
	require.NoError(t, err)

	t.Cleanup(func() {
		b.Close()
		conn.Close()
	})

	return b
}

func TestNATSBackend_Get_NotFound(t *testing.T) {
	b := newTestNATSBackend(t, "test-get-notfound")

	_, err := b.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNATSBackend_CommitGet(t *testing.T) {
	b := newTestNATSBackend(t, "test-commit")
	ctx := context.Background()

	err := b.Commit(ctx, []Write{
		{Key: "ordersStream", Value: []byte("1"), Create: true},
		{Key: "ordersStream1", Value: []byte(`{}`), Create: true},
	})
	require.NoError(t, err)

	got, err := b.Get(ctx, "ordersStream")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	keys, err := b.Keys(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestNATSBackend_CreateExisting(t *testing.T) {
	b := newTestNATSBackend(t, "test-create")
	ctx := context.Background()

	require.NoError(t, b.Commit(ctx, []Write{{Key: "taken", Value: []byte("x")}}))

	err := b.Commit(ctx, []Write{
		{Key: "fresh", Value: []byte("1")},
		{Key: "taken", Value: []byte("2"), Create: true},
	})
	require.ErrorIs(t, err, ErrKeyExists)

	_, err = b.Get(ctx, "fresh")
	assert.ErrorIs(t, err, ErrNotFound, "pre-check should stop the batch")
}

func TestNATSBackend_Lock(t *testing.T) {
	b := newTestNATSBackend(t, "test-lock")
	ctx := context.Background()

	lock, err := b.Lock(ctx, "orders42", time.Minute)
	require.NoError(t, err)
	_, err = b.Lock(ctx, "orders42", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.NoError(t, lock.Refresh())
	assert.NoError(t, lock.Unlock())

	lock2, err := b.Lock(ctx, "orders42", time.Minute)
	require.NoError(t, err, "Lock after unlock")
	lock2.Unlock()
}

func TestNATSBackend_LockExpiry(t *testing.T) {
	b := newTestNATSBackend(t, "test-lock-expiry")
	ctx := context.Background()

	_, err := b.Lock(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	lock, err := b.Lock(ctx, "k", time.Minute)
	require.NoError(t, err, "expired lock should be taken over")
	lock.Unlock()
}

func TestNATSBackend_Store(t *testing.T) {
	b := newTestNATSBackend(t, "test-store")
	ctx := context.Background()

	s := NewStore(b)
	require.NoError(t, s.AddState(ctx, "rec", record{Name: "n", Count: 7}))
	require.NoError(t, s.SaveChanges(ctx))

	got, err := Get[record](ctx, NewStore(b), "rec")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Count)
}

//go:build integration

package bus

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// natsURL returns the NATS URL for testing, or skips the test.
func natsURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	b, err := NewNATSBus(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	b.Close()
	return url
}

func newTestNATSBus(t *testing.T) *NATSBus {
	cfg := DefaultNATSConfig()
	cfg.URL = natsURL(t)
	b, err := NewNATSBus(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNATSBus_PubSub(t *testing.T) {
	b := newTestNATSBus(t)

	sub, err := b.Subscribe("events.*")
	require.NoError(t, err)
	defer sub.Unsubscribe()
	b.Flush()

	require.NoError(t, b.Publish("events.orders", []byte("hello nats")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "hello nats", string(msg.Data))
		assert.Equal(t, "events.orders", msg.Subject)
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestNATSBus_QueueSubscribe(t *testing.T) {
	b := newTestNATSBus(t)

	sub1, err := b.QueueSubscribe(RemindersSubject, "workers")
	require.NoError(t, err)
	sub2, err := b.QueueSubscribe(RemindersSubject, "workers")
	require.NoError(t, err)
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()
	b.Flush()

	b.Publish(RemindersSubject, []byte("queued"))

	received := 0
	timeout := time.After(time.Second)
loop:
	for {
		select {
		case <-sub1.Messages():
			received++
		case <-sub2.Messages():
			received++
		case <-timeout:
			break loop
		}
	}

	assert.Equal(t, 1, received, "queue group should load balance")
}

func TestNATSBus_BorrowedConnectionSurvivesClose(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = natsURL(t)
	conn, err := Connect(cfg)
	require.NoError(t, err)
	defer conn.Close()

	b := NewNATSBusFromConn(conn, cfg)
	b.Close()

	assert.False(t, conn.IsClosed(), "borrowed connection was closed")
}

func TestNATSBus_InvalidURL(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://invalid-host-that-does-not-exist:4222"
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.MaxReconnects = 0

	_, err := NewNATSBus(cfg)
	assert.Error(t, err)
}

func TestNATSBus_PublishAfterClose(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = natsURL(t)
	b, err := NewNATSBus(cfg)
	require.NoError(t, err)
	b.Close()

	assert.ErrorIs(t, b.Publish("events.orders", []byte("hello")), ErrClosed)
}

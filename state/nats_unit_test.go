package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNATSBackendConfig(t *testing.T) {
	cfg := DefaultNATSBackendConfig()

	assert.Equal(t, "eventkit-state", cfg.Bucket)
	assert.Equal(t, 1, cfg.History)
	assert.EqualValues(t, 1024*1024, cfg.MaxValueSize)
}

func TestNewNATSBackend_NilConn(t *testing.T) {
	_, err := NewNATSBackend(NATSBackendConfig{Bucket: "test"})
	require.Error(t, err)
}

func TestNATSLock_Unlock_AlreadyReleased(t *testing.T) {
	l := &natsLock{key: "_lock.k"}
	l.released.Store(true)

	assert.ErrorIs(t, l.Unlock(), ErrLockNotHeld)
	assert.ErrorIs(t, l.Refresh(), ErrLockNotHeld)
	assert.Equal(t, "_lock.k", l.Key())
}

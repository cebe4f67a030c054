package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"simple", "ordersStream", false},
		{"dotted", "TaskProcessororders42.c1", false},
		{"idempotency index", "ordersStreamId-9b2e", false},
		{"empty", "", true},
		{"spaces", "orders stream", true},
		{"leading dot", ".orders", true},
		{"trailing dot", "orders.", true},
		{"too long", string(make([]byte, 1025)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err, "ValidateKey(%q)", tt.key)
			} else {
				assert.NoError(t, err, "ValidateKey(%q)", tt.key)
			}
		})
	}
}

func TestValidateTTL(t *testing.T) {
	assert.NoError(t, ValidateTTL(time.Second))
	assert.ErrorIs(t, ValidateTTL(0), ErrInvalidTTL)
	assert.ErrorIs(t, ValidateTTL(-time.Second), ErrInvalidTTL)
}

func TestErrorStrings(t *testing.T) {
	errs := map[error]string{
		ErrNotFound:    "key not found",
		ErrKeyExists:   "key already exists",
		ErrClosed:      "store closed",
		ErrLockHeld:    "lock already held",
		ErrLockNotHeld: "lock not held",
	}
	for err, want := range errs {
		assert.EqualError(t, err, want)
	}
}

package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NewNotFoundError("instance", "i-1"), IsNotFound},
		{"conflict", NewConflictError("composition", "c-1", "prime in flight"), IsConflict},
		{"precondition", NewPreconditionFailedError("composition", "c-1", "instances exist"), IsPreconditionFailed},
		{"invalid state", NewInvalidStateError("instance", "i-1", "lock", "UNDEPLOYED"), IsInvalidState},
		{"transport", NewTransportFailure("op-1", errors.New("broker down")), IsTransportFailure},
		{"decode", NewDecodeError("missing discriminator", nil), IsDecodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)), "helper must see through wrapping")
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "instance i-1 not found", NewNotFoundError("instance", "i-1").Error())
	assert.Equal(t, "cannot lock instance i-1 in state UNDEPLOYED",
		NewInvalidStateError("instance", "i-1", "lock", "UNDEPLOYED").Error())
	assert.Equal(t, "decode message: bad json: boom", NewDecodeError("bad json", errors.New("boom")).Error())
}

func TestTransportFailureUnwraps(t *testing.T) {
	cause := errors.New("broker down")
	err := NewTransportFailure("op-1", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Retryable())
}

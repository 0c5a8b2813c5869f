package relayerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Network("nonce_read_failed", "could not read sponsor nonce", cause)

	assert.Equal(t, "could not read sponsor nonce: dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Retryable())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		category Category
		want     bool
	}{
		{CategoryValidation, false},
		{CategoryAuthorization, false},
		{CategoryNetwork, true},
		{CategorySigning, false},
		{CategoryBroadcastTransient, true},
		{CategoryBroadcastRejected, false},
		{CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.category, "x", "x").Retryable())
		})
	}
}

func TestFrom(t *testing.T) {
	expired := Authorization("expired", "authorization expired")
	wrapped := fmt.Errorf("execution 2: %w", expired)

	assert.Same(t, expired, From(wrapped))
	assert.True(t, Is(wrapped, CategoryAuthorization))
	assert.Nil(t, From(nil))

	plain := From(errors.New("boom"))
	assert.Equal(t, CategoryInternal, plain.Category)
	assert.Equal(t, "internal relay error", plain.Message)
	assert.Equal(t, CategoryInternal, CategoryOf(errors.New("boom")))
}

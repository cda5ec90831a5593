package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrchestrationErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("dial tcp: %w", ErrConnectionFailed)
	err := &OrchestrationError{Op: "client.Call", Kind: "transport", Service: "memory", Err: inner}

	assert.True(t, errors.Is(err, ErrConnectionFailed), "errors.Is should see through OrchestrationError")
	assert.Contains(t, err.Error(), "client.Call")
	assert.Contains(t, err.Error(), "memory")
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrTransportFailed, true},
		{ErrTimeout, true},
		{ErrConnectionFailed, true},
		{ErrRequestFailed, true},
		{ErrActionNotAllowed, false},
		{ErrInvalidPayload, false},
		{ErrServiceNotFound, false},
		{fmt.Errorf("wrapped: %w", ErrTimeout), true},
		// a trust rejection stays non-retryable even wrapped in a transport error
		{fmt.Errorf("%w: %w", ErrRequestFailed, ErrActionNotAllowed), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRetryable(tc.err), "IsRetryable(%v)", tc.err)
	}
}

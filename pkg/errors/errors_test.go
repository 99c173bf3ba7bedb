package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := Unavailable("alice", 401, "not authorized")
	assert.Equal(t, "unavailable error (code 401): not authorized [account alice]", err.Error())

	cause := fmt.Errorf("boom")
	wrapped := Wrap(ErrorTypeSerialization, cause, "decode checkpoint")
	assert.Contains(t, wrapped.Error(), "boom")
	assert.True(t, errors.Is(wrapped, cause))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeOK},
		{"rate limited", RateLimited("bob", time.Now()), OutcomeRateLimited},
		{"wrapped rate limited", fmt.Errorf("list friends: %w", RateLimited("bob", time.Time{})), OutcomeRateLimited},
		{"unavailable", Unavailable("carol", 404, "not found"), OutcomeUnavailable},
		{"server", &Error{Type: ErrorTypeServerError, Code: 503}, OutcomeFatal},
		{"plain", context.Canceled, OutcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestTypeHelpers(t *testing.T) {
	assert.True(t, IsInvalidConfiguration(InvalidConfiguration("rate must be positive, got %v", 0)))
	assert.True(t, IsSerialization(Serialization(errors.New("eof"), "bad data")))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("x")))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(RateLimited("", time.Time{})))
	assert.False(t, IsRateLimited(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrorTypeNetwork))
	assert.True(t, IsRetryable(ErrorTypeRateLimit))
	assert.True(t, IsRetryable(ErrorTypeServerError))
	assert.False(t, IsRetryable(ErrorTypeUnavailable))
	assert.False(t, IsRetryable(ErrorTypeSerialization))

	assert.True(t, IsRetryableStatusCode(429))
	assert.True(t, IsRetryableStatusCode(502))
	assert.False(t, IsRetryableStatusCode(404))
	assert.False(t, IsRetryableStatusCode(400))
}

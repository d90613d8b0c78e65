package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodeNotFound, "campaign not found")
	assert.Equal(t, "NOT_FOUND: campaign not found", err.Error())

	cause := fmt.Errorf("sql: no rows")
	wrapped := Wrap(cause, ErrCodeDatabaseQuery, "lookup failed")
	assert.Equal(t, "DATABASE_QUERY: lookup failed: sql: no rows", wrapped.Error())
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeStateConflict, "bad transition").
		WithContext("campaign_id", "c-1").
		WithContext("status", "sent")

	assert.Equal(t, "c-1", err.Context["campaign_id"])
	assert.Equal(t, "sent", err.Context["status"])
}

func TestStateConflict(t *testing.T) {
	err := StateConflict("campaign", "c-1", "sent", "cancel")

	assert.Equal(t, ErrCodeStateConflict, err.Code)
	assert.Contains(t, err.Message, "campaign c-1 is sent")
	assert.Contains(t, err.Message, "cannot transition to cancel")
	assert.Equal(t, "sent", err.Context["current_state"])
}

func TestIsRetryable(t *testing.T) {
	retryable := WrapRetryable(fmt.Errorf("timeout"), ErrCodeTransport, "send failed")
	assert.True(t, IsRetryable(retryable))

	assert.False(t, IsRetryable(New(ErrCodeValidationFailed, "bad input")))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestGetCodeAndHasCode(t *testing.T) {
	err := New(ErrCodeRateLimit, "slow down")
	assert.Equal(t, ErrCodeRateLimit, GetCode(err))
	assert.True(t, HasCode(err, ErrCodeRateLimit))
	assert.False(t, HasCode(err, ErrCodeNotFound))

	// wrapped AppError is still found through the chain
	outer := fmt.Errorf("request failed: %w", err)
	assert.Equal(t, ErrCodeRateLimit, GetCode(outer))

	assert.Equal(t, ErrCodeInternalError, GetCode(fmt.Errorf("plain")))
}

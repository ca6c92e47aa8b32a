package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func(ctx context.Context) error {
		calls++
		return NewPermanentError(errors.New("bad request"), "")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesTransientUpToMaxAttempts(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0}
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return NewTransientError(errors.New("timeout"), "")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial + 2 retries
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0}
	result, err := RetryWithResult(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("timeout"), "")
		}
		return "ok", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
}

func TestIsTransientClassifiesNetworkErrors(t *testing.T) {
	assert.True(t, IsTransient(errors.New("connection refused by remote host")))
	assert.True(t, IsTransient(errors.New("request timeout after 30s")))
	assert.False(t, IsTransient(errors.New("resource not found")))
}

func TestIsPermanentClassifiesValidationErrors(t *testing.T) {
	assert.True(t, IsPermanent(errors.New("invalid payload: missing url")))
	assert.True(t, IsPermanent(errors.New("unauthorized")))
}

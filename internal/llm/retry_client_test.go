package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkmerrors "pkm-assistant/internal/errors"
)

func TestRetryingClientReturnsUnderlyingCompletion(t *testing.T) {
	mock := NewMockClient("test-model").QueueCompletion("hello")
	rc := NewRetryingClient(mock, pkmerrors.DefaultRetryConfig(), pkmerrors.NewCircuitBreaker("t", pkmerrors.DefaultCircuitBreakerConfig(), nil), nil)

	resp, err := rc.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
}

func TestRetryingClientRetriesTransientError(t *testing.T) {
	mock := NewMockClient("test-model").
		QueueCompletionError(errors.New("503 service unavailable")).
		QueueCompletion("recovered")

	cfg := pkmerrors.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, JitterFactor: 0}
	rc := NewRetryingClient(mock, cfg, pkmerrors.NewCircuitBreaker("t2", pkmerrors.DefaultCircuitBreakerConfig(), nil), nil)

	resp, err := rc.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
}

func TestRetryingClientStopsOnPermanentError(t *testing.T) {
	mock := NewMockClient("test-model").QueueCompletionError(errors.New("401 unauthorized"))
	rc := NewRetryingClient(mock, pkmerrors.DefaultRetryConfig(), pkmerrors.NewCircuitBreaker("t3", pkmerrors.DefaultCircuitBreakerConfig(), nil), nil)

	_, err := rc.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, len(mock.Requests))
}

package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 3, ResetAfter: time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}

	assert.Equal(t, CircuitOpen, cb.State())
	assert.Error(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, ResetAfter: time.Millisecond})

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	// First request after the reset window probes.
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Concurrent requests are rejected while the probe is in flight.
	assert.Error(t, cb.Allow())

	// Probe success closes the circuit.
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestBreakerClient_FailsFastWhenOpen(t *testing.T) {
	mock := NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New("connection refused")
	}

	client := NewBreakerClient(mock, NewCircuitBreaker(CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Minute}))

	_, err := client.Complete(context.Background(), &Request{Prompt: "q"})
	require.Error(t, err)
	_, err = client.Complete(context.Background(), &Request{Prompt: "q"})
	require.Error(t, err)

	// Circuit is now open; the provider is no longer called.
	_, err = client.Complete(context.Background(), &Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, 2, mock.CompleteCalls)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{name: "timeout", err: errors.New("context deadline exceeded"), wantType: ErrorTypeTimeout, retryable: true},
		{name: "deadline sentinel", err: context.DeadlineExceeded, wantType: ErrorTypeTimeout, retryable: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), wantType: ErrorTypeConnection, retryable: true},
		{name: "auth", err: errors.New("status 401 unauthorized"), wantType: ErrorTypeAuth, retryable: false},
		{name: "model missing", err: errors.New("model gpt-9 does not exist"), wantType: ErrorTypeModel, retryable: false},
		{name: "rate limit", err: errors.New("429 rate limit exceeded"), wantType: ErrorTypeRateLimit, retryable: true},
		{name: "unknown", err: errors.New("weird"), wantType: ErrorTypeUnknown, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
}

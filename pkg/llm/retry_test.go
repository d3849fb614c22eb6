package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func TestNewRetryHandlerDefaults(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{})
	require.Equal(t, defaultInitialBackoff, handler.cfg.InitialBackoff)
	require.Equal(t, defaultMaxBackoff, handler.cfg.MaxBackoff)
	require.Equal(t, defaultBackoffFactor, handler.cfg.Multiplier)
	require.Equal(t, 0, handler.cfg.MaxRetries)
}

func TestRetryHandlerSuccessOnRetry(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond})

	calls := 0
	err := handler.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &apiError{StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryHandlerNonRetryable(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond})

	calls := 0
	err := handler.Do(context.Background(), func() error {
		calls++
		return &apiError{StatusCode: http.StatusBadRequest, Message: "bad request"}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls, "4xx errors other than 408/429 must not retry")
}

func TestRetryHandlerExhaustsAttempts(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond})

	calls := 0
	err := handler.Do(context.Background(), func() error {
		calls++
		return &apiError{StatusCode: http.StatusTooManyRequests, Message: "rate limited"}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryHandlerOpenAIErrors(t *testing.T) {
	require.True(t, shouldRetry(&openai.APIError{HTTPStatusCode: http.StatusInternalServerError}))
	require.False(t, shouldRetry(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}))
}

func TestRetryHandlerContextCancellation(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxRetries: 5, InitialBackoff: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := handler.Do(ctx, func() error {
		calls++
		return &apiError{StatusCode: http.StatusBadGateway, Message: "bad gateway"}
	})
	require.True(t, errors.Is(err, context.Canceled))
}

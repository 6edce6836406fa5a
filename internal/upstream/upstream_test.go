package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	apperrors "github.com/Brownie44l1/food-ai-api/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(policy Policy) Options {
	return Options{
		Name:      "test",
		Policy:    policy,
		Timeout:   time.Second,
		Retries:   1,
		RetryWait: time.Millisecond,
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("fail-fast")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	p, err = ParsePolicy(" Degrade ")
	require.NoError(t, err)
	assert.Equal(t, Degrade, p)

	_, err = ParsePolicy("ignore")
	assert.Error(t, err)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &StatusError{Service: "x", StatusCode: http.StatusBadGateway}, true},
		{"throttled", &StatusError{Service: "x", StatusCode: http.StatusTooManyRequests}, true},
		{"client error", &StatusError{Service: "x", StatusCode: http.StatusUnauthorized}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"transport", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestCall_Success(t *testing.T) {
	calls := 0
	got, err := Call(context.Background(), testOptions(FailFast), "fallback",
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestCall_RetriesOnceOnServerError(t *testing.T) {
	calls := 0
	got, err := Call(context.Background(), testOptions(FailFast), "",
		func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", &StatusError{Service: "test", StatusCode: http.StatusServiceUnavailable}
			}
			return "second", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "second", got)
	assert.Equal(t, 2, calls)
}

func TestCall_RetryCapped(t *testing.T) {
	calls := 0
	_, err := Call(context.Background(), testOptions(FailFast), "",
		func(ctx context.Context) (string, error) {
			calls++
			return "", errors.New("network down")
		})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, apperrors.ErrCodeUpstream, apperrors.Code(err))
}

func TestCall_NoRetryOnClientError(t *testing.T) {
	calls := 0
	_, err := Call(context.Background(), testOptions(FailFast), "",
		func(ctx context.Context) (string, error) {
			calls++
			return "", &StatusError{Service: "test", StatusCode: http.StatusUnauthorized}
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var se *StatusError
	assert.True(t, errors.As(err, &se))
}

func TestCall_DegradeReturnsFallback(t *testing.T) {
	got, err := Call(context.Background(), testOptions(Degrade), "No recipe available.",
		func(ctx context.Context) (string, error) {
			return "", &StatusError{Service: "test", StatusCode: http.StatusInternalServerError}
		})

	require.NoError(t, err)
	assert.Equal(t, "No recipe available.", got)
}

func TestCall_AttemptTimeout(t *testing.T) {
	opts := testOptions(FailFast)
	opts.Timeout = 10 * time.Millisecond
	opts.Retries = 0

	_, err := Call(context.Background(), opts, 0,
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCall_CanceledParentStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := testOptions(FailFast)
	opts.Retries = 5

	calls := 0
	_, err := Call(ctx, opts, "",
		func(ctx context.Context) (string, error) {
			calls++
			cancel()
			return "", errors.New("network down")
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

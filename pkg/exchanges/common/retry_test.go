package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = RetryPolicy{Attempts: 3, Timeout: time.Second, Backoff: time.Millisecond}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy, "price", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy, "balance", func(ctx context.Context) (int, error) {
		calls++
		return 0, &APIError{StatusCode: http.StatusBadGateway, Message: "upstream"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy, "balance", func(ctx context.Context) (int, error) {
		calls++
		return 0, &APIError{StatusCode: http.StatusBadRequest, Code: -1121, Message: "Invalid symbol."}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, RetryPolicy{Attempts: 5, Timeout: time.Second, Backoff: time.Hour}, "price",
		func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("timeout")
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoAppliesPerAttemptTimeout(t *testing.T) {
	_, err := Do(context.Background(), RetryPolicy{Attempts: 1, Timeout: 10 * time.Millisecond}, "slow",
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOnceNeverRepeats(t *testing.T) {
	calls := 0
	_, err := Once(context.Background(), fastPolicy, "order", func(ctx context.Context) (Fill, error) {
		calls++
		return Fill{}, errors.New("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("dial tcp: i/o timeout"), true},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 503}, true},
		{&APIError{StatusCode: 400}, false},
		{fmt.Errorf("%w: bad json", ErrDecode), false},
		{ErrCredentialsRequired, false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Retryable(tt.err), "%v", tt.err)
	}
}

func TestRateLimiterUsage(t *testing.T) {
	rl := NewRateLimiter(100, 1200, time.Minute)
	rl.UpdateFromHeader("600")
	used, limit, pct := rl.Usage()
	assert.Equal(t, 600, used)
	assert.Equal(t, 1200, limit)
	assert.InDelta(t, 50.0, pct, 0.001)
	assert.False(t, rl.ShouldDelay())

	rl.UpdateFromHeader("1100")
	assert.True(t, rl.ShouldDelay())

	rl.UpdateFromHeader("garbage")
	used, _, _ = rl.Usage()
	assert.Equal(t, 1100, used)
}

func TestTimeSyncOffset(t *testing.T) {
	ts := NewTimeSync(func(ctx context.Context) (int64, error) {
		return time.Now().Add(5 * time.Second).UnixMilli(), nil
	})
	assert.True(t, ts.Stale())
	require.NoError(t, ts.Sync(context.Background()))
	assert.False(t, ts.Stale())
	drift := ts.Now() - time.Now().UnixMilli()
	assert.InDelta(t, 5000, drift, 200)
}

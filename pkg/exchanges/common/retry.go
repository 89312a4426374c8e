package common

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ErrDecode marks a response the client could not parse. It is never retried.
var ErrDecode = errors.New("exchange: decode response")

// APIError is a non-2xx answer from the venue.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange status %d code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether repeating the call may succeed: transport
// failures, per-attempt timeouts, throttling and server errors.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrCredentialsRequired) || errors.Is(err, ErrUnknownSymbol) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

// RetryPolicy bounds a read call: each attempt gets Timeout, and at most
// Attempts are made with the delay doubling from Backoff.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Timeout: 10 * time.Second, Backoff: 500 * time.Millisecond}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultRetryPolicy.Timeout
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx ends. The last error is returned.
func Do[T any](ctx context.Context, p RetryPolicy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	var (
		zero    T
		lastErr error
	)
	delay := p.Backoff
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		v, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		if !Retryable(err) || attempt == p.Attempts {
			break
		}
		log.Printf("[GATEWAY] %s attempt %d/%d failed: %v (retry in %s)", name, attempt, p.Attempts, err, delay)
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%s: %w", name, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return zero, fmt.Errorf("%s: %w", name, lastErr)
}

// Once runs fn a single time under the policy timeout. Used for order
// placement, which must never be repeated blindly.
func Once[T any](ctx context.Context, p RetryPolicy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	v, err := fn(attemptCtx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

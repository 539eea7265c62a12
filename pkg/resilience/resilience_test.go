// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/jarvis/pkg/core"
	jerrors "github.com/jllopis/jarvis/pkg/errors"
)

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithMaxAttempts(3).WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithMaxAttempts(2).WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("always fails")
	})

	assert.EqualError(t, err, "always fails")
	assert.Equal(t, 2, attempts)
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithMaxAttempts(5)
	err := config.Do(context.Background(), func(context.Context) error {
		attempts++
		return jerrors.New(jerrors.CodeInvalidInput, "bad city", nil).WithRecoverable(false)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithMaxAttempts(5).WithInitialDelay(time.Second)

	attempts := 0
	err := config.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("transient error")
	})

	assert.True(t, IsTimeout(err))
	assert.Equal(t, 1, attempts)
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), DefaultRetryConfig().WithInitialDelay(time.Millisecond), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "sunny", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "sunny", v)
}

func TestRetryHonoursRetryAfter(t *testing.T) {
	var waits []time.Duration
	config := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}.
		WithOnRetry(func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) })

	attempts := 0
	err := config.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 1 {
			return jerrors.New(jerrors.CodeToolFailure, "busy", nil).
				WithRecoverable(true).
				WithContext(ContextRetryAfter, time.Hour)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, waits)
}

func TestStatusError(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"2"}}}
	err := StatusError("tavily", resp, []byte(" slow down \n"))
	assert.Equal(t, jerrors.CodeToolFailure, err.Code)
	assert.True(t, err.Recoverable)
	assert.Contains(t, err.Error(), "tavily returned status 429: slow down")
	wait, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	err = StatusError("openweather", &http.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}, nil)
	assert.False(t, err.Recoverable)
	_, ok = RetryAfter(err)
	assert.False(t, ok)

	_, ok = RetryAfter(errors.New("plain"))
	assert.False(t, ok)
}

func TestWithTimeoutReturnsValue(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestWithTimeoutExpires(t *testing.T) {
	start := time.Now()
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		select {
		case <-time.After(2 * time.Second):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})

	assert.True(t, IsTimeout(err))
	assert.True(t, Expired(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeoutPassesThroughTimeoutFromFn(t *testing.T) {
	_, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		return 0, jerrors.New(jerrors.CodeTimeout, "upstream read deadline", nil)
	})
	assert.True(t, IsTimeout(err))
	assert.False(t, Expired(err))
	assert.False(t, Expired(nil))
}

func TestWithTimeoutDoesNotWaitForStubbornFn(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeoutRecoversPanic(t *testing.T) {
	_, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, jerrors.HasCode(err, jerrors.CodeAgentPanic))
	assert.Contains(t, err.Error(), "panic: boom")

	_, err = WithTimeout(context.Background(), 0, func(context.Context) (int, error) {
		panic("unbounded")
	})
	assert.True(t, jerrors.HasCode(err, jerrors.CodeAgentPanic))
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
}

func newTestBreaker(threshold int) (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "tavily", FailureThreshold: threshold, SuccessThreshold: 1, Timeout: time.Minute})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(2)
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }

	assert.ErrorIs(t, cb.Call(context.Background(), fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(context.Background(), fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(context.Background(), func(context.Context) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, jerrors.HasCode(err, jerrors.CodeToolFailure))
	assert.False(t, jerrors.As(err).Recoverable)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker(1)
	require.Error(t, cb.Call(context.Background(), func(context.Context) error { return errors.New("down") }))
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(3)
	for range 3 {
		_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("down") })
	}
	*now = now.Add(2 * time.Minute)
	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb, _ := newTestBreaker(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = cb.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerCheck(t *testing.T) {
	cb, _ := newTestBreaker(1)
	assert.Equal(t, core.HealthHealthy, cb.Check(context.Background()).Status)
	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("down") })
	res := cb.Check(context.Background())
	assert.Equal(t, core.HealthDegraded, res.Status)
	assert.Equal(t, "tavily", res.Component)
	assert.Equal(t, "circuit open", res.Message)
}

func TestCallValueAndNilBreaker(t *testing.T) {
	var cb *CircuitBreaker
	v, err := CallValue(context.Background(), cb, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCircuitBreakerIgnoresPermanentErrors(t *testing.T) {
	cb, _ := newTestBreaker(1)
	notFound := jerrors.New(jerrors.CodeToolFailure, "openweather returned status 404", nil)
	assert.Error(t, cb.Call(context.Background(), func(context.Context) error { return notFound }))
	assert.Equal(t, StateClosed, cb.State())
}

// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jllopis/jarvis/pkg/errors"
)

// ContextRetryAfter is the error context key holding the wait a server asked
// for before the next attempt.
const ContextRetryAfter = "retry_after"

// RetryConfig controls how tool clients retry a failed call. Agent runs are
// never retried by the registry.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, at least 1.
	MaxAttempts int

	InitialDelay time.Duration

	// MaxDelay caps every wait, including a server's Retry-After.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts. Default 2.
	Multiplier float64

	// IsRecoverable decides whether err is retried. Defaults to retrying all
	// errors except non-recoverable *errors.Error values.
	IsRecoverable func(error) bool

	// Jitter spreads each delay; 0.1 means ±10%.
	Jitter float64

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryConfig returns the configuration used by the tool clients: one
// retry after about 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a copy with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a copy with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithIsRecoverable returns a copy with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithOnRetry returns a copy with OnRetry set.
func (rc RetryConfig) WithOnRetry(fn func(attempt int, err error, wait time.Duration)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Do runs fn until it succeeds, fails with a non-recoverable error or runs
// out of attempts. The wait before a retry is the server's retry_after hint
// when the error carries one, else exponential backoff. A done ctx ends the
// wait with a timeout error.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= rc.MaxAttempts || !rc.IsRecoverable(err) {
			return lastErr
		}

		wait := rc.backoff(attempt)
		if hint, ok := RetryAfter(err); ok {
			wait = hint
			if rc.MaxDelay > 0 && wait > rc.MaxDelay {
				wait = rc.MaxDelay
			}
		}
		if rc.OnRetry != nil {
			rc.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.New(errors.CodeTimeout, "context done during retry", ctx.Err()).
				WithContext("attempt", attempt).
				WithContext("last_error", lastErr.Error())
		case <-timer.C:
		}
	}
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := rc.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// backoff returns the wait after the given failed attempt (1-based).
func (rc RetryConfig) backoff(attempt int) time.Duration {
	mult := rc.Multiplier
	if mult == 0 {
		mult = 2.0
	}
	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	if rc.Jitter > 0 {
		spread := float64(delay) * rc.Jitter
		delay = max(time.Duration(float64(delay)+2*spread*(rand.Float64()-0.5)), 0)
	}
	return delay
}

// RetryAfter returns the retry_after hint carried by err.
func RetryAfter(err error) (time.Duration, bool) {
	var je *errors.Error
	if !asError(err, &je) {
		return 0, false
	}
	d, ok := je.Context[ContextRetryAfter].(time.Duration)
	return d, ok && d > 0
}

// StatusError builds the tool_failure error for a non-200 response from
// service. 429 and 5xx are recoverable, and a Retry-After header in seconds
// becomes the retry_after hint.
func StatusError(service string, resp *http.Response, body []byte) *errors.Error {
	err := errors.New(errors.CodeToolFailure,
		fmt.Sprintf("%s returned status %d: %s", service, resp.StatusCode, strings.TrimSpace(string(body))), nil).
		WithContext("status", resp.StatusCode).
		WithRecoverable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	if secs, perr := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); perr == nil && secs > 0 {
		err.WithContext(ContextRetryAfter, time.Duration(secs)*time.Second)
	}
	return err
}

func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	var je *errors.Error
	if asError(err, &je) {
		return je.Recoverable
	}
	return true
}

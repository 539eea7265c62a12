// SPDX-License-Identifier: Apache-2.0
// Package resilience provides deadline execution, retry and circuit breaking
// for calls to agents and external services.
package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jllopis/jarvis/pkg/errors"
)

// WithTimeout executes fn under a deadline of d measured from the call.
//
// Expiry returns an errors.CodeTimeout error without waiting for fn; fn's
// context is cancelled and its late result is discarded. A panic inside fn is
// recovered and returned as an errors.CodeAgentPanic error. A non-positive d
// runs fn without a deadline.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return callSafely(ctx, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := callSafely(ctx, fn)
		done <- outcome{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, errors.New(errors.CodeTimeout, "operation exceeded timeout", &expiredError{ctx.Err()}).
				WithContext("timeout", d.String()).
				WithRecoverable(true)
		}
		return zero, errors.New(errors.CodeInternal, "operation cancelled", ctx.Err())
	case res := <-done:
		return res.value, res.err
	}
}

// IsTimeout reports whether err carries errors.CodeTimeout anywhere in its
// chain, whoever produced it.
func IsTimeout(err error) bool {
	return errors.HasCode(err, errors.CodeTimeout)
}

// Expired reports whether err is the deadline expiry of a WithTimeout call
// itself, not a timeout reported by fn.
func Expired(err error) bool {
	je, ok := err.(*errors.Error)
	if !ok || je.Code != errors.CodeTimeout {
		return false
	}
	_, ok = je.Err.(*expiredError)
	return ok
}

type expiredError struct{ cause error }

func (e *expiredError) Error() string { return e.cause.Error() }
func (e *expiredError) Unwrap() error { return e.cause }

func callSafely[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeAgentPanic, fmt.Sprintf("panic: %v", r), nil).
				WithContext("stack", string(debug.Stack()))
		}
	}()
	return fn(ctx)
}

func asError(err error, target **errors.Error) bool {
	return stderrors.As(err, target)
}

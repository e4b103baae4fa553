// Package retry executes operations under a retry policy. A policy is a plain
// value: the number of attempts, a backoff schedule, and a predicate deciding
// which errors are worth another attempt.
package retry

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"hostbench/internal/fault"
)

// BackoffFunc returns the wait before the given retry. attempt starts at 1
// for the wait that follows the first failure.
type BackoffFunc func(attempt int) time.Duration

// Policy controls how many times an operation is attempted and which errors
// are retried.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Retryable   func(error) bool
}

// Default is the policy applied when a component declares none.
var Default = Policy{
	MaxAttempts: 3,
	Backoff:     Jitter(Exponential(time.Second, 30*time.Second), 0.2),
	Retryable:   IsTransient,
}

// None attempts an operation exactly once.
var None = Policy{MaxAttempts: 1}

// Constant waits d between every attempt.
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// Exponential doubles the wait on every attempt starting from base, capped at limit.
func Exponential(base, limit time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= limit {
				return limit
			}
		}
		if d > limit {
			return limit
		}
		return d
	}
}

// Jitter adds up to fraction*wait of random extra wait to b.
func Jitter(b BackoffFunc, fraction float64) BackoffFunc {
	return func(attempt int) time.Duration {
		d := b(attempt)
		if d <= 0 || fraction <= 0 {
			return d
		}
		return d + time.Duration(rand.Float64()*fraction*float64(d))
	}
}

// AttemptFunc is invoked before every retry with the attempt that failed and
// its error. It is used for logging and metrics.
type AttemptFunc func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, the policy is exhausted, the error is not
// retryable, or ctx is done. The last error is returned. Context cancellation
// between attempts returns ctx.Err().
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, onRetry AttemptFunc) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt == attempts || p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if onRetry != nil {
			onRetry(attempt, err, wait)
		} else {
			slog.Debug("retrying operation", slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.String("error", err.Error()))
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
	}
	return err
}

// IsTransient reports whether err is a temporary condition worth retrying:
// errors classified as transient, network timeouts, and refused or reset
// connections. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch fault.KindOf(err) {
	case fault.KindTransientExecution:
		return true
	case fault.KindUsage, fault.KindNotSupported, fault.KindInvalidInput, fault.KindProfileComposition:
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Default policy values, matching the generation endpoint's typical
// propagation delay of a few seconds.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
	DefaultMultiplier  = 2.0
)

// ErrExhausted is returned when every attempt failed with a retryable error.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // scale of the backoff curve
	Multiplier  float64       // growth factor per attempt
}

// DefaultPolicy returns the stock policy: 5 attempts, 2s base, doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// Delay returns the wait before the given 0-indexed attempt:
// BaseDelay * Multiplier^attempt. Attempt 0 never waits.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Validate reports a policy that could not run.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier)
	}
	return nil
}

// Action is a classifier's verdict on a failed attempt.
type Action int

const (
	// Retry spends another attempt if the budget allows.
	Retry Action = iota
	// Stop ends the loop and returns the error as is.
	Stop
)

// Classifier decides whether an attempt's error is worth retrying.
type Classifier func(err error) Action

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Runner executes operations under a policy.
type Runner struct {
	Policy   Policy
	Classify Classifier
	Sleep    SleepFunc

	// OnRetry, if set, observes each retryable failure before the wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Result describes how a run ended.
type Result struct {
	Attempts int
	Err      error
}

// Do runs op until it succeeds, the classifier says Stop, the budget is
// spent (ErrExhausted wrapping the last error) or ctx is cancelled.
// op receives the 0-indexed attempt number.
func (r Runner) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) Result {
	policy := r.Policy
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	classify := r.Classify
	if classify == nil {
		classify = func(error) Action { return Retry }
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, policy.Delay(attempt)); err != nil {
				return Result{Attempts: attempt, Err: err}
			}
		}
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt, Err: err}
		}

		err := op(ctx, attempt)
		if err == nil {
			return Result{Attempts: attempt + 1}
		}
		if classify(err) == Stop {
			return Result{Attempts: attempt + 1, Err: err}
		}
		lastErr = err

		if r.OnRetry != nil && attempt+1 < policy.MaxAttempts {
			r.OnRetry(attempt, err, policy.Delay(attempt+1))
		}
	}
	return Result{
		Attempts: policy.MaxAttempts,
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrExhausted, policy.MaxAttempts, lastErr),
	}
}

// Do is a convenience wrapper over Runner.Do using the real clock.
func Do(ctx context.Context, p Policy, classify Classifier, op func(ctx context.Context, attempt int) error) Result {
	return Runner{Policy: p, Classify: classify}.Do(ctx, op)
}

// Package retry implements a bounded retry loop: predicate-driven
// classification into "stop" or "retry", a fixed inter-attempt delay, and a
// result that distinguishes classifier-stopped suppression from attempt
// exhaustion.
package retry

import (
	"context"
	"time"

	"github.com/cexll/schemafetch-go/pkg/errs"
)

// Decision is the classifier's verdict for a failed attempt.
type Decision int

const (
	// Retry means the failure looks transient; try again after Delay.
	Retry Decision = iota
	// Stop means the classifier judged the failure terminal.
	Stop
)

// Policy is the {maxAttempts, delay, classify} triple driving one Do call.
// MaxAttempts=0 means "try once, do not retry" (total tries = 1).
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Classify    func(err error) Decision
}

// Do runs fn under policy. attempt is 1-based. Every retried attempt waits
// the same fixed Delay; there is no exponential growth.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if policy.Classify == nil {
		policy.Classify = func(error) Decision { return Stop }
	}

	attempt := 1
	for {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}

		if policy.Classify(err) == Stop {
			var zero T
			return zero, errs.NewRetrySuppressedError(attempt, err)
		}

		if attempt > policy.MaxAttempts {
			var zero T
			return zero, errs.NewRetryExhaustedError(attempt, err)
		}

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, errs.NewAbortError("error signal triggered with unknown reason").WithCause(ctx.Err())
		case <-timer.C:
		}

		attempt++
	}
}

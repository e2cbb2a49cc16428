// Package retry implements the bounded exponential backoff used for every
// call to an external model provider.
//
// A Policy classifies each failure as transient, rate limited or permanent.
// Permanent failures, including any error the classifier does not recognise,
// are returned on first occurrence. Transient and rate-limited failures are
// retried up to MaxAttempts with delays of BaseDelay*2^(attempt-1), capped at
// MaxDelay. When attempts run out on a rate-limit signal the caller receives
// a *QuotaExhaustedError rather than the raw provider error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Class is the retry classification of an error.
type Class int

const (
	Permanent Class = iota
	Transient
	RateLimited
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "permanent"
	}
}

// Classifier maps an error to its retry class.
type Classifier func(error) Class

// Policy configures retries for one call site.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter spreads each wait uniformly over [d/2, d].
	Jitter   bool
	Classify Classifier
	Logger   *zap.Logger

	// Sleep waits for d or until ctx is done. Tests replace it to record delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns five attempts starting at one second, capped at a minute.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based), before jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// op names the call site in log records.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = func(error) Class { return Permanent }
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}

		class := classify(err)
		if class == Permanent {
			logger.Error("non-retryable error",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}

		if attempt >= maxAttempts {
			logger.Error("retries exhausted",
				zap.String("op", op),
				zap.Int("attempts", attempt),
				zap.Stringer("class", class),
				zap.Error(err),
			)
			if class == RateLimited {
				return &QuotaExhaustedError{Op: op, Attempts: attempt, Err: err}
			}
			return &ExhaustedError{Op: op, Attempts: attempt, Err: err}
		}

		wait := p.Backoff(attempt)
		if p.Jitter && wait > 0 {
			half := wait / 2
			wait = half + time.Duration(rand.Int64N(int64(half)+1))
		}
		logger.Warn("retrying after error",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("wait", wait),
			zap.Stringer("class", class),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExhaustedError is returned when a transient failure persisted through every attempt.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// QuotaExhaustedError is returned when the upstream kept signalling a rate or
// quota limit through every attempt. Callers should ask the user to retry later.
type QuotaExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("%s: quota exhausted after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *QuotaExhaustedError) Unwrap() error { return e.Err }

// IsQuotaExhausted reports whether err wraps a *QuotaExhaustedError.
func IsQuotaExhausted(err error) bool {
	var q *QuotaExhaustedError
	return errors.As(err, &q)
}

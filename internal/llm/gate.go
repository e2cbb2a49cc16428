package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/codereview/internal/retry"
)

// Gate invokes a Provider under a retry policy. Each attempt gets its own
// timeout so a hung upstream counts as a transient failure.
type Gate struct {
	provider       Provider
	policy         retry.Policy
	attemptTimeout time.Duration
	logger         *zap.Logger
}

// NewGate binds provider to policy. A nil policy classifier defaults to Classify.
func NewGate(provider Provider, policy retry.Policy, attemptTimeout time.Duration, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Classify == nil {
		policy.Classify = Classify
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Gate{
		provider:       provider,
		policy:         policy,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// Provider returns the wrapped provider.
func (g *Gate) Provider() Provider { return g.provider }

// Invoke returns the provider's raw text. Errors are the last provider error
// for permanent failures, or *retry.QuotaExhaustedError / *retry.ExhaustedError
// once attempts run out.
func (g *Gate) Invoke(ctx context.Context, req Request) (string, error) {
	var text string
	op := g.provider.Name() + ".generate"
	err := g.policy.Do(ctx, op, func(ctx context.Context, attempt int) error {
		attemptCtx := ctx
		if g.attemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, g.attemptTimeout)
			defer cancel()
		}

		start := time.Now()
		out, err := g.provider.Generate(attemptCtx, req)
		if err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return &attemptTimeoutError{timeout: g.attemptTimeout, err: err}
			}
			return err
		}
		g.logger.Debug("model call succeeded",
			zap.String("provider", g.provider.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("elapsed", time.Since(start)),
		)
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

type attemptTimeoutError struct {
	timeout time.Duration
	err     error
}

func (e *attemptTimeoutError) Error() string {
	return "attempt timed out after " + e.timeout.String() + ": " + e.err.Error()
}

func (e *attemptTimeoutError) Unwrap() []error {
	return []error{context.DeadlineExceeded, e.err}
}

// internal/reasoning/retry.go
package reasoning

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// RetryPolicy bounds retries of transient failures
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy allows five attempts with backoff from 500ms up to 8s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

// Backoff returns the delay before attempt+1, given attempt failures so far
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Retrier retries a Generator on transient failures with exponential backoff.
// Permanent failures are returned after a single attempt.
type Retrier struct {
	next   Generator
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrier wraps next with policy
func NewRetrier(next Generator, policy RetryPolicy, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrier{next: next, policy: policy, logger: logger, sleep: sleepContext}
}

// Generate calls the wrapped generator until it succeeds, fails permanently,
// or the attempt ceiling is reached
func (r *Retrier) Generate(ctx context.Context, req Request) (*Script, error) {
	tracer := otel.Tracer("leafdoc/reasoning")
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		spanCtx, span := tracer.Start(ctx, "reasoning.generate")
		span.SetAttributes(
			attribute.String("session_id", req.SessionID),
			attribute.Int("attempt", attempt),
		)
		script, err := r.next.Generate(spanCtx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("provider", script.Provider), attribute.String("model", script.Model))
		}
		span.End()

		if err == nil {
			if attempt > 1 {
				r.logger.Info("reasoning succeeded after retry",
					zap.String("session_id", req.SessionID),
					zap.Int("attempt", attempt))
			}
			return script, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var re *Error
		if !errors.As(err, &re) {
			// Unclassified errors are not retried
			return nil, &Error{Kind: Permanent, Attempts: attempt, Err: err}
		}
		if re.Kind == Permanent {
			return nil, &Error{Kind: Permanent, Attempts: attempt, Err: re.Err}
		}

		lastErr = re.Err
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := r.policy.Backoff(attempt)
		r.logger.Warn("reasoning attempt failed, retrying",
			zap.String("session_id", req.SessionID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, &Error{Kind: Transient, Attempts: r.policy.MaxAttempts, Err: lastErr}
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

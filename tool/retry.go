package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/genloop/logging"
)

// RetryPolicy controls how often and how patiently a single tool call is
// attempted.
type RetryPolicy struct {
	MaxAttempts    int           // Total attempts, including the first
	InitialBackoff time.Duration // Wait before the second attempt
	Multiplier     float64       // Backoff growth per further attempt
	AttemptTimeout time.Duration // Hard limit per attempt; 0 disables it
}

// DefaultRetryPolicy returns 3 attempts with 1s then 2s backoff and a 30s
// per-attempt timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Multiplier:     2,
		AttemptTimeout: 30 * time.Second,
	}
}

// Backoff returns the wait before the given 1-based attempt. The first attempt
// never waits; attempt n waits InitialBackoff * Multiplier^(n-2).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.InitialBackoff)
	for i := 2; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// sleep waits for d or until ctx is done.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Retry runs attempt until it succeeds, fails permanently or the policy is
// exhausted. Each attempt gets its own context bounded by AttemptTimeout; an
// attempt that times out is retried. Cancellation of ctx stops retrying.
//
// Every failure is returned as *ToolError naming the tool and wrapping the
// last cause.
func Retry(
	ctx context.Context,
	name string,
	policy RetryPolicy,
	logger logging.Logger,
	attempt func(ctx context.Context) (map[string]any, error),
) (map[string]any, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	maxAttempts := policy.attempts()
	var lastErr error
	made := 0

	for n := 1; n <= maxAttempts; n++ {
		if err := sleep(ctx, policy.Backoff(n)); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}

		made = n
		result, err := runAttempt(ctx, policy.AttemptTimeout, attempt)
		if err == nil {
			if n > 1 {
				logger.Info("tool.call.recovered", "tool", name, "attempt", n)
			}
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) {
			logger.Warn("tool.call.failed_permanently", "tool", name, "attempt", n, "error", err.Error())
			var te *ToolError
			if errors.As(err, &te) {
				out := *te
				if out.Tool == "" {
					out.Tool = name
				}
				out.Attempts = n
				return nil, &out
			}
			return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeToolFailed, Attempts: n, Err: err}
		}

		logger.Warn("tool.call.attempt_failed",
			"tool", name,
			"attempt", n,
			"max_attempts", maxAttempts,
			"error", err.Error(),
		)
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	if ctxErr := ctx.Err(); ctxErr != nil && made < maxAttempts {
		return nil, &ToolError{
			Tool:     name,
			Message:  fmt.Sprintf("cancelled after %d attempts: %v", made, lastErr),
			Code:     CodeExecution,
			Attempts: made,
			Err:      lastErr,
		}
	}

	return nil, &ToolError{
		Tool:     name,
		Message:  fmt.Sprintf("failed after %d attempts: %v", made, lastErr),
		Code:     CodeRetriesExhausted,
		Attempts: made,
		Err:      lastErr,
	}
}

func runAttempt(
	ctx context.Context,
	timeout time.Duration,
	attempt func(ctx context.Context) (map[string]any, error),
) (map[string]any, error) {
	if timeout <= 0 {
		return attempt(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := attempt(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, fmt.Errorf("attempt timed out after %s: %w", timeout, err)
	}
	return result, err
}

// WithRetry wraps next so every call is retried according to policy.
func WithRetry(next Executor, policy RetryPolicy, logger logging.Logger) Executor {
	return ExecutorFunc(func(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
		return Retry(ctx, name, policy, logger, func(ctx context.Context) (map[string]any, error) {
			return next.Call(ctx, name, args)
		})
	})
}

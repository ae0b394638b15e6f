// Package retry runs a remote operation a bounded number of times with a
// fixed pause between attempts.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy controls how hard a single logical operation is tried
type Policy struct {
	// Attempts is the total number of calls (values below 1 mean 1)
	Attempts int

	// Backoff is the pause between attempts, never applied after the last one
	Backoff time.Duration

	// Name identifies the operation in logs and errors
	Name string

	Logger *zap.Logger

	// Sleep replaces the context-aware timer, mainly for tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result is the outcome of Do. Err holds only the most recent failure.
type Result[T any] struct {
	OK       bool
	Value    T
	Err      error
	Attempts int

	name string
	max  int
}

// Error returns nil on success and an *ExhaustedError otherwise
func (r Result[T]) Error() error {
	if r.OK {
		return nil
	}
	return &ExhaustedError{Name: r.name, Attempts: r.Attempts, Max: r.max, Last: r.Err}
}

// ExhaustedError reports that the operation never succeeded
type ExhaustedError struct {
	Name     string
	Attempts int
	Max      int
	Last     error
}

func (e *ExhaustedError) Error() string {
	name := e.Name
	if name == "" {
		name = "operation"
	}
	return fmt.Sprintf("%s failed %d/%d attempts: %v", name, e.Attempts, e.Max, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do calls op until it succeeds or the attempts run out. Attempts are strictly
// sequential. Cancelling ctx during a backoff stops the loop and ctx.Err()
// becomes the last error; per-attempt timeouts belong to op itself.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) Result[T] {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	res := Result[T]{name: p.Name, max: attempts}
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt

		value, err := op(ctx)
		if err == nil {
			res.OK = true
			res.Value = value
			res.Err = nil
			if attempt > 1 {
				logger.Debug("operation succeeded after retry",
					zap.String("operation", p.Name), zap.Int("attempt", attempt))
			}
			return res
		}
		res.Err = err

		if attempt == attempts {
			break
		}

		logger.Debug("attempt failed, backing off",
			zap.String("operation", p.Name),
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Duration("backoff", p.Backoff),
			zap.Error(err))

		if err := sleep(ctx, p.Backoff); err != nil {
			res.Err = err
			break
		}
	}

	logger.Debug("operation failed", zap.String("operation", p.Name),
		zap.Int("attempts", res.Attempts), zap.Error(res.Err))
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

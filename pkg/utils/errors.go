package utils

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

const maxRetryDelay = 30 * time.Second

// PanicError carries a value recovered from a panicking goroutine.
type PanicError struct {
	Component string
	Value     any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Component, e.Value)
}

// ErrorRecovery retries failing operations with exponential backoff.
type ErrorRecovery struct {
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewErrorRecovery(maxRetries int, retryDelay time.Duration, logger *zap.Logger) *ErrorRecovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorRecovery{
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// BackoffDelay is the wait before retry attempt (1-based), doubling from
// base and capped at 30s.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay || delay <= 0 {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// RetryWithBackoff runs operation until it succeeds, the retries are used
// up, or ctx is done.
func (er *ErrorRecovery) RetryWithBackoff(ctx context.Context, component string, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= er.maxRetries; attempt++ {
		if attempt > 0 {
			delay := BackoffDelay(er.retryDelay, attempt)
			er.logger.Debug("retrying",
				zap.String("component", component),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", er.maxRetries),
				zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w", component, ctx.Err())
			case <-timer.C:
			}
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				er.logger.Info("recovered",
					zap.String("component", component),
					zap.Int("attempts", attempt))
			}
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("%s: operation failed after %d retries: %w", component, er.maxRetries, lastErr)
}

// RecoverFromPanic is deferred by goroutines that must not take the
// process down.
func RecoverFromPanic(logger *zap.Logger, component string) {
	if r := recover(); r != nil {
		logPanic(logger, component, r, debug.Stack())
	}
}

// RecoverToError converts a panic into a *PanicError stored in errp.
func RecoverToError(component string, errp *error) {
	if r := recover(); r != nil {
		*errp = &PanicError{Component: component, Value: r, Stack: debug.Stack()}
	}
}

func SafeGoroutine(logger *zap.Logger, component string, fn func()) {
	go func() {
		defer RecoverFromPanic(logger, component)
		fn()
	}()
}

func logPanic(logger *zap.Logger, component string, value any, stack []byte) {
	if logger == nil {
		return
	}
	logger.Error("panic recovered",
		zap.String("component", component),
		zap.Any("panic", value),
		zap.ByteString("stack", stack))
}

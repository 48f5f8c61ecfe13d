package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
)

type (
	// Operation to retry
	Operation func(ctx context.Context) error

	// IsRetriableFunc defines a function that checks if an error is retriable.
	IsRetriableFunc func(err error) bool
)

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Retry executes the operation with retry logic based on the provided policy.
// If isRetriable is nil, every error not marked Permanent is retriable.
// When retries are exhausted the last operation error is returned.
func Retry(ctx context.Context, op Operation, policy RetryPolicy, isRetriable IsRetriableFunc) error {
	if isRetriable == nil {
		isRetriable = func(err error) bool { return !IsPermanent(err) }
	}

	retrier := NewRetrier(policy)
	attempt := 0

	for {
		attempt++

		if err := ctx.Err(); err != nil {
			logger.Debug(ctx, "Retry aborted due to context error", tag.Attempt(attempt), tag.Error(err))
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug(ctx, "Retryable operation succeeded", tag.Attempt(attempt))
			}
			return nil
		}

		if !isRetriable(err) {
			logger.Debug(ctx, "Operation failed with non-retriable error", tag.Attempt(attempt), tag.Error(err))
			return err
		}

		interval, retryErr := retrier.Next(err)
		if retryErr != nil {
			logger.Debug(ctx, "Retry attempts exhausted", tag.Attempt(attempt), tag.Error(err))
			return err
		}

		if interval <= 0 {
			interval = 100 * time.Millisecond
		}

		logger.Debug(ctx, "Operation failed; scheduling retry",
			tag.Attempt(attempt),
			tag.Interval(interval),
			tag.Error(err),
		)

		if err := Wait(ctx, interval); err != nil {
			return err
		}
	}
}

// Wait blocks for interval or until ctx is done.
func Wait(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package database

import (
	"context"
	stderrors "errors"

	"wadispatch/internal/errors"
)

// Sentinel errors for errors.Is checks. Returned errors carry table and key context.
var (
	ErrNotFound           = errors.New(errors.ErrCodeNotFound, "document not found")
	ErrPreconditionFailed = errors.New(errors.ErrCodePreconditionFailed, "condition check failed")
	ErrLimitExceeded      = errors.New(errors.ErrCodeLimitExceeded, "counter upper bound exceeded")
)

func notFound(t Table, key string) error {
	return errors.New(errors.ErrCodeNotFound, ErrNotFound.Message).
		WithContext("table", t.Name).
		WithContext("key", key)
}

func preconditionFailed(t Table, key string) error {
	return errors.New(errors.ErrCodePreconditionFailed, ErrPreconditionFailed.Message).
		WithContext("table", t.Name).
		WithContext("key", key)
}

func limitExceeded(t Table, key string, bound int64) error {
	return errors.New(errors.ErrCodeLimitExceeded, ErrLimitExceeded.Message).
		WithContext("table", t.Name).
		WithContext("key", key).
		WithContext("upper_bound", bound)
}

// storeError classifies a driver failure. Unreachable stores map to DATABASE_CONNECTION.
func storeError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.FromContextError(err, "document store "+operation)
	}
	if isConnectionError(err) {
		return errors.WrapRetryable(err, errors.ErrCodeDatabaseConnection, "document store unavailable").
			WithContext("operation", operation)
	}
	appErr := errors.NewDatabaseError(operation, err)
	appErr.Retryable = isRetryableDBError(err)
	return appErr
}

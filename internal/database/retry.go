package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/retry"

	"github.com/jackc/pgx/v5/pgconn"
)

var dbBackoff = retry.NewBackoff(retry.BackoffConfig{
	InitialDelay: time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
	MaxDelay:     time.Duration(constants.DefaultBackoffMaxSec) * time.Second,
	Multiplier:   2,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
})

// retryableDBOperation runs operation, retrying transient driver failures.
func retryableDBOperation(ctx context.Context, operation func() error) error {
	return dbBackoff.RetryWithPredicate(ctx, operation, isRetryableDBError)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	// Context timeout/cancellation are not retryable by us
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P03", "53300":
			// serialization_failure, deadlock_detected, cannot_connect_now, too_many_connections
			return true
		default:
			return false
		}
	}

	errStr := err.Error()
	for _, transient := range []string{
		"database is locked",
		"database table is locked",
		"disk I/O error",
		"no such host",
		"connection refused",
		"connection reset by peer",
		"broken pipe",
	} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}

	return false
}

// isConnectionError reports whether err means the store could not be reached at all.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "unable to open database file") ||
		strings.Contains(errStr, "sql: database is closed")
}

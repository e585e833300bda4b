package errors

import (
	"github.com/sirupsen/logrus"
)

// Entry returns an entry carrying the error plus AppError code, retryability and context.
func Entry(logger logrus.FieldLogger, err error) *logrus.Entry {
	entry := logger.WithError(err)

	if appErr, ok := As(err); ok {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
			"severity":   Classify(err),
		})
		for k, v := range appErr.Context {
			if k == "value" {
				continue
			}
			entry = entry.WithField(k, v)
		}
	}

	return entry
}

// Log writes err at the level matching its severity. Caller mistakes
// (validation, consent, not found) stay at debug.
func Log(logger logrus.FieldLogger, err error, message string) {
	entry := Entry(logger, err)
	switch Classify(err) {
	case SeverityCritical, SeverityError:
		entry.Error(message)
	case SeverityWarning:
		entry.Warn(message)
	default:
		entry.Debug(message)
	}
}

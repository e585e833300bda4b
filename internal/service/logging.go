package service

import (
	"context"

	"wadispatch/internal/privacy"
	"wadispatch/internal/tracing"

	"github.com/sirupsen/logrus"
)

// Standard log field names
const (
	LogFieldMessageID     = "message_id"
	LogFieldWAMessageID   = "wa_message_id"
	LogFieldContactID     = "contact_id"
	LogFieldPhoneNumberID = "phone_number_id"
	LogFieldRecipient     = "recipient"
	LogFieldQueue         = "queue"
	LogFieldStatus        = "status"
	LogFieldMessageType   = "message_type"
	LogFieldSendKind      = "send_kind"
	LogFieldSource        = "source"
	LogFieldScheduledID   = "scheduled_id"
	LogFieldReferenceID   = "reference_id"
	LogFieldDuration      = "duration_ms"
	LogFieldCount         = "count"
	LogFieldS3Key         = "s3_key"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey disables log masking for one unit of work.
const VerboseContextKey ContextKey = "verbose"

func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// logEntry returns an entry with correlation IDs and fields masked unless verbose.
func logEntry(ctx context.Context, logger *logrus.Logger, fields logrus.Fields) *logrus.Entry {
	masker := privacy.Masker{Verbose: IsVerboseLogging(ctx)}
	entry := logger.WithFields(tracing.LogFields(ctx))
	if len(fields) > 0 {
		entry = entry.WithFields(masker.Fields(fields))
	}
	return entry
}

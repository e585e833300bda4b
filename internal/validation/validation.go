package validation

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	pkgconstants "wadispatch/pkg/constants"
)

// ValidatePhoneNumber checks a recipient phone: optional "+", then 10-15 digits.
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.NewValidationError("phone", phone, "phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(phone, "+")
	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.NewValidationError("phone", phone, "phone number must contain only digits")
		}
	}
	if len(cleaned) < pkgconstants.MinPhoneDigits || len(cleaned) > pkgconstants.MaxPhoneDigits {
		return errors.NewValidationError("phone", phone,
			fmt.Sprintf("phone number must have %d-%d digits", pkgconstants.MinPhoneDigits, pkgconstants.MaxPhoneDigits))
	}
	return nil
}

// ValidateEmail checks an address parses and carries no display name.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.NewValidationError("email", email, "invalid email address")
	}
	return nil
}

// ValidateMessageID validates a provider message ID
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.NewValidationError("message_id", messageID, "message ID cannot be empty")
	}
	if len(messageID) > constants.MaxMessageIDLength {
		return errors.NewValidationError("message_id", "",
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}
	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.NewValidationError("message_id", "", "message ID contains invalid characters")
		}
	}
	return nil
}

// ValidateTextContent bounds free-form text by bytes.
func ValidateTextContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.NewValidationError("content", "", "message content cannot be empty")
	}
	if len(content) > constants.MaxTextBytes {
		return errors.NewValidationError("content", "",
			fmt.Sprintf("message content too long: %d bytes (max %d)", len(content), constants.MaxTextBytes))
	}
	return nil
}

// ValidateMediaSize checks a payload against the per-kind WhatsApp limit.
func ValidateMediaSize(sizeBytes int64, mediaType string) error {
	if sizeBytes <= 0 {
		return errors.New(errors.ErrCodeMedia, "media file is empty").WithContext("media_type", mediaType)
	}

	maxBytes, exists := constants.MediaSizeLimits[mediaType]
	if !exists {
		return errors.NewValidationError("media_type", mediaType, fmt.Sprintf("unsupported media type: %s", mediaType))
	}
	if sizeBytes > maxBytes {
		return errors.New(errors.ErrCodeMedia,
			fmt.Sprintf("media file too large: %d bytes (max %d bytes)", sizeBytes, maxBytes)).
			WithContext("media_type", mediaType).
			WithContext("size", sizeBytes)
	}
	return nil
}

// ValidateTemplateName accepts lowercase letters, digits and underscores.
func ValidateTemplateName(name string) error {
	if name == "" {
		return errors.NewValidationError("templateName", name, "template name is required")
	}
	if len(name) > constants.MaxTemplateNameLength {
		return errors.NewValidationError("templateName", name, "template name too long")
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z') && !unicode.IsDigit(r) && r != '_' {
			return errors.NewValidationError("templateName", name,
				"template name must contain only lowercase letters, digits and underscores")
		}
	}
	return nil
}

// ValidateScheduledAt parses an RFC 3339 time that must be strictly after now.
func ValidateScheduledAt(value string, now time.Time) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.NewValidationError("scheduledAt", value, "scheduledAt must be an ISO-8601 timestamp")
	}
	if !ts.After(now) {
		return time.Time{}, errors.NewValidationError("scheduledAt", value, "scheduledAt must be in the future")
	}
	return ts.UTC(), nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.NewValidationError(fieldName, "",
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}
	if len(value) > maxLength {
		return errors.NewValidationError(fieldName, "",
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}
	return nil
}

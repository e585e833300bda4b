package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Token is the short, user-visible failure classification returned by the send API.
type Token string

const (
	TokenValidation Token = "VALIDATION"
	TokenConsent    Token = "CONSENT"
	TokenRate       Token = "RATE"
	TokenProvider   Token = "PROVIDER"
	TokenNotFound   Token = "NOT_FOUND"
	TokenMedia      Token = "MEDIA"
	TokenTimeout    Token = "TIMEOUT"
	TokenInternal   Token = "INTERNAL"
)

// Severity drives alerting; CRITICAL errors are published to the alert topic.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewConsentError reports a missing opt-in or a closed customer-service window.
func NewConsentError(reason string) *AppError {
	return New(ErrCodeConsent, reason).
		WithContext("reason", reason).
		WithUserMessage("Recipient cannot receive this message: " + reason)
}

// NewProviderError classifies a provider failure by HTTP status and provider error code.
func NewProviderError(operation string, statusCode int, providerCode string, err error) *AppError {
	if statusCode == http.StatusTooManyRequests || providerCode == "ThrottlingException" {
		return WrapRetryable(err, ErrCodeProviderThrottle, fmt.Sprintf("provider %s throttled", operation)).
			WithContext("operation", operation).
			WithContext("status_code", statusCode).
			WithContext("type", "throttling").
			WithUserMessage("Provider is throttling requests, retry later")
	}

	appErr := Wrap(err, ErrCodeProviderAPI, fmt.Sprintf("provider %s failed", operation)).
		WithContext("operation", operation).
		WithContext("status_code", statusCode).
		WithContext("type", "api_error").
		WithUserMessage("Provider rejected the request")
	if providerCode != "" {
		appErr.WithContext("provider_code", providerCode)
	}
	appErr.Retryable = statusCode >= 500 || statusCode == http.StatusRequestTimeout
	return appErr
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("window", window).
		WithUserMessage("Too many requests, please try again later")
}

// NewMediaError creates a media processing error
func NewMediaError(operation, mediaType string, err error) *AppError {
	return Wrap(err, ErrCodeMedia, fmt.Sprintf("media %s failed", operation)).
		WithContext("operation", operation).
		WithContext("media_type", mediaType).
		WithUserMessage("Media processing failed")
}

// FromContextError converts context cancellation into a timeout AppError and leaves other errors untouched.
func FromContextError(err error, operation string) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, ErrCodeTimeout, operation+" exceeded its deadline").
			WithContext("operation", operation).
			WithUserMessage("Operation timed out, please try again")
	}
	return err
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeConsent:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodePreconditionFailed:
		return http.StatusConflict
	case ErrCodeRateLimit, ErrCodeProviderThrottle, ErrCodeLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeMedia:
		return http.StatusBadRequest
	case ErrCodeDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TokenFor maps an error to the short token surfaced to callers.
func TokenFor(err error) Token {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput:
		return TokenValidation
	case ErrCodeConsent:
		return TokenConsent
	case ErrCodeRateLimit, ErrCodeLimitExceeded:
		return TokenRate
	case ErrCodeProviderAPI, ErrCodeProviderThrottle:
		return TokenProvider
	case ErrCodeNotFound:
		return TokenNotFound
	case ErrCodeMedia:
		return TokenMedia
	case ErrCodeTimeout:
		return TokenTimeout
	default:
		return TokenInternal
	}
}

// Classify assigns an alerting severity to an error.
func Classify(err error) Severity {
	if err == nil {
		return SeverityInfo
	}
	appErr, ok := As(err)
	if !ok {
		return SeverityError
	}
	switch appErr.Code {
	case ErrCodeDatabaseConnection, ErrCodeDLQWrite, ErrCodeInvalidConfig, ErrCodeMissingConfig:
		return SeverityCritical
	case ErrCodeProviderAPI:
		if status, ok := appErr.Context["status_code"].(int); ok && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
			return SeverityCritical
		}
		return SeverityError
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeConsent, ErrCodeNotFound:
		return SeverityInfo
	case ErrCodeRateLimit, ErrCodeProviderThrottle, ErrCodeLimitExceeded, ErrCodeTimeout:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// HTTPErrorResponse is the standardized HTTP error body
type HTTPErrorResponse struct {
	Error struct {
		Code    Token       `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}
	response.Error.Code = TokenFor(err)
	response.Error.Message = GetUserMessage(err)

	if appErr, ok := As(err); ok && len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "password" && k != "token" && k != "secret" && k != "value" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}

package versioning

import (
	"context"
	"encoding/json"
	"net/http"

	"wadispatch/internal/errors"

	"github.com/sirupsen/logrus"
)

type contextKey string

const versionContextKey contextKey = "api_version"

const (
	AcceptVersionHeader     = "Accept-Version"
	CurrentVersionHeader    = "X-Current-Version"
	SupportedVersionsHeader = "X-Supported-Versions"
)

// Negotiate resolves the Accept-Version header, defaulting to the current
// version, and rejects versions outside the supported range.
func Negotiate(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(CurrentVersionHeader, CurrentVersion.String())
			w.Header().Set(SupportedVersionsHeader, SupportedRange())

			requested := CurrentVersion
			if raw := r.Header.Get(AcceptVersionHeader); raw != "" {
				v, err := ParseVersion(raw)
				if err != nil {
					reject(w, http.StatusBadRequest, errors.NewValidationError(AcceptVersionHeader, raw, err.Error()))
					return
				}
				requested = v
			}

			compat := CheckCompatibility(requested)
			if !compat.Compatible {
				logger.WithFields(logrus.Fields{
					"requested_version": requested.String(),
					"path":              r.URL.Path,
				}).Warn("Incompatible API version requested")
				status := http.StatusNotImplemented
				if requested.Compare(MinimumSupportedVersion) < 0 {
					status = http.StatusUpgradeRequired
				}
				reject(w, status, errors.New(errors.ErrCodeValidationFailed, compat.Reason).WithUserMessage(compat.Reason))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithVersion(r.Context(), requested)))
		})
	}
}

// RequireFeature answers 501 when the negotiated version predates the feature.
func RequireFeature(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Supports(FromContext(r.Context()), name) {
				msg := "feature " + name + " is not available in this API version"
				reject(w, http.StatusNotImplemented, errors.New(errors.ErrCodeValidationFailed, msg).WithUserMessage(msg))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errors.ToHTTPResponse(err, ""))
}

func WithVersion(ctx context.Context, v APIVersion) context.Context {
	return context.WithValue(ctx, versionContextKey, v)
}

// FromContext returns the negotiated version, or the current one when none was set.
func FromContext(ctx context.Context) APIVersion {
	if v, ok := ctx.Value(versionContextKey).(APIVersion); ok {
		return v
	}
	return CurrentVersion
}

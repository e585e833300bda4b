package middleware

import (
	"net/http"
	"strings"

	"wadispatch/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"x-api-key":           true,
	"x-hub-signature-256": true,
	"cookie":              true,
	"set-cookie":          true,
}

var skipDetailed = []string{"/metrics", "/health"}

// DetailedLogging logs request headers at debug level with credentials masked.
func DetailedLogging(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			logger.WithFields(logrus.Fields{
				"request_id":      tracing.GetRequestID(r.Context()),
				"method":          r.Method,
				"url":             r.URL.String(),
				"protocol":        r.Proto,
				"content_length":  r.ContentLength,
				"request_headers": MaskHeaders(r.Header),
			}).Debug("Detailed request logging")
			next.ServeHTTP(w, r)
		})
	}
}

// MaskHeaders flattens headers and masks credentials.
func MaskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if sensitiveHeaders[strings.ToLower(name)] {
			out[name] = "***MASKED***"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func skipPath(path string) bool {
	for _, p := range skipDetailed {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"wadispatch/internal/metrics"
	"wadispatch/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// RequestIDHeader is honoured on the way in and echoed on the way out.
const RequestIDHeader = "X-Request-ID"

// Metric names recorded per request
const (
	MetricHTTPRequests = "http_requests_total"
	MetricHTTPDuration = "http_request_duration"
	MetricHTTPActive   = "http_requests_active"
)

// Observability traces, times and logs every request. The endpoint label is the mux route
// template so path parameters do not explode metric cardinality.
func Observability(logger *logrus.Logger, registry *metrics.Registry) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= 128 {
				ctx = tracing.WithRequestID(ctx, id)
			}
			endpoint := routeTemplate(r)

			ctx, span := tracing.StartUnit(ctx, "http "+r.Method+" "+endpoint,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", endpoint),
				attribute.String("client.address", ClientIP(r)),
			)
			ctx = tracing.WithStartTime(ctx, time.Now())
			r = r.WithContext(ctx)

			requestID := tracing.GetRequestID(ctx)
			w.Header().Set(RequestIDHeader, requestID)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			registry.AddToCounter(MetricHTTPActive, 1, nil, "Currently active HTTP requests")
			next.ServeHTTP(wrapper, r)
			registry.AddToCounter(MetricHTTPActive, -1, nil, "Currently active HTTP requests")

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			var spanErr error
			if wrapper.statusCode >= http.StatusInternalServerError {
				spanErr = fmt.Errorf("HTTP %d", wrapper.statusCode)
			}
			tracing.EndUnit(span, spanErr)

			labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status_code": status}
			registry.IncrementCounter(MetricHTTPRequests, labels, "HTTP requests by status code")
			registry.RecordTimer(MetricHTTPDuration, duration, labels, "HTTP request duration")

			level := logrus.DebugLevel
			switch {
			case wrapper.statusCode >= http.StatusInternalServerError:
				level = logrus.ErrorLevel
			case wrapper.statusCode >= http.StatusBadRequest:
				level = logrus.WarnLevel
			}
			logger.WithFields(logrus.Fields{
				"request_id":  requestID,
				"trace_id":    tracing.GetTraceID(ctx),
				"method":      r.Method,
				"endpoint":    endpoint,
				"status_code": wrapper.statusCode,
				"duration_ms": duration.Milliseconds(),
				"remote_ip":   ClientIP(r),
				"size":        wrapper.responseSize,
			}).Log(level, "HTTP request completed")
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the hijacker.
func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

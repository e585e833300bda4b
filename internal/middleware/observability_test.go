package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wadispatch/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(logger *logrus.Logger, registry *metrics.Registry) *mux.Router {
	r := mux.NewRouter()
	r.Use(Observability(logger, registry))
	r.HandleFunc("/v1/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"c1"}`))
	}).Methods(http.MethodGet)
	r.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestObservability_RecordsRouteTemplate(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	registry := metrics.NewRegistry("test")
	router := newRouter(logger, registry)

	for _, id := range []string{"a", "b", "missing"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/contacts/"+id, nil))
	}

	assert.Equal(t, 2.0, registry.CounterValue(MetricHTTPRequests, map[string]string{
		"method": "GET", "endpoint": "/v1/contacts/{id}", "status_code": "200",
	}))
	assert.Equal(t, 1.0, registry.CounterValue(MetricHTTPRequests, map[string]string{
		"method": "GET", "endpoint": "/v1/contacts/{id}", "status_code": "404",
	}))
	assert.Equal(t, int64(2), registry.TimerCount(MetricHTTPDuration, map[string]string{
		"method": "GET", "endpoint": "/v1/contacts/{id}", "status_code": "200",
	}))
	assert.Equal(t, 0.0, registry.CounterValue(MetricHTTPActive, nil))
}

func TestObservability_RequestIDEcho(t *testing.T) {
	router := newRouter(logrus.New(), metrics.NewRegistry("test"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/contacts/a", nil)
	req.Header.Set(RequestIDHeader, "req_from_caller")
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req_from_caller", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/contacts/a", nil))
	assert.True(t, strings.HasPrefix(rec.Header().Get(RequestIDHeader), "req_"))
}

func TestObservability_FirstStatusWins(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	registry := metrics.NewRegistry("test")

	rec := httptest.NewRecorder()
	newRouter(logger, registry).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/boom", nil))

	assert.Equal(t, 1.0, registry.CounterValue(MetricHTTPRequests, map[string]string{
		"method": "POST", "endpoint": "/boom", "status_code": "500",
	}))
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestDetailedLogging_MasksCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	called := false
	handler := DetailedLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, called)
	assert.NotContains(t, buf.String(), "secret-token")
	assert.Contains(t, buf.String(), "Detailed request logging")

	buf.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.9"}, "10.0.0.1:1234", "198.51.100.7"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.5"}, "10.0.0.1:1234", "203.0.113.5"},
		{"remote addr", nil, "192.0.2.10:5555", "192.0.2.10"},
		{"ipv6 remote", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"no port", nil, "192.0.2.10", "192.0.2.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

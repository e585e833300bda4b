package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wadispatch/internal/app"
	"wadispatch/internal/blobstore"
	"wadispatch/internal/config"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/internal/versioning"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type throttledProvider struct{}

func (throttledProvider) SendMessage(context.Context, string, interface{}) (*types.SendMessageOutput, error) {
	return nil, errors.NewProviderError("send_message", http.StatusTooManyRequests, "ThrottlingException", nil)
}

func (throttledProvider) PostMedia(context.Context, string, string, string) (*types.PostMediaOutput, error) {
	return nil, errors.NewProviderError("post_media", http.StatusTooManyRequests, "ThrottlingException", nil)
}

func (throttledProvider) GetMedia(context.Context, string, string, string, string) (*types.GetMediaOutput, error) {
	return nil, errors.NewProviderError("get_media", http.StatusTooManyRequests, "ThrottlingException", nil)
}

func (throttledProvider) DeleteMedia(context.Context, string, string) error { return nil }

func testConfig(t *testing.T) *models.Config {
	cfg := config.Defaults()
	cfg.SendMode = models.SendModeDryRun
	cfg.Database.Path = filepath.Join(t.TempDir(), "server.db")
	cfg.PhoneNumbers = []models.PhoneNumberConfig{{MetaPhoneNumberID: "meta-1", AWSPhoneNumberID: "phone-1", WabaID: "waba-1"}}
	cfg.AutoReaction.Disabled = true
	return cfg
}

func newTestServer(t *testing.T, cfg *models.Config, opts app.Options) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts.SkipMQTT = true
	a, err := app.New(context.Background(), cfg, logger, opts)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return NewServer(a, false)
}

func (s *Server) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func inboundRecord(t *testing.T, from, waID, body string) []byte {
	t.Helper()
	value, err := json.Marshal(map[string]interface{}{
		"messaging_product": "whatsapp",
		"metadata":          map[string]interface{}{"phone_number_id": "meta-1"},
		"contacts":          []interface{}{map[string]interface{}{"wa_id": from, "profile": map[string]interface{}{"name": "Asha"}}},
		"messages": []interface{}{map[string]interface{}{
			"from": from, "id": waID, "timestamp": time.Now().Unix(), "type": "text",
			"text": map[string]interface{}{"body": body},
		}},
	})
	require.NoError(t, err)
	entry, err := json.Marshal(types.WebhookEntry{ID: "waba-1", Changes: []types.WebhookChange{{Field: "messages", Value: value}}})
	require.NoError(t, err)
	record, err := json.Marshal(types.InboundEnvelope{
		Context:              types.EnvelopeContext{MetaPhoneNumberIDs: []types.PhoneNumberRef{{MetaPhoneNumberID: "meta-1"}}},
		WhatsAppWebhookEntry: string(entry),
		MessageID:            "env-" + waID,
	})
	require.NoError(t, err)
	return record
}

func TestServer_HandleHealth(t *testing.T) {
	s := newTestServer(t, testConfig(t), app.Options{})

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "DRY_RUN", body["sendMode"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(t), app.Options{})
	s.do(t, http.MethodGet, "/health", nil)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestServer_APIKeyRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.APIKey = "operator-key"
	s := newTestServer(t, cfg, app.Options{})
	contact := map[string]interface{}{"phone": "+919876543210"}

	w := s.do(t, http.MethodPost, "/v1/contacts", contact)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/v1/contacts", contact, APIKeyHeader, "operator-key")
	assert.Equal(t, http.StatusCreated, w.Code)

	// Health stays open for probes.
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
}

func TestServer_Webhook(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.WebhookSecret = "hook-secret"
	s := newTestServer(t, cfg, app.Options{})
	record := inboundRecord(t, "919876543210", "wamid.1", "Hi")
	batch, err := json.Marshal(map[string]interface{}{"records": []json.RawMessage{record, json.RawMessage(`{"broken":true}`)}})
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/v1/webhooks/whatsapp", batch, SignatureHeader, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/v1/webhooks/whatsapp", batch, SignatureHeader, "sha256="+signBody("hook-secret", batch))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["records"])
	assert.Equal(t, float64(1), body["processed"])
	assert.Equal(t, float64(1), body["failed"])

	contact, err := s.app.Contacts.FindByPhone(context.Background(), "+919876543210")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Asha", contact.Name)

	depth, err := s.app.DLQ.Depth(context.Background(), models.QueueInbound)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	// A single envelope without the records wrapper is accepted too.
	single := inboundRecord(t, "919876543210", "wamid.2", "again")
	w = s.do(t, http.MethodPost, "/v1/webhooks/whatsapp", single, SignatureHeader, "sha256="+signBody("hook-secret", single))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["processed"])
}

func TestServer_SendChecksWindow(t *testing.T) {
	s := newTestServer(t, testConfig(t), app.Options{})

	w := s.do(t, http.MethodPost, "/v1/contacts", map[string]interface{}{"phone": "+919876543210"})
	require.Equal(t, http.StatusCreated, w.Code)
	contactID := decode(t, w)["id"].(string)

	w = s.do(t, http.MethodPost, "/v1/messages", map[string]interface{}{
		"contactId": contactID, "phoneNumberId": "phone-1", "content": "hello",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "CONSENT", decode(t, w)["error"])

	w = s.do(t, http.MethodPost, "/v1/messages", map[string]interface{}{
		"contactId": contactID, "phoneNumberId": "phone-1", "isTemplate": true, "templateName": "welcome",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "DRY_RUN", body["mode"])
	assert.True(t, strings.HasPrefix(body["whatsappMessageId"].(string), "dry-run-"))

	w = s.do(t, http.MethodPost, "/v1/messages", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ThrottledSendIsQueued(t *testing.T) {
	cfg := testConfig(t)
	cfg.SendMode = models.SendModeLive
	cfg.Media.Bucket = "media"
	cfg.DLQ.RouteThrottled = true
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := newTestServer(t, cfg, app.Options{
		Provider: throttledProvider{},
		Blobs:    blobstore.NewMemoryStore("media", logger),
	})

	contact, err := s.app.Contacts.Create(context.Background(), models.ContactInput{Phone: "+919876543210"})
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/v1/messages", map[string]interface{}{
		"contactId": contact.ID, "phoneNumberId": "phone-1", "isTemplate": true, "templateName": "welcome",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", decode(t, w)["status"])

	entries, err := s.app.DLQ.List(context.Background(), models.QueueOutbound, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var stored models.SendRequest
	require.NoError(t, json.Unmarshal(entries[0].Payload, &stored))
	assert.Equal(t, "welcome", stored.TemplateName)
}

func TestServer_ContactsLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig(t), app.Options{})

	w := s.do(t, http.MethodPost, "/v1/contacts", map[string]interface{}{"name": "Ravi", "phone": "+919812345678"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	w = s.do(t, http.MethodPost, "/v1/contacts", map[string]interface{}{"phone": "+919812345678"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPut, "/v1/contacts/"+id, map[string]interface{}{"optInWhatsApp": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["optInWhatsApp"])

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/contacts/"+id, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/v1/contacts/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/contacts/"+id, nil).Code)

	w = s.do(t, http.MethodDelete, "/v1/contacts/"+id+"?hard=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["contactId"])
}

func TestServer_ScheduledLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig(t), app.Options{})
	contact, err := s.app.Contacts.Create(context.Background(), models.ContactInput{Phone: "+919876543210"})
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/v1/scheduled", map[string]interface{}{
		"contactId":     contact.ID,
		"templateName":  "reminder",
		"phoneNumberId": "phone-1",
		"scheduledAt":   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["scheduledId"].(string)

	w = s.do(t, http.MethodGet, "/v1/scheduled?status=PENDING", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []models.ScheduledMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	assert.Len(t, pending, 1)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/v1/scheduled/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/v1/scheduled/"+id, nil).Code)

	w = s.do(t, http.MethodPost, "/v1/scheduled", map[string]interface{}{
		"contactId": contact.ID, "templateName": "reminder", "phoneNumberId": "phone-1", "scheduledAt": "2001-01-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_DLQReplay(t *testing.T) {
	s := newTestServer(t, testConfig(t), app.Options{})
	_, err := s.app.DLQ.Enqueue(context.Background(), models.QueueInbound, "env-1",
		json.RawMessage(inboundRecord(t, "919876543210", "wamid.9", "late")), nil)
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/v1/dlq/inbound", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/v1/dlq/inbound/replay", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["replayed"])

	w = s.do(t, http.MethodPost, "/v1/dlq/unknown/replay", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_SystemConfig(t *testing.T) {
	s := newTestServer(t, testConfig(t), app.Options{})

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/config/ai_config", nil).Code)

	w := s.do(t, http.MethodPut, "/v1/config/ai_config", map[string]interface{}{"mode": "off"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/config/ai_config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ai_config", decode(t, w)["configKey"])
	assert.Equal(t, models.SuggestionOff, s.app.SysConfig.AIConfig(context.Background()).Mode)
}

func TestServer_VersionNegotiation(t *testing.T) {
	s := newTestServer(t, testConfig(t), app.Options{})

	w := s.do(t, http.MethodGet, "/v1/config/ai_config", nil, versioning.AcceptVersionHeader, "1.0")
	assert.Equal(t, http.StatusNotImplemented, w.Code, "system config arrived in 1.1")
	assert.Equal(t, versioning.CurrentVersion.String(), w.Header().Get(versioning.CurrentVersionHeader))

	w = s.do(t, http.MethodGet, "/v1/scheduled", nil, versioning.AcceptVersionHeader, "2")
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = s.do(t, http.MethodGet, "/v1/scheduled", nil, versioning.AcceptVersionHeader, "latest")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/v1/scheduled", nil, versioning.AcceptVersionHeader, "1.0.0")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, versioning.CurrentVersion.String(), decode(t, w)["apiVersion"])
}

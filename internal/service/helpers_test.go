package service

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wadispatch/internal/alerts"
	"wadispatch/internal/blobstore"
	"wadispatch/internal/config"
	"wadispatch/internal/database"
	"wadispatch/internal/eventfeed"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/ratelimit"
	"wadispatch/internal/topic"
	"wadispatch/pkg/whatsapp"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testPhoneID     = "phone-number-id-1"
	testMetaPhoneID = "meta-phone-1"
	testWabaID      = "waba-1"
	testBusiness    = "919000000001"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) SendMessage(ctx context.Context, originationPhoneNumberID string, payload interface{}) (*types.SendMessageOutput, error) {
	args := m.Called(ctx, originationPhoneNumberID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SendMessageOutput), args.Error(1)
}

func (m *mockProvider) PostMedia(ctx context.Context, originationPhoneNumberID, bucket, key string) (*types.PostMediaOutput, error) {
	args := m.Called(ctx, originationPhoneNumberID, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.PostMediaOutput), args.Error(1)
}

func (m *mockProvider) GetMedia(ctx context.Context, originationPhoneNumberID, mediaID, bucket, key string) (*types.GetMediaOutput, error) {
	args := m.Called(ctx, originationPhoneNumberID, mediaID, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.GetMediaOutput), args.Error(1)
}

func (m *mockProvider) DeleteMedia(ctx context.Context, originationPhoneNumberID, mediaID string) error {
	args := m.Called(ctx, originationPhoneNumberID, mediaID)
	return args.Error(0)
}

// recordingFeed keeps published events for assertions.
type recordingFeed struct {
	mu     sync.Mutex
	events []string
}

func (f *recordingFeed) Publish(ev eventfeed.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev.Type)
}

func (f *recordingFeed) Types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type testEnv struct {
	cfg       *models.Config
	store     *database.Store
	blobs     *blobstore.MemoryStore
	provider  *mockProvider
	registry  *metrics.Registry
	published *topic.LogPublisher
	alerts    *alerts.Emitter
	limiter   *ratelimit.Limiter
	contacts  *ContactService
	dedup     *Deduplicator
	media     *MediaService
	engine    *SendEngine
	sysconfig *SystemConfigService
	dlq       *DLQService
	tasks     *TaskRunner
	inbound   *InboundProcessor
	feed      *recordingFeed
	logger    *logrus.Logger
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testConfig() *models.Config {
	cfg := config.Defaults()
	cfg.SendMode = models.SendModeLive
	cfg.PhoneNumbers = []models.PhoneNumberConfig{{
		MetaPhoneNumberID:  testMetaPhoneID,
		AWSPhoneNumberID:   testPhoneID,
		DisplayPhoneNumber: testBusiness,
		WabaID:             testWabaID,
	}}
	cfg.Media.Bucket = "media-bucket"
	cfg.RateLimits.WhatsAppPerSecond = 80
	cfg.RateLimits.Tier = 1
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(cfg *models.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(cfg)
	}

	logger := quietLogger()
	ctx := context.Background()

	store, err := database.Open(ctx, models.DatabaseConfig{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "dispatch.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		cfg:       cfg,
		store:     store,
		blobs:     blobstore.NewMemoryStore(cfg.Media.Bucket, logger),
		provider:  &mockProvider{},
		registry:  metrics.NewRegistry(cfg.Metrics.Namespace),
		published: topic.NewLogPublisher(logger),
		feed:      &recordingFeed{},
		logger:    logger,
	}
	env.alerts = alerts.NewEmitter(env.published, cfg.MQTT.AlertTopic, env.registry, logger)
	env.limiter = ratelimit.New(ratelimit.NewDocstoreBackend(store), cfg.RateLimits, logger)
	env.contacts = NewContactService(store, env.blobs, logger)
	env.dedup = NewDeduplicator(store)
	env.media = NewMediaService(env.blobs, env.provider, store, cfg.Media, cfg.SendMode, logger)
	env.engine = NewSendEngine(cfg, SendDeps{
		Store:    store,
		Contacts: env.contacts,
		Limiter:  env.limiter,
		Media:    env.media,
		Builder:  whatsapp.NewBuilder(cfg.Payment),
		Provider: env.provider,
		Metrics:  env.registry,
		Alerts:   env.alerts,
		Feed:     env.feed,
		Logger:   logger,
	})
	env.sysconfig = NewSystemConfigService(store, cfg.Suggestion.Mode, env.feed, logger)
	env.dlq = NewDLQService(store, env.registry, env.alerts, cfg.DLQ, logger)
	env.tasks = NewTaskRunner(4, logger)
	env.inbound = NewInboundProcessor(cfg, InboundDeps{
		Store:     store,
		Contacts:  env.contacts,
		Dedup:     env.dedup,
		Media:     env.media,
		Engine:    env.engine,
		SysConfig: env.sysconfig,
		DLQ:       env.dlq,
		Tasks:     env.tasks,
		Metrics:   env.registry,
		Feed:      env.feed,
		Logger:    logger,
	})
	return env
}

// freshContact creates a contact whose service window is open.
func (env *testEnv) freshContact(t *testing.T, phone string) *models.Contact {
	t.Helper()
	contact, _, err := env.contacts.GetOrCreateByPhone(context.Background(), phone, "Asha", env.contacts.now().Unix())
	require.NoError(t, err)
	return contact
}

func (env *testEnv) messages(t *testing.T, direction models.Direction, contactID string) []models.Message {
	t.Helper()
	raws, err := env.store.Query(context.Background(), env.store.Tables().Messages, database.Query{
		Partition: string(direction),
		Sub:       contactID,
	})
	require.NoError(t, err)
	msgs, err := database.Decode[models.Message](raws)
	require.NoError(t, err)
	return msgs
}

// webhookRecord wraps a change value into an inbound notification record.
func webhookRecord(t *testing.T, field string, value interface{}) []byte {
	t.Helper()
	rawValue, err := json.Marshal(value)
	require.NoError(t, err)
	entry, err := json.Marshal(types.WebhookEntry{
		ID:      testWabaID,
		Changes: []types.WebhookChange{{Field: field, Value: rawValue}},
	})
	require.NoError(t, err)

	record, err := json.Marshal(types.InboundEnvelope{
		Context: types.EnvelopeContext{
			MetaWabaIDs:        []types.WabaRef{{WabaID: testWabaID}},
			MetaPhoneNumberIDs: []types.PhoneNumberRef{{MetaPhoneNumberID: testMetaPhoneID}},
		},
		WhatsAppWebhookEntry: string(entry),
		MessageID:            "envelope-" + field,
	})
	require.NoError(t, err)
	return record
}

func messagesValue(metaPhoneID string) map[string]interface{} {
	return map[string]interface{}{
		"messaging_product": "whatsapp",
		"metadata": map[string]interface{}{
			"display_phone_number": testBusiness,
			"phone_number_id":      metaPhoneID,
		},
	}
}

func textValue(from, name, id, body string, ts time.Time) map[string]interface{} {
	v := messagesValue(testMetaPhoneID)
	v["contacts"] = []interface{}{map[string]interface{}{
		"profile": map[string]interface{}{"name": name},
		"wa_id":   from,
	}}
	v["messages"] = []interface{}{map[string]interface{}{
		"from":      from,
		"id":        id,
		"timestamp": ts.Unix(),
		"type":      "text",
		"text":      map[string]interface{}{"body": body},
	}}
	return v
}

// payloadJSON decodes a captured provider payload into a generic map.
func payloadJSON(t *testing.T, payload interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func sent(id string) *types.SendMessageOutput {
	return &types.SendMessageOutput{MessageID: id}
}

func isPayloadType(kind string) interface{} {
	return mock.MatchedBy(func(p *types.MessagePayload) bool { return p.Type == kind })
}

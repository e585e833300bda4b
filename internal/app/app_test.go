package app

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"wadispatch/internal/config"
	"wadispatch/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dryRunConfig(t *testing.T) *models.Config {
	cfg := config.Defaults()
	cfg.SendMode = models.SendModeDryRun
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.PhoneNumbers = []models.PhoneNumberConfig{{MetaPhoneNumberID: "meta-1", AWSPhoneNumberID: "phone-1"}}
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNew_DryRunWiring(t *testing.T) {
	a, err := New(context.Background(), dryRunConfig(t), quietLogger(), Options{SkipMQTT: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Provider)
	assert.Nil(t, a.MQTT)
	assert.Nil(t, a.Suggestions)
	assert.Equal(t, "dry-run", a.Blobs.Bucket())
	require.NoError(t, a.Store.Ping(context.Background()))

	contact, err := a.Contacts.Create(context.Background(), models.ContactInput{Phone: "+919876543210"})
	require.NoError(t, err)

	result, err := a.Engine.Send(context.Background(), &models.SendRequest{
		ContactID:     contact.ID,
		PhoneNumberID: "phone-1",
		IsTemplate:    true,
		TemplateName:  "welcome",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SendModeDryRun, result.Mode)
}

func TestNew_RegistersReplayHandlers(t *testing.T) {
	a, err := New(context.Background(), dryRunConfig(t), quietLogger(), Options{SkipMQTT: true})
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	_, err = a.DLQ.Enqueue(ctx, models.QueueInbound, "env-1", json.RawMessage(`{not json`), nil)
	require.NoError(t, err)

	report, err := a.DLQ.Replay(ctx, models.QueueInbound, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed, "the inbound handler is registered and rejects the payload")
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	cfg := dryRunConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := New(context.Background(), cfg, quietLogger(), Options{SkipMQTT: true})
	assert.Error(t, err)
}

func TestConfigureLogger(t *testing.T) {
	logger := quietLogger()

	ConfigureLogger(logger, "debug", false)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	ConfigureLogger(logger, "warn", false)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	ConfigureLogger(logger, "nonsense", false)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	ConfigureLogger(logger, "error", true)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

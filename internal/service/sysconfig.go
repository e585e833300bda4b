package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/eventfeed"
	"wadispatch/internal/models"

	"github.com/sirupsen/logrus"
)

// SystemConfigService stores opaque configuration values and webhook event snapshots.
type SystemConfigService struct {
	store       database.DocumentStore
	tables      database.Tables
	defaultMode models.SuggestionMode
	feed        eventfeed.Publisher
	logger      *logrus.Logger
	now         func() time.Time
}

func NewSystemConfigService(store database.DocumentStore, defaultMode models.SuggestionMode, feed eventfeed.Publisher, logger *logrus.Logger) *SystemConfigService {
	if defaultMode == "" {
		defaultMode = models.SuggestionSuggest
	}
	if feed == nil {
		feed = eventfeed.Discard{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SystemConfigService{
		store:       store,
		tables:      store.Tables(),
		defaultMode: defaultMode,
		feed:        feed,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *SystemConfigService) Get(ctx context.Context, key string) (*models.SystemConfig, error) {
	var cfg models.SystemConfig
	if err := s.store.Get(ctx, s.tables.SystemConfig, key, &cfg); err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, errors.NewNotFoundError("system config", key)
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *SystemConfigService) Put(ctx context.Context, key string, value json.RawMessage) (*models.SystemConfig, error) {
	if key == "" {
		return nil, errors.NewValidationError("configKey", "", "config key is required")
	}
	if !json.Valid(value) {
		return nil, errors.NewValidationError("value", "", "value must be valid JSON")
	}
	cfg := &models.SystemConfig{ConfigKey: key, Value: value, UpdatedAt: s.now().Unix()}
	if err := s.store.Put(ctx, s.tables.SystemConfig, key, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RecordEvent snapshots a non-message webhook change under event:{field}.
func (s *SystemConfigService) RecordEvent(ctx context.Context, field string, value json.RawMessage) error {
	if len(value) == 0 {
		value = json.RawMessage("{}")
	}
	if _, err := s.Put(ctx, models.ConfigKeyEventPrefix+field, value); err != nil {
		return err
	}
	s.feed.Publish(eventfeed.Event{Type: eventfeed.EventSystemConfig, Status: field, Data: value})
	logEntry(ctx, s.logger, logrus.Fields{"field": field}).Info("Recorded webhook event snapshot")
	return nil
}

// AIConfig returns the stored AI config, falling back to the configured default mode.
func (s *SystemConfigService) AIConfig(ctx context.Context) models.AIConfig {
	fallback := models.AIConfig{Mode: s.defaultMode}
	cfg, err := s.Get(ctx, models.ConfigKeyAI)
	if err != nil {
		if !errors.HasCode(err, errors.ErrCodeNotFound) {
			logEntry(ctx, s.logger, nil).WithError(err).Warn("Failed to load AI config, using default mode")
		}
		return fallback
	}
	var ai models.AIConfig
	if err := json.Unmarshal(cfg.Value, &ai); err != nil {
		logEntry(ctx, s.logger, nil).WithError(err).Warn("Stored AI config is invalid, using default mode")
		return fallback
	}
	switch ai.Mode {
	case models.SuggestionOff, models.SuggestionSuggest, models.SuggestionAutoReply:
	default:
		ai.Mode = s.defaultMode
	}
	return ai
}

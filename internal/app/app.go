// Package app builds the dependency graph shared by the service and the operator CLI.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wadispatch/internal/alerts"
	"wadispatch/internal/blobstore"
	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/eventfeed"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/ratelimit"
	"wadispatch/internal/retry"
	"wadispatch/internal/service"
	"wadispatch/internal/topic"
	"wadispatch/pkg/circuitbreaker"
	"wadispatch/pkg/whatsapp"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// Options tweak construction for callers that do not need every collaborator.
type Options struct {
	// SkipMQTT keeps alert publishing on the log publisher even when a broker is configured.
	SkipMQTT bool
	// Provider overrides the HTTP provider client.
	Provider types.Provider
	// Blobs overrides the S3 blob store.
	Blobs blobstore.Store
}

// App holds every long-lived component.
type App struct {
	Config   *models.Config
	Logger   *logrus.Logger
	Store    *database.Store
	Blobs    blobstore.Store
	Provider types.Provider
	Registry *metrics.Registry
	Alerts   *alerts.Emitter
	MQTT     *topic.Client
	Feed     *eventfeed.Hub
	Limiter  *ratelimit.Limiter

	Contacts    *service.ContactService
	Media       *service.MediaService
	Engine      *service.SendEngine
	SysConfig   *service.SystemConfigService
	Suggestions *service.SuggestionService
	DLQ         *service.DLQService
	Tasks       *service.TaskRunner
	Inbound     *service.InboundProcessor
	Scheduled   *service.ScheduledService
	Sweeper     *service.Sweeper

	closers []func()
}

// New connects to the backing stores and wires the services.
func New(ctx context.Context, cfg *models.Config, logger *logrus.Logger, opts Options) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: metrics.NewRegistry(cfg.Metrics.Namespace),
		Feed:     eventfeed.NewHub(constants.DefaultEventFeedBufferSize, logger, cfg.Server.EventOrigins...),
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	if err := a.connectBlobs(opts); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.connectProvider(opts); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.connectLimiter(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.connectAlerts(ctx, opts)
	a.buildServices()
	return a, nil
}

// openStore retries the initial connection with exponential backoff.
func (a *App) openStore(ctx context.Context) error {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultBackoffMaxSec) * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err := backoff.Retry(ctx, func() error {
		store, err := database.Open(ctx, a.Config.Database, a.Logger)
		if err != nil {
			a.Logger.WithError(err).Warn("Failed to open document store")
			return err
		}
		a.Store = store
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to open document store after retries: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.Store.Close() })
	return nil
}

func (a *App) connectBlobs(opts Options) error {
	switch {
	case opts.Blobs != nil:
		a.Blobs = opts.Blobs
	case a.Config.Media.Bucket == "":
		a.Logger.Warn("No media bucket configured, keeping media in memory")
		a.Blobs = blobstore.NewMemoryStore("dry-run", a.Logger)
	default:
		s3, err := blobstore.NewS3Store(a.Config.Media, a.Logger)
		if err != nil {
			return err
		}
		a.Blobs = s3
	}
	return nil
}

func (a *App) connectProvider(opts Options) error {
	if opts.Provider != nil {
		a.Provider = opts.Provider
		return nil
	}
	p := a.Config.Provider
	if p.BaseURL == "" {
		// Validation only allows this in DRY_RUN, where the engine never reaches the provider.
		return nil
	}
	client, err := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:         p.BaseURL,
		APIKey:          p.APIKey,
		Region:          p.Region,
		AccessKeyID:     p.AccessKeyID,
		SecretAccessKey: p.SecretAccessKey,
		SigningService:  p.SigningService,
		MetaAPIVersion:  p.MetaAPIVersion,
		Timeout:         time.Duration(p.TimeoutMs) * time.Millisecond,
		RetryCount:      p.RetryCount,
		BreakerFailures: uint32(p.BreakerFailures),
		BreakerReset:    time.Duration(p.BreakerResetSec) * time.Second,
		OnBreakerChange: func(name string, from, to circuitbreaker.State) {
			a.Registry.SetGauge("provider_breaker_state", float64(to), map[string]string{"Breaker": name}, "Provider circuit breaker state")
		},
	}, a.Logger)
	if err != nil {
		return err
	}
	a.Provider = client
	return nil
}

func (a *App) connectLimiter(ctx context.Context) error {
	var backend ratelimit.Backend
	switch a.Config.RateLimits.Backend {
	case "redis":
		rdb := ratelimit.NewRedisClient(a.Config.RateLimits)
		redisBackend := ratelimit.NewRedisBackend(rdb)
		if err := redisBackend.Ping(ctx); err != nil {
			_ = rdb.Close()
			return fmt.Errorf("failed to reach redis rate limit backend: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		backend = redisBackend
	default:
		backend = ratelimit.NewDocstoreBackend(a.Store)
	}
	a.Limiter = ratelimit.New(backend, a.Config.RateLimits, a.Logger)
	return nil
}

// connectAlerts publishes alerts to MQTT when a broker is reachable, otherwise to the log.
func (a *App) connectAlerts(ctx context.Context, opts Options) {
	var publisher topic.Publisher = topic.NewLogPublisher(a.Logger)
	if a.Config.MQTT.Broker != "" && !opts.SkipMQTT {
		client := topic.NewClient(a.Config.MQTT, a.Logger)
		if err := client.Connect(ctx); err != nil {
			a.Logger.WithError(err).Warn("MQTT unavailable, alerts go to the log only")
		} else {
			a.MQTT = client
			publisher = client
			a.closers = append(a.closers, client.Close)
		}
	}
	a.Alerts = alerts.NewEmitter(publisher, a.Config.MQTT.AlertTopic, a.Registry, a.Logger)
}

func (a *App) buildServices() {
	cfg := a.Config
	a.Contacts = service.NewContactService(a.Store, a.Blobs, a.Logger)
	a.Media = service.NewMediaService(a.Blobs, a.Provider, a.Store, cfg.Media, cfg.SendMode, a.Logger)
	a.Engine = service.NewSendEngine(cfg, service.SendDeps{
		Store:    a.Store,
		Contacts: a.Contacts,
		Limiter:  a.Limiter,
		Media:    a.Media,
		Builder:  whatsapp.NewBuilder(cfg.Payment),
		Provider: a.Provider,
		Metrics:  a.Registry,
		Alerts:   a.Alerts,
		Feed:     a.Feed,
		Logger:   a.Logger,
	})
	a.SysConfig = service.NewSystemConfigService(a.Store, cfg.Suggestion.Mode, a.Feed, a.Logger)
	if cfg.Suggestion.URL != "" {
		a.Suggestions = service.NewSuggestionService(service.NewSuggestionClient(cfg.Suggestion), a.SysConfig, a.Engine, a.Store, a.Logger)
	}
	a.DLQ = service.NewDLQService(a.Store, a.Registry, a.Alerts, cfg.DLQ, a.Logger)
	a.Tasks = service.NewTaskRunner(cfg.Tasks.Concurrency, a.Logger)
	a.Inbound = service.NewInboundProcessor(cfg, service.InboundDeps{
		Store:       a.Store,
		Contacts:    a.Contacts,
		Dedup:       service.NewDeduplicator(a.Store),
		Media:       a.Media,
		Engine:      a.Engine,
		Suggestions: a.Suggestions,
		SysConfig:   a.SysConfig,
		DLQ:         a.DLQ,
		Tasks:       a.Tasks,
		Metrics:     a.Registry,
		Feed:        a.Feed,
		Logger:      a.Logger,
	})
	a.Scheduled = service.NewScheduledService(a.Store, a.Contacts, a.Engine, a.Registry, cfg.Scheduler.BatchSize, a.Logger)
	a.Sweeper = service.NewSweeper(a.Store, a.Logger)

	a.DLQ.Register(models.QueueInbound, func(ctx context.Context, payload json.RawMessage) error {
		return a.Inbound.HandleRecord(ctx, payload)
	})
	a.DLQ.Register(models.QueueOutbound, service.OutboundReplayHandler(a.Engine))
}

// Close waits for background follow-ups and releases connections in reverse order.
func (a *App) Close() {
	if a.Tasks != nil {
		a.Tasks.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ConfigureLogger applies the configured level. Levels above info are clamped
// to info unless verbose, since debug entries carry unmasked identifiers.
func ConfigureLogger(logger *logrus.Logger, level string, verbose bool) {
	logger.SetFormatter(&logrus.JSONFormatter{})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	if parsed > logrus.InfoLevel {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

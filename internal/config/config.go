package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"wadispatch/internal/constants"
	"wadispatch/internal/models"
	"wadispatch/internal/security"
	pkgconstants "wadispatch/pkg/constants"

	"github.com/joho/godotenv"
)

var (
	ErrMissingPhoneNumbers = models.ConfigError{Message: "at least one phone number mapping is required"}
	ErrMissingMediaBucket  = models.ConfigError{Message: "media bucket is required in LIVE mode"}
	ErrMissingProviderURL  = models.ConfigError{Message: "provider base URL is required in LIVE mode"}
	ErrInvalidSendMode     = models.ConfigError{Message: "send_mode must be LIVE or DRY_RUN"}
)

// LoadConfig reads the JSON config file, then .env, then environment overrides.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	config := Defaults()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, err
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, err
	}
	applyDefaults(config)

	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Defaults returns a config populated with every default value.
func Defaults() *models.Config {
	c := &models.Config{}
	applyDefaults(c)
	return c
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		c.Server.ShutdownTimeoutSec = constants.DefaultGracefulShutdownSec
	}
	if c.SendMode == "" {
		c.SendMode = models.SendModeLive
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Driver == "sqlite3" && c.Database.Path == "" {
		c.Database.Path = "wadispatch.db"
	}
	if c.Media.InboundPrefix == "" {
		c.Media.InboundPrefix = constants.DefaultMediaPrefixInbound
	}
	if c.Media.OutboundPrefix == "" {
		c.Media.OutboundPrefix = constants.DefaultMediaPrefixOutbound
	}
	if c.Media.PresignExpirySec <= 0 {
		c.Media.PresignExpirySec = constants.DefaultPresignedURLExpirySec
	}
	if c.Provider.SigningService == "" {
		c.Provider.SigningService = pkgconstants.DefaultSigningService
	}
	if c.Provider.MetaAPIVersion == "" {
		c.Provider.MetaAPIVersion = pkgconstants.DefaultMetaAPIVersion
	}
	if c.Provider.TimeoutMs <= 0 {
		c.Provider.TimeoutMs = pkgconstants.DefaultProviderTimeoutSec * 1000
	}
	if c.Provider.RetryCount < 0 {
		c.Provider.RetryCount = 0
	}
	if c.Provider.BreakerFailures <= 0 {
		c.Provider.BreakerFailures = pkgconstants.DefaultBreakerMaxFailures
	}
	if c.Provider.BreakerResetSec <= 0 {
		c.Provider.BreakerResetSec = pkgconstants.DefaultBreakerResetSec
	}
	if c.RateLimits.WhatsAppPerSecond == 0 {
		c.RateLimits.WhatsAppPerSecond = constants.DefaultWhatsAppRatePerSecond
	}
	if c.RateLimits.SMSPerSecond == 0 {
		c.RateLimits.SMSPerSecond = constants.DefaultSMSRatePerSecond
	}
	if c.RateLimits.EmailPerSecond == 0 {
		c.RateLimits.EmailPerSecond = constants.DefaultEmailRatePerSecond
	}
	if c.RateLimits.Backend == "" {
		c.RateLimits.Backend = "docstore"
	}
	if c.RateLimits.Tier == 0 {
		c.RateLimits.Tier = 1
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = constants.DefaultPaymentCurrency
	}
	if c.Payment.GatewayType == "" {
		c.Payment.GatewayType = constants.DefaultPaymentGatewayType
	}
	if c.Payment.ConfigurationName == "" {
		c.Payment.ConfigurationName = constants.DefaultPaymentConfiguration
	}
	if c.MQTT.InboundTopic == "" {
		c.MQTT.InboundTopic = constants.DefaultInboundTopic
	}
	if c.MQTT.AlertTopic == "" {
		c.MQTT.AlertTopic = constants.DefaultAlertTopic
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = constants.DefaultMQTTQoS
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "wadispatch"
	}
	if c.Suggestion.Mode == "" {
		c.Suggestion.Mode = models.SuggestionSuggest
	}
	if c.Suggestion.TimeoutMs <= 0 {
		c.Suggestion.TimeoutMs = constants.DefaultSuggestionTimeoutSec * 1000
	}
	if c.DLQ.MaxRetries <= 0 {
		c.DLQ.MaxRetries = constants.MaxDLQRetries
	}
	if c.DLQ.BatchSize <= 0 || c.DLQ.BatchSize > constants.MaxDLQBatchSize {
		c.DLQ.BatchSize = constants.MaxDLQBatchSize
	}
	if c.DLQ.AlertDepth <= 0 {
		c.DLQ.AlertDepth = constants.DLQDepthAlertThreshold
	}
	if c.Scheduler.TickIntervalSec <= 0 {
		c.Scheduler.TickIntervalSec = constants.DefaultScheduledTickSec
	}
	if c.Scheduler.SweepIntervalSec <= 0 {
		c.Scheduler.SweepIntervalSec = constants.DefaultSweepIntervalSec
	}
	if c.Scheduler.BatchSize <= 0 || c.Scheduler.BatchSize > constants.MaxScheduledPerTick {
		c.Scheduler.BatchSize = constants.MaxScheduledPerTick
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = constants.DefaultMetricNamespace
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "wadispatch"
	}
	if c.Tasks.Concurrency <= 0 {
		c.Tasks.Concurrency = constants.DefaultTaskRunnerConcurrency
	}
	if c.AutoReaction.Emoji == "" {
		c.AutoReaction.Emoji = constants.DefaultAutoReactionEmoji
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(c *models.Config) error {
	if mode := os.Getenv("SEND_MODE"); mode != "" {
		c.SendMode = models.SendMode(strings.ToUpper(strings.TrimSpace(mode)))
	}
	if bucket := os.Getenv("MEDIA_BUCKET"); bucket != "" {
		c.Media.Bucket = bucket
	}
	if prefix := os.Getenv("MEDIA_PREFIX_INBOUND"); prefix != "" {
		c.Media.InboundPrefix = strings.TrimSuffix(prefix, "/")
	}
	if prefix := os.Getenv("MEDIA_PREFIX_OUTBOUND"); prefix != "" {
		c.Media.OutboundPrefix = strings.TrimSuffix(prefix, "/")
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.RateLimits.RedisAddr = addr
	}
	if backend := os.Getenv("RATE_LIMIT_BACKEND"); backend != "" {
		c.RateLimits.Backend = backend
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}
	if url := os.Getenv("PROVIDER_BASE_URL"); url != "" {
		c.Provider.BaseURL = url
	}
	// SECURITY: provider credentials should be set via environment variables
	if key := os.Getenv("PROVIDER_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.Provider.Region = region
		if c.Media.Region == "" {
			c.Media.Region = region
		}
	}
	if ids := os.Getenv("ALLOWED_PHONE_NUMBER_IDS"); ids != "" {
		c.AllowedPhoneNumberIDs = splitList(ids)
	}
	if tier := os.Getenv("WHATSAPP_TIER"); tier != "" {
		n, err := strconv.Atoi(tier)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid WHATSAPP_TIER: %s", tier)}
		}
		c.RateLimits.Tier = n
	}
	if ns := os.Getenv("METRIC_NAMESPACE"); ns != "" {
		c.Metrics.Namespace = ns
	}
	if v := os.Getenv("ENFORCE_SERVICE_WINDOW"); v != "" {
		enforce, err := strconv.ParseBool(v)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid ENFORCE_SERVICE_WINDOW: %s", v)}
		}
		c.EnforceServiceWindow = &enforce
	}
	if secret := os.Getenv("ENCRYPTION_SECRET"); secret != "" {
		c.Database.Encryption.Secret = secret
		c.Database.Encryption.Enabled = true
	}
	if url := os.Getenv("SUGGESTION_URL"); url != "" {
		c.Suggestion.URL = url
	}
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		c.Server.WebhookSecret = secret
	}
	if key := os.Getenv("API_KEY"); key != "" {
		c.Server.APIKey = key
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	return nil
}

func validate(c *models.Config) error {
	if c.SendMode != models.SendModeLive && c.SendMode != models.SendModeDryRun {
		return ErrInvalidSendMode
	}
	if _, ok := constants.TierLimits[c.RateLimits.Tier]; !ok {
		return models.ConfigError{Message: fmt.Sprintf("tier must be between 1 and 4, got %d", c.RateLimits.Tier)}
	}
	if len(c.PhoneNumbers) == 0 {
		return ErrMissingPhoneNumbers
	}

	configured := make(map[string]bool)
	for i, p := range c.PhoneNumbers {
		if p.AWSPhoneNumberID == "" {
			return models.ConfigError{Message: fmt.Sprintf("empty aws_phone_number_id in phone number %d", i)}
		}
		if configured[p.AWSPhoneNumberID] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate aws_phone_number_id: %s", p.AWSPhoneNumberID)}
		}
		configured[p.AWSPhoneNumberID] = true
	}
	for _, id := range c.AllowedPhoneNumberIDs {
		if !configured[id] {
			return models.ConfigError{Message: fmt.Sprintf("allowed phone number id %s has no phone number mapping", id)}
		}
	}

	if c.SendMode == models.SendModeLive {
		if c.Media.Bucket == "" {
			return ErrMissingMediaBucket
		}
		if c.Provider.BaseURL == "" {
			return ErrMissingProviderURL
		}
	}

	if c.RateLimits.WhatsAppPerSecond < 0 || c.RateLimits.SMSPerSecond < 0 || c.RateLimits.EmailPerSecond < 0 {
		return models.ConfigError{Message: "rate limits must be positive"}
	}
	switch c.RateLimits.Backend {
	case "docstore":
	case "redis":
		if c.RateLimits.RedisAddr == "" {
			return models.ConfigError{Message: "redis rate limit backend requires redis_addr"}
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown rate limit backend: %s", c.RateLimits.Backend)}
	}

	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return models.ConfigError{Message: "missing database path"}
		}
	case "pgx":
		if c.Database.DSN == "" {
			return models.ConfigError{Message: "pgx driver requires a dsn"}
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown database driver: %s", c.Database.Driver)}
	}
	if c.Database.Encryption.Enabled && len(c.Database.Encryption.Secret) < 32 {
		return models.ConfigError{Message: "encryption secret must be at least 32 characters long"}
	}

	switch c.Suggestion.Mode {
	case models.SuggestionOff, models.SuggestionSuggest, models.SuggestionAutoReply:
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown suggestion mode: %s", c.Suggestion.Mode)}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

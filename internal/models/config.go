package models

import (
	"wadispatch/pkg/whatsapp/types"
)

// Config holds the application configuration
type Config struct {
	Server               ServerConfig        `json:"server"`
	SendMode             SendMode            `json:"send_mode"`
	EnforceServiceWindow *bool               `json:"enforce_service_window,omitempty"`
	Database             DatabaseConfig      `json:"database"`
	Media                MediaConfig         `json:"media"`
	Provider             ProviderConfig      `json:"provider"`
	PhoneNumbers         []PhoneNumberConfig `json:"phone_numbers"`
	// AllowedPhoneNumberIDs restricts which origination IDs may send. Empty means all configured IDs.
	AllowedPhoneNumberIDs []string                    `json:"allowed_phone_number_ids"`
	StrictPhoneMapping    bool                        `json:"strict_phone_mapping"`
	RateLimits            RateLimitConfig             `json:"rate_limits"`
	Payment               types.PaymentSettingsConfig `json:"payment"`
	MQTT                  MQTTConfig                  `json:"mqtt"`
	Suggestion            SuggestionConfig            `json:"suggestion"`
	DLQ                   DLQConfig                   `json:"dlq"`
	Scheduler             SchedulerConfig             `json:"scheduler"`
	Metrics               MetricsConfig               `json:"metrics"`
	Tracing               TracingConfig               `json:"tracing"`
	Tasks                 TasksConfig                 `json:"tasks"`
	AutoReaction          AutoReactionConfig          `json:"auto_reaction"`
	LogLevel              string                      `json:"log_level"`
}

// ServiceWindowEnforced reports whether free-form sends require an open 24h window.
func (c *Config) ServiceWindowEnforced() bool {
	return c.EnforceServiceWindow == nil || *c.EnforceServiceWindow
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port               int `json:"port"`
	ReadTimeoutSec     int `json:"read_timeout_sec"`
	WriteTimeoutSec    int `json:"write_timeout_sec"`
	IdleTimeoutSec     int `json:"idle_timeout_sec"`
	ShutdownTimeoutSec int `json:"shutdown_timeout_sec"`
	// WebhookSecret verifies X-Hub-Signature-256 on the webhook endpoint. Empty disables the check.
	WebhookSecret string `json:"webhook_secret"`
	// APIKey, when set, is required as X-API-Key on the /v1 API.
	APIKey string `json:"api_key"`
	// EventOrigins are the websocket origin patterns accepted by the event feed.
	EventOrigins []string `json:"event_origins"`
}

// DatabaseConfig selects the document store backend.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "pgx".
	Driver     string            `json:"driver"`
	Path       string            `json:"path"`
	DSN        string            `json:"dsn"`
	Tables     map[string]string `json:"tables"`
	Encryption EncryptionConfig  `json:"encryption"`
}

type EncryptionConfig struct {
	Enabled bool   `json:"enabled"`
	Secret  string `json:"secret"`
}

// MediaConfig holds blob store settings
type MediaConfig struct {
	Bucket           string `json:"bucket"`
	InboundPrefix    string `json:"inbound_prefix"`
	OutboundPrefix   string `json:"outbound_prefix"`
	Region           string `json:"region"`
	Endpoint         string `json:"endpoint"`
	AccessKeyID      string `json:"access_key_id"`
	SecretAccessKey  string `json:"secret_access_key"`
	ForcePathStyle   bool   `json:"force_path_style"`
	PresignExpirySec int    `json:"presign_expiry_sec"`
}

// ProviderConfig holds the WhatsApp Business provider settings
type ProviderConfig struct {
	BaseURL         string `json:"base_url"`
	APIKey          string `json:"api_key"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SigningService  string `json:"signing_service"`
	MetaAPIVersion  string `json:"meta_api_version"`
	TimeoutMs       int    `json:"timeout_ms"`
	RetryCount      int    `json:"retry_count"`
	BreakerFailures int    `json:"breaker_failures"`
	BreakerResetSec int    `json:"breaker_reset_sec"`
}

// PhoneNumberConfig maps a Meta phone-number ID to the provider origination ID.
type PhoneNumberConfig struct {
	MetaPhoneNumberID  string `json:"meta_phone_number_id"`
	AWSPhoneNumberID   string `json:"aws_phone_number_id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	WabaID             string `json:"waba_id"`
}

// RateLimitConfig holds per-identity per-second limits.
type RateLimitConfig struct {
	WhatsAppPerSecond int `json:"whatsapp_per_second"`
	SMSPerSecond      int `json:"sms_per_second"`
	EmailPerSecond    int `json:"email_per_second"`
	// Backend is "docstore" or "redis".
	Backend       string `json:"backend"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	Tier          int    `json:"tier"`
}

// LimitFor returns the per-second limit for a channel.
func (r RateLimitConfig) LimitFor(channel Channel) int {
	switch channel {
	case ChannelSMS:
		return r.SMSPerSecond
	case ChannelEmail:
		return r.EmailPerSecond
	default:
		return r.WhatsAppPerSecond
	}
}

type MQTTConfig struct {
	Broker       string `json:"broker"`
	ClientID     string `json:"client_id"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	InboundTopic string `json:"inbound_topic"`
	AlertTopic   string `json:"alert_topic"`
	QoS          byte   `json:"qos"`
}

// SuggestionConfig points at the external reply-suggestion service.
type SuggestionConfig struct {
	URL       string         `json:"url"`
	APIKey    string         `json:"api_key"`
	Mode      SuggestionMode `json:"mode"`
	TimeoutMs int            `json:"timeout_ms"`
}

type DLQConfig struct {
	RouteThrottled bool `json:"route_throttled"`
	MaxRetries     int  `json:"max_retries"`
	BatchSize      int  `json:"batch_size"`
	AlertDepth     int  `json:"alert_depth"`
}

type SchedulerConfig struct {
	TickIntervalSec  int `json:"tick_interval_sec"`
	SweepIntervalSec int `json:"sweep_interval_sec"`
	BatchSize        int `json:"batch_size"`
}

type MetricsConfig struct {
	Namespace string `json:"namespace"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type TasksConfig struct {
	Concurrency int `json:"concurrency"`
}

// AutoReactionConfig controls the reaction sent back on every inbound message.
type AutoReactionConfig struct {
	Disabled bool   `json:"disabled"`
	Emoji    string `json:"emoji"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

package constants

import "time"

// Default server and loop configuration values
const (
	DefaultServerPort             = 8090
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 30
	DefaultServerIdleTimeoutSec   = 60
	DefaultGracefulShutdownSec    = 30
	DefaultScheduledTickSec       = 60
	DefaultSweepIntervalSec       = 300
	DefaultDatabaseRetryAttempts  = 3
	DefaultBackoffInitialMs       = 200
	DefaultBackoffMaxSec          = 2
	DefaultTaskRunnerConcurrency  = 16
	DefaultTaskTimeoutSec         = 20
	DefaultSuggestionTimeoutSec   = 10
	DefaultPresignedURLExpirySec  = 3600
	DefaultEventFeedBufferSize    = 64
	DefaultMQTTQoS                = 1
	DefaultMQTTConnectTimeoutSec  = 10
	DefaultInboundTopic           = "wadispatch/inbound"
	DefaultAlertTopic             = "wadispatch/alerts"
	DefaultMetricNamespace        = "WADispatch"
	DefaultTemplateLanguage       = "en_US"
	DefaultPaymentCurrency        = "INR"
	DefaultPaymentConfiguration   = "default"
	DefaultPaymentGatewayType     = "razorpay"
	DefaultAutoReactionEmoji      = "\U0001F44D"
	DefaultMediaPrefixInbound     = "WhatsApp/inbound"
	DefaultMediaPrefixOutbound    = "WhatsApp/outbound"
	DefaultInboundMediaNamePrefix = "wecare-digital-"
	ServerErrorChannelSize        = 1
)

// Per-unit time budgets
const (
	ProviderCallTimeout  = 15 * time.Second
	DocumentStoreTimeout = 3 * time.Second
	BlobStoreTimeout     = 10 * time.Second
	ScheduledTickBudget  = 60 * time.Second
)

// Retention periods
const (
	MessageTTL     = 30 * 24 * time.Hour
	DedupMarkerTTL = 30 * 24 * time.Hour
	DLQEntryTTL    = 7 * 24 * time.Hour
	RateBucketTTL  = 24 * time.Hour
	ServiceWindow  = 24 * time.Hour
)

// Send limits
const (
	MaxTextBytes              = 4096
	MaxReferenceIDLength      = 35
	MaxMessageIDLength        = 256
	MaxTemplateNameLength     = 512
	MaxDocumentFilenameLength = 240
	MaxScheduledPerTick       = 50
	MaxScheduledErrorLength   = 500
	MaxDLQBatchSize           = 100
	MaxDLQRetries             = 5
	DLQDepthAlertThreshold    = 10
	TierWarningPercent        = 80
)

// Per-second rate limits per channel identity
const (
	DefaultWhatsAppRatePerSecond = 80
	DefaultSMSRatePerSecond      = 5
	DefaultEmailRatePerSecond    = 10
)

// TierLimits holds the 24h conversation bound for WhatsApp tiers 1..4.
var TierLimits = map[int]int{
	1: 250,
	2: 1000,
	3: 10000,
	4: 100000,
}

// Payment arithmetic rates in basis points
const (
	ConvenienceFeeBps    = 200
	ConvenienceFeeGSTBps = 1800
	PaymentOffset        = 100
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Encryption salts for document bodies and lookup keys
const (
	EncryptionSalt       = "wadispatch-docstore-v1"
	EncryptionLookupSalt = "wadispatch-lookup-v1"
)

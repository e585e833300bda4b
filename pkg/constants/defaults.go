package constants

// Provider client defaults
const (
	DefaultProviderTimeoutSec   = 15
	DefaultProviderRetryCount   = 2
	DefaultProviderRetryWaitMs  = 300
	DefaultProviderMaxWaitSec   = 3
	DefaultMetaAPIVersion       = "v20.0"
	DefaultSigningService       = "social-messaging"
	DefaultBreakerMaxFailures   = 5
	DefaultBreakerResetSec      = 30
	DefaultSuggestionTimeoutSec = 10
)

// Provider REST paths
const (
	SendMessagePath   = "/v1/whatsapp/send"
	PostMediaPath     = "/v1/whatsapp/media"
	GetMediaPath      = "/v1/whatsapp/media/get"
	DeleteMediaPath   = "/v1/whatsapp/media"
	ThrottlingErrCode = "ThrottlingException"
)

// Interactive message limits
const (
	MaxListSections       = 10
	MaxListRows           = 10
	MaxReplyButtons       = 3
	MaxRowTitleRunes      = 24
	MaxRowDescRunes       = 72
	MaxButtonTitleRunes   = 20
	MaxDisplayTextRunes   = 20
	MaxHeaderTextRunes    = 60
	MaxBodyTextRunes      = 1024
	MaxFooterTextRunes    = 60
	FlowMessageVersion    = "3"
	MinPhoneDigits        = 10
	MaxPhoneDigits        = 15
	ReferenceIDPrefix     = "WDSR"
	MaxReferenceIDLength  = 35
	MaxDocumentNameLength = 240
)

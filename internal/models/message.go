package models

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeVideo       MessageType = "video"
	MessageTypeAudio       MessageType = "audio"
	MessageTypeDocument    MessageType = "document"
	MessageTypeSticker     MessageType = "sticker"
	MessageTypeLocation    MessageType = "location"
	MessageTypeContacts    MessageType = "contacts"
	MessageTypeReaction    MessageType = "reaction"
	MessageTypeInteractive MessageType = "interactive"
	MessageTypeButton      MessageType = "button"
	MessageTypeOrder       MessageType = "order"
	MessageTypePayment     MessageType = "payment"
	MessageTypeTemplate    MessageType = "template"
	MessageTypeSystem      MessageType = "system"
	MessageTypeUnsupported MessageType = "unsupported"
)

// IsMedia reports whether the type carries a media object.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeDocument, MessageTypeSticker:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusReceived  MessageStatus = "received"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusDryRun    MessageStatus = "dry_run"
	StatusPending   MessageStatus = "pending"
)

// SendMode selects whether the provider is actually called.
type SendMode string

const (
	SendModeLive   SendMode = "LIVE"
	SendModeDryRun SendMode = "DRY_RUN"
)

// Message is one inbound or outbound message. Messages are write-once except for status fields.
type Message struct {
	ID                string        `json:"id"`
	ContactID         string        `json:"contactId"`
	Channel           Channel       `json:"channel"`
	Direction         Direction     `json:"direction"`
	MessageType       MessageType   `json:"messageType"`
	Content           string        `json:"content"`
	Status            MessageStatus `json:"status"`
	Timestamp         int64         `json:"timestamp"`
	CreatedAt         int64         `json:"createdAt"`
	ExpiresAt         int64         `json:"expiresAt"`
	StatusUpdatedAt   int64         `json:"statusUpdatedAt,omitempty"`
	WhatsAppMessageID string        `json:"whatsappMessageId,omitempty"`
	ReplyToMessageID  string        `json:"replyToMessageId,omitempty"`
	Mode              SendMode      `json:"mode,omitempty"`

	MediaID   string `json:"mediaId,omitempty"`
	S3Key     string `json:"s3Key,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	Filename  string `json:"filename,omitempty"`
	MediaSize int64  `json:"mediaSize,omitempty"`

	SenderPhone      string   `json:"senderPhone,omitempty"`
	SenderName       string   `json:"senderName,omitempty"`
	ReceivingPhone   string   `json:"receivingPhone,omitempty"`
	AWSPhoneNumberID string   `json:"awsPhoneNumberId,omitempty"`
	MetaWabaIDs      []string `json:"metaWabaIds,omitempty"`

	ErrorDetails   *ErrorDetails `json:"errorDetails,omitempty"`
	SuggestedReply string        `json:"suggestedReply,omitempty"`

	PaymentFields
}

// ErrorDetails records why an outbound send failed.
type ErrorDetails struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PaymentFields are present on payment records. Amounts are minor units.
type PaymentFields struct {
	PaymentReferenceID string `json:"paymentReferenceId,omitempty"`
	PaymentStatus      string `json:"paymentStatus,omitempty"`
	PaymentAmount      int64  `json:"paymentAmount,omitempty"`
	PaymentOffset      int    `json:"paymentOffset,omitempty"`
	Currency           string `json:"currency,omitempty"`
	TransactionID      string `json:"transactionId,omitempty"`
	TransactionType    string `json:"transactionType,omitempty"`
}

// MediaFile is an optional sidecar describing a stored media object.
type MediaFile struct {
	FileID      string `json:"fileId"`
	MessageID   string `json:"messageId"`
	ContactID   string `json:"contactId,omitempty"`
	S3Key       string `json:"s3Key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	MediaID     string `json:"mediaId,omitempty"`
	UploadedAt  int64  `json:"uploadedAt"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
}

// RateBucket is a per-second send counter.
type RateBucket struct {
	Key          string `json:"key"`
	WindowStart  int64  `json:"windowStart"`
	MessageCount int64  `json:"messageCount"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// DedupMarker claims a provider event so it is processed once.
type DedupMarker struct {
	Key       string `json:"key"`
	MessageID string `json:"messageId,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

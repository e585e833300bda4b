package models

import (
	"wadispatch/pkg/whatsapp/types"
)

// SendKind is the message variant a SendRequest selects.
type SendKind string

const (
	SendText               SendKind = "text"
	SendMedia              SendKind = "media"
	SendTemplate           SendKind = "template"
	SendInteractive        SendKind = "interactive"
	SendOrderStatus        SendKind = "order_status"
	SendInteractivePayment SendKind = "interactive_payment"
	SendReaction           SendKind = "reaction"
)

// SendRequest is the caller-facing send envelope.
type SendRequest struct {
	ContactID      string  `json:"contactId,omitempty"`
	RecipientPhone string  `json:"recipientPhone,omitempty"`
	Channel        Channel `json:"channel,omitempty"`
	PhoneNumberID  string  `json:"phoneNumberId"`

	Content       string `json:"content,omitempty"`
	MediaFile     string `json:"mediaFile,omitempty"`
	MediaType     string `json:"mediaType,omitempty"`
	MediaFileName string `json:"mediaFileName,omitempty"`
	Caption       string `json:"caption,omitempty"`
	IsSticker     bool   `json:"isSticker,omitempty"`

	IsTemplate       bool     `json:"isTemplate,omitempty"`
	TemplateName     string   `json:"templateName,omitempty"`
	TemplateLanguage string   `json:"templateLanguage,omitempty"`
	TemplateParams   []string `json:"templateParams,omitempty"`

	IsPaymentTemplate bool                `json:"isPaymentTemplate,omitempty"`
	OrderDetails      *types.OrderDetails `json:"orderDetails,omitempty"`
	HeaderImageURL    string              `json:"headerImageUrl,omitempty"`

	IsInteractive   bool                   `json:"isInteractive,omitempty"`
	InteractiveType string                 `json:"interactiveType,omitempty"`
	InteractiveData *types.InteractiveData `json:"interactiveData,omitempty"`

	IsOrderStatus      bool                    `json:"isOrderStatus,omitempty"`
	OrderStatusDetails *types.OrderStatusInput `json:"orderStatusDetails,omitempty"`

	IsInteractivePayment bool                `json:"isInteractivePayment,omitempty"`
	PaymentDetails       *types.PaymentInput `json:"paymentDetails,omitempty"`

	IsReaction        bool   `json:"isReaction,omitempty"`
	ReactionMessageID string `json:"reactionMessageId,omitempty"`
	ReactionEmoji     string `json:"reactionEmoji,omitempty"`

	ReplyToMessageID string `json:"replyToMessageId,omitempty"`
	// Source tags internal callers (inbound, scheduled, dlq) in logs and metrics.
	Source string `json:"source,omitempty"`
	// ReplyToEvent marks sends answering a provider event the customer
	// triggered, such as a payment. They skip the service window check.
	// Never decoded from request bodies.
	ReplyToEvent bool `json:"-"`
}

// Kind resolves the variant. Flags are checked in a fixed order; media wins over plain text.
func (r *SendRequest) Kind() SendKind {
	switch {
	case r.IsReaction:
		return SendReaction
	case r.IsOrderStatus:
		return SendOrderStatus
	case r.IsInteractivePayment:
		return SendInteractivePayment
	case r.IsInteractive:
		return SendInteractive
	case r.IsTemplate || r.IsPaymentTemplate:
		return SendTemplate
	case r.MediaFile != "":
		return SendMedia
	default:
		return SendText
	}
}

// IsTemplateSend reports whether the request may be sent outside the service window.
func (r *SendRequest) IsTemplateSend() bool {
	return r.Kind() == SendTemplate
}

// SendResult is returned by the send engine for both successes and recorded failures.
type SendResult struct {
	MessageID         string        `json:"messageId,omitempty"`
	WhatsAppMessageID string        `json:"whatsappMessageId,omitempty"`
	Status            MessageStatus `json:"status,omitempty"`
	Mode              SendMode      `json:"mode,omitempty"`
	StatusCode        int           `json:"statusCode"`
	Error             string        `json:"error,omitempty"`
	Message           string        `json:"message,omitempty"`
	RetryAfter        int           `json:"retryAfter,omitempty"`
}

// OK reports whether the send reached a success terminal state.
func (r *SendResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

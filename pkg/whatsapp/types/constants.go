package types

// MessagingProduct is the fixed product marker on every Cloud API payload.
const MessagingProduct = "whatsapp"

// Outbound payload types
const (
	PayloadText        = "text"
	PayloadImage       = "image"
	PayloadVideo       = "video"
	PayloadAudio       = "audio"
	PayloadDocument    = "document"
	PayloadSticker     = "sticker"
	PayloadTemplate    = "template"
	PayloadInteractive = "interactive"
	PayloadReaction    = "reaction"
)

// Interactive message variants
const (
	InteractiveList            = "list"
	InteractiveButton          = "button"
	InteractiveLocationRequest = "location_request_message"
	InteractiveCTAURL          = "cta_url"
	InteractiveFlow            = "flow"
	InteractiveOrderStatus     = "order_status"
	InteractiveOrderDetails    = "order_details"
)

// Interactive action names
const (
	ActionSendLocation = "send_location"
	ActionCTAURL       = "cta_url"
	ActionFlow         = "flow"
	ActionReviewOrder  = "review_order"
	ActionReviewAndPay = "review_and_pay"
)

// Order status values accepted by order_status messages
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderCompleted  = "completed"
	OrderCanceled   = "canceled"
)

// Payment status values reported by payment status webhooks
const (
	PaymentPending  = "pending"
	PaymentCaptured = "captured"
	PaymentFailed   = "failed"
)

// Template component kinds
const (
	ComponentHeader = "header"
	ComponentBody   = "body"
	ComponentButton = "button"

	ButtonSubTypeOrderDetails = "order_details"
	ParameterText             = "text"
	ParameterImage            = "image"
	ParameterAction           = "action"
)

// ValidOrderStatuses is the closed set for order_status updates.
var ValidOrderStatuses = map[string]bool{
	OrderPending:    true,
	OrderProcessing: true,
	OrderShipped:    true,
	OrderCompleted:  true,
	OrderCanceled:   true,
}

// MediaPayloadTypes are the payload types carrying a media object.
var MediaPayloadTypes = map[string]bool{
	PayloadImage:    true,
	PayloadVideo:    true,
	PayloadAudio:    true,
	PayloadDocument: true,
	PayloadSticker:  true,
}

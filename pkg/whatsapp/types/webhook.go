package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// InboundEnvelope is one notification record delivered on the inbound topic.
type InboundEnvelope struct {
	Context              EnvelopeContext `json:"context"`
	WhatsAppWebhookEntry string          `json:"whatsAppWebhookEntry"`
	MessageID            string          `json:"messageId"`
}

type EnvelopeContext struct {
	MetaWabaIDs        []WabaRef        `json:"MetaWabaIds"`
	MetaPhoneNumberIDs []PhoneNumberRef `json:"MetaPhoneNumberIds"`
}

type WabaRef struct {
	WabaID string `json:"wabaId"`
	Arn    string `json:"arn"`
}

type PhoneNumberRef struct {
	MetaPhoneNumberID string `json:"metaPhoneNumberId"`
	Arn               string `json:"arn"`
}

// WebhookEntry is the decoded inner webhook carried as a JSON string in the envelope.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange keeps Value raw because only the "messages" field has a fixed shape.
type WebhookChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// DecodeEntry parses the inner webhook string.
func (e *InboundEnvelope) DecodeEntry() (*WebhookEntry, error) {
	if strings.TrimSpace(e.WhatsAppWebhookEntry) == "" {
		return nil, fmt.Errorf("envelope %s has no webhook entry", e.MessageID)
	}
	var entry WebhookEntry
	if err := json.Unmarshal([]byte(e.WhatsAppWebhookEntry), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode webhook entry: %w", err)
	}
	return &entry, nil
}

// IsMessages reports whether the change carries messages or statuses.
func (c WebhookChange) IsMessages() bool {
	return c.Field == "" || c.Field == "messages"
}

// MessagesValue decodes the change value as a messages payload.
func (c WebhookChange) MessagesValue() (*ChangeValue, error) {
	var v ChangeValue
	if len(c.Value) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return nil, fmt.Errorf("failed to decode change value: %w", err)
	}
	return &v, nil
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         ChangeMetadata   `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []StatusEvent    `json:"statuses,omitempty"`
	Errors           []WebhookError   `json:"errors,omitempty"`
}

type ChangeMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// ProfileName returns the sidecar profile name for a sender.
func (v *ChangeValue) ProfileName(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	if len(v.Contacts) == 1 {
		return v.Contacts[0].Profile.Name
	}
	return ""
}

type InboundMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   UnixTimestamp       `json:"timestamp"`
	Type        string              `json:"type"`
	Context     *InboundContext     `json:"context,omitempty"`
	Text        *InboundText        `json:"text,omitempty"`
	Image       *InboundMedia       `json:"image,omitempty"`
	Video       *InboundMedia       `json:"video,omitempty"`
	Audio       *InboundMedia       `json:"audio,omitempty"`
	Document    *InboundMedia       `json:"document,omitempty"`
	Sticker     *InboundMedia       `json:"sticker,omitempty"`
	Location    *InboundLocation    `json:"location,omitempty"`
	Contacts    []SharedContact     `json:"contacts,omitempty"`
	Reaction    *Reaction           `json:"reaction,omitempty"`
	Interactive *InboundInteractive `json:"interactive,omitempty"`
	Button      *InboundButton      `json:"button,omitempty"`
	Order       *InboundOrder       `json:"order,omitempty"`
	System      *InboundSystem      `json:"system,omitempty"`
	Errors      []WebhookError      `json:"errors,omitempty"`
}

// Media returns the media object of a media message, or nil.
func (m *InboundMessage) Media() *InboundMedia {
	switch m.Type {
	case PayloadImage:
		return m.Image
	case PayloadVideo:
		return m.Video
	case PayloadAudio:
		return m.Audio
	case PayloadDocument:
		return m.Document
	case PayloadSticker:
		return m.Sticker
	}
	return nil
}

type InboundContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

type InboundText struct {
	Body string `json:"body"`
}

type InboundMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type InboundLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type SharedContact struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
	} `json:"phones,omitempty"`
}

type InboundInteractive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
	} `json:"list_reply,omitempty"`
	NfmReply *struct {
		Name         string `json:"name"`
		Body         string `json:"body"`
		ResponseJSON string `json:"response_json"`
	} `json:"nfm_reply,omitempty"`
}

type InboundButton struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type InboundOrder struct {
	CatalogID    string `json:"catalog_id"`
	Text         string `json:"text,omitempty"`
	ProductItems []struct {
		ProductRetailerID string  `json:"product_retailer_id"`
		Quantity          int     `json:"quantity"`
		ItemPrice         float64 `json:"item_price"`
		Currency          string  `json:"currency"`
	} `json:"product_items"`
}

type InboundSystem struct {
	Body string `json:"body"`
	Type string `json:"type"`
}

type WebhookError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// StatusEvent is a delivery or payment status update.
type StatusEvent struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Status      string         `json:"status"`
	Timestamp   UnixTimestamp  `json:"timestamp"`
	Type        string         `json:"type,omitempty"`
	Payment     *PaymentInfo   `json:"payment,omitempty"`
	Errors      []WebhookError `json:"errors,omitempty"`
}

// IsPayment reports whether the status describes a payment transition.
func (s *StatusEvent) IsPayment() bool {
	return s.Type == "payment" || s.Payment != nil
}

type PaymentInfo struct {
	ReferenceID string              `json:"reference_id"`
	Amount      Amount              `json:"amount"`
	Currency    string              `json:"currency"`
	Transaction *PaymentTransaction `json:"transaction,omitempty"`
}

type PaymentTransaction struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// UnixTimestamp accepts epoch seconds encoded either as a JSON string or number.
type UnixTimestamp int64

func (t *UnixTimestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = UnixTimestamp(v)
	return nil
}

func (t UnixTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(t), 10))), nil
}

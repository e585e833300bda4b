package types

// MessagePayload is the JSON object passed to the provider send API.
type MessagePayload struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type,omitempty"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Context          *MessageContext `json:"context,omitempty"`
	Text             *TextBody       `json:"text,omitempty"`
	Image            *MediaObject    `json:"image,omitempty"`
	Video            *MediaObject    `json:"video,omitempty"`
	Audio            *MediaObject    `json:"audio,omitempty"`
	Document         *MediaObject    `json:"document,omitempty"`
	Sticker          *MediaObject    `json:"sticker,omitempty"`
	Template         *Template       `json:"template,omitempty"`
	Interactive      *Interactive    `json:"interactive,omitempty"`
	Reaction         *Reaction       `json:"reaction,omitempty"`
}

// MessageContext makes an outbound message a reply.
type MessageContext struct {
	MessageID string `json:"message_id"`
}

type TextBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

// MediaObject references media by provider media ID or public link.
type MediaObject struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type Template struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

type TemplateParameter struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Image  *MediaObject    `json:"image,omitempty"`
	Action *TemplateAction `json:"action,omitempty"`
}

type TemplateAction struct {
	OrderDetails *OrderDetails `json:"order_details,omitempty"`
}

type Interactive struct {
	Type   string             `json:"type"`
	Header *InteractiveHeader `json:"header,omitempty"`
	Body   *InteractiveText   `json:"body,omitempty"`
	Footer *InteractiveText   `json:"footer,omitempty"`
	Action InteractiveAction  `json:"action"`
}

type InteractiveHeader struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	Image    *MediaObject `json:"image,omitempty"`
	Video    *MediaObject `json:"video,omitempty"`
	Document *MediaObject `json:"document,omitempty"`
}

type InteractiveText struct {
	Text string `json:"text"`
}

// InteractiveAction carries the variant-specific action. Parameters holds one of
// CTAURLParameters, FlowParameters, OrderStatusParameters or *OrderDetails.
type InteractiveAction struct {
	Name       string        `json:"name,omitempty"`
	Button     string        `json:"button,omitempty"`
	Buttons    []ReplyButton `json:"buttons,omitempty"`
	Sections   []ListSection `json:"sections,omitempty"`
	Parameters interface{}   `json:"parameters,omitempty"`
}

type ReplyButton struct {
	Type  string     `json:"type"`
	Reply ReplyTitle `json:"reply"`
}

type ReplyTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type CTAURLParameters struct {
	DisplayText string `json:"display_text"`
	URL         string `json:"url"`
}

type FlowParameters struct {
	FlowMessageVersion string             `json:"flow_message_version"`
	FlowToken          string             `json:"flow_token"`
	FlowID             string             `json:"flow_id"`
	FlowCTA            string             `json:"flow_cta"`
	FlowAction         string             `json:"flow_action"`
	FlowActionPayload  *FlowActionPayload `json:"flow_action_payload,omitempty"`
}

type FlowActionPayload struct {
	Screen string                 `json:"screen"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

type OrderStatusParameters struct {
	ReferenceID string            `json:"reference_id"`
	Order       OrderStatusDetail `json:"order"`
}

type OrderStatusDetail struct {
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

// OrderDetails is the payment order used by both order_details interactive messages
// and the order_details template button.
type OrderDetails struct {
	ReferenceID     string           `json:"reference_id"`
	Type            string           `json:"type"`
	PaymentSettings []PaymentSetting `json:"payment_settings,omitempty"`
	Currency        string           `json:"currency"`
	TotalAmount     Amount           `json:"total_amount"`
	Order           Order            `json:"order"`
}

type PaymentSetting struct {
	Type           string         `json:"type"`
	PaymentGateway PaymentGateway `json:"payment_gateway"`
}

type PaymentGateway struct {
	Type              string `json:"type"`
	ConfigurationName string `json:"configuration_name"`
}

// Amount is a minor-unit value; Offset 100 means two decimal places.
type Amount struct {
	Value  int64 `json:"value"`
	Offset int   `json:"offset"`
}

type Order struct {
	Status   string      `json:"status"`
	Items    []OrderItem `json:"items,omitempty"`
	Subtotal Amount      `json:"subtotal"`
	Tax      Amount      `json:"tax"`
	Shipping *Amount     `json:"shipping,omitempty"`
	Discount *Amount     `json:"discount,omitempty"`
}

type OrderItem struct {
	RetailerID string `json:"retailer_id"`
	Name       string `json:"name"`
	Amount     Amount `json:"amount"`
	Quantity   int    `json:"quantity"`
}

type Reaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// ReadReceipt marks an inbound message as read on the provider side.
type ReadReceipt struct {
	MessagingProduct string `json:"messaging_product"`
	MessageID        string `json:"message_id"`
	Status           string `json:"status"`
}

package types

// InteractiveData is the caller-facing description of an interactive message. Which fields
// apply depends on the interactive type.
type InteractiveData struct {
	Header      *HeaderInput           `json:"header,omitempty"`
	Body        string                 `json:"body"`
	Footer      string                 `json:"footer,omitempty"`
	ButtonText  string                 `json:"buttonText,omitempty"`
	Sections    []SectionInput         `json:"sections,omitempty"`
	Buttons     []ButtonInput          `json:"buttons,omitempty"`
	DisplayText string                 `json:"displayText,omitempty"`
	URL         string                 `json:"url,omitempty"`
	FlowID      string                 `json:"flowId,omitempty"`
	FlowToken   string                 `json:"flowToken,omitempty"`
	FlowCTA     string                 `json:"flowCta,omitempty"`
	FlowAction  string                 `json:"flowAction,omitempty"`
	FlowScreen  string                 `json:"flowScreen,omitempty"`
	FlowData    map[string]interface{} `json:"flowData,omitempty"`
}

// HeaderInput is a text header or a media header referenced by media ID or link.
type HeaderInput struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	MediaID string `json:"mediaId,omitempty"`
	Link    string `json:"link,omitempty"`
}

type SectionInput struct {
	Title string     `json:"title,omitempty"`
	Rows  []RowInput `json:"rows"`
}

type RowInput struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type ButtonInput struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// OrderStatusInput drives an order_status update.
type OrderStatusInput struct {
	ReferenceID string `json:"referenceId"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	Body        string `json:"body,omitempty"`
	Amount      *int64 `json:"amount,omitempty"`
}

// PaymentInput describes a single-item interactive payment request. All amounts are minor units.
type PaymentInput struct {
	ReferenceID  string  `json:"referenceId"`
	HeaderImage  string  `json:"headerImage,omitempty"`
	Body         string  `json:"body"`
	Footer       string  `json:"footer,omitempty"`
	ItemName     string  `json:"itemName"`
	RetailerID   string  `json:"retailerId,omitempty"`
	UnitPrice    int64   `json:"unitPrice"`
	Quantity     int     `json:"quantity"`
	GSTRate      float64 `json:"gstRate"`
	Discount     int64   `json:"discount,omitempty"`
	Shipping     int64   `json:"shipping,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	GoodsType    string  `json:"goodsType,omitempty"`
	Description  string  `json:"description,omitempty"`
	ConvenienceN string  `json:"convenienceName,omitempty"`
}

// PaymentSettingsConfig is the deployment's payment gateway selection.
type PaymentSettingsConfig struct {
	GatewayType       string `json:"gatewayType"`
	ConfigurationName string `json:"configurationName"`
	Currency          string `json:"currency"`
	GoodsType         string `json:"goodsType"`
}

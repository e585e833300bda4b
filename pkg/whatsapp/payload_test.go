package whatsapp

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wadispatch/internal/errors"
	"wadispatch/pkg/whatsapp/types"
)

func newTestBuilder() *Builder {
	return NewBuilder(types.PaymentSettingsConfig{
		GatewayType:       "razorpay",
		ConfigurationName: "wecare-pg",
		Currency:          "INR",
	})
}

func toMap(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestBuilder_Text(t *testing.T) {
	p, err := newTestBuilder().Text("919876543210", "ok")
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"messaging_product":"whatsapp","to":"+919876543210","type":"text","text":{"body":"ok","preview_url":false}}`,
		string(raw))
}

func TestBuilder_TextValidation(t *testing.T) {
	_, err := newTestBuilder().Text("919876543210", "  ")
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))

	_, err = newTestBuilder().Text("12", "hello")
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
}

func TestBuilder_Media(t *testing.T) {
	b := newTestBuilder()

	p, err := b.Media("919876543210", "document", "media-1", "Invoice", "../../etc/inv<oice>.pdf")
	require.NoError(t, err)
	require.NotNil(t, p.Document)
	assert.Equal(t, "media-1", p.Document.ID)
	assert.Equal(t, "Invoice", p.Document.Caption)
	assert.Equal(t, "inv_oice_.pdf", p.Document.Filename)

	p, err = b.Media("919876543210", "audio", "media-2", "ignored", "")
	require.NoError(t, err)
	assert.Empty(t, p.Audio.Caption)

	_, err = b.Media("919876543210", "hologram", "media-3", "", "")
	assert.Error(t, err)
	_, err = b.Media("919876543210", "image", "", "", "")
	assert.Error(t, err)
}

func TestSanitizeFilename_Length(t *testing.T) {
	long := strings.Repeat("x", 300) + ".pdf"
	got := SanitizeFilename(long)
	assert.Len(t, got, 240)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
	assert.Equal(t, "document", SanitizeFilename("///"))
}

func TestResolveTemplateLanguage(t *testing.T) {
	lang, params := ResolveTemplateLanguage("", []string{"en", "INV-42"})
	assert.Equal(t, "en", lang)
	assert.Equal(t, []string{"INV-42"}, params)

	lang, params = ResolveTemplateLanguage("", []string{"hi_IN", "x"})
	assert.Equal(t, "hi_IN", lang)
	assert.Equal(t, []string{"x"}, params)

	lang, params = ResolveTemplateLanguage("", []string{"INV-42"})
	assert.Equal(t, "en_US", lang)
	assert.Equal(t, []string{"INV-42"}, params)

	lang, params = ResolveTemplateLanguage("pt_BR", []string{"en", "y"})
	assert.Equal(t, "pt_BR", lang)
	assert.Equal(t, []string{"en", "y"}, params)
}

func TestBuilder_TemplateWithPaymentButton(t *testing.T) {
	p, err := newTestBuilder().Template("+919876543210", TemplateSpec{
		Name:        "payment_due",
		Params:      []string{"en", "INV-42"},
		HeaderImage: "https://cdn.example.com/header.png",
		OrderDetails: &types.OrderDetails{
			ReferenceID: "wdsr_41BA3534",
			TotalAmount: types.Amount{Value: 15000, Offset: 100},
			Currency:    "INR",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, p.Template)

	assert.Equal(t, "payment_due", p.Template.Name)
	assert.Equal(t, "en", p.Template.Language.Code)
	require.Len(t, p.Template.Components, 3)

	header := p.Template.Components[0]
	assert.Equal(t, "header", header.Type)
	assert.Equal(t, "https://cdn.example.com/header.png", header.Parameters[0].Image.Link)

	body := p.Template.Components[1]
	assert.Equal(t, "body", body.Type)
	require.Len(t, body.Parameters, 1)
	assert.Equal(t, "INV-42", body.Parameters[0].Text)

	button := p.Template.Components[2]
	assert.Equal(t, "button", button.Type)
	assert.Equal(t, "order_details", button.SubType)
	assert.Equal(t, "0", button.Index)
	order := button.Parameters[0].Action.OrderDetails
	assert.Equal(t, "WDSR41BA3534", order.ReferenceID)
	assert.Equal(t, int64(15000), order.TotalAmount.Value)
	assert.Equal(t, 100, order.TotalAmount.Offset)
	assert.Equal(t, "pending", order.Order.Status)
	require.Len(t, order.PaymentSettings, 1)
	assert.Equal(t, "wecare-pg", order.PaymentSettings[0].PaymentGateway.ConfigurationName)

	m := toMap(t, p)
	components := m["template"].(map[string]interface{})["components"].([]interface{})
	action := components[2].(map[string]interface{})["parameters"].([]interface{})[0].(map[string]interface{})["action"]
	assert.Contains(t, action, "order_details")
}

func TestBuilder_TemplateRequiresName(t *testing.T) {
	_, err := newTestBuilder().Template("919876543210", TemplateSpec{})
	assert.Error(t, err)
}

func TestBuilder_InteractivePayment(t *testing.T) {
	p, breakdown, err := newTestBuilder().InteractivePayment("919876543210", &types.PaymentInput{
		ReferenceID: "order 77",
		HeaderImage: "media-header",
		Body:        "Please complete your payment",
		Footer:      "WECARE",
		ItemName:    "Consultation",
		UnitPrice:   10000,
		Quantity:    2,
		GSTRate:     18,
		Discount:    500,
		Shipping:    200,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(23772), breakdown.Total)

	msg := p.Interactive
	require.NotNil(t, msg)
	assert.Equal(t, "order_details", msg.Type)
	assert.Equal(t, "review_and_pay", msg.Action.Name)
	assert.Equal(t, "media-header", msg.Header.Image.ID)

	order, ok := msg.Action.Parameters.(*types.OrderDetails)
	require.True(t, ok)
	assert.Equal(t, "WDSRORDER77", order.ReferenceID)
	assert.Equal(t, types.Amount{Value: 23772, Offset: 100}, order.TotalAmount)
	assert.Equal(t, int64(20472), order.Order.Subtotal.Value)
	assert.Equal(t, int64(3600), order.Order.Tax.Value)
	assert.Equal(t, int64(500), order.Order.Discount.Value)
	assert.Equal(t, int64(200), order.Order.Shipping.Value)
	require.Len(t, order.Order.Items, 2)
	assert.Equal(t, int64(10000), order.Order.Items[0].Amount.Value)
	assert.Equal(t, 2, order.Order.Items[0].Quantity)
	assert.Equal(t, int64(472), order.Order.Items[1].Amount.Value)
	assert.Equal(t, 1, order.Order.Items[1].Quantity)

	m := toMap(t, p)
	params := m["interactive"].(map[string]interface{})["action"].(map[string]interface{})["parameters"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"value": float64(23772), "offset": float64(100)}, params["total_amount"])
}

func TestBuilder_OrderStatus(t *testing.T) {
	p, err := newTestBuilder().OrderStatus("918100330063", &types.OrderStatusInput{
		ReferenceID: "ORDER_9",
		Status:      "completed",
		Body:        "Payment of ₹50.00 received successfully! Thank you ✅",
	})
	require.NoError(t, err)

	assert.Equal(t, "order_status", p.Interactive.Type)
	assert.Equal(t, "review_order", p.Interactive.Action.Name)
	assert.Equal(t, "Payment of ₹50.00 received successfully! Thank you ✅", p.Interactive.Body.Text)
	params := p.Interactive.Action.Parameters.(types.OrderStatusParameters)
	assert.Equal(t, "WDSRORDER9", params.ReferenceID)
	assert.Equal(t, "completed", params.Order.Status)

	_, err = newTestBuilder().OrderStatus("918100330063", &types.OrderStatusInput{ReferenceID: "X", Status: "lost"})
	assert.Error(t, err)
}

func TestBuilder_InteractiveList(t *testing.T) {
	data := &types.InteractiveData{
		Header:     &types.HeaderInput{Text: "Menu"},
		Body:       "Choose a slot",
		ButtonText: "View slots",
		Sections: []types.SectionInput{{
			Title: "Morning",
			Rows: []types.RowInput{
				{ID: "m1", Title: "A very long row title that exceeds the limit", Description: strings.Repeat("d", 100)},
			},
		}},
	}
	p, err := newTestBuilder().Interactive("919876543210", "list", data)
	require.NoError(t, err)

	row := p.Interactive.Action.Sections[0].Rows[0]
	assert.Equal(t, 24, len([]rune(row.Title)))
	assert.Equal(t, 72, len([]rune(row.Description)))
	assert.Equal(t, "Menu", p.Interactive.Header.Text)

	data.Sections = make([]types.SectionInput, 11)
	_, err = newTestBuilder().Interactive("919876543210", "list", data)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
}

func TestBuilder_InteractiveButtons(t *testing.T) {
	data := &types.InteractiveData{
		Header: &types.HeaderInput{Type: "image", Link: "https://cdn.example.com/a.png"},
		Body:   "Confirm?",
		Buttons: []types.ButtonInput{
			{ID: "yes", Title: "Yes"},
			{ID: "no", Title: "No, thanks, maybe some other time"},
		},
	}
	p, err := newTestBuilder().Interactive("919876543210", "button", data)
	require.NoError(t, err)
	assert.Equal(t, "image", p.Interactive.Header.Type)
	assert.Equal(t, 20, len([]rune(p.Interactive.Action.Buttons[1].Reply.Title)))
	assert.Equal(t, "reply", p.Interactive.Action.Buttons[0].Type)

	data.Buttons = append(data.Buttons, types.ButtonInput{ID: "a", Title: "A"}, types.ButtonInput{ID: "b", Title: "B"})
	_, err = newTestBuilder().Interactive("919876543210", "button", data)
	assert.Error(t, err)
}

func TestBuilder_InteractiveOtherVariants(t *testing.T) {
	b := newTestBuilder()

	p, err := b.Interactive("919876543210", "location_request", &types.InteractiveData{Body: "Share location"})
	require.NoError(t, err)
	assert.Equal(t, "send_location", p.Interactive.Action.Name)

	p, err = b.Interactive("919876543210", "cta_url", &types.InteractiveData{Body: "Visit", DisplayText: "Open", URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, types.CTAURLParameters{DisplayText: "Open", URL: "https://example.com"}, p.Interactive.Action.Parameters)

	p, err = b.Interactive("919876543210", "flow", &types.InteractiveData{
		Body: "Book", FlowID: "f1", FlowToken: "tok", FlowCTA: "Start", FlowScreen: "WELCOME",
	})
	require.NoError(t, err)
	flow := p.Interactive.Action.Parameters.(types.FlowParameters)
	assert.Equal(t, "3", flow.FlowMessageVersion)
	assert.Equal(t, "navigate", flow.FlowAction)
	assert.Equal(t, "WELCOME", flow.FlowActionPayload.Screen)

	_, err = b.Interactive("919876543210", "carousel", &types.InteractiveData{Body: "x"})
	assert.Error(t, err)
}

func TestBuilder_ReactionAndReadReceipt(t *testing.T) {
	p, err := newTestBuilder().Reaction("919876543210", "wamid.1", "👍")
	require.NoError(t, err)
	assert.Equal(t, "reaction", p.Type)
	assert.Equal(t, &types.Reaction{MessageID: "wamid.1", Emoji: "👍"}, p.Reaction)

	receipt := ReadReceipt("wamid.1")
	assert.Equal(t, map[string]interface{}{
		"messaging_product": "whatsapp", "message_id": "wamid.1", "status": "read",
	}, toMap(t, receipt))
}

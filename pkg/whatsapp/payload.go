package whatsapp

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"wadispatch/internal/errors"
	"wadispatch/pkg/constants"
	"wadispatch/pkg/whatsapp/types"
)

const defaultTemplateLanguage = "en_US"

var languageCodePattern = regexp.MustCompile(`^[a-z]{2}(_[A-Z]{2})?$`)

// Builder produces provider payloads for every outbound message variant.
type Builder struct {
	payment types.PaymentSettingsConfig
}

// NewBuilder creates a payload builder using the deployment's payment gateway settings
func NewBuilder(payment types.PaymentSettingsConfig) *Builder {
	if payment.Currency == "" {
		payment.Currency = "INR"
	}
	if payment.GoodsType == "" {
		payment.GoodsType = "digital-goods"
	}
	return &Builder{payment: payment}
}

func (b *Builder) base(to, kind string) (*types.MessagePayload, error) {
	recipient, err := CanonicalPhone(to)
	if err != nil {
		return nil, errors.NewValidationError("recipientPhone", to, err.Error())
	}
	return &types.MessagePayload{
		MessagingProduct: types.MessagingProduct,
		To:               recipient,
		Type:             kind,
	}, nil
}

// Text builds a plain text message with link previews disabled.
func (b *Builder) Text(to, body string) (*types.MessagePayload, error) {
	if strings.TrimSpace(body) == "" {
		return nil, errors.NewValidationError("content", "", "text body is required")
	}
	p, err := b.base(to, types.PayloadText)
	if err != nil {
		return nil, err
	}
	p.Text = &types.TextBody{Body: body, PreviewURL: false}
	return p, nil
}

// Media builds an image, video, audio, document or sticker message referencing a registered media ID.
func (b *Builder) Media(to, mediaType, mediaID, caption, filename string) (*types.MessagePayload, error) {
	if !types.MediaPayloadTypes[mediaType] {
		return nil, errors.NewValidationError("mediaType", mediaType, "unsupported media type")
	}
	if mediaID == "" {
		return nil, errors.NewValidationError("mediaId", "", "media ID is required")
	}
	p, err := b.base(to, mediaType)
	if err != nil {
		return nil, err
	}

	obj := &types.MediaObject{ID: mediaID}
	if caption != "" && mediaType != types.PayloadAudio && mediaType != types.PayloadSticker {
		obj.Caption = caption
	}

	switch mediaType {
	case types.PayloadImage:
		p.Image = obj
	case types.PayloadVideo:
		p.Video = obj
	case types.PayloadAudio:
		p.Audio = obj
	case types.PayloadDocument:
		if filename != "" {
			obj.Filename = SanitizeFilename(filename)
		}
		p.Document = obj
	case types.PayloadSticker:
		p.Sticker = obj
	}
	return p, nil
}

// TemplateSpec describes a template send. OrderDetails adds the order_details payment button.
type TemplateSpec struct {
	Name         string
	Language     string
	Params       []string
	HeaderImage  string
	OrderDetails *types.OrderDetails
}

// ResolveTemplateLanguage picks the template language: the explicit value, else a leading
// language-code parameter which is consumed, else en_US.
func ResolveTemplateLanguage(explicit string, params []string) (string, []string) {
	if explicit != "" {
		return explicit, params
	}
	if len(params) > 0 && languageCodePattern.MatchString(params[0]) {
		return params[0], params[1:]
	}
	return defaultTemplateLanguage, params
}

// Template builds a template message.
func (b *Builder) Template(to string, spec TemplateSpec) (*types.MessagePayload, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.NewValidationError("templateName", "", "template name is required")
	}
	p, err := b.base(to, types.PayloadTemplate)
	if err != nil {
		return nil, err
	}

	language, params := ResolveTemplateLanguage(spec.Language, spec.Params)
	tmpl := &types.Template{
		Name:     spec.Name,
		Language: types.TemplateLanguage{Code: language},
	}

	if spec.HeaderImage != "" {
		tmpl.Components = append(tmpl.Components, types.TemplateComponent{
			Type: types.ComponentHeader,
			Parameters: []types.TemplateParameter{{
				Type:  types.ParameterImage,
				Image: mediaRef(spec.HeaderImage),
			}},
		})
	}

	if len(params) > 0 {
		body := types.TemplateComponent{Type: types.ComponentBody}
		for _, v := range params {
			body.Parameters = append(body.Parameters, types.TemplateParameter{Type: types.ParameterText, Text: v})
		}
		tmpl.Components = append(tmpl.Components, body)
	}

	if spec.OrderDetails != nil {
		order, err := b.normalizeOrderDetails(spec.OrderDetails)
		if err != nil {
			return nil, err
		}
		tmpl.Components = append(tmpl.Components, types.TemplateComponent{
			Type:    types.ComponentButton,
			SubType: types.ButtonSubTypeOrderDetails,
			Index:   "0",
			Parameters: []types.TemplateParameter{{
				Type:   types.ParameterAction,
				Action: &types.TemplateAction{OrderDetails: order},
			}},
		})
	}

	p.Template = tmpl
	return p, nil
}

// normalizeOrderDetails sanitises the reference and fills deployment defaults without
// changing caller-provided amounts.
func (b *Builder) normalizeOrderDetails(in *types.OrderDetails) (*types.OrderDetails, error) {
	if in.TotalAmount.Value <= 0 {
		return nil, errors.NewValidationError("orderDetails.total_amount", "", "total amount must be positive")
	}
	out := *in
	out.ReferenceID = SanitizeReferenceID(in.ReferenceID)
	if out.Type == "" {
		out.Type = b.payment.GoodsType
	}
	if out.Currency == "" {
		out.Currency = b.payment.Currency
	}
	if out.TotalAmount.Offset == 0 {
		out.TotalAmount.Offset = minorUnitOffset
	}
	if len(out.PaymentSettings) == 0 {
		out.PaymentSettings = b.paymentSettings()
	}
	if out.Order.Status == "" {
		out.Order.Status = types.OrderPending
	}
	if out.Order.Subtotal.Value == 0 && len(out.Order.Items) == 0 {
		out.Order.Subtotal = out.TotalAmount
		out.Order.Tax = Amount(0)
	}
	if out.Order.Subtotal.Offset == 0 {
		out.Order.Subtotal.Offset = minorUnitOffset
	}
	if out.Order.Tax.Offset == 0 {
		out.Order.Tax.Offset = minorUnitOffset
	}
	return &out, nil
}

func (b *Builder) paymentSettings() []types.PaymentSetting {
	if b.payment.ConfigurationName == "" {
		return nil
	}
	return []types.PaymentSetting{{
		Type: "payment_gateway",
		PaymentGateway: types.PaymentGateway{
			Type:              b.payment.GatewayType,
			ConfigurationName: b.payment.ConfigurationName,
		},
	}}
}

// Reaction builds an emoji reaction to a provider message.
func (b *Builder) Reaction(to, messageID, emoji string) (*types.MessagePayload, error) {
	if messageID == "" {
		return nil, errors.NewValidationError("reactionMessageId", "", "message ID is required")
	}
	if emoji == "" {
		return nil, errors.NewValidationError("reactionEmoji", "", "emoji is required")
	}
	p, err := b.base(to, types.PayloadReaction)
	if err != nil {
		return nil, err
	}
	p.Reaction = &types.Reaction{MessageID: messageID, Emoji: emoji}
	return p, nil
}

// ReadReceipt builds the mark-as-read request for an inbound message.
func ReadReceipt(messageID string) *types.ReadReceipt {
	return &types.ReadReceipt{
		MessagingProduct: types.MessagingProduct,
		MessageID:        messageID,
		Status:           "read",
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._\- ]+`)

// SanitizeFilename strips path components and unsafe characters and caps the length,
// keeping the extension.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if name == "" || name == "_" {
		name = "document"
	}
	if len(name) <= constants.MaxDocumentNameLength {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > 10 {
		ext = ""
	}
	return name[:constants.MaxDocumentNameLength-len(ext)] + ext
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func mediaRef(ref string) *types.MediaObject {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return &types.MediaObject{Link: ref}
	}
	return &types.MediaObject{ID: ref}
}

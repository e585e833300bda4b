package whatsapp

import (
	"fmt"
	"strings"

	"wadispatch/internal/errors"
	"wadispatch/pkg/constants"
	"wadispatch/pkg/whatsapp/types"
)

// Interactive builds a list, button, location_request, cta_url or flow message.
// Count limits are validation errors; over-long text is truncated.
func (b *Builder) Interactive(to, kind string, data *types.InteractiveData) (*types.MessagePayload, error) {
	if data == nil {
		return nil, errors.NewValidationError("interactiveData", "", "interactive data is required")
	}
	if strings.TrimSpace(data.Body) == "" {
		return nil, errors.NewValidationError("interactiveData.body", "", "body text is required")
	}

	var (
		msg *types.Interactive
		err error
	)
	switch kind {
	case types.InteractiveList:
		msg, err = buildList(data)
	case types.InteractiveButton:
		msg, err = buildButtons(data)
	case types.InteractiveLocationRequest, "location_request":
		msg = &types.Interactive{
			Type:   types.InteractiveLocationRequest,
			Action: types.InteractiveAction{Name: types.ActionSendLocation},
		}
	case types.InteractiveCTAURL:
		msg, err = buildCTAURL(data)
	case types.InteractiveFlow:
		msg, err = buildFlow(data)
	default:
		return nil, errors.NewValidationError("interactiveType", kind, "unknown interactive type")
	}
	if err != nil {
		return nil, err
	}

	msg.Body = &types.InteractiveText{Text: truncateRunes(data.Body, constants.MaxBodyTextRunes)}
	if data.Footer != "" && kind != types.InteractiveLocationRequest && kind != "location_request" {
		msg.Footer = &types.InteractiveText{Text: truncateRunes(data.Footer, constants.MaxFooterTextRunes)}
	}

	p, err := b.base(to, types.PayloadInteractive)
	if err != nil {
		return nil, err
	}
	p.Interactive = msg
	return p, nil
}

func buildList(data *types.InteractiveData) (*types.Interactive, error) {
	if len(data.Sections) == 0 {
		return nil, errors.NewValidationError("interactiveData.sections", "", "at least one section is required")
	}
	if len(data.Sections) > constants.MaxListSections {
		return nil, errors.NewValidationError("interactiveData.sections", fmt.Sprint(len(data.Sections)),
			fmt.Sprintf("at most %d sections allowed", constants.MaxListSections))
	}
	if strings.TrimSpace(data.ButtonText) == "" {
		return nil, errors.NewValidationError("interactiveData.buttonText", "", "list button text is required")
	}

	msg := &types.Interactive{
		Type: types.InteractiveList,
		Action: types.InteractiveAction{
			Button: truncateRunes(data.ButtonText, constants.MaxButtonTitleRunes),
		},
	}
	if data.Header != nil && data.Header.Text != "" {
		msg.Header = &types.InteractiveHeader{Type: "text", Text: truncateRunes(data.Header.Text, constants.MaxHeaderTextRunes)}
	}

	for i, section := range data.Sections {
		if len(section.Rows) == 0 {
			return nil, errors.NewValidationError(fmt.Sprintf("interactiveData.sections[%d].rows", i), "", "section has no rows")
		}
		if len(section.Rows) > constants.MaxListRows {
			return nil, errors.NewValidationError(fmt.Sprintf("interactiveData.sections[%d].rows", i), fmt.Sprint(len(section.Rows)),
				fmt.Sprintf("at most %d rows allowed", constants.MaxListRows))
		}
		out := types.ListSection{Title: truncateRunes(section.Title, constants.MaxRowTitleRunes)}
		for _, row := range section.Rows {
			if row.ID == "" || row.Title == "" {
				return nil, errors.NewValidationError("interactiveData.rows", "", "row id and title are required")
			}
			out.Rows = append(out.Rows, types.ListRow{
				ID:          row.ID,
				Title:       truncateRunes(row.Title, constants.MaxRowTitleRunes),
				Description: truncateRunes(row.Description, constants.MaxRowDescRunes),
			})
		}
		msg.Action.Sections = append(msg.Action.Sections, out)
	}
	return msg, nil
}

func buildButtons(data *types.InteractiveData) (*types.Interactive, error) {
	if len(data.Buttons) == 0 {
		return nil, errors.NewValidationError("interactiveData.buttons", "", "at least one button is required")
	}
	if len(data.Buttons) > constants.MaxReplyButtons {
		return nil, errors.NewValidationError("interactiveData.buttons", fmt.Sprint(len(data.Buttons)),
			fmt.Sprintf("at most %d buttons allowed", constants.MaxReplyButtons))
	}

	msg := &types.Interactive{Type: types.InteractiveButton}
	if data.Header != nil {
		header, err := buildHeader(data.Header)
		if err != nil {
			return nil, err
		}
		msg.Header = header
	}
	for _, btn := range data.Buttons {
		if btn.ID == "" || btn.Title == "" {
			return nil, errors.NewValidationError("interactiveData.buttons", "", "button id and title are required")
		}
		msg.Action.Buttons = append(msg.Action.Buttons, types.ReplyButton{
			Type:  "reply",
			Reply: types.ReplyTitle{ID: btn.ID, Title: truncateRunes(btn.Title, constants.MaxButtonTitleRunes)},
		})
	}
	return msg, nil
}

func buildHeader(h *types.HeaderInput) (*types.InteractiveHeader, error) {
	kind := h.Type
	if kind == "" {
		kind = "text"
	}
	ref := h.MediaID
	if ref == "" {
		ref = h.Link
	}

	switch kind {
	case "text":
		if h.Text == "" {
			return nil, nil
		}
		return &types.InteractiveHeader{Type: "text", Text: truncateRunes(h.Text, constants.MaxHeaderTextRunes)}, nil
	case "image", "video", "document":
		if ref == "" {
			return nil, errors.NewValidationError("interactiveData.header", kind, "media header needs a media ID or link")
		}
		header := &types.InteractiveHeader{Type: kind}
		switch kind {
		case "image":
			header.Image = mediaRef(ref)
		case "video":
			header.Video = mediaRef(ref)
		case "document":
			header.Document = mediaRef(ref)
		}
		return header, nil
	default:
		return nil, errors.NewValidationError("interactiveData.header.type", kind, "unsupported header type")
	}
}

func buildCTAURL(data *types.InteractiveData) (*types.Interactive, error) {
	if data.DisplayText == "" || data.URL == "" {
		return nil, errors.NewValidationError("interactiveData.url", data.URL, "display text and url are required")
	}
	if !strings.HasPrefix(data.URL, "https://") && !strings.HasPrefix(data.URL, "http://") {
		return nil, errors.NewValidationError("interactiveData.url", data.URL, "url must be http or https")
	}
	msg := &types.Interactive{
		Type: types.InteractiveCTAURL,
		Action: types.InteractiveAction{
			Name: types.ActionCTAURL,
			Parameters: types.CTAURLParameters{
				DisplayText: truncateRunes(data.DisplayText, constants.MaxDisplayTextRunes),
				URL:         data.URL,
			},
		},
	}
	if data.Header != nil {
		header, err := buildHeader(data.Header)
		if err != nil {
			return nil, err
		}
		msg.Header = header
	}
	return msg, nil
}

func buildFlow(data *types.InteractiveData) (*types.Interactive, error) {
	if data.FlowID == "" || data.FlowToken == "" || data.FlowCTA == "" {
		return nil, errors.NewValidationError("interactiveData.flowId", data.FlowID, "flow id, token and cta are required")
	}
	action := data.FlowAction
	if action == "" {
		action = "navigate"
	}
	params := types.FlowParameters{
		FlowMessageVersion: constants.FlowMessageVersion,
		FlowToken:          data.FlowToken,
		FlowID:             data.FlowID,
		FlowCTA:            truncateRunes(data.FlowCTA, constants.MaxButtonTitleRunes),
		FlowAction:         action,
	}
	if data.FlowScreen != "" {
		params.FlowActionPayload = &types.FlowActionPayload{Screen: data.FlowScreen, Data: data.FlowData}
	}
	return &types.Interactive{
		Type:   types.InteractiveFlow,
		Action: types.InteractiveAction{Name: types.ActionFlow, Parameters: params},
	}, nil
}

// OrderStatus builds an order_status update for a previously requested payment.
func (b *Builder) OrderStatus(to string, in *types.OrderStatusInput) (*types.MessagePayload, error) {
	if in == nil || strings.TrimSpace(in.ReferenceID) == "" {
		return nil, errors.NewValidationError("orderStatusDetails.referenceId", "", "reference ID is required")
	}
	if !types.ValidOrderStatuses[in.Status] {
		return nil, errors.NewValidationError("orderStatusDetails.status", in.Status, "unknown order status")
	}

	body := in.Body
	if body == "" {
		body = fmt.Sprintf("Your order %s is %s.", SanitizeReferenceID(in.ReferenceID), in.Status)
	}

	p, err := b.base(to, types.PayloadInteractive)
	if err != nil {
		return nil, err
	}
	p.Interactive = &types.Interactive{
		Type: types.InteractiveOrderStatus,
		Body: &types.InteractiveText{Text: truncateRunes(body, constants.MaxBodyTextRunes)},
		Action: types.InteractiveAction{
			Name: types.ActionReviewOrder,
			Parameters: types.OrderStatusParameters{
				ReferenceID: SanitizeReferenceID(in.ReferenceID),
				Order: types.OrderStatusDetail{
					Status:      in.Status,
					Description: in.Description,
				},
			},
		},
	}
	return p, nil
}

// InteractivePayment builds an order_details review_and_pay message with the convenience fee
// added as a second cart item.
func (b *Builder) InteractivePayment(to string, in *types.PaymentInput) (*types.MessagePayload, *PaymentBreakdown, error) {
	if in == nil {
		return nil, nil, errors.NewValidationError("interactivePayment", "", "payment details are required")
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, nil, errors.NewValidationError("interactivePayment.body", "", "body text is required")
	}

	breakdown, err := ComputePayment(in.UnitPrice, in.Quantity, in.GSTRate, in.Discount, in.Shipping)
	if err != nil {
		return nil, nil, errors.NewValidationError("interactivePayment", "", err.Error())
	}

	currency := in.Currency
	if currency == "" {
		currency = b.payment.Currency
	}
	goodsType := in.GoodsType
	if goodsType == "" {
		goodsType = b.payment.GoodsType
	}
	itemName := in.ItemName
	if itemName == "" {
		itemName = "Item"
	}
	retailerID := in.RetailerID
	if retailerID == "" {
		retailerID = "main"
	}
	convName := in.ConvenienceN
	if convName == "" {
		convName = "Convenience fee"
	}

	order := &types.OrderDetails{
		ReferenceID:     SanitizeReferenceID(in.ReferenceID),
		Type:            goodsType,
		PaymentSettings: b.paymentSettings(),
		Currency:        currency,
		TotalAmount:     Amount(breakdown.Total),
		Order: types.Order{
			Status: types.OrderPending,
			Items: []types.OrderItem{
				{RetailerID: retailerID, Name: itemName, Amount: Amount(in.UnitPrice), Quantity: in.Quantity},
				{RetailerID: "conv", Name: convName, Amount: Amount(breakdown.ConvTotal), Quantity: 1},
			},
			Subtotal: Amount(breakdown.WhatsAppSubtotal),
			Tax:      Amount(breakdown.GST),
		},
	}
	shipping := Amount(breakdown.Shipping)
	order.Order.Shipping = &shipping
	discount := Amount(breakdown.Discount)
	order.Order.Discount = &discount

	msg := &types.Interactive{
		Type: types.InteractiveOrderDetails,
		Body: &types.InteractiveText{Text: truncateRunes(in.Body, constants.MaxBodyTextRunes)},
		Action: types.InteractiveAction{
			Name:       types.ActionReviewAndPay,
			Parameters: order,
		},
	}
	if in.HeaderImage != "" {
		msg.Header = &types.InteractiveHeader{Type: "image", Image: mediaRef(in.HeaderImage)}
	}
	if in.Footer != "" {
		msg.Footer = &types.InteractiveText{Text: truncateRunes(in.Footer, constants.MaxFooterTextRunes)}
	}

	p, err := b.base(to, types.PayloadInteractive)
	if err != nil {
		return nil, nil, err
	}
	p.Interactive = msg
	return p, breakdown, nil
}

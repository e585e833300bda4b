package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"wadispatch/internal/alerts"
	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/eventfeed"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/ratelimit"
	"wadispatch/internal/tracing"
	"wadispatch/internal/validation"
	"wadispatch/pkg/whatsapp"
	"wadispatch/pkg/whatsapp/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sender is the send operation used by internal callers.
type Sender interface {
	Send(ctx context.Context, req *models.SendRequest) (*models.SendResult, error)
}

// SendDeps are the collaborators of the send engine.
type SendDeps struct {
	Store    database.DocumentStore
	Contacts *ContactService
	Limiter  *ratelimit.Limiter
	Media    *MediaService
	Builder  *whatsapp.Builder
	Provider types.Provider
	Metrics  *metrics.Registry
	Alerts   *alerts.Emitter
	Feed     eventfeed.Publisher
	Logger   *logrus.Logger
}

// SendEngine validates, rate limits, builds and dispatches outbound messages.
type SendEngine struct {
	SendDeps
	tables         database.Tables
	mode           models.SendMode
	enforceWindow  bool
	allowedSenders map[string]bool
	now            func() time.Time
}

// NewSendEngine creates the engine. Origination IDs are restricted to the
// configured allowlist, or to every mapped phone number when the allowlist is empty.
func NewSendEngine(cfg *models.Config, deps SendDeps) *SendEngine {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Feed == nil {
		deps.Feed = eventfeed.Discard{}
	}
	allowed := make(map[string]bool)
	if len(cfg.AllowedPhoneNumberIDs) > 0 {
		for _, id := range cfg.AllowedPhoneNumberIDs {
			allowed[id] = true
		}
	} else {
		for _, p := range cfg.PhoneNumbers {
			allowed[p.AWSPhoneNumberID] = true
		}
	}
	mode := cfg.SendMode
	if mode == "" {
		mode = models.SendModeLive
	}
	return &SendEngine{
		SendDeps:       deps,
		tables:         deps.Store.Tables(),
		mode:           mode,
		enforceWindow:  cfg.ServiceWindowEnforced(),
		allowedSenders: allowed,
		now:            time.Now,
	}
}

// sendAttempt carries one request through the engine.
type sendAttempt struct {
	req       *models.SendRequest
	kind      models.SendKind
	messageID string
	contact   *models.Contact
	payload   interface{}
	media     *StoredMedia
	breakdown *whatsapp.PaymentBreakdown
	msgType   models.MessageType
	content   string
	tier      ratelimit.Decision
}

// Send runs one request to a terminal state. The returned result is always set;
// the error is non-nil for every failure.
func (e *SendEngine) Send(ctx context.Context, req *models.SendRequest) (result *models.SendResult, err error) {
	if req.Channel == "" {
		req.Channel = models.ChannelWhatsApp
	}
	a := &sendAttempt{req: req, kind: req.Kind(), messageID: uuid.New().String()}

	ctx, span := tracing.StartUnit(ctx, "send",
		tracing.AttrChannel.String(string(req.Channel)),
		tracing.AttrSendKind.String(string(a.kind)),
		tracing.AttrPhoneNumberID.String(req.PhoneNumberID),
		tracing.AttrSource.String(req.Source),
	)
	defer func() { tracing.EndUnit(span, err) }()

	fields := logrus.Fields{
		LogFieldMessageID:     a.messageID,
		LogFieldSendKind:      string(a.kind),
		LogFieldPhoneNumberID: req.PhoneNumberID,
		LogFieldSource:        req.Source,
	}

	if err := e.validate(ctx, a); err != nil {
		return e.reject(ctx, a, err, fields)
	}
	fields[LogFieldContactID] = a.contact.ID
	fields[LogFieldRecipient] = a.contact.Phone

	if err := e.checkRate(ctx, a); err != nil {
		return e.reject(ctx, a, err, fields)
	}

	if a.kind == models.SendMedia {
		media, err := e.Media.PrepareOutbound(ctx, OutboundMedia{
			MessageID:     a.messageID,
			ContactID:     a.contact.ID,
			PhoneNumberID: req.PhoneNumberID,
			File:          req.MediaFile,
			MediaType:     req.MediaType,
			Filename:      req.MediaFileName,
			IsSticker:     req.IsSticker,
		})
		if err != nil {
			return e.fail(ctx, a, err, "media", fields)
		}
		a.media = media
		a.msgType = models.MessageType(media.Kind)
		a.content = mediaContent(media.Kind, req.Caption)
		payload, err := e.Builder.Media(a.contact.Phone, media.Kind, media.MediaID, req.Caption, req.MediaFileName)
		if err != nil {
			e.Media.Release(ctx, req.PhoneNumberID, media.MediaID)
			return e.fail(ctx, a, err, "media", fields)
		}
		a.payload = payload
	}

	waID, status, err := e.dispatch(ctx, a)
	if err != nil {
		if a.media != nil {
			e.Media.Release(context.WithoutCancel(ctx), req.PhoneNumberID, a.media.MediaID)
		}
		return e.fail(ctx, a, err, providerErrorType(err), fields)
	}

	e.settleTier(ctx, a, status == models.StatusSent)

	msg := e.newMessage(a, status)
	msg.WhatsAppMessageID = waID
	if err := e.Store.Put(context.WithoutCancel(ctx), e.tables.Messages, msg.ID, msg); err != nil {
		logEntry(ctx, e.Logger, fields).WithError(err).Error("Message sent but record write failed")
	}

	e.Metrics.RecordSend(e.dimensions(a, status), true)
	e.Feed.Publish(eventfeed.Event{
		Type:              eventfeed.EventOutboundSent,
		MessageID:         msg.ID,
		WhatsAppMessageID: waID,
		ContactID:         msg.ContactID,
		MessageType:       string(msg.MessageType),
		Status:            string(status),
		Content:           msg.Content,
		Timestamp:         msg.Timestamp,
	})

	fields[LogFieldWAMessageID] = waID
	fields[LogFieldStatus] = string(status)
	logEntry(ctx, e.Logger, fields).Info("Message sent")

	return &models.SendResult{
		MessageID:         msg.ID,
		WhatsAppMessageID: waID,
		Status:            status,
		Mode:              e.mode,
		StatusCode:        http.StatusOK,
	}, nil
}

// MarkRead sends a read receipt for an inbound message. No Message row is written.
func (e *SendEngine) MarkRead(ctx context.Context, phoneNumberID, providerMessageID string) error {
	if err := validation.ValidateMessageID(providerMessageID); err != nil {
		return err
	}
	if e.mode == models.SendModeDryRun {
		return nil
	}
	start := e.now()
	_, err := e.Provider.SendMessage(ctx, phoneNumberID, whatsapp.ReadReceipt(providerMessageID))
	e.Metrics.RecordAPILatency("MarkRead", e.now().Sub(start), err == nil)
	return err
}

// validate resolves the recipient and checks everything that needs no I/O beyond the contact lookup.
func (e *SendEngine) validate(ctx context.Context, a *sendAttempt) error {
	req := a.req
	if req.Channel != models.ChannelWhatsApp {
		return errors.NewValidationError("channel", string(req.Channel), "only whatsapp is supported")
	}
	if req.PhoneNumberID == "" {
		return errors.NewValidationError("phoneNumberId", "", "origination phone number ID is required")
	}
	if !e.allowedSenders[req.PhoneNumberID] {
		return errors.NewValidationError("phoneNumberId", req.PhoneNumberID, "origination phone number is not allowed")
	}
	if req.ContactID == "" && req.RecipientPhone == "" {
		return errors.NewValidationError("contactId", "", "contactId or recipientPhone is required")
	}

	if err := validateKind(a); err != nil {
		return err
	}

	contact, err := e.resolveContact(ctx, req)
	if err != nil {
		return err
	}
	if contact.Phone == "" {
		return errors.NewValidationError("recipientPhone", "", "contact has no phone number")
	}
	a.contact = contact

	if !contact.CanReceive(req.Channel) {
		return errors.NewConsentError("contact has not opted in or is not allowlisted")
	}
	if e.enforceWindow && !req.ReplyToEvent && !e.Contacts.IsWithinServiceWindow(contact, req.IsTemplateSend()) {
		return errors.NewConsentError("outside the 24h customer service window")
	}

	if a.kind != models.SendMedia {
		if err := e.buildPayload(a); err != nil {
			return err
		}
	}
	return nil
}

func validateKind(a *sendAttempt) error {
	req := a.req
	switch a.kind {
	case models.SendText:
		return validation.ValidateTextContent(req.Content)
	case models.SendMedia:
		if req.MediaType == "" && !req.IsSticker {
			return errors.NewValidationError("mediaType", "", "media type is required")
		}
		if req.Caption != "" {
			return validation.ValidateStringLength(req.Caption, "caption", 0, constants.MaxTextBytes)
		}
	case models.SendTemplate:
		return validation.ValidateTemplateName(req.TemplateName)
	case models.SendInteractive:
		if req.InteractiveData == nil {
			return errors.NewValidationError("interactiveData", "", "interactive data is required")
		}
	case models.SendOrderStatus:
		if req.OrderStatusDetails == nil {
			return errors.NewValidationError("orderStatusDetails", "", "order status details are required")
		}
	case models.SendReaction:
		if err := validation.ValidateMessageID(req.ReactionMessageID); err != nil {
			return err
		}
	}
	return nil
}

func (e *SendEngine) resolveContact(ctx context.Context, req *models.SendRequest) (*models.Contact, error) {
	if req.ContactID != "" {
		return e.Contacts.Get(ctx, req.ContactID)
	}
	phone, err := whatsapp.CanonicalPhone(req.RecipientPhone)
	if err != nil {
		return nil, errors.NewValidationError("recipientPhone", req.RecipientPhone, err.Error())
	}
	if err := validation.ValidatePhoneNumber(phone); err != nil {
		return nil, err
	}
	contact, err := e.Contacts.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, errors.NewNotFoundError("contact", phone)
	}
	return contact, nil
}

// buildPayload builds every non-media variant and fills the stored content.
func (e *SendEngine) buildPayload(a *sendAttempt) error {
	req := a.req
	to := a.contact.Phone
	var (
		payload *types.MessagePayload
		err     error
	)

	switch a.kind {
	case models.SendText:
		payload, err = e.Builder.Text(to, req.Content)
		a.msgType, a.content = models.MessageTypeText, req.Content
	case models.SendTemplate:
		spec := whatsapp.TemplateSpec{
			Name:     req.TemplateName,
			Language: req.TemplateLanguage,
			Params:   req.TemplateParams,
		}
		if req.IsPaymentTemplate {
			if req.OrderDetails == nil {
				return errors.NewValidationError("orderDetails", "", "order details are required for a payment template")
			}
			spec.OrderDetails = req.OrderDetails
			spec.HeaderImage = req.HeaderImageURL
		} else if req.HeaderImageURL != "" {
			spec.HeaderImage = req.HeaderImageURL
		}
		payload, err = e.Builder.Template(to, spec)
		a.msgType, a.content = models.MessageTypeTemplate, "[template:"+req.TemplateName+"]"
	case models.SendInteractive:
		payload, err = e.Builder.Interactive(to, req.InteractiveType, req.InteractiveData)
		a.msgType, a.content = models.MessageTypeInteractive, req.InteractiveData.Body
	case models.SendOrderStatus:
		payload, err = e.Builder.OrderStatus(to, req.OrderStatusDetails)
		a.msgType = models.MessageTypeInteractive
		if payload != nil && payload.Interactive != nil && payload.Interactive.Body != nil {
			a.content = payload.Interactive.Body.Text
		}
	case models.SendInteractivePayment:
		payload, a.breakdown, err = e.Builder.InteractivePayment(to, req.PaymentDetails)
		a.msgType = models.MessageTypePayment
		if req.PaymentDetails != nil {
			a.content = req.PaymentDetails.Body
		}
	case models.SendReaction:
		payload, err = e.Builder.Reaction(to, req.ReactionMessageID, req.ReactionEmoji)
		a.msgType, a.content = models.MessageTypeReaction, req.ReactionEmoji
	default:
		return errors.NewValidationError("kind", string(a.kind), "unsupported message kind")
	}
	if err != nil {
		return err
	}
	if req.ReplyToMessageID != "" && a.kind != models.SendReaction {
		payload.Context = &types.MessageContext{MessageID: req.ReplyToMessageID}
	}
	a.payload = payload
	return nil
}

// checkRate applies the per-second bucket and, on WhatsApp, the conversation tier.
func (e *SendEngine) checkRate(ctx context.Context, a *sendAttempt) error {
	channel := a.req.Channel
	identity := ratelimit.Identity(channel, a.req.PhoneNumberID)

	decision := e.Limiter.Allow(ctx, channel, identity)
	if !decision.Allowed {
		return errors.NewRateLimitError(decision.Limit, "1s").
			WithContext("bucket", ratelimit.BucketKey(channel, identity))
	}
	if channel != models.ChannelWhatsApp {
		return nil
	}

	tier := e.Limiter.CheckTier(ctx, a.req.PhoneNumberID, a.contact.Phone)
	if tier.NewConversation && e.Alerts != nil {
		e.Alerts.TierUsage(ctx, a.req.PhoneNumberID, tier.TierUsagePercent)
	}
	if !tier.Allowed {
		if e.Alerts != nil {
			e.Alerts.TierUsage(ctx, a.req.PhoneNumberID, tier.TierUsagePercent)
		}
		return errors.NewRateLimitError(tier.TierLimit, "24h").WithContext("tier_usage", tier.TierUsage)
	}
	a.tier = tier
	return nil
}

// settleTier counts a reserved conversation once the provider accepted the
// send and gives it back otherwise. DRY_RUN never counts.
func (e *SendEngine) settleTier(ctx context.Context, a *sendAttempt, delivered bool) {
	if a.contact == nil || a.req.Channel != models.ChannelWhatsApp {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if delivered {
		e.Limiter.CommitTier(ctx, a.req.PhoneNumberID, a.tier)
		return
	}
	e.Limiter.ReleaseTier(ctx, a.req.PhoneNumberID, a.contact.Phone, a.tier)
}

// dispatch calls the provider, or fabricates an ID in DRY_RUN.
func (e *SendEngine) dispatch(ctx context.Context, a *sendAttempt) (string, models.MessageStatus, error) {
	if e.mode == models.SendModeDryRun {
		return "dry-run-" + uuid.New().String(), models.StatusDryRun, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
	defer cancel()

	start := e.now()
	out, err := e.Provider.SendMessage(callCtx, a.req.PhoneNumberID, a.payload)
	e.Metrics.RecordAPILatency("SendMessage", e.now().Sub(start), err == nil)
	if err != nil {
		if _, ok := errors.As(err); !ok {
			err = errors.FromContextError(err, "provider send")
			if _, ok := errors.As(err); !ok {
				err = errors.NewProviderError("send", 0, "", err)
			}
		}
		return "", "", err
	}
	return out.MessageID, models.StatusSent, nil
}

// reject ends an attempt before dispatch. Nothing is recorded.
func (e *SendEngine) reject(ctx context.Context, a *sendAttempt, err error, fields logrus.Fields) (*models.SendResult, error) {
	token := errors.TokenFor(err)
	e.Metrics.RecordRejected(string(a.req.Channel), string(token))

	entry := logEntry(ctx, e.Logger, fields).WithField("error_code", errors.GetCode(err))
	if token == errors.TokenInternal {
		entry.WithError(err).Error("Send rejected")
		if e.Alerts != nil {
			e.Alerts.Error(ctx, "send", err)
		}
	} else {
		entry.WithError(err).Info("Send rejected")
	}

	result := &models.SendResult{
		Mode:       e.mode,
		StatusCode: errors.HTTPStatusCode(err),
		Error:      string(token),
		Message:    errors.GetUserMessage(err),
	}
	if token == errors.TokenRate {
		result.RetryAfter = 1
	}
	return result, err
}

// fail records a failed Message row for terminal failures after the rate check.
func (e *SendEngine) fail(ctx context.Context, a *sendAttempt, err error, errType string, fields logrus.Fields) (*models.SendResult, error) {
	if ctx.Err() != nil {
		err = errors.FromContextError(ctx.Err(), "send")
		errType = "timeout"
	}
	e.settleTier(ctx, a, false)

	msg := e.newMessage(a, models.StatusFailed)
	msg.ErrorDetails = &models.ErrorDetails{Type: errType, Message: err.Error()}
	if putErr := e.Store.Put(context.WithoutCancel(ctx), e.tables.Messages, msg.ID, msg); putErr != nil {
		logEntry(ctx, e.Logger, fields).WithError(putErr).Error("Failed to record failed send")
	}
	e.Metrics.RecordSend(e.dimensions(a, models.StatusFailed), false)

	errors.Entry(logEntry(ctx, e.Logger, fields), err).Warn("Send failed")
	if e.Alerts != nil {
		e.Alerts.Error(ctx, "send", err)
	}

	token := errors.TokenFor(err)
	result := &models.SendResult{
		MessageID:  msg.ID,
		Status:     models.StatusFailed,
		Mode:       e.mode,
		StatusCode: errors.HTTPStatusCode(err),
		Error:      string(token),
		Message:    errors.GetUserMessage(err),
	}
	if errors.HasCode(err, errors.ErrCodeProviderThrottle) {
		result.RetryAfter = 1
	}
	return result, err
}

func (e *SendEngine) newMessage(a *sendAttempt, status models.MessageStatus) *models.Message {
	now := e.now()
	msg := &models.Message{
		ID:               a.messageID,
		Channel:          a.req.Channel,
		Direction:        models.DirectionOutbound,
		MessageType:      a.msgType,
		Content:          a.content,
		Status:           status,
		Timestamp:        now.Unix(),
		CreatedAt:        now.Unix(),
		ExpiresAt:        now.Add(constants.MessageTTL).Unix(),
		ReplyToMessageID: a.req.ReplyToMessageID,
		Mode:             e.mode,
		AWSPhoneNumberID: a.req.PhoneNumberID,
	}
	if msg.MessageType == "" {
		msg.MessageType = kindMessageType(a.kind, a.req)
	}
	if a.contact != nil {
		msg.ContactID = a.contact.ID
		msg.ReceivingPhone = a.contact.Phone
	}
	if a.media != nil {
		msg.MediaID = a.media.MediaID
		msg.S3Key = a.media.S3Key
		msg.MimeType = a.media.MimeType
		msg.MediaSize = a.media.Size
		msg.Filename = a.media.Filename
	}
	switch a.kind {
	case models.SendInteractivePayment:
		if a.req.PaymentDetails != nil {
			msg.PaymentReferenceID = whatsapp.SanitizeReferenceID(a.req.PaymentDetails.ReferenceID)
			msg.PaymentStatus = types.OrderPending
		}
		if a.breakdown != nil {
			msg.PaymentAmount = a.breakdown.Total
			msg.PaymentOffset = constants.PaymentOffset
		}
	case models.SendOrderStatus:
		if d := a.req.OrderStatusDetails; d != nil {
			msg.PaymentReferenceID = whatsapp.SanitizeReferenceID(d.ReferenceID)
			msg.PaymentStatus = d.Status
			if d.Amount != nil {
				msg.PaymentAmount = *d.Amount
				msg.PaymentOffset = constants.PaymentOffset
			}
		}
	}
	return msg
}

func (e *SendEngine) dimensions(a *sendAttempt, status models.MessageStatus) metrics.SendDimensions {
	msgType := a.msgType
	if msgType == "" {
		msgType = kindMessageType(a.kind, a.req)
	}
	return metrics.SendDimensions{
		Channel:     string(a.req.Channel),
		Status:      string(status),
		MessageType: string(msgType),
	}
}

func kindMessageType(kind models.SendKind, req *models.SendRequest) models.MessageType {
	switch kind {
	case models.SendMedia:
		if k, _ := resolveMediaKind(req.MediaType, req.MediaFileName, req.IsSticker); k != "" {
			return models.MessageType(k)
		}
		return models.MessageTypeDocument
	case models.SendTemplate:
		return models.MessageTypeTemplate
	case models.SendInteractive, models.SendOrderStatus:
		return models.MessageTypeInteractive
	case models.SendInteractivePayment:
		return models.MessageTypePayment
	case models.SendReaction:
		return models.MessageTypeReaction
	default:
		return models.MessageTypeText
	}
}

func mediaContent(kind, caption string) string {
	if caption != "" {
		return caption
	}
	return fmt.Sprintf("[%s]", kind)
}

// providerErrorType is the errorDetails.type recorded for a dispatch failure.
func providerErrorType(err error) string {
	if errors.HasCode(err, errors.ErrCodeTimeout) || stderrors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if appErr, ok := errors.As(err); ok {
		if t, ok := appErr.Context["type"].(string); ok && t != "" {
			return t
		}
	}
	return "api_error"
}

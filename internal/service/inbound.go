package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/eventfeed"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/tracing"
	"wadispatch/pkg/whatsapp"
	"wadispatch/pkg/whatsapp/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatcher is the part of the send engine the inbound processor drives.
type Dispatcher interface {
	Sender
	MarkRead(ctx context.Context, phoneNumberID, providerMessageID string) error
}

// InboundDeps are the collaborators of the inbound processor.
type InboundDeps struct {
	Store       database.DocumentStore
	Contacts    *ContactService
	Dedup       *Deduplicator
	Media       *MediaService
	Engine      Dispatcher
	Suggestions *SuggestionService
	SysConfig   *SystemConfigService
	DLQ         *DLQService
	Tasks       *TaskRunner
	Metrics     *metrics.Registry
	Feed        eventfeed.Publisher
	Logger      *logrus.Logger
}

// BatchReport summarises one notification batch.
type BatchReport struct {
	Records   int `json:"records"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// InboundProcessor turns provider notifications into Message rows and follow-up sends.
type InboundProcessor struct {
	InboundDeps
	tables       database.Tables
	phones       map[string]models.PhoneNumberConfig
	fallback     *models.PhoneNumberConfig
	strict       bool
	autoReaction models.AutoReactionConfig
	now          func() time.Time
}

func NewInboundProcessor(cfg *models.Config, deps InboundDeps) *InboundProcessor {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Feed == nil {
		deps.Feed = eventfeed.Discard{}
	}
	if deps.Tasks == nil {
		deps.Tasks = NewTaskRunner(0, deps.Logger)
	}
	phones := make(map[string]models.PhoneNumberConfig, len(cfg.PhoneNumbers))
	for _, p := range cfg.PhoneNumbers {
		phones[p.MetaPhoneNumberID] = p
	}
	var fallback *models.PhoneNumberConfig
	if len(cfg.PhoneNumbers) > 0 {
		first := cfg.PhoneNumbers[0]
		fallback = &first
	}
	reaction := cfg.AutoReaction
	if reaction.Emoji == "" {
		reaction.Emoji = constants.DefaultAutoReactionEmoji
	}
	return &InboundProcessor{
		InboundDeps:  deps,
		tables:       deps.Store.Tables(),
		phones:       phones,
		fallback:     fallback,
		strict:       cfg.StrictPhoneMapping,
		autoReaction: reaction,
		now:          time.Now,
	}
}

// ProcessBatch handles every record independently. A failing record is routed
// to the inbound DLQ and never aborts the batch.
func (p *InboundProcessor) ProcessBatch(ctx context.Context, records [][]byte) BatchReport {
	report := BatchReport{Records: len(records)}
	for _, raw := range records {
		if err := p.Process(ctx, raw); err != nil {
			report.Failed++
			continue
		}
		report.Processed++
	}
	return report
}

// Process handles one record and routes it to the DLQ on failure. The returned
// error is the processing error; it is nil when the record succeeded.
func (p *InboundProcessor) Process(ctx context.Context, raw []byte) error {
	err := p.HandleRecord(ctx, raw)
	if err == nil {
		return nil
	}

	originalID := envelopeID(raw)
	errors.Entry(logEntry(ctx, p.Logger, logrus.Fields{"envelope_id": originalID}), err).
		Error("Inbound record failed, routing to DLQ")
	if p.DLQ != nil {
		if _, dlqErr := p.DLQ.Enqueue(ctx, models.QueueInbound, originalID, json.RawMessage(raw), err); dlqErr != nil {
			return stderrors.Join(err, dlqErr)
		}
	}
	return err
}

// HandleRecord processes one envelope without DLQ routing. It is also the
// replay handler of the inbound queue.
func (p *InboundProcessor) HandleRecord(ctx context.Context, raw []byte) (err error) {
	ctx, span := tracing.StartUnit(ctx, "inbound_record")
	defer func() { tracing.EndUnit(span, err) }()

	var env types.InboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid inbound envelope")
	}
	entry, err := env.DecodeEntry()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid webhook entry")
	}

	var errs []error
	for _, change := range entry.Changes {
		if !change.IsMessages() {
			if p.SysConfig != nil {
				if err := p.SysConfig.RecordEvent(ctx, change.Field, change.Value); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}
		value, err := change.MessagesValue()
		if err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid messages change"))
			continue
		}
		phone, err := p.resolvePhone(ctx, &env, value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rc := &recordContext{envelope: &env, value: value, phone: phone}

		for i := range value.Messages {
			if err := p.handleMessage(ctx, rc, &value.Messages[i]); err != nil {
				errs = append(errs, fmt.Errorf("message %s: %w", value.Messages[i].ID, err))
			}
		}
		for i := range value.Statuses {
			if err := p.handleStatus(ctx, rc, &value.Statuses[i]); err != nil {
				errs = append(errs, fmt.Errorf("status %s: %w", value.Statuses[i].ID, err))
			}
		}
	}
	return stderrors.Join(errs...)
}

// recordContext is the per-change state shared by its messages and statuses.
type recordContext struct {
	envelope *types.InboundEnvelope
	value    *types.ChangeValue
	phone    models.PhoneNumberConfig
}

func (rc *recordContext) wabaIDs() []string {
	ids := make([]string, 0, len(rc.envelope.Context.MetaWabaIDs))
	for _, w := range rc.envelope.Context.MetaWabaIDs {
		if w.WabaID != "" {
			ids = append(ids, w.WabaID)
		}
	}
	return ids
}

func (rc *recordContext) receivingPhone() string {
	if rc.value.Metadata.DisplayPhoneNumber != "" {
		return rc.value.Metadata.DisplayPhoneNumber
	}
	return rc.phone.DisplayPhoneNumber
}

// resolvePhone maps the receiving Meta phone-number ID to its origination config.
func (p *InboundProcessor) resolvePhone(ctx context.Context, env *types.InboundEnvelope, value *types.ChangeValue) (models.PhoneNumberConfig, error) {
	metaID := value.Metadata.PhoneNumberID
	if metaID == "" && len(env.Context.MetaPhoneNumberIDs) > 0 {
		metaID = env.Context.MetaPhoneNumberIDs[0].MetaPhoneNumberID
	}
	if cfg, ok := p.phones[metaID]; ok {
		return cfg, nil
	}
	if p.strict || p.fallback == nil {
		return models.PhoneNumberConfig{}, errors.New(errors.ErrCodeValidationFailed, "unknown receiving phone number").
			WithContext("meta_phone_number_id", metaID)
	}
	logEntry(ctx, p.Logger, logrus.Fields{
		"meta_phone_number_id": metaID,
		LogFieldPhoneNumberID:  p.fallback.AWSPhoneNumberID,
	}).Warn("Unknown receiving phone number, using first configured mapping")
	return *p.fallback, nil
}

func (p *InboundProcessor) handleMessage(ctx context.Context, rc *recordContext, msg *types.InboundMessage) error {
	if msg.ID == "" || msg.From == "" {
		return errors.NewValidationError("message", msg.ID, "inbound message requires id and from")
	}
	fields := logrus.Fields{LogFieldWAMessageID: msg.ID, LogFieldMessageType: msg.Type}

	key := messageDedupKey(msg.ID)
	claimed, err := p.Dedup.Claim(ctx, key, msg.ID)
	if err != nil {
		return err
	}
	if !claimed {
		p.recordInbound(msg.Type, true)
		logEntry(ctx, p.Logger, fields).Debug("Duplicate inbound message ignored")
		return nil
	}

	message, contact, err := p.persistMessage(ctx, rc, msg)
	if err != nil {
		if relErr := p.Dedup.Release(context.WithoutCancel(ctx), key); relErr != nil {
			logEntry(ctx, p.Logger, fields).WithError(relErr).Warn("Failed to release dedup marker")
		}
		return err
	}
	p.recordInbound(msg.Type, false)

	if err := p.Contacts.UpdateLastInboundAt(ctx, contact.ID, message.Timestamp); err != nil {
		logEntry(ctx, p.Logger, fields).WithError(err).Warn("Failed to update contact service window")
	}

	p.Feed.Publish(eventfeed.Event{
		Type:              eventfeed.EventInboundMessage,
		MessageID:         message.ID,
		WhatsAppMessageID: message.WhatsAppMessageID,
		ContactID:         contact.ID,
		MessageType:       string(message.MessageType),
		Status:            string(message.Status),
		Content:           message.Content,
		Timestamp:         message.Timestamp,
	})

	fields[LogFieldMessageID] = message.ID
	fields[LogFieldContactID] = contact.ID
	logEntry(ctx, p.Logger, fields).Info("Inbound message stored")

	p.followUp(ctx, rc, message, contact)
	return nil
}

func (p *InboundProcessor) persistMessage(ctx context.Context, rc *recordContext, msg *types.InboundMessage) (*models.Message, *models.Contact, error) {
	now := p.now()
	ts := int64(msg.Timestamp)
	if ts <= 0 {
		ts = now.Unix()
	}
	contact, _, err := p.Contacts.GetOrCreateByPhone(ctx, msg.From, rc.value.ProfileName(msg.From), ts)
	if err != nil {
		return nil, nil, err
	}
	msgType, content := extractContent(msg)
	message := &models.Message{
		ID:                uuid.New().String(),
		ContactID:         contact.ID,
		Channel:           models.ChannelWhatsApp,
		Direction:         models.DirectionInbound,
		MessageType:       msgType,
		Content:           content,
		Status:            models.StatusReceived,
		Timestamp:         ts,
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(constants.MessageTTL).Unix(),
		WhatsAppMessageID: msg.ID,
		SenderPhone:       contact.Phone,
		SenderName:        rc.value.ProfileName(msg.From),
		ReceivingPhone:    rc.receivingPhone(),
		AWSPhoneNumberID:  rc.phone.AWSPhoneNumberID,
		MetaWabaIDs:       rc.wabaIDs(),
	}
	if msg.Context != nil {
		message.ReplyToMessageID = msg.Context.ID
	}

	if media := msg.Media(); media != nil && p.Media != nil {
		stored, err := p.Media.DownloadInbound(ctx, rc.phone.AWSPhoneNumberID, message.ID, contact.ID, msg.Type, media)
		if err != nil {
			errors.Entry(logEntry(ctx, p.Logger, logrus.Fields{LogFieldWAMessageID: msg.ID}), err).
				Warn("Inbound media download failed, storing message without media")
		} else {
			message.MediaID = stored.MediaID
			message.S3Key = stored.S3Key
			message.MimeType = stored.MimeType
			message.MediaSize = stored.Size
			message.Filename = stored.Filename
		}
	}

	if err := p.Store.Put(ctx, p.tables.Messages, message.ID, message); err != nil {
		return nil, nil, err
	}
	return message, contact, nil
}

// followUp schedules the auto-reaction, read receipt and reply suggestion.
func (p *InboundProcessor) followUp(ctx context.Context, rc *recordContext, message *models.Message, contact *models.Contact) {
	phoneID := rc.phone.AWSPhoneNumberID
	if message.MessageType == models.MessageTypeReaction || p.Engine == nil {
		return
	}

	if !p.autoReaction.Disabled {
		p.Tasks.Go(ctx, "auto_reaction", func(ctx context.Context) error {
			_, err := p.Engine.Send(ctx, &models.SendRequest{
				ContactID:         contact.ID,
				PhoneNumberID:     phoneID,
				IsReaction:        true,
				ReactionMessageID: message.WhatsAppMessageID,
				ReactionEmoji:     p.autoReaction.Emoji,
				Source:            "inbound",
			})
			return err
		})
	}
	p.Tasks.Go(ctx, "read_receipt", func(ctx context.Context) error {
		return p.Engine.MarkRead(ctx, phoneID, message.WhatsAppMessageID)
	})

	if message.MessageType == models.MessageTypeText && p.Suggestions != nil {
		p.Tasks.Go(ctx, "suggestion", func(ctx context.Context) error {
			return p.Suggestions.Handle(ctx, message, contact, phoneID)
		})
	}
}

// findOutbound returns the outbound message carrying wamid. Payment rows share
// the provider id of their status event and are never status targets.
func (p *InboundProcessor) findOutbound(ctx context.Context, wamid string) (*models.Message, error) {
	raws, err := p.Store.Query(ctx, p.tables.Messages, database.Query{Lookup: []string{wamid}})
	if err != nil {
		return nil, err
	}
	for _, raw := range raws {
		var m models.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to decode message")
		}
		if m.Direction == models.DirectionOutbound {
			return &m, nil
		}
	}
	return nil, nil
}

func (p *InboundProcessor) handleStatus(ctx context.Context, rc *recordContext, st *types.StatusEvent) error {
	if st.IsPayment() {
		return p.handlePayment(ctx, rc, st)
	}
	if st.ID == "" {
		return errors.NewValidationError("status", "", "status event requires id")
	}
	p.recordInbound("status", false)

	existing, err := p.findOutbound(ctx, st.ID)
	if err != nil {
		return err
	}
	fields := logrus.Fields{LogFieldWAMessageID: st.ID, LogFieldStatus: st.Status}
	if existing == nil {
		logEntry(ctx, p.Logger, fields).Debug("Status update for unknown message")
		return nil
	}

	ts := int64(st.Timestamp)
	if ts <= 0 {
		ts = p.now().Unix()
	}
	set := map[string]interface{}{
		"status":          strings.ToLower(st.Status),
		"statusUpdatedAt": ts,
	}
	if len(st.Errors) > 0 {
		set["errorDetails"] = models.ErrorDetails{Type: fmt.Sprintf("%d", st.Errors[0].Code), Message: st.Errors[0].Title}
	}
	if err := p.Store.Update(ctx, p.tables.Messages, existing.ID, set, database.Exists(), nil); err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}

	p.Feed.Publish(eventfeed.Event{
		Type:              eventfeed.EventStatusUpdate,
		MessageID:         existing.ID,
		WhatsAppMessageID: st.ID,
		ContactID:         existing.ContactID,
		Status:            strings.ToLower(st.Status),
		Timestamp:         ts,
	})
	fields[LogFieldMessageID] = existing.ID
	logEntry(ctx, p.Logger, fields).Debug("Message status updated")
	return nil
}

// handlePayment records a payment transition and confirms it with an order_status message.
func (p *InboundProcessor) handlePayment(ctx context.Context, rc *recordContext, st *types.StatusEvent) error {
	if st.Payment == nil || st.Payment.ReferenceID == "" {
		return errors.NewValidationError("payment", st.ID, "payment status without reference")
	}
	pay := st.Payment
	status := strings.ToLower(st.Status)
	fields := logrus.Fields{LogFieldReferenceID: pay.ReferenceID, LogFieldStatus: status}

	key := paymentDedupKey(pay.ReferenceID, status)
	claimed, err := p.Dedup.Claim(ctx, key, st.ID)
	if err != nil {
		return err
	}
	if !claimed {
		p.recordInbound("payment", true)
		logEntry(ctx, p.Logger, fields).Debug("Duplicate payment status ignored")
		return nil
	}

	message, contact, err := p.persistPayment(ctx, rc, st)
	if err != nil {
		if relErr := p.Dedup.Release(context.WithoutCancel(ctx), key); relErr != nil {
			logEntry(ctx, p.Logger, fields).WithError(relErr).Warn("Failed to release payment dedup marker")
		}
		return err
	}
	p.recordInbound("payment", false)

	p.Feed.Publish(eventfeed.Event{
		Type:              eventfeed.EventPayment,
		MessageID:         message.ID,
		WhatsAppMessageID: st.ID,
		ContactID:         contact.ID,
		MessageType:       string(models.MessageTypePayment),
		Status:            status,
		Content:           message.Content,
		Timestamp:         message.Timestamp,
		Data:              message.PaymentFields,
	})
	fields[LogFieldMessageID] = message.ID
	fields[LogFieldContactID] = contact.ID
	logEntry(ctx, p.Logger, fields).Info("Payment status recorded")

	orderStatus, body := paymentConfirmation(status, pay.Amount)
	if orderStatus == "" || p.Engine == nil {
		return nil
	}
	amount := pay.Amount.Value
	result, err := p.Engine.Send(ctx, &models.SendRequest{
		ContactID:     contact.ID,
		PhoneNumberID: rc.phone.AWSPhoneNumberID,
		IsOrderStatus: true,
		OrderStatusDetails: &types.OrderStatusInput{
			ReferenceID: pay.ReferenceID,
			Status:      orderStatus,
			Body:        body,
			Amount:      &amount,
		},
		Source:       "inbound",
		ReplyToEvent: true,
	})
	if err != nil {
		// The engine already recorded the failed send.
		errors.Entry(logEntry(ctx, p.Logger, fields), err).Error("Payment confirmation send failed")
		return nil
	}
	fields[LogFieldWAMessageID] = result.WhatsAppMessageID
	logEntry(ctx, p.Logger, fields).Info("Payment confirmation sent")
	return nil
}

func (p *InboundProcessor) persistPayment(ctx context.Context, rc *recordContext, st *types.StatusEvent) (*models.Message, *models.Contact, error) {
	contact, _, err := p.Contacts.GetOrCreateByPhone(ctx, st.RecipientID, "", 0)
	if err != nil {
		return nil, nil, err
	}
	pay := st.Payment
	status := strings.ToLower(st.Status)
	now := p.now()
	ts := int64(st.Timestamp)
	if ts <= 0 {
		ts = now.Unix()
	}
	offset := pay.Amount.Offset
	if offset <= 0 {
		offset = constants.PaymentOffset
	}

	message := &models.Message{
		ID:                uuid.New().String(),
		ContactID:         contact.ID,
		Channel:           models.ChannelWhatsApp,
		Direction:         models.DirectionInbound,
		MessageType:       models.MessageTypePayment,
		Content:           fmt.Sprintf("Payment %s: %s", status, whatsapp.FormatRupees(pay.Amount)),
		Status:            models.StatusReceived,
		Timestamp:         ts,
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(constants.MessageTTL).Unix(),
		WhatsAppMessageID: st.ID,
		SenderPhone:       contact.Phone,
		ReceivingPhone:    rc.receivingPhone(),
		AWSPhoneNumberID:  rc.phone.AWSPhoneNumberID,
		MetaWabaIDs:       rc.wabaIDs(),
		PaymentFields: models.PaymentFields{
			PaymentReferenceID: pay.ReferenceID,
			PaymentStatus:      status,
			PaymentAmount:      pay.Amount.Value,
			PaymentOffset:      offset,
			Currency:           pay.Currency,
		},
	}
	if pay.Transaction != nil {
		message.TransactionID = pay.Transaction.ID
		message.TransactionType = pay.Transaction.Type
	}

	if err := p.Store.Put(ctx, p.tables.Messages, message.ID, message); err != nil {
		return nil, nil, err
	}
	return message, contact, nil
}

// paymentConfirmation maps a payment status to the order status and body sent back.
// Pending payments get no confirmation.
func paymentConfirmation(status string, amount types.Amount) (string, string) {
	switch status {
	case types.PaymentCaptured:
		return types.OrderCompleted, fmt.Sprintf("Payment of %s received successfully! Thank you ✅", whatsapp.FormatRupees(amount))
	case types.PaymentFailed:
		return types.OrderCanceled, fmt.Sprintf("Payment of %s could not be completed. Please try again.", whatsapp.FormatRupees(amount))
	}
	return "", ""
}

func (p *InboundProcessor) recordInbound(kind string, duplicate bool) {
	if p.Metrics != nil {
		p.Metrics.RecordInbound(kind, duplicate)
	}
}

// extractContent maps an inbound message to its stored type and display content.
func extractContent(msg *types.InboundMessage) (models.MessageType, string) {
	switch msg.Type {
	case types.PayloadText:
		if msg.Text != nil {
			return models.MessageTypeText, msg.Text.Body
		}
		return models.MessageTypeText, ""
	case types.PayloadImage, types.PayloadVideo, types.PayloadAudio, types.PayloadDocument, types.PayloadSticker:
		kind := models.MessageType(msg.Type)
		if m := msg.Media(); m != nil {
			if m.Caption != "" {
				return kind, m.Caption
			}
			if m.Filename != "" {
				return kind, fmt.Sprintf("[%s] %s", msg.Type, m.Filename)
			}
		}
		return kind, fmt.Sprintf("[%s]", msg.Type)
	case "location":
		if l := msg.Location; l != nil {
			label := strings.TrimSpace(strings.Join(nonEmpty(l.Name, l.Address), ", "))
			if label != "" {
				return models.MessageTypeLocation, fmt.Sprintf("[location] %s (%.6f, %.6f)", label, l.Latitude, l.Longitude)
			}
			return models.MessageTypeLocation, fmt.Sprintf("[location] %.6f, %.6f", l.Latitude, l.Longitude)
		}
		return models.MessageTypeLocation, "[location]"
	case "contacts":
		names := make([]string, 0, len(msg.Contacts))
		for _, c := range msg.Contacts {
			if c.Name.FormattedName != "" {
				names = append(names, c.Name.FormattedName)
			}
		}
		return models.MessageTypeContacts, strings.TrimSpace("[contacts] " + strings.Join(names, ", "))
	case types.PayloadReaction:
		if msg.Reaction != nil {
			return models.MessageTypeReaction, msg.Reaction.Emoji
		}
		return models.MessageTypeReaction, ""
	case types.PayloadInteractive:
		return models.MessageTypeInteractive, interactiveContent(msg.Interactive)
	case "button":
		if msg.Button != nil {
			return models.MessageTypeButton, msg.Button.Text
		}
		return models.MessageTypeButton, "[button]"
	case "order":
		if o := msg.Order; o != nil {
			if o.Text != "" {
				return models.MessageTypeOrder, o.Text
			}
			return models.MessageTypeOrder, fmt.Sprintf("[order] %d item(s)", len(o.ProductItems))
		}
		return models.MessageTypeOrder, "[order]"
	case "system":
		if msg.System != nil {
			return models.MessageTypeSystem, msg.System.Body
		}
		return models.MessageTypeSystem, "[system]"
	}
	return models.MessageTypeUnsupported, fmt.Sprintf("[unsupported:%s]", msg.Type)
}

func interactiveContent(in *types.InboundInteractive) string {
	switch {
	case in == nil:
		return "[interactive]"
	case in.ButtonReply != nil:
		return in.ButtonReply.Title
	case in.ListReply != nil:
		return in.ListReply.Title
	case in.NfmReply != nil:
		if in.NfmReply.ResponseJSON != "" {
			return in.NfmReply.ResponseJSON
		}
		return in.NfmReply.Body
	}
	return "[interactive]"
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func envelopeID(raw []byte) string {
	var head struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.MessageID == "" {
		return uuid.New().String()
	}
	return head.MessageID
}

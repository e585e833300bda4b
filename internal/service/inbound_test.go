package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wadispatch/internal/errors"
	"wadispatch/internal/eventfeed"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func isReadReceipt(id string) interface{} {
	return mock.MatchedBy(func(r *types.ReadReceipt) bool { return r.MessageID == id })
}

func paymentValue(recipient, ref, status string, value int64) map[string]interface{} {
	v := messagesValue(testMetaPhoneID)
	v["statuses"] = []interface{}{map[string]interface{}{
		"id":           "wamid.pay-" + status,
		"recipient_id": recipient,
		"status":       status,
		"timestamp":    "1717000100",
		"type":         "payment",
		"payment": map[string]interface{}{
			"reference_id": ref,
			"amount":       map[string]interface{}{"value": value, "offset": 100},
			"currency":     "INR",
			"transaction":  map[string]interface{}{"id": "txn-1", "type": "upi", "status": "success"},
		},
	}}
	return v
}

func TestInbound_TextMessageCreatesContactAndFollowUps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ts := time.Now().Add(-5 * time.Second).Truncate(time.Second)

	env.provider.On("SendMessage", mock.Anything, testPhoneID, isPayloadType(types.PayloadReaction)).
		Return(sent("wamid.reaction"), nil).Once()
	env.provider.On("SendMessage", mock.Anything, testPhoneID, isReadReceipt("wamid.in-1")).
		Return(sent(""), nil).Once()

	record := webhookRecord(t, "messages", textValue("919876543210", "Asha", "wamid.in-1", "Hello", ts))
	report := env.inbound.ProcessBatch(ctx, [][]byte{record})
	env.tasks.Wait()

	assert.Equal(t, BatchReport{Records: 1, Processed: 1}, report)

	contact, err := env.contacts.FindByPhone(ctx, "+919876543210")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Asha", contact.Name)
	assert.True(t, contact.OptInWhatsApp)
	assert.Equal(t, ts.Unix(), contact.LastInboundMessageAt)

	inbound := env.messages(t, models.DirectionInbound, contact.ID)
	require.Len(t, inbound, 1)
	msg := inbound[0]
	assert.Equal(t, models.MessageTypeText, msg.MessageType)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, models.StatusReceived, msg.Status)
	assert.Equal(t, "wamid.in-1", msg.WhatsAppMessageID)
	assert.Equal(t, ts.Unix(), msg.Timestamp)
	assert.Equal(t, int64(2592000), msg.ExpiresAt-msg.CreatedAt)
	assert.Equal(t, "+919876543210", msg.SenderPhone)
	assert.Equal(t, testBusiness, msg.ReceivingPhone)
	assert.Equal(t, testPhoneID, msg.AWSPhoneNumberID)
	assert.Equal(t, []string{testWabaID}, msg.MetaWabaIDs)

	outbound := env.messages(t, models.DirectionOutbound, contact.ID)
	require.Len(t, outbound, 1)
	assert.Equal(t, models.MessageTypeReaction, outbound[0].MessageType)
	assert.Equal(t, "\U0001F44D", outbound[0].Content)

	env.provider.AssertExpectations(t)
	assert.Equal(t, 1.0, env.registry.CounterTotal(metrics.InboundProcessed))
	assert.Contains(t, env.feed.Types(), eventfeed.EventInboundMessage)
}

func TestInbound_DuplicateRecordIsIgnored(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) { cfg.AutoReaction.Disabled = true })
	ctx := context.Background()
	env.provider.On("SendMessage", mock.Anything, testPhoneID, isReadReceipt("wamid.in-1")).Return(sent(""), nil).Once()

	record := webhookRecord(t, "messages", textValue("919876543210", "Asha", "wamid.in-1", "Hello", time.Now()))
	require.NoError(t, env.inbound.Process(ctx, record))
	require.NoError(t, env.inbound.Process(ctx, record))
	env.tasks.Wait()

	contact, err := env.contacts.FindByPhone(ctx, "+919876543210")
	require.NoError(t, err)
	assert.Len(t, env.messages(t, models.DirectionInbound, contact.ID), 1)
	assert.Empty(t, env.messages(t, models.DirectionOutbound, contact.ID))
	assert.Equal(t, 1.0, env.registry.CounterTotal(metrics.InboundDuplicates))
	env.provider.AssertExpectations(t)
}

func TestInbound_PlaceholderNameIsReplaced(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) { cfg.AutoReaction.Disabled = true })
	ctx := context.Background()
	env.provider.On("SendMessage", mock.Anything, testPhoneID, mock.Anything).Return(sent(""), nil)

	existing, err := env.contacts.Create(ctx, models.ContactInput{Phone: "919876543210", Name: "Unknown"})
	require.NoError(t, err)

	record := webhookRecord(t, "messages", textValue("919876543210", "Asha", "wamid.in-2", "Hi", time.Now()))
	require.NoError(t, env.inbound.Process(ctx, record))
	env.tasks.Wait()

	got, err := env.contacts.Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.Name)
}

func TestInbound_PaymentCapturedSendsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var captured interface{}
	env.provider.On("SendMessage", mock.Anything, testPhoneID, isPayloadType(types.PayloadInteractive)).
		Run(func(args mock.Arguments) { captured = args.Get(2) }).
		Return(sent("wamid.order-status"), nil).Once()

	record := webhookRecord(t, "messages", paymentValue("919876543210", "WDSR41BA3534", "captured", 5000))
	require.NoError(t, env.inbound.Process(ctx, record))

	contact, err := env.contacts.FindByPhone(ctx, "+919876543210")
	require.NoError(t, err)
	require.NotNil(t, contact)

	inbound := env.messages(t, models.DirectionInbound, contact.ID)
	require.Len(t, inbound, 1)
	pay := inbound[0]
	assert.Equal(t, models.MessageTypePayment, pay.MessageType)
	assert.Equal(t, "Payment captured: ₹50.00", pay.Content)
	assert.Equal(t, "WDSR41BA3534", pay.PaymentReferenceID)
	assert.Equal(t, "captured", pay.PaymentStatus)
	assert.Equal(t, int64(5000), pay.PaymentAmount)
	assert.Equal(t, "txn-1", pay.TransactionID)

	payload := payloadJSON(t, captured)
	interactive := payload["interactive"].(map[string]interface{})
	assert.Equal(t, "order_status", interactive["type"])
	assert.Equal(t, "Payment of ₹50.00 received successfully! Thank you ✅", interactive["body"].(map[string]interface{})["text"])
	params := interactive["action"].(map[string]interface{})["parameters"].(map[string]interface{})
	assert.Equal(t, "WDSR41BA3534", params["reference_id"])
	assert.Equal(t, "completed", params["order"].(map[string]interface{})["status"])

	outbound := env.messages(t, models.DirectionOutbound, contact.ID)
	require.Len(t, outbound, 1)
	assert.Equal(t, "completed", outbound[0].PaymentStatus)
	assert.Equal(t, int64(5000), outbound[0].PaymentAmount)

	// Same reference and status again: recorded once, confirmed once.
	require.NoError(t, env.inbound.Process(ctx, record))
	assert.Len(t, env.messages(t, models.DirectionInbound, contact.ID), 1)
	env.provider.AssertNumberOfCalls(t, "SendMessage", 1)
	assert.Contains(t, env.feed.Types(), eventfeed.EventPayment)
}

func TestInbound_PaymentConfirmationIgnoresClosedWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contact := env.freshContact(t, "919876543210")
	stale := time.Now().Add(-48 * time.Hour).Unix()
	require.NoError(t, env.store.Update(ctx, env.store.Tables().Contacts, contact.ID,
		map[string]interface{}{"lastInboundMessageAt": stale}, nil, nil))

	env.provider.On("SendMessage", mock.Anything, testPhoneID, isPayloadType(types.PayloadInteractive)).
		Return(sent("wamid.order-status"), nil).Once()

	record := webhookRecord(t, "messages", paymentValue("919876543210", "WDSR41BA3534", "captured", 5000))
	require.NoError(t, env.inbound.Process(ctx, record))

	env.provider.AssertNumberOfCalls(t, "SendMessage", 1)
	outbound := env.messages(t, models.DirectionOutbound, contact.ID)
	require.Len(t, outbound, 1)
	assert.Equal(t, "completed", outbound[0].PaymentStatus)

	// API sends to the same contact are still held to the window.
	_, err := env.engine.Send(ctx, &models.SendRequest{ContactID: contact.ID, PhoneNumberID: testPhoneID, Content: "hello"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConsent))
	env.provider.AssertNumberOfCalls(t, "SendMessage", 1)
}

func TestInbound_PaymentRowIsNotAStatusTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contact := env.freshContact(t, "919876543210")
	env.provider.On("SendMessage", mock.Anything, testPhoneID, isPayloadType(types.PayloadText)).
		Return(sent("wamid.pay-captured"), nil).Once()
	env.provider.On("SendMessage", mock.Anything, testPhoneID, isPayloadType(types.PayloadInteractive)).
		Return(sent("wamid.order-status"), nil).Once()

	record := webhookRecord(t, "messages", paymentValue("919876543210", "WDSR41BA3534", "captured", 5000))
	require.NoError(t, env.inbound.Process(ctx, record))
	result, err := env.engine.Send(ctx, &models.SendRequest{ContactID: contact.ID, PhoneNumberID: testPhoneID, Content: "pay here"})
	require.NoError(t, err)

	value := messagesValue(testMetaPhoneID)
	value["statuses"] = []interface{}{map[string]interface{}{
		"id":           "wamid.pay-captured",
		"recipient_id": "919876543210",
		"status":       "delivered",
		"timestamp":    "1717000200",
	}}
	require.NoError(t, env.inbound.Process(ctx, webhookRecord(t, "messages", value)))

	var stored models.Message
	require.NoError(t, env.store.Get(ctx, env.store.Tables().Messages, result.MessageID, &stored))
	assert.Equal(t, models.StatusDelivered, stored.Status)

	inbound := env.messages(t, models.DirectionInbound, contact.ID)
	require.Len(t, inbound, 1)
	assert.Equal(t, models.MessageTypePayment, inbound[0].MessageType)
	assert.Equal(t, models.StatusReceived, inbound[0].Status)
	assert.Zero(t, inbound[0].StatusUpdatedAt)
}

func TestInbound_PaymentFailedAndPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var captured interface{}
	env.provider.On("SendMessage", mock.Anything, testPhoneID, isPayloadType(types.PayloadInteractive)).
		Run(func(args mock.Arguments) { captured = args.Get(2) }).
		Return(sent("wamid.order-status"), nil).Once()

	require.NoError(t, env.inbound.Process(ctx, webhookRecord(t, "messages", paymentValue("919876543210", "WDSRA1", "pending", 1999))))
	env.provider.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, env.inbound.Process(ctx, webhookRecord(t, "messages", paymentValue("919876543210", "WDSRA1", "failed", 1999))))
	interactive := payloadJSON(t, captured)["interactive"].(map[string]interface{})
	assert.Equal(t, "Payment of ₹19.99 could not be completed. Please try again.", interactive["body"].(map[string]interface{})["text"])

	contact, err := env.contacts.FindByPhone(ctx, "+919876543210")
	require.NoError(t, err)
	assert.Len(t, env.messages(t, models.DirectionInbound, contact.ID), 2)
}

func TestInbound_StatusUpdatesOutboundMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contact := env.freshContact(t, "919876543210")
	env.provider.On("SendMessage", mock.Anything, testPhoneID, isPayloadType(types.PayloadText)).Return(sent("wamid.out-9"), nil).Once()

	result, err := env.engine.Send(ctx, &models.SendRequest{ContactID: contact.ID, PhoneNumberID: testPhoneID, Content: "ok"})
	require.NoError(t, err)

	value := messagesValue(testMetaPhoneID)
	value["statuses"] = []interface{}{map[string]interface{}{
		"id":           "wamid.out-9",
		"recipient_id": "919876543210",
		"status":       "DELIVERED",
		"timestamp":    "1717000200",
	}}
	require.NoError(t, env.inbound.Process(ctx, webhookRecord(t, "messages", value)))

	var stored models.Message
	require.NoError(t, env.store.Get(ctx, env.store.Tables().Messages, result.MessageID, &stored))
	assert.Equal(t, models.StatusDelivered, stored.Status)
	assert.Equal(t, int64(1717000200), stored.StatusUpdatedAt)
	assert.Contains(t, env.feed.Types(), eventfeed.EventStatusUpdate)

	// Unknown message IDs are ignored.
	value["statuses"] = []interface{}{map[string]interface{}{"id": "wamid.unknown", "status": "read", "timestamp": "1717000300"}}
	assert.NoError(t, env.inbound.Process(ctx, webhookRecord(t, "messages", value)))
}

func TestInbound_UnknownPhoneNumber(t *testing.T) {
	t.Run("strict mapping routes to DLQ", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *models.Config) { cfg.StrictPhoneMapping = true })
		ctx := context.Background()

		value := textValue("919876543210", "Asha", "wamid.in-3", "Hi", time.Now())
		value["metadata"] = map[string]interface{}{"display_phone_number": testBusiness, "phone_number_id": "meta-unknown"}
		report := env.inbound.ProcessBatch(ctx, [][]byte{webhookRecord(t, "messages", value)})
		assert.Equal(t, BatchReport{Records: 1, Failed: 1}, report)

		entries, err := env.dlq.List(ctx, models.QueueInbound, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "envelope-messages", entries[0].OriginalMessageID)
		assert.Contains(t, entries[0].Error, "unknown receiving phone number")

		contact, err := env.contacts.FindByPhone(ctx, "+919876543210")
		require.NoError(t, err)
		assert.Nil(t, contact)
	})

	t.Run("lenient mapping falls back to first phone", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *models.Config) { cfg.AutoReaction.Disabled = true })
		ctx := context.Background()
		env.provider.On("SendMessage", mock.Anything, testPhoneID, mock.Anything).Return(sent(""), nil)

		value := textValue("919876543210", "Asha", "wamid.in-4", "Hi", time.Now())
		value["metadata"] = map[string]interface{}{"display_phone_number": testBusiness, "phone_number_id": "meta-unknown"}
		require.NoError(t, env.inbound.Process(ctx, webhookRecord(t, "messages", value)))
		env.tasks.Wait()

		contact, err := env.contacts.FindByPhone(ctx, "+919876543210")
		require.NoError(t, err)
		msgs := env.messages(t, models.DirectionInbound, contact.ID)
		require.Len(t, msgs, 1)
		assert.Equal(t, testPhoneID, msgs[0].AWSPhoneNumberID)
	})
}

func TestInbound_NonMessageFieldIsSnapshotted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	value := map[string]interface{}{"event": "APPROVED", "message_template_name": "payment_due"}
	require.NoError(t, env.inbound.Process(ctx, webhookRecord(t, "message_template_status_update", value)))

	cfg, err := env.sysconfig.Get(ctx, models.ConfigKeyEventPrefix+"message_template_status_update")
	require.NoError(t, err)
	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal(cfg.Value, &stored))
	assert.Equal(t, "APPROVED", stored["event"])
	assert.Contains(t, env.feed.Types(), eventfeed.EventSystemConfig)
}

func TestInbound_MalformedRecordGoesToDLQAndReplays(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) { cfg.StrictPhoneMapping = true })
	ctx := context.Background()
	env.dlq.Register(models.QueueInbound, func(ctx context.Context, payload json.RawMessage) error {
		return env.inbound.HandleRecord(ctx, payload)
	})

	err := env.inbound.Process(ctx, []byte(`{"messageId":"bad-1","whatsAppWebhookEntry":"not json"}`))
	require.Error(t, err)

	n, err := env.dlq.Depth(ctx, models.QueueInbound)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	report, err := env.dlq.Replay(ctx, models.QueueInbound, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	entries, err := env.dlq.List(ctx, models.QueueInbound, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
}

func TestExtractContent(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType models.MessageType
		want     string
	}{
		{"text", `{"type":"text","text":{"body":"hi"}}`, models.MessageTypeText, "hi"},
		{"image with caption", `{"type":"image","image":{"id":"m1","caption":"look"}}`, models.MessageTypeImage, "look"},
		{"document with filename", `{"type":"document","document":{"id":"m2","filename":"bill.pdf"}}`, models.MessageTypeDocument, "[document] bill.pdf"},
		{"bare audio", `{"type":"audio","audio":{"id":"m3"}}`, models.MessageTypeAudio, "[audio]"},
		{"location", `{"type":"location","location":{"latitude":12.5,"longitude":77.25,"name":"Office"}}`, models.MessageTypeLocation, "[location] Office (12.500000, 77.250000)"},
		{"reaction", `{"type":"reaction","reaction":{"message_id":"x","emoji":"🔥"}}`, models.MessageTypeReaction, "🔥"},
		{"button reply", `{"type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"b1","title":"Yes"}}}`, models.MessageTypeInteractive, "Yes"},
		{"unknown", `{"type":"ephemeral"}`, models.MessageTypeUnsupported, "[unsupported:ephemeral]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg types.InboundMessage
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))
			gotType, got := extractContent(&msg)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeduplicator_ClaimAndRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok, err := env.dedup.Claim(ctx, messageDedupKey("wamid.1"), "wamid.1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.dedup.Claim(ctx, messageDedupKey("wamid.1"), "wamid.1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, env.dedup.Release(ctx, messageDedupKey("wamid.1")))
	ok, err = env.dedup.Claim(ctx, messageDedupKey("wamid.1"), "wamid.1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "payment:WDSR1:captured", paymentDedupKey("WDSR1", "captured"))

	var marker models.DedupMarker
	require.NoError(t, env.store.Get(ctx, env.store.Tables().Dedup, "msg:wamid.1", &marker))
	assert.Equal(t, "wamid.1", marker.MessageID)
}

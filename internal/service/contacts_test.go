package service

import (
	"context"
	"testing"
	"time"

	"wadispatch/internal/errors"
	"wadispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContacts_CreateDefaultsAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	no := false

	contact, err := env.contacts.Create(ctx, models.ContactInput{Name: " Ravi ", Phone: "91 98765-43210", OptInSMS: &no})
	require.NoError(t, err)
	assert.Equal(t, "Ravi", contact.Name)
	assert.Equal(t, "+919876543210", contact.Phone)
	assert.True(t, contact.OptInWhatsApp)
	assert.False(t, contact.OptInSMS)
	assert.True(t, contact.AllowlistWhatsApp)
	assert.Zero(t, contact.LastInboundMessageAt)

	_, err = env.contacts.Create(ctx, models.ContactInput{Phone: "+919876543210"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))

	_, err = env.contacts.Create(ctx, models.ContactInput{Name: "nobody"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))

	_, err = env.contacts.Create(ctx, models.ContactInput{Email: "not-an-email"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
}

func TestContacts_FindByPhoneMatchesVariants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created := env.freshContact(t, "919876543210")

	for _, form := range []string{"+919876543210", "919876543210", "+91 98765 43210"} {
		found, err := env.contacts.FindByPhone(ctx, form)
		require.NoError(t, err, form)
		require.NotNil(t, found, form)
		assert.Equal(t, created.ID, found.ID, form)
	}

	missing, err := env.contacts.FindByPhone(ctx, "+14155550100")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestContacts_UpdateConsent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contact := env.freshContact(t, "919876543210")
	no := false
	email := "asha@example.com"

	updated, err := env.contacts.UpdateConsent(ctx, contact.ID, models.ConsentUpdate{OptInWhatsApp: &no, Email: &email})
	require.NoError(t, err)
	assert.False(t, updated.OptInWhatsApp)
	assert.Equal(t, email, updated.Email)
	assert.False(t, updated.CanReceive(models.ChannelWhatsApp))
	assert.True(t, updated.AllowlistWhatsApp)

	_, err = env.contacts.UpdateConsent(ctx, "missing", models.ConsentUpdate{OptInWhatsApp: &no})
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestContacts_SoftDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contact := env.freshContact(t, "919876543210")

	require.NoError(t, env.contacts.SoftDelete(ctx, contact.ID))

	_, err := env.contacts.Get(ctx, contact.ID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	found, err := env.contacts.FindByPhone(ctx, contact.Phone)
	require.NoError(t, err)
	assert.Nil(t, found)

	err = env.contacts.SoftDelete(ctx, contact.ID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	// A new inbound message from the same phone starts a fresh contact.
	fresh, created, err := env.contacts.GetOrCreateByPhone(ctx, contact.Phone, "Asha", time.Now().Unix())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, contact.ID, fresh.ID)
}

func TestContacts_HardDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contact := env.freshContact(t, "919876543210")

	key := "WhatsApp/inbound/wecare-digital-abc.jpg"
	require.NoError(t, env.blobs.Put(ctx, key, []byte("img"), "image/jpeg"))
	msg := &models.Message{
		ID:          "msg-1",
		ContactID:   contact.ID,
		Channel:     models.ChannelWhatsApp,
		Direction:   models.DirectionInbound,
		MessageType: models.MessageTypeImage,
		S3Key:       key,
		CreatedAt:   time.Now().Unix(),
	}
	require.NoError(t, env.store.Put(ctx, env.store.Tables().Messages, msg.ID, msg))
	env.media.writeSidecar(ctx, msg.ID, contact.ID, &StoredMedia{S3Key: key, MimeType: "image/jpeg", Size: 3})

	other := env.freshContact(t, "919812345678")
	require.NoError(t, env.store.Put(ctx, env.store.Tables().Messages, "msg-2", &models.Message{
		ID: "msg-2", ContactID: other.ID, Direction: models.DirectionOutbound, CreatedAt: time.Now().Unix(),
	}))

	report, err := env.contacts.HardDelete(ctx, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, &models.DeleteReport{ContactID: contact.ID, MessagesDeleted: 1, MediaDeleted: 1, BlobsDeleted: 1}, report)
	assert.Empty(t, env.blobs.Keys())
	assert.Len(t, env.messages(t, models.DirectionOutbound, other.ID), 1)

	_, err = env.contacts.HardDelete(ctx, contact.ID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestContacts_ServiceWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	env.contacts.now = func() time.Time { return now }

	contact := &models.Contact{LastInboundMessageAt: now.Add(-23 * time.Hour).Unix()}
	assert.True(t, env.contacts.IsWithinServiceWindow(contact, false))

	contact.LastInboundMessageAt = now.Add(-24 * time.Hour).Unix()
	assert.False(t, env.contacts.IsWithinServiceWindow(contact, false))
	assert.True(t, env.contacts.IsWithinServiceWindow(contact, true))
	assert.False(t, env.contacts.IsWithinServiceWindow(&models.Contact{}, false))

	stored := env.freshContact(t, "919876543210")
	require.NoError(t, env.contacts.UpdateLastInboundAt(ctx, stored.ID, now.Unix()))
	require.NoError(t, env.contacts.UpdateLastInboundAt(ctx, stored.ID, now.Add(-time.Hour).Unix()))
	got, err := env.contacts.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), got.LastInboundMessageAt)
}

func TestContacts_GetOrCreateByPhoneOpensWindowAtSeenTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	env.contacts.now = func() time.Time { return now }

	seen := now.Add(-30 * time.Hour).Unix()
	contact, created, err := env.contacts.GetOrCreateByPhone(ctx, "919876543210", "Asha", seen)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, seen, contact.LastInboundMessageAt)
	assert.Equal(t, now.Unix(), contact.CreatedAt)
	assert.False(t, env.contacts.IsWithinServiceWindow(contact, false))

	unseen, created, err := env.contacts.GetOrCreateByPhone(ctx, "14155550100", "", 0)
	require.NoError(t, err)
	require.True(t, created)
	assert.Zero(t, unseen.LastInboundMessageAt)
}

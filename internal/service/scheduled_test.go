package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"wadispatch/internal/errors"
	"wadispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduled(env *testEnv, sender Sender, now time.Time) *ScheduledService {
	svc := NewScheduledService(env.store, env.contacts, sender, env.registry, 0, env.logger)
	svc.now = func() time.Time { return now }
	return svc
}

func TestScheduled_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := newScheduled(env, &stubSender{}, now)
	contact := env.freshContact(t, "919876543210")

	tests := []struct {
		name string
		in   models.ScheduledInput
		code errors.ErrorCode
	}{
		{"missing contact", models.ScheduledInput{TemplateName: "reminder", PhoneNumberID: testPhoneID, ScheduledAt: "2030-01-02T00:00:00Z"}, errors.ErrCodeValidationFailed},
		{"past time", models.ScheduledInput{ContactID: contact.ID, TemplateName: "reminder", PhoneNumberID: testPhoneID, ScheduledAt: "2029-12-31T00:00:00Z"}, errors.ErrCodeValidationFailed},
		{"bad timestamp", models.ScheduledInput{ContactID: contact.ID, TemplateName: "reminder", PhoneNumberID: testPhoneID, ScheduledAt: "tomorrow"}, errors.ErrCodeValidationFailed},
		{"unknown contact", models.ScheduledInput{ContactID: "nobody", TemplateName: "reminder", PhoneNumberID: testPhoneID, ScheduledAt: "2030-01-02T00:00:00Z"}, errors.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestScheduled_TickSendsDueEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contact := env.freshContact(t, "919876543210")
	created := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	sender := &stubSender{}

	svc := newScheduled(env, sender, created)
	due, err := svc.Create(ctx, models.ScheduledInput{
		ContactID:      contact.ID,
		TemplateName:   "reminder",
		TemplateParams: []string{"en", "Asha"},
		PhoneNumberID:  testPhoneID,
		ScheduledAt:    "2030-01-01T10:05:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledPending, due.Status)

	later, err := svc.Create(ctx, models.ScheduledInput{
		ContactID:     contact.ID,
		TemplateName:  "reminder",
		PhoneNumberID: testPhoneID,
		ScheduledAt:   "2030-01-01T12:00:00Z",
	})
	require.NoError(t, err)

	svc.now = func() time.Time { return created.Add(10 * time.Minute) }
	report, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, &TickReport{Due: 1, Sent: 1}, report)

	require.Len(t, sender.requests, 1)
	req := sender.requests[0]
	assert.True(t, req.IsTemplate)
	assert.Equal(t, "reminder", req.TemplateName)
	assert.Equal(t, []string{"en", "Asha"}, req.TemplateParams)
	assert.Equal(t, "scheduled", req.Source)

	got, err := svc.Get(ctx, due.ScheduledID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledSent, got.Status)
	assert.Equal(t, "m-1", got.MessageID)
	assert.Equal(t, "2030-01-01T10:10:00Z", got.SentAt)

	pending, err := svc.Get(ctx, later.ScheduledID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledPending, pending.Status)

	// A second tick finds nothing new.
	report, err = svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Len(t, sender.requests, 1)
}

func TestScheduled_FailureIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contact := env.freshContact(t, "919876543210")
	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	sender := &stubSender{err: errors.NewConsentError("contact has not opted in or is not allowlisted")}

	svc := newScheduled(env, sender, now)
	entry, err := svc.Create(ctx, models.ScheduledInput{
		ContactID:     contact.ID,
		TemplateName:  "reminder",
		PhoneNumberID: testPhoneID,
		ScheduledAt:   "2030-01-01T10:01:00Z",
	})
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(time.Hour) }
	report, err := svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got, err := svc.Get(ctx, entry.ScheduledID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduledFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "opted in")

	report, err = svc.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Len(t, sender.requests, 1)
}

func TestScheduled_CancelAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	contact := env.freshContact(t, "919876543210")
	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := newScheduled(env, &stubSender{}, now)

	entry, err := svc.Create(ctx, models.ScheduledInput{
		ContactID:     contact.ID,
		TemplateName:  "reminder",
		PhoneNumberID: testPhoneID,
		ScheduledAt:   "2030-01-01T11:00:00Z",
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, entry.ScheduledID, models.ScheduledInput{TemplateName: "reminder_v2", ScheduledAt: "2030-01-01T12:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "reminder_v2", updated.TemplateName)
	assert.Equal(t, "2030-01-01T12:00:00Z", updated.ScheduledAt)

	require.NoError(t, svc.Cancel(ctx, entry.ScheduledID))

	err = svc.Cancel(ctx, entry.ScheduledID)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	_, err = svc.Update(ctx, entry.ScheduledID, models.ScheduledInput{TemplateName: "reminder_v3"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePreconditionFailed))

	_, err = svc.Update(ctx, "missing", models.ScheduledInput{TemplateName: "reminder_v3"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	cancelled, err := svc.List(ctx, models.ScheduledCancelled, 10)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, entry.ScheduledID, cancelled[0].ScheduledID)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hé", truncateRunes("héllo", 2))
	assert.Equal(t, 500, len([]rune(truncateRunes(fmt.Sprintf("%0600d", 0), 500))))
}

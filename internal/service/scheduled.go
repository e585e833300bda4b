package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/tracing"
	"wadispatch/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TickReport summarises one scheduled-sender tick.
type TickReport struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ScheduledService stores template sends due in the future and dispatches them on a clock.
type ScheduledService struct {
	store    database.DocumentStore
	tables   database.Tables
	contacts *ContactService
	sender   Sender
	metrics  *metrics.Registry
	batch    int
	logger   *logrus.Logger
	now      func() time.Time
}

func NewScheduledService(store database.DocumentStore, contacts *ContactService, sender Sender, registry *metrics.Registry, batch int, logger *logrus.Logger) *ScheduledService {
	if batch <= 0 || batch > constants.MaxScheduledPerTick {
		batch = constants.MaxScheduledPerTick
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ScheduledService{
		store:    store,
		tables:   store.Tables(),
		contacts: contacts,
		sender:   sender,
		metrics:  registry,
		batch:    batch,
		logger:   logger,
		now:      time.Now,
	}
}

// Create stores a PENDING entry. scheduledAt must be strictly in the future.
func (s *ScheduledService) Create(ctx context.Context, in models.ScheduledInput) (*models.ScheduledMessage, error) {
	if in.ContactID == "" {
		return nil, errors.NewValidationError("contactId", "", "contactId is required")
	}
	if in.PhoneNumberID == "" {
		return nil, errors.NewValidationError("phoneNumberId", "", "phoneNumberId is required")
	}
	if err := validation.ValidateTemplateName(in.TemplateName); err != nil {
		return nil, err
	}
	now := s.now()
	at, err := validation.ValidateScheduledAt(in.ScheduledAt, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.contacts.Get(ctx, in.ContactID); err != nil {
		return nil, err
	}

	entry := &models.ScheduledMessage{
		ScheduledID:      uuid.New().String(),
		ContactID:        in.ContactID,
		TemplateName:     in.TemplateName,
		TemplateLanguage: in.TemplateLanguage,
		TemplateParams:   in.TemplateParams,
		PhoneNumberID:    in.PhoneNumberID,
		ScheduledAt:      at.Format(time.RFC3339),
		Status:           models.ScheduledPending,
		CreatedAt:        now.Unix(),
		UpdatedAt:        now.Unix(),
	}
	if err := s.store.ConditionalPut(ctx, s.tables.Scheduled, entry.ScheduledID, entry, database.NotExists()); err != nil {
		return nil, err
	}
	logEntry(ctx, s.logger, logrus.Fields{
		LogFieldScheduledID: entry.ScheduledID,
		LogFieldContactID:   entry.ContactID,
		"scheduled_at":      entry.ScheduledAt,
	}).Info("Scheduled message created")
	return entry, nil
}

func (s *ScheduledService) Get(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	var entry models.ScheduledMessage
	if err := s.store.Get(ctx, s.tables.Scheduled, id, &entry); err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, errors.NewNotFoundError("scheduled message", id)
		}
		return nil, err
	}
	return &entry, nil
}

// Update changes a PENDING entry. Empty input fields are left unchanged.
func (s *ScheduledService) Update(ctx context.Context, id string, in models.ScheduledInput) (*models.ScheduledMessage, error) {
	now := s.now()
	set := map[string]interface{}{"updatedAt": now.Unix()}
	if in.TemplateName != "" {
		if err := validation.ValidateTemplateName(in.TemplateName); err != nil {
			return nil, err
		}
		set["templateName"] = in.TemplateName
	}
	if in.TemplateLanguage != "" {
		set["templateLanguage"] = in.TemplateLanguage
	}
	if in.TemplateParams != nil {
		set["templateParams"] = in.TemplateParams
	}
	if in.PhoneNumberID != "" {
		set["phoneNumberId"] = in.PhoneNumberID
	}
	if in.ScheduledAt != "" {
		at, err := validation.ValidateScheduledAt(in.ScheduledAt, now)
		if err != nil {
			return nil, err
		}
		set["scheduledAt"] = at.Format(time.RFC3339)
	}

	var entry models.ScheduledMessage
	err := s.store.Update(ctx, s.tables.Scheduled, id, set, database.AttributeEquals("status", string(models.ScheduledPending)), &entry)
	switch {
	case stderrors.Is(err, database.ErrNotFound):
		return nil, errors.NewNotFoundError("scheduled message", id)
	case stderrors.Is(err, database.ErrPreconditionFailed):
		return nil, errors.New(errors.ErrCodePreconditionFailed, "only pending scheduled messages can be updated").
			WithContext("scheduled_id", id)
	case err != nil:
		return nil, err
	}
	return &entry, nil
}

// Cancel moves a PENDING entry to CANCELLED. Anything else reports not found.
func (s *ScheduledService) Cancel(ctx context.Context, id string) error {
	set := map[string]interface{}{
		"status":    string(models.ScheduledCancelled),
		"updatedAt": s.now().Unix(),
	}
	err := s.store.Update(ctx, s.tables.Scheduled, id, set, database.AttributeEquals("status", string(models.ScheduledPending)), nil)
	if stderrors.Is(err, database.ErrNotFound) || stderrors.Is(err, database.ErrPreconditionFailed) {
		return errors.NewNotFoundError("pending scheduled message", id)
	}
	return err
}

// List returns entries with status in scheduledAt order.
func (s *ScheduledService) List(ctx context.Context, status models.ScheduledStatus, limit int) ([]models.ScheduledMessage, error) {
	if status == "" {
		status = models.ScheduledPending
	}
	raws, err := s.store.Query(ctx, s.tables.Scheduled, database.Query{Partition: string(status), Limit: limit})
	if err != nil {
		return nil, err
	}
	return database.Decode[models.ScheduledMessage](raws)
}

// Tick sends due PENDING entries. Each entry is claimed with a conditional update
// so overlapping ticks never send it twice. Failures are terminal.
func (s *ScheduledService) Tick(ctx context.Context) (report *TickReport, err error) {
	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, constants.ScheduledTickBudget)
	defer cancel()

	ctx, span := tracing.StartUnit(ctx, "scheduled_tick")
	defer func() { tracing.EndUnit(span, err) }()

	report = &TickReport{}
	nowUnix := start.Unix()
	raws, err := s.store.Query(ctx, s.tables.Scheduled, database.Query{
		Partition: string(models.ScheduledPending),
		SortTo:    &nowUnix,
		Limit:     s.batch,
	})
	if err != nil {
		return report, err
	}
	due, err := database.Decode[models.ScheduledMessage](raws)
	if err != nil {
		return report, errors.Wrap(err, errors.ErrCodeInternalError, "failed to decode scheduled messages")
	}
	report.Due = len(due)

	for i := range due {
		if ctx.Err() != nil {
			report.Skipped += len(due) - i
			break
		}
		switch s.dispatch(ctx, &due[i]) {
		case models.ScheduledSent:
			report.Sent++
		case models.ScheduledFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}

	if s.metrics != nil {
		s.metrics.RecordBulkJob("scheduled_tick", s.now().Sub(start))
	}
	if report.Due > 0 {
		logEntry(ctx, s.logger, logrus.Fields{
			"due":     report.Due,
			"sent":    report.Sent,
			"failed":  report.Failed,
			"skipped": report.Skipped,
		}).Info("Scheduled tick completed")
	}
	return report, nil
}

func (s *ScheduledService) dispatch(ctx context.Context, entry *models.ScheduledMessage) models.ScheduledStatus {
	fields := logrus.Fields{LogFieldScheduledID: entry.ScheduledID, LogFieldContactID: entry.ContactID}
	claim := map[string]interface{}{"status": string(models.ScheduledSending), "updatedAt": s.now().Unix()}
	err := s.store.Update(ctx, s.tables.Scheduled, entry.ScheduledID, claim, database.AttributeEquals("status", string(models.ScheduledPending)), nil)
	if err != nil {
		if !stderrors.Is(err, database.ErrPreconditionFailed) && !stderrors.Is(err, database.ErrNotFound) {
			logEntry(ctx, s.logger, fields).WithError(err).Warn("Failed to claim scheduled message")
		}
		return ""
	}

	result, sendErr := s.sender.Send(ctx, &models.SendRequest{
		ContactID:        entry.ContactID,
		PhoneNumberID:    entry.PhoneNumberID,
		IsTemplate:       true,
		TemplateName:     entry.TemplateName,
		TemplateLanguage: entry.TemplateLanguage,
		TemplateParams:   entry.TemplateParams,
		Source:           "scheduled",
	})

	now := s.now()
	set := map[string]interface{}{"updatedAt": now.Unix()}
	status := models.ScheduledSent
	if sendErr != nil {
		status = models.ScheduledFailed
		set["errorMessage"] = truncateRunes(sendErr.Error(), constants.MaxScheduledErrorLength)
	} else {
		set["sentAt"] = now.UTC().Format(time.RFC3339)
		set["messageId"] = result.MessageID
	}
	set["status"] = string(status)

	if err := s.store.Update(context.WithoutCancel(ctx), s.tables.Scheduled, entry.ScheduledID, set, nil, nil); err != nil {
		logEntry(ctx, s.logger, fields).WithError(err).Error("Failed to record scheduled send outcome")
	}
	if sendErr != nil {
		logEntry(ctx, s.logger, fields).WithError(sendErr).Warn("Scheduled send failed")
	}
	return status
}

func truncateRunes(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package service

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"wadispatch/internal/blobstore"
	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/internal/validation"
	"wadispatch/pkg/whatsapp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContactService owns contact records, consent flags and the 24h service window.
type ContactService struct {
	store  database.DocumentStore
	tables database.Tables
	blobs  blobstore.Store
	logger *logrus.Logger
	now    func() time.Time
}

// NewContactService creates a contact service. blobs may be nil when hard deletes
// should leave media objects in place.
func NewContactService(store database.DocumentStore, blobs blobstore.Store, logger *logrus.Logger) *ContactService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ContactService{
		store:  store,
		tables: store.Tables(),
		blobs:  blobs,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns a live contact. Soft-deleted contacts are reported as not found.
func (s *ContactService) Get(ctx context.Context, id string) (*models.Contact, error) {
	var contact models.Contact
	if err := s.store.Get(ctx, s.tables.Contacts, id, &contact); err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, errors.NewNotFoundError("contact", id)
		}
		return nil, err
	}
	if contact.IsDeleted() {
		return nil, errors.NewNotFoundError("contact", id)
	}
	return &contact, nil
}

// FindByPhone returns the oldest live contact stored under any form of phone, or nil.
func (s *ContactService) FindByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	variants := whatsapp.PhoneVariants(phone)
	if len(variants) == 0 {
		return nil, nil
	}
	raws, err := s.store.Query(ctx, s.tables.Contacts, database.Query{Lookup: variants})
	if err != nil {
		return nil, err
	}
	contacts, err := database.Decode[models.Contact](raws)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to decode contacts")
	}

	live := contacts[:0]
	for _, c := range contacts {
		if !c.IsDeleted() {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].CreatedAt < live[j].CreatedAt })
	oldest := live[0]
	return &oldest, nil
}

// GetOrCreateByPhone resolves the sender of an inbound message. Concurrent first
// messages may create duplicates; lookups always settle on the oldest.
// A new contact opens its service window at seenAt; zero leaves it closed.
func (s *ContactService) GetOrCreateByPhone(ctx context.Context, phone, displayName string, seenAt int64) (*models.Contact, bool, error) {
	canonical, err := whatsapp.CanonicalPhone(phone)
	if err != nil {
		return nil, false, errors.NewValidationError("phone", phone, err.Error())
	}

	existing, err := s.FindByPhone(ctx, canonical)
	if err != nil {
		return nil, false, err
	}
	displayName = strings.TrimSpace(displayName)

	if existing != nil {
		if displayName != "" && existing.HasPlaceholderName() {
			var updated models.Contact
			set := map[string]interface{}{"name": displayName, "updatedAt": s.now().Unix()}
			err := s.store.Update(ctx, s.tables.Contacts, existing.ID, set, database.AttributeNotExists("deletedAt"), &updated)
			switch {
			case err == nil:
				return &updated, false, nil
			case stderrors.Is(err, database.ErrPreconditionFailed):
			default:
				logEntry(ctx, s.logger, logrus.Fields{LogFieldContactID: existing.ID}).
					WithError(err).Warn("Failed to replace placeholder contact name")
			}
		}
		return existing, false, nil
	}

	now := s.now().Unix()
	contact := &models.Contact{
		ID:                   uuid.New().String(),
		Name:                 displayName,
		Phone:                canonical,
		OptInWhatsApp:        true,
		OptInSMS:             true,
		OptInEmail:           true,
		AllowlistWhatsApp:    true,
		AllowlistSMS:         true,
		AllowlistEmail:       true,
		LastInboundMessageAt: seenAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.ConditionalPut(ctx, s.tables.Contacts, contact.ID, contact, database.NotExists()); err != nil {
		return nil, false, err
	}

	logEntry(ctx, s.logger, logrus.Fields{
		LogFieldContactID: contact.ID,
		LogFieldRecipient: canonical,
	}).Info("Created contact from inbound message")
	return contact, true, nil
}

// Create stores a contact from the API. A phone or an email is required.
func (s *ContactService) Create(ctx context.Context, in models.ContactInput) (*models.Contact, error) {
	if in.Phone == "" && in.Email == "" {
		return nil, errors.NewValidationError("phone", "", "phone or email is required")
	}

	var phone string
	if in.Phone != "" {
		canonical, err := whatsapp.CanonicalPhone(in.Phone)
		if err != nil {
			return nil, errors.NewValidationError("phone", in.Phone, err.Error())
		}
		if existing, err := s.FindByPhone(ctx, canonical); err != nil {
			return nil, err
		} else if existing != nil {
			return nil, errors.New(errors.ErrCodePreconditionFailed, "a contact with this phone already exists").
				WithContext("contact_id", existing.ID)
		}
		phone = canonical
	}
	if in.Email != "" {
		if err := validation.ValidateEmail(in.Email); err != nil {
			return nil, err
		}
	}

	flag := func(v *bool) bool { return v == nil || *v }
	now := s.now().Unix()
	contact := &models.Contact{
		ID:                uuid.New().String(),
		Name:              strings.TrimSpace(in.Name),
		Phone:             phone,
		Email:             in.Email,
		OptInWhatsApp:     flag(in.OptInWhatsApp),
		OptInSMS:          flag(in.OptInSMS),
		OptInEmail:        flag(in.OptInEmail),
		AllowlistWhatsApp: flag(in.AllowlistWhatsApp),
		AllowlistSMS:      flag(in.AllowlistSMS),
		AllowlistEmail:    flag(in.AllowlistEmail),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.ConditionalPut(ctx, s.tables.Contacts, contact.ID, contact, database.NotExists()); err != nil {
		return nil, err
	}
	return contact, nil
}

// UpdateConsent applies a partial update to a live contact.
func (s *ContactService) UpdateConsent(ctx context.Context, id string, update models.ConsentUpdate) (*models.Contact, error) {
	if update.Email != nil && *update.Email != "" {
		if err := validation.ValidateEmail(*update.Email); err != nil {
			return nil, err
		}
	}
	set := update.Fields()
	if len(set) == 0 {
		return s.Get(ctx, id)
	}
	set["updatedAt"] = s.now().Unix()

	var contact models.Contact
	err := s.store.Update(ctx, s.tables.Contacts, id, set, database.AttributeNotExists("deletedAt"), &contact)
	if stderrors.Is(err, database.ErrNotFound) || stderrors.Is(err, database.ErrPreconditionFailed) {
		return nil, errors.NewNotFoundError("contact", id)
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// SoftDelete sets the deletedAt tombstone. Deleting twice reports not found.
func (s *ContactService) SoftDelete(ctx context.Context, id string) error {
	now := s.now().Unix()
	set := map[string]interface{}{"deletedAt": now, "updatedAt": now}
	cond := database.And(database.Exists(), database.AttributeNotExists("deletedAt"))
	err := s.store.Update(ctx, s.tables.Contacts, id, set, cond, nil)
	if stderrors.Is(err, database.ErrNotFound) || stderrors.Is(err, database.ErrPreconditionFailed) {
		return errors.NewNotFoundError("contact", id)
	}
	return err
}

// HardDelete removes a contact with its messages, media sidecars and blob objects.
func (s *ContactService) HardDelete(ctx context.Context, id string) (*models.DeleteReport, error) {
	var contact models.Contact
	if err := s.store.Get(ctx, s.tables.Contacts, id, &contact); err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, errors.NewNotFoundError("contact", id)
		}
		return nil, err
	}

	report := &models.DeleteReport{ContactID: id}
	blobKeys := make(map[string]struct{})

	for _, direction := range []models.Direction{models.DirectionInbound, models.DirectionOutbound} {
		raws, err := s.store.Query(ctx, s.tables.Messages, database.Query{Partition: string(direction), Sub: id})
		if err != nil {
			return report, err
		}
		messages, err := database.Decode[models.Message](raws)
		if err != nil {
			return report, errors.Wrap(err, errors.ErrCodeInternalError, "failed to decode messages")
		}
		for _, m := range messages {
			if m.S3Key != "" {
				blobKeys[m.S3Key] = struct{}{}
			}
			if err := s.store.Delete(ctx, s.tables.Messages, m.ID); err != nil {
				return report, err
			}
			report.MessagesDeleted++
		}
	}

	raws, err := s.store.Query(ctx, s.tables.MediaFiles, database.Query{Partition: id})
	if err != nil {
		return report, err
	}
	files, err := database.Decode[models.MediaFile](raws)
	if err != nil {
		return report, errors.Wrap(err, errors.ErrCodeInternalError, "failed to decode media files")
	}
	for _, f := range files {
		if f.S3Key != "" {
			blobKeys[f.S3Key] = struct{}{}
		}
		if err := s.store.Delete(ctx, s.tables.MediaFiles, f.FileID); err != nil {
			return report, err
		}
		report.MediaDeleted++
	}

	if s.blobs != nil {
		for key := range blobKeys {
			if err := s.blobs.Delete(ctx, key); err != nil {
				logEntry(ctx, s.logger, logrus.Fields{LogFieldContactID: id, LogFieldS3Key: key}).
					WithError(err).Warn("Failed to delete media object")
				continue
			}
			report.BlobsDeleted++
		}
	}

	if err := s.store.Delete(ctx, s.tables.Contacts, id); err != nil {
		return report, err
	}

	logEntry(ctx, s.logger, logrus.Fields{
		LogFieldContactID: id,
		"messages":        report.MessagesDeleted,
		"media":           report.MediaDeleted,
		"blobs":           report.BlobsDeleted,
	}).Info("Contact hard deleted")
	return report, nil
}

// UpdateLastInboundAt moves the window timestamp forward. Older timestamps are ignored.
func (s *ContactService) UpdateLastInboundAt(ctx context.Context, id string, ts int64) error {
	set := map[string]interface{}{"lastInboundMessageAt": ts, "updatedAt": s.now().Unix()}
	err := s.store.Update(ctx, s.tables.Contacts, id, set, database.AttributeLessThan("lastInboundMessageAt", ts), nil)
	if stderrors.Is(err, database.ErrPreconditionFailed) {
		return nil
	}
	return err
}

// IsWithinServiceWindow reports whether a free-form message may be sent. Templates always may.
func (s *ContactService) IsWithinServiceWindow(contact *models.Contact, isTemplate bool) bool {
	if isTemplate {
		return true
	}
	if contact == nil || contact.LastInboundMessageAt == 0 {
		return false
	}
	elapsed := s.now().Sub(time.Unix(contact.LastInboundMessageAt, 0))
	return elapsed < constants.ServiceWindow
}

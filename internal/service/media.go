package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"wadispatch/internal/blobstore"
	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/internal/validation"
	"wadispatch/pkg/whatsapp/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OutboundMedia is a media attachment to register before sending.
type OutboundMedia struct {
	MessageID     string
	ContactID     string
	PhoneNumberID string
	// File is a stored blob key, a base64 string or a base64 data URL.
	File string
	// MediaType is a WhatsApp media kind (image, document, ...) or a MIME type.
	MediaType string
	Filename  string
	IsSticker bool
}

// StoredMedia describes a media object after upload or download.
type StoredMedia struct {
	Kind     string
	MediaID  string
	S3Key    string
	MimeType string
	Size     int64
	Filename string
}

// MediaService moves media between the blob store and the provider.
type MediaService struct {
	blobs    blobstore.Store
	provider types.Provider
	store    database.DocumentStore
	tables   database.Tables
	cfg      models.MediaConfig
	dryRun   bool
	logger   *logrus.Logger
	now      func() time.Time
}

func NewMediaService(blobs blobstore.Store, provider types.Provider, store database.DocumentStore, cfg models.MediaConfig, mode models.SendMode, logger *logrus.Logger) *MediaService {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.InboundPrefix == "" {
		cfg.InboundPrefix = constants.DefaultMediaPrefixInbound
	}
	if cfg.OutboundPrefix == "" {
		cfg.OutboundPrefix = constants.DefaultMediaPrefixOutbound
	}
	return &MediaService{
		blobs:    blobs,
		provider: provider,
		store:    store,
		tables:   store.Tables(),
		cfg:      cfg,
		dryRun:   mode == models.SendModeDryRun,
		logger:   logger,
		now:      time.Now,
	}
}

// PrepareOutbound stores the attachment, registers it with the provider and resolves
// the key the provider left behind. Registration failure aborts the send.
func (s *MediaService) PrepareOutbound(ctx context.Context, in OutboundMedia) (*StoredMedia, error) {
	kind, mimeType := resolveMediaKind(in.MediaType, in.Filename, in.IsSticker)
	if kind == "" {
		return nil, errors.NewValidationError("mediaType", in.MediaType, "unsupported media type")
	}

	var (
		key  string
		size int64
	)
	if obj := s.storedObject(ctx, in.File); obj != nil {
		key, size = obj.Key, obj.Size
		if mimeType == "" {
			mimeType = obj.ContentType
		}
		if err := validation.ValidateMediaSize(size, kind); err != nil {
			return nil, err
		}
	} else {
		data, dataMime, err := decodeMediaData(in.File)
		if err != nil {
			return nil, errors.NewMediaError("decode", kind, err)
		}
		if mimeType == "" {
			mimeType = dataMime
		}
		if mimeType == "" {
			mimeType = constants.DefaultMimeType
		}
		size = int64(len(data))
		if err := validation.ValidateMediaSize(size, kind); err != nil {
			return nil, err
		}
		key = fmt.Sprintf("%s/%s%s", s.cfg.OutboundPrefix, shortID(), constants.ExtensionForMime(mimeType))
		if err := s.blobs.Put(ctx, key, data, mimeType); err != nil {
			return nil, errors.NewMediaError("upload", kind, err)
		}
	}

	media := &StoredMedia{Kind: kind, S3Key: key, MimeType: mimeType, Size: size, Filename: in.Filename}
	fields := logrus.Fields{LogFieldMessageID: in.MessageID, LogFieldS3Key: key, LogFieldPhoneNumberID: in.PhoneNumberID}

	if s.dryRun {
		media.MediaID = "dry-run-media-" + shortID()
	} else {
		registered, err := s.provider.PostMedia(ctx, in.PhoneNumberID, s.blobs.Bucket(), key)
		if err != nil {
			logEntry(ctx, s.logger, fields).WithError(err).Warn("Media registration failed")
			return nil, errors.NewMediaError("register", kind, err)
		}
		media.MediaID = registered.MediaID

		if actual, err := s.blobs.ResolveActual(ctx, key); err == nil {
			media.S3Key = actual
		} else {
			logEntry(ctx, s.logger, fields).WithError(err).Debug("Could not resolve provider key, keeping expected key")
		}
	}

	s.writeSidecar(ctx, in.MessageID, in.ContactID, media)
	return media, nil
}

// DownloadInbound asks the provider to copy an inbound media object into the blob store.
func (s *MediaService) DownloadInbound(ctx context.Context, phoneNumberID, messageID, contactID, kind string, in *types.InboundMedia) (*StoredMedia, error) {
	if in == nil || in.ID == "" {
		return nil, errors.NewValidationError("media", "", "inbound media has no ID")
	}
	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = constants.DefaultMimeType
	}
	key := fmt.Sprintf("%s/%s%s%s", s.cfg.InboundPrefix, constants.DefaultInboundMediaNamePrefix, shortID(), constants.ExtensionForMime(mimeType))

	out, err := s.provider.GetMedia(ctx, phoneNumberID, in.ID, s.blobs.Bucket(), key)
	if err != nil {
		return nil, errors.NewMediaError("download", kind, err)
	}

	media := &StoredMedia{Kind: kind, MediaID: in.ID, S3Key: key, MimeType: mimeType, Size: out.FileSize, Filename: in.Filename}
	if out.MimeType != "" {
		media.MimeType = out.MimeType
	}
	if actual, err := s.blobs.ResolveActual(ctx, key); err == nil {
		media.S3Key = actual
	} else {
		logEntry(ctx, s.logger, logrus.Fields{LogFieldMessageID: messageID, LogFieldS3Key: key}).
			WithError(err).Warn("Inbound media key not found after download")
	}

	s.writeSidecar(ctx, messageID, contactID, media)
	return media, nil
}

// Release deletes a registered media ID. Failures are logged only.
func (s *MediaService) Release(ctx context.Context, phoneNumberID, mediaID string) {
	if s.dryRun || mediaID == "" {
		return
	}
	if err := s.provider.DeleteMedia(ctx, phoneNumberID, mediaID); err != nil {
		logEntry(ctx, s.logger, logrus.Fields{LogFieldPhoneNumberID: phoneNumberID, "media_id": mediaID}).
			WithError(err).Warn("Failed to delete registered media")
	}
}

// PresignedURL returns a time-limited read URL for a stored key.
func (s *MediaService) PresignedURL(ctx context.Context, key string) (string, error) {
	expiry := time.Duration(s.cfg.PresignExpirySec) * time.Second
	if expiry <= 0 {
		expiry = constants.DefaultPresignedURLExpirySec * time.Second
	}
	return s.blobs.PresignGet(ctx, key, expiry)
}

func (s *MediaService) writeSidecar(ctx context.Context, messageID, contactID string, media *StoredMedia) {
	now := s.now()
	file := models.MediaFile{
		FileID:      uuid.New().String(),
		MessageID:   messageID,
		ContactID:   contactID,
		S3Key:       media.S3Key,
		ContentType: media.MimeType,
		Size:        media.Size,
		MediaID:     media.MediaID,
		UploadedAt:  now.Unix(),
		ExpiresAt:   now.Add(constants.MessageTTL).Unix(),
	}
	if err := s.store.Put(ctx, s.tables.MediaFiles, file.FileID, file); err != nil {
		logEntry(ctx, s.logger, logrus.Fields{LogFieldMessageID: messageID, LogFieldS3Key: media.S3Key}).
			WithError(err).Warn("Failed to record media sidecar")
	}
}

// storedObject returns the blob a reference points at when it names a stored key.
func (s *MediaService) storedObject(ctx context.Context, ref string) *blobstore.Object {
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.ContainsAny(ref, " \n=") {
		return nil
	}
	if !strings.HasPrefix(ref, s.cfg.OutboundPrefix+"/") && !strings.HasPrefix(ref, s.cfg.InboundPrefix+"/") {
		return nil
	}
	obj, err := s.blobs.Head(ctx, ref)
	if err != nil {
		return nil
	}
	return obj
}

// resolveMediaKind maps a declared kind or MIME type to a WhatsApp media kind and MIME type.
func resolveMediaKind(declared, filename string, sticker bool) (string, string) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	mimeType := ""
	kind := declared
	if strings.Contains(declared, "/") {
		mimeType = declared
		switch major := declared[:strings.Index(declared, "/")]; major {
		case "image", "video", "audio":
			kind = major
		default:
			kind = types.PayloadDocument
		}
	}
	if mimeType == "" && filename != "" {
		mimeType = constants.ExtensionToMimeType[strings.ToLower(path.Ext(filename))]
	}
	if sticker {
		kind = types.PayloadSticker
		if mimeType == "" {
			mimeType = "image/webp"
		}
	}
	if !types.MediaPayloadTypes[kind] {
		return "", ""
	}
	return kind, mimeType
}

// decodeMediaData accepts raw base64 or a data URL and returns the bytes and any declared MIME type.
func decodeMediaData(file string) ([]byte, string, error) {
	file = strings.TrimSpace(file)
	if file == "" {
		return nil, "", fmt.Errorf("media file is empty")
	}
	mimeType := ""
	if strings.HasPrefix(file, "data:") {
		idx := strings.Index(file, constants.DataURLBase64Marker)
		if idx < 0 {
			return nil, "", fmt.Errorf("data URL is not base64 encoded")
		}
		mimeType = file[len("data:"):idx]
		file = file[idx+len(constants.DataURLBase64Marker):]
	}
	data, err := base64.StdEncoding.DecodeString(file)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(file, "="))
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 media: %w", err)
		}
	}
	return data, mimeType, nil
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:constants.MediaShortIDLength]
}

package types

import "context"

// Provider is the WhatsApp Business messaging API used by the send engine and the media pipeline.
type Provider interface {
	SendMessage(ctx context.Context, originationPhoneNumberID string, payload interface{}) (*SendMessageOutput, error)
	PostMedia(ctx context.Context, originationPhoneNumberID, bucket, key string) (*PostMediaOutput, error)
	GetMedia(ctx context.Context, originationPhoneNumberID, mediaID, bucket, key string) (*GetMediaOutput, error)
	DeleteMedia(ctx context.Context, originationPhoneNumberID, mediaID string) error
}

// SendMessageInput wraps a serialised payload; Message is base64 encoded on the wire.
type SendMessageInput struct {
	OriginationPhoneNumberID string `json:"originationPhoneNumberId"`
	Message                  []byte `json:"message"`
	MetaAPIVersion           string `json:"metaApiVersion"`
}

type SendMessageOutput struct {
	MessageID string `json:"messageId"`
}

type S3File struct {
	BucketName string `json:"bucketName"`
	Key        string `json:"key"`
}

type S3PresignedURL struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type PostMediaInput struct {
	OriginationPhoneNumberID string  `json:"originationPhoneNumberId"`
	SourceS3File             *S3File `json:"sourceS3File,omitempty"`
}

type PostMediaOutput struct {
	MediaID string `json:"mediaId"`
}

type GetMediaInput struct {
	MediaID                  string  `json:"mediaId"`
	OriginationPhoneNumberID string  `json:"originationPhoneNumberId"`
	MetadataOnly             bool    `json:"metadataOnly,omitempty"`
	DestinationS3File        *S3File `json:"destinationS3File,omitempty"`
}

type GetMediaOutput struct {
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

type DeleteMediaOutput struct {
	Success bool `json:"success"`
}

// APIError is the error body returned by the provider.
type APIError struct {
	Type    string `json:"__type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

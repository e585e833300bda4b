package blobstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"
)

// ErrObjectNotFound is returned when no object exists under a key.
var ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")

// Object describes a stored blob.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is the blob store used for media.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Head(ctx context.Context, key string) (*Object, error)
	List(ctx context.Context, prefix string, maxKeys int) ([]Object, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	// ResolveActual finds the key the provider actually wrote for expectedKey.
	ResolveActual(ctx context.Context, expectedKey string) (string, error)
	Bucket() string
}

// S3Store is a Store on S3.
type S3Store struct {
	client  s3iface.S3API
	bucket  string
	timeout time.Duration
	logger  *logrus.Logger
}

// NewS3Store builds an S3 session from the media config.
func NewS3Store(cfg models.MediaConfig, logger *logrus.Logger) (*S3Store, error) {
	awsCfg := &aws.Config{
		Region:     aws.String(cfg.Region),
		MaxRetries: aws.Int(2),
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBlobStore, "failed to create S3 session")
	}

	return NewWithClient(s3.New(sess), cfg.Bucket, logger), nil
}

// NewWithClient wraps an existing S3 client.
func NewWithClient(client s3iface.S3API, bucket string, logger *logrus.Logger) *S3Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &S3Store{
		client:  client,
		bucket:  bucket,
		timeout: constants.BlobStoreTimeout,
		logger:  logger,
	}
}

func (s *S3Store) Bucket() string {
	return s.bucket
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return blobError("put", key, err)
	}

	s.logger.WithFields(logrus.Fields{"key": key, "size": len(data)}).Debug("Blob stored")
	return nil
}

func (s *S3Store) Head(ctx context.Context, key string) (*Object, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, blobError("head", key, err)
	}
	return &Object{
		Key:          key,
		Size:         aws.Int64Value(out.ContentLength),
		ContentType:  aws.StringValue(out.ContentType),
		LastModified: aws.TimeValue(out.LastModified),
	}, nil
}

func (s *S3Store) List(ctx context.Context, prefix string, maxKeys int) ([]Object, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if maxKeys > 0 {
		input.MaxKeys = aws.Int64(int64(maxKeys))
	}
	out, err := s.client.ListObjectsV2WithContext(ctx, input)
	if err != nil {
		return nil, blobError("list", prefix, err)
	}

	objects := make([]Object, 0, len(out.Contents))
	for _, obj := range out.Contents {
		objects = append(objects, Object{
			Key:          aws.StringValue(obj.Key),
			Size:         aws.Int64Value(obj.Size),
			LastModified: aws.TimeValue(obj.LastModified),
		})
	}
	return objects, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", blobError("get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", blobError("get", key, err)
	}
	return data, aws.StringValue(out.ContentType), nil
}

// PresignGet returns a time-limited read URL. Signing happens locally.
func (s *S3Store) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(expiry)
	if err != nil {
		return "", blobError("presign", key, err)
	}
	return url, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return blobError("delete", key, err)
	}
	return nil
}

func (s *S3Store) ResolveActual(ctx context.Context, expectedKey string) (string, error) {
	return resolveActual(ctx, s, expectedKey, s.logger)
}

// resolveActual tries the exact key, then lists by the key stem and picks the newest candidate.
// The provider may append its media ID before or after the extension.
func resolveActual(ctx context.Context, store Store, expectedKey string, logger *logrus.Logger) (string, error) {
	if _, err := store.Head(ctx, expectedKey); err == nil {
		return expectedKey, nil
	} else if !errors.HasCode(err, errors.ErrCodeNotFound) {
		logger.WithError(err).WithField("key", expectedKey).Warn("Head failed while resolving blob key, falling back to listing")
	}

	stem := strings.TrimSuffix(expectedKey, path.Ext(expectedKey))
	candidates, err := store.List(ctx, stem, 100)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", errors.New(errors.ErrCodeNotFound, ErrObjectNotFound.Message).WithContext("key", expectedKey)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastModified.After(candidates[j].LastModified)
	})
	for _, c := range candidates {
		if strings.HasPrefix(c.Key, expectedKey) {
			return c.Key, nil
		}
	}
	return candidates[0].Key, nil
}

func blobError(operation, key string, err error) error {
	if stdCtxErr := errors.FromContextError(err, "blob "+operation); stdCtxErr != err {
		return stdCtxErr
	}

	status := 0
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		status = reqErr.StatusCode()
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			status = http.StatusNotFound
		case request.CanceledErrorCode:
			return errors.Wrap(err, errors.ErrCodeTimeout, "blob "+operation+" cancelled").WithContext("key", key)
		}
	}

	if status == http.StatusNotFound {
		return errors.Wrap(err, errors.ErrCodeNotFound, ErrObjectNotFound.Message).WithContext("key", key)
	}

	appErr := errors.Wrap(err, errors.ErrCodeBlobStore, "blob "+operation+" failed").
		WithContext("key", key).
		WithContext("operation", operation)
	appErr.Retryable = status == 0 || status >= 500 || status == http.StatusTooManyRequests
	return appErr
}

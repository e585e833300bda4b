package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	v4 "github.com/aws/aws-sdk-go/aws/signer/v4"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"wadispatch/internal/errors"
	"wadispatch/pkg/circuitbreaker"
	"wadispatch/pkg/constants"
	"wadispatch/pkg/whatsapp/types"
)

// ClientConfig configures the provider client. With an APIKey requests carry a bearer token;
// otherwise, when Region is set, requests are SigV4 signed.
type ClientConfig struct {
	BaseURL         string
	APIKey          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	SigningService  string
	MetaAPIVersion  string
	Timeout         time.Duration
	RetryCount      int
	BreakerFailures uint32
	BreakerReset    time.Duration
	OnBreakerChange func(name string, from, to circuitbreaker.State)
}

// Client calls the WhatsApp Business messaging API
type Client struct {
	http        *resty.Client
	breaker     *circuitbreaker.CircuitBreaker
	metaVersion string
	timeout     time.Duration
	logger      *logrus.Logger
}

var _ types.Provider = (*Client)(nil)

// NewClient creates a provider client
func NewClient(cfg ClientConfig, logger *logrus.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultProviderTimeoutSec * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.MetaAPIVersion == "" {
		cfg.MetaAPIVersion = constants.DefaultMetaAPIVersion
	}
	if cfg.SigningService == "" {
		cfg.SigningService = constants.DefaultSigningService
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = constants.DefaultBreakerMaxFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = constants.DefaultBreakerResetSec * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(constants.DefaultProviderRetryWaitMs * time.Millisecond).
		SetRetryMaxWaitTime(constants.DefaultProviderMaxWaitSec * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		})

	switch {
	case cfg.APIKey != "":
		httpClient.SetAuthToken(cfg.APIKey)
	case cfg.Region != "":
		var creds *credentials.Credentials
		if cfg.AccessKeyID != "" {
			creds = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		} else {
			creds = credentials.NewEnvCredentials()
		}
		httpClient.SetPreRequestHook(sigV4Hook(v4.NewSigner(creds), cfg.SigningService, cfg.Region))
	}

	breaker := circuitbreaker.NewWithSettings(circuitbreaker.Settings{
		Name:          "whatsapp-provider",
		MaxFailures:   cfg.BreakerFailures,
		OpenTimeout:   cfg.BreakerReset,
		IsFailure:     isProviderFailure,
		OnStateChange: cfg.OnBreakerChange,
	}, logger)

	return &Client{
		http:        httpClient,
		breaker:     breaker,
		metaVersion: cfg.MetaAPIVersion,
		timeout:     cfg.Timeout,
		logger:      logger,
	}, nil
}

// sigV4Hook signs the final HTTP request, re-reading the body resty already serialised.
func sigV4Hook(signer *v4.Signer, service, region string) resty.PreRequestHook {
	return func(_ *resty.Client, req *http.Request) error {
		var body io.ReadSeeker
		if req.GetBody != nil {
			rc, err := req.GetBody()
			if err != nil {
				return fmt.Errorf("failed to read request body for signing: %w", err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("failed to read request body for signing: %w", err)
			}
			body = bytes.NewReader(data)
		}
		if _, err := signer.Sign(req, body, service, region, time.Now()); err != nil {
			return fmt.Errorf("failed to sign provider request: %w", err)
		}
		return nil
	}
}

// isProviderFailure keeps caller-side 4xx rejections from opening the breaker.
func isProviderFailure(err error) bool {
	appErr, ok := errors.As(err)
	if !ok {
		return true
	}
	if appErr.Code == errors.ErrCodeProviderThrottle {
		return true
	}
	status, _ := appErr.Context["status_code"].(int)
	return status == 0 || status >= http.StatusInternalServerError
}

// SendMessage posts a serialised payload (or read receipt) for the origination number.
func (c *Client) SendMessage(ctx context.Context, originationPhoneNumberID string, payload interface{}) (*types.SendMessageOutput, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to encode provider payload")
	}

	input := types.SendMessageInput{
		OriginationPhoneNumberID: originationPhoneNumberID,
		Message:                  raw,
		MetaAPIVersion:           c.metaVersion,
	}
	var out types.SendMessageOutput
	if err := c.do(ctx, http.MethodPost, constants.SendMessagePath, "send", input, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostMedia registers a blob with the provider and returns its media ID.
func (c *Client) PostMedia(ctx context.Context, originationPhoneNumberID, bucket, key string) (*types.PostMediaOutput, error) {
	input := types.PostMediaInput{
		OriginationPhoneNumberID: originationPhoneNumberID,
		SourceS3File:             &types.S3File{BucketName: bucket, Key: key},
	}
	var out types.PostMediaOutput
	if err := c.do(ctx, http.MethodPost, constants.PostMediaPath, "post_media", input, nil, &out); err != nil {
		return nil, err
	}
	if out.MediaID == "" {
		return nil, errors.NewProviderError("post_media", http.StatusOK, "", fmt.Errorf("provider returned no media ID"))
	}
	return &out, nil
}

// GetMedia asks the provider to copy inbound media into the blob store.
func (c *Client) GetMedia(ctx context.Context, originationPhoneNumberID, mediaID, bucket, key string) (*types.GetMediaOutput, error) {
	input := types.GetMediaInput{
		MediaID:                  mediaID,
		OriginationPhoneNumberID: originationPhoneNumberID,
		DestinationS3File:        &types.S3File{BucketName: bucket, Key: key},
	}
	var out types.GetMediaOutput
	if err := c.do(ctx, http.MethodPost, constants.GetMediaPath, "get_media", input, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMedia releases a registered media ID.
func (c *Client) DeleteMedia(ctx context.Context, originationPhoneNumberID, mediaID string) error {
	query := map[string]string{
		"mediaId":                  mediaID,
		"originationPhoneNumberId": originationPhoneNumberID,
	}
	var out types.DeleteMediaOutput
	return c.do(ctx, http.MethodDelete, constants.DeleteMediaPath, "delete_media", nil, query, &out)
}

// BreakerState exposes the provider circuit breaker state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

func (c *Client) do(ctx context.Context, method, path, op string, body interface{}, query map[string]string, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req := c.http.R().
			SetContext(ctx).
			SetResult(result).
			SetError(&types.APIError{})
		if body != nil {
			req.SetBody(body)
		}
		if len(query) > 0 {
			req.SetQueryParams(query)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return errors.FromContextError(ctxErr, "provider "+op)
			}
			return errors.WrapRetryable(err, errors.ErrCodeProviderAPI, fmt.Sprintf("provider %s request failed", op)).
				WithContext("operation", op).
				WithContext("type", "api_error").
				WithUserMessage("Provider is unreachable")
		}
		if resp.IsError() {
			return providerError(op, resp)
		}
		return nil
	})

	if circuitbreaker.IsCircuitBreakerError(err) {
		err = errors.WrapRetryable(err, errors.ErrCodeProviderAPI, "provider circuit open").
			WithContext("operation", op).
			WithContext("status_code", http.StatusServiceUnavailable).
			WithContext("type", "api_error").
			WithUserMessage("Provider is temporarily unavailable")
	}

	c.logger.WithFields(logrus.Fields{
		"operation":   op,
		"duration_ms": time.Since(start).Milliseconds(),
		"success":     err == nil,
	}).Debug("Provider call completed")
	return err
}

func providerError(op string, resp *resty.Response) error {
	code := resp.Header().Get("X-Amzn-Errortype")
	if i := strings.IndexByte(code, ':'); i >= 0 {
		code = code[:i]
	}
	message := http.StatusText(resp.StatusCode())
	if apiErr, ok := resp.Error().(*types.APIError); ok && apiErr != nil {
		if code == "" {
			code = apiErr.Code
		}
		if code == "" {
			code = apiErr.Type
		}
		if apiErr.Message != "" {
			message = apiErr.Message
		}
	}
	if i := strings.LastIndexByte(code, '#'); i >= 0 {
		code = code[i+1:]
	}
	return errors.NewProviderError(op, resp.StatusCode(), code, fmt.Errorf("%s", message))
}

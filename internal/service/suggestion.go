package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/database"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// SuggestionRequest is posted to the reply-suggestion service.
type SuggestionRequest struct {
	MessageID string `json:"messageId"`
	ContactID string `json:"contactId"`
	Name      string `json:"name,omitempty"`
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

type suggestionResponse struct {
	Reply string `json:"reply"`
}

// Suggester produces a reply suggestion for an inbound text.
type Suggester interface {
	Suggest(ctx context.Context, req SuggestionRequest) (string, error)
}

// SuggestionClient calls the external suggestion service over HTTP.
type SuggestionClient struct {
	http *resty.Client
}

func NewSuggestionClient(cfg models.SuggestionConfig) *SuggestionClient {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = constants.DefaultSuggestionTimeoutSec * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &SuggestionClient{http: client}
}

func (c *SuggestionClient) Suggest(ctx context.Context, req SuggestionRequest) (string, error) {
	var out suggestionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/suggest")
	if err != nil {
		return "", errors.FromContextError(err, "suggestion request")
	}
	if resp.IsError() {
		return "", errors.New(errors.ErrCodeInternalError, fmt.Sprintf("suggestion service returned %d", resp.StatusCode())).
			WithContext("status_code", resp.StatusCode())
	}
	return strings.TrimSpace(out.Reply), nil
}

// SuggestionService applies the configured suggestion mode to inbound texts.
// Suggestions are stored for operator approval; auto replies go through the send
// engine with every consent and window check.
type SuggestionService struct {
	client    Suggester
	sysconfig *SystemConfigService
	sender    Sender
	store     database.DocumentStore
	tables    database.Tables
	logger    *logrus.Logger
}

func NewSuggestionService(client Suggester, sysconfig *SystemConfigService, sender Sender, store database.DocumentStore, logger *logrus.Logger) *SuggestionService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SuggestionService{
		client:    client,
		sysconfig: sysconfig,
		sender:    sender,
		store:     store,
		tables:    store.Tables(),
		logger:    logger,
	}
}

// Handle runs the suggestion flow for one inbound text message.
func (s *SuggestionService) Handle(ctx context.Context, msg *models.Message, contact *models.Contact, phoneNumberID string) error {
	if s.client == nil {
		return nil
	}
	ai := s.sysconfig.AIConfig(ctx)
	if ai.Mode == models.SuggestionOff {
		return nil
	}

	reply, err := s.client.Suggest(ctx, SuggestionRequest{
		MessageID: msg.ID,
		ContactID: contact.ID,
		Name:      contact.GetDisplayName(),
		Text:      msg.Content,
		Language:  ai.Language,
		Prompt:    ai.Prompts["default"],
	})
	if err != nil {
		if fallback := ai.Fallbacks["default"]; fallback != "" {
			reply = fallback
		} else {
			return err
		}
	}
	if reply == "" {
		return nil
	}

	fields := logrus.Fields{LogFieldMessageID: msg.ID, LogFieldContactID: contact.ID, "mode": string(ai.Mode)}
	switch ai.Mode {
	case models.SuggestionAutoReply:
		result, err := s.sender.Send(ctx, &models.SendRequest{
			ContactID:     contact.ID,
			PhoneNumberID: phoneNumberID,
			Content:       reply,
			Source:        "suggestion",
		})
		if err != nil {
			return err
		}
		fields[LogFieldWAMessageID] = result.WhatsAppMessageID
		logEntry(ctx, s.logger, fields).Info("Auto reply sent")
	default:
		set := map[string]interface{}{"suggestedReply": reply}
		if err := s.store.Update(ctx, s.tables.Messages, msg.ID, set, database.Exists(), nil); err != nil {
			return err
		}
		logEntry(ctx, s.logger, fields).Debug("Reply suggestion stored")
	}
	return nil
}

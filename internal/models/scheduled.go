package models

import "time"

type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "PENDING"
	ScheduledSent      ScheduledStatus = "SENT"
	ScheduledFailed    ScheduledStatus = "FAILED"
	ScheduledCancelled ScheduledStatus = "CANCELLED"
	// ScheduledSending marks an entry claimed by a tick.
	ScheduledSending ScheduledStatus = "SENDING"
)

// ScheduledMessage is a template send due at ScheduledAt.
type ScheduledMessage struct {
	ScheduledID      string          `json:"scheduledId"`
	ContactID        string          `json:"contactId"`
	TemplateName     string          `json:"templateName"`
	TemplateLanguage string          `json:"templateLanguage,omitempty"`
	TemplateParams   []string        `json:"templateParams,omitempty"`
	PhoneNumberID    string          `json:"phoneNumberId"`
	ScheduledAt      string          `json:"scheduledAt"`
	Status           ScheduledStatus `json:"status"`
	SentAt           string          `json:"sentAt,omitempty"`
	MessageID        string          `json:"messageId,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	CreatedAt        int64           `json:"createdAt"`
	UpdatedAt        int64           `json:"updatedAt"`
}

// ScheduledTime parses ScheduledAt.
func (s *ScheduledMessage) ScheduledTime() (time.Time, error) {
	return time.Parse(time.RFC3339, s.ScheduledAt)
}

// ScheduledInput is the caller-facing create/update body.
type ScheduledInput struct {
	ContactID        string   `json:"contactId"`
	TemplateName     string   `json:"templateName"`
	TemplateLanguage string   `json:"templateLanguage,omitempty"`
	TemplateParams   []string `json:"templateParams,omitempty"`
	PhoneNumberID    string   `json:"phoneNumberId"`
	ScheduledAt      string   `json:"scheduledAt"`
}

package models

import (
	"strings"
)

// Contact is a messaging recipient with per-channel consent flags.
type Contact struct {
	ID                   string `json:"id"`
	Name                 string `json:"name,omitempty"`
	Phone                string `json:"phone,omitempty"`
	Email                string `json:"email,omitempty"`
	OptInWhatsApp        bool   `json:"optInWhatsApp"`
	OptInSMS             bool   `json:"optInSms"`
	OptInEmail           bool   `json:"optInEmail"`
	AllowlistWhatsApp    bool   `json:"allowlistWhatsApp"`
	AllowlistSMS         bool   `json:"allowlistSms"`
	AllowlistEmail       bool   `json:"allowlistEmail"`
	LastInboundMessageAt int64  `json:"lastInboundMessageAt,omitempty"`
	CreatedAt            int64  `json:"createdAt"`
	UpdatedAt            int64  `json:"updatedAt"`
	DeletedAt            int64  `json:"deletedAt,omitempty"`
}

var placeholderNames = map[string]bool{
	"":         true,
	"unknown":  true,
	"customer": true,
	"user":     true,
	"n/a":      true,
	"null":     true,
}

// IsDeleted reports whether the contact carries a soft-delete tombstone.
func (c *Contact) IsDeleted() bool {
	return c.DeletedAt > 0
}

// HasPlaceholderName reports whether the stored name should be replaced by a profile name.
func (c *Contact) HasPlaceholderName() bool {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if placeholderNames[name] {
		return true
	}
	digits := strings.TrimPrefix(name, "+")
	return digits != "" && digits == strings.TrimPrefix(c.Phone, "+")
}

// CanReceive reports whether the contact opted in and is allowlisted on a channel.
func (c *Contact) CanReceive(channel Channel) bool {
	switch channel {
	case ChannelWhatsApp:
		return c.OptInWhatsApp && c.AllowlistWhatsApp
	case ChannelSMS:
		return c.OptInSMS && c.AllowlistSMS
	case ChannelEmail:
		return c.OptInEmail && c.AllowlistEmail
	default:
		return false
	}
}

// GetDisplayName returns the best available display name for the contact
func (c *Contact) GetDisplayName() string {
	if !c.HasPlaceholderName() {
		return c.Name
	}
	if c.Phone != "" {
		return c.Phone
	}
	return c.Email
}

// ConsentUpdate changes consent flags; nil fields are left untouched.
type ConsentUpdate struct {
	Name              *string `json:"name,omitempty"`
	Email             *string `json:"email,omitempty"`
	OptInWhatsApp     *bool   `json:"optInWhatsApp,omitempty"`
	OptInSMS          *bool   `json:"optInSms,omitempty"`
	OptInEmail        *bool   `json:"optInEmail,omitempty"`
	AllowlistWhatsApp *bool   `json:"allowlistWhatsApp,omitempty"`
	AllowlistSMS      *bool   `json:"allowlistSms,omitempty"`
	AllowlistEmail    *bool   `json:"allowlistEmail,omitempty"`
}

// Fields returns the document attributes the update sets.
func (u *ConsentUpdate) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if u.Name != nil {
		fields["name"] = *u.Name
	}
	if u.Email != nil {
		fields["email"] = *u.Email
	}
	set := func(key string, v *bool) {
		if v != nil {
			fields[key] = *v
		}
	}
	set("optInWhatsApp", u.OptInWhatsApp)
	set("optInSms", u.OptInSMS)
	set("optInEmail", u.OptInEmail)
	set("allowlistWhatsApp", u.AllowlistWhatsApp)
	set("allowlistSms", u.AllowlistSMS)
	set("allowlistEmail", u.AllowlistEmail)
	return fields
}

// ContactInput is the create body. Consent flags left unset default to true.
type ContactInput struct {
	Name              string `json:"name,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Email             string `json:"email,omitempty"`
	OptInWhatsApp     *bool  `json:"optInWhatsApp,omitempty"`
	OptInSMS          *bool  `json:"optInSms,omitempty"`
	OptInEmail        *bool  `json:"optInEmail,omitempty"`
	AllowlistWhatsApp *bool  `json:"allowlistWhatsApp,omitempty"`
	AllowlistSMS      *bool  `json:"allowlistSms,omitempty"`
	AllowlistEmail    *bool  `json:"allowlistEmail,omitempty"`
}

// DeleteReport summarises a hard delete cascade.
type DeleteReport struct {
	ContactID       string `json:"contactId"`
	MessagesDeleted int    `json:"messagesDeleted"`
	MediaDeleted    int    `json:"mediaDeleted"`
	BlobsDeleted    int    `json:"blobsDeleted"`
}

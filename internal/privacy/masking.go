package privacy

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+919876543210" -> "+********3210"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, 4)
}

// MaskWhatsAppMessageID keeps the "wamid." prefix and the last 6 characters.
// Example: "wamid.HBgMOTE5ODc2NTQzMjEwFQIAEhgUM0E" -> "wamid.*****************************gUM0E"
func MaskWhatsAppMessageID(id string) string {
	if id == "" {
		return ""
	}
	const prefix = "wamid."
	if strings.HasPrefix(id, prefix) {
		return prefix + maskString(id[len(prefix):], 6)
	}
	return maskString(id, 6)
}

// MaskEmail keeps the first character of the local part and the domain.
// Example: "priya@example.com" -> "p****@example.com"
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return maskString(email, 0)
	}
	local, domain := email[:at], email[at:]
	return local[:1] + strings.Repeat("*", len(local)-1) + domain
}

// MaskIdentifier masks generic identifiers, falling back to phone masking for
// values that look like phone numbers.
func MaskIdentifier(id string) string {
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "+") || (len(id) >= 10 && isNumeric(id)) {
		return MaskPhoneNumber(id)
	}
	return maskString(id, 4)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields logrus.Fields) logrus.Fields {
	if fields == nil {
		return nil
	}

	masked := make(logrus.Fields, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "phone_number", "recipient", "sender_phone", "from", "to":
			masked[k] = MaskPhoneNumber(s)
		case "email":
			masked[k] = MaskEmail(s)
		case "wa_message_id", "whatsapp_message_id", "provider_message_id":
			masked[k] = MaskWhatsAppMessageID(s)
		case "reference_id", "transaction_id":
			masked[k] = MaskIdentifier(s)
		default:
			masked[k] = v
		}
	}
	return masked
}

// Masker masks log values unless verbose logging is enabled.
type Masker struct {
	Verbose bool
}

func (m Masker) Phone(phone string) string {
	if m.Verbose {
		return phone
	}
	return MaskPhoneNumber(phone)
}

func (m Masker) MessageID(id string) string {
	if m.Verbose {
		return id
	}
	return MaskWhatsAppMessageID(id)
}

func (m Masker) Fields(fields logrus.Fields) logrus.Fields {
	if m.Verbose {
		return fields
	}
	return MaskSensitiveFields(fields)
}

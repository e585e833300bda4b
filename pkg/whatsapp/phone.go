package whatsapp

import (
	"fmt"
	"strings"
	"unicode"

	"wadispatch/pkg/constants"
)

// NormalizePhone reduces a phone number to provider digits. Indian national formats are
// expanded with the 91 country code. A 00 dialling prefix is dropped only in front
// of a 12-digit 91 number. The result is 10 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if unicode.IsDigit(r) {
			return "", fmt.Errorf("phone number %q contains non-ASCII digits", raw)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 14 && strings.HasPrefix(digits, "0091"):
		digits = digits[2:]
	case len(digits) == 11 && digits[0] == '0':
		digits = "91" + digits[1:]
	case len(digits) == 10 && digits[0] >= '6' && digits[0] <= '9':
		digits = "91" + digits
	}

	if len(digits) < constants.MinPhoneDigits || len(digits) > constants.MaxPhoneDigits {
		return "", fmt.Errorf("phone number must have %d-%d digits, got %d", constants.MinPhoneDigits, constants.MaxPhoneDigits, len(digits))
	}
	return digits, nil
}

// CanonicalPhone returns the stored contact form: "+" followed by normalised digits.
func CanonicalPhone(raw string) (string, error) {
	digits, err := NormalizePhone(raw)
	if err != nil {
		return "", err
	}
	return "+" + digits, nil
}

// PhoneVariants lists the stored forms a phone may have been saved under.
func PhoneVariants(raw string) []string {
	digits, err := NormalizePhone(raw)
	if err != nil {
		trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "+")
		if trimmed == "" {
			return nil
		}
		return []string{"+" + trimmed, trimmed}
	}
	return []string{"+" + digits, digits}
}

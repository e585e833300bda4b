package whatsapp

import (
	"strings"

	"github.com/google/uuid"

	"wadispatch/pkg/constants"
)

// SanitizeReferenceID turns arbitrary caller input into a payment reference of the form
// WDSR[A-Z0-9]{1,31}. The function is idempotent.
func SanitizeReferenceID(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	body := b.String()

	prefix := constants.ReferenceIDPrefix
	for strings.HasPrefix(body, prefix) {
		body = body[len(prefix):]
	}
	if body == "" {
		body = generateReferenceBody()
	}

	ref := prefix + body
	if len(ref) > constants.MaxReferenceIDLength {
		ref = ref[:constants.MaxReferenceIDLength]
	}
	return ref
}

// generateReferenceBody uses hex so the generated body never starts with the prefix.
func generateReferenceBody() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:12])
}

package messaging

import (
	"strings"
	"unicode"
)

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

func sanitizePhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeAddress canonicalizes an address for its channel so that
// "+1 (555) 123-4567" and "+15551234567" are one participant.
func normalizeAddress(channel Channel, field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &ValidationError{Field: field, Reason: "required"}
	}
	if channel.IsPhone() {
		phone := NormalizeE164(value)
		if phone == "" {
			return "", &ValidationError{Field: field, Reason: "not a phone number"}
		}
		return phone, nil
	}
	if !strings.Contains(value, "@") {
		return "", &ValidationError{Field: field, Reason: "not an email address"}
	}
	return value, nil
}

package log

import (
	"strings"
)

// sensitiveKeywords marks field names whose values must never be logged in
// full. The pool stores opaque OAuth tokens, so anything token-shaped counts.
var sensitiveKeywords = []string{
	"token", "access", "refresh",
	"authorization", "bearer",
	"secret", "credential",
	"device_code", "password",
	"api_key", "apikey", "api-key",
}

// SanitizeField masks the value when the key names a sensitive field.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return maskToken(value)
		}
	}

	return value
}

// MaskToken masks a credential for display, keeping just enough of it to
// recognize which token it was. Listings on the management surface use this
// for every token field.
func MaskToken(value string) string {
	return maskToken(value)
}

// maskToken shows only the first 4 and last 4 characters of a value.
func maskToken(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

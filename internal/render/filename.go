package render

import (
	"regexp"
	"strings"
)

var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

// documentBaseName converts a document title into a safe object name component.
func documentBaseName(title string) string {
	lower := strings.ToLower(title)
	sanitized := nonAlphanumericRegex.ReplaceAllString(lower, "_")
	sanitized = strings.Trim(sanitized, "_")

	const maxLength = 100
	if len(sanitized) > maxLength {
		sanitized = sanitized[:maxLength]
		sanitized = strings.Trim(sanitized, "_")
	}
	if sanitized == "" {
		return "document"
	}
	return sanitized
}

package util

import (
	"regexp"
	"strings"
)

var instanceNameRegex = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeInstanceName strips every character outside [A-Za-z0-9_-].
func SanitizeInstanceName(name string) string {
	return instanceNameRegex.ReplaceAllString(strings.TrimSpace(name), "")
}

func IsValidInstanceName(name string) bool {
	return name != "" && SanitizeInstanceName(name) == name
}

// NormalizePhoneNumber keeps digits only.
func NormalizePhoneNumber(phone string) string {
	var b strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// IsValidPhoneNumber requires at least 10 digits after normalization.
func IsValidPhoneNumber(phone string) bool {
	return len(NormalizePhoneNumber(phone)) >= 10
}

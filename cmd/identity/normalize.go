package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRole lower-cases and trims a role name.
func NormalizeRole(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

package util

import "strings"

// SafeTruncate truncates a string to maxLen characters without panicking.
// Used when logging codes and token IDs, where only a prefix should appear.
// A negative maxLen returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison by removing trailing slashes.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

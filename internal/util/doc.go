// Package util provides small shared helpers: safe string truncation for
// logging credential prefixes, URL normalization, and IP address
// classification for redirect URI validation.
package util

// Package testutil provides shared helpers for tests: a controllable clock,
// random string generation, PKCE pairs, and ready-made storage records.
package testutil

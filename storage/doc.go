// Package storage defines interfaces for persisting OAuth clients,
// authorization codes, and refresh token records.
//
// The storage package defines the core storage interfaces used throughout the
// authorization token service:
//   - ClientStore: Manages registered OAuth clients
//   - FlowStore: Manages authorization codes and their single-use consumption
//   - RefreshTokenStore: Tracks issued refresh tokens for rotation and revocation
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage

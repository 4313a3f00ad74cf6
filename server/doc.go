// Package server implements the authorization server logic: client
// registration and authentication, the authorization code flow with PKCE,
// token issuance with refresh token rotation, and access token
// validation.
//
// The package is transport-agnostic. It operates on the storage
// interfaces from the storage package and the signing primitives from the
// token package; the root package provides the HTTP surface.
//
// Security properties:
//   - Authorization codes are single-use. Consumption is atomic in the
//     storage layer, so concurrent exchanges of one code have exactly one
//     winner. Reuse of a consumed code revokes every refresh token for
//     the subject and client.
//   - Refresh tokens rotate on use. Each rotation retires the presented
//     token and issues the next generation in the same chain. Replay of a
//     rotated token is treated as theft and triggers bulk revocation.
//   - Client secrets are stored as bcrypt hashes and compared in constant
//     time, against a dummy hash when the client is unknown.
package server

// Package valkey provides a Valkey storage backend for the authorization
// server.
//
// Valkey is a high-performance key-value store wire-compatible with Redis.
// This backend suits deployments that need state to survive restarts or to
// be shared across multiple server instances.
//
// # Implemented Interfaces
//
//   - [storage.ClientStore]: client registrations
//   - [storage.FlowStore]: authorization codes
//   - [storage.RefreshTokenStore]: refresh token records for rotation
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:") so the instance can
// be shared with other applications:
//
//	{prefix}client:{clientID}       -> JSON(Client)
//	{prefix}code:{code}             -> JSON(AuthorizationCode), TTL at code expiry
//	{prefix}refresh:{jti}           -> JSON(RefreshTokenRecord), TTL at token expiry
//	{prefix}chain:{chainID}         -> SET of jtis in the rotation chain
//	{prefix}subject:{sub}:{cid}     -> SET of jtis for a subject and client
//	{prefix}ip:{ip}                 -> registration count, daily rolling TTL
//
// # Atomic Operations
//
// ConsumeAuthorizationCode and RetireRefreshToken run as Lua scripts so the
// check and the state change happen in one step on the server. Concurrent
// exchanges of the same code or refresh token therefore resolve to exactly
// one winner, with the same semantics as the in-memory backend.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth:",
//	})
//
// TLS and password authentication are supported through Config. Expired
// entries are removed by Valkey's own TTL handling; no cleanup goroutine is
// needed.
package valkey

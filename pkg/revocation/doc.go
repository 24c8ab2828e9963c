// Package revocation records revoked refresh token identifiers.
//
// Access tokens are not individually revocable. Revoking the refresh token
// stops new access tokens from being minted, so an already-issued access
// token stays usable for at most its own TTL.
//
// MemoryRegistry serves a single process. Deployments with more than one
// instance must use RedisRegistry so that a revocation made on one instance
// is seen by all of them.
package revocation

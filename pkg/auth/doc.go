// Package auth implements the token codec of the dormshare auth core.
//
// # Overview
//
// Access and refresh tokens are HS256 JWTs. Each token type has its own
// KeyRing, an ordered list of secrets where the first entry signs new tokens
// and every entry verifies. Tokens carry a kid header derived from the signing
// secret and a uuid jti used as the revocation key.
//
//	access, _ := auth.NewKeyRing(newAccessSecret, oldAccessSecret)
//	refresh, _ := auth.NewKeyRing(refreshSecret)
//	codec, _ := auth.NewCodec(access, refresh,
//		auth.WithAccessTTL(15*time.Minute),
//		auth.WithRevocationChecker(registry),
//	)
//
//	token, claims, err := codec.IssueAccessToken(42, "alice", roles, perms)
//	claims, err = codec.VerifyAccessToken(token)
//
// # Rotation
//
// Promote a new secret by placing it first in the ring. Keep the old secret
// until the longest-lived token it signed has expired, then drop it. Rings
// can be swapped at runtime with SetAccessKeys and SetRefreshKeys.
//
// # Errors
//
// Every failure is an *Error with a Kind. Only KindUpstreamUnavailable is
// retryable. Error.Public returns the message that is safe for clients;
// per-secret failure reasons are only logged.
package auth

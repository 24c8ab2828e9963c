// Package session issues token pairs and implements the refresh and logout
// flows on top of the token codec and the revocation registry.
//
// Refresh rotates by default: the presented refresh token is revoked for its
// remaining lifetime before the new pair is issued, so a replayed refresh
// token fails with a revoked credential error.
package session

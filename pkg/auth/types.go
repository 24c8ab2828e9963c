package auth

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/platinummonkey/dormshare/pkg/contextkeys"
)

// TokenType distinguishes access from refresh tokens inside the claims
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// AccessClaims are carried by short-lived access tokens
type AccessClaims struct {
	Username    string    `json:"username"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	TokenType   TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// PrincipalID parses the subject claim
func (c *AccessClaims) PrincipalID() (int64, error) {
	return parseSubject(c.Subject)
}

// RefreshClaims are carried by refresh tokens, which only mint new access tokens
type RefreshClaims struct {
	TokenType TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// PrincipalID parses the subject claim
func (c *RefreshClaims) PrincipalID() (int64, error) {
	return parseSubject(c.Subject)
}

func parseSubject(sub string) (int64, error) {
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject %q", sub)
	}
	return id, nil
}

// Identity is the authenticated principal attached to admitted requests.
// Roles and Permissions come from the resolved snapshot, not the token claims.
type Identity struct {
	PrincipalID int64
	Username    string
	TokenID     string
	Roles       []string
	Permissions []string
}

// HasRole checks if the identity holds role
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission checks if the identity holds the permission code
func (i *Identity) HasPermission(code string) bool {
	for _, p := range i.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// WithIdentity attaches the identity to ctx
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, identity)
}

// IdentityFromContext returns the identity set by the authorization middleware
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return identity, ok && identity != nil
}

// normalize trims duplicates and empty values and sorts the result
func normalize(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/platinummonkey/dormshare/pkg/observability"
)

const (
	// DefaultAccessTTL is the access token lifetime. It is also the window
	// during which an access token outlives the revocation of its refresh token.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the refresh token lifetime
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultIssuer is the iss claim of every token
	DefaultIssuer = "dormshare"
)

// RevocationChecker reports whether a refresh token identifier was revoked
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Codec signs and verifies access and refresh tokens with rotating HMAC secrets
type Codec struct {
	accessKeys  atomic.Pointer[KeyRing]
	refreshKeys atomic.Pointer[KeyRing]
	accessTTL   time.Duration
	refreshTTL  time.Duration
	issuer      string
	now         func() time.Time
	revocations RevocationChecker
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// Option configures a Codec
type Option func(*Codec)

// WithAccessTTL overrides the access token lifetime
func WithAccessTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime
func WithRefreshTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
	}
}

// WithIssuer overrides the iss claim
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithClock injects the time source used for issuance and expiry checks
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRevocationChecker sets the registry consulted by VerifyRefreshToken
func WithRevocationChecker(rc RevocationChecker) Option {
	return func(c *Codec) {
		c.revocations = rc
	}
}

// WithLogger sets the logger receiving verification diagnostics
func WithLogger(logger *observability.Logger) Option {
	return func(c *Codec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Codec) {
		c.metrics = m
	}
}

// NewCodec creates a codec with independent access and refresh key rings
func NewCodec(access, refresh *KeyRing, opts ...Option) (*Codec, error) {
	if access == nil || refresh == nil {
		return nil, ErrNoSecrets
	}

	c := &Codec{
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		issuer:     DefaultIssuer,
		now:        time.Now,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.accessKeys.Store(access)
	c.refreshKeys.Store(refresh)
	return c, nil
}

// SetAccessKeys swaps the access key ring. Safe for concurrent use.
func (c *Codec) SetAccessKeys(ring *KeyRing) {
	if ring != nil {
		c.accessKeys.Store(ring)
	}
}

// SetRefreshKeys swaps the refresh key ring. Safe for concurrent use.
func (c *Codec) SetRefreshKeys(ring *KeyRing) {
	if ring != nil {
		c.refreshKeys.Store(ring)
	}
}

// AccessTTL returns the configured access token lifetime
func (c *Codec) AccessTTL() time.Duration {
	return c.accessTTL
}

// RefreshTTL returns the configured refresh token lifetime
func (c *Codec) RefreshTTL() time.Duration {
	return c.refreshTTL
}

// IssueAccessToken signs an access token with the primary access secret
func (c *Codec) IssueAccessToken(subject int64, username string, roles, permissions []string) (string, *AccessClaims, error) {
	now := c.now()
	claims := &AccessClaims{
		Username:    username,
		Roles:       normalize(roles),
		Permissions: normalize(permissions),
		TokenType:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(subject, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}

	signed, err := sign(claims, c.accessKeys.Load().Primary())
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	c.metrics.RecordTokenIssued(string(TokenTypeAccess))
	return signed, claims, nil
}

// IssueRefreshToken signs a refresh token with the primary refresh secret
func (c *Codec) IssueRefreshToken(subject int64) (string, *RefreshClaims, error) {
	now := c.now()
	claims := &RefreshClaims{
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(subject, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
		},
	}

	signed, err := sign(claims, c.refreshKeys.Load().Primary())
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	c.metrics.RecordTokenIssued(string(TokenTypeRefresh))
	return signed, claims, nil
}

// VerifyAccessToken verifies an access token against every configured
// access secret. Failures are returned as *Error and never expose which
// secret was tried.
func (c *Codec) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims, err := verifyToken[AccessClaims](c, "verify_access", token, c.accessKeys.Load(), TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	c.metrics.RecordTokenVerification(string(TokenTypeAccess), "ok")
	return claims, nil
}

// VerifyRefreshToken verifies a refresh token and rejects revoked identifiers.
// A registry failure fails closed with KindUpstreamUnavailable.
func (c *Codec) VerifyRefreshToken(ctx context.Context, token string) (*RefreshClaims, error) {
	const op = "verify_refresh"

	claims, err := verifyToken[RefreshClaims](c, op, token, c.refreshKeys.Load(), TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	if c.revocations != nil {
		revoked, err := c.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			c.logger.WithError(err).WithField("token_id", claims.ID).Error("revocation lookup failed")
			c.metrics.RecordTokenVerification(string(TokenTypeRefresh), KindUpstreamUnavailable.String())
			return nil, E(KindUpstreamUnavailable, op, err)
		}
		if revoked {
			c.logger.WithFields(map[string]interface{}{
				"token_id": claims.ID,
				"subject":  claims.Subject,
			}).Warn("revoked refresh token presented")
			c.metrics.RecordTokenVerification(string(TokenTypeRefresh), KindRevokedCredential.String())
			return nil, E(KindRevokedCredential, op, errors.New("token identifier revoked"))
		}
	}

	c.metrics.RecordTokenVerification(string(TokenTypeRefresh), "ok")
	return claims, nil
}

// typedClaims is implemented by *AccessClaims and *RefreshClaims
type typedClaims interface {
	jwt.Claims
	tokenType() TokenType
	subject() string
}

func (c *AccessClaims) tokenType() TokenType  { return c.TokenType }
func (c *AccessClaims) subject() string       { return c.Subject }
func (c *RefreshClaims) tokenType() TokenType { return c.TokenType }
func (c *RefreshClaims) subject() string      { return c.Subject }

// verifyToken tries the candidate keys of ring in priority order and returns
// the claims of the first key that verifies.
func verifyToken[T any, PT interface {
	*T
	typedClaims
}](c *Codec, op, token string, ring *KeyRing, want TokenType) (PT, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, c.fail(op, want, KindMissingCredential, nil)
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, c.fail(op, want, KindMalformedCredential, []string{err.Error()})
	}
	kid, _ := unverified.Header["kid"].(string)

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	kind := KindUnverifiableSignature
	var reasons []string
	for _, key := range ring.candidates(kid) {
		secret := key.secret
		claims := PT(new(T))
		_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err == nil {
			if claims.tokenType() != want {
				return nil, c.fail(op, want, KindMalformedCredential, []string{fmt.Sprintf("%s: unexpected token type %q", key.ID, claims.tokenType())})
			}
			if _, err := parseSubject(claims.subject()); err != nil {
				return nil, c.fail(op, want, KindMalformedCredential, []string{fmt.Sprintf("%s: %v", key.ID, err)})
			}
			return claims, nil
		}

		reasons = append(reasons, fmt.Sprintf("%s: %v", key.ID, err))
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			continue
		}
		// The signature matched or the token is unusable with any key.
		if errors.Is(err, jwt.ErrTokenExpired) {
			kind = KindExpiredCredential
		} else {
			kind = KindMalformedCredential
		}
		break
	}

	return nil, c.fail(op, want, kind, reasons)
}

func (c *Codec) fail(op string, tokenType TokenType, kind Kind, reasons []string) error {
	if kind != KindMissingCredential {
		c.logger.WithFields(map[string]interface{}{
			"op":         op,
			"token_type": string(tokenType),
			"kind":       kind.String(),
			"reasons":    reasons,
		}).Warn("token verification failed")
	}
	c.metrics.RecordTokenVerification(string(tokenType), kind.String())

	var cause error
	if len(reasons) > 0 {
		cause = errors.New(strings.Join(reasons, "; "))
	}
	return E(kind, op, cause)
}

func sign(claims jwt.Claims, key Key) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID
	return token.SignedString(key.secret)
}

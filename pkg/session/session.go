package session

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/dormshare/pkg/auth"
	"github.com/platinummonkey/dormshare/pkg/observability"
	"github.com/platinummonkey/dormshare/pkg/rbac"
)

// TokenTypeBearer is the token_type of every issued pair
const TokenTypeBearer = "Bearer"

// TokenPair is returned by Issue and Refresh
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// PrincipalLoader looks up principals. *rbac.Resolver implements it.
type PrincipalLoader interface {
	GetPrincipal(ctx context.Context, principalID int64) (*rbac.Principal, error)
}

// SnapshotResolver returns current roles and permissions
type SnapshotResolver interface {
	Snapshot(ctx context.Context, principalID int64) (*rbac.Snapshot, error)
}

// Revoker records revoked refresh token identifiers
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
}

// Service implements token issuance, refresh and logout
type Service struct {
	codec      *auth.Codec
	principals PrincipalLoader
	snapshots  SnapshotResolver
	revoker    Revoker
	rotate     bool
	now        func() time.Time
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithRotation controls whether Refresh revokes the presented token
func WithRotation(rotate bool) Option {
	return func(s *Service) {
		s.rotate = rotate
	}
}

// WithClock sets the time source used to compute remaining lifetimes
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a session service
func NewService(codec *auth.Codec, principals PrincipalLoader, snapshots SnapshotResolver, revoker Revoker, opts ...Option) *Service {
	s := &Service{
		codec:      codec,
		principals: principals,
		snapshots:  snapshots,
		revoker:    revoker,
		rotate:     true,
		now:        time.Now,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "session")
	return s
}

// Issue mints a token pair for the principal with its current roles and
// permissions
func (s *Service) Issue(ctx context.Context, principalID int64) (*TokenPair, error) {
	pair, ids, err := s.mint(ctx, "issue", principalID)
	if err != nil {
		return nil, err
	}
	s.logIssued(principalID, ids)
	return pair, nil
}

type pairIDs struct {
	access, refresh string
}

func (s *Service) mint(ctx context.Context, op string, principalID int64) (*TokenPair, pairIDs, error) {
	principal, err := s.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, pairIDs{}, s.lookupError(op, principalID, err)
	}
	snapshot, err := s.snapshots.Snapshot(ctx, principalID)
	if err != nil {
		return nil, pairIDs{}, s.lookupError(op, principalID, err)
	}

	access, accessClaims, err := s.codec.IssueAccessToken(principal.ID, principal.Username, snapshot.Roles.Sorted(), snapshot.Permissions.Sorted())
	if err != nil {
		return nil, pairIDs{}, err
	}
	refresh, refreshClaims, err := s.codec.IssueRefreshToken(principal.ID)
	if err != nil {
		return nil, pairIDs{}, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        TokenTypeBearer,
		ExpiresIn:        int64(s.codec.AccessTTL().Seconds()),
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, pairIDs{access: accessClaims.ID, refresh: refreshClaims.ID}, nil
}

func (s *Service) logIssued(principalID int64, ids pairIDs) {
	s.logger.WithFields(map[string]interface{}{
		"principal_id":     principalID,
		"access_token_id":  ids.access,
		"refresh_token_id": ids.refresh,
	}).Info("token pair issued")
}

// Refresh exchanges a valid refresh token for a new pair. The new pair is
// minted before the presented token is revoked, so a failed lookup leaves
// the old token usable for a retry. With rotation, a revocation failure
// discards the new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	const op = "refresh"

	claims, err := s.codec.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	principalID, err := claims.PrincipalID()
	if err != nil {
		return nil, auth.E(auth.KindMalformedCredential, op, err)
	}

	pair, ids, err := s.mint(ctx, op, principalID)
	if err != nil {
		return nil, err
	}

	if s.rotate {
		if err := s.revoke(ctx, claims); err != nil {
			return nil, auth.E(auth.KindUpstreamUnavailable, op, err)
		}
	}

	s.logIssued(principalID, ids)
	return pair, nil
}

// Logout revokes the refresh token. Logging out twice, or with an expired
// token, succeeds.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.VerifyRefreshToken(ctx, refreshToken)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrRevokedCredential), errors.Is(err, auth.ErrExpiredCredential):
		return nil
	default:
		return err
	}

	if err := s.revoke(ctx, claims); err != nil {
		return auth.E(auth.KindUpstreamUnavailable, "logout", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"principal":        claims.Subject,
		"refresh_token_id": claims.ID,
	}).Info("logged out")
	return nil
}

func (s *Service) revoke(ctx context.Context, claims *auth.RefreshClaims) error {
	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if err := s.revoker.Revoke(ctx, claims.ID, remaining); err != nil {
		s.logger.WithError(err).WithField("refresh_token_id", claims.ID).Error("failed to revoke refresh token")
		return err
	}
	s.metrics.RecordRevocation()
	return nil
}

// lookupError maps principal and permission lookups onto the auth taxonomy.
// A principal that no longer exists cannot hold a usable credential.
func (s *Service) lookupError(op string, principalID int64, err error) error {
	if errors.Is(err, rbac.ErrNotFound) {
		return auth.E(auth.KindRevokedCredential, op, err)
	}
	s.logger.WithError(err).WithField("principal_id", principalID).Error("principal lookup failed")
	return auth.E(auth.KindUpstreamUnavailable, op, err)
}
